package models

// PageResult summarizes one fetched page of a remote collection. Next and
// Prev are opaque cursors (absolute URLs); an empty value means that edge of
// the collection has been reached.
type PageResult struct {
	Domain  string
	Path    string
	Cursor  string
	Fetched int
	Written int
	Skipped int
	Next    string
	Prev    string
}
