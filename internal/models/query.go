package models

// QueryOptions selects a key range of a view. Keys are compared component
// by component as byte strings; both bounds are inclusive. A common idiom
// for "every key starting with p" is StartKey [p] and EndKey [p + "\uffff"].
type QueryOptions struct {
	StartKey    []string
	EndKey      []string
	Reduce      bool
	IncludeDocs bool
	Limit       int
}

// Row is one query result. For reduced queries only Value is set and holds
// the number of matching rows.
type Row struct {
	ID    string
	Key   []string
	Value any
	Doc   *Document
}

// KeyHigh is a key component that sorts after any real value; append it to
// a key prefix to form an inclusive range end.
const KeyHigh = "\uffff"
