// Package documents provides the revisioned document store used by fedisync.
//
// Every write is guarded by the document's revision: a put with a stale or
// missing revision against an existing document fails with
// common.ErrConflict. Writes also maintain a small set of secondary views
// (see Emit) that can be range-queried with Repository.Query.
//
// Two backends share one SQL implementation (SQLite and PostgreSQL); an
// in-memory implementation with identical semantics serves tests.
package documents
