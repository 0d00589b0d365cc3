package poke

import "github.com/linkerd/ivmsync/row"

// RowsTarget is the adapter a merged rowsPatch batch is delivered to
// atomically. Implemented by whatever owns the affected tables' Source.Push
// calls (the query delegate's table registry, in this engine).
type RowsTarget interface {
	// Batch runs fn with downstream view notifications suppressed, firing
	// them once fn returns, mirroring view.View.Batch: a poke flush is one
	// atomic transaction from the view's point of view.
	Batch(fn func() error) error
	Get(tableName string, id row.Row) (row.Row, bool, error)
	Put(tableName string, value row.Row) error
	Update(tableName string, id row.Row, merged row.Row) error
	Del(tableName string, id row.Row) error
	// ClearAll drops every row of every table the target owns, used when a
	// rowsPatch `clear` op is observed.
	ClearAll() error
}

// QueriesTarget receives desiredQueriesPatches/gotQueriesPatch ops.
type QueriesTarget interface {
	Put(hash string, ast any, ttlSeconds int64) error
	Del(hash string) error
	Clear() error
}

// ClientsTarget receives clientsPatch ops.
type ClientsTarget interface {
	Put(clientID string) error
	Del(clientID string) error
	Clear() error
}
