package poke

import (
	"encoding/json"

	"github.com/linkerd/ivmsync/row"
)

// RowOpKind identifies one rowsPatch entry kind (spec.md §6).
type RowOpKind int

const (
	RowPut RowOpKind = iota
	RowUpdate
	RowDel
	RowClear
)

// RowOp is one entry of a pokePart's rowsPatch.
type RowOp struct {
	Kind      RowOpKind
	TableName string
	// Value carries the full row for RowPut.
	Value row.Row
	// ID carries the primary-key columns for RowUpdate/RowDel.
	ID row.Row
	// Merge is an RFC 7396 JSON merge-patch document applied to the
	// existing row for RowUpdate.
	Merge json.RawMessage
	// Constrain, if non-empty, is an optimistic-concurrency guard: the
	// update is skipped (not an error) unless every named column of the
	// current row equals the given value.
	Constrain map[string]row.Value
}

// QueryOpKind identifies one desiredQueriesPatches/gotQueriesPatch entry
// kind (spec.md §6).
type QueryOpKind int

const (
	QueryPut QueryOpKind = iota
	QueryDel
	QueryClear
)

// QueryOp is one entry of a pokePart's desiredQueriesPatches or
// gotQueriesPatch.
type QueryOp struct {
	Kind QueryOpKind
	Hash string
	AST  any // query.AST; kept as any here so poke does not depend on query's AST shape beyond what a QueriesTarget needs.
	TTL  int64
}

// ClientOpKind identifies one clientsPatch entry kind (spec.md §6).
type ClientOpKind int

const (
	ClientPut ClientOpKind = iota
	ClientDel
	ClientClear
)

// ClientOp is one entry of a pokePart's clientsPatch.
type ClientOp struct {
	Kind     ClientOpKind
	ClientID string
}

// collapseRowOps implements the decided Open Question (spec.md §9,
// DESIGN.md): a clear op discards every op accumulated before it, in the
// same batch, rather than being just another op to concatenate. Returns
// whether a clear was seen at all, and the ops surviving after the last one.
func collapseRowOps(ops []RowOp) (cleared bool, rest []RowOp) {
	last := -1
	for i, op := range ops {
		if op.Kind == RowClear {
			last = i
		}
	}
	if last < 0 {
		return false, ops
	}
	return true, ops[last+1:]
}

func collapseQueryOps(ops []QueryOp) (cleared bool, rest []QueryOp) {
	last := -1
	for i, op := range ops {
		if op.Kind == QueryClear {
			last = i
		}
	}
	if last < 0 {
		return false, ops
	}
	return true, ops[last+1:]
}

func collapseClientOps(ops []ClientOp) (cleared bool, rest []ClientOp) {
	last := -1
	for i, op := range ops {
		if op.Kind == ClientClear {
			last = i
		}
	}
	if last < 0 {
		return false, ops
	}
	return true, ops[last+1:]
}
