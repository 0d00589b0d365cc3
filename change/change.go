// Package change defines the Change ADT propagated by push, the Node type
// with its lazy relationship thunks, and the single-pass ChildStream
// contract that keeps operator storage refcounts balanced.
package change

import "github.com/linkerd/ivmsync/row"

// Kind identifies which variant of Change is populated.
type Kind int

const (
	// Add announces a new row (and its subtree) entering the result.
	Add Kind = iota
	// Remove announces a row (and its subtree) leaving the result. Node
	// carries the outgoing relationship snapshot needed to fully remove
	// descendants.
	Remove
	// Edit announces a same-identity mutation of non-key columns. Node is
	// the new state, OldNode the prior state; relationships are unchanged.
	Edit
	// Child announces a change confined to a descendant relationship.
	// Node.Row identifies the parent; the nested Change describes what
	// happened within the named relationship.
	Child
)

func (k Kind) String() string {
	switch k {
	case Add:
		return "add"
	case Remove:
		return "remove"
	case Edit:
		return "edit"
	case Child:
		return "child"
	default:
		return "unknown"
	}
}

// RelationshipFunc is a nullary function returning a lazy, one-shot stream
// of child nodes for a single named relationship. Each call issues a fresh
// fetch and returns a new single-pass stream; relationships are exposed as
// thunks so that unbounded subtrees are not materialized eagerly.
type RelationshipFunc func() (ChildStream, error)

// Node is a materialized row plus its lazy relationship children.
type Node struct {
	Row           row.Row
	Relationships map[string]RelationshipFunc
}

// Relationship invokes the named relationship thunk. It is a convenience
// wrapper that returns an empty, already-exhausted stream if the
// relationship is not present on this node (e.g. a leaf table with no
// declared children), so callers never need a presence check before
// ranging over a relationship.
func (n Node) Relationship(name string) (ChildStream, error) {
	fn, ok := n.Relationships[name]
	if !ok {
		return emptyStream{}, nil
	}
	return fn()
}

// Change is the tagged union propagated by push.
type Change struct {
	Kind Kind

	// Node is populated for Add (the new node), Remove (the outgoing
	// node, with relationships intact so descendants can be dropped), Edit
	// (the new node), and Child (the parent node, identified by Row only —
	// Relationships on a Child-kind Node are not meaningful and should be
	// nil).
	Node Node

	// OldNode is populated only for Edit.
	OldNode Node

	// ChildRelationship and ChildChange are populated only for Child.
	ChildRelationship string
	ChildChange       *Change
}

// NewAdd constructs an Add change.
func NewAdd(n Node) Change { return Change{Kind: Add, Node: n} }

// NewRemove constructs a Remove change.
func NewRemove(n Node) Change { return Change{Kind: Remove, Node: n} }

// NewEdit constructs an Edit change. Callers must ensure old and n share a
// primary key; operators that detect otherwise must return an
// ivmerr.InvariantViolation rather than constructing this.
func NewEdit(old, n Node) Change { return Change{Kind: Edit, Node: n, OldNode: old} }

// NewChild constructs a Child change confined to relationship on parent.
func NewChild(parent row.Row, relationship string, inner Change) Change {
	return Change{
		Kind:              Child,
		Node:              Node{Row: parent},
		ChildRelationship: relationship,
		ChildChange:       &inner,
	}
}
