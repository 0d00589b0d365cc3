// Package filterexpr defines the push-down filter predicate tree: simple
// column comparisons, and/or composition, and correlated-subquery
// fragments that a Source cannot evaluate on its own and must report back
// as not fully applied (spec.md §4.1).
package filterexpr

import (
	"github.com/linkerd/ivmsync/change"
	"github.com/linkerd/ivmsync/row"
)

// Op is a simple column comparison operator.
type Op int

const (
	Eq Op = iota
	Neq
	Lt
	Lte
	Gt
	Gte
	Is    // IS: matches null with null
	IsNot // IS NOT
	In    // IN: literal array
	Like
)

// SubqueryKind distinguishes EXISTS from NOT EXISTS correlated fragments.
type SubqueryKind int

const (
	Exists SubqueryKind = iota
	NotExists
)

// Expr is a node in the push-down filter tree.
type Expr interface {
	// Eval reports whether node matches the predicate. A filter evaluation
	// error (e.g. a literal comparison that cannot be coerced) is
	// swallowed here and reported as false: spec.md §7 requires
	// that such errors never propagate, the row is simply treated as
	// non-matching.
	Eval(n change.Node) bool

	// FullyColumnLocal reports whether every leaf of the expression is a
	// Simple comparison (no CorrelatedSubquery anywhere in the tree). A
	// Source only evaluates fully-column-local filters on its own behalf;
	// otherwise it reports fullyAppliedFilters=false so downstream
	// operators re-filter.
	FullyColumnLocal() bool
}

// Simple is a single column comparison against a literal.
type Simple struct {
	Column  string
	Op      Op
	Literal row.Value
	Literals []row.Value // for Op == In
}

// Eval implements Expr.
func (s Simple) Eval(n change.Node) bool {
	v := n.Row.Get(s.Column)
	switch s.Op {
	case Eq:
		if v.IsNull() || s.Literal.IsNull() {
			return false
		}
		return v.Equal(s.Literal)
	case Neq:
		if v.IsNull() || s.Literal.IsNull() {
			return false
		}
		return !v.Equal(s.Literal)
	case Is:
		if s.Literal.IsNull() {
			return v.IsNull()
		}
		return v.Equal(s.Literal)
	case IsNot:
		if s.Literal.IsNull() {
			return !v.IsNull()
		}
		return !v.Equal(s.Literal)
	case Lt:
		if v.IsNull() || s.Literal.IsNull() {
			return false
		}
		return v.Compare(s.Literal) < 0
	case Lte:
		if v.IsNull() || s.Literal.IsNull() {
			return false
		}
		return v.Compare(s.Literal) <= 0
	case Gt:
		if v.IsNull() || s.Literal.IsNull() {
			return false
		}
		return v.Compare(s.Literal) > 0
	case Gte:
		if v.IsNull() || s.Literal.IsNull() {
			return false
		}
		return v.Compare(s.Literal) >= 0
	case In:
		if v.IsNull() {
			return false
		}
		for _, lit := range s.Literals {
			if v.Equal(lit) {
				return true
			}
		}
		return false
	case Like:
		str, ok := v.AsString()
		lit, litOK := s.Literal.AsString()
		if !ok || !litOK {
			return false
		}
		return likeMatch(str, lit)
	default:
		return false
	}
}

// FullyColumnLocal implements Expr.
func (Simple) FullyColumnLocal() bool { return true }

// And is a conjunction of sub-expressions.
type And []Expr

func (a And) Eval(n change.Node) bool {
	for _, e := range a {
		if !e.Eval(n) {
			return false
		}
	}
	return true
}

func (a And) FullyColumnLocal() bool {
	for _, e := range a {
		if !e.FullyColumnLocal() {
			return false
		}
	}
	return true
}

// Or is a disjunction of sub-expressions.
type Or []Expr

func (o Or) Eval(n change.Node) bool {
	for _, e := range o {
		if e.Eval(n) {
			return true
		}
	}
	return false
}

func (o Or) FullyColumnLocal() bool {
	for _, e := range o {
		if !e.FullyColumnLocal() {
			return false
		}
	}
	return true
}

// CorrelatedSubquery is an EXISTS/NOT EXISTS fragment over a named
// relationship. A Source cannot evaluate it (it has no relationships of
// its own) and always reports the containing filter as not fully applied;
// the Exists/NotExists operator is what actually implements this
// semantics downstream.
type CorrelatedSubquery struct {
	Kind     SubqueryKind
	Relation string
}

// Eval conservatively returns true: a Source (the only caller that might
// reach this before an Exists operator is in place) must not filter rows
// out based on a fragment it cannot evaluate; the real decision is made by
// the downstream Exists/NotExists operator.
func (CorrelatedSubquery) Eval(change.Node) bool { return true }

// FullyColumnLocal implements Expr.
func (CorrelatedSubquery) FullyColumnLocal() bool { return false }

func likeMatch(s, pattern string) bool {
	// A minimal SQL LIKE matcher supporting % (any run) and _ (single
	// char); sufficient for the push-down predicates this engine's AST
	// produces, not a general glob library.
	return likeMatchRec(s, pattern)
}

func likeMatchRec(s, pattern string) bool {
	if pattern == "" {
		return s == ""
	}
	switch pattern[0] {
	case '%':
		if likeMatchRec(s, pattern[1:]) {
			return true
		}
		for i := 0; i < len(s); i++ {
			if likeMatchRec(s[i+1:], pattern[1:]) {
				return true
			}
		}
		return false
	case '_':
		if len(s) == 0 {
			return false
		}
		return likeMatchRec(s[1:], pattern[1:])
	default:
		if len(s) == 0 || s[0] != pattern[0] {
			return false
		}
		return likeMatchRec(s[1:], pattern[1:])
	}
}
