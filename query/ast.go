// Package query implements the query delegate: compiling a declarative
// query.AST (the Go-native sibling of the wire AST in spec.md §6) into a
// live operator chain and a materialized view, plus the supporting
// TTL-backed AST cache and table registry.
//
// Grounded on controller/cmd/destination/main.go's wiring (parse config
// once, build the long-lived graph, attach listeners) generalized from
// "one EndpointsWatcher, one gRPC server" to "one AST, one operator chain,
// one view."
package query

import "github.com/linkerd/ivmsync/row"

// ConditionKind identifies which variant of Condition is populated.
type ConditionKind int

const (
	// Compare is a single column comparison (spec.md §4.1's Simple).
	Compare ConditionKind = iota
	// And is a conjunction of Conditions.
	And
	// Or is a disjunction of Conditions.
	Or
	// ExistsCond is a correlated EXISTS fragment over a named relation.
	ExistsCond
	// NotExistsCond is a correlated NOT EXISTS fragment.
	NotExistsCond
)

// CompareOp mirrors filterexpr.Op at the AST layer, kept distinct so the
// wire AST doesn't need to import the operator-tree package.
type CompareOp int

const (
	Eq CompareOp = iota
	Neq
	Lt
	Lte
	Gt
	Gte
	Is
	IsNot
	In
	Like
)

// Condition is one node of a query's where tree.
type Condition struct {
	Kind ConditionKind

	// Populated when Kind == Compare.
	Column   string
	Op       CompareOp
	Literal  row.Value
	Literals []row.Value

	// Populated when Kind == And or Kind == Or.
	Children []Condition

	// Populated when Kind == ExistsCond or Kind == NotExistsCond: the
	// relation name, matched against a sibling Related.System.
	Relation string
}

// Correlation pairs one parent column with one child column, per
// spec.md §6's `correlation: { parentField, childField }`.
type Correlation struct {
	ParentField string
	ChildField  string
}

// RelatedOp selects how a Related entry is wired into the operator chain.
type RelatedOp int

const (
	// RelatedJoin attaches the subquery as a materialized relationship
	// (spec.md §4.3).
	RelatedJoin RelatedOp = iota
	// RelatedExists filters the parent to rows with at least one matching
	// child (spec.md §4.4); the Related itself is not materialized as
	// output data.
	RelatedExists
	// RelatedNotExists is RelatedExists's complement.
	RelatedNotExists
)

// Related describes one related-table attachment (spec.md §6).
type Related struct {
	System      string
	Correlation Correlation
	Subquery    *AST
	Hidden      bool
	Op          RelatedOp
}

// StartBasis mirrors operator.StartBasis at the AST layer.
type StartBasis int

const (
	AtRow StartBasis = iota
	AfterRow
)

// Start anchors a fetch to a keyset-pagination boundary row, per
// spec.md §6's `start?`.
type Start struct {
	Row   map[string]row.Value
	Basis StartBasis
}

// AST is the Go-native query tree the delegate compiles into an operator
// chain from table/where/orderBy/limit/related. Alias and Start are carried
// on the tree but Delegate.build does not read them: no alias renaming or
// start bound is applied to the compiled chain.
type AST struct {
	Table   string
	Alias   string
	Where   *Condition
	OrderBy row.Sort
	Limit   *int
	Start   *Start
	Related []Related
	// Scalar marks this AST (or a Related subquery) as producing at most
	// one row, i.e. a Singular view rather than an ordered array.
	Scalar bool
}
