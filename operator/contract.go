// Package operator defines the Input/Output dataflow contract and the
// stateful operator kinds (Filter, Skip, Take, Join, Exists/NotExists) that
// compose into the query pipeline, plus the narrower filter sub-graph
// (FilterStart/FilterEnd/FanOut/FanIn) used for OR-of-subquery composition.
package operator

import (
	"github.com/linkerd/ivmsync/change"
	"github.com/linkerd/ivmsync/row"
)

// StartBasis selects whether FetchRequest.Start is inclusive ("at") or
// exclusive ("after") of the boundary row.
type StartBasis int

const (
	AtRow StartBasis = iota
	AfterRow
)

// StartBound anchors a fetch to begin at (or just after) a specific row
// under the sort order in effect.
type StartBound struct {
	Row   row.Row
	Basis StartBasis
}

// FetchRequest parameterizes a pull against an Input.
type FetchRequest struct {
	// Constraint restricts the fetch to rows where every named column
	// equals the given value. A row whose column does not equal the
	// constraint value is skipped; null never matches (join semantics,
	// spec.md §4.1), even a null constraint value against a null column.
	Constraint map[string]row.Value

	// Start, if non-nil, begins iteration at the first row satisfying the
	// basis relative to Start.Row under the operator's sort order.
	Start *StartBound

	// Reverse iterates the sort order in reverse; Start semantics mirror
	// accordingly (a reverse "at" still begins at the boundary row, just
	// walking backward from it).
	Reverse bool
}

// Input is the pull-side contract every operator (and Source connection)
// implements toward its consumer.
type Input interface {
	// Fetch walks rows in the operator's declared sort order, matching
	// req. The returned stream must be drained or Drain()ed by the
	// caller.
	Fetch(req FetchRequest) (change.ChildStream, error)

	// Cleanup is identical to Fetch except it additionally signals that
	// the caller will not revisit these rows: operators that hold
	// per-node storage decrement it as rows pass through the returned
	// stream.
	Cleanup(req FetchRequest) (change.ChildStream, error)

	// SetOutput registers the Output that receives this Input's push
	// notifications. An Input that never pushes (none in this package)
	// may implement this as a no-op; every stateful operator here uses it
	// to wire itself onto its own upstream Input at construction time.
	SetOutput(Output)

	// Destroy tears the operator down, cascading to its own inputs.
	// Destroy during push is not permitted by the engine's cooperative
	// scheduling model; it is the caller's responsibility never to call
	// Destroy from inside a Push.
	Destroy() error

	// Sort reports this Input's declared compound sort order.
	Sort() row.Sort

	// PrimaryKey reports the primary key tuple rows from this Input carry.
	PrimaryKey() row.PrimaryKey
}

// Output is the push-side contract: a typed Change notification.
type Output interface {
	Push(c change.Change) error
}

// MatchConstraint reports whether r satisfies every column/value pair in
// constraint, using join semantics: a null column value never matches,
// even against an explicit null constraint value (spec.md §4.1's "Null
// does not match null here").
func MatchConstraint(r row.Row, constraint map[string]row.Value) bool {
	for col, want := range constraint {
		got := r.Get(col)
		if got.IsNull() || !got.Equal(want) {
			return false
		}
	}
	return true
}
