package source

import (
	"github.com/linkerd/ivmsync/change"
	"github.com/linkerd/ivmsync/operator"
	"github.com/linkerd/ivmsync/row"
	"github.com/linkerd/ivmsync/storage"
)

type overlayKind int

const (
	overlayNone overlayKind = iota
	overlayAdd
	overlayRemove
	overlayEdit
)

// overlay is the logical patch layered onto the committed index state for
// exactly the connection currently inside Source.Push's notification loop
// (spec.md §4.3). It is cleared the moment that connection's Push call
// returns, so a Fetch issued later (outside any push) always sees plain
// committed state.
type overlay struct {
	kind   overlayKind
	oldRow row.Row
	newRow row.Row
}

// connection is one Source.Connect registration: a sort-specific view with
// its own filter and projection, sharing an index with any other
// connection registered under the same sort.
type connection struct {
	source          *Source
	idx             *index
	filter          interface {
		Eval(change.Node) bool
		FullyColumnLocal() bool
	}
	requiredColumns []string
	output          operator.Output

	overlay overlay
}

func (c *connection) SetOutput(o operator.Output) { c.output = o }

func (c *connection) Sort() row.Sort { return c.idx.sort }

func (c *connection) PrimaryKey() row.PrimaryKey { return c.source.pk }

func (c *connection) Destroy() error {
	for i, other := range c.source.conns {
		if other == c {
			c.source.conns = append(c.source.conns[:i], c.source.conns[i+1:]...)
			break
		}
	}
	return nil
}

// Fetch implements operator.Input. Rows from the index (plus this
// connection's current overlay row, if any) are collected into an ordered
// slice, filtered by req.Constraint and c.filter, projected to the
// connection's declared columns, and returned as a SliceStream.
//
// Collecting eagerly rather than streaming lazily off the btree is a
// deliberate simplification: google/btree's Ascend/Descend are
// callback-driven, not a resumable cursor, and the overlay splice (a
// single row possibly not yet present in the index) is far simpler to
// reason about against a materialized slice than against a merged
// callback stream. See DESIGN.md.
func (c *connection) Fetch(req operator.FetchRequest) (change.ChildStream, error) {
	rows := c.collect(req)
	return change.NewSliceStream(c.toNodes(rows)), nil
}

// Cleanup implements operator.Input. A Source has no refcounted state of
// its own to release on cleanup (only stateful downstream operators do),
// so it is identical to Fetch.
func (c *connection) Cleanup(req operator.FetchRequest) (change.ChildStream, error) {
	return c.Fetch(req)
}

func (c *connection) collect(req operator.FetchRequest) []row.Row {
	pk := c.source.pk
	sort := c.idx.sort

	var base []row.Row
	walk := func(_ storage.Key, v any) bool {
		base = append(base, v.(row.Row))
		return true
	}
	if req.Start != nil {
		startKey := toStorageKey(sort.Key(req.Start.Row, pk))
		if req.Reverse {
			c.idx.store.DescendLessOrEqual(startKey, walk)
		} else {
			c.idx.store.AscendGreaterOrEqual(startKey, walk)
		}
		if req.Start.Basis == operator.AfterRow && len(base) > 0 {
			firstKey := toStorageKey(sort.Key(base[0], pk))
			if equalStorageKeys(firstKey, startKey) {
				base = base[1:]
			}
		}
	} else if req.Reverse {
		c.idx.store.Descend(walk)
	} else {
		c.idx.store.Ascend(walk)
	}

	base = c.applyOverlay(base, req)

	out := make([]row.Row, 0, len(base))
	for _, r := range base {
		if !operator.MatchConstraint(r, req.Constraint) {
			continue
		}
		if c.filter != nil && !c.filter.Eval(change.Node{Row: r}) {
			continue
		}
		out = append(out, c.project(r))
	}
	return out
}

// applyOverlay patches base (the committed index scan) with this
// connection's in-progress overlay so a downstream Fetch issued
// synchronously from within the Push that produced it observes the
// post-event state for an Add/Edit, or the row's absence for a Remove,
// without the index itself having been mutated yet. An added or edited
// row is spliced in only if it lies within req.Start's bound.
func (c *connection) applyOverlay(base []row.Row, req operator.FetchRequest) []row.Row {
	if c.overlay.kind == overlayNone {
		return base
	}
	pk := c.source.pk
	sort := c.idx.sort
	inRange := true
	if req.Start != nil {
		cmp := sort.CompareRows(c.overlay.newRow, req.Start.Row, pk)
		if req.Reverse {
			cmp = -cmp
		}
		inRange = cmp > 0 || (cmp == 0 && req.Start.Basis == operator.AtRow)
	}

	switch c.overlay.kind {
	case overlayRemove:
		removeKey := pk.Values(c.overlay.oldRow)
		out := base[:0:0]
		for _, r := range base {
			if rowPKEqual(pk.Values(r), removeKey) {
				continue
			}
			out = append(out, r)
		}
		return out
	case overlayAdd:
		if !inRange {
			return base
		}
		return insertSorted(base, c.overlay.newRow, sort, pk, req.Reverse)
	case overlayEdit:
		oldKey := pk.Values(c.overlay.oldRow)
		out := base[:0:0]
		for _, r := range base {
			if rowPKEqual(pk.Values(r), oldKey) {
				continue
			}
			out = append(out, r)
		}
		if !inRange {
			return out
		}
		return insertSorted(out, c.overlay.newRow, sort, pk, req.Reverse)
	}
	return base
}

func insertSorted(rows []row.Row, r row.Row, sort row.Sort, pk row.PrimaryKey, reverse bool) []row.Row {
	pos := len(rows)
	for i, existing := range rows {
		cmp := sort.CompareRows(r, existing, pk)
		if reverse {
			cmp = -cmp
		}
		if cmp < 0 {
			pos = i
			break
		}
	}
	out := make([]row.Row, 0, len(rows)+1)
	out = append(out, rows[:pos]...)
	out = append(out, r)
	out = append(out, rows[pos:]...)
	return out
}

func rowPKEqual(a, b []row.Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) && !(a[i].IsNull() && b[i].IsNull()) {
			return false
		}
	}
	return true
}

func (c *connection) project(r row.Row) row.Row {
	if c.requiredColumns == nil {
		return r.Clone()
	}
	cols := make([]string, 0, len(c.requiredColumns)+len(c.idx.sort)+len(c.source.pk))
	cols = append(cols, c.requiredColumns...)
	cols = append(cols, c.idx.sort.Columns()...)
	cols = append(cols, c.source.pk...)
	return r.Project(cols...)
}

func (c *connection) toNodes(rows []row.Row) []change.Node {
	nodes := make([]change.Node, len(rows))
	for i, r := range rows {
		nodes[i] = change.Node{Row: r}
	}
	return nodes
}
