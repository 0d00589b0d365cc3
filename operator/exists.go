package operator

import (
	"github.com/linkerd/ivmsync/change"
	"github.com/linkerd/ivmsync/filterexpr"
	"github.com/linkerd/ivmsync/row"
)

// Exists filters parent rows by whether a correlated child set is
// non-empty (filterexpr.Exists) or empty (filterexpr.NotExists). It
// caches the child count per parent (keyed by the correlation columns, by
// convention the parent's primary key) so a push to the child side only
// re-derives membership for the one affected parent, and only emits an
// Add/Remove to its own output when that parent's count crosses the 0/1
// boundary -- a push sequence that nets to zero change across a batch
// never crosses the boundary and so never surfaces (spec.md §9).
type Exists struct {
	parent           Input
	child            Input
	kind             filterexpr.SubqueryKind
	parentKeyColumns []string
	childKeyColumns  []string
	output           Output

	sizes map[string]*existsEntry
}

type existsEntry struct {
	count      int
	parentKey  map[string]row.Value
}

// NewExists wires parent and child to a new Exists/NotExists filter.
func NewExists(parent, child Input, kind filterexpr.SubqueryKind, parentKeyColumns, childKeyColumns []string) *Exists {
	e := &Exists{
		parent:           parent,
		child:            child,
		kind:             kind,
		parentKeyColumns: parentKeyColumns,
		childKeyColumns:  childKeyColumns,
		sizes:            map[string]*existsEntry{},
	}
	parent.SetOutput(existsParentOutput{e})
	child.SetOutput(existsChildOutput{e})
	return e
}

type existsParentOutput struct{ e *Exists }

func (o existsParentOutput) Push(c change.Change) error { return o.e.pushFromParent(c) }

type existsChildOutput struct{ e *Exists }

func (o existsChildOutput) Push(c change.Change) error { return o.e.pushFromChild(c) }

func (e *Exists) SetOutput(o Output)        { e.output = o }
func (e *Exists) Sort() row.Sort             { return e.parent.Sort() }
func (e *Exists) PrimaryKey() row.PrimaryKey { return e.parent.PrimaryKey() }

func (e *Exists) Destroy() error {
	if err := e.child.Destroy(); err != nil {
		return err
	}
	return e.parent.Destroy()
}

func (e *Exists) matches(count int) bool {
	if e.kind == filterexpr.Exists {
		return count > 0
	}
	return count == 0
}

func (e *Exists) correlationConstraint(parentRow row.Row) map[string]row.Value {
	c := make(map[string]row.Value, len(e.parentKeyColumns))
	for i, pc := range e.parentKeyColumns {
		c[e.childKeyColumns[i]] = parentRow.Get(pc)
	}
	return c
}

func (e *Exists) parentKeyConstraint(parentRow row.Row) map[string]row.Value {
	c := make(map[string]row.Value, len(e.parentKeyColumns))
	for _, pc := range e.parentKeyColumns {
		c[pc] = parentRow.Get(pc)
	}
	return c
}

func (e *Exists) childCount(parentRow row.Row) (int, error) {
	stream, err := e.child.Fetch(FetchRequest{Constraint: e.correlationConstraint(parentRow)})
	if err != nil {
		return 0, err
	}
	n := 0
	for {
		_, ok, err := stream.Next()
		if err != nil {
			stream.Drain()
			return 0, err
		}
		if !ok {
			break
		}
		n++
	}
	return n, nil
}

func (e *Exists) Fetch(req FetchRequest) (change.ChildStream, error) {
	return e.filteredStream(e.parent.Fetch(req))
}

func (e *Exists) Cleanup(req FetchRequest) (change.ChildStream, error) {
	return e.filteredStream(e.parent.Cleanup(req))
}

func (e *Exists) filteredStream(upstream change.ChildStream, err error) (change.ChildStream, error) {
	if err != nil {
		return nil, err
	}
	return &change.FuncStream{
		NextFn: func() (change.Node, bool, error) {
			for {
				n, ok, err := upstream.Next()
				if err != nil || !ok {
					return change.Node{}, false, err
				}
				count, err := e.childCount(n.Row)
				if err != nil {
					return change.Node{}, false, err
				}
				sig := constraintSignature(e.parentKeyConstraint(n.Row))
				e.sizes[sig] = &existsEntry{count: count, parentKey: e.parentKeyConstraint(n.Row)}
				if e.matches(count) {
					return n, true, nil
				}
			}
		},
		OnDrainFn: upstream.Drain,
	}, nil
}

func (e *Exists) pushFromParent(c change.Change) error {
	switch c.Kind {
	case change.Add:
		count, err := e.childCount(c.Node.Row)
		if err != nil {
			return err
		}
		sig := constraintSignature(e.parentKeyConstraint(c.Node.Row))
		e.sizes[sig] = &existsEntry{count: count, parentKey: e.parentKeyConstraint(c.Node.Row)}
		if e.matches(count) {
			return e.output.Push(c)
		}
		return nil
	case change.Remove:
		sig := constraintSignature(e.parentKeyConstraint(c.Node.Row))
		entry, tracked := e.sizes[sig]
		delete(e.sizes, sig)
		if tracked && e.matches(entry.count) {
			return e.output.Push(c)
		}
		return nil
	case change.Edit:
		sig := constraintSignature(e.parentKeyConstraint(c.Node.Row))
		entry, tracked := e.sizes[sig]
		if tracked && e.matches(entry.count) {
			return e.output.Push(c)
		}
		return nil
	case change.Child:
		return e.output.Push(c)
	default:
		return nil
	}
}

func (e *Exists) pushFromChild(c change.Change) error {
	var childRow row.Row
	delta := 0
	switch c.Kind {
	case change.Add:
		childRow = c.Node.Row
		delta = 1
	case change.Remove:
		childRow = c.Node.Row
		delta = -1
	default:
		return nil
	}
	sig := constraintSignature(childCorrelationAsParentConstraint(childRow, e.parentKeyColumns, e.childKeyColumns))
	entry, tracked := e.sizes[sig]
	if !tracked {
		return nil
	}
	wasMatch := e.matches(entry.count)
	entry.count += delta
	isMatch := e.matches(entry.count)
	if wasMatch == isMatch {
		return nil
	}
	parentNode, found, err := e.fetchParent(entry.parentKey)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if isMatch {
		return e.output.Push(change.NewAdd(parentNode))
	}
	return e.output.Push(change.NewRemove(parentNode))
}

func childCorrelationAsParentConstraint(childRow row.Row, parentKeyColumns, childKeyColumns []string) map[string]row.Value {
	c := make(map[string]row.Value, len(parentKeyColumns))
	for i, pc := range parentKeyColumns {
		c[pc] = childRow.Get(childKeyColumns[i])
	}
	return c
}

func (e *Exists) fetchParent(parentKey map[string]row.Value) (change.Node, bool, error) {
	stream, err := e.parent.Fetch(FetchRequest{Constraint: parentKey})
	if err != nil {
		return change.Node{}, false, err
	}
	n, ok, err := stream.Next()
	if err != nil {
		stream.Drain()
		return change.Node{}, false, err
	}
	if err := stream.Drain(); err != nil {
		return change.Node{}, false, err
	}
	return n, ok, nil
}

var _ Input = (*Exists)(nil)
