package operator

import (
	"github.com/linkerd/ivmsync/change"
	"github.com/linkerd/ivmsync/row"
)

// Join attaches a named, lazily-fetched child relationship onto every
// parent row: a left-outer hierarchical join, not a flattening cross
// join. parentKeyColumns and childKeyColumns correlate 1:1 (parent row's
// value at parentKeyColumns[i] must equal the child row's value at
// childKeyColumns[i] for the child to belong to that parent); the common
// case, and the only one this operator assumes, is that the correlation
// columns are the parent's primary key.
type Join struct {
	parent           Input
	child            Input
	relationshipName string
	parentKeyColumns []string
	childKeyColumns  []string
	output           Output
}

// NewJoin wires parent and child to a new Join exposing child as
// relationshipName on every parent node.
func NewJoin(parent, child Input, relationshipName string, parentKeyColumns, childKeyColumns []string) *Join {
	j := &Join{
		parent:           parent,
		child:            child,
		relationshipName: relationshipName,
		parentKeyColumns: parentKeyColumns,
		childKeyColumns:  childKeyColumns,
	}
	parent.SetOutput(joinParentOutput{j})
	child.SetOutput(joinChildOutput{j})
	return j
}

type joinParentOutput struct{ j *Join }

func (o joinParentOutput) Push(c change.Change) error { return o.j.pushFromParent(c) }

type joinChildOutput struct{ j *Join }

func (o joinChildOutput) Push(c change.Change) error { return o.j.pushFromChild(c) }

func (j *Join) SetOutput(o Output)        { j.output = o }
func (j *Join) Sort() row.Sort             { return j.parent.Sort() }
func (j *Join) PrimaryKey() row.PrimaryKey { return j.parent.PrimaryKey() }

func (j *Join) Destroy() error {
	if err := j.child.Destroy(); err != nil {
		return err
	}
	return j.parent.Destroy()
}

func (j *Join) Fetch(req FetchRequest) (change.ChildStream, error) {
	stream, err := j.parent.Fetch(req)
	return j.wrap(stream, err)
}

func (j *Join) Cleanup(req FetchRequest) (change.ChildStream, error) {
	stream, err := j.parent.Cleanup(req)
	return j.wrap(stream, err)
}

func (j *Join) wrap(stream change.ChildStream, err error) (change.ChildStream, error) {
	if err != nil {
		return nil, err
	}
	return &change.FuncStream{
		NextFn: func() (change.Node, bool, error) {
			n, ok, err := stream.Next()
			if err != nil || !ok {
				return change.Node{}, false, err
			}
			return j.attach(n), true, nil
		},
		OnDrainFn: stream.Drain,
	}, nil
}

// attach returns a copy of n with relationshipName added to its
// Relationships map as a lazy fetch against child, constrained to the
// rows correlated with n.Row.
func (j *Join) attach(n change.Node) change.Node {
	rels := make(map[string]change.RelationshipFunc, len(n.Relationships)+1)
	for k, v := range n.Relationships {
		rels[k] = v
	}
	parentRow := n.Row
	child := j.child
	constraint := j.childConstraint(parentRow)
	rels[j.relationshipName] = func() (change.ChildStream, error) {
		return child.Fetch(FetchRequest{Constraint: constraint})
	}
	n.Relationships = rels
	return n
}

func (j *Join) childConstraint(parentRow row.Row) map[string]row.Value {
	c := make(map[string]row.Value, len(j.parentKeyColumns))
	for i, pc := range j.parentKeyColumns {
		c[j.childKeyColumns[i]] = parentRow.Get(pc)
	}
	return c
}

func (j *Join) pushFromParent(c change.Change) error {
	switch c.Kind {
	case change.Add:
		return j.output.Push(change.NewAdd(j.attach(c.Node)))
	case change.Remove:
		return j.output.Push(change.NewRemove(j.attach(c.Node)))
	case change.Edit:
		return j.output.Push(change.NewEdit(j.attach(c.OldNode), j.attach(c.Node)))
	case change.Child:
		return j.output.Push(c)
	default:
		return nil
	}
}

func (j *Join) pushFromChild(c change.Change) error {
	var childRow row.Row
	switch c.Kind {
	case change.Add, change.Remove:
		childRow = c.Node.Row
	case change.Edit:
		childRow = c.Node.Row
	case change.Child:
		childRow = c.Node.Row
	default:
		return nil
	}
	parentIdentity := row.Row{}
	for i, pc := range j.parentKeyColumns {
		parentIdentity[pc] = childRow.Get(j.childKeyColumns[i])
	}
	cc := c
	return j.output.Push(change.NewChild(parentIdentity, j.relationshipName, cc))
}

var _ Input = (*Join)(nil)
