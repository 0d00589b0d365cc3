package operator

import (
	"sort"

	"github.com/linkerd/ivmsync/change"
	"github.com/linkerd/ivmsync/row"
)

// FilterStart marks the entry point of one OR-branch in a disjunctive
// filter (e.g. "WHERE a = 1 OR EXISTS(...)"). In this engine's synchronous
// fan-out design a branch head is already a plain Input (one of FanOut's
// taps), so FilterStart is an identity adapter; it exists so the operator
// chain a query builds for each disjunct reads the same way the spec
// names it, with the boundary explicit at the call site.
func FilterStart(in Input) Input { return in }

// FilterEnd marks the exit point of one OR-branch, handed to NewFanIn.
// Like FilterStart it is an identity adapter in this design.
func FilterEnd(in Input) Input { return in }

// FanOut duplicates every push from one upstream Input out to N
// independently-built branch chains (Filter/Exists compositions), then
// triggers its paired FanIn to reconcile the union across exactly those N
// branches' reactions to the one push event.
type FanOut struct {
	upstream Input
	taps     []*fanTap
	fanIn    *FanIn
}

// NewFanOut wraps upstream and allocates n taps.
func NewFanOut(upstream Input, n int) *FanOut {
	f := &FanOut{upstream: upstream}
	f.taps = make([]*fanTap, n)
	for i := range f.taps {
		f.taps[i] = &fanTap{fanOut: f}
	}
	upstream.SetOutput(f)
	return f
}

// Taps returns the n branch heads, each an independent Input over the
// same shared upstream.
func (f *FanOut) Taps() []Input {
	out := make([]Input, len(f.taps))
	for i, t := range f.taps {
		out[i] = t
	}
	return out
}

// SetFanIn registers the FanIn that reconciles this FanOut's branches.
// Must be called once all n branch chains have been built on Taps().
func (f *FanOut) SetFanIn(fi *FanIn) { f.fanIn = fi }

func (f *FanOut) Push(c change.Change) error {
	for _, t := range f.taps {
		if t.output == nil {
			continue
		}
		if err := t.output.Push(c); err != nil {
			return err
		}
	}
	if f.fanIn != nil {
		return f.fanIn.flush()
	}
	return nil
}

// Destroy tears down the shared upstream. Individual branch chains built
// on Taps() are torn down via FanIn.Destroy, which is a no-op at the tap
// itself so the shared upstream is destroyed exactly once, here.
func (f *FanOut) Destroy() error { return f.upstream.Destroy() }

type fanTap struct {
	fanOut *FanOut
	output Output
}

func (t *fanTap) Fetch(req FetchRequest) (change.ChildStream, error) {
	return t.fanOut.upstream.Fetch(req)
}
func (t *fanTap) Cleanup(req FetchRequest) (change.ChildStream, error) {
	return t.fanOut.upstream.Cleanup(req)
}
func (t *fanTap) SetOutput(o Output)        { t.output = o }
func (t *fanTap) Destroy() error            { return nil }
func (t *fanTap) Sort() row.Sort             { return t.fanOut.upstream.Sort() }
func (t *fanTap) PrimaryKey() row.PrimaryKey { return t.fanOut.upstream.PrimaryKey() }

// FanIn merges N branch tails (one per OR-disjunct) into a single,
// deduplicated-by-primary-key union. Within one FanOut.Push round it
// accumulates every branch's reaction before deciding whether the row's
// union membership actually changed: a row matched by two branches that
// loses one of them is not retracted, since the other branch still
// covers it.
type FanIn struct {
	branches []Input
	pk       row.PrimaryKey
	sort     row.Sort
	output   Output

	present map[string]bool
	pending map[string]*pendingPK
}

type pendingPK struct {
	pkValues   map[string]row.Value
	lastChange *change.Change
}

// NewFanIn wires branches (each a FilterEnd-terminated chain sharing a
// common FanOut) into a merged union.
func NewFanIn(branches []Input, pk row.PrimaryKey, sort row.Sort) *FanIn {
	f := &FanIn{
		branches: branches,
		pk:       pk,
		sort:     sort,
		present:  map[string]bool{},
		pending:  map[string]*pendingPK{},
	}
	for _, b := range branches {
		b.SetOutput(fanInBranchOutput{f})
	}
	return f
}

func (f *FanIn) SetOutput(o Output)        { f.output = o }
func (f *FanIn) Sort() row.Sort             { return f.sort }
func (f *FanIn) PrimaryKey() row.PrimaryKey { return f.pk }

// Destroy tears down every branch chain. It does not destroy the shared
// FanOut upstream; the caller destroys the FanOut separately, once.
func (f *FanIn) Destroy() error {
	for _, b := range f.branches {
		if err := b.Destroy(); err != nil {
			return err
		}
	}
	return nil
}

func pkConstraint(pk row.PrimaryKey, r row.Row) map[string]row.Value {
	c := make(map[string]row.Value, len(pk))
	for _, col := range pk {
		c[col] = r.Get(col)
	}
	return c
}

func (f *FanIn) Fetch(req FetchRequest) (change.ChildStream, error) {
	return f.mergedFetch(req, false)
}

func (f *FanIn) Cleanup(req FetchRequest) (change.ChildStream, error) {
	return f.mergedFetch(req, true)
}

func (f *FanIn) mergedFetch(req FetchRequest, cleanup bool) (change.ChildStream, error) {
	seen := map[string]change.Node{}
	var order []string
	for _, b := range f.branches {
		var stream change.ChildStream
		var err error
		if cleanup {
			stream, err = b.Cleanup(req)
		} else {
			stream, err = b.Fetch(req)
		}
		if err != nil {
			return nil, err
		}
		for {
			n, ok, err := stream.Next()
			if err != nil {
				stream.Drain()
				return nil, err
			}
			if !ok {
				break
			}
			sig := constraintSignature(pkConstraint(f.pk, n.Row))
			if _, dup := seen[sig]; !dup {
				seen[sig] = n
				order = append(order, sig)
			}
			if cleanup {
				delete(f.present, sig)
			} else {
				f.present[sig] = true
			}
		}
	}
	nodes := make([]change.Node, 0, len(order))
	for _, sig := range order {
		nodes = append(nodes, seen[sig])
	}
	sort.Slice(nodes, func(i, j int) bool {
		return f.sort.CompareRows(nodes[i].Row, nodes[j].Row, f.pk) < 0
	})
	return change.NewSliceStream(nodes), nil
}

func (f *FanIn) anyBranchMatches(pkValues map[string]row.Value) (bool, change.Node, error) {
	for _, b := range f.branches {
		stream, err := b.Fetch(FetchRequest{Constraint: pkValues})
		if err != nil {
			return false, change.Node{}, err
		}
		n, ok, err := stream.Next()
		if err != nil {
			stream.Drain()
			return false, change.Node{}, err
		}
		if err := stream.Drain(); err != nil {
			return false, change.Node{}, err
		}
		if ok {
			return true, n, nil
		}
	}
	return false, change.Node{}, nil
}

// flush reconciles every primary key touched by any branch during the
// push round just distributed by FanOut, emitting at most one Add, Edit,
// or Remove per key to this FanIn's own output.
func (f *FanIn) flush() error {
	for sig, p := range f.pending {
		wasPresent := f.present[sig]
		newPresent, node, err := f.anyBranchMatches(p.pkValues)
		if err != nil {
			return err
		}
		switch {
		case !wasPresent && newPresent:
			f.present[sig] = true
			if err := f.output.Push(change.NewAdd(node)); err != nil {
				return err
			}
		case wasPresent && !newPresent:
			delete(f.present, sig)
			removed := p.lastChange.Node
			if p.lastChange.Kind == change.Edit {
				removed = p.lastChange.OldNode
			}
			if err := f.output.Push(change.NewRemove(removed)); err != nil {
				return err
			}
		case wasPresent && newPresent:
			if p.lastChange.Kind == change.Edit {
				if err := f.output.Push(*p.lastChange); err != nil {
					return err
				}
			}
		}
	}
	f.pending = map[string]*pendingPK{}
	return nil
}

type fanInBranchOutput struct{ f *FanIn }

func (o fanInBranchOutput) Push(c change.Change) error {
	var r row.Row
	switch c.Kind {
	case change.Add, change.Remove, change.Edit:
		r = c.Node.Row
	case change.Child:
		sig := constraintSignature(pkConstraint(o.f.pk, c.Node.Row))
		if !o.f.present[sig] {
			return nil
		}
		return o.f.output.Push(c)
	default:
		return nil
	}
	pkValues := pkConstraint(o.f.pk, r)
	sig := constraintSignature(pkValues)
	cc := c
	o.f.pending[sig] = &pendingPK{pkValues: pkValues, lastChange: &cc}
	return nil
}

var (
	_ Input = (*FanIn)(nil)
)
