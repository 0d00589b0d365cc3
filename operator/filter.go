package operator

import (
	"github.com/linkerd/ivmsync/change"
	"github.com/linkerd/ivmsync/filterexpr"
	"github.com/linkerd/ivmsync/row"
)

// Filter is a stateless predicate operator: it re-evaluates expr on every
// Fetch/Cleanup row and on every pushed change, splitting an Edit into
// remove+add when expr's truth value differs between OldNode and Node,
// exactly like Source.pushEdit but for a predicate a Source couldn't fully
// apply itself (expr.FullyColumnLocal() == false) or a predicate composed
// downstream of a stateful operator.
type Filter struct {
	upstream Input
	expr     filterexpr.Expr
	output   Output
}

// NewFilter wraps upstream with expr. upstream's own output is rewired to
// this Filter.
func NewFilter(upstream Input, expr filterexpr.Expr) *Filter {
	f := &Filter{upstream: upstream, expr: expr}
	upstream.SetOutput(f)
	return f
}

func (f *Filter) SetOutput(o Output) { f.output = o }

func (f *Filter) Sort() row.Sort            { return f.upstream.Sort() }
func (f *Filter) PrimaryKey() row.PrimaryKey { return f.upstream.PrimaryKey() }

func (f *Filter) Destroy() error { return f.upstream.Destroy() }

func (f *Filter) Fetch(req FetchRequest) (change.ChildStream, error) {
	return f.filteredStream(req, false)
}

func (f *Filter) Cleanup(req FetchRequest) (change.ChildStream, error) {
	return f.filteredStream(req, true)
}

func (f *Filter) filteredStream(req FetchRequest, cleanup bool) (change.ChildStream, error) {
	var upstreamStream change.ChildStream
	var err error
	if cleanup {
		upstreamStream, err = f.upstream.Cleanup(req)
	} else {
		upstreamStream, err = f.upstream.Fetch(req)
	}
	if err != nil {
		return nil, err
	}
	return &change.FuncStream{
		NextFn: func() (change.Node, bool, error) {
			for {
				n, ok, err := upstreamStream.Next()
				if err != nil || !ok {
					return change.Node{}, false, err
				}
				if f.expr.Eval(n) {
					return n, true, nil
				}
			}
		},
		OnDrainFn: upstreamStream.Drain,
	}, nil
}

// Push implements Output: receives change events from upstream.
func (f *Filter) Push(c change.Change) error {
	switch c.Kind {
	case change.Add:
		if f.expr.Eval(c.Node) {
			return f.output.Push(c)
		}
		return nil
	case change.Remove:
		if f.expr.Eval(c.Node) {
			return f.output.Push(c)
		}
		return nil
	case change.Edit:
		oldMatch := f.expr.Eval(c.OldNode)
		newMatch := f.expr.Eval(c.Node)
		switch {
		case oldMatch && newMatch:
			return f.output.Push(c)
		case oldMatch && !newMatch:
			return f.output.Push(change.NewRemove(c.OldNode))
		case !oldMatch && newMatch:
			return f.output.Push(change.NewAdd(c.Node))
		default:
			return nil
		}
	case change.Child:
		if f.expr.Eval(c.Node) {
			return f.output.Push(c)
		}
		return nil
	default:
		return nil
	}
}

var _ Input = (*Filter)(nil)
var _ Output = (*Filter)(nil)
