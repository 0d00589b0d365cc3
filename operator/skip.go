package operator

import (
	"github.com/linkerd/ivmsync/change"
	"github.com/linkerd/ivmsync/row"
)

// Skip suppresses the first offset rows of upstream's sort order and
// forwards everything after unchanged. It mirrors Take's per-constraint
// group bookkeeping and recompute-on-push-boundary approach, but the
// suppressed prefix is the ONLY thing Skip tracks explicitly; the
// (unbounded) visible tail is never materialized, since Skip itself
// doesn't cap it.
type Skip struct {
	upstream Input
	offset   int
	output   Output

	groups map[string]*skipGroup
}

type skipGroup struct {
	constraint map[string]row.Value
	rows       []row.Row // the suppressed prefix, ascending, len <= offset
}

// NewSkip wraps upstream, suppressing its first offset rows.
func NewSkip(upstream Input, offset int) *Skip {
	s := &Skip{upstream: upstream, offset: offset, groups: map[string]*skipGroup{}}
	upstream.SetOutput(s)
	return s
}

func (s *Skip) SetOutput(o Output)        { s.output = o }
func (s *Skip) Sort() row.Sort             { return s.upstream.Sort() }
func (s *Skip) PrimaryKey() row.PrimaryKey { return s.upstream.PrimaryKey() }
func (s *Skip) Destroy() error             { return s.upstream.Destroy() }

func (s *Skip) Fetch(req FetchRequest) (change.ChildStream, error) {
	if req.Start != nil {
		// The caller already knows where it wants to resume; skip's
		// learned boundary isn't needed (and isn't updated) for this read.
		return s.upstream.Fetch(req)
	}
	upstreamStream, err := s.upstream.Fetch(FetchRequest{Constraint: req.Constraint, Reverse: req.Reverse})
	if err != nil {
		return nil, err
	}
	var suppressed []row.Row
	for len(suppressed) < s.offset {
		n, ok, err := upstreamStream.Next()
		if err != nil {
			upstreamStream.Drain()
			return nil, err
		}
		if !ok {
			break
		}
		suppressed = append(suppressed, n.Row)
	}
	sig := constraintSignature(req.Constraint)
	s.groups[sig] = &skipGroup{constraint: cloneConstraint(req.Constraint), rows: suppressed}

	return &change.FuncStream{
		NextFn:    upstreamStream.Next,
		OnDrainFn: upstreamStream.Drain,
	}, nil
}

func (s *Skip) Cleanup(req FetchRequest) (change.ChildStream, error) {
	stream, err := s.Fetch(req)
	if err != nil {
		return nil, err
	}
	sig := constraintSignature(req.Constraint)
	delete(s.groups, sig)
	return stream, nil
}

func (s *Skip) findGroup(r row.Row) *skipGroup {
	for _, g := range s.groups {
		if MatchConstraint(r, g.constraint) {
			return g
		}
	}
	return nil
}

func (s *Skip) indexOf(g *skipGroup, r row.Row) int {
	pk := s.upstream.PrimaryKey()
	for i, existing := range g.rows {
		if pk.Equal(existing, r) {
			return i
		}
	}
	return -1
}

func (s *Skip) insertSorted(g *skipGroup, r row.Row) {
	pk := s.upstream.PrimaryKey()
	pos := len(g.rows)
	for i, existing := range g.rows {
		if s.Sort().CompareRows(r, existing, pk) < 0 {
			pos = i
			break
		}
	}
	g.rows = append(g.rows, row.Row{})
	copy(g.rows[pos+1:], g.rows[pos:])
	g.rows[pos] = r
}

func (s *Skip) fetchOne(constraint map[string]row.Value, start *StartBound) (change.Node, bool, error) {
	stream, err := s.upstream.Fetch(FetchRequest{Constraint: constraint, Start: start})
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

// Push implements Output.
func (s *Skip) Push(c change.Change) error {
	switch c.Kind {
	case change.Add:
		return s.pushAdd(c)
	case change.Remove:
		return s.pushRemove(c)
	case change.Edit:
		return s.pushEdit(c)
	case change.Child:
		return s.pushChild(c)
	default:
		return nil
	}
}

func (s *Skip) pushAdd(c change.Change) error {
	g := s.findGroup(c.Node.Row)
	if g == nil {
		return nil
	}
	if len(g.rows) < s.offset {
		s.insertSorted(g, c.Node.Row)
		return nil
	}
	last := g.rows[len(g.rows)-1]
	pk := s.upstream.PrimaryKey()
	if s.Sort().CompareRows(c.Node.Row, last, pk) >= 0 {
		// Falls in the visible tail.
		return s.output.Push(c)
	}
	evictedNode, _, err := s.fetchOne(g.constraint, &StartBound{Row: last, Basis: AtRow})
	if err != nil {
		return err
	}
	if evictedNode.Row == nil {
		evictedNode = change.Node{Row: last}
	}
	g.rows = g.rows[:len(g.rows)-1]
	s.insertSorted(g, c.Node.Row)
	return s.output.Push(change.NewAdd(evictedNode))
}

func (s *Skip) pushRemove(c change.Change) error {
	g := s.findGroup(c.Node.Row)
	if g == nil {
		return s.output.Push(c)
	}
	idx := s.indexOf(g, c.Node.Row)
	if idx < 0 {
		return s.output.Push(c)
	}
	g.rows = append(g.rows[:idx], g.rows[idx+1:]...)
	return s.refill(g)
}

// refill tops the suppressed prefix back up to offset (if possible) by
// pulling the smallest row from the visible tail, since that row is now
// the smallest not-yet-suppressed row; the caller must see it disappear.
func (s *Skip) refill(g *skipGroup) error {
	if len(g.rows) >= s.offset {
		return nil
	}
	var start *StartBound
	if len(g.rows) > 0 {
		start = &StartBound{Row: g.rows[len(g.rows)-1], Basis: AfterRow}
	}
	n, ok, err := s.fetchOne(g.constraint, start)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	s.insertSorted(g, n.Row)
	return s.output.Push(change.NewRemove(n))
}

func (s *Skip) pushEdit(c change.Change) error {
	g := s.findGroup(c.Node.Row)
	if g == nil {
		return s.output.Push(c)
	}
	pk := s.upstream.PrimaryKey()
	if s.Sort().CompareRows(c.OldNode.Row, c.Node.Row, pk) == 0 {
		if idx := s.indexOf(g, c.OldNode.Row); idx >= 0 {
			g.rows[idx] = c.Node.Row
			return nil
		}
		return s.output.Push(c)
	}
	if err := s.pushRemove(change.NewRemove(c.OldNode)); err != nil {
		return err
	}
	return s.pushAdd(change.NewAdd(c.Node))
}

func (s *Skip) pushChild(c change.Change) error {
	g := s.findGroup(c.Node.Row)
	if g == nil {
		return s.output.Push(c)
	}
	if s.indexOf(g, c.Node.Row) >= 0 {
		return nil
	}
	return s.output.Push(c)
}

var _ Input = (*Skip)(nil)
var _ Output = (*Skip)(nil)
