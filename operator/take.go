package operator

import (
	"sort"
	"strings"

	"github.com/linkerd/ivmsync/change"
	"github.com/linkerd/ivmsync/row"
)

// Take is the limit-N window operator. It is stateful per distinct
// constraint scope (a Join fetches each child window with a constraint
// pinning the parent key, so the same Take instance serves one window per
// parent); scopes are learned lazily the first time they're Fetched, since
// a scope nobody has asked about yet has no window to maintain.
//
// Push maintenance updates the scope's cached window rows in place and
// reads from upstream only the single row promoted into or evicted from
// the window, so that row's node is fetched fresh from upstream rather
// than rebuilt from the cached Row.
type Take struct {
	upstream Input
	limit    int
	output   Output

	groups map[string]*takeGroup
}

type takeGroup struct {
	constraint map[string]row.Value
	rows       []row.Row // ascending order, len <= limit
}

// NewTake wraps upstream with a limit-N window.
func NewTake(upstream Input, limit int) *Take {
	t := &Take{upstream: upstream, limit: limit, groups: map[string]*takeGroup{}}
	upstream.SetOutput(t)
	return t
}

func (t *Take) SetOutput(o Output)           { t.output = o }
func (t *Take) Sort() row.Sort                { return t.upstream.Sort() }
func (t *Take) PrimaryKey() row.PrimaryKey    { return t.upstream.PrimaryKey() }
func (t *Take) Destroy() error                { return t.upstream.Destroy() }

func constraintSignature(c map[string]row.Value) string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(c[k].String())
		b.WriteByte(';')
	}
	return b.String()
}

func (t *Take) Fetch(req FetchRequest) (change.ChildStream, error) {
	rows, err := t.fetchWindow(req.Constraint)
	if err != nil {
		return nil, err
	}
	sig := constraintSignature(req.Constraint)
	t.groups[sig] = &takeGroup{constraint: cloneConstraint(req.Constraint), rows: rows}
	return change.NewSliceStream(rowsToNodes(t.applyStartAndReverse(rows, req))), nil
}

func (t *Take) Cleanup(req FetchRequest) (change.ChildStream, error) {
	rows, err := t.fetchWindow(req.Constraint)
	if err != nil {
		return nil, err
	}
	sig := constraintSignature(req.Constraint)
	delete(t.groups, sig)
	return change.NewSliceStream(rowsToNodes(t.applyStartAndReverse(rows, req))), nil
}

// fetchWindow pulls up to t.limit rows from upstream, ascending, for the
// given constraint, draining whatever remains beyond the window so
// upstream releases any per-node storage it held for those rows.
func (t *Take) fetchWindow(constraint map[string]row.Value) ([]row.Row, error) {
	stream, err := t.upstream.Fetch(FetchRequest{Constraint: constraint})
	if err != nil {
		return nil, err
	}
	var rows []row.Row
	for len(rows) < t.limit {
		n, ok, err := stream.Next()
		if err != nil {
			stream.Drain()
			return nil, err
		}
		if !ok {
			return rows, nil
		}
		rows = append(rows, n.Row)
	}
	if err := stream.Drain(); err != nil {
		return nil, err
	}
	return rows, nil
}

func (t *Take) applyStartAndReverse(rows []row.Row, req FetchRequest) []row.Row {
	out := rows
	if req.Reverse {
		out = make([]row.Row, len(rows))
		for i, r := range rows {
			out[len(rows)-1-i] = r
		}
	}
	if req.Start != nil {
		pk := t.upstream.PrimaryKey()
		kept := make([]row.Row, 0, len(out))
		for _, r := range out {
			cmp := t.Sort().CompareRows(r, req.Start.Row, pk)
			if req.Reverse {
				cmp = -cmp
			}
			if cmp > 0 || (cmp == 0 && req.Start.Basis == AtRow) {
				kept = append(kept, r)
			}
		}
		out = kept
	}
	return out
}

func rowsToNodes(rows []row.Row) []change.Node {
	nodes := make([]change.Node, len(rows))
	for i, r := range rows {
		nodes[i] = change.Node{Row: r}
	}
	return nodes
}

func cloneConstraint(c map[string]row.Value) map[string]row.Value {
	out := make(map[string]row.Value, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

func (t *Take) findGroup(r row.Row) *takeGroup {
	for _, g := range t.groups {
		if MatchConstraint(r, g.constraint) {
			return g
		}
	}
	return nil
}

func (t *Take) indexOf(g *takeGroup, r row.Row) int {
	pk := t.upstream.PrimaryKey()
	for i, existing := range g.rows {
		if pk.Equal(existing, r) {
			return i
		}
	}
	return -1
}

func (t *Take) insertSorted(g *takeGroup, r row.Row) int {
	pk := t.upstream.PrimaryKey()
	pos := len(g.rows)
	for i, existing := range g.rows {
		if t.Sort().CompareRows(r, existing, pk) < 0 {
			pos = i
			break
		}
	}
	g.rows = append(g.rows, row.Row{})
	copy(g.rows[pos+1:], g.rows[pos:])
	g.rows[pos] = r
	return pos
}

// Push implements Output.
func (t *Take) Push(c change.Change) error {
	switch c.Kind {
	case change.Add:
		return t.pushAdd(c)
	case change.Remove:
		return t.pushRemove(c)
	case change.Edit:
		return t.pushEdit(c)
	case change.Child:
		return t.pushChild(c)
	default:
		return nil
	}
}

func (t *Take) pushAdd(c change.Change) error {
	g := t.findGroup(c.Node.Row)
	if g == nil {
		return nil
	}
	if len(g.rows) < t.limit {
		t.insertSorted(g, c.Node.Row)
		return t.output.Push(c)
	}
	last := g.rows[len(g.rows)-1]
	pk := t.upstream.PrimaryKey()
	if t.Sort().CompareRows(c.Node.Row, last, pk) >= 0 {
		// Doesn't enter the window.
		return nil
	}
	evictedNode, err := t.fetchOne(g.constraint, last)
	if err != nil {
		return err
	}
	g.rows = g.rows[:len(g.rows)-1]
	t.insertSorted(g, c.Node.Row)
	if err := t.output.Push(change.NewRemove(evictedNode)); err != nil {
		return err
	}
	return t.output.Push(c)
}

func (t *Take) pushRemove(c change.Change) error {
	g := t.findGroup(c.Node.Row)
	if g == nil {
		return nil
	}
	idx := t.indexOf(g, c.Node.Row)
	if idx < 0 {
		return nil // beyond the window already; no observable change
	}
	g.rows = append(g.rows[:idx], g.rows[idx+1:]...)
	if err := t.output.Push(c); err != nil {
		return err
	}
	return t.promoteIfRoom(g)
}

// promoteIfRoom fetches the single smallest upstream row not already in
// g.rows when the window has fallen below capacity, and admits it.
func (t *Take) promoteIfRoom(g *takeGroup) error {
	if len(g.rows) >= t.limit {
		return nil
	}
	var start *StartBound
	if len(g.rows) > 0 {
		start = &StartBound{Row: g.rows[len(g.rows)-1], Basis: AfterRow}
	}
	stream, err := t.upstream.Fetch(FetchRequest{Constraint: g.constraint, Start: start})
	if err != nil {
		return err
	}
	n, ok, err := stream.Next()
	if err != nil {
		stream.Drain()
		return err
	}
	if err := stream.Drain(); err != nil {
		return err
	}
	if !ok {
		return nil
	}
	t.insertSorted(g, n.Row)
	return t.output.Push(change.NewAdd(n))
}

func (t *Take) pushEdit(c change.Change) error {
	g := t.findGroup(c.Node.Row)
	if g == nil {
		return nil
	}
	pk := t.upstream.PrimaryKey()
	if t.Sort().CompareRows(c.OldNode.Row, c.Node.Row, pk) == 0 {
		// Sort-relevant columns unchanged; position in the window (if any)
		// is unaffected.
		if t.indexOf(g, c.OldNode.Row) >= 0 {
			idx := t.indexOf(g, c.OldNode.Row)
			g.rows[idx] = c.Node.Row
			return t.output.Push(c)
		}
		return nil
	}
	if err := t.pushRemove(change.NewRemove(c.OldNode)); err != nil {
		return err
	}
	return t.pushAdd(change.NewAdd(c.Node))
}

func (t *Take) pushChild(c change.Change) error {
	g := t.findGroup(c.Node.Row)
	if g == nil {
		return nil
	}
	if t.indexOf(g, c.Node.Row) >= 0 {
		return t.output.Push(c)
	}
	return nil
}

func (t *Take) fetchOne(constraint map[string]row.Value, r row.Row) (change.Node, error) {
	stream, err := t.upstream.Fetch(FetchRequest{
		Constraint: constraint,
		Start:      &StartBound{Row: r, Basis: AtRow},
	})
	if err != nil {
		return change.Node{}, err
	}
	n, ok, err := stream.Next()
	if err != nil {
		stream.Drain()
		return change.Node{}, err
	}
	if err := stream.Drain(); err != nil {
		return change.Node{}, err
	}
	if !ok {
		return change.Node{Row: r}, nil
	}
	return n, nil
}

var _ Input = (*Take)(nil)
var _ Output = (*Take)(nil)
