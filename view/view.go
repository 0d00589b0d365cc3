// Package view implements the materializer: the terminal consumer of an
// operator chain that turns a push stream into a live, in-memory result
// (an ordered array or a singular row) and notifies subscribers after
// each commit.
//
// Grounded on snapshotTopic.publishSnapshot/publishNoEndpoints
// (controller/api/destination/watcher/snapshot_topic.go): replay-on-
// subscribe plus fan-out-to-subscribers, generalized from "one address
// set" to "one materialized query result" with in-place edits that
// preserve array identity instead of always replacing the whole
// snapshot.
package view

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/linkerd/ivmsync/change"
	"github.com/linkerd/ivmsync/ivmerr"
	"github.com/linkerd/ivmsync/operator"
	"github.com/linkerd/ivmsync/row"
)

// Cardinality distinguishes a singular (at most one row) view from an
// ordered array view.
type Cardinality int

const (
	Array Cardinality = iota
	Singular
)

// Listener receives a batched notification after a commit finishes
// applying all of that round's changes.
type Listener interface {
	OnCommit(v *View)
}

// entry is one materialized row plus whatever nested relationship views
// have been built under it, keyed by relationship name.
type entry struct {
	row      row.Row
	children map[string]*View // relationship name -> nested view
}

// View is a materialized, live query result.
type View struct {
	pk          row.PrimaryKey
	sort        row.Sort
	cardinality Cardinality
	log         *logrus.Entry

	rows    []*entry         // ordered for Array, len<=1 for Singular
	byPK    map[string]*entry // pk signature -> entry, shared backing with rows

	listeners []Listener
	batching  bool
}

// New constructs an empty View and attaches it as the Output of input,
// so every push input produces is applied as it arrives.
func New(input operator.Input, cardinality Cardinality, log *logrus.Entry) *View {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	v := &View{
		pk:          input.PrimaryKey(),
		sort:        input.Sort(),
		cardinality: cardinality,
		log:         log,
		byPK:        map[string]*entry{},
	}
	input.SetOutput(v)
	return v
}

// Materialize performs the initial Fetch against input and populates the
// view before any push has been observed; callers typically call this
// once, right after New, before handing the View to subscribers.
func (v *View) Materialize(input operator.Input) error {
	stream, err := input.Fetch(operator.FetchRequest{})
	if err != nil {
		return err
	}
	for {
		n, ok, err := stream.Next()
		if err != nil {
			stream.Drain()
			return err
		}
		if !ok {
			break
		}
		e := &entry{row: n.Row, children: map[string]*View{}}
		v.rows = append(v.rows, e)
		v.byPK[v.pkSig(n.Row)] = e
	}
	return nil
}

func (v *View) pkSig(r row.Row) string {
	s := "("
	for i, c := range v.pk {
		if i > 0 {
			s += ","
		}
		s += r.Get(c).String()
	}
	return s + ")"
}

// Rows returns the current materialized rows in sort order. Each call
// returns a new slice, but the Row maps in it are shared with the view;
// callers must not mutate them.
func (v *View) Rows() []row.Row {
	out := make([]row.Row, len(v.rows))
	for i, e := range v.rows {
		out[i] = e.row
	}
	return out
}

// Row returns the single materialized row for a Singular view, or ok=false
// if none exists yet.
func (v *View) Row() (row.Row, bool) {
	if len(v.rows) == 0 {
		return nil, false
	}
	return v.rows[0].row, true
}

// Subscribe registers l and immediately replays the current state to it,
// so a late subscriber never misses the materialized-so-far result
// (snapshotTopic.Subscribe's immediate-replay behavior).
func (v *View) Subscribe(l Listener) {
	v.listeners = append(v.listeners, l)
	l.OnCommit(v)
}

// Unsubscribe removes l.
func (v *View) Unsubscribe(l Listener) {
	for i, existing := range v.listeners {
		if existing == l {
			v.listeners = append(v.listeners[:i], v.listeners[i+1:]...)
			return
		}
	}
}

func (v *View) notify() {
	if v.batching {
		return
	}
	var errs *multierror.Error
	for _, l := range v.listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					errs = multierror.Append(errs, fmt.Errorf("listener panic: %v", r))
				}
			}()
			l.OnCommit(v)
		}()
	}
	if errs.ErrorOrNil() != nil {
		v.log.WithError(errs).Error("listener notification errors")
	}
}

// Batch runs fn with commit notifications suppressed, firing exactly one
// notification after fn returns (even if fn applied several pushes).
func (v *View) Batch(fn func() error) error {
	v.batching = true
	err := fn()
	v.batching = false
	if err != nil {
		return err
	}
	v.notify()
	return nil
}

// Push implements operator.Output: applies one change and notifies.
func (v *View) Push(c change.Change) error {
	if err := v.apply(c); err != nil {
		return err
	}
	v.notify()
	return nil
}

func (v *View) apply(c change.Change) error {
	switch c.Kind {
	case change.Add:
		return v.applyAdd(c.Node)
	case change.Remove:
		return v.applyRemove(c.Node)
	case change.Edit:
		return v.applyEdit(c.OldNode, c.Node)
	case change.Child:
		return v.applyChild(c.Node, c.ChildRelationship, *c.ChildChange)
	default:
		return nil
	}
}

func (v *View) applyAdd(n change.Node) error {
	sig := v.pkSig(n.Row)
	if _, exists := v.byPK[sig]; exists {
		return rowAlreadyPresent(sig)
	}
	if v.cardinality == Singular && len(v.rows) > 0 {
		return ivmerr.NewInvariantViolation("view.applyAdd", "second add to a singular view")
	}
	e := &entry{row: n.Row, children: map[string]*View{}}
	v.byPK[sig] = e
	if v.cardinality == Singular {
		v.rows = []*entry{e}
		return nil
	}
	pos := len(v.rows)
	for i, existing := range v.rows {
		if v.sort.CompareRows(n.Row, existing.row, v.pk) < 0 {
			pos = i
			break
		}
	}
	v.rows = append(v.rows, nil)
	copy(v.rows[pos+1:], v.rows[pos:])
	v.rows[pos] = e
	return nil
}

func (v *View) applyRemove(n change.Node) error {
	sig := v.pkSig(n.Row)
	e, exists := v.byPK[sig]
	if !exists {
		return rowMissing(sig)
	}
	delete(v.byPK, sig)
	for i, existing := range v.rows {
		if existing == e {
			v.rows = append(v.rows[:i], v.rows[i+1:]...)
			break
		}
	}
	return nil
}

// applyEdit replaces an entry's row in place, preserving the entry
// pointer (and therefore its position in v.rows and any nested relationship
// views it holds) so a consumer diffing the array by identity sees one
// row mutate rather than a remove+add pair.
func (v *View) applyEdit(old, n change.Node) error {
	sig := v.pkSig(old.Row)
	e, exists := v.byPK[sig]
	if !exists {
		return rowMissing(sig)
	}
	e.row = n.Row
	newSig := v.pkSig(n.Row)
	if newSig != sig {
		delete(v.byPK, sig)
		v.byPK[newSig] = e
	}
	if v.sort.CompareRows(old.Row, n.Row, v.pk) != 0 {
		return v.reposition(e)
	}
	return nil
}

func (v *View) reposition(e *entry) error {
	idx := -1
	for i, existing := range v.rows {
		if existing == e {
			idx = i
			break
		}
	}
	if idx < 0 {
		return rowMissing(v.pkSig(e.row))
	}
	v.rows = append(v.rows[:idx], v.rows[idx+1:]...)
	pos := len(v.rows)
	for i, existing := range v.rows {
		if v.sort.CompareRows(e.row, existing.row, v.pk) < 0 {
			pos = i
			break
		}
	}
	v.rows = append(v.rows, nil)
	copy(v.rows[pos+1:], v.rows[pos:])
	v.rows[pos] = e
	return nil
}

func (v *View) applyChild(parent row.Row, relationship string, inner change.Change) error {
	sig := v.pkSig(parent)
	e, exists := v.byPK[sig]
	if !exists {
		// The parent isn't part of this view's current result (it may
		// have been filtered out concurrently); nothing to update.
		return nil
	}
	child, ok := e.children[relationship]
	if !ok {
		return nil
	}
	return child.apply(inner)
}

// AttachChild registers a nested View under parent's relationship, so
// change.Child pushes naming that relationship are routed into it.
func (v *View) AttachChild(parentRow row.Row, relationship string, child *View) {
	sig := v.pkSig(parentRow)
	if e, ok := v.byPK[sig]; ok {
		e.children[relationship] = child
	}
}
