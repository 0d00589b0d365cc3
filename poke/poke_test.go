package poke_test

import (
	"encoding/json"
	"testing"

	"github.com/linkerd/ivmsync/poke"
	"github.com/linkerd/ivmsync/row"
)

type fakeRowsTarget struct {
	tables     map[string]map[string]row.Row
	batchCalls int
}

func newFakeRowsTarget() *fakeRowsTarget {
	return &fakeRowsTarget{tables: map[string]map[string]row.Row{}}
}

func sigOf(r row.Row) string { return r.Get("id").String() }

func (f *fakeRowsTarget) table(name string) map[string]row.Row {
	t, ok := f.tables[name]
	if !ok {
		t = map[string]row.Row{}
		f.tables[name] = t
	}
	return t
}

func (f *fakeRowsTarget) Batch(fn func() error) error {
	f.batchCalls++
	return fn()
}

func (f *fakeRowsTarget) Get(tableName string, id row.Row) (row.Row, bool, error) {
	t, ok := f.tables[tableName]
	if !ok {
		return nil, false, nil
	}
	r, ok := t[sigOf(id)]
	return r, ok, nil
}

func (f *fakeRowsTarget) Put(tableName string, value row.Row) error {
	f.table(tableName)[sigOf(value)] = value
	return nil
}

func (f *fakeRowsTarget) Update(tableName string, id row.Row, merged row.Row) error {
	f.table(tableName)[sigOf(id)] = merged
	return nil
}

func (f *fakeRowsTarget) Del(tableName string, id row.Row) error {
	delete(f.table(tableName), sigOf(id))
	return nil
}

func (f *fakeRowsTarget) ClearAll() error {
	f.tables = map[string]map[string]row.Row{}
	return nil
}

type fakeScheduler struct{ fn func() }

func (f *fakeScheduler) Schedule(fn func()) { f.fn = fn }

func (f *fakeScheduler) Fire() {
	if f.fn == nil {
		return
	}
	fn := f.fn
	f.fn = nil
	fn()
}

func TestStartPartEndFlushesMergedPatch(t *testing.T) {
	target := newFakeRowsTarget()
	sched := &fakeScheduler{}
	var pokeErr error
	m := poke.NewMerger(sched, target, "", func(err error) { pokeErr = err })

	m.Start("poke-1", "")
	m.Part("poke-1", nil, []poke.RowOp{{
		Kind:      poke.RowPut,
		TableName: "widgets",
		Value:     row.Row{"id": row.NumberFromInt(1), "name": row.String("a")},
	}}, nil, nil)
	m.End("poke-1", "c1", false)

	if sched.fn == nil {
		t.Fatal("expected a flush to be scheduled")
	}
	sched.Fire()
	if pokeErr != nil {
		t.Fatalf("unexpected poke error: %v", pokeErr)
	}
	if target.batchCalls != 1 {
		t.Fatalf("expected exactly one atomic batch, got %d", target.batchCalls)
	}
	r, ok, _ := target.Get("widgets", row.Row{"id": row.NumberFromInt(1)})
	if !ok {
		t.Fatal("expected widget row to be present after flush")
	}
	if name, _ := r.Get("name").AsString(); name != "a" {
		t.Fatalf("got name %q, want %q", name, "a")
	}
}

func TestCookieGapClearsState(t *testing.T) {
	target := newFakeRowsTarget()
	sched := &fakeScheduler{}
	var pokeErr error
	m := poke.NewMerger(sched, target, "", func(err error) { pokeErr = err })

	m.Start("poke-1", "")
	m.End("poke-1", "c1", false)
	sched.Fire()
	if pokeErr != nil {
		t.Fatalf("unexpected error on first flush: %v", pokeErr)
	}

	m.Start("poke-2", "wrong-base")
	m.End("poke-2", "c2", false)
	sched.Fire()
	if pokeErr == nil {
		t.Fatal("expected a cookie-gap protocol error")
	}
}

func TestMismatchedPokeIDAtPartClearsState(t *testing.T) {
	target := newFakeRowsTarget()
	sched := &fakeScheduler{}
	var pokeErr error
	m := poke.NewMerger(sched, target, "", func(err error) { pokeErr = err })

	m.Start("poke-1", "")
	m.Part("wrong-id", nil, nil, nil, nil)
	if pokeErr == nil {
		t.Fatal("expected a protocol error for mismatched pokeID")
	}
	// The merger must have returned to idle; a fresh Start must succeed.
	pokeErr = nil
	m.Start("poke-2", "")
	m.End("poke-2", "c1", false)
	sched.Fire()
	if pokeErr != nil {
		t.Fatalf("unexpected error after recovering from protocol error: %v", pokeErr)
	}
}

func TestCancelDropsPokeWithoutBuffering(t *testing.T) {
	target := newFakeRowsTarget()
	sched := &fakeScheduler{}
	m := poke.NewMerger(sched, target, "", func(error) {})

	m.Start("poke-1", "")
	m.Part("poke-1", nil, []poke.RowOp{{Kind: poke.RowPut, TableName: "widgets", Value: row.Row{"id": row.NumberFromInt(1)}}}, nil, nil)
	m.End("poke-1", "c1", true)

	if sched.fn != nil {
		t.Fatal("a cancelled poke must not schedule a flush")
	}
}

func TestUpdateAppliesMergePatch(t *testing.T) {
	target := newFakeRowsTarget()
	target.Put("widgets", row.Row{"id": row.NumberFromInt(1), "name": row.String("a"), "count": row.NumberFromInt(1)})
	sched := &fakeScheduler{}
	var pokeErr error
	m := poke.NewMerger(sched, target, "", func(err error) { pokeErr = err })

	m.Start("poke-1", "")
	m.Part("poke-1", nil, []poke.RowOp{{
		Kind:      poke.RowUpdate,
		TableName: "widgets",
		ID:        row.Row{"id": row.NumberFromInt(1)},
		Merge:     json.RawMessage(`{"name":"b"}`),
	}}, nil, nil)
	m.End("poke-1", "c1", false)
	sched.Fire()

	if pokeErr != nil {
		t.Fatalf("unexpected error: %v", pokeErr)
	}
	r, ok, _ := target.Get("widgets", row.Row{"id": row.NumberFromInt(1)})
	if !ok {
		t.Fatal("expected row to still be present")
	}
	if name, _ := r.Get("name").AsString(); name != "b" {
		t.Fatalf("got name %q, want %q", name, "b")
	}
	if count, _ := r.Get("count").AsNumber(); count.IntPart() != 1 {
		t.Fatalf("merge patch must preserve untouched columns, got count %v", count)
	}
}

func TestClearBarrierDiscardsPriorOps(t *testing.T) {
	target := newFakeRowsTarget()
	sched := &fakeScheduler{}
	var pokeErr error
	m := poke.NewMerger(sched, target, "", func(err error) { pokeErr = err })

	m.Start("poke-1", "")
	m.Part("poke-1", nil, []poke.RowOp{
		{Kind: poke.RowPut, TableName: "widgets", Value: row.Row{"id": row.NumberFromInt(1)}},
		{Kind: poke.RowClear},
		{Kind: poke.RowPut, TableName: "widgets", Value: row.Row{"id": row.NumberFromInt(2)}},
	}, nil, nil)
	m.End("poke-1", "c1", false)
	sched.Fire()

	if pokeErr != nil {
		t.Fatalf("unexpected error: %v", pokeErr)
	}
	if _, ok, _ := target.Get("widgets", row.Row{"id": row.NumberFromInt(1)}); ok {
		t.Fatal("row added before the clear barrier must not survive")
	}
	if _, ok, _ := target.Get("widgets", row.Row{"id": row.NumberFromInt(2)}); !ok {
		t.Fatal("row added after the clear barrier must be present")
	}
}

func TestLocalClientLastMutationIDReturnedSynchronously(t *testing.T) {
	target := newFakeRowsTarget()
	sched := &fakeScheduler{}
	m := poke.NewMerger(sched, target, "", func(error) {}, poke.WithLocalClientID("client-a"))

	m.Start("poke-1", "")
	lmid, ok := m.Part("poke-1", map[string]int64{"client-a": 7, "client-b": 9}, nil, nil, nil)
	if !ok || lmid != 7 {
		t.Fatalf("got (%v, %v), want (7, true)", lmid, ok)
	}
	m.End("poke-1", "c1", false)
	sched.Fire()

	if got, ok := m.LastMutationID("client-b"); !ok || got != 9 {
		t.Fatalf("got (%v, %v), want (9, true)", got, ok)
	}
}
