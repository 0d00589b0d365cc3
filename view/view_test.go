package view_test

import (
	"testing"

	"github.com/linkerd/ivmsync/row"
	"github.com/linkerd/ivmsync/source"
	"github.com/linkerd/ivmsync/view"
)

type recordingListener struct {
	commits int
}

func (l *recordingListener) OnCommit(*view.View) { l.commits++ }

func newSourceView(t *testing.T) (*source.Source, *view.View) {
	t.Helper()
	src := source.New("nums", row.PrimaryKey{"id"})
	for i := 1; i <= 3; i++ {
		if err := src.Push(source.Mutation{Kind: source.Add, Row: row.Row{"id": row.NumberFromInt(int64(i))}}); err != nil {
			t.Fatal(err)
		}
	}
	in, _, err := src.Connect(row.Sort{{Column: "id"}}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	v := view.New(in, view.Array, nil)
	if err := v.Materialize(in); err != nil {
		t.Fatal(err)
	}
	return src, v
}

func ids(rows []row.Row) []int64 {
	out := make([]int64, len(rows))
	for i, r := range rows {
		n, _ := r.Get("id").AsNumber()
		out[i] = n.IntPart()
	}
	return out
}

func TestMaterializeOrdersRows(t *testing.T) {
	_, v := newSourceView(t)
	got := ids(v.Rows())
	want := []int64{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestPushAddInsertsInOrder(t *testing.T) {
	src, v := newSourceView(t)
	if err := src.Push(source.Mutation{Kind: source.Add, Row: row.Row{"id": row.NumberFromInt(2)}.Clone()}); err == nil {
		t.Fatal("expected duplicate add at source level to fail before reaching view")
	}
	if err := src.Push(source.Mutation{Kind: source.Add, Row: row.Row{"id": row.NumberFromInt(0)}}); err != nil {
		t.Fatal(err)
	}
	got := ids(v.Rows())
	want := []int64{0, 1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestPushRemoveDeletesRow(t *testing.T) {
	src, v := newSourceView(t)
	if err := src.Push(source.Mutation{Kind: source.Remove, Row: row.Row{"id": row.NumberFromInt(2)}}); err != nil {
		t.Fatal(err)
	}
	got := ids(v.Rows())
	want := []int64{1, 3}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestSubscribeReplaysCurrentState(t *testing.T) {
	_, v := newSourceView(t)
	l := &recordingListener{}
	v.Subscribe(l)
	if l.commits != 1 {
		t.Fatalf("expected immediate replay on subscribe, got %d commits", l.commits)
	}
}

func TestEditRepositionsRow(t *testing.T) {
	src := source.New("nums", row.PrimaryKey{"id"})
	for i := 1; i <= 3; i++ {
		if err := src.Push(source.Mutation{Kind: source.Add, Row: row.Row{"id": row.NumberFromInt(int64(i)), "rank": row.NumberFromInt(int64(i))}}); err != nil {
			t.Fatal(err)
		}
	}
	in, _, err := src.Connect(row.Sort{{Column: "rank"}}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	v := view.New(in, view.Array, nil)
	if err := v.Materialize(in); err != nil {
		t.Fatal(err)
	}
	// Move row 1 to the back by giving it the highest rank.
	if err := src.Push(source.Mutation{Kind: source.Edit, Row: row.Row{"id": row.NumberFromInt(1), "rank": row.NumberFromInt(99)}}); err != nil {
		t.Fatal(err)
	}
	got := ids(v.Rows())
	want := []int64{2, 3, 1}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
