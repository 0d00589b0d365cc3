package source

import (
	"testing"

	"github.com/linkerd/ivmsync/change"
	"github.com/linkerd/ivmsync/operator"
	"github.com/linkerd/ivmsync/row"
)

type recordingOutput struct {
	changes []change.Change
	onPush  func(change.Change) error
}

func (o *recordingOutput) Push(c change.Change) error {
	o.changes = append(o.changes, c)
	if o.onPush != nil {
		return o.onPush(c)
	}
	return nil
}

func newTestSource() *Source {
	return New("widgets", row.PrimaryKey{"id"})
}

func mustConnect(t *testing.T, s *Source, sort row.Sort) (operator.Input, *recordingOutput) {
	t.Helper()
	in, _, err := s.Connect(sort, nil, nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	out := &recordingOutput{}
	in.SetOutput(out)
	return in, out
}

func TestPushAddRejectsDuplicate(t *testing.T) {
	s := newTestSource()
	r := row.Row{"id": row.NumberFromInt(1), "name": row.String("a")}
	if err := s.Push(Mutation{Kind: Add, Row: r}); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := s.Push(Mutation{Kind: Add, Row: r}); err == nil {
		t.Fatal("expected duplicate add to fail")
	}
}

func TestPushRemoveRejectsMissing(t *testing.T) {
	s := newTestSource()
	r := row.Row{"id": row.NumberFromInt(1)}
	if err := s.Push(Mutation{Kind: Remove, Row: r}); err == nil {
		t.Fatal("expected remove of missing row to fail")
	}
}

func TestPushEditRejectsPrimaryKeyMutation(t *testing.T) {
	s := newTestSource()
	r := row.Row{"id": row.NumberFromInt(1), "name": row.String("a")}
	if err := s.Push(Mutation{Kind: Add, Row: r}); err != nil {
		t.Fatal(err)
	}
	mutated := row.Row{"id": row.NumberFromInt(2), "name": row.String("b")}
	if err := s.Push(Mutation{Kind: Edit, Row: mutated}); err == nil {
		t.Fatal("expected edit with a different primary key to fail")
	}
}

func TestSetUpserts(t *testing.T) {
	s := newTestSource()
	r := row.Row{"id": row.NumberFromInt(1), "name": row.String("a")}
	if err := s.Push(Mutation{Kind: Set, Row: r}); err != nil {
		t.Fatalf("set-as-add: %v", err)
	}
	r2 := row.Row{"id": row.NumberFromInt(1), "name": row.String("b")}
	if err := s.Push(Mutation{Kind: Set, Row: r2}); err != nil {
		t.Fatalf("set-as-edit: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 row after upsert-edit, got %d", s.Len())
	}
}

func TestFetchOrdersBySort(t *testing.T) {
	s := newTestSource()
	for i := 3; i >= 1; i-- {
		r := row.Row{"id": row.NumberFromInt(int64(i)), "name": row.String("x")}
		if err := s.Push(Mutation{Kind: Add, Row: r}); err != nil {
			t.Fatal(err)
		}
	}
	in, _ := mustConnect(t, s, row.Sort{{Column: "id"}})
	stream, err := in.Fetch(operator.FetchRequest{})
	if err != nil {
		t.Fatal(err)
	}
	var got []int64
	for {
		n, ok, err := stream.Next()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		v, _ := n.Row.Get("id").AsNumber()
		got = append(got, v.IntPart())
	}
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

func TestPushMakesOverlayVisibleToSynchronousFetch(t *testing.T) {
	s := newTestSource()
	r1 := row.Row{"id": row.NumberFromInt(1), "name": row.String("a")}
	if err := s.Push(Mutation{Kind: Add, Row: r1}); err != nil {
		t.Fatal(err)
	}
	in, out := mustConnect(t, s, row.Sort{{Column: "id"}})

	var sawDuringPush int
	out.onPush = func(change.Change) error {
		stream, err := in.Fetch(operator.FetchRequest{})
		if err != nil {
			return err
		}
		n := 0
		for {
			_, ok, err := stream.Next()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			n++
		}
		sawDuringPush = n
		return nil
	}

	r2 := row.Row{"id": row.NumberFromInt(2), "name": row.String("b")}
	if err := s.Push(Mutation{Kind: Add, Row: r2}); err != nil {
		t.Fatal(err)
	}
	if sawDuringPush != 2 {
		t.Fatalf("expected the just-added row visible during its own push notification, saw %d rows", sawDuringPush)
	}

	// After the push returns, the overlay is cleared; an ordinary fetch
	// must see the same committed count, not a stale duplicate.
	stream, err := in.Fetch(operator.FetchRequest{})
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	for {
		_, ok, err := stream.Next()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		count++
	}
	if count != 2 {
		t.Fatalf("expected 2 committed rows after push, got %d", count)
	}
}

func TestConnectFilterSuppressesNonMatchingRows(t *testing.T) {
	s := newTestSource()
	for i := 1; i <= 3; i++ {
		r := row.Row{"id": row.NumberFromInt(int64(i)), "active": row.Bool(i != 2)}
		if err := s.Push(Mutation{Kind: Add, Row: r}); err != nil {
			t.Fatal(err)
		}
	}
	filter := testFilter{column: "active", want: row.Bool(true)}
	in, fullyApplied, err := s.Connect(row.Sort{{Column: "id"}}, filter, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !fullyApplied {
		t.Fatal("expected a plain column filter to be fully applied by Source")
	}
	in.SetOutput(&recordingOutput{})
	stream, err := in.Fetch(operator.FetchRequest{})
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	for {
		_, ok, err := stream.Next()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		count++
	}
	if count != 2 {
		t.Fatalf("expected 2 active rows, got %d", count)
	}
}

type testFilter struct {
	column string
	want   row.Value
}

func (f testFilter) Eval(n change.Node) bool {
	return n.Row.Get(f.column).Equal(f.want)
}

func (testFilter) FullyColumnLocal() bool { return true }
