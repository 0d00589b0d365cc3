package change

import (
	"testing"

	"github.com/linkerd/ivmsync/row"
)

func TestNodeRelationshipAbsentYieldsEmptyStream(t *testing.T) {
	n := Node{Row: row.Row{"id": row.NumberFromInt(1)}}
	s, err := n.Relationship("children")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, ok, err := s.Next()
	if err != nil || ok {
		t.Fatalf("expected exhausted stream, got ok=%v err=%v", ok, err)
	}
}

func TestSliceStreamYieldsInOrderThenExhausts(t *testing.T) {
	nodes := []Node{
		{Row: row.Row{"id": row.NumberFromInt(1)}},
		{Row: row.Row{"id": row.NumberFromInt(2)}},
	}
	s := NewSliceStream(nodes)

	n, ok, err := s.Next()
	if err != nil || !ok || !n.Row.Get("id").Equal(row.NumberFromInt(1)) {
		t.Fatalf("unexpected first node: %+v ok=%v err=%v", n, ok, err)
	}
	n, ok, err = s.Next()
	if err != nil || !ok || !n.Row.Get("id").Equal(row.NumberFromInt(2)) {
		t.Fatalf("unexpected second node: %+v ok=%v err=%v", n, ok, err)
	}
	_, ok, err = s.Next()
	if err != nil || ok {
		t.Fatalf("expected exhaustion, got ok=%v err=%v", ok, err)
	}
}

func TestDrainIsIdempotent(t *testing.T) {
	s := NewSliceStream([]Node{{Row: row.Row{"id": row.NumberFromInt(1)}}})
	if err := s.Drain(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Drain(); err != nil {
		t.Fatalf("second drain should be a no-op, got error: %v", err)
	}
	_, ok, _ := s.Next()
	if ok {
		t.Fatal("expected stream to be fully drained")
	}
}

func TestFuncStreamOnDrainFnCalledOnce(t *testing.T) {
	calls := 0
	s := &FuncStream{
		NextFn: func() (Node, bool, error) { return Node{}, false, nil },
		OnDrainFn: func() error {
			calls++
			return nil
		},
	}
	if err := s.Drain(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Drain(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected OnDrainFn called once, got %d", calls)
	}
}
