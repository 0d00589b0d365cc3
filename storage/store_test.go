package storage

import (
	"testing"

	"github.com/linkerd/ivmsync/row"
)

func TestStoreSetGetDelete(t *testing.T) {
	s := New()
	k := Key{row.NumberFromInt(1), row.String("a")}
	s.Set(k, "v1")

	v, ok := s.Get(k)
	if !ok || v != "v1" {
		t.Fatalf("Get() = %v, %v, want v1, true", v, ok)
	}

	if _, ok := s.Delete(k); !ok {
		t.Fatal("expected Delete to report presence")
	}
	if _, ok := s.Get(k); ok {
		t.Fatal("expected key to be gone after Delete")
	}
}

func TestStoreAscendIsOrdered(t *testing.T) {
	s := New()
	s.Set(Key{row.NumberFromInt(3)}, 3)
	s.Set(Key{row.NumberFromInt(1)}, 1)
	s.Set(Key{row.NumberFromInt(2)}, 2)

	var got []int
	s.Ascend(func(_ Key, value any) bool {
		got = append(got, value.(int))
		return true
	})
	want := []int{1, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Ascend order = %v, want %v", got, want)
		}
	}
}

func TestStoreScanPrefix(t *testing.T) {
	s := New()
	s.Set(Key{row.NumberFromInt(1), row.String("a")}, "1a")
	s.Set(Key{row.NumberFromInt(1), row.String("b")}, "1b")
	s.Set(Key{row.NumberFromInt(2), row.String("a")}, "2a")

	var matched []string
	s.ScanPrefix(Key{row.NumberFromInt(1)}, func(_ Key, value any) bool {
		matched = append(matched, value.(string))
		return true
	})
	if len(matched) != 2 {
		t.Fatalf("expected 2 matches under prefix, got %v", matched)
	}
}

func TestStoreAscendGreaterOrEqual(t *testing.T) {
	s := New()
	for i := 1; i <= 5; i++ {
		s.Set(Key{row.NumberFromInt(int64(i))}, i)
	}
	var got []int
	s.AscendGreaterOrEqual(Key{row.NumberFromInt(3)}, func(_ Key, value any) bool {
		got = append(got, value.(int))
		return true
	})
	want := []int{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
