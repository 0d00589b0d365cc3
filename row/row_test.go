package row

import (
	"testing"

	"github.com/go-test/deep"
)

func TestRowCloneIsDeeplyEqualButIndependent(t *testing.T) {
	r := Row{"id": NumberFromInt(1), "name": String("a")}
	clone := r.Clone()

	if diff := deep.Equal(r, clone); diff != nil {
		t.Fatalf("clone diverged from original: %v", diff)
	}

	clone["name"] = String("b")
	if diff := deep.Equal(r["name"], String("a")); diff != nil {
		t.Fatalf("mutating the clone affected the original: %v", diff)
	}
}

func TestRowProjectKeepsOnlyRequestedColumns(t *testing.T) {
	r := Row{"id": NumberFromInt(1), "name": String("a"), "extra": Bool(true)}
	got := r.Project("id", "name")
	want := Row{"id": NumberFromInt(1), "name": String("a")}

	if diff := deep.Equal(got, want); diff != nil {
		t.Fatalf("Project result mismatch: %v", diff)
	}
}
