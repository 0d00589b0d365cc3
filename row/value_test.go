package row

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestValueEqualNullSemantics(t *testing.T) {
	if Null().Equal(Null()) {
		t.Fatal("null must not equal null")
	}
	if Bool(true).Equal(Null()) {
		t.Fatal("bool must not equal null")
	}
}

func TestValueEqualByKind(t *testing.T) {
	cases := []struct {
		name string
		a, b Value
		want bool
	}{
		{"bool eq", Bool(true), Bool(true), true},
		{"bool neq", Bool(true), Bool(false), false},
		{"number eq exact", Number(decimal.NewFromFloat(1.50)), Number(decimal.NewFromFloat(1.5)), true},
		{"string eq", String("a"), String("a"), true},
		{"string neq", String("a"), String("b"), false},
		{"cross kind", String("1"), NumberFromInt(1), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.a.Equal(c.b); got != c.want {
				t.Fatalf("Equal() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestValueCompareTotalOrder(t *testing.T) {
	values := []Value{
		Null(),
		Bool(false),
		Bool(true),
		NumberFromInt(1),
		NumberFromInt(2),
		String("a"),
		String("b"),
		JSON(map[string]any{"a": 1.0}),
	}
	for i := 0; i < len(values); i++ {
		for j := i + 1; j < len(values); j++ {
			if values[i].Compare(values[j]) >= 0 {
				t.Fatalf("expected values[%d] < values[%d] (%v < %v)", i, j, values[i], values[j])
			}
			if values[j].Compare(values[i]) <= 0 {
				t.Fatalf("expected values[%d] > values[%d]", j, i)
			}
		}
		if values[i].Compare(values[i]) != 0 {
			t.Fatalf("expected values[%d] == itself", i)
		}
	}
}

func TestNumberFromFloatRejectsNaN(t *testing.T) {
	nan := 0.0
	nan = nan / nan
	if _, ok := NumberFromFloat(nan); ok {
		t.Fatal("expected NumberFromFloat to reject NaN")
	}
}

func TestJSONEqualityIsStructuralNotKeyOrder(t *testing.T) {
	a := JSON(map[string]any{"x": 1.0, "y": 2.0})
	b := JSON(map[string]any{"y": 2.0, "x": 1.0})
	if !a.Equal(b) {
		t.Fatal("expected structurally identical JSON documents to be equal regardless of key order")
	}
}
