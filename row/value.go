// Package row defines the data model shared by every layer of the dataflow
// engine: the Value union, the Row map, primary keys, and compound sort
// orders.
package row

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind identifies which variant of Value is populated.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindJSON
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindJSON:
		return "json"
	default:
		return "unknown"
	}
}

// Value is a primitive column value: boolean, finite number, string, null,
// or a JSON sub-document. It is a closed sum type; zero value is Null.
//
// Numbers are represented with decimal.Decimal rather than float64 so that
// join-key and constraint comparisons are exact, matching SQL semantics
// rather than floating point semantics.
type Value struct {
	kind Kind
	b    bool
	n    decimal.Decimal
	s    string
	j    any
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number wraps an exact decimal number.
func Number(d decimal.Decimal) Value { return Value{kind: KindNumber, n: d} }

// NumberFromInt wraps an integer as a Number.
func NumberFromInt(i int64) Value { return Value{kind: KindNumber, n: decimal.NewFromInt(i)} }

// NumberFromFloat wraps a float64 as a Number. The caller is responsible
// for the value being finite; non-finite floats are rejected by
// NumberFromFloat, returning a Null value and ok=false.
func NumberFromFloat(f float64) (Value, bool) {
	if f != f || f > maxFloat || f < -maxFloat {
		return Null(), false
	}
	return Value{kind: KindNumber, n: decimal.NewFromFloat(f)}, true
}

const maxFloat = 1.7976931348623157e+308

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// JSON wraps a recursive JSON sub-document (map[string]any, []any, or a
// primitive). See Limits for the depth/size bounds enforced at source
// ingress.
func JSON(v any) Value { return Value{kind: KindJSON, j: v} }

// Kind reports which variant is populated.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the null value.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean payload and whether v is a Bool.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsNumber returns the decimal payload and whether v is a Number.
func (v Value) AsNumber() (decimal.Decimal, bool) { return v.n, v.kind == KindNumber }

// AsString returns the string payload and whether v is a String.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsJSON returns the JSON payload and whether v is a JSON document.
func (v Value) AsJSON() (any, bool) { return v.j, v.kind == KindJSON }

// Equal reports structural equality for join/constraint purposes, using
// SQL-style semantics: null is never equal to anything, including another
// null. Callers that need IS/IS NOT null semantics must check IsNull
// directly rather than calling Equal.
func (v Value) Equal(other Value) bool {
	if v.kind == KindNull || other.kind == KindNull {
		return false
	}
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindBool:
		return v.b == other.b
	case KindNumber:
		return v.n.Equal(other.n)
	case KindString:
		return v.s == other.s
	case KindJSON:
		return jsonEqual(v.j, other.j)
	}
	return false
}

// Compare defines a total order over Value used for sort-key and index
// ordering: null < bool < number < string < json, and within a kind by the
// kind's natural order. It never panics and never returns a tie across
// distinct kinds.
func (v Value) Compare(other Value) int {
	if v.kind != other.kind {
		return int(v.kind) - int(other.kind)
	}
	switch v.kind {
	case KindNull:
		return 0
	case KindBool:
		if v.b == other.b {
			return 0
		}
		if !v.b {
			return -1
		}
		return 1
	case KindNumber:
		return v.n.Cmp(other.n)
	case KindString:
		if v.s < other.s {
			return -1
		}
		if v.s > other.s {
			return 1
		}
		return 0
	case KindJSON:
		return jsonCompare(v.j, other.j)
	}
	return 0
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindNumber:
		return v.n.String()
	case KindString:
		return v.s
	case KindJSON:
		return fmt.Sprintf("%v", v.j)
	default:
		return ""
	}
}

func jsonEqual(a, b any) bool {
	return jsonCanonical(a) == jsonCanonical(b)
}

func jsonCompare(a, b any) int {
	ca, cb := jsonCanonical(a), jsonCanonical(b)
	if ca < cb {
		return -1
	}
	if ca > cb {
		return 1
	}
	return 0
}
