package row

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Limits bounds the shape of a JSON sub-document accepted into a column.
// spec.md §9 leaves this an open question for implementers; these are the
// bounds this engine enforces at source ingress (see DESIGN.md).
type Limits struct {
	MaxDepth    int
	MaxElements int
}

// DefaultLimits is the bound applied by Source.Push when no override is
// configured.
var DefaultLimits = Limits{MaxDepth: 32, MaxElements: 4096}

// Validate walks v and returns an error if it exceeds the configured
// depth or element-count bounds. Maps, slices, and scalars are all
// accepted; anything else (e.g. a channel or func smuggled in through a
// caller-constructed any) is rejected outright.
func (l Limits) Validate(v any) error {
	count := 0
	var walk func(v any, depth int) error
	walk = func(v any, depth int) error {
		count++
		if count > l.MaxElements {
			return fmt.Errorf("json value exceeds %d elements", l.MaxElements)
		}
		if depth > l.MaxDepth {
			return fmt.Errorf("json value exceeds depth %d", l.MaxDepth)
		}
		switch t := v.(type) {
		case nil, bool, string, float64, int, int64, json.Number:
			return nil
		case map[string]any:
			for _, vv := range t {
				if err := walk(vv, depth+1); err != nil {
					return err
				}
			}
			return nil
		case []any:
			for _, vv := range t {
				if err := walk(vv, depth+1); err != nil {
					return err
				}
			}
			return nil
		default:
			return fmt.Errorf("unsupported json value type %T", v)
		}
	}
	return walk(v, 0)
}

// jsonCanonical renders v as a canonical string for equality/ordering
// purposes: object keys sorted, no extraneous whitespace.
func jsonCanonical(v any) string {
	var b []byte
	b = appendCanonical(b, v)
	return string(b)
}

func appendCanonical(b []byte, v any) []byte {
	switch t := v.(type) {
	case nil:
		return append(b, "null"...)
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b = append(b, '{')
		for i, k := range keys {
			if i > 0 {
				b = append(b, ',')
			}
			kb, _ := json.Marshal(k)
			b = append(b, kb...)
			b = append(b, ':')
			b = appendCanonical(b, t[k])
		}
		return append(b, '}')
	case []any:
		b = append(b, '[')
		for i, vv := range t {
			if i > 0 {
				b = append(b, ',')
			}
			b = appendCanonical(b, vv)
		}
		return append(b, ']')
	default:
		encoded, err := json.Marshal(t)
		if err != nil {
			return append(b, fmt.Sprintf("%v", t)...)
		}
		return append(b, encoded...)
	}
}
