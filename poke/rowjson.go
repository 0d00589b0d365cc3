package poke

import (
	"bytes"
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch"
	"github.com/shopspring/decimal"

	"github.com/linkerd/ivmsync/row"
)

// rowToJSON renders r as a JSON object, the representation a rowsPatch
// `update` op's merge document is applied against.
func rowToJSON(r row.Row) ([]byte, error) {
	out := make(map[string]any, len(r))
	for col, v := range r {
		av, err := valueToAny(v)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col, err)
		}
		out[col] = av
	}
	return json.Marshal(out)
}

// jsonToRow is the inverse of rowToJSON. Numbers are decoded with
// json.Number so a decimal round-trips exactly, matching row.Value's own
// exact-decimal number representation.
func jsonToRow(data []byte) (row.Row, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	out := make(row.Row, len(m))
	for col, v := range m {
		val, err := anyToValue(v)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col, err)
		}
		out[col] = val
	}
	return out, nil
}

func valueToAny(v row.Value) (any, error) {
	switch v.Kind() {
	case row.KindNull:
		return nil, nil
	case row.KindBool:
		b, _ := v.AsBool()
		return b, nil
	case row.KindNumber:
		n, _ := v.AsNumber()
		return json.Number(n.String()), nil
	case row.KindString:
		s, _ := v.AsString()
		return s, nil
	case row.KindJSON:
		j, _ := v.AsJSON()
		return j, nil
	default:
		return nil, fmt.Errorf("unknown value kind %v", v.Kind())
	}
}

func anyToValue(v any) (row.Value, error) {
	switch t := v.(type) {
	case nil:
		return row.Null(), nil
	case bool:
		return row.Bool(t), nil
	case json.Number:
		d, err := decimal.NewFromString(string(t))
		if err != nil {
			return row.Value{}, err
		}
		return row.Number(d), nil
	case string:
		return row.String(t), nil
	default:
		return row.JSON(t), nil
	}
}

// applyMergePatch applies an RFC 7396 JSON merge-patch document to row r
// and decodes the result back into a row.Row, used for rowsPatch `update`
// ops (spec.md §6).
func applyMergePatch(r row.Row, merge json.RawMessage) (row.Row, error) {
	original, err := rowToJSON(r)
	if err != nil {
		return nil, err
	}
	merged, err := jsonpatch.MergePatch(original, merge)
	if err != nil {
		return nil, fmt.Errorf("applying merge patch: %w", err)
	}
	return jsonToRow(merged)
}
