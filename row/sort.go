package row

// SortColumn is one column of a compound sort order, tagged ascending or
// descending.
type SortColumn struct {
	Column string
	Desc   bool
}

// Sort is a compound sort order: a sequence of SortColumn, always tie-
// broken by the owning operator's primary key (appended implicitly by
// Key, never by the caller).
type Sort []SortColumn

// Columns returns the bare column names of s, in order.
func (s Sort) Columns() []string {
	out := make([]string, len(s))
	for i, c := range s {
		out[i] = c.Column
	}
	return out
}

// CompareRows compares a and b under s, tie-broken by pk ascending.
func (s Sort) CompareRows(a, b Row, pk PrimaryKey) int {
	for _, c := range s {
		cmp := a.Get(c.Column).Compare(b.Get(c.Column))
		if cmp == 0 {
			continue
		}
		if c.Desc {
			return -cmp
		}
		return cmp
	}
	for _, c := range pk {
		cmp := a.Get(c).Compare(b.Get(c))
		if cmp != 0 {
			return cmp
		}
	}
	return 0
}

// Key computes the ordered key tuple for row r under sort s with primary
// key pk: the sort column values (direction-adjusted is NOT applied here —
// direction is a comparison-time concern, not an encoding-time one, since
// Key values are compared with Sort.CompareKeys, not bytewise) followed by
// the PK values as the final tie-breaker.
func (s Sort) Key(r Row, pk PrimaryKey) []Value {
	out := make([]Value, 0, len(s)+len(pk))
	for _, c := range s {
		out = append(out, r.Get(c.Column))
	}
	out = append(out, pk.Values(r)...)
	return out
}

// CompareKeys compares two key tuples produced by Key, honoring the
// per-column direction of s (PK suffix columns are always ascending).
func (s Sort) CompareKeys(a, b []Value) int {
	for i := range s {
		if i >= len(a) || i >= len(b) {
			break
		}
		cmp := a[i].Compare(b[i])
		if cmp == 0 {
			continue
		}
		if s[i].Desc {
			return -cmp
		}
		return cmp
	}
	// PK suffix, always ascending.
	for i := len(s); i < len(a) && i < len(b); i++ {
		cmp := a[i].Compare(b[i])
		if cmp != 0 {
			return cmp
		}
	}
	return 0
}
