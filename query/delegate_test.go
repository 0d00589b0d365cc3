package query_test

import (
	"testing"

	"github.com/linkerd/ivmsync/query"
	"github.com/linkerd/ivmsync/row"
	"github.com/linkerd/ivmsync/source"
)

func widget(id int64, name string, active bool) row.Row {
	return row.Row{
		"id":     row.NumberFromInt(id),
		"name":   row.String(name),
		"active": row.Bool(active),
	}
}

func newWidgetsSource() *source.Source {
	s := source.New("widgets", row.PrimaryKey{"id"})
	s.Push(source.Mutation{Kind: source.Add, Row: widget(1, "a", true)})
	s.Push(source.Mutation{Kind: source.Add, Row: widget(2, "b", false)})
	s.Push(source.Mutation{Kind: source.Add, Row: widget(3, "c", true)})
	return s
}

func TestMaterializeSimpleFilter(t *testing.T) {
	tables := query.NewTableRegistry()
	tables.Register("widgets", newWidgetsSource())
	d := query.NewDelegate(tables, nil, nil)

	ast := &query.AST{
		Table: "widgets",
		Where: &query.Condition{
			Kind:    query.Compare,
			Column:  "active",
			Op:      query.Eq,
			Literal: row.Bool(true),
		},
		OrderBy: row.Sort{{Column: "id"}},
	}
	v, err := d.Materialize(ast)
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	rows := v.Rows()
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if name, _ := rows[0].Get("name").AsString(); name != "a" {
		t.Fatalf("got first row name %q, want %q", name, "a")
	}
}

func TestMaterializeLimit(t *testing.T) {
	tables := query.NewTableRegistry()
	tables.Register("widgets", newWidgetsSource())
	d := query.NewDelegate(tables, nil, nil)

	limit := 1
	ast := &query.AST{
		Table:   "widgets",
		OrderBy: row.Sort{{Column: "id"}},
		Limit:   &limit,
	}
	v, err := d.Materialize(ast)
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if len(v.Rows()) != 1 {
		t.Fatalf("got %d rows, want 1", len(v.Rows()))
	}
}

func TestMaterializeRelatedJoin(t *testing.T) {
	tables := query.NewTableRegistry()
	tables.Register("widgets", newWidgetsSource())

	gadgets := source.New("gadgets", row.PrimaryKey{"id"})
	gadgets.Push(source.Mutation{Kind: source.Add, Row: row.Row{
		"id":        row.NumberFromInt(100),
		"widget_id": row.NumberFromInt(1),
		"label":     row.String("g1"),
	}})
	tables.Register("gadgets", gadgets)

	d := query.NewDelegate(tables, nil, nil)
	ast := &query.AST{
		Table:   "widgets",
		OrderBy: row.Sort{{Column: "id"}},
		Related: []query.Related{{
			System: "gadgets",
			Correlation: query.Correlation{
				ParentField: "id",
				ChildField:  "widget_id",
			},
			Op: query.RelatedJoin,
			Subquery: &query.AST{
				Table:   "gadgets",
				OrderBy: row.Sort{{Column: "id"}},
			},
		}},
	}
	v, err := d.Materialize(ast)
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if len(v.Rows()) != 3 {
		t.Fatalf("got %d rows, want 3", len(v.Rows()))
	}
}

func TestMaterializeExistsFilter(t *testing.T) {
	tables := query.NewTableRegistry()
	tables.Register("widgets", newWidgetsSource())

	gadgets := source.New("gadgets", row.PrimaryKey{"id"})
	gadgets.Push(source.Mutation{Kind: source.Add, Row: row.Row{
		"id":        row.NumberFromInt(100),
		"widget_id": row.NumberFromInt(2),
	}})
	tables.Register("gadgets", gadgets)

	d := query.NewDelegate(tables, nil, nil)
	ast := &query.AST{
		Table:   "widgets",
		OrderBy: row.Sort{{Column: "id"}},
		Where: &query.Condition{
			Kind:     query.ExistsCond,
			Relation: "gadgets",
		},
		Related: []query.Related{{
			System: "gadgets",
			Correlation: query.Correlation{
				ParentField: "id",
				ChildField:  "widget_id",
			},
			Op:       query.RelatedExists,
			Hidden:   true,
			Subquery: &query.AST{Table: "gadgets"},
		}},
	}
	v, err := d.Materialize(ast)
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	rows := v.Rows()
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if id, _ := rows[0].Get("id").AsNumber(); id.IntPart() != 2 {
		t.Fatalf("got widget id %v, want 2", id)
	}
}

func TestMaterializeUnknownTable(t *testing.T) {
	tables := query.NewTableRegistry()
	d := query.NewDelegate(tables, nil, nil)
	_, err := d.Materialize(&query.AST{Table: "nope"})
	if err == nil {
		t.Fatal("expected an error for an unregistered table")
	}
}

func TestRowsAdapterAppliesPutAndClearAll(t *testing.T) {
	tables := query.NewTableRegistry()
	s := newWidgetsSource()
	tables.Register("widgets", s)
	adapter := query.NewRowsAdapter(tables)

	if err := adapter.Put("widgets", widget(4, "d", true)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, ok, _ := adapter.Get("widgets", row.Row{"id": row.NumberFromInt(4)}); !ok {
		t.Fatal("expected row 4 to be present after Put")
	}
	if err := adapter.ClearAll(); err != nil {
		t.Fatalf("clear all: %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("got %d rows after ClearAll, want 0", s.Len())
	}
}
