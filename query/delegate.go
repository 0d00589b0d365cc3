package query

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/linkerd/ivmsync/filterexpr"
	"github.com/linkerd/ivmsync/operator"
	"github.com/linkerd/ivmsync/poke"
	"github.com/linkerd/ivmsync/row"
	"github.com/linkerd/ivmsync/source"
	"github.com/linkerd/ivmsync/view"
)

// TableRegistry maps a table name to the Source backing it, shared
// between Delegate (which Connects a fresh operator chain per AST) and
// RowsAdapter (which applies poke rowsPatch ops against that same
// authoritative data).
type TableRegistry struct {
	sources map[string]*source.Source
}

// NewTableRegistry returns an empty registry.
func NewTableRegistry() *TableRegistry {
	return &TableRegistry{sources: map[string]*source.Source{}}
}

// Register associates table with s. A later Register under the same name
// replaces the prior association.
func (r *TableRegistry) Register(table string, s *source.Source) {
	r.sources[table] = s
}

// Source looks up the Source registered for table.
func (r *TableRegistry) Source(table string) (*source.Source, bool) {
	s, ok := r.sources[table]
	return s, ok
}

func (r *TableRegistry) tableNames() []string {
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	return names
}

// RowsAdapter implements poke.RowsTarget over a TableRegistry: every
// rowsPatch op (spec.md §6) is applied against the Source that owns its
// named table, and every View built by a Delegate off that same registry
// is attached here so a poke flush's Batch nests each view's own Batch
// around the merged patch, suppressing every affected view's commit
// notification until the whole patch has applied and firing each exactly
// once.
type RowsAdapter struct {
	tables *TableRegistry
	views  []*view.View
}

// NewRowsAdapter wraps tables. Views materialized by a Delegate sharing
// the same registry should be attached with AttachView so their commits
// batch together with this adapter's poke flushes.
func NewRowsAdapter(tables *TableRegistry) *RowsAdapter {
	return &RowsAdapter{tables: tables}
}

// AttachView registers v so future Batch calls wrap its notifications.
func (a *RowsAdapter) AttachView(v *view.View) {
	a.views = append(a.views, v)
}

// Batch implements poke.RowsTarget.
func (a *RowsAdapter) Batch(fn func() error) error {
	wrapped := fn
	for _, v := range a.views {
		v := v
		next := wrapped
		wrapped = func() error { return v.Batch(next) }
	}
	return wrapped()
}

func (a *RowsAdapter) resolve(tableName string) (*source.Source, error) {
	s, ok := a.tables.Source(tableName)
	if !ok {
		return nil, fmt.Errorf("query: rowsPatch op references unknown table %q", tableName)
	}
	return s, nil
}

// Get implements poke.RowsTarget.
func (a *RowsAdapter) Get(tableName string, id row.Row) (row.Row, bool, error) {
	s, err := a.resolve(tableName)
	if err != nil {
		return nil, false, err
	}
	r, ok := s.Get(id)
	return r, ok, nil
}

// Put implements poke.RowsTarget.
func (a *RowsAdapter) Put(tableName string, value row.Row) error {
	s, err := a.resolve(tableName)
	if err != nil {
		return err
	}
	return s.Push(source.Mutation{Kind: source.Set, Row: value})
}

// Update implements poke.RowsTarget. merged is the already merge-patched
// row; Source.Push with Edit applies it wholesale.
func (a *RowsAdapter) Update(tableName string, id row.Row, merged row.Row) error {
	s, err := a.resolve(tableName)
	if err != nil {
		return err
	}
	return s.Push(source.Mutation{Kind: source.Edit, Row: merged})
}

// Del implements poke.RowsTarget.
func (a *RowsAdapter) Del(tableName string, id row.Row) error {
	s, err := a.resolve(tableName)
	if err != nil {
		return err
	}
	return s.Push(source.Mutation{Kind: source.Remove, Row: id})
}

// ClearAll implements poke.RowsTarget.
func (a *RowsAdapter) ClearAll() error {
	for _, name := range a.tables.tableNames() {
		s, ok := a.tables.Source(name)
		if !ok {
			continue
		}
		if err := s.Clear(); err != nil {
			return err
		}
	}
	return nil
}

// Delegate compiles a query.AST into a live operator chain and a
// materialized View, per spec.md §2's "query delegate" and §4/§6's AST
// shape. Grounded on controller/cmd/destination/main.go's wiring of one
// EndpointsWatcher into one gRPC server, generalized here to one AST into
// one operator chain into one View.
type Delegate struct {
	tables *TableRegistry
	rows   *RowsAdapter
	log    *logrus.Entry
}

// NewDelegate constructs a Delegate over tables. If rows is non-nil,
// every View this Delegate materializes is also attached to rows, so a
// poke merger backed by the same RowsAdapter delivers its flushes as one
// atomic commit per affected view.
func NewDelegate(tables *TableRegistry, rows *RowsAdapter, log *logrus.Entry) *Delegate {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Delegate{tables: tables, rows: rows, log: log}
}

// Materialize compiles ast into an operator chain and returns the live
// View produced by running its initial Fetch.
func (d *Delegate) Materialize(ast *AST) (*view.View, error) {
	input, err := d.build(ast)
	if err != nil {
		return nil, err
	}
	cardinality := view.Array
	if ast.Scalar {
		cardinality = view.Singular
	}
	v := view.New(input, cardinality, d.log)
	if err := v.Materialize(input); err != nil {
		return nil, err
	}
	if d.rows != nil {
		d.rows.AttachView(v)
	}
	return v, nil
}

// build compiles one AST node (the root or a Related.Subquery) into an
// operator.Input: Source.Connect for the push-down-able filter, then an
// Exists/NotExists chain or FanOut/FanIn graph for whatever the source
// couldn't fully apply, then a Join per non-hidden materialized relation,
// then Take for limit.
func (d *Delegate) build(ast *AST) (operator.Input, error) {
	s, ok := d.tables.Source(ast.Table)
	if !ok {
		return nil, fmt.Errorf("query: AST references unknown table %q", ast.Table)
	}
	filter, err := compileCondition(ast.Where)
	if err != nil {
		return nil, err
	}
	base, fullyApplied, err := s.Connect(ast.OrderBy, filter, nil)
	if err != nil {
		return nil, err
	}
	input := base
	if !fullyApplied && ast.Where != nil {
		if ast.Where.Kind == Or {
			input, err = d.buildOrGraph(base, ast)
		} else {
			input, err = d.attachExistsChain(base, ast.Where, ast.Related)
		}
		if err != nil {
			return nil, err
		}
	}
	for i := range ast.Related {
		rel := ast.Related[i]
		if rel.Op != RelatedJoin || rel.Hidden {
			// RelatedExists/RelatedNotExists fragments were already consumed
			// above by attachExistsChain/buildOrGraph; they never appear as
			// materialized output. Hidden relations are not joined.
			continue
		}
		child, err := d.build(rel.Subquery)
		if err != nil {
			return nil, err
		}
		pcols, ccols := correlationColumns(rel.Correlation)
		input = operator.NewJoin(input, child, rel.System, pcols, ccols)
	}
	if ast.Limit != nil {
		input = operator.NewTake(input, *ast.Limit)
	}
	return input, nil
}

func correlationColumns(c Correlation) ([]string, []string) {
	return []string{c.ParentField}, []string{c.ChildField}
}

// attachExistsChain wraps base with one operator.Exists/NotExists per
// correlated-subquery fragment found in cond (an AND composition of
// fragments and/or plain compares; a top-level Or is handled separately
// by buildOrGraph). Each fragment's Relation must name a sibling Related
// entry in related.
func (d *Delegate) attachExistsChain(base operator.Input, cond *Condition, related []Related) (operator.Input, error) {
	fragments := collectExistsFragments(cond)
	input := base
	for _, frag := range fragments {
		rel, ok := findRelated(related, frag.Relation)
		if !ok {
			return nil, fmt.Errorf("query: exists fragment references unknown relation %q", frag.Relation)
		}
		child, err := d.build(rel.Subquery)
		if err != nil {
			return nil, err
		}
		pcols, ccols := correlationColumns(rel.Correlation)
		kind := filterexpr.Exists
		if frag.Kind == NotExistsCond {
			kind = filterexpr.NotExists
		}
		input = operator.NewExists(input, child, kind, pcols, ccols)
	}
	return input, nil
}

func collectExistsFragments(cond *Condition) []*Condition {
	if cond == nil {
		return nil
	}
	switch cond.Kind {
	case ExistsCond, NotExistsCond:
		return []*Condition{cond}
	case And:
		var out []*Condition
		for i := range cond.Children {
			out = append(out, collectExistsFragments(&cond.Children[i])...)
		}
		return out
	default:
		return nil
	}
}

func findRelated(related []Related, system string) (Related, bool) {
	for _, r := range related {
		if r.System == system {
			return r, true
		}
	}
	return Related{}, false
}

// buildOrGraph compiles a top-level Or condition into a FanOut/FanIn
// graph, one branch per disjunct: each branch re-filters its tap for its
// own column-local comparisons (the source already pushed down whatever
// was common to every branch, nothing here since Or defeats that) and
// attaches its own Exists/NotExists chain, same as the AND case.
//
// This supports the common single-level case -- a disjunction of
// compares and/or single Exists/NotExists fragments per branch. Nested
// Or-of-Or, or a branch needing more than one Exists fragment composed
// with further disjunction, is out of scope for this compiler.
func (d *Delegate) buildOrGraph(base operator.Input, ast *AST) (operator.Input, error) {
	branches := ast.Where.Children
	fanOut := operator.NewFanOut(base, len(branches))
	taps := fanOut.Taps()
	branchInputs := make([]operator.Input, len(branches))
	for i := range branches {
		branch := branches[i]
		head := operator.FilterStart(taps[i])
		in := head
		localFilter, err := compileCondition(&branch)
		if err != nil {
			return nil, err
		}
		if localFilter != nil {
			in = operator.NewFilter(in, localFilter)
		}
		in, err = d.attachExistsChain(in, &branch, ast.Related)
		if err != nil {
			return nil, err
		}
		branchInputs[i] = operator.FilterEnd(in)
	}
	fanIn := operator.NewFanIn(branchInputs, base.PrimaryKey(), base.Sort())
	fanOut.SetFanIn(fanIn)
	return fanIn, nil
}

// compileCondition translates a query.Condition tree into a
// filterexpr.Expr. Exists/NotExists leaves compile to a
// filterexpr.CorrelatedSubquery stand-in, which evaluates as true and makes
// the Source report fullyApplied=false; the actual filtering for those
// fragments is done by the operators attachExistsChain/buildOrGraph add.
func compileCondition(cond *Condition) (filterexpr.Expr, error) {
	if cond == nil {
		return nil, nil
	}
	switch cond.Kind {
	case Compare:
		return filterexpr.Simple{
			Column:   cond.Column,
			Op:       compileOp(cond.Op),
			Literal:  cond.Literal,
			Literals: cond.Literals,
		}, nil
	case And:
		var exprs filterexpr.And
		for i := range cond.Children {
			e, err := compileCondition(&cond.Children[i])
			if err != nil {
				return nil, err
			}
			if e != nil {
				exprs = append(exprs, e)
			}
		}
		return exprs, nil
	case Or:
		var exprs filterexpr.Or
		for i := range cond.Children {
			e, err := compileCondition(&cond.Children[i])
			if err != nil {
				return nil, err
			}
			if e != nil {
				exprs = append(exprs, e)
			}
		}
		return exprs, nil
	case ExistsCond:
		return filterexpr.CorrelatedSubquery{Kind: filterexpr.Exists, Relation: cond.Relation}, nil
	case NotExistsCond:
		return filterexpr.CorrelatedSubquery{Kind: filterexpr.NotExists, Relation: cond.Relation}, nil
	default:
		return nil, fmt.Errorf("query: unknown condition kind %d", cond.Kind)
	}
}

func compileOp(op CompareOp) filterexpr.Op {
	switch op {
	case Eq:
		return filterexpr.Eq
	case Neq:
		return filterexpr.Neq
	case Lt:
		return filterexpr.Lt
	case Lte:
		return filterexpr.Lte
	case Gt:
		return filterexpr.Gt
	case Gte:
		return filterexpr.Gte
	case Is:
		return filterexpr.Is
	case IsNot:
		return filterexpr.IsNot
	case In:
		return filterexpr.In
	case Like:
		return filterexpr.Like
	default:
		return filterexpr.Eq
	}
}

var _ poke.RowsTarget = (*RowsAdapter)(nil)
var _ poke.QueriesTarget = (*QueriesAdapter)(nil)
