// Package source implements the Source: an ordered, indexed, in-memory
// table that is the leaf of every operator graph. Its shape is grounded on
// controller/api/destination/watcher's NewEndpointsWatcher: one
// authoritative store, any number of independently-registered listeners
// (here, connections), and a typed Push that fans each mutation out to
// every listener before committing it to the authoritative store -- the
// same "inform, then commit" ordering that endpoints_watcher.go uses when
// it calls a listener's Add/Remove hooks from within the informer's own
// event handler.
package source

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/linkerd/ivmsync/change"
	"github.com/linkerd/ivmsync/filterexpr"
	"github.com/linkerd/ivmsync/ivmerr"
	"github.com/linkerd/ivmsync/operator"
	"github.com/linkerd/ivmsync/row"
	"github.com/linkerd/ivmsync/storage"
)

// MutationKind identifies which of the four Push operations is requested.
type MutationKind int

const (
	// Add inserts a new row; fails if a row with the same primary key
	// already exists.
	Add MutationKind = iota
	// Remove deletes a row by primary key; fails if no such row exists.
	Remove
	// Edit replaces the non-key columns of an existing row; fails if no
	// row with that primary key exists, and fails if the supplied row's
	// primary key columns differ from the existing row's (primary key
	// mutation is never permitted).
	Edit
	// Set upserts: Add semantics if the primary key is absent, Edit
	// semantics if present. Never fails on existence either way.
	Set
)

// Mutation is one call to Source.Push.
type Mutation struct {
	Kind MutationKind
	// Row is the full new row for Add/Edit/Set, or a row carrying at
	// least the primary key columns for Remove.
	Row row.Row
}

// Source is an ordered, indexed table. Every Connect call registers an
// independent view onto the same authoritative data under a possibly
// distinct sort, filter, and required-columns projection.
type Source struct {
	name   string
	pk     row.PrimaryKey
	limits row.Limits
	log    *logrus.Entry

	rows    *storage.Store // Key{pk...} -> row.Row, the authoritative table
	indexes map[string]*index
	conns   []*connection

	metrics Metrics
}

// Option configures a new Source.
type Option func(*Source)

// WithLimits overrides the JSON ingress bounds (row.DefaultLimits otherwise).
func WithLimits(l row.Limits) Option {
	return func(s *Source) { s.limits = l }
}

// WithLogger overrides the logger (the standard logrus logger otherwise).
func WithLogger(log *logrus.Entry) Option {
	return func(s *Source) { s.log = log }
}

// WithMetrics registers a Metrics sink (a no-op one otherwise).
func WithMetrics(m Metrics) Option {
	return func(s *Source) { s.metrics = m }
}

// New constructs an empty Source keyed by pk.
func New(name string, pk row.PrimaryKey, opts ...Option) *Source {
	s := &Source{
		name:    name,
		pk:      pk,
		limits:  row.DefaultLimits,
		log:     logrus.NewEntry(logrus.StandardLogger()).WithField("source", name),
		rows:    storage.New(),
		indexes: map[string]*index{},
		metrics: noopMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// index is a secondary, sort-specific ordering over the same rows,
// rebuilt in lockstep with the authoritative store on every Push. Multiple
// connections sharing a Sort share one index.
type index struct {
	sort  row.Sort
	store *storage.Store // sort.Key(row, pk) -> row.Row
}

func sortSignature(s row.Sort) string {
	sig := ""
	for _, c := range s {
		if c.Desc {
			sig += "-" + c.Column + ";"
		} else {
			sig += "+" + c.Column + ";"
		}
	}
	return sig
}

func (s *Source) indexFor(sort row.Sort) *index {
	sig := sortSignature(sort)
	if idx, ok := s.indexes[sig]; ok {
		return idx
	}
	idx := &index{sort: sort, store: storage.New()}
	s.rows.Ascend(func(_ storage.Key, v any) bool {
		r := v.(row.Row)
		idx.store.Set(toStorageKey(sort.Key(r, s.pk)), r)
		return true
	})
	s.indexes[sig] = idx
	return idx
}

func toStorageKey(vals []row.Value) storage.Key { return storage.Key(vals) }

// Connect registers a new, independent view onto the Source under sort,
// optionally restricted by filter and projected down to requiredColumns
// (plus the primary key and sort columns, always included). filter may be
// nil. requiredColumns may be nil, meaning "whatever the caller Fetches
// happens to read" is not restricted beyond the full row.
//
// filter's FullyColumnLocal() is checked: a Source only evaluates a fully
// column-local filter directly. A filter containing a correlated subquery
// fragment is still applied at the Simple/And/Or level it understands
// (CorrelatedSubquery.Eval conservatively returns true), and the caller is
// expected to attach an Exists/NotExists operator downstream that performs
// the actual semantics; this mirrors the original spec's "reports
// fullyAppliedFilters=false" signal, surfaced here as the returned bool.
func (s *Source) Connect(sort row.Sort, filter filterexpr.Expr, requiredColumns []string) (operator.Input, bool, error) {
	if len(sort) == 0 {
		sort = row.Sort{}
	}
	idx := s.indexFor(sort)
	c := &connection{
		source:          s,
		idx:             idx,
		filter:          filter,
		requiredColumns: requiredColumns,
	}
	s.conns = append(s.conns, c)
	fullyApplied := filter == nil || filter.FullyColumnLocal()
	return c, fullyApplied, nil
}

// Push applies one mutation, notifying every connection before committing
// the change to the authoritative store and every index -- connections
// not yet notified for this push observe pre-change state by construction
// (the store isn't mutated until every connection has seen the event);
// the connection currently being notified observes an overlay patch
// layered on top of the unmutated store (see connection.go).
func (s *Source) Push(m Mutation) error {
	if m.Row == nil {
		return ivmerr.NewInvariantViolation("source.Push", "mutation row is nil")
	}
	normalized, err := s.normalize(m.Row)
	if err != nil {
		return err
	}
	key := toStorageKey(s.pk.Values(normalized))
	existingAny, exists := s.rows.Get(key)
	var existing row.Row
	if exists {
		existing = existingAny.(row.Row)
	}

	kind := m.Kind
	if kind == Set {
		if exists {
			kind = Edit
		} else {
			kind = Add
		}
	}

	switch kind {
	case Add:
		if exists {
			return ivmerr.NewInvariantViolation("source.Push", "add of existing primary key %s", s.pk.String(normalized))
		}
		if err := s.pushAdd(normalized); err != nil {
			return err
		}
		s.commitAdd(key, normalized)
	case Remove:
		if !exists {
			return ivmerr.NewInvariantViolation("source.Push", "remove of missing primary key %s", s.pk.String(normalized))
		}
		if err := s.pushRemove(existing); err != nil {
			return err
		}
		s.commitRemove(key, existing)
	case Edit:
		if !exists {
			return ivmerr.NewInvariantViolation("source.Push", "edit of missing primary key %s", s.pk.String(normalized))
		}
		if !s.pk.Equal(existing, normalized) {
			return ivmerr.NewInvariantViolation("source.Push", "edit must not mutate primary key %s", s.pk.String(existing))
		}
		if err := s.pushEdit(existing, normalized); err != nil {
			return err
		}
		s.commitEdit(key, existing, normalized)
	default:
		return ivmerr.NewInvariantViolation("source.Push", "unknown mutation kind %d", kind)
	}
	s.metrics.ObservePush(kind)
	return nil
}

func (s *Source) normalize(r row.Row) (row.Row, error) {
	out := r.Clone()
	for col, v := range out {
		if jv, ok := v.AsJSON(); ok {
			if err := s.limits.Validate(jv); err != nil {
				return nil, fmt.Errorf("column %q: %w", col, err)
			}
		}
	}
	return out, nil
}

func (s *Source) pushAdd(newRow row.Row) error {
	for _, c := range s.conns {
		if !c.accepts(newRow) {
			continue
		}
		c.overlay = overlay{kind: overlayAdd, newRow: newRow}
		err := c.output.Push(change.NewAdd(change.Node{Row: newRow.Clone()}))
		c.overlay = overlay{}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Source) pushRemove(oldRow row.Row) error {
	for _, c := range s.conns {
		if !c.accepts(oldRow) {
			continue
		}
		c.overlay = overlay{kind: overlayRemove, oldRow: oldRow}
		err := c.output.Push(change.NewRemove(change.Node{Row: oldRow.Clone()}))
		c.overlay = overlay{}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Source) pushEdit(oldRow, newRow row.Row) error {
	for _, c := range s.conns {
		oldMatch := c.accepts(oldRow)
		newMatch := c.accepts(newRow)
		switch {
		case oldMatch && newMatch:
			c.overlay = overlay{kind: overlayEdit, oldRow: oldRow, newRow: newRow}
			err := c.output.Push(change.NewEdit(
				change.Node{Row: oldRow.Clone()},
				change.Node{Row: newRow.Clone()},
			))
			c.overlay = overlay{}
			if err != nil {
				return err
			}
		case oldMatch && !newMatch:
			// The edit moved this row out of the connection's filter: the
			// connection must see it leave.
			c.overlay = overlay{kind: overlayRemove, oldRow: oldRow}
			err := c.output.Push(change.NewRemove(change.Node{Row: oldRow.Clone()}))
			c.overlay = overlay{}
			if err != nil {
				return err
			}
		case !oldMatch && newMatch:
			// The edit moved this row into the connection's filter: split
			// into an add, since the connection never saw the prior state.
			c.overlay = overlay{kind: overlayAdd, newRow: newRow}
			err := c.output.Push(change.NewAdd(change.Node{Row: newRow.Clone()}))
			c.overlay = overlay{}
			if err != nil {
				return err
			}
		default:
			// Neither state matched; the connection never had this row.
		}
	}
	return nil
}

func (s *Source) commitAdd(key storage.Key, r row.Row) {
	s.rows.Set(key, r)
	for _, idx := range s.indexes {
		idx.store.Set(toStorageKey(idx.sort.Key(r, s.pk)), r)
	}
}

func (s *Source) commitRemove(key storage.Key, r row.Row) {
	s.rows.Delete(key)
	for _, idx := range s.indexes {
		idx.store.Delete(toStorageKey(idx.sort.Key(r, s.pk)))
	}
}

func (s *Source) commitEdit(key storage.Key, old, updated row.Row) {
	s.rows.Set(key, updated)
	for _, idx := range s.indexes {
		oldIdxKey := toStorageKey(idx.sort.Key(old, s.pk))
		newIdxKey := toStorageKey(idx.sort.Key(updated, s.pk))
		if !equalStorageKeys(oldIdxKey, newIdxKey) {
			idx.store.Delete(oldIdxKey)
		}
		idx.store.Set(newIdxKey, updated)
	}
}

func equalStorageKeys(a, b storage.Key) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) && !(a[i].IsNull() && b[i].IsNull()) {
			return false
		}
	}
	return true
}

// Len reports the number of rows currently in the authoritative store.
func (s *Source) Len() int { return s.rows.Len() }

// Get returns the current row identified by the primary key columns of
// pkValues, or ok=false if no such row exists. Used by the poke merger's
// RowsTarget adapter to read a row's current state before applying an
// `update` op's merge patch.
func (s *Source) Get(pkValues row.Row) (row.Row, bool) {
	v, ok := s.rows.Get(toStorageKey(s.pk.Values(pkValues)))
	if !ok {
		return nil, false
	}
	return v.(row.Row), true
}

// Clear removes every row, pushing a Remove to every connection for each
// one first. Used by the poke merger's RowsTarget adapter to implement a
// rowsPatch `clear` op, which per spec.md §6 discards the entire table,
// not just the ops accumulated in the same flush batch.
func (s *Source) Clear() error {
	var existing []row.Row
	s.rows.Ascend(func(_ storage.Key, v any) bool {
		existing = append(existing, v.(row.Row))
		return true
	})
	for _, r := range existing {
		if err := s.Push(Mutation{Kind: Remove, Row: r}); err != nil {
			return err
		}
	}
	return nil
}

func (c *connection) accepts(r row.Row) bool {
	if c.filter == nil {
		return true
	}
	return c.filter.Eval(change.Node{Row: r})
}
