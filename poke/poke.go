// Package poke implements the poke merger: the start/part/end protocol
// that buffers multi-part change batches tagged by cookies, flushes them
// on the next cooperative tick merged into one atomic patch, and tracks
// per-client last-mutation-ids (spec.md §4.8).
//
// Grounded on destinationUpdateQueue (update_queue.go): a single-producer
// buffer drained by a trigger external to the producer, generalized from
// "one gRPC Send per buffered item" to "merge every buffered poke into one
// atomic apply."
package poke

import (
	"github.com/imdario/mergo"
	"github.com/sirupsen/logrus"

	"github.com/linkerd/ivmsync/ivmerr"
	"github.com/linkerd/ivmsync/row"
)

// State is the merger's current protocol state.
type State int

const (
	Idle State = iota
	Receiving
)

// pending accumulates one in-progress poke's parts between Start and End.
type pending struct {
	pokeID          string
	baseCookie      string
	lastMutationIDs map[string]int64
	rowOps          []RowOp
	queryOps        []QueryOp
	clientOps       []ClientOp
}

// completed is one fully-received poke, ready to be merged at the next
// flush.
type completed struct {
	baseCookie      string
	endCookie       string
	lastMutationIDs map[string]int64
	rowOps          []RowOp
	queryOps        []QueryOp
	clientOps       []ClientOp
}

// Merger implements the poke protocol state machine.
type Merger struct {
	log           *logrus.Entry
	scheduler     Scheduler
	rows          RowsTarget
	queries       QueriesTarget
	clients       ClientsTarget
	mapper        NameMapper
	onPokeError   func(error)
	localClientID string

	state        State
	current      *pending
	buffered     []completed
	flushPending bool
	lastCookie   string
	lmids        map[string]int64
}

// Option configures a new Merger.
type Option func(*Merger)

func WithLogger(log *logrus.Entry) Option { return func(m *Merger) { m.log = log } }

func WithQueriesTarget(t QueriesTarget) Option { return func(m *Merger) { m.queries = t } }

func WithClientsTarget(t ClientsTarget) Option { return func(m *Merger) { m.clients = t } }

func WithNameMapper(mapper NameMapper) Option { return func(m *Merger) { m.mapper = mapper } }

// WithLocalClientID sets the client ID whose last-mutation-id changes
// Part() returns synchronously, per spec.md §4.8's "Per-part ... the
// merger returns that value for synchronous upstream tracking."
func WithLocalClientID(id string) Option { return func(m *Merger) { m.localClientID = id } }

// NewMerger constructs a Merger. initialCookie seeds contiguity checking
// for the very first poke ever applied; rows is the atomic delivery
// target for merged rowsPatch ops and onPokeError is invoked (possibly
// concurrently with a later Start, since the protocol returns to Idle
// immediately after) whenever buffered/in-progress state is cleared due
// to a protocol violation.
func NewMerger(scheduler Scheduler, rows RowsTarget, initialCookie string, onPokeError func(error), opts ...Option) *Merger {
	m := &Merger{
		log:         logrus.NewEntry(logrus.StandardLogger()).WithField("component", "poke-merger"),
		scheduler:   scheduler,
		rows:        rows,
		mapper:      IdentityNameMapper{},
		onPokeError: onPokeError,
		lastCookie:  initialCookie,
		lmids:       map[string]int64{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins a new poke. Calling Start while already receiving one is a
// protocol error: all buffered and in-progress state is cleared.
func (m *Merger) Start(pokeID, baseCookie string) {
	if m.state == Receiving {
		m.protocolError(ivmerr.NewPokeProtocolError("start received for %q while poke %q is still in progress", pokeID, m.current.pokeID))
		return
	}
	m.state = Receiving
	m.current = &pending{pokeID: pokeID, baseCookie: baseCookie, lastMutationIDs: map[string]int64{}}
}

// Part appends one pokePart's ops to the in-progress poke. If the part
// carries a last-mutation-id change for the configured local client ID,
// that value is returned for synchronous upstream tracking
// (spec.md §4.8); ok is false otherwise.
func (m *Merger) Part(pokeID string, lastMutationIDChanges map[string]int64, rowOps []RowOp, queryOps []QueryOp, clientOps []ClientOp) (localLMID int64, ok bool) {
	if m.state != Receiving || m.current.pokeID != pokeID {
		m.protocolError(ivmerr.NewPokeProtocolError("part received for %q, expected %q", pokeID, m.currentID()))
		return 0, false
	}
	for clientID, lmid := range lastMutationIDChanges {
		m.current.lastMutationIDs[clientID] = lmid
		if m.localClientID != "" && clientID == m.localClientID {
			localLMID, ok = lmid, true
		}
	}
	m.current.rowOps = append(m.current.rowOps, rowOps...)
	m.current.queryOps = append(m.current.queryOps, queryOps...)
	m.current.clientOps = append(m.current.clientOps, clientOps...)
	return localLMID, ok
}

// End completes the in-progress poke. If cancel is true, the poke is
// dropped without buffering it for a future flush. Otherwise it is
// appended to the buffer and a flush is scheduled if none is already
// pending. Mismatched pokeID is a protocol error: all state is cleared.
func (m *Merger) End(pokeID, cookie string, cancel bool) {
	if m.state != Receiving || m.current.pokeID != pokeID {
		m.protocolError(ivmerr.NewPokeProtocolError("end received for %q, expected %q", pokeID, m.currentID()))
		return
	}
	cur := m.current
	m.current = nil
	m.state = Idle
	if cancel {
		return
	}
	m.buffered = append(m.buffered, completed{
		baseCookie:      cur.baseCookie,
		endCookie:       cookie,
		lastMutationIDs: cur.lastMutationIDs,
		rowOps:          cur.rowOps,
		queryOps:        cur.queryOps,
		clientOps:       cur.clientOps,
	})
	if !m.flushPending {
		m.flushPending = true
		m.scheduler.Schedule(m.flush)
	}
}

// LastMutationID returns the most recently merged last-mutation-id for
// clientID, as tracked across every applied flush.
func (m *Merger) LastMutationID(clientID string) (int64, bool) {
	v, ok := m.lmids[clientID]
	return v, ok
}

func (m *Merger) currentID() string {
	if m.current == nil {
		return "<none>"
	}
	return m.current.pokeID
}

// protocolError clears all buffered and in-progress state and reports err
// via onPokeError (spec.md §7).
func (m *Merger) protocolError(err error) {
	m.state = Idle
	m.current = nil
	m.buffered = nil
	m.flushPending = false
	m.log.WithError(err).Warn("poke protocol error, clearing state")
	if m.onPokeError != nil {
		m.onPokeError(err)
	}
}

// flush merges every buffered poke and delivers the result atomically to
// the RowsTarget, the QueriesTarget and the ClientsTarget.
func (m *Merger) flush() {
	batch := m.buffered
	m.buffered = nil
	m.flushPending = false
	if len(batch) == 0 {
		return
	}

	prevCookie := m.lastCookie
	for _, p := range batch {
		if p.baseCookie != prevCookie {
			m.protocolError(ivmerr.NewPokeProtocolError("cookie gap: poke baseCookie %q does not follow %q", p.baseCookie, prevCookie))
			return
		}
		prevCookie = p.endCookie
	}

	var rowOps []RowOp
	var queryOps []QueryOp
	var clientOps []ClientOp
	for _, p := range batch {
		if len(p.lastMutationIDs) > 0 {
			if err := mergo.Merge(&m.lmids, p.lastMutationIDs, mergo.WithOverride); err != nil {
				m.protocolError(ivmerr.NewPokeProtocolError("merging last-mutation-ids: %s", err))
				return
			}
		}
		rowOps = append(rowOps, p.rowOps...)
		queryOps = append(queryOps, p.queryOps...)
		clientOps = append(clientOps, p.clientOps...)
	}

	clearedRows, rowOps := collapseRowOps(rowOps)
	_, queryOps = collapseQueryOps(queryOps)
	_, clientOps = collapseClientOps(clientOps)

	err := m.rows.Batch(func() error {
		if clearedRows {
			if err := m.rows.ClearAll(); err != nil {
				return err
			}
		}
		for _, op := range rowOps {
			if err := m.applyRowOp(op); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		m.protocolError(ivmerr.NewPokeProtocolError("view adapter rejected merged patch: %s", err))
		return
	}

	if m.queries != nil {
		for _, op := range queryOps {
			if err := m.applyQueryOp(op); err != nil {
				m.protocolError(ivmerr.NewPokeProtocolError("queries adapter rejected merged patch: %s", err))
				return
			}
		}
	}
	if m.clients != nil {
		for _, op := range clientOps {
			if err := m.applyClientOp(op); err != nil {
				m.protocolError(ivmerr.NewPokeProtocolError("clients adapter rejected merged patch: %s", err))
				return
			}
		}
	}

	m.lastCookie = batch[len(batch)-1].endCookie
}

func (m *Merger) applyRowOp(op RowOp) error {
	table := m.mapper.ServerTable(op.TableName)
	switch op.Kind {
	case RowPut:
		return m.rows.Put(table, m.mapRowColumns(table, op.Value))
	case RowDel:
		return m.rows.Del(table, m.mapRowColumns(table, op.ID))
	case RowUpdate:
		id := m.mapRowColumns(table, op.ID)
		existing, ok, err := m.rows.Get(table, id)
		if err != nil {
			return err
		}
		if !ok {
			return ivmerr.NewInvariantViolation("poke.applyRowOp", "update of missing row in table %q", table)
		}
		if len(op.Constrain) > 0 && !matchesConstraint(existing, op.Constrain) {
			m.log.WithField("table", table).Debug("update skipped: constraint mismatch")
			return nil
		}
		merged, err := applyMergePatch(existing, op.Merge)
		if err != nil {
			return err
		}
		return m.rows.Update(table, id, merged)
	case RowClear:
		return nil // handled as a batch-wide barrier before this loop runs
	default:
		return ivmerr.NewInvariantViolation("poke.applyRowOp", "unknown row op kind %d", op.Kind)
	}
}

func matchesConstraint(r row.Row, constrain map[string]row.Value) bool {
	for col, want := range constrain {
		if !r.Get(col).Equal(want) {
			return false
		}
	}
	return true
}

func (m *Merger) mapRowColumns(table string, r row.Row) row.Row {
	if r == nil {
		return nil
	}
	out := make(row.Row, len(r))
	for col, v := range r {
		out[m.mapper.ServerColumn(table, col)] = v
	}
	return out
}

func (m *Merger) applyQueryOp(op QueryOp) error {
	switch op.Kind {
	case QueryPut:
		return m.queries.Put(op.Hash, op.AST, op.TTL)
	case QueryDel:
		return m.queries.Del(op.Hash)
	case QueryClear:
		return nil
	default:
		return ivmerr.NewInvariantViolation("poke.applyQueryOp", "unknown query op kind %d", op.Kind)
	}
}

func (m *Merger) applyClientOp(op ClientOp) error {
	switch op.Kind {
	case ClientPut:
		return m.clients.Put(op.ClientID)
	case ClientDel:
		return m.clients.Del(op.ClientID)
	case ClientClear:
		return nil
	default:
		return ivmerr.NewInvariantViolation("poke.applyClientOp", "unknown client op kind %d", op.Kind)
	}
}
