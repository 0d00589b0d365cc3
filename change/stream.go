package change

// ChildStream is a single-pass, single-consumer iterator of child Node
// values. Once exhausted or abandoned it cannot be resumed. An abandoned
// stream must be Drained before being discarded so the operator that
// produced it can release any per-node storage it was holding on the
// caller's behalf (spec.md §3, §9).
type ChildStream interface {
	// Next returns the next node, or ok=false when the stream is
	// exhausted. Calling Next after exhaustion is a no-op returning
	// (Node{}, false, nil).
	Next() (Node, bool, error)

	// Drain consumes any remaining nodes without returning them. It is
	// idempotent: calling it on an already-exhausted or already-drained
	// stream does nothing.
	Drain() error
}

// Drain fully consumes s by repeated Next calls, discarding results. It is
// the implementation every ChildStream's own Drain method can delegate to
// when draining means nothing more than walking to exhaustion (true for
// every stream in this package; operators with side-tables to release
// override Drain directly instead of using this helper).
func Drain(s ChildStream) error {
	for {
		_, ok, err := s.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
}

// emptyStream is the always-exhausted stream returned by Node.Relationship
// for a relationship name the node doesn't carry.
type emptyStream struct{}

func (emptyStream) Next() (Node, bool, error) { return Node{}, false, nil }
func (emptyStream) Drain() error              { return nil }

// SliceStream adapts a pre-materialized slice of Node into a ChildStream.
// It is used by operators (Join's overlay injection, FanIn's merge buffer)
// that have already assembled the nodes to yield in memory.
type SliceStream struct {
	nodes []Node
	pos   int
}

// NewSliceStream returns a ChildStream that yields nodes in order.
func NewSliceStream(nodes []Node) *SliceStream {
	return &SliceStream{nodes: nodes}
}

func (s *SliceStream) Next() (Node, bool, error) {
	if s.pos >= len(s.nodes) {
		return Node{}, false, nil
	}
	n := s.nodes[s.pos]
	s.pos++
	return n, true, nil
}

func (s *SliceStream) Drain() error {
	s.pos = len(s.nodes)
	return nil
}

// FuncStream adapts a next function (and optional onDrain hook, e.g. to
// release storage refcounts) into a ChildStream.
type FuncStream struct {
	NextFn    func() (Node, bool, error)
	OnDrainFn func() error

	done bool
}

func (s *FuncStream) Next() (Node, bool, error) {
	if s.done {
		return Node{}, false, nil
	}
	n, ok, err := s.NextFn()
	if err != nil || !ok {
		s.done = true
	}
	return n, ok, err
}

func (s *FuncStream) Drain() error {
	if s.done {
		return nil
	}
	if err := Drain(s); err != nil {
		return err
	}
	if s.OnDrainFn != nil {
		return s.OnDrainFn()
	}
	return nil
}
