// Package ivmerr defines the failure-mode taxonomy for the dataflow engine.
//
// None of these are meant to be recovered from transparently: an
// InvariantViolation leaves the operator graph that raised it unusable for
// its query and the caller must destroy the view (spec.md §7). They are
// ordinary error values so callers can use errors.As/errors.Is rather than
// recover from a panic.
package ivmerr

import "fmt"

// InvariantViolation reports a broken data-model invariant: a duplicate
// add, a missing remove, an edit that touched a primary key or join
// correlation column, a second add to a singular view, a double-drained
// child stream, or an unexpected storage scan result.
type InvariantViolation struct {
	Op      string
	Message string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation in %s: %s", e.Op, e.Message)
}

// NewInvariantViolation constructs an InvariantViolation with a formatted message.
func NewInvariantViolation(op, format string, args ...any) error {
	return &InvariantViolation{Op: op, Message: fmt.Sprintf(format, args...)}
}

// OverlayMismatch reports a child-push overlay that failed to apply during
// a downstream fetch issued from within the same push (spec.md §4.3, §7).
// It always indicates an operator bug, not a caller error.
type OverlayMismatch struct {
	Operator string
	Message  string
}

func (e *OverlayMismatch) Error() string {
	return fmt.Sprintf("overlay mismatch in %s: %s", e.Operator, e.Message)
}

// NewOverlayMismatch constructs an OverlayMismatch with a formatted message.
func NewOverlayMismatch(operator, format string, args ...any) error {
	return &OverlayMismatch{Operator: operator, Message: fmt.Sprintf(format, args...)}
}

// PokeProtocolError reports a poke-merger protocol violation: a part/end
// for the wrong pokeID, a cookie gap across merged pokes, or the view
// adapter rejecting a merged patch. Callers clear buffered state and invoke
// onPokeError on this error (spec.md §7).
type PokeProtocolError struct {
	Reason string
}

func (e *PokeProtocolError) Error() string {
	return fmt.Sprintf("poke protocol error: %s", e.Reason)
}

// NewPokeProtocolError constructs a PokeProtocolError with a formatted reason.
func NewPokeProtocolError(format string, args ...any) error {
	return &PokeProtocolError{Reason: fmt.Sprintf(format, args...)}
}
