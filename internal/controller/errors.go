package controller

import (
	"errors"
	"fmt"
)

var (
	// ErrMaskLength indicates a contact mask whose length differs from the
	// number of registered contact virtual links.
	ErrMaskLength = errors.New("controller: contact mask length mismatch")

	// ErrNonFinite indicates NaN or Inf in the measured state.
	ErrNonFinite = errors.New("controller: non-finite state")

	// ErrStateDimension indicates joint vectors sized differently from the model.
	ErrStateDimension = errors.New("controller: state dimension mismatch")

	// ErrInvalidQuaternion indicates a base orientation too far from unit norm.
	ErrInvalidQuaternion = errors.New("controller: base quaternion is not unit norm")

	// ErrNotConfigured indicates a model or profile the controller cannot be wired for.
	ErrNotConfigured = errors.New("controller: not configured")

	// ErrNoCommand indicates no command from a successful tick is available.
	ErrNoCommand = errors.New("controller: no command available")
)

// Tick stages reported in TickError.
const (
	StageValidate    = "validate"
	StageRecompute   = "recompute"
	StageClosedChain = "closed-chain"
	StageSolve       = "solve"
)

// TickError reports a failed Run. Tick is the index of the tick that
// failed; the tick counter does not advance past it.
type TickError struct {
	Tick    int
	Stage   string
	Wrapped error
}

func (e *TickError) Error() string {
	return fmt.Sprintf("controller: tick %d failed at %s: %v", e.Tick, e.Stage, e.Wrapped)
}

func (e *TickError) Unwrap() error {
	return e.Wrapped
}
