package tsc

import (
	"errors"
	"fmt"

	"github.com/san-kum/wbcsim/internal/qp"
)

var (
	// ErrDimensionMismatch indicates a weight, gain or reference sized
	// inconsistently with its task or with the model.
	ErrDimensionMismatch = errors.New("tsc: dimension mismatch")

	// ErrInvalidWeight indicates a weight matrix that is not symmetric
	// positive semi-definite.
	ErrInvalidWeight = errors.New("tsc: weight matrix not symmetric positive semi-definite")

	// ErrNoTasks indicates a solve with no registered task.
	ErrNoTasks = errors.New("tsc: no tasks registered")

	// ErrNotSolved indicates a query for an optimal value with no valid solution cached.
	ErrNotSolved = errors.New("tsc: no valid solution")

	// ErrDuplicateName indicates a task or constraint name registered twice.
	ErrDuplicateName = errors.New("tsc: duplicate name")
)

// SolveError reports a failed Engine.Solve. Status is the solver outcome,
// or qp.StatusNotAttempted when assembly failed. Wrapped carries
// qp.ErrInfeasible, qp.ErrMaxIterations, qp.ErrNumerical or an
// evaluation error from a task or constraint.
type SolveError struct {
	Solve   int
	Status  qp.Status
	Stage   string
	Wrapped error
}

func (e *SolveError) Error() string {
	return fmt.Sprintf("tsc: solve %d failed during %s: %v", e.Solve, e.Stage, e.Wrapped)
}

func (e *SolveError) Unwrap() error {
	return e.Wrapped
}
