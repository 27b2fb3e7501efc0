package robot

import "errors"

var (
	// ErrUnknownFrame indicates a frame, body or virtual-link name the model does not define.
	ErrUnknownFrame = errors.New("robot: unknown frame")

	// ErrDimensionMismatch indicates an input vector or matrix of the wrong size.
	ErrDimensionMismatch = errors.New("robot: dimension mismatch")

	// ErrInvalidState indicates NaN or Inf in a configuration or velocity.
	ErrInvalidState = errors.New("robot: invalid state (NaN or Inf detected)")

	// ErrNotComputed indicates a query issued before Recompute.
	ErrNotComputed = errors.New("robot: model data not computed")

	// ErrInvalidDescription indicates a malformed robot description.
	ErrInvalidDescription = errors.New("robot: invalid description")

	// ErrSingular indicates the constrained dynamics system could not be solved.
	ErrSingular = errors.New("robot: singular dynamics system")
)
