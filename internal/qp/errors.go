package qp

import "errors"

var (
	// ErrInfeasible indicates a primal or dual infeasibility certificate was found.
	ErrInfeasible = errors.New("qp: problem infeasible")

	// ErrMaxIterations indicates the iteration budget ran out before convergence.
	ErrMaxIterations = errors.New("qp: maximum iterations reached")

	// ErrNumerical indicates a factorization failure or non-finite iterate.
	ErrNumerical = errors.New("qp: numerical failure")

	// ErrDimensionMismatch indicates inconsistent problem data sizes.
	ErrDimensionMismatch = errors.New("qp: dimension mismatch")
)
