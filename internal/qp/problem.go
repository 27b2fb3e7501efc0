// Package qp solves convex quadratic programs of the form
//
//	minimize    ½xᵀPx + qᵀx
//	subject to  l ≤ Ax ≤ u
//
// with P symmetric positive semi-definite. Equality rows carry l = u and
// one-sided rows use ±Inf for the open bound.
package qp

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/wbcsim/internal/linalg"
)

// Problem is one QP instance. A, L and U may be empty.
type Problem struct {
	P *mat.Dense
	Q *mat.VecDense
	A *mat.Dense
	L *mat.VecDense
	U *mat.VecDense
}

// Dims returns the number of variables and constraint rows.
func (p *Problem) Dims() (n, m int) {
	return linalg.Rows(p.P), linalg.Rows(p.A)
}

func (p *Problem) validate() error {
	n, m := p.Dims()
	if n == 0 {
		return fmt.Errorf("%w: no decision variables", ErrDimensionMismatch)
	}
	if linalg.Cols(p.P) != n || p.Q == nil || p.Q.Len() != n {
		return fmt.Errorf("%w: cost is %dx%d with %d-vector", ErrDimensionMismatch, n, linalg.Cols(p.P), vecLen(p.Q))
	}
	if m == 0 {
		return nil
	}
	if linalg.Cols(p.A) != n || vecLen(p.L) != m || vecLen(p.U) != m {
		return fmt.Errorf("%w: constraints are %dx%d with bounds %d/%d, want %d columns",
			ErrDimensionMismatch, m, linalg.Cols(p.A), vecLen(p.L), vecLen(p.U), n)
	}
	for i := 0; i < m; i++ {
		l, u := p.L.AtVec(i), p.U.AtVec(i)
		if math.IsNaN(l) || math.IsNaN(u) || l > u {
			return fmt.Errorf("%w: row %d has bounds [%g, %g]", ErrInfeasible, i, l, u)
		}
	}
	return nil
}

// Objective evaluates ½xᵀPx + qᵀx.
func (p *Problem) Objective(x []float64) float64 {
	xv := mat.NewVecDense(len(x), x)
	px := linalg.MulVec(p.P, xv)
	return 0.5*mat.Dot(xv, px) + mat.Dot(p.Q, xv)
}

func vecLen(v *mat.VecDense) int {
	if v == nil {
		return 0
	}
	return v.Len()
}

// Status is the outcome of a solve.
type Status int

const (
	StatusSolved Status = iota
	StatusPrimalInfeasible
	StatusDualInfeasible
	StatusMaxIterations
	StatusNumerical
	// StatusNotAttempted means the problem could not be built, so the
	// solver never ran.
	StatusNotAttempted
)

func (s Status) String() string {
	switch s {
	case StatusSolved:
		return "solved"
	case StatusPrimalInfeasible:
		return "primal_infeasible"
	case StatusDualInfeasible:
		return "dual_infeasible"
	case StatusMaxIterations:
		return "max_iterations"
	case StatusNumerical:
		return "numerical"
	case StatusNotAttempted:
		return "not_attempted"
	}
	return "unknown"
}

// Result carries the solution and solve diagnostics. X and Y are only
// meaningful when Status is StatusSolved.
type Result struct {
	X      []float64
	Y      []float64
	Status Status

	Iterations     int
	RhoUpdates     int
	PrimalResidual float64
	DualResidual   float64
	Objective      float64
	SolveTime      time.Duration
}

// Solver is the convex solver consumed by the control engine.
type Solver interface {
	Solve(p *Problem) (*Result, error)
}
