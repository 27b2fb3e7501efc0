package qp

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var inf = math.Inf(1)

func problem(n int, p, q []float64, m int, a, l, u []float64) *Problem {
	prob := &Problem{P: mat.NewDense(n, n, p), Q: mat.NewVecDense(n, q), A: &mat.Dense{}, L: &mat.VecDense{}, U: &mat.VecDense{}}
	if m > 0 {
		prob.A = mat.NewDense(m, n, a)
		prob.L = mat.NewVecDense(m, l)
		prob.U = mat.NewVecDense(m, u)
	}
	return prob
}

func mustSolver(t *testing.T, s Settings) *ADMM {
	t.Helper()
	solver, err := NewADMM(s)
	if err != nil {
		t.Fatal(err)
	}
	return solver
}

func TestSolve(t *testing.T) {
	tests := []struct {
		name string
		prob *Problem
		want []float64
		tol  float64
	}{
		{
			name: "unconstrained",
			prob: problem(2, []float64{2, 0, 0, 4}, []float64{-2, -8}, 0, nil, nil, nil),
			want: []float64{1, 2},
			tol:  1e-12,
		},
		{
			name: "active upper bound",
			prob: problem(1, []float64{2}, []float64{-6}, 1, []float64{1}, []float64{-inf}, []float64{1}),
			want: []float64{1},
			tol:  1e-4,
		},
		{
			name: "inactive lower bound",
			prob: problem(1, []float64{2}, []float64{-6}, 1, []float64{1}, []float64{-5}, []float64{inf}),
			want: []float64{3},
			tol:  1e-4,
		},
		{
			name: "equality",
			prob: problem(2, []float64{2, 0, 0, 2}, []float64{0, 0}, 1, []float64{1, 1}, []float64{1}, []float64{1}),
			want: []float64{0.5, 0.5},
			tol:  1e-4,
		},
		{
			name: "mixed rows",
			prob: problem(2, []float64{4, 1, 1, 2}, []float64{1, 1}, 3,
				[]float64{1, 1, 1, 0, 0, 1}, []float64{1, 0, 0}, []float64{1, 0.7, 0.7}),
			want: []float64{0.3, 0.7},
			tol:  1e-3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := mustSolver(t, DefaultSettings()).Solve(tt.prob)
			if err != nil {
				t.Fatalf("solve failed: %v", err)
			}
			if res.Status != StatusSolved {
				t.Fatalf("status %v", res.Status)
			}
			if !floats.EqualApprox(res.X, tt.want, tt.tol) {
				t.Errorf("x = %v, want %v", res.X, tt.want)
			}
		})
	}
}

func TestSolveReportsObjective(t *testing.T) {
	prob := problem(2, []float64{2, 0, 0, 4}, []float64{-2, -8}, 0, nil, nil, nil)
	res, err := mustSolver(t, DefaultSettings()).Solve(prob)
	if err != nil {
		t.Fatal(err)
	}
	// ½(2·1 + 4·4) − 2 − 16
	if math.Abs(res.Objective+9) > 1e-9 {
		t.Errorf("objective %f, want -9", res.Objective)
	}
}

func TestPrimalInfeasible(t *testing.T) {
	// x ≥ 1 and x ≤ 0.
	prob := problem(1, []float64{1}, []float64{0}, 2, []float64{1, 1}, []float64{1, -inf}, []float64{inf, 0})
	res, err := mustSolver(t, DefaultSettings()).Solve(prob)
	if !errors.Is(err, ErrInfeasible) {
		t.Fatalf("expected ErrInfeasible, got %v", err)
	}
	if res.Status != StatusPrimalInfeasible {
		t.Errorf("status %v, want primal_infeasible", res.Status)
	}
}

func TestInvertedBounds(t *testing.T) {
	prob := problem(1, []float64{1}, []float64{0}, 1, []float64{1}, []float64{2}, []float64{1})
	res, err := mustSolver(t, DefaultSettings()).Solve(prob)
	if !errors.Is(err, ErrInfeasible) {
		t.Fatalf("expected ErrInfeasible, got %v", err)
	}
	if res.Status != StatusPrimalInfeasible {
		t.Errorf("status %v, want primal_infeasible", res.Status)
	}
}

func TestDimensionMismatch(t *testing.T) {
	prob := problem(2, []float64{1, 0, 0, 1}, []float64{0, 0}, 1, []float64{1, 1}, []float64{0}, []float64{1})
	prob.U = mat.NewVecDense(2, []float64{1, 1})
	if _, err := mustSolver(t, DefaultSettings()).Solve(prob); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestMaxIterations(t *testing.T) {
	s := DefaultSettings()
	s.MaxIter = 2
	s.WarmStart = false
	prob := problem(2, []float64{4, 1, 1, 2}, []float64{1, 1}, 3,
		[]float64{1, 1, 1, 0, 0, 1}, []float64{1, 0, 0}, []float64{1, 0.7, 0.7})
	res, err := mustSolver(t, s).Solve(prob)
	if !errors.Is(err, ErrMaxIterations) {
		t.Fatalf("expected ErrMaxIterations, got %v", err)
	}
	if res.Iterations != 2 {
		t.Errorf("iterations %d, want 2", res.Iterations)
	}
}

func TestNotPositiveDefinite(t *testing.T) {
	prob := problem(2, []float64{1, 0, 0, 0}, []float64{0, 1}, 0, nil, nil, nil)
	if _, err := mustSolver(t, DefaultSettings()).Solve(prob); !errors.Is(err, ErrNumerical) {
		t.Errorf("expected ErrNumerical, got %v", err)
	}
}

func TestWarmStartReducesIterations(t *testing.T) {
	solver := mustSolver(t, DefaultSettings())
	prob := problem(2, []float64{4, 1, 1, 2}, []float64{1, 1}, 3,
		[]float64{1, 1, 1, 0, 0, 1}, []float64{1, 0, 0}, []float64{1, 0.7, 0.7})
	cold, err := solver.Solve(prob)
	if err != nil {
		t.Fatal(err)
	}
	warm, err := solver.Solve(prob)
	if err != nil {
		t.Fatal(err)
	}
	if warm.Iterations > cold.Iterations {
		t.Errorf("warm start took %d iterations, cold %d", warm.Iterations, cold.Iterations)
	}
}

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"zero rho", func(s *Settings) { s.Rho = 0 }},
		{"alpha too large", func(s *Settings) { s.Alpha = 2 }},
		{"no tolerance", func(s *Settings) { s.EpsAbs, s.EpsRel = 0, 0 }},
		{"no iterations", func(s *Settings) { s.MaxIter = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(&s)
			if _, err := NewADMM(s); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
