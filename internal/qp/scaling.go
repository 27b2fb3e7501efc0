package qp

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	minScaling = 1e-4
	maxScaling = 1e4
)

// scaled is the Ruiz-equilibrated copy of a problem:
//
//	P̄ = c·D·P·D,  q̄ = c·D·q,  Ā = E·A·D,  l̄ = E·l,  ū = E·u.
type scaled struct {
	p, a    *mat.Dense
	q, l, u []float64
	d, e    []float64
	c       float64
}

func clampScale(norm float64) float64 {
	if norm < minScaling {
		return 1
	}
	return math.Min(norm, maxScaling)
}

func scaleProblem(prob *Problem, iterations int) *scaled {
	n, m := prob.Dims()
	s := &scaled{
		p: mat.DenseCopyOf(prob.P),
		a: mat.DenseCopyOf(prob.A),
		q: make([]float64, n),
		l: make([]float64, m),
		u: make([]float64, m),
		d: make([]float64, n),
		e: make([]float64, m),
		c: 1,
	}
	for j := range s.d {
		s.d[j] = 1
		s.q[j] = prob.Q.AtVec(j)
	}
	for i := range s.e {
		s.e[i] = 1
	}

	delta := make([]float64, n)
	eps := make([]float64, m)
	for it := 0; it < iterations; it++ {
		for j := 0; j < n; j++ {
			norm := 0.0
			for i := 0; i < n; i++ {
				norm = math.Max(norm, math.Abs(s.p.At(i, j)))
			}
			for i := 0; i < m; i++ {
				norm = math.Max(norm, math.Abs(s.a.At(i, j)))
			}
			delta[j] = 1 / math.Sqrt(clampScale(norm))
		}
		for i := 0; i < m; i++ {
			norm := 0.0
			for j := 0; j < n; j++ {
				norm = math.Max(norm, math.Abs(s.a.At(i, j)))
			}
			eps[i] = 1 / math.Sqrt(clampScale(norm))
		}
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				s.p.Set(i, j, delta[i]*s.p.At(i, j)*delta[j])
			}
			s.q[i] *= delta[i]
			s.d[i] *= delta[i]
		}
		for i := 0; i < m; i++ {
			for j := 0; j < n; j++ {
				s.a.Set(i, j, eps[i]*s.a.At(i, j)*delta[j])
			}
			s.e[i] *= eps[i]
		}
	}

	meanCol := 0.0
	for j := 0; j < n; j++ {
		norm := 0.0
		for i := 0; i < n; i++ {
			norm = math.Max(norm, math.Abs(s.p.At(i, j)))
		}
		meanCol += norm / float64(n)
	}
	qNorm := 0.0
	for _, v := range s.q {
		qNorm = math.Max(qNorm, math.Abs(v))
	}
	s.c = 1 / clampScale(math.Max(meanCol, qNorm))
	s.p.Scale(s.c, s.p)
	for j := range s.q {
		s.q[j] *= s.c
	}

	for i := 0; i < m; i++ {
		s.l[i] = s.e[i] * prob.L.AtVec(i)
		s.u[i] = s.e[i] * prob.U.AtVec(i)
	}
	return s
}
