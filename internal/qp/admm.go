package qp

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Settings tune the ADMM iteration.
type Settings struct {
	Rho        float64 `yaml:"rho"`
	Sigma      float64 `yaml:"sigma"`
	Alpha      float64 `yaml:"alpha"`
	EpsAbs     float64 `yaml:"eps_abs"`
	EpsRel     float64 `yaml:"eps_rel"`
	EpsPrimInf float64 `yaml:"eps_prim_inf"`
	EpsDualInf float64 `yaml:"eps_dual_inf"`
	MaxIter    int     `yaml:"max_iter"`
	CheckEvery int     `yaml:"check_every"`
	Scaling    int     `yaml:"scaling"`
	AdaptRho   bool    `yaml:"adaptive_rho"`
	WarmStart  bool    `yaml:"warm_start"`
}

func DefaultSettings() Settings {
	return Settings{
		Rho:        0.1,
		Sigma:      1e-6,
		Alpha:      1.6,
		EpsAbs:     1e-5,
		EpsRel:     1e-5,
		EpsPrimInf: 1e-4,
		EpsDualInf: 1e-4,
		MaxIter:    10000,
		CheckEvery: 10,
		Scaling:    10,
		AdaptRho:   true,
		WarmStart:  true,
	}
}

// Validate rejects settings the iteration cannot run with.
func (s Settings) Validate() error {
	switch {
	case s.Rho <= 0 || s.Sigma <= 0:
		return fmt.Errorf("qp: rho and sigma must be positive (rho=%g sigma=%g)", s.Rho, s.Sigma)
	case s.Alpha <= 0 || s.Alpha >= 2:
		return fmt.Errorf("qp: alpha must lie in (0, 2), got %g", s.Alpha)
	case s.EpsAbs < 0 || s.EpsRel < 0 || s.EpsAbs+s.EpsRel == 0:
		return fmt.Errorf("qp: invalid tolerances abs=%g rel=%g", s.EpsAbs, s.EpsRel)
	case s.MaxIter <= 0:
		return fmt.Errorf("qp: max_iter must be positive, got %d", s.MaxIter)
	}
	return nil
}

const (
	rhoMin          = 1e-6
	rhoMax          = 1e6
	rhoEqScale      = 1e3
	rhoAdaptFactor  = 5.0
	divisionTol     = 1e-30
	freeBoundMargin = 1e20
)

// ADMM is an operator-splitting QP solver in the style of OSQP: one
// Cholesky factorization of P + σI + AᵀρA per rho value, Ruiz scaling,
// adaptive rho and infeasibility certificates. It keeps the previous
// solution for warm starts, so a single ADMM must not be shared between
// goroutines.
type ADMM struct {
	settings Settings

	lastX, lastY []float64
}

func NewADMM(settings Settings) (*ADMM, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if settings.CheckEvery <= 0 {
		settings.CheckEvery = 1
	}
	return &ADMM{settings: settings}, nil
}

func (s *ADMM) Settings() Settings { return s.settings }

// Solve runs ADMM on prob. On failure the returned Result still carries
// the diagnostics of the attempt.
func (s *ADMM) Solve(prob *Problem) (*Result, error) {
	start := time.Now()
	if err := prob.validate(); err != nil {
		status := StatusNumerical
		if errors.Is(err, ErrInfeasible) {
			status = StatusPrimalInfeasible
		}
		return &Result{Status: status}, err
	}
	var (
		res *Result
		err error
	)
	if _, m := prob.Dims(); m == 0 {
		res, err = s.solveUnconstrained(prob)
	} else {
		res, err = s.iterate(prob)
	}
	res.SolveTime = time.Since(start)
	if err != nil {
		s.lastX, s.lastY = nil, nil
		return res, err
	}
	res.Objective = prob.Objective(res.X)
	s.lastX, s.lastY = res.X, res.Y
	return res, nil
}

// solveUnconstrained solves P·x = −q directly.
func (s *ADMM) solveUnconstrained(prob *Problem) (*Result, error) {
	n, _ := prob.Dims()
	var chol mat.Cholesky
	if !chol.Factorize(symmetrize(prob.P, 0)) {
		return &Result{Status: StatusNumerical}, fmt.Errorf("%w: cost matrix is not positive definite", ErrNumerical)
	}
	rhs := mat.NewVecDense(n, nil)
	rhs.ScaleVec(-1, prob.Q)
	x := mat.NewVecDense(n, nil)
	if err := chol.SolveVecTo(x, rhs); err != nil {
		return &Result{Status: StatusNumerical}, fmt.Errorf("%w: %v", ErrNumerical, err)
	}
	out := append([]float64(nil), x.RawVector().Data...)
	if !finite(out) {
		return &Result{Status: StatusNumerical}, fmt.Errorf("%w: non-finite solution", ErrNumerical)
	}
	return &Result{X: out, Y: []float64{}, Status: StatusSolved}, nil
}

// symmetrize returns (M + Mᵀ)/2 + shift·I as a SymDense.
func symmetrize(m mat.Matrix, shift float64) *mat.SymDense {
	n, _ := m.Dims()
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := 0.5 * (m.At(i, j) + m.At(j, i))
			if i == j {
				v += shift
			}
			sym.SetSym(i, j, v)
		}
	}
	return sym
}

func finite(vals []float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

type admmState struct {
	sc   *scaled
	rho  []float64
	chol mat.Cholesky
}

func (st *admmState) setRho(base float64) {
	for i := range st.rho {
		l, u := st.sc.l[i], st.sc.u[i]
		switch {
		case l < -freeBoundMargin && u > freeBoundMargin:
			st.rho[i] = rhoMin
		case u-l < 1e-12:
			st.rho[i] = rhoEqScale * base
		default:
			st.rho[i] = base
		}
	}
}

// factor builds and factorizes P̄ + σI + Āᵀ·diag(ρ)·Ā.
func (st *admmState) factor(sigma float64) error {
	n, _ := st.sc.p.Dims()
	m := len(st.rho)
	weighted := mat.DenseCopyOf(st.sc.a)
	for i := 0; i < m; i++ {
		row := weighted.RawRowView(i)
		floats.Scale(st.rho[i], row)
	}
	k := mat.NewDense(n, n, nil)
	k.Mul(st.sc.a.T(), weighted)
	k.Add(k, st.sc.p)
	if !st.chol.Factorize(symmetrize(k, sigma)) {
		return fmt.Errorf("%w: KKT factorization failed", ErrNumerical)
	}
	return nil
}

func (s *ADMM) iterate(prob *Problem) (*Result, error) {
	set := s.settings
	n, m := prob.Dims()
	st := &admmState{sc: scaleProblem(prob, set.Scaling), rho: make([]float64, m)}
	sc := st.sc
	rhoBase := set.Rho
	st.setRho(rhoBase)
	if err := st.factor(set.Sigma); err != nil {
		return &Result{Status: StatusNumerical}, err
	}

	x, z, y := make([]float64, n), make([]float64, m), make([]float64, m)
	if set.WarmStart && len(s.lastX) == n && len(s.lastY) == m {
		for j := range x {
			x[j] = s.lastX[j] / sc.d[j]
		}
		for i := range y {
			y[i] = sc.c * s.lastY[i] / sc.e[i]
		}
		ax := mat.NewVecDense(m, nil)
		ax.MulVec(sc.a, mat.NewVecDense(n, x))
		for i := range z {
			z[i] = clamp(ax.AtVec(i), sc.l[i], sc.u[i])
		}
	}

	var (
		xPrev = make([]float64, n)
		yPrev = make([]float64, m)
		w     = make([]float64, m)
		rhs   = mat.NewVecDense(n, nil)
		xt    = mat.NewVecDense(n, nil)
		zt    = mat.NewVecDense(m, nil)
		wv    = mat.NewVecDense(m, w)
		res   = &Result{Status: StatusMaxIterations}
	)
	for k := 1; k <= set.MaxIter; k++ {
		copy(xPrev, x)
		copy(yPrev, y)

		for i := 0; i < m; i++ {
			w[i] = st.rho[i]*z[i] - y[i]
		}
		rhs.MulVec(sc.a.T(), wv)
		for j := 0; j < n; j++ {
			rhs.SetVec(j, rhs.AtVec(j)+set.Sigma*x[j]-sc.q[j])
		}
		if err := st.chol.SolveVecTo(xt, rhs); err != nil {
			res.Status = StatusNumerical
			return res, fmt.Errorf("%w: %v", ErrNumerical, err)
		}
		zt.MulVec(sc.a, xt)

		for j := 0; j < n; j++ {
			x[j] = set.Alpha*xt.AtVec(j) + (1-set.Alpha)*x[j]
		}
		for i := 0; i < m; i++ {
			relaxed := set.Alpha*zt.AtVec(i) + (1-set.Alpha)*z[i]
			next := clamp(relaxed+y[i]/st.rho[i], sc.l[i], sc.u[i])
			y[i] += st.rho[i] * (relaxed - next)
			z[i] = next
		}
		res.Iterations = k

		if k%set.CheckEvery != 0 && k != set.MaxIter {
			continue
		}
		if !finite(x) || !finite(y) {
			res.Status = StatusNumerical
			return res, fmt.Errorf("%w: iterate diverged at iteration %d", ErrNumerical, k)
		}

		r := residuals(prob, sc, x, z, y)
		res.PrimalResidual, res.DualResidual = r.prim, r.dual
		epsPrim := set.EpsAbs + set.EpsRel*math.Max(r.axNorm, r.zNorm)
		epsDual := set.EpsAbs + set.EpsRel*math.Max(r.pxNorm, math.Max(r.atyNorm, r.qNorm))
		if r.prim <= epsPrim && r.dual <= epsDual {
			res.Status = StatusSolved
			res.X, res.Y = unscaleX(sc, x), unscaleY(sc, y)
			return res, nil
		}
		if primalInfeasible(prob, sc, y, yPrev, set.EpsPrimInf) {
			res.Status = StatusPrimalInfeasible
			return res, fmt.Errorf("%w: primal infeasibility certificate at iteration %d", ErrInfeasible, k)
		}
		if dualInfeasible(prob, sc, x, xPrev, set.EpsDualInf) {
			res.Status = StatusDualInfeasible
			return res, fmt.Errorf("%w: problem unbounded (dual infeasible) at iteration %d", ErrInfeasible, k)
		}

		if set.AdaptRho {
			primRatio := r.prim / (math.Max(r.axNorm, r.zNorm) + divisionTol)
			dualRatio := r.dual / (math.Max(r.pxNorm, math.Max(r.atyNorm, r.qNorm)) + divisionTol)
			next := rhoBase * math.Sqrt(primRatio/(dualRatio+divisionTol))
			next = math.Min(math.Max(next, rhoMin), rhoMax)
			if next > rhoAdaptFactor*rhoBase || next < rhoBase/rhoAdaptFactor {
				rhoBase = next
				st.setRho(rhoBase)
				if err := st.factor(set.Sigma); err != nil {
					res.Status = StatusNumerical
					return res, err
				}
				res.RhoUpdates++
			}
		}
	}
	return res, fmt.Errorf("%w: %d iterations (primal %.3g, dual %.3g)",
		ErrMaxIterations, set.MaxIter, res.PrimalResidual, res.DualResidual)
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func unscaleX(sc *scaled, x []float64) []float64 {
	out := make([]float64, len(x))
	for j := range x {
		out[j] = sc.d[j] * x[j]
	}
	return out
}

func unscaleY(sc *scaled, y []float64) []float64 {
	out := make([]float64, len(y))
	for i := range y {
		out[i] = sc.e[i] * y[i] / sc.c
	}
	return out
}

type residualNorms struct {
	prim, dual             float64
	axNorm, zNorm          float64
	pxNorm, atyNorm, qNorm float64
}

// residuals evaluates the termination criteria on the unscaled problem.
func residuals(prob *Problem, sc *scaled, xs, zs, ys []float64) residualNorms {
	n, m := prob.Dims()
	x := mat.NewVecDense(n, unscaleX(sc, xs))
	y := mat.NewVecDense(m, unscaleY(sc, ys))
	z := make([]float64, m)
	for i := range z {
		z[i] = zs[i] / sc.e[i]
	}

	ax := mat.NewVecDense(m, nil)
	ax.MulVec(prob.A, x)
	px := mat.NewVecDense(n, nil)
	px.MulVec(prob.P, x)
	aty := mat.NewVecDense(n, nil)
	aty.MulVec(prob.A.T(), y)

	primal := make([]float64, m)
	floats.SubTo(primal, ax.RawVector().Data, z)
	dual := make([]float64, n)
	floats.AddTo(dual, px.RawVector().Data, aty.RawVector().Data)
	floats.Add(dual, prob.Q.RawVector().Data)

	inf := math.Inf(1)
	return residualNorms{
		prim:    floats.Norm(primal, inf),
		dual:    floats.Norm(dual, inf),
		axNorm:  floats.Norm(ax.RawVector().Data, inf),
		zNorm:   floats.Norm(z, inf),
		pxNorm:  floats.Norm(px.RawVector().Data, inf),
		atyNorm: floats.Norm(aty.RawVector().Data, inf),
		qNorm:   floats.Norm(prob.Q.RawVector().Data, inf),
	}
}

// primalInfeasible checks the certificate Aᵀδy ≈ 0 with
// uᵀmax(δy, 0) + lᵀmin(δy, 0) < 0.
func primalInfeasible(prob *Problem, sc *scaled, y, yPrev []float64, eps float64) bool {
	n, m := prob.Dims()
	dy := make([]float64, m)
	floats.SubTo(dy, unscaleY(sc, y), unscaleY(sc, yPrev))
	norm := floats.Norm(dy, math.Inf(1))
	if norm < divisionTol {
		return false
	}
	support := 0.0
	for i, d := range dy {
		switch {
		case d > 0:
			u := prob.U.AtVec(i)
			if u > freeBoundMargin {
				return false
			}
			support += u * d
		case d < 0:
			l := prob.L.AtVec(i)
			if l < -freeBoundMargin {
				return false
			}
			support += l * d
		}
	}
	if support >= -eps*norm {
		return false
	}
	aty := mat.NewVecDense(n, nil)
	aty.MulVec(prob.A.T(), mat.NewVecDense(m, dy))
	return floats.Norm(aty.RawVector().Data, math.Inf(1)) <= eps*norm
}

// dualInfeasible checks the certificate Pδx ≈ 0, qᵀδx < 0 and Aδx
// pointing into the recession cone of [l, u].
func dualInfeasible(prob *Problem, sc *scaled, x, xPrev []float64, eps float64) bool {
	n, m := prob.Dims()
	dx := make([]float64, n)
	floats.SubTo(dx, unscaleX(sc, x), unscaleX(sc, xPrev))
	norm := floats.Norm(dx, math.Inf(1))
	if norm < divisionTol {
		return false
	}
	dxv := mat.NewVecDense(n, dx)
	if mat.Dot(prob.Q, dxv) >= -eps*norm {
		return false
	}
	pdx := mat.NewVecDense(n, nil)
	pdx.MulVec(prob.P, dxv)
	if floats.Norm(pdx.RawVector().Data, math.Inf(1)) > eps*norm {
		return false
	}
	adx := mat.NewVecDense(m, nil)
	adx.MulVec(prob.A, dxv)
	for i := 0; i < m; i++ {
		v := adx.AtVec(i)
		lFree := prob.L.AtVec(i) < -freeBoundMargin
		uFree := prob.U.AtVec(i) > freeBoundMargin
		switch {
		case !lFree && !uFree && math.Abs(v) > eps*norm:
			return false
		case lFree && !uFree && v > eps*norm:
			return false
		case !lFree && uFree && v < -eps*norm:
			return false
		}
	}
	return true
}
