package tsc

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/wbcsim/internal/linalg"
	"github.com/san-kum/wbcsim/internal/qp"
	"github.com/san-kum/wbcsim/internal/robot"
)

// TaskResidual is ‖Map·x − Desired‖ of one task at the last solve.
type TaskResidual struct {
	Name     string
	Residual float64
}

// Diagnostics describe the last Solve, successful or not.
type Diagnostics struct {
	Solve          int
	Status         qp.Status
	Iterations     int
	PrimalResidual float64
	DualResidual   float64
	Objective      float64
	Variables      int
	EqualityRows   int
	InequalityRows int
	AssembleTime   time.Duration
	SolveTime      time.Duration
	Tasks          []TaskResidual
}

// Engine owns the registered tasks and constraints and turns them into
// one QP per Solve. Registration order fixes the row order of the
// assembled problem. An Engine is not safe for concurrent use.
type Engine struct {
	model  robot.Model
	solver qp.Solver
	logger *zap.Logger

	tasks       []Task
	constraints []LinearConstraint
	names       map[string]bool

	solves int
	layout Layout
	terms  []*Term
	x      *mat.VecDense
	tau    []float64
	diag   Diagnostics
}

func NewEngine(model robot.Model, solver qp.Solver, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		model:  model,
		solver: solver,
		logger: logger,
		names:  make(map[string]bool),
	}
}

func (e *Engine) register(name string) error {
	if e.names[name] {
		return fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	e.names[name] = true
	return nil
}

// AddTask validates t against the model and appends it.
func (e *Engine) AddTask(t Task) error {
	if err := t.Validate(e.model); err != nil {
		return err
	}
	if err := e.register(t.Name()); err != nil {
		return err
	}
	e.tasks = append(e.tasks, t)
	return nil
}

func (e *Engine) AddLinearConstraint(c LinearConstraint) error {
	if err := c.Validate(e.model); err != nil {
		return err
	}
	if err := e.register(c.Name()); err != nil {
		return err
	}
	e.constraints = append(e.constraints, c)
	return nil
}

func (e *Engine) TaskNames() []string {
	out := make([]string, len(e.tasks))
	for i, t := range e.tasks {
		out[i] = t.Name()
	}
	return out
}

func (e *Engine) ConstraintNames() []string {
	out := make([]string, len(e.constraints))
	for i, c := range e.constraints {
		out[i] = c.Name()
	}
	return out
}

// Assemble evaluates every task and constraint against the current model
// snapshot and returns the QP
//
//	minimize ½xᵀPx + qᵀx,  P = 2·Σ AᵀWA,  q = −2·Σ AᵀWb
//
// together with the decision layout it was built for.
func (e *Engine) Assemble() (*qp.Problem, Layout, error) {
	if len(e.tasks) == 0 {
		return nil, Layout{}, ErrNoTasks
	}
	layout := NewLayout(e.model)
	n := layout.Size()
	P := linalg.Zeros(n, n)
	q := linalg.ZeroVec(n)
	e.terms = e.terms[:0]

	var wa, ata mat.Dense
	var atb mat.VecDense
	for _, t := range e.tasks {
		term, err := t.Evaluate(e.model, layout)
		if err != nil {
			return nil, layout, fmt.Errorf("task %q: %w", t.Name(), err)
		}
		rows := linalg.Rows(term.Map)
		if rows == 0 {
			e.terms = append(e.terms, term)
			continue
		}
		if linalg.Cols(term.Map) != n || term.Desired.Len() != rows || linalg.Rows(term.Weight) != rows {
			return nil, layout, fmt.Errorf("%w: task %q map %dx%d, desired %d, weight %d, want %d columns",
				ErrDimensionMismatch, t.Name(), rows, linalg.Cols(term.Map), term.Desired.Len(), linalg.Rows(term.Weight), n)
		}
		wa.Mul(term.Weight, term.Map)
		ata.Mul(term.Map.T(), &wa)
		P.Add(P, &ata)
		atb.MulVec(wa.T(), term.Desired)
		q.AddVec(q, &atb)
		e.terms = append(e.terms, term)
		wa.Reset()
		ata.Reset()
		atb.Reset()
	}
	P.Scale(2, P)
	q.ScaleVec(-2, q)

	var (
		cs        []mat.Matrix
		lows, ups []mat.Vector
	)
	eqRows := 0
	for _, c := range e.constraints {
		rows, err := c.Evaluate(e.model, layout)
		if err != nil {
			return nil, layout, fmt.Errorf("constraint %q: %w", c.Name(), err)
		}
		if rows.Len() == 0 {
			continue
		}
		if linalg.Cols(rows.C) != n || rows.Lower.Len() != rows.Len() || rows.Upper.Len() != rows.Len() {
			return nil, layout, fmt.Errorf("%w: constraint %q is %dx%d, want %d columns",
				ErrDimensionMismatch, c.Name(), rows.Len(), linalg.Cols(rows.C), n)
		}
		cs = append(cs, rows.C)
		lows = append(lows, rows.Lower)
		ups = append(ups, rows.Upper)
		if c.Kind() == Equality {
			eqRows += rows.Len()
		}
	}

	prob := &qp.Problem{
		P: P,
		Q: q,
		A: linalg.VStack(n, cs...),
		L: linalg.Concat(lows...),
		U: linalg.Concat(ups...),
	}
	e.diag.EqualityRows = eqRows
	e.diag.InequalityRows = linalg.Rows(prob.A) - eqRows
	e.diag.Variables = n
	return prob, layout, nil
}

// Solve assembles and solves the QP for the current model snapshot. On
// any failure the cached solution is dropped, so the Optimal* accessors
// return ErrNotSolved until the next successful Solve.
func (e *Engine) Solve() error {
	e.solves++
	e.x, e.tau = nil, nil
	e.diag = Diagnostics{Solve: e.solves}

	start := time.Now()
	prob, layout, err := e.Assemble()
	e.diag.AssembleTime = time.Since(start)
	if err != nil {
		e.diag.Status = qp.StatusNotAttempted
		return &SolveError{Solve: e.solves, Status: qp.StatusNotAttempted, Stage: "assemble", Wrapped: err}
	}
	e.layout = layout

	res, err := e.solver.Solve(prob)
	if res != nil {
		e.diag.Status = res.Status
		e.diag.Iterations = res.Iterations
		e.diag.PrimalResidual = res.PrimalResidual
		e.diag.DualResidual = res.DualResidual
		e.diag.SolveTime = res.SolveTime
		e.diag.Objective = res.Objective
	}
	if err != nil {
		status := qp.StatusNumerical
		if res != nil {
			status = res.Status
		}
		e.diag.Status = status
		e.logger.Debug("qp solve failed",
			zap.Int("solve", e.solves),
			zap.Stringer("status", status),
			zap.Int("variables", e.diag.Variables),
			zap.Error(err))
		return &SolveError{Solve: e.solves, Status: status, Stage: "solve", Wrapped: err}
	}
	if len(res.X) != layout.Size() || !linalg.IsFinite(res.X) {
		e.diag.Status = qp.StatusNumerical
		return &SolveError{Solve: e.solves, Status: qp.StatusNumerical, Stage: "solve",
			Wrapped: fmt.Errorf("%w: solver returned %d finite=%v values for %d variables",
				qp.ErrNumerical, len(res.X), linalg.IsFinite(res.X), layout.Size())}
	}

	x := mat.NewVecDense(len(res.X), append([]float64(nil), res.X...))
	tau, err := e.torque(x, layout)
	if err != nil {
		e.diag.Status = qp.StatusNumerical
		return &SolveError{Solve: e.solves, Status: qp.StatusNumerical, Stage: "torque", Wrapped: err}
	}
	e.x, e.tau = x, tau
	e.diag.Tasks = e.taskResiduals(x)

	e.logger.Debug("qp solved",
		zap.Int("solve", e.solves),
		zap.Int("iterations", e.diag.Iterations),
		zap.Int("variables", e.diag.Variables),
		zap.Int("equality_rows", e.diag.EqualityRows),
		zap.Int("inequality_rows", e.diag.InequalityRows),
		zap.Duration("assemble", e.diag.AssembleTime),
		zap.Duration("solve_time", e.diag.SolveTime))
	return nil
}

// torque maps the decision vector through inverse dynamics,
// τ = M·q̈ + h − J_cᵀ·f − J_ccᵀ·λ, and keeps the actuated rows.
func (e *Engine) torque(x *mat.VecDense, layout Layout) ([]float64, error) {
	full := linalg.MulVec(generalizedForceMap(e.model, layout), x)
	full.AddVec(full, e.model.BiasForce())
	idx := e.model.ActuatedIndices()
	tau := make([]float64, len(idx))
	for k, i := range idx {
		tau[k] = full.AtVec(i)
	}
	if !linalg.IsFinite(tau) {
		return nil, fmt.Errorf("%w: non-finite torque", qp.ErrNumerical)
	}
	return tau, nil
}

func (e *Engine) taskResiduals(x *mat.VecDense) []TaskResidual {
	out := make([]TaskResidual, 0, len(e.tasks))
	for i, t := range e.tasks {
		term := e.terms[i]
		r := linalg.MulVec(term.Map, x)
		if r.Len() > 0 {
			r.SubVec(r, term.Desired)
		}
		out = append(out, TaskResidual{Name: t.Name(), Residual: mat.Norm(r, 2)})
	}
	return out
}

func (e *Engine) Layout() Layout           { return e.layout }
func (e *Engine) Diagnostics() Diagnostics { return e.diag }

// Solution returns a copy of the full decision vector.
func (e *Engine) Solution() ([]float64, error) {
	if e.x == nil {
		return nil, ErrNotSolved
	}
	return linalg.Vec(e.x), nil
}

func (e *Engine) segment(offset, n int) ([]float64, error) {
	if e.x == nil {
		return nil, ErrNotSolved
	}
	if n == 0 {
		return []float64{}, nil
	}
	return linalg.Vec(linalg.Segment(e.x, offset, n)), nil
}

func (e *Engine) OptimalQacc() ([]float64, error) {
	return e.segment(e.layout.QaccOffset(), e.layout.NV)
}

// OptimalContactForce returns 3 world-frame components per active contact,
// in contact registration order.
func (e *Engine) OptimalContactForce() ([]float64, error) {
	return e.segment(e.layout.ForceOffset(), e.layout.ForceSize())
}

// OptimalChainForce returns one rod force magnitude per link pair.
func (e *Engine) OptimalChainForce() ([]float64, error) {
	return e.segment(e.layout.ChainOffset(), e.layout.Chains)
}

// OptimalTorque returns the feed-forward torque in actuated-joint order.
func (e *Engine) OptimalTorque() ([]float64, error) {
	if e.tau == nil {
		return nil, ErrNotSolved
	}
	return append([]float64(nil), e.tau...), nil
}
