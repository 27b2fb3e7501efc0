package tsc

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/wbcsim/internal/linalg"
	"github.com/san-kum/wbcsim/internal/robot"
)

type ConstraintKind int

const (
	Equality ConstraintKind = iota
	Inequality
)

func (k ConstraintKind) String() string {
	if k == Equality {
		return "equality"
	}
	return "inequality"
}

// ConstraintRows is Lower ≤ C·x ≤ Upper. Equalities share one vector for
// both bounds. A constraint with nothing to enforce this tick returns
// empty rows.
type ConstraintRows struct {
	C     *mat.Dense
	Lower *mat.VecDense
	Upper *mat.VecDense
}

func (r *ConstraintRows) Len() int { return linalg.Rows(r.C) }

func emptyRows() *ConstraintRows {
	return &ConstraintRows{C: &mat.Dense{}, Lower: &mat.VecDense{}, Upper: &mat.VecDense{}}
}

func equalityRows(c *mat.Dense, b *mat.VecDense) *ConstraintRows {
	if linalg.Rows(c) == 0 {
		return emptyRows()
	}
	return &ConstraintRows{C: c, Lower: b, Upper: b}
}

// LinearConstraint is a hard requirement over the decision vector.
// Infeasibility is left to the solver to report.
type LinearConstraint interface {
	Name() string
	Kind() ConstraintKind
	Validate(model robot.Model) error
	Evaluate(model robot.Model, layout Layout) (*ConstraintRows, error)
}

// ContactPointsConstraint holds active contact points still:
// J_c·q̈ = −J̇_c·v.
type ContactPointsConstraint struct {
	name string
}

func NewContactPointsConstraint(name string) *ContactPointsConstraint {
	return &ContactPointsConstraint{name: name}
}

func (c *ContactPointsConstraint) Name() string               { return c.name }
func (c *ContactPointsConstraint) Kind() ConstraintKind       { return Equality }
func (c *ContactPointsConstraint) Validate(robot.Model) error { return nil }

func (c *ContactPointsConstraint) Evaluate(model robot.Model, layout Layout) (*ConstraintRows, error) {
	jac := model.ContactJacobian()
	if linalg.Rows(jac) != layout.ForceSize() {
		return nil, fmt.Errorf("%w: %d contact rows for %d active contacts", ErrDimensionMismatch, linalg.Rows(jac), layout.Contacts)
	}
	b := linalg.ZeroVec(linalg.Rows(jac))
	if b.Len() > 0 {
		b.ScaleVec(-1, model.ContactJdotV())
	}
	return equalityRows(qaccMap(jac, layout), b), nil
}

// ContactForceConstraint keeps each active contact force unilateral and
// inside the linearized friction pyramid |f_t| ≤ μ·f_z on flat ground.
type ContactForceConstraint struct {
	name      string
	mu        float64
	maxNormal float64
}

const DefaultFriction = 0.6

func NewContactForceConstraint(name string) *ContactForceConstraint {
	return &ContactForceConstraint{name: name, mu: DefaultFriction, maxNormal: math.Inf(1)}
}

func (c *ContactForceConstraint) Name() string               { return c.name }
func (c *ContactForceConstraint) Kind() ConstraintKind       { return Inequality }
func (c *ContactForceConstraint) Validate(robot.Model) error { return nil }
func (c *ContactForceConstraint) Friction() float64          { return c.mu }

func (c *ContactForceConstraint) SetFriction(mu float64) error {
	if mu <= 0 || math.IsNaN(mu) {
		return fmt.Errorf("tsc: constraint %q: friction coefficient must be positive, got %g", c.name, mu)
	}
	c.mu = mu
	return nil
}

// SetMaxNormalForce bounds f_z from above; +Inf removes the bound.
func (c *ContactForceConstraint) SetMaxNormalForce(f float64) error {
	if f <= 0 || math.IsNaN(f) {
		return fmt.Errorf("tsc: constraint %q: max normal force must be positive, got %g", c.name, f)
	}
	c.maxNormal = f
	return nil
}

// rowsPerContact is one normal row plus two per tangential direction.
const rowsPerContact = 5

func (c *ContactForceConstraint) Evaluate(_ robot.Model, layout Layout) (*ConstraintRows, error) {
	n := layout.Contacts
	if n == 0 {
		return emptyRows(), nil
	}
	inf := math.Inf(1)
	cm := linalg.Zeros(rowsPerContact*n, layout.Size())
	lo := linalg.ZeroVec(rowsPerContact * n)
	hi := linalg.ZeroVec(rowsPerContact * n)
	for i := 0; i < n; i++ {
		r := rowsPerContact * i
		fx := layout.ForceOffset() + 3*i
		fy, fz := fx+1, fx+2

		cm.Set(r, fz, 1)
		lo.SetVec(r, 0)
		hi.SetVec(r, c.maxNormal)

		for k, ft := range []int{fx, fy} {
			// ft − μ·fz ≤ 0
			cm.Set(r+1+2*k, ft, 1)
			cm.Set(r+1+2*k, fz, -c.mu)
			lo.SetVec(r+1+2*k, -inf)
			hi.SetVec(r+1+2*k, 0)
			// ft + μ·fz ≥ 0
			cm.Set(r+2+2*k, ft, 1)
			cm.Set(r+2+2*k, fz, c.mu)
			lo.SetVec(r+2+2*k, 0)
			hi.SetVec(r+2+2*k, inf)
		}
	}
	return &ConstraintRows{C: cm, Lower: lo, Upper: hi}, nil
}

// ClosedChainsConstraint keeps every rod at constant length:
// J_cc·q̈ = −(Tᵀ·J̇_rel·v + Ṫᵀ·J_rel·v). It reads the closed-chain
// term the model folded in after the subspace update of this tick.
type ClosedChainsConstraint struct {
	name string
}

func NewClosedChainsConstraint(name string) *ClosedChainsConstraint {
	return &ClosedChainsConstraint{name: name}
}

func (c *ClosedChainsConstraint) Name() string               { return c.name }
func (c *ClosedChainsConstraint) Kind() ConstraintKind       { return Equality }
func (c *ClosedChainsConstraint) Validate(robot.Model) error { return nil }

func (c *ClosedChainsConstraint) Evaluate(model robot.Model, layout Layout) (*ConstraintRows, error) {
	jac := model.ClosedChainJacobian()
	if linalg.Rows(jac) != layout.Chains {
		return nil, fmt.Errorf("%w: closed-chain term has %d rows for %d link pairs (subspace not updated?)",
			ErrDimensionMismatch, linalg.Rows(jac), layout.Chains)
	}
	b := linalg.ZeroVec(layout.Chains)
	if b.Len() > 0 {
		b.ScaleVec(-1, model.ClosedChainDrift())
	}
	return equalityRows(qaccMap(jac, layout), b), nil
}

// ActuatorLimit bounds the generalized force implied by the decision
// vector, τ = M·q̈ + h − J_cᵀ·f − J_ccᵀ·λ. Actuated rows lie within the
// effort limits; every other row (floating base, passive joints) must be
// zero.
type ActuatorLimit struct {
	name string
}

func NewActuatorLimit(name string) *ActuatorLimit {
	return &ActuatorLimit{name: name}
}

func (c *ActuatorLimit) Name() string         { return c.name }
func (c *ActuatorLimit) Kind() ConstraintKind { return Inequality }

func (c *ActuatorLimit) Validate(model robot.Model) error {
	if len(model.ActuatorEffortLimits()) != len(model.ActuatedIndices()) {
		return fmt.Errorf("%w: %d effort limits for %d actuators",
			ErrDimensionMismatch, len(model.ActuatorEffortLimits()), len(model.ActuatedIndices()))
	}
	return nil
}

// generalizedForceMap returns [M | −J_cᵀ | −J_ccᵀ] so that
// τ = map·x + h.
func generalizedForceMap(model robot.Model, layout Layout) *mat.Dense {
	m := linalg.Zeros(layout.NV, layout.Size())
	linalg.SetBlock(m, 0, layout.QaccOffset(), model.MassMatrix())
	if layout.Contacts > 0 {
		linalg.SetBlock(m, 0, layout.ForceOffset(), linalg.Scaled(-1, model.ContactJacobian().T()))
	}
	if layout.Chains > 0 {
		linalg.SetBlock(m, 0, layout.ChainOffset(), linalg.Scaled(-1, model.ClosedChainJacobian().T()))
	}
	return m
}

func (c *ActuatorLimit) Evaluate(model robot.Model, layout Layout) (*ConstraintRows, error) {
	if linalg.Rows(model.ContactJacobian()) != layout.ForceSize() || linalg.Rows(model.ClosedChainJacobian()) != layout.Chains {
		return nil, fmt.Errorf("%w: model terms do not match the decision layout", ErrDimensionMismatch)
	}
	h := model.BiasForce()
	lo := linalg.ZeroVec(layout.NV)
	hi := linalg.ZeroVec(layout.NV)
	for i := 0; i < layout.NV; i++ {
		lo.SetVec(i, -h.AtVec(i))
		hi.SetVec(i, -h.AtVec(i))
	}
	limits := model.ActuatorEffortLimits()
	for k, i := range model.ActuatedIndices() {
		lo.SetVec(i, -limits[k]-h.AtVec(i))
		hi.SetVec(i, limits[k]-h.AtVec(i))
	}
	return &ConstraintRows{C: generalizedForceMap(model, layout), Lower: lo, Upper: hi}, nil
}

// QaccBound is a box on the joint accelerations.
type QaccBound struct {
	name   string
	lo, hi []float64
	dim    int
}

const DefaultQaccBound = 100.0

// NewQaccBound builds a ±DefaultQaccBound box sized to model.
func NewQaccBound(name string, model robot.Model) *QaccBound {
	b := &QaccBound{name: name, dim: model.NV()}
	b.Fill(-DefaultQaccBound, DefaultQaccBound)
	return b
}

func (c *QaccBound) Name() string         { return c.name }
func (c *QaccBound) Kind() ConstraintKind { return Inequality }

func (c *QaccBound) Bounds() (lo, hi []float64) {
	return append([]float64(nil), c.lo...), append([]float64(nil), c.hi...)
}

// Fill sets every entry of the box to [lo, hi].
func (c *QaccBound) Fill(lo, hi float64) {
	c.lo = make([]float64, c.dim)
	c.hi = make([]float64, c.dim)
	for i := range c.lo {
		c.lo[i], c.hi[i] = lo, hi
	}
}

func (c *QaccBound) SetBounds(lo, hi []float64) error {
	if len(lo) != c.dim || len(hi) != c.dim {
		return fmt.Errorf("%w: qacc bound has %d entries, got %d/%d", ErrDimensionMismatch, c.dim, len(lo), len(hi))
	}
	c.lo, c.hi = append([]float64(nil), lo...), append([]float64(nil), hi...)
	return nil
}

func (c *QaccBound) Validate(model robot.Model) error {
	if model.NV() != c.dim {
		return fmt.Errorf("%w: qacc bound has %d entries, model has %d dof", ErrDimensionMismatch, c.dim, model.NV())
	}
	return nil
}

func (c *QaccBound) Evaluate(_ robot.Model, layout Layout) (*ConstraintRows, error) {
	return &ConstraintRows{
		C:     qaccMap(linalg.Identity(c.dim), layout),
		Lower: mat.NewVecDense(c.dim, append([]float64(nil), c.lo...)),
		Upper: mat.NewVecDense(c.dim, append([]float64(nil), c.hi...)),
	}, nil
}

var (
	_ LinearConstraint = (*ContactPointsConstraint)(nil)
	_ LinearConstraint = (*ContactForceConstraint)(nil)
	_ LinearConstraint = (*ClosedChainsConstraint)(nil)
	_ LinearConstraint = (*ActuatorLimit)(nil)
	_ LinearConstraint = (*QaccBound)(nil)
)
