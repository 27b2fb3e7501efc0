// Package tsc implements task-space control: weighted motion tasks and
// hard linear constraints over joint accelerations, contact forces and
// closed-chain forces, assembled into one QP per control tick.
package tsc

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/wbcsim/internal/linalg"
	"github.com/san-kum/wbcsim/internal/robot"
)

// Term is one task's contribution to the cost: W·‖Map·x − Desired‖².
// Weight is shared with the task and must be treated as read-only.
type Term struct {
	Map     *mat.Dense
	Desired *mat.VecDense
	Weight  *mat.Dense
}

// Task is a soft objective. Evaluate reads the model snapshot of the
// current tick and must not mutate it.
type Task interface {
	Name() string
	Validate(model robot.Model) error
	Evaluate(model robot.Model, layout Layout) (*Term, error)
}

// weightTolerance bounds the asymmetry and negative eigenvalues accepted
// in a weight matrix.
const weightTolerance = 1e-9

func checkWeight(w mat.Matrix, dim int) error {
	r, c := w.Dims()
	if r != dim || c != dim {
		return fmt.Errorf("%w: weight is %dx%d, want %dx%d", ErrDimensionMismatch, r, c, dim, dim)
	}
	sym := mat.NewSymDense(dim, nil)
	for i := 0; i < dim; i++ {
		for j := i; j < dim; j++ {
			if math.Abs(w.At(i, j)-w.At(j, i)) > weightTolerance*(1+math.Abs(w.At(i, j))) {
				return fmt.Errorf("%w: asymmetric at (%d,%d)", ErrInvalidWeight, i, j)
			}
			sym.SetSym(i, j, w.At(i, j))
		}
	}
	var eig mat.EigenSym
	if !eig.Factorize(sym, false) {
		return fmt.Errorf("%w: eigen decomposition failed", ErrInvalidWeight)
	}
	for _, v := range eig.Values(nil) {
		if v < -weightTolerance*mat.Norm(sym, math.Inf(1)) {
			return fmt.Errorf("%w: eigenvalue %g", ErrInvalidWeight, v)
		}
	}
	return nil
}

// motionTask carries the fields shared by PD-driven tasks.
type motionTask struct {
	name   string
	dim    int
	kp, kd []float64
	weight *mat.Dense
}

func newMotionTask(name string, dim int) motionTask {
	return motionTask{
		name:   name,
		dim:    dim,
		kp:     make([]float64, dim),
		kd:     make([]float64, dim),
		weight: linalg.Identity(dim),
	}
}

func (t *motionTask) Name() string { return t.name }
func (t *motionTask) Dim() int     { return t.dim }

func (t *motionTask) Kp() []float64 { return append([]float64(nil), t.kp...) }
func (t *motionTask) Kd() []float64 { return append([]float64(nil), t.kd...) }

func (t *motionTask) Weight() *mat.Dense { return mat.DenseCopyOf(t.weight) }

// SetGains sets the diagonal gains. Either may be nil to leave it unchanged.
func (t *motionTask) SetGains(kp, kd []float64) error {
	for _, g := range [][]float64{kp, kd} {
		if g != nil && len(g) != t.dim {
			return fmt.Errorf("%w: task %q has %d rows, got %d gains", ErrDimensionMismatch, t.name, t.dim, len(g))
		}
	}
	if kp != nil {
		t.kp = append([]float64(nil), kp...)
	}
	if kd != nil {
		t.kd = append([]float64(nil), kd...)
	}
	return nil
}

// SetCriticalDamping sets Kd = 2·√Kp.
func (t *motionTask) SetCriticalDamping() {
	for i, k := range t.kp {
		t.kd[i] = 2 * math.Sqrt(math.Max(k, 0))
	}
}

func (t *motionTask) SetWeight(w mat.Matrix) error {
	if err := checkWeight(w, t.dim); err != nil {
		return fmt.Errorf("task %q: %w", t.name, err)
	}
	t.weight = mat.DenseCopyOf(w)
	return nil
}

// SetWeightDiagonal sets a diagonal weight.
func (t *motionTask) SetWeightDiagonal(diag ...float64) error {
	if len(diag) != t.dim {
		return fmt.Errorf("%w: task %q has %d rows, got %d weights", ErrDimensionMismatch, t.name, t.dim, len(diag))
	}
	return t.SetWeight(linalg.Diag(diag...))
}

// ScaleWeight multiplies the weight by a non-negative s. Terms already
// evaluated keep the weight they were built with.
func (t *motionTask) ScaleWeight(s float64) error {
	if s < 0 {
		return fmt.Errorf("%w: task %q scaled by %g", ErrInvalidWeight, t.name, s)
	}
	t.weight = linalg.Scaled(s, t.weight)
	return nil
}

// pd returns Kp⊙e + Kd⊙ė + ff − drift.
func (t *motionTask) pd(e, edot, ff []float64, drift mat.Vector) *mat.VecDense {
	out := linalg.ZeroVec(t.dim)
	for i := 0; i < t.dim; i++ {
		v := t.kp[i]*e[i] + ff[i]
		if edot != nil {
			v += t.kd[i] * edot[i]
		}
		if drift != nil {
			v -= drift.AtVec(i)
		}
		out.SetVec(i, v)
	}
	return out
}

// qaccMap places jac in the q̈ columns of a dim×layout.Size() map.
func qaccMap(jac mat.Matrix, layout Layout) *mat.Dense {
	m := linalg.Zeros(linalg.Rows(jac), layout.Size())
	linalg.SetBlock(m, 0, layout.QaccOffset(), jac)
	return m
}
