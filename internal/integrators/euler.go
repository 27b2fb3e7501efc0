package integrators

import "github.com/san-kum/wbcsim/internal/sim"

// Euler advances q with the old velocity: q' = q ⊕ v·dt, v' = v + a·dt.
type Euler struct{}

func NewEuler() *Euler {
	return &Euler{}
}

func (e *Euler) Step(dyn sim.Dynamics, q, v, tau []float64, dt float64) ([]float64, []float64, error) {
	a, err := dyn.Acceleration(q, v, tau)
	if err != nil {
		return nil, nil, err
	}
	qNext, err := dyn.Integrate(q, v, dt)
	if err != nil {
		return nil, nil, err
	}
	return qNext, axpy(v, a, dt), nil
}

// SemiImplicitEuler advances q with the updated velocity:
// v' = v + a·dt, q' = q ⊕ v'·dt. It is the default plant integrator.
type SemiImplicitEuler struct{}

func NewSemiImplicitEuler() *SemiImplicitEuler {
	return &SemiImplicitEuler{}
}

func (e *SemiImplicitEuler) Step(dyn sim.Dynamics, q, v, tau []float64, dt float64) ([]float64, []float64, error) {
	a, err := dyn.Acceleration(q, v, tau)
	if err != nil {
		return nil, nil, err
	}
	vNext := axpy(v, a, dt)
	qNext, err := dyn.Integrate(q, vNext, dt)
	if err != nil {
		return nil, nil, err
	}
	return qNext, vNext, nil
}

// axpy returns x + s·y.
func axpy(x, y []float64, s float64) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		out[i] = x[i] + s*y[i]
	}
	return out
}
