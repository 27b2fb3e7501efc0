package integrators

import "github.com/san-kum/wbcsim/internal/sim"

// Verlet is velocity Verlet with the acceleration re-evaluated at the new
// configuration. The velocity-dependent terms use the half-step velocity.
type Verlet struct{}

func NewVerlet() *Verlet {
	return &Verlet{}
}

func (vv *Verlet) Step(dyn sim.Dynamics, q, v, tau []float64, dt float64) ([]float64, []float64, error) {
	a, err := dyn.Acceleration(q, v, tau)
	if err != nil {
		return nil, nil, err
	}
	vHalf := axpy(v, a, dt/2)
	qNext, err := dyn.Integrate(q, vHalf, dt)
	if err != nil {
		return nil, nil, err
	}
	aNext, err := dyn.Acceleration(qNext, vHalf, tau)
	if err != nil {
		return nil, nil, err
	}
	return qNext, axpy(vHalf, aNext, dt/2), nil
}
