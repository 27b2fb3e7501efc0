package integrators

import "github.com/san-kum/wbcsim/internal/sim"

// RK4 is the classical fourth-order scheme with the torque held over the
// step. Intermediate configurations are reached by integrating from q
// along the stage velocity, and the final configuration along the
// weighted mean velocity, so quaternions stay on the unit sphere.
type RK4 struct{}

func NewRK4() *RK4 {
	return &RK4{}
}

func (r *RK4) Step(dyn sim.Dynamics, q, v, tau []float64, dt float64) ([]float64, []float64, error) {
	a1, err := dyn.Acceleration(q, v, tau)
	if err != nil {
		return nil, nil, err
	}

	v2 := axpy(v, a1, dt/2)
	q2, err := dyn.Integrate(q, v, dt/2)
	if err != nil {
		return nil, nil, err
	}
	a2, err := dyn.Acceleration(q2, v2, tau)
	if err != nil {
		return nil, nil, err
	}

	v3 := axpy(v, a2, dt/2)
	q3, err := dyn.Integrate(q, v2, dt/2)
	if err != nil {
		return nil, nil, err
	}
	a3, err := dyn.Acceleration(q3, v3, tau)
	if err != nil {
		return nil, nil, err
	}

	v4 := axpy(v, a3, dt)
	q4, err := dyn.Integrate(q, v3, dt)
	if err != nil {
		return nil, nil, err
	}
	a4, err := dyn.Acceleration(q4, v4, tau)
	if err != nil {
		return nil, nil, err
	}

	n := len(v)
	vMean := make([]float64, n)
	vNext := make([]float64, n)
	for i := 0; i < n; i++ {
		vMean[i] = (v[i] + 2*v2[i] + 2*v3[i] + v4[i]) / 6
		vNext[i] = v[i] + dt/6*(a1[i]+2*a2[i]+2*a3[i]+a4[i])
	}
	qNext, err := dyn.Integrate(q, vMean, dt)
	if err != nil {
		return nil, nil, err
	}
	return qNext, vNext, nil
}
