// Package integrators advances the simulated plant one control period
// with the commanded torque held constant.
package integrators

import "github.com/san-kum/wbcsim/internal/sim"

// New returns the integrator registered under name.
func New(name string) (sim.Integrator, bool) {
	switch name {
	case "euler":
		return NewEuler(), true
	case "semi_implicit", "":
		return NewSemiImplicitEuler(), true
	case "rk4":
		return NewRK4(), true
	case "verlet":
		return NewVerlet(), true
	}
	return nil, false
}

// Names lists the registered integrators.
func Names() []string {
	return []string{"euler", "semi_implicit", "rk4", "verlet"}
}
