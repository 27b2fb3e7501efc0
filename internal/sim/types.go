package sim

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/san-kum/wbcsim/internal/controller"
	"github.com/san-kum/wbcsim/internal/tsc"
)

// Dynamics is the simulated plant.
type Dynamics interface {
	// Acceleration returns q̈ for actuator torques tau at state (q, v).
	Acceleration(q, v, tau []float64) ([]float64, error)
	// Integrate advances q along v for dt on the configuration manifold.
	Integrate(q, v []float64, dt float64) ([]float64, error)
	NV() int
	NA() int
}

type Integrator interface {
	Step(dyn Dynamics, q, v, tau []float64, dt float64) (qNext, vNext []float64, err error)
}

// Controller is the closed-loop side of the simulation.
type Controller interface {
	Run(ref controller.Reference, state controller.RobotState) error
	CurrentJointsCommand() (controller.JointsCommand, error)
	Tracking() controller.Tracking
	Diagnostics() tsc.Diagnostics
	ContactMask() []bool
	LastTickDuration() time.Duration
}

// Step is the record of one control tick.
type Step struct {
	Tick       int
	Time       float64
	Q, V       []float64
	Torque     []float64
	Reference  controller.Heights
	Measured   controller.Heights
	SolveTime  time.Duration
	Iterations int
	// Failed marks a tick whose controller run failed; Torque then holds
	// the previous command.
	Failed bool
}

type Metric interface {
	Name() string
	Observe(s Step)
	Value() float64
	Reset()
}

type Observer interface {
	OnStep(s Step)
}

type Config struct {
	Dt    float64
	Ticks int
	// ValidateState stops the run on a non-finite integrated state.
	ValidateState bool
	// MaxConsecutiveFailures stops the run after that many failed ticks
	// in a row; 0 never stops.
	MaxConsecutiveFailures int
}

type Result struct {
	Steps      []Step
	Metrics    map[string]float64
	Errors     []error
	StepsTaken int
	Failures   int
}

// Stopped reports whether the run ended early on a SimError.
func (r *Result) Stopped() bool {
	for _, err := range r.Errors {
		var se SimError
		if errors.As(err, &se) {
			return true
		}
	}
	return false
}

type SimError struct {
	Time    float64
	Step    int
	Message string
}

func (e SimError) Error() string {
	return fmt.Sprintf("sim error at t=%.4f (step %d): %s", e.Time, e.Step, e.Message)
}

func finite(xs ...[]float64) bool {
	for _, x := range xs {
		for _, v := range x {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}
