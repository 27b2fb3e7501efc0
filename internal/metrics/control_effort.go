package metrics

import (
	"math"

	"github.com/san-kum/wbcsim/internal/sim"
)

// ControlEffort is the mean over ticks of the mean absolute joint torque.
// Held commands on failed ticks count, since the plant still receives them.
type ControlEffort struct {
	sum   float64
	ticks int
	peak  float64
	joint int
}

func NewControlEffort() *ControlEffort { return &ControlEffort{joint: -1} }

func (c *ControlEffort) Name() string { return "control_effort" }

func (c *ControlEffort) Observe(s sim.Step) {
	if len(s.Torque) == 0 {
		return
	}
	tick := 0.0
	for j, tau := range s.Torque {
		a := math.Abs(tau)
		tick += a
		if a > c.peak {
			c.peak, c.joint = a, j
		}
	}
	c.sum += tick / float64(len(s.Torque))
	c.ticks++
}

func (c *ControlEffort) Value() float64 {
	if c.ticks == 0 {
		return 0
	}
	return c.sum / float64(c.ticks)
}

// Peak is the largest |τ| seen and the actuator index it came from,
// -1 before any torque.
func (c *ControlEffort) Peak() (float64, int) { return c.peak, c.joint }

func (c *ControlEffort) Reset() { *c = ControlEffort{joint: -1} }
