package metrics

import (
	"math"

	"github.com/san-kum/wbcsim/internal/controller"
	"github.com/san-kum/wbcsim/internal/sim"
)

// TrackingError is the RMS height error of the tracked targets: the CoM
// on a floating base, both toes on a fixed base. Failed ticks are skipped.
type TrackingError struct {
	name    string
	profile controller.Profile
	sumSq   float64
	samples int
}

func NewTrackingError(profile controller.Profile) *TrackingError {
	return &TrackingError{name: "tracking_rms", profile: profile}
}

func (e *TrackingError) Name() string { return e.name }

func (e *TrackingError) Observe(s sim.Step) {
	if s.Failed {
		return
	}
	ref, got := s.Reference, s.Measured
	if e.profile == controller.Floating {
		d := ref.CoM - got.CoM
		e.sumSq += d * d
		e.samples++
		return
	}
	l, r := ref.LeftToe-got.LeftToe, ref.RightToe-got.RightToe
	e.sumSq += l*l + r*r
	e.samples += 2
}

func (e *TrackingError) Value() float64 {
	if e.samples == 0 {
		return 0
	}
	return math.Sqrt(e.sumSq / float64(e.samples))
}

func (e *TrackingError) Reset() {
	e.sumSq = 0
	e.samples = 0
}
