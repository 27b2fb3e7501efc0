package metrics

import (
	"time"

	"github.com/san-kum/wbcsim/internal/controller"
	"github.com/san-kum/wbcsim/internal/sim"
)

// SolveTime reports the mean controller tick duration in milliseconds.
type SolveTime struct {
	name    string
	total   time.Duration
	max     time.Duration
	samples int
}

func NewSolveTime() *SolveTime {
	return &SolveTime{name: "solve_ms"}
}

func (s *SolveTime) Name() string { return s.name }

func (s *SolveTime) Observe(step sim.Step) {
	if step.Failed {
		return
	}
	s.total += step.SolveTime
	if step.SolveTime > s.max {
		s.max = step.SolveTime
	}
	s.samples++
}

func (s *SolveTime) Value() float64 {
	if s.samples == 0 {
		return 0
	}
	return float64(s.total.Microseconds()) / 1000 / float64(s.samples)
}

// Max is the slowest successful tick.
func (s *SolveTime) Max() time.Duration { return s.max }

func (s *SolveTime) Reset() {
	s.total, s.max = 0, 0
	s.samples = 0
}

// SolveFailures counts the ticks whose controller run failed.
type SolveFailures struct {
	name     string
	failures int
	samples  int
}

func NewSolveFailures() *SolveFailures {
	return &SolveFailures{name: "failures"}
}

func (f *SolveFailures) Name() string { return f.name }

func (f *SolveFailures) Observe(s sim.Step) {
	f.samples++
	if s.Failed {
		f.failures++
	}
}

func (f *SolveFailures) Value() float64 { return float64(f.failures) }

// Rate is the failed fraction of the observed ticks.
func (f *SolveFailures) Rate() float64 {
	if f.samples == 0 {
		return 0
	}
	return float64(f.failures) / float64(f.samples)
}

func (f *SolveFailures) Reset() {
	f.failures = 0
	f.samples = 0
}

// Standard returns the metrics every run records.
func Standard(profile controller.Profile) []sim.Metric {
	return []sim.Metric{
		NewTrackingError(profile),
		NewControlEffort(),
		NewSolveTime(),
		NewSolveFailures(),
	}
}
