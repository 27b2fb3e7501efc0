package metrics

import (
	"math"
	"testing"
	"time"

	"github.com/san-kum/wbcsim/internal/controller"
	"github.com/san-kum/wbcsim/internal/sim"
)

func TestControlEffort(t *testing.T) {
	m := NewControlEffort()
	m.Observe(sim.Step{Torque: []float64{1, -3}})
	m.Observe(sim.Step{Torque: []float64{0, 0}})
	m.Observe(sim.Step{})
	if got := m.Value(); got != 1 {
		t.Errorf("expected mean effort 1, got %f", got)
	}
	if peak, joint := m.Peak(); peak != 3 || joint != 1 {
		t.Errorf("peak = %f on joint %d, want 3 on joint 1", peak, joint)
	}
	m.Reset()
	if m.Value() != 0 {
		t.Error("expected zero effort after reset")
	}
	if _, joint := m.Peak(); joint != -1 {
		t.Errorf("expected no peak joint after reset, got %d", joint)
	}
}

func TestTrackingError(t *testing.T) {
	tests := []struct {
		name    string
		profile controller.Profile
		want    float64
	}{
		{"floating tracks the com", controller.Floating, 0.03},
		{"fixed tracks both toes", controller.Fixed, math.Sqrt((0.01 + 0.04) / 2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewTrackingError(tt.profile)
			m.Observe(sim.Step{
				Reference: controller.Heights{CoM: 0.9, LeftToe: -0.8, RightToe: -0.8},
				Measured:  controller.Heights{CoM: 0.87, LeftToe: -0.7, RightToe: -1.0},
			})
			m.Observe(sim.Step{Failed: true, Reference: controller.Heights{CoM: 5}})
			if got := m.Value(); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("got %f, want %f", got, tt.want)
			}
		})
	}
}

func TestSolveTime(t *testing.T) {
	m := NewSolveTime()
	m.Observe(sim.Step{SolveTime: time.Millisecond})
	m.Observe(sim.Step{SolveTime: 3 * time.Millisecond})
	m.Observe(sim.Step{SolveTime: time.Second, Failed: true})
	if got := m.Value(); got != 2 {
		t.Errorf("expected 2ms mean, got %f", got)
	}
	if m.Max() != 3*time.Millisecond {
		t.Errorf("max %v", m.Max())
	}
}

func TestSolveFailures(t *testing.T) {
	m := NewSolveFailures()
	for i := 0; i < 4; i++ {
		m.Observe(sim.Step{Failed: i == 0})
	}
	if got := m.Value(); got != 1 {
		t.Errorf("expected 1 failure, got %f", got)
	}
	if got := m.Rate(); got != 0.25 {
		t.Errorf("expected rate 0.25, got %f", got)
	}
}

func TestStandardNamesAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, m := range Standard(controller.Fixed) {
		if seen[m.Name()] {
			t.Errorf("duplicate metric %s", m.Name())
		}
		seen[m.Name()] = true
	}
}
