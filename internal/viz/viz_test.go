package viz

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/san-kum/wbcsim/internal/controller"
	"github.com/san-kum/wbcsim/internal/robot"
	"github.com/san-kum/wbcsim/internal/sim"
)

func TestCanvasLine(t *testing.T) {
	c := NewCanvas(4, 2)
	c.Line(0, 0, 7, 7)
	out := c.String()
	if strings.Count(out, "\n") != 2 {
		t.Fatalf("expected 2 rows, got %q", out)
	}
	blank := string(rune(brailleBlank))
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	if strings.HasPrefix(lines[0], blank) || strings.HasSuffix(lines[1], blank) {
		t.Errorf("diagonal does not span the canvas:\n%s", out)
	}

	c.Clear()
	if strings.Trim(c.String(), blank+"\n") != "" {
		t.Error("expected a blank canvas after clear")
	}
}

func TestCanvasIgnoresOutOfBounds(t *testing.T) {
	c := NewCanvas(2, 1)
	c.Set(-1, 0)
	c.Set(4, 0)
	c.Set(0, 4)
	blank := string(rune(brailleBlank))
	if c.String() != blank+blank+"\n" {
		t.Errorf("unexpected dots %q", c.String())
	}
}

type fakeStepper struct {
	tick   int
	failAt int
}

func (f *fakeStepper) Tick() int { return f.tick }

func (f *fakeStepper) Step() (sim.Step, error) {
	if f.tick == f.failAt {
		return sim.Step{}, sim.SimError{Step: f.tick, Message: "invalid state (NaN/Inf)"}
	}
	s := sim.Step{
		Tick:      f.tick,
		Q:         []float64{0},
		Torque:    []float64{10, -50},
		Reference: controller.Heights{CoM: 0.9},
		Measured:  controller.Heights{CoM: 0.89},
		SolveTime: time.Millisecond,
		Failed:    f.tick%5 == 4,
	}
	f.tick++
	return s, nil
}

func newMonitor(t *testing.T, failAt int) (*Monitor, *int) {
	t.Helper()
	starts := 0
	m, err := NewMonitor("floating", controller.Floating, func() (Stepper, error) {
		starts++
		return &fakeStepper{failAt: failAt}, nil
	},
		WithTicksPerFrame(10),
		WithEffortLimits([]float64{100, 100}),
		WithSkeleton(func(q []float64) ([]robot.Segment, error) {
			return []robot.Segment{{To: [3]float64{0, 0, 1}}}, nil
		}, 0),
	)
	if err != nil {
		t.Fatal(err)
	}
	return m, &starts
}

func TestMonitorAdvances(t *testing.T) {
	m, _ := newMonitor(t, -1)
	m.Update(TickMsg(time.Now()))
	if m.stepper.Tick() != 10 {
		t.Fatalf("expected 10 ticks after one frame, got %d", m.stepper.Tick())
	}
	if m.failures != 2 || len(m.reference) != 8 {
		t.Errorf("failures=%d samples=%d", m.failures, len(m.reference))
	}
	view := m.View()
	for _, want := range []string{"FLOATING", "RUNNING", "TORQUES"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestMonitorPauseAndReset(t *testing.T) {
	m, starts := newMonitor(t, -1)
	m.Update(tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}})
	m.Update(TickMsg(time.Now()))
	if m.stepper.Tick() != 0 {
		t.Errorf("paused monitor stepped to %d", m.stepper.Tick())
	}

	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})
	if *starts != 2 || !m.running {
		t.Errorf("reset did not restart: starts=%d running=%v", *starts, m.running)
	}
}

func TestMonitorStopsOnSimError(t *testing.T) {
	m, _ := newMonitor(t, 3)
	m.Update(TickMsg(time.Now()))
	var se sim.SimError
	if !errors.As(m.err, &se) || m.running {
		t.Fatalf("expected a stop on SimError, got %v", m.err)
	}
	if m.stepper.Tick() != 3 {
		t.Errorf("tick %d", m.stepper.Tick())
	}
	if !strings.Contains(m.View(), "STOPPED") {
		t.Error("view does not report the stop")
	}
}

func TestThemeCycle(t *testing.T) {
	defer SetTheme(ThemeNeon.Name)
	SetTheme("retro")
	if CurrentTheme.Name != "retro" {
		t.Errorf("got %s", CurrentTheme.Name)
	}
	SetTheme("unknown")
	if CurrentTheme.Name != ThemeNeon.Name {
		t.Errorf("unknown theme should fall back to %s", ThemeNeon.Name)
	}
}
