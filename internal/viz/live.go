package viz

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/wbcsim/internal/controller"
	"github.com/san-kum/wbcsim/internal/robot"
	"github.com/san-kum/wbcsim/internal/sim"
)

const (
	canvasCols      = 48
	canvasRows      = 20
	historyCapacity = 600
	frameRate       = 30
)

// Stepper advances a closed loop one control tick at a time.
type Stepper interface {
	Step() (sim.Step, error)
	Tick() int
}

// SkeletonFunc returns the segments to draw for configuration q.
type SkeletonFunc func(q []float64) ([]robot.Segment, error)

var (
	canvasStyle = lipgloss.NewStyle().Padding(1, 2)
	statsStyle  = lipgloss.NewStyle().Border(lipgloss.NormalBorder(), false, false, false, true).BorderForeground(lipgloss.Color("240")).Padding(1, 2).Width(52)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(14)
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	graphStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("49")).Padding(1, 0)
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).MarginTop(1)
)

type TickMsg time.Time

// Monitor is a bubbletea model that runs a closed loop and shows the
// tracked height against its reference, the solve time and the torques.
type Monitor struct {
	title         string
	profile       controller.Profile
	start         func() (Stepper, error)
	stepper       Stepper
	skeleton      SkeletonFunc
	ground        float64
	ticksPerFrame int
	limits        []float64
	canvas        *Canvas
	running       bool
	err           error
	last          sim.Step
	failures      int
	reference     []float64
	measured      []float64
	solveMs       []float64
	showHelp      bool
}

type MonitorOption func(*Monitor)

// WithSkeleton draws the robot from its configuration, with the ground at
// height ground.
func WithSkeleton(fn SkeletonFunc, ground float64) MonitorOption {
	return func(m *Monitor) { m.skeleton, m.ground = fn, ground }
}

// WithEffortLimits scales the torque bars.
func WithEffortLimits(limits []float64) MonitorOption {
	return func(m *Monitor) { m.limits = limits }
}

// WithTicksPerFrame sets how many control ticks run between redraws.
func WithTicksPerFrame(n int) MonitorOption {
	return func(m *Monitor) {
		if n > 0 {
			m.ticksPerFrame = n
		}
	}
}

// NewMonitor builds a monitor; start opens a fresh closed loop and is
// called again on reset.
func NewMonitor(title string, profile controller.Profile, start func() (Stepper, error), opts ...MonitorOption) (*Monitor, error) {
	stepper, err := start()
	if err != nil {
		return nil, err
	}
	m := &Monitor{
		title:         title,
		profile:       profile,
		start:         start,
		stepper:       stepper,
		ticksPerFrame: 1,
		canvas:        NewCanvas(canvasCols, canvasRows),
		running:       true,
		reference:     make([]float64, 0, historyCapacity),
		measured:      make([]float64, 0, historyCapacity),
		solveMs:       make([]float64, 0, historyCapacity),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Monitor) Init() tea.Cmd { return tick() }

func tick() tea.Cmd {
	return tea.Tick(time.Second/frameRate, func(t time.Time) tea.Msg { return TickMsg(t) })
}

func (m *Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case " ":
			m.running = !m.running
		case "r":
			m.reset()
		case "+", "=":
			m.ticksPerFrame *= 2
		case "-", "_":
			if m.ticksPerFrame > 1 {
				m.ticksPerFrame /= 2
			}
		case "t":
			names := ThemeNames()
			for i, name := range names {
				if name == CurrentTheme.Name {
					SetTheme(names[(i+1)%len(names)])
					break
				}
			}
		case "?":
			m.showHelp = !m.showHelp
		}
	case TickMsg:
		if m.running && m.err == nil {
			m.advance()
		}
		return m, tick()
	}
	return m, nil
}

// advance runs one frame worth of ticks.
func (m *Monitor) advance() {
	for i := 0; i < m.ticksPerFrame; i++ {
		step, err := m.stepper.Step()
		if err != nil {
			m.err = err
			m.running = false
			return
		}
		m.record(step)
	}
}

func (m *Monitor) record(step sim.Step) {
	m.last = step
	if step.Failed {
		m.failures++
		return
	}
	ref, got := tracked(m.profile, step.Reference), tracked(m.profile, step.Measured)
	m.reference = appendBounded(m.reference, ref)
	m.measured = appendBounded(m.measured, got)
	m.solveMs = appendBounded(m.solveMs, float64(step.SolveTime.Microseconds())/1000)
}

// tracked picks the height the profile's task tracks most visibly: the
// CoM on a floating base, the right toe on a fixed base.
func tracked(p controller.Profile, h controller.Heights) float64 {
	if p == controller.Floating {
		return h.CoM
	}
	return h.RightToe
}

func appendBounded(xs []float64, x float64) []float64 {
	xs = append(xs, x)
	if len(xs) > historyCapacity {
		xs = xs[1:]
	}
	return xs
}

func (m *Monitor) reset() {
	stepper, err := m.start()
	if err != nil {
		m.err = err
		return
	}
	m.stepper = stepper
	m.err = nil
	m.last = sim.Step{}
	m.failures = 0
	m.reference = m.reference[:0]
	m.measured = m.measured[:0]
	m.solveMs = m.solveMs[:0]
	m.running = true
}

func (m *Monitor) status() string {
	switch {
	case m.err != nil:
		var se sim.SimError
		if errors.As(m.err, &se) {
			return StatusError().Render("STOPPED " + se.Message)
		}
		return StatusError().Render("ERROR " + m.err.Error())
	case !m.running:
		return StatusPaused().Render("PAUSED")
	}
	return StatusRunning().Render("RUNNING")
}

func (m *Monitor) View() string {
	m.canvas.Clear()
	if m.skeleton != nil && m.last.Q != nil {
		if segs, err := m.skeleton(m.last.Q); err == nil {
			m.canvas.DrawSideView(segs, m.ground)
		}
	}

	var s strings.Builder
	s.WriteString(HeaderStyle().Render(strings.ToUpper(m.title)) + "\n")
	s.WriteString(m.status() + "\n\n")

	if len(m.reference) > 1 {
		caption := "right toe height (m)"
		if m.profile == controller.Floating {
			caption = "com height (m)"
		}
		chart := asciigraph.PlotMany([][]float64{m.reference, m.measured},
			asciigraph.Height(6), asciigraph.Width(40),
			asciigraph.SeriesColors(asciigraph.Gray, asciigraph.Green),
			asciigraph.Caption(caption+"  reference / measured"))
		s.WriteString(graphStyle.Render(chart) + "\n")
	}

	row := func(label, value string) {
		s.WriteString(labelStyle.Render(label) + valueStyle.Render(value) + "\n")
	}
	row("Tick", fmt.Sprintf("%d (x%d/frame)", m.stepper.Tick(), m.ticksPerFrame))
	row("Time", fmt.Sprintf("%.3fs", m.last.Time))
	row("Iterations", fmt.Sprintf("%d", m.last.Iterations))
	row("Failures", fmt.Sprintf("%d", m.failures))
	if n := len(m.solveMs); n > 0 {
		row("Solve", fmt.Sprintf("%.2fms", m.solveMs[n-1]))
		s.WriteString(labelStyle.Render("") + SparklineChart(m.solveMs, 30) + "\n")
	}

	if len(m.last.Torque) > 0 {
		s.WriteString("\n" + MetricLabel.Render("TORQUES") + "\n")
		for i, tau := range m.last.Torque {
			limit := 1.0
			if i < len(m.limits) && m.limits[i] > 0 {
				limit = m.limits[i]
			}
			s.WriteString(fmt.Sprintf("%3d %s %8.2f\n", i, ProgressBar(math.Abs(tau)/limit, 20), tau))
		}
	}
	s.WriteString(helpStyle.Render(Separator(40) + "\nSP:Pause R:Reset Q:Quit\n+/-:Speed T:Theme ?:Help"))

	mainView := lipgloss.JoinHorizontal(lipgloss.Top, canvasStyle.Render(m.canvas.String()), statsStyle.Render(s.String()))
	if m.showHelp {
		return BoxWithTitle("keys", strings.Join([]string{
			"Space  pause or resume",
			"R      restart from the initial state",
			"+ / -  double or halve the ticks per frame",
			"T      cycle themes",
			"Q      quit",
		}, "\n"), 48) + "\n\n" + mainView
	}
	return mainView
}
