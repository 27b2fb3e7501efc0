// Package experiment assembles a closed-loop run from a configuration:
// the controller on its own robot model, a separate plant model, the
// integrator and the standard metrics.
package experiment

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/san-kum/wbcsim/internal/config"
	"github.com/san-kum/wbcsim/internal/controller"
	"github.com/san-kum/wbcsim/internal/metrics"
	"github.com/san-kum/wbcsim/internal/qp"
	"github.com/san-kum/wbcsim/internal/robot"
	"github.com/san-kum/wbcsim/internal/sim"
	"github.com/san-kum/wbcsim/internal/telemetry"
)

type Experiment struct {
	name     string
	cfg      *config.Config
	registry *Registry
	logger   *zap.Logger
	recorder telemetry.Recorder

	controller *controller.Controller
	plant      *sim.Plant
	simulator  *sim.Simulator
}

type Option func(*Experiment)

func WithLogger(l *zap.Logger) Option {
	return func(e *Experiment) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithRecorder(r telemetry.Recorder) Option {
	return func(e *Experiment) {
		if r != nil {
			e.recorder = r
		}
	}
}

func New(name string, cfg *config.Config, opts ...Option) *Experiment {
	e := &Experiment{
		name:     name,
		cfg:      cfg,
		registry: NewRegistry(),
		logger:   zap.NewNop(),
		recorder: telemetry.Nop{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Setup builds the controller, plant and simulator. It may be called again
// to start over from a fresh state.
func (e *Experiment) Setup() error {
	if err := e.cfg.Validate(); err != nil {
		return err
	}
	model, err := e.registry.Model(e.cfg.Robot)
	if err != nil {
		return err
	}
	plantModel, err := e.registry.Model(e.cfg.Robot)
	if err != nil {
		return err
	}
	integ, err := e.registry.Integrator(e.cfg.Sim.Integrator)
	if err != nil {
		return err
	}
	solver, err := qp.NewADMM(e.cfg.Solver)
	if err != nil {
		return err
	}

	profile := e.Profile()
	ctrl, err := controller.New(profile, model, solver, e.cfg.Controller,
		controller.WithLogger(e.logger.Named("controller")),
		controller.WithRecorder(e.recorder))
	if err != nil {
		return err
	}
	if len(e.cfg.Sim.ContactMask) > 0 {
		if err := ctrl.SetContactMask(e.cfg.Sim.ContactMask); err != nil {
			return err
		}
	}

	plant, err := sim.NewPlant(plantModel, robot.BipedContactLinks, robot.BipedLinkPairs)
	if err != nil {
		return fmt.Errorf("plant: %w", err)
	}

	s := sim.New(plant, integ, ctrl, e.cfg.Robot.FloatingBase, e.logger.Named("sim"))
	for _, m := range metrics.Standard(profile) {
		s.AddMetric(m)
	}

	e.controller, e.plant, e.simulator = ctrl, plant, s
	return nil
}

func (e *Experiment) Name() string                       { return e.name }
func (e *Experiment) Config() *config.Config             { return e.cfg }
func (e *Experiment) Profile() controller.Profile        { return controller.ProfileFor(e.cfg.Robot.FloatingBase) }
func (e *Experiment) Controller() *controller.Controller { return e.controller }
func (e *Experiment) Plant() *sim.Plant                  { return e.plant }

// GetSimulator returns the underlying simulator for adding observers.
func (e *Experiment) GetSimulator() *sim.Simulator { return e.simulator }

// InitialState is the plant's home configuration at rest.
func (e *Experiment) InitialState() (q0, v0 []float64) {
	m := e.plant.Model()
	return m.HomeConfiguration(), make([]float64, m.NV())
}

func (e *Experiment) SimConfig() sim.Config {
	return sim.Config{
		Dt:                     e.cfg.Sim.Dt,
		Ticks:                  e.cfg.Sim.NumTicks(),
		ValidateState:          true,
		MaxConsecutiveFailures: e.cfg.Sim.MaxConsecutiveFailures,
	}
}

func (e *Experiment) Run(ctx context.Context) (*sim.Result, error) {
	if e.simulator == nil {
		return nil, fmt.Errorf("experiment %s not setup", e.name)
	}
	q0, v0 := e.InitialState()
	return e.simulator.Run(ctx, q0, v0, e.SimConfig())
}

// Start opens a session for stepping the loop tick by tick.
func (e *Experiment) Start() (*sim.Session, error) {
	if e.simulator == nil {
		return nil, fmt.Errorf("experiment %s not setup", e.name)
	}
	q0, v0 := e.InitialState()
	return e.simulator.Start(q0, v0, e.SimConfig())
}

// Job wraps the experiment for a sim.Batch; setup runs on the job's own
// goroutine.
func (e *Experiment) Job() sim.Job { return e.PerturbedJob(nil) }

// PerturbedJob is Job with the initial state passed through perturb
// before the run starts.
func (e *Experiment) PerturbedJob(perturb func(q0, v0 []float64)) sim.Job {
	return sim.Job{
		Name: e.name,
		Build: func() (*sim.Simulator, []float64, []float64, sim.Config, error) {
			if err := e.Setup(); err != nil {
				return nil, nil, nil, sim.Config{}, err
			}
			q0, v0 := e.InitialState()
			if perturb != nil {
				perturb(q0, v0)
			}
			return e.simulator, q0, v0, e.SimConfig(), nil
		},
	}
}
