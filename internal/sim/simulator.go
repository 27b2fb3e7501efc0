package sim

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/san-kum/wbcsim/internal/controller"
)

// contactMasker is implemented by plants that follow the controller's
// contact mask.
type contactMasker interface {
	SetContactMask(mask []bool)
}

type Simulator struct {
	dyn        Dynamics
	integrator Integrator
	controller Controller
	floating   bool
	logger     *zap.Logger
	metrics    []Metric
	observers  []Observer
}

func New(dyn Dynamics, integrator Integrator, ctrl Controller, floating bool, logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{
		dyn:        dyn,
		integrator: integrator,
		controller: ctrl,
		floating:   floating,
		logger:     logger,
		metrics:    make([]Metric, 0),
		observers:  make([]Observer, 0),
	}
}

func (s *Simulator) AddMetric(m Metric)     { s.metrics = append(s.metrics, m) }
func (s *Simulator) AddObserver(o Observer) { s.observers = append(s.observers, o) }

// Run closes the loop for cfg.Ticks control ticks starting at (q0, v0).
// A failed controller tick holds the previous command (zero torque before
// the first success) and is counted in Result.Failures.
func (s *Simulator) Run(ctx context.Context, q0, v0 []float64, cfg Config) (*Result, error) {
	sess, err := s.Start(q0, v0, cfg)
	if err != nil {
		return nil, err
	}

	for sess.Tick() < cfg.Ticks {
		select {
		case <-ctx.Done():
			return sess.Result(), ctx.Err()
		default:
		}

		if _, err := sess.Step(); err != nil {
			var se SimError
			if errors.As(err, &se) {
				break
			}
			return sess.Result(), err
		}
	}

	result := sess.Result()
	s.logger.Info("simulation finished",
		zap.Int("ticks", result.StepsTaken),
		zap.Int("failures", result.Failures))
	return result, nil
}

// Session is a closed loop advanced one control tick at a time.
type Session struct {
	sim         *Simulator
	cfg         Config
	q, v        []float64
	held        []float64
	consecutive int
	tick        int
	t           float64
	result      *Result
	stopped     error
}

// Start resets the metrics and opens a session at (q0, v0).
func (s *Simulator) Start(q0, v0 []float64, cfg Config) (*Session, error) {
	if err := s.validateConfig(cfg); err != nil {
		return nil, err
	}
	for _, m := range s.metrics {
		m.Reset()
	}
	return &Session{
		sim: s,
		cfg: cfg,
		q:   append([]float64(nil), q0...),
		v:   append([]float64(nil), v0...),
		result: &Result{
			Steps:   make([]Step, 0, cfg.Ticks),
			Metrics: make(map[string]float64),
			Errors:  make([]error, 0),
		},
	}, nil
}

func (ss *Session) Tick() int     { return ss.tick }
func (ss *Session) Time() float64 { return ss.t }

// Result returns the record so far with current metric values.
func (ss *Session) Result() *Result {
	for _, m := range ss.sim.metrics {
		ss.result.Metrics[m.Name()] = m.Value()
	}
	return ss.result
}

// Step runs one controller tick and integrates the plant over one period.
// A SimError means the session has stopped; later calls return it again.
func (ss *Session) Step() (Step, error) {
	if ss.stopped != nil {
		return Step{}, ss.stopped
	}
	s, i, t := ss.sim, ss.tick, ss.t
	result := ss.result

	step := Step{Tick: i, Time: t, Q: append([]float64(nil), ss.q...), V: append([]float64(nil), ss.v...)}
	state := controller.StateFromGeneralized(ss.q, ss.v, s.floating)
	if err := s.controller.Run(controller.Reference{}, state); err != nil {
		result.Failures++
		ss.consecutive++
		result.Errors = append(result.Errors, err)
		s.logger.Warn("holding previous command", zap.Int("tick", i), zap.Error(err))
		step.Failed = true
	} else {
		ss.consecutive = 0
		cmd, err := s.controller.CurrentJointsCommand()
		if err != nil {
			return step, err
		}
		ss.held = cmd.FeedForwardTorque
		tracking := s.controller.Tracking()
		step.Reference, step.Measured = tracking.Reference, tracking.Measured
	}
	if ss.held == nil {
		// nothing to hold before the first successful tick
		ss.held = make([]float64, s.dyn.NA())
	}
	diag := s.controller.Diagnostics()
	step.Torque = append([]float64(nil), ss.held...)
	step.SolveTime = s.controller.LastTickDuration()
	step.Iterations = diag.Iterations

	for _, m := range s.metrics {
		m.Observe(step)
	}
	for _, obs := range s.observers {
		obs.OnStep(step)
	}
	result.Steps = append(result.Steps, step)

	if ss.cfg.MaxConsecutiveFailures > 0 && ss.consecutive >= ss.cfg.MaxConsecutiveFailures {
		return step, ss.stop(SimError{Time: t, Step: i, Message: "too many consecutive controller failures"})
	}

	if m, ok := s.dyn.(contactMasker); ok {
		m.SetContactMask(s.controller.ContactMask())
	}
	qNext, vNext, err := s.integrator.Step(s.dyn, ss.q, ss.v, ss.held, ss.cfg.Dt)
	if err != nil {
		return step, ss.stop(SimError{Time: t, Step: i, Message: err.Error()})
	}
	if ss.cfg.ValidateState && !finite(qNext, vNext) {
		return step, ss.stop(SimError{Time: t, Step: i, Message: "invalid state (NaN/Inf)"})
	}
	ss.q, ss.v = qNext, vNext
	ss.t += ss.cfg.Dt
	ss.tick++
	result.StepsTaken++
	return step, nil
}

func (ss *Session) stop(err SimError) error {
	ss.result.Errors = append(ss.result.Errors, err)
	ss.stopped = err
	return err
}

func (s *Simulator) validateConfig(cfg Config) error {
	if cfg.Dt <= 0 {
		return fmt.Errorf("dt must be positive, got %f", cfg.Dt)
	}
	if cfg.Ticks <= 0 {
		return fmt.Errorf("ticks must be positive, got %d", cfg.Ticks)
	}
	return nil
}
