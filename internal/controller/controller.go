// Package controller wires the task-space engine into a whole-body
// controller for the biped and sequences one control tick: state
// assembly, model recompute, closed-chain update, reference update, QP
// solve and torque extraction.
package controller

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/san-kum/wbcsim/internal/config"
	"github.com/san-kum/wbcsim/internal/qp"
	"github.com/san-kum/wbcsim/internal/robot"
	"github.com/san-kum/wbcsim/internal/spatial"
	"github.com/san-kum/wbcsim/internal/telemetry"
	"github.com/san-kum/wbcsim/internal/tsc"
)

// Profile selects the task wiring.
type Profile int

const (
	// Floating tracks the torso and CoM with the feet held by contact constraints.
	Floating Profile = iota
	// Fixed tracks both toe poses directly.
	Fixed
)

func (p Profile) String() string {
	if p == Fixed {
		return "fixed"
	}
	return "floating"
}

func ProfileFor(floatingBase bool) Profile {
	if floatingBase {
		return Floating
	}
	return Fixed
}

// Frame names the wiring tracks.
const (
	TorsoFrame    = "torso"
	LeftToeFrame  = "left_toe_roll"
	RightToeFrame = "right_toe_roll"
)

// JointsCommand is the output of one successful tick, in actuated-joint
// order.
type JointsCommand struct {
	Tick              int
	FeedForwardTorque []float64
}

// Tracking compares the targets of the last successful tick with the
// measured heights at that tick.
type Tracking struct {
	Reference Heights
	Measured  Heights
}

type Option func(*Controller)

func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithRecorder(r telemetry.Recorder) Option {
	return func(c *Controller) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithContactLinks replaces the default contact virtual links.
func WithContactLinks(names []string) Option {
	return func(c *Controller) { c.contactLinks = append([]string(nil), names...) }
}

// WithLinkPairs replaces the default closed-chain link pairs.
func WithLinkPairs(pairs []robot.LinkPair) Option {
	return func(c *Controller) { c.linkPairs = append([]robot.LinkPair(nil), pairs...) }
}

// Controller owns its engine, tasks and constraints and issues every
// model recompute. It is not safe for concurrent use.
type Controller struct {
	profile  Profile
	cfg      config.ControllerConfig
	model    robot.Model
	engine   *tsc.Engine
	logger   *zap.Logger
	recorder telemetry.Recorder

	contactLinks []string
	linkPairs    []robot.LinkPair

	torso, leftToe, rightToe *tsc.SE3MotionTask
	com                      *tsc.CoMMotionTask
	angularMomentum          *tsc.AngularMomentumTask
	jointsNominal            *tsc.JointsNominalTask
	regularization           *tsc.RegularizationTask

	contactForce *tsc.ContactForceConstraint
	qaccBound    *tsc.QaccBound

	sinusoid Sinusoid
	mask     []bool
	tick     int
	// clock is the reference phase; it advances on failed ticks too.
	clock    int
	cmd      *JointsCommand
	tracking Tracking
	lastTick time.Duration
}

// New configures a controller for model. The profile must agree with the
// model's base; gains come from cfg. Configuration errors (unknown
// frames, mis-sized gains) are returned here and never at tick time.
func New(profile Profile, model robot.Model, solver qp.Solver, cfg config.ControllerConfig, opts ...Option) (*Controller, error) {
	if model == nil || solver == nil {
		return nil, fmt.Errorf("%w: model and solver are required", ErrNotConfigured)
	}
	if (profile == Floating) != model.IsFloatingBase() {
		return nil, fmt.Errorf("%w: %s profile on a model with floating base=%v",
			ErrNotConfigured, profile, model.IsFloatingBase())
	}
	c := &Controller{
		profile:      profile,
		cfg:          cfg,
		model:        model,
		logger:       zap.NewNop(),
		recorder:     telemetry.Nop{},
		contactLinks: append([]string(nil), robot.BipedContactLinks...),
		linkPairs:    append([]robot.LinkPair(nil), robot.BipedLinkPairs...),
		sinusoid:     SinusoidFromConfig(cfg.Reference),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.engine = tsc.NewEngine(model, solver, c.logger.Named("tsc"))

	if err := model.SetContactVirtualLinks(c.contactLinks); err != nil {
		return nil, fmt.Errorf("controller: contact links: %w", err)
	}
	if err := model.SetConnectedVirtualLinkPairs(c.linkPairs); err != nil {
		return nil, fmt.Errorf("controller: link pairs: %w", err)
	}
	c.mask = c.defaultMask()

	home := model.HomeConfiguration()
	if err := model.Recompute(home, make([]float64, model.NV()), make([]bool, len(c.contactLinks))); err != nil {
		return nil, fmt.Errorf("controller: home pose: %w", err)
	}
	if err := c.buildTasks(); err != nil {
		return nil, err
	}
	if err := c.wire(); err != nil {
		return nil, err
	}

	c.logger.Info("controller configured",
		zap.Stringer("profile", profile),
		zap.Int("nq", model.NQ()),
		zap.Int("nv", model.NV()),
		zap.Int("na", model.NA()),
		zap.Float64s("effort_limits", model.ActuatorEffortLimits()),
		zap.Strings("tasks", c.engine.TaskNames()),
		zap.Strings("constraints", c.engine.ConstraintNames()))
	return c, nil
}

func (c *Controller) defaultMask() []bool {
	mask := make([]bool, len(c.contactLinks))
	if c.profile == Floating {
		for i := range mask {
			mask[i] = true
		}
	}
	return mask
}

func se3Task(frame string, g config.TaskGains) (*tsc.SE3MotionTask, error) {
	t := tsc.NewSE3MotionTask(frame)
	kp, kd, w, err := g.Resolve(6)
	if err != nil {
		return nil, fmt.Errorf("task %q: %w", frame, err)
	}
	if err := t.SetGains(kp, kd); err != nil {
		return nil, err
	}
	return t, t.SetWeightDiagonal(w...)
}

func homeSE3(model robot.Model, t *tsc.SE3MotionTask) error {
	pose, err := model.FramePose(t.Frame())
	if err != nil {
		return fmt.Errorf("%w: task %q: %w", ErrNotConfigured, t.Name(), err)
	}
	t.SetReference(tsc.SE3Reference{Pose: pose})
	return nil
}

// buildTasks instantiates every task with its gains and a reference
// taken from the home pose the model was just recomputed at.
func (c *Controller) buildTasks() error {
	var err error
	switch c.profile {
	case Floating:
		if c.torso, err = se3Task(TorsoFrame, c.cfg.Torso); err != nil {
			return err
		}
		if err := homeSE3(c.model, c.torso); err != nil {
			return err
		}
	case Fixed:
		if c.rightToe, err = se3Task(RightToeFrame, c.cfg.RightToe); err != nil {
			return err
		}
		if c.leftToe, err = se3Task(LeftToeFrame, c.cfg.LeftToe); err != nil {
			return err
		}
		for _, t := range []*tsc.SE3MotionTask{c.rightToe, c.leftToe} {
			if err := homeSE3(c.model, t); err != nil {
				return err
			}
		}
	}

	c.com = tsc.NewCoMMotionTask("com")
	kp, kd, w, err := c.cfg.CoM.Resolve(3)
	if err != nil {
		return fmt.Errorf("task com: %w", err)
	}
	if err := c.com.SetGains(kp, kd); err != nil {
		return err
	}
	if err := c.com.SetWeightDiagonal(w...); err != nil {
		return err
	}
	c.com.SetReference(tsc.CoMReference{Position: c.model.CenterOfMassPosition()})

	c.regularization = tsc.NewRegularizationTask("regularization")
	if err := c.regularization.SetWeights(c.cfg.Regularization.Qacc, c.cfg.Regularization.Force); err != nil {
		return err
	}

	c.jointsNominal = tsc.NewJointsNominalTask("joints_nominal", c.model)
	if kp, kd, w, err = c.cfg.JointsNominal.Resolve(c.jointsNominal.Dim()); err != nil {
		return fmt.Errorf("task joints_nominal: %w", err)
	}
	if err := c.jointsNominal.SetGains(kp, kd); err != nil {
		return err
	}
	if err := c.jointsNominal.SetWeightDiagonal(w...); err != nil {
		return err
	}

	c.angularMomentum = tsc.NewAngularMomentumTask("angular_momentum")
	if kp, _, w, err = c.cfg.AngularMomentum.Resolve(3); err != nil {
		return fmt.Errorf("task angular_momentum: %w", err)
	}
	if err := c.angularMomentum.SetGains(kp, nil); err != nil {
		return err
	}
	if err := c.angularMomentum.SetWeightDiagonal(w...); err != nil {
		return err
	}
	c.angularMomentum.SetReference(spatial.Vec3{}, spatial.Vec3{})

	c.contactForce = tsc.NewContactForceConstraint("contact_force")
	if err := c.contactForce.SetFriction(c.cfg.Friction); err != nil {
		return err
	}
	if c.cfg.MaxNormalForce > 0 {
		if err := c.contactForce.SetMaxNormalForce(c.cfg.MaxNormalForce); err != nil {
			return err
		}
	}
	c.qaccBound = tsc.NewQaccBound("qacc_bound", c.model)
	c.qaccBound.Fill(-c.cfg.QaccBound, c.cfg.QaccBound)
	return nil
}

// wire registers tasks and constraints in profile order; the order fixes
// the row layout of the assembled QP.
func (c *Controller) wire() error {
	var errs []error
	switch c.profile {
	case Floating:
		errs = append(errs,
			c.engine.AddTask(c.torso),
			c.engine.AddLinearConstraint(tsc.NewContactPointsConstraint("contact_points")),
			c.engine.AddLinearConstraint(c.contactForce))
	case Fixed:
		errs = append(errs,
			c.engine.AddTask(c.leftToe),
			c.engine.AddTask(c.rightToe))
	}
	errs = append(errs,
		c.engine.AddLinearConstraint(tsc.NewClosedChainsConstraint("closed_chains")),
		c.engine.AddTask(c.com),
		c.engine.AddTask(c.regularization),
		c.engine.AddTask(c.jointsNominal),
		c.engine.AddTask(c.angularMomentum),
		c.engine.AddLinearConstraint(tsc.NewActuatorLimit("actuator_limit")),
		c.engine.AddLinearConstraint(c.qaccBound))
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrNotConfigured, err)
	}
	return nil
}

// SetContactMask sets the active contacts for the following ticks.
func (c *Controller) SetContactMask(mask []bool) error {
	if len(mask) != len(c.contactLinks) {
		return fmt.Errorf("%w: got %d entries for %d contact links", ErrMaskLength, len(mask), len(c.contactLinks))
	}
	c.mask = append(c.mask[:0], mask...)
	return nil
}

// SetContactMaskInts accepts the 0/1 integer mask form.
func (c *Controller) SetContactMaskInts(mask []int) error {
	b := make([]bool, len(mask))
	for i, v := range mask {
		b[i] = v != 0
	}
	return c.SetContactMask(b)
}

// SetContactVirtualLinks replaces the contact links on the model and
// resets the mask to the profile default.
func (c *Controller) SetContactVirtualLinks(names []string) error {
	if err := c.model.SetContactVirtualLinks(names); err != nil {
		return err
	}
	c.contactLinks = append([]string(nil), names...)
	c.mask = c.defaultMask()
	return nil
}

func (c *Controller) ContactMask() []bool { return append([]bool(nil), c.mask...) }

// jointCount is the length of the measured joint vectors.
func (c *Controller) jointCount() int {
	if c.profile == Floating {
		return c.model.NV() - 6
	}
	return c.model.NV()
}

// Run executes one tick. Every tick that passes validation advances the
// reference clock. On success the tick counter advances and the command
// is replaced; on failure the previous command is dropped and a
// *TickError is returned.
func (c *Controller) Run(ref Reference, state RobotState) error {
	start := time.Now()
	c.cmd = nil

	q, v, err := GeneralizedState(state, c.profile == Floating, c.jointCount())
	if err != nil {
		return c.fail(StageValidate, err, start)
	}
	phase := c.clock
	c.clock++
	if err := c.model.Recompute(q, v, c.mask); err != nil {
		return c.fail(StageRecompute, err, start)
	}
	if err := tsc.UpdateClosedChain(c.model); err != nil {
		return c.fail(StageClosedChain, err, start)
	}

	target := c.sinusoid.At(phase)
	if ref.Heights != nil {
		target = *ref.Heights
	}
	c.applyReference(target)

	if err := c.engine.Solve(); err != nil {
		return c.fail(StageSolve, err, start)
	}
	tau, err := c.engine.OptimalTorque()
	if err != nil {
		return c.fail(StageSolve, err, start)
	}

	c.cmd = &JointsCommand{Tick: c.tick, FeedForwardTorque: tau}
	c.tracking = Tracking{Reference: target, Measured: c.measuredHeights()}
	c.lastTick = time.Since(start)
	diag := c.engine.Diagnostics()
	c.recorder.ObserveTick(c.lastTick, telemetry.ResultSuccess, diag.Iterations, c.model.ActiveContacts())
	c.logger.Debug("time cost",
		zap.Int("tick", c.tick),
		zap.Float64("ms", float64(c.lastTick.Microseconds())/1000),
		zap.Int("iterations", diag.Iterations),
		zap.Int("active_contacts", c.model.ActiveContacts()))
	c.tick++
	return nil
}

func (c *Controller) fail(stage string, err error, start time.Time) error {
	c.lastTick = time.Since(start)
	iterations := 0
	var se *tsc.SolveError
	if errors.As(err, &se) {
		iterations = c.engine.Diagnostics().Iterations
	}
	c.recorder.ObserveTick(c.lastTick, stage, iterations, len(c.activeMask()))
	level := c.logger.Warn
	if stage == StageValidate {
		level = c.logger.Info
	}
	level("tick failed", zap.Int("tick", c.tick), zap.String("stage", stage), zap.Error(err))
	return &TickError{Tick: c.tick, Stage: stage, Wrapped: err}
}

func (c *Controller) activeMask() []int {
	var idx []int
	for i, on := range c.mask {
		if on {
			idx = append(idx, i)
		}
	}
	return idx
}

func (c *Controller) applyReference(h Heights) {
	switch c.profile {
	case Fixed:
		for _, t := range []struct {
			task *tsc.SE3MotionTask
			z    float64
		}{{c.rightToe, h.RightToe}, {c.leftToe, h.LeftToe}} {
			ref := t.task.Reference()
			ref.Pose.P[2] = t.z
			t.task.SetReference(ref)
		}
	case Floating:
		ref := c.com.Reference()
		ref.Position[2] = h.CoM
		c.com.SetReference(ref)
	}
}

func (c *Controller) measuredHeights() Heights {
	h := Heights{CoM: c.model.CenterOfMassPosition()[2]}
	if p, err := c.model.FramePose(LeftToeFrame); err == nil {
		h.LeftToe = p.P[2]
	}
	if p, err := c.model.FramePose(RightToeFrame); err == nil {
		h.RightToe = p.P[2]
	}
	return h
}

// CurrentJointsCommand returns the command of the last tick, or
// ErrNoCommand when that tick failed or none has run.
func (c *Controller) CurrentJointsCommand() (JointsCommand, error) {
	if c.cmd == nil {
		return JointsCommand{}, ErrNoCommand
	}
	return JointsCommand{Tick: c.cmd.Tick, FeedForwardTorque: append([]float64(nil), c.cmd.FeedForwardTorque...)}, nil
}

func (c *Controller) Profile() Profile                { return c.profile }
func (c *Controller) Tick() int                       { return c.tick }
func (c *Controller) Clock() int                      { return c.clock }
func (c *Controller) Tracking() Tracking              { return c.tracking }
func (c *Controller) LastTickDuration() time.Duration { return c.lastTick }
func (c *Controller) Diagnostics() tsc.Diagnostics    { return c.engine.Diagnostics() }
func (c *Controller) Sinusoid() Sinusoid              { return c.sinusoid }
func (c *Controller) TaskNames() []string             { return c.engine.TaskNames() }
func (c *Controller) ConstraintNames() []string       { return c.engine.ConstraintNames() }

// OptimalQacc and OptimalContactForce expose the last solution.
func (c *Controller) OptimalQacc() ([]float64, error) { return c.engine.OptimalQacc() }

func (c *Controller) OptimalContactForce() ([]float64, error) {
	return c.engine.OptimalContactForce()
}
