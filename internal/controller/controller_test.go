package controller_test

import (
	"errors"
	"math"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap/zapcore"

	"github.com/san-kum/wbcsim/internal/config"
	"github.com/san-kum/wbcsim/internal/controller"
	"github.com/san-kum/wbcsim/internal/logging"
	"github.com/san-kum/wbcsim/internal/qp"
	"github.com/san-kum/wbcsim/internal/robot"
	"github.com/san-kum/wbcsim/internal/tsc"
)

type tickRecord struct {
	result   string
	contacts int
}

type fakeRecorder struct {
	ticks []tickRecord
}

func (f *fakeRecorder) ObserveTick(_ time.Duration, result string, _, contacts int) {
	f.ticks = append(f.ticks, tickRecord{result: result, contacts: contacts})
}

func newSolver() qp.Solver {
	s, err := qp.NewADMM(qp.DefaultSettings())
	Expect(err).NotTo(HaveOccurred())
	return s
}

func newBiped(floating bool) *robot.Tree {
	b, err := robot.NewBiped(floating)
	Expect(err).NotTo(HaveOccurred())
	return b
}

// homeState is the measurement of a robot resting at its home pose.
func homeState(b *robot.Tree) controller.RobotState {
	return controller.StateFromGeneralized(b.HomeConfiguration(), make([]float64, b.NV()), b.IsFloatingBase())
}

var _ = Describe("Controller", func() {
	var cfg config.ControllerConfig

	BeforeEach(func() {
		cfg = config.DefaultControllerConfig()
	})

	Describe("configuration", func() {
		It("wires the fixed-base profile with both toe tasks", func() {
			c, err := controller.New(controller.Fixed, newBiped(false), newSolver(), cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.TaskNames()).To(Equal([]string{
				"left_toe_roll", "right_toe_roll", "com", "regularization", "joints_nominal", "angular_momentum",
			}))
			Expect(c.ConstraintNames()).To(Equal([]string{"closed_chains", "actuator_limit", "qacc_bound"}))
			Expect(c.ContactMask()).To(HaveLen(8))
			Expect(c.ContactMask()).NotTo(ContainElement(true))
		})

		It("wires the floating-base profile with the torso and contact constraints", func() {
			c, err := controller.New(controller.Floating, newBiped(true), newSolver(), cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.TaskNames()).To(HaveExactElements("torso", "com", "regularization", "joints_nominal", "angular_momentum"))
			Expect(c.ConstraintNames()).To(HaveExactElements(
				"contact_points", "contact_force", "closed_chains", "actuator_limit", "qacc_bound"))
			Expect(c.ContactMask()).NotTo(ContainElement(false))
		})

		It("rejects a profile that disagrees with the model", func() {
			_, err := controller.New(controller.Floating, newBiped(false), newSolver(), cfg)
			Expect(err).To(MatchError(controller.ErrNotConfigured))
		})

		It("rejects gains sized for another task", func() {
			cfg.Torso.Kp = []float64{1, 2}
			_, err := controller.New(controller.Floating, newBiped(true), newSolver(), cfg)
			Expect(err).To(MatchError(config.ErrInvalidConfig))
		})

		It("rejects unknown contact links", func() {
			_, err := controller.New(controller.Fixed, newBiped(false), newSolver(), cfg,
				controller.WithContactLinks([]string{"contact1", "nowhere"}))
			Expect(err).To(MatchError(robot.ErrUnknownFrame))
		})

		It("logs the configured wiring", func() {
			logger, logs := logging.NewObserved(zapcore.InfoLevel)
			_, err := controller.New(controller.Fixed, newBiped(false), newSolver(), cfg, controller.WithLogger(logger))
			Expect(err).NotTo(HaveOccurred())
			entries := logs.FilterMessage("controller configured").All()
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].ContextMap()).To(HaveKeyWithValue("profile", "fixed"))
			Expect(entries[0].ContextMap()).To(HaveKeyWithValue("na", int64(12)))
		})
	})

	Describe("contact mask", func() {
		It("rejects a mask of the wrong length", func() {
			c, err := controller.New(controller.Floating, newBiped(true), newSolver(), cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.SetContactMask(make([]bool, 7))).To(MatchError(controller.ErrMaskLength))
			Expect(c.SetContactMaskInts([]int{1, 1, 0, 0, 1, 1, 0, 0})).To(Succeed())
			Expect(c.ContactMask()).To(Equal([]bool{true, true, false, false, true, true, false, false}))
		})
	})

	Describe("input validation", func() {
		var (
			b   *robot.Tree
			c   *controller.Controller
			rec *fakeRecorder
		)

		BeforeEach(func() {
			var err error
			b = newBiped(true)
			rec = &fakeRecorder{}
			c, err = controller.New(controller.Floating, b, newSolver(), cfg, controller.WithRecorder(rec))
			Expect(err).NotTo(HaveOccurred())
		})

		expectRejected := func(state controller.RobotState, want error) {
			err := c.Run(controller.Reference{}, state)
			Expect(err).To(MatchError(want))
			var te *controller.TickError
			Expect(errors.As(err, &te)).To(BeTrue())
			Expect(te.Stage).To(Equal(controller.StageValidate))
			Expect(te.Tick).To(Equal(0))
			Expect(c.Tick()).To(Equal(0))
			Expect(c.Clock()).To(Equal(0))
			_, err = c.CurrentJointsCommand()
			Expect(err).To(MatchError(controller.ErrNoCommand))
			Expect(rec.ticks).To(HaveLen(1))
			Expect(rec.ticks[0].result).To(Equal(controller.StageValidate))
		}

		It("rejects short joint vectors", func() {
			s := homeState(b)
			s.JointPositions = s.JointPositions[1:]
			expectRejected(s, controller.ErrStateDimension)
		})

		It("rejects non-finite joint velocities", func() {
			s := homeState(b)
			s.JointVelocities[3] = math.NaN()
			expectRejected(s, controller.ErrNonFinite)
		})

		It("rejects a non-unit base quaternion", func() {
			s := homeState(b)
			s.Base.Quaternion = [4]float64{0, 0, 0, 1.01}
			expectRejected(s, controller.ErrInvalidQuaternion)
		})

		It("leaves the model untouched", func() {
			before := b.Configuration()
			s := homeState(b)
			s.Base.Position[2] = math.Inf(1)
			expectRejected(s, controller.ErrNonFinite)
			Expect(b.Configuration()).To(Equal(before))
		})
	})

	Describe("fixed-base ticks", func() {
		var (
			b *robot.Tree
			c *controller.Controller
		)

		BeforeEach(func() {
			var err error
			b = newBiped(false)
			c, err = controller.New(controller.Fixed, b, newSolver(), cfg)
			Expect(err).NotTo(HaveOccurred())
		})

		It("produces one torque per actuator and advances the tick", func() {
			Expect(c.Run(controller.Reference{}, homeState(b))).To(Succeed())
			cmd, err := c.CurrentJointsCommand()
			Expect(err).NotTo(HaveOccurred())
			Expect(cmd.Tick).To(Equal(0))
			Expect(cmd.FeedForwardTorque).To(HaveLen(b.NA()))
			for i, tau := range cmd.FeedForwardTorque {
				Expect(math.IsNaN(tau) || math.IsInf(tau, 0)).To(BeFalse())
				Expect(math.Abs(tau)).To(BeNumerically("<=", b.ActuatorEffortLimits()[i]+1e-2))
			}
			Expect(c.Tick()).To(Equal(1))
			Expect(c.Clock()).To(Equal(1))
			Expect(b.Configuration()).To(HaveLen(b.NV()))
		})

		It("tracks toe targets in antiphase", func() {
			for k := 0; k < 3; k++ {
				Expect(c.Run(controller.Reference{}, homeState(b))).To(Succeed())
				ref := c.Tracking().Reference
				Expect(ref).To(Equal(c.Sinusoid().At(k)))
				Expect(ref.LeftToe + ref.RightToe).To(BeNumerically("~", -1.678546, 1e-12))
			}
		})

		It("uses explicit heights when given", func() {
			h := controller.Heights{LeftToe: -0.8, RightToe: -0.85}
			Expect(c.Run(controller.Reference{Heights: &h}, homeState(b))).To(Succeed())
			Expect(c.Tracking().Reference).To(Equal(h))
		})

		It("keeps the reference clock running when the solve fails", func() {
			infeasible := newInfeasibleConfig(cfg)
			c, err := controller.New(controller.Fixed, b, newSolver(), infeasible)
			Expect(err).NotTo(HaveOccurred())
			err = c.Run(controller.Reference{}, homeState(b))
			Expect(err).To(MatchError(qp.ErrInfeasible))
			var se *tsc.SolveError
			Expect(errors.As(err, &se)).To(BeTrue())
			Expect(err.(*controller.TickError).Stage).To(Equal(controller.StageSolve))
			Expect(c.Tick()).To(Equal(0))
			Expect(c.Clock()).To(Equal(1))
			_, err = c.CurrentJointsCommand()
			Expect(err).To(MatchError(controller.ErrNoCommand))

			Expect(c.Run(controller.Reference{}, homeState(b))).NotTo(Succeed())
			Expect(c.Tick()).To(Equal(0))
			Expect(c.Clock()).To(Equal(2))
		})
	})

	Describe("floating-base ticks", func() {
		It("solves at the home pose with all contacts active", func() {
			b := newBiped(true)
			logger, logs := logging.NewObserved(zapcore.DebugLevel)
			c, err := controller.New(controller.Floating, b, newSolver(), cfg, controller.WithLogger(logger))
			Expect(err).NotTo(HaveOccurred())

			Expect(c.Run(controller.Reference{}, homeState(b))).To(Succeed())
			Expect(b.Configuration()).To(HaveLen(b.NV() - 6 + 7))
			Expect(b.Velocity()).To(HaveLen(b.NV()))
			Expect(c.Tracking().Reference.CoM).To(Equal(config.DefaultCoMHeight))

			force, err := c.OptimalContactForce()
			Expect(err).NotTo(HaveOccurred())
			Expect(force).To(HaveLen(3 * 8))
			total := 0.0
			for i := 2; i < len(force); i += 3 {
				Expect(force[i]).To(BeNumerically(">=", -1e-3))
				total += force[i]
			}
			Expect(total).To(BeNumerically(">", 0))
			Expect(logs.FilterMessage("time cost").Len()).To(Equal(1))
		})
	})
})

// newInfeasibleConfig asks for accelerations of at least 1 and at most
// -1 on every joint.
func newInfeasibleConfig(base config.ControllerConfig) config.ControllerConfig {
	base.QaccBound = -1
	return base
}
