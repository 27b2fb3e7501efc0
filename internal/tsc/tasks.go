package tsc

import (
	"fmt"

	"github.com/san-kum/wbcsim/internal/linalg"
	"github.com/san-kum/wbcsim/internal/robot"
	"github.com/san-kum/wbcsim/internal/spatial"
)

// SE3Reference is a frame pose trajectory sample. Velocities and
// accelerations are world-aligned.
type SE3Reference struct {
	Pose            spatial.Pose
	LinearVelocity  spatial.Vec3
	AngularVelocity spatial.Vec3
	LinearAcc       spatial.Vec3
	AngularAcc      spatial.Vec3
}

// SE3MotionTask tracks the pose of a frame. Rows 0-2 are translational,
// rows 3-5 rotational.
type SE3MotionTask struct {
	motionTask
	frame string
	ref   SE3Reference
}

func NewSE3MotionTask(frame string) *SE3MotionTask {
	return &SE3MotionTask{
		motionTask: newMotionTask(frame, 6),
		frame:      frame,
		ref:        SE3Reference{Pose: spatial.IdentityPose()},
	}
}

func (t *SE3MotionTask) Frame() string               { return t.frame }
func (t *SE3MotionTask) Reference() SE3Reference     { return t.ref }
func (t *SE3MotionTask) SetReference(r SE3Reference) { t.ref = r }

func (t *SE3MotionTask) Validate(model robot.Model) error {
	if !model.HasFrame(t.frame) {
		return fmt.Errorf("task %q: %w: %q", t.name, robot.ErrUnknownFrame, t.frame)
	}
	return nil
}

func (t *SE3MotionTask) Evaluate(model robot.Model, layout Layout) (*Term, error) {
	pose, err := model.FramePose(t.frame)
	if err != nil {
		return nil, err
	}
	jac, err := model.FrameJacobian(t.frame)
	if err != nil {
		return nil, err
	}
	lin, ang, err := model.FrameVelocity(t.frame)
	if err != nil {
		return nil, err
	}
	drift, err := model.FrameJdotV(t.frame)
	if err != nil {
		return nil, err
	}

	ep := t.ref.Pose.P.Sub(pose.P)
	eo := spatial.OrientationError(t.ref.Pose.R, pose.R)
	dv := t.ref.LinearVelocity.Sub(lin)
	dw := t.ref.AngularVelocity.Sub(ang)
	e := []float64{ep[0], ep[1], ep[2], eo[0], eo[1], eo[2]}
	edot := []float64{dv[0], dv[1], dv[2], dw[0], dw[1], dw[2]}
	ff := []float64{
		t.ref.LinearAcc[0], t.ref.LinearAcc[1], t.ref.LinearAcc[2],
		t.ref.AngularAcc[0], t.ref.AngularAcc[1], t.ref.AngularAcc[2],
	}
	return &Term{
		Map:     qaccMap(jac, layout),
		Desired: t.pd(e, edot, ff, drift),
		Weight:  t.weight,
	}, nil
}

// CoMReference is a centre-of-mass trajectory sample.
type CoMReference struct {
	Position     spatial.Vec3
	Velocity     spatial.Vec3
	Acceleration spatial.Vec3
}

type CoMMotionTask struct {
	motionTask
	ref CoMReference
}

func NewCoMMotionTask(name string) *CoMMotionTask {
	return &CoMMotionTask{motionTask: newMotionTask(name, 3)}
}

func (t *CoMMotionTask) Reference() CoMReference     { return t.ref }
func (t *CoMMotionTask) SetReference(r CoMReference) { t.ref = r }

func (t *CoMMotionTask) Validate(robot.Model) error { return nil }

func (t *CoMMotionTask) Evaluate(model robot.Model, layout Layout) (*Term, error) {
	e := t.ref.Position.Sub(model.CenterOfMassPosition())
	edot := t.ref.Velocity.Sub(model.CenterOfMassVelocity())
	return &Term{
		Map:     qaccMap(model.CenterOfMassJacobian(), layout),
		Desired: t.pd(e[:], edot[:], t.ref.Acceleration[:], model.CenterOfMassJdotV()),
		Weight:  t.weight,
	}, nil
}

// AngularMomentumTask regulates the centroidal angular momentum. The
// momentum is already a velocity-level quantity, so only Kp acts.
type AngularMomentumTask struct {
	motionTask
	ref, refDot spatial.Vec3
}

func NewAngularMomentumTask(name string) *AngularMomentumTask {
	return &AngularMomentumTask{motionTask: newMotionTask(name, 3)}
}

func (t *AngularMomentumTask) Reference() (l, ldot spatial.Vec3) { return t.ref, t.refDot }

func (t *AngularMomentumTask) SetReference(l, ldot spatial.Vec3) {
	t.ref, t.refDot = l, ldot
}

func (t *AngularMomentumTask) Validate(robot.Model) error { return nil }

func (t *AngularMomentumTask) Evaluate(model robot.Model, layout Layout) (*Term, error) {
	e := t.ref.Sub(model.AngularMomentum())
	return &Term{
		Map:     qaccMap(model.AngularMomentumMatrix(), layout),
		Desired: t.pd(e[:], nil, t.refDot[:], model.AngularMomentumDrift()),
		Weight:  t.weight,
	}, nil
}

// JointsNominalTask pulls every non-base joint toward a nominal posture.
type JointsNominalTask struct {
	motionTask
	nominal []float64
}

// NewJointsNominalTask sizes the task to the joints of model; the
// nominal posture defaults to the home configuration.
func NewJointsNominalTask(name string, model robot.Model) *JointsNominalTask {
	dim := model.NV() - baseDoF(model)
	home := model.HomeConfiguration()
	return &JointsNominalTask{
		motionTask: newMotionTask(name, dim),
		nominal:    append([]float64(nil), home[len(home)-dim:]...),
	}
}

func baseDoF(model robot.Model) int {
	if model.IsFloatingBase() {
		return 6
	}
	return 0
}

func (t *JointsNominalTask) Nominal() []float64 { return append([]float64(nil), t.nominal...) }

func (t *JointsNominalTask) SetNominal(q []float64) error {
	if len(q) != t.dim {
		return fmt.Errorf("%w: task %q has %d joints, got %d", ErrDimensionMismatch, t.name, t.dim, len(q))
	}
	t.nominal = append([]float64(nil), q...)
	return nil
}

func (t *JointsNominalTask) Validate(model robot.Model) error {
	if want := model.NV() - baseDoF(model); want != t.dim {
		return fmt.Errorf("%w: task %q has %d joints, model has %d", ErrDimensionMismatch, t.name, t.dim, want)
	}
	return nil
}

func (t *JointsNominalTask) Evaluate(model robot.Model, layout Layout) (*Term, error) {
	q, v := model.Configuration(), model.Velocity()
	if len(q) < t.dim || len(v) < t.dim {
		return nil, robot.ErrNotComputed
	}
	q, v = q[len(q)-t.dim:], v[len(v)-t.dim:]
	e := make([]float64, t.dim)
	edot := make([]float64, t.dim)
	for i := range e {
		e[i] = t.nominal[i] - q[i]
		edot[i] = -v[i]
	}
	m := linalg.Zeros(t.dim, layout.Size())
	for i := 0; i < t.dim; i++ {
		m.Set(i, layout.QaccOffset()+layout.NV-t.dim+i, 1)
	}
	return &Term{
		Map:     m,
		Desired: t.pd(e, edot, make([]float64, t.dim), nil),
		Weight:  t.weight,
	}, nil
}

// RegularizationTask penalizes the whole decision vector toward zero:
// accelerations with QaccWeight, contact and chain forces with ForceWeight.
type RegularizationTask struct {
	name        string
	qaccWeight  float64
	forceWeight float64
}

func NewRegularizationTask(name string) *RegularizationTask {
	return &RegularizationTask{name: name, qaccWeight: 1e-3, forceWeight: 1e-5}
}

func (t *RegularizationTask) Name() string { return t.name }

func (t *RegularizationTask) Weights() (qacc, force float64) { return t.qaccWeight, t.forceWeight }

func (t *RegularizationTask) SetWeights(qacc, force float64) error {
	if qacc < 0 || force < 0 {
		return fmt.Errorf("%w: task %q weights %g/%g", ErrInvalidWeight, t.name, qacc, force)
	}
	t.qaccWeight, t.forceWeight = qacc, force
	return nil
}

func (t *RegularizationTask) Validate(robot.Model) error { return nil }

func (t *RegularizationTask) Evaluate(_ robot.Model, layout Layout) (*Term, error) {
	n := layout.Size()
	w := linalg.Zeros(n, n)
	for i := 0; i < n; i++ {
		if i < layout.ForceOffset() {
			w.Set(i, i, t.qaccWeight)
		} else {
			w.Set(i, i, t.forceWeight)
		}
	}
	return &Term{Map: linalg.Identity(n), Desired: linalg.ZeroVec(n), Weight: w}, nil
}

var (
	_ Task = (*SE3MotionTask)(nil)
	_ Task = (*CoMMotionTask)(nil)
	_ Task = (*AngularMomentumTask)(nil)
	_ Task = (*JointsNominalTask)(nil)
	_ Task = (*RegularizationTask)(nil)
)
