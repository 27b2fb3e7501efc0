package robot

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/wbcsim/internal/linalg"
	"github.com/san-kum/wbcsim/internal/spatial"
)

const defaultGravity = 9.81

type body struct {
	name    string
	parent  int // -1 for the base
	joint   int // index into Tree.joints, -1 for the base
	mass    float64
	com     spatial.Vec3
	inertia spatial.Vec3
}

type joint struct {
	name        string
	origin      spatial.Vec3
	axis        spatial.Vec3
	actuated    bool
	effortLimit float64
	home        float64
}

type frame struct {
	body   int
	offset spatial.Vec3
}

// Tree is a rigid-body tree of revolute joints with an optional
// floating base. It implements Model.
//
// Body i (i ≥ 1) is moved by joint i-1; body 0 is the base. Tree is not
// safe for concurrent use.
type Tree struct {
	name     string
	floating bool
	gravity  float64
	basePos  spatial.Vec3

	bodies  []body
	joints  []joint
	frames  map[string]frame
	support [][]int // joint indices on the path from the base to each body

	actuated []int
	limits   []float64

	contactLinks []string
	linkPairs    []LinkPair

	data *data
}

// NewTree builds a tree from a validated description.
func NewTree(desc *Description, floatingBase bool) (*Tree, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	t := &Tree{
		name:     desc.Name,
		floating: floatingBase,
		gravity:  desc.Gravity,
		basePos:  spatial.Vec3(desc.BasePosition),
		frames:   make(map[string]frame),
	}
	if t.gravity == 0 {
		t.gravity = defaultGravity
	}

	index := map[string]int{desc.Base.Name: 0}
	t.bodies = append(t.bodies, body{
		name: desc.Base.Name, parent: -1, joint: -1,
		mass: desc.Base.Mass, com: desc.Base.CoM, inertia: desc.Base.Inertia,
	})
	t.support = append(t.support, nil)
	t.frames[desc.Base.Name] = frame{body: 0}

	for i, js := range desc.Joints {
		parent := 0
		if js.Parent != "" {
			parent = index[js.Parent]
		}
		t.joints = append(t.joints, joint{
			name:        js.Name,
			origin:      js.Origin,
			axis:        spatial.Vec3(js.Axis).Unit(),
			actuated:    js.Actuated,
			effortLimit: js.EffortLimit,
			home:        js.Home,
		})
		b := len(t.bodies)
		t.bodies = append(t.bodies, body{
			name: js.Body.Name, parent: parent, joint: i,
			mass: js.Body.Mass, com: js.Body.CoM, inertia: js.Body.Inertia,
		})
		path := append(append([]int(nil), t.support[parent]...), i)
		t.support = append(t.support, path)
		index[js.Body.Name] = b
		t.frames[js.Body.Name] = frame{body: b}

		if js.Actuated {
			t.actuated = append(t.actuated, t.jointV(i))
			t.limits = append(t.limits, js.EffortLimit)
		}
	}
	for _, f := range desc.Frames {
		t.frames[f.Name] = frame{body: index[f.Body], offset: f.Offset}
	}
	return t, nil
}

func (t *Tree) Name() string { return t.name }

func (t *Tree) baseQ() int {
	if t.floating {
		return 7
	}
	return 0
}

func (t *Tree) baseV() int {
	if t.floating {
		return 6
	}
	return 0
}

func (t *Tree) jointQ(j int) int { return t.baseQ() + j }
func (t *Tree) jointV(j int) int { return t.baseV() + j }

func (t *Tree) NQ() int                { return t.baseQ() + len(t.joints) }
func (t *Tree) NV() int                { return t.baseV() + len(t.joints) }
func (t *Tree) NA() int                { return len(t.actuated) }
func (t *Tree) NJ() int                { return len(t.joints) }
func (t *Tree) IsFloatingBase() bool   { return t.floating }
func (t *Tree) ActuatedIndices() []int { return append([]int(nil), t.actuated...) }

func (t *Tree) ActuatorEffortLimits() []float64 {
	return append([]float64(nil), t.limits...)
}

// JointNames returns joint names in velocity order, excluding the base.
func (t *Tree) JointNames() []string {
	names := make([]string, len(t.joints))
	for i, j := range t.joints {
		names[i] = j.name
	}
	return names
}

// ActuatedJointNames returns the names of the actuated joints in torque order.
func (t *Tree) ActuatedJointNames() []string {
	names := make([]string, 0, len(t.actuated))
	for _, vi := range t.actuated {
		names = append(names, t.joints[vi-t.baseV()].name)
	}
	return names
}

// FrameNames lists bodies and named frames.
func (t *Tree) FrameNames() []string {
	names := make([]string, 0, len(t.frames))
	for name := range t.frames {
		names = append(names, name)
	}
	return names
}

func (t *Tree) HasFrame(name string) bool {
	_, ok := t.frames[name]
	return ok
}

func (t *Tree) HomeConfiguration() []float64 {
	q := make([]float64, t.NQ())
	if t.floating {
		copy(q[0:3], t.basePos[:])
		q[6] = 1 // identity quaternion, w last
	}
	for i, j := range t.joints {
		q[t.jointQ(i)] = j.home
	}
	return q
}

// TotalMass returns the summed mass of all bodies.
func (t *Tree) TotalMass() float64 {
	m := 0.0
	for _, b := range t.bodies {
		m += b.mass
	}
	return m
}

// kinematics holds world placements for one configuration.
type kinematics struct {
	bodies    []spatial.Pose
	jointPos  []spatial.Vec3
	jointAxis []spatial.Vec3
	basePose  spatial.Pose
}

func (t *Tree) basePose(q []float64) spatial.Pose {
	if !t.floating {
		return spatial.IdentityPose()
	}
	quat := spatial.QuatXYZW(q[3], q[4], q[5], q[6])
	return spatial.Pose{R: spatial.QuatToMat3(quat), P: spatial.Vec3{q[0], q[1], q[2]}}
}

func (t *Tree) forwardKinematics(q []float64) *kinematics {
	k := &kinematics{
		bodies:    make([]spatial.Pose, len(t.bodies)),
		jointPos:  make([]spatial.Vec3, len(t.joints)),
		jointAxis: make([]spatial.Vec3, len(t.joints)),
	}
	k.basePose = t.basePose(q)
	k.bodies[0] = k.basePose
	for b := 1; b < len(t.bodies); b++ {
		bd := t.bodies[b]
		j := t.joints[bd.joint]
		parent := k.bodies[bd.parent]
		jointFrame := parent.Mul(spatial.Pose{R: spatial.Identity3(), P: j.origin})
		k.jointPos[bd.joint] = jointFrame.P
		k.jointAxis[bd.joint] = jointFrame.R.MulVec(j.axis)
		rot := spatial.Pose{R: spatial.AxisAngle(j.axis, q[t.jointQ(bd.joint)])}
		k.bodies[b] = jointFrame.Mul(rot)
	}
	return k
}

// pointJacobian returns the 6×nv Jacobian of a point rigidly attached to
// body b at world position p.
func (t *Tree) pointJacobian(k *kinematics, b int, p spatial.Vec3) *mat.Dense {
	jac := linalg.Zeros(6, t.NV())
	if t.floating {
		r := k.basePose.R
		rel := p.Sub(k.basePose.P)
		for c := 0; c < 3; c++ {
			axis := r.Col(c)
			lin := axis.Cross(rel)
			for row := 0; row < 3; row++ {
				jac.Set(row, c, axis[row])
				jac.Set(row, 3+c, lin[row])
				jac.Set(3+row, 3+c, axis[row])
			}
		}
	}
	for _, j := range t.support[b] {
		col := t.jointV(j)
		axis := k.jointAxis[j]
		lin := axis.Cross(p.Sub(k.jointPos[j]))
		for row := 0; row < 3; row++ {
			jac.Set(row, col, lin[row])
			jac.Set(3+row, col, axis[row])
		}
	}
	return jac
}

func (t *Tree) lookup(name string) (frame, error) {
	f, ok := t.frames[name]
	if !ok {
		return frame{}, fmt.Errorf("%w: %q", ErrUnknownFrame, name)
	}
	return f, nil
}

func (t *Tree) framePose(k *kinematics, f frame) spatial.Pose {
	bp := k.bodies[f.body]
	return spatial.Pose{R: bp.R, P: bp.Act(f.offset)}
}

// integrate advances q along v for dt on the configuration manifold.
func (t *Tree) integrate(q, v []float64, dt float64) []float64 {
	out := append([]float64(nil), q...)
	if t.floating {
		quat := spatial.QuatXYZW(q[3], q[4], q[5], q[6])
		r := spatial.QuatToMat3(quat)
		dp := r.MulVec(spatial.Vec3{v[0], v[1], v[2]}).Scale(dt)
		for i := 0; i < 3; i++ {
			out[i] += dp[i]
		}
		nq := spatial.IntegrateQuat(quat, spatial.Vec3{v[3], v[4], v[5]}, dt)
		out[3], out[4], out[5], out[6] = nq.Imag, nq.Jmag, nq.Kmag, nq.Real
	}
	for j := range t.joints {
		out[t.jointQ(j)] += v[t.jointV(j)] * dt
	}
	return out
}

// Integrate returns q ⊕ v·dt.
func (t *Tree) Integrate(q, v []float64, dt float64) ([]float64, error) {
	if len(q) != t.NQ() || len(v) != t.NV() {
		return nil, fmt.Errorf("%w: integrate got q=%d v=%d, want %d/%d", ErrDimensionMismatch, len(q), len(v), t.NQ(), t.NV())
	}
	return t.integrate(q, v, dt), nil
}

// Segment joins two world points of the drawn skeleton.
type Segment struct {
	From, To spatial.Vec3
}

// Skeleton returns the link segments for configuration q, joint origin to
// child joint origin, plus one segment from each frame's body origin to the
// frame. The cached dynamics are left untouched.
func (t *Tree) Skeleton(q []float64) ([]Segment, error) {
	if len(q) != t.NQ() {
		return nil, fmt.Errorf("%w: skeleton got q=%d, want %d", ErrDimensionMismatch, len(q), t.NQ())
	}
	k := t.forwardKinematics(q)
	origin := func(b int) spatial.Vec3 {
		if b == 0 {
			return k.basePose.P
		}
		return k.jointPos[t.bodies[b].joint]
	}
	segs := make([]Segment, 0, len(t.bodies)+len(t.frames))
	for b := 1; b < len(t.bodies); b++ {
		segs = append(segs, Segment{From: origin(t.bodies[b].parent), To: origin(b)})
	}
	for _, name := range t.FrameNames() {
		f := t.frames[name]
		segs = append(segs, Segment{From: origin(f.body), To: t.framePose(k, f).P})
	}
	return segs, nil
}
