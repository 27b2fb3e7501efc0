package robot

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/wbcsim/internal/linalg"
	"github.com/san-kum/wbcsim/internal/spatial"
)

// jdotEps is the step of the central difference used for J̇·v terms.
const jdotEps = 1e-6

// data is the per-tick snapshot produced by Recompute.
type data struct {
	q, v []float64
	mask []bool

	kin, kinPlus, kinMinus *kinematics

	mass *mat.Dense
	bias *mat.VecDense

	com      spatial.Vec3
	comVel   spatial.Vec3
	comJac   *mat.Dense
	comJdotV *mat.VecDense

	angMom   spatial.Vec3
	angMat   *mat.Dense
	angDrift *mat.VecDense

	contactJac   *mat.Dense
	contactJdotV *mat.VecDense

	chainT, chainTdot *mat.Dense
	chainJac          *mat.Dense
	chainDrift        *mat.VecDense
}

// massTerms holds the per-configuration quantities needed for the
// dynamics and the centroidal terms.
type massTerms struct {
	jv, jw  []*mat.Dense // per body, 3×nv, at the body CoM
	inertia []spatial.Mat3
	com     spatial.Vec3
	comJac  *mat.Dense
	angMat  *mat.Dense
}

func (t *Tree) massTerms(k *kinematics) *massTerms {
	nv := t.NV()
	mt := &massTerms{
		jv:      make([]*mat.Dense, len(t.bodies)),
		jw:      make([]*mat.Dense, len(t.bodies)),
		inertia: make([]spatial.Mat3, len(t.bodies)),
		comJac:  linalg.Zeros(3, nv),
		angMat:  linalg.Zeros(3, nv),
	}
	total := t.TotalMass()
	centers := make([]spatial.Vec3, len(t.bodies))
	for b, bd := range t.bodies {
		pose := k.bodies[b]
		centers[b] = pose.Act(bd.com)
		jac := t.pointJacobian(k, b, centers[b])
		mt.jv[b] = mat.DenseCopyOf(linalg.Block(jac, 0, 0, 3, nv))
		mt.jw[b] = mat.DenseCopyOf(linalg.Block(jac, 3, 0, 3, nv))
		local := spatial.Mat3{{bd.inertia[0], 0, 0}, {0, bd.inertia[1], 0}, {0, 0, bd.inertia[2]}}
		mt.inertia[b] = pose.R.Mul(local).Mul(pose.R.T())
		mt.com = mt.com.Add(centers[b].Scale(bd.mass / total))

		scaled := linalg.Scaled(bd.mass/total, mt.jv[b])
		mt.comJac.Add(mt.comJac, scaled)
	}

	var tmp mat.Dense
	for b, bd := range t.bodies {
		lever := spatial.Skew(centers[b].Sub(mt.com)).Dense()
		tmp.Mul(lever, mt.jv[b])
		tmp.Scale(bd.mass, &tmp)
		mt.angMat.Add(mt.angMat, &tmp)
		tmp.Mul(mt.inertia[b].Dense(), mt.jw[b])
		mt.angMat.Add(mt.angMat, &tmp)
	}
	return mt
}

// Recompute refreshes every dynamics quantity for configuration q,
// velocity v and the active-contact mask. mask may be nil when no contact
// virtual links are registered.
func (t *Tree) Recompute(q, v []float64, mask []bool) error {
	if len(q) != t.NQ() || len(v) != t.NV() {
		return fmt.Errorf("%w: recompute got q=%d v=%d, want %d/%d", ErrDimensionMismatch, len(q), len(v), t.NQ(), t.NV())
	}
	if len(mask) != len(t.contactLinks) {
		return fmt.Errorf("%w: contact mask has %d entries for %d contact links", ErrDimensionMismatch, len(mask), len(t.contactLinks))
	}
	if !linalg.IsFinite(q) || !linalg.IsFinite(v) {
		return ErrInvalidState
	}

	d := &data{
		q:    append([]float64(nil), q...),
		v:    append([]float64(nil), v...),
		mask: append([]bool(nil), mask...),
	}
	d.kin = t.forwardKinematics(q)
	d.kinPlus = t.forwardKinematics(t.integrate(q, v, jdotEps))
	d.kinMinus = t.forwardKinematics(t.integrate(q, v, -jdotEps))

	vel := mat.NewVecDense(t.NV(), d.v)
	cur := t.massTerms(d.kin)
	plus := t.massTerms(d.kinPlus)
	minus := t.massTerms(d.kinMinus)

	d.mass, d.bias = t.inertiaAndBias(cur, plus, minus, vel)

	d.com = cur.com
	d.comJac = cur.comJac
	d.comVel = vec3(linalg.MulVec(cur.comJac, vel))
	d.comJdotV = centralDiff(plus.comJac, minus.comJac, vel)

	d.angMat = cur.angMat
	d.angMom = vec3(linalg.MulVec(cur.angMat, vel))
	d.angDrift = centralDiff(plus.angMat, minus.angMat, vel)

	t.data = d
	t.computeContacts()
	return nil
}

func (t *Tree) inertiaAndBias(cur, plus, minus *massTerms, vel *mat.VecDense) (*mat.Dense, *mat.VecDense) {
	nv := t.NV()
	m := linalg.Zeros(nv, nv)
	h := linalg.ZeroVec(nv)
	var tmp, tmp2 mat.Dense
	var force mat.VecDense
	gravity := spatial.Vec3{0, 0, t.gravity}

	for b, bd := range t.bodies {
		jv, jw := cur.jv[b], cur.jw[b]
		inertia := cur.inertia[b].Dense()

		tmp.Mul(jv.T(), jv)
		tmp.Scale(bd.mass, &tmp)
		m.Add(m, &tmp)
		tmp2.Mul(inertia, jw)
		tmp.Mul(jw.T(), &tmp2)
		m.Add(m, &tmp)

		accLin := vec3(centralDiff(plus.jv[b], minus.jv[b], vel))
		accAng := vec3(centralDiff(plus.jw[b], minus.jw[b], vel))
		omega := vec3(linalg.MulVec(jw, vel))

		fLin := accLin.Add(gravity).Scale(bd.mass)
		fAng := cur.inertia[b].MulVec(accAng).Add(omega.Cross(cur.inertia[b].MulVec(omega)))

		force.MulVec(jv.T(), mat.NewVecDense(3, fLin[:]))
		h.AddVec(h, &force)
		force.MulVec(jw.T(), mat.NewVecDense(3, fAng[:]))
		h.AddVec(h, &force)
	}
	return m, h
}

// centralDiff returns (A⁺·v − A⁻·v)/(2ε), the J̇·v term of a
// configuration-dependent matrix sampled on either side of the current
// configuration along v.
func centralDiff(plus, minus *mat.Dense, v *mat.VecDense) *mat.VecDense {
	out := linalg.MulVec(plus, v)
	if out.Len() == 0 {
		return out
	}
	out.SubVec(out, linalg.MulVec(minus, v))
	out.ScaleVec(1/(2*jdotEps), out)
	return out
}

func vec3(v mat.Vector) spatial.Vec3 {
	return spatial.Vec3{v.AtVec(0), v.AtVec(1), v.AtVec(2)}
}

func (t *Tree) snapshot() (*data, error) {
	if t.data == nil {
		return nil, ErrNotComputed
	}
	return t.data, nil
}

func (t *Tree) Configuration() []float64 {
	if t.data == nil {
		return nil
	}
	return append([]float64(nil), t.data.q...)
}

func (t *Tree) Velocity() []float64 {
	if t.data == nil {
		return nil
	}
	return append([]float64(nil), t.data.v...)
}

func (t *Tree) FramePose(name string) (spatial.Pose, error) {
	d, err := t.snapshot()
	if err != nil {
		return spatial.Pose{}, err
	}
	f, err := t.lookup(name)
	if err != nil {
		return spatial.Pose{}, err
	}
	return t.framePose(d.kin, f), nil
}

func (t *Tree) frameJacobian(k *kinematics, name string) (*mat.Dense, error) {
	f, err := t.lookup(name)
	if err != nil {
		return nil, err
	}
	return t.pointJacobian(k, f.body, t.framePose(k, f).P), nil
}

func (t *Tree) FrameJacobian(name string) (*mat.Dense, error) {
	d, err := t.snapshot()
	if err != nil {
		return nil, err
	}
	return t.frameJacobian(d.kin, name)
}

func (t *Tree) FrameVelocity(name string) (linear, angular spatial.Vec3, err error) {
	jac, err := t.FrameJacobian(name)
	if err != nil {
		return linear, angular, err
	}
	tw := linalg.MulVec(jac, mat.NewVecDense(t.NV(), t.data.v))
	return vec3(tw), spatial.Vec3{tw.AtVec(3), tw.AtVec(4), tw.AtVec(5)}, nil
}

func (t *Tree) FrameJdotV(name string) (*mat.VecDense, error) {
	d, err := t.snapshot()
	if err != nil {
		return nil, err
	}
	plus, err := t.frameJacobian(d.kinPlus, name)
	if err != nil {
		return nil, err
	}
	minus, _ := t.frameJacobian(d.kinMinus, name)
	return centralDiff(plus, minus, mat.NewVecDense(t.NV(), d.v)), nil
}

func (t *Tree) CenterOfMassPosition() spatial.Vec3 {
	if t.data == nil {
		return t.massTerms(t.forwardKinematics(t.HomeConfiguration())).com
	}
	return t.data.com
}

func (t *Tree) CenterOfMassVelocity() spatial.Vec3  { return t.data.comVel }
func (t *Tree) CenterOfMassJacobian() *mat.Dense    { return t.data.comJac }
func (t *Tree) CenterOfMassJdotV() *mat.VecDense    { return t.data.comJdotV }
func (t *Tree) AngularMomentum() spatial.Vec3       { return t.data.angMom }
func (t *Tree) AngularMomentumMatrix() *mat.Dense   { return t.data.angMat }
func (t *Tree) AngularMomentumDrift() *mat.VecDense { return t.data.angDrift }
func (t *Tree) MassMatrix() *mat.Dense              { return t.data.mass }
func (t *Tree) BiasForce() *mat.VecDense            { return t.data.bias }
