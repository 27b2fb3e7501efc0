// Package spatial provides the small rigid-body algebra used by the robot
// model and the motion tasks: 3-vectors, rotation matrices, poses,
// quaternion conversions and the orientation-error operator.
//
// Rotations are stored as row-major 3×3 arrays. Quaternions use gonum's
// quat.Number with Real as the scalar part.
package spatial

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

type Vec3 [3]float64

func (a Vec3) Add(b Vec3) Vec3 { return Vec3{a[0] + b[0], a[1] + b[1], a[2] + b[2]} }
func (a Vec3) Sub(b Vec3) Vec3 { return Vec3{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }
func (a Vec3) Scale(s float64) Vec3 {
	return Vec3{a[0] * s, a[1] * s, a[2] * s}
}
func (a Vec3) Dot(b Vec3) float64 { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }
func (a Vec3) Cross(b Vec3) Vec3 {
	return Vec3{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}
func (a Vec3) Norm() float64 { return math.Sqrt(a.Dot(a)) }

// Unit returns a/|a|, or the zero vector when a is zero.
func (a Vec3) Unit() Vec3 {
	n := a.Norm()
	if n == 0 {
		return Vec3{}
	}
	return a.Scale(1 / n)
}

type Mat3 [3][3]float64

func Identity3() Mat3 {
	return Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

func (m Mat3) Mul(n Mat3) Mat3 {
	var out Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = m[i][0]*n[0][j] + m[i][1]*n[1][j] + m[i][2]*n[2][j]
		}
	}
	return out
}

func (m Mat3) MulVec(v Vec3) Vec3 {
	return Vec3{
		m[0][0]*v[0] + m[0][1]*v[1] + m[0][2]*v[2],
		m[1][0]*v[0] + m[1][1]*v[1] + m[1][2]*v[2],
		m[2][0]*v[0] + m[2][1]*v[1] + m[2][2]*v[2],
	}
}

func (m Mat3) T() Mat3 {
	var out Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = m[j][i]
		}
	}
	return out
}

// Col returns column j.
func (m Mat3) Col(j int) Vec3 { return Vec3{m[0][j], m[1][j], m[2][j]} }

// Dense converts m to a gonum matrix.
func (m Mat3) Dense() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		m[0][0], m[0][1], m[0][2],
		m[1][0], m[1][1], m[1][2],
		m[2][0], m[2][1], m[2][2],
	})
}

// Skew returns the cross-product matrix of v: Skew(v)·w = v×w.
func Skew(v Vec3) Mat3 {
	return Mat3{
		{0, -v[2], v[1]},
		{v[2], 0, -v[0]},
		{-v[1], v[0], 0},
	}
}

// AxisAngle returns the rotation of angle radians about axis (Rodrigues).
func AxisAngle(axis Vec3, angle float64) Mat3 {
	k := axis.Unit()
	s, c := math.Sincos(angle)
	K := Skew(k)
	K2 := K.Mul(K)
	out := Identity3()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] += s*K[i][j] + (1-c)*K2[i][j]
		}
	}
	return out
}

// Exp maps a rotation vector to a rotation matrix.
func Exp(w Vec3) Mat3 {
	angle := w.Norm()
	if angle < 1e-12 {
		return Identity3()
	}
	return AxisAngle(w, angle)
}

// Log maps a rotation matrix to its rotation vector, the inverse of Exp
// for angles in [0, π].
func Log(r Mat3) Vec3 {
	tr := r[0][0] + r[1][1] + r[2][2]
	cosA := math.Max(-1, math.Min(1, (tr-1)/2))
	angle := math.Acos(cosA)
	vee := Vec3{r[2][1] - r[1][2], r[0][2] - r[2][0], r[1][0] - r[0][1]}
	switch {
	case angle < 1e-9:
		return vee.Scale(0.5)
	case math.Pi-angle < 1e-6:
		k := 0
		for i := 1; i < 3; i++ {
			if r[i][i] > r[k][k] {
				k = i
			}
		}
		axis := r.Col(k)
		axis[k] += 1
		axis = axis.Scale(1 / math.Sqrt(2*(1+r[k][k])))
		return axis.Scale(angle)
	}
	return vee.Scale(angle / (2 * math.Sin(angle)))
}

// OrientationError returns the world-frame rotation vector taking cur to
// ref, log(ref·curᵀ). It is the ⊖ operator of the rotational PD law.
func OrientationError(ref, cur Mat3) Vec3 {
	return Log(ref.Mul(cur.T()))
}

// Pose is a rigid transform: rotation R then translation P.
type Pose struct {
	R Mat3
	P Vec3
}

func IdentityPose() Pose { return Pose{R: Identity3()} }

// Mul composes p then q: (p·q).Act(x) = p.Act(q.Act(x)).
func (p Pose) Mul(q Pose) Pose {
	return Pose{R: p.R.Mul(q.R), P: p.R.MulVec(q.P).Add(p.P)}
}

// Act transforms a point.
func (p Pose) Act(x Vec3) Vec3 { return p.R.MulVec(x).Add(p.P) }

// Inverse returns p⁻¹.
func (p Pose) Inverse() Pose {
	rt := p.R.T()
	return Pose{R: rt, P: rt.MulVec(p.P).Scale(-1)}
}

// QuatXYZW builds a quaternion from vector-first components, the order
// used in configuration vectors.
func QuatXYZW(x, y, z, w float64) quat.Number {
	return quat.Number{Real: w, Imag: x, Jmag: y, Kmag: z}
}

// Normalize returns q/|q|. A zero quaternion becomes the identity.
func Normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}

// QuatToMat3 returns the rotation matrix of a unit quaternion.
func QuatToMat3(q quat.Number) Mat3 {
	q = Normalize(q)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return Mat3{
		{1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w)},
		{2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w)},
		{2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y)},
	}
}

// Mat3ToQuat returns the unit quaternion of r with non-negative real part.
func Mat3ToQuat(r Mat3) quat.Number {
	var q quat.Number
	tr := r[0][0] + r[1][1] + r[2][2]
	switch {
	case tr > 0:
		s := 2 * math.Sqrt(tr+1)
		q = quat.Number{Real: s / 4, Imag: (r[2][1] - r[1][2]) / s, Jmag: (r[0][2] - r[2][0]) / s, Kmag: (r[1][0] - r[0][1]) / s}
	case r[0][0] > r[1][1] && r[0][0] > r[2][2]:
		s := 2 * math.Sqrt(1+r[0][0]-r[1][1]-r[2][2])
		q = quat.Number{Real: (r[2][1] - r[1][2]) / s, Imag: s / 4, Jmag: (r[0][1] + r[1][0]) / s, Kmag: (r[0][2] + r[2][0]) / s}
	case r[1][1] > r[2][2]:
		s := 2 * math.Sqrt(1+r[1][1]-r[0][0]-r[2][2])
		q = quat.Number{Real: (r[0][2] - r[2][0]) / s, Imag: (r[0][1] + r[1][0]) / s, Jmag: s / 4, Kmag: (r[1][2] + r[2][1]) / s}
	default:
		s := 2 * math.Sqrt(1+r[2][2]-r[0][0]-r[1][1])
		q = quat.Number{Real: (r[1][0] - r[0][1]) / s, Imag: (r[0][2] + r[2][0]) / s, Jmag: (r[1][2] + r[2][1]) / s, Kmag: s / 4}
	}
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	return Normalize(q)
}

// Rotate applies the rotation of unit quaternion q to v as q·v·q*.
func Rotate(q quat.Number, v Vec3) Vec3 {
	p := quat.Mul(quat.Mul(q, quat.Number{Imag: v[0], Jmag: v[1], Kmag: v[2]}), quat.Conj(q))
	return Vec3{p.Imag, p.Jmag, p.Kmag}
}

// WorldToBody expresses a world-frame velocity in the body frame of
// orientation q: R(q)ᵀ·v.
func WorldToBody(q quat.Number, v Vec3) Vec3 {
	return Rotate(quat.Conj(Normalize(q)), v)
}

// BodyToWorld is the inverse of WorldToBody: R(q)·v.
func BodyToWorld(q quat.Number, v Vec3) Vec3 {
	return Rotate(Normalize(q), v)
}

// IntegrateQuat advances q by a body-frame angular velocity over dt.
func IntegrateQuat(q quat.Number, omegaBody Vec3, dt float64) quat.Number {
	dq := Mat3ToQuat(Exp(omegaBody.Scale(dt)))
	return Normalize(quat.Mul(q, dq))
}
