package controller

import (
	"fmt"
	"math"

	"github.com/san-kum/wbcsim/internal/linalg"
	"github.com/san-kum/wbcsim/internal/spatial"
)

// quatTolerance bounds |‖q‖ − 1| for an accepted base orientation.
const quatTolerance = 1e-3

// BaseState is the measured floating-base state. Velocities are
// world-frame; the quaternion is stored x, y, z, w.
type BaseState struct {
	Position        spatial.Vec3
	Quaternion      [4]float64
	LinearVelocity  spatial.Vec3
	AngularVelocity spatial.Vec3
}

// RobotState is one measurement. Base is ignored on a fixed-base robot.
type RobotState struct {
	Base            BaseState
	JointPositions  []float64
	JointVelocities []float64
}

// IdentityBase is a base at the origin with identity orientation.
func IdentityBase() BaseState {
	return BaseState{Quaternion: [4]float64{0, 0, 0, 1}}
}

// GeneralizedState maps a measurement to the model's generalized
// coordinates. A floating base yields q = [p, quat x,y,z,w, joints] and
// v = [Rᵀ·v_world, Rᵀ·ω_world, joint rates]; a fixed base passes the
// joint vectors through. joints is the expected joint count.
func GeneralizedState(s RobotState, floating bool, joints int) (q, v []float64, err error) {
	if len(s.JointPositions) != joints || len(s.JointVelocities) != joints {
		return nil, nil, fmt.Errorf("%w: got %d positions and %d velocities, want %d",
			ErrStateDimension, len(s.JointPositions), len(s.JointVelocities), joints)
	}
	if !linalg.IsFinite(s.JointPositions) || !linalg.IsFinite(s.JointVelocities) {
		return nil, nil, fmt.Errorf("%w: joint state", ErrNonFinite)
	}
	if !floating {
		return append([]float64(nil), s.JointPositions...), append([]float64(nil), s.JointVelocities...), nil
	}

	b := s.Base
	if !linalg.IsFinite(b.Position[:]) || !linalg.IsFinite(b.Quaternion[:]) ||
		!linalg.IsFinite(b.LinearVelocity[:]) || !linalg.IsFinite(b.AngularVelocity[:]) {
		return nil, nil, fmt.Errorf("%w: base state", ErrNonFinite)
	}
	orient := spatial.QuatXYZW(b.Quaternion[0], b.Quaternion[1], b.Quaternion[2], b.Quaternion[3])
	norm := math.Sqrt(b.Quaternion[0]*b.Quaternion[0] + b.Quaternion[1]*b.Quaternion[1] +
		b.Quaternion[2]*b.Quaternion[2] + b.Quaternion[3]*b.Quaternion[3])
	if math.Abs(norm-1) > quatTolerance {
		return nil, nil, fmt.Errorf("%w: norm %g", ErrInvalidQuaternion, norm)
	}
	orient = spatial.Normalize(orient)

	q = make([]float64, 0, joints+7)
	q = append(q, b.Position[:]...)
	q = append(q, orient.Imag, orient.Jmag, orient.Kmag, orient.Real)
	q = append(q, s.JointPositions...)

	lin := spatial.WorldToBody(orient, b.LinearVelocity)
	ang := spatial.WorldToBody(orient, b.AngularVelocity)
	v = make([]float64, 0, joints+6)
	v = append(v, lin[:]...)
	v = append(v, ang[:]...)
	v = append(v, s.JointVelocities...)
	return q, v, nil
}

// StateFromGeneralized is the inverse of GeneralizedState, used by the
// simulator to report its integrated state as a measurement.
func StateFromGeneralized(q, v []float64, floating bool) RobotState {
	if !floating {
		return RobotState{
			Base:            IdentityBase(),
			JointPositions:  append([]float64(nil), q...),
			JointVelocities: append([]float64(nil), v...),
		}
	}
	orient := spatial.QuatXYZW(q[3], q[4], q[5], q[6])
	return RobotState{
		Base: BaseState{
			Position:        spatial.Vec3{q[0], q[1], q[2]},
			Quaternion:      [4]float64{q[3], q[4], q[5], q[6]},
			LinearVelocity:  spatial.BodyToWorld(orient, spatial.Vec3{v[0], v[1], v[2]}),
			AngularVelocity: spatial.BodyToWorld(orient, spatial.Vec3{v[3], v[4], v[5]}),
		},
		JointPositions:  append([]float64(nil), q[7:]...),
		JointVelocities: append([]float64(nil), v[6:]...),
	}
}
