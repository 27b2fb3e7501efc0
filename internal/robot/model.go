// Package robot defines the robot model consumed by the task-space
// controller and ships a rigid-body tree implementation of it.
//
// A Model is recomputed once per control tick from the measured
// generalized position and velocity and the active-contact mask. Every
// query afterwards (frame poses, Jacobians, mass matrix, bias forces,
// centroidal quantities, contact and closed-chain terms) reads that
// snapshot; nothing is recomputed implicitly.
//
// # Conventions
//
// Floating-base configurations are laid out as [p (3), quaternion x,y,z,w
// (4), joints], velocities as [body-frame linear (3), body-frame angular
// (3), joints]. Frame Jacobians are 6×nv with world-aligned linear rows
// first and angular rows second.
package robot

import (
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/wbcsim/internal/spatial"
)

// LinkPair names two virtual-link points joined by a rigid rod.
type LinkPair struct {
	First  string `yaml:"first"`
	Second string `yaml:"second"`
}

type Model interface {
	NQ() int
	NV() int
	NA() int
	IsFloatingBase() bool
	HomeConfiguration() []float64

	Recompute(q, v []float64, mask []bool) error
	Configuration() []float64
	Velocity() []float64

	HasFrame(name string) bool
	FramePose(name string) (spatial.Pose, error)
	FrameJacobian(name string) (*mat.Dense, error)
	FrameVelocity(name string) (linear, angular spatial.Vec3, err error)
	FrameJdotV(name string) (*mat.VecDense, error)

	CenterOfMassPosition() spatial.Vec3
	CenterOfMassVelocity() spatial.Vec3
	CenterOfMassJacobian() *mat.Dense
	CenterOfMassJdotV() *mat.VecDense

	AngularMomentum() spatial.Vec3
	AngularMomentumMatrix() *mat.Dense
	AngularMomentumDrift() *mat.VecDense

	MassMatrix() *mat.Dense
	BiasForce() *mat.VecDense
	ActuatedIndices() []int
	ActuatorEffortLimits() []float64

	SetContactVirtualLinks(names []string) error
	ContactVirtualLinks() []string
	ContactMask() []bool
	ActiveContacts() int
	ContactJacobian() *mat.Dense
	ContactJdotV() *mat.VecDense

	SetConnectedVirtualLinkPairs(pairs []LinkPair) error
	ConnectedVirtualLinkPairs() []LinkPair
	RelativeJacobianForPair(i int) (*mat.Dense, error)
	RelativeJdotVForPair(i int) (*mat.VecDense, error)
	SetConstraintForceSubspace(t, tdot *mat.Dense) error
	ComputeClosedChainTerm() error
	ClosedChainJacobian() *mat.Dense
	ClosedChainDrift() *mat.VecDense
}
