package robot

import (
	"fmt"
	"math"
)

// Names of the biped's virtual links, shared with the controller wiring.
var (
	BipedContactLinks = []string{
		"contact1", "contact2", "contact3", "contact4",
		"contact5", "contact6", "contact7", "contact8",
	}

	BipedLinkPairs = []LinkPair{
		{First: "cp_left_achillies_rod", Second: "cp_left_heel_spring"},
		{First: "cp_right_achillies_rod", Second: "cp_right_heel_spring"},
		{First: "cp_left_toe_A_rod", Second: "cp_left_toe_roll_A"},
		{First: "cp_left_toe_B_rod", Second: "cp_left_toe_roll_B"},
		{First: "cp_right_toe_A_rod", Second: "cp_right_toe_roll_A"},
		{First: "cp_right_toe_B_rod", Second: "cp_right_toe_roll_B"},
	}
)

// Leg geometry. The home posture bends the knee so the stance is not
// singular and puts the toe frame 0.839273 m below the pelvis.
const (
	hipOffsetY  = 0.135
	thighLength = 0.25
	shinLength  = 0.23
	footDrop    = 0.138374098
	homePitch   = 0.35
	soleDepth   = 0.03
)

var (
	axisX = [3]float64{1, 0, 0}
	axisY = [3]float64{0, 1, 0}
	axisZ = [3]float64{0, 0, 1}
)

func link(name string, mass float64, com [3]float64, inertia float64) BodySpec {
	return BodySpec{Name: name, Mass: mass, CoM: com, Inertia: [3]float64{inertia, inertia, inertia}}
}

func bipedLeg(side string, sign float64) ([]JointSpec, []FrameSpec) {
	n := func(s string) string { return side + "_" + s }
	joints := []JointSpec{
		{Name: n("hip_roll"), Origin: [3]float64{0, sign * hipOffsetY, -0.09}, Axis: axisX,
			Actuated: true, EffortLimit: 112.5, Body: link(n("hip_roll"), 1.5, [3]float64{0, 0, -0.03}, 0.005)},
		{Name: n("hip_yaw"), Parent: n("hip_roll"), Origin: [3]float64{0, 0, -0.07}, Axis: axisZ,
			Actuated: true, EffortLimit: 112.5, Body: link(n("hip_yaw"), 1.5, [3]float64{0, 0, -0.04}, 0.005)},
		{Name: n("hip_pitch"), Parent: n("hip_yaw"), Origin: [3]float64{0, 0, -0.09}, Axis: axisY,
			Actuated: true, EffortLimit: 195.2, Home: homePitch,
			Body: link(n("thigh"), 5.0, [3]float64{0, 0, -0.10}, 0.03)},
		{Name: n("knee"), Parent: n("thigh"), Origin: [3]float64{0, 0, -thighLength}, Axis: axisY,
			Actuated: true, EffortLimit: 195.2, Home: -2 * homePitch,
			Body: link(n("shin"), 0.8, [3]float64{0, 0, -0.10}, 0.008)},
		{Name: n("tarsus"), Parent: n("shin"), Origin: [3]float64{0, 0, -shinLength}, Axis: axisY,
			Home: homePitch, Body: link(n("tarsus"), 0.6, [3]float64{0, 0, -0.06}, 0.004)},
		{Name: n("toe_A"), Parent: n("tarsus"), Origin: [3]float64{-0.02, 0.02, -0.05}, Axis: axisY,
			Actuated: true, EffortLimit: 45.9, Body: link(n("toe_crank_A"), 0.1, [3]float64{-0.03, 0, 0}, 0.0005)},
		{Name: n("toe_B"), Parent: n("tarsus"), Origin: [3]float64{-0.02, -0.02, -0.05}, Axis: axisY,
			Actuated: true, EffortLimit: 45.9, Body: link(n("toe_crank_B"), 0.1, [3]float64{-0.03, 0, 0}, 0.0005)},
		{Name: n("toe_pitch"), Parent: n("tarsus"), Origin: [3]float64{0, 0, -footDrop}, Axis: axisY,
			Body: link(n("toe_pitch"), 0.05, [3]float64{}, 0.0002)},
		{Name: n("toe_roll"), Parent: n("toe_pitch"), Axis: axisX,
			Body: link(n("toe"), 0.2, [3]float64{0, 0, -0.01}, 0.001)},
	}
	frames := []FrameSpec{
		{Name: n("toe_roll"), Body: n("toe")},
		{Name: "cp_" + n("achillies_rod"), Body: n("thigh"), Offset: [3]float64{-0.04, 0, -0.02}},
		{Name: "cp_" + n("heel_spring"), Body: n("tarsus"), Offset: [3]float64{-0.06, 0, 0.03}},
		{Name: "cp_" + n("toe_A_rod"), Body: n("toe_crank_A"), Offset: [3]float64{-0.06, 0, 0}},
		{Name: "cp_" + n("toe_B_rod"), Body: n("toe_crank_B"), Offset: [3]float64{-0.06, 0, 0}},
		{Name: "cp_" + n("toe_roll_A"), Body: n("toe"), Offset: [3]float64{-0.06, 0.03, 0.02}},
		{Name: "cp_" + n("toe_roll_B"), Body: n("toe"), Offset: [3]float64{-0.06, -0.03, 0.02}},
	}
	return joints, frames
}

// BipedDescription returns a Cassie-like biped: nine joints per leg (six
// actuated), four sole contact points per foot and three rods per leg
// closing the achilles and toe linkages.
func BipedDescription() *Description {
	desc := &Description{
		Name:    "biped",
		Base:    link("pelvis", 25.0, [3]float64{0, 0, 0.33}, 0.3),
		Gravity: defaultGravity,
	}
	for _, leg := range []struct {
		side string
		sign float64
	}{{"left", 1}, {"right", -1}} {
		joints, frames := bipedLeg(leg.side, leg.sign)
		desc.Joints = append(desc.Joints, joints...)
		desc.Frames = append(desc.Frames, frames...)
	}
	desc.Frames = append(desc.Frames, FrameSpec{Name: "torso", Body: "pelvis", Offset: [3]float64{0, 0, 0.2}})

	contact := 0
	for _, side := range []string{"left", "right"} {
		for _, x := range []float64{0.08, -0.08} {
			for _, y := range []float64{0.03, -0.03} {
				desc.Frames = append(desc.Frames, FrameSpec{
					Name: BipedContactLinks[contact], Body: side + "_toe",
					Offset: [3]float64{x, y, -soleDepth},
				})
				contact++
			}
		}
	}
	return desc
}

// NewBiped builds the biped. The floating-base variant starts with its
// soles on the ground plane z = 0; the fixed-base variant hangs from a
// pelvis held at the world origin.
func NewBiped(floatingBase bool) (*Tree, error) {
	desc := BipedDescription()
	if floatingBase {
		h, err := soleClearance(desc)
		if err != nil {
			return nil, err
		}
		desc.BasePosition = [3]float64{0, 0, h}
	}
	return NewTree(desc, floatingBase)
}

// soleClearance returns the height the pelvis must sit at for the lowest
// contact point of the home posture to touch z = 0.
func soleClearance(desc *Description) (float64, error) {
	fixed, err := NewTree(desc, false)
	if err != nil {
		return 0, err
	}
	k := fixed.forwardKinematics(fixed.HomeConfiguration())
	lowest := math.Inf(1)
	for _, name := range BipedContactLinks {
		f, err := fixed.lookup(name)
		if err != nil {
			return 0, fmt.Errorf("biped: %w", err)
		}
		lowest = math.Min(lowest, fixed.framePose(k, f).P[2])
	}
	return -lowest, nil
}
