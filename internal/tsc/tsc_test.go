package tsc

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/wbcsim/internal/linalg"
	"github.com/san-kum/wbcsim/internal/qp"
	"github.com/san-kum/wbcsim/internal/robot"
	"github.com/san-kum/wbcsim/internal/spatial"
)

// newArm returns a fixed-base three-joint arm with a "tip" frame.
func newArm(t *testing.T) *robot.Tree {
	t.Helper()
	body := func(name string) robot.BodySpec {
		return robot.BodySpec{Name: name, Mass: 1, CoM: [3]float64{0, 0, -0.15}, Inertia: [3]float64{0.01, 0.01, 0.01}}
	}
	desc := &robot.Description{
		Name: "arm",
		Base: robot.BodySpec{Name: "mount", Mass: 2, Inertia: [3]float64{0.1, 0.1, 0.1}},
		Joints: []robot.JointSpec{
			{Name: "yaw", Axis: [3]float64{0, 0, 1}, Actuated: true, EffortLimit: 50, Body: body("l1")},
			{Name: "pitch", Parent: "l1", Origin: [3]float64{0, 0, -0.1}, Axis: [3]float64{0, 1, 0}, Actuated: true, EffortLimit: 50, Home: 0.3, Body: body("l2")},
			{Name: "elbow", Parent: "l2", Origin: [3]float64{0, 0, -0.3}, Axis: [3]float64{0, 1, 0}, Actuated: true, EffortLimit: 50, Home: -0.6, Body: body("l3")},
		},
		Frames: []robot.FrameSpec{{Name: "tip", Body: "l3", Offset: [3]float64{0, 0, -0.3}}},
	}
	tree, err := robot.NewTree(desc, false)
	if err != nil {
		t.Fatal(err)
	}
	return tree
}

func mustSolver(t *testing.T) *qp.ADMM {
	t.Helper()
	s, err := qp.NewADMM(qp.DefaultSettings())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func recompute(t *testing.T, m robot.Model, q, v []float64) {
	t.Helper()
	if err := m.Recompute(q, v, make([]bool, len(m.ContactVirtualLinks()))); err != nil {
		t.Fatal(err)
	}
}

func TestZeroErrorTaskHasZeroResidual(t *testing.T) {
	arm := newArm(t)
	q := arm.HomeConfiguration()
	v := []float64{0.3, -0.2, 0.5}
	recompute(t, arm, q, v)

	task := NewJointsNominalTask("posture", arm)
	if err := task.SetNominal(q); err != nil {
		t.Fatal(err)
	}
	if err := task.SetGains([]float64{100, 100, 100}, []float64{5, 5, 5}); err != nil {
		t.Fatal(err)
	}
	engine := NewEngine(arm, mustSolver(t), nil)
	if err := engine.AddTask(task); err != nil {
		t.Fatal(err)
	}
	if err := engine.Solve(); err != nil {
		t.Fatalf("solve failed: %v", err)
	}
	diag := engine.Diagnostics()
	if len(diag.Tasks) != 1 || diag.Tasks[0].Residual > 1e-10 {
		t.Errorf("expected zero residual, got %+v", diag.Tasks)
	}
	qacc, _ := engine.OptimalQacc()
	want := []float64{-1.5, 1.0, -2.5}
	if !floats.EqualApprox(qacc, want, 1e-9) {
		t.Errorf("qacc %v, want −Kd·v = %v", qacc, want)
	}
}

func TestSE3TaskDesiredAcceleration(t *testing.T) {
	arm := newArm(t)
	recompute(t, arm, arm.HomeConfiguration(), make([]float64, 3))
	pose, _ := arm.FramePose("tip")

	task := NewSE3MotionTask("tip")
	if err := task.SetGains([]float64{10, 20, 30, 1, 1, 1}, make([]float64, 6)); err != nil {
		t.Fatal(err)
	}
	target := pose
	target.P = target.P.Add(spatial.Vec3{0.1, 0.1, 0.1})
	task.SetReference(SE3Reference{Pose: target, LinearAcc: spatial.Vec3{0, 0, 2}})

	term, err := task.Evaluate(arm, NewLayout(arm))
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{1, 2, 5, 0, 0, 0}
	if got := linalg.Vec(term.Desired); !floats.EqualApprox(got, want, 1e-9) {
		t.Errorf("desired %v, want %v", got, want)
	}
	if r, c := term.Map.Dims(); r != 6 || c != 3 {
		t.Errorf("map is %dx%d, want 6x3", r, c)
	}
}

func TestTaskConfigurationErrors(t *testing.T) {
	arm := newArm(t)
	task := NewSE3MotionTask("tip")

	if err := task.SetGains([]float64{1, 2, 3}, nil); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("short gains: expected ErrDimensionMismatch, got %v", err)
	}
	if err := task.SetWeight(linalg.Identity(3)); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("small weight: expected ErrDimensionMismatch, got %v", err)
	}
	neg := linalg.Identity(6)
	neg.Set(2, 2, -1)
	if err := task.SetWeight(neg); !errors.Is(err, ErrInvalidWeight) {
		t.Errorf("indefinite weight: expected ErrInvalidWeight, got %v", err)
	}
	asym := linalg.Identity(6)
	asym.Set(0, 1, 0.5)
	if err := task.SetWeight(asym); !errors.Is(err, ErrInvalidWeight) {
		t.Errorf("asymmetric weight: expected ErrInvalidWeight, got %v", err)
	}

	engine := NewEngine(arm, mustSolver(t), nil)
	if err := engine.AddTask(NewSE3MotionTask("nowhere")); !errors.Is(err, robot.ErrUnknownFrame) {
		t.Errorf("expected ErrUnknownFrame, got %v", err)
	}
	if err := engine.AddTask(task); err != nil {
		t.Fatal(err)
	}
	if err := engine.AddTask(NewSE3MotionTask("tip")); !errors.Is(err, ErrDuplicateName) {
		t.Errorf("expected ErrDuplicateName, got %v", err)
	}
}

func TestCriticalDamping(t *testing.T) {
	task := NewCoMMotionTask("com")
	if err := task.SetGains([]float64{500, 500, 100}, nil); err != nil {
		t.Fatal(err)
	}
	task.SetCriticalDamping()
	want := []float64{2 * math.Sqrt(500), 2 * math.Sqrt(500), 20}
	if !floats.EqualApprox(task.Kd(), want, 1e-12) {
		t.Errorf("kd %v, want %v", task.Kd(), want)
	}
}

func TestSolveWithoutTasks(t *testing.T) {
	arm := newArm(t)
	recompute(t, arm, arm.HomeConfiguration(), make([]float64, 3))
	engine := NewEngine(arm, mustSolver(t), nil)
	err := engine.Solve()
	if !errors.Is(err, ErrNoTasks) {
		t.Fatalf("expected ErrNoTasks, got %v", err)
	}
	var se *SolveError
	if !errors.As(err, &se) || se.Stage != "assemble" {
		t.Errorf("expected assemble SolveError, got %v", err)
	}
	if se.Status != qp.StatusNotAttempted || engine.Diagnostics().Status != qp.StatusNotAttempted {
		t.Errorf("assembly failure reported as %v / %v", se.Status, engine.Diagnostics().Status)
	}
}

func TestFailedSolveClearsSolution(t *testing.T) {
	arm := newArm(t)
	recompute(t, arm, arm.HomeConfiguration(), make([]float64, 3))
	engine := NewEngine(arm, mustSolver(t), nil)
	bound := NewQaccBound("qacc", arm)
	if err := engine.AddTask(NewRegularizationTask("reg")); err != nil {
		t.Fatal(err)
	}
	if err := engine.AddLinearConstraint(bound); err != nil {
		t.Fatal(err)
	}
	if err := engine.Solve(); err != nil {
		t.Fatalf("feasible solve failed: %v", err)
	}
	if _, err := engine.OptimalTorque(); err != nil {
		t.Fatal(err)
	}

	bound.Fill(1, -1)
	err := engine.Solve()
	if !errors.Is(err, qp.ErrInfeasible) {
		t.Fatalf("expected qp.ErrInfeasible, got %v", err)
	}
	var se *SolveError
	if !errors.As(err, &se) || se.Solve != 2 {
		t.Errorf("expected SolveError for solve 2, got %v", err)
	}
	if _, err := engine.OptimalTorque(); !errors.Is(err, ErrNotSolved) {
		t.Errorf("expected ErrNotSolved after failure, got %v", err)
	}
	if _, err := engine.OptimalQacc(); !errors.Is(err, ErrNotSolved) {
		t.Errorf("expected ErrNotSolved after failure, got %v", err)
	}
}

func TestSinusoidalReferenceStaysBounded(t *testing.T) {
	arm := newArm(t)
	q := arm.HomeConfiguration()
	v := make([]float64, arm.NV())
	recompute(t, arm, q, v)
	tip, _ := arm.FramePose("tip")

	task := NewSE3MotionTask("tip")
	if err := task.SetGains([]float64{100, 100, 100, 0, 0, 0}, nil); err != nil {
		t.Fatal(err)
	}
	task.SetCriticalDamping()
	engine := NewEngine(arm, mustSolver(t), nil)
	for _, err := range []error{
		engine.AddTask(task),
		engine.AddTask(NewRegularizationTask("reg")),
		engine.AddLinearConstraint(NewActuatorLimit("tau")),
		engine.AddLinearConstraint(NewQaccBound("qacc", arm)),
	} {
		if err != nil {
			t.Fatal(err)
		}
	}

	const dt = 0.002
	for k := 0; k < 50; k++ {
		recompute(t, arm, q, v)
		ref := tip
		ref.P[2] += 0.05 * math.Sin(0.04*float64(k))
		task.SetReference(SE3Reference{Pose: ref})
		if err := engine.Solve(); err != nil {
			t.Fatalf("tick %d: %v", k, err)
		}
		x, _ := engine.Solution()
		if !linalg.IsFinite(x) {
			t.Fatalf("tick %d: non-finite solution", k)
		}
		qacc, _ := engine.OptimalQacc()
		for i, a := range qacc {
			if math.Abs(a) > DefaultQaccBound+1e-2 {
				t.Errorf("tick %d: qacc[%d]=%f exceeds bound", k, i, a)
			}
			v[i] += a * dt
		}
		tau, _ := engine.OptimalTorque()
		for i, limit := range arm.ActuatorEffortLimits() {
			if math.Abs(tau[i]) > limit+1e-2 {
				t.Errorf("tick %d: tau[%d]=%f exceeds %f", k, i, tau[i], limit)
			}
		}
		q, _ = arm.Integrate(q, v, dt)
	}
}

func TestTorqueMatchesInverseDynamics(t *testing.T) {
	arm := newArm(t)
	q := arm.HomeConfiguration()
	v := []float64{0.1, 0.2, -0.1}
	recompute(t, arm, q, v)

	posture := NewJointsNominalTask("posture", arm)
	if err := posture.SetGains([]float64{50, 50, 50}, []float64{1, 1, 1}); err != nil {
		t.Fatal(err)
	}
	engine := NewEngine(arm, mustSolver(t), nil)
	if err := engine.AddTask(posture); err != nil {
		t.Fatal(err)
	}
	if err := engine.Solve(); err != nil {
		t.Fatal(err)
	}
	qacc, _ := engine.OptimalQacc()
	tau, _ := engine.OptimalTorque()

	want := linalg.MulVec(arm.MassMatrix(), mat.NewVecDense(3, qacc))
	want.AddVec(want, arm.BiasForce())
	if !floats.EqualApprox(tau, linalg.Vec(want), 1e-9) {
		t.Errorf("tau %v, want M·q̈ + h = %v", tau, linalg.Vec(want))
	}

	// Feeding the torque back through forward dynamics recovers q̈.
	acc, err := arm.ForwardDynamics(tau)
	if err != nil {
		t.Fatal(err)
	}
	if !floats.EqualApprox(acc, qacc, 1e-6) {
		t.Errorf("forward dynamics %v, want %v", acc, qacc)
	}
}

func TestScaleWeightLeavesEvaluatedTerms(t *testing.T) {
	arm := newArm(t)
	q := arm.HomeConfiguration()
	recompute(t, arm, q, make([]float64, 3))

	task := NewJointsNominalTask("posture", arm)
	if err := task.SetNominal(q); err != nil {
		t.Fatal(err)
	}
	engine := NewEngine(arm, mustSolver(t), nil)
	if err := engine.AddTask(task); err != nil {
		t.Fatal(err)
	}
	if err := engine.Solve(); err != nil {
		t.Fatal(err)
	}
	term, err := task.Evaluate(arm, engine.Layout())
	if err != nil {
		t.Fatal(err)
	}
	before := mat.DenseCopyOf(term.Weight)

	if err := task.ScaleWeight(10); err != nil {
		t.Fatal(err)
	}
	if !mat.Equal(term.Weight, before) {
		t.Error("scaling the task weight changed an evaluated term")
	}
	if got := task.Weight().At(0, 0); got != 10*before.At(0, 0) {
		t.Errorf("task weight %g, want %g", got, 10*before.At(0, 0))
	}
}
