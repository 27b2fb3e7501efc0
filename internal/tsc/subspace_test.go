package tsc

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/wbcsim/internal/linalg"
	"github.com/san-kum/wbcsim/internal/robot"
)

func newBiped(t *testing.T, floating bool) *robot.Tree {
	t.Helper()
	b, err := robot.NewBiped(floating)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.SetContactVirtualLinks(robot.BipedContactLinks); err != nil {
		t.Fatal(err)
	}
	if err := b.SetConnectedVirtualLinkPairs(robot.BipedLinkPairs); err != nil {
		t.Fatal(err)
	}
	return b
}

func wavyVelocity(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = 0.2 * math.Sin(float64(i)+0.5)
	}
	return v
}

func TestConstraintForceSubspace(t *testing.T) {
	b := newBiped(t, false)
	v := wavyVelocity(b.NV())
	if err := b.Recompute(b.HomeConfiguration(), v, make([]bool, 8)); err != nil {
		t.Fatal(err)
	}

	T, Tdot, err := BuildConstraintForceSubspace(b)
	if err != nil {
		t.Fatal(err)
	}
	p := len(robot.BipedLinkPairs)
	if r, c := T.Dims(); r != 6*p || c != p {
		t.Fatalf("T is %dx%d, want %dx%d", r, c, 6*p, p)
	}

	vel := mat.NewVecDense(len(v), v)
	for i, pair := range robot.BipedLinkPairs {
		first, _ := b.FramePose(pair.First)
		second, _ := b.FramePose(pair.Second)
		rel, _ := b.RelativeJacobianForPair(i)
		relVel := linalg.MulVec(rel, vel)
		for r := 0; r < 6; r++ {
			wantT, wantTdot := 0.0, 0.0
			if r < 3 {
				wantT = first.P[r] - second.P[r]
				wantTdot = relVel.AtVec(r)
			}
			if got := T.At(6*i+r, i); got != wantT {
				t.Errorf("pair %d row %d: T=%g, want %g", i, r, got, wantT)
			}
			if got := Tdot.At(6*i+r, i); math.Abs(got-wantTdot) > 1e-12 {
				t.Errorf("pair %d row %d: Tdot=%g, want %g", i, r, got, wantTdot)
			}
		}
		for j := 0; j < p; j++ {
			if j != i && T.At(6*i, j) != 0 {
				t.Errorf("pair %d leaks into column %d", i, j)
			}
		}
	}

	T2, Tdot2, err := BuildConstraintForceSubspace(b)
	if err != nil {
		t.Fatal(err)
	}
	if !mat.Equal(T, T2) || !mat.Equal(Tdot, Tdot2) {
		t.Error("subspace differs between identical builds")
	}
}

func TestClosedChainTermIsRodLengthRate(t *testing.T) {
	b := newBiped(t, false)
	v := wavyVelocity(b.NV())
	if err := b.Recompute(b.HomeConfiguration(), v, make([]bool, 8)); err != nil {
		t.Fatal(err)
	}
	if err := UpdateClosedChain(b); err != nil {
		t.Fatal(err)
	}
	// Row i of J_cc·v is d·ḋ for rod i, half the rate of its squared length.
	rate := linalg.MulVec(b.ClosedChainJacobian(), mat.NewVecDense(len(v), v))
	q := b.HomeConfiguration()
	const h = 1e-6
	qPlus, _ := b.Integrate(q, v, h)
	qMinus, _ := b.Integrate(q, v, -h)
	for i, pair := range robot.BipedLinkPairs {
		length2 := func(cfg []float64) float64 {
			if err := b.Recompute(cfg, v, make([]bool, 8)); err != nil {
				t.Fatal(err)
			}
			f, _ := b.FramePose(pair.First)
			s, _ := b.FramePose(pair.Second)
			d := f.P.Sub(s.P)
			return d.Dot(d)
		}
		fd := (length2(qPlus) - length2(qMinus)) / (4 * h)
		if math.Abs(rate.AtVec(i)-fd) > 1e-6 {
			t.Errorf("pair %d: J_cc·v=%g, finite difference %g", i, rate.AtVec(i), fd)
		}
	}
}

func TestContactMaskRemovesRows(t *testing.T) {
	b := newBiped(t, true)
	engine := NewEngine(b, mustSolver(t), nil)
	for _, err := range []error{
		engine.AddTask(NewRegularizationTask("reg")),
		engine.AddLinearConstraint(NewContactPointsConstraint("cp")),
		engine.AddLinearConstraint(NewContactForceConstraint("cf")),
	} {
		if err != nil {
			t.Fatal(err)
		}
	}
	q, v := b.HomeConfiguration(), make([]float64, b.NV())
	all := []bool{true, true, true, true, true, true, true, true}
	if err := b.Recompute(q, v, all); err != nil {
		t.Fatal(err)
	}
	full, layout, err := engine.Assemble()
	if err != nil {
		t.Fatal(err)
	}
	if layout.Contacts != 8 || linalg.Rows(full.A) != 8*(3+rowsPerContact) {
		t.Fatalf("expected %d rows for 8 contacts, got %d", 8*(3+rowsPerContact), linalg.Rows(full.A))
	}

	off := append([]bool(nil), all...)
	off[2] = false
	if err := b.Recompute(q, v, off); err != nil {
		t.Fatal(err)
	}
	reduced, layout, err := engine.Assemble()
	if err != nil {
		t.Fatal(err)
	}
	if layout.Contacts != 7 || linalg.Rows(reduced.A) != 7*(3+rowsPerContact) {
		t.Errorf("expected 7 contacts' rows, got %d contacts and %d rows", layout.Contacts, linalg.Rows(reduced.A))
	}
	if want := b.NV() + 21 + len(robot.BipedLinkPairs); layout.Size() != want {
		t.Errorf("decision size %d, want %d", layout.Size(), want)
	}

	// Re-enable after the robot moved: the rows must follow the new pose.
	moved := append([]float64(nil), q...)
	moved[7+2] += 0.2 // left hip pitch
	if err := b.Recompute(moved, v, all); err != nil {
		t.Fatal(err)
	}
	restored, layout, err := engine.Assemble()
	if err != nil {
		t.Fatal(err)
	}
	if layout.Contacts != 8 {
		t.Fatalf("expected 8 contacts after re-enabling, got %d", layout.Contacts)
	}
	jac, _ := b.FrameJacobian("contact3")
	for r := 0; r < 3; r++ {
		for c := 0; c < b.NV(); c++ {
			if restored.A.At(6+r, c) != jac.At(r, c) {
				t.Fatalf("contact3 row %d col %d = %g, want current %g", r, c, restored.A.At(6+r, c), jac.At(r, c))
			}
		}
	}
}
