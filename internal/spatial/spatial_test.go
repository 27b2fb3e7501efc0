package spatial

import (
	"math"
	"testing"
)

func vecClose(a, b Vec3, tol float64) bool {
	return a.Sub(b).Norm() <= tol
}

func matClose(a, b Mat3, tol float64) bool {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.Abs(a[i][j]-b[i][j]) > tol {
				return false
			}
		}
	}
	return true
}

func TestExpLogRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		w    Vec3
	}{
		{"zero", Vec3{}},
		{"small", Vec3{1e-7, -2e-7, 3e-7}},
		{"x axis", Vec3{0.7, 0, 0}},
		{"oblique", Vec3{0.3, -1.1, 0.4}},
		{"near pi", Vec3{0, 0, math.Pi - 1e-8}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Log(Exp(tt.w))
			if !vecClose(got, tt.w, 1e-6) {
				t.Errorf("Log(Exp(%v)) = %v", tt.w, got)
			}
		})
	}
}

func TestOrientationError(t *testing.T) {
	cur := AxisAngle(Vec3{0, 0, 1}, 0.2)
	ref := AxisAngle(Vec3{0, 0, 1}, 0.5)

	err := OrientationError(ref, cur)
	if !vecClose(err, Vec3{0, 0, 0.3}, 1e-12) {
		t.Errorf("expected yaw error 0.3, got %v", err)
	}

	if e := OrientationError(cur, cur); e.Norm() > 1e-12 {
		t.Errorf("expected zero error for identical orientations, got %v", e)
	}
}

func TestQuaternionMatrixRoundTrip(t *testing.T) {
	rots := []Mat3{
		Identity3(),
		AxisAngle(Vec3{1, 0, 0}, 2.9),
		AxisAngle(Vec3{0, 1, 0}, -2.5),
		AxisAngle(Vec3{1, 2, 3}, 1.2),
	}
	for i, r := range rots {
		if got := QuatToMat3(Mat3ToQuat(r)); !matClose(got, r, 1e-12) {
			t.Errorf("rotation %d: round trip mismatch %v vs %v", i, got, r)
		}
	}
}

func TestBodyVelocityIsPureRotation(t *testing.T) {
	q := Mat3ToQuat(AxisAngle(Vec3{0.2, -0.4, 1}, 0.9))
	world := Vec3{0.3, -1.2, 0.5}

	body := WorldToBody(q, world)
	rt := QuatToMat3(q).T()
	if !vecClose(body, rt.MulVec(world), 1e-12) {
		t.Errorf("WorldToBody = %v, want R^T v = %v", body, rt.MulVec(world))
	}
	if math.Abs(body.Norm()-world.Norm()) > 1e-12 {
		t.Errorf("rotation changed magnitude: %f vs %f", body.Norm(), world.Norm())
	}
	if back := BodyToWorld(q, body); !vecClose(back, world, 1e-12) {
		t.Errorf("round trip = %v, want %v", back, world)
	}
}

func TestPoseInverse(t *testing.T) {
	p := Pose{R: AxisAngle(Vec3{0, 1, 0}, 0.4), P: Vec3{1, 2, 3}}
	id := p.Mul(p.Inverse())
	if !matClose(id.R, Identity3(), 1e-12) || id.P.Norm() > 1e-12 {
		t.Errorf("p * p^-1 = %+v, want identity", id)
	}
}

func TestIntegrateQuat(t *testing.T) {
	q := QuatXYZW(0, 0, 0, 1)
	for i := 0; i < 100; i++ {
		q = IntegrateQuat(q, Vec3{0, 0, 1}, 0.01)
	}
	want := AxisAngle(Vec3{0, 0, 1}, 1.0)
	if got := QuatToMat3(q); !matClose(got, want, 1e-9) {
		t.Errorf("integrated rotation %v, want %v", got, want)
	}
}
