package integrators

import "testing"

func benchmark(b *testing.B, name string) {
	integ, _ := New(name)
	dyn := &oscillator{}
	q, v := []float64{1}, []float64{0}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		q, v, _ = integ.Step(dyn, q, v, nil, 0.01)
	}
}

func BenchmarkEuler(b *testing.B)        { benchmark(b, "euler") }
func BenchmarkSemiImplicit(b *testing.B) { benchmark(b, "semi_implicit") }
func BenchmarkRK4(b *testing.B)          { benchmark(b, "rk4") }
func BenchmarkVerlet(b *testing.B)       { benchmark(b, "verlet") }
