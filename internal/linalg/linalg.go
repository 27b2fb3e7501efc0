package linalg

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Zeros returns an r×c zero matrix. gonum refuses zero-length
// allocations, so an empty dimension yields an empty *mat.Dense whose
// Dims are (0, 0).
func Zeros(r, c int) *mat.Dense {
	if r <= 0 || c <= 0 {
		return &mat.Dense{}
	}
	return mat.NewDense(r, c, nil)
}

// ZeroVec returns a length-n zero vector, empty when n is zero.
func ZeroVec(n int) *mat.VecDense {
	if n <= 0 {
		return &mat.VecDense{}
	}
	return mat.NewVecDense(n, nil)
}

// Identity returns the n×n identity.
func Identity(n int) *mat.Dense {
	m := Zeros(n, n)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// Diag returns a square matrix with vals on the diagonal.
func Diag(vals ...float64) *mat.Dense {
	m := Zeros(len(vals), len(vals))
	for i, v := range vals {
		m.Set(i, i, v)
	}
	return m
}

// Fill returns a length-n vector with every entry set to v.
func Fill(n int, v float64) *mat.VecDense {
	out := ZeroVec(n)
	for i := 0; i < n; i++ {
		out.SetVec(i, v)
	}
	return out
}

// Rows and Cols tolerate nil and empty matrices.
func Rows(m mat.Matrix) int {
	if m == nil || IsEmpty(m) {
		return 0
	}
	r, _ := m.Dims()
	return r
}

func Cols(m mat.Matrix) int {
	if m == nil || IsEmpty(m) {
		return 0
	}
	_, c := m.Dims()
	return c
}

// IsEmpty reports whether m has a zero dimension.
func IsEmpty(m mat.Matrix) bool {
	if m == nil {
		return true
	}
	switch t := m.(type) {
	case *mat.Dense:
		return t.IsEmpty()
	case *mat.VecDense:
		return t.IsEmpty()
	}
	r, c := m.Dims()
	return r == 0 || c == 0
}

// Block returns a view of the r×c block of m starting at (i, j). Writes
// through the view mutate m.
func Block(m *mat.Dense, i, j, r, c int) *mat.Dense {
	return m.Slice(i, i+r, j, j+c).(*mat.Dense)
}

// SetBlock copies src into dst with its top-left corner at (i, j).
func SetBlock(dst *mat.Dense, i, j int, src mat.Matrix) {
	if IsEmpty(src) {
		return
	}
	r, c := src.Dims()
	Block(dst, i, j, r, c).Copy(src)
}

// AddBlock accumulates src into the block of dst at (i, j).
func AddBlock(dst *mat.Dense, i, j int, src mat.Matrix) {
	if IsEmpty(src) {
		return
	}
	r, c := src.Dims()
	b := Block(dst, i, j, r, c)
	b.Add(b, src)
}

// Segment returns a view of n entries of v starting at i.
func Segment(v *mat.VecDense, i, n int) *mat.VecDense {
	return v.SliceVec(i, i+n).(*mat.VecDense)
}

// SetSegment copies src into dst starting at i.
func SetSegment(dst *mat.VecDense, i int, src mat.Vector) {
	if src == nil || src.Len() == 0 {
		return
	}
	Segment(dst, i, src.Len()).CopyVec(src)
}

// VStack stacks matrices with equal column counts. Empty inputs are skipped.
func VStack(cols int, ms ...mat.Matrix) *mat.Dense {
	rows := 0
	for _, m := range ms {
		rows += Rows(m)
	}
	out := Zeros(rows, cols)
	at := 0
	for _, m := range ms {
		if Rows(m) == 0 {
			continue
		}
		SetBlock(out, at, 0, m)
		at += Rows(m)
	}
	return out
}

// Concat joins vectors end to end. Empty inputs are skipped.
func Concat(vs ...mat.Vector) *mat.VecDense {
	n := 0
	for _, v := range vs {
		if v != nil {
			n += v.Len()
		}
	}
	out := ZeroVec(n)
	at := 0
	for _, v := range vs {
		if v == nil || v.Len() == 0 {
			continue
		}
		SetSegment(out, at, v)
		at += v.Len()
	}
	return out
}

// Vec copies a mat.Vector into a plain slice.
func Vec(v mat.Vector) []float64 {
	if v == nil {
		return nil
	}
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.AtVec(i)
	}
	return out
}

// MulVec returns m·v, or an empty vector when m has no rows.
func MulVec(m mat.Matrix, v mat.Vector) *mat.VecDense {
	if Rows(m) == 0 {
		return &mat.VecDense{}
	}
	out := ZeroVec(Rows(m))
	out.MulVec(m, v)
	return out
}

// IsFinite reports whether every entry is neither NaN nor Inf.
func IsFinite(vals []float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// DiagSqrt returns the element-wise square root of a diagonal gain matrix,
// used for the critically damped Kd = 2·√Kp convention.
func DiagSqrt(m mat.Matrix) *mat.Dense {
	n := Rows(m)
	out := Zeros(n, n)
	for i := 0; i < n; i++ {
		out.Set(i, i, math.Sqrt(math.Max(m.At(i, i), 0)))
	}
	return out
}

// Scaled returns s·m as a new matrix.
func Scaled(s float64, m mat.Matrix) *mat.Dense {
	if IsEmpty(m) {
		return &mat.Dense{}
	}
	out := mat.DenseCopyOf(m)
	out.Scale(s, out)
	return out
}
