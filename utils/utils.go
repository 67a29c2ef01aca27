package utils

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

var (
	ErrNotSquare        = errors.New("matrix is not square")
	ErrUnsupportedDtype = errors.New("unsupported dtype")
)

// Identity Matrix.
func Eye(n int) *mat.SymDense {
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		out.SetSym(i, i, 1)
	}
	return out
}

// Copy of a symmetric matrix with v added to every diagonal entry.
func AddDiag(a mat.Symmetric, v float64) *mat.SymDense {
	n := a.SymmetricDim()
	out := mat.NewSymDense(n, nil)
	out.CopySym(a)
	for i := 0; i < n; i++ {
		out.SetSym(i, i, out.At(i, i)+v)
	}
	return out
}

// Symmetric view of a square matrix: the average of a and its transpose.
// Symmetric inputs are copied unchanged.
func Symmetrize(a mat.Matrix) (*mat.SymDense, error) {
	r, c := a.Dims()
	if r != c {
		return nil, ErrNotSquare
	}
	out := mat.NewSymDense(r, nil)
	if s, ok := a.(mat.Symmetric); ok {
		out.CopySym(s)
		return out, nil
	}
	for i := 0; i < r; i++ {
		for j := i; j < r; j++ {
			out.SetSym(i, j, 0.5*(a.At(i, j)+a.At(j, i)))
		}
	}
	return out, nil
}

// Whether a square matrix equals its transpose up to tol.
func IsSymmetric(a mat.Matrix, tol float64) bool {
	r, c := a.Dims()
	if r != c {
		return false
	}
	return mat.EqualApprox(a, a.T(), tol)
}

// Squared Euclidean distances between all pairs of rows of x, upper
// triangle only (i < j), in row-major order.
func PairwiseSqDist(x mat.Matrix) []float64 {
	n, _ := x.Dims()
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = mat.Row(nil, i, x)
	}
	out := make([]float64, 0, n*(n-1)/2)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := floats.Distance(rows[i], rows[j], 2)
			out = append(out, d*d)
		}
	}
	return out
}

// Upcast single-precision values to float64.
func Float64s(xs []float32) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = float64(x)
	}
	return out
}

// Float64 tensor of the given shape backed by data.
func Dense(data []float64, shape ...int) *tensor.Dense {
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}

// TensorFloat64s returns a float64 copy of t's elements, upcasting float32.
func TensorFloat64s(t *tensor.Dense) ([]float64, error) {
	switch t.Dtype() {
	case tensor.Float64:
		return append([]float64(nil), t.Float64s()...), nil
	case tensor.Float32:
		return Float64s(t.Float32s()), nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUnsupportedDtype, t.Dtype())
}

// AsFloat64 returns t itself if it already holds float64 values, and a
// float64 copy otherwise.
func AsFloat64(t *tensor.Dense) (*tensor.Dense, error) {
	if t.Dtype() == tensor.Float64 {
		return t, nil
	}
	data, err := TensorFloat64s(t)
	if err != nil {
		return nil, err
	}
	return Dense(data, t.Shape().Clone()...), nil
}
