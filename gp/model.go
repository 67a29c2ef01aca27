// Package gp fits zero-mean Gaussian Process regression models by maximizing
// the marginal likelihood, for use as function-space priors.
package gp

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/lucasmaystre/fprior/kern"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/mat"
)

// Lower bound on the likelihood noise variance.
const minNoise = 1e-6

var (
	ErrEmpty               = errors.New("gp: empty training set")
	ErrDimensionMismatch   = errors.New("gp: inputs and targets have different lengths")
	ErrInvalidNoise        = errors.New("gp: noise variance must exceed 1e-6")
	ErrNotPositiveDefinite = errors.New("gp: covariance matrix is not positive definite")
)

// Model is a GP regression model with a zero mean function and Gaussian
// observation noise.
type Model struct {
	kernel kern.Kernel
	noise  float64
	x      *mat.Dense
	y      *mat.VecDense
}

// NewModel copies the training data; the caller keeps ownership of x and y.
func NewModel(kernel kern.Kernel, x mat.Matrix, y mat.Vector, noise float64) (*Model, error) {
	n, d := x.Dims()
	if n == 0 || d == 0 {
		return nil, ErrEmpty
	}
	if y.Len() != n {
		return nil, fmt.Errorf("%w: %d inputs, %d targets", ErrDimensionMismatch, n, y.Len())
	}
	if !(noise > minNoise) {
		return nil, ErrInvalidNoise
	}
	return &Model{
		kernel: kernel,
		noise:  noise,
		x:      mat.DenseCopyOf(x),
		y:      mat.VecDenseCopyOf(y),
	}, nil
}

func (m *Model) Kernel() kern.Kernel {
	return m.kernel
}

func (m *Model) NoiseVariance() float64 {
	return m.noise
}

// Number of training points.
func (m *Model) Len() int {
	return m.y.Len()
}

// Unconstrained parameter vector: kernel log hyperparameters, then the
// log of the noise variance in excess of minNoise.
func (m *Model) params() []float64 {
	return append(m.kernel.Hyper(), math.Log(m.noise-minNoise))
}

func (m *Model) setParams(theta []float64) {
	nk := m.kernel.NumHyper()
	m.kernel.SetHyper(theta[:nk])
	m.noise = minNoise + math.Exp(theta[nk])
}

func (m *Model) paramNames() []string {
	names := make([]string, 0, m.kernel.NumHyper()+1)
	for _, name := range m.kernel.HyperNames() {
		names = append(names, "kernel."+name)
	}
	return append(names, "likelihood.variance")
}

// LogMarginalLikelihood is log p(y | X) under the current hyperparameters.
func (m *Model) LogMarginalLikelihood() (float64, error) {
	nll, err := m.negLogLik(nil)
	return -nll, err
}

// negLogLik computes the negative log marginal likelihood. If grad is not
// nil, the gradient with respect to params() is written to it.
func (m *Model) negLogLik(grad []float64) (float64, error) {
	n := m.y.Len()
	var k *mat.SymDense
	var dks []*mat.SymDense
	if grad == nil {
		k = kern.Matrix(m.kernel, m.x)
	} else {
		k, dks = kern.MatrixDHyper(m.kernel, m.x)
	}
	for i := 0; i < n; i++ {
		k.SetSym(i, i, k.At(i, i)+m.noise)
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(k); !ok {
		return math.Inf(1), ErrNotPositiveDefinite
	}
	var alpha mat.VecDense
	if err := chol.SolveVecTo(&alpha, m.y); err != nil {
		return math.Inf(1), fmt.Errorf("gp: solve: %w", err)
	}
	nll := 0.5*mat.Dot(m.y, &alpha) + 0.5*chol.LogDet() + 0.5*float64(n)*math.Log(2*math.Pi)
	if grad == nil {
		return nll, nil
	}

	// dNLL/dθ = ½ tr((K⁻¹ - ααᵀ) dK/dθ)
	var kinv mat.SymDense
	if err := chol.InverseTo(&kinv); err != nil {
		return math.Inf(1), fmt.Errorf("gp: inverse: %w", err)
	}
	var w mat.SymDense
	w.SymRankOne(&kinv, -1, &alpha)
	for l, dk := range dks {
		grad[l] = 0.5 * traceProd(&w, dk)
	}
	grad[len(dks)] = 0.5 * (m.noise - minNoise) * mat.Trace(&w)
	return nll, nil
}

// tr(AB) for symmetric A and B, read from their upper triangles.
func traceProd(a, b *mat.SymDense) float64 {
	ra, rb := a.RawSymmetric(), b.RawSymmetric()
	if ra.Uplo != blas.Upper || rb.Uplo != blas.Upper {
		panic("gp: expected upper-triangular storage")
	}
	tr := 0.0
	for i := 0; i < ra.N; i++ {
		ia, ib := i*ra.Stride+i, i*rb.Stride+i
		x := blas64.Vector{N: ra.N - i, Inc: 1, Data: ra.Data[ia:]}
		y := blas64.Vector{N: rb.N - i, Inc: 1, Data: rb.Data[ib:]}
		tr += 2*blas64.Dot(x, y) - ra.Data[ia]*rb.Data[ib]
	}
	return tr
}

// Predict returns the posterior mean and covariance of the latent function
// at the rows of xs.
func (m *Model) Predict(xs mat.Matrix) (*mat.VecDense, *mat.SymDense, error) {
	_, d := m.x.Dims()
	ns, ds := xs.Dims()
	if ds != d {
		return nil, nil, fmt.Errorf("%w: model has %d input dimensions, got %d", ErrDimensionMismatch, d, ds)
	}
	k := kern.Matrix(m.kernel, m.x)
	for i := 0; i < m.y.Len(); i++ {
		k.SetSym(i, i, k.At(i, i)+m.noise)
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(k); !ok {
		return nil, nil, ErrNotPositiveDefinite
	}
	kxs := kern.Cross(m.kernel, xs, m.x)

	var alpha mat.VecDense
	if err := chol.SolveVecTo(&alpha, m.y); err != nil {
		return nil, nil, fmt.Errorf("gp: solve: %w", err)
	}
	mean := mat.NewVecDense(ns, nil)
	mean.MulVec(kxs, &alpha)

	var v, q mat.Dense
	if err := chol.SolveTo(&v, kxs.T()); err != nil {
		return nil, nil, fmt.Errorf("gp: solve: %w", err)
	}
	q.Mul(kxs, &v)
	kss := kern.Matrix(m.kernel, xs)
	cov := mat.NewSymDense(ns, nil)
	for i := 0; i < ns; i++ {
		for j := i; j < ns; j++ {
			cov.SetSym(i, j, kss.At(i, j)-0.5*(q.At(i, j)+q.At(j, i)))
		}
	}
	return mean, cov, nil
}

// KernelFunc returns the prior kernel bound to a snapshot of the current
// hyperparameters. Later fits do not affect the returned function.
func (m *Model) KernelFunc() func(x mat.Matrix) mat.Matrix {
	snapshot := m.kernel.Clone()
	return func(x mat.Matrix) mat.Matrix {
		return kern.Matrix(snapshot, x)
	}
}

// Summary writes a table of the model's hyperparameters.
func (m *Model) Summary(w io.Writer) error {
	names := m.paramNames()
	values := make([]float64, 0, len(names))
	for _, theta := range m.kernel.Hyper() {
		values = append(values, math.Exp(theta))
	}
	values = append(values, m.noise)
	if _, err := fmt.Fprintf(w, "%-28s %-10s %s\n", "name", "transform", "value"); err != nil {
		return err
	}
	for i, name := range names {
		if _, err := fmt.Fprintf(w, "%-28s %-10s %.6g\n", name, "positive", values[i]); err != nil {
			return err
		}
	}
	return nil
}
