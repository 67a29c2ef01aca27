// Package ssge implements the Spectral Stein Gradient Estimator, which
// estimates the score ∇ log q(x) of a distribution known only through
// samples.
//
// The RBF Gram matrix of the samples is eigendecomposed; its leading
// eigenvectors give Nyström approximations ψ_j of the eigenfunctions of the
// kernel operator, and Stein's identity gives the coefficients
// β_j = -E_q[∇ψ_j]. The score estimate is Σ_j β_j ψ_j(x).
package ssge

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/lucasmaystre/fprior/kern"
	"github.com/lucasmaystre/fprior/utils"
	"github.com/viterin/vek"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gorgonia.org/tensor"
)

const DefaultEigenThreshold = 0.99

var (
	ErrEmpty         = errors.New("ssge: no support points")
	ErrShapeMismatch = errors.New("ssge: support and evaluation points differ in dimension")
	ErrEigen         = errors.New("ssge: eigendecomposition failed")
)

type Estimator struct {
	numEigen  int
	threshold float64
	eta       float64
	bandwidth float64
	logger    *slog.Logger
}

type Option func(*Estimator)

// WithNumEigen keeps exactly n eigenfunctions (capped by the number of
// support points). Zero selects by WithEigenThreshold.
func WithNumEigen(n int) Option {
	return func(e *Estimator) { e.numEigen = n }
}

// WithEigenThreshold keeps the smallest set of leading eigenvalues whose sum
// reaches this fraction of the spectrum.
func WithEigenThreshold(r float64) Option {
	return func(e *Estimator) { e.threshold = r }
}

// WithEta adds eta to the diagonal of the Gram matrix.
func WithEta(eta float64) Option {
	return func(e *Estimator) { e.eta = eta }
}

// WithBandwidth fixes the RBF lengthscale. Zero uses the median heuristic.
func WithBandwidth(b float64) Option {
	return func(e *Estimator) { e.bandwidth = b }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Estimator) { e.logger = logger }
}

func New(opts ...Option) *Estimator {
	e := &Estimator{threshold: DefaultEigenThreshold}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// ComputeGradients estimates ∇ log q at each evaluation point, where q is
// the empirical distribution of the support points. The first axis of each
// tensor indexes points; the remaining axes are flattened into the point
// dimension. The result has the shape of eval.
func (e *Estimator) ComputeGradients(support, eval *tensor.Dense) (*tensor.Dense, error) {
	xs, err := points(support)
	if err != nil {
		return nil, err
	}
	ys, err := points(eval)
	if err != nil {
		return nil, err
	}
	m, d := xs.Dims()
	if _, dy := ys.Dims(); dy != d {
		return nil, fmt.Errorf("%w: %d vs %d", ErrShapeMismatch, d, dy)
	}

	width := e.bandwidth
	if width <= 0 {
		width = medianWidth(xs)
	}
	k := kern.NewRBF(1, width)
	gram := kern.Matrix(k, xs)
	if e.eta > 0 {
		gram = utils.AddDiag(gram, e.eta)
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(gram, true); !ok {
		return nil, ErrEigen
	}
	// Ascending order from the factorization; walk it backwards.
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)
	idx := e.leading(values)

	// sums[m] = Σ_i ∇k(x_i, x_m), gradient in the first argument.
	xrows := make([][]float64, m)
	for i := range xrows {
		xrows[i] = mat.Row(nil, i, xs)
	}
	sums := make([][]float64, m)
	tmp := make([]float64, d)
	for j := 0; j < m; j++ {
		sums[j] = make([]float64, d)
		for i := 0; i < m; i++ {
			vek.Add_Inplace(sums[j], k.Grad(tmp, xrows[i], xrows[j]))
		}
	}

	sqrtM := math.Sqrt(float64(m))
	// beta[j] = -(1/M) Σ_i ∇ψ_j(x_i)
	beta := make([][]float64, len(idx))
	for jj, j := range idx {
		beta[jj] = make([]float64, d)
		for i := 0; i < m; i++ {
			floats.AddScaled(beta[jj], vectors.At(i, j), sums[i])
		}
		floats.Scale(-1/(sqrtM*values[j]), beta[jj])
	}

	cols := make([][]float64, len(idx))
	for jj, j := range idx {
		cols[jj] = mat.Col(nil, j, &vectors)
	}

	n, _ := ys.Dims()
	out := make([]float64, 0, n*d)
	kx := make([]float64, m)
	for r := 0; r < n; r++ {
		y := mat.Row(nil, r, ys)
		for i := range kx {
			kx[i] = k.Cov(y, xrows[i])
		}
		g := make([]float64, d)
		for jj, j := range idx {
			psi := vek.Dot(kx, cols[jj]) * sqrtM / values[j]
			floats.AddScaled(g, psi, beta[jj])
		}
		out = append(out, g...)
	}

	e.logger.Debug("ssge gradient estimate",
		slog.Int("support", m),
		slog.Int("eval", n),
		slog.Int("dim", d),
		slog.Int("eigenfunctions", len(idx)),
		slog.Float64("bandwidth", width),
	)
	return utils.Dense(out, eval.Shape().Clone()...), nil
}

// Indices of the eigenvalues to keep, largest first. Non-positive
// eigenvalues are never kept.
func (e *Estimator) leading(values []float64) []int {
	var idx []int
	total := 0.0
	for i := len(values) - 1; i >= 0; i-- {
		if values[i] <= 0 {
			break
		}
		idx = append(idx, i)
		total += values[i]
	}
	if e.numEigen > 0 {
		if e.numEigen < len(idx) {
			idx = idx[:e.numEigen]
		}
		return idx
	}
	cum := 0.0
	for n, i := range idx {
		cum += values[i]
		if cum >= e.threshold*total {
			return idx[:n+1]
		}
	}
	return idx
}

func points(t *tensor.Dense) (*mat.Dense, error) {
	shape := t.Shape()
	if len(shape) == 0 || shape[0] == 0 || shape.TotalSize() == 0 {
		return nil, ErrEmpty
	}
	data, err := utils.TensorFloat64s(t)
	if err != nil {
		return nil, err
	}
	n := shape[0]
	return mat.NewDense(n, len(data)/n, data), nil
}

// Median heuristic: the median pairwise distance between support points.
func medianWidth(x mat.Matrix) float64 {
	sq := utils.PairwiseSqDist(x)
	if len(sq) == 0 {
		return 1
	}
	sort.Float64s(sq)
	med := stat.Quantile(0.5, stat.Empirical, sq, nil)
	if med <= 0 {
		return 1
	}
	return math.Sqrt(med)
}
