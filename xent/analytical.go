package xent

import (
	"fmt"
	"log/slog"

	"github.com/lucasmaystre/fprior/utils"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
	G "gorgonia.org/gorgonia"
)

var _ Method = AnalyticalGP{}

// AnalyticalGP is the closed-form cross-entropy under a zero-mean GP prior
// with covariance Kernel(X).
type AnalyticalGP struct {
	// Inputs at which the function samples are observed, n×d.
	X mat.Matrix
	// Posterior function samples: [B, n] for a batch of B samples or [n]
	// for a single one. A [B, 1] node broadcasts against the n inputs, so
	// that row b is the sample y_b·1ₙ.
	Y      *G.Node
	Kernel KernelFunc
}

func (AnalyticalGP) Name() string {
	return "gp"
}

func (m AnalyticalGP) crossEntropy(o *options) (*G.Node, error) {
	if m.Kernel == nil {
		return nil, ErrNilKernel
	}
	if m.X == nil {
		return nil, ErrMissingInput
	}
	if err := checkSamples(m.Y); err != nil {
		return nil, err
	}
	n, _ := m.X.Dims()
	k, err := utils.Symmetrize(m.Kernel(m.X))
	if err != nil {
		return nil, fmt.Errorf("%w: kernel matrix: %v", ErrShapeMismatch, err)
	}
	if k.SymmetricDim() != n {
		return nil, fmt.Errorf("%w: kernel matrix is %d×%d for %d inputs",
			ErrShapeMismatch, k.SymmetricDim(), k.SymmetricDim(), n)
	}
	events, batch, err := eventsOf(m.Y, n)
	if err != nil {
		return nil, err
	}

	jitter := utils.Eye(n)
	jitter.ScaleSym(o.jitter, jitter)
	var cov mat.SymDense
	cov.AddSym(k, jitter)
	normal, ok := distmv.NewNormal(make([]float64, n), &cov, nil)
	if !ok {
		return nil, ErrNotPositiveDefinite
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(&cov); !ok {
		return nil, ErrNotPositiveDefinite
	}
	var prec mat.SymDense
	if err := chol.InverseTo(&prec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotPositiveDefinite, err)
	}

	// -log N(y; 0, K') = ½ yᵀK'⁻¹y - log N(0; 0, K')
	quad, err := meanQuadForm(events, &prec)
	if err != nil {
		return nil, err
	}
	half, err := G.Mul(G.NewConstant(0.5), quad)
	if err != nil {
		return nil, err
	}
	ce, err := G.Add(half, G.NewConstant(-normal.LogProb(make([]float64, n))))
	if err != nil {
		return nil, err
	}

	o.logger.Debug("analytical cross-entropy",
		slog.Int("n", n),
		slog.Int("batch", batch),
		slog.Any("samples_shape", m.Y.Shape()),
		slog.Float64("jitter", o.jitter),
	)
	return ce, nil
}

// Events held by y, as a [B, n] or [n] node, and their number B.
func eventsOf(y *G.Node, n int) (*G.Node, int, error) {
	shape := y.Shape()
	switch {
	case len(shape) == 1 && shape[0] == n:
		return y, 1, nil
	case len(shape) == 2 && shape[0] > 0 && shape[1] == n:
		return y, shape[0], nil
	case len(shape) == 2 && shape[0] > 0 && shape[1] == 1:
		ones := make([]float64, n)
		for i := range ones {
			ones[i] = 1
		}
		e, err := G.Mul(y, G.NewConstant(utils.Dense(ones, 1, n)))
		if err != nil {
			return nil, 0, err
		}
		return e, shape[0], nil
	}
	return nil, 0, fmt.Errorf("%w: samples of shape %v for %d inputs", ErrShapeMismatch, shape, n)
}

// Mean of e_bᵀ P e_b over the events e_b.
func meanQuadForm(events *G.Node, p *mat.SymDense) (*G.Node, error) {
	n := p.SymmetricDim()
	dense := mat.NewDense(n, n, nil)
	dense.Copy(p)
	prec := G.NewConstant(utils.Dense(dense.RawMatrix().Data, n, n), G.WithName("precision"))

	var pe *G.Node
	var err error
	if events.Dims() == 1 {
		pe, err = G.Mul(prec, events)
	} else {
		pe, err = G.Mul(events, prec)
	}
	if err != nil {
		return nil, err
	}
	prod, err := G.HadamardProd(events, pe)
	if err != nil {
		return nil, err
	}
	if events.Dims() == 1 {
		return G.Sum(prod)
	}
	q, err := G.Sum(prod, 1)
	if err != nil {
		return nil, err
	}
	return mean(q)
}
