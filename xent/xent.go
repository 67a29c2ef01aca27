// Package xent computes the prior cross-entropy term E_q[-log p(f)] of a
// functional ELBO, where q is the variational posterior (represented by
// samples) and p is the prior.
//
// Two estimators are available. AnalyticalGP evaluates the log-density of
// the samples under a Gaussian Process prior in closed form. ScoreSurrogate
// applies when the prior is only known through samples ("particles"): a
// score estimator supplies ∇log p at the posterior samples and the
// surrogate -E[∇log p(y)ᵀ y] has the right gradient with respect to y.
//
// Both are built as nodes of the gorgonia expression graph that holds the
// samples, so G.Grad differentiates them with respect to the samples.
package xent

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/lucasmaystre/fprior/utils"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// DefaultJitter is added to the diagonal of the prior kernel matrix so that
// its Cholesky factorization succeeds.
const DefaultJitter = 0.01

var (
	ErrUnsupportedMethod   = errors.New("xent: unsupported method")
	ErrMissingInput        = errors.New("xent: missing input")
	ErrNilKernel           = errors.New("xent: nil kernel function")
	ErrNilEstimator        = errors.New("xent: nil estimator")
	ErrInvalidParticles    = errors.New("xent: number of particles must be positive")
	ErrInvalidJitter       = errors.New("xent: jitter must be non-negative")
	ErrShapeMismatch       = errors.New("xent: shape mismatch")
	ErrUnsupportedDtype    = errors.New("xent: samples must be float64")
	ErrNotPositiveDefinite = errors.New("xent: kernel matrix is not positive definite")
)

// KernelFunc maps an n×d input matrix to the n×n prior covariance matrix.
type KernelFunc func(x mat.Matrix) mat.Matrix

// Estimator estimates the score ∇log p of the distribution whose samples
// are given as support, at each of the evaluation points. The result has
// the shape of eval.
type Estimator interface {
	ComputeGradients(support, eval *tensor.Dense) (*tensor.Dense, error)
}

// Method selects how the cross-entropy is computed. It is implemented only
// by AnalyticalGP and ScoreSurrogate.
type Method interface {
	Name() string
	crossEntropy(o *options) (*G.Node, error)
}

type options struct {
	jitter float64
	logger *slog.Logger
}

type Option func(*options)

// WithJitter overrides DefaultJitter for the analytical method.
func WithJitter(jitter float64) Option {
	return func(o *options) { o.jitter = jitter }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// CrossEntropy adds the cross-entropy estimate to the graph of the samples
// and returns it as a scalar node.
func CrossEntropy(m Method, opts ...Option) (*G.Node, error) {
	if m == nil {
		return nil, ErrUnsupportedMethod
	}
	o := &options{jitter: DefaultJitter}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.jitter < 0 {
		return nil, ErrInvalidJitter
	}
	return m.crossEntropy(o)
}

// Bind adds an input node named name to g, holding t upcast to float64.
func Bind(g *G.ExprGraph, name string, t *tensor.Dense) (*G.Node, error) {
	if t == nil {
		return nil, ErrMissingInput
	}
	v, err := utils.AsFloat64(t)
	if err != nil {
		return nil, err
	}
	return G.NewTensor(g, tensor.Float64, v.Dims(),
		G.WithShape(v.Shape().Clone()...),
		G.WithName(name),
		G.WithValue(v),
	), nil
}

// Evaluate runs the graph of cost and returns its value along with the
// gradients of cost with respect to wrt.
func Evaluate(cost *G.Node, wrt ...*G.Node) (float64, []*tensor.Dense, error) {
	var grads G.Nodes
	if len(wrt) > 0 {
		var err error
		if grads, err = G.Grad(cost, wrt...); err != nil {
			return 0, nil, fmt.Errorf("xent: gradient: %w", err)
		}
	}
	vm := G.NewTapeMachine(cost.Graph())
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		return 0, nil, fmt.Errorf("xent: evaluate: %w", err)
	}

	v, err := scalar(cost.Value())
	if err != nil {
		return 0, nil, err
	}
	out := make([]*tensor.Dense, len(grads))
	for i, g := range grads {
		t, ok := g.Value().(*tensor.Dense)
		if !ok {
			return 0, nil, fmt.Errorf("xent: gradient with respect to %s is %T", wrt[i].Name(), g.Value())
		}
		out[i] = t.Clone().(*tensor.Dense)
	}
	return v, out, nil
}

func scalar(v G.Value) (float64, error) {
	if v == nil {
		return 0, fmt.Errorf("xent: cost has no value")
	}
	switch d := v.Data().(type) {
	case float64:
		return d, nil
	case []float64:
		if len(d) == 1 {
			return d[0], nil
		}
	}
	return 0, fmt.Errorf("%w: cost of shape %v is not a scalar", ErrShapeMismatch, v.Shape())
}

// Mean over all elements; a scalar is its own mean.
func mean(x *G.Node) (*G.Node, error) {
	if x.IsScalar() {
		return x, nil
	}
	return G.Mean(x)
}

func checkSamples(y *G.Node) error {
	if y == nil {
		return ErrMissingInput
	}
	if y.Dtype() != tensor.Float64 {
		return fmt.Errorf("%w: got %v", ErrUnsupportedDtype, y.Dtype())
	}
	return nil
}
