package gp

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/lucasmaystre/fprior/kern"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

const DefaultMaxIter = 100

var (
	ErrInvalidMaxIter = errors.New("gp: maxiter must be non-negative")
	ErrNonFiniteLoss  = errors.New("gp: non-finite marginal likelihood")
)

// Diagnostics summarizes an optimizer run.
type Diagnostics struct {
	Iterations      int
	FuncEvaluations int
	GradEvaluations int
	// Negative log marginal likelihood at the returned parameters.
	Loss      float64
	Converged bool
	Status    optimize.Status
	Runtime   time.Duration
	// Error that terminated the optimizer early, if any. The returned
	// parameters are still the best ones found.
	Err error
}

type options struct {
	maxIter int
	verbose bool
	out     io.Writer
	logger  *slog.Logger
	kernel  kern.Kernel
	noise   float64
}

type Option func(*options)

func WithMaxIter(n int) Option {
	return func(o *options) { o.maxIter = n }
}

// WithVerbose prints the fitted hyperparameters once training ends.
func WithVerbose(verbose bool) Option {
	return func(o *options) { o.verbose = verbose }
}

// WithOutput redirects verbose output, which defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.out = w }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithKernel replaces the default Matern-5/2 kernel. The kernel is cloned.
func WithKernel(k kern.Kernel) Option {
	return func(o *options) { o.kernel = k }
}

// WithNoiseVariance sets the initial likelihood noise variance.
func WithNoiseVariance(v float64) Option {
	return func(o *options) { o.noise = v }
}

func newOptions(opts []Option) *options {
	o := &options{
		maxIter: DefaultMaxIter,
		out:     os.Stdout,
		noise:   1.0,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// TrainPrior fits a zero-mean GP with a Matern-5/2 kernel to (x, y) for at
// most maxiter L-BFGS iterations and returns the fitted model together with
// the optimizer diagnostics. Inputs are not modified.
func TrainPrior(x mat.Matrix, y mat.Vector, opts ...Option) (*Model, *Diagnostics, error) {
	o := newOptions(opts)
	var kernel kern.Kernel = kern.NewMatern52(1.0, 1.0)
	if o.kernel != nil {
		kernel = o.kernel.Clone()
	}
	model, err := NewModel(kernel, x, y, o.noise)
	if err != nil {
		return nil, nil, err
	}
	diag, err := model.fit(o)
	if err != nil {
		return nil, nil, err
	}
	if o.verbose {
		if err := model.Summary(o.out); err != nil {
			o.logger.Warn("failed to write model summary", slog.Any("error", err))
		}
	}
	return model, diag, nil
}

// Fit optimizes the model's hyperparameters in place.
func (m *Model) Fit(opts ...Option) (*Diagnostics, error) {
	return m.fit(newOptions(opts))
}

func (m *Model) fit(o *options) (*Diagnostics, error) {
	if o.maxIter < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMaxIter, o.maxIter)
	}
	init := m.params()
	loss, err := m.negLogLik(nil)
	if err != nil {
		return nil, err
	}
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return nil, ErrNonFiniteLoss
	}
	logger := o.logger.With(slog.Int("n", m.Len()), slog.Int("maxiter", o.maxIter))
	if o.maxIter == 0 {
		logger.Debug("skipping hyperparameter optimization", slog.Float64("loss", loss))
		return &Diagnostics{
			Loss:   loss,
			Status: optimize.IterationLimit,
		}, nil
	}

	problem := optimize.Problem{
		Func: func(theta []float64) float64 {
			m.setParams(theta)
			f, err := m.negLogLik(nil)
			if err != nil {
				return math.Inf(1)
			}
			return f
		},
		Grad: func(grad, theta []float64) {
			m.setParams(theta)
			if _, err := m.negLogLik(grad); err != nil {
				for i := range grad {
					grad[i] = 0
				}
			}
		},
	}
	settings := &optimize.Settings{
		MajorIterations: o.maxIter,
	}

	logger.Debug("optimizing marginal likelihood", slog.Float64("initial_loss", loss))
	result, optErr := optimize.Minimize(problem, init, settings, &optimize.LBFGS{})
	if result == nil {
		m.setParams(init)
		return nil, fmt.Errorf("gp: optimize: %w", optErr)
	}
	if math.IsNaN(result.F) || math.IsInf(result.F, 0) {
		m.setParams(init)
		return nil, fmt.Errorf("%w: %v", ErrNonFiniteLoss, optErr)
	}
	m.setParams(result.X)

	diag := &Diagnostics{
		Iterations:      result.MajorIterations,
		FuncEvaluations: result.FuncEvaluations,
		GradEvaluations: result.GradEvaluations,
		Loss:            result.F,
		Converged:       optErr == nil && converged(result.Status),
		Status:          result.Status,
		Runtime:         result.Runtime,
		Err:             optErr,
	}
	logger.Debug("optimization finished",
		slog.Float64("loss", diag.Loss),
		slog.Int("iterations", diag.Iterations),
		slog.String("status", diag.Status.String()),
		slog.Bool("converged", diag.Converged),
	)
	if optErr != nil {
		logger.Warn("optimizer stopped early; keeping best parameters", slog.Any("error", optErr))
	}
	return diag, nil
}

func converged(s optimize.Status) bool {
	switch s {
	case optimize.Success, optimize.FunctionConvergence, optimize.GradientThreshold,
		optimize.StepConvergence, optimize.MethodConverge:
		return true
	}
	return false
}
