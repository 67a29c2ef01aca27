package xent

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/lucasmaystre/fprior/utils"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

var _ Method = ScoreSurrogate{}

// ScoreSurrogate estimates the cross-entropy gradient against a prior known
// only through particles. The returned value is a surrogate whose gradient
// with respect to Y is -E[∇log p(y)]; its value is not the cross-entropy.
type ScoreSurrogate struct {
	// Posterior samples, [NParticles·P, ...]. The node must hold a value.
	Y *G.Node
	// Number of times the prior particles are replicated.
	NParticles int
	// Prior samples, [P, ...].
	PriorParticles *tensor.Dense
	Estimator      Estimator
}

func (ScoreSurrogate) Name() string {
	return "ssge"
}

func (m ScoreSurrogate) crossEntropy(o *options) (*G.Node, error) {
	if m.Estimator == nil {
		return nil, ErrNilEstimator
	}
	if m.NParticles < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidParticles, m.NParticles)
	}
	if m.PriorParticles == nil {
		return nil, ErrMissingInput
	}
	if err := checkSamples(m.Y); err != nil {
		return nil, err
	}
	y, ok := m.Y.Value().(*tensor.Dense)
	if !ok {
		return nil, fmt.Errorf("%w: samples %s hold no value", ErrMissingInput, m.Y.Name())
	}
	if m.Y.Dims() == 0 {
		return nil, fmt.Errorf("%w: scalar samples", ErrShapeMismatch)
	}

	prior, err := utils.AsFloat64(m.PriorParticles)
	if err != nil {
		return nil, err
	}
	tiled, err := tileRows(prior, m.NParticles)
	if err != nil {
		return nil, err
	}
	support := expandDims(tiled)
	o.logger.Debug("score surrogate cross-entropy",
		slog.Any("support_shape", support.Shape()),
		slog.Any("eval_shape", m.Y.Shape()),
		slog.Int("n_particles", m.NParticles),
	)

	est, err := m.Estimator.ComputeGradients(support, y)
	if err != nil {
		return nil, fmt.Errorf("xent: estimator: %w", err)
	}
	if est == nil || !slices.Equal(est.Shape(), m.Y.Shape()) {
		var got tensor.Shape
		if est != nil {
			got = est.Shape()
		}
		return nil, fmt.Errorf("%w: estimator returned %v for samples of shape %v",
			ErrShapeMismatch, got, m.Y.Shape())
	}

	// The estimate enters the graph as a separate input. Gradients are only
	// taken with respect to the samples, so none flow into the estimator.
	graph := m.Y.Graph()
	name := fmt.Sprintf("score_%s_%d", m.Y.Name(), len(graph.AllNodes()))
	score, err := Bind(graph, name, est)
	if err != nil {
		return nil, err
	}

	prod, err := G.HadamardProd(score, m.Y)
	if err != nil {
		return nil, err
	}
	summed, err := G.Sum(prod, m.Y.Dims()-1)
	if err != nil {
		return nil, err
	}
	avg, err := mean(summed)
	if err != nil {
		return nil, err
	}
	return G.Neg(avg)
}

// tileRows repeats t reps times along its first axis: [P, ...] becomes
// [reps·P, ...].
func tileRows(t *tensor.Dense, reps int) (*tensor.Dense, error) {
	shape := t.Shape().Clone()
	if len(shape) == 0 {
		return nil, fmt.Errorf("%w: cannot tile a scalar", ErrShapeMismatch)
	}
	src := t.Float64s()
	data := make([]float64, 0, reps*len(src))
	for r := 0; r < reps; r++ {
		data = append(data, src...)
	}
	shape[0] *= reps
	return utils.Dense(data, shape...), nil
}

// expandDims appends a trailing axis of length one.
func expandDims(t *tensor.Dense) *tensor.Dense {
	return utils.Dense(t.Float64s(), append(t.Shape().Clone(), 1)...)
}
