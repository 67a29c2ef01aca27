package xent

import (
	"errors"
	"math"
	"testing"

	"github.com/lucasmaystre/fprior/kern"
	"github.com/lucasmaystre/fprior/ssge"
	"github.com/lucasmaystre/fprior/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func matern(x mat.Matrix) mat.Matrix {
	return kern.Matrix(kern.NewMatern52(1.0, 1.0), x)
}

func outer(x mat.Matrix) mat.Matrix {
	var out mat.Dense
	out.Mul(x, x.T())
	return &out
}

// samples binds data to an input node of a fresh graph.
func samples(t *testing.T, data []float64, shape ...int) *G.Node {
	t.Helper()
	y, err := Bind(G.NewGraph(), "y", utils.Dense(data, shape...))
	require.NoError(t, err)
	return y
}

func value(t *testing.T, cost *G.Node) float64 {
	t.Helper()
	v, _, err := Evaluate(cost)
	require.NoError(t, err)
	return v
}

// Score of N(0, 1/precision), recording the shapes it was called with.
type recordingEstimator struct {
	precision float64
	support   tensor.Shape
	eval      tensor.Shape
	calls     int
}

func (r *recordingEstimator) ComputeGradients(support, eval *tensor.Dense) (*tensor.Dense, error) {
	r.calls++
	r.support = support.Shape().Clone()
	r.eval = eval.Shape().Clone()
	ys := eval.Float64s()
	out := make([]float64, len(ys))
	for i, y := range ys {
		out[i] = -r.precision * y
	}
	return utils.Dense(out, eval.Shape().Clone()...), nil
}

// Returns the unit-normal score flattened to one axis.
type flatEstimator struct{}

func (flatEstimator) ComputeGradients(support, eval *tensor.Dense) (*tensor.Dense, error) {
	ys := eval.Float64s()
	out := make([]float64, len(ys))
	for i, y := range ys {
		out[i] = -y
	}
	return utils.Dense(out, len(out)), nil
}

type brokenEstimator struct {
	err   error
	shape []int
}

func (b brokenEstimator) ComputeGradients(support, eval *tensor.Dense) (*tensor.Dense, error) {
	if b.err != nil {
		return nil, b.err
	}
	size := 1
	for _, d := range b.shape {
		size *= d
	}
	return utils.Dense(make([]float64, size), b.shape...), nil
}

func TestAnalyticalIsDeterministic(t *testing.T) {
	x := mat.NewDense(4, 1, []float64{0, 0.5, 1.5, 3})
	data := []float64{0.2, -0.1, 0.4, 1.0}
	first, err := CrossEntropy(AnalyticalGP{X: x, Y: samples(t, data, 4), Kernel: matern})
	require.NoError(t, err)
	second, err := CrossEntropy(AnalyticalGP{X: x, Y: samples(t, data, 4), Kernel: matern})
	require.NoError(t, err)
	assert.Equal(t, value(t, first), value(t, second))
}

func TestAnalyticalMatchesMultivariateNormal(t *testing.T) {
	x := mat.NewDense(3, 1, []float64{0, 0.4, 1.3})
	data := []float64{0.3, -0.2, 0.9, 1.1, 0.4, -0.6}
	ce, err := CrossEntropy(AnalyticalGP{X: x, Y: samples(t, data, 2, 3), Kernel: matern})
	require.NoError(t, err)

	cov := utils.AddDiag(kern.Matrix(kern.NewMatern52(1.0, 1.0), x), DefaultJitter)
	normal, ok := distmv.NewNormal(make([]float64, 3), cov, nil)
	require.True(t, ok)
	want := -(normal.LogProb(data[:3]) + normal.LogProb(data[3:])) / 2
	assert.InDelta(t, want, value(t, ce), 1e-10)
}

func TestAnalyticalDegenerateKernel(t *testing.T) {
	// K = [[0, 0], [0, 1]] plus 0.01 jitter is diagonal.
	x := mat.NewDense(2, 1, []float64{0, 1})
	norm := math.Log(2*math.Pi) + 0.5*math.Log(0.01*1.01)

	// A [2, 1] column broadcasts to the events (0, 0) and (1, 1).
	ce, err := CrossEntropy(AnalyticalGP{X: x, Y: samples(t, []float64{0, 1}, 2, 1), Kernel: outer})
	require.NoError(t, err)
	v := value(t, ce)
	require.False(t, math.IsNaN(v) || math.IsInf(v, 0))
	want := norm + 0.5*(0.5*(1/0.01+1/1.01))
	assert.InDelta(t, want, v, 1e-9)
	assert.InDelta(t, 24.787792, v, 1e-6)

	// A [2] vector is the single event (0, 1).
	ce, err = CrossEntropy(AnalyticalGP{X: x, Y: samples(t, []float64{0, 1}, 2), Kernel: outer})
	require.NoError(t, err)
	assert.InDelta(t, norm+0.5/1.01, value(t, ce), 1e-9)
}

func TestAnalyticalJitterIncreasesCrossEntropy(t *testing.T) {
	x := mat.NewDense(3, 1, []float64{0, 3, 6})
	data := []float64{0.1, -0.1, 0.05}
	prev := math.Inf(-1)
	for _, jitter := range []float64{0.01, 0.1, 1.0} {
		ce, err := CrossEntropy(AnalyticalGP{X: x, Y: samples(t, data, 3), Kernel: matern}, WithJitter(jitter))
		require.NoError(t, err)
		v := value(t, ce)
		assert.Greater(t, v, prev, "jitter=%v", jitter)
		prev = v
	}
}

func TestAnalyticalBatchIsMeanOfEvents(t *testing.T) {
	x := mat.NewDense(3, 2, []float64{0, 0, 1, 0, 0, 1})
	events := [][]float64{{0.1, 0.2, 0.3}, {-1, 0.5, 0}, {2, 1, -1}}
	var batch []float64
	sum := 0.0
	for _, e := range events {
		batch = append(batch, e...)
		ce, err := CrossEntropy(AnalyticalGP{X: x, Y: samples(t, e, 3), Kernel: matern})
		require.NoError(t, err)
		sum += value(t, ce)
	}
	ce, err := CrossEntropy(AnalyticalGP{X: x, Y: samples(t, batch, 3, 3), Kernel: matern})
	require.NoError(t, err)
	assert.InDelta(t, sum/3, value(t, ce), 1e-10)
}

func TestAnalyticalGradient(t *testing.T) {
	x := mat.NewDense(3, 1, []float64{0, 0.7, 2})
	data := []float64{0.3, -0.2, 0.9, 1.1, 0.4, -0.6}
	y := samples(t, data, 2, 3)
	ce, err := CrossEntropy(AnalyticalGP{X: x, Y: y, Kernel: matern})
	require.NoError(t, err)
	_, grads, err := Evaluate(ce, y)
	require.NoError(t, err)
	require.Len(t, grads, 1)
	assert.Equal(t, tensor.Shape{2, 3}, grads[0].Shape())
	g := grads[0].Float64s()

	const h = 1e-6
	for i := range data {
		plus := append([]float64(nil), data...)
		minus := append([]float64(nil), data...)
		plus[i] += h
		minus[i] -= h
		cp, err := CrossEntropy(AnalyticalGP{X: x, Y: samples(t, plus, 2, 3), Kernel: matern})
		require.NoError(t, err)
		cm, err := CrossEntropy(AnalyticalGP{X: x, Y: samples(t, minus, 2, 3), Kernel: matern})
		require.NoError(t, err)
		assert.InDelta(t, (value(t, cp)-value(t, cm))/(2*h), g[i], 1e-5)
	}
}

func TestAnalyticalUpcastsSinglePrecision(t *testing.T) {
	x := mat.NewDense(2, 1, []float64{0, 1})
	y32, err := Bind(G.NewGraph(), "y", tensor.New(tensor.WithShape(2), tensor.WithBacking([]float32{0.5, -0.25})))
	require.NoError(t, err)
	assert.Equal(t, tensor.Float64, y32.Dtype())
	ce32, err := CrossEntropy(AnalyticalGP{X: x, Y: y32, Kernel: matern})
	require.NoError(t, err)
	ce64, err := CrossEntropy(AnalyticalGP{X: x, Y: samples(t, []float64{0.5, -0.25}, 2), Kernel: matern})
	require.NoError(t, err)
	assert.Equal(t, value(t, ce64), value(t, ce32))
}

func TestAnalyticalErrors(t *testing.T) {
	x := mat.NewDense(2, 1, []float64{0, 1})
	y := func() *G.Node { return samples(t, []float64{1, 2}, 2) }

	_, err := CrossEntropy(AnalyticalGP{X: x, Y: samples(t, []float64{1, 2, 3}, 3), Kernel: matern})
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = CrossEntropy(AnalyticalGP{X: x, Y: samples(t, []float64{1, 2, 3, 4, 5, 6}, 2, 3), Kernel: matern})
	assert.ErrorIs(t, err, ErrShapeMismatch)

	nonSquare := func(mat.Matrix) mat.Matrix { return mat.NewDense(2, 3, nil) }
	_, err = CrossEntropy(AnalyticalGP{X: x, Y: y(), Kernel: nonSquare})
	assert.ErrorIs(t, err, ErrShapeMismatch)

	negative := func(mat.Matrix) mat.Matrix { return mat.NewSymDense(2, []float64{-1, 0, 0, -1}) }
	_, err = CrossEntropy(AnalyticalGP{X: x, Y: y(), Kernel: negative})
	assert.ErrorIs(t, err, ErrNotPositiveDefinite)

	_, err = CrossEntropy(AnalyticalGP{X: x, Y: y()})
	assert.ErrorIs(t, err, ErrNilKernel)

	_, err = CrossEntropy(AnalyticalGP{X: x, Kernel: matern})
	assert.ErrorIs(t, err, ErrMissingInput)

	_, err = CrossEntropy(AnalyticalGP{X: x, Y: y(), Kernel: matern}, WithJitter(-1))
	assert.ErrorIs(t, err, ErrInvalidJitter)

	f32 := G.NewTensor(G.NewGraph(), tensor.Float32, 1, G.WithShape(2), G.WithName("y"))
	_, err = CrossEntropy(AnalyticalGP{X: x, Y: f32, Kernel: matern})
	assert.ErrorIs(t, err, ErrUnsupportedDtype)
}

func TestUnsupportedMethod(t *testing.T) {
	_, err := ComputeCrossEntropy(Config{Method: "unknown"})
	assert.ErrorIs(t, err, ErrUnsupportedMethod)

	_, err = CrossEntropy(nil)
	assert.ErrorIs(t, err, ErrUnsupportedMethod)
}

func TestConfigResolve(t *testing.T) {
	for _, tc := range []struct {
		method string
		want   string
	}{
		{"gp", "gp"},
		{"sparse_gp_prior", "gp"},
		{"ssge", "ssge"},
		{"ssge_rbf", "ssge"},
	} {
		m, err := Config{Method: tc.method}.Resolve()
		require.NoError(t, err, tc.method)
		assert.Equal(t, tc.want, m.Name(), tc.method)
	}
}

func TestSurrogateTilesPriorParticles(t *testing.T) {
	est := &recordingEstimator{precision: 1}
	prior := utils.Dense([]float64{-1, -0.5, 0, 0.5, 1}, 5, 1)
	y := samples(t, make([]float64, 15), 15, 1)
	_, err := CrossEntropy(ScoreSurrogate{Y: y, NParticles: 3, PriorParticles: prior, Estimator: est})
	require.NoError(t, err)
	assert.Equal(t, 1, est.calls)
	assert.Equal(t, tensor.Shape{15, 1, 1}, est.support)
	assert.Equal(t, tensor.Shape{15, 1}, est.eval)
}

func TestTileRows(t *testing.T) {
	tiled, err := tileRows(utils.Dense([]float64{1, 2, 3, 4}, 2, 2), 3)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{6, 2}, tiled.Shape())
	assert.Equal(t, []float64{1, 2, 3, 4, 1, 2, 3, 4, 1, 2, 3, 4}, tiled.Float64s())

	expanded := expandDims(tiled)
	assert.Equal(t, tensor.Shape{6, 2, 1}, expanded.Shape())
}

func TestSurrogateValue(t *testing.T) {
	est := &recordingEstimator{precision: 2}
	data := []float64{0.5, -1, 1.5, 0, 2, -0.5}
	y := samples(t, data, 3, 2)
	prior := utils.Dense([]float64{0, 1, 2}, 3, 1)
	ce, err := ComputeCrossEntropy(Config{Method: "ssge", Y: y, NParticles: 1, PriorParticles: prior, Estimator: est})
	require.NoError(t, err)

	// -mean_b Σ_k (-2 y_bk) y_bk
	want := 0.0
	for b := 0; b < 3; b++ {
		want += 2 * (data[2*b]*data[2*b] + data[2*b+1]*data[2*b+1])
	}
	assert.InDelta(t, want/3, value(t, ce), 1e-12)
}

func TestSurrogateBatchShapes(t *testing.T) {
	prior := utils.Dense([]float64{0, 1, 2, 3}, 4, 1)
	ones := []float64{1, 1, 1, 1}

	// [4, 1]: four events of one value each, -mean(-1·1) = 1.
	ce, err := CrossEntropy(ScoreSurrogate{Y: samples(t, ones, 4, 1), NParticles: 1, PriorParticles: prior, Estimator: &recordingEstimator{precision: 1}})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, value(t, ce), 1e-12)

	// [4]: the last axis is the only axis, so all four values are summed.
	ce, err = CrossEntropy(ScoreSurrogate{Y: samples(t, ones, 4), NParticles: 1, PriorParticles: prior, Estimator: flatEstimator{}})
	require.NoError(t, err)
	assert.InDelta(t, 4.0, value(t, ce), 1e-12)

	// A [4] estimate for [4, 1] samples is rejected rather than summed.
	_, err = CrossEntropy(ScoreSurrogate{Y: samples(t, ones, 4, 1), NParticles: 1, PriorParticles: prior, Estimator: flatEstimator{}})
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestSurrogateThreeDimensionalSamples(t *testing.T) {
	data := []float64{
		0.5, -1, 1.5, 0, 2, -0.5,
		1, 0.25, -2, 0.5, 0, 3,
	}
	prior := utils.Dense(make([]float64, 6), 2, 3)
	ce, err := CrossEntropy(ScoreSurrogate{
		Y:              samples(t, data, 2, 3, 2),
		NParticles:     1,
		PriorParticles: prior,
		Estimator:      &recordingEstimator{precision: 2},
	})
	require.NoError(t, err)

	// Sum over the last axis leaves 2·3 values to average.
	want := 0.0
	for _, y := range data {
		want += 2 * y * y
	}
	assert.InDelta(t, want/6, value(t, ce), 1e-12)
}

func TestSurrogateStopsGradientAtEstimate(t *testing.T) {
	est := &recordingEstimator{precision: 1}
	prior := utils.Dense([]float64{-1, -0.5, 0, 0.5, 1}, 5, 1)
	yData := make([]float64, 15)
	for i := range yData {
		yData[i] = float64(i)/7 - 1
	}
	y := samples(t, yData, 15, 1)

	ce, err := CrossEntropy(ScoreSurrogate{Y: y, NParticles: 3, PriorParticles: prior, Estimator: est})
	require.NoError(t, err)
	_, grads, err := Evaluate(ce, y)
	require.NoError(t, err)

	// The estimate g = -y is a constant of the graph, so only the explicit
	// factor y is differentiated: d/dy of -mean(g·y) is -g/15 = y/15.
	gy := grads[0].Float64s()
	for i, v := range yData {
		assert.InDelta(t, v/15, gy[i], 1e-12)
	}
}

func TestSurrogateErrors(t *testing.T) {
	prior := utils.Dense([]float64{0, 1}, 2, 1)
	y := samples(t, []float64{0, 1, 2, 3}, 4, 1)

	_, err := CrossEntropy(ScoreSurrogate{Y: y, NParticles: 2, PriorParticles: prior})
	assert.ErrorIs(t, err, ErrNilEstimator)

	_, err = CrossEntropy(ScoreSurrogate{Y: y, NParticles: 0, PriorParticles: prior, Estimator: &recordingEstimator{}})
	assert.ErrorIs(t, err, ErrInvalidParticles)

	_, err = CrossEntropy(ScoreSurrogate{Y: y, NParticles: 2, Estimator: &recordingEstimator{}})
	assert.ErrorIs(t, err, ErrMissingInput)

	unbound := G.NewTensor(G.NewGraph(), tensor.Float64, 2, G.WithShape(4, 1), G.WithName("y"))
	_, err = CrossEntropy(ScoreSurrogate{Y: unbound, NParticles: 2, PriorParticles: prior, Estimator: &recordingEstimator{}})
	assert.ErrorIs(t, err, ErrMissingInput)

	boom := errors.New("boom")
	_, err = CrossEntropy(ScoreSurrogate{Y: y, NParticles: 2, PriorParticles: prior, Estimator: brokenEstimator{err: boom}})
	assert.ErrorIs(t, err, boom)

	_, err = CrossEntropy(ScoreSurrogate{Y: y, NParticles: 2, PriorParticles: prior, Estimator: brokenEstimator{shape: []int{4}}})
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = CrossEntropy(ScoreSurrogate{Y: y, NParticles: 2, PriorParticles: prior, Estimator: brokenEstimator{shape: []int{1, 4}}})
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestSurrogateWithSpectralEstimator(t *testing.T) {
	prior := utils.Dense([]float64{-1.5, -0.7, -0.2, 0.1, 0.4, 0.9, 1.6}, 7, 1)
	yData := make([]float64, 14)
	for i := range yData {
		yData[i] = float64(i%7)/3 - 1
	}
	y := samples(t, yData, 14, 1)
	ce, err := CrossEntropy(ScoreSurrogate{Y: y, NParticles: 2, PriorParticles: prior, Estimator: ssge.New()})
	require.NoError(t, err)
	v, grads, err := Evaluate(ce, y)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
	assert.Equal(t, tensor.Shape{14, 1}, grads[0].Shape())
}
