package fitting

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copperline/lmsolve/internal/optimization"
	"github.com/copperline/lmsolve/internal/optimization/levenberg"
	"github.com/copperline/lmsolve/internal/optimization/linear"
)

func samples(m Model, theta []float64, xs []float64) []float64 {
	ys := make([]float64, len(xs))
	for i, x := range xs {
		ys[i] = m.Eval(theta, x)
	}
	return ys
}

func linspace(a, b float64, n int) []float64 {
	xs := make([]float64, n)
	step := (b - a) / float64(n-1)
	for i := range xs {
		xs[i] = a + float64(i)*step
	}
	return xs
}

func TestAddSeriesValidation(t *testing.T) {
	p := NewProblem()

	assert.Error(t, p.AddSeries("s", nil, []float64{1}, []float64{1}, 0))
	assert.Error(t, p.AddSeries("s", Line{}, nil, nil, 0))
	assert.Error(t, p.AddSeries("s", Line{}, []float64{1, 2}, []float64{1}, 0))
	assert.Error(t, p.AddSeries("s", Line{}, []float64{1}, []float64{1}, -1))

	require.NoError(t, p.AddSeries("s", Line{}, []float64{1}, []float64{1}, 0))
	assert.Error(t, p.AddSeries("s", Line{}, []float64{2}, []float64{2}, 0),
		"duplicate keys must be rejected")
}

func TestProblemErrorAndLinearize(t *testing.T) {
	p := NewProblem()
	require.NoError(t, p.AddSeries("theta", Line{}, []float64{0, 1, 2}, []float64{1, 3, 5}, 0))
	ordering := p.Ordering()

	exact, err := p.InitialValues(map[optimization.Key][]float64{"theta": {2, 1}})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, p.Error(exact), 1e-12, "exact parameters have zero residual")

	off, err := p.InitialValues(map[optimization.Key][]float64{"theta": {2, 0}})
	require.NoError(t, err)
	// Residual is 1 at each of the three points.
	assert.InDelta(t, 3.0, p.Error(off), 1e-12)

	sys, err := p.Linearize(off, ordering)
	require.NoError(t, err)
	require.Equal(t, 1, sys.Len())

	f := sys.Factor(0)
	assert.Equal(t, 3, f.Rows())
	// b carries the negated residuals y - f(theta, x).
	for i := 0; i < 3; i++ {
		assert.InDelta(t, 1.0, f.B.AtVec(i), 1e-12)
	}
}

func TestFitExponentialDecay(t *testing.T) {
	truth := []float64{2.5, 1.3, 0.5}
	xs := linspace(0, 4, 25)

	p := NewProblem()
	require.NoError(t, p.AddSeries("theta", ExponentialDecay{}, xs, samples(ExponentialDecay{}, truth, xs), 0))

	initial, err := p.InitialValues(map[optimization.Key][]float64{"theta": {1, 1, 0}})
	require.NoError(t, err)

	o, err := levenberg.New(p, p.Ordering(), levenberg.DefaultParams(), nil)
	require.NoError(t, err)

	result, err := o.Optimize(context.Background(), initial)
	require.NoError(t, err)
	require.True(t, result.Converged)

	got := result.State.Values.(optimization.VectorValues).At("theta")
	assert.InDeltaSlice(t, truth, got, 1e-4)
	assert.Less(t, result.State.Error, 1e-8)
}

func TestFitIndependentSeriesMultifrontal(t *testing.T) {
	lineTruth := []float64{2, -1}
	peakTruth := []float64{1.0, 0.5, 0.7}
	xs := linspace(-2, 2, 30)

	build := func() *Problem {
		p := NewProblem()
		require.NoError(t, p.AddSeries("line", Line{}, xs, samples(Line{}, lineTruth, xs), 0.1))
		require.NoError(t, p.AddSeries("peak", GaussianPeak{}, xs, samples(GaussianPeak{}, peakTruth, xs), 0.1))
		return p
	}
	initialGuess := map[optimization.Key][]float64{
		"line": {1, 0},
		"peak": {0.8, 0.3, 1.0},
	}

	var got [2]optimization.VectorValues
	for i, elim := range []linear.Elimination{linear.Sequential, linear.Multifrontal} {
		p := build()
		params := levenberg.DefaultParams()
		params.Elimination = elim

		initial, err := p.InitialValues(initialGuess)
		require.NoError(t, err)
		o, err := levenberg.New(p, p.Ordering(), params, nil)
		require.NoError(t, err)

		result, err := o.Optimize(context.Background(), initial)
		require.NoError(t, err)
		require.True(t, result.Converged, "strategy %v", elim)

		vv := result.State.Values.(optimization.VectorValues)
		assert.InDeltaSlice(t, lineTruth, vv.At("line"), 1e-4, "strategy %v", elim)
		assert.InDeltaSlice(t, peakTruth, vv.At("peak"), 1e-3, "strategy %v", elim)
		got[i] = vv
	}

	// Both strategies land on the same fit.
	assert.InDeltaSlice(t, got[0].At("line"), got[1].At("line"), 1e-6)
	assert.InDeltaSlice(t, got[0].At("peak"), got[1].At("peak"), 1e-6)
}

func TestInitialValuesValidation(t *testing.T) {
	p := NewProblem()
	require.NoError(t, p.AddSeries("theta", Line{}, []float64{0, 1}, []float64{0, 1}, 0))

	_, err := p.InitialValues(map[optimization.Key][]float64{})
	assert.Error(t, err, "missing series")

	_, err = p.InitialValues(map[optimization.Key][]float64{"theta": {1, 2, 3}})
	assert.Error(t, err, "wrong parameter count")
}
