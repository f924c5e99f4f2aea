package levenberg

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/copperline/lmsolve/internal/optimization"
	"github.com/copperline/lmsolve/internal/optimization/linear"
)

// vecOf unwraps the test value types down to the underlying assignment.
func vecOf(values optimization.Values) optimization.VectorValues {
	switch v := values.(type) {
	case optimization.VectorValues:
		return v
	case countingValues:
		return v.VectorValues
	}
	panic("unexpected values type")
}

// quadraticSystem has error sum((x_k - target_k)^2) with the exact
// Gauss-Newton linearization A = I, b = target - x. A true quadratic, so an
// undamped step lands on the minimum.
type quadraticSystem struct {
	target optimization.VectorValues
}

func (s quadraticSystem) Error(values optimization.Values) float64 {
	vv := vecOf(values)
	total := 0.0
	for k, want := range s.target {
		got := vv.At(k)
		for i := range want {
			d := got[i] - want[i]
			total += d * d
		}
	}
	return total
}

func (s quadraticSystem) Linearize(values optimization.Values, ordering optimization.Ordering) (*linear.System, error) {
	vv := vecOf(values)
	sys := linear.NewSystem(ordering.Len())
	for i := 0; i < ordering.Len(); i++ {
		k := ordering.Key(i)
		x := vv.At(k)
		dim := len(x)
		eye := mat.NewDense(dim, dim, nil)
		b := mat.NewVecDense(dim, nil)
		for j := 0; j < dim; j++ {
			eye.Set(j, j, 1)
			b.SetVec(j, s.target.At(k)[j]-x[j])
		}
		sys.Add(linear.NewFactor([]int{i}, []*mat.Dense{eye}, b, 1))
	}
	return sys, nil
}

// scriptedSystem always linearizes to A = I, b = 1 and reports whatever
// error errFn assigns to an assignment, letting tests force rejections,
// plateaus, and acceptances independent of any real residual.
type scriptedSystem struct {
	errFn func(optimization.VectorValues) float64
}

func (s scriptedSystem) Error(values optimization.Values) float64 {
	return s.errFn(vecOf(values))
}

func (s scriptedSystem) Linearize(values optimization.Values, ordering optimization.Ordering) (*linear.System, error) {
	vv := vecOf(values)
	sys := linear.NewSystem(ordering.Len())
	for i := 0; i < ordering.Len(); i++ {
		dim := len(vv.At(ordering.Key(i)))
		eye := mat.NewDense(dim, dim, nil)
		b := mat.NewVecDense(dim, nil)
		for j := 0; j < dim; j++ {
			eye.Set(j, j, 1)
			b.SetVec(j, 1)
		}
		sys.Add(linear.NewFactor([]int{i}, []*mat.Dense{eye}, b, 1))
	}
	return sys, nil
}

// failingSystem cannot be linearized anywhere.
type failingSystem struct{ err error }

func (s failingSystem) Error(optimization.Values) float64 { return 0 }
func (s failingSystem) Linearize(optimization.Values, optimization.Ordering) (*linear.System, error) {
	return nil, s.err
}

// countingSolver counts damping attempts.
type countingSolver struct {
	inner stepSolver
	calls int
}

func (c *countingSolver) Solve(sys *linear.System, dims []int) (*linear.Delta, error) {
	c.calls++
	return c.inner.Solve(sys, dims)
}

// dampedLambda recovers lambda from the trailing damping prior of a damped
// system (sigma = 1/sqrt(lambda)).
func dampedLambda(sys *linear.System) float64 {
	sigma := sys.Factor(sys.Len() - 1).Sigma
	return 1 / (sigma * sigma)
}

// thresholdSolver simulates a linearization that is indefinite for all
// damping below a threshold.
type thresholdSolver struct {
	inner     stepSolver
	threshold float64
	failures  int
}

func (s *thresholdSolver) Solve(sys *linear.System, dims []int) (*linear.Delta, error) {
	if dampedLambda(sys) < s.threshold {
		s.failures++
		return nil, linear.ErrIndefiniteSystem
	}
	return s.inner.Solve(sys, dims)
}

// countingValues counts dimension computations to observe the cache.
type countingValues struct {
	optimization.VectorValues
	dimsCalls *int
}

func (c countingValues) Dims(ordering optimization.Ordering) ([]int, error) {
	*c.dimsCalls++
	return c.VectorValues.Dims(ordering)
}

func scalarStart(x float64) optimization.VectorValues {
	return optimization.NewVectorValues().Set("x", []float64{x})
}

func testParams() Params {
	p := DefaultParams()
	p.Factorization = linear.Cholesky
	p.Elimination = linear.Sequential
	return p
}

func TestInitialState(t *testing.T) {
	system := quadraticSystem{target: scalarStart(3)}
	params := testParams()
	params.LambdaInitial = 1e-3

	o, err := New(system, optimization.NewOrdering("x"), params, nil)
	require.NoError(t, err)

	start := scalarStart(0)
	state := o.InitialState(start)

	assert.Equal(t, system.Error(start), state.Error)
	assert.Equal(t, 9.0, state.Error)
	assert.Equal(t, 1e-3, state.Lambda)
	assert.Equal(t, 0, state.Iteration)
}

func TestIterateQuadraticAcceptsFirstAttempt(t *testing.T) {
	params := testParams()
	params.LambdaInitial = 1e-3
	params.LambdaFactor = 10
	params.LambdaUpperBound = 1e6

	o, err := New(quadraticSystem{target: scalarStart(3)}, optimization.NewOrdering("x"), params, nil)
	require.NoError(t, err)

	initial := o.InitialState(scalarStart(0))
	next, err := o.Iterate(initial)
	require.NoError(t, err)

	// A true quadratic accepts immediately, so lambda shrinks exactly once.
	assert.Equal(t, initial.Lambda/params.LambdaFactor, next.Lambda)
	assert.InDelta(t, 1e-4, next.Lambda, 1e-18)
	assert.Less(t, next.Error, initial.Error)
	assert.InDelta(t, 0.0, next.Error, 1e-4)
	assert.Equal(t, 1, next.Iteration)
}

func TestIterateErrorNeverIncreases(t *testing.T) {
	target := optimization.NewVectorValues().
		Set("a", []float64{1, -2}).
		Set("b", []float64{4})
	o, err := New(quadraticSystem{target: target}, optimization.NewOrdering("a", "b"), testParams(), nil)
	require.NoError(t, err)

	start := optimization.NewVectorValues().
		Set("a", []float64{10, 10}).
		Set("b", []float64{-10})
	state := o.InitialState(start)

	for i := 0; i < 5; i++ {
		next, err := o.Iterate(state)
		require.NoError(t, err)
		assert.LessOrEqual(t, next.Error, state.Error, "iteration %d", i)
		assert.Equal(t, state.Iteration+1, next.Iteration)
		state = next
	}
}

func TestIterateAcceptsEqualError(t *testing.T) {
	// A plateau: every candidate has exactly the current error. The step is
	// accepted as progress, so lambda shrinks instead of looping to the
	// upper bound.
	plateau := scriptedSystem{errFn: func(optimization.VectorValues) float64 { return 1.0 }}
	params := testParams()
	params.LambdaInitial = 1e-2

	o, err := New(plateau, optimization.NewOrdering("x"), params, nil)
	require.NoError(t, err)

	initial := o.InitialState(scalarStart(0))
	require.Equal(t, 1.0, initial.Error)

	next, err := o.Iterate(initial)
	require.NoError(t, err)
	assert.Equal(t, initial.Lambda/params.LambdaFactor, next.Lambda)
	assert.Equal(t, 1.0, next.Error)
	// The (zero-progress) candidate was adopted.
	assert.NotEqual(t, initial.Values.(optimization.VectorValues).At("x"),
		next.Values.(optimization.VectorValues).At("x"))
}

func TestIterateExhaustionReturnsUnchangedState(t *testing.T) {
	// Any move is worse, so every attempt is rejected up to the bound.
	worse := scriptedSystem{errFn: func(vv optimization.VectorValues) float64 {
		if vv.At("x")[0] == 0 {
			return 1.0
		}
		return 2.0
	}}
	params := testParams()
	params.LambdaInitial = 1
	params.LambdaFactor = 10
	params.LambdaUpperBound = 1e3

	o, err := New(worse, optimization.NewOrdering("x"), params, nil)
	require.NoError(t, err)
	counter := &countingSolver{inner: o.solver}
	o.solver = counter

	initial := o.InitialState(scalarStart(0))
	next, err := o.Iterate(initial)
	require.NoError(t, err)

	// Values and error come back untouched; only lambda (and the iteration
	// counter) moved.
	assert.Equal(t, initial.Values, next.Values)
	assert.Equal(t, initial.Error, next.Error)
	assert.Equal(t, params.LambdaUpperBound, next.Lambda)
	assert.Equal(t, 1, next.Iteration)

	// 1 -> 10 -> 100 -> 1000, then give up: the finite-attempt bound holds.
	bound := o.policy.maxAttempts(params.LambdaInitial)
	assert.Equal(t, 4, counter.calls)
	assert.LessOrEqual(t, counter.calls, bound)
}

func TestIterateStagnationTerminatesEachCall(t *testing.T) {
	worse := scriptedSystem{errFn: func(vv optimization.VectorValues) float64 {
		if vv.At("x")[0] == 0 {
			return 1.0
		}
		return 2.0
	}}
	params := testParams()
	params.LambdaInitial = 1
	params.LambdaFactor = 10
	params.LambdaUpperBound = 1e3

	o, err := New(worse, optimization.NewOrdering("x"), params, nil)
	require.NoError(t, err)

	state := o.InitialState(scalarStart(0))
	for i := 0; i < 3; i++ {
		next, err := o.Iterate(state)
		require.NoError(t, err)
		assert.Equal(t, state.Error, next.Error)
		assert.Equal(t, state.Values, next.Values)
		assert.GreaterOrEqual(t, next.Lambda, state.Lambda)
		state = next
	}
	assert.Equal(t, params.LambdaUpperBound, state.Lambda)
}

func TestIterateGrowsLambdaPastIndefiniteThreshold(t *testing.T) {
	params := testParams()
	params.LambdaInitial = 1e-3
	params.LambdaFactor = 10
	params.LambdaUpperBound = 1e6

	o, err := New(quadraticSystem{target: scalarStart(3)}, optimization.NewOrdering("x"), params, nil)
	require.NoError(t, err)
	solver := &thresholdSolver{inner: o.solver, threshold: 5e-2}
	o.solver = solver

	initial := o.InitialState(scalarStart(0))
	next, err := o.Iterate(initial)

	// Numerical failures below the threshold are swallowed, lambda grows
	// past it, and the call still accepts a step.
	require.NoError(t, err)
	assert.Equal(t, 2, solver.failures)
	assert.Less(t, next.Error, initial.Error)
	assert.InDelta(t, 1e-2, next.Lambda, 1e-10)
}

func TestIterateLinearizationFailureIsFatal(t *testing.T) {
	sentinel := errors.New("point out of domain")
	o, err := New(failingSystem{err: sentinel}, optimization.NewOrdering("x"), testParams(), nil)
	require.NoError(t, err)

	_, err = o.Iterate(State{Values: scalarStart(0), Error: 0, Lambda: 1e-3})
	assert.ErrorIs(t, err, sentinel)
}

func TestNewRejectsInvalidConfiguration(t *testing.T) {
	params := testParams()
	params.Factorization = linear.Factorization(9)
	_, err := New(quadraticSystem{target: scalarStart(0)}, optimization.NewOrdering("x"), params, nil)
	assert.Error(t, err)

	params = testParams()
	params.Elimination = linear.Elimination(9)
	_, err = New(quadraticSystem{target: scalarStart(0)}, optimization.NewOrdering("x"), params, nil)
	assert.Error(t, err)

	_, err = New(nil, optimization.NewOrdering("x"), testParams(), nil)
	assert.Error(t, err)
}

func TestDimensionsCachedUntilInvalidated(t *testing.T) {
	worse := scriptedSystem{errFn: func(vv optimization.VectorValues) float64 {
		if vv.At("x")[0] == 0 {
			return 1.0
		}
		return 2.0
	}}
	params := testParams()
	params.LambdaInitial = params.LambdaUpperBound // give up after one attempt

	o, err := New(worse, optimization.NewOrdering("x"), params, nil)
	require.NoError(t, err)

	calls := 0
	values := countingValues{VectorValues: scalarStart(0), dimsCalls: &calls}
	state := State{Values: values, Error: 1.0, Lambda: params.LambdaInitial}

	state, err = o.Iterate(state)
	require.NoError(t, err)
	state, err = o.Iterate(state)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "dimensions must be computed once and cached")

	o.InvalidateDimensions()
	_, err = o.Iterate(state)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "invalidation must force one recompute")
}

func TestOptimizeConverges(t *testing.T) {
	target := optimization.NewVectorValues().
		Set("a", []float64{2, 3}).
		Set("b", []float64{-1})
	o, err := New(quadraticSystem{target: target}, optimization.NewOrdering("a", "b"), testParams(), nil)
	require.NoError(t, err)

	start := optimization.NewVectorValues().
		Set("a", []float64{0, 0}).
		Set("b", []float64{0})
	result, err := o.Optimize(context.Background(), start)
	require.NoError(t, err)

	assert.True(t, result.Converged)
	assert.Less(t, result.State.Error, 1e-6)
	assert.Greater(t, result.State.Iteration, 0)
	assert.Positive(t, result.State.Lambda)
}

func TestOptimizeHonorsIterationCap(t *testing.T) {
	params := testParams()
	params.MaxIterations = 3
	params.RelativeErrorTol = 0
	params.AbsoluteErrorTol = 0

	o, err := New(quadraticSystem{target: scalarStart(3)}, optimization.NewOrdering("x"), params, nil)
	require.NoError(t, err)

	result, err := o.Optimize(context.Background(), scalarStart(0))
	require.NoError(t, err)
	assert.False(t, result.Converged)
	assert.Equal(t, 3, result.State.Iteration)
}

func TestOptimizeRespectsContext(t *testing.T) {
	o, err := New(quadraticSystem{target: scalarStart(3)}, optimization.NewOrdering("x"), testParams(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = o.Optimize(ctx, scalarStart(0))
	assert.ErrorIs(t, err, context.Canceled)
}
