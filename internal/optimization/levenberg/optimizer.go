package levenberg

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/copperline/lmsolve/internal/optimization"
	"github.com/copperline/lmsolve/internal/optimization/linear"
)

// stepSolver is the contract consumed from the sparse solver backend. The
// only expected failure is linear.ErrIndefiniteSystem; anything else is
// fatal.
type stepSolver interface {
	Solve(sys *linear.System, dims []int) (*linear.Delta, error)
}

// Optimizer runs Levenberg-Marquardt iterations over a nonlinear system.
// It holds no mutable run state apart from the lazily cached variable
// dimensions; the running state is owned by the caller and threaded through
// Iterate.
type Optimizer struct {
	system   optimization.System
	ordering optimization.Ordering
	params   Params
	policy   dampingPolicy
	solver   stepSolver
	logger   *zap.Logger

	// dims is computed from the values on the first Iterate call and reused
	// afterwards. It goes stale only if the variable set changes; callers
	// must then InvalidateDimensions. See that method.
	dims []int
}

// New creates an optimizer for the given system and ordering. The params
// are validated immediately: an invalid factorization or elimination
// strategy is a configuration error and is never retried. A nil logger
// silences all reporting regardless of verbosity.
func New(system optimization.System, ordering optimization.Ordering, params Params, logger *zap.Logger) (*Optimizer, error) {
	if system == nil {
		return nil, optimization.NewError("system must not be nil").
			WithComponent("levenberg").WithOp("New")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Optimizer{
		system:   system,
		ordering: ordering,
		params:   params,
		policy:   dampingPolicy{factor: params.LambdaFactor, upperBound: params.LambdaUpperBound},
		solver:   linear.Solver{Factorization: params.Factorization, Elimination: params.Elimination},
		logger:   logger.Named("levenberg"),
	}, nil
}

// InitialState builds the starting state from an assignment: its true total
// error, the configured initial lambda, and iteration zero. No linearization
// happens until the first Iterate call.
func (o *Optimizer) InitialState(values optimization.Values) State {
	return State{
		Values: values,
		Error:  o.system.Error(values),
		Lambda: o.params.LambdaInitial,
	}
}

// Iterate performs one full outer iteration: linearize once at the current
// values, then run the damping sub-loop (damp, solve, retract, evaluate)
// until a step is accepted or lambda is exhausted. A candidate whose error
// equals the current error is accepted; treating plateaus as progress keeps
// the loop from cycling on them.
//
// Numerical failures from the solver are handled by growing lambda and are
// never surfaced. When lambda reaches its upper bound without an accepted
// step, the returned state carries the unchanged values and error; stagnation
// is visible to callers only as a constant error across calls. Errors from
// linearization or retraction are fatal and propagated unmodified.
func (o *Optimizer) Iterate(current State) (State, error) {
	linearized, err := o.system.Linearize(current.Values, o.ordering)
	if err != nil {
		return current, err
	}

	if o.dims == nil {
		dims, err := current.Values.Dims(o.ordering)
		if err != nil {
			return current, err
		}
		o.dims = dims
	}

	lambda := current.Lambda
	nextValues := current.Values
	nextError := current.Error

	for {
		if o.params.Verbosity >= TryLambda {
			o.logger.Debug("trying lambda", zap.Float64("lambda", lambda))
		}

		damped := linear.Damp(linearized, o.dims, lambda)
		if o.params.Verbosity >= Damped {
			o.logger.Debug("damped system built",
				zap.Int("factors", damped.Len()),
				zap.Float64("lambda", lambda))
		}

		delta, err := o.solver.Solve(damped, o.dims)
		if err != nil {
			if !errors.Is(err, linear.ErrIndefiniteSystem) {
				return current, err
			}
			if o.params.Verbosity >= Lambda {
				o.logger.Debug("system indefinite, increasing lambda", zap.Float64("lambda", lambda))
			}
			next, giveUp := o.reject(lambda)
			if giveUp {
				break
			}
			lambda = next
			continue
		}
		if o.params.Verbosity >= TryDelta {
			o.logger.Debug("step solved",
				zap.Float64("step_norm", delta.Norm()),
				zap.Int("step_dim", delta.Dim()))
		}

		candidate, err := current.Values.Retract(delta, o.ordering)
		if err != nil {
			return current, err
		}
		candidateError := o.system.Error(candidate)
		if o.params.Verbosity >= TryLambda {
			o.logger.Debug("candidate evaluated",
				zap.Float64("candidate_error", candidateError),
				zap.Float64("current_error", current.Error))
		}

		if candidateError <= current.Error {
			nextValues = candidate
			nextError = candidateError
			lambda = o.policy.shrink(lambda)
			break
		}
		next, giveUp := o.reject(lambda)
		if giveUp {
			break
		}
		lambda = next
	}

	return State{
		Values:    nextValues,
		Error:     nextError,
		Lambda:    lambda,
		Iteration: current.Iteration + 1,
	}, nil
}

// reject handles one failed damping attempt: grow lambda when possible, or
// report give-up once the bound is reached.
func (o *Optimizer) reject(lambda float64) (next float64, giveUp bool) {
	if o.policy.exhausted(lambda) {
		if o.params.Verbosity >= Failure {
			o.logger.Warn("giving up: cannot decrease error at maximum lambda",
				zap.Float64("lambda", lambda))
		}
		return lambda, true
	}
	return o.policy.grow(lambda), false
}

// InvalidateDimensions drops the cached variable dimensions so the next
// Iterate call recomputes them. Call it whenever the variable set changes;
// dimensions are deliberately not re-derived per call otherwise.
func (o *Optimizer) InvalidateDimensions() { o.dims = nil }

// Result is the outcome of a full Optimize run.
type Result struct {
	// State is the last state produced.
	State State
	// Converged is true when the error tolerances stopped the run, false
	// when the iteration cap did.
	Converged bool
}

// Optimize drives repeated Iterate calls from an initial assignment until
// the error decrease falls within the configured tolerances or the iteration
// cap is hit. The context is checked between iterations only; a single
// Iterate call always runs to completion.
func (o *Optimizer) Optimize(ctx context.Context, initial optimization.Values) (*Result, error) {
	state := o.InitialState(initial)
	if o.params.Verbosity >= Lambda {
		o.logger.Info("starting optimization",
			zap.Float64("initial_error", state.Error),
			zap.Float64("lambda", state.Lambda))
	}

	for state.Iteration < o.params.MaxIterations {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		next, err := o.Iterate(state)
		if err != nil {
			return nil, err
		}
		if o.converged(state.Error, next.Error) {
			if o.params.Verbosity >= Lambda {
				o.logger.Info("converged",
					zap.Float64("error", next.Error),
					zap.Int("iterations", next.Iteration))
			}
			return &Result{State: next, Converged: true}, nil
		}
		state = next
	}
	return &Result{State: state, Converged: false}, nil
}

// converged applies the driver stopping rule to one iteration's error
// decrease. Give-up iterations decrease the error by exactly zero and are
// therefore reported as converged, which is how stagnant runs terminate.
func (o *Optimizer) converged(currentError, newError float64) bool {
	if newError <= o.params.ErrorTol {
		return true
	}
	absoluteDecrease := currentError - newError
	if absoluteDecrease <= o.params.AbsoluteErrorTol {
		return true
	}
	if currentError == 0 {
		return true
	}
	return absoluteDecrease/currentError <= o.params.RelativeErrorTol
}
