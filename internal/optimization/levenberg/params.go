package levenberg

import (
	"github.com/copperline/lmsolve/internal/optimization"
	"github.com/copperline/lmsolve/internal/optimization/linear"
)

// Params configures the optimizer. An invalid Params is a fatal
// configuration error, rejected by New before any iteration runs.
type Params struct {
	// Factorization selects the solver's internal factorization.
	Factorization linear.Factorization
	// Elimination selects the solver execution strategy.
	Elimination linear.Elimination

	// LambdaInitial is the damping value of the initial state.
	LambdaInitial float64
	// LambdaFactor is the multiplicative growth/shrink factor of the
	// damping schedule. Must be greater than 1.
	LambdaFactor float64
	// LambdaUpperBound stops the damping sub-loop: once lambda reaches it,
	// the iteration gives up rather than growing lambda further.
	LambdaUpperBound float64

	// Verbosity is the reporting tier.
	Verbosity Verbosity

	// MaxIterations caps the Optimize driver loop.
	MaxIterations int
	// RelativeErrorTol stops the driver when the relative error decrease of
	// one iteration falls at or below it.
	RelativeErrorTol float64
	// AbsoluteErrorTol stops the driver when the absolute error decrease of
	// one iteration falls at or below it.
	AbsoluteErrorTol float64
	// ErrorTol stops the driver when the total error itself falls at or
	// below it.
	ErrorTol float64
}

// DefaultParams returns the standard parameter set.
func DefaultParams() Params {
	return Params{
		Factorization:    linear.Cholesky,
		Elimination:      linear.Multifrontal,
		LambdaInitial:    1e-5,
		LambdaFactor:     10,
		LambdaUpperBound: 1e5,
		Verbosity:        Silent,
		MaxIterations:    100,
		RelativeErrorTol: 1e-5,
		AbsoluteErrorTol: 1e-5,
	}
}

// Validate checks the configuration surface. Every failure here is a setup
// error, never a runtime condition.
func (p Params) Validate() error {
	const component = "levenberg"
	if !p.Factorization.Valid() {
		return optimization.NewErrorf("invalid factorization %v", p.Factorization).
			WithComponent(component).WithOp("Validate")
	}
	if !p.Elimination.Valid() {
		return optimization.NewErrorf("invalid elimination strategy %v", p.Elimination).
			WithComponent(component).WithOp("Validate")
	}
	if p.LambdaInitial <= 0 {
		return optimization.NewErrorf("lambda initial must be positive, got %v", p.LambdaInitial).
			WithComponent(component).WithOp("Validate")
	}
	if p.LambdaFactor <= 1 {
		return optimization.NewErrorf("lambda factor must be greater than 1, got %v", p.LambdaFactor).
			WithComponent(component).WithOp("Validate")
	}
	if p.LambdaUpperBound <= 0 {
		return optimization.NewErrorf("lambda upper bound must be positive, got %v", p.LambdaUpperBound).
			WithComponent(component).WithOp("Validate")
	}
	if p.MaxIterations < 0 {
		return optimization.NewErrorf("max iterations must not be negative, got %d", p.MaxIterations).
			WithComponent(component).WithOp("Validate")
	}
	return nil
}
