// Package levenberg implements the damped-linearization control loop of the
// nonlinear least-squares solver: a Levenberg-Marquardt strategy that
// repeatedly linearizes the system, solves a regularized linear system, and
// adapts the damping parameter until it finds a step that does not increase
// error, or gives up.
package levenberg

import "fmt"

// Verbosity is the tiered reporting level of the optimizer. It is purely
// observational: no value changes control flow.
type Verbosity int

const (
	// Silent produces no output.
	Silent Verbosity = iota
	// Failure additionally reports give-ups at the lambda upper bound.
	Failure
	// Lambda additionally reports damping growth on numerical failure.
	Lambda
	// TryLambda additionally reports every damping attempt and its outcome.
	TryLambda
	// TryDelta additionally reports the solved step.
	TryDelta
	// Damped additionally reports the damped system size per attempt.
	Damped
)

// String returns the configuration name of the verbosity tier.
func (v Verbosity) String() string {
	switch v {
	case Silent:
		return "silent"
	case Failure:
		return "failure"
	case Lambda:
		return "lambda"
	case TryLambda:
		return "trylambda"
	case TryDelta:
		return "trydelta"
	case Damped:
		return "damped"
	default:
		return fmt.Sprintf("verbosity(%d)", int(v))
	}
}

// ParseVerbosity converts a configuration string to a Verbosity.
func ParseVerbosity(s string) (Verbosity, error) {
	for v := Silent; v <= Damped; v++ {
		if v.String() == s {
			return v, nil
		}
	}
	return 0, fmt.Errorf("levenberg: unknown verbosity %q", s)
}
