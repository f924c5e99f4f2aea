package levenberg

import "github.com/copperline/lmsolve/internal/optimization"

// State is one point of the optimization run. States are replaced wholesale
// by Iterate, never mutated in place, so a caller may hold on to any state
// it has seen.
//
// Invariants: Error always equals the true total error of Values under the
// nonlinear system, and Lambda is strictly positive.
type State struct {
	// Values is the current variable assignment.
	Values optimization.Values
	// Error is the total squared residual at Values.
	Error float64
	// Lambda is the current damping strength.
	Lambda float64
	// Iteration counts completed Iterate calls.
	Iteration int
}
