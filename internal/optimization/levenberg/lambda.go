package levenberg

import "math"

// dampingPolicy owns the adaptive damping schedule: shrink on acceptance,
// grow on rejection, stop at the upper bound. Lambda is only ever multiplied
// or divided by the factor, never set arbitrarily, so every rejection
// strictly increases it and the sub-loop terminates.
type dampingPolicy struct {
	factor     float64
	upperBound float64
}

// shrink relaxes the damping after an accepted step. Called exactly once per
// acceptance.
func (p dampingPolicy) shrink(lambda float64) float64 { return lambda / p.factor }

// grow tightens the damping after a rejected step. Callers must check
// exhausted first.
func (p dampingPolicy) grow(lambda float64) float64 { return lambda * p.factor }

// exhausted reports that lambda has reached the upper bound and the damping
// sub-loop must stop without an accepted step.
func (p dampingPolicy) exhausted(lambda float64) bool { return lambda >= p.upperBound }

// maxAttempts bounds the number of damping attempts starting from lambda:
// every failure multiplies lambda by the factor, so the sub-loop runs at
// most ceil(log(upper/lambda)/log(factor)) + 1 times.
func (p dampingPolicy) maxAttempts(lambda float64) int {
	if lambda >= p.upperBound {
		return 1
	}
	return int(math.Ceil(math.Log(p.upperBound/lambda)/math.Log(p.factor))) + 1
}
