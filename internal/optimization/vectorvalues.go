package optimization

import (
	"github.com/copperline/lmsolve/internal/optimization/linear"
)

// VectorValues is the Euclidean Values implementation: a map from key to a
// flat coordinate vector. Retract is plain vector addition. VectorValues is
// copied, never aliased, across optimizer iterations.
type VectorValues map[Key][]float64

// NewVectorValues returns an empty assignment.
func NewVectorValues() VectorValues { return make(VectorValues) }

// Set stores a copy of x under k and returns the assignment for chaining.
func (v VectorValues) Set(k Key, x []float64) VectorValues {
	out := make([]float64, len(x))
	copy(out, x)
	v[k] = out
	return v
}

// At returns the stored vector for k, or nil if absent. The returned slice
// aliases the assignment and must not be modified by callers.
func (v VectorValues) At(k Key) []float64 { return v[k] }

// Copy returns a deep copy of the assignment.
func (v VectorValues) Copy() VectorValues {
	out := make(VectorValues, len(v))
	for k, x := range v {
		out.Set(k, x)
	}
	return out
}

// Dims returns the per-variable dimensionality in ordering order.
func (v VectorValues) Dims(ordering Ordering) ([]int, error) {
	dims := make([]int, ordering.Len())
	for i := range dims {
		k := ordering.Key(i)
		x, ok := v[k]
		if !ok {
			return nil, NewErrorf("no value for ordered key %q", k).WithComponent("values").WithOp("Dims")
		}
		dims[i] = len(x)
	}
	return dims, nil
}

// Retract adds the step segment of each ordered variable to its current
// vector and returns the updated assignment. The receiver is not modified.
func (v VectorValues) Retract(delta *linear.Delta, ordering Ordering) (Values, error) {
	out := make(VectorValues, len(v))
	for k, x := range v {
		i, ok := ordering.Index(k)
		if !ok {
			return nil, NewErrorf("key %q missing from ordering", k).WithComponent("values").WithOp("Retract")
		}
		step := delta.At(i)
		if len(step) != len(x) {
			return nil, NewErrorf("step for %q has dimension %d, value has %d", k, len(step), len(x)).
				WithComponent("values").WithOp("Retract")
		}
		next := make([]float64, len(x))
		for j := range x {
			next[j] = x[j] + step[j]
		}
		out[k] = next
	}
	return out, nil
}
