// Package optimization defines the shared vocabulary of the nonlinear
// least-squares solver: variable keys and orderings, the variable-assignment
// and nonlinear-system contracts consumed by the optimizer, and the
// structured error type used across the solver packages.
package optimization

import (
	"fmt"

	"github.com/copperline/lmsolve/internal/optimization/linear"
)

// Key identifies one variable of the nonlinear system.
type Key string

// Ordering is a fixed total order over variable keys, used for linearization
// and step indexing. It is immutable once built.
type Ordering struct {
	keys  []Key
	index map[Key]int
}

// NewOrdering builds an ordering over the given keys. It panics on duplicate
// keys, since an ambiguous ordering is a programming error.
func NewOrdering(keys ...Key) Ordering {
	index := make(map[Key]int, len(keys))
	out := make([]Key, len(keys))
	for i, k := range keys {
		if _, dup := index[k]; dup {
			panic(fmt.Sprintf("optimization: duplicate key %q in ordering", k))
		}
		index[k] = i
		out[i] = k
	}
	return Ordering{keys: out, index: index}
}

// Len returns the number of ordered variables.
func (o Ordering) Len() int { return len(o.keys) }

// Index returns the position of k in the ordering.
func (o Ordering) Index(k Key) (int, bool) {
	i, ok := o.index[k]
	return i, ok
}

// Key returns the key at position i.
func (o Ordering) Key(i int) Key { return o.keys[i] }

// Keys returns a copy of the ordered key list.
func (o Ordering) Keys() []Key {
	out := make([]Key, len(o.keys))
	copy(out, o.keys)
	return out
}

// Values is a variable assignment on a possibly non-Euclidean domain.
// Implementations must treat the assignment as immutable: Retract returns a
// fresh assignment and never modifies the receiver.
type Values interface {
	// Dims returns the dimensionality of each variable in ordering order.
	Dims(ordering Ordering) ([]int, error)

	// Retract applies a step to the assignment and returns the updated
	// assignment. Failures (for example a step that leaves the variable's
	// domain) are fatal to the caller.
	Retract(delta *linear.Delta, ordering Ordering) (Values, error)
}

// System is the nonlinear measurement system being minimized.
type System interface {
	// Linearize produces the first-order approximation of the system at the
	// given assignment. A failure here is fatal, never retried.
	Linearize(values Values, ordering Ordering) (*linear.System, error)

	// Error returns the nonnegative total squared (whitened) residual of the
	// assignment.
	Error(values Values) float64
}
