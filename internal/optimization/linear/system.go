// Package linear implements the sparse linear layer of the nonlinear
// least-squares solver: Jacobian factor systems, lambda damping, and the
// elimination-based solvers that compute a step vector from them.
package linear

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Factor is one equation group of a linear system. It relates the step
// segments of the variables in Keys through per-variable coefficient blocks:
//
//	A[0]*delta[Keys[0]] + A[1]*delta[Keys[1]] + ... = B
//
// Sigma is an isotropic noise scale; every row of the factor is whitened by
// 1/Sigma when the system is assembled. A Sigma of 1 means the rows are
// already whitened.
type Factor struct {
	Keys  []int
	A     []*mat.Dense
	B     *mat.VecDense
	Sigma float64
}

// NewFactor builds a factor over the given variable indices. It panics on
// structural mismatches (wrong block count, inconsistent row counts, or a
// non-positive sigma), since those are programming errors rather than
// runtime conditions.
func NewFactor(keys []int, blocks []*mat.Dense, b *mat.VecDense, sigma float64) Factor {
	if len(keys) == 0 {
		panic("linear: factor must reference at least one variable")
	}
	if len(blocks) != len(keys) {
		panic(fmt.Sprintf("linear: factor has %d keys but %d coefficient blocks", len(keys), len(blocks)))
	}
	if sigma <= 0 {
		panic(fmt.Sprintf("linear: factor sigma must be positive, got %v", sigma))
	}
	rows := b.Len()
	for i, blk := range blocks {
		r, _ := blk.Dims()
		if r != rows {
			panic(fmt.Sprintf("linear: block %d has %d rows, rhs has %d", i, r, rows))
		}
	}
	return Factor{Keys: keys, A: blocks, B: b, Sigma: sigma}
}

// Rows returns the number of equations in the factor.
func (f Factor) Rows() int { return f.B.Len() }

// System is a sparse system of linear equations over a step vector, one
// factor per equation group.
type System struct {
	factors []Factor
}

// NewSystem returns an empty system with capacity for n factors.
func NewSystem(n int) *System {
	return &System{factors: make([]Factor, 0, n)}
}

// Add appends a factor to the system.
func (s *System) Add(f Factor) { s.factors = append(s.factors, f) }

// Len returns the number of factors in the system.
func (s *System) Len() int { return len(s.factors) }

// Factor returns the i-th factor.
func (s *System) Factor(i int) Factor { return s.factors[i] }

// Clone returns a system sharing the factors but not the factor slice, so
// the clone can be extended without touching the original.
func (s *System) Clone() *System {
	out := make([]Factor, len(s.factors), len(s.factors)+8)
	copy(out, s.factors)
	return &System{factors: out}
}

// Delta is a solved step vector, segmented per variable in ordering order.
type Delta struct {
	offsets []int // len(dims)+1 prefix sums into data
	data    []float64
}

// NewDelta allocates a zero step for variables with the given dimensions.
func NewDelta(dims []int) *Delta {
	offsets := make([]int, len(dims)+1)
	for i, d := range dims {
		offsets[i+1] = offsets[i] + d
	}
	return &Delta{offsets: offsets, data: make([]float64, offsets[len(dims)])}
}

// At returns the step segment of variable j. The segment aliases the
// underlying vector.
func (d *Delta) At(j int) []float64 { return d.data[d.offsets[j]:d.offsets[j+1]] }

// Vars returns the number of variable segments.
func (d *Delta) Vars() int { return len(d.offsets) - 1 }

// Dim returns the total step dimension.
func (d *Delta) Dim() int { return len(d.data) }

// Norm returns the Euclidean norm of the full step vector.
func (d *Delta) Norm() float64 { return floats.Norm(d.data, 2) }
