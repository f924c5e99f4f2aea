package linear

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// ErrIndefiniteSystem signals that elimination found the system not positive
// definite (or rank deficient). This is the one recoverable solver failure:
// callers are expected to re-damp and retry rather than abort.
var ErrIndefiniteSystem = errors.New("linear: system is not positive definite")

// Factorization selects how the solver eliminates the system.
type Factorization int

const (
	// Cholesky factors the normal equations, LDL-style.
	Cholesky Factorization = iota
	// QR factors the stacked whitened Jacobian directly.
	QR
)

// String returns the configuration name of the factorization.
func (f Factorization) String() string {
	switch f {
	case Cholesky:
		return "cholesky"
	case QR:
		return "qr"
	default:
		return fmt.Sprintf("factorization(%d)", int(f))
	}
}

// Valid reports whether f is a known factorization.
func (f Factorization) Valid() bool { return f == Cholesky || f == QR }

// ParseFactorization converts a configuration string to a Factorization.
func ParseFactorization(s string) (Factorization, error) {
	switch s {
	case "cholesky", "ldl":
		return Cholesky, nil
	case "qr":
		return QR, nil
	default:
		return 0, fmt.Errorf("linear: unknown factorization %q", s)
	}
}

// Elimination selects the solver execution strategy.
type Elimination int

const (
	// Sequential eliminates the whole system at once.
	Sequential Elimination = iota
	// Multifrontal eliminates independent components of the
	// variable-interaction graph concurrently.
	Multifrontal
)

// String returns the configuration name of the elimination strategy.
func (e Elimination) String() string {
	switch e {
	case Sequential:
		return "sequential"
	case Multifrontal:
		return "multifrontal"
	default:
		return fmt.Sprintf("elimination(%d)", int(e))
	}
}

// Valid reports whether e is a known elimination strategy.
func (e Elimination) Valid() bool { return e == Sequential || e == Multifrontal }

// ParseElimination converts a configuration string to an Elimination.
func ParseElimination(s string) (Elimination, error) {
	switch s {
	case "sequential":
		return Sequential, nil
	case "multifrontal":
		return Multifrontal, nil
	default:
		return 0, fmt.Errorf("linear: unknown elimination strategy %q", s)
	}
}

// Solver factorizes and solves linear systems. The zero value is a
// sequential Cholesky solver.
type Solver struct {
	Factorization Factorization
	Elimination   Elimination
}

// Solve computes the step vector minimizing the whitened residual of sys.
// dims gives the per-variable dimensions in ordering order. It returns
// ErrIndefiniteSystem when the factorization fails numerically; any other
// error is a configuration or input error.
func (s Solver) Solve(sys *System, dims []int) (*Delta, error) {
	if !s.Factorization.Valid() {
		return nil, fmt.Errorf("linear: invalid factorization %v", s.Factorization)
	}
	delta := NewDelta(dims)
	switch s.Elimination {
	case Sequential:
		all := make([]int, len(dims))
		for i := range all {
			all[i] = i
		}
		factors := make([]Factor, sys.Len())
		for i := range factors {
			factors[i] = sys.Factor(i)
		}
		if err := s.eliminate(factors, all, dims, delta); err != nil {
			return nil, err
		}
		return delta, nil
	case Multifrontal:
		if err := s.solveMultifrontal(sys, dims, delta); err != nil {
			return nil, err
		}
		return delta, nil
	default:
		return nil, fmt.Errorf("linear: invalid elimination strategy %v", s.Elimination)
	}
}

// solveMultifrontal partitions the variables into independent components of
// the variable-interaction graph and eliminates each component on its own
// goroutine. Components write disjoint segments of delta, so no locking is
// needed around the result.
func (s Solver) solveMultifrontal(sys *System, dims []int, delta *Delta) error {
	uf := newUnionFind(len(dims))
	for i := 0; i < sys.Len(); i++ {
		keys := sys.Factor(i).Keys
		for _, k := range keys[1:] {
			uf.union(keys[0], k)
		}
	}

	vars := make(map[int][]int)
	for v := range dims {
		root := uf.find(v)
		vars[root] = append(vars[root], v)
	}
	factors := make(map[int][]Factor)
	for i := 0; i < sys.Len(); i++ {
		f := sys.Factor(i)
		root := uf.find(f.Keys[0])
		factors[root] = append(factors[root], f)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(vars))
	for root, comp := range vars {
		wg.Add(1)
		go func(comp []int, fs []Factor) {
			defer wg.Done()
			if err := s.eliminate(fs, comp, dims, delta); err != nil {
				errCh <- err
			}
		}(comp, factors[root])
	}
	wg.Wait()
	close(errCh)
	return <-errCh
}

// eliminate solves for the variables in comp given the factors touching
// them, scattering the solution segments into delta.
func (s Solver) eliminate(factors []Factor, comp []int, dims []int, delta *Delta) error {
	colOf := make(map[int]int, len(comp))
	cols := 0
	for _, v := range comp {
		colOf[v] = cols
		cols += dims[v]
	}
	if cols == 0 {
		return nil
	}

	a, b := stack(factors, cols, colOf)

	var x *mat.VecDense
	var err error
	switch s.Factorization {
	case QR:
		x, err = solveQR(a, b)
	default:
		x, err = solveCholesky(a, b)
	}
	if err != nil {
		return err
	}

	for _, v := range comp {
		copy(delta.At(v), x.RawVector().Data[colOf[v]:colOf[v]+dims[v]])
	}
	return nil
}

// stack assembles the whitened dense Jacobian and rhs of the given factors,
// with variable columns placed according to colOf.
func stack(factors []Factor, cols int, colOf map[int]int) (*mat.Dense, *mat.VecDense) {
	rows := 0
	for _, f := range factors {
		rows += f.Rows()
	}
	a := mat.NewDense(rows, cols, nil)
	b := mat.NewVecDense(rows, nil)

	r0 := 0
	for _, f := range factors {
		w := 1.0 / f.Sigma
		for k, key := range f.Keys {
			blk := f.A[k]
			br, bc := blk.Dims()
			c0 := colOf[key]
			for i := 0; i < br; i++ {
				for j := 0; j < bc; j++ {
					a.Set(r0+i, c0+j, w*blk.At(i, j))
				}
			}
		}
		for i := 0; i < f.Rows(); i++ {
			b.SetVec(r0+i, w*f.B.AtVec(i))
		}
		r0 += f.Rows()
	}
	return a, b
}

// solveCholesky solves min ||A x - b|| through the normal equations A'A x = A'b.
func solveCholesky(a *mat.Dense, b *mat.VecDense) (*mat.VecDense, error) {
	_, n := a.Dims()
	gram := mat.NewSymDense(n, nil)
	gram.SymOuterK(1, a.T())

	rhs := mat.NewVecDense(n, nil)
	rhs.MulVec(a.T(), b)

	var chol mat.Cholesky
	if ok := chol.Factorize(gram); !ok {
		return nil, ErrIndefiniteSystem
	}
	x := mat.NewVecDense(n, nil)
	if err := chol.SolveVecTo(x, rhs); err != nil {
		return nil, ErrIndefiniteSystem
	}
	return x, nil
}

// qrRankTol is the relative threshold on R's diagonal below which the
// stacked Jacobian is treated as rank deficient.
const qrRankTol = 1e-12

// solveQR solves min ||A x - b|| by QR factorization of the stacked system.
func solveQR(a *mat.Dense, b *mat.VecDense) (*mat.VecDense, error) {
	m, n := a.Dims()
	if m < n {
		return nil, ErrIndefiniteSystem
	}

	var qr mat.QR
	qr.Factorize(a)

	var r mat.Dense
	qr.RTo(&r)
	maxDiag := 0.0
	minDiag := math.Inf(1)
	for i := 0; i < n; i++ {
		d := math.Abs(r.At(i, i))
		maxDiag = math.Max(maxDiag, d)
		minDiag = math.Min(minDiag, d)
	}
	if maxDiag == 0 || minDiag <= qrRankTol*maxDiag {
		return nil, ErrIndefiniteSystem
	}

	var sol mat.Dense
	if err := qr.SolveTo(&sol, false, b); err != nil {
		return nil, ErrIndefiniteSystem
	}
	x := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		x.SetVec(i, sol.At(i, 0))
	}
	return x, nil
}

// unionFind is a plain disjoint-set structure over variable indices.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	return &unionFind{parent: parent}
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[rb] = ra
	}
}
