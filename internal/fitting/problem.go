package fitting

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/copperline/lmsolve/internal/optimization"
	"github.com/copperline/lmsolve/internal/optimization/linear"
)

// series is one curve with its own parameter variable and observations.
type series struct {
	key   optimization.Key
	model Model
	xs    []float64
	ys    []float64
	sigma float64
}

// Problem is a weighted nonlinear least-squares curve-fitting problem.
// Each series contributes one variable; series never share variables, so the
// variable-interaction graph of the linearization is one component per
// series.
type Problem struct {
	series []series
}

// NewProblem returns an empty problem.
func NewProblem() *Problem { return &Problem{} }

// AddSeries registers a data series under its own parameter key. sigma is
// the per-observation noise level; zero means unit weights.
func (p *Problem) AddSeries(key optimization.Key, model Model, xs, ys []float64, sigma float64) error {
	if model == nil {
		return fmt.Errorf("fitting: series %q has no model", key)
	}
	if len(xs) == 0 {
		return fmt.Errorf("fitting: series %q has no observations", key)
	}
	if len(xs) != len(ys) {
		return fmt.Errorf("fitting: series %q has %d x values but %d y values", key, len(xs), len(ys))
	}
	if sigma < 0 {
		return fmt.Errorf("fitting: series %q has negative sigma %v", key, sigma)
	}
	if sigma == 0 {
		sigma = 1
	}
	for _, s := range p.series {
		if s.key == key {
			return fmt.Errorf("fitting: duplicate series key %q", key)
		}
	}
	p.series = append(p.series, series{key: key, model: model, xs: xs, ys: ys, sigma: sigma})
	return nil
}

// Ordering returns the variable ordering, one key per series in insertion
// order.
func (p *Problem) Ordering() optimization.Ordering {
	keys := make([]optimization.Key, len(p.series))
	for i, s := range p.series {
		keys[i] = s.key
	}
	return optimization.NewOrdering(keys...)
}

// InitialValues builds the starting assignment from per-series parameter
// guesses, validating dimensions against each model.
func (p *Problem) InitialValues(initial map[optimization.Key][]float64) (optimization.VectorValues, error) {
	values := optimization.NewVectorValues()
	for _, s := range p.series {
		theta, ok := initial[s.key]
		if !ok {
			return nil, fmt.Errorf("fitting: no initial parameters for series %q", s.key)
		}
		if len(theta) != s.model.Dim() {
			return nil, fmt.Errorf("fitting: series %q model %q needs %d parameters, got %d",
				s.key, s.model.Name(), s.model.Dim(), len(theta))
		}
		values.Set(s.key, theta)
	}
	return values, nil
}

// Error returns the total squared whitened residual of the assignment.
func (p *Problem) Error(values optimization.Values) float64 {
	vv := values.(optimization.VectorValues)
	total := 0.0
	for _, s := range p.series {
		theta := vv.At(s.key)
		for i, x := range s.xs {
			r := (s.model.Eval(theta, x) - s.ys[i]) / s.sigma
			total += r * r
		}
	}
	return total
}

// Linearize produces the Gauss-Newton approximation at the assignment: one
// factor per series with A = the stacked Jacobian rows and B = the negated
// residuals, weighted by the series sigma.
func (p *Problem) Linearize(values optimization.Values, ordering optimization.Ordering) (*linear.System, error) {
	vv, ok := values.(optimization.VectorValues)
	if !ok {
		return nil, fmt.Errorf("fitting: unsupported values type %T", values)
	}

	sys := linear.NewSystem(len(p.series))
	row := make([]float64, 0)
	for _, s := range p.series {
		idx, ok := ordering.Index(s.key)
		if !ok {
			return nil, fmt.Errorf("fitting: series %q missing from ordering", s.key)
		}
		theta := vv.At(s.key)
		if theta == nil {
			return nil, fmt.Errorf("fitting: no value for series %q", s.key)
		}

		dim := s.model.Dim()
		if cap(row) < dim {
			row = make([]float64, dim)
		}
		row = row[:dim]

		a := mat.NewDense(len(s.xs), dim, nil)
		b := mat.NewVecDense(len(s.xs), nil)
		for i, x := range s.xs {
			s.model.Jacobian(row, theta, x)
			for j, v := range row {
				a.Set(i, j, v)
			}
			b.SetVec(i, s.ys[i]-s.model.Eval(theta, x))
		}
		sys.Add(linear.NewFactor([]int{idx}, []*mat.Dense{a}, b, s.sigma))
	}
	return sys, nil
}
