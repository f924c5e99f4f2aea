package linear

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Damp augments sys with one zero-mean identity prior per variable, scaled
// by sigma = 1/sqrt(lambda). A small lambda gives a weak prior and a large
// allowed step; a large lambda pins the step near zero. The input system is
// never modified, and the same inputs always produce the same augmentation.
func Damp(sys *System, dims []int, lambda float64) *System {
	damped := sys.Clone()
	sigma := 1.0 / math.Sqrt(lambda)
	for j, dim := range dims {
		eye := mat.NewDense(dim, dim, nil)
		for i := 0; i < dim; i++ {
			eye.Set(i, i, 1)
		}
		damped.Add(NewFactor([]int{j}, []*mat.Dense{eye}, mat.NewVecDense(dim, nil), sigma))
	}
	return damped
}
