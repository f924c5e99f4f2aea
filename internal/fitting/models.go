// Package fitting provides weighted nonlinear curve fitting on top of the
// Levenberg-Marquardt core: a small set of parametric models and a Problem
// type implementing the nonlinear-system contract over one or more
// independent data series.
package fitting

import (
	"fmt"
	"math"
)

// Model is a parametric scalar curve y = f(theta, x).
type Model interface {
	// Name is the identifier used by the HTTP API and configuration.
	Name() string
	// Dim is the number of parameters.
	Dim() int
	// Eval returns f(theta, x).
	Eval(theta []float64, x float64) float64
	// Jacobian writes df/dtheta at (theta, x) into dst, which has length Dim.
	Jacobian(dst []float64, theta []float64, x float64)
}

// ExponentialDecay is y = a*exp(-b*x) + c with theta = (a, b, c).
type ExponentialDecay struct{}

func (ExponentialDecay) Name() string { return "exponential" }
func (ExponentialDecay) Dim() int     { return 3 }

func (ExponentialDecay) Eval(theta []float64, x float64) float64 {
	return theta[0]*math.Exp(-theta[1]*x) + theta[2]
}

func (ExponentialDecay) Jacobian(dst []float64, theta []float64, x float64) {
	e := math.Exp(-theta[1] * x)
	dst[0] = e
	dst[1] = -theta[0] * x * e
	dst[2] = 1
}

// GaussianPeak is y = a*exp(-(x-mu)^2 / (2*s^2)) with theta = (a, mu, s).
type GaussianPeak struct{}

func (GaussianPeak) Name() string { return "gaussian" }
func (GaussianPeak) Dim() int     { return 3 }

func (GaussianPeak) Eval(theta []float64, x float64) float64 {
	d := x - theta[1]
	return theta[0] * math.Exp(-d*d/(2*theta[2]*theta[2]))
}

func (GaussianPeak) Jacobian(dst []float64, theta []float64, x float64) {
	a, mu, s := theta[0], theta[1], theta[2]
	d := x - mu
	e := math.Exp(-d * d / (2 * s * s))
	dst[0] = e
	dst[1] = a * e * d / (s * s)
	dst[2] = a * e * d * d / (s * s * s)
}

// Line is y = m*x + c with theta = (m, c).
type Line struct{}

func (Line) Name() string { return "line" }
func (Line) Dim() int     { return 2 }

func (Line) Eval(theta []float64, x float64) float64 { return theta[0]*x + theta[1] }

func (Line) Jacobian(dst []float64, theta []float64, x float64) {
	dst[0] = x
	dst[1] = 1
}

// ModelByName resolves an API model identifier.
func ModelByName(name string) (Model, error) {
	switch name {
	case "exponential":
		return ExponentialDecay{}, nil
	case "gaussian":
		return GaussianPeak{}, nil
	case "line":
		return Line{}, nil
	default:
		return nil, fmt.Errorf("fitting: unknown model %q", name)
	}
}
