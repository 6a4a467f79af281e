// Package leastsquares minimizes sums of squared residuals with gonum's optimizers. The Hessian
// handed to the optimizer is the Gauss-Newton approximation JᵀJ, so optimize.Newton behaves like
// a damped Gauss-Newton (Levenberg style) solver.
package leastsquares

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// ErrNotFinite is returned when the residuals evaluate to NaN or Inf at the solution.
var ErrNotFinite = errors.New("least squares solution is not finite")

// ResidualFunc writes the residual vector for parameters x into dst.
type ResidualFunc func(dst, x []float64)

// JacobianFunc writes the m x n Jacobian of the residuals at x into dst.
type JacobianFunc func(dst *mat.Dense, x []float64)

// Problem describes a nonlinear least squares problem.
type Problem struct {
	NumResiduals int
	Residuals    ResidualFunc
	// Jacobian is optional; central finite differences are used when nil.
	Jacobian JacobianFunc
}

// Settings bounds the solver.
type Settings struct {
	MaxIterations int
	// FunctionTolerance stops iterating once the cost improves by less than this (relative).
	FunctionTolerance float64
}

// DefaultSettings returns the settings used when Solve is handed nil.
func DefaultSettings() *Settings {
	return &Settings{MaxIterations: 100, FunctionTolerance: 1e-10}
}

// Result holds the solution.
type Result struct {
	X []float64
	// Cost is half the sum of squared residuals.
	Cost       float64
	RMS        float64
	Iterations int
	Status     optimize.Status
}

type linearization struct {
	x        []float64
	residual *mat.VecDense
	jacobian *mat.Dense
}

type solver struct {
	problem Problem
	n       int
	cache   *linearization
}

func (s *solver) residuals(x []float64) []float64 {
	out := make([]float64, s.problem.NumResiduals)
	s.problem.Residuals(out, x)
	return out
}

func (s *solver) linearize(x []float64) *linearization {
	if s.cache != nil && floats.Equal(s.cache.x, x) {
		return s.cache
	}
	r := s.residuals(x)
	jac := mat.NewDense(s.problem.NumResiduals, s.n, nil)
	if s.problem.Jacobian != nil {
		s.problem.Jacobian(jac, x)
	} else {
		fd.Jacobian(jac, func(y, x []float64) { s.problem.Residuals(y, x) }, x, &fd.JacobianSettings{
			Formula:     fd.Central,
			OriginValue: r,
		})
	}
	s.cache = &linearization{
		x:        append([]float64(nil), x...),
		residual: mat.NewVecDense(len(r), r),
		jacobian: jac,
	}
	return s.cache
}

func (s *solver) cost(x []float64) float64 {
	r := s.residuals(x)
	return 0.5 * floats.Dot(r, r)
}

func (s *solver) grad(grad, x []float64) {
	lin := s.linearize(x)
	g := mat.NewVecDense(s.n, grad)
	g.MulVec(lin.jacobian.T(), lin.residual)
}

func (s *solver) hess(hess *mat.SymDense, x []float64) {
	lin := s.linearize(x)
	hess.SymOuterK(1, lin.jacobian.T())
}

// Solve minimizes 0.5*||r(x)||² starting from x0. Optimizer errors that still leave a finite
// improvement over x0 (line search stalls near the optimum) are not reported.
func Solve(problem Problem, x0 []float64, settings *Settings) (*Result, error) {
	if problem.Residuals == nil || problem.NumResiduals <= 0 {
		return nil, errors.New("least squares problem needs residuals")
	}
	if len(x0) == 0 {
		return nil, errors.New("least squares problem needs parameters")
	}
	if settings == nil {
		settings = DefaultSettings()
	}

	s := &solver{problem: problem, n: len(x0)}
	startCost := s.cost(x0)
	if math.IsNaN(startCost) || math.IsInf(startCost, 0) {
		return nil, ErrNotFinite
	}

	optSettings := &optimize.Settings{
		GradientThreshold: 1e-12,
		MajorIterations:   settings.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Relative:   settings.FunctionTolerance,
			Iterations: 5,
		},
	}
	optProblem := optimize.Problem{Func: s.cost, Grad: s.grad, Hess: s.hess}

	res, err := optimize.Minimize(optProblem, x0, optSettings, &optimize.Newton{})
	if res == nil {
		return nil, errors.Wrap(err, "least squares optimization failed")
	}

	x := res.X
	if math.IsNaN(res.F) || math.IsInf(res.F, 0) || res.F > startCost {
		if err != nil {
			return nil, errors.Wrap(err, "least squares optimization failed")
		}
		return nil, ErrNotFinite
	}

	r := s.residuals(x)
	sumSq := floats.Dot(r, r)
	return &Result{
		X:          x,
		Cost:       0.5 * sumSq,
		RMS:        math.Sqrt(sumSq / float64(len(r))),
		Iterations: res.MajorIterations,
		Status:     res.Status,
	}, nil
}
