package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// NormalizePoints applies Hartley normalization: the points are translated so their centroid is
// the origin and scaled so the mean distance to it is sqrt(2). The 3x3 similarity applied is
// returned along with the points.
func NormalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense) {
	nPoints := len(pts)
	mu := r2.Point{X: 0, Y: 0}
	for _, pt := range pts {
		mu = mu.Add(pt)
	}
	mu = mu.Mul(1. / float64(nPoints))

	d := 0.0
	for _, pt := range pts {
		d += pt.Sub(mu).Norm() / float64(nPoints)
	}
	scale := 1.
	if d > 0 {
		scale = math.Sqrt(2) / d
	}
	transformData := []float64{
		scale, 0, -scale * mu.X,
		0, scale, -scale * mu.Y,
		0, 0, 1,
	}
	T := mat.NewDense(3, 3, transformData)
	pointsTransformed := make([]r2.Point, nPoints)
	for i := range pointsTransformed {
		pointsTransformed[i] = r2.Point{X: scale * (pts[i].X - mu.X), Y: scale * (pts[i].Y - mu.Y)}
	}
	return pointsTransformed, T
}

// SolveHomogeneous returns the unit vector x minimizing |A x| (the right singular vector of the
// smallest singular value) along with all singular values in decreasing order.
func SolveHomogeneous(a mat.Matrix) ([]float64, []float64, error) {
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return nil, nil, errors.New("svd factorization failed")
	}
	var v mat.Dense
	svd.VTo(&v)
	_, n := a.Dims()
	x := make([]float64, n)
	mat.Col(x, n-1, &v)
	return x, svd.Values(nil), nil
}

// Eye returns the n x n identity.
func Eye(n int) *mat.Dense {
	if n <= 0 {
		return nil
	}
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}
