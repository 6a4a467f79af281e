package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Homography is a 3x3 planar projective transform.
type Homography struct {
	matrix *mat.Dense
}

// NewHomography creates a homography from 9 row-major values.
func NewHomography(vals []float64) (*Homography, error) {
	if len(vals) != 9 {
		return nil, errors.Errorf("input to NewHomography must have length of 9. Has length of %d", len(vals))
	}
	data := make([]float64, 9)
	copy(data, vals)
	return &Homography{mat.NewDense(3, 3, data)}, nil
}

// At returns the value of the homography at the given index.
func (h *Homography) At(row, col int) float64 {
	return h.matrix.At(row, col)
}

// Column returns column i as a 3-vector.
func (h *Homography) Column(i int) []float64 {
	col := make([]float64, 3)
	mat.Col(col, i, h.matrix)
	return col
}

// Apply will transform the given point according to the homography.
func (h *Homography) Apply(pt r2.Point) r2.Point {
	x := pt.X
	y := pt.Y
	zz := 1.0 / (h.At(2, 0)*x + h.At(2, 1)*y + h.At(2, 2))
	xx := (h.At(0, 0)*x + h.At(0, 1)*y + h.At(0, 2)) * zz
	yy := (h.At(1, 0)*x + h.At(1, 1)*y + h.At(1, 2)) * zz
	return r2.Point{X: xx, Y: yy}
}

// Inverse returns the homography mapping in the opposite direction.
func (h *Homography) Inverse() (*Homography, error) {
	var inv mat.Dense
	if err := inv.Inverse(h.matrix); err != nil {
		return nil, errors.Wrap(err, "homography is not invertible")
	}
	return &Homography{&inv}, nil
}

// EstimateHomography computes the homography mapping src onto dst with the normalized direct linear
// transform. At least 4 correspondences are needed.
func EstimateHomography(src, dst []r2.Point) (*Homography, error) {
	if len(src) != len(dst) {
		return nil, errors.New("sets of points src and dst must have the same number of elements")
	}
	if len(src) < 4 {
		return nil, errors.New("a homography needs at least 4 point correspondences")
	}
	srcN, tSrc := NormalizePoints(src)
	dstN, tDst := NormalizePoints(dst)

	a := mat.NewDense(2*len(src), 9, nil)
	for i := range srcN {
		x, y := srcN[i].X, srcN[i].Y
		u, v := dstN[i].X, dstN[i].Y
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}
	h, _, err := SolveHomogeneous(a)
	if err != nil {
		return nil, errors.Wrap(err, "cannot estimate homography")
	}
	hN := mat.NewDense(3, 3, h)

	// H = T_dst^-1 * H_n * T_src
	var tDstInv mat.Dense
	if err := tDstInv.Inverse(tDst); err != nil {
		return nil, errors.Wrap(err, "degenerate point configuration")
	}
	var out mat.Dense
	out.Mul(&tDstInv, hN)
	out.Mul(&out, tSrc)

	scale := out.At(2, 2)
	if math.Abs(scale) < 1e-12 {
		scale = mat.Norm(&out, 2)
	}
	if scale == 0 || math.IsNaN(scale) {
		return nil, errors.New("degenerate homography")
	}
	out.Scale(1/scale, &out)
	return &Homography{&out}, nil
}
