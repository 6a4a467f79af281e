package pose

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/objectpose/rimage/transform"
	"go.viam.com/objectpose/spatialmath"
)

// minimalSample is the number of correspondences a DLT hypothesis is computed from.
const minimalSample = 6

// nullSpaceConditioning is the smallest ratio between the second smallest and the largest singular
// value of the DLT system; below it the sample does not pin down a single projection.
const nullSpaceConditioning = 1e-7

// normalizeObjectPoints centres the points and scales them to a mean distance of sqrt(3).
func normalizeObjectPoints(pts []r3.Vector) ([]r3.Vector, *mat.Dense) {
	var c r3.Vector
	for _, p := range pts {
		c = c.Add(p)
	}
	c = c.Mul(1 / float64(len(pts)))
	d := 0.
	for _, p := range pts {
		d += p.Sub(c).Norm()
	}
	d /= float64(len(pts))
	s := 1.
	if d > 0 {
		s = math.Sqrt(3) / d
	}
	out := make([]r3.Vector, len(pts))
	for i, p := range pts {
		out[i] = p.Sub(c).Mul(s)
	}
	t := mat.NewDense(4, 4, []float64{
		s, 0, 0, -s * c.X,
		0, s, 0, -s * c.Y,
		0, 0, s, -s * c.Z,
		0, 0, 0, 1,
	})
	return out, t
}

// dltPose estimates a camera pose from object points and their undistorted normalized image
// coordinates by solving for the 3x4 projection matrix and projecting its left block onto SO(3).
// ok is false for degenerate samples and for poses that put a sample point behind the camera.
func dltPose(obj []r3.Vector, img []r2.Point) (rot *spatialmath.RotationMatrix, t r3.Vector, ok bool) {
	if len(obj) < minimalSample || len(obj) != len(img) {
		return nil, r3.Vector{}, false
	}
	objN, t3 := normalizeObjectPoints(obj)
	imgN, t2 := transform.NormalizePoints(img)

	a := mat.NewDense(2*len(obj), 12, nil)
	for i := range objN {
		x, y, z := objN[i].X, objN[i].Y, objN[i].Z
		u, v := imgN[i].X, imgN[i].Y
		a.SetRow(2*i, []float64{x, y, z, 1, 0, 0, 0, 0, -u * x, -u * y, -u * z, -u})
		a.SetRow(2*i+1, []float64{0, 0, 0, 0, x, y, z, 1, -v * x, -v * y, -v * z, -v})
	}
	p, sv, err := transform.SolveHomogeneous(a)
	if err != nil || len(sv) < 11 || sv[10] < nullSpaceConditioning*sv[0] {
		return nil, r3.Vector{}, false
	}

	var t2Inv mat.Dense
	if err := t2Inv.Inverse(t2); err != nil {
		return nil, r3.Vector{}, false
	}
	var proj mat.Dense
	proj.Mul(&t2Inv, mat.NewDense(3, 4, p))
	proj.Mul(&proj, t3)

	m := proj.Slice(0, 3, 0, 3)
	if mat.Det(m) < 0 {
		proj.Scale(-1, &proj)
	}
	var svd mat.SVD
	if !svd.Factorize(m, mat.SVDNone) {
		return nil, r3.Vector{}, false
	}
	vals := svd.Values(nil)
	scale := (vals[0] + vals[1] + vals[2]) / 3
	if scale <= 0 || math.IsNaN(scale) {
		return nil, r3.Vector{}, false
	}
	rot, err = spatialmath.OrthonormalizeDense(m)
	if err != nil {
		return nil, r3.Vector{}, false
	}
	t = r3.Vector{X: proj.At(0, 3), Y: proj.At(1, 3), Z: proj.At(2, 3)}.Mul(1 / scale)

	for _, pt := range obj {
		if rot.Mul(pt).Add(t).Z <= 0 {
			return nil, r3.Vector{}, false
		}
	}
	return rot, t, true
}
