package calibrate

import (
	"image"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/objectpose/rimage/transform"
	"go.viam.com/objectpose/spatialmath"
	"go.viam.com/objectpose/utils"
)

// normalizedHomographies conditions the homographies for the closed form solve: pixels are shifted
// to the image centre and scaled by the larger image side, and each matrix gets unit norm.
// It returns the conditioned matrices and the pixel normalization's scale.
func normalizedHomographies(hs []*transform.Homography, size image.Point) ([]*mat.Dense, float64) {
	s := 1 / float64(max(size.X, size.Y))
	cx, cy := float64(size.X)/2, float64(size.Y)/2
	n := mat.NewDense(3, 3, []float64{
		s, 0, -s * cx,
		0, s, -s * cy,
		0, 0, 1,
	})
	out := make([]*mat.Dense, len(hs))
	for i, h := range hs {
		raw := mat.NewDense(3, 3, nil)
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				raw.Set(r, c, h.At(r, c))
			}
		}
		var hn mat.Dense
		hn.Mul(n, raw)
		hn.Scale(1/mat.Norm(&hn, 2), &hn)
		out[i] = &hn
	}
	return out, s
}

// zhangRow builds v_ij for columns i and j of h.
func zhangRow(h mat.Matrix, i, j int) []float64 {
	hi := func(k int) float64 { return h.At(k, i) }
	hj := func(k int) float64 { return h.At(k, j) }
	return []float64{
		hi(0) * hj(0),
		hi(0)*hj(1) + hi(1)*hj(0),
		hi(1) * hj(1),
		hi(2)*hj(0) + hi(0)*hj(2),
		hi(2)*hj(1) + hi(1)*hj(2),
		hi(2) * hj(2),
	}
}

// initialIntrinsics estimates zero-skew intrinsics from the homographies. Zhang's closed form is
// used when it is well posed; otherwise the principal point is fixed at the image centre and only
// the focal lengths are solved for.
func initialIntrinsics(hs []*transform.Homography, size image.Point) (*transform.PinholeCameraIntrinsics, error) {
	hn, s := normalizedHomographies(hs, size)
	if len(hn) >= 2 {
		if intr, ok := zhangIntrinsics(hn, s, size); ok {
			return intr, nil
		}
	}
	return centeredIntrinsics(hn, s, size)
}

func zhangIntrinsics(hn []*mat.Dense, s float64, size image.Point) (*transform.PinholeCameraIntrinsics, bool) {
	v := mat.NewDense(2*len(hn)+1, 6, nil)
	for i, h := range hn {
		v12 := zhangRow(h, 0, 1)
		v11 := zhangRow(h, 0, 0)
		v22 := zhangRow(h, 1, 1)
		diff := make([]float64, 6)
		for k := range diff {
			diff[k] = v11[k] - v22[k]
		}
		v.SetRow(2*i, v12)
		v.SetRow(2*i+1, diff)
	}
	// zero skew
	v.SetRow(2*len(hn), []float64{0, 1, 0, 0, 0, 0})

	b, sv, err := transform.SolveHomogeneous(v)
	if err != nil {
		return nil, false
	}
	// the null space must be one dimensional
	if len(sv) < 5 || sv[4] < 1e-9*sv[0] {
		return nil, false
	}
	if b[0] < 0 {
		for k := range b {
			b[k] = -b[k]
		}
	}
	b11, b12, b22, b13, b23, b33 := b[0], b[1], b[2], b[3], b[4], b[5]
	den := b11*b22 - b12*b12
	if b11 <= 0 || den <= 0 {
		return nil, false
	}
	v0 := (b12*b13 - b11*b23) / den
	lambda := b33 - (b13*b13+v0*(b12*b13-b11*b23))/b11
	if lambda/b11 <= 0 {
		return nil, false
	}
	alpha := math.Sqrt(lambda / b11)
	beta := math.Sqrt(lambda * b11 / den)
	u0 := -b13 * alpha * alpha / lambda

	intr := &transform.PinholeCameraIntrinsics{
		Width:  size.X,
		Height: size.Y,
		Fx:     alpha / s,
		Fy:     beta / s,
		Ppx:    u0/s + float64(size.X)/2,
		Ppy:    v0/s + float64(size.Y)/2,
	}
	if !utils.IsFinite(intr.Fx, intr.Fy, intr.Ppx, intr.Ppy) || intr.CheckValid() != nil {
		return nil, false
	}
	if intr.Ppx > float64(size.X) || intr.Ppy > float64(size.Y) {
		return nil, false
	}
	return intr, true
}

// centeredIntrinsics solves for 1/fx² and 1/fy² with the principal point at the image centre, which
// the normalization already moved to the origin.
func centeredIntrinsics(hn []*mat.Dense, s float64, size image.Point) (*transform.PinholeCameraIntrinsics, error) {
	a := mat.NewDense(2*len(hn), 2, nil)
	rhs := mat.NewVecDense(2*len(hn), nil)
	for i, h := range hn {
		h11, h12 := h.At(0, 0), h.At(0, 1)
		h21, h22 := h.At(1, 0), h.At(1, 1)
		h31, h32 := h.At(2, 0), h.At(2, 1)
		a.SetRow(2*i, []float64{h11 * h12, h21 * h22})
		rhs.SetVec(2*i, -h31*h32)
		a.SetRow(2*i+1, []float64{h11*h11 - h12*h12, h21*h21 - h22*h22})
		rhs.SetVec(2*i+1, -(h31*h31 - h32*h32))
	}
	var inv mat.VecDense
	ix, iy := -1., -1.
	if err := inv.SolveVec(a, rhs); err == nil {
		ix, iy = inv.AtVec(0), inv.AtVec(1)
	}
	if ix <= 0 || iy <= 0 {
		// a fronto-parallel board does not constrain the focal length; fall back to a 60° field of view
		f := float64(max(size.X, size.Y)) / (2 * math.Tan(utils.DegToRad(30)))
		return &transform.PinholeCameraIntrinsics{
			Width: size.X, Height: size.Y, Fx: f, Fy: f, Ppx: float64(size.X) / 2, Ppy: float64(size.Y) / 2,
		}, nil
	}
	intr := &transform.PinholeCameraIntrinsics{
		Width:  size.X,
		Height: size.Y,
		Fx:     1 / math.Sqrt(ix) / s,
		Fy:     1 / math.Sqrt(iy) / s,
		Ppx:    float64(size.X) / 2,
		Ppy:    float64(size.Y) / 2,
	}
	return intr, intr.CheckValid()
}

// extrinsicsFromHomography decomposes H = K [r1 r2 t] into a rotation vector and translation with
// the board in front of the camera.
func extrinsicsFromHomography(h *transform.Homography, intr *transform.PinholeCameraIntrinsics) (r3.Vector, r3.Vector, error) {
	kInv := mat.NewDense(3, 3, nil)
	if err := kInv.Inverse(intr.GetCameraMatrix()); err != nil {
		return r3.Vector{}, r3.Vector{}, errors.Wrap(err, "camera matrix is singular")
	}
	col := func(i int) r3.Vector {
		var v mat.VecDense
		v.MulVec(kInv, mat.NewVecDense(3, h.Column(i)))
		return r3.Vector{X: v.AtVec(0), Y: v.AtVec(1), Z: v.AtVec(2)}
	}
	c1, c2, c3 := col(0), col(1), col(2)
	n1 := c1.Norm()
	if n1 == 0 {
		return r3.Vector{}, r3.Vector{}, errors.New("degenerate homography")
	}
	lambda := 1 / n1
	if c3.Z < 0 {
		lambda = -lambda
	}
	r1 := c1.Mul(lambda)
	r2 := c2.Mul(lambda)
	r3v := r1.Cross(r2)
	t := c3.Mul(lambda)

	rot, err := spatialmath.OrthonormalizeDense(mat.NewDense(3, 3, []float64{
		r1.X, r2.X, r3v.X,
		r1.Y, r2.Y, r3v.Y,
		r1.Z, r2.Z, r3v.Z,
	}))
	if err != nil {
		return r3.Vector{}, r3.Vector{}, err
	}
	return rot.RotationVector(), t, nil
}

// viewSpread returns the largest angle in degrees between the board normals of any two views.
func viewSpread(views []View) float64 {
	normals := make([]r3.Vector, len(views))
	for i, v := range views {
		normals[i] = spatialmath.R3ToRotationMatrix(v.Rotation).Col(2)
	}
	spread := 0.
	for i := range normals {
		for j := i + 1; j < len(normals); j++ {
			spread = math.Max(spread, utils.RadToDeg(float64(normals[i].Angle(normals[j]))))
		}
	}
	return spread
}
