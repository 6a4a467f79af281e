package spatialmath

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func TestRodriguesRoundTrip(t *testing.T) {
	for _, rvec := range []r3.Vector{
		{X: 0.1, Y: -0.2, Z: 0.3},
		{X: 0, Y: 0, Z: math.Pi / 2},
		{X: 2.5, Y: 0.3, Z: -0.4},
		{X: 1e-9, Y: 0, Z: 0},
		{},
	} {
		rm := R3ToRotationMatrix(rvec)
		back := rm.RotationVector()
		test.That(t, back.X, test.ShouldAlmostEqual, rvec.X, 1e-9)
		test.That(t, back.Y, test.ShouldAlmostEqual, rvec.Y, 1e-9)
		test.That(t, back.Z, test.ShouldAlmostEqual, rvec.Z, 1e-9)
	}
}

func TestRotationMatrixIsOrthonormal(t *testing.T) {
	rm := R3ToRotationMatrix(r3.Vector{X: 0.7, Y: -1.1, Z: 0.4})
	id := rm.Compose(rm.Transpose())
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.
			if i == j {
				want = 1
			}
			test.That(t, id.At(i, j), test.ShouldAlmostEqual, want, 1e-12)
		}
	}
	test.That(t, mat.Det(rm.Dense()), test.ShouldAlmostEqual, 1, 1e-12)
}

func TestRotateAboutZ(t *testing.T) {
	rm := R3ToRotationMatrix(r3.Vector{Z: math.Pi / 2})
	v := rm.Mul(r3.Vector{X: 1})
	test.That(t, v.X, test.ShouldAlmostEqual, 0, 1e-12)
	test.That(t, v.Y, test.ShouldAlmostEqual, 1, 1e-12)

	roll, pitch, yaw := RotationVectorToRPY(r3.Vector{Z: math.Pi / 2})
	test.That(t, roll, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, pitch, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, yaw, test.ShouldAlmostEqual, 90, 1e-9)
}

func TestRPYComposition(t *testing.T) {
	roll, pitch, yaw := 0.3, -0.2, 1.1
	rx := R3ToRotationMatrix(r3.Vector{X: roll})
	ry := R3ToRotationMatrix(r3.Vector{Y: pitch})
	rz := R3ToRotationMatrix(r3.Vector{Z: yaw})
	ea := rz.Compose(ry).Compose(rx).EulerAngles()
	test.That(t, ea.Roll, test.ShouldAlmostEqual, roll, 1e-9)
	test.That(t, ea.Pitch, test.ShouldAlmostEqual, pitch, 1e-9)
	test.That(t, ea.Yaw, test.ShouldAlmostEqual, yaw, 1e-9)
}

func TestQuaternionConversions(t *testing.T) {
	r4 := &R4AA{Theta: 1.2, RX: 1, RY: 2, RZ: 2}
	q := r4.ToQuat()
	rm := QuatToRotationMatrix(q)
	test.That(t, QuaternionAlmostEqual(rm.Quaternion(), q, 1e-9), test.ShouldBeTrue)

	aa := R3ToR4(r4.ToR3())
	test.That(t, aa.Theta, test.ShouldAlmostEqual, 1.2, 1e-12)
	test.That(t, R3ToR4(r3.Vector{}).Theta, test.ShouldEqual, 0)
}

func TestOrthonormalizeDense(t *testing.T) {
	rm := R3ToRotationMatrix(r3.Vector{X: 0.2, Y: 0.1, Z: -0.3})
	noisy := rm.Dense()
	noisy.Set(0, 1, noisy.At(0, 1)+0.01)
	noisy.Scale(3, noisy)

	fixed, err := OrthonormalizeDense(noisy)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mat.Det(fixed.Dense()), test.ShouldAlmostEqual, 1, 1e-9)
	test.That(t, fixed.At(2, 2), test.ShouldAlmostEqual, rm.At(2, 2), 1e-2)

	flipped := rm.Dense()
	flipped.Scale(-1, flipped)
	fixed, err = OrthonormalizeDense(flipped)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mat.Det(fixed.Dense()), test.ShouldAlmostEqual, 1, 1e-9)
}
