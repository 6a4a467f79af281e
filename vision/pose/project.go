package pose

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"go.viam.com/objectpose/rimage/transform"
	"go.viam.com/objectpose/spatialmath"
)

// behindCamera is the pixel offset reported for points at or behind the camera plane.
const behindCamera = 1e6

func projectWith(cam *transform.PinholeCameraModel, rot *spatialmath.RotationMatrix, t, pt r3.Vector) r2.Point {
	px, ok := cam.ProjectPoint(rot.Mul(pt).Add(t))
	if !ok {
		return r2.Point{X: behindCamera, Y: behindCamera}
	}
	return px
}

// Project maps object frame points to distorted pixels: rigid transform by the estimate, then the
// pinhole projection with Brown-Conrady distortion. Points at or behind the camera plane cannot be
// projected and come back far outside any image.
func Project(points []r3.Vector, est Estimate, cam *transform.PinholeCameraModel) []r2.Point {
	rot := spatialmath.R3ToRotationMatrix(est.Rotation)
	out := make([]r2.Point, len(points))
	for i, p := range points {
		out[i] = projectWith(cam, rot, est.Translation, p)
	}
	return out
}

// AxisPoints returns the centroid followed by the ends of the drawn X, Y and Z axes. The drawn X
// axis follows the template's +Y and the drawn Y axis its -X; Z is unchanged.
func AxisPoints(length float64) []r3.Vector {
	return []r3.Vector{
		{},
		{Y: length},
		{X: -length},
		{Z: length},
	}
}
