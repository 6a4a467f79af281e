package calibrate

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/objectpose/rimage/transform"
	"go.viam.com/objectpose/spatialmath"
	"go.viam.com/objectpose/utils/leastsquares"
)

// Parameter layout: fx, fy, ppx, ppy, k1, k2, p1, p2, k3, then rx, ry, rz, tx, ty, tz per view.
const (
	numCameraParams = 9
	numViewParams   = 6
)

type refinement struct {
	samples []Sample
	offsets []int
	// total counts the reprojection residuals; rows adds the prior's.
	total int
	rows  int
	// principalPrior pins the principal point softly when a single view leaves it unobservable.
	principalPrior *r2.Point
}

func newRefinement(samples []Sample, principalPrior *r2.Point) *refinement {
	r := &refinement{samples: samples, offsets: make([]int, len(samples)), principalPrior: principalPrior}
	for i, s := range samples {
		r.offsets[i] = r.total
		r.total += 2 * len(s.ImagePoints)
	}
	r.rows = r.total
	if principalPrior != nil {
		r.rows += 2
	}
	return r
}

func cameraFromParams(p []float64, width, height int) *transform.PinholeCameraModel {
	return transform.NewPinholeCameraModel(
		&transform.PinholeCameraIntrinsics{Width: width, Height: height, Fx: p[0], Fy: p[1], Ppx: p[2], Ppy: p[3]},
		&transform.BrownConrady{RadialK1: p[4], RadialK2: p[5], TangentialP1: p[6], TangentialP2: p[7], RadialK3: p[8]},
	)
}

// projectView writes the reprojection residuals of one sample into dst.
func (r *refinement) projectView(dst, camera, view []float64, idx int) {
	s := r.samples[idx]
	cam := cameraFromParams(camera, s.ImageSize.X, s.ImageSize.Y)
	rot := spatialmath.R3ToRotationMatrix(r3.Vector{X: view[0], Y: view[1], Z: view[2]})
	t := r3.Vector{X: view[3], Y: view[4], Z: view[5]}
	for i, obj := range s.ObjectPoints {
		pc := rot.Mul(obj).Add(t)
		px, ok := cam.ProjectPoint(pc)
		if !ok {
			// behind the camera
			px = r2.Point{X: 1e6, Y: 1e6}
		}
		dst[2*i] = px.X - s.ImagePoints[i].X
		dst[2*i+1] = px.Y - s.ImagePoints[i].Y
	}
}

func (r *refinement) viewParams(x []float64, idx int) []float64 {
	start := numCameraParams + numViewParams*idx
	return x[start : start+numViewParams]
}

func (r *refinement) residuals(dst, x []float64) {
	for i := range r.samples {
		n := 2 * len(r.samples[i].ImagePoints)
		r.projectView(dst[r.offsets[i]:r.offsets[i]+n], x[:numCameraParams], r.viewParams(x, i), i)
	}
	if r.principalPrior != nil {
		dst[r.total] = x[2] - r.principalPrior.X
		dst[r.total+1] = x[3] - r.principalPrior.Y
	}
}

// jacobian differentiates the shared camera parameters against every residual and each view's
// pose only against that view's residuals; the remaining blocks are zero.
func (r *refinement) jacobian(dst *mat.Dense, x []float64) {
	dst.Zero()
	settings := &fd.JacobianSettings{Formula: fd.Central}

	cameraBlock := dst.Slice(0, r.rows, 0, numCameraParams).(*mat.Dense)
	full := make([]float64, len(x))
	fd.Jacobian(cameraBlock, func(y, cam []float64) {
		copy(full, x)
		copy(full, cam)
		r.residuals(y, full)
	}, x[:numCameraParams], settings)

	for i := range r.samples {
		rows := 2 * len(r.samples[i].ImagePoints)
		col := numCameraParams + numViewParams*i
		block := dst.Slice(r.offsets[i], r.offsets[i]+rows, col, col+numViewParams).(*mat.Dense)
		fd.Jacobian(block, func(y, view []float64) {
			r.projectView(y, x[:numCameraParams], view, i)
		}, r.viewParams(x, i), settings)
	}
}

// refine jointly optimizes the camera and every view starting from the closed form estimate.
func refine(samples []Sample, initial *transform.PinholeCameraModel, views []View) (*Result, error) {
	x0 := make([]float64, numCameraParams+numViewParams*len(views))
	copy(x0, []float64{initial.Fx, initial.Fy, initial.Ppx, initial.Ppy})
	copy(x0[4:numCameraParams], initial.DistortionParameters())
	for i, v := range views {
		copy(x0[numCameraParams+numViewParams*i:], []float64{
			v.Rotation.X, v.Rotation.Y, v.Rotation.Z,
			v.Translation.X, v.Translation.Y, v.Translation.Z,
		})
	}

	var prior *r2.Point
	if len(samples) == 1 {
		prior = &r2.Point{X: initial.Ppx, Y: initial.Ppy}
	}
	r := newRefinement(samples, prior)
	problem := leastsquares.Problem{NumResiduals: r.rows, Residuals: r.residuals, Jacobian: r.jacobian}
	solution, err := leastsquares.Solve(problem, x0, &leastsquares.Settings{MaxIterations: 100, FunctionTolerance: 1e-12})
	if err != nil {
		return nil, errors.Wrap(err, "calibration refinement failed")
	}

	size := samples[0].ImageSize
	model := cameraFromParams(solution.X[:numCameraParams], size.X, size.Y)
	if err := model.CheckValid(); err != nil {
		return nil, errors.Wrap(err, "calibration converged to an invalid camera")
	}

	residuals := make([]float64, r.rows)
	r.residuals(residuals, solution.X)
	out := &Result{Model: model, Views: make([]View, len(samples)), Iterations: solution.Iterations}
	sumSq := 0.
	for i := range samples {
		p := r.viewParams(solution.X, i)
		n := len(samples[i].ImagePoints)
		dists := make([]float64, n)
		for k := 0; k < n; k++ {
			dx, dy := residuals[r.offsets[i]+2*k], residuals[r.offsets[i]+2*k+1]
			dists[k] = math.Hypot(dx, dy)
			sumSq += dx*dx + dy*dy
		}
		mean, err := stats.Mean(dists)
		if err != nil {
			return nil, err
		}
		out.Views[i] = View{
			Rotation:    r3.Vector{X: p[0], Y: p[1], Z: p[2]},
			Translation: r3.Vector{X: p[3], Y: p[4], Z: p[5]},
			MeanError:   mean,
		}
	}
	out.RMSError = math.Sqrt(sumSq / float64(r.total/2))
	return out, nil
}
