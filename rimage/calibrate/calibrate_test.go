package calibrate

import (
	"context"
	"image"
	"sync"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/objectpose/logging"
	"go.viam.com/objectpose/rimage/detection/chessboard"
	"go.viam.com/objectpose/rimage/transform"
	"go.viam.com/objectpose/spatialmath"
)

var (
	testPattern = chessboard.PatternSize{Rows: 6, Cols: 9}
	testSize    = image.Point{X: 640, Y: 480}
)

const testSquare = 25.

func testCamera(dist *transform.BrownConrady) *transform.PinholeCameraModel {
	return transform.NewPinholeCameraModel(&transform.PinholeCameraIntrinsics{
		Width: testSize.X, Height: testSize.Y, Fx: 600, Fy: 590, Ppx: 322, Ppy: 236,
	}, dist)
}

var testRotations = []r3.Vector{
	{X: 0.3, Y: 0, Z: 0},
	{X: 0, Y: 0.35, Z: 0.05},
	{X: -0.25, Y: 0.2, Z: 0.1},
	{X: 0.2, Y: -0.3, Z: -0.1},
	{X: 0.1, Y: 0.15, Z: 0.5},
}

// boardTranslation places the board centre at a fixed point in front of the camera.
func boardTranslation(rvec r3.Vector) r3.Vector {
	centre := r3.Vector{X: 4 * testSquare, Y: 2.5 * testSquare}
	return r3.Vector{X: 10, Y: -5, Z: 600}.Sub(spatialmath.R3ToRotationMatrix(rvec).Mul(centre))
}

func projectBoard(t *testing.T, cam *transform.PinholeCameraModel, rvec r3.Vector) []r2.Point {
	t.Helper()
	rot := spatialmath.R3ToRotationMatrix(rvec)
	tvec := boardTranslation(rvec)
	var out []r2.Point
	for _, p := range testPattern.ObjectPoints(testSquare) {
		px, ok := cam.ProjectPoint(rot.Mul(p).Add(tvec))
		test.That(t, ok, test.ShouldBeTrue)
		out = append(out, px)
	}
	return out
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(testPattern, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return e
}

func TestSolveSyntheticViews(t *testing.T) {
	cam := testCamera(nil)
	e := newTestEngine(t)
	for _, rvec := range testRotations {
		test.That(t, e.AddSample(projectBoard(t, cam, rvec), testSize, testSquare), test.ShouldBeNil)
	}
	test.That(t, e.NumSamples(), test.ShouldEqual, len(testRotations))

	res, err := e.Solve(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Model.Fx, test.ShouldAlmostEqual, 600, 6)
	test.That(t, res.Model.Fy, test.ShouldAlmostEqual, 590, 5.9)
	test.That(t, res.Model.Ppx, test.ShouldAlmostEqual, 322, 2)
	test.That(t, res.Model.Ppy, test.ShouldAlmostEqual, 236, 2)
	test.That(t, res.Model.Width, test.ShouldEqual, 640)
	test.That(t, res.Model.Height, test.ShouldEqual, 480)
	for _, k := range res.Model.DistortionParameters() {
		test.That(t, k, test.ShouldAlmostEqual, 0, 1e-3)
	}
	test.That(t, res.RMSError, test.ShouldBeLessThan, 0.01)

	test.That(t, res.Views, test.ShouldHaveLength, len(testRotations))
	for _, rvec := range testRotations {
		want := boardTranslation(rvec)
		matched := false
		for _, v := range res.Views {
			if v.Translation.Sub(want).Norm() < 1 {
				matched = true
				test.That(t, v.Rotation.Sub(rvec).Norm(), test.ShouldBeLessThan, 1e-3)
				test.That(t, v.MeanError, test.ShouldBeLessThan, 0.01)
			}
		}
		test.That(t, matched, test.ShouldBeTrue)
	}
}

func TestSolveRecoversDistortion(t *testing.T) {
	cam := testCamera(&transform.BrownConrady{RadialK1: -0.1, RadialK2: 0.02})
	e := newTestEngine(t)
	for _, rvec := range testRotations {
		test.That(t, e.AddSample(projectBoard(t, cam, rvec), testSize, testSquare), test.ShouldBeNil)
	}
	res, err := e.Solve(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Model.Fx, test.ShouldAlmostEqual, 600, 6)
	test.That(t, res.Model.Distortion.RadialK1, test.ShouldAlmostEqual, -0.1, 0.02)
	test.That(t, res.RMSError, test.ShouldBeLessThan, 0.05)
}

func TestSolveIsOrderIndependent(t *testing.T) {
	cam := testCamera(nil)
	forward := newTestEngine(t)
	backward := newTestEngine(t)
	for i := range testRotations {
		test.That(t, forward.AddSample(projectBoard(t, cam, testRotations[i]), testSize, testSquare), test.ShouldBeNil)
		j := len(testRotations) - 1 - i
		test.That(t, backward.AddSample(projectBoard(t, cam, testRotations[j]), testSize, testSquare), test.ShouldBeNil)
	}
	a, err := forward.Solve(context.Background())
	test.That(t, err, test.ShouldBeNil)
	b, err := backward.Solve(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, a.Model, test.ShouldResemble, b.Model)
	test.That(t, a.RMSError, test.ShouldEqual, b.RMSError)
	test.That(t, a.Views, test.ShouldResemble, b.Views)
}

func TestAddSampleConcurrently(t *testing.T) {
	cam := testCamera(nil)
	e := newTestEngine(t)
	var wg sync.WaitGroup
	for _, rvec := range testRotations {
		corners := projectBoard(t, cam, rvec)
		wg.Add(1)
		go func() {
			defer wg.Done()
			test.That(t, e.AddSample(corners, testSize, testSquare), test.ShouldBeNil)
		}()
	}
	wg.Wait()
	test.That(t, e.NumSamples(), test.ShouldEqual, len(testRotations))
}

func TestEngineErrors(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Solve(context.Background())
	test.That(t, errors.Is(err, ErrInsufficientSamples), test.ShouldBeTrue)

	corners := projectBoard(t, testCamera(nil), testRotations[0])
	err = e.AddSample(corners[:10], testSize, testSquare)
	test.That(t, errors.Is(err, ErrCornerCount), test.ShouldBeTrue)

	test.That(t, e.AddSample(corners, testSize, testSquare), test.ShouldBeNil)
	err = e.AddSample(corners, image.Point{X: 320, Y: 240}, testSquare)
	test.That(t, errors.Is(err, ErrResolutionMismatch), test.ShouldBeTrue)
	test.That(t, e.AddSample(corners, testSize, 0), test.ShouldNotBeNil)
	test.That(t, e.NumSamples(), test.ShouldEqual, 1)

	_, err = NewEngine(chessboard.PatternSize{Rows: 1, Cols: 4}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Solve(ctx)
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
}

func TestSolveSingleSampleWarns(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	e, err := NewEngine(testPattern, logger)
	test.That(t, err, test.ShouldBeNil)
	cam := testCamera(nil)
	test.That(t, e.AddSample(projectBoard(t, cam, testRotations[2]), testSize, testSquare), test.ShouldBeNil)

	res, err := e.Solve(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Views, test.ShouldHaveLength, 1)
	test.That(t, logs.FilterMessageSnippet("few calibration samples").Len(), test.ShouldEqual, 1)
}

func TestInitialIntrinsicsClosedForm(t *testing.T) {
	cam := testCamera(nil)
	hs := make([]*transform.Homography, 0, len(testRotations))
	for _, rvec := range testRotations {
		corners := projectBoard(t, cam, rvec)
		h, err := transform.EstimateHomography(planarPoints(testPattern.ObjectPoints(testSquare)), corners)
		test.That(t, err, test.ShouldBeNil)
		hs = append(hs, h)
	}
	intr, err := initialIntrinsics(hs, testSize)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, intr.Fx, test.ShouldAlmostEqual, 600, 1)
	test.That(t, intr.Fy, test.ShouldAlmostEqual, 590, 1)
	test.That(t, intr.Ppx, test.ShouldAlmostEqual, 322, 1)
	test.That(t, intr.Ppy, test.ShouldAlmostEqual, 236, 1)

	rvec, tvec, err := extrinsicsFromHomography(hs[1], intr)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rvec.Sub(testRotations[1]).Norm(), test.ShouldBeLessThan, 1e-2)
	test.That(t, tvec.Sub(boardTranslation(testRotations[1])).Norm(), test.ShouldBeLessThan, 2)

	test.That(t, viewSpread([]View{{Rotation: testRotations[0]}, {Rotation: testRotations[0]}}), test.ShouldAlmostEqual, 0, 1e-6)
}
