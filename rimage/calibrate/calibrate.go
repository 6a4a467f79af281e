// Package calibrate recovers pinhole intrinsics and Brown-Conrady distortion from checkerboard
// observations.
package calibrate

import (
	"context"
	"image"
	"math"
	"sort"
	"sync"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/objectpose/logging"
	"go.viam.com/objectpose/rimage/detection/chessboard"
	"go.viam.com/objectpose/rimage/transform"
)

var (
	// ErrInsufficientSamples is returned by Solve when no sample was added.
	ErrInsufficientSamples = errors.New("no calibration samples to solve with")
	// ErrResolutionMismatch is returned when samples come from images of different sizes.
	ErrResolutionMismatch = errors.New("calibration samples have different image sizes")
	// ErrCornerCount is returned when a sample does not hold exactly rows*cols corners.
	ErrCornerCount = errors.New("calibration sample has the wrong number of corners")
)

// minRecommendedSamples is the number of views below which the solve is likely poorly constrained.
const minRecommendedSamples = 3

// minViewSpread is the smallest angle, in degrees, expected between two board orientations.
const minViewSpread = 5.

// Sample is one accepted checkerboard observation.
type Sample struct {
	ImagePoints  []r2.Point
	ObjectPoints []r3.Vector
	ImageSize    image.Point
}

// View is the board pose recovered for one sample, mapping board coordinates into the camera frame.
type View struct {
	Rotation    r3.Vector
	Translation r3.Vector
	// MeanError is the mean pixel distance between observed and reprojected corners.
	MeanError float64
}

// Result is the outcome of a calibration.
type Result struct {
	Model *transform.PinholeCameraModel
	// Views follow the canonical sample order, see Engine.Samples.
	Views []View
	// RMSError is the root mean square pixel reprojection error over all corners.
	RMSError   float64
	Iterations int
}

// Engine accumulates samples and solves for the camera model. AddSample may be called from
// several goroutines; the order in which samples arrive does not change the result.
type Engine struct {
	pattern chessboard.PatternSize
	logger  logging.Logger

	mu      sync.Mutex
	samples []Sample
}

// NewEngine returns an engine for boards of the given pattern.
func NewEngine(pattern chessboard.PatternSize, logger logging.Logger) (*Engine, error) {
	if err := pattern.Validate(); err != nil {
		return nil, err
	}
	return &Engine{pattern: pattern, logger: logger}, nil
}

// AddSample records the corners found in one image. squareSize is the board square edge in the
// unit the extrinsics should be reported in.
func (e *Engine) AddSample(corners []r2.Point, imageSize image.Point, squareSize float64) error {
	if len(corners) != e.pattern.Count() {
		return errors.Wrapf(ErrCornerCount, "got %d, want %d", len(corners), e.pattern.Count())
	}
	if imageSize.X <= 0 || imageSize.Y <= 0 {
		return errors.Errorf("invalid image size %v", imageSize)
	}
	if squareSize <= 0 || math.IsNaN(squareSize) || math.IsInf(squareSize, 0) {
		return errors.Errorf("invalid square size %v", squareSize)
	}
	for _, c := range corners {
		if math.IsNaN(c.X) || math.IsNaN(c.Y) || math.IsInf(c.X, 0) || math.IsInf(c.Y, 0) {
			return errors.New("corner coordinates must be finite")
		}
	}
	sample := Sample{
		ImagePoints:  append([]r2.Point(nil), corners...),
		ObjectPoints: e.pattern.ObjectPoints(squareSize),
		ImageSize:    imageSize,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.samples) > 0 && e.samples[0].ImageSize != imageSize {
		return errors.Wrapf(ErrResolutionMismatch, "got %v, have %v", imageSize, e.samples[0].ImageSize)
	}
	e.samples = append(e.samples, sample)
	return nil
}

// NumSamples returns how many samples were added.
func (e *Engine) NumSamples() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.samples)
}

// Samples returns a copy of the samples in canonical order.
func (e *Engine) Samples() []Sample {
	e.mu.Lock()
	samples := append([]Sample(nil), e.samples...)
	e.mu.Unlock()
	sortSamples(samples)
	return samples
}

// Solve estimates the camera model from every sample added so far: a closed-form initialization
// from the per-sample homographies followed by a joint refinement of intrinsics, distortion and
// every view's pose against the pixel reprojection error.
func (e *Engine) Solve(ctx context.Context) (*Result, error) {
	samples := e.Samples()
	if len(samples) == 0 {
		return nil, ErrInsufficientSamples
	}
	if len(samples) < minRecommendedSamples {
		e.logger.Warnw("few calibration samples, the result may be poorly constrained",
			"samples", len(samples), "recommended", minRecommendedSamples)
	}
	size := samples[0].ImageSize

	homographies := make([]*transform.Homography, len(samples))
	for i, s := range samples {
		h, err := transform.EstimateHomography(planarPoints(s.ObjectPoints), s.ImagePoints)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot estimate homography of sample %d", i)
		}
		homographies[i] = h
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	intrinsics, err := initialIntrinsics(homographies, size)
	if err != nil {
		return nil, err
	}
	e.logger.Debugw("closed form intrinsics",
		"fx", intrinsics.Fx, "fy", intrinsics.Fy, "ppx", intrinsics.Ppx, "ppy", intrinsics.Ppy)

	views := make([]View, len(samples))
	for i, h := range homographies {
		rvec, tvec, err := extrinsicsFromHomography(h, intrinsics)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot recover pose of sample %d", i)
		}
		views[i] = View{Rotation: rvec, Translation: tvec}
	}
	if spread := viewSpread(views); len(views) > 1 && spread < minViewSpread {
		e.logger.Warnw("calibration views have little orientation diversity",
			"spread_degrees", spread, "recommended_degrees", minViewSpread)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	initial := transform.NewPinholeCameraModel(intrinsics, nil)
	result, err := refine(samples, initial, views)
	if err != nil {
		return nil, err
	}
	e.logger.Infow("calibration solved",
		"samples", len(samples), "rms", result.RMSError, "iterations", result.Iterations)
	return result, nil
}

func planarPoints(pts []r3.Vector) []r2.Point {
	out := make([]r2.Point, len(pts))
	for i, p := range pts {
		out[i] = r2.Point{X: p.X, Y: p.Y}
	}
	return out
}

// sortSamples orders samples by their image points, compared lexicographically.
func sortSamples(samples []Sample) {
	sort.SliceStable(samples, func(i, j int) bool {
		a, b := samples[i].ImagePoints, samples[j].ImagePoints
		for k := 0; k < len(a) && k < len(b); k++ {
			if a[k].X != b[k].X {
				return a[k].X < b[k].X
			}
			if a[k].Y != b[k].Y {
				return a[k].Y < b[k].Y
			}
		}
		if len(a) != len(b) {
			return len(a) < len(b)
		}
		return samples[i].ObjectPoints[len(samples[i].ObjectPoints)-1].X <
			samples[j].ObjectPoints[len(samples[j].ObjectPoints)-1].X
	})
}
