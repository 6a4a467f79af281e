// Package objectdetection defines the boundary to keypoint detectors: what a detection looks
// like, how detectors are composed with pre and post processing, and a detector that replays
// recorded detections from a file.
package objectdetection

import (
	"context"
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// Detection is one object instance found by a detector. Keypoints follow the object template
// layout of the detected class; ClassIndex addresses the class by registration order.
type Detection struct {
	ClassIndex int
	Label      string
	Score      float64
	Keypoints  []r2.Point
}

// BoundingBox returns the smallest rectangle containing every keypoint.
func (d *Detection) BoundingBox() image.Rectangle {
	if len(d.Keypoints) == 0 {
		return image.Rectangle{}
	}
	x0, y0 := math.Inf(1), math.Inf(1)
	x1, y1 := math.Inf(-1), math.Inf(-1)
	for _, kp := range d.Keypoints {
		x0, y0 = math.Min(x0, kp.X), math.Min(y0, kp.Y)
		x1, y1 = math.Max(x1, kp.X), math.Max(y1, kp.Y)
	}
	return image.Rect(int(math.Floor(x0)), int(math.Floor(y0)), int(math.Ceil(x1)), int(math.Ceil(y1)))
}

// Preprocessor will apply processing to an input image before feeding it into the detector.
type Preprocessor func(image.Image) image.Image

// Detector returns the detected instances in an image, in the order the detector reports them.
type Detector func(context.Context, image.Image) ([]Detection, error)

// Build zips up a preprocessor-detector-postprocessor stream into a detector. Only the detector is required.
func Build(prep Preprocessor, det Detector, post Postprocessor) (Detector, error) {
	if det == nil {
		return nil, errors.New("must have a Detector to build a detection pipeline")
	}
	if prep == nil {
		prep = func(img image.Image) image.Image { return img }
	}
	if post == nil {
		post = func(inp []Detection) []Detection { return inp }
	}
	return func(ctx context.Context, img image.Image) ([]Detection, error) {
		imgCopy := prep(img)
		dets, err := det(ctx, imgCopy)
		if err != nil {
			return nil, err
		}
		return post(dets), nil
	}, nil
}
