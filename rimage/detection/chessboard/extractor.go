package chessboard

import (
	"image"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/objectpose/logging"
	"go.viam.com/objectpose/rimage"
)

// Extractor finds the inner corners of a known checkerboard pattern.
type Extractor struct {
	pattern PatternSize
	cfg     DetectionConfiguration
	logger  logging.Logger
}

// NewExtractor returns an extractor for the pattern. A nil configuration means the defaults.
func NewExtractor(pattern PatternSize, cfg *DetectionConfiguration, logger logging.Logger) (*Extractor, error) {
	if err := pattern.Validate(); err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = NewDefaultDetectionConfiguration()
	}
	if err := cfg.Validate("chessboard"); err != nil {
		return nil, errors.Wrap(err, "invalid chessboard detection configuration")
	}
	return &Extractor{pattern: pattern, cfg: *cfg, logger: logger}, nil
}

// Pattern returns the pattern the extractor looks for.
func (e *Extractor) Pattern() PatternSize {
	return e.pattern
}

// Extract looks for the full pattern in img. On success it returns rows*cols sub-pixel corners in
// canonical row-major order. Any failure, including an internal panic, reports found=false.
func (e *Extractor) Extract(img image.Image) (bool, []r2.Point) {
	if img == nil || img.Bounds().Empty() {
		return false, nil
	}
	return e.ExtractGray(rimage.ConvertImageToLuminanceFloat(img))
}

// ExtractGray is Extract on an already converted gray image.
func (e *Extractor) ExtractGray(gray *mat.Dense) (found bool, corners []r2.Point) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warnw("corner extraction panicked", "error", r)
			found, corners = false, nil
		}
	}()

	kernel := rimage.GetGaussian(e.cfg.Saddle.BlurSigma)
	blurred, err := rimage.ConvolveGrayFloat64(gray, &kernel)
	if err != nil {
		e.logger.Debugw("cannot blur image", "error", err)
		return false, nil
	}
	saddles, err := GetSaddlePoints(blurred, &e.cfg.Saddle)
	if err != nil {
		e.logger.Debugw("cannot compute saddle points", "error", err)
		return false, nil
	}
	if len(saddles) < e.pattern.Count() {
		e.logger.Debugw("not enough corner candidates", "candidates", len(saddles), "needed", e.pattern.Count())
		return false, nil
	}
	candidates := make([]r2.Point, len(saddles))
	for i, sp := range saddles {
		candidates[i] = sp.Point
	}
	ordered, ok := assembleGrid(candidates, e.pattern, &e.cfg.Grid)
	if !ok {
		e.logger.Debugw("no complete grid among candidates", "candidates", len(candidates))
		return false, nil
	}
	return true, RefineCorners(gray, ordered, &e.cfg.SubPix)
}
