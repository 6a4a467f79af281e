package chessboard

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// SaddleConfiguration stores the parameters to process the Hessian determinant image into candidate corners.
type SaddleConfiguration struct {
	BlurSigma         float64 `json:"blur-sigma"`    // gaussian blur applied before differentiation
	RelativeThreshold float64 `json:"rel-threshold"` // candidates below this fraction of the strongest response are dropped
	NMSWindowSize     int     `json:"win-size"`      // half window size for non-maximum suppression
	RingRadius        float64 `json:"ring-radius"`   // radius of the circle sampled by the X-junction test
	MinRingContrast   float64 `json:"ring-contrast"` // minimum gray level spread on the ring
}

// GridConfiguration controls how candidates are assembled into a grid.
type GridConfiguration struct {
	MatchTolerance float64 `json:"match-tol"` // fraction of the local grid step a match may deviate by
	MaxSeeds       int     `json:"max-seeds"` // seeds tried, nearest to the candidate centroid first
}

// SubPixConfiguration is the termination criterion of the sub-pixel refinement: stop after
// MaxIterations OR once the corner moves by less than Epsilon pixels.
type SubPixConfiguration struct {
	WindowHalfSize int     `json:"win-half"`
	MaxIterations  int     `json:"max-iter"`
	Epsilon        float64 `json:"eps"`
}

// DetectionConfiguration stores the parameters necessary for chessboard detection in an image.
type DetectionConfiguration struct {
	Saddle SaddleConfiguration `json:"saddle"`
	Grid   GridConfiguration   `json:"grid"`
	SubPix SubPixConfiguration `json:"subpix"`
}

// DefaultSaddleConf stores the default parameters for candidate extraction.
var DefaultSaddleConf = SaddleConfiguration{
	BlurSigma:         1.,
	RelativeThreshold: 0.05,
	NMSWindowSize:     3,
	RingRadius:        4.,
	MinRingContrast:   15.,
}

// DefaultGridConf stores the default parameters for grid assembly.
var DefaultGridConf = GridConfiguration{
	MatchTolerance: 0.3,
	MaxSeeds:       12,
}

// DefaultSubPixConf is an 11x11 window, 30 iterations, 0.001 px.
var DefaultSubPixConf = SubPixConfiguration{
	WindowHalfSize: 5,
	MaxIterations:  30,
	Epsilon:        0.001,
}

// NewDefaultDetectionConfiguration returns a configuration populated with the defaults.
func NewDefaultDetectionConfiguration() *DetectionConfiguration {
	return &DetectionConfiguration{
		Saddle: DefaultSaddleConf,
		Grid:   DefaultGridConf,
		SubPix: DefaultSubPixConf,
	}
}

// Validate checks every field and reports all problems at once.
func (cfg *DetectionConfiguration) Validate(path string) error {
	var errs error
	fail := func(field, msg string) {
		errs = multierr.Append(errs, errors.Errorf("%s.%s %s", path, field, msg))
	}
	if cfg.Saddle.BlurSigma < 0 {
		fail("saddle.blur-sigma", "must not be negative")
	}
	if cfg.Saddle.RelativeThreshold < 0 || cfg.Saddle.RelativeThreshold >= 1 {
		fail("saddle.rel-threshold", "must be in [0, 1)")
	}
	if cfg.Saddle.NMSWindowSize < 1 {
		fail("saddle.win-size", "must be at least 1")
	}
	if cfg.Saddle.RingRadius < 2 {
		fail("saddle.ring-radius", "must be at least 2")
	}
	if cfg.Grid.MatchTolerance <= 0 || cfg.Grid.MatchTolerance >= 0.5 {
		fail("grid.match-tol", "must be in (0, 0.5)")
	}
	if cfg.Grid.MaxSeeds < 1 {
		fail("grid.max-seeds", "must be at least 1")
	}
	if cfg.SubPix.WindowHalfSize < 1 {
		fail("subpix.win-half", "must be at least 1")
	}
	if cfg.SubPix.MaxIterations < 1 {
		fail("subpix.max-iter", "must be at least 1")
	}
	if cfg.SubPix.Epsilon <= 0 {
		fail("subpix.eps", "must be positive")
	}
	return errs
}
