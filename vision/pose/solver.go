package pose

import (
	"math"
	"math/rand"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/objectpose/logging"
	"go.viam.com/objectpose/rimage/transform"
	"go.viam.com/objectpose/spatialmath"
	"go.viam.com/objectpose/utils"
	"go.viam.com/objectpose/utils/leastsquares"
	"go.viam.com/objectpose/vision/objectmodel"
)

// RansacConfig tunes the robust pose search.
type RansacConfig struct {
	// ReprojectionError is the largest pixel distance at which a keypoint counts as an inlier.
	ReprojectionError float64 `json:"reprojection_error"`
	// Iterations caps the number of sampled hypotheses.
	Iterations int `json:"iterations"`
	// Confidence is the probability of drawing at least one outlier-free sample that ends the
	// search early.
	Confidence float64 `json:"confidence"`
	Seed       int64   `json:"seed"`
}

// DefaultRansacConfig returns the tuning used at runtime.
func DefaultRansacConfig() RansacConfig {
	return RansacConfig{
		ReprojectionError: 100,
		Iterations:        1000,
		Confidence:        0.99,
		Seed:              1,
	}
}

// Validate checks the configuration, reporting every problem under path.
func (cfg RansacConfig) Validate(path string) error {
	var errs error
	if cfg.ReprojectionError <= 0 {
		errs = multierr.Append(errs, errors.Errorf("%s.reprojection_error must be positive", path))
	}
	if cfg.Iterations < 1 {
		errs = multierr.Append(errs, errors.Errorf("%s.iterations must be at least 1", path))
	}
	if cfg.Confidence <= 0 || cfg.Confidence >= 1 {
		errs = multierr.Append(errs, errors.Errorf("%s.confidence must be in (0, 1)", path))
	}
	return errs
}

// Solver recovers object poses from keypoint correspondences. It holds no per-call state and is
// safe to use from several goroutines.
type Solver struct {
	cfg    RansacConfig
	logger logging.Logger
}

// NewSolver returns a solver with the given tuning.
func NewSolver(cfg RansacConfig, logger logging.Logger) (*Solver, error) {
	if err := cfg.Validate("ransac"); err != nil {
		return nil, err
	}
	return &Solver{cfg: cfg, logger: logger}, nil
}

// Config returns the solver's tuning.
func (s *Solver) Config() RansacConfig {
	return s.cfg
}

type hypothesis struct {
	rot     *spatialmath.RotationMatrix
	t       r3.Vector
	inliers []int
	sumSq   float64
}

// Solve estimates the pose of tmpl from observed keypoints, matched by index. Observed points past
// the template's length are ignored. Failures are returned as *Failure.
func (s *Solver) Solve(tmpl *objectmodel.Template, observed []r2.Point, cam *transform.PinholeCameraModel) (est *Estimate, err error) {
	defer func() {
		if r := recover(); r != nil {
			est, err = nil, newFailure(SolveFailed, errors.Errorf("panic while solving: %v", r))
		}
	}()
	if tmpl == nil || len(tmpl.Points) < minimalSample {
		return nil, newFailure(SolveFailed, errors.New("template has too few points"))
	}
	n := len(tmpl.Points)
	if len(observed) < n {
		return nil, newFailure(InsufficientKeypoints,
			errors.Errorf("got %d keypoints, template %q needs %d", len(observed), tmpl.Name, n))
	}
	if err := cam.CheckValid(); err != nil {
		return nil, newFailure(SolveFailed, err)
	}
	observed = observed[:n]
	for _, p := range observed {
		if !utils.IsFinite(p.X, p.Y) {
			return nil, newFailure(SolveFailed, errors.New("keypoints must be finite"))
		}
	}

	normalized := make([]r2.Point, n)
	for i, p := range observed {
		normalized[i] = cam.UndistortPixel(p)
	}

	best := s.ransac(tmpl.Points, observed, normalized, cam)
	if best == nil {
		return nil, newFailure(SolveFailed, errors.New("no consistent pose among the sampled hypotheses"))
	}

	rot, t := s.refine(tmpl.Points, observed, cam, best)
	inliers, sumSq := s.score(tmpl.Points, observed, cam, rot, t)
	if len(inliers) < minimalSample {
		// refinement drifted away from the consensus set
		rot, t = best.rot, best.t
		inliers, sumSq = best.inliers, best.sumSq
	}
	rvec := rot.RotationVector()
	rms := math.Sqrt(sumSq / float64(len(inliers)))
	if t.Z <= 0 || !utils.IsFinite(rvec.X, rvec.Y, rvec.Z, t.X, t.Y, t.Z, rms) {
		return nil, newFailure(SolveFailed, errors.New("solution is not a valid pose in front of the camera"))
	}
	return &Estimate{
		Rotation:    rvec,
		Translation: t,
		ClassName:   tmpl.Name,
		Inliers:     len(inliers),
		RMSError:    rms,
	}, nil
}

// score returns the indices of the points reprojecting within the threshold and their summed
// squared error.
func (s *Solver) score(obj []r3.Vector, observed []r2.Point, cam *transform.PinholeCameraModel,
	rot *spatialmath.RotationMatrix, t r3.Vector,
) ([]int, float64) {
	var inliers []int
	sumSq := 0.
	limit := s.cfg.ReprojectionError * s.cfg.ReprojectionError
	for i, p := range obj {
		d := projectWith(cam, rot, t, p).Sub(observed[i])
		if e := d.Dot(d); e <= limit {
			inliers = append(inliers, i)
			sumSq += e
		}
	}
	return inliers, sumSq
}

// ransac samples minimal sets until the adaptive iteration bound derived from the confidence is
// met. The hypothesis with the most inliers wins; ties go to the smaller error.
func (s *Solver) ransac(obj []r3.Vector, observed, normalized []r2.Point, cam *transform.PinholeCameraModel) *hypothesis {
	n := len(obj)
	rng := rand.New(rand.NewSource(s.cfg.Seed)) //nolint:gosec
	perm := make([]int, n)
	sampleObj := make([]r3.Vector, minimalSample)
	sampleImg := make([]r2.Point, minimalSample)

	var best *hypothesis
	needed := s.cfg.Iterations
	degenerate := 0
	for iter := 0; iter < needed && iter < s.cfg.Iterations; iter++ {
		for i := range perm {
			perm[i] = i
		}
		for i := 0; i < minimalSample; i++ {
			j := i + rng.Intn(n-i)
			perm[i], perm[j] = perm[j], perm[i]
			sampleObj[i] = obj[perm[i]]
			sampleImg[i] = normalized[perm[i]]
		}
		rot, t, ok := dltPose(sampleObj, sampleImg)
		if !ok {
			degenerate++
			continue
		}
		inliers, sumSq := s.score(obj, observed, cam, rot, t)
		if len(inliers) < minimalSample {
			continue
		}
		if best == nil || len(inliers) > len(best.inliers) ||
			(len(inliers) == len(best.inliers) && sumSq < best.sumSq) {
			best = &hypothesis{rot: rot, t: t, inliers: inliers, sumSq: sumSq}
			needed = adaptiveIterations(s.cfg.Confidence, float64(len(inliers))/float64(n), s.cfg.Iterations)
		}
	}
	if s.logger != nil {
		s.logger.Debugw("ransac finished", "degenerate_samples", degenerate, "found", best != nil)
	}
	return best
}

// adaptiveIterations is the number of draws needed to see an all-inlier minimal sample with the
// given confidence when a fraction w of the points are inliers.
func adaptiveIterations(confidence, w float64, limit int) int {
	pAll := math.Pow(w, minimalSample)
	if pAll >= 1 {
		return 1
	}
	if pAll <= 0 {
		return limit
	}
	n := math.Ceil(math.Log(1-confidence) / math.Log(1-pAll))
	if n > float64(limit) || math.IsNaN(n) {
		return limit
	}
	return max(int(n), 1)
}

// refine minimizes the pixel reprojection error of the consensus set over the rotation vector and
// translation. The RANSAC pose is kept when the refinement fails.
func (s *Solver) refine(obj []r3.Vector, observed []r2.Point, cam *transform.PinholeCameraModel, h *hypothesis,
) (*spatialmath.RotationMatrix, r3.Vector) {
	rvec := h.rot.RotationVector()
	x0 := []float64{rvec.X, rvec.Y, rvec.Z, h.t.X, h.t.Y, h.t.Z}
	problem := leastsquares.Problem{
		NumResiduals: 2 * len(h.inliers),
		Residuals: func(dst, x []float64) {
			rot := spatialmath.R3ToRotationMatrix(r3.Vector{X: x[0], Y: x[1], Z: x[2]})
			t := r3.Vector{X: x[3], Y: x[4], Z: x[5]}
			for k, i := range h.inliers {
				d := projectWith(cam, rot, t, obj[i]).Sub(observed[i])
				dst[2*k] = d.X
				dst[2*k+1] = d.Y
			}
		},
	}
	res, err := leastsquares.Solve(problem, x0, nil)
	if err != nil {
		if s.logger != nil {
			s.logger.Debugw("pose refinement failed, keeping the sampled pose", "error", err)
		}
		return h.rot, h.t
	}
	x := res.X
	return spatialmath.R3ToRotationMatrix(r3.Vector{X: x[0], Y: x[1], Z: x[2]}), r3.Vector{X: x[3], Y: x[4], Z: x[5]}
}
