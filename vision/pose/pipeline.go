package pose

import (
	"context"

	"github.com/pkg/errors"

	"go.viam.com/objectpose/logging"
	"go.viam.com/objectpose/rimage/transform"
	"go.viam.com/objectpose/utils"
	"go.viam.com/objectpose/vision/objectdetection"
	"go.viam.com/objectpose/vision/objectmodel"
)

// InstanceFailure records why a detection has no pose.
type InstanceFailure struct {
	Index      int
	ClassIndex int
	Reason     Reason
	Err        error
}

// FrameResult holds the outcome of every detection in a frame, each list in detector order.
type FrameResult struct {
	Estimates []Estimate
	Failures  []InstanceFailure
}

// Pipeline turns a frame's detections into poses using its own registry, camera and solver.
type Pipeline struct {
	registry    *objectmodel.Registry
	camera      *transform.PinholeCameraModel
	solver      *Solver
	logger      logging.Logger
	parallelism int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithParallelism solves up to n instances of a frame concurrently. Output order is unchanged.
func WithParallelism(n int) Option {
	return func(p *Pipeline) {
		p.parallelism = n
	}
}

// NewPipeline returns a pipeline that solves instances one at a time unless configured otherwise.
func NewPipeline(
	registry *objectmodel.Registry,
	camera *transform.PinholeCameraModel,
	solver *Solver,
	logger logging.Logger,
	opts ...Option,
) (*Pipeline, error) {
	if registry == nil {
		return nil, errors.New("pose pipeline needs an object registry")
	}
	if solver == nil {
		return nil, errors.New("pose pipeline needs a solver")
	}
	if err := camera.CheckValid(); err != nil {
		return nil, errors.Wrap(err, "pose pipeline needs a valid camera model")
	}
	p := &Pipeline{registry: registry, camera: camera, solver: solver, logger: logger, parallelism: 1}
	for _, opt := range opts {
		opt(p)
	}
	if p.parallelism < 1 {
		p.parallelism = 1
	}
	return p, nil
}

// Camera returns the camera model poses are computed against.
func (p *Pipeline) Camera() *transform.PinholeCameraModel {
	return p.camera
}

type outcome struct {
	done    bool
	est     *Estimate
	failure *InstanceFailure
}

// ProcessFrame solves every detection. A failing instance is recorded and never stops the others.
func (p *Pipeline) ProcessFrame(ctx context.Context, detections []objectdetection.Detection) *FrameResult {
	outcomes := make([]outcome, len(detections))
	err := utils.ParallelForEachIndex(ctx, len(detections), p.parallelism, func(_ context.Context, idx int) error {
		outcomes[idx] = p.processInstance(idx, detections[idx])
		return nil
	})

	res := &FrameResult{}
	for idx, o := range outcomes {
		switch {
		case !o.done:
			res.Failures = append(res.Failures, InstanceFailure{
				Index:      idx,
				ClassIndex: detections[idx].ClassIndex,
				Reason:     SolveFailed,
				Err:        errors.Wrap(err, "frame processing interrupted"),
			})
		case o.est != nil:
			res.Estimates = append(res.Estimates, *o.est)
		default:
			res.Failures = append(res.Failures, *o.failure)
		}
	}
	return res
}

func (p *Pipeline) processInstance(idx int, det objectdetection.Detection) outcome {
	fail := func(reason Reason, err error) outcome {
		p.logger.Warnw("no pose for detection", "index", idx, "class", det.ClassIndex, "reason", reason.String(), "error", err)
		return outcome{done: true, failure: &InstanceFailure{Index: idx, ClassIndex: det.ClassIndex, Reason: reason, Err: err}}
	}
	tmpl, err := p.registry.TemplateAt(det.ClassIndex)
	if err != nil {
		return fail(ClassNotRegistered, err)
	}
	est, err := p.solver.Solve(tmpl, det.Keypoints, p.camera)
	if err != nil {
		var f *Failure
		if errors.As(err, &f) {
			return fail(f.Reason, err)
		}
		return fail(SolveFailed, err)
	}
	est.ClassIndex = det.ClassIndex
	est.DetectionIndex = idx
	return outcome{done: true, est: est}
}
