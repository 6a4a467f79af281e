package pose

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"go.viam.com/objectpose/logging"
	"go.viam.com/objectpose/rimage/imagesource"
	"go.viam.com/objectpose/vision/objectdetection"
)

// Runtime runs the pipeline over a stream of frames.
type Runtime struct {
	Source   imagesource.Source
	Detector objectdetection.Detector
	// SkipDetection, when set, is called in place of Detector for frames the source could not
	// decode, so replayed detections stay aligned with the frames they were recorded for.
	SkipDetection func()
	Pipeline      *Pipeline
	// Confidence drops detections scoring below it before solving.
	Confidence float64
	// Output receives every readable frame with the estimated axes drawn on it. It is not closed
	// by Run.
	Output     imagesource.Sink
	AxisLength float64
	// OnFrame, when set, is called with every frame's result.
	OnFrame func(frame int, res *FrameResult)
	Logger  logging.Logger
}

// RunStats summarizes a run.
type RunStats struct {
	Frames    int
	Estimates int
	Failures  int
}

// Run processes frames until the source is exhausted or ctx is cancelled. Errors confined to one
// frame are logged and the run continues; source read and output write errors end it.
func (rt *Runtime) Run(ctx context.Context) (*RunStats, error) {
	if rt.Source == nil || rt.Detector == nil || rt.Pipeline == nil {
		return nil, errors.New("runtime needs a source, a detector and a pipeline")
	}
	filter := objectdetection.NewScoreFilter(rt.Confidence)
	stats := &RunStats{}
	for frame := 0; ; frame++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		img, err := rt.Source.Next(ctx)
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if errors.Is(err, imagesource.ErrFrameUnreadable) {
			rt.Logger.Warnw("skipping unreadable frame", "frame", frame, "error", err)
			if rt.SkipDetection != nil {
				rt.SkipDetection()
			}
			continue
		}
		if err != nil {
			return stats, errors.Wrapf(err, "cannot read frame %d", frame)
		}
		stats.Frames++

		dets, err := rt.Detector(ctx, img)
		if err != nil {
			rt.Logger.Warnw("detector failed", "frame", frame, "error", err)
			continue
		}
		res := rt.Pipeline.ProcessFrame(ctx, filter(dets))
		stats.Estimates += len(res.Estimates)
		stats.Failures += len(res.Failures)
		for _, est := range res.Estimates {
			roll, pitch, yaw := est.RPY()
			rt.Logger.Infow("pose",
				"frame", frame,
				"class", est.ClassName,
				"rvec", []float64{est.Rotation.X, est.Rotation.Y, est.Rotation.Z},
				"tvec", []float64{est.Translation.X, est.Translation.Y, est.Translation.Z},
				"roll", roll, "pitch", pitch, "yaw", yaw,
				"rms", est.RMSError,
			)
		}
		if rt.OnFrame != nil {
			rt.OnFrame(frame, res)
		}
		if rt.Output != nil {
			overlay := DrawAllAxes(img, res.Estimates, rt.Pipeline.Camera(), rt.AxisLength)
			if err := rt.Output.Write(frame, overlay); err != nil {
				return stats, errors.Wrapf(err, "cannot write overlay of frame %d", frame)
			}
		}
	}
}
