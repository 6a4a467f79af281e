package cli

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/objectpose/logging"
	"go.viam.com/objectpose/rimage/imagesource"
	"go.viam.com/objectpose/rimage/transform"
	"go.viam.com/objectpose/vision/objectdetection"
	"go.viam.com/objectpose/vision/pose"
)

// EstimateAction is the corresponding Action for 'estimate'.
func EstimateAction(c *cli.Context, logger logging.Logger) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	model, artifact, err := transform.LoadCalibration(c.String(estimateFlagCalibration))
	if err != nil {
		return err
	}
	logger.Debugw("loaded calibration", "id", artifact.CalibrationID, "rms_error", artifact.RMSError)

	registry, err := cfg.Registry()
	if err != nil {
		return err
	}
	solver, err := pose.NewSolver(*cfg.Ransac, logger.Sublogger("solver"))
	if err != nil {
		return err
	}
	pipeline, err := pose.NewPipeline(registry, model, solver, logger.Sublogger("pipeline"),
		pose.WithParallelism(c.Int(flagWorkers)))
	if err != nil {
		return err
	}
	detector, err := objectdetection.NewFileDetector(c.String(estimateFlagDetections))
	if err != nil {
		return errors.Wrap(err, "cannot load detections")
	}

	src, err := imagesource.NewSource(c.Context, c.String(estimateFlagInput))
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(src.Close)

	rt := &pose.Runtime{
		Source:        src,
		Detector:      detector.Detect,
		SkipDetection: detector.Skip,
		Pipeline:      pipeline,
		Confidence:    c.Float64(estimateFlagConfidence),
		AxisLength:    cfg.AxisLength,
		Logger:        logger,
	}
	if output := c.String(estimateFlagOutput); output != "" {
		sink, err := imagesource.NewSink(output, c.Float64(estimateFlagFPS))
		if err != nil {
			return err
		}
		rt.Output = sink
	}
	runStats, err := rt.Run(c.Context)
	if rt.Output != nil {
		err = multierr.Combine(err, rt.Output.Close())
	}
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetTitle("Summary")
	t.AppendRows([]table.Row{
		{"Frames", runStats.Frames},
		{"Poses estimated", runStats.Estimates},
		{"Instances without pose", runStats.Failures},
	})
	printf(c.App.Writer, "%s", t.Render())
	return nil
}
