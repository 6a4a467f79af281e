package cli

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"go.viam.com/utils"
	"golang.org/x/sync/errgroup"

	"go.viam.com/objectpose/logging"
	"go.viam.com/objectpose/rimage"
	"go.viam.com/objectpose/rimage/calibrate"
	"go.viam.com/objectpose/rimage/detection/chessboard"
	"go.viam.com/objectpose/rimage/imagesource"
	"go.viam.com/objectpose/rimage/transform"
	rutils "go.viam.com/objectpose/utils"
)

// ErrNoPatternFound is returned by calibrate when no frame showed the checkerboard.
var ErrNoPatternFound = errors.New("no valid checkerboard patterns were detected, calibration failed")

// frameSelection decides which frames of a stream are searched for the checkerboard.
type frameSelection struct {
	// Jump frames are skipped after every processed frame.
	Jump int
	// Limit stops reading once this many frames were read. Zero means no limit.
	Limit int
}

func (s frameSelection) done(frame int) bool {
	return s.Limit > 0 && frame >= s.Limit
}

func (s frameSelection) skip(frame int) bool {
	return s.Jump > 0 && frame%(s.Jump+1) != 0
}

// collectSummary counts what happened to the frames of a calibration run.
type collectSummary struct {
	// Total is the number of frames read, skipped ones included.
	Total    int
	Accepted int
	Rejected int
}

// sampleCollector feeds checkerboard detections into a calibration engine.
type sampleCollector struct {
	extractor  *chessboard.Extractor
	engine     *calibrate.Engine
	squareSize float64
	selection  frameSelection
	workers    int
	// verbose, when set, receives one line per processed frame.
	verbose  io.Writer
	debugDir string
	logger   logging.Logger

	mu      sync.Mutex
	summary collectSummary
}

// collect reads src until it is exhausted or the selection's limit is reached, searching the
// selected frames for the pattern on up to workers goroutines.
func (sc *sampleCollector) collect(ctx context.Context, src imagesource.Source) (collectSummary, error) {
	group, groupCtx := errgroup.WithContext(ctx)
	workers := sc.workers
	if workers <= 0 {
		workers = rutils.ParallelFactor
	}
	group.SetLimit(workers)

	readErr := func() error {
		for frame := 0; !sc.selection.done(frame); frame++ {
			img, err := src.Next(groupCtx)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil && !errors.Is(err, imagesource.ErrFrameUnreadable) {
				return errors.Wrapf(err, "cannot read frame %d", frame)
			}
			sc.mu.Lock()
			sc.summary.Total++
			sc.mu.Unlock()
			if sc.selection.skip(frame) {
				continue
			}
			if err != nil {
				sc.logger.Warnw("skipping unreadable frame", "frame", frame, "error", err)
				sc.record(frame, false)
				continue
			}
			frame := frame
			group.Go(func() error {
				sc.process(frame, img)
				return nil
			})
		}
		return nil
	}()
	if err := group.Wait(); err != nil && readErr == nil {
		readErr = err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.summary, readErr
}

func (sc *sampleCollector) process(frame int, img image.Image) {
	found, corners := sc.extractor.Extract(img)
	if found {
		if err := sc.engine.AddSample(corners, img.Bounds().Size(), sc.squareSize); err != nil {
			sc.logger.Warnw("rejecting calibration sample", "frame", frame, "error", err)
			found = false
		}
	}
	if sc.debugDir != "" {
		overlay := chessboard.DrawCorners(img, sc.extractor.Pattern(), corners, found)
		path := filepath.Join(sc.debugDir, fmt.Sprintf("frame_%06d.png", frame))
		if err := rimage.WriteImageToFile(path, overlay); err != nil {
			sc.logger.Warnw("cannot write debug image", "frame", frame, "error", err)
		}
	}
	sc.record(frame, found)
}

func (sc *sampleCollector) record(frame int, accepted bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if accepted {
		sc.summary.Accepted++
	} else {
		sc.summary.Rejected++
	}
	if sc.verbose == nil {
		return
	}
	if accepted {
		printf(sc.verbose, "[Frame %d] Checkerboard detected.", frame)
	} else {
		printf(sc.verbose, "[Frame %d] Checkerboard NOT detected.", frame)
	}
}

func (s collectSummary) String() string {
	t := table.NewWriter()
	t.SetTitle("Summary")
	t.AppendRows([]table.Row{
		{"Total frames processed", s.Total},
		{"Good frames (checkerboard detected)", s.Accepted},
		{"Bad frames (no checkerboard)", s.Rejected},
	})
	return t.Render()
}

// CalibrateAction is the corresponding Action for 'calibrate'.
func CalibrateAction(c *cli.Context, logger logging.Logger) error {
	video, images := c.String(calibrateFlagVideo), c.String(calibrateFlagImages)
	if (video == "") == (images == "") {
		return errors.Errorf("exactly one of --%s or --%s is required", calibrateFlagVideo, calibrateFlagImages)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	pattern := chessboard.PatternSize{Rows: c.Int(calibrateFlagRows), Cols: c.Int(calibrateFlagCols)}
	extractor, err := chessboard.NewExtractor(pattern, cfg.Chessboard, logger.Sublogger("chessboard"))
	if err != nil {
		return err
	}
	engine, err := calibrate.NewEngine(pattern, logger.Sublogger("calibrate"))
	if err != nil {
		return err
	}
	debugDir := c.String(calibrateFlagDebugDir)
	if debugDir != "" {
		if err := os.MkdirAll(debugDir, 0o750); err != nil {
			return errors.Wrap(err, "cannot create debug directory")
		}
	}

	var src imagesource.Source
	if images != "" {
		src, err = imagesource.NewDirectorySource(images)
	} else {
		src, err = imagesource.NewVideoSource(c.Context, video)
	}
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(src.Close)

	collector := &sampleCollector{
		extractor:  extractor,
		engine:     engine,
		squareSize: c.Float64(calibrateFlagSize),
		selection:  frameSelection{Jump: c.Int(calibrateFlagJump), Limit: c.Int(calibrateFlagLimit)},
		workers:    c.Int(flagWorkers),
		debugDir:   debugDir,
		logger:     logger,
	}
	if c.Bool(calibrateFlagVerbose) {
		collector.verbose = c.App.Writer
	}
	summary, err := collector.collect(c.Context, src)
	if err != nil {
		return err
	}
	if summary.Accepted == 0 {
		printf(c.App.Writer, "%s", summary)
		return ErrNoPatternFound
	}

	res, err := engine.Solve(c.Context)
	if err != nil {
		return errors.Wrap(err, "calibration failed")
	}
	output := c.String(calibrateFlagOutput)
	artifact, err := transform.SaveCalibration(output, res.Model, transform.CalibrationMetadata{RMSError: res.RMSError})
	if err != nil {
		return err
	}
	viewErrors := lo.Map(res.Views, func(v calibrate.View, _ int) float64 { return v.MeanError })
	worst, err := stats.Max(viewErrors)
	if err != nil {
		return errors.Wrap(err, "no calibration views")
	}

	printf(c.App.Writer, "Camera calibration completed.")
	printf(c.App.Writer, "%s", cameraTable(res.Model))
	printf(c.App.Writer, "RMS reprojection error: %.4f px (worst view %.4f px)", res.RMSError, worst)
	printf(c.App.Writer, "Saved calibration %s to %s", artifact.CalibrationID, output)
	printf(c.App.Writer, "%s", summary)
	return nil
}
