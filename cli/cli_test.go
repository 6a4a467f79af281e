package cli

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/objectpose/logging"
	"go.viam.com/objectpose/rimage"
	"go.viam.com/objectpose/rimage/calibrate"
	"go.viam.com/objectpose/rimage/detection/chessboard"
	"go.viam.com/objectpose/rimage/imagesource"
	"go.viam.com/objectpose/rimage/transform"
	"go.viam.com/objectpose/vision/objectdetection"
	"go.viam.com/objectpose/vision/objectmodel"
	"go.viam.com/objectpose/vision/pose"
)

func runApp(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := NewApp(&out, &errOut).Run(append([]string{"objectpose"}, args...))
	return out.String(), errOut.String(), err
}

func writeBlankImages(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		img := image.NewGray(image.Rect(0, 0, 640, 480))
		path := filepath.Join(dir, fmt.Sprintf("img_%02d.png", i))
		test.That(t, rimage.WriteImageToFile(path, img), test.ShouldBeNil)
	}
	return dir
}

func TestFrameSelection(t *testing.T) {
	sel := frameSelection{Jump: 2, Limit: 7}
	var processed []int
	for frame := 0; !sel.done(frame); frame++ {
		if !sel.skip(frame) {
			processed = append(processed, frame)
		}
	}
	test.That(t, processed, test.ShouldResemble, []int{0, 3, 6})

	all := frameSelection{}
	test.That(t, all.done(1000), test.ShouldBeFalse)
	test.That(t, all.skip(3), test.ShouldBeFalse)
}

func TestCollectCountsFrames(t *testing.T) {
	logger := logging.NewTestLogger(t)
	pattern := chessboard.PatternSize{Rows: 6, Cols: 9}
	extractor, err := chessboard.NewExtractor(pattern, nil, logger)
	test.That(t, err, test.ShouldBeNil)
	engine, err := calibrate.NewEngine(pattern, logger)
	test.That(t, err, test.ShouldBeNil)

	frames := make([]image.Image, 10)
	for i := range frames {
		frames[i] = image.NewGray(image.Rect(0, 0, 160, 120))
	}
	var verbose bytes.Buffer
	debugDir := t.TempDir()
	collector := &sampleCollector{
		extractor:  extractor,
		engine:     engine,
		squareSize: 10,
		selection:  frameSelection{Jump: 1, Limit: 7},
		workers:    3,
		verbose:    &verbose,
		debugDir:   debugDir,
		logger:     logger,
	}
	summary, err := collector.collect(context.Background(), imagesource.NewStaticSource(frames...))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, summary, test.ShouldResemble, collectSummary{Total: 7, Accepted: 0, Rejected: 4})
	test.That(t, engine.NumSamples(), test.ShouldEqual, 0)
	test.That(t, verbose.String(), test.ShouldContainSubstring, "[Frame 6] Checkerboard NOT detected.")
	test.That(t, verbose.String(), test.ShouldNotContainSubstring, "[Frame 1]")
	for _, frame := range []int{0, 2, 4, 6} {
		_, err := os.Stat(filepath.Join(debugDir, fmt.Sprintf("frame_%06d.png", frame)))
		test.That(t, err, test.ShouldBeNil)
	}
	_, err = os.Stat(filepath.Join(debugDir, "frame_000001.png"))
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)
	test.That(t, summary.String(), test.ShouldContainSubstring, "Good frames (checkerboard detected)")
}

func TestCalibrateAction(t *testing.T) {
	_, _, err := runApp(t, "calibrate", "--rows", "6", "--cols", "9")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "exactly one of --video or --images")

	_, _, err = runApp(t, "calibrate", "--rows", "6", "--cols", "9", "--images", filepath.Join(t.TempDir(), "missing"))
	test.That(t, errors.Is(err, imagesource.ErrSourceUnavailable), test.ShouldBeTrue)

	_, _, err = runApp(t, "calibrate", "--rows", "1", "--cols", "9", "--images", t.TempDir())
	test.That(t, err, test.ShouldNotBeNil)

	output := filepath.Join(t.TempDir(), "calibration.json")
	out, _, err := runApp(t, "calibrate", "--rows", "6", "--cols", "9", "--verbose",
		"--images", writeBlankImages(t, 3), "--output", output)
	test.That(t, errors.Is(err, ErrNoPatternFound), test.ShouldBeTrue)
	test.That(t, out, test.ShouldContainSubstring, "Summary")
	test.That(t, out, test.ShouldContainSubstring, "[Frame 2] Checkerboard NOT detected.")
	_, err = os.Stat(output)
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)
}

func TestEstimateAction(t *testing.T) {
	dir := t.TempDir()
	model := transform.NewPinholeCameraModel(&transform.PinholeCameraIntrinsics{
		Width: 640, Height: 480, Fx: 800, Fy: 800, Ppx: 320, Ppy: 240,
	}, nil)
	calibration := filepath.Join(dir, "calibration.json")
	_, err := transform.SaveCalibration(calibration, model, transform.CalibrationMetadata{})
	test.That(t, err, test.ShouldBeNil)

	cookie := objectmodel.NewTemplate("cookie", objectmodel.Dimensions{Length: 44.5, Width: 44.5, Height: 11.7})
	est := pose.Estimate{
		Rotation:    r3.Vector{X: 0.3, Y: -0.2, Z: 0.1},
		Translation: r3.Vector{X: 10, Y: -5, Z: 300},
	}
	keypoints := pose.Project(cookie.Points, est, model)
	var detections bytes.Buffer
	test.That(t, objectdetection.WriteFrame(&detections, 0, []objectdetection.Detection{
		{ClassIndex: 0, Score: 0.9, Keypoints: keypoints},
		{ClassIndex: 0, Score: 0.2, Keypoints: keypoints},
	}), test.ShouldBeNil)
	test.That(t, objectdetection.WriteFrame(&detections, 1, []objectdetection.Detection{
		{ClassIndex: 0, Score: 0.95, Keypoints: keypoints[:4]},
	}), test.ShouldBeNil)
	detectionsPath := filepath.Join(dir, "detections.jsonl")
	test.That(t, os.WriteFile(detectionsPath, detections.Bytes(), 0o600), test.ShouldBeNil)

	outputDir := filepath.Join(dir, "overlays")
	out, logs, err := runApp(t, "estimate",
		"--calibration", calibration,
		"--detections", detectionsPath,
		"--input", writeBlankImages(t, 2),
		"--output", outputDir,
	)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "Poses estimated")
	test.That(t, logs, test.ShouldContainSubstring, "cookie")
	test.That(t, logs, test.ShouldContainSubstring, "no pose for detection")
	for _, name := range []string{"frame_000000.png", "frame_000001.png"} {
		_, err := os.Stat(filepath.Join(outputDir, name))
		test.That(t, err, test.ShouldBeNil)
	}

	t.Setenv("PATH", t.TempDir())
	_, _, err = runApp(t, "estimate",
		"--calibration", calibration,
		"--detections", detectionsPath,
		"--input", writeBlankImages(t, 2),
		"--output", filepath.Join(dir, "overlay.mp4"),
	)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "ffmpeg encoder stopped")

	_, _, err = runApp(t, "estimate",
		"--calibration", filepath.Join(dir, "missing.json"),
		"--detections", detectionsPath,
		"--input", writeBlankImages(t, 1),
	)
	test.That(t, err, test.ShouldNotBeNil)
}
