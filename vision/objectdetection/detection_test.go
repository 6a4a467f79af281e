package objectdetection

import (
	"bytes"
	"context"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestBuildFunc(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 40, 40))
	_, err := Build(nil, nil, nil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "must have a Detector")
	// detector that creates an error
	det := func(context.Context, image.Image) ([]Detection, error) {
		return nil, errors.New("detector error")
	}
	ctx := context.Background()
	pipeline, err := Build(nil, det, nil)
	test.That(t, err, test.ShouldBeNil)
	_, err = pipeline(ctx, img)
	test.That(t, err.Error(), test.ShouldEqual, "detector error")
	// make simple detector
	det = func(context.Context, image.Image) ([]Detection, error) {
		return []Detection{{Score: 0.5}, {Score: 0.9}}, nil
	}
	pipeline, err = Build(nil, det, nil)
	test.That(t, err, test.ShouldBeNil)
	res, err := pipeline(ctx, img)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res, test.ShouldHaveLength, 2)
	// with a score filter
	pipeline, err = Build(nil, det, NewScoreFilter(0.7))
	test.That(t, err, test.ShouldBeNil)
	res, err = pipeline(ctx, img)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res, test.ShouldHaveLength, 1)
	test.That(t, res[0].Score, test.ShouldEqual, 0.9)
}

func TestPostprocessors(t *testing.T) {
	dets := []Detection{
		{ClassIndex: 0, Score: 0.7, Keypoints: []r2.Point{{X: 0, Y: 0}, {X: 10, Y: 10}}},
		{ClassIndex: 1, Score: 0.69, Keypoints: []r2.Point{{X: 0, Y: 0}, {X: 2, Y: 2}}},
		{ClassIndex: 2, Score: 0.95},
	}
	test.That(t, NewScoreFilter(0.7)(dets), test.ShouldHaveLength, 2)
	test.That(t, NewAreaFilter(50)(dets), test.ShouldHaveLength, 1)
	test.That(t, NewClassFilter(1, 2)(dets), test.ShouldHaveLength, 2)
	test.That(t, NewClassFilter()(dets), test.ShouldHaveLength, 3)

	out := Chain(NewScoreFilter(0.7), NewClassFilter(2))(dets)
	test.That(t, out, test.ShouldHaveLength, 1)
	test.That(t, out[0].ClassIndex, test.ShouldEqual, 2)

	test.That(t, dets[0].BoundingBox(), test.ShouldResemble, image.Rect(0, 0, 10, 10))
	test.That(t, dets[2].BoundingBox().Empty(), test.ShouldBeTrue)
}

func TestReadDetections(t *testing.T) {
	input := `{"frame":0,"detections":[{"class":0,"score":0.9,"keypoints":[[1,2],[3.5,4]]}]}

{"frame":2,"detections":[{"class":1,"label":"cookie","score":0.4,"keypoints":[]},{"class":0,"score":0.8,"keypoints":[[5,6]]}]}
`
	frames, err := ReadDetections(strings.NewReader(input))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, frames, test.ShouldHaveLength, 2)
	test.That(t, frames[0][0].Keypoints, test.ShouldResemble, []r2.Point{{X: 1, Y: 2}, {X: 3.5, Y: 4}})
	test.That(t, frames[2], test.ShouldHaveLength, 2)
	test.That(t, frames[2][0].Label, test.ShouldEqual, "cookie")
	test.That(t, frames[2][1].ClassIndex, test.ShouldEqual, 0)

	for _, bad := range []string{
		`{"frame":0,"detections":[{"class":-1,"score":1,"keypoints":[]}]}`,
		`{"frame":-3,"detections":[]}`,
		`{"frame":0,"detections":[]}` + "\n" + `{"frame":0,"detections":[]}`,
		`{"frame":0,"detections":[{"class":0,"keypoints":[[1,2,3]]}]}`,
		`not json`,
	} {
		_, err := ReadDetections(strings.NewReader(bad))
		test.That(t, err, test.ShouldNotBeNil)
	}
}

func TestFileDetectorReplay(t *testing.T) {
	var buf bytes.Buffer
	test.That(t, WriteFrame(&buf, 0, []Detection{{ClassIndex: 0, Score: 0.9, Keypoints: []r2.Point{{X: 1, Y: 1}}}}), test.ShouldBeNil)
	test.That(t, WriteFrame(&buf, 2, []Detection{{ClassIndex: 1, Label: "box", Score: 0.8}}), test.ShouldBeNil)

	path := filepath.Join(t.TempDir(), "detections.jsonl")
	test.That(t, os.WriteFile(path, buf.Bytes(), 0o600), test.ShouldBeNil)

	fd, err := NewFileDetector(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fd.NumFrames(), test.ShouldEqual, 3)

	ctx := context.Background()
	dets, err := fd.Detect(ctx, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dets, test.ShouldHaveLength, 1)
	test.That(t, dets[0].Keypoints, test.ShouldResemble, []r2.Point{{X: 1, Y: 1}})

	dets, err = fd.Detect(ctx, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dets, test.ShouldBeEmpty)

	dets, err = fd.Detect(ctx, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dets[0].Label, test.ShouldEqual, "box")

	fd.Reset()
	dets, err = fd.Detect(ctx, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dets, test.ShouldHaveLength, 1)
	test.That(t, fd.Frame(2), test.ShouldHaveLength, 1)

	fd.Skip()
	dets, err = fd.Detect(ctx, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dets[0].Label, test.ShouldEqual, "box")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = fd.Detect(cancelled, nil)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewFileDetector(filepath.Join(t.TempDir(), "missing.jsonl"))
	test.That(t, err, test.ShouldNotBeNil)
}
