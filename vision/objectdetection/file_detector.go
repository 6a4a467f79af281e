package objectdetection

import (
	"bufio"
	"context"
	"encoding/json"
	"image"
	"io"
	"math"
	"os"
	"sync"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
)

// maxLineSize bounds a single frame record.
const maxLineSize = 16 * 1024 * 1024

type detectionRecord struct {
	Class     int          `json:"class"`
	Label     string       `json:"label,omitempty"`
	Score     float64      `json:"score"`
	Keypoints [][]float64 `json:"keypoints"`
}

type frameRecord struct {
	Frame      int               `json:"frame"`
	Detections []detectionRecord `json:"detections"`
}

func (rec detectionRecord) detection() (Detection, error) {
	if rec.Class < 0 {
		return Detection{}, errors.Errorf("negative class index %d", rec.Class)
	}
	d := Detection{ClassIndex: rec.Class, Label: rec.Label, Score: rec.Score, Keypoints: make([]r2.Point, len(rec.Keypoints))}
	for i, kp := range rec.Keypoints {
		if len(kp) != 2 {
			return Detection{}, errors.Errorf("keypoint %d has %d coordinates, want 2", i, len(kp))
		}
		if math.IsNaN(kp[0]) || math.IsNaN(kp[1]) || math.IsInf(kp[0], 0) || math.IsInf(kp[1], 0) {
			return Detection{}, errors.Errorf("keypoint %d is not finite", i)
		}
		d.Keypoints[i] = r2.Point{X: kp[0], Y: kp[1]}
	}
	return d, nil
}

// ReadDetections parses JSON lines of the form
//
//	{"frame":0,"detections":[{"class":0,"score":0.9,"keypoints":[[x,y],...]}]}
//
// into detections keyed by frame index. Blank lines are skipped.
func ReadDetections(r io.Reader) (map[int][]Detection, error) {
	frames := map[int][]Detection{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec frameRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		if rec.Frame < 0 {
			return nil, errors.Errorf("line %d: negative frame index %d", line, rec.Frame)
		}
		if _, ok := frames[rec.Frame]; ok {
			return nil, errors.Errorf("line %d: frame %d listed twice", line, rec.Frame)
		}
		dets := make([]Detection, 0, len(rec.Detections))
		for i, dr := range rec.Detections {
			d, err := dr.detection()
			if err != nil {
				return nil, errors.Wrapf(err, "line %d detection %d", line, i)
			}
			dets = append(dets, d)
		}
		frames[rec.Frame] = dets
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "cannot read detections")
	}
	return frames, nil
}

// WriteFrame appends one frame record in the format ReadDetections accepts.
func WriteFrame(w io.Writer, frame int, dets []Detection) error {
	rec := frameRecord{Frame: frame, Detections: make([]detectionRecord, len(dets))}
	for i, d := range dets {
		kps := make([][]float64, len(d.Keypoints))
		for k, kp := range d.Keypoints {
			kps[k] = []float64{kp.X, kp.Y}
		}
		rec.Detections[i] = detectionRecord{Class: d.ClassIndex, Label: d.Label, Score: d.Score, Keypoints: kps}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// FileDetector replays detections recorded per frame. Each call to Detect returns the next frame's
// detections; frames absent from the file have none.
type FileDetector struct {
	mu     sync.Mutex
	frames map[int][]Detection
	next   int
}

// NewFileDetector reads the recorded detections at path.
func NewFileDetector(path string) (*FileDetector, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "cannot open detections file")
	}
	defer goutils.UncheckedErrorFunc(f.Close)
	frames, err := ReadDetections(f)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot parse detections file %q", path)
	}
	return &FileDetector{frames: frames}, nil
}

// Frame returns a copy of the detections recorded for frame n.
func (fd *FileDetector) Frame(n int) []Detection {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return append([]Detection(nil), fd.frames[n]...)
}

// NumFrames returns one past the highest recorded frame index.
func (fd *FileDetector) NumFrames() int {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	n := 0
	for f := range fd.frames {
		n = max(n, f+1)
	}
	return n
}

// Detect returns the detections of the next frame. The image is not inspected.
func (fd *FileDetector) Detect(ctx context.Context, _ image.Image) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fd.mu.Lock()
	defer fd.mu.Unlock()
	dets := append([]Detection(nil), fd.frames[fd.next]...)
	fd.next++
	return dets, nil
}

// Skip advances the replay past one frame without returning its detections.
func (fd *FileDetector) Skip() {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	fd.next++
}

// Reset rewinds the replay to frame zero.
func (fd *FileDetector) Reset() {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	fd.next = 0
}
