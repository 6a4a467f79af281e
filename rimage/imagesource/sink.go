package imagesource

import (
	"fmt"
	"image"
	"image/draw"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	ffmpeg "github.com/u2takey/ffmpeg-go"

	"go.viam.com/objectpose/rimage"
)

// DefaultFrameRate is used for encoded videos when no rate is given.
const DefaultFrameRate = 30.0

var videoExtensions = map[string]bool{".mp4": true, ".mkv": true, ".mov": true, ".avi": true}

// Sink receives annotated frames in order.
type Sink interface {
	Write(frame int, img image.Image) error
	Close() error
}

// NewSink picks a video encoder when path has a video extension and a directory of PNGs
// otherwise.
func NewSink(path string, fps float64) (Sink, error) {
	if videoExtensions[strings.ToLower(filepath.Ext(path))] {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, errors.Wrap(err, "cannot create output directory")
			}
		}
		return NewVideoWriter(path, fps), nil
	}
	return NewDirectorySink(path)
}

// DirectorySink writes each frame to dir as frame_NNNNNN.png.
type DirectorySink struct {
	dir string
}

// NewDirectorySink creates dir if needed.
func NewDirectorySink(dir string) (*DirectorySink, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrap(err, "cannot create output directory")
	}
	return &DirectorySink{dir: dir}, nil
}

// Write saves the frame as a PNG named by its index.
func (ds *DirectorySink) Write(frame int, img image.Image) error {
	return rimage.WriteImageToFile(filepath.Join(ds.dir, fmt.Sprintf("frame_%06d.png", frame)), img)
}

// Close does nothing.
func (ds *DirectorySink) Close() error {
	return nil
}

// VideoWriter pipes raw RGBA frames into ffmpeg, which encodes them to an H.264 file. ffmpeg is
// started by the first Write, whose size every later frame must match.
type VideoWriter struct {
	path string
	fps  float64

	mu     sync.Mutex
	size   image.Point
	writer *io.PipeWriter
	done   chan error
	frame  *image.RGBA
	closed bool
}

// NewVideoWriter returns a writer encoding to path. A non-positive fps uses DefaultFrameRate.
func NewVideoWriter(path string, fps float64) *VideoWriter {
	if fps <= 0 {
		fps = DefaultFrameRate
	}
	return &VideoWriter{path: path, fps: fps}
}

// encodeStream describes the ffmpeg invocation reading raw frames of the given size from r.
func encodeStream(path string, size image.Point, fps float64, r io.Reader) *ffmpeg.Stream {
	return ffmpeg.Input("pipe:", ffmpeg.KwArgs{
		"format":     "rawvideo",
		"pix_fmt":    "rgba",
		"video_size": fmt.Sprintf("%dx%d", size.X, size.Y),
		"framerate":  fmt.Sprintf("%g", fps),
	}).Output(path, ffmpeg.KwArgs{
		// yuv420p needs even dimensions
		"vf":      "pad=ceil(iw/2)*2:ceil(ih/2)*2",
		"vcodec":  "libx264",
		"pix_fmt": "yuv420p",
	}).OverWriteOutput().WithInput(r)
}

func (vw *VideoWriter) start(size image.Point) {
	pr, pw := io.Pipe()
	stream := encodeStream(vw.path, size, vw.fps, pr)
	vw.size = size
	vw.writer = pw
	vw.done = make(chan error, 1)
	vw.frame = image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	go func() {
		err := stream.Run()
		pr.CloseWithError(errors.Wrap(errOrExit(err), "ffmpeg encoder stopped"))
		vw.done <- err
	}()
}

// errOrExit keeps the pipe closed with an error even when ffmpeg exits cleanly before all frames
// were written.
func errOrExit(err error) error {
	if err == nil {
		return io.ErrClosedPipe
	}
	return err
}

// Write encodes one frame. The frame index is ignored; frames are encoded in call order.
func (vw *VideoWriter) Write(_ int, img image.Image) error {
	vw.mu.Lock()
	defer vw.mu.Unlock()
	if vw.closed {
		return errors.New("video writer is closed")
	}
	b := img.Bounds()
	if vw.writer == nil {
		if b.Empty() {
			return errors.New("cannot encode an empty frame")
		}
		vw.start(b.Size())
	}
	if b.Size() != vw.size {
		return errors.Errorf("frame size %v does not match video size %v", b.Size(), vw.size)
	}
	draw.Draw(vw.frame, vw.frame.Bounds(), img, b.Min, draw.Src)
	if _, err := vw.writer.Write(vw.frame.Pix); err != nil {
		return errors.Wrapf(err, "cannot encode frame into %q", vw.path)
	}
	return nil
}

// Close finishes the file and waits for ffmpeg to exit. A writer that never received a frame
// creates no file.
func (vw *VideoWriter) Close() error {
	vw.mu.Lock()
	defer vw.mu.Unlock()
	if vw.closed {
		return nil
	}
	vw.closed = true
	if vw.writer == nil {
		return nil
	}
	if err := vw.writer.Close(); err != nil {
		return err
	}
	if err := <-vw.done; err != nil {
		return errors.Wrapf(err, "cannot encode %q", vw.path)
	}
	return nil
}
