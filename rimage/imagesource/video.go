package imagesource

import (
	"context"
	"encoding/json"
	"image"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

type probeResult struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

// probeDimensions asks ffprobe for the size of the first video stream.
func probeDimensions(path string) (int, int, error) {
	out, err := ffmpeg.Probe(path)
	if err != nil {
		return 0, 0, err
	}
	var res probeResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		return 0, 0, errors.Wrap(err, "cannot parse ffprobe output")
	}
	for _, s := range res.Streams {
		if s.CodecType == "video" && s.Width > 0 && s.Height > 0 {
			return s.Width, s.Height, nil
		}
	}
	return 0, 0, errors.New("no video stream")
}

// VideoSource decodes a video file with ffmpeg, reading raw RGB frames from its output pipe.
type VideoSource struct {
	width, height int
	reader        *io.PipeReader
	cancel        context.CancelFunc
	done          chan error
	buf           []byte

	closeOnce sync.Once
	closeErr  error
}

// NewVideoSource starts decoding the video at path. ffmpeg and ffprobe must be on the PATH.
func NewVideoSource(ctx context.Context, path string) (*VideoSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(ErrSourceUnavailable, "%s: %v", path, err)
	}
	width, height, err := probeDimensions(path)
	if err != nil {
		return nil, errors.Wrapf(ErrSourceUnavailable, "%s: %v", path, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	stream := ffmpeg.Input(path).
		Output("pipe:", ffmpeg.KwArgs{"format": "rawvideo", "pix_fmt": "rgb24"}).
		WithOutput(pw)
	stream.Context = ctx

	vs := &VideoSource{
		width:  width,
		height: height,
		reader: pr,
		cancel: cancel,
		done:   make(chan error, 1),
		buf:    make([]byte, width*height*3),
	}
	go func() {
		err := stream.Run()
		pw.CloseWithError(err)
		vs.done <- err
	}()
	return vs, nil
}

// Size returns the frame dimensions.
func (vs *VideoSource) Size() image.Point {
	return image.Point{X: vs.width, Y: vs.height}
}

// Next reads the next frame.
func (vs *VideoSource) Next(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(vs.reader, vs.buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "cannot read video frame")
	}
	img := image.NewRGBA(image.Rect(0, 0, vs.width, vs.height))
	for i, j := 0, 0; i < len(vs.buf); i, j = i+3, j+4 {
		img.Pix[j] = vs.buf[i]
		img.Pix[j+1] = vs.buf[i+1]
		img.Pix[j+2] = vs.buf[i+2]
		img.Pix[j+3] = 255
	}
	return img, nil
}

// Close stops ffmpeg and waits for it to exit.
func (vs *VideoSource) Close() error {
	vs.closeOnce.Do(func() {
		vs.cancel()
		vs.closeErr = vs.reader.Close()
		// ffmpeg reports an error when killed or when its output pipe closes early
		<-vs.done
	})
	return vs.closeErr
}
