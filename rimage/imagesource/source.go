// Package imagesource provides the frame sources the command line tools read from: a directory
// of still images, a video file decoded by ffmpeg, and in-memory frames.
package imagesource

import (
	"context"
	"image"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
)

var (
	// ErrSourceUnavailable is returned when an input cannot be opened.
	ErrSourceUnavailable = errors.New("input unavailable")
	// ErrFrameUnreadable is returned for a single frame that cannot be decoded. The source stays usable.
	ErrFrameUnreadable = errors.New("frame unreadable")
)

// Source produces frames in order. Next returns io.EOF after the last frame.
type Source interface {
	Next(ctx context.Context) (image.Image, error)
	Close() error
}

// NewSource opens path as a directory of images or, for a regular file, as a video.
func NewSource(ctx context.Context, path string) (Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(ErrSourceUnavailable, "%s: %v", path, err)
	}
	if info.IsDir() {
		return NewDirectorySource(path)
	}
	return NewVideoSource(ctx, path)
}

// StaticSource replays a fixed list of frames.
type StaticSource struct {
	mu     sync.Mutex
	frames []image.Image
	next   int
}

// NewStaticSource returns a source producing frames in order.
func NewStaticSource(frames ...image.Image) *StaticSource {
	return &StaticSource{frames: frames}
}

// Next returns the next frame.
func (ss *StaticSource) Next(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.next >= len(ss.frames) {
		return nil, io.EOF
	}
	img := ss.frames[ss.next]
	ss.next++
	return img, nil
}

// Close does nothing.
func (ss *StaticSource) Close() error {
	return nil
}
