package imagesource

import (
	"context"
	"image"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	// register decoders
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
}

// DirectorySource reads the images of a directory in lexical file name order. Subdirectories and
// files without an image extension are skipped.
type DirectorySource struct {
	mu    sync.Mutex
	paths []string
	next  int
}

// NewDirectorySource lists the images in dir.
func NewDirectorySource(dir string) (*DirectorySource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(ErrSourceUnavailable, "%s: %v", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return nil, errors.Wrapf(ErrSourceUnavailable, "%s: no images", dir)
	}
	return &DirectorySource{paths: paths}, nil
}

// Len returns the number of images.
func (ds *DirectorySource) Len() int {
	return len(ds.paths)
}

// Paths returns the image paths in the order they are read.
func (ds *DirectorySource) Paths() []string {
	return append([]string(nil), ds.paths...)
}

// Next decodes the next image.
func (ds *DirectorySource) Next(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ds.mu.Lock()
	if ds.next >= len(ds.paths) {
		ds.mu.Unlock()
		return nil, io.EOF
	}
	path := ds.paths[ds.next]
	ds.next++
	ds.mu.Unlock()

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(ErrFrameUnreadable, "%s: %v", path, err)
	}
	return img, nil
}

// Close does nothing.
func (ds *DirectorySource) Close() error {
	return nil
}
