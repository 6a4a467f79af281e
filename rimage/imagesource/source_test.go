package imagesource

import (
	"context"
	"image"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"go.viam.com/test"
)

func solid(w, h int, v uint8) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func TestDirectorySourceOrder(t *testing.T) {
	dir := t.TempDir()
	test.That(t, imaging.Save(solid(4, 3, 10), filepath.Join(dir, "b.png")), test.ShouldBeNil)
	test.That(t, imaging.Save(solid(4, 3, 200), filepath.Join(dir, "a.bmp")), test.ShouldBeNil)
	test.That(t, imaging.Save(solid(5, 2, 100), filepath.Join(dir, "c.tiff")), test.ShouldBeNil)
	test.That(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o600), test.ShouldBeNil)
	test.That(t, os.Mkdir(filepath.Join(dir, "sub.png"), 0o700), test.ShouldBeNil)

	src, err := NewDirectorySource(dir)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, src.Close(), test.ShouldBeNil)
	}()
	test.That(t, src.Len(), test.ShouldEqual, 3)
	test.That(t, filepath.Base(src.Paths()[0]), test.ShouldEqual, "a.bmp")

	ctx := context.Background()
	img, err := src.Next(ctx)
	test.That(t, err, test.ShouldBeNil)
	r, _, _, _ := img.At(0, 0).RGBA()
	test.That(t, r>>8, test.ShouldEqual, 200)

	img, err = src.Next(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Bounds().Dx(), test.ShouldEqual, 4)

	img, err = src.Next(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Bounds().Size(), test.ShouldResemble, image.Point{X: 5, Y: 2})

	_, err = src.Next(ctx)
	test.That(t, err, test.ShouldEqual, io.EOF)
}

func TestDirectorySourceSkipsUnreadableFrames(t *testing.T) {
	dir := t.TempDir()
	test.That(t, os.WriteFile(filepath.Join(dir, "0.png"), []byte("not a png"), 0o600), test.ShouldBeNil)
	test.That(t, imaging.Save(solid(2, 2, 0), filepath.Join(dir, "1.png")), test.ShouldBeNil)

	src, err := NewSource(context.Background(), dir)
	test.That(t, err, test.ShouldBeNil)
	_, err = src.Next(context.Background())
	test.That(t, errors.Is(err, ErrFrameUnreadable), test.ShouldBeTrue)
	img, err := src.Next(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Bounds().Dx(), test.ShouldEqual, 2)
}

func TestSourceUnavailable(t *testing.T) {
	dir := t.TempDir()
	_, err := NewDirectorySource(dir)
	test.That(t, errors.Is(err, ErrSourceUnavailable), test.ShouldBeTrue)

	_, err = NewSource(context.Background(), filepath.Join(dir, "missing"))
	test.That(t, errors.Is(err, ErrSourceUnavailable), test.ShouldBeTrue)

	_, err = NewVideoSource(context.Background(), filepath.Join(dir, "missing.mp4"))
	test.That(t, errors.Is(err, ErrSourceUnavailable), test.ShouldBeTrue)

	notVideo := filepath.Join(dir, "video.mp4")
	test.That(t, os.WriteFile(notVideo, []byte("garbage"), 0o600), test.ShouldBeNil)
	_, err = NewVideoSource(context.Background(), notVideo)
	test.That(t, errors.Is(err, ErrSourceUnavailable), test.ShouldBeTrue)
}

func TestStaticSource(t *testing.T) {
	src := NewStaticSource(solid(1, 1, 1), solid(2, 2, 2))
	ctx := context.Background()
	for i := 1; i <= 2; i++ {
		img, err := src.Next(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, img.Bounds().Dx(), test.ShouldEqual, i)
	}
	_, err := src.Next(ctx)
	test.That(t, err, test.ShouldEqual, io.EOF)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = NewStaticSource(solid(1, 1, 1)).Next(cancelled)
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
	test.That(t, src.Close(), test.ShouldBeNil)
}
