package chessboard

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"go.viam.com/test"

	"go.viam.com/objectpose/logging"
	"go.viam.com/objectpose/rimage"
	"go.viam.com/objectpose/rimage/transform"
)

// renderBoard draws a checkerboard whose inner corner (c, r) sits at board coordinate (c+1, r+1),
// measured in squares, on a white background. boardToImage maps board coordinates to pixels.
func renderBoard(t *testing.T, w, h int, pattern PatternSize, boardToImage *transform.Homography) *image.Gray {
	t.Helper()
	imageToBoard, err := boardToImage.Inverse()
	test.That(t, err, test.ShouldBeNil)
	const supersample = 4
	const dark, bright = 30., 225.
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum := 0.
			for sy := 0; sy < supersample; sy++ {
				for sx := 0; sx < supersample; sx++ {
					p := r2.Point{
						X: float64(x) - 0.5 + (float64(sx)+0.5)/supersample,
						Y: float64(y) - 0.5 + (float64(sy)+0.5)/supersample,
					}
					b := imageToBoard.Apply(p)
					v := bright
					if b.X >= 0 && b.Y >= 0 && b.X < float64(pattern.Cols+1) && b.Y < float64(pattern.Rows+1) {
						if (int(math.Floor(b.X))+int(math.Floor(b.Y)))%2 == 0 {
							v = dark
						}
					}
					sum += v
				}
			}
			img.SetGray(x, y, color.Gray{Y: uint8(math.Round(sum / (supersample * supersample)))})
		}
	}
	return img
}

func expectedCorners(pattern PatternSize, boardToImage *transform.Homography) []r2.Point {
	out := make([]r2.Point, 0, pattern.Count())
	for r := 0; r < pattern.Rows; r++ {
		for c := 0; c < pattern.Cols; c++ {
			out = append(out, boardToImage.Apply(r2.Point{X: float64(c + 1), Y: float64(r + 1)}))
		}
	}
	return out
}

func mustHomography(t *testing.T, vals ...float64) *transform.Homography {
	t.Helper()
	h, err := transform.NewHomography(vals)
	test.That(t, err, test.ShouldBeNil)
	return h
}

func newTestExtractor(t *testing.T, pattern PatternSize) *Extractor {
	t.Helper()
	e, err := NewExtractor(pattern, nil, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return e
}

func assertCornersMatch(t *testing.T, got, want []r2.Point, tol float64) {
	t.Helper()
	test.That(t, got, test.ShouldHaveLength, len(want))
	for i := range want {
		test.That(t, got[i].X, test.ShouldAlmostEqual, want[i].X, tol)
		test.That(t, got[i].Y, test.ShouldAlmostEqual, want[i].Y, tol)
	}
}

func TestExtractFrontoParallel(t *testing.T) {
	pattern := PatternSize{Rows: 4, Cols: 6}
	h := mustHomography(t, 30, 0, 40.3, 0, 30, 50.6, 0, 0, 1)
	img := renderBoard(t, 320, 240, pattern, h)

	found, corners := newTestExtractor(t, pattern).Extract(img)
	test.That(t, found, test.ShouldBeTrue)
	assertCornersMatch(t, corners, expectedCorners(pattern, h), 0.5)
}

func TestExtractPerspective(t *testing.T) {
	pattern := PatternSize{Rows: 4, Cols: 6}
	a, c, s := 28., math.Cos(10*math.Pi/180), math.Sin(10*math.Pi/180)
	h := mustHomography(t, a*c, -a*s, 80, a*s, a*c, 40, 0.02, 0.01, 1)
	img := renderBoard(t, 320, 240, pattern, h)

	found, corners := newTestExtractor(t, pattern).Extract(img)
	test.That(t, found, test.ShouldBeTrue)
	assertCornersMatch(t, corners, expectedCorners(pattern, h), 0.5)
}

func TestExtractRotatedBoardKeepsHandedness(t *testing.T) {
	pattern := PatternSize{Rows: 4, Cols: 6}
	// board x runs down the image and board y runs right to left
	h := mustHomography(t, 0, -30, 250, 30, 0, 20, 0, 0, 1)
	img := renderBoard(t, 320, 240, pattern, h)

	found, corners := newTestExtractor(t, pattern).Extract(img)
	test.That(t, found, test.ShouldBeTrue)
	assertCornersMatch(t, corners, expectedCorners(pattern, h), 0.5)

	dc := corners[pattern.Cols-1].Sub(corners[0])
	dr := corners[(pattern.Rows-1)*pattern.Cols].Sub(corners[0])
	test.That(t, dc.Cross(dr), test.ShouldBeGreaterThan, 0)
}

func TestExtractNotFound(t *testing.T) {
	pattern := PatternSize{Rows: 4, Cols: 6}
	h := mustHomography(t, 30, 0, 40, 0, 30, 50, 0, 0, 1)
	img := renderBoard(t, 320, 240, pattern, h)

	blank := image.NewGray(image.Rect(0, 0, 200, 100))
	found, corners := newTestExtractor(t, pattern).Extract(blank)
	test.That(t, found, test.ShouldBeFalse)
	test.That(t, corners, test.ShouldBeNil)

	found, _ = newTestExtractor(t, pattern).Extract(nil)
	test.That(t, found, test.ShouldBeFalse)

	found, _ = newTestExtractor(t, PatternSize{Rows: 5, Cols: 6}).Extract(img)
	test.That(t, found, test.ShouldBeFalse)

	found, _ = newTestExtractor(t, PatternSize{Rows: 3, Cols: 6}).Extract(img)
	test.That(t, found, test.ShouldBeFalse)
}

func TestSaddlePointsRejectBorderCorners(t *testing.T) {
	pattern := PatternSize{Rows: 4, Cols: 6}
	h := mustHomography(t, 30, 0, 40, 0, 30, 50, 0, 0, 1)
	gray := rimage.ConvertImageToLuminanceFloat(renderBoard(t, 320, 240, pattern, h))
	kernel := rimage.GetGaussian(DefaultSaddleConf.BlurSigma)
	blurred, err := rimage.ConvolveGrayFloat64(gray, &kernel)
	test.That(t, err, test.ShouldBeNil)

	saddles, err := GetSaddlePoints(blurred, &DefaultSaddleConf)
	test.That(t, err, test.ShouldBeNil)

	nearest := func(p r2.Point) float64 {
		best := math.Inf(1)
		for _, sp := range saddles {
			best = math.Min(best, sp.Point.Sub(p).Norm())
		}
		return best
	}
	for _, want := range expectedCorners(pattern, h) {
		test.That(t, nearest(want), test.ShouldBeLessThan, 1.5)
	}
	for _, outer := range []r2.Point{{X: 0, Y: 0}, {X: 7, Y: 0}, {X: 0, Y: 5}, {X: 7, Y: 5}, {X: 1, Y: 0}, {X: 0, Y: 1}} {
		test.That(t, nearest(h.Apply(outer)), test.ShouldBeGreaterThan, 3)
	}

	plot := PlotSaddleMap(blurred, saddles)
	test.That(t, plot.Bounds().Dx(), test.ShouldEqual, 320)
}

func TestRefineCornersConverges(t *testing.T) {
	pattern := PatternSize{Rows: 4, Cols: 6}
	h := mustHomography(t, 30, 0, 40.3, 0, 30, 50.6, 0, 0, 1)
	gray := rimage.ConvertImageToLuminanceFloat(renderBoard(t, 320, 240, pattern, h))

	want := expectedCorners(pattern, h)
	start := make([]r2.Point, len(want))
	for i, p := range want {
		start[i] = p.Add(r2.Point{X: 1.2, Y: -0.8})
	}
	refined := RefineCorners(gray, start, &DefaultSubPixConf)
	assertCornersMatch(t, refined, want, 0.2)
}

func TestPatternObjectPoints(t *testing.T) {
	pattern := PatternSize{Rows: 2, Cols: 3}
	pts := pattern.ObjectPoints(10)
	test.That(t, pts, test.ShouldHaveLength, 6)
	test.That(t, pts[1].X, test.ShouldEqual, 10)
	test.That(t, pts[1].Y, test.ShouldEqual, 0)
	test.That(t, pts[3].X, test.ShouldEqual, 0)
	test.That(t, pts[3].Y, test.ShouldEqual, 10)
	test.That(t, pts[5].Z, test.ShouldEqual, 0)

	test.That(t, PatternSize{Rows: 1, Cols: 5}.Validate(), test.ShouldNotBeNil)
	_, err := NewExtractor(PatternSize{Rows: 1, Cols: 5}, nil, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestDetectionConfigurationValidate(t *testing.T) {
	cfg := NewDefaultDetectionConfiguration()
	test.That(t, cfg.Validate("chessboard"), test.ShouldBeNil)

	cfg.SubPix.MaxIterations = 0
	cfg.Grid.MatchTolerance = 0.7
	err := cfg.Validate("chessboard")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "chessboard.subpix.max-iter")
	test.That(t, err.Error(), test.ShouldContainSubstring, "chessboard.grid.match-tol")
}

func TestDrawCorners(t *testing.T) {
	pattern := PatternSize{Rows: 2, Cols: 2}
	img := image.NewGray(image.Rect(0, 0, 50, 50))
	corners := []r2.Point{{X: 10, Y: 10}, {X: 20, Y: 10}, {X: 10, Y: 20}, {X: 20, Y: 20}}
	out := DrawCorners(img, pattern, corners, true)
	test.That(t, out.Bounds(), test.ShouldResemble, img.Bounds())
	out = DrawCorners(img, pattern, corners[:3], false)
	test.That(t, out.Bounds(), test.ShouldResemble, img.Bounds())
}
