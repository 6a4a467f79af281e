package chessboard

import (
	"image"
	"image/color"
	"math"
	"sort"

	"github.com/fogleman/gg"
	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/objectpose/rimage"
)

const ringSamples = 32

// SaddlePoint is a candidate inner corner at integer pixel precision.
type SaddlePoint struct {
	Point r2.Point
	Score float64
}

// computePixelWiseHessianDeterminant computes hessian components for each pixel and returns a *mat.Dense containing
// the value of the determinant of the Hessian for each pixel.
// The sign and value of the determinant of the Hessian gives location of saddle points.
func computePixelWiseHessianDeterminant(img *mat.Dense) (*mat.Dense, error) {
	nRows, nCols := img.Dims()
	sobelX := rimage.GetSobelX()
	sobelY := rimage.GetSobelY()
	gX, err := rimage.ConvolveGrayFloat64(img, &sobelX)
	if err != nil {
		return nil, err
	}
	gY, err := rimage.ConvolveGrayFloat64(img, &sobelY)
	if err != nil {
		return nil, err
	}
	gXX, err := rimage.ConvolveGrayFloat64(gX, &sobelX)
	if err != nil {
		return nil, err
	}
	gYY, err := rimage.ConvolveGrayFloat64(gY, &sobelY)
	if err != nil {
		return nil, err
	}
	gXY, err := rimage.ConvolveGrayFloat64(gX, &sobelY)
	if err != nil {
		return nil, err
	}
	m1 := mat.NewDense(nRows, nCols, nil)
	m2 := mat.NewDense(nRows, nCols, nil)
	out := mat.NewDense(nRows, nCols, nil)
	m1.MulElem(gXX, gYY)
	m2.MulElem(gXY, gXY)
	out.Sub(m1, m2)
	return out, nil
}

// SaddleMap returns the negative determinant of the Hessian clipped at zero. Saddle points, where
// the determinant is negative, become positive peaks.
func SaddleMap(img *mat.Dense) (*mat.Dense, error) {
	hessian, err := computePixelWiseHessianDeterminant(img)
	if err != nil {
		return nil, err
	}
	hessian.Apply(func(r, c int, v float64) float64 {
		if v > 0 {
			return 0.
		}
		return -v
	}, hessian)
	return hessian, nil
}

// NonMaxSuppression returns the local maxima of img over a (2*winSize+1) square window that are at
// least minValue and at least margin pixels away from the border. Plateaus keep their first pixel
// in raster order.
func NonMaxSuppression(img *mat.Dense, winSize, margin int, minValue float64) []SaddlePoint {
	h, w := img.Dims()
	if margin < winSize {
		margin = winSize
	}
	var out []SaddlePoint
	for y := margin; y < h-margin; y++ {
		for x := margin; x < w-margin; x++ {
			v := img.At(y, x)
			if v <= 0 || v < minValue {
				continue
			}
			isMax := true
			for dy := -winSize; dy <= winSize && isMax; dy++ {
				for dx := -winSize; dx <= winSize; dx++ {
					if dx == 0 && dy == 0 {
						continue
					}
					n := img.At(y+dy, x+dx)
					if n > v || (n == v && (dy < 0 || (dy == 0 && dx < 0))) {
						isMax = false
						break
					}
				}
			}
			if isMax {
				out = append(out, SaddlePoint{Point: r2.Point{X: float64(x), Y: float64(y)}, Score: v})
			}
		}
	}
	return out
}

// IsXJunction samples a circle around pt and accepts it when the gray levels split into exactly four
// alternating dark and bright arcs. Edges and the L-shaped corners on the board border only produce two.
func IsXJunction(img *mat.Dense, pt r2.Point, cfg *SaddleConfiguration) bool {
	var samples [ringSamples]float64
	lo, hi := math.Inf(1), math.Inf(-1)
	for k := 0; k < ringSamples; k++ {
		theta := 2 * math.Pi * float64(k) / ringSamples
		v := rimage.BilinearInterpolation(img, pt.X+cfg.RingRadius*math.Cos(theta), pt.Y+cfg.RingRadius*math.Sin(theta))
		samples[k] = v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi-lo < cfg.MinRingContrast {
		return false
	}
	mid := (lo + hi) / 2
	transitions := 0
	for k := 0; k < ringSamples; k++ {
		if (samples[k] > mid) != (samples[(k+1)%ringSamples] > mid) {
			transitions++
		}
	}
	return transitions == 4
}

// GetSaddlePoints runs the candidate pipeline on a blurred gray image: saddle map, non-maximum
// suppression, X-junction test and a threshold relative to the strongest surviving response.
// Candidates are returned strongest first.
func GetSaddlePoints(img *mat.Dense, cfg *SaddleConfiguration) ([]SaddlePoint, error) {
	saddleMap, err := SaddleMap(img)
	if err != nil {
		return nil, err
	}
	peak := mat.Max(saddleMap)
	if peak <= 0 {
		return nil, nil
	}
	margin := int(math.Ceil(cfg.RingRadius)) + 1
	maxima := NonMaxSuppression(saddleMap, cfg.NMSWindowSize, margin, 1e-3*peak)

	junctions := make([]SaddlePoint, 0, len(maxima))
	best := 0.
	for _, sp := range maxima {
		if IsXJunction(img, sp.Point, cfg) {
			junctions = append(junctions, sp)
			best = math.Max(best, sp.Score)
		}
	}
	out := junctions[:0]
	for _, sp := range junctions {
		if sp.Score >= cfg.RelativeThreshold*best {
			out = append(out, sp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// PlotSaddleMap draws the saddle points in red over the rescaled saddle map.
func PlotSaddleMap(saddleMap *mat.Dense, saddlePoints []SaddlePoint) image.Image {
	dc := gg.NewContextForImage(rimage.ConvertLuminanceFloatToGray(saddleMap))
	dc.SetColor(color.RGBA{R: 255, A: 255})
	for _, sp := range saddlePoints {
		dc.DrawPoint(sp.Point.X, sp.Point.Y, 2.5)
		dc.Fill()
	}
	return dc.Image()
}
