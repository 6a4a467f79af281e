package chessboard

import (
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/objectpose/rimage"
)

// RefineCorners moves each corner to the point where the image gradients in a window around it are
// orthogonal to the vectors from the corner: for every window pixel p with gradient g,
// gᵀ(p - q) = 0 holds at the true corner q. The weighted least squares solution is iterated until
// the shift drops below cfg.Epsilon or cfg.MaxIterations is reached. A corner that drifts out of its
// window keeps its initial position.
func RefineCorners(gray *mat.Dense, corners []r2.Point, cfg *SubPixConfiguration) []r2.Point {
	sobelX := rimage.GetSobelX()
	sobelY := rimage.GetSobelY()
	gX, errX := rimage.ConvolveGrayFloat64(gray, &sobelX)
	gY, errY := rimage.ConvolveGrayFloat64(gray, &sobelY)
	out := make([]r2.Point, len(corners))
	if errX != nil || errY != nil {
		copy(out, corners)
		return out
	}
	weights := subPixWeights(cfg.WindowHalfSize)
	for i, c := range corners {
		out[i] = refineCorner(gX, gY, c, cfg, weights)
	}
	return out
}

func subPixWeights(half int) [][]float64 {
	size := 2*half + 1
	sigma := float64(half)
	weights := make([][]float64, size)
	for y := 0; y < size; y++ {
		weights[y] = make([]float64, size)
		dy := float64(y - half)
		for x := 0; x < size; x++ {
			dx := float64(x - half)
			weights[y][x] = math.Exp(-(dx*dx + dy*dy) / (sigma * sigma))
		}
	}
	return weights
}

func refineCorner(gX, gY *mat.Dense, start r2.Point, cfg *SubPixConfiguration, weights [][]float64) r2.Point {
	half := cfg.WindowHalfSize
	current := start
	for iter := 0; iter < cfg.MaxIterations; iter++ {
		var a11, a12, a22, b1, b2 float64
		for dy := -half; dy <= half; dy++ {
			for dx := -half; dx <= half; dx++ {
				px := current.X + float64(dx)
				py := current.Y + float64(dy)
				gx := rimage.BilinearInterpolation(gX, px, py)
				gy := rimage.BilinearInterpolation(gY, px, py)
				w := weights[dy+half][dx+half]
				gxx, gxy, gyy := w*gx*gx, w*gx*gy, w*gy*gy
				a11 += gxx
				a12 += gxy
				a22 += gyy
				b1 += gxx*px + gxy*py
				b2 += gxy*px + gyy*py
			}
		}
		det := a11*a22 - a12*a12
		if math.Abs(det) < 1e-12 {
			break
		}
		next := r2.Point{
			X: (a22*b1 - a12*b2) / det,
			Y: (a11*b2 - a12*b1) / det,
		}
		shift := next.Sub(current).Norm()
		current = next
		if math.Abs(current.X-start.X) > float64(half) || math.Abs(current.Y-start.Y) > float64(half) {
			return start
		}
		if shift < cfg.Epsilon {
			break
		}
	}
	return current
}
