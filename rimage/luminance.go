package rimage

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"gonum.org/v1/gonum/mat"
)

// ConvertImageToLuminanceFloat converts an image into a dense matrix of gray levels in [0, 255].
// Rows index y and columns index x.
func ConvertImageToLuminanceFloat(img image.Image) *mat.Dense {
	gray := imaging.Grayscale(img)
	bounds := gray.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := mat.NewDense(h, w, nil)
	for y := 0; y < h; y++ {
		row := gray.Pix[y*gray.Stride : y*gray.Stride+4*w]
		for x := 0; x < w; x++ {
			out.Set(y, x, float64(row[4*x]))
		}
	}
	return out
}

// ConvertLuminanceFloatToGray rescales a float image to 8-bit gray, mapping its min and max to 0
// and 255. Used to dump intermediate maps while debugging.
func ConvertLuminanceFloatToGray(m *mat.Dense) *image.Gray {
	h, w := m.Dims()
	out := image.NewGray(image.Rect(0, 0, w, h))
	lo, hi := mat.Min(m), mat.Max(m)
	scale := 0.
	if hi > lo {
		scale = 255 / (hi - lo)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.SetGray(x, y, color.Gray{Y: uint8(math.Round((m.At(y, x) - lo) * scale))})
		}
	}
	return out
}

// BilinearInterpolation samples m at the sub-pixel position (x, y). Positions outside the image
// are clamped to the border.
func BilinearInterpolation(m *mat.Dense, x, y float64) float64 {
	h, w := m.Dims()
	if w == 0 || h == 0 {
		return 0
	}
	x = math.Max(0, math.Min(float64(w-1), x))
	y = math.Max(0, math.Min(float64(h-1), y))
	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	x1, y1 := x0+1, y0+1
	if x1 > w-1 {
		x1 = w - 1
	}
	if y1 > h-1 {
		y1 = h - 1
	}
	dx, dy := x-float64(x0), y-float64(y0)
	top := m.At(y0, x0)*(1-dx) + m.At(y0, x1)*dx
	bottom := m.At(y1, x0)*(1-dx) + m.At(y1, x1)*dx
	return top*(1-dy) + bottom*dy
}
