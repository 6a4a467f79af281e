package rimage

import (
	"image"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/objectpose/utils"
)

// Kernel is a convolution kernel. Content is indexed [y][x].
type Kernel struct {
	Content [][]float64
	Height  int
	Width   int
}

// NewKernel checks that every row has the same width.
func NewKernel(content [][]float64) (*Kernel, error) {
	if len(content) == 0 || len(content[0]) == 0 {
		return nil, errors.New("kernel must not be empty")
	}
	width := len(content[0])
	for _, row := range content {
		if len(row) != width {
			return nil, errors.New("kernel rows must have the same length")
		}
	}
	return &Kernel{Content: content, Height: len(content), Width: width}, nil
}

// Size returns the kernel size.
func (k *Kernel) Size() image.Point {
	return image.Point{k.Width, k.Height}
}

// At returns the kernel value at (x, y).
func (k *Kernel) At(x, y int) float64 {
	return k.Content[y][x]
}

// Normalize scales the kernel so its values sum to 1. Zero-sum kernels are left untouched.
func (k *Kernel) Normalize() *Kernel {
	sum := 0.
	for _, row := range k.Content {
		for _, v := range row {
			sum += v
		}
	}
	if sum == 0 {
		return k
	}
	for _, row := range k.Content {
		for i := range row {
			row[i] /= sum
		}
	}
	return k
}

// GetSobelX returns the Kernel corresponding to the Sobel kernel in the x direction.
func GetSobelX() Kernel {
	return Kernel{[][]float64{
		{-1, 0, 1},
		{-2, 0, 2},
		{-1, 0, 1},
	},
		3,
		3,
	}
}

// GetSobelY returns the Kernel corresponding to the Sobel kernel in the y direction.
func GetSobelY() Kernel {
	return Kernel{[][]float64{
		{-1, -2, -1},
		{0, 0, 0},
		{1, 2, 1},
	},
		3,
		3,
	}
}

// GetGaussian returns a normalized, odd-sized Gaussian kernel covering 3 sigma on each side.
func GetGaussian(sigma float64) Kernel {
	if sigma <= 0 {
		return Kernel{[][]float64{{1}}, 1, 1}
	}
	radius := int(math.Ceil(3 * sigma))
	size := 2*radius + 1
	content := make([][]float64, size)
	for y := 0; y < size; y++ {
		content[y] = make([]float64, size)
		dy := float64(y - radius)
		for x := 0; x < size; x++ {
			dx := float64(x - radius)
			content[y][x] = math.Exp(-0.5 * (dx*dx + dy*dy) / (sigma * sigma))
		}
	}
	k := Kernel{content, size, size}
	return *k.Normalize()
}

// ConvolveGrayFloat64 implements a gray float64 image convolution with the Kernel filter.
// The kernel is anchored at its centre and borders are replicated. There is no clamping in this case.
func ConvolveGrayFloat64(m *mat.Dense, filter *Kernel) (*mat.Dense, error) {
	if filter == nil || filter.Width == 0 || filter.Height == 0 {
		return nil, errors.New("cannot convolve with an empty kernel")
	}
	h, w := m.Dims()
	result := mat.NewDense(h, w, nil)
	kernelSize := filter.Size()
	anchor := image.Point{kernelSize.X / 2, kernelSize.Y / 2}

	utils.ParallelForEachPixel(image.Point{w, h}, func(x, y int) {
		sum := float64(0)
		for ky := 0; ky < kernelSize.Y; ky++ {
			py := clampIndex(y+ky-anchor.Y, h)
			for kx := 0; kx < kernelSize.X; kx++ {
				px := clampIndex(x+kx-anchor.X, w)
				sum += m.At(py, px) * filter.At(kx, ky)
			}
		}
		result.Set(y, x, sum)
	})
	return result, nil
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
