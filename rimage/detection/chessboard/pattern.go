package chessboard

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// PatternSize counts the inner corners of a checkerboard: Rows rows of Cols corners each.
type PatternSize struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

// Count is the number of inner corners.
func (p PatternSize) Count() int {
	return p.Rows * p.Cols
}

// Validate checks that the board has at least a 2x2 grid of inner corners.
func (p PatternSize) Validate() error {
	if p.Rows < 2 || p.Cols < 2 {
		return errors.Errorf("checkerboard needs at least 2x2 inner corners, got %dx%d", p.Rows, p.Cols)
	}
	return nil
}

// ObjectPoints returns the board corners on the Z=0 plane in row-major order, spaced by squareSize.
// Corner i sits at (i%Cols, i/Cols) * squareSize.
func (p PatternSize) ObjectPoints(squareSize float64) []r3.Vector {
	pts := make([]r3.Vector, 0, p.Count())
	for r := 0; r < p.Rows; r++ {
		for c := 0; c < p.Cols; c++ {
			pts = append(pts, r3.Vector{X: float64(c) * squareSize, Y: float64(r) * squareSize})
		}
	}
	return pts
}
