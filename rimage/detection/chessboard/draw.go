package chessboard

import (
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/golang/geo/r2"

	"go.viam.com/objectpose/rimage"
)

var rowPalette = []color.RGBA{
	{R: 255, A: 255},
	{R: 255, G: 128, A: 255},
	{R: 200, G: 200, A: 255},
	{G: 255, A: 255},
	{G: 200, B: 200, A: 255},
	{B: 255, A: 255},
	{R: 255, B: 255, A: 255},
}

// DrawCorners overlays detected corners on a copy of img. A found pattern is drawn as colored rows
// joined in order; otherwise the corners are drawn as red circles.
func DrawCorners(img image.Image, pattern PatternSize, corners []r2.Point, found bool) image.Image {
	dc := gg.NewContextForImage(img)
	const radius = 4.
	if !found || len(corners) != pattern.Count() {
		for _, c := range corners {
			rimage.DrawCircle(dc, c.X, c.Y, radius, color.RGBA{R: 255, A: 255}, 1)
		}
		return dc.Image()
	}
	for i, c := range corners {
		row := i / pattern.Cols
		col := rowPalette[row%len(rowPalette)]
		rimage.DrawCircle(dc, c.X, c.Y, radius, col, 1.5)
		if i > 0 {
			prev := corners[i-1]
			rimage.DrawLine(dc, prev.X, prev.Y, c.X, c.Y, col, 1)
		}
	}
	return dc.Image()
}
