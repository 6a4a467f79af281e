package pose

import (
	"fmt"
	"image"
	"image/color"

	"github.com/fogleman/gg"

	"go.viam.com/objectpose/rimage"
	"go.viam.com/objectpose/rimage/transform"
)

var (
	axisColors = [3]color.RGBA{
		{R: 255, A: 255},
		{G: 255, A: 255},
		{B: 255, A: 255},
	}
	centroidColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// DrawAxes overlays the estimated pose on a copy of img: a white dot at the centroid, the X, Y and
// Z axes in red, green and blue, and the class name with roll, pitch and yaw.
func DrawAxes(img image.Image, est Estimate, cam *transform.PinholeCameraModel, length float64) image.Image {
	dc := gg.NewContextForImage(img)
	drawAxes(dc, est, cam, length)
	return dc.Image()
}

// DrawAllAxes is DrawAxes for every estimate of a frame.
func DrawAllAxes(img image.Image, ests []Estimate, cam *transform.PinholeCameraModel, length float64) image.Image {
	dc := gg.NewContextForImage(img)
	for _, est := range ests {
		drawAxes(dc, est, cam, length)
	}
	return dc.Image()
}

func drawAxes(dc *gg.Context, est Estimate, cam *transform.PinholeCameraModel, length float64) {
	pts := Project(AxisPoints(length), est, cam)
	centroid := pts[0]
	for i, end := range pts[1:] {
		rimage.DrawLine(dc, centroid.X, centroid.Y, end.X, end.Y, axisColors[i], 2)
	}
	dc.SetColor(centroidColor)
	dc.DrawCircle(centroid.X, centroid.Y, 5)
	dc.Fill()

	roll, pitch, yaw := est.RPY()
	label := fmt.Sprintf("%s r%.0f p%.0f y%.0f", est.ClassName, roll, pitch, yaw)
	rimage.DrawString(dc, label, image.Point{X: int(centroid.X) + 8, Y: int(centroid.Y) + 8}, centroidColor, 14)
}
