package objectmodel

// KeypointLayoutVersion identifies the keypoint ordering below. Detectors trained against a
// different layout must not be paired with these templates.
const KeypointLayoutVersion = 1

// Keypoint indexes the points of an object template. Directions are seen from the camera: front
// faces the camera, +X points away, +Y left and +Z up.
type Keypoint int

// The keypoints of layout version 1, in detector output order.
const (
	FrontBaseRight Keypoint = iota
	FrontTopRight
	BackTopRight
	BackBaseRight
	FrontBaseLeft
	FrontTopLeft
	BackTopLeft
	BackBaseLeft
	Centroid

	// NumKeypoints is the number of keypoints in every template.
	NumKeypoints int = iota
)

var keypointNames = [...]string{
	"front-base-right",
	"front-top-right",
	"back-top-right",
	"back-base-right",
	"front-base-left",
	"front-top-left",
	"back-top-left",
	"back-base-left",
	"centroid",
}

func (k Keypoint) String() string {
	if k < 0 || int(k) >= len(keypointNames) {
		return "unknown"
	}
	return keypointNames[k]
}

// signs gives each keypoint's offset from the centroid in half dimensions.
var signs = [NumKeypoints][3]float64{
	{+1, -1, -1},
	{+1, -1, +1},
	{+1, +1, +1},
	{+1, +1, -1},
	{-1, -1, -1},
	{-1, -1, +1},
	{-1, +1, +1},
	{-1, +1, -1},
	{0, 0, 0},
}
