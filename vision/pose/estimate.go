// Package pose estimates the 6-DoF pose of registered objects from detected keypoints and draws
// the result.
package pose

import (
	"fmt"

	"github.com/golang/geo/r3"

	"go.viam.com/objectpose/spatialmath"
)

// Estimate is the pose of one object instance: the rotation (Rodrigues vector) and translation
// that map template points into the camera frame.
type Estimate struct {
	Rotation    r3.Vector
	Translation r3.Vector

	ClassName      string
	ClassIndex     int
	DetectionIndex int
	// Inliers is the size of the consensus set the pose was refined on.
	Inliers int
	// RMSError is the root mean square pixel reprojection error over the inliers.
	RMSError float64
}

// RPY returns roll, pitch and yaw in degrees.
func (e *Estimate) RPY() (roll, pitch, yaw float64) {
	return spatialmath.RotationVectorToRPY(e.Rotation)
}

// Reason classifies why an instance has no pose.
type Reason int

const (
	// InsufficientKeypoints means the detection carried fewer keypoints than the template.
	InsufficientKeypoints Reason = iota
	// SolveFailed means no consistent pose could be found.
	SolveFailed
	// ClassNotRegistered means the detection's class has no template.
	ClassNotRegistered
)

func (r Reason) String() string {
	switch r {
	case InsufficientKeypoints:
		return "insufficient keypoints"
	case SolveFailed:
		return "solve failed"
	case ClassNotRegistered:
		return "class not registered"
	default:
		return "unknown"
	}
}

// Failure is the error returned when an instance cannot be solved.
type Failure struct {
	Reason Reason
	Err    error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return f.Reason.String()
	}
	return fmt.Sprintf("%s: %v", f.Reason, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func newFailure(reason Reason, err error) *Failure {
	return &Failure{Reason: reason, Err: err}
}
