package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"

	"go.viam.com/objectpose/utils"
)

// EulerAngles are roll (about X), pitch (about Y) and yaw (about Z) in radians, composed as
// R = Rz(yaw) * Ry(pitch) * Rx(roll).
type EulerAngles struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// EulerAngles decomposes the matrix. Near gimbal lock yaw is reported as 0.
func (rm *RotationMatrix) EulerAngles() *EulerAngles {
	sy := math.Hypot(rm.At(0, 0), rm.At(1, 0))
	if sy < 1e-6 {
		return &EulerAngles{
			Roll:  math.Atan2(-rm.At(1, 2), rm.At(1, 1)),
			Pitch: math.Atan2(-rm.At(2, 0), sy),
		}
	}
	return &EulerAngles{
		Roll:  math.Atan2(rm.At(2, 1), rm.At(2, 2)),
		Pitch: math.Atan2(-rm.At(2, 0), sy),
		Yaw:   math.Atan2(rm.At(1, 0), rm.At(0, 0)),
	}
}

// RotationVectorToRPY converts a Rodrigues vector to roll, pitch and yaw in degrees.
func RotationVectorToRPY(rvec r3.Vector) (roll, pitch, yaw float64) {
	ea := R3ToRotationMatrix(rvec).EulerAngles()
	return utils.RadToDeg(ea.Roll), utils.RadToDeg(ea.Pitch), utils.RadToDeg(ea.Yaw)
}
