package orientation

import (
	"math"
)

// Pose is the canonical representation of orientation for the app.
// Angles are in degrees.
type Pose struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// Source is anything that can provide poses over time: the fusion
// pipeline, a replay, a test double.
type Source interface {
	Next() (Pose, error)
}

// PoseFromQuaternion converts q to degrees and adds the magnetic
// declination to yaw. Yaw is wrapped to [-180, 180).
func PoseFromQuaternion(q Quaternion, declination float64) Pose {
	roll, pitch, yaw := q.Euler()
	return Pose{
		Roll:  roll * radToDeg,
		Pitch: pitch * radToDeg,
		Yaw:   WrapDegrees(yaw*radToDeg + declination),
	}
}

// EulerXYZ returns the pose in the right-handed X-forward, Y-right,
// Z-down convention some consumers expect: x = roll, y = -pitch, z = -yaw.
func (p Pose) EulerXYZ() (x, y, z float64) {
	return p.Roll, -p.Pitch, -p.Yaw
}

// WrapDegrees maps an angle into [-180, 180).
func WrapDegrees(a float64) float64 {
	a = math.Mod(a+180, 360)
	if a < 0 {
		a += 360
	}
	return a - 180
}

// ComputePoseFromAccel computes roll and pitch from accelerometer data only.
// Yaw is set to 0.
//
// Uses simple tilt formulas:
//
//	roll  = atan2(ay, az)
//	pitch = atan2(-ax, sqrt(ay² + az²))
func ComputePoseFromAccel(ax, ay, az float64) Pose {
	rollRad := math.Atan2(ay, az)
	pitchRad := math.Atan2(-ax, math.Sqrt(ay*ay+az*az))

	return Pose{
		Roll:  rollRad * radToDeg,
		Pitch: pitchRad * radToDeg,
		Yaw:   0,
	}
}
