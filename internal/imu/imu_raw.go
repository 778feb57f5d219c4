package imu

import (
	"errors"

	"github.com/golang/geo/r3"
)

// ErrNotReady is returned by a RawReader when the device has no new sample.
// It is not a read failure; callers should simply try again on the next tick.
var ErrNotReady = errors.New("imu: data not ready")

// IMURaw represents a single raw IMU+mag sample in signed device counts.
// Magnetometer axes are already aligned with the accelerometer frame.
type IMURaw struct {
	Source string `json:"source"` // "mpu9250", "synthetic", ...

	Ax int16 `json:"ax"` // accel
	Ay int16 `json:"ay"`
	Az int16 `json:"az"`

	Gx int16 `json:"gx"` // gyro
	Gy int16 `json:"gy"`
	Gz int16 `json:"gz"`

	Mx int16 `json:"mx"` // magnetometer
	My int16 `json:"my"`
	Mz int16 `json:"mz"`
}

// RawReader produces raw samples. Implementations return ErrNotReady when
// the data-ready indicator is clear and a wrapped error on transport failure.
type RawReader interface {
	ReadRaw() (IMURaw, error)
}

// BiasSink persists an accelerometer (g) and gyroscope (deg/s) bias.
type BiasSink interface {
	StoreBias(accel, gyro r3.Vector) error
}

// Sample is one cycle of physical-unit sensor data.
type Sample struct {
	Accel r3.Vector `json:"accel"` // g
	Gyro  r3.Vector `json:"gyro"`  // deg/s
	Mag   r3.Vector `json:"mag"`   // mG
	DT    float64   `json:"dt"`    // seconds since previous sample
}

// AccelCounts returns the accelerometer axes as a float vector.
func (r IMURaw) AccelCounts() r3.Vector {
	return r3.Vector{X: float64(r.Ax), Y: float64(r.Ay), Z: float64(r.Az)}
}

// GyroCounts returns the gyroscope axes as a float vector.
func (r IMURaw) GyroCounts() r3.Vector {
	return r3.Vector{X: float64(r.Gx), Y: float64(r.Gy), Z: float64(r.Gz)}
}

// MagCounts returns the magnetometer axes as a float vector.
func (r IMURaw) MagCounts() r3.Vector {
	return r3.Vector{X: float64(r.Mx), Y: float64(r.My), Z: float64(r.Mz)}
}
