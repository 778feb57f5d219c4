// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import (
	"fmt"

	"github.com/golang/geo/r3"
)

// AccelRange is the accelerometer full-scale selection (ACCEL_FS_SEL).
type AccelRange byte

const (
	Accel2G AccelRange = iota
	Accel4G
	Accel8G
	Accel16G
)

// GyroRange is the gyroscope full-scale selection (GYRO_FS_SEL).
type GyroRange byte

const (
	Gyro250DPS GyroRange = iota
	Gyro500DPS
	Gyro1000DPS
	Gyro2000DPS
)

// MagBits is the magnetometer output width.
type MagBits byte

const (
	Mag14Bits MagBits = iota
	Mag16Bits
)

// Resolution returns g per LSB.
func (r AccelRange) Resolution() float64 {
	switch r {
	case Accel2G:
		return 2.0 / 32768.0
	case Accel4G:
		return 4.0 / 32768.0
	case Accel8G:
		return 8.0 / 32768.0
	default:
		return 16.0 / 32768.0
	}
}

// FullScale returns the range in g.
func (r AccelRange) FullScale() int {
	return []int{2, 4, 8, 16}[r&0x03]
}

// Resolution returns deg/s per LSB.
func (r GyroRange) Resolution() float64 {
	switch r {
	case Gyro250DPS:
		return 250.0 / 32768.0
	case Gyro500DPS:
		return 500.0 / 32768.0
	case Gyro1000DPS:
		return 1000.0 / 32768.0
	default:
		return 2000.0 / 32768.0
	}
}

// FullScale returns the range in deg/s.
func (r GyroRange) FullScale() int {
	return []int{250, 500, 1000, 2000}[r&0x03]
}

// Resolution returns milligauss per LSB. The AK8963 spans 4912 uT over
// 8190 counts in 14-bit mode and 32760 counts in 16-bit mode.
func (b MagBits) Resolution() float64 {
	if b == Mag14Bits {
		return 10.0 * 4912.0 / 8190.0
	}
	return 10.0 * 4912.0 / 32760.0
}

// Bits returns the output width.
func (b MagBits) Bits() int {
	if b == Mag14Bits {
		return 14
	}
	return 16
}

// ParseAccelRange maps the configuration value 0-3 to an AccelRange.
func ParseAccelRange(v int) (AccelRange, error) {
	if v < 0 || v > 3 {
		return 0, fmt.Errorf("accel range must be 0-3 (0=±2g, 1=±4g, 2=±8g, 3=±16g), got %d", v)
	}
	return AccelRange(v), nil
}

// ParseGyroRange maps the configuration value 0-3 to a GyroRange.
func ParseGyroRange(v int) (GyroRange, error) {
	if v < 0 || v > 3 {
		return 0, fmt.Errorf("gyro range must be 0-3 (0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s), got %d", v)
	}
	return GyroRange(v), nil
}

// ParseMagBits maps 14 or 16 to a MagBits.
func ParseMagBits(v int) (MagBits, error) {
	switch v {
	case 14:
		return Mag14Bits, nil
	case 16:
		return Mag16Bits, nil
	}
	return 0, fmt.Errorf("mag output bits must be 14 or 16, got %d", v)
}

// MagSensitivityAdjustment converts the AK8963 fuse ROM ASA values into
// per-axis multipliers.
func MagSensitivityAdjustment(asa [3]byte) r3.Vector {
	adj := func(v byte) float64 { return (float64(v)-128.0)/256.0 + 1.0 }
	return r3.Vector{X: adj(asa[0]), Y: adj(asa[1]), Z: adj(asa[2])}
}

// Resolutions holds the per-channel scale for one device configuration.
type Resolutions struct {
	Accel float64 // g/LSB
	Gyro  float64 // dps/LSB
	Mag   float64 // mG/LSB
}

// NewResolutions looks up the resolution of every channel.
func NewResolutions(a AccelRange, g GyroRange, m MagBits) Resolutions {
	return Resolutions{
		Accel: a.Resolution(),
		Gyro:  g.Resolution(),
		Mag:   m.Resolution(),
	}
}

// Convert scales raw counts to physical units. Factory sensitivity and
// calibration are applied later by the calibration state.
func (r Resolutions) Convert(raw IMURaw) (accel, gyro, mag r3.Vector) {
	accel = raw.AccelCounts().Mul(r.Accel)
	gyro = raw.GyroCounts().Mul(r.Gyro)
	mag = raw.MagCounts().Mul(r.Mag)
	return accel, gyro, mag
}
