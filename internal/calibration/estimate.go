// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package calibration estimates sensor biases and scales from sample
// batches and holds the correction applied to every fusion cycle.
package calibration

import (
	"errors"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/relabs-tech/inertial_ahrs/internal/imu"
)

// Sensitivities the MPU9250 is calibrated at (±2g, ±250°/s).
const (
	AccelSensitivity = 16384.0 // LSB/g
	GyroSensitivity  = 131.0   // LSB/(°/s)
)

var (
	// ErrEmptyBatch is returned when an estimator is given no samples.
	ErrEmptyBatch = errors.New("calibration: empty sample batch")
	// ErrInvalidScale is returned when a soft-iron scale is not strictly positive.
	ErrInvalidScale = errors.New("calibration: scale must be strictly positive")
)

// BiasEstimate is the zero-rate output of a stationary batch.
type BiasEstimate struct {
	Accel       r3.Vector // g
	Gyro        r3.Vector // deg/s
	AccelStdDev r3.Vector // g
	GyroStdDev  r3.Vector // deg/s
	Samples     int
}

// Confidence scores how still the body was while the batch was taken,
// 100 for a noiseless batch and falling with the average deviation.
// It is informational only.
func (b BiasEstimate) Confidence() (accel, gyro float64) {
	accel = 100.0 / (1.0 + meanComponent(b.AccelStdDev)*100.0)
	gyro = 100.0 / (1.0 + meanComponent(b.GyroStdDev)*10.0)
	return accel, gyro
}

// EstimateAccelGyroBias averages a batch taken while the body is at rest.
// The caller is responsible for keeping the body still; nothing here
// detects motion. The accelerometer Z bias has one g removed in the
// direction the device is mounted so that a level sensor has zero bias.
func EstimateAccelGyroBias(batch []imu.IMURaw, accelLSBPerG, gyroLSBPerDPS float64) (BiasEstimate, error) {
	if len(batch) == 0 {
		return BiasEstimate{}, ErrEmptyBatch
	}
	accel := axes(batch, imu.IMURaw.AccelCounts)
	gyro := axes(batch, imu.IMURaw.GyroCounts)

	aMean, aStd := meanStdDev(accel)
	gMean, gStd := meanStdDev(gyro)

	if aMean.Z > 0 {
		aMean.Z -= accelLSBPerG
	} else {
		aMean.Z += accelLSBPerG
	}

	return BiasEstimate{
		Accel:       aMean.Mul(1 / accelLSBPerG),
		Gyro:        gMean.Mul(1 / gyroLSBPerDPS),
		AccelStdDev: aStd.Mul(1 / accelLSBPerG),
		GyroStdDev:  gStd.Mul(1 / gyroLSBPerDPS),
		Samples:     len(batch),
	}, nil
}

// MagEstimate is the hard and soft iron fit of a rotation batch. Bias and
// Extent are in raw counts.
type MagEstimate struct {
	Bias    r3.Vector
	Scale   r3.Vector
	Extent  r3.Vector
	Samples int
}

// BiasPhysical converts the bias to the units the fusion cycle uses.
func (m MagEstimate) BiasPhysical(resolution float64, sensitivity r3.Vector) r3.Vector {
	return r3.Vector{
		X: m.Bias.X * resolution * sensitivity.X,
		Y: m.Bias.Y * resolution * sensitivity.Y,
		Z: m.Bias.Z * resolution * sensitivity.Z,
	}
}

// Confidence is the ratio of the smallest to the largest extent in
// percent. A poor figure-eight leaves one axis short.
func (m MagEstimate) Confidence() float64 {
	lo := math.Min(m.Extent.X, math.Min(m.Extent.Y, m.Extent.Z))
	hi := math.Max(m.Extent.X, math.Max(m.Extent.Y, m.Extent.Z))
	if hi == 0 {
		return 0
	}
	return lo / hi * 100.0
}

// EstimateMagBiasScale fits an axis-aligned ellipsoid to a batch taken
// while the body is turned through as many orientations as possible.
// An axis that never moved keeps a scale of 1.
func EstimateMagBiasScale(batch []imu.IMURaw) (MagEstimate, error) {
	if len(batch) == 0 {
		return MagEstimate{}, ErrEmptyBatch
	}
	mag := axes(batch, imu.IMURaw.MagCounts)

	var bias, extent [3]float64
	for i, values := range mag {
		lo, hi := floats.Min(values), floats.Max(values)
		bias[i] = (hi + lo) / 2
		extent[i] = (hi - lo) / 2
	}
	avg := stat.Mean(extent[:], nil)

	var scale [3]float64
	for i, e := range extent {
		if e == 0 {
			scale[i] = 1
			continue
		}
		scale[i] = avg / e
	}

	return MagEstimate{
		Bias:    r3.Vector{X: bias[0], Y: bias[1], Z: bias[2]},
		Scale:   r3.Vector{X: scale[0], Y: scale[1], Z: scale[2]},
		Extent:  r3.Vector{X: extent[0], Y: extent[1], Z: extent[2]},
		Samples: len(batch),
	}, nil
}

func axes(batch []imu.IMURaw, pick func(imu.IMURaw) r3.Vector) [3][]float64 {
	var out [3][]float64
	for i := range out {
		out[i] = make([]float64, len(batch))
	}
	for n, s := range batch {
		v := pick(s)
		out[0][n], out[1][n], out[2][n] = v.X, v.Y, v.Z
	}
	return out
}

func meanStdDev(a [3][]float64) (mean, std r3.Vector) {
	var m, s [3]float64
	for i, values := range a {
		if len(values) < 2 {
			m[i] = stat.Mean(values, nil)
			continue
		}
		m[i], s[i] = stat.MeanStdDev(values, nil)
	}
	return r3.Vector{X: m[0], Y: m[1], Z: m[2]}, r3.Vector{X: s[0], Y: s[1], Z: s[2]}
}

func meanComponent(v r3.Vector) float64 {
	return (v.X + v.Y + v.Z) / 3
}
