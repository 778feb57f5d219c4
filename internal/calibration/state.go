package calibration

import (
	"fmt"
	"sync"

	"github.com/golang/geo/r3"
)

// Correction is a copy of the calibration applied to one fusion cycle.
type Correction struct {
	AccelBias      r3.Vector `yaml:"accel_bias" json:"accel_bias"`           // g
	GyroBias       r3.Vector `yaml:"gyro_bias" json:"gyro_bias"`             // deg/s
	MagBias        r3.Vector `yaml:"mag_bias" json:"mag_bias"`               // mG
	MagScale       r3.Vector `yaml:"mag_scale" json:"mag_scale"`             // unitless
	MagSensitivity r3.Vector `yaml:"mag_sensitivity" json:"mag_sensitivity"` // factory ASA multiplier
}

// CorrectAccel removes the accelerometer bias.
func (c Correction) CorrectAccel(a r3.Vector) r3.Vector {
	return a.Sub(c.AccelBias)
}

// CorrectGyro removes the gyroscope bias.
func (c Correction) CorrectGyro(g r3.Vector) r3.Vector {
	return g.Sub(c.GyroBias)
}

// CorrectMag applies the factory sensitivity, removes the hard-iron bias
// and applies the soft-iron scale.
func (c Correction) CorrectMag(m r3.Vector) r3.Vector {
	return r3.Vector{
		X: (m.X*c.MagSensitivity.X - c.MagBias.X) * c.MagScale.X,
		Y: (m.Y*c.MagSensitivity.Y - c.MagBias.Y) * c.MagScale.Y,
		Z: (m.Z*c.MagSensitivity.Z - c.MagBias.Z) * c.MagScale.Z,
	}
}

// State owns the live calibration. The fusion loop reads it every cycle
// and calibration runs write it, possibly from another goroutine.
type State struct {
	mu sync.RWMutex
	c  Correction
}

// NewState starts with zero biases, unit scale and the factory
// sensitivity read from the magnetometer. The sensitivity never changes.
func NewState(magSensitivity r3.Vector) *State {
	if magSensitivity == (r3.Vector{}) {
		magSensitivity = r3.Vector{X: 1, Y: 1, Z: 1}
	}
	return &State{c: Correction{
		MagScale:       r3.Vector{X: 1, Y: 1, Z: 1},
		MagSensitivity: magSensitivity,
	}}
}

// Snapshot returns the current correction.
func (s *State) Snapshot() Correction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.c
}

// SetAccelGyroBias replaces the accelerometer and gyroscope biases.
func (s *State) SetAccelGyroBias(accel, gyro r3.Vector) {
	s.mu.Lock()
	s.c.AccelBias = accel
	s.c.GyroBias = gyro
	s.mu.Unlock()
}

// StoreBias lets a State act as a live bias sink.
func (s *State) StoreBias(accel, gyro r3.Vector) error {
	s.SetAccelGyroBias(accel, gyro)
	return nil
}

// SetMagCalibration replaces the hard-iron bias (mG) and soft-iron scale.
func (s *State) SetMagCalibration(bias, scale r3.Vector) error {
	if !(scale.X > 0 && scale.Y > 0 && scale.Z > 0) {
		return fmt.Errorf("%w: got %v", ErrInvalidScale, scale)
	}
	s.mu.Lock()
	s.c.MagBias = bias
	s.c.MagScale = scale
	s.mu.Unlock()
	return nil
}
