// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// ProfileVersion is bumped when the on-disk layout changes.
const ProfileVersion = 1

// Profile is the calibration persisted between runs.
type Profile struct {
	Version   int       `yaml:"version"`
	ID        string    `yaml:"id"`
	Source    string    `yaml:"source,omitempty"`
	Timestamp time.Time `yaml:"timestamp"`

	AccelBias r3.Vector `yaml:"accel_bias"` // g
	GyroBias  r3.Vector `yaml:"gyro_bias"`  // deg/s
	MagBias   r3.Vector `yaml:"mag_bias"`   // mG
	MagScale  r3.Vector `yaml:"mag_scale"`

	AccelConfidence float64 `yaml:"accel_confidence"`
	GyroConfidence  float64 `yaml:"gyro_confidence"`
	MagConfidence   float64 `yaml:"mag_confidence"`

	AccelGyroSamples int `yaml:"accel_gyro_samples"`
	MagSamples       int `yaml:"mag_samples"`
}

// NewProfile returns an empty profile with unit magnetometer scale.
func NewProfile(source string) *Profile {
	return &Profile{
		Version:   ProfileVersion,
		ID:        uuid.NewString(),
		Source:    source,
		Timestamp: time.Now().UTC(),
		MagScale:  r3.Vector{X: 1, Y: 1, Z: 1},
	}
}

// SetBias records an accel/gyro estimate.
func (p *Profile) SetBias(est BiasEstimate) {
	p.AccelBias = est.Accel
	p.GyroBias = est.Gyro
	p.AccelConfidence, p.GyroConfidence = est.Confidence()
	p.AccelGyroSamples = est.Samples
	p.Timestamp = time.Now().UTC()
}

// SetMag records a magnetometer fit, bias already in mG.
func (p *Profile) SetMag(bias r3.Vector, est MagEstimate) {
	p.MagBias = bias
	p.MagScale = est.Scale
	p.MagConfidence = est.Confidence()
	p.MagSamples = est.Samples
	p.Timestamp = time.Now().UTC()
}

// Apply loads the profile into a live state.
func (p *Profile) Apply(s *State) error {
	if err := s.SetMagCalibration(p.MagBias, p.MagScale); err != nil {
		return fmt.Errorf("profile %s: %w", p.ID, err)
	}
	s.SetAccelGyroBias(p.AccelBias, p.GyroBias)
	return nil
}

// LoadProfile reads a YAML profile.
func LoadProfile(path string) (*Profile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p Profile
	if err := yaml.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("calibration profile %s: %w", path, err)
	}
	if p.Version != ProfileVersion {
		return nil, fmt.Errorf("calibration profile %s: unsupported version %d", path, p.Version)
	}
	if p.MagScale == (r3.Vector{}) {
		p.MagScale = r3.Vector{X: 1, Y: 1, Z: 1}
	}
	return &p, nil
}

// Save writes the profile atomically.
func (p *Profile) Save(path string) error {
	b, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal calibration profile: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".calibration-*.yaml")
	if err != nil {
		return fmt.Errorf("write calibration profile: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write calibration profile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write calibration profile: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// FileSink persists accel/gyro biases into a profile on disk, creating it
// if needed and keeping any magnetometer calibration already there.
type FileSink struct {
	Path   string
	Source string
}

// StoreBias implements imu.BiasSink.
func (f FileSink) StoreBias(accel, gyro r3.Vector) error {
	p, err := LoadProfile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		p = NewProfile(f.Source)
	} else if err != nil {
		return err
	}
	p.AccelBias = accel
	p.GyroBias = gyro
	p.Timestamp = time.Now().UTC()
	return p.Save(f.Path)
}
