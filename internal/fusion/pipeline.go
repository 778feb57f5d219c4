// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package fusion turns raw IMU samples into an attitude estimate: unit
// conversion, calibration, filtering and derived outputs, one cycle per
// available sample.
package fusion

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang/geo/r3"

	"github.com/relabs-tech/inertial_ahrs/internal/calibration"
	"github.com/relabs-tech/inertial_ahrs/internal/imu"
	"github.com/relabs-tech/inertial_ahrs/internal/orientation"
)

// Options configures a Pipeline.
type Options struct {
	Resolutions imu.Resolutions
	// Iterations is how many filter steps each sample is run through. The
	// elapsed time is split evenly across them, so more iterations smooth
	// the integration but do not speed up convergence.
	Iterations int
	// Declination in degrees is added to yaw to reference true north.
	Declination float64
	// MaxDeltaT in seconds; longer gaps hold the estimate.
	MaxDeltaT float64
	// AHRS disables the filter when false; outputs then carry only the
	// corrected sample and the last estimate.
	AHRS bool
	Now  func() time.Time
}

// Output is everything derived from one sample.
type Output struct {
	Time        time.Time              `json:"time"`
	Raw         imu.IMURaw             `json:"raw"`
	Sample      imu.Sample             `json:"sample"`
	Quaternion  orientation.Quaternion `json:"quaternion"`
	Pose        orientation.Pose       `json:"pose"`
	LinearAccel r3.Vector              `json:"linear_accel"` // g
	Held        bool                   `json:"held"`
}

// Pipeline runs the fusion cycle. It is driven from a single loop; the
// calibration state it reads may be updated concurrently.
type Pipeline struct {
	src    imu.RawReader
	filter orientation.Filter
	cal    *calibration.State
	opts   Options

	last time.Time

	declMu      sync.RWMutex
	declination float64
}

// New checks the options and wires the collaborators together.
func New(src imu.RawReader, filter orientation.Filter, cal *calibration.State, opts Options) (*Pipeline, error) {
	if filter == nil || cal == nil {
		return nil, fmt.Errorf("fusion: filter and calibration state are required")
	}
	if opts.Iterations < 1 {
		return nil, fmt.Errorf("fusion: iterations must be >= 1, got %d", opts.Iterations)
	}
	if opts.Resolutions == (imu.Resolutions{}) {
		return nil, fmt.Errorf("fusion: resolutions are required")
	}
	switch {
	case opts.MaxDeltaT == 0:
		opts.MaxDeltaT = orientation.DefaultMaxDeltaT
	case !(opts.MaxDeltaT > 0):
		return nil, fmt.Errorf("fusion: max delta t must be > 0, got %v", opts.MaxDeltaT)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{src: src, filter: filter, cal: cal, opts: opts, declination: opts.Declination}, nil
}

// Update reads one sample and processes it. imu.ErrNotReady is returned
// as is and leaves the pipeline untouched.
func (p *Pipeline) Update() (Output, error) {
	if p.src == nil {
		return Output{}, fmt.Errorf("fusion: no raw source")
	}
	raw, err := p.src.ReadRaw()
	if err != nil {
		return Output{}, err
	}
	return p.Process(raw, p.opts.Now()), nil
}

// Next implements orientation.Source.
func (p *Pipeline) Next() (orientation.Pose, error) {
	out, err := p.Update()
	return out.Pose, err
}

// Process runs one cycle on a sample read at now.
func (p *Pipeline) Process(raw imu.IMURaw, now time.Time) Output {
	var dt float64
	if !p.last.IsZero() {
		dt = now.Sub(p.last).Seconds()
	}
	p.last = now

	c := p.cal.Snapshot()
	accel, gyro, mag := p.opts.Resolutions.Convert(raw)
	sample := imu.Sample{
		Accel: c.CorrectAccel(accel),
		Gyro:  c.CorrectGyro(gyro),
		Mag:   c.CorrectMag(mag),
		DT:    dt,
	}

	held := true
	if p.opts.AHRS && orientation.ValidDeltaT(dt, p.opts.MaxDeltaT) {
		step := dt / float64(p.opts.Iterations)
		for i := 0; i < p.opts.Iterations; i++ {
			p.filter.Update(sample.Accel, sample.Gyro, sample.Mag, step)
		}
		held = false
	}

	q := p.filter.Quaternion()
	return Output{
		Time:        now,
		Raw:         raw,
		Sample:      sample,
		Quaternion:  q,
		Pose:        orientation.PoseFromQuaternion(q, p.Declination()),
		LinearAccel: LinearAccel(q, sample.Accel),
		Held:        held,
	}
}

// SetDeclination replaces the declination, e.g. from a GPS fix. It may be
// called from another goroutine.
func (p *Pipeline) SetDeclination(deg float64) {
	p.declMu.Lock()
	p.declination = deg
	p.declMu.Unlock()
}

// Declination returns the declination in degrees.
func (p *Pipeline) Declination() float64 {
	p.declMu.RLock()
	defer p.declMu.RUnlock()
	return p.declination
}

// Reset restarts the filter and forgets the sample clock.
func (p *Pipeline) Reset() {
	p.filter.Reset()
	p.last = time.Time{}
}

// LinearAccel subtracts gravity, as seen from the body at orientation q,
// from a measured acceleration in g.
func LinearAccel(q orientation.Quaternion, accel r3.Vector) r3.Vector {
	return accel.Sub(q.RotateInverse(r3.Vector{Z: 1}))
}
