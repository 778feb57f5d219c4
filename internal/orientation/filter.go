// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"fmt"
	"math"
	"strings"

	"github.com/golang/geo/r3"
)

// DefaultMaxDeltaT is the longest gap, in seconds, a filter will integrate
// across. Anything longer is treated as a stall.
const DefaultMaxDeltaT = 0.5

// degenerateNorm is the smallest vector length treated as a measurement.
const degenerateNorm = 1e-9

// Filter estimates orientation from accel (g), gyro (deg/s) and mag
// samples. A Filter owns its state and is not safe for concurrent use.
type Filter interface {
	// Update advances the estimate by dt seconds and returns it. When dt is
	// not in (0, MaxDeltaT] the previous estimate is returned unchanged.
	Update(accel, gyro, mag r3.Vector, dt float64) Quaternion
	// Quaternion returns the current estimate.
	Quaternion() Quaternion
	// Reset returns to the identity and clears any accumulated state.
	Reset()
}

// Selection picks the filter algorithm. It is fixed for the life of a
// filter; switching requires building a new one.
type Selection int

const (
	Passthrough Selection = iota
	GradientDescent
	PIFeedback
)

func (s Selection) String() string {
	switch s {
	case Passthrough:
		return "passthrough"
	case GradientDescent:
		return "madgwick"
	case PIFeedback:
		return "mahony"
	}
	return fmt.Sprintf("Selection(%d)", int(s))
}

// ParseSelection accepts the algorithm name or its family name.
func ParseSelection(s string) (Selection, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "passthrough":
		return Passthrough, nil
	case "madgwick", "gradient_descent":
		return GradientDescent, nil
	case "mahony", "pi_feedback":
		return PIFeedback, nil
	}
	return 0, fmt.Errorf("unknown filter %q (want none, madgwick or mahony)", s)
}

// Options tunes the filters. Fields that do not apply to the selected
// algorithm are ignored.
type Options struct {
	MaxDeltaT float64 // seconds

	// Gradient descent.
	GyroMeasError float64 // deg/s
	GyroMeasDrift float64 // deg/s²

	// PI feedback.
	Kp            float64
	Ki            float64
	IntegralLimit float64 // rad/s per axis, 0 disables the clamp
}

// DefaultOptions returns the tuning used on the MPU9250.
// Kp above 40 starts to oscillate on that part and Ki does not help.
func DefaultOptions() Options {
	return Options{
		MaxDeltaT:     DefaultMaxDeltaT,
		GyroMeasError: 40,
		GyroMeasDrift: 0,
		Kp:            30,
		Ki:            0,
	}
}

func (o Options) validate() error {
	if !(o.MaxDeltaT > 0) {
		return fmt.Errorf("max delta t must be > 0, got %v", o.MaxDeltaT)
	}
	if o.GyroMeasError < 0 || o.GyroMeasDrift < 0 {
		return fmt.Errorf("gyro measurement error and drift must be >= 0, got %v and %v", o.GyroMeasError, o.GyroMeasDrift)
	}
	if o.Kp < 0 || o.Ki < 0 || o.IntegralLimit < 0 {
		return fmt.Errorf("mahony gains must be >= 0, got kp=%v ki=%v limit=%v", o.Kp, o.Ki, o.IntegralLimit)
	}
	return nil
}

// New builds the filter for sel starting at the identity.
func New(sel Selection, opts Options) (Filter, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	switch sel {
	case Passthrough:
		return newPassthrough(opts), nil
	case GradientDescent:
		return newGradientDescent(opts), nil
	case PIFeedback:
		return newPIFeedback(opts), nil
	}
	return nil, fmt.Errorf("unknown filter selection %v", sel)
}

// ValidDeltaT reports whether dt can be integrated.
func ValidDeltaT(dt, max float64) bool {
	return dt > 0 && dt <= max && !math.IsInf(dt, 0)
}

func degenerate(v r3.Vector) bool {
	return !(v.Norm() > degenerateNorm)
}
