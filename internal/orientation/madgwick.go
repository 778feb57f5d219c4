// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"math"

	"github.com/golang/geo/r3"
)

// gradientDescent is Madgwick's MARG filter. One normalized gradient step
// on the gravity and field objective is folded into the gyro rate before
// integration.
type gradientDescent struct {
	maxDT float64
	beta  float64 // rad/s
	zeta  float64 // rad/s²

	q    Quaternion
	bias r3.Vector // gyro drift estimate, rad/s
}

func newGradientDescent(opts Options) *gradientDescent {
	return &gradientDescent{
		maxDT: opts.MaxDeltaT,
		beta:  math.Sqrt(3.0/4.0) * opts.GyroMeasError * degToRad,
		zeta:  math.Sqrt(3.0/4.0) * opts.GyroMeasDrift * degToRad,
		q:     Identity(),
	}
}

func (f *gradientDescent) Update(accel, gyro, mag r3.Vector, dt float64) Quaternion {
	if !ValidDeltaT(dt, f.maxDT) {
		return f.q
	}
	q := f.q
	bias := f.bias

	step, corrected := gradientStep(q, accel, mag)
	if corrected && f.zeta > 0 {
		// Gyro error is the rate implied by the step direction.
		werr := q.Conj().Mul(step).Scale(2).Vector()
		bias = bias.Add(werr.Mul(dt * f.zeta))
	}

	qDot := derivative(q, gyro.Mul(degToRad).Sub(bias))
	if corrected {
		qDot = qDot.Sub(step.Scale(f.beta))
	}
	next := q.Add(qDot.Scale(dt)).Normalize()
	if !next.IsFinite() {
		return f.q
	}
	f.q = next
	f.bias = bias
	return next
}

func (f *gradientDescent) Quaternion() Quaternion { return f.q }

func (f *gradientDescent) Reset() {
	f.q = Identity()
	f.bias = r3.Vector{}
}

// gradientStep returns the normalized gradient Jᵀf of the objective
// comparing predicted and measured gravity and magnetic field. ok is false
// when either measurement is degenerate or the gradient vanishes.
func gradientStep(q Quaternion, accel, mag r3.Vector) (step Quaternion, ok bool) {
	if degenerate(accel) || degenerate(mag) {
		return Quaternion{}, false
	}
	a := accel.Normalize()
	m := mag.Normalize()

	// Earth-frame field flattened onto the north-up plane.
	h := q.Rotate(m)
	bx := math.Hypot(h.X, h.Y)
	bz := h.Z

	q0, q1, q2, q3 := q.W, q.X, q.Y, q.Z

	// Gravity objective and Jacobian rows.
	fg := [3]float64{
		2*(q1*q3-q0*q2) - a.X,
		2*(q0*q1+q2*q3) - a.Y,
		1 - 2*(q1*q1+q2*q2) - a.Z,
	}
	jg := [3][4]float64{
		{-2 * q2, 2 * q3, -2 * q0, 2 * q1},
		{2 * q1, 2 * q0, 2 * q3, 2 * q2},
		{0, -4 * q1, -4 * q2, 0},
	}

	// Field objective and Jacobian rows for reference (bx, 0, bz).
	fb := [3]float64{
		2*bx*(0.5-q2*q2-q3*q3) + 2*bz*(q1*q3-q0*q2) - m.X,
		2*bx*(q1*q2-q0*q3) + 2*bz*(q0*q1+q2*q3) - m.Y,
		2*bx*(q0*q2+q1*q3) + 2*bz*(0.5-q1*q1-q2*q2) - m.Z,
	}
	jb := [3][4]float64{
		{-2 * bz * q2, 2 * bz * q3, -4*bx*q2 - 2*bz*q0, -4*bx*q3 + 2*bz*q1},
		{-2*bx*q3 + 2*bz*q1, 2*bx*q2 + 2*bz*q0, 2*bx*q1 + 2*bz*q3, -2*bx*q0 + 2*bz*q2},
		{2 * bx * q2, 2*bx*q3 - 4*bz*q1, 2*bx*q0 - 4*bz*q2, 2 * bx * q1},
	}

	var s [4]float64
	for row := 0; row < 3; row++ {
		for col := 0; col < 4; col++ {
			s[col] += jg[row][col]*fg[row] + jb[row][col]*fb[row]
		}
	}
	step = Quaternion{W: s[0], X: s[1], Y: s[2], Z: s[3]}
	n := step.Norm()
	if !(n > degenerateNorm) {
		return Quaternion{}, false
	}
	return step.Scale(1 / n), true
}
