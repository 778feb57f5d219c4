// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

const (
	degToRad = math.Pi / 180.0
	radToDeg = 180.0 / math.Pi
)

// Quaternion is a rotation from the body frame to the earth frame
// (north, west, up). W is the scalar part.
type Quaternion struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Identity is the zero rotation.
func Identity() Quaternion {
	return Quaternion{W: 1}
}

func (q Quaternion) number() quat.Number {
	return quat.Number{Real: q.W, Imag: q.X, Jmag: q.Y, Kmag: q.Z}
}

func fromNumber(n quat.Number) Quaternion {
	return Quaternion{W: n.Real, X: n.Imag, Y: n.Jmag, Z: n.Kmag}
}

func pure(v r3.Vector) Quaternion {
	return Quaternion{X: v.X, Y: v.Y, Z: v.Z}
}

// Vector returns the imaginary part.
func (q Quaternion) Vector() r3.Vector {
	return r3.Vector{X: q.X, Y: q.Y, Z: q.Z}
}

// Mul returns the Hamilton product q⊗p.
func (q Quaternion) Mul(p Quaternion) Quaternion {
	return fromNumber(quat.Mul(q.number(), p.number()))
}

// Conj returns the conjugate, the inverse rotation for a unit quaternion.
func (q Quaternion) Conj() Quaternion {
	return fromNumber(quat.Conj(q.number()))
}

// Add returns the component-wise sum.
func (q Quaternion) Add(p Quaternion) Quaternion {
	return fromNumber(quat.Add(q.number(), p.number()))
}

// Sub returns the component-wise difference.
func (q Quaternion) Sub(p Quaternion) Quaternion {
	return fromNumber(quat.Sub(q.number(), p.number()))
}

// Scale multiplies every component by f.
func (q Quaternion) Scale(f float64) Quaternion {
	return fromNumber(quat.Scale(f, q.number()))
}

// Norm returns the Euclidean length.
func (q Quaternion) Norm() float64 {
	return quat.Abs(q.number())
}

// Normalize returns q scaled to unit length. A zero quaternion maps to
// the identity.
func (q Quaternion) Normalize() Quaternion {
	n := q.Norm()
	if n == 0 {
		return Identity()
	}
	return q.Scale(1 / n)
}

// Dot returns the 4D inner product.
func (q Quaternion) Dot(p Quaternion) float64 {
	return q.W*p.W + q.X*p.X + q.Y*p.Y + q.Z*p.Z
}

// IsFinite reports whether no component is NaN or Inf.
func (q Quaternion) IsFinite() bool {
	return !quat.IsNaN(q.number()) && !quat.IsInf(q.number())
}

// Rotate maps a body-frame vector into the earth frame: q⊗v⊗q*.
func (q Quaternion) Rotate(v r3.Vector) r3.Vector {
	return q.Mul(pure(v)).Mul(q.Conj()).Vector()
}

// RotateInverse maps an earth-frame vector into the body frame: q*⊗v⊗q.
func (q Quaternion) RotateInverse(v r3.Vector) r3.Vector {
	return q.Conj().Mul(pure(v)).Mul(q).Vector()
}

// Euler returns ZYX roll, pitch and yaw in radians.
func (q Quaternion) Euler() (roll, pitch, yaw float64) {
	roll = math.Atan2(2*(q.W*q.X+q.Y*q.Z), 1-2*(q.X*q.X+q.Y*q.Y))
	sp := 2 * (q.W*q.Y - q.X*q.Z)
	if sp > 1 {
		sp = 1
	} else if sp < -1 {
		sp = -1
	}
	pitch = math.Asin(sp)
	yaw = math.Atan2(2*(q.W*q.Z+q.X*q.Y), 1-2*(q.Y*q.Y+q.Z*q.Z))
	return roll, pitch, yaw
}

// FromEuler builds the quaternion for ZYX roll, pitch and yaw in radians.
func FromEuler(roll, pitch, yaw float64) Quaternion {
	sr, cr := math.Sincos(roll / 2)
	sp, cp := math.Sincos(pitch / 2)
	sy, cy := math.Sincos(yaw / 2)
	return Quaternion{
		W: cr*cp*cy + sr*sp*sy,
		X: sr*cp*cy - cr*sp*sy,
		Y: cr*sp*cy + sr*cp*sy,
		Z: cr*cp*sy - sr*sp*cy,
	}
}

// Distance returns the rotation angle in radians between two unit
// quaternions. q and -q are the same rotation.
func Distance(a, b Quaternion) float64 {
	d := math.Abs(a.Dot(b))
	if d > 1 {
		d = 1
	}
	return 2 * math.Acos(d)
}

// derivative returns ½ q⊗(0,ω) for ω in rad/s.
func derivative(q Quaternion, omega r3.Vector) Quaternion {
	return q.Mul(pure(omega)).Scale(0.5)
}
