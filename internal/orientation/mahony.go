package orientation

import (
	"math"

	"github.com/golang/geo/r3"
)

// piFeedback is Mahony's complementary filter: the cross product between
// measured and predicted reference directions drives a PI correction of
// the gyro rate.
type piFeedback struct {
	maxDT float64
	kp    float64
	ki    float64
	limit float64

	q        Quaternion
	integral r3.Vector // Ki·∫e dt, rad/s
}

func newPIFeedback(opts Options) *piFeedback {
	return &piFeedback{
		maxDT: opts.MaxDeltaT,
		kp:    opts.Kp,
		ki:    opts.Ki,
		limit: opts.IntegralLimit,
		q:     Identity(),
	}
}

func (f *piFeedback) Update(accel, gyro, mag r3.Vector, dt float64) Quaternion {
	if !ValidDeltaT(dt, f.maxDT) {
		return f.q
	}
	q := f.q
	integral := f.integral
	omega := gyro.Mul(degToRad)

	if e, ok := feedbackError(q, accel, mag); ok {
		if f.ki != 0 {
			integral = clampVector(integral.Add(e.Mul(f.ki*dt)), f.limit)
			omega = omega.Add(integral)
		}
		omega = omega.Add(e.Mul(f.kp))
	}

	next := q.Add(derivative(q, omega).Scale(dt)).Normalize()
	if !next.IsFinite() {
		return f.q
	}
	f.q = next
	f.integral = integral
	return next
}

func (f *piFeedback) Quaternion() Quaternion { return f.q }

func (f *piFeedback) Reset() {
	f.q = Identity()
	f.integral = r3.Vector{}
}

// Integral returns the accumulated integral correction in rad/s.
func (f *piFeedback) Integral() r3.Vector { return f.integral }

// feedbackError sums measured×predicted for gravity and, when the
// magnetometer reads something, for the horizontal field.
func feedbackError(q Quaternion, accel, mag r3.Vector) (r3.Vector, bool) {
	if degenerate(accel) {
		return r3.Vector{}, false
	}
	a := accel.Normalize()
	v := q.RotateInverse(r3.Vector{Z: 1})
	e := a.Cross(v)

	if !degenerate(mag) {
		m := mag.Normalize()
		h := q.Rotate(m)
		b := r3.Vector{X: math.Hypot(h.X, h.Y), Z: h.Z}
		w := q.RotateInverse(b)
		e = e.Add(m.Cross(w))
	}
	return e, true
}

func clampVector(v r3.Vector, limit float64) r3.Vector {
	if limit <= 0 {
		return v
	}
	c := func(x float64) float64 { return math.Max(-limit, math.Min(limit, x)) }
	return r3.Vector{X: c(v.X), Y: c(v.Y), Z: c(v.Z)}
}
