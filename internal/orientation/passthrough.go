package orientation

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// earthTriad holds north, west and up in the earth frame, one per column.
var earthTriad = mat.NewDense(3, 3, []float64{
	1, 0, 0,
	0, 1, 0,
	0, 0, 1,
})

// passthrough derives orientation from the gravity and field directions
// alone. It keeps no memory beyond the last estimate, which it returns
// when the accelerometer gives it nothing to work with.
type passthrough struct {
	maxDT float64
	q     Quaternion
}

func newPassthrough(opts Options) *passthrough {
	return &passthrough{maxDT: opts.MaxDeltaT, q: Identity()}
}

func (f *passthrough) Update(accel, _, mag r3.Vector, dt float64) Quaternion {
	if !ValidDeltaT(dt, f.maxDT) || degenerate(accel) {
		return f.q
	}
	up := accel.Normalize()
	west := up.Cross(mag)
	if degenerate(mag) || degenerate(west) {
		pose := ComputePoseFromAccel(up.X, up.Y, up.Z)
		f.q = FromEuler(pose.Roll*degToRad, pose.Pitch*degToRad, 0)
		return f.q
	}
	west = west.Normalize()
	north := west.Cross(up)

	body := mat.NewDense(3, 3, nil)
	body.SetCol(0, []float64{north.X, north.Y, north.Z})
	body.SetCol(1, []float64{west.X, west.Y, west.Z})
	body.SetCol(2, []float64{up.X, up.Y, up.Z})

	// TRIAD: R = E·Bᵀ maps each body triad vector onto its earth twin.
	var r mat.Dense
	r.Mul(earthTriad, body.T())
	q := fromRotation(&r)
	if q.IsFinite() {
		f.q = q
	}
	return f.q
}

func (f *passthrough) Quaternion() Quaternion { return f.q }

func (f *passthrough) Reset() { f.q = Identity() }

// fromRotation converts a body-to-earth rotation matrix with Shepperd's
// method, branching on the largest diagonal term for stability.
func fromRotation(r mat.Matrix) Quaternion {
	m00, m01, m02 := r.At(0, 0), r.At(0, 1), r.At(0, 2)
	m10, m11, m12 := r.At(1, 0), r.At(1, 1), r.At(1, 2)
	m20, m21, m22 := r.At(2, 0), r.At(2, 1), r.At(2, 2)

	var q Quaternion
	switch tr := m00 + m11 + m22; {
	case tr > 0:
		s := math.Sqrt(tr+1) * 2
		q = Quaternion{W: s / 4, X: (m21 - m12) / s, Y: (m02 - m20) / s, Z: (m10 - m01) / s}
	case m00 > m11 && m00 > m22:
		s := math.Sqrt(1+m00-m11-m22) * 2
		q = Quaternion{W: (m21 - m12) / s, X: s / 4, Y: (m01 + m10) / s, Z: (m02 + m20) / s}
	case m11 > m22:
		s := math.Sqrt(1+m11-m00-m22) * 2
		q = Quaternion{W: (m02 - m20) / s, X: (m01 + m10) / s, Y: s / 4, Z: (m12 + m21) / s}
	default:
		s := math.Sqrt(1+m22-m00-m11) * 2
		q = Quaternion{W: (m10 - m01) / s, X: (m02 + m20) / s, Y: (m12 + m21) / s, Z: s / 4}
	}
	if q.W < 0 {
		q = q.Scale(-1)
	}
	return q.Normalize()
}
