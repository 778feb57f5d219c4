package sensors

import (
	"math"
	"time"

	"github.com/golang/geo/r3"

	"github.com/relabs-tech/inertial_ahrs/internal/imu"
	"github.com/relabs-tech/inertial_ahrs/internal/orientation"
)

// EarthField is the reference magnetic field used by the synthetic source,
// in mG in the north-west-up frame: mostly north and pointing down.
var EarthField = r3.Vector{X: 220, Y: 0, Z: -420}

// SyntheticSource produces raw counts for a body slowly rolling, pitching
// and turning, as a stand-in for hardware on a desk.
type SyntheticSource struct {
	res   imu.Resolutions
	now   func() time.Time
	start time.Time

	prev     orientation.Quaternion
	prevTime time.Time
}

// NewSyntheticSource builds a source that encodes counts at the given
// resolutions. now defaults to time.Now.
func NewSyntheticSource(res imu.Resolutions, now func() time.Time) *SyntheticSource {
	if now == nil {
		now = time.Now
	}
	return &SyntheticSource{res: res, now: now, start: now()}
}

// Attitude is the orientation of the synthetic body at t seconds.
func Attitude(t float64) orientation.Quaternion {
	roll := 20 * math.Sin(t)
	pitch := 15 * math.Cos(t*0.7)
	yaw := math.Mod(t*30, 360)
	return orientation.FromEuler(roll*math.Pi/180, pitch*math.Pi/180, yaw*math.Pi/180)
}

// Truth returns the attitude the source encodes at t.
func (s *SyntheticSource) Truth(t time.Time) orientation.Quaternion {
	return Attitude(t.Sub(s.start).Seconds())
}

// ReadRaw implements imu.RawReader.
func (s *SyntheticSource) ReadRaw() (imu.IMURaw, error) {
	now := s.now()
	q := s.Truth(now)

	accel := q.RotateInverse(r3.Vector{Z: 1})
	mag := q.RotateInverse(EarthField)

	// Body rate from the change since the last read: q_prev* ⊗ q = [1, ω·dt/2].
	var gyro r3.Vector
	if !s.prevTime.IsZero() {
		if dt := now.Sub(s.prevTime).Seconds(); dt > 0 {
			dq := s.prev.Conj().Mul(q)
			if dq.W < 0 {
				dq = dq.Scale(-1)
			}
			gyro = dq.Vector().Mul(2 / dt * 180 / math.Pi)
		}
	}
	s.prev, s.prevTime = q, now

	return imu.IMURaw{
		Source: "synthetic",
		Ax:     counts(accel.X, s.res.Accel),
		Ay:     counts(accel.Y, s.res.Accel),
		Az:     counts(accel.Z, s.res.Accel),
		Gx:     counts(gyro.X, s.res.Gyro),
		Gy:     counts(gyro.Y, s.res.Gyro),
		Gz:     counts(gyro.Z, s.res.Gyro),
		Mx:     counts(mag.X, s.res.Mag),
		My:     counts(mag.Y, s.res.Mag),
		Mz:     counts(mag.Z, s.res.Mag),
	}, nil
}

func counts(v, res float64) int16 {
	c := math.Round(v / res)
	switch {
	case c > math.MaxInt16:
		return math.MaxInt16
	case c < math.MinInt16:
		return math.MinInt16
	}
	return int16(c)
}
