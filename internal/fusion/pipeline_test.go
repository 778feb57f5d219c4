package fusion

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/golang/geo/r3"

	"github.com/relabs-tech/inertial_ahrs/internal/calibration"
	"github.com/relabs-tech/inertial_ahrs/internal/imu"
	"github.com/relabs-tech/inertial_ahrs/internal/orientation"
)

// countingFilter records every step it is given.
type countingFilter struct {
	steps []float64
	q     orientation.Quaternion
}

func (f *countingFilter) Update(_, _, _ r3.Vector, dt float64) orientation.Quaternion {
	f.steps = append(f.steps, dt)
	return f.q
}

func (f *countingFilter) Quaternion() orientation.Quaternion { return f.q }

func (f *countingFilter) Reset() {
	f.steps = nil
	f.q = orientation.Identity()
}

type fakeSource struct {
	raw imu.IMURaw
	err error
}

func (s *fakeSource) ReadRaw() (imu.IMURaw, error) { return s.raw, s.err }

var level = imu.IMURaw{Az: 16384, Mx: 2000, Mz: -3000}

func defaultResolutions() imu.Resolutions {
	return imu.NewResolutions(imu.Accel2G, imu.Gyro250DPS, imu.Mag16Bits)
}

func newPipeline(t *testing.T, src imu.RawReader, f orientation.Filter, opts Options) *Pipeline {
	t.Helper()
	if opts.Resolutions == (imu.Resolutions{}) {
		opts.Resolutions = defaultResolutions()
	}
	if opts.Iterations == 0 {
		opts.Iterations = 1
	}
	p, err := New(src, f, calibration.NewState(r3.Vector{}), opts)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return p
}

func TestUpdatePassesNotReadyThrough(t *testing.T) {
	f := &countingFilter{q: orientation.Identity()}
	p := newPipeline(t, &fakeSource{err: imu.ErrNotReady}, f, Options{AHRS: true})

	if _, err := p.Update(); !errors.Is(err, imu.ErrNotReady) {
		t.Fatalf("got=%v want=ErrNotReady", err)
	}
	if len(f.steps) != 0 || !p.last.IsZero() {
		t.Fatalf("pipeline advanced on not-ready: steps=%v last=%v", f.steps, p.last)
	}
}

func TestProcessSplitsDeltaTAcrossIterations(t *testing.T) {
	f := &countingFilter{q: orientation.Identity()}
	p := newPipeline(t, nil, f, Options{AHRS: true, Iterations: 4})
	t0 := time.Unix(1000, 0)

	out := p.Process(level, t0)
	if !out.Held || len(f.steps) != 0 {
		t.Fatalf("first sample got held=%v steps=%v, want held and no steps", out.Held, f.steps)
	}

	out = p.Process(level, t0.Add(20*time.Millisecond))
	if out.Held {
		t.Fatalf("second sample held")
	}
	if len(f.steps) != 4 {
		t.Fatalf("steps got=%d want=4", len(f.steps))
	}
	for _, s := range f.steps {
		if math.Abs(s-0.005) > 1e-12 {
			t.Fatalf("step got=%v want=0.005", s)
		}
	}
	if math.Abs(out.Sample.DT-0.02) > 1e-12 {
		t.Fatalf("dt got=%v want=0.02", out.Sample.DT)
	}
}

func TestProcessHoldsAcrossStall(t *testing.T) {
	f := &countingFilter{q: orientation.Identity()}
	p := newPipeline(t, nil, f, Options{AHRS: true, Iterations: 10})
	t0 := time.Unix(1000, 0)

	p.Process(level, t0)
	// 0.8s is over the limit even though each of the ten steps would not be.
	out := p.Process(level, t0.Add(800*time.Millisecond))
	if !out.Held || len(f.steps) != 0 {
		t.Fatalf("stall got held=%v steps=%d", out.Held, len(f.steps))
	}

	out = p.Process(level, t0.Add(810*time.Millisecond))
	if out.Held || len(f.steps) != 10 {
		t.Fatalf("after stall got held=%v steps=%d", out.Held, len(f.steps))
	}
}

func TestProcessWithoutAHRS(t *testing.T) {
	f := &countingFilter{q: orientation.Identity()}
	p := newPipeline(t, nil, f, Options{AHRS: false})
	t0 := time.Unix(1000, 0)

	p.Process(level, t0)
	out := p.Process(level, t0.Add(10*time.Millisecond))
	if !out.Held || len(f.steps) != 0 {
		t.Fatalf("got held=%v steps=%d want held with no steps", out.Held, len(f.steps))
	}
	if math.Abs(out.Sample.Accel.Z-1) > 1e-9 {
		t.Fatalf("accel not converted: %v", out.Sample.Accel)
	}
}

func TestProcessAppliesCalibration(t *testing.T) {
	f := &countingFilter{q: orientation.Identity()}
	cal := calibration.NewState(r3.Vector{})
	cal.SetAccelGyroBias(r3.Vector{Z: 0.5}, r3.Vector{X: 1})
	p, err := New(nil, f, cal, Options{Resolutions: defaultResolutions(), Iterations: 1, AHRS: true})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	raw := imu.IMURaw{Az: 16384, Gx: 131}
	out := p.Process(raw, time.Unix(1000, 0))
	if math.Abs(out.Sample.Accel.Z-0.5) > 1e-9 {
		t.Fatalf("accel got=%v want z=0.5", out.Sample.Accel)
	}
	want := 131*imu.Gyro250DPS.Resolution() - 1
	if math.Abs(out.Sample.Gyro.X-want) > 1e-9 {
		t.Fatalf("gyro got=%v want x=%v", out.Sample.Gyro, want)
	}
}

func TestProcessDeclinationWraps(t *testing.T) {
	f := &countingFilter{q: orientation.FromEuler(0, 0, 175*math.Pi/180)}
	p := newPipeline(t, nil, f, Options{Declination: 10})

	out := p.Process(level, time.Unix(1000, 0))
	if math.Abs(out.Pose.Yaw-(-175)) > 1e-6 {
		t.Fatalf("yaw got=%v want=-175", out.Pose.Yaw)
	}

	p.SetDeclination(-5)
	if p.Declination() != -5 {
		t.Fatalf("declination got=%v want=-5", p.Declination())
	}
	out = p.Process(level, time.Unix(1001, 0))
	if math.Abs(out.Pose.Yaw-170) > 1e-6 {
		t.Fatalf("yaw got=%v want=170", out.Pose.Yaw)
	}
}

func TestLinearAccel(t *testing.T) {
	if got := LinearAccel(orientation.Identity(), r3.Vector{Z: 1}); got.Norm() > 1e-12 {
		t.Fatalf("at rest got=%v want=0", got)
	}

	q := orientation.FromEuler(30*math.Pi/180, -20*math.Pi/180, 1)
	gravity := q.RotateInverse(r3.Vector{Z: 1})
	push := r3.Vector{X: 0.25}
	got := LinearAccel(q, gravity.Add(push))
	if got.Sub(push).Norm() > 1e-12 {
		t.Fatalf("tilted got=%v want=%v", got, push)
	}
}

func TestPipelineConvergesWithRealFilter(t *testing.T) {
	f, err := orientation.New(orientation.PIFeedback, orientation.DefaultOptions())
	if err != nil {
		t.Fatalf("orientation.New() error: %v", err)
	}
	now := time.Unix(1000, 0)
	p := newPipeline(t, &fakeSource{raw: level}, f, Options{
		AHRS: true,
		Now: func() time.Time {
			now = now.Add(10 * time.Millisecond)
			return now
		},
	})

	var out Output
	for i := 0; i < 500; i++ {
		if out, err = p.Update(); err != nil {
			t.Fatalf("Update() error: %v", err)
		}
	}
	if math.Abs(out.Pose.Roll) > 1 || math.Abs(out.Pose.Pitch) > 1 {
		t.Fatalf("pose got=%+v want level", out.Pose)
	}
	if out.LinearAccel.Norm() > 0.02 {
		t.Fatalf("linear accel got=%v want≈0", out.LinearAccel)
	}

	p.Reset()
	if !p.last.IsZero() || f.Quaternion() != orientation.Identity() {
		t.Fatalf("Reset() did not clear state")
	}
}

func TestNewValidates(t *testing.T) {
	cal := calibration.NewState(r3.Vector{})
	f := &countingFilter{q: orientation.Identity()}
	res := defaultResolutions()

	cases := []struct {
		name   string
		filter orientation.Filter
		cal    *calibration.State
		opts   Options
	}{
		{"nil filter", nil, cal, Options{Resolutions: res, Iterations: 1}},
		{"nil state", f, nil, Options{Resolutions: res, Iterations: 1}},
		{"zero iterations", f, cal, Options{Resolutions: res}},
		{"no resolutions", f, cal, Options{Iterations: 1}},
		{"negative max dt", f, cal, Options{Resolutions: res, Iterations: 1, MaxDeltaT: -1}},
		{"NaN max dt", f, cal, Options{Resolutions: res, Iterations: 1, MaxDeltaT: math.NaN()}},
	}
	for _, tc := range cases {
		if _, err := New(nil, tc.filter, tc.cal, tc.opts); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}

	p, err := New(nil, f, cal, Options{Resolutions: res, Iterations: 1})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if p.opts.MaxDeltaT != orientation.DefaultMaxDeltaT || p.opts.Now == nil {
		t.Fatalf("defaults not applied: %+v", p.opts)
	}
	if _, err := p.Update(); err == nil {
		t.Fatalf("Update() without source: expected error")
	}
}
