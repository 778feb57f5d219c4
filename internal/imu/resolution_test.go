package imu

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
)

func TestResolutionTables(t *testing.T) {
	accel := []struct {
		r    AccelRange
		want float64
	}{
		{Accel2G, 2.0 / 32768.0},
		{Accel4G, 4.0 / 32768.0},
		{Accel8G, 8.0 / 32768.0},
		{Accel16G, 16.0 / 32768.0},
	}
	for _, tc := range accel {
		if got := tc.r.Resolution(); got != tc.want {
			t.Fatalf("accel %d: got=%v want=%v", tc.r, got, tc.want)
		}
	}

	gyro := []struct {
		r    GyroRange
		want float64
	}{
		{Gyro250DPS, 250.0 / 32768.0},
		{Gyro500DPS, 500.0 / 32768.0},
		{Gyro1000DPS, 1000.0 / 32768.0},
		{Gyro2000DPS, 2000.0 / 32768.0},
	}
	for _, tc := range gyro {
		if got := tc.r.Resolution(); got != tc.want {
			t.Fatalf("gyro %d: got=%v want=%v", tc.r, got, tc.want)
		}
	}

	if Mag16Bits.Resolution() >= Mag14Bits.Resolution() {
		t.Fatalf("16-bit resolution %v should be finer than 14-bit %v", Mag16Bits.Resolution(), Mag14Bits.Resolution())
	}
	if got, want := Mag16Bits.Resolution(), 10.0*4912.0/32760.0; got != want {
		t.Fatalf("mag16 got=%v want=%v", got, want)
	}
}

func TestResolutionIsIdempotent(t *testing.T) {
	for r := Accel2G; r <= Accel16G; r++ {
		if a, b := r.Resolution(), r.Resolution(); a != b {
			t.Fatalf("accel %d drifted: %v then %v", r, a, b)
		}
	}
	for r := Gyro250DPS; r <= Gyro2000DPS; r++ {
		if a, b := r.Resolution(), r.Resolution(); a != b {
			t.Fatalf("gyro %d drifted: %v then %v", r, a, b)
		}
	}
	first := NewResolutions(Accel16G, Gyro2000DPS, Mag16Bits)
	second := NewResolutions(Accel16G, Gyro2000DPS, Mag16Bits)
	if first != second {
		t.Fatalf("got=%+v then %+v", first, second)
	}
}

func TestParseRanges(t *testing.T) {
	if _, err := ParseAccelRange(4); err == nil {
		t.Fatalf("expected error for accel range 4")
	}
	if _, err := ParseGyroRange(-1); err == nil {
		t.Fatalf("expected error for gyro range -1")
	}
	if _, err := ParseMagBits(15); err == nil {
		t.Fatalf("expected error for 15 mag bits")
	}
	if r, err := ParseAccelRange(2); err != nil || r != Accel8G || r.FullScale() != 8 {
		t.Fatalf("got=%v,%v want=Accel8G", r, err)
	}
	if r, err := ParseGyroRange(1); err != nil || r != Gyro500DPS || r.FullScale() != 500 {
		t.Fatalf("got=%v,%v want=Gyro500DPS", r, err)
	}
	if b, err := ParseMagBits(14); err != nil || b.Bits() != 14 {
		t.Fatalf("got=%v,%v want=14 bits", b, err)
	}
}

func TestMagSensitivityAdjustment(t *testing.T) {
	got := MagSensitivityAdjustment([3]byte{128, 0, 255})
	want := r3.Vector{X: 1, Y: 0.5, Z: 1 + 127.0/256.0}
	if math.Abs(got.X-want.X) > 1e-12 || math.Abs(got.Y-want.Y) > 1e-12 || math.Abs(got.Z-want.Z) > 1e-12 {
		t.Fatalf("got=%v want=%v", got, want)
	}
}

func TestConvert(t *testing.T) {
	res := NewResolutions(Accel2G, Gyro250DPS, Mag16Bits)
	a, g, m := res.Convert(IMURaw{Az: 16384, Gx: 131, Mx: 32760})
	if math.Abs(a.Z-1) > 1e-9 {
		t.Fatalf("accel z got=%v want=1", a.Z)
	}
	if math.Abs(g.X-131*250.0/32768.0) > 1e-12 {
		t.Fatalf("gyro x got=%v", g.X)
	}
	if math.Abs(m.X-49120) > 1e-6 {
		t.Fatalf("mag x got=%v want=49120", m.X)
	}
}
