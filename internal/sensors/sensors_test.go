package sensors

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/golang/geo/r3"

	"github.com/relabs-tech/inertial_ahrs/internal/imu"
	"github.com/relabs-tech/inertial_ahrs/internal/orientation"
)

type fakeI2C struct {
	regs   map[byte][]byte
	writes []writeOp

	readErrFor map[byte]error
}

type writeOp struct {
	reg byte
	val byte
}

func (f *fakeI2C) ReadRegU8(reg byte) (byte, error) {
	if err := f.readErrFor[reg]; err != nil {
		return 0, err
	}
	b := f.regs[reg]
	if len(b) < 1 {
		return 0, errors.New("no reg")
	}
	return b[0], nil
}

func (f *fakeI2C) ReadReg(reg byte, dst []byte) error {
	if err := f.readErrFor[reg]; err != nil {
		return err
	}
	b := f.regs[reg]
	if len(b) < len(dst) {
		return errors.New("short reg")
	}
	copy(dst, b[:len(dst)])
	return nil
}

func (f *fakeI2C) WriteReg(reg, value byte) error {
	f.writes = append(f.writes, writeOp{reg: reg, val: value})
	return nil
}

func noSleep(t *testing.T) {
	t.Helper()
	oldSleep := sleep
	sleep = func(time.Duration) {}
	t.Cleanup(func() { sleep = oldSleep })
}

func TestAK8963WhoAmIMismatch(t *testing.T) {
	noSleep(t)
	f := &fakeI2C{regs: map[byte][]byte{regWIA: {0x00}}}
	if _, err := newAK8963WithIO(f, imu.Mag16Bits, Mag100Hz); err == nil {
		t.Fatalf("expected error")
	}
}

func TestAK8963InitSequence(t *testing.T) {
	noSleep(t)
	f := &fakeI2C{regs: map[byte][]byte{
		regWIA:  {wiaValue},
		regASAX: {128, 192, 64},
	}}
	m, err := newAK8963WithIO(f, imu.Mag16Bits, Mag100Hz)
	if err != nil {
		t.Fatalf("newAK8963WithIO: %v", err)
	}

	want := []writeOp{
		{regCNTL1, modePowerDown},
		{regCNTL1, modeFuseROM},
		{regCNTL1, modePowerDown},
		{regCNTL1, 0x16},
	}
	if len(f.writes) != len(want) {
		t.Fatalf("writes got=%v want=%v", f.writes, want)
	}
	for i := range want {
		if f.writes[i] != want[i] {
			t.Fatalf("write %d got=%+v want=%+v", i, f.writes[i], want[i])
		}
	}

	adj := m.Sensitivity()
	if adj != (r3.Vector{X: 1, Y: 1.25, Z: 0.75}) {
		t.Fatalf("sensitivity got=%v want=(1,1.25,0.75)", adj)
	}

	f.writes = nil
	if _, err := newAK8963WithIO(f, imu.Mag14Bits, Mag8Hz); err != nil {
		t.Fatalf("newAK8963WithIO: %v", err)
	}
	if last := f.writes[len(f.writes)-1]; last.val != 0x02 {
		t.Fatalf("14-bit 8Hz mode got=0x%02X want=0x02", last.val)
	}
}

func TestAK8963Read(t *testing.T) {
	noSleep(t)
	f := &fakeI2C{regs: map[byte][]byte{
		regWIA:  {wiaValue},
		regASAX: {128, 128, 128},
		regST1:  {0x00},
		// X=0x0102, Y=-2, Z=0x7FF0, ST2 clear.
		regHXL: {0x02, 0x01, 0xFE, 0xFF, 0xF0, 0x7F, 0x10},
	}}
	m, err := newAK8963WithIO(f, imu.Mag16Bits, Mag100Hz)
	if err != nil {
		t.Fatalf("newAK8963WithIO: %v", err)
	}

	if _, _, _, err := m.Read(); !errors.Is(err, imu.ErrNotReady) {
		t.Fatalf("got=%v want=ErrNotReady", err)
	}

	f.regs[regST1] = []byte{st1DataReady}
	x, y, z, err := m.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if x != 0x0102 || y != -2 || z != 0x7FF0 {
		t.Fatalf("got=(%d,%d,%d)", x, y, z)
	}

	f.regs[regHXL][6] = st2Overflow | 0x10
	if _, _, _, err := m.Read(); !errors.Is(err, ErrMagOverflow) {
		t.Fatalf("got=%v want=ErrMagOverflow", err)
	}

	boom := errors.New("nack")
	f.readErrFor = map[byte]error{regST1: boom}
	if _, _, _, err := m.Read(); !errors.Is(err, boom) {
		t.Fatalf("got=%v want wrapped %v", err, boom)
	}
}

func TestAlignMag(t *testing.T) {
	x, y, z := alignMag(10, -20, 30)
	if x != -20 || y != 10 || z != -30 {
		t.Fatalf("got=(%d,%d,%d) want=(-20,10,-30)", x, y, z)
	}
}

func TestParseMagMode(t *testing.T) {
	for in, want := range map[string]MagMode{"8hz": Mag8Hz, "100Hz": Mag100Hz, " 100hz ": Mag100Hz} {
		got, err := ParseMagMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseMagMode(%q) got=%v,%v want=%v", in, got, err, want)
		}
	}
	if _, err := ParseMagMode("50hz"); err == nil {
		t.Fatalf("expected error")
	}
}

func testResolutions() imu.Resolutions {
	return imu.NewResolutions(imu.Accel2G, imu.Gyro250DPS, imu.Mag16Bits)
}

func TestSyntheticSourceEncodesAttitude(t *testing.T) {
	now := time.Unix(1000, 0)
	clock := func() time.Time { return now }
	src := NewSyntheticSource(testResolutions(), clock)

	f, err := orientation.New(orientation.Passthrough, orientation.DefaultOptions())
	if err != nil {
		t.Fatalf("orientation.New: %v", err)
	}
	for _, sec := range []float64{0, 0.8, 2.5, 7} {
		now = time.Unix(1000, 0).Add(time.Duration(sec * float64(time.Second)))
		raw, err := src.ReadRaw()
		if err != nil {
			t.Fatalf("ReadRaw: %v", err)
		}
		accel, _, mag := testResolutions().Convert(raw)
		if math.Abs(accel.Norm()-1) > 1e-3 {
			t.Fatalf("t=%v accel norm got=%v want=1", sec, accel.Norm())
		}
		q := f.Update(accel, r3.Vector{}, mag, 0.01)
		if d := orientation.Distance(q, Attitude(sec)) * 180 / math.Pi; d > 0.5 {
			t.Fatalf("t=%v recovered attitude off by %.3f°", sec, d)
		}
	}
}

func TestSyntheticSourceGyroIntegrates(t *testing.T) {
	now := time.Unix(1000, 0)
	src := NewSyntheticSource(testResolutions(), func() time.Time { return now })

	opts := orientation.DefaultOptions()
	opts.Kp = 0
	f, err := orientation.New(orientation.PIFeedback, opts)
	if err != nil {
		t.Fatalf("orientation.New: %v", err)
	}

	raw, _ := src.ReadRaw()
	if raw.Gx != 0 || raw.Gy != 0 || raw.Gz != 0 {
		t.Fatalf("first read gyro got=(%d,%d,%d) want zero", raw.Gx, raw.Gy, raw.Gz)
	}
	const dt = 0.01
	for i := 0; i < 100; i++ {
		now = now.Add(10 * time.Millisecond)
		raw, err := src.ReadRaw()
		if err != nil {
			t.Fatalf("ReadRaw: %v", err)
		}
		_, gyro, _ := testResolutions().Convert(raw)
		f.Update(r3.Vector{}, gyro, r3.Vector{}, dt)
	}

	want := Attitude(0).Conj().Mul(Attitude(1))
	if d := orientation.Distance(f.Quaternion(), want) * 180 / math.Pi; d > 0.5 {
		t.Fatalf("integrated rotation off by %.3f°", d)
	}
}

func TestAK8963Registers(t *testing.T) {
	noSleep(t)
	f := &fakeI2C{regs: map[byte][]byte{
		regWIA:   {wiaValue},
		0x01:     {0x9A},
		regST1:   {0x01},
		regCNTL1: {0x16},
		0x0B:     {0x00},
		0x0C:     {0x00},
		regASAX:  {0xB0, 0xB1, 0xA9},
	}}
	m, err := newAK8963WithIO(f, imu.Mag16Bits, Mag100Hz)
	if err != nil {
		t.Fatalf("newAK8963WithIO: %v", err)
	}

	regs, err := m.Registers()
	if err != nil {
		t.Fatalf("Registers: %v", err)
	}
	if len(regs) != 9 {
		t.Fatalf("got %d registers want 9", len(regs))
	}
	want := map[string]string{"WIA": "0x48", "CNTL1": "0x16", "ASAX": "0xB0", "ASAZ": "0xA9"}
	for _, r := range regs {
		if v, ok := want[r.Name]; ok && r.Value != v {
			t.Fatalf("%s = %s want %s", r.Name, r.Value, v)
		}
	}
	if regs[len(regs)-1].Address != "0x12" {
		t.Fatalf("last address %s want 0x12", regs[len(regs)-1].Address)
	}

	f.readErrFor = map[byte]error{0x0B: errors.New("nack")}
	if _, err := m.Registers(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestMagRegistersWithoutMagnetometer(t *testing.T) {
	var s MPU9250Source
	if _, err := s.MagRegisters(); !errors.Is(err, ErrNoMagnetometer) {
		t.Fatalf("err=%v want ErrNoMagnetometer", err)
	}
}
