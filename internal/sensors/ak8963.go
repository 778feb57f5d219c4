package sensors

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang/geo/r3"
	"periph.io/x/conn/v3/i2c"

	"github.com/relabs-tech/inertial_ahrs/internal/imu"
)

var sleep = time.Sleep

// Minimal AK8963 driver.
//
// The magnetometer is reached directly on an I2C bus (breakout boards or
// the MPU9250 in bypass mode). WHO_AM_I at 0x00 should return 0x48.

const (
	ak8963Addr = 0x0C

	regWIA   = 0x00
	wiaValue = 0x48
	regST1   = 0x02
	regHXL   = 0x03 // HXL..HZH then ST2, 7 bytes
	regCNTL1 = 0x0A
	regASAX  = 0x10

	st1DataReady = 0x01
	st2Overflow  = 0x08

	modePowerDown = 0x00
	modeFuseROM   = 0x0F
)

// ErrMagOverflow is returned when the magnetic sensor saturated.
var ErrMagOverflow = errors.New("ak8963: magnetic sensor overflow")

// MagMode is the AK8963 continuous measurement mode.
type MagMode byte

const (
	Mag8Hz   MagMode = 0x02
	Mag100Hz MagMode = 0x06
)

func (m MagMode) String() string {
	if m == Mag8Hz {
		return "8hz"
	}
	return "100hz"
}

// ParseMagMode accepts "8hz" or "100hz".
func ParseMagMode(s string) (MagMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "8hz":
		return Mag8Hz, nil
	case "100hz":
		return Mag100Hz, nil
	}
	return 0, fmt.Errorf("mag mode must be 8hz or 100hz, got %q", s)
}

// DefaultMagAddress is the AK8963 I2C address with CAD pins low.
func DefaultMagAddress() uint16 { return ak8963Addr }

type regIO interface {
	ReadRegU8(reg byte) (byte, error)
	ReadReg(reg byte, dst []byte) error
	WriteReg(reg, value byte) error
}

// i2cRegs adapts a periph I2C device to register reads with a repeated
// start.
type i2cRegs struct {
	d *i2c.Dev
}

func (r i2cRegs) ReadRegU8(reg byte) (byte, error) {
	var b [1]byte
	err := r.d.Tx([]byte{reg}, b[:])
	return b[0], err
}

func (r i2cRegs) ReadReg(reg byte, dst []byte) error {
	return r.d.Tx([]byte{reg}, dst)
}

func (r i2cRegs) WriteReg(reg, value byte) error {
	return r.d.Tx([]byte{reg, value}, nil)
}

// AK8963 is a configured magnetometer in continuous mode.
type AK8963 struct {
	dev  regIO
	asa  [3]byte
	bits imu.MagBits
	mode MagMode
}

// NewAK8963 probes and configures the magnetometer on dev.
func NewAK8963(dev *i2c.Dev, bits imu.MagBits, mode MagMode) (*AK8963, error) {
	if dev == nil {
		return nil, fmt.Errorf("ak8963: dev is nil")
	}
	return newAK8963WithIO(i2cRegs{d: dev}, bits, mode)
}

func newAK8963WithIO(dev regIO, bits imu.MagBits, mode MagMode) (*AK8963, error) {
	who, err := dev.ReadRegU8(regWIA)
	if err != nil {
		return nil, fmt.Errorf("ak8963: whoami read failed: %w", err)
	}
	if who != wiaValue {
		return nil, fmt.Errorf("ak8963: whoami=0x%02X want 0x%02X", who, wiaValue)
	}
	m := &AK8963{dev: dev, bits: bits, mode: mode}
	if err := m.init(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *AK8963) init() error {
	if err := m.dev.WriteReg(regCNTL1, modePowerDown); err != nil {
		return fmt.Errorf("ak8963: power down failed: %w", err)
	}
	sleep(10 * time.Millisecond)

	// Sensitivity adjustment is only readable in fuse ROM access mode.
	if err := m.dev.WriteReg(regCNTL1, modeFuseROM); err != nil {
		return fmt.Errorf("ak8963: fuse rom access failed: %w", err)
	}
	sleep(10 * time.Millisecond)
	if err := m.dev.ReadReg(regASAX, m.asa[:]); err != nil {
		return fmt.Errorf("ak8963: read sensitivity adjustment failed: %w", err)
	}

	if err := m.dev.WriteReg(regCNTL1, modePowerDown); err != nil {
		return fmt.Errorf("ak8963: power down failed: %w", err)
	}
	sleep(10 * time.Millisecond)

	cntl := byte(m.mode)
	if m.bits == imu.Mag16Bits {
		cntl |= 1 << 4
	}
	if err := m.dev.WriteReg(regCNTL1, cntl); err != nil {
		return fmt.Errorf("ak8963: set mode failed: %w", err)
	}
	sleep(10 * time.Millisecond)
	return nil
}

// Sensitivity returns the factory per-axis multipliers.
func (m *AK8963) Sensitivity() r3.Vector {
	return imu.MagSensitivityAdjustment(m.asa)
}

// ASA returns the raw fuse ROM adjustment bytes.
func (m *AK8963) ASA() [3]byte { return m.asa }

// Read returns the latest measurement in the sensor's own axes.
// imu.ErrNotReady is returned when no new measurement is available.
func (m *AK8963) Read() (x, y, z int16, err error) {
	st1, err := m.dev.ReadRegU8(regST1)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("ak8963: read status failed: %w", err)
	}
	if st1&st1DataReady == 0 {
		return 0, 0, 0, imu.ErrNotReady
	}

	// Reading through ST2 releases the data registers for the next sample.
	buf := make([]byte, 7)
	if err := m.dev.ReadReg(regHXL, buf); err != nil {
		return 0, 0, 0, fmt.Errorf("ak8963: read data failed: %w", err)
	}
	if buf[6]&st2Overflow != 0 {
		return 0, 0, 0, ErrMagOverflow
	}
	x = int16(buf[1])<<8 | int16(buf[0])
	y = int16(buf[3])<<8 | int16(buf[2])
	z = int16(buf[5])<<8 | int16(buf[4])
	return x, y, z, nil
}

// alignMag maps AK8963 axes onto the accelerometer frame: the sensors
// share the package but the magnetometer has X and Y swapped and Z
// inverted.
func alignMag(x, y, z int16) (int16, int16, int16) {
	return y, x, -z
}
