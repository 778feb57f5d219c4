// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"errors"
	"fmt"
	"time"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/inertial_ahrs/internal/imu"
)

// MPU9250Config selects the wiring and ranges of one MPU9250 + AK8963.
type MPU9250Config struct {
	SPIDevice string // e.g. /dev/spidev0.0
	CSPin     string
	// IntPin is the data-ready interrupt line; empty disables gating.
	IntPin       string
	ReadyTimeout time.Duration

	AccelRange imu.AccelRange
	GyroRange  imu.GyroRange

	// MagBus is the I2C bus name for the AK8963; empty opens the default.
	MagBus  string
	MagAddr uint16
	MagBits imu.MagBits
	MagMode MagMode
}

// MPU9250Source reads accel and gyro over SPI and the magnetometer over
// I2C. Magnetometer failures are not fatal: the last good reading is kept.
type MPU9250Source struct {
	log  golog.Logger
	imu  *mpu9250.MPU9250
	mag  *AK8963
	drdy gpio.PinIO

	readyTimeout time.Duration
	lastMag      [3]int16
}

// NewMPU9250Source brings up the IMU, runs its self-test and factory
// calibration, then probes the magnetometer.
func NewMPU9250Source(cfg MPU9250Config, logger golog.Logger) (*MPU9250Source, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("IMU: periph host init: %w", err)
	}

	cs := gpioreg.ByName(cfg.CSPin)
	if cs == nil {
		return nil, fmt.Errorf("IMU: CS pin %q not found", cfg.CSPin)
	}

	tr, err := mpu9250.NewSpiTransport(cfg.SPIDevice, cs)
	if err != nil {
		return nil, fmt.Errorf("IMU: SPI transport (%s): %w", cfg.SPIDevice, err)
	}

	dev, err := mpu9250.New(tr)
	if err != nil {
		return nil, fmt.Errorf("IMU: device creation: %w", err)
	}

	if err := dev.Init(); err != nil {
		return nil, fmt.Errorf("IMU: initialization: %w", err)
	}

	if err := dev.SetAccelRange(byte(cfg.AccelRange)); err != nil {
		return nil, fmt.Errorf("IMU: set accel range: %w", err)
	}
	logger.Infof("IMU: accelerometer range set to %d (±%dg)", cfg.AccelRange, cfg.AccelRange.FullScale())

	if err := dev.SetGyroRange(byte(cfg.GyroRange)); err != nil {
		return nil, fmt.Errorf("IMU: set gyro range: %w", err)
	}
	logger.Infof("IMU: gyroscope range set to %d (±%d°/s)", cfg.GyroRange, cfg.GyroRange.FullScale())

	testResult, err := dev.SelfTest()
	if err != nil {
		logger.Warnf("IMU self-test failed: %v", err)
	} else {
		logger.Infof("IMU self-test passed: accel deviation X: %.2f%%, Y: %.2f%%, Z: %.2f%%; gyro deviation X: %.2f%%, Y: %.2f%%, Z: %.2f%%",
			testResult.AccelDeviation.X, testResult.AccelDeviation.Y, testResult.AccelDeviation.Z,
			testResult.GyroDeviation.X, testResult.GyroDeviation.Y, testResult.GyroDeviation.Z)
	}

	if err := dev.Calibrate(); err != nil {
		logger.Warnf("IMU calibration failed: %v", err)
	} else {
		logger.Infof("IMU calibration complete")
	}

	s := &MPU9250Source{log: logger, imu: dev, readyTimeout: cfg.ReadyTimeout}

	if cfg.IntPin != "" {
		pin := gpioreg.ByName(cfg.IntPin)
		if pin == nil {
			return nil, fmt.Errorf("IMU: INT pin %q not found", cfg.IntPin)
		}
		if err := pin.In(gpio.PullDown, gpio.RisingEdge); err != nil {
			return nil, fmt.Errorf("IMU: INT pin %s: %w", cfg.IntPin, err)
		}
		s.drdy = pin
		if s.readyTimeout <= 0 {
			s.readyTimeout = 100 * time.Millisecond
		}
		logger.Infof("IMU: data-ready gating on %s", cfg.IntPin)
	}

	addr := cfg.MagAddr
	if addr == 0 {
		addr = DefaultMagAddress()
	}
	bus, err := i2creg.Open(cfg.MagBus)
	if err != nil {
		logger.Warnf("IMU: magnetometer bus %q: %v (continuing without mag)", cfg.MagBus, err)
		return s, nil
	}
	mag, err := NewAK8963(&i2c.Dev{Addr: addr, Bus: bus}, cfg.MagBits, cfg.MagMode)
	if err != nil {
		logger.Warnf("IMU: magnetometer initialization failed (will continue without mag): %v", err)
		return s, nil
	}
	adj := mag.Sensitivity()
	logger.Infof("IMU: magnetometer ready (%d-bit, %s), sensitivity adj X=%.4f Y=%.4f Z=%.4f",
		cfg.MagBits.Bits(), cfg.MagMode, adj.X, adj.Y, adj.Z)
	s.mag = mag
	return s, nil
}

// MagSensitivity returns the magnetometer factory adjustment, or ones when
// no magnetometer is present.
func (s *MPU9250Source) MagSensitivity() r3.Vector {
	if s.mag == nil {
		return r3.Vector{X: 1, Y: 1, Z: 1}
	}
	return s.mag.Sensitivity()
}

// ReadRaw implements imu.RawReader.
func (s *MPU9250Source) ReadRaw() (imu.IMURaw, error) {
	if s.drdy != nil && !s.drdy.WaitForEdge(s.readyTimeout) {
		return imu.IMURaw{}, imu.ErrNotReady
	}

	ax, err := s.imu.GetAccelerationX()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("IMU accel X: %w", err)
	}
	ay, err := s.imu.GetAccelerationY()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("IMU accel Y: %w", err)
	}
	az, err := s.imu.GetAccelerationZ()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("IMU accel Z: %w", err)
	}

	gx, err := s.imu.GetRotationX()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("IMU gyro X: %w", err)
	}
	gy, err := s.imu.GetRotationY()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("IMU gyro Y: %w", err)
	}
	gz, err := s.imu.GetRotationZ()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("IMU gyro Z: %w", err)
	}

	mx, my, mz := s.readMag()
	return imu.IMURaw{
		Source: "mpu9250",
		Ax:     ax,
		Ay:     ay,
		Az:     az,
		Gx:     gx,
		Gy:     gy,
		Gz:     gz,
		Mx:     mx,
		My:     my,
		Mz:     mz,
	}, nil
}

// readMag returns the aligned magnetometer reading, falling back to the
// last good one. The AK8963 runs slower than the IMU so most calls reuse it.
func (s *MPU9250Source) readMag() (int16, int16, int16) {
	if s.mag != nil {
		x, y, z, err := s.mag.Read()
		switch {
		case err == nil:
			s.lastMag[0], s.lastMag[1], s.lastMag[2] = alignMag(x, y, z)
		case errors.Is(err, imu.ErrNotReady):
		case errors.Is(err, ErrMagOverflow):
			s.log.Debugf("IMU: magnetometer overflow detected")
		default:
			s.log.Warnf("IMU: magnetometer read error: %v", err)
		}
	}
	return s.lastMag[0], s.lastMag[1], s.lastMag[2]
}
