// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/edaniels/golog"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/geo/r3"

	"github.com/relabs-tech/inertial_ahrs/internal/calibration"
	"github.com/relabs-tech/inertial_ahrs/internal/config"
	"github.com/relabs-tech/inertial_ahrs/internal/fusion"
	"github.com/relabs-tech/inertial_ahrs/internal/imu"
	"github.com/relabs-tech/inertial_ahrs/internal/orientation"
	"github.com/relabs-tech/inertial_ahrs/internal/sensors"
)

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func connectMQTT(broker, clientID string, logger golog.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("MQTT connect %s: %w", broker, token.Error())
	}
	logger.Infof("connected to MQTT broker at %s as %s", broker, clientID)
	return client, nil
}

func resolutions(cfg *config.Config) (imu.Resolutions, imu.MagBits, error) {
	a, err := imu.ParseAccelRange(int(cfg.IMUAccelRange))
	if err != nil {
		return imu.Resolutions{}, 0, err
	}
	g, err := imu.ParseGyroRange(int(cfg.IMUGyroRange))
	if err != nil {
		return imu.Resolutions{}, 0, err
	}
	m, err := imu.ParseMagBits(cfg.MagOutputBits)
	if err != nil {
		return imu.Resolutions{}, 0, err
	}
	return imu.NewResolutions(a, g, m), m, nil
}

func filterOptions(cfg *config.Config) orientation.Options {
	return orientation.Options{
		MaxDeltaT:     millis(cfg.FilterMaxDTMS).Seconds(),
		GyroMeasError: cfg.MadgwickGyroMeasError,
		GyroMeasDrift: cfg.MadgwickGyroMeasDrift,
		Kp:            cfg.MahonyKp,
		Ki:            cfg.MahonyKi,
		IntegralLimit: cfg.MahonyIntegralLimit,
	}
}

// openSource opens the configured raw source.
func openSource(cfg *config.Config, logger golog.Logger) (imu.RawReader, r3.Vector, imu.Resolutions, error) {
	res, bits, err := resolutions(cfg)
	if err != nil {
		return nil, r3.Vector{}, imu.Resolutions{}, err
	}
	mode, err := sensors.ParseMagMode(cfg.MagMode)
	if err != nil {
		return nil, r3.Vector{}, imu.Resolutions{}, err
	}
	hw := sensors.MPU9250Config{
		SPIDevice:  cfg.IMUSPIDevice,
		CSPin:      cfg.IMUCSPin,
		IntPin:     cfg.IMUIntPin,
		AccelRange: imu.AccelRange(cfg.IMUAccelRange),
		GyroRange:  imu.GyroRange(cfg.IMUGyroRange),
		MagBus:     cfg.MagI2CBus,
		MagAddr:    cfg.MagI2CAddr,
		MagBits:    bits,
		MagMode:    mode,
	}
	src, sens, err := sensors.Open(cfg.IMUSource, hw, res, logger)
	if err != nil {
		return nil, r3.Vector{}, imu.Resolutions{}, err
	}
	return src, sens, res, nil
}

// loadCalibration applies the stored profile, if any, to state.
func loadCalibration(path string, state *calibration.State, logger golog.Logger) error {
	p, err := calibration.LoadProfile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warnf("no calibration profile at %s, running uncalibrated", path)
		return nil
	}
	if err != nil {
		return err
	}
	if err := p.Apply(state); err != nil {
		return err
	}
	logger.Infof("calibration profile %s loaded from %s (taken %s, accel %.0f%%, gyro %.0f%%, mag %.0f%%)",
		p.ID, path, p.Timestamp.Format(time.RFC3339), p.AccelConfidence, p.GyroConfidence, p.MagConfidence)
	return nil
}

// newPipeline builds the whole fusion chain from the configuration.
func newPipeline(cfg *config.Config, logger golog.Logger) (*fusion.Pipeline, *calibration.State, error) {
	src, sens, res, err := openSource(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	state := calibration.NewState(sens)
	if err := loadCalibration(cfg.CalibrationFile, state, logger); err != nil {
		return nil, nil, err
	}

	sel, err := orientation.ParseSelection(cfg.Filter)
	if err != nil {
		return nil, nil, err
	}
	opts := filterOptions(cfg)
	filter, err := orientation.New(sel, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("filter %s: %w", sel, err)
	}

	p, err := fusion.New(src, filter, state, fusion.Options{
		Resolutions: res,
		Iterations:  cfg.FilterIterations,
		Declination: cfg.MagDeclination,
		MaxDeltaT:   opts.MaxDeltaT,
		AHRS:        cfg.AHRSEnabled,
	})
	if err != nil {
		return nil, nil, err
	}
	logger.Infof("fusion: filter=%s iterations=%d declination=%.2f° ahrs=%v",
		sel, cfg.FilterIterations, cfg.MagDeclination, cfg.AHRSEnabled)
	return p, state, nil
}
