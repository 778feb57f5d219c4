// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/edaniels/golog"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/geo/r3"

	"github.com/relabs-tech/inertial_ahrs/internal/calibration"
	"github.com/relabs-tech/inertial_ahrs/internal/config"
	"github.com/relabs-tech/inertial_ahrs/internal/imu"
	"github.com/relabs-tech/inertial_ahrs/internal/orientation"
	"github.com/relabs-tech/inertial_ahrs/internal/sensors"
)

var errCalibrationBusy = errors.New("calibration already in progress")

// calibrator runs the two capture phases against one source and builds
// the profile as they complete. Only one run may hold it at a time.
type calibrator struct {
	mu sync.Mutex

	src      imu.RawReader
	res      imu.Resolutions
	sens     r3.Vector
	state    *calibration.State
	sink     imu.BiasSink
	announce func(calibrationMessage) error
	logger   golog.Logger

	path          string
	source        string
	biasSamples   int
	magSamples    int
	interval      time.Duration
	profile       *calibration.Profile
	totalSamples  int
	lastBias      calibration.BiasEstimate
	lastMag       calibration.MagEstimate
	haveMagResult bool
}

func newCalibrator(cfg *config.Config, src imu.RawReader, res imu.Resolutions, sens r3.Vector, client mqtt.Client, logger golog.Logger) *calibrator {
	c := &calibrator{
		src:         src,
		res:         res,
		sens:        sens,
		state:       calibration.NewState(sens),
		logger:      logger,
		path:        cfg.CalibrationFile,
		source:      cfg.IMUSource,
		biasSamples: cfg.CalibAccelGyroSamples,
		magSamples:  cfg.CalibMagSamples,
		interval:    millis(cfg.CalibSampleInterval),
	}
	sinks := multiSink{c.state, calibration.FileSink{Path: c.path, Source: c.source}}
	c.announce = func(calibrationMessage) error { return nil }
	if client != nil {
		mq := mqttBiasSink{client: client, topic: cfg.TopicCalibration}
		sinks = append(sinks, mq)
		c.announce = mq.publish
	}
	c.sink = sinks
	c.reset()
	return c
}

// reset starts a fresh profile. The caller holds mu.
func (c *calibrator) reset() {
	c.profile = calibration.NewProfile(c.source)
	c.totalSamples = 0
	c.lastBias = calibration.BiasEstimate{}
	c.lastMag = calibration.MagEstimate{}
	c.haveMagResult = false
}

// accelGyro captures the stationary batch and stores the biases in every
// sink so they survive an abandoned run.
func (c *calibrator) accelGyro(ctx context.Context, progress calibration.Progress) (calibration.BiasEstimate, error) {
	batch, err := calibration.Collect(ctx, c.src, c.biasSamples, c.interval, progress)
	if err != nil {
		return calibration.BiasEstimate{}, err
	}
	est, err := calibration.EstimateAccelGyroBias(batch, 1/c.res.Accel, 1/c.res.Gyro)
	if err != nil {
		return calibration.BiasEstimate{}, err
	}
	c.profile.SetBias(est)
	c.lastBias = est
	c.totalSamples += est.Samples
	if err := c.sink.StoreBias(est.Accel, est.Gyro); err != nil {
		return est, fmt.Errorf("store bias: %w", err)
	}
	c.logger.Infof("accel bias %v g (±%v), gyro bias %v dps (±%v)", est.Accel, est.AccelStdDev, est.Gyro, est.GyroStdDev)
	return est, nil
}

// mag captures the rotation batch and fits hard and soft iron.
func (c *calibrator) mag(ctx context.Context, progress calibration.Progress) (calibration.MagEstimate, error) {
	batch, err := calibration.Collect(ctx, c.src, c.magSamples, c.interval, progress)
	if err != nil {
		return calibration.MagEstimate{}, err
	}
	est, err := calibration.EstimateMagBiasScale(batch)
	if err != nil {
		return calibration.MagEstimate{}, err
	}
	bias := est.BiasPhysical(c.res.Mag, c.sens)
	if err := c.state.SetMagCalibration(bias, est.Scale); err != nil {
		return est, err
	}
	c.profile.SetMag(bias, est)
	c.lastMag = est
	c.haveMagResult = true
	c.totalSamples += est.Samples
	c.logger.Infof("mag bias %v mG, scale %v, confidence %.0f%%", bias, est.Scale, est.Confidence())
	return est, nil
}

// finish persists the full profile and announces it.
func (c *calibrator) finish() (*calibration.Profile, error) {
	if err := c.profile.Save(c.path); err != nil {
		return nil, err
	}
	c.logger.Infof("calibration profile %s saved to %s", c.profile.ID, c.path)
	if err := c.announce(messageFromProfile(c.profile)); err != nil {
		c.logger.Warnf("calibration announce failed: %v", err)
	}
	return c.profile, nil
}

// check reads a short batch through the new correction and returns the
// tilt it implies, which should be close to level on a level surface.
func (c *calibrator) check(ctx context.Context) (orientation.Pose, error) {
	batch, err := calibration.Collect(ctx, c.src, 20, c.interval, nil)
	if err != nil {
		return orientation.Pose{}, err
	}
	corr := c.state.Snapshot()
	var sum r3.Vector
	for _, raw := range batch {
		a, _, _ := c.res.Convert(raw)
		sum = sum.Add(corr.CorrectAccel(a))
	}
	a := sum.Mul(1 / float64(len(batch)))
	return orientation.ComputePoseFromAccel(a.X, a.Y, a.Z), nil
}

func (c *calibrator) stats() map[string]interface{} {
	accel, gyro := c.lastBias.Confidence()
	stats := map[string]interface{}{
		"samples": c.totalSamples,
	}
	if c.lastBias.Samples > 0 {
		stats["accel"] = accel
		stats["gyro"] = gyro
	}
	if c.haveMagResult {
		stats["mag"] = c.lastMag.Confidence()
	}
	return stats
}

// RunCalibration opens the configured source and serves the guided
// calibration over websocket until ctx is done. With interactive set it
// runs the guided sequence on the terminal instead.
func RunCalibration(ctx context.Context, interactive bool) error {
	logger := golog.NewLogger("calibration")
	defer logger.Sync()
	cfg := config.Get()

	src, sens, res, err := openSource(cfg, logger)
	if err != nil {
		return err
	}

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDCalibration, logger)
	if err != nil {
		logger.Warnf("running without calibration announcements: %v", err)
		client = nil
	} else {
		defer client.Disconnect(250)
	}

	c := newCalibrator(cfg, src, res, sens, client, logger)
	dumper, _ := src.(registerDumper)
	if dumper != nil {
		logRegisters(dumper, logger)
	}
	if interactive {
		return runCalibrationTerminal(ctx, c, os.Stdin, os.Stdout)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws/calibration", calibrationHandler(c))
	if dumper != nil {
		mux.Handle("/api/registers/mag", registersHandler(c, dumper))
	}
	mux.Handle("/", http.FileServer(http.Dir("web")))
	return serveHTTP(ctx, fmt.Sprintf(":%d", cfg.WebServerPort), mux, logger)
}

// registerDumper is implemented by hardware sources.
type registerDumper interface {
	MagRegisters() ([]sensors.Register, error)
}

func logRegisters(d registerDumper, logger golog.Logger) {
	regs, err := d.MagRegisters()
	if err != nil {
		logger.Warnf("magnetometer registers: %v", err)
		return
	}
	for _, r := range regs {
		logger.Infof("ak8963 %s %-5s = %s  (%s)", r.Address, r.Name, r.Value, r.Description)
	}
}

// registersHandler serves the magnetometer registers while no calibration
// run is using the bus.
func registersHandler(c *calibrator, d registerDumper) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !c.mu.TryLock() {
			http.Error(w, errCalibrationBusy.Error(), http.StatusConflict)
			return
		}
		regs, err := d.MagRegisters()
		c.mu.Unlock()
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(regs); err != nil {
			c.logger.Warnf("json encode error: %v", err)
		}
	}
}

// runCalibrationTerminal walks the operator through both phases,
// waiting for enter before each.
func runCalibrationTerminal(ctx context.Context, c *calibrator, in io.Reader, out io.Writer) error {
	if !c.mu.TryLock() {
		return errCalibrationBusy
	}
	defer c.mu.Unlock()

	r := bufio.NewReader(in)
	waitEnter := func(prompt string) {
		fmt.Fprint(out, prompt)
		_, _ = r.ReadString('\n')
	}
	progress := func(done, total int) {
		if done%50 == 0 || done == total {
			fmt.Fprintf(out, "\r  %d/%d", done, total)
		}
		if done == total {
			fmt.Fprintln(out)
		}
	}

	waitEnter("Place the device level and still, then press ENTER...")
	est, err := c.accelGyro(ctx, progress)
	if err != nil {
		return err
	}
	accelConf, gyroConf := est.Confidence()
	fmt.Fprintf(out, "  accel bias: %+.4f %+.4f %+.4f g (confidence %.0f%%)\n", est.Accel.X, est.Accel.Y, est.Accel.Z, accelConf)
	fmt.Fprintf(out, "  gyro bias:  %+.3f %+.3f %+.3f dps (confidence %.0f%%)\n", est.Gyro.X, est.Gyro.Y, est.Gyro.Z, gyroConf)

	waitEnter("Pick the device up and turn it through a slow figure-eight, then press ENTER to start...")
	magEst, err := c.mag(ctx, progress)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "  mag scale: %.3f %.3f %.3f (confidence %.0f%%)\n", magEst.Scale.X, magEst.Scale.Y, magEst.Scale.Z, magEst.Confidence())

	p, err := c.finish()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Saved profile %s to %s\n", p.ID, c.path)

	waitEnter("Put the device back on a level surface and press ENTER to check...")
	pose, err := c.check(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "  level check: roll %+.2f° pitch %+.2f°\n", pose.Roll, pose.Pitch)
	return nil
}
