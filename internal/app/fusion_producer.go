package app

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/edaniels/golog"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/geo/r3"

	"github.com/relabs-tech/inertial_ahrs/internal/config"
	"github.com/relabs-tech/inertial_ahrs/internal/fusion"
	"github.com/relabs-tech/inertial_ahrs/internal/gps"
	"github.com/relabs-tech/inertial_ahrs/internal/imu"
	"github.com/relabs-tech/inertial_ahrs/internal/orientation"
)

// linearAccelMessage is published on the linear acceleration topic.
type linearAccelMessage struct {
	Time        time.Time `json:"time"`
	LinearAccel r3.Vector `json:"linear_accel"` // g
	Held        bool      `json:"held"`
}

// declinationMessage is published when the GPS updates the declination.
type declinationMessage struct {
	Declination float64 `json:"declination"`
	Fix         gps.Fix `json:"fix"`
}

// RunFusionProducer reads the IMU, runs the fusion pipeline and publishes
// every output on MQTT until ctx is done.
func RunFusionProducer(ctx context.Context) error {
	logger := golog.NewLogger("fusion-producer")
	defer logger.Sync()
	cfg := config.Get()

	pipeline, state, err := newPipeline(cfg, logger)
	if err != nil {
		return err
	}

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDProducer, logger)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	// Calibration runs elsewhere announce their results here.
	token := client.Subscribe(cfg.TopicCalibration, 1, func(_ mqtt.Client, msg mqtt.Message) {
		var m calibrationMessage
		if err := json.Unmarshal(msg.Payload(), &m); err != nil {
			logger.Warnf("calibration message unmarshal error: %v", err)
			return
		}
		if err := m.apply(state); err != nil {
			logger.Warnf("calibration message rejected: %v", err)
			return
		}
		logger.Infof("calibration updated: accel bias %v, gyro bias %v", m.AccelBias, m.GyroBias)
	})
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}

	if cfg.GPSSerialPort != "" {
		go func() {
			err := trackDeclination(ctx, cfg.GPSSerialPort, cfg.GPSBaudRate, logger, func(deg float64, fix gps.Fix) {
				pipeline.SetDeclination(deg)
				publishJSON(client, cfg.TopicDeclination, declinationMessage{Declination: deg, Fix: fix}, logger)
			})
			if err != nil {
				logger.Errorf("declination tracker stopped: %v", err)
			}
		}()
	}

	logger.Infof("starting publish loop every %dms", cfg.IMUSampleInterval)
	ticker := time.NewTicker(millis(cfg.IMUSampleInterval))
	defer ticker.Stop()

	var lastLog time.Time
	for {
		select {
		case <-ctx.Done():
			logger.Infof("fusion producer stopping")
			return nil
		case <-ticker.C:
		}

		out, err := pipeline.Update()
		if errors.Is(err, imu.ErrNotReady) {
			continue
		}
		if err != nil {
			logger.Warnf("IMU read error: %v", err)
			continue
		}
		publishOutput(client, cfg, out, logger)

		if out.Time.Sub(lastLog) >= millis(cfg.ConsoleLogInterval) {
			lastLog = out.Time
			logger.Infof("pose R=%.2f P=%.2f Y=%.2f | lin acc %.3f,%.3f,%.3f g | held=%v",
				out.Pose.Roll, out.Pose.Pitch, out.Pose.Yaw,
				out.LinearAccel.X, out.LinearAccel.Y, out.LinearAccel.Z, out.Held)
		}
	}
}

// publishOutput sends one cycle. The plain pose topic carries the
// accelerometer-only tilt; the fused topic carries the full output.
func publishOutput(client mqtt.Client, cfg *config.Config, out fusion.Output, logger golog.Logger) {
	a := out.Sample.Accel
	publishJSON(client, cfg.TopicPose, orientation.ComputePoseFromAccel(a.X, a.Y, a.Z), logger)
	publishJSON(client, cfg.TopicPoseFused, out, logger)
	publishJSON(client, cfg.TopicIMURaw, out.Raw, logger)
	publishJSON(client, cfg.TopicLinearAccel, linearAccelMessage{Time: out.Time, LinearAccel: out.LinearAccel, Held: out.Held}, logger)
}

func publishJSON(client mqtt.Client, topic string, v any, logger golog.Logger) {
	if topic == "" {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		logger.Warnf("json marshal error (%s): %v", topic, err)
		return
	}
	if token := client.Publish(topic, 0, true, payload); token.Wait() && token.Error() != nil {
		logger.Warnf("MQTT publish error (%s): %v", topic, token.Error())
	}
}
