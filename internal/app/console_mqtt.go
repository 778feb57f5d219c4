package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/edaniels/golog"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/inertial_ahrs/internal/config"
	"github.com/relabs-tech/inertial_ahrs/internal/fusion"
	"github.com/relabs-tech/inertial_ahrs/internal/imu"
	"github.com/relabs-tech/inertial_ahrs/internal/orientation"
)

func formatPose(tag string, p orientation.Pose) string {
	return fmt.Sprintf("[%-4s] ROLL=%7.2f  PITCH=%7.2f  YAW=%7.2f", tag, p.Roll, p.Pitch, p.Yaw)
}

func formatOutput(out fusion.Output) string {
	s := formatPose("FUSE", out.Pose)
	s += fmt.Sprintf("  q=(%.4f %.4f %.4f %.4f)", out.Quaternion.W, out.Quaternion.X, out.Quaternion.Y, out.Quaternion.Z)
	s += fmt.Sprintf("  lin=(%+.3f %+.3f %+.3f)g", out.LinearAccel.X, out.LinearAccel.Y, out.LinearAccel.Z)
	if out.Held {
		s += "  HELD"
	}
	return s
}

func formatRaw(s imu.IMURaw) string {
	return fmt.Sprintf("[IMU ] ax=%6d ay=%6d az=%6d  gx=%6d gy=%6d gz=%6d  mx=%6d my=%6d mz=%6d",
		s.Ax, s.Ay, s.Az, s.Gx, s.Gy, s.Gz, s.Mx, s.My, s.Mz)
}

// RunConsoleMQTT prints every message the producer publishes until ctx is
// done.
func RunConsoleMQTT(ctx context.Context) error {
	logger := golog.NewLogger("console")
	defer logger.Sync()
	cfg := config.Get()

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDConsole, logger)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	subs := []struct {
		topic  string
		handle func([]byte) (string, error)
	}{
		{cfg.TopicPose, func(b []byte) (string, error) {
			var p orientation.Pose
			err := json.Unmarshal(b, &p)
			return formatPose("POSE", p), err
		}},
		{cfg.TopicPoseFused, func(b []byte) (string, error) {
			var out fusion.Output
			err := json.Unmarshal(b, &out)
			return formatOutput(out), err
		}},
		{cfg.TopicIMURaw, func(b []byte) (string, error) {
			var s imu.IMURaw
			err := json.Unmarshal(b, &s)
			return formatRaw(s), err
		}},
		{cfg.TopicDeclination, func(b []byte) (string, error) {
			var m declinationMessage
			err := json.Unmarshal(b, &m)
			return fmt.Sprintf("[DECL] %.2f° at %.5f,%.5f", m.Declination, m.Fix.Latitude, m.Fix.Longitude), err
		}},
		{cfg.TopicCalibration, func(b []byte) (string, error) {
			var m calibrationMessage
			err := json.Unmarshal(b, &m)
			return fmt.Sprintf("[CAL ] accel bias %v  gyro bias %v", m.AccelBias, m.GyroBias), err
		}},
	}
	for _, sub := range subs {
		topic, handle := sub.topic, sub.handle
		token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			line, err := handle(msg.Payload())
			if err != nil {
				logger.Warnf("%s unmarshal error: %v", topic, err)
				return
			}
			fmt.Println(line)
		})
		if token.Wait() && token.Error() != nil {
			return token.Error()
		}
		logger.Infof("subscribed to %s", topic)
	}

	<-ctx.Done()
	logger.Infof("shutting down")
	return nil
}
