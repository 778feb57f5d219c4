package app

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/geo/r3"

	"github.com/relabs-tech/inertial_ahrs/internal/calibration"
	"github.com/relabs-tech/inertial_ahrs/internal/imu"
)

// calibrationMessage is the retained calibration announcement. Mag fields
// are omitted when only accel/gyro biases changed.
type calibrationMessage struct {
	ID        string     `json:"id,omitempty"`
	Time      time.Time  `json:"time"`
	AccelBias r3.Vector  `json:"accel_bias"`
	GyroBias  r3.Vector  `json:"gyro_bias"`
	MagBias   *r3.Vector `json:"mag_bias,omitempty"`
	MagScale  *r3.Vector `json:"mag_scale,omitempty"`
}

func messageFromProfile(p *calibration.Profile) calibrationMessage {
	bias, scale := p.MagBias, p.MagScale
	return calibrationMessage{
		ID:        p.ID,
		Time:      p.Timestamp,
		AccelBias: p.AccelBias,
		GyroBias:  p.GyroBias,
		MagBias:   &bias,
		MagScale:  &scale,
	}
}

// apply updates a live state with the message contents.
func (m calibrationMessage) apply(s *calibration.State) error {
	if m.MagScale != nil {
		var bias r3.Vector
		if m.MagBias != nil {
			bias = *m.MagBias
		}
		if err := s.SetMagCalibration(bias, *m.MagScale); err != nil {
			return err
		}
	}
	s.SetAccelGyroBias(m.AccelBias, m.GyroBias)
	return nil
}

// mqttBiasSink announces new biases so a running producer picks them up
// without a restart.
type mqttBiasSink struct {
	client mqtt.Client
	topic  string
}

// StoreBias implements imu.BiasSink.
func (s mqttBiasSink) StoreBias(accel, gyro r3.Vector) error {
	return s.publish(calibrationMessage{Time: time.Now().UTC(), AccelBias: accel, GyroBias: gyro})
}

func (s mqttBiasSink) publish(m calibrationMessage) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("calibration marshal: %w", err)
	}
	if token := s.client.Publish(s.topic, 1, true, payload); token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT publish (%s): %w", s.topic, token.Error())
	}
	return nil
}

// multiSink stores to every sink, stopping at the first error.
type multiSink []imu.BiasSink

func (m multiSink) StoreBias(accel, gyro r3.Vector) error {
	for _, s := range m {
		if err := s.StoreBias(accel, gyro); err != nil {
			return err
		}
	}
	return nil
}
