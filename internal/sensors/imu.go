package sensors

import (
	"fmt"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"

	"github.com/relabs-tech/inertial_ahrs/internal/imu"
)

// Source kinds accepted by Open.
const (
	SourceHardware  = "hardware"
	SourceSynthetic = "synthetic"
)

// Open returns the raw reader for kind together with the magnetometer
// factory sensitivity the calibration state should start from.
func Open(kind string, hw MPU9250Config, res imu.Resolutions, logger golog.Logger) (imu.RawReader, r3.Vector, error) {
	switch kind {
	case SourceHardware:
		src, err := NewMPU9250Source(hw, logger)
		if err != nil {
			return nil, r3.Vector{}, err
		}
		return src, src.MagSensitivity(), nil
	case SourceSynthetic:
		logger.Infof("IMU: using synthetic source")
		return NewSyntheticSource(res, nil), r3.Vector{X: 1, Y: 1, Z: 1}, nil
	}
	return nil, r3.Vector{}, fmt.Errorf("unknown IMU source %q (want %s or %s)", kind, SourceHardware, SourceSynthetic)
}
