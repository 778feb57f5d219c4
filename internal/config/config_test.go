package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inertial_config.txt")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t,
		"# minimal synthetic setup",
		"MQTT_BROKER=tcp://localhost:1883",
		"",
		"IMU_SOURCE=synthetic",
	)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Filter != "madgwick" || cfg.FilterIterations != 1 || cfg.FilterMaxDTMS != 500 || !cfg.AHRSEnabled {
		t.Fatalf("fusion defaults got=%+v", cfg)
	}
	if cfg.MagDeclination != -7.51 || cfg.MahonyKp != 30 || cfg.MahonyKi != 0 {
		t.Fatalf("tuning defaults got=%+v", cfg)
	}
	if cfg.IMUAccelRange != 3 || cfg.IMUGyroRange != 3 || cfg.MagOutputBits != 16 || cfg.MagMode != "100hz" {
		t.Fatalf("range defaults got=%+v", cfg)
	}
	if cfg.CalibAccelGyroSamples != 200 || cfg.CalibMagSamples != 1500 {
		t.Fatalf("calibration defaults got=%+v", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t,
		"MQTT_BROKER = tcp://broker:1883",
		"IMU_SPI_DEVICE=/dev/spidev0.0",
		"IMU_CS_PIN=8",
		"IMU_INT_PIN=GPIO24",
		"MAG_I2C_ADDR=0x0D",
		"IMU_ACCEL_RANGE=1",
		"MAG_OUTPUT_BITS=14",
		"MAG_MODE=8Hz",
		"FILTER=mahony",
		"FILTER_ITERATIONS=4",
		"MAG_DECLINATION=2.25",
		"AHRS_ENABLED=false",
		"MAHONY_KI=0.5",
		"MAHONY_INTEGRAL_LIMIT=0.1",
		"DISPLAY_I2C_ADDR=0x3D",
	)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.MQTTBroker != "tcp://broker:1883" || cfg.IMUIntPin != "GPIO24" {
		t.Fatalf("strings got=%+v", cfg)
	}
	if cfg.MagI2CAddr != 0x0D || cfg.DisplayI2CAddr != 0x3D {
		t.Fatalf("addresses got=0x%02X,0x%02X", cfg.MagI2CAddr, cfg.DisplayI2CAddr)
	}
	if cfg.IMUAccelRange != 1 || cfg.MagOutputBits != 14 || cfg.MagMode != "8hz" {
		t.Fatalf("ranges got=%+v", cfg)
	}
	if cfg.Filter != "mahony" || cfg.FilterIterations != 4 || cfg.MagDeclination != 2.25 || cfg.AHRSEnabled {
		t.Fatalf("fusion got=%+v", cfg)
	}
	if cfg.MahonyKi != 0.5 || cfg.MahonyIntegralLimit != 0.1 {
		t.Fatalf("mahony got=%+v", cfg)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		line string
		want string
	}{
		{"IMU_ACCEL_RANGE=4", "IMU_ACCEL_RANGE must be 0-3"},
		{"IMU_GYRO_RANGE=x", "invalid IMU_GYRO_RANGE"},
		{"MAG_OUTPUT_BITS=12", "MAG_OUTPUT_BITS must be 14 or 16"},
		{"MAG_MODE=50hz", "MAG_MODE must be"},
		{"FILTER=kalman", "FILTER must be"},
		{"FILTER_ITERATIONS=0", "FILTER_ITERATIONS must be"},
		{"MAHONY_KP=-1", "MAHONY_KP must be >= 0"},
		{"IMU_SOURCE=usb", "IMU_SOURCE must be"},
		{"NOT_A_KEY=1", "unknown config key"},
		{"garbage", "invalid config line"},
	}
	for _, tc := range cases {
		path := writeConfig(t, "MQTT_BROKER=tcp://localhost:1883", "IMU_SOURCE=synthetic", tc.line)
		_, err := Load(path)
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%q: got=%v want error containing %q", tc.line, err, tc.want)
		}
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		lines []string
		want  string
	}{
		{[]string{"IMU_SOURCE=synthetic"}, "MQTT_BROKER is required"},
		{[]string{"MQTT_BROKER=tcp://x:1883"}, "IMU_SPI_DEVICE is required"},
		{[]string{"MQTT_BROKER=tcp://x:1883", "IMU_SPI_DEVICE=/dev/spidev0.0"}, "IMU_CS_PIN is required"},
		{[]string{"MQTT_BROKER=tcp://x:1883", "IMU_SOURCE=synthetic", "GPS_SERIAL_PORT=/dev/ttyS0", "GPS_BAUD_RATE=0"}, "GPS_BAUD_RATE must be > 0"},
	}
	for _, tc := range cases {
		_, err := Load(writeConfig(t, tc.lines...))
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%v: got=%v want error containing %q", tc.lines, err, tc.want)
		}
	}
}

func TestSampleConfigMatchesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "inertial_config.txt"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	want := Default()
	want.MQTTBroker = "tcp://localhost:1883"
	want.IMUSPIDevice = "/dev/spidev0.0"
	want.IMUCSPin = "8"
	want.MagI2CBus = "1"
	if *cfg != *want {
		t.Fatalf("sample config got=%+v want=%+v", cfg, want)
	}
}
