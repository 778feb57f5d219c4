package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker              string
	MQTTClientIDProducer    string
	MQTTClientIDConsole     string
	MQTTClientIDWeb         string
	MQTTClientIDDisplay     string
	MQTTClientIDCalibration string

	// Topics
	TopicPose        string
	TopicPoseFused   string
	TopicIMURaw      string
	TopicLinearAccel string
	TopicCalibration string
	TopicDeclination string

	// IMU Hardware
	IMUSource    string // "hardware" or "synthetic"
	IMUSPIDevice string
	IMUCSPin     string
	IMUIntPin    string // optional data-ready line
	MagI2CBus    string // empty opens the first bus
	MagI2CAddr   uint16

	// IMU Sensor Ranges
	// Accelerometer: 0=±2g, 1=±4g, 2=±8g, 3=±16g
	IMUAccelRange byte
	// Gyroscope: 0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s
	IMUGyroRange byte
	// Magnetometer output width: 14 or 16
	MagOutputBits int
	MagMode       string // "8hz" or "100hz"

	// Fusion
	Filter                string // none, madgwick or mahony
	FilterIterations      int
	MagDeclination        float64 // degrees
	FilterMaxDTMS         int
	AHRSEnabled           bool
	MadgwickGyroMeasError float64 // deg/s
	MadgwickGyroMeasDrift float64 // deg/s²
	MahonyKp              float64
	MahonyKi              float64
	MahonyIntegralLimit   float64

	// Calibration
	CalibrationFile       string
	CalibAccelGyroSamples int
	CalibMagSamples       int
	CalibSampleInterval   int // milliseconds

	// GPS, optional: drives the declination
	GPSSerialPort string
	GPSBaudRate   int

	// Timing
	IMUSampleInterval  int // milliseconds
	ConsoleLogInterval int // milliseconds

	// Web Server
	WebServerPort int

	// Display
	DisplayI2CAddr        uint16
	DisplayUpdateInterval int // milliseconds
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: only reachable through InitGlobal and Get.
//   - configOnce: ensures InitGlobal() only runs once.
//   - configMu: write lock for initialization, read lock for Get().
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns a Config with every optional value filled in.
func Default() *Config {
	return &Config{
		MQTTClientIDProducer:    "inertial-fusion-producer",
		MQTTClientIDConsole:     "inertial-console",
		MQTTClientIDWeb:         "inertial-web",
		MQTTClientIDDisplay:     "inertial-display",
		MQTTClientIDCalibration: "inertial-calibration",

		TopicPose:        "inertial/pose",
		TopicPoseFused:   "inertial/pose/fused",
		TopicIMURaw:      "inertial/imu/raw",
		TopicLinearAccel: "inertial/linear_accel",
		TopicCalibration: "inertial/calibration",
		TopicDeclination: "inertial/declination",

		IMUSource:  "hardware",
		MagI2CAddr: 0x0C,

		IMUAccelRange: 3,
		IMUGyroRange:  3,
		MagOutputBits: 16,
		MagMode:       "100hz",

		Filter:                "madgwick",
		FilterIterations:      1,
		MagDeclination:        -7.51,
		FilterMaxDTMS:         500,
		AHRSEnabled:           true,
		MadgwickGyroMeasError: 40,
		MadgwickGyroMeasDrift: 0,
		MahonyKp:              30,
		MahonyKi:              0,

		CalibrationFile:       "calibration.yaml",
		CalibAccelGyroSamples: 200,
		CalibMagSamples:       1500,
		CalibSampleInterval:   10,

		GPSBaudRate: 9600,

		IMUSampleInterval:  10,
		ConsoleLogInterval: 500,

		WebServerPort: 8080,

		DisplayI2CAddr:        0x3C,
		DisplayUpdateInterval: 200,
	}
}

// Load reads the configuration file on top of Default.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseInt(key, value string, min, max int) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v < min || v > max {
		return 0, fmt.Errorf("%s must be %d-%d, got %d", key, min, max, v)
	}
	return v, nil
}

func parseFloat(key, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

func parseNonNegative(key, value string) (float64, error) {
	v, err := parseFloat(key, value)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("%s must be >= 0, got %v", key, v)
	}
	return v, nil
}

func parseAddr(key, value string) (uint16, error) {
	addr, err := strconv.ParseUint(value, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return uint16(addr), nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_PRODUCER":
		c.MQTTClientIDProducer = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value
	case "MQTT_CLIENT_ID_DISPLAY":
		c.MQTTClientIDDisplay = value
	case "MQTT_CLIENT_ID_CALIBRATION":
		c.MQTTClientIDCalibration = value

	// Topics
	case "TOPIC_POSE":
		c.TopicPose = value
	case "TOPIC_POSE_FUSED":
		c.TopicPoseFused = value
	case "TOPIC_IMU_RAW":
		c.TopicIMURaw = value
	case "TOPIC_LINEAR_ACCEL":
		c.TopicLinearAccel = value
	case "TOPIC_CALIBRATION":
		c.TopicCalibration = value
	case "TOPIC_DECLINATION":
		c.TopicDeclination = value

	// IMU Hardware
	case "IMU_SOURCE":
		switch v := strings.ToLower(value); v {
		case "hardware", "synthetic":
			c.IMUSource = v
		default:
			return fmt.Errorf("IMU_SOURCE must be hardware or synthetic, got %q", value)
		}
	case "IMU_SPI_DEVICE":
		c.IMUSPIDevice = value
	case "IMU_CS_PIN":
		c.IMUCSPin = value
	case "IMU_INT_PIN":
		c.IMUIntPin = value
	case "MAG_I2C_BUS":
		c.MagI2CBus = value
	case "MAG_I2C_ADDR":
		c.MagI2CAddr, err = parseAddr(key, value)

	// IMU Sensor Ranges
	case "IMU_ACCEL_RANGE":
		rangeVal, err := parseInt(key, value, 0, 3)
		if err != nil {
			return fmt.Errorf("%w (0=±2g, 1=±4g, 2=±8g, 3=±16g)", err)
		}
		c.IMUAccelRange = byte(rangeVal)
	case "IMU_GYRO_RANGE":
		rangeVal, err := parseInt(key, value, 0, 3)
		if err != nil {
			return fmt.Errorf("%w (0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s)", err)
		}
		c.IMUGyroRange = byte(rangeVal)
	case "MAG_OUTPUT_BITS":
		bits, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid MAG_OUTPUT_BITS %q: %w", value, err)
		}
		if bits != 14 && bits != 16 {
			return fmt.Errorf("MAG_OUTPUT_BITS must be 14 or 16, got %d", bits)
		}
		c.MagOutputBits = bits
	case "MAG_MODE":
		switch v := strings.ToLower(value); v {
		case "8hz", "100hz":
			c.MagMode = v
		default:
			return fmt.Errorf("MAG_MODE must be 8hz or 100hz, got %q", value)
		}

	// Fusion
	case "FILTER":
		switch v := strings.ToLower(value); v {
		case "none", "passthrough", "madgwick", "mahony":
			c.Filter = v
		default:
			return fmt.Errorf("FILTER must be none, madgwick or mahony, got %q", value)
		}
	case "FILTER_ITERATIONS":
		c.FilterIterations, err = parseInt(key, value, 1, 100)
	case "MAG_DECLINATION":
		c.MagDeclination, err = parseFloat(key, value)
	case "FILTER_MAX_DT_MS":
		c.FilterMaxDTMS, err = parseInt(key, value, 1, 60000)
	case "AHRS_ENABLED":
		c.AHRSEnabled, err = strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid AHRS_ENABLED %q: %w", value, err)
		}
	case "MADGWICK_GYRO_MEAS_ERROR":
		c.MadgwickGyroMeasError, err = parseNonNegative(key, value)
	case "MADGWICK_GYRO_MEAS_DRIFT":
		c.MadgwickGyroMeasDrift, err = parseNonNegative(key, value)
	case "MAHONY_KP":
		c.MahonyKp, err = parseNonNegative(key, value)
	case "MAHONY_KI":
		c.MahonyKi, err = parseNonNegative(key, value)
	case "MAHONY_INTEGRAL_LIMIT":
		c.MahonyIntegralLimit, err = parseNonNegative(key, value)

	// Calibration
	case "CALIBRATION_FILE":
		c.CalibrationFile = value
	case "CALIB_ACCEL_GYRO_SAMPLES":
		c.CalibAccelGyroSamples, err = parseInt(key, value, 1, 100000)
	case "CALIB_MAG_SAMPLES":
		c.CalibMagSamples, err = parseInt(key, value, 1, 100000)
	case "CALIB_SAMPLE_INTERVAL":
		c.CalibSampleInterval, err = parseInt(key, value, 1, 10000)

	// GPS
	case "GPS_SERIAL_PORT":
		c.GPSSerialPort = value
	case "GPS_BAUD_RATE":
		rate, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid GPS_BAUD_RATE %q: %w", value, err)
		}
		c.GPSBaudRate = rate

	// Timing
	case "IMU_SAMPLE_INTERVAL":
		c.IMUSampleInterval, err = parseInt(key, value, 1, 10000)
	case "CONSOLE_LOG_INTERVAL":
		c.ConsoleLogInterval, err = parseInt(key, value, 1, 60000)

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parseInt(key, value, 1, 65535)

	// Display
	case "DISPLAY_I2C_ADDR":
		c.DisplayI2CAddr, err = parseAddr(key, value)
	case "DISPLAY_UPDATE_INTERVAL":
		c.DisplayUpdateInterval, err = parseInt(key, value, 1, 60000)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.IMUSource == "hardware" {
		if c.IMUSPIDevice == "" {
			return fmt.Errorf("IMU_SPI_DEVICE is required for IMU_SOURCE=hardware")
		}
		if c.IMUCSPin == "" {
			return fmt.Errorf("IMU_CS_PIN is required for IMU_SOURCE=hardware")
		}
	}
	if c.GPSSerialPort != "" && c.GPSBaudRate <= 0 {
		return fmt.Errorf("GPS_BAUD_RATE must be > 0 when GPS_SERIAL_PORT is set")
	}
	if c.CalibrationFile == "" {
		return fmt.Errorf("CALIBRATION_FILE is required")
	}
	return nil
}

// InitGlobal initializes the global configuration from file.
// Only the first call loads the file.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
