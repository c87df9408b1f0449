// Package config provides process settings for go-weedbot commands.
//
// Settings are resolved, lowest to highest precedence, from struct defaults,
// a .env file, WEEDBOT_* environment variables and command-line flags.
// The persisted actuation record (speeds, water, cooldown) lives in pkg/persist
// and is not part of these settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Default process configuration.
const (
	DefaultListenAddr  = "0.0.0.0:5000"
	DefaultConfigPath  = "config.json"
	DefaultModelPath   = "models/weeds_yolov8n.onnx"
	DefaultVideoSource = "0"
	DefaultHistoryPath = "weedbot-history.db"
	DefaultRobotID     = "weedbot"
)

// Config backends.
const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

// Settings holds every process-level knob. Field tags drive the kong CLI.
type Settings struct {
	ListenAddr string `name:"listen" env:"WEEDBOT_LISTEN" default:"0.0.0.0:5000" help:"HTTP control surface address."`
	RobotID    string `name:"robot-id" env:"WEEDBOT_ROBOT_ID" default:"weedbot" help:"Robot identifier used in MQTT topics and Redis keys."`

	// Persisted configuration record.
	ConfigBackend string `name:"config-backend" env:"WEEDBOT_CONFIG_BACKEND" default:"file" enum:"file,redis" help:"Where the actuation record is persisted (file|redis)."`
	ConfigPath    string `name:"config" env:"WEEDBOT_CONFIG" default:"config.json" help:"Path of the persisted JSON record (file backend)."`
	WatchConfig   bool   `name:"watch-config" env:"WEEDBOT_WATCH_CONFIG" default:"true" negatable:"" help:"Apply hand edits of the config file while running."`
	RedisAddr     string `name:"redis-addr" env:"WEEDBOT_REDIS_ADDR" default:"localhost:6379" help:"Redis address (redis backend)."`
	RedisPassword string `name:"redis-password" env:"WEEDBOT_REDIS_PASSWORD" help:"Redis password."`
	RedisDB       int    `name:"redis-db" env:"WEEDBOT_REDIS_DB" default:"0" help:"Redis database number."`

	// Vision.
	ModelPath     string  `name:"model" env:"WEEDBOT_MODEL" default:"models/weeds_yolov8n.onnx" help:"ONNX detection model."`
	VideoSource   string  `name:"video-source" env:"WEEDBOT_VIDEO_SOURCE" default:"0" help:"Camera index or stream URL."`
	Confidence    float64 `name:"confidence" env:"WEEDBOT_CONFIDENCE" default:"0.5" help:"Minimum detection confidence."`
	NMSThreshold  float64 `name:"nms" env:"WEEDBOT_NMS" default:"0.45" help:"Non-maximum suppression IoU threshold."`
	ReconnectWait time.Duration `name:"reconnect-wait" env:"WEEDBOT_RECONNECT_WAIT" default:"3s" help:"Delay before reopening a failed camera."`

	// Actuators.
	Sim          bool    `name:"sim" env:"WEEDBOT_SIM" help:"Use simulated actuators instead of GPIO."`
	MotorPWMPin  string  `name:"motor-pwm-pin" env:"WEEDBOT_MOTOR_PWM_PIN" default:"GPIO13" help:"Motor PWM pin."`
	MotorDirPin  string  `name:"motor-dir-pin" env:"WEEDBOT_MOTOR_DIR_PIN" default:"GPIO27" help:"Motor direction pin."`
	PumpPWMPin   string  `name:"pump-pwm-pin" env:"WEEDBOT_PUMP_PWM_PIN" default:"GPIO12" help:"Pump PWM pin."`
	PumpDirPin   string  `name:"pump-dir-pin" env:"WEEDBOT_PUMP_DIR_PIN" default:"GPIO24" help:"Pump direction pin."`
	PumpDuty     float64 `name:"pump-duty" env:"WEEDBOT_PUMP_DUTY" default:"0.5" help:"Constant pump duty cycle while spraying."`
	PWMFrequency int     `name:"pwm-frequency" env:"WEEDBOT_PWM_FREQUENCY" default:"1000" help:"PWM frequency in Hz."`

	// Loop timing.
	CycleSleep          time.Duration `name:"cycle-sleep" env:"WEEDBOT_CYCLE_SLEEP" default:"10ms" help:"Pause between detection cycles."`
	MaintenanceInterval time.Duration `name:"maintenance-interval" env:"WEEDBOT_MAINTENANCE_INTERVAL" default:"50ms" help:"Cadence of pump stop and motor resume checks."`
	ErrorBackoff        time.Duration `name:"error-backoff" env:"WEEDBOT_ERROR_BACKOFF" default:"500ms" help:"Wait after a failed detection cycle."`

	// Telemetry and history.
	MQTTBroker      string `name:"mqtt-broker" env:"WEEDBOT_MQTT_BROKER" help:"MQTT broker URL, e.g. tcp://localhost:1883. Empty disables MQTT."`
	MQTTUsername    string `name:"mqtt-username" env:"WEEDBOT_MQTT_USERNAME" help:"MQTT username."`
	MQTTPassword    string `name:"mqtt-password" env:"WEEDBOT_MQTT_PASSWORD" help:"MQTT password."`
	MQTTTopicPrefix string `name:"mqtt-prefix" env:"WEEDBOT_MQTT_PREFIX" default:"weedbot" help:"MQTT topic prefix."`
	HistoryPath     string `name:"history" env:"WEEDBOT_HISTORY" default:"weedbot-history.db" help:"SQLite spray archive. Empty disables it."`

	LogLevel  string `name:"log-level" env:"WEEDBOT_LOG_LEVEL" default:"info" enum:"debug,info,warn,error" help:"Log level."`
	LogFormat string `name:"log-format" env:"WEEDBOT_LOG_FORMAT" default:"text" enum:"text,json" help:"Log format."`
}

// Default returns settings equal to the CLI defaults, for callers that
// build Settings without going through kong (tests, embedding).
func Default() Settings {
	return Settings{
		ListenAddr:          DefaultListenAddr,
		RobotID:             DefaultRobotID,
		ConfigBackend:       BackendFile,
		ConfigPath:          DefaultConfigPath,
		WatchConfig:         true,
		RedisAddr:           "localhost:6379",
		ModelPath:           DefaultModelPath,
		VideoSource:         DefaultVideoSource,
		Confidence:          0.5,
		NMSThreshold:        0.45,
		ReconnectWait:       3 * time.Second,
		MotorPWMPin:         "GPIO13",
		MotorDirPin:         "GPIO27",
		PumpPWMPin:          "GPIO12",
		PumpDirPin:          "GPIO24",
		PumpDuty:            0.5,
		PWMFrequency:        1000,
		CycleSleep:          10 * time.Millisecond,
		MaintenanceInterval: 50 * time.Millisecond,
		ErrorBackoff:        500 * time.Millisecond,
		MQTTTopicPrefix:     "weedbot",
		HistoryPath:         DefaultHistoryPath,
		LogLevel:            "info",
		LogFormat:           "text",
	}
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set.
// A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// VideoDevice returns the video source as a device index when it is numeric,
// otherwise the raw string (file path or stream URL).
func (s Settings) VideoDevice() any {
	if idx, err := strconv.Atoi(strings.TrimSpace(s.VideoSource)); err == nil {
		return idx
	}
	return s.VideoSource
}

// MQTTEnabled reports whether a broker is configured.
func (s Settings) MQTTEnabled() bool {
	return strings.TrimSpace(s.MQTTBroker) != ""
}

// Validate checks that the settings are usable.
func (s Settings) Validate() error {
	var errs []error

	if s.ListenAddr == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if s.RobotID == "" {
		errs = append(errs, errors.New("robot id is required"))
	}
	switch s.ConfigBackend {
	case BackendFile:
		if s.ConfigPath == "" {
			errs = append(errs, errors.New("config path is required for the file backend"))
		}
	case BackendRedis:
		if s.RedisAddr == "" {
			errs = append(errs, errors.New("redis address is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown config backend %q", s.ConfigBackend))
	}
	if s.PumpDuty <= 0 || s.PumpDuty > 1 {
		errs = append(errs, fmt.Errorf("pump duty must be in (0, 1], got %v", s.PumpDuty))
	}
	if s.PWMFrequency <= 0 {
		errs = append(errs, fmt.Errorf("pwm frequency must be positive, got %d", s.PWMFrequency))
	}
	if s.Confidence <= 0 || s.Confidence >= 1 {
		errs = append(errs, fmt.Errorf("confidence must be in (0, 1), got %v", s.Confidence))
	}
	if s.MaintenanceInterval <= 0 || s.MaintenanceInterval >= time.Second {
		// Pump stop and motor resume must run on a sub-second cadence.
		errs = append(errs, fmt.Errorf("maintenance interval must be in (0, 1s), got %v", s.MaintenanceInterval))
	}
	if s.CycleSleep < 0 || s.ErrorBackoff < 0 {
		errs = append(errs, errors.New("loop delays must not be negative"))
	}

	return errors.Join(errs...)
}
