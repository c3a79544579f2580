package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Validation limits for the sensor, monitor, and supervisor sections.
const (
	// maxSensorPin is the highest pin index in the 32-bit GPIO input register.
	maxSensorPin = 31

	minPollPeriodSecs = 1
	maxPollPeriodSecs = 30

	minWindowSeconds = 5
	maxWindowSeconds = 100

	minRisingThresholdPct  = 10
	minFallingThresholdPct = 1
	maxThresholdPct        = 100

	maxVacancyTimeoutSeconds = 600
	maxRestartWaitSeconds    = 100
	maxCrashLoopCount        = 50
	maxCommandRestarts       = 99
)

// Sensor drivers understood by the daemon.
const (
	SensorDriverSysfs = "sysfs"
	SensorDriverMock  = "mock"
	SensorDriverMQTT  = "mqtt"
)

// Config is the root configuration structure for pipresencemon.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site       SiteConfig       `yaml:"site"`
	Sensor     SensorConfig     `yaml:"sensor"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// SiteConfig identifies the installation in MQTT topics and metrics.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// SensorConfig selects how the motion sensor pin is read.
type SensorConfig struct {
	// Driver is "sysfs" (read PathTemplate per pin), "mock" (watch MockPath)
	// or "mqtt" (follow the retained payload on Topic).
	Driver string `yaml:"driver"`

	// Pin is the GPIO input to monitor.
	Pin int `yaml:"pin"`

	// PollPeriodSecs is the sleep between sensor reads.
	PollPeriodSecs int `yaml:"poll_period_secs"`

	// PathTemplate is formatted with the pin number, e.g. "/sys/class/gpio/gpio%d/value".
	PathTemplate string `yaml:"path_template"`

	// MockPath is the file read in mock mode. Do `echo 1 > gpio_mock` to fake presence.
	MockPath string `yaml:"mock_path"`

	// Topic carries the sensor level for the mqtt driver, e.g. a
	// zigbee2mqtt occupancy sensor. Payloads: 1/0, true/false, ON/OFF or
	// a JSON object with an "occupancy" field.
	Topic string `yaml:"topic"`

	// Debug logs every reading.
	Debug bool `yaml:"debug"`
}

// MonitorConfig controls the sliding window and hysteresis thresholds.
type MonitorConfig struct {
	// WindowSeconds is how much sensor history is kept.
	WindowSeconds int `yaml:"window_seconds"`

	// RisingThresholdPct: when vacant, the share of readings in the window that
	// must indicate presence before occupancy is reported.
	RisingThresholdPct int `yaml:"rising_edge_occupancy_threshold_pct"`

	// FallingThresholdPct: when occupied, the share of readings below which
	// vacancy is reported.
	FallingThresholdPct int `yaml:"falling_edge_vacancy_threshold_pct"`

	// VacancyTimeoutSeconds delays reporting vacancy after the window goes inactive.
	VacancyTimeoutSeconds int `yaml:"vacancy_motion_timeout_seconds"`

	// InitialActive pre-fills the window so the daemon starts out occupied.
	InitialActive bool `yaml:"initial_active"`
}

// SupervisorConfig holds the managed commands and their restart policy.
type SupervisorConfig struct {
	RestartWaitSeconds      int             `yaml:"restart_cmd_wait_time_seconds"`
	CrashLoopCount          int             `yaml:"crash_on_repeated_cmd_failure_count"`
	GracefulStopTimeoutSecs int             `yaml:"graceful_stop_timeout_secs"`
	OnOccupancy             []CommandConfig `yaml:"on_occupancy"`
	OnVacancy               []CommandConfig `yaml:"on_vacancy"`
}

// CommandConfig is a single managed command.
//
// Either Cmd (split on whitespace, no quoting) or Argv may be given, not both.
type CommandConfig struct {
	Cmd                  string   `yaml:"cmd"`
	Argv                 []string `yaml:"argv"`
	ShouldRestartOnCrash bool     `yaml:"should_restart_on_crash"`
	MaxRestarts          int      `yaml:"max_restarts"`
}

// CommandLine returns the argv for the command.
func (c CommandConfig) CommandLine() []string {
	if len(c.Argv) > 0 {
		return c.Argv
	}
	return strings.Fields(c.Cmd)
}

// DatabaseConfig contains SQLite event history settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// RetentionDays prunes history older than this once a day. 0 keeps everything.
	RetentionDays int `yaml:"retention_days"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP status API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment overrides.
//
// The configuration is loaded in this order (later values override earlier):
//  1. Default values
//  2. YAML file values
//  3. Environment variable overrides
//
// Environment variables use the prefix PIPRESENCEMON_ followed by the path,
// for example: PIPRESENCEMON_SENSOR_PIN, PIPRESENCEMON_MQTT_HOST
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "pipresencemon",
			Name: "PiPresenceMon",
		},
		Sensor: SensorConfig{
			Driver:         SensorDriverSysfs,
			Pin:            4,
			PollPeriodSecs: 1,
			PathTemplate:   "/sys/class/gpio/gpio%d/value",
			MockPath:       "./gpio_mock",
		},
		Monitor: MonitorConfig{
			WindowSeconds:       30,
			RisingThresholdPct:  60,
			FallingThresholdPct: 40,
			InitialActive:       true,
		},
		Supervisor: SupervisorConfig{
			RestartWaitSeconds:      5,
			CrashLoopCount:          10,
			GracefulStopTimeoutSecs: 10,
		},
		Database: DatabaseConfig{
			Path:          "./data/pipresencemon.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 30,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "pipresencemon",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8095,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/api/v1/ws",
			MaxMessageSize: 4096,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     50,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: PIPRESENCEMON_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Sensor
	if v := os.Getenv("PIPRESENCEMON_SENSOR_DRIVER"); v != "" {
		cfg.Sensor.Driver = v
	}
	if v := os.Getenv("PIPRESENCEMON_SENSOR_PIN"); v != "" {
		if pin, err := strconv.Atoi(v); err == nil {
			cfg.Sensor.Pin = pin
		}
	}

	// Database
	if v := os.Getenv("PIPRESENCEMON_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("PIPRESENCEMON_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("PIPRESENCEMON_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("PIPRESENCEMON_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("PIPRESENCEMON_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("PIPRESENCEMON_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// All problems are collected so the operator sees every mistake at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	errs = append(errs, c.validateSensor()...)
	errs = append(errs, c.validateMonitor()...)
	errs = append(errs, c.validateSupervisor()...)

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}
	if c.Database.RetentionDays < 0 {
		errs = append(errs, "database.retention_days must not be negative")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) validateSensor() []string {
	var errs []string

	switch c.Sensor.Driver {
	case SensorDriverSysfs:
		if !strings.Contains(c.Sensor.PathTemplate, "%d") {
			errs = append(errs, "sensor.path_template must contain %d for the pin number")
		}
	case SensorDriverMock:
		if c.Sensor.MockPath == "" {
			errs = append(errs, "sensor.mock_path is required for the mock driver")
		}
	case SensorDriverMQTT:
		if c.Sensor.Topic == "" {
			errs = append(errs, "sensor.topic is required for the mqtt driver")
		}
		if !c.MQTT.Enabled {
			errs = append(errs, "sensor.driver mqtt requires mqtt.enabled")
		}
	default:
		errs = append(errs, fmt.Sprintf("sensor.driver %q must be one of %q, %q, %q",
			c.Sensor.Driver, SensorDriverSysfs, SensorDriverMock, SensorDriverMQTT))
	}

	errs = appendRange(errs, "sensor.pin", c.Sensor.Pin, 0, maxSensorPin)
	errs = appendRange(errs, "sensor.poll_period_secs", c.Sensor.PollPeriodSecs, minPollPeriodSecs, maxPollPeriodSecs)

	return errs
}

func (c *Config) validateMonitor() []string {
	var errs []string

	errs = appendRange(errs, "monitor.window_seconds", c.Monitor.WindowSeconds, minWindowSeconds, maxWindowSeconds)
	errs = appendRange(errs, "monitor.rising_edge_occupancy_threshold_pct", c.Monitor.RisingThresholdPct, minRisingThresholdPct, maxThresholdPct)
	errs = appendRange(errs, "monitor.falling_edge_vacancy_threshold_pct", c.Monitor.FallingThresholdPct, minFallingThresholdPct, maxThresholdPct)
	errs = appendRange(errs, "monitor.vacancy_motion_timeout_seconds", c.Monitor.VacancyTimeoutSeconds, 0, maxVacancyTimeoutSeconds)

	// A rising threshold below the falling one would flap on every sample.
	if c.Monitor.RisingThresholdPct < c.Monitor.FallingThresholdPct {
		errs = append(errs, "monitor.rising_edge_occupancy_threshold_pct must not be lower than "+
			"monitor.falling_edge_vacancy_threshold_pct, otherwise the configuration isn't stable")
	}

	if c.Sensor.PollPeriodSecs > 0 && c.Monitor.WindowSeconds < c.Sensor.PollPeriodSecs {
		errs = append(errs, "monitor.window_seconds must hold at least one sensor poll period")
	}

	return errs
}

func (c *Config) validateSupervisor() []string {
	var errs []string

	errs = appendRange(errs, "supervisor.restart_cmd_wait_time_seconds", c.Supervisor.RestartWaitSeconds, 0, maxRestartWaitSeconds)
	errs = appendRange(errs, "supervisor.crash_on_repeated_cmd_failure_count", c.Supervisor.CrashLoopCount, 0, maxCrashLoopCount)
	if c.Supervisor.GracefulStopTimeoutSecs < 0 {
		errs = append(errs, "supervisor.graceful_stop_timeout_secs must not be negative")
	}

	errs = append(errs, validateCommands("supervisor.on_occupancy", c.Supervisor.OnOccupancy)...)
	errs = append(errs, validateCommands("supervisor.on_vacancy", c.Supervisor.OnVacancy)...)

	return errs
}

func validateCommands(key string, cmds []CommandConfig) []string {
	var errs []string
	for i, cmd := range cmds {
		item := fmt.Sprintf("%s[%d]", key, i)
		switch {
		case cmd.Cmd != "" && len(cmd.Argv) > 0:
			errs = append(errs, item+": set either cmd or argv, not both")
		case len(cmd.CommandLine()) == 0:
			errs = append(errs, item+": cmd or argv is required")
		}
		errs = appendRange(errs, item+".max_restarts", cmd.MaxRestarts, 0, maxCommandRestarts)
	}
	return errs
}

// appendRange records an error when v is outside [lo, hi].
func appendRange(errs []string, key string, v, lo, hi int) []string {
	if v < lo || v > hi {
		errs = append(errs, fmt.Sprintf("invalid value %d for %s, expected interval is [%d, %d]", v, key, lo, hi))
	}
	return errs
}

// Warnings returns non-fatal configuration problems worth logging at startup.
func (c *Config) Warnings() []string {
	var warnings []string
	if len(c.Supervisor.OnOccupancy) == 0 {
		warnings = append(warnings, "no occupancy commands specified, this looks buggy")
	}
	if len(c.Supervisor.OnVacancy) == 0 {
		warnings = append(warnings, "no vacancy commands specified, this looks buggy")
	}
	return warnings
}

// Summary renders the effective configuration as YAML with secrets masked.
func (c *Config) Summary() (string, error) {
	redacted := *c
	if redacted.MQTT.Auth.Password != "" {
		redacted.MQTT.Auth.Password = redactedValue
	}
	if redacted.InfluxDB.Token != "" {
		redacted.InfluxDB.Token = redactedValue
	}

	out, err := yaml.Marshal(&redacted)
	if err != nil {
		return "", fmt.Errorf("rendering config: %w", err)
	}
	return string(out), nil
}

const redactedValue = "<redacted>"

// PollPeriod returns the sensor poll period as a Duration.
func (c *Config) PollPeriod() time.Duration {
	return time.Duration(c.Sensor.PollPeriodSecs) * time.Second
}

// GracefulStopTimeout returns how long a stopped command may take to exit before SIGKILL.
func (c *Config) GracefulStopTimeout() time.Duration {
	return time.Duration(c.Supervisor.GracefulStopTimeoutSecs) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
