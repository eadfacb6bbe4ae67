package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for IntelliFlow Signal Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	System    SystemConfig    `yaml:"system"`
	Lanes     LanesConfig     `yaml:"lanes"`
	Timing    TimingConfig    `yaml:"timing"`
	EVP       EVPConfig       `yaml:"evp"`
	Detection DetectionConfig `yaml:"detection"`
	Serial    SerialConfig    `yaml:"serial"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	History   HistoryConfig   `yaml:"history"`
	Security  SecurityConfig  `yaml:"security"`
}

// SiteConfig contains intersection-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// SystemConfig selects the detection source arrangement.
type SystemConfig struct {
	// Mode is one of: four_video, two_video, two_esp32, two_ip, two_mixed, four_hybrid.
	Mode string `yaml:"mode"`
}

// LanesConfig maps each system mode to its per-lane detection sources.
// Only the entry for the active mode is used.
type LanesConfig struct {
	Sources map[string]map[string]LaneSourceConfig `yaml:"sources"`
}

// LaneSourceConfig describes one lane's detection source.
type LaneSourceConfig struct {
	Type string `yaml:"type"` // video, esp32, ip_webcam
	Path string `yaml:"path,omitempty"`
	URL  string `yaml:"url,omitempty"`
	Host string `yaml:"host,omitempty"`
}

// TimingConfig contains the signal timing parameters, in seconds unless noted.
type TimingConfig struct {
	// MinGreen is the minimum green duration. Must be positive and less
	// than MaxGreen.
	MinGreen float64 `yaml:"min_green"`

	// MaxGreen is the maximum green duration.
	MaxGreen float64 `yaml:"max_green"`

	// PerVehicle is the green time added per queued vehicle.
	PerVehicle float64 `yaml:"per_vehicle"`

	// Yellow is the fixed yellow (amber) duration.
	Yellow float64 `yaml:"yellow"`

	// AllRed is the fixed all-red clearance duration between groups.
	AllRed float64 `yaml:"all_red"`

	// TickMs is the control loop tick interval in milliseconds.
	TickMs int `yaml:"tick_ms"`
}

// EVPConfig contains emergency vehicle preemption settings, in seconds.
type EVPConfig struct {
	// MinEta and MaxEta bound the accepted estimated-time-of-arrival.
	MinEta float64 `yaml:"min_eta"`
	MaxEta float64 `yaml:"max_eta"`

	// Grace is the window after the ETA elapses before a preemption that
	// was never cleared expires automatically.
	Grace float64 `yaml:"grace"`
}

// DetectionConfig contains detection ingest settings.
type DetectionConfig struct {
	// StaleAfter is how long (seconds) a lane may go without a count update
	// before it is flagged stale. Stale lanes keep their last count.
	StaleAfter float64 `yaml:"stale_after"`
}

// SerialConfig contains the Arduino signal-head serial link settings.
type SerialConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    string `yaml:"port"`
	Baud    int    `yaml:"baud"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
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
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings, in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB telemetry settings.
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

// HistoryConfig contains phase/EVP history retention settings.
type HistoryConfig struct {
	// RetentionDays is how long history rows are kept before pruning.
	RetentionDays int `yaml:"retention_days"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT      JWTConfig      `yaml:"jwt"`
	Operator OperatorConfig `yaml:"operator"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"` // minutes
}

// OperatorConfig contains the operator login credentials for the control API.
type OperatorConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: INTELLIFLOW_SECTION_KEY
// For example: INTELLIFLOW_DATABASE_PATH, INTELLIFLOW_SYSTEM_MODE
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
// Timing defaults follow the deployed intersection controller:
// 10s minimum green, 40s maximum, 2s per vehicle, 4s yellow, 2s all-red.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "intersection-001",
			Name:     "IntelliFlow",
			Timezone: "UTC",
		},
		System: SystemConfig{
			Mode: "two_video",
		},
		Timing: TimingConfig{
			MinGreen:   10,
			MaxGreen:   40,
			PerVehicle: 2,
			Yellow:     4,
			AllRed:     2,
			TickMs:     200,
		},
		EVP: EVPConfig{
			MinEta: 10,
			MaxEta: 300,
			Grace:  10,
		},
		Detection: DetectionConfig{
			StaleAfter: 5,
		},
		Serial: SerialConfig{
			Enabled: false,
			Port:    "/dev/ttyUSB0",
			Baud:    9600,
		},
		Database: DatabaseConfig{
			Path:        "./data/intelliflow.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "intelliflow-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		History: HistoryConfig{
			RetentionDays: 30,
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 15,
			},
			Operator: OperatorConfig{
				Username: "operator",
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: INTELLIFLOW_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// System
	if v := os.Getenv("INTELLIFLOW_SYSTEM_MODE"); v != "" {
		cfg.System.Mode = v
	}

	// Database
	if v := os.Getenv("INTELLIFLOW_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("INTELLIFLOW_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("INTELLIFLOW_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("INTELLIFLOW_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("INTELLIFLOW_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("INTELLIFLOW_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// Serial
	if v := os.Getenv("INTELLIFLOW_SERIAL_PORT"); v != "" {
		cfg.Serial.Port = v
	}

	// InfluxDB
	if v := os.Getenv("INTELLIFLOW_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security - JWT secret (IMPORTANT: always override in production)
	if v := os.Getenv("INTELLIFLOW_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	if v := os.Getenv("INTELLIFLOW_OPERATOR_PASSWORD"); v != "" {
		cfg.Security.Operator.Password = v
	}
}

// knownModes are the accepted system.mode values.
var knownModes = map[string]bool{
	"four_video":  true,
	"two_video":   true,
	"two_esp32":   true,
	"two_ip":      true,
	"two_mixed":   true,
	"four_hybrid": true,
}

// Validate checks the configuration for errors and security issues.
//
// All timing and EVP parameters are validated here so that a misconfigured
// controller refuses to start rather than driving signals with unsafe values.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Site validation
	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	// System mode validation
	if !knownModes[c.System.Mode] {
		errs = append(errs, fmt.Sprintf("system.mode %q is not a supported mode", c.System.Mode))
	}

	// Timing validation
	if c.Timing.MinGreen <= 0 {
		errs = append(errs, "timing.min_green must be positive")
	}
	if c.Timing.MaxGreen <= c.Timing.MinGreen {
		errs = append(errs, "timing.max_green must be greater than timing.min_green")
	}
	if c.Timing.PerVehicle < 0 {
		errs = append(errs, "timing.per_vehicle must not be negative")
	}
	if c.Timing.Yellow <= 0 {
		errs = append(errs, "timing.yellow must be positive")
	}
	if c.Timing.AllRed <= 0 {
		errs = append(errs, "timing.all_red must be positive")
	}
	if c.Timing.TickMs <= 0 {
		errs = append(errs, "timing.tick_ms must be positive")
	}

	// EVP validation
	if c.EVP.MinEta <= 0 {
		errs = append(errs, "evp.min_eta must be positive")
	}
	if c.EVP.MaxEta <= c.EVP.MinEta {
		errs = append(errs, "evp.max_eta must be greater than evp.min_eta")
	}
	if c.EVP.Grace < 0 {
		errs = append(errs, "evp.grace must not be negative")
	}

	// Detection validation
	if c.Detection.StaleAfter <= 0 {
		errs = append(errs, "detection.stale_after must be positive")
	}

	// Serial validation
	if c.Serial.Enabled {
		if c.Serial.Port == "" {
			errs = append(errs, "serial.port is required when serial is enabled")
		}
		if c.Serial.Baud <= 0 {
			errs = append(errs, "serial.baud must be positive")
		}
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Security validation - JWT secret is REQUIRED
	// EVP preemption commands physically change signal heads; an attacker
	// who can forge tokens can force a green. Weak secrets are a startup error.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set INTELLIFLOW_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ActiveLaneSources returns the lane source entries for the active mode.
// The map may be empty if the mode has no entry; topology resolution
// reports the specific missing lanes.
func (c *Config) ActiveLaneSources() map[string]LaneSourceConfig {
	return c.Lanes.Sources[c.System.Mode]
}

// TickInterval returns the control loop tick interval as a Duration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Timing.TickMs) * time.Millisecond
}

// StaleAfter returns the detection staleness threshold as a Duration.
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.Detection.StaleAfter * float64(time.Second))
}

// HistoryRetention returns the history retention period as a Duration.
func (c *Config) HistoryRetention() time.Duration {
	return time.Duration(c.History.RetentionDays) * 24 * time.Hour
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
