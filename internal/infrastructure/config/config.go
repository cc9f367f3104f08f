package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Colour Lab Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Lab        LabConfig        `yaml:"lab"`
	Experiment ExperimentConfig `yaml:"experiment"`
	Advisor    AdvisorConfig    `yaml:"advisor"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
	Security   SecurityConfig   `yaml:"security"`
}

// LabConfig describes how to reach the liquid-handling lab.
type LabConfig struct {
	// BaseURL of the Lab HTTP API, e.g. http://localhost:5000.
	BaseURL string `yaml:"base_url"`

	// RequestTimeout bounds a single Lab call, in seconds.
	RequestTimeout int `yaml:"request_timeout"`

	Simulator SimulatorConfig `yaml:"simulator"`
}

// SimulatorConfig controls the managed virtual lab subprocess.
type SimulatorConfig struct {
	// Managed starts `colourlab labsim` as a supervised child process and
	// points the Lab client at it.
	Managed bool `yaml:"managed"`

	// Host and Port the simulator listens on.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Binary is the executable to launch. Empty means the running binary.
	Binary string `yaml:"binary,omitempty"`

	RestartOnFailure bool          `yaml:"restart_on_failure"`
	RestartDelay     time.Duration `yaml:"restart_delay"`
	MaxRestarts      int           `yaml:"max_restarts"`
}

// ExperimentConfig holds defaults and limits for experiment runs.
type ExperimentConfig struct {
	// DefaultTarget is used when a start request omits the target.
	DefaultTarget [3]int `yaml:"default_target"`

	// DefaultNCalls is used when a start request omits the budget.
	DefaultNCalls int `yaml:"default_n_calls"`

	// Bounds is the inclusive per-channel drop-count range.
	Bounds BoundsConfig `yaml:"bounds"`

	// GracePeriod is how long Start waits for a superseded run to stop
	// before abandoning it.
	GracePeriod time.Duration `yaml:"grace_period"`

	// IterationDelay pauses between iterations so the apparatus can settle.
	IterationDelay time.Duration `yaml:"iteration_delay"`

	// Seed makes the surrogate strategy reproducible.
	Seed uint64 `yaml:"seed"`

	// InitialPoints is the number of random candidates the surrogate
	// strategy evaluates before fitting its model.
	InitialPoints int `yaml:"initial_points"`

	// ClearPlateOnStart clears the plate before the first iteration.
	ClearPlateOnStart bool `yaml:"clear_plate_on_start"`
}

// BoundsConfig is the inclusive per-channel candidate range.
type BoundsConfig struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// AdvisorConfig selects the generative backend for the advisory strategy.
type AdvisorConfig struct {
	// Provider is "openai", "anthropic", "gemini" or empty (disabled).
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	MaxTokens int    `yaml:"max_tokens"`

	// Timeout bounds one completion call, in seconds.
	Timeout int `yaml:"timeout"`
}

// DatabaseConfig contains SQLite settings for the experiment archive.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
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
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
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

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains bearer token settings. An empty secret leaves the
// API unauthenticated.
type JWTConfig struct {
	Secret string `yaml:"secret"`

	// TokenTTL is the lifetime of tokens minted by `colourlab token`, in minutes.
	TokenTTL int `yaml:"token_ttl"`
}

// DefaultPath is used when neither --config nor COLOURLAB_CONFIG is set.
const DefaultPath = "configs/config.yaml"

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: COLOURLAB_SECTION_KEY
// For example: COLOURLAB_LAB_BASE_URL, COLOURLAB_API_PORT
//
// A missing file is tolerated only when optional is true, so that the
// default path can be absent while an explicitly named file cannot.
func Load(path string, optional bool) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case optional && errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration without reading a file.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Lab: LabConfig{
			BaseURL:        "http://localhost:5000",
			RequestTimeout: 10,
			Simulator: SimulatorConfig{
				Host:             "127.0.0.1",
				Port:             5000,
				RestartOnFailure: true,
				RestartDelay:     2 * time.Second,
				MaxRestarts:      5,
			},
		},
		Experiment: ExperimentConfig{
			DefaultTarget:  [3]int{90, 10, 130},
			DefaultNCalls:  20,
			Bounds:         BoundsConfig{Min: 0, Max: 5},
			GracePeriod:    5 * time.Second,
			IterationDelay: 0,
			Seed:           42,
			InitialPoints:  10,
		},
		Advisor: AdvisorConfig{
			MaxTokens: 256,
			Timeout:   60,
		},
		Database: DatabaseConfig{
			Enabled:     true,
			Path:        ":memory:",
			WALMode:     false,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "colourlab-core",
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
			Port: 8000,
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
		InfluxDB: InfluxDBConfig{
			Org:           "colourlab",
			Bucket:        "experiments",
			BatchSize:     100,
			FlushInterval: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				TokenTTL: 60,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: COLOURLAB_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Lab
	if v := os.Getenv("COLOURLAB_LAB_BASE_URL"); v != "" {
		cfg.Lab.BaseURL = v
	}
	if v, ok := envBool("COLOURLAB_LAB_SIMULATOR_MANAGED"); ok {
		cfg.Lab.Simulator.Managed = v
	}

	// Experiment
	if v, ok := envInt("COLOURLAB_EXPERIMENT_DEFAULT_N_CALLS"); ok {
		cfg.Experiment.DefaultNCalls = v
	}
	if v := os.Getenv("COLOURLAB_EXPERIMENT_GRACE_PERIOD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Experiment.GracePeriod = d
		}
	}

	// Advisor
	if v := os.Getenv("COLOURLAB_ADVISOR_PROVIDER"); v != "" {
		cfg.Advisor.Provider = v
	}
	if v := os.Getenv("COLOURLAB_ADVISOR_MODEL"); v != "" {
		cfg.Advisor.Model = v
	}
	if v := os.Getenv("COLOURLAB_ADVISOR_API_KEY"); v != "" {
		cfg.Advisor.APIKey = v
	}

	// Database
	if v := os.Getenv("COLOURLAB_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v, ok := envBool("COLOURLAB_MQTT_ENABLED"); ok {
		cfg.MQTT.Enabled = v
	}
	if v := os.Getenv("COLOURLAB_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("COLOURLAB_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("COLOURLAB_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("COLOURLAB_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v, ok := envInt("COLOURLAB_API_PORT"); ok {
		cfg.API.Port = v
	}

	// InfluxDB
	if v, ok := envBool("COLOURLAB_INFLUXDB_ENABLED"); ok {
		cfg.InfluxDB.Enabled = v
	}
	if v := os.Getenv("COLOURLAB_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("COLOURLAB_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Security
	if v := os.Getenv("COLOURLAB_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

// plateCapacity mirrors the 8x12 plate; a budget larger than this would
// run out of wells.
const plateCapacity = 96

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Lab validation
	if c.Lab.BaseURL == "" && !c.Lab.Simulator.Managed {
		errs = append(errs, "lab.base_url is required unless lab.simulator.managed is set")
	}
	if c.Lab.RequestTimeout <= 0 {
		errs = append(errs, "lab.request_timeout must be positive")
	}
	if c.Lab.Simulator.Managed && (c.Lab.Simulator.Port < 1 || c.Lab.Simulator.Port > 65535) {
		errs = append(errs, "lab.simulator.port must be between 1 and 65535")
	}

	// Experiment validation
	for i, v := range c.Experiment.DefaultTarget {
		if v < 0 || v > 255 {
			errs = append(errs, fmt.Sprintf("experiment.default_target[%d] must be between 0 and 255", i))
		}
	}
	if c.Experiment.DefaultNCalls < 1 || c.Experiment.DefaultNCalls > plateCapacity {
		errs = append(errs, fmt.Sprintf("experiment.default_n_calls must be between 1 and %d", plateCapacity))
	}
	if c.Experiment.Bounds.Min < 0 {
		errs = append(errs, "experiment.bounds.min must not be negative")
	}
	if c.Experiment.Bounds.Max <= c.Experiment.Bounds.Min {
		errs = append(errs, "experiment.bounds.max must be greater than experiment.bounds.min")
	}
	if c.Experiment.GracePeriod < 0 {
		errs = append(errs, "experiment.grace_period must not be negative")
	}
	if c.Experiment.IterationDelay < 0 {
		errs = append(errs, "experiment.iteration_delay must not be negative")
	}
	if c.Experiment.InitialPoints < 1 {
		errs = append(errs, "experiment.initial_points must be at least 1")
	}

	// Advisor validation
	switch c.Advisor.Provider {
	case "", "openai", "anthropic", "gemini":
	default:
		errs = append(errs, "advisor.provider must be openai, anthropic, gemini or empty")
	}

	// Database validation
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the archive is enabled")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	// Security validation: auth is optional, but a configured secret must be strong.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret != "" && len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
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

// GetLabTimeout returns the per-call Lab timeout as a Duration.
func (c *Config) GetLabTimeout() time.Duration {
	return time.Duration(c.Lab.RequestTimeout) * time.Second
}

// GetAdvisorTimeout returns the advisory completion timeout as a Duration.
func (c *Config) GetAdvisorTimeout() time.Duration {
	return time.Duration(c.Advisor.Timeout) * time.Second
}

// SimulatorURL is the base URL of the managed simulator.
func (c *Config) SimulatorURL() string {
	return fmt.Sprintf("http://%s:%d", c.Lab.Simulator.Host, c.Lab.Simulator.Port)
}
