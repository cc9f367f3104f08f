package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
lab:
  base_url: "http://lab.local:5000"
  request_timeout: 3
experiment:
  default_target: [10, 20, 30]
  default_n_calls: 12
  bounds:
    min: 0
    max: 7
  grace_period: 250ms
  seed: 7
advisor:
  provider: anthropic
  model: claude-test
database:
  path: "/tmp/test.db"
api:
  port: 9000
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
`)

	cfg, err := Load(path, false)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Lab.BaseURL != "http://lab.local:5000" {
		t.Errorf("Lab.BaseURL = %q", cfg.Lab.BaseURL)
	}
	if cfg.GetLabTimeout() != 3*time.Second {
		t.Errorf("GetLabTimeout() = %v, want 3s", cfg.GetLabTimeout())
	}
	if cfg.Experiment.DefaultTarget != [3]int{10, 20, 30} {
		t.Errorf("DefaultTarget = %v", cfg.Experiment.DefaultTarget)
	}
	if cfg.Experiment.DefaultNCalls != 12 {
		t.Errorf("DefaultNCalls = %d, want 12", cfg.Experiment.DefaultNCalls)
	}
	if cfg.Experiment.Bounds.Max != 7 {
		t.Errorf("Bounds.Max = %d, want 7", cfg.Experiment.Bounds.Max)
	}
	if cfg.Experiment.GracePeriod != 250*time.Millisecond {
		t.Errorf("GracePeriod = %v, want 250ms", cfg.Experiment.GracePeriod)
	}
	if cfg.Experiment.Seed != 7 {
		t.Errorf("Seed = %d, want 7", cfg.Experiment.Seed)
	}
	if cfg.Advisor.Provider != "anthropic" {
		t.Errorf("Advisor.Provider = %q", cfg.Advisor.Provider)
	}
	if cfg.API.Port != 9000 {
		t.Errorf("API.Port = %d, want 9000", cfg.API.Port)
	}
	// Untouched sections keep their defaults.
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want default 1883", cfg.MQTT.Broker.Port)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml", false); err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}

	cfg, err := Load("/nonexistent/path/config.yaml", true)
	if err != nil {
		t.Fatalf("Load() optional missing file error = %v", err)
	}
	if cfg.Experiment.DefaultNCalls != 20 {
		t.Errorf("DefaultNCalls = %d, want default 20", cfg.Experiment.DefaultNCalls)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")
	if _, err := Load(path, false); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
experiment:
  default_n_calls: 200
`)
	_, err := Load(path, false)
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	if !strings.Contains(err.Error(), "default_n_calls") {
		t.Errorf("error %q does not mention default_n_calls", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "defaults", modify: func(*Config) {}},
		{
			name:    "target channel out of range",
			modify:  func(c *Config) { c.Experiment.DefaultTarget = [3]int{0, 300, 0} },
			wantErr: "default_target[1]",
		},
		{
			name:    "zero budget",
			modify:  func(c *Config) { c.Experiment.DefaultNCalls = 0 },
			wantErr: "default_n_calls",
		},
		{
			name:    "negative bound",
			modify:  func(c *Config) { c.Experiment.Bounds.Min = -1 },
			wantErr: "bounds.min",
		},
		{
			name:    "empty bounds",
			modify:  func(c *Config) { c.Experiment.Bounds = BoundsConfig{Min: 3, Max: 3} },
			wantErr: "bounds.max",
		},
		{
			name:    "unknown advisor",
			modify:  func(c *Config) { c.Advisor.Provider = "oracle" },
			wantErr: "advisor.provider",
		},
		{
			name:    "invalid qos",
			modify:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "invalid api port",
			modify:  func(c *Config) { c.API.Port = 0 },
			wantErr: "api.port",
		},
		{
			name:    "short jwt secret",
			modify:  func(c *Config) { c.Security.JWT.Secret = "short" },
			wantErr: "security.jwt.secret",
		},
		{
			name:    "influx without url",
			modify:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: "influxdb.url",
		},
		{
			name: "managed simulator without base url",
			modify: func(c *Config) {
				c.Lab.BaseURL = ""
				c.Lab.Simulator.Managed = true
			},
		},
		{
			name:    "no lab at all",
			modify:  func(c *Config) { c.Lab.BaseURL = "" },
			wantErr: "lab.base_url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateCollectsAllErrors(t *testing.T) {
	cfg := defaultConfig()
	cfg.API.Port = 0
	cfg.MQTT.QoS = 9

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error")
	}
	for _, want := range []string{"api.port", "mqtt.qos"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := defaultConfig()
	cfg.API.Timeouts = APITimeoutConfig{Read: 10, Write: 20, Idle: 30}
	cfg.Advisor.Timeout = 5

	if got := cfg.GetReadTimeout(); got != 10*time.Second {
		t.Errorf("GetReadTimeout() = %v", got)
	}
	if got := cfg.GetWriteTimeout(); got != 20*time.Second {
		t.Errorf("GetWriteTimeout() = %v", got)
	}
	if got := cfg.GetIdleTimeout(); got != 30*time.Second {
		t.Errorf("GetIdleTimeout() = %v", got)
	}
	if got := cfg.GetAdvisorTimeout(); got != 5*time.Second {
		t.Errorf("GetAdvisorTimeout() = %v", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("COLOURLAB_LAB_BASE_URL", "http://env-lab:5000")
	t.Setenv("COLOURLAB_EXPERIMENT_DEFAULT_N_CALLS", "30")
	t.Setenv("COLOURLAB_EXPERIMENT_GRACE_PERIOD", "2s")
	t.Setenv("COLOURLAB_ADVISOR_PROVIDER", "openai")
	t.Setenv("COLOURLAB_ADVISOR_API_KEY", "sk-test")
	t.Setenv("COLOURLAB_MQTT_ENABLED", "true")
	t.Setenv("COLOURLAB_API_PORT", "not-a-number")
	t.Setenv("COLOURLAB_JWT_SECRET", "env-secret-key-at-least-32-characters")

	cfg := defaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Lab.BaseURL != "http://env-lab:5000" {
		t.Errorf("Lab.BaseURL = %q", cfg.Lab.BaseURL)
	}
	if cfg.Experiment.DefaultNCalls != 30 {
		t.Errorf("DefaultNCalls = %d, want 30", cfg.Experiment.DefaultNCalls)
	}
	if cfg.Experiment.GracePeriod != 2*time.Second {
		t.Errorf("GracePeriod = %v, want 2s", cfg.Experiment.GracePeriod)
	}
	if cfg.Advisor.Provider != "openai" || cfg.Advisor.APIKey != "sk-test" {
		t.Errorf("Advisor = %+v", cfg.Advisor)
	}
	if !cfg.MQTT.Enabled {
		t.Error("MQTT.Enabled = false, want true")
	}
	if cfg.API.Port != 8000 {
		t.Errorf("API.Port = %d, want default kept for unparsable override", cfg.API.Port)
	}
	if cfg.Security.JWT.Secret != "env-secret-key-at-least-32-characters" {
		t.Errorf("JWT.Secret = %q", cfg.Security.JWT.Secret)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Experiment.DefaultTarget != [3]int{90, 10, 130} {
		t.Errorf("DefaultTarget = %v, want [90 10 130]", cfg.Experiment.DefaultTarget)
	}
	if cfg.Experiment.DefaultNCalls != 20 {
		t.Errorf("DefaultNCalls = %d, want 20", cfg.Experiment.DefaultNCalls)
	}
	if cfg.Experiment.Bounds != (BoundsConfig{Min: 0, Max: 5}) {
		t.Errorf("Bounds = %+v, want [0,5]", cfg.Experiment.Bounds)
	}
	if cfg.Experiment.Seed != 42 {
		t.Errorf("Seed = %d, want 42", cfg.Experiment.Seed)
	}
	if cfg.Database.Path != ":memory:" {
		t.Errorf("Database.Path = %q, want :memory:", cfg.Database.Path)
	}
	if cfg.MQTT.Enabled || cfg.InfluxDB.Enabled {
		t.Error("optional sinks should be disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

// TestLoad_ShippedConfig keeps configs/config.yaml loadable.
func TestLoad_ShippedConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "..", DefaultPath), false)
	if err != nil {
		t.Fatalf("Load(%s) error: %v", DefaultPath, err)
	}
	if !cfg.Lab.Simulator.Managed || cfg.Lab.Simulator.RestartDelay != 2*time.Second {
		t.Errorf("lab.simulator = %+v", cfg.Lab.Simulator)
	}
	if cfg.Experiment.DefaultTarget != [3]int{90, 10, 130} || cfg.Experiment.GracePeriod != 5*time.Second {
		t.Errorf("experiment = %+v", cfg.Experiment)
	}
	if cfg.API.Port != 8000 || len(cfg.API.CORS.AllowedOrigins) != 1 {
		t.Errorf("api = %+v", cfg.API)
	}
}
