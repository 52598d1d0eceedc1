package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the configuration of the gateway demo.
// It is loaded from an optional YAML file, then .env and TIEDIE_* variables.
type Config struct {
	Control    ControlConfig    `yaml:"control"`
	Onboarding OnboardingConfig `yaml:"onboarding"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Auth       AuthConfig       `yaml:"auth"`
	Devices    []string         `yaml:"devices"`
	Events     []string         `yaml:"events"`
	State      StateConfig      `yaml:"state"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ControlConfig points at the gateway's NIPC API.
type ControlConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout int    `yaml:"timeout"` // seconds
}

// OnboardingConfig points at the gateway's SCIM API. When set and no
// devices are configured, the onboarded devices are used.
type OnboardingConfig struct {
	BaseURL string `yaml:"base_url"`
}

// TelemetryConfig points at the broker gateways publish telemetry to.
type TelemetryConfig struct {
	BrokerURL string   `yaml:"broker_url"`
	Topics    []string `yaml:"topics"`
	QoS       int      `yaml:"qos"`
}

// AuthConfig holds application credentials. Exactly one of APIKey and
// Token is used; APIKey wins when both are set.
type AuthConfig struct {
	AppID    string `yaml:"app_id"`
	APIKey   string `yaml:"api_key"`
	Token    string `yaml:"token"`
	ClientID string `yaml:"client_id"`
	CACert   string `yaml:"ca_cert"`
	Insecure bool   `yaml:"insecure"`
}

// StateConfig locates the event instance database. An empty path turns
// persistence off.
type StateConfig struct {
	Path string `yaml:"path"`
}

// InfluxDBConfig configures the optional telemetry sink.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"` // seconds
}

// LoggingConfig configures internal/logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from path (optional, may be empty), then the
// .env file in the working directory if present, then TIEDIE_* variables.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	applyEnvOverrides(cfg)

	if cfg.Auth.ClientID == "" {
		cfg.Auth.ClientID = generateClientID()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Control: ControlConfig{
			Timeout: 60,
		},
		Telemetry: TelemetryConfig{
			QoS: 1,
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Bucket:        "telemetry",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TIEDIE_CONTROL_URL"); v != "" {
		cfg.Control.BaseURL = v
	}
	if v := os.Getenv("TIEDIE_CONTROL_TIMEOUT"); v != "" {
		if timeout, err := strconv.Atoi(v); err == nil {
			cfg.Control.Timeout = timeout
		}
	}

	if v := os.Getenv("TIEDIE_ONBOARDING_URL"); v != "" {
		cfg.Onboarding.BaseURL = v
	}

	if v := os.Getenv("TIEDIE_BROKER_URL"); v != "" {
		cfg.Telemetry.BrokerURL = v
	}
	if v := os.Getenv("TIEDIE_TOPICS"); v != "" {
		cfg.Telemetry.Topics = splitList(v)
	}

	if v := os.Getenv("TIEDIE_APP_ID"); v != "" {
		cfg.Auth.AppID = v
	}
	if v := os.Getenv("TIEDIE_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}
	if v := os.Getenv("TIEDIE_TOKEN"); v != "" {
		cfg.Auth.Token = v
	}
	if v := os.Getenv("TIEDIE_CLIENT_ID"); v != "" {
		cfg.Auth.ClientID = v
	}
	if v := os.Getenv("TIEDIE_CA_CERT"); v != "" {
		cfg.Auth.CACert = v
	}

	if v := os.Getenv("TIEDIE_DEVICES"); v != "" {
		cfg.Devices = splitList(v)
	}
	if v := os.Getenv("TIEDIE_EVENTS"); v != "" {
		cfg.Events = splitList(v)
	}

	if v := os.Getenv("TIEDIE_STATE_PATH"); v != "" {
		cfg.State.Path = v
	}

	if v := os.Getenv("TIEDIE_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("TIEDIE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("TIEDIE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Control.BaseURL == "" {
		errs = append(errs, "control.base_url is required (set TIEDIE_CONTROL_URL)")
	}
	if c.Control.Timeout <= 0 {
		errs = append(errs, "control.timeout must be positive")
	}

	if c.Telemetry.BrokerURL != "" && len(c.Telemetry.Topics) == 0 {
		errs = append(errs, "telemetry.topics is required when a broker is configured")
	}
	if c.Telemetry.QoS < 0 || c.Telemetry.QoS > 2 {
		errs = append(errs, "telemetry.qos must be 0, 1, or 2")
	}

	if c.Auth.APIKey == "" && c.Auth.Token == "" {
		errs = append(errs, "auth.api_key or auth.token is required (set TIEDIE_API_KEY or TIEDIE_TOKEN)")
	}
	if c.Auth.APIKey != "" && c.Auth.AppID == "" {
		errs = append(errs, "auth.app_id is required with an API key")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ControlTimeout returns the HTTP timeout as a duration.
func (c *Config) ControlTimeout() time.Duration {
	return time.Duration(c.Control.Timeout) * time.Second
}

var invalidClientIDChars = regexp.MustCompile(`[^a-zA-Z0-9:_-]`)

// generateClientID creates a broker client id. Brokers commonly restrict
// ids to [a-zA-Z0-9:_-].
func generateClientID() string {
	id := invalidClientIDChars.ReplaceAllString(uuid.New().String(), "-")
	return fmt.Sprintf("tiedie-%s", id)
}
