package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration. Credentials may come from the
// YAML file or from the environment (ITRONTAP_* variables take precedence,
// so the file on disk never has to contain secrets).
type Config struct {
	Municipality string `yaml:"municipality" validate:"required"`
	Username     string `yaml:"username,omitempty" validate:"required"`
	Password     string `yaml:"password,omitempty" validate:"required"`

	// CostPerKGal is the cost per 1000 gallons used to derive the cost
	// statistics stream. Unset means a neutral 1.0.
	CostPerKGal *float64 `yaml:"cost_per_kgal,omitempty"`

	// FetchIntervalHours is the daemon polling cadence. The portal updates
	// data daily, so the default of 12 keeps us at most half a day behind.
	FetchIntervalHours int `yaml:"fetch_interval_hours,omitempty" validate:"gte=0"`

	// Workers bounds how many service points one cycle processes
	// concurrently (fallback: 4).
	Workers int `yaml:"workers,omitempty" validate:"gte=0"`

	MQTT MQTTConfig `yaml:"mqtt,omitempty"`
}

// MQTTConfig holds the optional MQTT publisher settings.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker,omitempty"`
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
	TopicPrefix string `yaml:"topic_prefix,omitempty"`
}

// Load reads the config file and applies environment overrides. A missing
// file yields an empty config so env-only setups work.
func Load(configPath string) (*Config, error) {
	// A .env next to the binary is a convenience for development.
	_ = godotenv.Load()

	cfg := &Config{}
	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
		// fall through to env overrides
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if v := os.Getenv("ITRONTAP_MUNICIPALITY"); v != "" {
		cfg.Municipality = v
	}
	if v := os.Getenv("ITRONTAP_USERNAME"); v != "" {
		cfg.Username = v
	}
	if v := os.Getenv("ITRONTAP_PASSWORD"); v != "" {
		cfg.Password = v
	}

	return cfg, nil
}

// Save writes the config to file.
func Save(configPath string, cfg *Config) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// DefaultConfigPath returns the default config file path (local directory).
func DefaultConfigPath() string {
	return "config.yaml"
}

// Validate checks that the config is complete enough to run a cycle.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.CostPerKGal != nil && *c.CostPerKGal < 0 {
		return fmt.Errorf("invalid config: cost_per_kgal must not be negative")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("invalid config: mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

// GetFetchInterval returns the polling cadence with a default of 12 hours.
func (c *Config) GetFetchInterval() time.Duration {
	if c.FetchIntervalHours <= 0 {
		return 12 * time.Hour
	}
	return time.Duration(c.FetchIntervalHours) * time.Hour
}

// GetWorkers returns the per-cycle concurrency bound with a default of 4.
func (c *Config) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetCostRate returns the effective cost per gallon: the configured cost per
// 1000 gallons (default 1.0) scaled down to the per-unit rate the cost
// stream multiplies against.
func (c *Config) GetCostRate() float64 {
	perKGal := 1.0
	if c.CostPerKGal != nil {
		perKGal = *c.CostPerKGal
	}
	return perKGal / 1000
}
