package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all runtime settings for the API server and its background
// sweeps. Values not present in the YAML file fall back to defaults, and
// sensitive values can be overridden via environment variables.
type Config struct {
	Server struct {
		Port      string `yaml:"port"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Logging struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"logging"`

	Margin struct {
		SweepIntervalSec int `yaml:"sweep_interval_sec"`
	} `yaml:"margin"`

	Settlement struct {
		SweepIntervalSec int `yaml:"sweep_interval_sec"`
		OverdueAfterHrs  int `yaml:"overdue_after_hours"`
	} `yaml:"settlement"`
}

// Default returns a config populated with development defaults.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Port = "8080"
	cfg.Server.JWTSecret = "derivatives-secret-key"
	cfg.Database.Path = "derivatives.db"
	cfg.Logging.Level = "info"
	cfg.Logging.File = "logs/derivatives-api.log"
	cfg.Logging.MaxSizeMB = 10
	cfg.Logging.MaxBackups = 3
	cfg.Logging.MaxAgeDays = 28
	cfg.Margin.SweepIntervalSec = 300
	cfg.Settlement.SweepIntervalSec = 300
	cfg.Settlement.OverdueAfterHrs = 24
	return cfg
}

// Load reads the config file at path, applying defaults for missing values
// and environment overrides for secrets. A missing file is not an error; the
// resulting config is validated either way.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case os.IsNotExist(err):
		// run on defaults
	default:
		return nil, err
	}

	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MarginSweepInterval returns the margin monitor sweep interval.
func (c *Config) MarginSweepInterval() time.Duration {
	return time.Duration(c.Margin.SweepIntervalSec) * time.Second
}

// SettlementSweepInterval returns the settlement scheduler sweep interval.
func (c *Config) SettlementSweepInterval() time.Duration {
	return time.Duration(c.Settlement.SweepIntervalSec) * time.Second
}

// SettlementOverdueAfter returns how long a PROCESSING settlement may sit
// without updates before it is flagged overdue.
func (c *Config) SettlementOverdueAfter() time.Duration {
	return time.Duration(c.Settlement.OverdueAfterHrs) * time.Hour
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Margin.SweepIntervalSec <= 0 {
		return fmt.Errorf("margin sweep interval must be positive")
	}
	if c.Settlement.SweepIntervalSec <= 0 {
		return fmt.Errorf("settlement sweep interval must be positive")
	}
	if c.Settlement.OverdueAfterHrs <= 0 {
		return fmt.Errorf("settlement overdue threshold must be positive")
	}
	return nil
}

func overrideWithEnv(cfg *Config) {
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Port = port
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Server.JWTSecret = secret
	}
	if path := os.Getenv("DATABASE_PATH"); path != "" {
		cfg.Database.Path = path
	}
	if v := os.Getenv("MARGIN_SWEEP_INTERVAL_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Margin.SweepIntervalSec = n
		}
	}
	if v := os.Getenv("SETTLEMENT_SWEEP_INTERVAL_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Settlement.SweepIntervalSec = n
		}
	}
}
