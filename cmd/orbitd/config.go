package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration, loaded from an optional YAML file
// and overridable through ORBIT_* environment variables. Durations are
// written in Go syntax ("60s", "24h").
type Config struct {
	Database struct {
		// Driver selects the store backend: memory, sqlite or mysql.
		Driver string `yaml:"driver"`
		// DSN is the SQLite file path or MySQL connection string.
		DSN string `yaml:"dsn"`
	} `yaml:"database"`

	// EncryptionKey is the base64url Fernet key protecting secret
	// values. Without it the daemon runs but refuses to store secrets.
	EncryptionKey string `yaml:"encryption_key"`

	Scheduler struct {
		TickInterval string `yaml:"tick_interval"`
	} `yaml:"scheduler"`

	Idempotency struct {
		TTL           string `yaml:"ttl"`
		SweepInterval string `yaml:"sweep_interval"`
	} `yaml:"idempotency"`

	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`

	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`

	tickInterval  time.Duration
	idemTTL       time.Duration
	sweepInterval time.Duration
}

// LoadConfig reads the config file (when path is non-empty), applies
// environment overrides, fills defaults, and validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	cfg.Database.Driver = "memory"
	cfg.Scheduler.TickInterval = "60s"
	cfg.Idempotency.TTL = "24h"
	cfg.Idempotency.SweepInterval = "1h"
	cfg.Metrics.Addr = ":9090"
	cfg.Log.Level = "info"

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()

	switch cfg.Database.Driver {
	case "memory":
	case "sqlite":
		if cfg.Database.DSN == "" {
			cfg.Database.DSN = "orbit.db"
		}
	case "mysql":
		if cfg.Database.DSN == "" {
			return nil, fmt.Errorf("database.dsn is required for the mysql driver")
		}
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}

	var err error
	if cfg.tickInterval, err = parseDuration("scheduler.tick_interval", cfg.Scheduler.TickInterval); err != nil {
		return nil, err
	}
	if cfg.idemTTL, err = parseDuration("idempotency.ttl", cfg.Idempotency.TTL); err != nil {
		return nil, err
	}
	if cfg.sweepInterval, err = parseDuration("idempotency.sweep_interval", cfg.Idempotency.SweepInterval); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	overrides := []struct {
		env  string
		dest *string
	}{
		{"ORBIT_DATABASE_DRIVER", &c.Database.Driver},
		{"ORBIT_DATABASE_DSN", &c.Database.DSN},
		{"ORBIT_ENCRYPTION_KEY", &c.EncryptionKey},
		{"ORBIT_SCHEDULER_TICK_INTERVAL", &c.Scheduler.TickInterval},
		{"ORBIT_IDEMPOTENCY_TTL", &c.Idempotency.TTL},
		{"ORBIT_IDEMPOTENCY_SWEEP_INTERVAL", &c.Idempotency.SweepInterval},
		{"ORBIT_METRICS_ADDR", &c.Metrics.Addr},
		{"ORBIT_LOG_LEVEL", &c.Log.Level},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.dest = v
		}
	}
}

func parseDuration(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", field, value)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: duration must be positive", field)
	}
	return d, nil
}
