// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mobiletoly/go-offlinepos/possync"
)

// Config is the posctl configuration. Values come from the YAML file and
// are then overridden by the environment.
type Config struct {
	Database    string     `yaml:"database"`     // local SQLite file
	RemoteURL   string     `yaml:"remote_url"`   // REST backend base URL
	Token       string     `yaml:"token"`        // bearer token of the signed-in user
	DatabaseURL string     `yaml:"database_url"` // Postgres DSN, used by verify
	JWTSecret   string     `yaml:"jwt_secret"`
	LogLevel    string     `yaml:"log_level"`
	Sync        SyncConfig `yaml:"sync"`
}

type SyncConfig struct {
	Interval       time.Duration `yaml:"interval"`
	MaxRetries     int           `yaml:"max_retries"`
	RetentionDays  int           `yaml:"retention_days"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	LogStages      bool          `yaml:"log_stage_timings"`
}

// DefaultConfigPath is read when --config is not given; it may be absent.
const DefaultConfigPath = "posctl.yaml"

// LoadConfig reads path and applies environment overrides. A missing file
// is an error only when explicit is set.
func LoadConfig(path string, explicit bool) (*Config, error) {
	cfg := &Config{Database: "pos.db", LogLevel: "info"}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.Database = getEnv("POS_DB", cfg.Database)
	cfg.RemoteURL = strings.TrimRight(getEnv("POS_REMOTE_URL", cfg.RemoteURL), "/")
	cfg.Token = strings.TrimSpace(getEnv("POS_TOKEN", cfg.Token))
	cfg.DatabaseURL = getEnv("POS_DATABASE_URL", cfg.DatabaseURL)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	return cfg, nil
}

// SyncSettings converts the sync section into engine configuration.
func (c *Config) SyncSettings() *possync.Config {
	sc := possync.DefaultConfig()
	if c.Sync.Interval > 0 {
		sc.SyncInterval = c.Sync.Interval
	}
	if c.Sync.MaxRetries > 0 {
		sc.MaxRetries = c.Sync.MaxRetries
	}
	if c.Sync.RetentionDays > 0 {
		sc.RetentionDays = c.Sync.RetentionDays
	}
	if c.Sync.RequestTimeout > 0 {
		sc.RequestTimeout = c.Sync.RequestTimeout
	}
	sc.LogStageTimings = c.Sync.LogStages
	return sc
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
