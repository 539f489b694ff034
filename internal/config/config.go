// Package config loads depsdash configuration from YAML with environment
// overrides for the polling knobs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/depsdash/depsdash/internal/logging"
)

// Environment variables recognized as overrides.
const (
	EnvPollCycleMS          = "POLL_CYCLE_MS"
	EnvMaxConcurrentPerHost = "POLL_MAX_CONCURRENT_PER_HOST"
)

// Config represents the main configuration
type Config struct {
	Version   string           `yaml:"version"`
	Data      *DataConfig      `yaml:"data"`
	Logging   *logging.Config  `yaml:"logging"`
	Polling   *PollingConfig   `yaml:"polling"`
	Gateway   *GatewayConfig   `yaml:"gateway"`
	Retention *RetentionConfig `yaml:"retention"`
}

// DataConfig holds storage paths
type DataConfig struct {
	Path string `yaml:"path"`
}

// PollingConfig holds scheduler and fetch settings. All intervals are
// milliseconds.
type PollingConfig struct {
	CycleMS              int64 `yaml:"cycle_ms"`
	MaxConcurrentPerHost int   `yaml:"max_concurrent_per_host"`
	FetchTimeoutMS       int64 `yaml:"fetch_timeout_ms"`
	BreakerThreshold     int   `yaml:"breaker_threshold"`
	BreakerCooldownMS    int64 `yaml:"breaker_cooldown_ms"`
	BackoffBaseMS        int64 `yaml:"backoff_base_ms"`
	BackoffMaxMS         int64 `yaml:"backoff_max_ms"`
}

// GatewayConfig holds the HTTP surface settings
type GatewayConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// RetentionConfig holds history pruning settings
type RetentionConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"` // cron expression
	MaxDays  int    `yaml:"max_days"`
}

// DefaultConfigPath returns the standard config file location.
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".depsdash", "config.yaml")
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Version: "1.0",
		Data: &DataConfig{
			Path: filepath.Join(homeDir, ".depsdash", "data"),
		},
		Logging: logging.DefaultConfig(),
		Polling: &PollingConfig{
			CycleMS:              30_000,
			MaxConcurrentPerHost: 10,
			FetchTimeoutMS:       30_000,
			BreakerThreshold:     10,
			BreakerCooldownMS:    300_000,
			BackoffBaseMS:        1_000,
			BackoffMaxMS:         300_000,
		},
		Gateway: &GatewayConfig{
			Host: "127.0.0.1",
			Port: 9191,
		},
		Retention: &RetentionConfig{
			Enabled:  true,
			Schedule: "17 3 * * *",
			MaxDays:  30,
		},
	}
}

// Load reads configuration from path, fills defaults for missing sections,
// and applies environment overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	fillDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fillDefaults replaces nil sections and zero values with defaults so a
// partial YAML file still yields a runnable configuration.
func fillDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Data == nil {
		cfg.Data = def.Data
	}
	if cfg.Logging == nil {
		cfg.Logging = def.Logging
	}
	if cfg.Polling == nil {
		cfg.Polling = def.Polling
	}
	if cfg.Gateway == nil {
		cfg.Gateway = def.Gateway
	}
	if cfg.Retention == nil {
		cfg.Retention = def.Retention
	}

	p := cfg.Polling
	dp := def.Polling
	if p.CycleMS <= 0 {
		p.CycleMS = dp.CycleMS
	}
	if p.MaxConcurrentPerHost <= 0 {
		p.MaxConcurrentPerHost = dp.MaxConcurrentPerHost
	}
	if p.FetchTimeoutMS <= 0 {
		p.FetchTimeoutMS = dp.FetchTimeoutMS
	}
	if p.BreakerThreshold <= 0 {
		p.BreakerThreshold = dp.BreakerThreshold
	}
	if p.BreakerCooldownMS <= 0 {
		p.BreakerCooldownMS = dp.BreakerCooldownMS
	}
	if p.BackoffBaseMS <= 0 {
		p.BackoffBaseMS = dp.BackoffBaseMS
	}
	if p.BackoffMaxMS <= 0 {
		p.BackoffMaxMS = dp.BackoffMaxMS
	}
}

// applyEnvOverrides applies POLL_CYCLE_MS and POLL_MAX_CONCURRENT_PER_HOST.
// Unset or unparseable values leave the config untouched.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPollCycleMS); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
			cfg.Polling.CycleMS = ms
		}
	}
	if v := os.Getenv(EnvMaxConcurrentPerHost); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Polling.MaxConcurrentPerHost = n
		}
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Polling.CycleMS <= 0 {
		return fmt.Errorf("polling.cycle_ms must be positive, got %d", c.Polling.CycleMS)
	}
	if c.Polling.MaxConcurrentPerHost <= 0 {
		return fmt.Errorf("polling.max_concurrent_per_host must be positive, got %d", c.Polling.MaxConcurrentPerHost)
	}
	if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port must be between 1 and 65535, got %d", c.Gateway.Port)
	}
	if c.Retention.Enabled && c.Retention.MaxDays <= 0 {
		return fmt.Errorf("retention.max_days must be positive when retention is enabled, got %d", c.Retention.MaxDays)
	}
	return nil
}
