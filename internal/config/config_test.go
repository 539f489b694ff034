package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Polling.CycleMS != 30_000 {
		t.Errorf("expected cycle 30000ms, got %d", cfg.Polling.CycleMS)
	}
	if cfg.Polling.MaxConcurrentPerHost != 10 {
		t.Errorf("expected 10 per host, got %d", cfg.Polling.MaxConcurrentPerHost)
	}
	if cfg.Polling.BreakerThreshold != 10 {
		t.Errorf("expected threshold 10, got %d", cfg.Polling.BreakerThreshold)
	}
	if cfg.Gateway.Port != 9191 {
		t.Errorf("expected port 9191, got %d", cfg.Gateway.Port)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config must validate: %v", err)
	}
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Polling.CycleMS != 30_000 {
		t.Errorf("expected defaults, got cycle %d", cfg.Polling.CycleMS)
	}
}

func TestLoadPartialFileFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
polling:
  cycle_ms: 10000
gateway:
  host: 0.0.0.0
  port: 8080
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Polling.CycleMS != 10_000 {
		t.Errorf("expected cycle 10000, got %d", cfg.Polling.CycleMS)
	}
	if cfg.Polling.MaxConcurrentPerHost != 10 {
		t.Errorf("expected default per-host limit, got %d", cfg.Polling.MaxConcurrentPerHost)
	}
	if cfg.Gateway.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Gateway.Port)
	}
	if cfg.Retention == nil || cfg.Retention.MaxDays != 30 {
		t.Error("expected default retention section")
	}
}

func TestLoadInvalidConfigRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
gateway:
  port: 99999
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for out-of-range port")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvPollCycleMS, "5000")
	t.Setenv(EnvMaxConcurrentPerHost, "3")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Polling.CycleMS != 5_000 {
		t.Errorf("expected env cycle 5000, got %d", cfg.Polling.CycleMS)
	}
	if cfg.Polling.MaxConcurrentPerHost != 3 {
		t.Errorf("expected env limit 3, got %d", cfg.Polling.MaxConcurrentPerHost)
	}
}

func TestEnvOverridesIgnoreGarbage(t *testing.T) {
	t.Setenv(EnvPollCycleMS, "not-a-number")
	t.Setenv(EnvMaxConcurrentPerHost, "-5")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Polling.CycleMS != 30_000 {
		t.Errorf("garbage env value applied: %d", cfg.Polling.CycleMS)
	}
	if cfg.Polling.MaxConcurrentPerHost != 10 {
		t.Errorf("negative env value applied: %d", cfg.Polling.MaxConcurrentPerHost)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"zero cycle", func(c *Config) { c.Polling.CycleMS = 0 }, true},
		{"zero per-host", func(c *Config) { c.Polling.MaxConcurrentPerHost = 0 }, true},
		{"port low", func(c *Config) { c.Gateway.Port = 0 }, true},
		{"port high", func(c *Config) { c.Gateway.Port = 70000 }, true},
		{"retention zero days", func(c *Config) { c.Retention.MaxDays = 0 }, true},
		{"retention disabled zero days", func(c *Config) { c.Retention.Enabled = false; c.Retention.MaxDays = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
