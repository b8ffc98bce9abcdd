package config

import (
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	if cfg.Port != 8083 {
		t.Errorf("expected default port 8083, got %d", cfg.Port)
	}
	if cfg.MaxConcurrentUsers != 10 {
		t.Errorf("expected default capacity 10, got %d", cfg.MaxConcurrentUsers)
	}
	if cfg.SyncInterval != 100*time.Millisecond {
		t.Errorf("expected 100ms sync interval, got %v", cfg.SyncInterval)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.RateLimitBudget != 60 || cfg.RateLimitWindow != time.Minute {
		t.Errorf("unexpected rate limit defaults: %d per %v", cfg.RateLimitBudget, cfg.RateLimitWindow)
	}
	if cfg.LockStaleness != 30*time.Second {
		t.Errorf("expected 30s lock staleness, got %v", cfg.LockStaleness)
	}
}

func TestLoadOverridesFromEnvironment(t *testing.T) {
	t.Setenv("SCENEHUB_PORT", "9100")
	t.Setenv("SCENEHUB_MAX_CONCURRENT_USERS", "25")
	t.Setenv("SCENEHUB_SYNC_INTERVAL", "250ms")
	t.Setenv("SCENEHUB_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != 9100 {
		t.Errorf("expected port 9100, got %d", cfg.Port)
	}
	if cfg.MaxConcurrentUsers != 25 {
		t.Errorf("expected capacity 25, got %d", cfg.MaxConcurrentUsers)
	}
	if cfg.SyncInterval != 250*time.Millisecond {
		t.Errorf("expected 250ms sync interval, got %v", cfg.SyncInterval)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected debug log level, got %s", cfg.LogLevel)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("SCENEHUB_MAX_CONCURRENT_USERS", "0")
	if _, err := Load(); err == nil {
		t.Error("expected error for zero capacity")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Port = 0 }},
		{"huge port", func(c *Config) { c.Port = 70000 }},
		{"zero budget", func(c *Config) { c.RateLimitBudget = 0 }},
		{"negative window", func(c *Config) { c.RateLimitWindow = -time.Second }},
		{"zero sync interval", func(c *Config) { c.SyncInterval = 0 }},
		{"zero staleness", func(c *Config) { c.LockStaleness = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestAddr(t *testing.T) {
	cfg := Default()
	cfg.Host = "0.0.0.0"
	cfg.Port = 9000
	if got := cfg.Addr(); got != "0.0.0.0:9000" {
		t.Errorf("expected 0.0.0.0:9000, got %s", got)
	}
}
