package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/scenehub/scenehub/internal/consts"
)

// Config holds the full service configuration. Values come from SCENEHUB_*
// environment variables; defaults match the constants in internal/consts.
type Config struct {
	Host               string `envconfig:"HOST" default:"localhost"`
	Port               int    `envconfig:"PORT" default:"8083"`
	MaxConcurrentUsers int    `envconfig:"MAX_CONCURRENT_USERS" default:"10"`

	SyncInterval      time.Duration `envconfig:"SYNC_INTERVAL" default:"100ms"`
	HeartbeatInterval time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"30s"`
	HandshakeTimeout  time.Duration `envconfig:"HANDSHAKE_TIMEOUT" default:"30s"`
	InactivityTimeout time.Duration `envconfig:"INACTIVITY_TIMEOUT" default:"30m"`
	CleanupInterval   time.Duration `envconfig:"CLEANUP_INTERVAL" default:"5m"`

	RateLimitBudget int           `envconfig:"RATE_LIMIT_BUDGET" default:"60"`
	RateLimitWindow time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"60s"`

	LockStaleness time.Duration `envconfig:"LOCK_STALENESS" default:"30s"`
	PendingMaxAge time.Duration `envconfig:"PENDING_MAX_AGE" default:"5m"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	LogPath  string `envconfig:"LOG_PATH"`

	// PprofAddr enables the diagnostics listener when non-empty, e.g. "localhost:6060"
	PprofAddr string `envconfig:"PPROF_ADDR"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("scenehub", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every option at its default value.
func Default() *Config {
	return &Config{
		Host:               consts.DefaultHost,
		Port:               consts.DefaultPort,
		MaxConcurrentUsers: consts.DefaultMaxConcurrentUsers,
		SyncInterval:       consts.SyncInterval,
		HeartbeatInterval:  consts.HeartbeatInterval,
		HandshakeTimeout:   consts.HandshakeTimeout,
		InactivityTimeout:  consts.InactivityTimeout,
		CleanupInterval:    consts.CleanupInterval,
		RateLimitBudget:    consts.RateLimitBudget,
		RateLimitWindow:    consts.RateLimitWindow,
		LockStaleness:      consts.LockStaleness,
		PendingMaxAge:      consts.PendingMaxAge,
		LogLevel:           "info",
	}
}

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.MaxConcurrentUsers <= 0 {
		return fmt.Errorf("max concurrent users must be positive, got %d", c.MaxConcurrentUsers)
	}
	if c.RateLimitBudget <= 0 {
		return fmt.Errorf("rate limit budget must be positive, got %d", c.RateLimitBudget)
	}
	for name, d := range map[string]time.Duration{
		"sync interval":      c.SyncInterval,
		"heartbeat interval": c.HeartbeatInterval,
		"handshake timeout":  c.HandshakeTimeout,
		"inactivity timeout": c.InactivityTimeout,
		"cleanup interval":   c.CleanupInterval,
		"rate limit window":  c.RateLimitWindow,
		"lock staleness":     c.LockStaleness,
		"pending max age":    c.PendingMaxAge,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", name, d)
		}
	}
	return nil
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
