package store

import (
	"log/slog"
	"time"
)

// Config holds configuration for the Store.
type Config struct {
	// Logger receives diagnostics. Default: slog.Default()
	Logger *slog.Logger

	// Scheduler runs notification flushes.
	// Default: GoScheduler (next goroutine turn)
	Scheduler Scheduler

	// LoadTimeout bounds every dynamic option fetch.
	// Default: 0 (no timeout beyond the store's lifetime)
	LoadTimeout time.Duration

	// ReloadConcurrency caps parallel fetches issued by Reload.
	// Default: 8
	// Max: 64
	ReloadConcurrency int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Logger:            slog.Default(),
		Scheduler:         GoScheduler,
		ReloadConcurrency: 8,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Scheduler == nil {
		c.Scheduler = GoScheduler
	}
	if c.LoadTimeout < 0 {
		c.LoadTimeout = 0
	}
	if c.ReloadConcurrency < 1 {
		c.ReloadConcurrency = 8
	}
	if c.ReloadConcurrency > 64 {
		c.ReloadConcurrency = 64
	}
}
