// Package config defines service configuration and how it is loaded.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// Store selects the persistence backend: memory, sqlite or postgres.
	Store       string `koanf:"store"`
	SQLitePath  string `koanf:"sqlite_path"`
	PostgresDSN string `koanf:"postgres_dsn"`

	// MovingWindowMS is how long a region stays moving after its last increment.
	MovingWindowMS int `koanf:"moving_window_ms"`

	SweepIntervalMS int `koanf:"sweep_interval_ms"`
	SweepBatchSize  int `koanf:"sweep_batch_size"`

	// WorkerCount sets the number of clear job workers.
	WorkerCount int `koanf:"worker_count"`

	// QueueSize bounds the in-memory clear job queue.
	QueueSize int `koanf:"queue_size"`

	ClearMaxAttempts  int `koanf:"clear_max_attempts"`
	ClearRetryBaseMS  int `koanf:"clear_retry_base_ms"`
	ClearRetryMaxMS   int `koanf:"clear_retry_max_ms"`
	ClearLeaseMS      int `koanf:"clear_lease_ms"`
	StoreRetries      int `koanf:"store_retries"`
	StatsRefreshMS    int `koanf:"stats_refresh_ms"`
	ShutdownTimeoutMS int `koanf:"shutdown_timeout_ms"`

	// DedupeSize caps remembered Idempotency-Key values.
	DedupeSize int `koanf:"dedupe_size"`

	// WordsFile replaces the embedded word list when set.
	WordsFile string `koanf:"words_file"`

	// MaxRegionLength caps region names, counted in characters.
	MaxRegionLength int `koanf:"max_region_length"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:          "info",
		LogFormat:         "text",
		Addr:              ":9080",
		Store:             StoreSQLite,
		SQLitePath:        "wordchain.db",
		MovingWindowMS:    10_000,
		SweepIntervalMS:   1_000,
		SweepBatchSize:    256,
		WorkerCount:       runtime.NumCPU() * 2,
		QueueSize:         1_024,
		ClearMaxAttempts:  8,
		ClearRetryBaseMS:  500,
		ClearRetryMaxMS:   30_000,
		ClearLeaseMS:      30_000,
		StoreRetries:      5,
		StatsRefreshMS:    5_000,
		ShutdownTimeoutMS: 10_000,
		DedupeSize:        50_000,
		MaxRegionLength:   64,
	}
}

// Validate reports the first invalid key, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Store) {
	case StoreMemory:
	case StoreSQLite:
		if c.SQLitePath == "" {
			return invalid("sqlite_path", "must not be empty for the sqlite store")
		}
	case StorePostgres:
		if c.PostgresDSN == "" {
			return invalid("postgres_dsn", "must not be empty for the postgres store")
		}
	default:
		return invalid("store", fmt.Sprintf("unknown backend %q", c.Store))
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return invalid("log_format", fmt.Sprintf("unknown format %q", c.LogFormat))
	}

	if c.Addr == "" {
		return invalid("addr", "must not be empty")
	}
	positive := []struct {
		key string
		val int
	}{
		{"moving_window_ms", c.MovingWindowMS},
		{"sweep_interval_ms", c.SweepIntervalMS},
		{"sweep_batch_size", c.SweepBatchSize},
		{"queue_size", c.QueueSize},
		{"clear_max_attempts", c.ClearMaxAttempts},
		{"clear_retry_base_ms", c.ClearRetryBaseMS},
		{"clear_retry_max_ms", c.ClearRetryMaxMS},
		{"clear_lease_ms", c.ClearLeaseMS},
		{"stats_refresh_ms", c.StatsRefreshMS},
		{"shutdown_timeout_ms", c.ShutdownTimeoutMS},
		{"max_region_length", c.MaxRegionLength},
	}
	for _, p := range positive {
		if p.val <= 0 {
			return invalid(p.key, "must be positive")
		}
	}
	if c.ClearRetryMaxMS < c.ClearRetryBaseMS {
		return invalid("clear_retry_max_ms", "must not be below clear_retry_base_ms")
	}
	if c.WorkerCount < 0 || c.StoreRetries < 0 || c.DedupeSize < 0 {
		return invalid("worker_count/store_retries/dedupe_size", "must not be negative")
	}
	return nil
}

func invalid(key, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrInvalidConfig, key, reason)
}

// MovingWindow returns MovingWindowMS as a duration.
func (c *Config) MovingWindow() time.Duration { return ms(c.MovingWindowMS) }

// SweepInterval returns SweepIntervalMS as a duration.
func (c *Config) SweepInterval() time.Duration { return ms(c.SweepIntervalMS) }

// ClearLease returns ClearLeaseMS as a duration.
func (c *Config) ClearLease() time.Duration { return ms(c.ClearLeaseMS) }

// ClearRetryBase returns ClearRetryBaseMS as a duration.
func (c *Config) ClearRetryBase() time.Duration { return ms(c.ClearRetryBaseMS) }

// ClearRetryMax returns ClearRetryMaxMS as a duration.
func (c *Config) ClearRetryMax() time.Duration { return ms(c.ClearRetryMaxMS) }

// StatsRefresh returns StatsRefreshMS as a duration.
func (c *Config) StatsRefresh() time.Duration { return ms(c.StatsRefreshMS) }

// ShutdownTimeout returns ShutdownTimeoutMS as a duration.
func (c *Config) ShutdownTimeout() time.Duration { return ms(c.ShutdownTimeoutMS) }

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
