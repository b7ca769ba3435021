// Package loadtest drives concurrent addScore traffic against a running
// service and checks that no increment was lost or applied twice.
package loadtest

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds configuration for a load test run.
type Config struct {
	BaseURL        string        // Base URL of the service
	Region         string        // Region every increment targets
	Requests       int           // Number of distinct increments
	Workers        int           // Number of concurrent senders
	MaxDelta       int64         // Deltas are drawn from [-MaxDelta, MaxDelta]
	DuplicateEvery int           // Replay every Nth request with the same Idempotency-Key; 0 disables
	Timeout        time.Duration // HTTP request timeout
	SettleWait     time.Duration // How long to wait for the region to stop moving; 0 skips the check
	PollInterval   time.Duration // Leaderboard poll interval while settling
	Verbose        bool          // Log every failed request
}

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid load test config")

// Validate checks the config and fills zero optional values with defaults.
func (c *Config) Validate() error {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	switch {
	case c.BaseURL == "":
		return fmt.Errorf("%w: url is required", ErrInvalidConfig)
	case strings.TrimSpace(c.Region) == "":
		return fmt.Errorf("%w: region is required", ErrInvalidConfig)
	case c.Requests < 1:
		return fmt.Errorf("%w: requests must be positive", ErrInvalidConfig)
	case c.Workers < 1:
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	case c.MaxDelta < 1:
		return fmt.Errorf("%w: max delta must be positive", ErrInvalidConfig)
	case c.DuplicateEvery < 0:
		return fmt.Errorf("%w: duplicate-every must not be negative", ErrInvalidConfig)
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return nil
}

// Request is one addScore call.
type Request struct {
	Key   string `json:"key"`
	Delta int64  `json:"delta"`
	// Replay sends the request a second time with the same key once the first returns.
	Replay bool `json:"replay"`
}

// Stats holds run statistics.
type Stats struct {
	Submitted     int
	Applied       int
	Replayed      int
	Failed        int
	InitialScore  int64
	ExpectedScore int64
	ObservedScore int64
	Settled       bool
	StartTime     time.Time
	EndTime       time.Time
	Duration      time.Duration
}
