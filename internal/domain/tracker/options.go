package tracker

import (
	"time"

	"github.com/okian/wordchain/pkg/logger"
)

// Option applies a configuration option to the Tracker.
type Option func(*Tracker)

// WithWindow sets the quiescence window after which a region stops moving.
func WithWindow(window time.Duration) Option {
	return func(t *Tracker) {
		if window > 0 {
			t.window = window
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithMaxRegionLength caps region names, counted in characters.
func WithMaxRegionLength(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.maxRegionLen = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}
