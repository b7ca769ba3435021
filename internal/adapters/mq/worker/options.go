package worker

import (
	"time"

	"github.com/okian/wordchain/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithRetryPolicy sets how failed clear jobs are retried.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(w *InMemoryWorker) {
		if p.Base > 0 {
			w.retry = p
		}
	}
}

// WithClock replaces time.Now for scheduling retries.
func WithClock(now func() time.Time) Option {
	return func(w *InMemoryWorker) {
		if now != nil {
			w.now = now
		}
	}
}
