package repository

import "time"

// Default conflict retry configuration.
const (
	defaultConflictRetries = 5
	defaultRetryInitial    = 5 * time.Millisecond
	defaultRetryMax        = 200 * time.Millisecond
)

// Options configures behaviour shared by the persistent stores.
type Options struct {
	ConflictRetries uint
	RetryInitial    time.Duration
	RetryMax        time.Duration
}

// Option applies a configuration option to Options.
type Option func(*Options)

// WithConflictRetries sets how many attempts a transiently failing statement gets.
func WithConflictRetries(n uint) Option {
	return func(o *Options) {
		if n > 0 {
			o.ConflictRetries = n
		}
	}
}

// WithRetryInterval sets the exponential backoff bounds between attempts.
func WithRetryInterval(initial, maxInterval time.Duration) Option {
	return func(o *Options) {
		if initial > 0 {
			o.RetryInitial = initial
		}
		if maxInterval >= initial && maxInterval > 0 {
			o.RetryMax = maxInterval
		}
	}
}

// ApplyOptions returns the defaults with opts applied.
func ApplyOptions(opts ...Option) Options {
	o := Options{
		ConflictRetries: defaultConflictRetries,
		RetryInitial:    defaultRetryInitial,
		RetryMax:        defaultRetryMax,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
