package worker

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Default retry policy for failed clear jobs.
const (
	DefaultMaxAttempts = 8
	DefaultRetryBase   = 500 * time.Millisecond
	DefaultRetryMax    = 30 * time.Second
)

// RetryPolicy decides when a failed clear job runs again and when it is given up.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
}

// DefaultRetryPolicy returns the default policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts, Base: DefaultRetryBase, Max: DefaultRetryMax}
}

// Delay returns the wait after the given failed attempt (1-based):
// base * 2^(attempt-1), capped at Max.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.Base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         p.Max,
	}
	b.Reset()
	d := p.Base
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Exhausted reports whether attempt was the last one allowed.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}
