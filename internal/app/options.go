package service

import (
	"strings"
	"time"

	workerpool "github.com/okian/wordchain/internal/adapters/mq/worker"
	"github.com/okian/wordchain/internal/adapters/repository"
	"github.com/okian/wordchain/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStoreKind selects the persistence backend: memory, sqlite or postgres.
func WithStoreKind(kind string) Option {
	return func(s *Service) {
		if kind = strings.ToLower(strings.TrimSpace(kind)); kind != "" {
			s.storeKind = kind
		}
	}
}

// WithSQLitePath sets the database file used by the sqlite backend.
func WithSQLitePath(path string) Option {
	return func(s *Service) {
		if path != "" {
			s.sqlitePath = path
		}
	}
}

// WithPostgresDSN sets the connection string used by the postgres backend.
func WithPostgresDSN(dsn string) Option {
	return func(s *Service) {
		if dsn != "" {
			s.postgresDSN = dsn
		}
	}
}

// WithStore uses an already opened store instead of opening one on Start.
// The service does not close a store it was given.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
			s.ownsStore = false
		}
	}
}

// WithStoreRetries sets how many attempts a contended store statement gets.
func WithStoreRetries(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.storeRetries = n
		}
	}
}

// WithMovingWindow sets how long a region stays moving after its last increment.
func WithMovingWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.window = d
		}
	}
}

// WithMaxRegionLength caps region names, counted in characters.
func WithMaxRegionLength(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxRegionLen = n
		}
	}
}

// WithWorkerCount sets the number of clear job workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the clear job queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many Idempotency-Key values are remembered.
// Zero disables idempotency handling.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size >= 0 {
			s.dedupeSize = size
		}
	}
}

// WithSweepInterval sets how often due clear jobs are claimed.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.sweepInterval = d
		}
	}
}

// WithSweepBatchSize caps the jobs claimed per store round trip.
func WithSweepBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.sweepBatch = n
		}
	}
}

// WithClearLease sets how long a claimed clear job stays reserved.
func WithClearLease(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.clearLease = d
		}
	}
}

// WithClearRetry sets the retry policy for failed clear jobs.
func WithClearRetry(maxAttempts int, base, maxDelay time.Duration) Option {
	return func(s *Service) {
		if maxAttempts > 0 && base > 0 && maxDelay >= base {
			s.retry = workerpool.RetryPolicy{MaxAttempts: maxAttempts, Base: base, Max: maxDelay}
		}
	}
}

// WithStatsRefresh sets how often the gauges are refreshed from the store.
func WithStatsRefresh(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.statsRefresh = d
		}
	}
}

// WithWordsFile replaces the embedded word list.
func WithWordsFile(path string) Option {
	return func(s *Service) {
		s.wordsFile = strings.TrimSpace(path)
	}
}

// WithClock replaces time.Now for every time-dependent component.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
