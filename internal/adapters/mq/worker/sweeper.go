package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/wordchain/internal/domain/model"
	"github.com/okian/wordchain/pkg/logger"
	"github.com/okian/wordchain/pkg/metrics"
)

// Default sweeper configuration constants.
const (
	defaultSweepInterval = time.Second
	defaultLease         = 30 * time.Second
	defaultBatchSize     = 256
)

// Claimer leases due clear jobs from the store.
type Claimer interface {
	ClaimDueClears(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]model.ClearJob, error)
}

// Enqueuer is the sweeper's view of the job queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, job model.ClearJob) error
	Len(ctx context.Context) int
	Capacity() int
}

// Sweeper periodically claims due clear jobs and hands them to the queue.
// It only claims as many jobs as the queue has room for. A claimed job that
// still fails to enqueue keeps its lease and is claimed again when it expires.
type Sweeper struct {
	claimer  Claimer
	queue    Enqueuer
	interval time.Duration
	lease    time.Duration
	batch    int
	now      func() time.Time
	logger   logger.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewSweeper creates a sweeper with configuration options.
func NewSweeper(claimer Claimer, queue Enqueuer, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		claimer:  claimer,
		queue:    queue,
		interval: defaultSweepInterval,
		lease:    defaultLease,
		batch:    defaultBatchSize,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("sweeper")
	}
	return s
}

// SweepOnce claims due jobs until none are left or the queue is full, and
// returns how many were enqueued.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	enqueued := 0
	for {
		room := s.queue.Capacity() - s.queue.Len(ctx)
		if room <= 0 {
			return enqueued, nil
		}
		limit := min(room, s.batch)

		jobs, err := s.claimer.ClaimDueClears(ctx, s.now(), s.lease, limit)
		if err != nil {
			return enqueued, fmt.Errorf("claim due clears: %w", err)
		}
		for _, job := range jobs {
			if err := s.queue.Enqueue(ctx, job); err != nil {
				s.logger.Warn(ctx, "clear job left for lease expiry",
					logger.String("region", job.Region),
					logger.Error(err),
				)
				return enqueued, nil
			}
			enqueued++
		}
		if len(jobs) < limit {
			return enqueued, nil
		}
	}
}

// Run sweeps immediately, then on every interval until ctx ends or Stop is called.
func (s *Sweeper) Run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if n, err := s.SweepOnce(ctx); err != nil {
			if !errors.Is(err, context.Canceled) {
				metrics.RecordWorkerError()
				s.logger.Error(ctx, "sweep failed", logger.Error(err))
			}
		} else if n > 0 {
			s.logger.Debug(ctx, "clear jobs enqueued", logger.Int("count", n))
		}

		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
		}
	}
}

// Stop ends Run and waits for it to return.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sweeper stop: %w", ctx.Err())
	}
}

// SweeperOption applies a configuration option to the Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepInterval sets how often due jobs are claimed.
func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLease sets how long a claimed job stays reserved before it can be claimed again.
func WithLease(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.lease = d
		}
	}
}

// WithBatchSize caps the jobs claimed per store round trip.
func WithBatchSize(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.batch = n
		}
	}
}

// WithSweepClock replaces time.Now.
func WithSweepClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSweepLogger sets the sweeper logger.
func WithSweepLogger(l logger.Logger) SweeperOption {
	return func(s *Sweeper) {
		if l != nil {
			s.logger = l
		}
	}
}
