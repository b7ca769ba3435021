// Package service wires the region score tracker, its store, the clear job
// pipeline and the dictionary into the dependencies the HTTP API needs.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	eventqueue "github.com/okian/wordchain/internal/adapters/mq/queue"
	workerpool "github.com/okian/wordchain/internal/adapters/mq/worker"
	"github.com/okian/wordchain/internal/adapters/repository"
	"github.com/okian/wordchain/internal/adapters/repository/pgstore"
	"github.com/okian/wordchain/internal/adapters/repository/sqlitestore"
	"github.com/okian/wordchain/internal/domain/dedupe"
	"github.com/okian/wordchain/internal/domain/model"
	"github.com/okian/wordchain/internal/domain/tracker"
	"github.com/okian/wordchain/internal/domain/words"
	"github.com/okian/wordchain/pkg/logger"
	"github.com/okian/wordchain/pkg/metrics"
)

// Store backends understood by WithStoreKind.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

const (
	defaultQueueSize    = 1024
	defaultDedupeSize   = 50000
	defaultStoreRetries = 5
	defaultSweepBatch   = 256
)

// Service implements the API dependencies for the word-chain backend.
type Service struct {
	// lifecycle serializes Start and Stop. mu guards the fields below and is
	// never held while background work drains.
	lifecycle sync.Mutex
	mu        sync.RWMutex

	// Core components
	store   repository.Store
	tracker *tracker.Tracker
	deduper dedupe.Deduper
	dict    words.Dictionary
	queue   *eventqueue.InMemoryQueue
	pool    *workerpool.Pool
	sweeper *workerpool.Sweeper

	// Configuration
	storeKind     string
	sqlitePath    string
	postgresDSN   string
	ownsStore     bool
	storeRetries  int
	window        time.Duration
	maxRegionLen  int
	workerCount   int
	queueSize     int
	dedupeSize    int
	sweepInterval time.Duration
	sweepBatch    int
	clearLease    time.Duration
	retry         workerpool.RetryPolicy
	statsRefresh  time.Duration
	wordsFile     string
	now           func() time.Time

	// State
	started bool
	cancel  context.CancelFunc
	group   *errgroup.Group

	logger logger.Logger
}

// New constructs a Service with default configuration. Nothing is opened
// until Start.
func New(opts ...Option) *Service {
	s := &Service{
		storeKind:     StoreMemory,
		ownsStore:     true,
		storeRetries:  defaultStoreRetries,
		window:        model.DefaultMovingWindow,
		workerCount:   runtime.NumCPU() * 2,
		queueSize:     defaultQueueSize,
		dedupeSize:    defaultDedupeSize,
		sweepInterval: time.Second,
		sweepBatch:    defaultSweepBatch,
		clearLease:    30 * time.Second,
		retry:         workerpool.DefaultRetryPolicy(),
		statsRefresh:  5 * time.Second,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the store and dictionary and starts the sweeper, the worker
// pool and the gauge refresher. The background loops run until Stop; ctx
// only bounds opening the store.
func (s *Service) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	s.logger.Info(ctx, "starting wordchain service...", logger.String("store", s.storeKind))

	if s.store == nil || s.ownsStore {
		store, err := s.openStore(ctx)
		if err != nil {
			return err
		}
		s.store = store
	}

	dict, err := s.openDictionary()
	if err != nil {
		s.closeOwnedStore(ctx)
		return err
	}
	s.dict = dict

	s.tracker = tracker.New(s.store,
		tracker.WithWindow(s.window),
		tracker.WithClock(s.now),
		tracker.WithMaxRegionLength(s.maxRegionLen),
		tracker.WithLogger(s.logger.Named("tracker")),
	)
	if s.dedupeSize > 0 {
		s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	}

	s.queue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
	s.pool = workerpool.NewPool(s.workerCount, s.queue, s.store,
		workerpool.WithRetryPolicy(s.retry),
		workerpool.WithClock(s.now),
	)
	s.sweeper = workerpool.NewSweeper(s.store, s.queue,
		workerpool.WithSweepInterval(s.sweepInterval),
		workerpool.WithLease(s.clearLease),
		workerpool.WithBatchSize(s.sweepBatch),
		workerpool.WithSweepClock(s.now),
	)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(runCtx)
	s.pool.Start(gctx)
	g.Go(func() error {
		s.sweeper.Run(gctx)
		return nil
	})
	t, store, q := s.tracker, s.store, s.queue
	g.Go(func() error {
		s.refreshLoop(gctx, t, store, q)
		return nil
	})
	s.cancel = cancel
	s.group = g

	s.started = true
	s.logger.Info(ctx, "wordchain service started",
		logger.String("store", s.storeKind),
		logger.Int("workers", s.pool.Size()),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.Duration("movingWindow", s.window),
		logger.Int("words", s.dict.Size()),
	)
	return nil
}

func (s *Service) openStore(ctx context.Context) (repository.Store, error) {
	opts := []repository.Option{repository.WithConflictRetries(uint(s.storeRetries))}
	switch s.storeKind {
	case StoreMemory:
		return repository.NewMemoryStore(), nil
	case StoreSQLite:
		store, err := sqlitestore.Open(ctx, s.sqlitePath, opts...)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	case StorePostgres:
		store, err := pgstore.Open(ctx, s.postgresDSN, opts...)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: %q", repository.ErrUnknownStore, s.storeKind)
	}
}

func (s *Service) openDictionary() (words.Dictionary, error) {
	if s.wordsFile == "" {
		return words.Default()
	}
	dict, err := words.LoadFile(s.wordsFile)
	if err != nil {
		return nil, fmt.Errorf("load words %s: %w", s.wordsFile, err)
	}
	return dict, nil
}

func (s *Service) closeOwnedStore(ctx context.Context) {
	if !s.ownsStore || s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error(ctx, "close store failed", logger.Error(err))
	}
	s.store = nil
}

// Stop halts the sweeper, drains queued clear jobs, stops the background
// loops and closes the store if the service opened it. Jobs still pending in
// the store run after the next Start. Operations called while Stop drains
// fail with ErrNotStarted.
func (s *Service) Stop(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	sweeper, pool, cancel, group := s.sweeper, s.pool, s.cancel, s.group
	s.mu.Unlock()

	s.logger.Info(ctx, "stopping wordchain service...")

	var errs []error
	if err := sweeper.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := pool.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	cancel()
	if err := group.Wait(); err != nil {
		errs = append(errs, err)
	}

	s.mu.Lock()
	s.closeOwnedStore(ctx)
	s.mu.Unlock()

	s.logger.Info(ctx, "wordchain service stopped")
	return errors.Join(errs...)
}

func (s *Service) refreshLoop(ctx context.Context, t *tracker.Tracker, store repository.Store, q *eventqueue.InMemoryQueue) {
	ticker := time.NewTicker(s.statsRefresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := refreshGauges(ctx, t, store, q); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn(ctx, "refresh metrics failed", logger.Error(err))
			}
		}
	}
}

// RefreshMetrics updates the region, clear job and queue gauges.
func (s *Service) RefreshMetrics(ctx context.Context) error {
	t, store, q, err := s.components()
	if err != nil {
		return err
	}
	return refreshGauges(ctx, t, store, q)
}

func refreshGauges(ctx context.Context, t *tracker.Tracker, store repository.Store, q *eventqueue.InMemoryQueue) error {
	registered, moving, err := t.Counts(ctx)
	if err != nil {
		return err
	}
	summary, err := store.ClearSummary(ctx)
	if err != nil {
		return err
	}
	metrics.UpdateRegisteredRegions(registered)
	metrics.UpdateMovingRegions(moving)
	metrics.UpdateClearJobs(string(model.ClearPending), summary.Pending)
	metrics.UpdateClearJobs(string(model.ClearProcessing), summary.Processing)
	metrics.UpdateClearJobs(string(model.ClearFailed), summary.Failed)
	metrics.UpdateClearJobs(string(model.ClearDead), summary.Dead)
	metrics.UpdateQueueSize(q.Len(ctx))
	return nil
}

func (s *Service) components() (*tracker.Tracker, repository.Store, *eventqueue.InMemoryQueue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, nil, nil, ErrNotStarted
	}
	return s.tracker, s.store, s.queue, nil
}

func (s *Service) scores() (*tracker.Tracker, error) {
	t, _, _, err := s.components()
	return t, err
}

// ApplyIncrement adds delta to region's score and marks it moving.
func (s *Service) ApplyIncrement(ctx context.Context, region string, delta int64) error {
	t, err := s.scores()
	if err != nil {
		return err
	}
	return t.ApplyIncrement(ctx, region, delta)
}

// Register creates region with score 0.
func (s *Service) Register(ctx context.Context, region string) (bool, error) {
	t, err := s.scores()
	if err != nil {
		return false, err
	}
	return t.Register(ctx, region)
}

// Standing returns one region with moving derived from the current time.
func (s *Service) Standing(ctx context.Context, region string) (model.RegionScore, error) {
	t, err := s.scores()
	if err != nil {
		return model.RegionScore{}, err
	}
	return t.Standing(ctx, region)
}

// Leaderboard returns every region ordered by score.
func (s *Service) Leaderboard(ctx context.Context) ([]model.RegionScore, error) {
	t, err := s.scores()
	if err != nil {
		return nil, err
	}
	return t.Leaderboard(ctx)
}

// SweepOnce claims due clear jobs and queues them for the workers right away.
func (s *Service) SweepOnce(ctx context.Context) (int, error) {
	s.mu.RLock()
	sweeper, started := s.sweeper, s.started
	s.mu.RUnlock()
	if !started {
		return 0, ErrNotStarted
	}
	return sweeper.SweepOnce(ctx)
}

// ClearSummary counts stored clear jobs by status.
func (s *Service) ClearSummary(ctx context.Context) (model.ClearSummary, error) {
	_, store, _, err := s.components()
	if err != nil {
		return model.ClearSummary{}, err
	}
	return store.ClearSummary(ctx)
}

// Words returns the dictionary. Nil before Start.
func (s *Service) Words() words.Dictionary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dict
}

// Deduper returns the idempotency key cache, or nil when disabled.
func (s *Service) Deduper() dedupe.Deduper {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deduper
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":        s.started,
		"store":          s.storeKind,
		"workerCount":    s.workerCount,
		"queueSize":      s.queueSize,
		"dedupeSize":     s.dedupeSize,
		"movingWindowMs": s.window.Milliseconds(),
	}
	if !s.started {
		return stats
	}

	stats["queueLength"] = s.queue.Len(ctx)
	if s.deduper != nil {
		stats["dedupeEntries"] = s.deduper.Size()
	}
	if registered, moving, err := s.tracker.Counts(ctx); err == nil {
		stats["registeredRegions"] = registered
		stats["movingRegions"] = moving
	} else {
		s.logger.Warn(ctx, "stats: count regions failed", logger.Error(err))
	}
	if summary, err := s.store.ClearSummary(ctx); err == nil {
		stats["clearJobs"] = map[string]int{
			string(model.ClearPending):    summary.Pending,
			string(model.ClearProcessing): summary.Processing,
			string(model.ClearFailed):     summary.Failed,
			string(model.ClearDead):       summary.Dead,
		}
	} else {
		s.logger.Warn(ctx, "stats: clear summary failed", logger.Error(err))
	}
	return stats
}
