// Package worker executes durable clear jobs: a sweeper claims due jobs from
// the store and a pool of workers resets the regions' moving flags.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/okian/wordchain/internal/domain/model"
	"github.com/okian/wordchain/pkg/logger"
	"github.com/okian/wordchain/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerMultiplier = 2 // multiplier for runtime.NumCPU()
	poolShutdownTimeout     = 30 * time.Second
)

// Clearer executes clear jobs against the store.
type Clearer interface {
	CompleteClear(ctx context.Context, job model.ClearJob) (model.ClearOutcome, error)
	RetryClear(ctx context.Context, job model.ClearJob, cause string, nextAttemptAt time.Time, dead bool) error
}

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan model.ClearJob
}

// ClosableQueue is a Queue the pool closes on shutdown.
type ClosableQueue interface {
	Queue
	Close() error
}

// Worker processes clear jobs until stopped.
type Worker interface {
	// Run starts the worker loop until ctx is canceled, the queue closes or Shutdown is called.
	Run(ctx context.Context)

	// Shutdown stops the worker and waits for it to return.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker consumes clear jobs from a Queue.
type InMemoryWorker struct {
	queue   Queue
	clearer Clearer
	name    string
	retry   RetryPolicy
	now     func() time.Time

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(queue Queue, clearer Clearer, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    queue,
		clearer:  clearer,
		name:     "worker",
		retry:    DefaultRetryPolicy(),
		now:      time.Now,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logger.Get().Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			metrics.RecordQueueDequeue()
			if err := w.processJob(ctx, job); err != nil {
				w.logger.Error(ctx, "clear job failed",
					logger.String("region", job.Region),
					logger.Int("attempt", job.AttemptCount),
					logger.Error(err),
				)
			}
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	select {
	case <-w.shutdown:
	default:
		close(w.shutdown)
	}

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// processJob runs one clear job and reschedules it on failure.
func (w *InMemoryWorker) processJob(ctx context.Context, job model.ClearJob) error { //nolint:gocritic // hugeParam: jobs travel by value over the channel
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	metrics.RecordClearLag(w.now().Sub(job.DueAt))
	outcome, err := w.clearer.CompleteClear(ctx, job)
	if err != nil {
		metrics.RecordWorkerError()
		return w.reschedule(ctx, job, err)
	}

	metrics.RecordClearExecuted(outcome.String())
	w.logger.Debug(ctx, "clear job done",
		logger.String("region", job.Region),
		logger.String("outcome", outcome.String()),
	)
	return nil
}

// reschedule records a failed attempt: retried with backoff, or dead once the
// policy is exhausted. Returns cause so the caller logs it.
func (w *InMemoryWorker) reschedule(ctx context.Context, job model.ClearJob, cause error) error { //nolint:gocritic // hugeParam
	dead := w.retry.Exhausted(job.AttemptCount)
	next := w.now().Add(w.retry.Delay(job.AttemptCount))

	if err := w.clearer.RetryClear(ctx, job, cause.Error(), next, dead); err != nil {
		// The lease still expires, so the sweeper will pick the job up again.
		return fmt.Errorf("reschedule clear %s: %w (after %w)", job.Region, err, cause)
	}
	if dead {
		metrics.RecordClearDead()
		return fmt.Errorf("clear %s dead after %d attempts: %w", job.Region, job.AttemptCount, cause)
	}
	metrics.RecordClearRetried()
	return fmt.Errorf("clear %s attempt %d, retry at %s: %w", job.Region, job.AttemptCount, next.Format(time.RFC3339Nano), cause)
}

// Pool manages multiple workers.
type Pool struct {
	workers []*InMemoryWorker
	queue   ClosableQueue

	logger logger.Logger
}

// NewPool creates workerCount workers reading from queue. opts apply to every worker.
// A workerCount below 1 selects a default based on the CPU count.
func NewPool(workerCount int, queue ClosableQueue, clearer Clearer, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}

	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   queue,
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := 0; i < workerCount; i++ {
		workerOpts := append(append([]Option{}, opts...), WithName("worker-"+strconv.Itoa(i)))
		pool.workers[i] = NewInMemoryWorker(queue, clearer, workerOpts...)
	}

	metrics.UpdateWorkerCount(workerCount)
	return pool
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Shutdown closes the queue, lets workers drain what is already queued and
// waits for them. Workers still busy when ctx or the pool timeout ends are stopped.
func (p *Pool) Shutdown(ctx context.Context) error {
	if err := p.queue.Close(); err != nil {
		p.logger.Error(ctx, "error closing queue", logger.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var timedOut bool
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			timedOut = true
			p.logger.Warn(ctx, "worker drain timed out", logger.Int("worker_id", i))
			_ = w.Shutdown(context.Background())
		}
	}
	metrics.UpdateWorkerCount(0)
	if timedOut {
		return fmt.Errorf("worker pool shutdown: %w", shutdownCtx.Err())
	}
	return nil
}
