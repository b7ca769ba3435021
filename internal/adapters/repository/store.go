// Package repository defines the region store contract shared by every backend
// and provides the in-memory implementation.
package repository

import (
	"context"
	"time"

	"github.com/okian/wordchain/internal/domain/model"
)

// Store persists region scores and their durable clear jobs.
//
// Increment must apply the score delta, set moving and reschedule the region's
// clear job as one atomic unit. Implementations wrap failures under the kinds in
// model (ErrRegionNotFound, ErrPersistence, ErrConcurrencyConflict).
type Store interface {
	// Register creates the region with score 0. created is false when it already existed.
	Register(ctx context.Context, region string, at time.Time) (created bool, err error)

	// Increment adds delta to the region's score, marks it moving, advances
	// lastIncrementAt to at (never backwards) and upserts its clear job due at at+window.
	Increment(ctx context.Context, region string, delta int64, at time.Time, window time.Duration) (model.RegionScore, error)

	// Get returns the stored row. Returns model.ErrRegionNotFound if missing.
	Get(ctx context.Context, region string) (model.RegionScore, error)

	// List returns every region ordered by score desc, then region asc.
	List(ctx context.Context) ([]model.RegionScore, error)

	// Count returns the number of registered regions.
	Count(ctx context.Context) (int, error)

	// CountActiveSince counts regions whose last increment is after since.
	CountActiveSince(ctx context.Context, since time.Time) (int, error)

	// ClaimDueClears marks up to limit due jobs as processing with a lease
	// ending at now+lease, increments their attempt count and returns them.
	// Due jobs are pending or failed with nextAttemptAt <= now, or processing
	// with an expired lease.
	ClaimDueClears(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]model.ClearJob, error)

	// CompleteClear resets the stored moving flag unless a newer increment
	// exists, then removes the job if it was not rescheduled meanwhile.
	CompleteClear(ctx context.Context, job model.ClearJob) (model.ClearOutcome, error)

	// RetryClear records a failed execution. The job becomes failed with the
	// given next attempt time, or dead when dead is true. A job rescheduled by a
	// newer increment is left untouched.
	RetryClear(ctx context.Context, job model.ClearJob, cause string, nextAttemptAt time.Time, dead bool) error

	// ClearSummary counts stored clear jobs by status.
	ClearSummary(ctx context.Context) (model.ClearSummary, error)

	// Close releases resources held by the store.
	Close() error
}

// ClearJobDue reports whether job can be claimed at now.
func ClearJobDue(job model.ClearJob, now time.Time) bool {
	switch job.Status {
	case model.ClearPending, model.ClearFailed, model.ClearProcessing:
		return !job.NextAttemptAt.After(now)
	default:
		return false
	}
}

// AddScore returns score+delta. ok is false when the sum overflows int64.
func AddScore(score, delta int64) (sum int64, ok bool) {
	sum = score + delta
	if (delta > 0 && sum < score) || (delta < 0 && sum > score) {
		return score, false
	}
	return sum, true
}
