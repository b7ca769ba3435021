// Package tracker implements the region score tracker: atomic score
// increments and the self-expiring "moving" flag.
//
// Moving is derived on every read from lastIncrementAt and the quiescence
// window, so it expires even if nothing else ever runs. Each increment also
// reschedules a durable clear job which the sweeper later executes to reset
// the stored flag.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/okian/wordchain/internal/domain/model"
	"github.com/okian/wordchain/pkg/logger"
	"github.com/okian/wordchain/pkg/metrics"
)

const defaultMaxRegionLength = 64

// Store is the persistence the tracker needs.
type Store interface {
	Register(ctx context.Context, region string, at time.Time) (bool, error)
	Increment(ctx context.Context, region string, delta int64, at time.Time, window time.Duration) (model.RegionScore, error)
	Get(ctx context.Context, region string) (model.RegionScore, error)
	List(ctx context.Context) ([]model.RegionScore, error)
	Count(ctx context.Context) (int, error)
	CountActiveSince(ctx context.Context, since time.Time) (int, error)
}

// Tracker applies score increments and reports standings.
type Tracker struct {
	store        Store
	window       time.Duration
	now          func() time.Time
	maxRegionLen int
	logger       logger.Logger
}

// New creates a tracker over store.
func New(store Store, opts ...Option) *Tracker {
	t := &Tracker{
		store:        store,
		window:       model.DefaultMovingWindow,
		now:          time.Now,
		maxRegionLen: defaultMaxRegionLength,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = logger.Get().Named("tracker")
	}
	return t
}

// Window returns the quiescence window.
func (t *Tracker) Window() time.Duration { return t.window }

// Now returns the current time truncated to the millisecond precision stores keep.
func (t *Tracker) Now() time.Time {
	return t.now().UTC().Truncate(time.Millisecond)
}

// NormalizeRegion trims region and checks it is non-empty and short enough.
func (t *Tracker) NormalizeRegion(region string) (string, error) {
	region = strings.TrimSpace(region)
	if region == "" {
		return "", fmt.Errorf("%w: region is required", model.ErrInvalidRegion)
	}
	if n := utf8.RuneCountInString(region); n > t.maxRegionLen {
		return "", fmt.Errorf("%w: region is %d characters, limit is %d", model.ErrInvalidRegion, n, t.maxRegionLen)
	}
	return region, nil
}

// ApplyIncrement adds delta to region's score and marks it moving. The score
// change, the moving flag and the rescheduled clear job commit together.
// Returns model.ErrRegionNotFound for an unregistered region, in which case
// nothing is created.
func (t *Tracker) ApplyIncrement(ctx context.Context, region string, delta int64) error {
	region, err := t.NormalizeRegion(region)
	if err != nil {
		metrics.RecordIncrement("invalid")
		return err
	}

	start := time.Now()
	at := t.Now()
	row, err := t.store.Increment(ctx, region, delta, at, t.window)
	metrics.RecordIncrementLatency(float64(time.Since(start).Microseconds()) / 1000)
	if err != nil {
		metrics.RecordIncrement(incrementResult(err))
		if !errors.Is(err, model.ErrRegionNotFound) && !errors.Is(err, model.ErrInvalidDelta) {
			t.logger.Error(ctx, "increment failed",
				logger.String("region", region),
				logger.Int64("delta", delta),
				logger.Error(err),
			)
		}
		return err
	}

	metrics.RecordIncrement("applied")
	metrics.RecordClearScheduled()
	t.logger.Debug(ctx, "increment applied",
		logger.String("region", region),
		logger.Int64("delta", delta),
		logger.Int64("score", row.Score),
	)
	return nil
}

func incrementResult(err error) string {
	switch {
	case errors.Is(err, model.ErrRegionNotFound):
		return "not_found"
	case errors.Is(err, model.ErrConcurrencyConflict):
		return "conflict"
	case errors.Is(err, model.ErrInvalidDelta):
		return "invalid"
	default:
		return "error"
	}
}

// Register creates region with score 0. Registering an existing region
// succeeds with created=false.
func (t *Tracker) Register(ctx context.Context, region string) (bool, error) {
	region, err := t.NormalizeRegion(region)
	if err != nil {
		return false, err
	}
	created, err := t.store.Register(ctx, region, t.Now())
	switch {
	case err != nil:
		metrics.RecordRegistration("error")
		t.logger.Error(ctx, "register failed", logger.String("region", region), logger.Error(err))
		return false, err
	case created:
		metrics.RecordRegistration("created")
		t.logger.Info(ctx, "region registered", logger.String("region", region))
	default:
		metrics.RecordRegistration("existing")
	}
	return created, nil
}

// Standing returns region's score with moving derived from the current time.
func (t *Tracker) Standing(ctx context.Context, region string) (model.RegionScore, error) {
	region, err := t.NormalizeRegion(region)
	if err != nil {
		return model.RegionScore{}, err
	}
	row, err := t.store.Get(ctx, region)
	if err != nil {
		return model.RegionScore{}, err
	}
	return row.Derive(t.Now(), t.window), nil
}

// Leaderboard returns every region ordered by score desc, then region asc.
func (t *Tracker) Leaderboard(ctx context.Context) ([]model.RegionScore, error) {
	rows, err := t.store.List(ctx)
	if err != nil {
		return nil, err
	}
	now := t.Now()
	for i := range rows {
		rows[i] = rows[i].Derive(now, t.window)
	}
	return rows, nil
}

// Counts returns the number of registered and currently moving regions.
func (t *Tracker) Counts(ctx context.Context) (registered, moving int, err error) {
	registered, err = t.store.Count(ctx)
	if err != nil {
		return 0, 0, err
	}
	moving, err = t.store.CountActiveSince(ctx, t.Now().Add(-t.window))
	if err != nil {
		return 0, 0, err
	}
	return registered, moving, nil
}
