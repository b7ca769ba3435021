// Package pgstore is the Postgres-backed repository.Store, built on gorm with the pgx driver.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/okian/wordchain/internal/adapters/repository"
	"github.com/okian/wordchain/internal/domain/model"
	"github.com/okian/wordchain/pkg/metrics"
)

const (
	storeName   = "postgres"
	pingTimeout = 5 * time.Second
)

// Store persists regions and clear jobs in Postgres.
type Store struct {
	db   *gorm.DB
	opts repository.Options
}

var _ repository.Store = (*Store)(nil)

// Open connects to dsn and migrates the schema.
func Open(ctx context.Context, dsn string, opts ...repository.Option) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open gorm postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("resolve postgres sql db handle: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&regionScoreRow{}, &clearJobRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate postgres schema: %w", err)
	}
	return &Store{db: db, opts: repository.ApplyOptions(opts...)}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// isTransient reports serialization failures, deadlocks and lock timeouts.
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01", "55P03":
		return true
	default:
		return false
	}
}

// isOverflowError reports numeric_value_out_of_range, raised when score leaves the bigint range.
func isOverflowError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22003"
}

func observe(op string, start time.Time, err error) {
	metrics.RecordStoreLatency(storeName, op, float64(time.Since(start).Microseconds())/1000)
	if err != nil && !errors.Is(err, model.ErrRegionNotFound) && !errors.Is(err, model.ErrInvalidDelta) {
		metrics.RecordStoreError(storeName, op)
	}
}

func persistence(op, region string, err error) error {
	if err == nil ||
		errors.Is(err, model.ErrRegionNotFound) ||
		errors.Is(err, model.ErrInvalidDelta) ||
		errors.Is(err, model.ErrConcurrencyConflict) {
		return err
	}
	if region == "" {
		return fmt.Errorf("%w: %s: %w", model.ErrPersistence, op, err)
	}
	return fmt.Errorf("%w: %s %s: %w", model.ErrPersistence, op, region, err)
}

// transaction runs fn in a gorm transaction, retrying the whole unit on transient errors.
func (s *Store) transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	_, err := repository.RetryTransient(ctx, s.opts, isTransient, func() (struct{}, error) {
		return struct{}{}, s.db.WithContext(ctx).Transaction(fn)
	})
	return err
}

// Register implements repository.Store.
func (s *Store) Register(ctx context.Context, region string, at time.Time) (created bool, err error) {
	defer func(start time.Time) { observe("register", start, err) }(time.Now())

	err = s.transaction(ctx, func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&regionScoreRow{
			Region:    region,
			CreatedMs: toMillis(at),
			UpdatedMs: toMillis(at),
		})
		created = res.RowsAffected == 1
		return res.Error
	})
	return created, persistence("register", region, err)
}

// Increment implements repository.Store.
func (s *Store) Increment(ctx context.Context, region string, delta int64, at time.Time, window time.Duration) (out model.RegionScore, err error) {
	defer func(start time.Time) { observe("increment", start, err) }(time.Now())

	atMs := toMillis(at)
	dueMs := toMillis(at.Add(window))
	err = s.transaction(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&regionScoreRow{}).
			Where("region = ?", region).
			Updates(map[string]any{
				"score":             gorm.Expr("score + ?", delta),
				"moving":            true,
				"last_increment_at": gorm.Expr("GREATEST(last_increment_at, ?)", atMs),
				"updated_at":        atMs,
			})
		if isOverflowError(res.Error) {
			return fmt.Errorf("%w: %s %+d: %w", model.ErrInvalidDelta, region, delta, res.Error)
		}
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", model.ErrRegionNotFound, region)
		}

		var row regionScoreRow
		if err := tx.Where("region = ?", region).Take(&row).Error; err != nil {
			return fmt.Errorf("read back: %w", err)
		}
		out = row.toModel()

		upsert := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "region"}},
			DoUpdates: clause.Assignments(map[string]any{
				"due_at":          gorm.Expr("GREATEST(clear_jobs.due_at, excluded.due_at)"),
				"increment_at":    gorm.Expr("GREATEST(clear_jobs.increment_at, excluded.increment_at)"),
				"status":          string(model.ClearPending),
				"attempt_count":   0,
				"next_attempt_at": gorm.Expr("GREATEST(clear_jobs.due_at, excluded.due_at)"),
				"last_error":      "",
				"updated_at":      atMs,
			}),
		}).Create(&clearJobRow{
			Region:        region,
			DueAt:         dueMs,
			IncrementAt:   atMs,
			Status:        string(model.ClearPending),
			NextAttemptAt: dueMs,
			UpdatedMs:     atMs,
		})
		if upsert.Error != nil {
			return fmt.Errorf("schedule clear: %w", upsert.Error)
		}
		return nil
	})
	return out, persistence("increment", region, err)
}

// Get implements repository.Store.
func (s *Store) Get(ctx context.Context, region string) (out model.RegionScore, err error) {
	defer func(start time.Time) { observe("get", start, err) }(time.Now())

	var row regionScoreRow
	err = s.db.WithContext(ctx).Where("region = ?", region).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return out, fmt.Errorf("%w: %s", model.ErrRegionNotFound, region)
	}
	if err != nil {
		return out, persistence("get", region, err)
	}
	return row.toModel(), nil
}

// List implements repository.Store.
func (s *Store) List(ctx context.Context) (out []model.RegionScore, err error) {
	defer func(start time.Time) { observe("list", start, err) }(time.Now())

	var rows []regionScoreRow
	if err = s.db.WithContext(ctx).Order("score DESC, region ASC").Find(&rows).Error; err != nil {
		return nil, persistence("list", "", err)
	}
	out = make([]model.RegionScore, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// Count implements repository.Store.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&regionScoreRow{}).Count(&n).Error
	return int(n), persistence("count", "", err)
}

// CountActiveSince implements repository.Store.
func (s *Store) CountActiveSince(ctx context.Context, since time.Time) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&regionScoreRow{}).
		Where("last_increment_at > ?", toMillis(since)).
		Count(&n).Error
	return int(n), persistence("count active", "", err)
}

var claimableStatuses = []string{
	string(model.ClearPending),
	string(model.ClearFailed),
	string(model.ClearProcessing),
}

// ClaimDueClears implements repository.Store. Concurrent sweepers skip rows
// another transaction has locked.
func (s *Store) ClaimDueClears(ctx context.Context, now time.Time, lease time.Duration, limit int) (jobs []model.ClearJob, err error) {
	if limit <= 0 {
		return nil, nil
	}
	defer func(start time.Time) { observe("claim", start, err) }(time.Now())

	nowMs := toMillis(now)
	leaseMs := toMillis(now.Add(lease))
	err = s.transaction(ctx, func(tx *gorm.DB) error {
		jobs = nil
		var due []clearJobRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status IN ? AND next_attempt_at <= ?", claimableStatuses, nowMs).
			Order("due_at ASC, region ASC").
			Limit(limit).
			Find(&due).Error; err != nil {
			return err
		}
		if len(due) == 0 {
			return nil
		}

		regions := make([]string, 0, len(due))
		for _, r := range due {
			regions = append(regions, r.Region)
		}
		if err := tx.Model(&clearJobRow{}).
			Where("region IN ?", regions).
			Updates(map[string]any{
				"status":          string(model.ClearProcessing),
				"attempt_count":   gorm.Expr("attempt_count + 1"),
				"next_attempt_at": leaseMs,
				"updated_at":      nowMs,
			}).Error; err != nil {
			return err
		}

		for _, r := range due {
			r.Status = string(model.ClearProcessing)
			r.AttemptCount++
			r.NextAttemptAt = leaseMs
			r.UpdatedMs = nowMs
			jobs = append(jobs, r.toModel())
		}
		return nil
	})
	if err != nil {
		return nil, persistence("claim clears", "", err)
	}
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].DueAt.Equal(jobs[j].DueAt) {
			return jobs[i].DueAt.Before(jobs[j].DueAt)
		}
		return jobs[i].Region < jobs[j].Region
	})
	return jobs, nil
}

// CompleteClear implements repository.Store.
func (s *Store) CompleteClear(ctx context.Context, job model.ClearJob) (outcome model.ClearOutcome, err error) {
	defer func(start time.Time) { observe("complete clear", start, err) }(time.Now())

	err = s.transaction(ctx, func(tx *gorm.DB) error {
		outcome = model.ClearSuperseded
		res := tx.Model(&regionScoreRow{}).
			Where("region = ? AND moving = ? AND last_increment_at <= ?", job.Region, true, toMillis(job.IncrementAt)).
			Update("moving", false)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			outcome = model.ClearApplied
		}
		return tx.
			Where("region = ? AND due_at = ? AND status = ?", job.Region, toMillis(job.DueAt), string(model.ClearProcessing)).
			Delete(&clearJobRow{}).Error
	})
	return outcome, persistence("complete clear", job.Region, err)
}

// RetryClear implements repository.Store.
func (s *Store) RetryClear(ctx context.Context, job model.ClearJob, cause string, nextAttemptAt time.Time, dead bool) (err error) {
	defer func(start time.Time) { observe("retry clear", start, err) }(time.Now())

	status := model.ClearFailed
	if dead {
		status = model.ClearDead
	}
	err = s.transaction(ctx, func(tx *gorm.DB) error {
		return tx.Model(&clearJobRow{}).
			Where("region = ? AND due_at = ? AND status = ?", job.Region, toMillis(job.DueAt), string(model.ClearProcessing)).
			Updates(map[string]any{
				"status":          string(status),
				"last_error":      cause,
				"next_attempt_at": toMillis(nextAttemptAt),
			}).Error
	})
	return persistence("retry clear", job.Region, err)
}

// ClearSummary implements repository.Store.
func (s *Store) ClearSummary(ctx context.Context) (model.ClearSummary, error) {
	var (
		sum    model.ClearSummary
		counts []struct {
			Status string
			N      int
		}
	)
	err := s.db.WithContext(ctx).Model(&clearJobRow{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return sum, persistence("clear summary", "", err)
	}
	for _, c := range counts {
		switch model.ClearJobStatus(c.Status) {
		case model.ClearPending:
			sum.Pending = c.N
		case model.ClearProcessing:
			sum.Processing = c.N
		case model.ClearFailed:
			sum.Failed = c.N
		case model.ClearDead:
			sum.Dead = c.N
		}
	}
	return sum, nil
}
