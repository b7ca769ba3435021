// Package sqlitestore is the SQLite-backed repository.Store.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/okian/wordchain/internal/adapters/repository"
	"github.com/okian/wordchain/internal/adapters/repository/sqlitestore/migrations"
	"github.com/okian/wordchain/internal/domain/model"
	"github.com/okian/wordchain/pkg/metrics"
)

const storeName = "sqlite"

// Store persists regions and clear jobs in a single SQLite file.
// All writes go through one connection so SQLite never sees two writers
// from this process; busy errors from other processes are retried.
type Store struct {
	db   *sql.DB
	opts repository.Options
}

var _ repository.Store = (*Store)(nil)

// Open opens the database at path and applies migrations.
func Open(ctx context.Context, path string, opts ...repository.Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db, opts: repository.ApplyOptions(opts...)}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func toMillis(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	if value == 0 {
		return time.Time{}
	}
	return time.UnixMilli(value).UTC()
}

func isBusyError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}

// scoreGuard returns a WHERE condition that holds only when score+delta stays
// inside int64. SQLite would otherwise turn the sum into a REAL.
func scoreGuard(delta int64) (string, []any) {
	switch {
	case delta > 0:
		return "score <= ?", []any{int64(math.MaxInt64) - delta}
	case delta < 0:
		return "score >= ?", []any{int64(math.MinInt64) - delta}
	default:
		return "1 = 1", nil
	}
}

// observe records latency and failures for op. Domain "not found" is not a store failure.
func observe(op string, start time.Time, err error) {
	metrics.RecordStoreLatency(storeName, op, float64(time.Since(start).Microseconds())/1000)
	if err != nil && !errors.Is(err, model.ErrRegionNotFound) && !errors.Is(err, model.ErrInvalidDelta) {
		metrics.RecordStoreError(storeName, op)
	}
}

// persistence wraps err under model.ErrPersistence unless it already carries a domain kind.
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

// inTx runs fn in a transaction, retrying the whole unit on busy errors.
func inTx[T any](ctx context.Context, s *Store, fn func(tx *sql.Tx) (T, error)) (T, error) {
	return repository.RetryTransient(ctx, s.opts, isBusyError, func() (T, error) {
		var zero T
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return zero, err
		}
		v, err := fn(tx)
		if err != nil {
			_ = tx.Rollback()
			return zero, err
		}
		if err := tx.Commit(); err != nil {
			return zero, err
		}
		return v, nil
	})
}

// Register implements repository.Store.
func (s *Store) Register(ctx context.Context, region string, at time.Time) (created bool, err error) {
	defer func(start time.Time) { observe("register", start, err) }(time.Now())

	created, err = repository.RetryTransient(ctx, s.opts, isBusyError, func() (bool, error) {
		res, err := s.db.ExecContext(ctx, `
INSERT INTO region_scores (region, score, moving, last_increment_at, created_at, updated_at)
VALUES (?, 0, 0, 0, ?, ?)
ON CONFLICT(region) DO NOTHING
`, region, toMillis(at), toMillis(at))
		if err != nil {
			return false, err
		}
		n, err := res.RowsAffected()
		return n == 1, err
	})
	return created, persistence("register", region, err)
}

// Increment implements repository.Store.
func (s *Store) Increment(ctx context.Context, region string, delta int64, at time.Time, window time.Duration) (row model.RegionScore, err error) {
	defer func(start time.Time) { observe("increment", start, err) }(time.Now())

	atMs := toMillis(at)
	dueMs := toMillis(at.Add(window))
	row, err = inTx(ctx, s, func(tx *sql.Tx) (model.RegionScore, error) {
		r := model.RegionScore{Region: region}
		var lastMs, createdMs, updatedMs int64
		guard, guardArgs := scoreGuard(delta)
		args := append([]any{delta, atMs, atMs, region}, guardArgs...)
		err := tx.QueryRowContext(ctx, `
UPDATE region_scores
SET score = score + ?,
    moving = 1,
    last_increment_at = MAX(last_increment_at, ?),
    updated_at = ?
WHERE region = ? AND `+guard+`
RETURNING score, moving, last_increment_at, created_at, updated_at
`, args...).Scan(&r.Score, &r.Moving, &lastMs, &createdMs, &updatedMs)
		if errors.Is(err, sql.ErrNoRows) {
			var current int64
			switch err := tx.QueryRowContext(ctx, `SELECT score FROM region_scores WHERE region = ?`, region).Scan(&current); {
			case errors.Is(err, sql.ErrNoRows):
				return r, fmt.Errorf("%w: %s", model.ErrRegionNotFound, region)
			case err != nil:
				return r, err
			default:
				return r, fmt.Errorf("%w: %s %+d overflows score %d", model.ErrInvalidDelta, region, delta, current)
			}
		}
		if err != nil {
			return r, err
		}
		r.LastIncrementAt = fromMillis(lastMs)
		r.CreatedAt = fromMillis(createdMs)
		r.UpdatedAt = fromMillis(updatedMs)

		if _, err := tx.ExecContext(ctx, `
INSERT INTO clear_jobs (region, due_at, increment_at, status, attempt_count, next_attempt_at, last_error, updated_at)
VALUES (?, ?, ?, ?, 0, ?, '', ?)
ON CONFLICT(region) DO UPDATE SET
    due_at = MAX(clear_jobs.due_at, excluded.due_at),
    increment_at = MAX(clear_jobs.increment_at, excluded.increment_at),
    status = excluded.status,
    attempt_count = 0,
    next_attempt_at = MAX(clear_jobs.due_at, excluded.due_at),
    last_error = '',
    updated_at = excluded.updated_at
`, region, dueMs, atMs, string(model.ClearPending), dueMs, atMs); err != nil {
			return r, fmt.Errorf("schedule clear: %w", err)
		}
		return r, nil
	})
	return row, persistence("increment", region, err)
}

// Get implements repository.Store.
func (s *Store) Get(ctx context.Context, region string) (row model.RegionScore, err error) {
	defer func(start time.Time) { observe("get", start, err) }(time.Now())

	row, err = scanRegion(s.db.QueryRowContext(ctx, `
SELECT region, score, moving, last_increment_at, created_at, updated_at
FROM region_scores
WHERE region = ?
`, region))
	if errors.Is(err, sql.ErrNoRows) {
		return row, fmt.Errorf("%w: %s", model.ErrRegionNotFound, region)
	}
	return row, persistence("get", region, err)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRegion(sc scanner) (model.RegionScore, error) {
	var r model.RegionScore
	var lastMs, createdMs, updateMs int64
	if err := sc.Scan(&r.Region, &r.Score, &r.Moving, &lastMs, &createdMs, &updateMs); err != nil {
		return model.RegionScore{}, err
	}
	r.LastIncrementAt = fromMillis(lastMs)
	r.CreatedAt = fromMillis(createdMs)
	r.UpdatedAt = fromMillis(updateMs)
	return r, nil
}

// List implements repository.Store.
func (s *Store) List(ctx context.Context) (out []model.RegionScore, err error) {
	defer func(start time.Time) { observe("list", start, err) }(time.Now())

	rows, err := s.db.QueryContext(ctx, `
SELECT region, score, moving, last_increment_at, created_at, updated_at
FROM region_scores
ORDER BY score DESC, region ASC
`)
	if err != nil {
		return nil, persistence("list", "", err)
	}
	defer rows.Close()

	out = make([]model.RegionScore, 0)
	for rows.Next() {
		r, err := scanRegion(rows)
		if err != nil {
			return nil, persistence("list", "", err)
		}
		out = append(out, r)
	}
	return out, persistence("list", "", rows.Err())
}

// Count implements repository.Store.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM region_scores`).Scan(&n)
	return n, persistence("count", "", err)
}

// CountActiveSince implements repository.Store.
func (s *Store) CountActiveSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM region_scores WHERE last_increment_at > ?`, toMillis(since),
	).Scan(&n)
	return n, persistence("count active", "", err)
}

// ClaimDueClears implements repository.Store.
func (s *Store) ClaimDueClears(ctx context.Context, now time.Time, lease time.Duration, limit int) (jobs []model.ClearJob, err error) {
	if limit <= 0 {
		return nil, nil
	}
	defer func(start time.Time) { observe("claim", start, err) }(time.Now())

	nowMs := toMillis(now)
	jobs, err = inTx(ctx, s, func(tx *sql.Tx) ([]model.ClearJob, error) {
		rows, err := tx.QueryContext(ctx, `
UPDATE clear_jobs
SET status = ?,
    attempt_count = attempt_count + 1,
    next_attempt_at = ?,
    updated_at = ?
WHERE region IN (
    SELECT region FROM clear_jobs
    WHERE status IN (?, ?, ?) AND next_attempt_at <= ?
    ORDER BY due_at ASC, region ASC
    LIMIT ?
)
RETURNING region, due_at, increment_at, status, attempt_count, next_attempt_at, last_error, updated_at
`,
			string(model.ClearProcessing), toMillis(now.Add(lease)), nowMs,
			string(model.ClearPending), string(model.ClearFailed), string(model.ClearProcessing), nowMs,
			limit,
		)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		claimed := make([]model.ClearJob, 0)
		for rows.Next() {
			job, err := scanJob(rows)
			if err != nil {
				return nil, err
			}
			claimed = append(claimed, job)
		}
		return claimed, rows.Err()
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

func scanJob(sc scanner) (model.ClearJob, error) {
	var job model.ClearJob
	var status string
	var dueMs, incMs, nextMs, updatedMs int64
	if err := sc.Scan(&job.Region, &dueMs, &incMs, &status, &job.AttemptCount, &nextMs, &job.LastError, &updatedMs); err != nil {
		return model.ClearJob{}, err
	}
	job.Status = model.ClearJobStatus(status)
	job.DueAt = fromMillis(dueMs)
	job.IncrementAt = fromMillis(incMs)
	job.NextAttemptAt = fromMillis(nextMs)
	job.UpdatedAt = fromMillis(updatedMs)
	return job, nil
}

// CompleteClear implements repository.Store.
func (s *Store) CompleteClear(ctx context.Context, job model.ClearJob) (outcome model.ClearOutcome, err error) {
	defer func(start time.Time) { observe("complete clear", start, err) }(time.Now())

	outcome, err = inTx(ctx, s, func(tx *sql.Tx) (model.ClearOutcome, error) {
		res, err := tx.ExecContext(ctx, `
UPDATE region_scores
SET moving = 0
WHERE region = ? AND moving = 1 AND last_increment_at <= ?
`, job.Region, toMillis(job.IncrementAt))
		if err != nil {
			return model.ClearSuperseded, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return model.ClearSuperseded, err
		}

		if _, err := tx.ExecContext(ctx, `
DELETE FROM clear_jobs
WHERE region = ? AND due_at = ? AND status = ?
`, job.Region, toMillis(job.DueAt), string(model.ClearProcessing)); err != nil {
			return model.ClearSuperseded, err
		}
		if n == 1 {
			return model.ClearApplied, nil
		}
		return model.ClearSuperseded, nil
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
	_, err = repository.RetryTransient(ctx, s.opts, isBusyError, func() (sql.Result, error) {
		return s.db.ExecContext(ctx, `
UPDATE clear_jobs
SET status = ?, last_error = ?, next_attempt_at = ?
WHERE region = ? AND due_at = ? AND status = ?
`, string(status), cause, toMillis(nextAttemptAt),
			job.Region, toMillis(job.DueAt), string(model.ClearProcessing))
	})
	return persistence("retry clear", job.Region, err)
}

// ClearSummary implements repository.Store.
func (s *Store) ClearSummary(ctx context.Context) (model.ClearSummary, error) {
	var sum model.ClearSummary
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM clear_jobs GROUP BY status`)
	if err != nil {
		return sum, persistence("clear summary", "", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return sum, persistence("clear summary", "", err)
		}
		switch model.ClearJobStatus(status) {
		case model.ClearPending:
			sum.Pending = n
		case model.ClearProcessing:
			sum.Processing = n
		case model.ClearFailed:
			sum.Failed = n
		case model.ClearDead:
			sum.Dead = n
		}
	}
	return sum, persistence("clear summary", "", rows.Err())
}
