package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okian/wordchain/internal/domain/model"
	"github.com/okian/wordchain/pkg/metrics"
)

const memoryStoreName = "memory"

// regionEntry serializes all writes to one region.
type regionEntry struct {
	mu  sync.Mutex
	row model.RegionScore
}

// MemoryStore is an in-process Store. Each region has its own lock so
// increments on different regions never contend; the region and job maps
// are guarded separately. Lock order is region entry, then jobs.
type MemoryStore struct {
	mu      sync.RWMutex
	regions map[string]*regionEntry
	closed  bool

	jobsMu sync.Mutex
	jobs   map[string]model.ClearJob
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		regions: make(map[string]*regionEntry),
		jobs:    make(map[string]model.ClearJob),
	}
}

func (s *MemoryStore) entry(region string) (*regionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("%w: %w", model.ErrPersistence, ErrClosed)
	}
	e, ok := s.regions[region]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrRegionNotFound, region)
	}
	return e, nil
}

// Register implements Store.
func (s *MemoryStore) Register(_ context.Context, region string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, fmt.Errorf("%w: %w", model.ErrPersistence, ErrClosed)
	}
	if _, ok := s.regions[region]; ok {
		return false, nil
	}
	s.regions[region] = &regionEntry{row: model.RegionScore{
		Region:    region,
		CreatedAt: at,
		UpdatedAt: at,
	}}
	return true, nil
}

// Increment implements Store.
func (s *MemoryStore) Increment(_ context.Context, region string, delta int64, at time.Time, window time.Duration) (model.RegionScore, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreLatency(memoryStoreName, "increment", float64(time.Since(start).Microseconds())/1000)
	}()

	e, err := s.entry(region)
	if err != nil {
		return model.RegionScore{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	score, ok := AddScore(e.row.Score, delta)
	if !ok {
		return model.RegionScore{}, fmt.Errorf("%w: %s %+d overflows score %d", model.ErrInvalidDelta, region, delta, e.row.Score)
	}
	e.row.Score = score
	e.row.Moving = true
	if at.After(e.row.LastIncrementAt) {
		e.row.LastIncrementAt = at
	}
	e.row.UpdatedAt = at

	s.jobsMu.Lock()
	job, ok := s.jobs[region]
	due := at.Add(window)
	if !ok || due.After(job.DueAt) {
		job.DueAt = due
	}
	if !ok || at.After(job.IncrementAt) {
		job.IncrementAt = at
	}
	job.Region = region
	job.Status = model.ClearPending
	job.AttemptCount = 0
	job.NextAttemptAt = job.DueAt
	job.LastError = ""
	job.UpdatedAt = at
	s.jobs[region] = job
	s.jobsMu.Unlock()

	return e.row, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, region string) (model.RegionScore, error) {
	e, err := s.entry(region)
	if err != nil {
		return model.RegionScore{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.row, nil
}

func (s *MemoryStore) snapshot() ([]model.RegionScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("%w: %w", model.ErrPersistence, ErrClosed)
	}
	rows := make([]model.RegionScore, 0, len(s.regions))
	for _, e := range s.regions {
		e.mu.Lock()
		rows = append(rows, e.row)
		e.mu.Unlock()
	}
	return rows, nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context) ([]model.RegionScore, error) {
	rows, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	SortStandings(rows)
	return rows, nil
}

// Count implements Store.
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.regions), nil
}

// CountActiveSince implements Store.
func (s *MemoryStore) CountActiveSince(_ context.Context, since time.Time) (int, error) {
	rows, err := s.snapshot()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range rows {
		if r.LastIncrementAt.After(since) {
			n++
		}
	}
	return n, nil
}

// ClaimDueClears implements Store.
func (s *MemoryStore) ClaimDueClears(_ context.Context, now time.Time, lease time.Duration, limit int) ([]model.ClearJob, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	due := make([]model.ClearJob, 0)
	for _, job := range s.jobs {
		if ClearJobDue(job, now) {
			due = append(due, job)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].DueAt.Equal(due[j].DueAt) {
			return due[i].DueAt.Before(due[j].DueAt)
		}
		return due[i].Region < due[j].Region
	})
	if len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		due[i].Status = model.ClearProcessing
		due[i].AttemptCount++
		due[i].NextAttemptAt = now.Add(lease)
		due[i].UpdatedAt = now
		s.jobs[due[i].Region] = due[i]
	}
	return due, nil
}

// CompleteClear implements Store.
func (s *MemoryStore) CompleteClear(_ context.Context, job model.ClearJob) (model.ClearOutcome, error) {
	e, err := s.entry(job.Region)
	if err != nil {
		return model.ClearSuperseded, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	outcome := model.ClearSuperseded
	if e.row.Moving && !e.row.LastIncrementAt.After(job.IncrementAt) {
		e.row.Moving = false
		outcome = model.ClearApplied
	}

	s.jobsMu.Lock()
	if cur, ok := s.jobs[job.Region]; ok && sameClaim(cur, job) {
		delete(s.jobs, job.Region)
	}
	s.jobsMu.Unlock()

	return outcome, nil
}

// RetryClear implements Store.
func (s *MemoryStore) RetryClear(_ context.Context, job model.ClearJob, cause string, nextAttemptAt time.Time, dead bool) error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	cur, ok := s.jobs[job.Region]
	if !ok || !sameClaim(cur, job) {
		return nil
	}
	cur.Status = model.ClearFailed
	if dead {
		cur.Status = model.ClearDead
	}
	cur.LastError = cause
	cur.NextAttemptAt = nextAttemptAt
	s.jobs[job.Region] = cur
	return nil
}

// ClearSummary implements Store.
func (s *MemoryStore) ClearSummary(_ context.Context) (model.ClearSummary, error) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	var sum model.ClearSummary
	for _, job := range s.jobs {
		switch job.Status {
		case model.ClearPending:
			sum.Pending++
		case model.ClearProcessing:
			sum.Processing++
		case model.ClearFailed:
			sum.Failed++
		case model.ClearDead:
			sum.Dead++
		}
	}
	return sum, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// sameClaim reports whether cur is still the claim job was taken from.
func sameClaim(cur, job model.ClearJob) bool {
	return cur.Status == model.ClearProcessing && cur.DueAt.Equal(job.DueAt)
}

// SortStandings orders rows by score desc, then region asc.
func SortStandings(rows []model.RegionScore) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Score != rows[j].Score {
			return rows[i].Score > rows[j].Score
		}
		return rows[i].Region < rows[j].Region
	})
}
