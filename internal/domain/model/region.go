// Package model contains domain models passed between layers.
package model

import "time"

// DefaultMovingWindow is the quiescence window after which a region stops moving.
const DefaultMovingWindow = 10 * time.Second

// RegionScore is the persisted state of a single region.
type RegionScore struct {
	Region          string
	Score           int64
	Moving          bool      // stored flag; readers should prefer MovingAt
	LastIncrementAt time.Time // zero until the first increment
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// MovingAt reports whether the region had an increment within window of now.
func (r RegionScore) MovingAt(now time.Time, window time.Duration) bool {
	if r.LastIncrementAt.IsZero() {
		return false
	}
	return now.Sub(r.LastIncrementAt) < window
}

// Derive returns a copy with Moving recomputed for now.
func (r RegionScore) Derive(now time.Time, window time.Duration) RegionScore {
	r.Moving = r.MovingAt(now, window)
	return r
}

// ClearJobStatus is the lifecycle state of a ClearJob.
type ClearJobStatus string

// Clear job statuses.
const (
	ClearPending    ClearJobStatus = "pending"
	ClearProcessing ClearJobStatus = "processing"
	ClearFailed     ClearJobStatus = "failed"
	ClearDead       ClearJobStatus = "dead"
)

// ClearJob is the durable deferred reset of a region's moving flag.
// There is at most one job per region; a newer increment reschedules it.
type ClearJob struct {
	Region        string
	DueAt         time.Time
	IncrementAt   time.Time // the increment this job settles
	Status        ClearJobStatus
	AttemptCount  int
	NextAttemptAt time.Time // retry time, or lease expiry while processing
	LastError     string
	UpdatedAt     time.Time
}

// ClearSummary counts stored clear jobs by status.
type ClearSummary struct {
	Pending    int
	Processing int
	Failed     int
	Dead       int
}

// Total returns the number of stored jobs.
func (s ClearSummary) Total() int {
	return s.Pending + s.Processing + s.Failed + s.Dead
}

// ClearOutcome describes what CompleteClear did.
type ClearOutcome int

// Clear outcomes.
const (
	// ClearApplied means the stored moving flag was reset.
	ClearApplied ClearOutcome = iota
	// ClearSuperseded means a newer increment owns the region; nothing changed.
	ClearSuperseded
)

func (o ClearOutcome) String() string {
	switch o {
	case ClearApplied:
		return "cleared"
	case ClearSuperseded:
		return "superseded"
	default:
		return "unknown"
	}
}
