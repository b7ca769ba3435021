package pgstore

import (
	"time"

	"github.com/okian/wordchain/internal/domain/model"
)

// Timestamps are unix milliseconds. Field names avoid CreatedAt/UpdatedAt so
// gorm does not manage them itself.
type regionScoreRow struct {
	Region          string `gorm:"column:region;primaryKey;index:idx_region_scores_standing,priority:2"`
	Score           int64  `gorm:"column:score;not null;index:idx_region_scores_standing,priority:1,sort:desc"`
	Moving          bool   `gorm:"column:moving;not null"`
	LastIncrementAt int64  `gorm:"column:last_increment_at;not null;index"`
	CreatedMs       int64  `gorm:"column:created_at;not null"`
	UpdatedMs       int64  `gorm:"column:updated_at;not null"`
}

func (regionScoreRow) TableName() string { return "region_scores" }

func (r regionScoreRow) toModel() model.RegionScore {
	return model.RegionScore{
		Region:          r.Region,
		Score:           r.Score,
		Moving:          r.Moving,
		LastIncrementAt: fromMillis(r.LastIncrementAt),
		CreatedAt:       fromMillis(r.CreatedMs),
		UpdatedAt:       fromMillis(r.UpdatedMs),
	}
}

type clearJobRow struct {
	Region        string `gorm:"column:region;primaryKey"`
	DueAt         int64  `gorm:"column:due_at;not null"`
	IncrementAt   int64  `gorm:"column:increment_at;not null"`
	Status        string `gorm:"column:status;not null;index:idx_clear_jobs_due,priority:1"`
	AttemptCount  int    `gorm:"column:attempt_count;not null"`
	NextAttemptAt int64  `gorm:"column:next_attempt_at;not null;index:idx_clear_jobs_due,priority:2"`
	LastError     string `gorm:"column:last_error;not null"`
	UpdatedMs     int64  `gorm:"column:updated_at;not null"`
}

func (clearJobRow) TableName() string { return "clear_jobs" }

func (r clearJobRow) toModel() model.ClearJob {
	return model.ClearJob{
		Region:        r.Region,
		DueAt:         fromMillis(r.DueAt),
		IncrementAt:   fromMillis(r.IncrementAt),
		Status:        model.ClearJobStatus(r.Status),
		AttemptCount:  r.AttemptCount,
		NextAttemptAt: fromMillis(r.NextAttemptAt),
		LastError:     r.LastError,
		UpdatedAt:     fromMillis(r.UpdatedMs),
	}
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
