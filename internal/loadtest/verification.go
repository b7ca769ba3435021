package loadtest

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Verification failures.
var (
	ErrLostUpdate   = errors.New("score does not match the sum of applied increments")
	ErrNotMoving    = errors.New("region is not moving right after increments")
	ErrNeverSettled = errors.New("region still moving after the settle wait")
)

// verifyScore checks the observed score against the initial score plus every
// applied delta and that the region reports moving.
func verifyScore(ctx context.Context, c *HTTPClient, cfg *Config, stats *Stats) error {
	entry, err := standing(ctx, c, cfg.Region)
	if err != nil {
		return err
	}
	stats.ObservedScore = entry.Score
	if entry.Score != stats.ExpectedScore {
		return fmt.Errorf("%w: expected %d, observed %d (diff %d)",
			ErrLostUpdate, stats.ExpectedScore, entry.Score, entry.Score-stats.ExpectedScore)
	}
	if stats.Applied > 0 && !entry.Moving {
		return ErrNotMoving
	}
	return nil
}

// waitSettled polls until the region stops moving or cfg.SettleWait elapses,
// then checks the score did not change while settling.
func waitSettled(ctx context.Context, c *HTTPClient, cfg *Config, stats *Stats) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.SettleWait)
	defer cancel()

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		entry, err := standing(ctx, c, cfg.Region)
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return ErrNeverSettled
		case err != nil:
			return err
		case !entry.Moving:
			stats.Settled = true
			if entry.Score != stats.ExpectedScore {
				return fmt.Errorf("%w: score changed to %d while settling", ErrLostUpdate, entry.Score)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ErrNeverSettled
		case <-ticker.C:
		}
	}
}
