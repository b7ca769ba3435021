package loadtest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/okian/wordchain/pkg/logger"
)

// Run registers cfg.Region, fires the increments and verifies the result.
// The returned stats are filled as far as the run got, also on error.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}
	if err := cfg.Validate(); err != nil {
		return stats, err
	}
	log := logger.Get().Named("loadtest")
	defer func() {
		stats.EndTime = time.Now()
		stats.Duration = stats.EndTime.Sub(stats.StartTime)
	}()

	log.Info(ctx, "starting wordchain load test",
		logger.String("baseURL", cfg.BaseURL),
		logger.String("region", cfg.Region),
		logger.Int("requests", cfg.Requests),
		logger.Int("workers", cfg.Workers),
		logger.Int("duplicateEvery", cfg.DuplicateEvery),
		logger.Duration("settle", cfg.SettleWait),
	)

	client := newHTTPClient(cfg.BaseURL, cfg.Timeout)

	// Step 1: Check service health
	if err := checkServiceHealth(ctx, client); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Register the region and read its starting score
	if err := registerRegion(ctx, client, cfg.Region); err != nil {
		return stats, fmt.Errorf("register region: %w", err)
	}
	entry, err := standing(ctx, client, cfg.Region)
	if err != nil {
		return stats, fmt.Errorf("read initial score: %w", err)
	}
	stats.InitialScore = entry.Score

	// Step 3: Generate and submit increments
	reqs, err := generateRequests(cfg)
	if err != nil {
		return stats, fmt.Errorf("generate requests: %w", err)
	}
	sum, err := submitRequests(ctx, cfg, client, reqs, stats)
	if err != nil {
		return stats, fmt.Errorf("submit requests: %w", err)
	}
	stats.ExpectedScore = stats.InitialScore + sum

	// Step 4: Verify no update was lost or doubled
	if err := verifyScore(ctx, client, cfg, stats); err != nil {
		return stats, err
	}

	// Step 5: Optionally wait for the moving flag to expire
	if cfg.SettleWait > 0 {
		if err := waitSettled(ctx, client, cfg, stats); err != nil {
			return stats, err
		}
	}

	displayFinalStats(ctx, log, stats)
	log.Info(ctx, "load test completed successfully")
	return stats, nil
}

// checkServiceHealth verifies the service answers on /healthz.
func checkServiceHealth(ctx context.Context, c *HTTPClient) error {
	status, err := c.get(ctx, "/healthz", nil)
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", status)
	}
	return nil
}

// displayFinalStats logs the final run statistics.
func displayFinalStats(ctx context.Context, log logger.Logger, stats *Stats) {
	var rps float64
	if stats.Duration > 0 {
		rps = float64(stats.Submitted) / stats.Duration.Seconds()
	} else if d := time.Since(stats.StartTime); d > 0 {
		rps = float64(stats.Submitted) / d.Seconds()
	}
	log.Info(ctx, "final statistics",
		logger.Int("submitted", stats.Submitted),
		logger.Int("applied", stats.Applied),
		logger.Int("replayed", stats.Replayed),
		logger.Int("failed", stats.Failed),
		logger.Int64("initialScore", stats.InitialScore),
		logger.Int64("expectedScore", stats.ExpectedScore),
		logger.Int64("observedScore", stats.ObservedScore),
		logger.Bool("settled", stats.Settled),
		logger.Float64("requestsPerSecond", rps),
	)
}
