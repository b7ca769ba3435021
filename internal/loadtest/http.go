package loadtest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/wordchain/internal/adapters/http/api"
	"github.com/okian/wordchain/internal/domain/types"
	"github.com/okian/wordchain/pkg/logger"
)

// HTTPClient wraps http.Client with the service base URL.
type HTTPClient struct {
	client  *http.Client
	baseURL string
}

// newHTTPClient creates a new HTTP client with timeout.
func newHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// get performs a GET request and decodes a JSON body into out when out is non-nil.
func (c *HTTPClient) get(ctx context.Context, path string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, out)
}

// post performs a POST request with a JSON body and optional idempotency key.
func (c *HTTPClient) post(ctx context.Context, path string, body any, key string) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(api.IdempotencyKeyHeader, key)
	}
	return c.do(req, nil)
}

func (c *HTTPClient) do(req *http.Request, out any) (int, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var e types.ErrorResponse
		if json.Unmarshal(body, &e) == nil && e.Code != "" {
			return resp.StatusCode, fmt.Errorf("%s %s: %d %s: %s", req.Method, req.URL.Path, resp.StatusCode, e.Code, e.Message)
		}
		return resp.StatusCode, fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// registerRegion creates the region; an existing region is fine.
func registerRegion(ctx context.Context, c *HTTPClient, region string) error {
	_, err := c.post(ctx, "/api/registerRegion", types.RegisterRegionRequest{Region: region}, "")
	return err
}

// standing finds region in the leaderboard.
func standing(ctx context.Context, c *HTTPClient, region string) (types.LeaderboardEntry, error) {
	var board types.LeaderboardResponse
	if _, err := c.get(ctx, "/api/getLeaderboard", &board); err != nil {
		return types.LeaderboardEntry{}, err
	}
	for _, e := range board.Leaderboard {
		if e.Region == region {
			return e, nil
		}
	}
	return types.LeaderboardEntry{}, fmt.Errorf("region %q missing from leaderboard", region)
}

// submitResult is the per-request outcome.
type submitResult struct {
	applied  bool
	replayed bool
}

// submitRequests sends reqs with cfg.Workers concurrent senders. The sum of
// applied deltas is returned; failed requests are counted, not retried.
func submitRequests(ctx context.Context, cfg *Config, c *HTTPClient, reqs []Request, stats *Stats) (int64, error) {
	log := logger.Get().Named("loadtest")
	log.Info(ctx, "submitting increments",
		logger.Int("requests", len(reqs)),
		logger.Int("workers", cfg.Workers),
		logger.String("region", cfg.Region),
	)

	var (
		sum       atomic.Int64
		submitted atomic.Int64
		applied   atomic.Int64
		replayed  atomic.Int64
		failed    atomic.Int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for _, r := range reqs {
		g.Go(func() error {
			res := submitSingle(gctx, cfg, c, r, log)
			submitted.Add(1)
			switch {
			case res.applied:
				applied.Add(1)
				sum.Add(r.Delta)
			default:
				failed.Add(1)
			}
			if res.replayed {
				submitted.Add(1)
				replayed.Add(1)
			}
			return gctx.Err()
		})
	}
	err := g.Wait()

	stats.Submitted = int(submitted.Load())
	stats.Applied = int(applied.Load())
	stats.Replayed = int(replayed.Load())
	stats.Failed = int(failed.Load())
	return sum.Load(), err
}

// submitSingle sends r and, when r.Replay is set and the first send applied,
// sends it again with the same key.
func submitSingle(ctx context.Context, cfg *Config, c *HTTPClient, r Request, log logger.Logger) submitResult {
	body := types.AddScoreRequest{Region: cfg.Region, Increasement: &r.Delta}
	if _, err := c.post(ctx, "/api/addScore", body, r.Key); err != nil {
		if cfg.Verbose {
			log.Warn(ctx, "increment failed", logger.String("key", r.Key), logger.Error(err))
		}
		return submitResult{}
	}
	res := submitResult{applied: true}
	if !r.Replay {
		return res
	}
	if _, err := c.post(ctx, "/api/addScore", body, r.Key); err != nil {
		if cfg.Verbose {
			log.Warn(ctx, "replay failed", logger.String("key", r.Key), logger.Error(err))
		}
		return res
	}
	res.replayed = true
	return res
}
