package loadtest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/wordchain/internal/adapters/http/api"
	service "github.com/okian/wordchain/internal/app"
	"github.com/okian/wordchain/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func newTestServer(t *testing.T, window time.Duration) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	svc := service.New(
		service.WithMovingWindow(window),
		service.WithWorkerCount(2),
		service.WithSweepInterval(20*time.Millisecond),
	)
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start service: %v", err)
	}
	mux := http.NewServeMux()
	api.NewServer(api.Dependencies{
		Scores:  svc,
		Words:   svc.Words(),
		Deduper: svc.Deduper(),
		Stats:   svc,
	}).Register(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		ts.Close()
		_ = svc.Stop(ctx)
	})
	return ts
}

func TestConfigValidate(t *testing.T) {
	Convey("Given load test configs", t, func() {
		valid := func() *Config {
			return &Config{BaseURL: "http://x/", Region: "KR", Requests: 1, Workers: 1, MaxDelta: 1}
		}

		Convey("Then a minimal config gets defaults", func() {
			cfg := valid()
			So(cfg.Validate(), ShouldBeNil)
			So(cfg.BaseURL, ShouldEqual, "http://x")
			So(cfg.Timeout, ShouldEqual, DefaultTimeout)
			So(cfg.PollInterval, ShouldEqual, DefaultPollInterval)
		})

		Convey("Then bad values are rejected", func() {
			for _, mutate := range []func(*Config){
				func(c *Config) { c.BaseURL = " " },
				func(c *Config) { c.Region = "" },
				func(c *Config) { c.Requests = 0 },
				func(c *Config) { c.Workers = 0 },
				func(c *Config) { c.MaxDelta = 0 },
				func(c *Config) { c.DuplicateEvery = -1 },
			} {
				cfg := valid()
				mutate(cfg)
				So(errors.Is(cfg.Validate(), ErrInvalidConfig), ShouldBeTrue)
			}
		})
	})
}

func TestGenerateRequests(t *testing.T) {
	Convey("Given 100 requests with a replay every 10th", t, func() {
		cfg := &Config{Requests: 100, MaxDelta: 3, DuplicateEvery: 10}
		reqs, err := generateRequests(cfg)
		So(err, ShouldBeNil)

		Convey("Then keys are unique, deltas are bounded and non-zero", func() {
			So(reqs, ShouldHaveLength, 100)
			keys := make(map[string]struct{}, len(reqs))
			replays := 0
			for _, r := range reqs {
				keys[r.Key] = struct{}{}
				So(r.Delta, ShouldNotEqual, 0)
				So(r.Delta, ShouldBeBetweenOrEqual, -3, 3)
				if r.Replay {
					replays++
				}
			}
			So(keys, ShouldHaveLength, 100)
			So(replays, ShouldEqual, 10)
		})
	})
}

func TestRun(t *testing.T) {
	Convey("Given a running service", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		ts := newTestServer(t, time.Second)

		Convey("When the load test fires concurrent increments with replays", func() {
			stats, err := Run(ctx, &Config{
				BaseURL:        ts.URL,
				Region:         "KR",
				Requests:       200,
				Workers:        16,
				MaxDelta:       10,
				DuplicateEvery: 5,
				SettleWait:     5 * time.Second,
				PollInterval:   50 * time.Millisecond,
			})

			Convey("Then every delta is applied exactly once and the region settles", func() {
				So(err, ShouldBeNil)
				So(stats.Applied, ShouldEqual, 200)
				So(stats.Replayed, ShouldEqual, 40)
				So(stats.Failed, ShouldEqual, 0)
				So(stats.Submitted, ShouldEqual, 240)
				So(stats.ObservedScore, ShouldEqual, stats.ExpectedScore)
				So(stats.Settled, ShouldBeTrue)
			})

			Convey("And a second run on the same region starts from the first run's score", func() {
				first := stats.ObservedScore
				stats, err := Run(ctx, &Config{
					BaseURL: ts.URL, Region: "KR", Requests: 20, Workers: 4, MaxDelta: 2,
				})
				So(err, ShouldBeNil)
				So(stats.InitialScore, ShouldEqual, first)
				So(stats.ObservedScore, ShouldEqual, stats.ExpectedScore)
			})
		})
	})

	Convey("Given nothing listening", t, func() {
		_, err := Run(context.Background(), &Config{
			BaseURL: "http://127.0.0.1:1", Region: "KR", Requests: 1, Workers: 1, MaxDelta: 1,
			Timeout: time.Second,
		})

		Convey("Then the health check fails", func() {
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "health check")
		})
	})
}
