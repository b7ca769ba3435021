package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/wordchain/internal/loadtest"
	"github.com/okian/wordchain/pkg/logger"
)

const (
	defaultWorkers        = 2 // multiplier for runtime.NumCPU()
	defaultDuplicateEvery = 10
	defaultTestTimeout    = 10 * time.Minute
)

func main() {
	var (
		baseURL        = flag.String("url", "http://localhost:9080", "Base URL of the service")
		region         = flag.String("region", loadtest.DefaultRegion, "Region to register and score")
		requests       = flag.Int("requests", loadtest.DefaultRequests, "Number of distinct increments")
		workers        = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent senders")
		maxDelta       = flag.Int64("max-delta", loadtest.DefaultMaxDelta, "Deltas are drawn from [-max-delta, max-delta]")
		duplicateEvery = flag.Int("duplicate-every", defaultDuplicateEvery, "Replay every Nth request with the same Idempotency-Key")
		settle         = flag.Duration("settle", 0, "Wait up to this long for the region to stop moving")
		timeout        = flag.Duration("timeout", loadtest.DefaultTimeout, "HTTP request timeout")
		logFormat      = flag.String("log-format", "text", "Log format: text or json")
		verbose        = flag.Bool("verbose", false, "Log every failed request")
		help           = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		loadtest.ShowHelp()
		return
	}

	if err := logger.Init(logger.WithFormat(*logFormat)); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTestTimeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := &loadtest.Config{
		BaseURL:        *baseURL,
		Region:         *region,
		Requests:       *requests,
		Workers:        *workers,
		MaxDelta:       *maxDelta,
		DuplicateEvery: *duplicateEvery,
		Timeout:        *timeout,
		SettleWait:     *settle,
		Verbose:        *verbose,
	}
	if _, err := loadtest.Run(ctx, cfg); err != nil {
		os.Stderr.WriteString("Load test failed: " + err.Error() + "\n")
		stop()
		cancel()
		os.Exit(1)
	}
}
