package loadtest

import (
	"os"
)

// ShowHelp prints usage information for the load test tool.
func ShowHelp() {
	_, _ = os.Stdout.WriteString(`Wordchain Load Test Tool
========================

Fires concurrent addScore requests at one region and verifies the final
leaderboard score equals the sum of every accepted delta.

Usage:
  go run ./cmd/loadtest [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -region string
        Region to register and score (default "loadtest")
  -requests int
        Number of distinct increments (default 10000)
  -workers int
        Number of concurrent senders (default CPU cores * 2)
  -max-delta int
        Deltas are drawn from [-max-delta, max-delta] (default 10)
  -duplicate-every int
        Replay every Nth request with the same Idempotency-Key (default 10, 0 disables)
  -settle duration
        Wait up to this long for the region to stop moving (default 0, skip)
  -timeout duration
        HTTP request timeout (default 30s)
  -verbose
        Log every failed request
  -help
        Show this help message

Examples:
  go run ./cmd/loadtest -requests 50000 -workers 32
  go run ./cmd/loadtest -region KR -settle 15s
`)
}
