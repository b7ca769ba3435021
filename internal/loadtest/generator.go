package loadtest

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// randomDelta returns a non-zero delta in [-maxDelta, maxDelta].
func randomDelta(maxDelta int64) (int64, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(2*maxDelta))
	if err != nil {
		return 0, fmt.Errorf("random delta: %w", err)
	}
	d := n.Int64() - maxDelta // [-max, max-1]
	if d >= 0 {
		d++ // skip zero
	}
	return d, nil
}

// generateRequests builds cfg.Requests increments with unique idempotency
// keys. Every cfg.DuplicateEvery-th request is marked for a replay.
func generateRequests(cfg *Config) ([]Request, error) {
	reqs := make([]Request, 0, cfg.Requests)
	for i := 1; i <= cfg.Requests; i++ {
		d, err := randomDelta(cfg.MaxDelta)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, Request{
			Key:    uuid.NewString(),
			Delta:  d,
			Replay: cfg.DuplicateEvery > 0 && i%cfg.DuplicateEvery == 0,
		})
	}
	return reqs, nil
}
