package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/okian/wordchain/internal/domain/dedupe"
	"github.com/okian/wordchain/internal/domain/types"
	"github.com/okian/wordchain/pkg/logger"
	"github.com/okian/wordchain/pkg/metrics"
)

// IdempotencyKeyHeader makes a repeated addScore call a no-op.
const IdempotencyKeyHeader = "Idempotency-Key"

// ScoreHandler handles the region score endpoints.
type ScoreHandler struct {
	scores  Scores
	deduper dedupe.Deduper
	logger  logger.Logger

	// inflight joins concurrent requests carrying the same Idempotency-Key
	// onto one increment; followers get the leader's result.
	inflight singleflight.Group
}

// NewScoreHandler creates a score handler. deduper may be nil.
func NewScoreHandler(scores Scores, deduper dedupe.Deduper, log logger.Logger) *ScoreHandler {
	return &ScoreHandler{scores: scores, deduper: deduper, logger: log}
}

// HandleAddScore handles POST /api/addScore.
func (h *ScoreHandler) HandleAddScore(w http.ResponseWriter, r *http.Request) {
	const op = "api.add_score"
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req types.AddScoreRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(r.Context(), h.logger, w, op, wrapKind(op, ErrBadRequest, err))
		return
	}
	if req.Increasement == nil {
		fail(r.Context(), h.logger, w, op, wrapKind(op, ErrBadRequest, errors.New("increasement is required")))
		return
	}

	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if key == "" || h.deduper == nil {
		if err := h.scores.ApplyIncrement(r.Context(), req.Region, *req.Increasement); err != nil {
			fail(r.Context(), h.logger, w, op, err)
			return
		}
		writeJSON(w, http.StatusOK, types.Empty{})
		return
	}

	if err := h.applyOnce(r.Context(), key, req.Region, *req.Increasement); err != nil {
		fail(r.Context(), h.logger, w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, types.Empty{})
}

// applyOnce applies the increment at most once per key. The key is recorded
// only after the increment succeeded.
func (h *ScoreHandler) applyOnce(ctx context.Context, key, region string, delta int64) error {
	_, err, _ := h.inflight.Do(key, func() (any, error) {
		if h.deduper.Seen(ctx, key) {
			metrics.RecordDuplicateRequest()
			return nil, nil
		}
		if err := h.scores.ApplyIncrement(ctx, region, delta); err != nil {
			return nil, err
		}
		h.deduper.Record(ctx, key)
		return nil, nil
	})
	return err
}

// HandleRegisterRegion handles POST /api/registerRegion.
func (h *ScoreHandler) HandleRegisterRegion(w http.ResponseWriter, r *http.Request) {
	const op = "api.register_region"
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req types.RegisterRegionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(r.Context(), h.logger, w, op, wrapKind(op, ErrBadRequest, err))
		return
	}
	if _, err := h.scores.Register(r.Context(), req.Region); err != nil {
		fail(r.Context(), h.logger, w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, types.Empty{})
}

// HandleGetLeaderboard handles GET /api/getLeaderboard.
func (h *ScoreHandler) HandleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_leaderboard"
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	rows, err := h.scores.Leaderboard(r.Context())
	if err != nil {
		fail(r.Context(), h.logger, w, op, err)
		return
	}
	resp := types.LeaderboardResponse{Leaderboard: make([]types.LeaderboardEntry, 0, len(rows))}
	for _, row := range rows {
		resp.Leaderboard = append(resp.Leaderboard, types.LeaderboardEntry{
			Region: row.Region,
			Score:  row.Score,
			Moving: row.Moving,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
