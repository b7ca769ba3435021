// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/okian/wordchain/internal/domain/dedupe"
	"github.com/okian/wordchain/internal/domain/model"
	"github.com/okian/wordchain/internal/domain/types"
	"github.com/okian/wordchain/internal/domain/words"
	"github.com/okian/wordchain/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Scores is the score tracking behind the region endpoints.
type Scores interface {
	ApplyIncrement(ctx context.Context, region string, delta int64) error
	Register(ctx context.Context, region string) (bool, error)
	Leaderboard(ctx context.Context) ([]model.RegionScore, error)
}

// Dependencies required by HTTP handlers. Deduper may be nil to disable
// Idempotency-Key handling.
type Dependencies struct {
	Scores  Scores
	Words   words.Dictionary
	Deduper dedupe.Deduper
	Stats   StatsProvider
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler *HealthHandler
	statsHandler  *StatsHandler
	scoreHandler  *ScoreHandler
	wordHandler   *WordHandler

	logger logger.Logger
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies) *Server {
	log := logger.Get().Named("http")
	return &Server{
		healthHandler: NewHealthHandler(),
		statsHandler:  NewStatsHandler(deps.Stats),
		scoreHandler:  NewScoreHandler(deps.Scores, deps.Deduper, log),
		wordHandler:   NewWordHandler(deps.Words, log),
		logger:        log,
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	s.route(mux, "/healthz", "healthz", s.healthHandler.HandleHealth)
	s.route(mux, "/stats", "stats", s.statsHandler.HandleStats)

	s.route(mux, "/api/addScore", "add_score", s.scoreHandler.HandleAddScore)
	s.route(mux, "/api/registerRegion", "register_region", s.scoreHandler.HandleRegisterRegion)
	s.route(mux, "/api/getLeaderboard", "get_leaderboard", s.scoreHandler.HandleGetLeaderboard)

	s.route(mux, "/api/isExistWord", "is_exist_word", s.wordHandler.HandleIsExistWord)
	s.route(mux, "/api/getNewWord", "get_new_word", s.wordHandler.HandleGetNewWord)
	s.route(mux, "/api/getStartWord", "get_start_word", s.wordHandler.HandleGetStartWord)
}

func (s *Server) route(mux *http.ServeMux, path, endpoint string, h http.HandlerFunc) {
	mux.Handle(path, RequestIDMiddleware(AccessLogMiddleware(s.logger, MetricsMiddleware(h, endpoint))))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil && status < http.StatusInternalServerError {
		msg = err.Error()
	}
	writeJSON(w, status, types.ErrorResponse{Code: code, Message: msg})
}

// allowMethod writes a 405 and returns false unless r uses method.
func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	writeError(w, http.StatusMethodNotAllowed, "method_not_allowed",
		fmt.Errorf("%w: %s", ErrMethodNotAllowed, r.Method))
	return false
}

// decodeJSON reads a single JSON value from the request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// statusFor maps domain errors to an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, model.ErrInvalidRegion),
		errors.Is(err, model.ErrInvalidDelta),
		errors.Is(err, words.ErrInvalidWord):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, model.ErrRegionNotFound):
		return http.StatusNotFound, "region_not_found"
	case errors.Is(err, model.ErrConcurrencyConflict):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// fail writes err using statusFor and logs server-side failures.
func fail(ctx context.Context, log logger.Logger, w http.ResponseWriter, op string, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error(ctx, "request failed", logger.String("op", op), logger.Error(err))
	}
	writeError(w, status, code, err)
}
