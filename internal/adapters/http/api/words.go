package api

import (
	"net/http"

	"github.com/okian/wordchain/internal/domain/types"
	"github.com/okian/wordchain/internal/domain/words"
	"github.com/okian/wordchain/pkg/logger"
)

const noWordMessage = "no word continues the chain"

// WordHandler handles the word chain endpoints.
type WordHandler struct {
	dict   words.Dictionary
	logger logger.Logger
}

// NewWordHandler creates a word handler over dict.
func NewWordHandler(dict words.Dictionary, log logger.Logger) *WordHandler {
	return &WordHandler{dict: dict, logger: log}
}

// HandleIsExistWord handles POST /api/isExistWord.
func (h *WordHandler) HandleIsExistWord(w http.ResponseWriter, r *http.Request) {
	const op = "api.is_exist_word"
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req types.IsExistWordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(r.Context(), h.logger, w, op, wrapKind(op, ErrBadRequest, err))
		return
	}
	entry, ok, err := h.dict.Lookup(r.Context(), req.Word)
	if err != nil {
		fail(r.Context(), h.logger, w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, types.IsExistWordResponse{ExistWord: ok, Mean: entry.Definition})
}

// HandleGetNewWord handles POST /api/getNewWord.
func (h *WordHandler) HandleGetNewWord(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_new_word"
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req types.GetNewWordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(r.Context(), h.logger, w, op, wrapKind(op, ErrBadRequest, err))
		return
	}
	entry, ok, err := h.dict.Next(r.Context(), req.EndWith, req.UsedWords)
	if err != nil {
		fail(r.Context(), h.logger, w, op, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, types.GetNewWordResponse{Found: false, Messages: []string{noWordMessage}})
		return
	}
	writeJSON(w, http.StatusOK, types.GetNewWordResponse{
		Found:      true,
		NewWord:    entry.Word,
		Definition: entry.Definition,
	})
}

// HandleGetStartWord handles GET /api/getStartWord.
func (h *WordHandler) HandleGetStartWord(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_start_word"
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	entry, err := h.dict.Start(r.Context())
	if err != nil {
		fail(r.Context(), h.logger, w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, types.StartWordResponse{StartWord: entry.Word, Definition: entry.Definition})
}
