package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/markdave123-py/documind/internal/services"
)

type ChatHandler struct {
	retrieval *services.RetrievalService
	validate  *validator.Validate
	logger    arbor.ILogger
}

func NewChatHandler(retrieval *services.RetrievalService, logger arbor.ILogger) *ChatHandler {
	return &ChatHandler{retrieval: retrieval, validate: validator.New(), logger: logger}
}

type ChatRequest struct {
	Query     string `json:"query" validate:"required,max=4000"`
	SessionID string `json:"session_id" validate:"omitempty,max=255"`
	TopK      int    `json:"top_k" validate:"gte=0,lte=50"`
}

func (h *ChatHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body", Kind: "invalid_input"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Kind: "invalid_input"})
		return
	}

	res, err := h.retrieval.Query(r.Context(), req.Query, req.SessionID, req.TopK)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ClearCache drops every cached answer.
func (h *ChatHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.retrieval.ClearCache(r.Context()); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Cache cleared successfully"})
}

func (h *ChatHandler) CacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.retrieval.CacheStats())
}
