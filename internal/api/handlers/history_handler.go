package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ternarybob/arbor"

	"github.com/markdave123-py/documind/internal/services"
)

type HistoryHandler struct {
	history *services.HistoryService
	logger  arbor.ILogger
}

func NewHistoryHandler(history *services.HistoryService, logger arbor.ILogger) *HistoryHandler {
	return &HistoryHandler{history: history, logger: logger}
}

func (h *HistoryHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", services.DefaultHistoryLimit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	records, err := h.history.History(r.Context(), chi.URLParam(r, "session_id"), limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *HistoryHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.history.Stats(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Health reports liveness only; it does not probe dependencies.
func Health(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"service": "DocuMind",
			"version": version,
			"status":  "healthy",
		})
	}
}
