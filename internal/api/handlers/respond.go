package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ternarybob/arbor"

	"github.com/markdave123-py/documind/internal/core"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, core.ErrUnsupportedType):
		return http.StatusBadRequest, "unsupported_type"
	case errors.Is(err, core.ErrInvalidInput), errors.Is(err, core.ErrCorruptInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, core.ErrIngestionInProgress):
		return http.StatusConflict, "ingestion_in_progress"
	case errors.Is(err, core.ErrQueueFull):
		return http.StatusServiceUnavailable, "queue_full"
	case errors.Is(err, core.ErrIngestorStopped):
		return http.StatusServiceUnavailable, "shutting_down"
	case core.IsProviderError(err):
		return http.StatusBadGateway, "provider_failure"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeError(w http.ResponseWriter, logger arbor.ILogger, err error) {
	status, kind := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error().Err(err).Msg("request failed")
		msg = "internal server error"
	}
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind})
}

// intQuery reads a non-negative integer query parameter, returning def when absent.
func intQuery(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.Join(core.ErrInvalidInput, errors.New(name+" must be a non-negative integer"))
	}
	return n, nil
}
