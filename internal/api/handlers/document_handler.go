package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ternarybob/arbor"

	"github.com/markdave123-py/documind/internal/core"
	"github.com/markdave123-py/documind/internal/services"
)

const maxUploadBytes = 50 << 20

type DocumentHandler struct {
	docs   *services.DocumentService
	logger arbor.ILogger
}

func NewDocumentHandler(docs *services.DocumentService, logger arbor.ILogger) *DocumentHandler {
	return &DocumentHandler{docs: docs, logger: logger}
}

// UploadDocument stores the file and schedules background processing.
// The optional form field file_type overrides detection from the filename.
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid multipart form: " + err.Error(), Kind: "invalid_input"})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing file field", Kind: "invalid_input"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "could not read upload", Kind: "invalid_input"})
		return
	}

	uploadctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	doc, err := h.docs.Ingest(uploadctx, header.Filename, r.FormValue("file_type"), data)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, doc)
}

func (h *DocumentHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	skip, err := intQuery(r, "skip", 0)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	limit, err := intQuery(r, "limit", services.DefaultListLimit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	docs, err := h.docs.List(r.Context(), skip, limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.docs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, h.logger, core.ErrInvalidInput)
		return
	}
	if err := h.docs.Delete(r.Context(), id); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Document deleted successfully"})
}
