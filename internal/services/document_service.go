package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/markdave123-py/documind/internal/common"
	"github.com/markdave123-py/documind/internal/core"
	"github.com/markdave123-py/documind/internal/core/cache"
	"github.com/markdave123-py/documind/internal/core/extraction"
	"github.com/markdave123-py/documind/internal/core/ingestion_engine"
	"github.com/markdave123-py/documind/internal/models"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

var contentTypes = map[models.FileType]string{
	models.FileTypePDF:  "application/pdf",
	models.FileTypeDocx: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	models.FileTypeXlsx: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	models.FileTypeText: "text/plain; charset=utf-8",
}

type DocumentService struct {
	db       core.DbClient
	storage  core.ObjectClient
	ingestor ingestion_engine.Ingestor
	cache    *cache.QueryCache
	logger   arbor.ILogger
}

func NewDocumentService(db core.DbClient, storage core.ObjectClient, ing ingestion_engine.Ingestor, qc *cache.QueryCache, logger arbor.ILogger) *DocumentService {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &DocumentService{db: db, storage: storage, ingestor: ing, cache: qc, logger: logger}
}

// Ingest stores the raw upload, records the document as uploaded and schedules
// background processing. It returns before any extraction happens.
//
// declaredType may be empty, in which case the type comes from the filename extension.
// Unsupported types are rejected here and no document is created.
func (s *DocumentService) Ingest(ctx context.Context, filename, declaredType string, data []byte) (*models.Document, error) {
	filename = filepath.Base(strings.TrimSpace(filename))
	if filename == "" || filename == "." || filename == "/" {
		return nil, fmt.Errorf("%w: filename is required", core.ErrInvalidInput)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: file is empty", core.ErrInvalidInput)
	}

	ft, err := resolveFileType(filename, declaredType)
	if err != nil {
		return nil, err
	}

	docID := uuid.NewString()
	key := s.objectKey(docID, filename)

	if _, err := s.storage.UploadFile(ctx, key, data, contentTypes[ft]); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	now := time.Now().UTC()
	doc := &models.Document{
		ID:         docID,
		FileName:   filename,
		FileType:   ft,
		StorageKey: key,
		FileSize:   int64(len(data)),
		Status:     models.StateUploaded,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.db.CreateDocument(ctx, doc); err != nil {
		s.discardBlob(ctx, key)
		return nil, fmt.Errorf("create document: %w", err)
	}
	s.logger.Info().
		Str("document_id", docID).
		Str("file", filename).
		Str("type", string(ft)).
		Int("bytes", len(data)).
		Msg("document uploaded")

	if err := s.ingestor.Enqueue(docID); err != nil {
		reason := err.Error()
		if uerr := s.db.UpdateDocumentStatus(ctx, docID, models.StateFailed, reason); uerr != nil {
			s.logger.Error().Err(uerr).Str("document_id", docID).Msg("could not mark document failed")
		}
		s.discardBlob(ctx, key)
		s.logger.Warn().Err(err).Str("document_id", docID).Msg("document not scheduled")
		return nil, err
	}
	return doc, nil
}

func (s *DocumentService) Get(ctx context.Context, id string) (*models.Document, error) {
	return s.db.GetDocumentByID(ctx, id)
}

// List returns documents newest first. A non-positive limit means DefaultListLimit.
func (s *DocumentService) List(ctx context.Context, offset, limit int) ([]models.Document, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)
	return s.db.ListDocuments(ctx, offset, limit)
}

// Delete removes the document with all of its chunks and then drops every
// cached answer, since any of them may cite the deleted document.
func (s *DocumentService) Delete(ctx context.Context, id string) error {
	doc, err := s.db.GetDocumentByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.db.DeleteDocument(ctx, id); err != nil {
		return err
	}
	if doc.Status == models.StateUploaded && doc.StorageKey != "" {
		s.discardBlob(ctx, doc.StorageKey)
	}

	if s.cache != nil {
		if err := s.cache.Clear(ctx); err != nil {
			s.logger.Warn().Err(err).Str("document_id", id).Msg("could not clear query cache after delete")
		}
	}
	s.logger.Info().Str("document_id", id).Msg("document deleted")
	return nil
}

func (s *DocumentService) discardBlob(ctx context.Context, key string) {
	if err := s.storage.DeleteFile(ctx, key); err != nil && !errors.Is(err, core.ErrNotFound) {
		s.logger.Warn().Err(err).Str("key", key).Msg("could not delete raw upload")
	}
}

// objectKey creates a consistent object key layout.
func (s *DocumentService) objectKey(docID, filename string) string {
	filename = strings.ReplaceAll(filename, " ", "_")
	return path.Join("documents", docID, filename)
}

func resolveFileType(filename, declared string) (models.FileType, error) {
	if strings.TrimSpace(declared) != "" {
		return extraction.ParseFileType(declared)
	}
	return extraction.FileTypeFromName(filename)
}
