package core

import (
	"context"

	"github.com/markdave123-py/documind/internal/models"
)

// DocumentStore persists document records.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	// GetDocumentByID returns ErrNotFound for an unknown id.
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	ListDocuments(ctx context.Context, offset, limit int) ([]models.Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status models.DocumentState, reason string) error
	MarkDocumentProcessed(ctx context.Context, id string, preview string, pageCount *int) error
	// DeleteDocument removes the document and, in the same step, all of its chunks.
	DeleteDocument(ctx context.Context, id string) error
	CountDocuments(ctx context.Context) (int64, error)
}

// VectorStore persists embedded chunks and answers similarity queries.
type VectorStore interface {
	// InsertDocumentChunks stores every chunk of one document or none of them.
	InsertDocumentChunks(ctx context.Context, documentID string, chunks []models.DocumentChunk) error
	DeleteChunksByDocument(ctx context.Context, documentID string) error
	GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error)
	// SearchChunks returns at most k chunks scoring strictly above threshold,
	// by descending cosine similarity, ties by chunk index then document id.
	SearchChunks(ctx context.Context, query []float32, k int, threshold float64) ([]models.ScoredChunk, error)
	CountChunks(ctx context.Context) (int64, error)
}

// HistoryStore is the append-only query log.
type HistoryStore interface {
	AppendHistory(ctx context.Context, rec *models.HistoryRecord) error
	// ListHistoryBySession returns the most recent records first.
	ListHistoryBySession(ctx context.Context, sessionID string, limit int) ([]models.HistoryRecord, error)
	AggregateHistory(ctx context.Context) (models.HistoryAggregate, error)
}

// DbClient defines all persistence operations the services need.
// It abstracts Postgres/pgvector so higher layers never depend on a specific DB.
type DbClient interface {
	DocumentStore
	VectorStore
	HistoryStore
	Close() error
}

// ObjectClient holds raw upload bytes between upload and processing.
type ObjectClient interface {
	UploadFile(ctx context.Context, key string, data []byte, contentType string) (url string, err error)
	GetFile(ctx context.Context, key string) ([]byte, error)
	DeleteFile(ctx context.Context, key string) error
}

// CacheStore is the key-value backing store of the query cache.
// Get returns (nil, nil) on a miss and wraps ErrCacheUnavailable when the store cannot be reached.
type CacheStore interface {
	Get(ctx context.Context, key string) (*models.CacheEntry, error)
	Set(ctx context.Context, entry *models.CacheEntry) error
	DeletePrefix(ctx context.Context, prefix string) error
	Close() error
}
