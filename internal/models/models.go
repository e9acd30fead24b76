package models

import (
	"time"
)

// DocumentState is the processing state of an uploaded document.
type DocumentState string

const (
	StateUploaded   DocumentState = "uploaded"
	StateProcessing DocumentState = "processing"
	StateProcessed  DocumentState = "processed"
	StateFailed     DocumentState = "failed"
)

// Terminal reports whether no further processing transition is possible.
func (s DocumentState) Terminal() bool {
	return s == StateProcessed || s == StateFailed
}

// FileType is the declared type of an uploaded file.
type FileType string

const (
	FileTypePDF  FileType = "pdf"
	FileTypeDocx FileType = "docx"
	FileTypeXlsx FileType = "xlsx"
	FileTypeText FileType = "text"
)

// Document represents a user-uploaded document.
type Document struct {
	ID         string        `db:"id" json:"id"`
	FileName   string        `db:"file_name" json:"file_name"`
	FileType   FileType      `db:"file_type" json:"file_type"`
	Content    string        `db:"content" json:"content,omitempty"` // preview of the extracted text
	StorageKey string        `db:"storage_key" json:"-"`             // raw bytes while awaiting processing
	FileSize   int64         `db:"file_size" json:"file_size"`
	PageCount  *int          `db:"page_count" json:"page_count"`
	Status     DocumentState `db:"status" json:"status"`
	Error      string        `db:"error" json:"error,omitempty"`
	CreatedAt  time.Time     `db:"created_at" json:"upload_date"`
	UpdatedAt  time.Time     `db:"updated_at" json:"updated_at"`
}

// DocumentChunk represents one text chunk from a document.
type DocumentChunk struct {
	ID         string            `db:"id" json:"id"`
	DocumentID string            `db:"document_id" json:"document_id"`
	Position   int               `db:"position" json:"chunk_index"`
	Text       string            `db:"text" json:"text"`
	Embedding  []float32         `db:"embedding" json:"-"` // pgvector column
	TokenCount int               `db:"token_count" json:"token_count"`
	Metadata   map[string]string `db:"metadata" json:"metadata,omitempty"`
	CreatedAt  time.Time         `db:"created_at" json:"created_at"`
}

// ScoredChunk is a similarity search hit.
type ScoredChunk struct {
	Chunk DocumentChunk
	Score float64
}

// Source attributes part of an answer to a chunk.
type Source struct {
	DocumentID     string  `json:"document_id"`
	ChunkIndex     int     `json:"chunk_index"`
	Score          float64 `json:"similarity_score"`
	ContentPreview string  `json:"content_preview"`
}

// AnswerResult is the outcome of one query.
type AnswerResult struct {
	Answer            string   `json:"answer"`
	Sources           []Source `json:"sources"`
	ResponseTimeMs    int64    `json:"response_time_ms"`
	Cached            bool     `json:"cached"`
	NoRelevantContent bool     `json:"no_relevant_content"`
}

// HistoryRecord is one logged query attempt.
type HistoryRecord struct {
	ID             string    `db:"id" json:"id"`
	SessionID      string    `db:"session_id" json:"session_id"`
	Query          string    `db:"query" json:"query"`
	Response       string    `db:"response" json:"response"`
	Sources        []Source  `db:"sources" json:"sources"`
	Failed         bool      `db:"failed" json:"failed"`
	ResponseTimeMs int64     `db:"response_time_ms" json:"response_time_ms"`
	CreatedAt      time.Time `db:"created_at" json:"timestamp"`
}

// HistoryAggregate is the platform-wide summary of the query log.
type HistoryAggregate struct {
	TotalQueries      int64
	AvgResponseTimeMs float64
}

// Stats are platform statistics computed on demand.
type Stats struct {
	TotalDocuments    int64   `json:"total_documents"`
	TotalChunks       int64   `json:"total_chunks"`
	TotalQueries      int64   `json:"total_queries"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
}

// CacheEntry is an immutable cached answer.
type CacheEntry struct {
	Key       string        `json:"key"`
	Answer    string        `json:"answer"`
	Sources   []Source      `json:"sources"`
	CreatedAt time.Time     `json:"created_at"`
	TTL       time.Duration `json:"ttl"`
}

// Expired reports whether the entry is stale at now.
func (e *CacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.CreatedAt.Add(e.TTL))
}
