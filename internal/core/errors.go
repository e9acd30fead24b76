package core

import (
	"errors"
	"fmt"
)

// Domain errors shared by every layer.
var (
	// ErrNotFound indicates a requested document or session does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnsupportedType indicates a file type with no extractor.
	ErrUnsupportedType = errors.New("unsupported file type")

	// ErrCorruptInput indicates the extractor could not parse the file.
	ErrCorruptInput = errors.New("corrupt input")

	// ErrVectorStore indicates a persistence or search failure in the vector store.
	ErrVectorStore = errors.New("vector store failure")

	// ErrCacheUnavailable indicates the cache backing store cannot be reached.
	// Queries degrade to direct computation.
	ErrCacheUnavailable = errors.New("cache unavailable")

	// ErrNoRelevantContent indicates the similarity search matched nothing.
	ErrNoRelevantContent = errors.New("no relevant content found")

	// ErrIngestionInProgress indicates the document is already being ingested.
	ErrIngestionInProgress = errors.New("ingestion already in progress")

	// ErrQueueFull indicates the ingestion queue cannot accept more work.
	ErrQueueFull = errors.New("ingestion queue full")

	// ErrIngestorStopped indicates the ingestion workers have shut down.
	ErrIngestorStopped = errors.New("ingestion stopped")

	// ErrDimensionMismatch indicates an embedding of the wrong length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrInvalidInput indicates malformed caller input.
	ErrInvalidInput = errors.New("invalid input")
)

// ExtractionError is fatal to the ingestion of one document only.
type ExtractionError struct {
	FileType string
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.FileType, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// ProviderError wraps an embedding or generation upstream failure.
type ProviderError struct {
	Provider  string
	Op        string
	Transient bool
	Err       error
}

func (e *ProviderError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s %s (%s): %v", e.Provider, e.Op, kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable provider failure.
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return false
}

// IsProviderError reports whether err originated from an upstream provider.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// ConfigurationError reports an invalid setting. It is fatal at startup.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}
