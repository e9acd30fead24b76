package ingestion_engine

import (
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/markdave123-py/documind/internal/core"
	"github.com/markdave123-py/documind/internal/core/chunker"
)

// IngestConfig tunes the pipeline.
//
// BatchSize:      how many chunks to embed in one provider call (e.g., 32).
// QueueSize:      capacity of the job queue; Enqueue fails fast when it is full.
// PreviewChars:   length of the text preview kept on the document record.
// ProcessTimeout: upper bound for one document from extraction to the final write.
type IngestConfig struct {
	BatchSize      int
	QueueSize      int
	PreviewChars   int
	ProcessTimeout time.Duration
}

// DefaultIngestConfig returns the settings used when a field is left zero.
func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		BatchSize:      32,
		QueueSize:      64,
		PreviewChars:   1000,
		ProcessTimeout: 5 * time.Minute,
	}
}

// passage is the internal representation passed through the pipeline.
type passage = chunker.Passage

// DocumentIngestor orchestrates the background ingestion pipeline:
//
// db:        persistence for documents and chunks.
// obj:       object storage holding raw uploads until they are processed.
// embedder:  embedding provider.
// extractor: text extraction over the supported file types.
// chunker:   sliding-window splitter.
// jobs:      bounded in-memory queue of document IDs.
// inflight:  document IDs queued or being processed; a document is never processed twice at once.
// stopping:  set once the workers shut down; no job is queued after it.
type DocumentIngestor struct {
	db        core.DbClient
	obj       core.ObjectClient
	embedder  core.EmbeddingProvider
	extractor core.TextExtractor
	chunker   *chunker.Chunker
	cfg       IngestConfig
	logger    arbor.ILogger

	jobs chan string
	wg   sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]struct{}
	stopping bool
}
