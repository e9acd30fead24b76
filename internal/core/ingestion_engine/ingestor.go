package ingestion_engine

import "context"

type Ingestor interface {
	Start(ctx context.Context, numWorkers int)
	// Enqueue schedules a document without blocking.
	// It fails with core.ErrIngestionInProgress or core.ErrQueueFull.
	Enqueue(docID string) error
	// Resume queues documents a previous run left unsettled.
	Resume(ctx context.Context) (int, error)
	// ProcessOne ingests a document on the calling goroutine.
	ProcessOne(ctx context.Context, docID string) error
	// Wait blocks until every worker has exited.
	Wait()
}

var _ Ingestor = (*DocumentIngestor)(nil)
