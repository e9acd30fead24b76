package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/documind/internal/common"
	"github.com/markdave123-py/documind/internal/core"
	"github.com/markdave123-py/documind/internal/core/chunker"
	"github.com/markdave123-py/documind/internal/models"
)

// NewDocumentIngestor constructs the ingestor with a bounded job queue.
func NewDocumentIngestor(
	db core.DbClient,
	obj core.ObjectClient,
	emb core.EmbeddingProvider,
	extractor core.TextExtractor,
	ch *chunker.Chunker,
	cfg IngestConfig,
	logger arbor.ILogger,
) *DocumentIngestor {
	def := DefaultIngestConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.PreviewChars <= 0 {
		cfg.PreviewChars = def.PreviewChars
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = def.ProcessTimeout
	}
	if logger == nil {
		logger = common.GetLogger()
	}

	return &DocumentIngestor{
		db:        db,
		obj:       obj,
		embedder:  emb,
		extractor: extractor,
		chunker:   ch,
		cfg:       cfg,
		logger:    logger,
		jobs:      make(chan string, cfg.QueueSize),
		inflight:  make(map[string]struct{}),
	}
}

const (
	stoppedReason       = "ingestion stopped before processing"
	resumePageSize      = 500
	resumeRetryInterval = 100 * time.Millisecond
)

// Start runs numWorkers goroutines reading from the jobs channel.
// Each one orchestrates the pipeline that extracts, chunks, embeds and persists docs.
// When ctx is done the workers settle every document still queued as failed.
func (i *DocumentIngestor) Start(ctx context.Context, numWorkers int) {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	i.mu.Lock()
	i.stopping = false
	i.mu.Unlock()

	for w := 1; w <= numWorkers; w++ {
		i.wg.Add(1)
		common.SafeGo(i.logger, "ingest-worker-"+strconv.Itoa(w), func() {
			defer i.wg.Done()
			for {
				select {
				case <-ctx.Done():
					i.drain(ctx)
					i.logger.Debug().Int("worker", w).Msg("ingest worker shutting down")
					return
				case docID := <-i.jobs:
					if ctx.Err() != nil {
						i.abandon(ctx, docID, stoppedReason)
						continue
					}
					i.logger.Info().Str("document_id", docID).Int("worker", w).Msg("processing document")
					i.runJob(ctx, docID)
				}
			}
		})
	}
}

// drain stops the queue and fails whatever is left in it.
func (i *DocumentIngestor) drain(ctx context.Context) {
	i.mu.Lock()
	i.stopping = true
	i.mu.Unlock()

	for {
		select {
		case docID := <-i.jobs:
			i.abandon(ctx, docID, stoppedReason)
		default:
			return
		}
	}
}

// abandon settles a claimed document that will not be processed and releases it.
func (i *DocumentIngestor) abandon(ctx context.Context, docID, reason string) {
	defer i.release(docID)
	i.fail(ctx, docID, reason)

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if doc, err := i.db.GetDocumentByID(wctx, docID); err == nil {
		i.discardUpload(ctx, doc)
	}
}

// Wait blocks until every worker started by Start has returned.
func (i *DocumentIngestor) Wait() {
	i.wg.Wait()
}

// Enqueue schedules a document ID for ingestion without blocking.
func (i *DocumentIngestor) Enqueue(docID string) error {
	if !i.claim(docID) {
		return fmt.Errorf("document %s: %w", docID, core.ErrIngestionInProgress)
	}
	if err := i.send(docID); err != nil {
		i.release(docID)
		return err
	}
	return nil
}

// send queues a claimed document. It holds mu so nothing is queued after drain.
func (i *DocumentIngestor) send(docID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.stopping {
		return fmt.Errorf("document %s: %w", docID, core.ErrIngestorStopped)
	}
	select {
	case i.jobs <- docID:
		return nil
	default:
		return fmt.Errorf("document %s: %w", docID, core.ErrQueueFull)
	}
}

// Resume queues every document a previous run left uploaded or processing.
// Partial chunks of a document caught mid-pipeline are removed first. It waits for
// queue space and fails whatever it could not queue before ctx ends.
func (i *DocumentIngestor) Resume(ctx context.Context) (int, error) {
	var pending []models.Document
	for offset := 0; ; offset += resumePageSize {
		page, err := i.db.ListDocuments(ctx, offset, resumePageSize)
		if err != nil {
			return 0, fmt.Errorf("list documents: %w", err)
		}
		for _, d := range page {
			if !d.Status.Terminal() {
				pending = append(pending, d)
			}
		}
		if len(page) < resumePageSize {
			break
		}
	}

	queued := 0
	for _, d := range pending {
		if !i.claim(d.ID) {
			continue
		}
		if d.Status == models.StateProcessing {
			i.cleanupChunks(ctx, d.ID)
		}
		if err := i.sendWait(ctx, d.ID); err != nil {
			i.abandon(ctx, d.ID, stoppedReason)
			continue
		}
		queued++
	}
	if queued > 0 {
		i.logger.Info().Int("documents", queued).Msg("resumed unsettled documents")
	}
	return queued, nil
}

func (i *DocumentIngestor) sendWait(ctx context.Context, docID string) error {
	for {
		err := i.send(docID)
		if !errors.Is(err, core.ErrQueueFull) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(resumeRetryInterval):
		}
	}
}

// ProcessOne ingests docID on the calling goroutine.
func (i *DocumentIngestor) ProcessOne(ctx context.Context, docID string) error {
	if !i.claim(docID) {
		return fmt.Errorf("document %s: %w", docID, core.ErrIngestionInProgress)
	}
	defer i.release(docID)
	return i.processOne(ctx, docID)
}

func (i *DocumentIngestor) claim(docID string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, busy := i.inflight[docID]; busy {
		return false
	}
	i.inflight[docID] = struct{}{}
	return true
}

func (i *DocumentIngestor) release(docID string) {
	i.mu.Lock()
	delete(i.inflight, docID)
	i.mu.Unlock()
}

// runJob processes one queued document; a panic marks the document failed
// instead of taking the worker down.
func (i *DocumentIngestor) runJob(ctx context.Context, docID string) {
	defer i.release(docID)
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error().Str("document_id", docID).Str("panic", fmt.Sprint(r)).Msg("ingestion panicked")
			i.fail(ctx, docID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	if err := i.processOne(ctx, docID); err != nil {
		i.logger.Warn().Err(err).Str("document_id", docID).Msg("document ingestion failed")
	}
}

// processOne extracts, chunks, embeds and persists a single document.
// Either every chunk is stored and the document becomes processed, or no
// chunk remains and the document becomes failed with a reason.
func (i *DocumentIngestor) processOne(ctx context.Context, docID string) error {
	proctx, cancel := context.WithTimeout(ctx, i.cfg.ProcessTimeout)
	defer cancel()

	doc, err := i.db.GetDocumentByID(proctx, docID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if doc.Status.Terminal() {
		i.logger.Debug().Str("document_id", docID).Str("status", string(doc.Status)).Msg("document already settled, skipping")
		return nil
	}

	// The raw upload is only needed until the document settles.
	defer i.discardUpload(ctx, doc)

	if err := i.db.UpdateDocumentStatus(proctx, docID, models.StateProcessing, ""); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	i.logger.Info().Str("document_id", docID).Str("file", doc.FileName).Msg("document processing")

	start := time.Now()
	extracted, err := i.extractDocument(proctx, doc)
	if err != nil {
		i.fail(ctx, docID, failureReason(err))
		return err
	}

	meta := map[string]string{"file_name": doc.FileName}
	for k, v := range extracted.Metadata {
		meta[k] = v
	}

	var rows []models.DocumentChunk

	// Build an errgroup to tie the pipeline stages together.
	g, gctx := errgroup.WithContext(proctx)

	// text -> chunks (receive-only channel).
	chunkCh := i.streamChunk(gctx, g, extracted.Text)

	// chunks -> embeddings.
	g.Go(func() error {
		return i.embedAndCollect(gctx, doc, chunkCh, i.cfg.BatchSize, meta, &rows)
	})

	// Wait for all stages. Any error cancels the rest.
	if err := g.Wait(); err != nil {
		i.fail(ctx, docID, failureReason(err))
		return err
	}

	if err := i.db.InsertDocumentChunks(proctx, docID, rows); err != nil {
		i.cleanupChunks(ctx, docID)
		i.fail(ctx, docID, failureReason(err))
		return err
	}

	if err := i.db.MarkDocumentProcessed(proctx, docID, preview(extracted.Text, i.cfg.PreviewChars), extracted.PageCount); err != nil {
		i.cleanupChunks(ctx, docID)
		i.fail(ctx, docID, failureReason(err))
		return fmt.Errorf("mark processed: %w", err)
	}

	i.logger.Info().
		Str("document_id", docID).
		Int("chunks", len(rows)).
		Int("elapsed_ms", int(time.Since(start).Milliseconds())).
		Msg("document processed")
	return nil
}

// fail records the failed state. It runs on a context detached from the
// pipeline so a cancelled ingestion still leaves a settled document.
func (i *DocumentIngestor) fail(ctx context.Context, docID, reason string) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := i.db.UpdateDocumentStatus(wctx, docID, models.StateFailed, reason); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			i.logger.Debug().Str("document_id", docID).Msg("document deleted during ingestion")
			return
		}
		i.logger.Error().Err(err).Str("document_id", docID).Msg("could not mark document failed")
		return
	}
	i.logger.Warn().Str("document_id", docID).Str("reason", reason).Msg("document failed")
}

func (i *DocumentIngestor) cleanupChunks(ctx context.Context, docID string) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := i.db.DeleteChunksByDocument(wctx, docID); err != nil {
		i.logger.Error().Err(err).Str("document_id", docID).Msg("could not remove partial chunks")
	}
}

func (i *DocumentIngestor) discardUpload(ctx context.Context, doc *models.Document) {
	if doc.StorageKey == "" {
		return
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := i.obj.DeleteFile(wctx, doc.StorageKey); err != nil {
		i.logger.Warn().Err(err).Str("document_id", doc.ID).Msg("could not delete raw upload")
	}
}

// failureReason is the message stored on a failed document.
func failureReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "processing timed out"
	case errors.Is(err, context.Canceled):
		return "processing cancelled"
	default:
		return err.Error()
	}
}
