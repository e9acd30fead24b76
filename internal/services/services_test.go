package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/documind/internal/common"
	"github.com/markdave123-py/documind/internal/core"
	"github.com/markdave123-py/documind/internal/core/cache"
	"github.com/markdave123-py/documind/internal/core/chunker"
	"github.com/markdave123-py/documind/internal/core/extraction"
	"github.com/markdave123-py/documind/internal/core/ingestion_engine"
	"github.com/markdave123-py/documind/internal/core/memstore"
	objectclient "github.com/markdave123-py/documind/internal/core/object-client"
	"github.com/markdave123-py/documind/internal/core/vectorindex"
	"github.com/markdave123-py/documind/internal/models"
)

const dim = 4

// at returns a unit vector whose cosine with (1,0,0,0) is s.
func at(s float64) []float32 {
	return []float32{float32(s), float32(math.Sqrt(1 - s*s)), 0, 0}
}

// tableEmbedder serves fixed vectors by text and a fallback for anything else.
type tableEmbedder struct {
	mu       sync.Mutex
	table    map[string][]float32
	fallback []float32
}

func newTableEmbedder() *tableEmbedder {
	return &tableEmbedder{table: map[string][]float32{}, fallback: []float32{0, 0, 0, 1}}
}

func (e *tableEmbedder) set(text string, v []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.table[text] = v
}

func (e *tableEmbedder) Dimension() int { return dim }

func (e *tableEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := e.table[t]; ok {
			out[i] = v
		} else {
			out[i] = e.fallback
		}
	}
	return out, nil
}

// countingLLM counts calls; the first failFirst calls fail.
type countingLLM struct {
	calls     atomic.Int32
	failFirst int32
	delay     time.Duration
	gate      chan struct{}
	prompts   []string
	mu        sync.Mutex
}

func (l *countingLLM) Generate(ctx context.Context, _ string, userPrompt string) (string, error) {
	n := l.calls.Add(1)
	l.mu.Lock()
	l.prompts = append(l.prompts, userPrompt)
	l.mu.Unlock()

	if l.gate != nil {
		select {
		case <-l.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if l.delay > 0 {
		select {
		case <-time.After(l.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if n <= l.failFirst {
		return "", &core.ProviderError{Provider: "test", Op: "generate", Transient: false, Err: errors.New("model overloaded")}
	}
	return fmt.Sprintf("  answer #%d  ", n), nil
}

type stack struct {
	db        *memstore.Store
	obj       *objectclient.MemoryClient
	ingestor  *ingestion_engine.DocumentIngestor
	docs      *DocumentService
	retrieval *RetrievalService
	history   *HistoryService
	emb       *tableEmbedder
	llm       *countingLLM
}

func newStack(t *testing.T, queueSize int) *stack {
	t.Helper()
	logger := common.GetLogger()

	ch, err := chunker.New(1000, 200)
	require.NoError(t, err)

	st := &stack{
		db:  memstore.New(vectorindex.Config{Dim: dim}),
		obj: objectclient.NewMemoryClient(),
		emb: newTableEmbedder(),
		llm: &countingLLM{},
	}
	qc := cache.New(cache.NewMemoryStore(), time.Hour, logger)
	st.ingestor = ingestion_engine.NewDocumentIngestor(st.db, st.obj, st.emb, extraction.NewRegistry(), ch,
		ingestion_engine.IngestConfig{BatchSize: 4, QueueSize: queueSize}, logger)
	st.docs = NewDocumentService(st.db, st.obj, st.ingestor, qc, logger)
	st.retrieval = NewRetrievalService(st.db, st.emb, st.llm, qc, RetrievalConfig{TopK: 5, Threshold: 0.7}, logger)
	st.history = NewHistoryService(st.db)
	return st
}

// seed stores one chunk per score for docID directly in the vector store.
func (st *stack) seed(t *testing.T, docID string, scores ...float64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.db.CreateDocument(ctx, &models.Document{ID: docID, FileName: docID + ".txt", FileType: models.FileTypeText, Status: models.StateProcessed}))

	rows := make([]models.DocumentChunk, len(scores))
	for i, s := range scores {
		rows[i] = models.DocumentChunk{DocumentID: docID, Position: i, Text: fmt.Sprintf("%s section %d", docID, i), Embedding: at(s)}
	}
	require.NoError(t, st.db.InsertDocumentChunks(ctx, docID, rows))
}

// numberedText is n characters made of zero-padded counters, so every window is distinct.
func numberedText(n int) string {
	var sb strings.Builder
	for i := 0; sb.Len() < n; i++ {
		fmt.Fprintf(&sb, "%05d", i)
	}
	return sb.String()[:n]
}

func TestEndToEndUploadQueryDelete(t *testing.T) {
	st := newStack(t, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		st.ingestor.Wait()
	}()
	st.ingestor.Start(ctx, 2)

	text := numberedText(5000)
	ch, err := chunker.New(1000, 200)
	require.NoError(t, err)
	passages := ch.Chunk(text)
	require.Len(t, passages, 6)
	for i, s := range []float64{0.91, 0.85, 0.80, 0.5, 0.3, 0.1} {
		st.emb.set(passages[i].Text, at(s))
	}
	st.emb.set("vacation policy", []float32{1, 0, 0, 0})

	doc, err := st.docs.Ingest(ctx, "handbook.txt", "", []byte(text))
	require.NoError(t, err)
	assert.Equal(t, models.StateUploaded, doc.Status)
	assert.Equal(t, models.FileTypeText, doc.FileType)

	require.Eventually(t, func() bool {
		d, err := st.docs.Get(ctx, doc.ID)
		return err == nil && d.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	got, err := st.docs.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, models.StateProcessed, got.Status, got.Error)
	chunks, err := st.db.GetChunksByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 6)
	for _, c := range chunks {
		assert.Len(t, c.Embedding, dim)
	}

	first, err := st.retrieval.Query(ctx, "vacation policy", "s1", 3)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.False(t, first.NoRelevantContent)
	assert.Equal(t, "answer #1", first.Answer)
	require.Len(t, first.Sources, 3)
	for i, want := range []float64{0.91, 0.85, 0.80} {
		assert.InDelta(t, want, first.Sources[i].Score, 1e-4)
		assert.Equal(t, i, first.Sources[i].ChunkIndex)
		assert.Equal(t, doc.ID, first.Sources[i].DocumentID)
		assert.True(t, strings.HasSuffix(first.Sources[i].ContentPreview, "..."))
		assert.Len(t, []rune(first.Sources[i].ContentPreview), 203)
	}

	again, err := st.retrieval.Query(ctx, "  Vacation   POLICY ", "s1", 3)
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Equal(t, first.Answer, again.Answer)
	assert.Equal(t, first.Sources, again.Sources)
	assert.EqualValues(t, 1, st.llm.calls.Load())

	require.NoError(t, st.docs.Delete(ctx, doc.ID))
	_, err = st.docs.Get(ctx, doc.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	after, err := st.retrieval.Query(ctx, "vacation policy", "s1", 3)
	require.NoError(t, err)
	assert.True(t, after.NoRelevantContent)
	assert.False(t, after.Cached)
	assert.Empty(t, after.Sources)
	assert.Equal(t, NoRelevantContentAnswer, after.Answer)
	assert.EqualValues(t, 1, st.llm.calls.Load(), "no generation without context")

	hist, err := st.history.History(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, NoRelevantContentAnswer, hist[0].Response)
	assert.Equal(t, "answer #1", hist[2].Response)

	stats, err := st.history.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalDocuments)
	assert.Zero(t, stats.TotalChunks)
	assert.EqualValues(t, 3, stats.TotalQueries)
}

func TestPromptCarriesRankedContextBlocks(t *testing.T) {
	st := newStack(t, 1)
	st.seed(t, "doc-a", 0.95, 0.75)
	st.emb.set("q", []float32{1, 0, 0, 0})

	_, err := st.retrieval.Query(context.Background(), "q", "", 0)
	require.NoError(t, err)

	require.Len(t, st.llm.prompts, 1)
	p := st.llm.prompts[0]
	assert.Contains(t, p, "[Document doc-a, Section 0]\ndoc-a section 0\n\n[Document doc-a, Section 1]\ndoc-a section 1")
	assert.True(t, strings.HasSuffix(p, "Question: q\n\nAnswer:"))
}

func TestConcurrentIdenticalQueriesGenerateOnce(t *testing.T) {
	st := newStack(t, 1)
	st.seed(t, "doc-a", 0.9)
	st.emb.set("holiday rules", []float32{1, 0, 0, 0})
	st.llm.delay = 50 * time.Millisecond

	const n = 10
	results := make([]*models.AnswerResult, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := st.retrieval.Query(context.Background(), "holiday rules", "s", 3)
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, st.llm.calls.Load())
	fresh := 0
	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, "answer #1", r.Answer)
		if !r.Cached {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)
}

func TestProviderFailureIsNotCached(t *testing.T) {
	st := newStack(t, 1)
	st.seed(t, "doc-a", 0.9)
	st.emb.set("q", []float32{1, 0, 0, 0})
	st.llm.failFirst = 1
	ctx := context.Background()

	_, err := st.retrieval.Query(ctx, "q", "s", 3)
	require.Error(t, err)
	assert.True(t, core.IsProviderError(err))

	res, err := st.retrieval.Query(ctx, "q", "s", 3)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, "answer #2", res.Answer)

	hist, err := st.history.History(ctx, "s", 10)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.False(t, hist[0].Failed)
	assert.True(t, hist[1].Failed)
}

func TestTopKParticipatesInCacheKey(t *testing.T) {
	st := newStack(t, 1)
	st.seed(t, "doc-a", 0.9, 0.8)
	st.emb.set("q", []float32{1, 0, 0, 0})
	ctx := context.Background()

	one, err := st.retrieval.Query(ctx, "q", "s", 1)
	require.NoError(t, err)
	two, err := st.retrieval.Query(ctx, "q", "s", 2)
	require.NoError(t, err)

	assert.Len(t, one.Sources, 1)
	assert.Len(t, two.Sources, 2)
	assert.False(t, two.Cached)
	assert.EqualValues(t, 2, st.llm.calls.Load())
}

func TestClearCacheForcesRegeneration(t *testing.T) {
	st := newStack(t, 1)
	st.seed(t, "doc-a", 0.9)
	st.emb.set("q", []float32{1, 0, 0, 0})
	ctx := context.Background()

	_, err := st.retrieval.Query(ctx, "q", "s", 3)
	require.NoError(t, err)
	require.NoError(t, st.retrieval.ClearCache(ctx))

	res, err := st.retrieval.Query(ctx, "q", "s", 3)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.EqualValues(t, 2, st.llm.calls.Load())
}

func TestDeleteDuringGenerationDoesNotCacheStaleAnswer(t *testing.T) {
	st := newStack(t, 1)
	st.seed(t, "doc-a", 0.9)
	st.emb.set("q", []float32{1, 0, 0, 0})
	st.llm.gate = make(chan struct{})
	ctx := context.Background()

	type out struct {
		res *models.AnswerResult
		err error
	}
	done := make(chan out, 1)
	go func() {
		res, err := st.retrieval.Query(ctx, "q", "s", 3)
		done <- out{res, err}
	}()
	require.Eventually(t, func() bool { return st.llm.calls.Load() == 1 }, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, st.docs.Delete(ctx, "doc-a"))
	close(st.llm.gate)

	inflight := <-done
	require.NoError(t, inflight.err)
	assert.Len(t, inflight.res.Sources, 1, "the query started before the delete still answers")

	after, err := st.retrieval.Query(ctx, "q", "s", 3)
	require.NoError(t, err)
	assert.False(t, after.Cached)
	assert.True(t, after.NoRelevantContent)
	assert.Empty(t, after.Sources)
	assert.EqualValues(t, 1, st.llm.calls.Load())
}

func TestQueryValidation(t *testing.T) {
	st := newStack(t, 1)
	ctx := context.Background()

	_, err := st.retrieval.Query(ctx, "   ", "s", 3)
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = st.retrieval.Query(ctx, "q", "s", MaxTopK+1)
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = st.history.History(ctx, "", 10)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestIngestRejectsUnsupportedType(t *testing.T) {
	st := newStack(t, 1)
	ctx := context.Background()

	_, err := st.docs.Ingest(ctx, "slides.pptx", "", []byte("deck"))
	require.ErrorIs(t, err, core.ErrUnsupportedType)

	n, err := st.db.CountDocuments(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, st.obj.Len())

	_, err = st.docs.Ingest(ctx, "notes.txt", "", nil)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestIngestDeclaredTypeWins(t *testing.T) {
	st := newStack(t, 1)
	doc, err := st.docs.Ingest(context.Background(), "export.bin", "txt", []byte("plain words"))
	require.NoError(t, err)
	assert.Equal(t, models.FileTypeText, doc.FileType)
	assert.Equal(t, "documents/"+doc.ID+"/export.bin", doc.StorageKey)
}

func TestIngestQueueFullMarksDocumentFailed(t *testing.T) {
	st := newStack(t, 1)
	ctx := context.Background()

	_, err := st.docs.Ingest(ctx, "a.txt", "", []byte("first"))
	require.NoError(t, err)
	_, err = st.docs.Ingest(ctx, "b.txt", "", []byte("second"))
	require.ErrorIs(t, err, core.ErrQueueFull)

	docs, err := st.docs.List(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	states := map[string]models.DocumentState{}
	for _, d := range docs {
		states[d.FileName] = d.Status
	}
	assert.Equal(t, models.StateUploaded, states["a.txt"])
	assert.Equal(t, models.StateFailed, states["b.txt"])
	assert.Equal(t, 1, st.obj.Len())
}

func TestDeleteUnknownDocument(t *testing.T) {
	st := newStack(t, 1)
	assert.ErrorIs(t, st.docs.Delete(context.Background(), "missing"), core.ErrNotFound)
}

func TestPreviewText(t *testing.T) {
	assert.Equal(t, "short", previewText("short", 200))
	assert.Equal(t, "ab...", previewText("abc", 2))
	assert.Equal(t, "żó...", previewText("żółw", 2))
}
