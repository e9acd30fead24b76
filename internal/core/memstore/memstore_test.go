package memstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/documind/internal/core"
	"github.com/markdave123-py/documind/internal/core/vectorindex"
	"github.com/markdave123-py/documind/internal/models"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s := New(vectorindex.Config{Dim: 2})
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return s
}

func seedDoc(t *testing.T, s *Store, id string) {
	t.Helper()
	require.NoError(t, s.CreateDocument(context.Background(), &models.Document{
		ID: id, FileName: id + ".txt", FileType: models.FileTypeText,
	}))
}

func chunk(doc string, pos int, vec ...float32) models.DocumentChunk {
	return models.DocumentChunk{DocumentID: doc, Position: pos, Text: fmt.Sprintf("%s-%d", doc, pos), Embedding: vec}
}

func TestDocumentLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seedDoc(t, s, "d1")

	got, err := s.GetDocumentByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, models.StateUploaded, got.Status)

	require.NoError(t, s.UpdateDocumentStatus(ctx, "d1", models.StateProcessing, ""))
	pages := 3
	require.NoError(t, s.MarkDocumentProcessed(ctx, "d1", "preview", &pages))

	got, err = s.GetDocumentByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, models.StateProcessed, got.Status)
	assert.Equal(t, "preview", got.Content)
	require.NotNil(t, got.PageCount)
	assert.Equal(t, 3, *got.PageCount)

	_, err = s.GetDocumentByID(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, s.DeleteDocument(ctx, "missing"), core.ErrNotFound)
}

func TestListDocumentsNewestFirstWithPaging(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	for i := 0; i < 5; i++ {
		seedDoc(t, s, fmt.Sprintf("d%d", i))
	}

	all, err := s.ListDocuments(ctx, 0, 100)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "d4", all[0].ID)
	assert.Equal(t, "d0", all[4].ID)

	pageTwo, err := s.ListDocuments(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, pageTwo, 2)
	assert.Equal(t, "d2", pageTwo[0].ID)

	empty, err := s.ListDocuments(ctx, 10, 2)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestInsertChunksAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seedDoc(t, s, "d1")

	err := s.InsertDocumentChunks(ctx, "d1", []models.DocumentChunk{
		chunk("d1", 0, 1, 0),
		chunk("d1", 1, 1, 0, 0), // wrong dimension
	})
	require.ErrorIs(t, err, core.ErrVectorStore)

	n, err := s.CountChunks(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	hits, err := s.SearchChunks(ctx, []float32{1, 0}, 5, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestInsertChunksRequiresDocument(t *testing.T) {
	s := newStore(t)
	err := s.InsertDocumentChunks(context.Background(), "ghost", []models.DocumentChunk{chunk("ghost", 0, 1, 0)})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestDeleteDocumentRemovesChunksFromSearch(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seedDoc(t, s, "d1")
	seedDoc(t, s, "d2")
	require.NoError(t, s.InsertDocumentChunks(ctx, "d1", []models.DocumentChunk{chunk("d1", 0, 1, 0), chunk("d1", 1, 1, 0.1)}))
	require.NoError(t, s.InsertDocumentChunks(ctx, "d2", []models.DocumentChunk{chunk("d2", 0, 0.6, 0.8)}))

	hits, err := s.SearchChunks(ctx, []float32{1, 0}, 5, 0.5)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "d1-0", hits[0].Chunk.Text)

	require.NoError(t, s.DeleteDocument(ctx, "d1"))

	hits, err = s.SearchChunks(ctx, []float32{1, 0}, 5, 0.5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "d2", hits[0].Chunk.DocumentID)

	rows, err := s.GetChunksByDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Empty(t, rows)
	n, _ := s.CountChunks(ctx)
	assert.Equal(t, int64(1), n)
}

func TestDeleteChunksByDocumentKeepsDocument(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seedDoc(t, s, "d1")
	require.NoError(t, s.InsertDocumentChunks(ctx, "d1", []models.DocumentChunk{chunk("d1", 0, 1, 0)}))

	require.NoError(t, s.DeleteChunksByDocument(ctx, "d1"))
	_, err := s.GetDocumentByID(ctx, "d1")
	require.NoError(t, err)
	hits, err := s.SearchChunks(ctx, []float32{1, 0}, 5, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)

	// re-ingest after cleanup is allowed
	require.NoError(t, s.InsertDocumentChunks(ctx, "d1", []models.DocumentChunk{chunk("d1", 0, 1, 0)}))
}

func TestChunksReturnedInIndexOrder(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seedDoc(t, s, "d1")
	require.NoError(t, s.InsertDocumentChunks(ctx, "d1", []models.DocumentChunk{
		chunk("d1", 2, 0, 1), chunk("d1", 0, 1, 0), chunk("d1", 1, 1, 1),
	}))
	rows, err := s.GetChunksByDocument(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for i, r := range rows {
		assert.Equal(t, i, r.Position)
		assert.NotEmpty(t, r.ID)
	}
}

func TestHistoryNewestFirstAndAggregate(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	for i, ms := range []int64{100, 200, 300} {
		require.NoError(t, s.AppendHistory(ctx, &models.HistoryRecord{
			SessionID: "s1", Query: fmt.Sprintf("q%d", i), ResponseTimeMs: ms,
		}))
	}
	require.NoError(t, s.AppendHistory(ctx, &models.HistoryRecord{SessionID: "s2", Query: "other", ResponseTimeMs: 400}))

	recs, err := s.ListHistoryBySession(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "q2", recs[0].Query)
	assert.Equal(t, "q1", recs[1].Query)

	none, err := s.ListHistoryBySession(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	agg, err := s.AggregateHistory(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), agg.TotalQueries)
	assert.InDelta(t, 250.0, agg.AvgResponseTimeMs, 1e-9)
}
