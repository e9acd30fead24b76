// Package memstore keeps documents, chunks and the query log in process memory.
// Chunk vectors are served by a vectorindex.Index.
package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/documind/internal/core"
	"github.com/markdave123-py/documind/internal/core/vectorindex"
	"github.com/markdave123-py/documind/internal/models"
)

var _ core.DbClient = (*Store)(nil)

// Store implements core.DbClient in memory.
type Store struct {
	mu      sync.RWMutex
	docs    map[string]*models.Document
	chunks  map[string][]models.DocumentChunk
	history []models.HistoryRecord
	index   *vectorindex.Index
	now     func() time.Time
}

// New returns an empty store whose vectors are indexed with cfg.
func New(cfg vectorindex.Config) *Store {
	return &Store{
		docs:   make(map[string]*models.Document),
		chunks: make(map[string][]models.DocumentChunk),
		index:  vectorindex.New(cfg),
		now:    time.Now,
	}
}

func (s *Store) Close() error { return nil }

// ---- documents ----

func (s *Store) CreateDocument(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if _, ok := s.docs[doc.ID]; ok {
		return fmt.Errorf("create document %s: already exists", doc.ID)
	}
	now := s.now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	if doc.Status == "" {
		doc.Status = models.StateUploaded
	}
	cp := *doc
	s.docs[doc.ID] = &cp
	return nil
}

func (s *Store) GetDocumentByID(_ context.Context, id string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	cp := *d
	return &cp, nil
}

// ListDocuments returns newest uploads first.
func (s *Store) ListDocuments(_ context.Context, offset, limit int) ([]models.Document, error) {
	s.mu.RLock()
	all := make([]models.Document, 0, len(s.docs))
	for _, d := range s.docs {
		all = append(all, *d)
	}
	s.mu.RUnlock()

	slices.SortFunc(all, func(a, b models.Document) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return page(all, offset, limit), nil
}

func (s *Store) UpdateDocumentStatus(_ context.Context, id string, status models.DocumentState, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	d.Status = status
	d.Error = reason
	d.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Store) MarkDocumentProcessed(_ context.Context, id string, preview string, pageCount *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	d.Status = models.StateProcessed
	d.Error = ""
	d.Content = preview
	d.PageCount = pageCount
	d.UpdatedAt = s.now().UTC()
	return nil
}

// DeleteDocument removes the document, its chunks and their vectors under one lock.
func (s *Store) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[id]; !ok {
		return fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	delete(s.docs, id)
	delete(s.chunks, id)
	s.index.RemoveDocument(id)
	return nil
}

func (s *Store) CountDocuments(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.docs)), nil
}

// ---- chunks ----

func (s *Store) InsertDocumentChunks(_ context.Context, documentID string, chunks []models.DocumentChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[documentID]; !ok {
		return fmt.Errorf("%w: insert chunks: document %s: %w", core.ErrVectorStore, documentID, core.ErrNotFound)
	}
	if len(s.chunks[documentID]) > 0 {
		return fmt.Errorf("%w: chunks for %s already stored", core.ErrVectorStore, documentID)
	}

	vecs := make(map[int][]float32, len(chunks))
	rows := make([]models.DocumentChunk, len(chunks))
	now := s.now().UTC()
	for i, c := range chunks {
		if c.DocumentID != documentID {
			return fmt.Errorf("%w: chunk %d belongs to %s", core.ErrVectorStore, c.Position, c.DocumentID)
		}
		if _, dup := vecs[c.Position]; dup {
			return fmt.Errorf("%w: duplicate chunk index %d", core.ErrVectorStore, c.Position)
		}
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		vecs[c.Position] = c.Embedding
		rows[i] = c
	}

	if err := s.index.Add(documentID, vecs); err != nil {
		return fmt.Errorf("%w: index: %w", core.ErrVectorStore, err)
	}

	slices.SortFunc(rows, func(a, b models.DocumentChunk) int { return cmp.Compare(a.Position, b.Position) })
	s.chunks[documentID] = rows
	return nil
}

func (s *Store) DeleteChunksByDocument(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.chunks, documentID)
	s.index.RemoveDocument(documentID)
	return nil
}

func (s *Store) GetChunksByDocument(_ context.Context, documentID string) ([]models.DocumentChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.chunks[documentID]), nil
}

func (s *Store) SearchChunks(_ context.Context, query []float32, k int, threshold float64) ([]models.ScoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hits, err := s.index.Search(query, k, threshold)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %w", core.ErrVectorStore, err)
	}

	out := make([]models.ScoredChunk, 0, len(hits))
	for _, h := range hits {
		rows := s.chunks[h.Key.DocumentID]
		i, found := slices.BinarySearchFunc(rows, h.Key.ChunkIndex, func(c models.DocumentChunk, pos int) int {
			return cmp.Compare(c.Position, pos)
		})
		if !found {
			continue
		}
		out = append(out, models.ScoredChunk{Chunk: rows[i], Score: h.Score})
	}
	return out, nil
}

func (s *Store) CountChunks(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, rows := range s.chunks {
		n += int64(len(rows))
	}
	return n, nil
}

// ---- history ----

func (s *Store) AppendHistory(_ context.Context, rec *models.HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	cp := *rec
	cp.Sources = slices.Clone(rec.Sources)
	s.history = append(s.history, cp)
	return nil
}

// ListHistoryBySession walks the log backwards, so records are newest first.
func (s *Store) ListHistoryBySession(_ context.Context, sessionID string, limit int) ([]models.HistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.HistoryRecord
	for i := len(s.history) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		if s.history[i].SessionID == sessionID {
			out = append(out, s.history[i])
		}
	}
	return out, nil
}

func (s *Store) AggregateHistory(_ context.Context) (models.HistoryAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agg := models.HistoryAggregate{TotalQueries: int64(len(s.history))}
	if len(s.history) == 0 {
		return agg, nil
	}
	var sum int64
	for _, r := range s.history {
		sum += r.ResponseTimeMs
	}
	agg.AvgResponseTimeMs = float64(sum) / float64(len(s.history))
	return agg, nil
}

func page[T any](all []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []T{}
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all
}
