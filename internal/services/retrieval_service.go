package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/markdave123-py/documind/internal/common"
	"github.com/markdave123-py/documind/internal/core"
	"github.com/markdave123-py/documind/internal/core/cache"
	"github.com/markdave123-py/documind/internal/models"
)

const (
	DefaultSessionID = "default"
	MaxTopK          = 50
)

type RetrievalConfig struct {
	TopK      int
	Threshold float64
	CacheTTL  time.Duration
}

// RetrievalService answers questions from the stored chunks.
type RetrievalService struct {
	db       core.DbClient
	embedder core.EmbeddingProvider
	llm      core.LLMProvider
	cache    *cache.QueryCache
	cfg      RetrievalConfig
	logger   arbor.ILogger
	now      func() time.Time
}

func NewRetrievalService(db core.DbClient, emb core.EmbeddingProvider, llm core.LLMProvider, qc *cache.QueryCache, cfg RetrievalConfig, logger arbor.ILogger) *RetrievalService {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if logger == nil {
		logger = common.GetLogger()
	}
	return &RetrievalService{db: db, embedder: emb, llm: llm, cache: qc, cfg: cfg, logger: logger, now: time.Now}
}

// Query answers query from the topK most similar chunks.
//
// Identical concurrent queries share one generation. Every attempt, including a
// failed one, is appended to the session history. Provider failures are returned
// to the caller and never cached.
func (s *RetrievalService) Query(ctx context.Context, query, sessionID string, topK int) (*models.AnswerResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", core.ErrInvalidInput)
	}
	if sessionID = strings.TrimSpace(sessionID); sessionID == "" {
		sessionID = DefaultSessionID
	}
	if topK <= 0 {
		topK = s.cfg.TopK
	}
	if topK > MaxTopK {
		return nil, fmt.Errorf("%w: top_k must be at most %d", core.ErrInvalidInput, MaxTopK)
	}

	start := s.now()
	key := cache.Key(query, topK)

	v, cached, err := s.cache.GetOrCompute(ctx, key, s.cfg.CacheTTL, func(ctx context.Context) (cache.Value, error) {
		return s.compute(ctx, query, topK)
	})
	elapsed := s.now().Sub(start).Milliseconds()

	noRelevant := errors.Is(err, core.ErrNoRelevantContent)
	if noRelevant {
		v, cached, err = cache.Value{Answer: NoRelevantContentAnswer}, false, nil
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Int("elapsed_ms", int(elapsed)).Msg("query failed")
		s.record(ctx, &models.HistoryRecord{
			SessionID:      sessionID,
			Query:          query,
			Response:       err.Error(),
			Sources:        []models.Source{},
			Failed:         true,
			ResponseTimeMs: elapsed,
		})
		return nil, err
	}

	res := &models.AnswerResult{
		Answer:            v.Answer,
		Sources:           v.Sources,
		ResponseTimeMs:    elapsed,
		Cached:            cached,
		NoRelevantContent: noRelevant,
	}
	if res.Sources == nil {
		res.Sources = []models.Source{}
	}

	s.logger.Info().
		Str("session_id", sessionID).
		Str("cache", hitOrMiss(res.Cached)).
		Int("sources", len(res.Sources)).
		Int("elapsed_ms", int(elapsed)).
		Msg("query answered")

	s.record(ctx, &models.HistoryRecord{
		SessionID:      sessionID,
		Query:          query,
		Response:       res.Answer,
		Sources:        res.Sources,
		ResponseTimeMs: elapsed,
	})
	return res, nil
}

// compute is the cache-miss path: embed, search, generate.
// An empty search result short-circuits generation with core.ErrNoRelevantContent,
// so it is never stored and every coalesced caller sees it.
func (s *RetrievalService) compute(ctx context.Context, query string, topK int) (cache.Value, error) {
	vecs, err := s.embedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		return cache.Value{}, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return cache.Value{}, fmt.Errorf("embed query: got %d vectors", len(vecs))
	}

	hits, err := s.db.SearchChunks(ctx, vecs[0], topK, s.cfg.Threshold)
	if err != nil {
		return cache.Value{}, fmt.Errorf("search chunks: %w", err)
	}
	if len(hits) == 0 {
		s.logger.Debug().Str("query", query).Msg("no chunk above similarity threshold")
		return cache.Value{}, core.ErrNoRelevantContent
	}

	answer, err := s.llm.Generate(ctx, systemPrompt, buildUserPrompt(query, hits))
	if err != nil {
		return cache.Value{}, fmt.Errorf("generate answer: %w", err)
	}

	return cache.Value{Answer: strings.TrimSpace(answer), Sources: toSources(hits)}, nil
}

// ClearCache drops every cached answer.
func (s *RetrievalService) ClearCache(ctx context.Context) error {
	return s.cache.Clear(ctx)
}

// CacheStats exposes the query cache counters.
func (s *RetrievalService) CacheStats() cache.Stats {
	return s.cache.Stats()
}

// record appends to the history log. The query result stands even if the write fails.
func (s *RetrievalService) record(ctx context.Context, rec *models.HistoryRecord) {
	rec.ID = uuid.NewString()
	rec.CreatedAt = s.now().UTC()

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.db.AppendHistory(wctx, rec); err != nil {
		s.logger.Warn().Err(err).Str("session_id", rec.SessionID).Msg("could not append query history")
	}
}

func hitOrMiss(cached bool) string {
	if cached {
		return "hit"
	}
	return "miss"
}
