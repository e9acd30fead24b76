package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/markdave123-py/documind/internal/config"
	"github.com/markdave123-py/documind/internal/core"
	"github.com/markdave123-py/documind/internal/core/cache"
	"github.com/markdave123-py/documind/internal/core/chunker"
	db "github.com/markdave123-py/documind/internal/core/database"
	"github.com/markdave123-py/documind/internal/core/extraction"
	"github.com/markdave123-py/documind/internal/core/ingestion_engine"
	"github.com/markdave123-py/documind/internal/core/llm"
	"github.com/markdave123-py/documind/internal/core/memstore"
	objectclient "github.com/markdave123-py/documind/internal/core/object-client"
	"github.com/markdave123-py/documind/internal/core/vectorindex"
	"github.com/markdave123-py/documind/internal/services"
)

const cacheJanitorInterval = 5 * time.Minute

// App holds every long-lived dependency. It is built once and closed on termination.
type App struct {
	Config       *config.Config
	Logger       arbor.ILogger
	DBClient     core.DbClient
	ObjectClient core.ObjectClient
	Cache        *cache.QueryCache
	DocProcessor *ingestion_engine.DocumentIngestor

	Documents *services.DocumentService
	Retrieval *services.RetrievalService
	History   *services.HistoryService

	closers []io.Closer
}

func NewApp(ctx context.Context, cfg *config.Config, logger arbor.ILogger) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	a := &App{Config: cfg, Logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	dbClient, err := newStore(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBClient = dbClient
	a.closers = append(a.closers, dbClient)
	logger.Info().Str("backend", cfg.StorageBackend).Msg("Database initialized and ready.")

	objClient, err := newObjectClient(appCtx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.ObjectClient = objClient
	logger.Info().Str("backend", cfg.ObjectBackend).Msg("Object client initialized and ready.")

	cacheStore, err := newCacheStore(cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, cacheStore)
	a.Cache = cache.New(cacheStore, cfg.CacheTTL, logger)

	policy := llm.NewDefaultRetryPolicy()
	policy.Timeout = cfg.ProviderTimeout
	policy.MaxRetries = cfg.ProviderMaxRetries
	limiter := llm.NewLimiter(cfg.ProviderRPS)

	embedder, err := a.newEmbedder(appCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the embedder: %w", err)
	}
	embedder = llm.NewResilientEmbedder(embedder, cfg.EmbedProvider, policy, limiter, logger)

	generator, err := a.newGenerator(appCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the generator: %w", err)
	}
	generator = llm.NewResilientLLM(generator, cfg.GenProvider, policy, limiter, logger)

	ch, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	logger.Info().Int("chunk_size", ch.Size()).Int("chunk_overlap", ch.Overlap()).Msg("Chunker configured.")

	a.DocProcessor = ingestion_engine.NewDocumentIngestor(dbClient, objClient, embedder, extraction.NewRegistry(), ch,
		ingestion_engine.IngestConfig{
			BatchSize: cfg.EmbedBatchSize,
			QueueSize: cfg.IngestQueueSize,
		}, logger)

	a.Documents = services.NewDocumentService(dbClient, objClient, a.DocProcessor, a.Cache, logger)
	a.Retrieval = services.NewRetrievalService(dbClient, embedder, generator, a.Cache, services.RetrievalConfig{
		TopK:      cfg.TopK,
		Threshold: cfg.SimilarityThreshold,
		CacheTTL:  cfg.CacheTTL,
	}, logger)
	a.History = services.NewHistoryService(dbClient)

	ok = true
	return a, nil
}

// Start launches the ingestion workers and cache eviction. They stop when ctx is done.
func (a *App) Start(ctx context.Context) {
	a.DocProcessor.Start(ctx, a.Config.IngestWorkers)
	a.Cache.StartJanitor(ctx, cacheJanitorInterval)
	a.Logger.Info().Int("workers", a.Config.IngestWorkers).Msg("ingestion workers started")
}

// ResumeIngestion queues the documents a previous server run left unsettled.
// Serve calls it once the workers run. One-shot CLI commands do not.
func (a *App) ResumeIngestion(ctx context.Context) {
	n, err := a.DocProcessor.Resume(ctx)
	if err != nil {
		a.Logger.Error().Err(err).Msg("could not resume unsettled documents")
		return
	}
	a.Logger.Info().Int("documents", n).Msg("unsettled documents queued")
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("close failed")
		}
	}
	a.closers = nil
}

func newStore(ctx context.Context, cfg *config.Config) (core.DbClient, error) {
	switch cfg.StorageBackend {
	case "memory":
		return memstore.New(vectorindex.Config{
			Dim:      cfg.EmbedDim,
			Lists:    cfg.IVFLists,
			Probes:   cfg.IVFProbes,
			MinTrain: cfg.IVFMinTrain,
		}), nil
	case "postgres":
		return db.NewDatabaseClient(ctx, cfg)
	default:
		return nil, &core.ConfigurationError{Field: "STORAGE_BACKEND", Reason: "unknown backend " + cfg.StorageBackend}
	}
}

func newObjectClient(ctx context.Context, cfg *config.Config, logger arbor.ILogger) (core.ObjectClient, error) {
	switch cfg.ObjectBackend {
	case "memory":
		return objectclient.NewMemoryClient(), nil
	case "s3":
		return objectclient.NewS3Client(ctx, cfg, logger)
	default:
		return nil, &core.ConfigurationError{Field: "OBJECT_BACKEND", Reason: "unknown backend " + cfg.ObjectBackend}
	}
}

func newCacheStore(cfg *config.Config) (core.CacheStore, error) {
	switch cfg.CacheBackend {
	case "memory":
		return cache.NewMemoryStore(), nil
	case "bolt":
		return cache.OpenBoltStore(cfg.CachePath)
	default:
		return nil, &core.ConfigurationError{Field: "CACHE_BACKEND", Reason: "unknown backend " + cfg.CacheBackend}
	}
}

func (a *App) newEmbedder(ctx context.Context, cfg *config.Config) (core.EmbeddingProvider, error) {
	switch cfg.EmbedProvider {
	case llm.ProviderLocal:
		return llm.NewHashEmbedder(cfg.EmbedDim), nil
	case llm.ProviderGemini:
		e, err := llm.NewGeminiEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbedModel, cfg.EmbedDim)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, e)
		return e, nil
	default:
		return nil, &core.ConfigurationError{Field: "EMBED_PROVIDER", Reason: "unknown provider " + cfg.EmbedProvider}
	}
}

func (a *App) newGenerator(ctx context.Context, cfg *config.Config) (core.LLMProvider, error) {
	switch cfg.GenProvider {
	case llm.ProviderAnthropic:
		model := cfg.GenModel
		// the default model name belongs to the other provider
		if strings.HasPrefix(model, "gemini") {
			model = ""
		}
		return llm.NewAnthropicLLM(cfg.AnthropicAPIKey, model, 0)
	case llm.ProviderGemini:
		g, err := llm.NewGeminiLLM(ctx, cfg.GeminiAPIKey, cfg.GenModel)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, g)
		return g, nil
	default:
		return nil, &core.ConfigurationError{Field: "GEN_PROVIDER", Reason: "unknown provider " + cfg.GenProvider}
	}
}

// IsConfigError reports whether err is a startup configuration problem.
func IsConfigError(err error) bool {
	var ce *core.ConfigurationError
	return errors.As(err, &ce)
}
