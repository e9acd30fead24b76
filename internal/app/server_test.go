package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/documind/internal/common"
	"github.com/markdave123-py/documind/internal/config"
	"github.com/markdave123-py/documind/internal/core"
	"github.com/markdave123-py/documind/internal/core/cache"
	"github.com/markdave123-py/documind/internal/core/chunker"
	"github.com/markdave123-py/documind/internal/core/extraction"
	"github.com/markdave123-py/documind/internal/core/ingestion_engine"
	"github.com/markdave123-py/documind/internal/core/llm"
	"github.com/markdave123-py/documind/internal/core/memstore"
	objectclient "github.com/markdave123-py/documind/internal/core/object-client"
	"github.com/markdave123-py/documind/internal/core/vectorindex"
	"github.com/markdave123-py/documind/internal/models"
	"github.com/markdave123-py/documind/internal/services"
)

type stubLLM struct {
	calls atomic.Int32
	err   error
}

func (s *stubLLM) Generate(context.Context, string, string) (string, error) {
	s.calls.Add(1)
	if s.err != nil {
		return "", s.err
	}
	return "Employees get 25 days of paid vacation.", nil
}

func testApp(t *testing.T, gen core.LLMProvider) *App {
	t.Helper()
	logger := common.GetLogger()
	cfg := &config.Config{Port: "0", IngestWorkers: 2}

	ch, err := chunker.New(200, 50)
	require.NoError(t, err)

	emb := llm.NewHashEmbedder(64)
	store := memstore.New(vectorindex.Config{Dim: 64})
	obj := objectclient.NewMemoryClient()
	qc := cache.New(cache.NewMemoryStore(), time.Hour, logger)
	ing := ingestion_engine.NewDocumentIngestor(store, obj, emb, extraction.NewRegistry(), ch, ingestion_engine.IngestConfig{}, logger)

	a := &App{
		Config:       cfg,
		Logger:       logger,
		DBClient:     store,
		ObjectClient: obj,
		Cache:        qc,
		DocProcessor: ing,
		Documents:    services.NewDocumentService(store, obj, ing, qc, logger),
		Retrieval:    services.NewRetrievalService(store, emb, gen, qc, services.RetrievalConfig{TopK: 3, Threshold: 0.1}, logger),
		History:      services.NewHistoryService(store),
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.Start(ctx)
	t.Cleanup(func() {
		cancel()
		ing.Wait()
	})
	return a
}

func upload(t *testing.T, h http.Handler, name, content string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/documents/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func doJSON(t *testing.T, h http.Handler, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h := NewRouter(testApp(t, &stubLLM{}))
	rec := doJSON(t, h, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, Version, body["version"])
}

func TestDocumentLifecycleOverHTTP(t *testing.T) {
	gen := &stubLLM{}
	h := NewRouter(testApp(t, gen))

	text := strings.Repeat("The vacation policy grants paid leave to every employee. ", 20)
	rec := upload(t, h, "policy.txt", text)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var doc models.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	require.NotEmpty(t, doc.ID)

	require.Eventually(t, func() bool {
		rec := doJSON(t, h, http.MethodGet, "/api/documents/"+doc.ID, nil)
		var d models.Document
		return rec.Code == http.StatusOK && json.Unmarshal(rec.Body.Bytes(), &d) == nil && d.Status == models.StateProcessed
	}, 5*time.Second, 10*time.Millisecond)

	rec = doJSON(t, h, http.MethodGet, "/api/documents?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var docs []models.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &docs))
	assert.Len(t, docs, 1)

	q := map[string]any{"query": "vacation policy", "session_id": "web", "top_k": 2}
	rec = doJSON(t, h, http.MethodPost, "/api/query", q)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ans models.AnswerResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ans))
	assert.False(t, ans.Cached)
	assert.NotEmpty(t, ans.Sources)

	rec = doJSON(t, h, http.MethodPost, "/api/query", q)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ans))
	assert.True(t, ans.Cached)
	assert.EqualValues(t, 1, gen.calls.Load())

	rec = doJSON(t, h, http.MethodGet, "/api/history/web", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var hist []models.HistoryRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	assert.Len(t, hist, 2)

	rec = doJSON(t, h, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats models.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.EqualValues(t, 1, stats.TotalDocuments)
	assert.EqualValues(t, 2, stats.TotalQueries)
	assert.Positive(t, stats.TotalChunks)

	rec = doJSON(t, h, http.MethodDelete, "/api/documents/"+doc.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, h, http.MethodGet, "/api/documents/"+doc.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = doJSON(t, h, http.MethodDelete, "/api/documents/"+doc.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	gen := &stubLLM{err: &core.ProviderError{Provider: "test", Op: "generate", Err: errors.New("upstream down")}}
	a := testApp(t, gen)
	h := NewRouter(a)

	rec := upload(t, h, "deck.pptx", "slides")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unsupported_type")

	rec = doJSON(t, h, http.MethodPost, "/api/query", map[string]any{"query": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/query", map[string]any{"query": "q", "top_k": 500})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/documents?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// a chunk the query can match, so the request reaches generation
	ctx := context.Background()
	require.NoError(t, a.DBClient.CreateDocument(ctx, &models.Document{ID: "d1", FileName: "d1.txt", FileType: models.FileTypeText, Status: models.StateProcessed}))
	vecs, err := llm.NewHashEmbedder(64).EmbedTexts(ctx, []string{"budget report"})
	require.NoError(t, err)
	require.NoError(t, a.DBClient.InsertDocumentChunks(ctx, "d1", []models.DocumentChunk{{DocumentID: "d1", Position: 0, Text: "budget report", Embedding: vecs[0]}}))

	rec = doJSON(t, h, http.MethodPost, "/api/query", map[string]any{"query": "budget report"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "provider_failure")

	rec = doJSON(t, h, http.MethodPost, "/api/cache/clear", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestResumeIngestionSettlesLeftoverUploads(t *testing.T) {
	a := testApp(t, &stubLLM{})
	ctx := context.Background()

	key := "documents/left/left.txt"
	_, err := a.ObjectClient.UploadFile(ctx, key, []byte("uploaded before the last restart"), "text/plain")
	require.NoError(t, err)
	require.NoError(t, a.DBClient.CreateDocument(ctx, &models.Document{
		ID: "left", FileName: "left.txt", FileType: models.FileTypeText, StorageKey: key, Status: models.StateUploaded,
	}))

	a.ResumeIngestion(ctx)

	require.Eventually(t, func() bool {
		d, err := a.DBClient.GetDocumentByID(ctx, "left")
		return err == nil && d.Status == models.StateProcessed
	}, 5*time.Second, 10*time.Millisecond)
}

func TestNewAppWithInMemoryBackends(t *testing.T) {
	cfg := config.Defaults()
	cfg.StorageBackend = "memory"
	cfg.ObjectBackend = "memory"
	cfg.CacheBackend = "bolt"
	cfg.CachePath = t.TempDir() + "/cache.db"
	cfg.EmbedProvider = llm.ProviderLocal
	cfg.GenProvider = llm.ProviderAnthropic
	cfg.AnthropicAPIKey = "test-key"
	require.NoError(t, cfg.Validate())

	a, err := NewApp(context.Background(), cfg, common.GetLogger())
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Documents)
	assert.NotNil(t, a.Retrieval)
	assert.NotNil(t, a.History)
	assert.NotNil(t, NewServer(a))
}

func TestNewAppRejectsBadChunking(t *testing.T) {
	cfg := config.Defaults()
	cfg.StorageBackend = "memory"
	cfg.ObjectBackend = "memory"
	cfg.EmbedProvider = llm.ProviderLocal
	cfg.GenProvider = llm.ProviderAnthropic
	cfg.AnthropicAPIKey = "test-key"
	cfg.ChunkOverlap = cfg.ChunkSize

	_, err := NewApp(context.Background(), cfg, common.GetLogger())
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}
