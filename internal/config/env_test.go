package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/documind/internal/core"
)

func localEnv(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("OBJECT_BACKEND", "memory")
	t.Setenv("EMBED_PROVIDER", "local")
	t.Setenv("GEN_PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
}

func TestLoadConfigDefaults(t *testing.T) {
	localEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.ChunkSize)
	assert.Equal(t, 200, cfg.ChunkOverlap)
	assert.Equal(t, 5, cfg.TopK)
	assert.InDelta(t, 0.7, cfg.SimilarityThreshold, 1e-9)
	assert.Equal(t, time.Hour, cfg.CacheTTL)
	assert.Equal(t, "8080", cfg.Port)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	localEnv(t)
	t.Setenv("CHUNK_SIZE", "500")
	t.Setenv("CHUNK_OVERLAP", "50")
	t.Setenv("CACHE_TTL", "120")
	t.Setenv("PROVIDER_TIMEOUT", "5s")
	t.Setenv("SIMILARITY_THRESHOLD", "0.5")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.ChunkSize)
	assert.Equal(t, 50, cfg.ChunkOverlap)
	assert.Equal(t, 2*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 5*time.Second, cfg.ProviderTimeout)
	assert.InDelta(t, 0.5, cfg.SimilarityThreshold, 1e-9)
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	localEnv(t)
	path := filepath.Join(t.TempDir(), "documind.yaml")
	require.NoError(t, os.WriteFile(path, []byte("top_k: 9\nport: \"9090\"\ncache_ttl: 30m\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "7070")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.TopK)
	assert.Equal(t, 30*time.Minute, cfg.CacheTTL)
	assert.Equal(t, "7070", cfg.Port, "environment wins over file")
}

func TestLoadConfigRejectsOverlapNotBelowSize(t *testing.T) {
	localEnv(t)
	t.Setenv("CHUNK_SIZE", "200")
	t.Setenv("CHUNK_OVERLAP", "200")

	_, err := LoadConfig()
	require.Error(t, err)

	var cerr *core.ConfigurationError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "ChunkOverlap", cerr.Field)
}

func TestValidateBackendRequirements(t *testing.T) {
	cfg := Defaults()
	cfg.StorageBackend = "postgres"
	cfg.DatabaseURL = ""
	cfg.GeminiAPIKey = "k"

	err := cfg.Validate()
	var cerr *core.ConfigurationError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "DATABASE_URL", cerr.Field)

	cfg.DatabaseURL = "postgres://localhost/documind"
	assert.NoError(t, cfg.Validate())

	cfg.GenProvider = "anthropic"
	err = cfg.Validate()
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "ANTHROPIC_API_KEY", cerr.Field)
}

func TestValidateThresholdRange(t *testing.T) {
	cfg := Defaults()
	cfg.StorageBackend = "memory"
	cfg.GeminiAPIKey = "k"
	cfg.SimilarityThreshold = 1.5

	err := cfg.Validate()
	var cerr *core.ConfigurationError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "SimilarityThreshold", cerr.Field)
}
