package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/markdave123-py/documind/internal/core"
)

type Config struct {
	// Storage
	StorageBackend string `yaml:"storage_backend" validate:"oneof=postgres memory"`
	DatabaseURL    string `yaml:"database_url"`
	ObjectBackend  string `yaml:"object_backend" validate:"oneof=s3 memory"`
	AwsAccessKey   string `yaml:"aws_access_key"`
	AwsSecretKey   string `yaml:"aws_secret_key"`
	AwsRegion      string `yaml:"aws_region"`
	BucketName     string `yaml:"bucket_name"`
	SslCertPath    string `yaml:"ssl_cert_path"`

	// Cache
	CacheBackend string        `yaml:"cache_backend" validate:"oneof=memory bolt"`
	CachePath    string        `yaml:"cache_path"`
	CacheTTL     time.Duration `yaml:"cache_ttl" validate:"gt=0"`

	// Providers
	GeminiAPIKey       string        `yaml:"gemini_api_key"`
	AnthropicAPIKey    string        `yaml:"anthropic_api_key"`
	EmbedProvider      string        `yaml:"embed_provider" validate:"oneof=gemini local"`
	GenProvider        string        `yaml:"gen_provider" validate:"oneof=gemini anthropic"`
	EmbedModel         string        `yaml:"embed_model"`
	EmbedDim           int           `yaml:"embed_dim" validate:"gt=0"`
	GenModel           string        `yaml:"gen_model" validate:"required"`
	ProviderTimeout    time.Duration `yaml:"provider_timeout" validate:"gt=0"`
	ProviderMaxRetries int           `yaml:"provider_max_retries" validate:"gte=0"`
	ProviderRPS        float64       `yaml:"provider_rps" validate:"gte=0"`

	// Ingestion
	ChunkSize       int `yaml:"chunk_size" validate:"gt=0"`
	ChunkOverlap    int `yaml:"chunk_overlap" validate:"gte=0,ltfield=ChunkSize"`
	EmbedBatchSize  int `yaml:"embed_batch_size" validate:"gt=0"`
	IngestWorkers   int `yaml:"ingest_workers" validate:"gt=0"`
	IngestQueueSize int `yaml:"ingest_queue_size" validate:"gt=0"`

	// Retrieval
	TopK                int     `yaml:"top_k" validate:"gt=0"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" validate:"gte=0,lte=1"`
	IVFLists            int     `yaml:"ivf_lists" validate:"gt=0"`
	IVFProbes           int     `yaml:"ivf_probes" validate:"gt=0,ltefield=IVFLists"`
	IVFMinTrain         int     `yaml:"ivf_min_train" validate:"gt=0"`

	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`
}

// Defaults returns the configuration used when neither a file nor the environment sets a key.
func Defaults() *Config {
	return &Config{
		StorageBackend:      "postgres",
		ObjectBackend:       "s3",
		AwsRegion:           "us-east-2",
		BucketName:          "documind-docs",
		CacheBackend:        "memory",
		CachePath:           "documind-cache.db",
		CacheTTL:            time.Hour,
		EmbedProvider:       "gemini",
		GenProvider:         "gemini",
		EmbedModel:          "text-embedding-004",
		EmbedDim:            768,
		GenModel:            "gemini-1.5-flash",
		ProviderTimeout:     30 * time.Second,
		ProviderMaxRetries:  3,
		ProviderRPS:         5,
		ChunkSize:           1000,
		ChunkOverlap:        200,
		EmbedBatchSize:      32,
		IngestWorkers:       4,
		IngestQueueSize:     100,
		TopK:                5,
		SimilarityThreshold: 0.7,
		IVFLists:            16,
		IVFProbes:           4,
		IVFMinTrain:         256,
		Port:                "8080",
		LogLevel:            "info",
	}
}

// LoadConfig loads the environment variables and returns a validated config.
// Values come from defaults, then the optional CONFIG_FILE yaml, then the environment.
func LoadConfig() (*Config, error) {

	_ = godotenv.Load()

	cfg := Defaults()

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return &core.ConfigurationError{Field: "CONFIG_FILE", Reason: err.Error()}
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.StorageBackend = getEnv("STORAGE_BACKEND", cfg.StorageBackend)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.ObjectBackend = getEnv("OBJECT_BACKEND", cfg.ObjectBackend)
	cfg.AwsAccessKey = getEnv("AWS_ACCESS_KEY", cfg.AwsAccessKey)
	cfg.AwsSecretKey = getEnv("AWS_SECRET_KEY", cfg.AwsSecretKey)
	cfg.AwsRegion = getEnv("AWS_REGION", cfg.AwsRegion)
	cfg.BucketName = getEnv("BUCKET_NAME", cfg.BucketName)
	cfg.SslCertPath = getEnv("SSL_CERT_PATH", cfg.SslCertPath)

	cfg.CacheBackend = getEnv("CACHE_BACKEND", cfg.CacheBackend)
	cfg.CachePath = getEnv("CACHE_PATH", cfg.CachePath)
	cfg.CacheTTL = getEnvDuration("CACHE_TTL", cfg.CacheTTL)

	cfg.GeminiAPIKey = getEnv("GEMINI_API_KEY", cfg.GeminiAPIKey)
	cfg.AnthropicAPIKey = getEnv("ANTHROPIC_API_KEY", cfg.AnthropicAPIKey)
	cfg.EmbedProvider = getEnv("EMBED_PROVIDER", cfg.EmbedProvider)
	cfg.GenProvider = getEnv("GEN_PROVIDER", cfg.GenProvider)
	cfg.EmbedModel = getEnv("EMBED_MODEL", cfg.EmbedModel)
	cfg.EmbedDim = getEnvInt("EMBED_DIM", cfg.EmbedDim)
	cfg.GenModel = getEnv("GEN_MODEL", cfg.GenModel)
	cfg.ProviderTimeout = getEnvDuration("PROVIDER_TIMEOUT", cfg.ProviderTimeout)
	cfg.ProviderMaxRetries = getEnvInt("PROVIDER_MAX_RETRIES", cfg.ProviderMaxRetries)
	cfg.ProviderRPS = getEnvFloat("PROVIDER_RPS", cfg.ProviderRPS)

	cfg.ChunkSize = getEnvInt("CHUNK_SIZE", cfg.ChunkSize)
	cfg.ChunkOverlap = getEnvInt("CHUNK_OVERLAP", cfg.ChunkOverlap)
	cfg.EmbedBatchSize = getEnvInt("EMBED_BATCH_SIZE", cfg.EmbedBatchSize)
	cfg.IngestWorkers = getEnvInt("INGEST_WORKERS", cfg.IngestWorkers)
	cfg.IngestQueueSize = getEnvInt("INGEST_QUEUE_SIZE", cfg.IngestQueueSize)

	cfg.TopK = getEnvInt("TOP_K", cfg.TopK)
	cfg.SimilarityThreshold = getEnvFloat("SIMILARITY_THRESHOLD", cfg.SimilarityThreshold)
	cfg.IVFLists = getEnvInt("IVF_LISTS", cfg.IVFLists)
	cfg.IVFProbes = getEnvInt("IVF_PROBES", cfg.IVFProbes)
	cfg.IVFMinTrain = getEnvInt("IVF_MIN_TRAIN", cfg.IVFMinTrain)

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross-backend requirements.
// The first violation is returned as a *core.ConfigurationError.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &core.ConfigurationError{
				Field:  fe.Field(),
				Reason: fmt.Sprintf("failed %q rule (value %v)", fe.Tag(), fe.Value()),
			}
		}
		return &core.ConfigurationError{Field: "config", Reason: err.Error()}
	}

	switch {
	case c.StorageBackend == "postgres" && c.DatabaseURL == "":
		return &core.ConfigurationError{Field: "DATABASE_URL", Reason: "required for postgres storage"}
	case c.ObjectBackend == "s3" && c.BucketName == "":
		return &core.ConfigurationError{Field: "BUCKET_NAME", Reason: "required for s3 object storage"}
	case c.CacheBackend == "bolt" && c.CachePath == "":
		return &core.ConfigurationError{Field: "CACHE_PATH", Reason: "required for bolt cache"}
	case (c.EmbedProvider == "gemini" || c.GenProvider == "gemini") && c.GeminiAPIKey == "":
		return &core.ConfigurationError{Field: "GEMINI_API_KEY", Reason: "required for gemini provider"}
	case c.GenProvider == "anthropic" && c.AnthropicAPIKey == "":
		return &core.ConfigurationError{Field: "ANTHROPIC_API_KEY", Reason: "required for anthropic provider"}
	}
	return nil
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("WARN: %s=%q not a number, using default %v", key, v, def)
		return def
	}
	return f
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	// bare integers are seconds
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	log.Printf("WARN: %s=%q not a duration, using default %s", key, v, def)
	return def
}
