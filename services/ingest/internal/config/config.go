package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DatabaseURL string `yaml:"databaseURL"`

	RedisAddr              string `yaml:"redisAddr"`
	RedisPassword          string `yaml:"redisPassword"`
	QueueStream            string `yaml:"queueStream"`
	QueueGroup             string `yaml:"queueGroup"`
	QueueConcurrency       int    `yaml:"queueConcurrency"`
	QueueMaxRetries        int    `yaml:"queueMaxRetries"`
	QueueRetryDelaySeconds int    `yaml:"queueRetryDelaySeconds"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	EmbeddingProvider    string `yaml:"embeddingProvider"`
	EmbeddingBaseURL     string `yaml:"embeddingBaseURL"`
	EmbeddingAPIKey      string `yaml:"embeddingApiKey"`
	EmbeddingModel       string `yaml:"embeddingModel"`
	EmbeddingDim         int    `yaml:"embeddingDim"`
	EmbeddingBatchSize   int    `yaml:"embeddingBatchSize"`
	EmbeddingConcurrency int    `yaml:"embeddingConcurrency"`

	ChunkSize           int `yaml:"chunkSize"`
	ChunkOverlap        int `yaml:"chunkOverlap"`
	PollIntervalSeconds int `yaml:"pollIntervalSeconds"`

	JWKSURL            string `yaml:"jwksURL"`
	TokenIssuer        string `yaml:"tokenIssuer"`
	TokenAudience      string `yaml:"tokenAudience"`
	RateLimitPerMinute int    `yaml:"rateLimitPerMinute"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	overrideString(&cfg.DatabaseURL, "DATABASE_URL")
	overrideString(&cfg.RedisAddr, "REDIS_ADDR")
	overrideString(&cfg.RedisPassword, "REDIS_PASSWORD")
	overrideString(&cfg.QueueStream, "INGEST_QUEUE_STREAM")
	overrideString(&cfg.QueueGroup, "INGEST_QUEUE_GROUP")
	overrideInt(&cfg.QueueConcurrency, "INGEST_QUEUE_CONCURRENCY")
	overrideInt(&cfg.QueueMaxRetries, "INGEST_QUEUE_MAX_RETRIES")
	overrideInt(&cfg.QueueRetryDelaySeconds, "INGEST_QUEUE_RETRY_DELAY_SECONDS")
	overrideString(&cfg.MinioEndpoint, "MINIO_ENDPOINT")
	overrideString(&cfg.MinioAccessKey, "MINIO_ACCESS_KEY")
	overrideString(&cfg.MinioSecretKey, "MINIO_SECRET_KEY")
	overrideString(&cfg.MinioBucket, "MINIO_BUCKET")
	overrideString(&cfg.EmbeddingProvider, "CHARACHAT_EMBEDDING_PROVIDER")
	overrideString(&cfg.EmbeddingBaseURL, "CHARACHAT_EMBEDDING_BASE_URL")
	overrideString(&cfg.EmbeddingAPIKey, "CHARACHAT_EMBEDDING_API_KEY")
	overrideString(&cfg.EmbeddingModel, "CHARACHAT_EMBEDDING_MODEL")
	overrideInt(&cfg.EmbeddingDim, "CHARACHAT_EMBEDDING_DIM")
	overrideInt(&cfg.ChunkSize, "INGEST_CHUNK_SIZE")
	overrideInt(&cfg.ChunkOverlap, "INGEST_CHUNK_OVERLAP")
	overrideInt(&cfg.PollIntervalSeconds, "INGEST_POLL_INTERVAL_SECONDS")
	overrideString(&cfg.JWKSURL, "CHARACHAT_JWKS_URL")

	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func overrideString(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func overrideInt(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	if cfg.MinioEndpoint == "" || cfg.MinioBucket == "" {
		return errors.New("config: minioEndpoint and minioBucket are required (set in config.yaml or MINIO_*)")
	}
	if cfg.EmbeddingModel == "" {
		return errors.New("config: embeddingModel is required (set in config.yaml or CHARACHAT_EMBEDDING_MODEL)")
	}
	if cfg.EmbeddingDim <= 0 {
		return errors.New("config: embeddingDim must be > 0 (set in config.yaml or CHARACHAT_EMBEDDING_DIM)")
	}
	if cfg.ChunkSize <= 0 {
		return errors.New("config: chunkSize must be > 0 (set in config.yaml or INGEST_CHUNK_SIZE)")
	}
	if cfg.ChunkOverlap < 0 {
		return errors.New("config: chunkOverlap must be >= 0 (set in config.yaml or INGEST_CHUNK_OVERLAP)")
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		return errors.New("config: chunkOverlap must be smaller than chunkSize")
	}
	if cfg.JWKSURL == "" {
		return errors.New("config: jwksURL is required (set in config.yaml or CHARACHAT_JWKS_URL)")
	}
	return nil
}
