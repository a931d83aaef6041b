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

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	GenerationBaseURL string `yaml:"generationBaseURL"`
	GenerationAPIKey  string `yaml:"generationApiKey"`
	GenerationModel   string `yaml:"generationModel"`

	EmbeddingProvider string `yaml:"embeddingProvider"`
	EmbeddingBaseURL  string `yaml:"embeddingBaseURL"`
	EmbeddingAPIKey   string `yaml:"embeddingApiKey"`
	EmbeddingModel    string `yaml:"embeddingModel"`
	EmbeddingDim      int    `yaml:"embeddingDim"`

	HistoryLimit         int     `yaml:"historyLimit"`
	MaxToolRounds        int     `yaml:"maxToolRounds"`
	SearchThreshold      float64 `yaml:"searchThreshold"`
	PluginTimeoutSeconds int     `yaml:"pluginTimeoutSeconds"`

	JWKSURL            string `yaml:"jwksURL"`
	TokenIssuer        string `yaml:"tokenIssuer"`
	TokenAudience      string `yaml:"tokenAudience"`
	RateLimitPerMinute int    `yaml:"rateLimitPerMinute"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{SearchThreshold: -1}
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
	overrideString(&cfg.GenerationBaseURL, "CHARACHAT_GENERATION_BASE_URL")
	overrideString(&cfg.GenerationAPIKey, "CHARACHAT_GENERATION_API_KEY")
	overrideString(&cfg.GenerationModel, "CHARACHAT_GENERATION_MODEL")
	overrideString(&cfg.EmbeddingProvider, "CHARACHAT_EMBEDDING_PROVIDER")
	overrideString(&cfg.EmbeddingBaseURL, "CHARACHAT_EMBEDDING_BASE_URL")
	overrideString(&cfg.EmbeddingAPIKey, "CHARACHAT_EMBEDDING_API_KEY")
	overrideString(&cfg.EmbeddingModel, "CHARACHAT_EMBEDDING_MODEL")
	overrideInt(&cfg.EmbeddingDim, "CHARACHAT_EMBEDDING_DIM")
	overrideInt(&cfg.HistoryLimit, "CHAT_HISTORY_LIMIT")
	overrideInt(&cfg.MaxToolRounds, "CHAT_MAX_TOOL_ROUNDS")
	overrideInt(&cfg.PluginTimeoutSeconds, "CHAT_PLUGIN_TIMEOUT_SECONDS")
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
	if cfg.GenerationModel == "" {
		return errors.New("config: generationModel is required (set in config.yaml or CHARACHAT_GENERATION_MODEL)")
	}
	if cfg.EmbeddingModel == "" {
		return errors.New("config: embeddingModel is required (set in config.yaml or CHARACHAT_EMBEDDING_MODEL)")
	}
	if cfg.EmbeddingDim <= 0 {
		return errors.New("config: embeddingDim must be > 0 (set in config.yaml or CHARACHAT_EMBEDDING_DIM)")
	}
	if cfg.SearchThreshold >= 1 {
		return errors.New("config: searchThreshold must be below 1")
	}
	if cfg.PluginTimeoutSeconds < 0 {
		return errors.New("config: pluginTimeoutSeconds must be >= 0")
	}
	if cfg.JWKSURL == "" {
		return errors.New("config: jwksURL is required (set in config.yaml or CHARACHAT_JWKS_URL)")
	}
	if cfg.RateLimitPerMinute > 0 && cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required when rateLimitPerMinute is set")
	}
	return nil
}
