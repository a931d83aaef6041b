package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"charachat/internal/ratelimit"
	"charachat/internal/usertoken"
	"charachat/internal/util"
	"charachat/pkg/ai"
	"charachat/pkg/queue"
	"charachat/pkg/storage"
	"charachat/services/ingest/internal/app"
	"charachat/services/ingest/internal/config"
	"charachat/services/ingest/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := util.InitLogger(cfg.LogLevel)

	embedder, err := newEmbedder(cfg)
	if err != nil {
		util.Fatal("failed to init embedder", "err", err)
	}

	objects, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		util.Fatal("failed to init object store", "err", err)
	}

	wakeQueue, err := queue.NewRedisWakeQueue(queue.RedisQueueConfig{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		Stream:     defaultString(cfg.QueueStream, "charachat:ingest"),
		Group:      defaultString(cfg.QueueGroup, "ingest"),
		MaxRetries: cfg.QueueMaxRetries,
		RetryDelay: time.Duration(cfg.QueueRetryDelaySeconds) * time.Second,
	})
	if err != nil {
		util.Fatal("failed to init queue", "err", err)
	}
	defer wakeQueue.Close()

	appCore, err := app.New(app.Config{
		DatabaseURL:  cfg.DatabaseURL,
		EmbeddingDim: cfg.EmbeddingDim,
		Objects:      objects,
		Embedder:     embedder,
		Queue:        wakeQueue,
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
		PollInterval: time.Duration(cfg.PollIntervalSeconds) * time.Second,
		Concurrency:  cfg.QueueConcurrency,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	verifier, err := usertoken.NewVerifier(usertoken.Config{
		JWKSURL:  cfg.JWKSURL,
		Issuer:   cfg.TokenIssuer,
		Audience: cfg.TokenAudience,
	})
	if err != nil {
		util.Fatal("failed to init token verifier", "err", err)
	}

	var limiter server.RateLimiter
	if cfg.RateLimitPerMinute > 0 {
		rl, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "charachat:ratelimit:ingest", cfg.RateLimitPerMinute, time.Minute)
		if err != nil {
			util.Fatal("failed to init rate limiter", "err", err)
		}
		defer rl.Close()
		limiter = rl
	}

	httpServer, err := server.New(server.Config{
		App:      appCore,
		Verifier: verifier,
		Limiter:  limiter,
	})
	if err != nil {
		util.Fatal("failed to init server", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	appCore.Start(ctx)

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("ingest server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}

func newEmbedder(cfg config.FileConfig) (ai.Embedder, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.EmbeddingProvider))
	switch provider {
	case "", "openai":
		return ai.NewOpenAIEmbedder(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDim,
			ai.WithBatchSize(cfg.EmbeddingBatchSize), ai.WithConcurrency(cfg.EmbeddingConcurrency))
	case "ollama":
		return ai.NewOllamaEmbedder(cfg.EmbeddingBaseURL, cfg.EmbeddingModel, cfg.EmbeddingDim)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", provider)
	}
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
