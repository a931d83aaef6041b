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
	"charachat/services/chat/internal/app"
	"charachat/services/chat/internal/config"
	"charachat/services/chat/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := util.InitLogger(cfg.LogLevel)

	streamer, err := ai.NewOpenAIStreamer(cfg.GenerationBaseURL, cfg.GenerationAPIKey, cfg.GenerationModel)
	if err != nil {
		util.Fatal("failed to init chat streamer", "err", err)
	}

	embedder, err := newEmbedder(cfg)
	if err != nil {
		util.Fatal("failed to init embedder", "err", err)
	}

	appCore, err := app.New(app.Config{
		DatabaseURL:     cfg.DatabaseURL,
		EmbeddingDim:    cfg.EmbeddingDim,
		Streamer:        streamer,
		Embedder:        embedder,
		SearchThreshold: cfg.SearchThreshold,
		PluginTimeout:   time.Duration(cfg.PluginTimeoutSeconds) * time.Second,
		HistoryLimit:    cfg.HistoryLimit,
		MaxToolRounds:   cfg.MaxToolRounds,
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
		rl, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "charachat:ratelimit:chat", cfg.RateLimitPerMinute, time.Minute)
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

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:        addr,
		Handler:     httpServer.Router(),
		ReadTimeout: 60 * time.Second,
		// WriteTimeout stays unset: responses stream for as long as
		// generation runs.
		IdleTimeout: 60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("chat server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}

func newEmbedder(cfg config.FileConfig) (ai.Embedder, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.EmbeddingProvider))
	switch provider {
	case "", "openai":
		return ai.NewOpenAIEmbedder(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDim)
	case "ollama":
		return ai.NewOllamaEmbedder(cfg.EmbeddingBaseURL, cfg.EmbeddingModel, cfg.EmbeddingDim)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", provider)
	}
}
