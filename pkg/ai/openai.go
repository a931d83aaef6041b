package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"

	"charachat/pkg/domain"
)

const (
	defaultEmbedBatchSize   = 64
	defaultEmbedConcurrency = 2
)

// OpenAIEmbedder embeds text through any OpenAI-compatible embeddings
// endpoint (OpenAI, vLLM, LiteLLM, self-hosted, ...).
type OpenAIEmbedder struct {
	client      *openai.Client
	model       string
	dimensions  int
	batchSize   int
	concurrency int
}

// EmbedderOption tunes batching behaviour.
type EmbedderOption func(*OpenAIEmbedder)

// WithBatchSize caps how many texts go into a single provider request.
func WithBatchSize(n int) EmbedderOption {
	return func(e *OpenAIEmbedder) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithConcurrency bounds how many batch requests run at once.
func WithConcurrency(n int) EmbedderOption {
	return func(e *OpenAIEmbedder) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// NewOpenAIEmbedder builds an embedder against baseURL. apiKey can be empty
// for local deployments without authentication.
func NewOpenAIEmbedder(baseURL, apiKey, model string, dimensions int, options ...EmbedderOption) (*OpenAIEmbedder, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, errors.New("embedding model required")
	}
	if dimensions <= 0 {
		return nil, errors.New("embedding dimensions required")
	}
	cfg := openai.DefaultConfig(strings.TrimSpace(apiKey))
	if url := strings.TrimRight(strings.TrimSpace(baseURL), "/"); url != "" {
		cfg.BaseURL = url
	}
	e := &OpenAIEmbedder{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		dimensions:  dimensions,
		batchSize:   defaultEmbedBatchSize,
		concurrency: defaultEmbedConcurrency,
	}
	for _, option := range options {
		if option != nil {
			option(e)
		}
	}
	return e, nil
}

// EmbedTexts embeds all texts, splitting into provider-sized batches.
func (e *OpenAIEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		offset, batch := start, texts[start:end]
		g.Go(func() error {
			vectors, err := e.embedBatch(gctx, batch)
			if err != nil {
				return err
			}
			copy(out[offset:], vectors)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// EmbedQuery embeds a single retrieval query.
func (e *OpenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input:      texts,
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: e.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingProvider, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: embedding count mismatch: got %d, want %d",
			domain.ErrEmbeddingProvider, len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(out) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", domain.ErrEmbeddingProvider, item.Index)
		}
		if len(item.Embedding) != e.dimensions {
			return nil, fmt.Errorf("%w: embedding dimension mismatch: got %d, want %d",
				domain.ErrEmbeddingProvider, len(item.Embedding), e.dimensions)
		}
		out[item.Index] = item.Embedding
	}
	return out, nil
}
