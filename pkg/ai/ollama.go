package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"charachat/pkg/domain"
)

const defaultOllamaBaseURL = "http://127.0.0.1:11434"

// OllamaEmbedder embeds text through a local Ollama instance. It speaks the
// /api/embed batch endpoint and falls back to the legacy /api/embeddings
// endpoint on older servers.
type OllamaEmbedder struct {
	baseURL    string
	model      string
	dimensions int
	httpClient *http.Client
}

func NewOllamaEmbedder(baseURL, model string, dimensions int) (*OllamaEmbedder, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, errors.New("embedding model required")
	}
	if dimensions <= 0 {
		return nil, errors.New("embedding dimensions required")
	}
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	return &OllamaEmbedder{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		dimensions: dimensions,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// EmbedTexts embeds all texts in a single batch request.
func (c *OllamaEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	reqBody := ollamaEmbedRequest{
		Model:      c.model,
		Input:      texts,
		Dimensions: c.dimensions,
	}
	var resp ollamaEmbedResponse
	status, err := c.doJSON(ctx, "/api/embed", reqBody, &resp)
	if err != nil {
		if status == http.StatusNotFound || status == http.StatusMethodNotAllowed {
			return c.embedLegacy(ctx, texts)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingProvider, err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: embedding count mismatch: got %d, want %d",
			domain.ErrEmbeddingProvider, len(resp.Embeddings), len(texts))
	}
	for i, vec := range resp.Embeddings {
		if len(vec) != c.dimensions {
			return nil, fmt.Errorf("%w: embedding %d dimension mismatch: got %d, want %d",
				domain.ErrEmbeddingProvider, i, len(vec), c.dimensions)
		}
	}
	return resp.Embeddings, nil
}

// EmbedQuery embeds a single retrieval query.
func (c *OllamaEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// embedLegacy serves Ollama servers that predate /api/embed; the legacy
// endpoint takes one prompt at a time.
func (c *OllamaEmbedder) embedLegacy(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		reqBody := ollamaLegacyEmbedRequest{
			Model:  c.model,
			Prompt: text,
		}
		var resp ollamaLegacyEmbedResponse
		if _, err := c.doJSON(ctx, "/api/embeddings", reqBody, &resp); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingProvider, err)
		}
		if len(resp.Embedding) != c.dimensions {
			return nil, fmt.Errorf("%w: embedding dimension mismatch: got %d, want %d",
				domain.ErrEmbeddingProvider, len(resp.Embedding), c.dimensions)
		}
		out[i] = resp.Embedding
	}
	return out, nil
}

func (c *OllamaEmbedder) doJSON(ctx context.Context, path string, payload any, out any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp ollamaErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error != "" {
			return resp.StatusCode, fmt.Errorf("ollama api error: %s", errResp.Error)
		}
		return resp.StatusCode, fmt.Errorf("ollama api error: %s", resp.Status)
	}
	if out == nil {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, err
	}
	return resp.StatusCode, nil
}

type ollamaEmbedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type ollamaLegacyEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaLegacyEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

type ollamaErrorResponse struct {
	Error string `json:"error"`
}
