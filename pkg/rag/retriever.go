package rag

import (
	"context"
	"fmt"
	"strings"

	"charachat/pkg/ai"
	"charachat/pkg/domain"
	"charachat/pkg/store"
)

const (
	// DefaultThreshold filters out chunks whose cosine similarity does not
	// strictly exceed this value.
	DefaultThreshold = 0.35
	// DefaultLimit caps how many chunks one retrieval returns.
	DefaultLimit = 5
)

// Retriever answers semantic queries against a set of knowledge bases.
type Retriever struct {
	store    store.Store
	embedder ai.Embedder
}

func NewRetriever(st store.Store, embedder ai.Embedder) *Retriever {
	return &Retriever{store: st, embedder: embedder}
}

// Search embeds the query and returns chunks from the given knowledge bases
// ordered by similarity (descending, chunk id as tie-break). Only chunks with
// similarity strictly above threshold are returned. An empty knowledge-base
// set yields no results without calling the embedding provider.
func (r *Retriever) Search(ctx context.Context, query string, kbIDs []string, threshold float64, limit int) ([]domain.ScoredChunk, error) {
	if strings.TrimSpace(query) == "" {
		return []domain.ScoredChunk{}, nil
	}
	if len(kbIDs) == 0 {
		return []domain.ScoredChunk{}, nil
	}
	if threshold < 0 {
		threshold = DefaultThreshold
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	embedding, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	chunks, err := r.store.SearchChunks(kbIDs, embedding, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	return chunks, nil
}
