package ai

import "context"

// Embedder provides fixed-dimension embeddings for text. Implementations
// batch internally to respect provider limits; they do not retry, the caller
// owns failure policy.
type Embedder interface {
	// EmbedTexts returns one vector per input, order-preserving.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a single retrieval query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}
