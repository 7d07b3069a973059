// Package llm provides the external model integrations: text completion
// for memory extraction, merging, and relationship classification, and
// embedding generation for similarity search. All remote calls are wrapped
// in a circuit breaker with hard timeouts; the engine treats every provider
// as optional and degrades when one is unavailable.
package llm

import "context"

// TextGenerator is the interface for LLM text completion.
// All engine prompts use single-string completion style (not chat).
type TextGenerator interface {
	Complete(ctx context.Context, prompt string) (string, error)
	GetModel() string
}

// EmbeddingGenerator is the interface for generating vector embeddings.
type EmbeddingGenerator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	GetModel() string
}
