package llm

import (
	"fmt"
)

// ProviderConfig selects and configures a provider. It is deliberately
// decoupled from the config package so either can evolve alone.
type ProviderConfig struct {
	Provider string // "anthropic", "openai", "ollama"
	APIKey   string
	Model    string
	BaseURL  string
}

// NewTextGenerator creates the TextGenerator for the configured provider.
func NewTextGenerator(cfg ProviderConfig) (TextGenerator, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicClient(AnthropicConfig{APIKey: cfg.APIKey, Model: cfg.Model}), nil
	case "openai":
		return NewOpenAIClient(OpenAIConfig{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL}), nil
	case "ollama", "":
		return NewOllamaClient(OllamaConfig{BaseURL: cfg.BaseURL, Model: cfg.Model}), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}

// NewEmbeddingGenerator creates the remote EmbeddingGenerator for the
// configured provider. Anthropic has no embeddings endpoint, so an
// anthropic text provider is typically paired with an openai or ollama
// embedding provider; (nil, nil) means "no remote embeddings available"
// and the caller falls back to the local embedder or keyword search.
func NewEmbeddingGenerator(cfg ProviderConfig, embeddingModel string) (EmbeddingGenerator, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIEmbeddingClient(OpenAIEmbeddingConfig{
			APIKey:  cfg.APIKey,
			Model:   embeddingModel,
			BaseURL: cfg.BaseURL,
		}), nil
	case "ollama", "":
		model := embeddingModel
		if model == "" {
			model = "nomic-embed-text"
		}
		return NewOllamaClient(OllamaConfig{BaseURL: cfg.BaseURL, Model: model}), nil
	default:
		return nil, nil
	}
}

// NewLocalEmbeddingGenerator creates the ONNX-backed local embedder when
// built with the onnx tag, or an error otherwise. Callers treat a nil
// generator as "no local embeddings".
func NewLocalEmbeddingGenerator(modelPath, tokenizerPath, libraryPath string) (EmbeddingGenerator, error) {
	if modelPath == "" {
		return nil, nil
	}
	gen, err := NewONNXEmbedder(ONNXConfig{
		ModelPath:     modelPath,
		TokenizerPath: tokenizerPath,
		LibraryPath:   libraryPath,
	})
	if err != nil {
		return nil, err
	}
	return gen, nil
}
