//go:build !onnx

package llm

import "fmt"

// ONNXConfig configures the local ONNX embedder. It is only functional in
// builds with the onnx tag; this stub exists so callers compile either way.
type ONNXConfig struct {
	ModelPath     string
	TokenizerPath string
	LibraryPath   string
	Dimensions    int
}

// NewONNXEmbedder reports that local embedding support was not compiled in.
func NewONNXEmbedder(cfg ONNXConfig) (EmbeddingGenerator, error) {
	return nil, fmt.Errorf("local embeddings require a build with the onnx tag")
}
