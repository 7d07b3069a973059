package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mnemon-dev/mnemon/internal/llm"
	"github.com/mnemon-dev/mnemon/internal/storage"
	"github.com/mnemon-dev/mnemon/internal/storage/sqlite"
	"github.com/mnemon-dev/mnemon/pkg/types"
)

// scriptedGenerator returns canned responses in order, recording every
// prompt it saw. A scripted error is returned in place of its response.
type scriptedGenerator struct {
	responses []string
	errs      []error
	prompts   []string
	calls     int
}

func (g *scriptedGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	i := g.calls
	g.calls++
	if i < len(g.errs) && g.errs[i] != nil {
		return "", g.errs[i]
	}
	if i < len(g.responses) {
		return g.responses[i], nil
	}
	return "", nil
}

func (g *scriptedGenerator) GetModel() string { return "scripted" }

func newEngineTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "mnemon.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// newTestEngine wires an engine over a temp sqlite store with a
// deterministic embedder and the given generator.
func newTestEngine(t *testing.T, textGen llm.TextGenerator) (*Engine, storage.Store) {
	t.Helper()
	store := newEngineTestStore(t)
	eng, err := New(store, nil, textGen, llm.NewMockEmbedder(8), nil, Config{
		SnapshotDir: t.TempDir(),
	})
	require.NoError(t, err)
	return eng, store
}

// insertMemory inserts and returns a memory with the given embedding.
func insertMemory(t *testing.T, store storage.Store, content string, memType types.MemoryType, embedding []float32) *types.Memory {
	t.Helper()
	m := &types.Memory{
		Content:    content,
		Summary:    content,
		Type:       memType,
		Scope:      types.ScopeProject,
		Confidence: 0.8,
		Priority:   5,
		Embedding:  embedding,
	}
	_, err := store.Insert(context.Background(), m)
	require.NoError(t, err)
	return m
}
