package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemon-dev/mnemon/internal/storage"
	"github.com/mnemon-dev/mnemon/pkg/types"
)

func writeTestFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "handler.go")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const testSource = `package web

func Handle(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
`

func TestIndexCodeCreatesPair(t *testing.T) {
	eng, store := newTestEngine(t, nil)
	ctx := context.Background()

	path := writeTestFile(t, testSource)
	prose, code, err := eng.IndexCode(ctx, store, IndexRequest{
		FilePath: path,
		Summary:  "HTTP handler returning 200",
	})
	require.NoError(t, err)

	assert.Equal(t, types.TypeCodeDescription, prose.Type)
	assert.True(t, prose.HasEmbedding(), "prose descriptions are embedded")

	assert.Equal(t, types.TypeCode, code.Type)
	assert.False(t, code.HasEmbedding(), "raw code is never embedded")
	assert.Contains(t, code.Content, "func Handle")
	assert.Equal(t, path, code.FilePath())

	edges, err := store.EdgesFrom(ctx, prose.ID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, types.RelSourceOf, edges[0].Type)
	assert.Equal(t, code.ID, edges[0].TargetID)
}

func TestIndexCodeLineRange(t *testing.T) {
	eng, store := newTestEngine(t, nil)

	path := writeTestFile(t, testSource)
	_, code, err := eng.IndexCode(context.Background(), store, IndexRequest{
		FilePath:  path,
		Summary:   "just the signature",
		LineStart: 3,
		LineEnd:   3,
	})
	require.NoError(t, err)

	assert.Equal(t, "func Handle(w http.ResponseWriter, r *http.Request) {", code.Content)
	assert.Equal(t, 3, code.SourceContext["line_start"])
	assert.Equal(t, 3, code.SourceContext["line_end"])
}

func TestIndexCodeEmptyExtraction(t *testing.T) {
	eng, store := newTestEngine(t, nil)

	path := writeTestFile(t, "line one\n\n\nline four\n")
	_, _, err := eng.IndexCode(context.Background(), store, IndexRequest{
		FilePath:  path,
		Summary:   "blank lines",
		LineStart: 2,
		LineEnd:   3,
	})
	assert.ErrorIs(t, err, storage.ErrEmptyExtraction)

	_, _, err = eng.IndexCode(context.Background(), store, IndexRequest{
		FilePath:  path,
		Summary:   "past the end",
		LineStart: 50,
		LineEnd:   60,
	})
	assert.ErrorIs(t, err, storage.ErrEmptyExtraction)
}

func TestReindexSupersedesPriorPair(t *testing.T) {
	eng, store := newTestEngine(t, nil)
	ctx := context.Background()

	path := writeTestFile(t, testSource)
	_, oldCode, err := eng.IndexCode(ctx, store, IndexRequest{FilePath: path, Summary: "init logic"})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(testSource+"\n// revised\n"), 0o644))
	_, newCode, err := eng.IndexCode(ctx, store, IndexRequest{FilePath: path, Summary: "revised init logic"})
	require.NoError(t, err)

	// Exactly one active code/code_description pair remains for the path.
	remaining, err := store.ActiveCodeMemoriesForPath(ctx, path)
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	byType := map[types.MemoryType]int{}
	for _, m := range remaining {
		byType[m.Type]++
	}
	assert.Equal(t, 1, byType[types.TypeCode])
	assert.Equal(t, 1, byType[types.TypeCodeDescription])

	got, err := store.Get(ctx, oldCode.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuperseded, got.Status)

	// The new code memory links to the one it replaced.
	exists, err := store.EdgeExists(ctx, newCode.ID, oldCode.ID, types.RelSupersedes)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestIndexCodeValidation(t *testing.T) {
	eng, store := newTestEngine(t, nil)
	ctx := context.Background()

	_, _, err := eng.IndexCode(ctx, store, IndexRequest{Summary: "no path"})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, _, err = eng.IndexCode(ctx, store, IndexRequest{FilePath: "x.go", Summary: "   "})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
