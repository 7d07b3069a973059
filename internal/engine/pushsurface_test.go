package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemon-dev/mnemon/internal/storage"
	"github.com/mnemon-dev/mnemon/pkg/types"
)

func TestBuildPushSurfaceTiers(t *testing.T) {
	eng, store := newTestEngine(t, nil)
	ctx := context.Background()

	insertMemory(t, store, "event sourcing for the audit trail", types.TypeArchitecture, nil)

	branchMem := insertMemory(t, store, "auth flow changes on this branch", types.TypeContext, nil)
	require.NoError(t, store.Update(ctx, branchMem.ID, storage.MemoryPatch{
		SourceContext: map[string]interface{}{"branch": "feature/auth"},
	}))

	prose := &types.Memory{
		Content: "session middleware", Summary: "session middleware",
		Type: types.TypeCodeDescription, Scope: types.ScopeProject,
		Confidence: 1.0, Priority: 5,
		SourceContext: map[string]interface{}{"file_path": "internal/web/session.go"},
	}
	_, err := store.Insert(ctx, prose)
	require.NoError(t, err)

	surface, err := eng.BuildPushSurface(ctx, store, "feature/auth")
	require.NoError(t, err)

	assert.Contains(t, surface, "## Critical")
	assert.Contains(t, surface, "event sourcing")
	assert.Contains(t, surface, "## Context-Specific (feature/auth)")
	assert.Contains(t, surface, "auth flow changes")
	assert.Contains(t, surface, "## Code Index")
	assert.Contains(t, surface, "`internal/web/session.go`")
}

func TestPushSurfaceExcludesRawCode(t *testing.T) {
	eng, store := newTestEngine(t, nil)
	ctx := context.Background()

	code := &types.Memory{
		Content: "func secret() {}", Type: types.TypeCode,
		Scope: types.ScopeProject, Confidence: 1.0, Priority: 5,
	}
	_, err := store.Insert(ctx, code)
	require.NoError(t, err)

	surface, err := eng.BuildPushSurface(ctx, store, "")
	require.NoError(t, err)
	assert.NotContains(t, surface, "func secret")
}

func TestPushSurfacePinnedAlwaysIncluded(t *testing.T) {
	store := newEngineTestStore(t)
	eng, err := New(store, nil, nil, nil, nil, Config{TokenBudget: 20})
	require.NoError(t, err)
	ctx := context.Background()

	pinned := insertMemory(t, store, "pinned deployment runbook that must always appear on the surface regardless of budget pressure", types.TypeDecision, nil)
	require.NoError(t, store.Update(ctx, pinned.ID, storage.MemoryPatch{
		Pinned:     storage.Bool(true),
		Confidence: storage.Float64(0.1),
	}))

	for i := 0; i < 10; i++ {
		insertMemory(t, store, strings.Repeat("high scoring filler content ", 6), types.TypeDecision, nil)
	}

	surface, err := eng.BuildPushSurface(ctx, store, "")
	require.NoError(t, err)
	assert.Contains(t, surface, "pinned deployment runbook")
}

func TestSelectForSurfaceBudgetSingleOverflow(t *testing.T) {
	var memories []*types.Memory
	for i := 0; i < 20; i++ {
		memories = append(memories, &types.Memory{
			ID:         string(rune('a' + i)),
			Content:    strings.Repeat("x", 400),
			Summary:    strings.Repeat("x", 190),
			Type:       types.TypeDecision,
			Confidence: 0.9,
			Priority:   5,
		})
	}

	// Each entry is ~52 tokens. The first fits under the 100-token
	// budget, the second crosses it and is kept whole, and nothing is
	// added after the crossing.
	selected := selectForSurface(memories, RankContext{}, 100)
	assert.Len(t, selected, 2)
}

func TestWriteArtifactPreservesOutsideMarkers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "MEMORY.md")
	manual := "# My notes\n\nhand-written intro\n\n" +
		ArtifactBeginMarker + "\nold generated content\n" + ArtifactEndMarker +
		"\n\nhand-written footer\n"
	require.NoError(t, os.WriteFile(path, []byte(manual), 0o644))

	require.NoError(t, WriteArtifact(path, "new generated content\n"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)

	assert.Contains(t, text, "hand-written intro")
	assert.Contains(t, text, "hand-written footer")
	assert.Contains(t, text, "new generated content")
	assert.NotContains(t, text, "old generated content")

	// Regenerating again is stable.
	require.NoError(t, WriteArtifact(path, "third generation\n"))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hand-written footer")
	assert.Equal(t, 1, strings.Count(string(data), ArtifactBeginMarker))
}

func TestWriteArtifactCreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "MEMORY.md")
	require.NoError(t, WriteArtifact(path, "fresh content\n"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), ArtifactBeginMarker))
	assert.Contains(t, string(data), "fresh content")
}

func TestWriteArtifactAppendsMarkersToUnmarkedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "MEMORY.md")
	require.NoError(t, os.WriteFile(path, []byte("existing user file"), 0o644))

	require.NoError(t, WriteArtifact(path, "generated\n"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.HasPrefix(text, "existing user file"))
	assert.Contains(t, text, ArtifactBeginMarker)
	assert.Contains(t, text, "generated")
}
