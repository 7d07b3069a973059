package sqlite

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemon-dev/mnemon/internal/storage"
	"github.com/mnemon-dev/mnemon/pkg/types"
)

func TestInsertAndGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	mem := &types.Memory{
		Content:       "Auth middleware validates JWTs before the router sees the request",
		Summary:       "JWT validation happens in middleware",
		Type:          types.TypeArchitecture,
		Scope:         types.ScopeProject,
		Embedding:     []float32{0.1, 0.2, 0.3, 0.4},
		Confidence:    0.9,
		Priority:      8,
		Pinned:        true,
		SourceType:    "extraction",
		SourceSession: "sess-42",
		SourceContext: map[string]interface{}{"branch": "feature/auth"},
		Tags:          []string{"auth", "middleware"},
	}

	id, err := store.Insert(ctx, mem)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, mem.Content, got.Content)
	assert.Equal(t, mem.Summary, got.Summary)
	assert.Equal(t, types.TypeArchitecture, got.Type)
	assert.Equal(t, types.ScopeProject, got.Scope)
	assert.Equal(t, mem.Embedding, got.Embedding)
	assert.Nil(t, got.LocalEmbedding)
	assert.InDelta(t, 0.9, got.Confidence, 1e-9)
	assert.Equal(t, 8, got.Priority)
	assert.True(t, got.Pinned)
	assert.Equal(t, "extraction", got.SourceType)
	assert.Equal(t, "sess-42", got.SourceSession)
	assert.Equal(t, "feature/auth", got.SourceContext["branch"])
	assert.Equal(t, []string{"auth", "middleware"}, got.Tags)
	assert.Equal(t, types.StatusActive, got.Status)
	assert.Equal(t, 0, got.AccessCount)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestInsertDefaults(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	id, err := store.Insert(ctx, &types.Memory{
		Content: "prefers table-driven tests",
		Type:    types.TypePattern,
	})
	require.NoError(t, err)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.ScopeProject, got.Scope)
	assert.Equal(t, types.StatusActive, got.Status)
	assert.Equal(t, 5, got.Priority)
}

func TestInsertValidation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Insert(ctx, &types.Memory{Content: "", Type: types.TypeDecision})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = store.Insert(ctx, &types.Memory{Content: "x", Type: "bogus"})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestInsertRejectsOutOfRangeValues(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Insert(ctx, &types.Memory{Content: "x", Type: types.TypeContext, Confidence: 1.2})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = store.Insert(ctx, &types.Memory{Content: "x", Type: types.TypeContext, Confidence: -0.1})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = store.Insert(ctx, &types.Memory{Content: "x", Type: types.TypeContext, Priority: 20})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestUpdateRejectsOutOfRangeValues(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	id, err := store.Insert(ctx, &types.Memory{Content: "ranged", Type: types.TypeContext, Confidence: 0.5})
	require.NoError(t, err)

	err = store.Update(ctx, id, storage.MemoryPatch{Confidence: storage.Float64(1.5)})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	err = store.Update(ctx, id, storage.MemoryPatch{Priority: storage.Int(0)})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestInsertRejectsEmbeddedCodeMemory(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Insert(ctx, &types.Memory{
		Content:   "func Add(a, b int) int { return a + b }",
		Type:      types.TypeCode,
		Embedding: []float32{0.1, 0.2},
	})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = store.Insert(ctx, &types.Memory{
		Content:        "func Add(a, b int) int { return a + b }",
		Type:           types.TypeCode,
		LocalEmbedding: []float32{0.1, 0.2},
	})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	// Without vectors a code memory is fine.
	_, err = store.Insert(ctx, &types.Memory{
		Content: "func Add(a, b int) int { return a + b }",
		Type:    types.TypeCode,
	})
	assert.NoError(t, err)
}

func TestInsertTruncatesLongSummary(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	id, err := store.Insert(ctx, &types.Memory{
		Content: "long summary case",
		Summary: strings.Repeat("a", 500),
		Type:    types.TypeContext,
	})
	require.NoError(t, err)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.LessOrEqual(t, len([]rune(got.Summary)), types.SummaryMaxLen)
}

func TestUpdatePatch(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	id, err := store.Insert(ctx, newTestMemory("patch target"))
	require.NoError(t, err)

	err = store.Update(ctx, id, storage.MemoryPatch{
		Confidence: storage.Float64(0.35),
		Priority:   storage.Int(9),
		Tags:       []string{"updated"},
		Embedding:  []float32{1, 0, 0},
	})
	require.NoError(t, err)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.InDelta(t, 0.35, got.Confidence, 1e-9)
	assert.Equal(t, 9, got.Priority)
	assert.Equal(t, []string{"updated"}, got.Tags)
	assert.Equal(t, []float32{1, 0, 0}, got.Embedding)
	// Untouched fields survive.
	assert.Equal(t, "patch target", got.Content)
}

func TestUpdateLowConfidenceClock(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	id, err := store.Insert(ctx, newTestMemory("decaying"))
	require.NoError(t, err)

	since := time.Now().UTC().Add(-15 * 24 * time.Hour)
	err = store.Update(ctx, id, storage.MemoryPatch{
		Confidence:         storage.Float64(0.2),
		LowConfidenceSince: &since,
	})
	require.NoError(t, err)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got.LowConfidenceSince)
	assert.WithinDuration(t, since, *got.LowConfidenceSince, time.Second)

	err = store.Update(ctx, id, storage.MemoryPatch{
		Confidence:         storage.Float64(0.6),
		ClearLowConfidence: true,
	})
	require.NoError(t, err)

	got, err = store.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got.LowConfidenceSince)
}

func TestUpdateMissingMemory(t *testing.T) {
	store := newTestStore(t)

	err := store.Update(context.Background(), "no-such-id", storage.MemoryPatch{
		Priority: storage.Int(1),
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSetStatusArchiveAndReactivate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	id, err := store.Insert(ctx, newTestMemory("lifecycle"))
	require.NoError(t, err)

	require.NoError(t, store.SetStatus(ctx, id, types.StatusArchived))
	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusArchived, got.Status)
	require.NotNil(t, got.ArchivedAt)

	require.NoError(t, store.SetStatus(ctx, id, types.StatusActive))
	got, err = store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusActive, got.Status)
	assert.Nil(t, got.ArchivedAt)
	assert.Nil(t, got.LowConfidenceSince)
}

func TestTouchIncrementsAndRestores(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	id, err := store.Insert(ctx, newTestMemory("touched"))
	require.NoError(t, err)
	require.NoError(t, store.SetStatus(ctx, id, types.StatusArchived))

	require.NoError(t, store.Touch(ctx, id))
	require.NoError(t, store.Touch(ctx, id))

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, got.AccessCount)
	assert.Equal(t, types.StatusActive, got.Status)
	assert.Nil(t, got.ArchivedAt)
	require.NotNil(t, got.LastAccessedAt)
	assert.WithinDuration(t, time.Now().UTC(), *got.LastAccessedAt, 5*time.Second)
}

func TestTouchDoesNotRestoreSuperseded(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	id, err := store.Insert(ctx, newTestMemory("old version"))
	require.NoError(t, err)
	require.NoError(t, store.SetStatus(ctx, id, types.StatusSuperseded))

	require.NoError(t, store.Touch(ctx, id))

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuperseded, got.Status)
}

func TestListByStatusAndCount(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	a, err := store.Insert(ctx, newTestMemory("first"))
	require.NoError(t, err)
	_, err = store.Insert(ctx, newTestMemory("second"))
	require.NoError(t, err)
	require.NoError(t, store.SetStatus(ctx, a, types.StatusArchived))

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	archived, err := store.ListByStatus(ctx, types.StatusArchived)
	require.NoError(t, err)
	assert.Len(t, archived, 1)

	count, err := store.CountActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestListPendingEmbedding(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Insert(ctx, newTestMemory("needs vector"))
	require.NoError(t, err)

	embedded := newTestMemory("has vector")
	embedded.Embedding = []float32{0.1, 0.2}
	_, err = store.Insert(ctx, embedded)
	require.NoError(t, err)

	// Code memories never get embeddings, so never show up as pending.
	_, err = store.Insert(ctx, &types.Memory{Content: "snippet", Type: types.TypeCode})
	require.NoError(t, err)

	pending, err := store.ListPendingEmbedding(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "needs vector", pending[0].Content)
}

func TestDeleteRemovesRow(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	id, err := store.Insert(ctx, newTestMemory("doomed"))
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, id))

	_, err = store.Get(ctx, id)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.ErrorIs(t, store.Delete(ctx, id), storage.ErrNotFound)
}
