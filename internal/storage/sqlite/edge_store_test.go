package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemon-dev/mnemon/internal/storage"
	"github.com/mnemon-dev/mnemon/pkg/types"
)

func insertPair(t *testing.T, store *Store) (string, string) {
	t.Helper()
	ctx := context.Background()
	a, err := store.Insert(ctx, newTestMemory("edge source"))
	require.NoError(t, err)
	b, err := store.Insert(ctx, newTestMemory("edge target"))
	require.NoError(t, err)
	return a, b
}

func TestInsertEdgeRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	a, b := insertPair(t, store)

	id, err := store.InsertEdge(ctx, &types.Edge{
		SourceID:      a,
		TargetID:      b,
		Type:          types.RelRelatesTo,
		Strength:      0.42,
		Bidirectional: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	from, err := store.EdgesFrom(ctx, a)
	require.NoError(t, err)
	require.Len(t, from, 1)
	assert.Equal(t, b, from[0].TargetID)
	assert.Equal(t, types.RelRelatesTo, from[0].Type)
	assert.InDelta(t, 0.42, from[0].Strength, 1e-9)
	assert.True(t, from[0].Bidirectional)

	to, err := store.EdgesTo(ctx, b)
	require.NoError(t, err)
	assert.Len(t, to, 1)
}

func TestInsertEdgeDuplicateTriple(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	a, b := insertPair(t, store)

	edge := &types.Edge{SourceID: a, TargetID: b, Type: types.RelRelatesTo, Strength: 0.5}
	_, err := store.InsertEdge(ctx, edge)
	require.NoError(t, err)

	_, err = store.InsertEdge(ctx, &types.Edge{
		SourceID: a, TargetID: b, Type: types.RelRelatesTo, Strength: 0.9,
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateEdge)

	// Same endpoints, different relation type is a distinct edge.
	_, err = store.InsertEdge(ctx, &types.Edge{
		SourceID: a, TargetID: b, Type: types.RelContradicts, Strength: 0.5,
	})
	assert.NoError(t, err)

	// Reversed direction is also distinct at the storage level.
	_, err = store.InsertEdge(ctx, &types.Edge{
		SourceID: b, TargetID: a, Type: types.RelRelatesTo, Strength: 0.5,
	})
	assert.NoError(t, err)
}

func TestInsertEdgeValidation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	a, b := insertPair(t, store)

	_, err := store.InsertEdge(ctx, &types.Edge{SourceID: a, TargetID: b, Type: "bogus"})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = store.InsertEdge(ctx, &types.Edge{SourceID: a, TargetID: a, Type: types.RelRelatesTo})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = store.InsertEdge(ctx, &types.Edge{
		SourceID: a, TargetID: b, Type: types.RelRelatesTo, Strength: 1.5,
	})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	// Dangling endpoint trips the foreign key.
	_, err = store.InsertEdge(ctx, &types.Edge{
		SourceID: a, TargetID: "no-such-memory", Type: types.RelRelatesTo, Strength: 0.5,
	})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestEdgeExistsHonorsBidirectional(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	a, b := insertPair(t, store)

	_, err := store.InsertEdge(ctx, &types.Edge{
		SourceID: a, TargetID: b, Type: types.RelRelatesTo, Strength: 0.5, Bidirectional: true,
	})
	require.NoError(t, err)

	exists, err := store.EdgeExists(ctx, a, b, types.RelRelatesTo)
	require.NoError(t, err)
	assert.True(t, exists)

	// Bidirectional edges match the reversed query too.
	exists, err = store.EdgeExists(ctx, b, a, types.RelRelatesTo)
	require.NoError(t, err)
	assert.True(t, exists)

	c, err := store.Insert(ctx, newTestMemory("directed target"))
	require.NoError(t, err)
	_, err = store.InsertEdge(ctx, &types.Edge{
		SourceID: a, TargetID: c, Type: types.RelDerivedFrom, Strength: 0.5,
	})
	require.NoError(t, err)

	exists, err = store.EdgeExists(ctx, c, a, types.RelDerivedFrom)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestInDegrees(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	a, b := insertPair(t, store)
	c, err := store.Insert(ctx, newTestMemory("hub"))
	require.NoError(t, err)

	_, err = store.InsertEdge(ctx, &types.Edge{
		SourceID: a, TargetID: c, Type: types.RelRelatesTo, Strength: 0.5,
	})
	require.NoError(t, err)
	_, err = store.InsertEdge(ctx, &types.Edge{
		SourceID: b, TargetID: c, Type: types.RelDerivedFrom, Strength: 0.5,
	})
	require.NoError(t, err)
	// Bidirectional: both ends gain a degree.
	_, err = store.InsertEdge(ctx, &types.Edge{
		SourceID: a, TargetID: b, Type: types.RelRelatesTo, Strength: 0.5, Bidirectional: true,
	})
	require.NoError(t, err)

	degrees, err := store.InDegrees(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, degrees[c])
	assert.Equal(t, 1, degrees[b])
	assert.Equal(t, 1, degrees[a])
}

func TestInDegreesIgnoresArchivedEndpoints(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	a, b := insertPair(t, store)

	_, err := store.InsertEdge(ctx, &types.Edge{
		SourceID: a, TargetID: b, Type: types.RelRelatesTo, Strength: 0.5,
	})
	require.NoError(t, err)
	require.NoError(t, store.SetStatus(ctx, a, types.StatusArchived))

	degrees, err := store.InDegrees(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, degrees[b])
}

func TestDeleteEdgeCascadeOnMemoryDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	a, b := insertPair(t, store)

	id, err := store.InsertEdge(ctx, &types.Edge{
		SourceID: a, TargetID: b, Type: types.RelRelatesTo, Strength: 0.5,
	})
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, a))

	from, err := store.EdgesFrom(ctx, a)
	require.NoError(t, err)
	assert.Empty(t, from)

	assert.ErrorIs(t, store.DeleteEdge(ctx, id), storage.ErrNotFound)
}
