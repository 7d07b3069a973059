package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemon-dev/mnemon/pkg/types"
)

// unit vectors at known angles: cos(a,b) is their dot product.
var (
	vecBase = []float32{1, 0, 0, 0}
	vec042  = []float32{0.42, 0.9075, 0, 0} // cos ≈ 0.42
	vec060  = []float32{0.60, 0.8, 0, 0}    // cos = 0.60
	vec080  = []float32{0.80, 0.6, 0, 0}    // cos = 0.80
	vecFar  = []float32{0, 1, 0, 0}         // cos = 0
)

func TestAutoLinkCreatesRelatesTo(t *testing.T) {
	eng, store := newTestEngine(t, nil)
	ctx := context.Background()

	existing := insertMemory(t, store, "existing decision", types.TypeDecision, vec042)
	newMem := insertMemory(t, store, "new decision", types.TypeDecision, vecBase)

	result, err := eng.AutoLink(ctx, store, newMem, []*types.Memory{existing})
	require.NoError(t, err)
	require.Len(t, result.Edges, 1)

	edge := result.Edges[0]
	assert.Equal(t, types.RelRelatesTo, edge.Type)
	assert.True(t, edge.Bidirectional)
	assert.InDelta(t, 0.42, edge.Strength, 0.01)
	assert.Empty(t, result.ConsolidationFlagged)
}

func TestAutoLinkIdempotentOnRerun(t *testing.T) {
	eng, store := newTestEngine(t, nil)
	ctx := context.Background()

	existing := insertMemory(t, store, "existing decision", types.TypeDecision, vec042)
	newMem := insertMemory(t, store, "new decision", types.TypeDecision, vecBase)

	first, err := eng.AutoLink(ctx, store, newMem, []*types.Memory{existing})
	require.NoError(t, err)
	require.Len(t, first.Edges, 1)

	second, err := eng.AutoLink(ctx, store, newMem, []*types.Memory{existing})
	require.NoError(t, err)
	assert.Empty(t, second.Edges, "re-run must not duplicate the edge")

	edges, err := store.EdgesFrom(ctx, newMem.ID)
	require.NoError(t, err)
	assert.Len(t, edges, 1)
}

func TestAutoLinkFlagsNearDuplicates(t *testing.T) {
	eng, store := newTestEngine(t, nil)
	ctx := context.Background()

	existing := insertMemory(t, store, "near duplicate", types.TypeDecision, vec080)
	newMem := insertMemory(t, store, "new decision", types.TypeDecision, vecBase)

	result, err := eng.AutoLink(ctx, store, newMem, []*types.Memory{existing})
	require.NoError(t, err)
	assert.Empty(t, result.Edges, "near-duplicates get no edge")
	assert.Equal(t, []string{existing.ID}, result.ConsolidationFlagged)
}

func TestAutoLinkIgnoresDissimilarAndCrossScope(t *testing.T) {
	eng, store := newTestEngine(t, nil)
	ctx := context.Background()

	dissimilar := insertMemory(t, store, "unrelated", types.TypeDecision, vecFar)
	crossScope := &types.Memory{
		Content: "global memory", Type: types.TypeDecision, Scope: types.ScopeGlobal,
		Confidence: 0.8, Priority: 5, Embedding: vec042,
	}
	_, err := store.Insert(ctx, crossScope)
	require.NoError(t, err)

	newMem := insertMemory(t, store, "new decision", types.TypeDecision, vecBase)

	result, err := eng.AutoLink(ctx, store, newMem, []*types.Memory{dissimilar, crossScope})
	require.NoError(t, err)
	assert.Empty(t, result.Edges)
	assert.Empty(t, result.ConsolidationFlagged)
}

func TestAutoLinkBatchesAmbiguousPairs(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		`{"classifications": [
			{"pair": 1, "relation_type": "refines", "strength": 0.6},
			{"pair": 2, "relation_type": "contradicts", "strength": 0.55}
		]}`,
	}}
	eng, store := newTestEngine(t, gen)
	ctx := context.Background()

	first := insertMemory(t, store, "first ambiguous", types.TypeDecision, vec060)
	second := insertMemory(t, store, "second ambiguous", types.TypeDecision, vec060)
	newMem := insertMemory(t, store, "new decision", types.TypeDecision, vecBase)

	result, err := eng.AutoLink(ctx, store, newMem, []*types.Memory{first, second})
	require.NoError(t, err)

	require.Equal(t, 1, gen.calls, "all ambiguous pairs share one classification call")
	require.Len(t, result.Edges, 2)
	assert.Equal(t, types.RelRefines, result.Edges[0].Type)
	assert.Equal(t, types.RelContradicts, result.Edges[1].Type)
}

func TestAutoLinkClassificationFailureIsNotFatal(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{assert.AnError}}
	eng, store := newTestEngine(t, gen)
	ctx := context.Background()

	ambiguous := insertMemory(t, store, "ambiguous", types.TypeDecision, vec060)
	newMem := insertMemory(t, store, "new decision", types.TypeDecision, vecBase)

	result, err := eng.AutoLink(ctx, store, newMem, []*types.Memory{ambiguous})
	require.NoError(t, err)
	assert.Empty(t, result.Edges)
}

func TestAutoLinkSkipsUnembeddedMemory(t *testing.T) {
	eng, store := newTestEngine(t, nil)
	ctx := context.Background()

	existing := insertMemory(t, store, "existing", types.TypeDecision, vec042)
	unembedded := insertMemory(t, store, "no vector yet", types.TypeDecision, nil)

	result, err := eng.AutoLink(ctx, store, unembedded, []*types.Memory{existing})
	require.NoError(t, err)
	assert.Empty(t, result.Edges)
}

func TestCentralityNormalization(t *testing.T) {
	_, store := newTestEngine(t, nil)
	ctx := context.Background()

	a := insertMemory(t, store, "hub", types.TypeDecision, nil)
	b := insertMemory(t, store, "spoke one", types.TypeDecision, nil)
	c := insertMemory(t, store, "spoke two", types.TypeDecision, nil)

	for _, source := range []*types.Memory{b, c} {
		_, err := store.InsertEdge(ctx, &types.Edge{
			SourceID: source.ID, TargetID: a.ID, Type: types.RelRelatesTo, Strength: 0.4,
		})
		require.NoError(t, err)
	}
	_, err := store.InsertEdge(ctx, &types.Edge{
		SourceID: a.ID, TargetID: b.ID, Type: types.RelDerivedFrom, Strength: 0.5,
	})
	require.NoError(t, err)

	centrality, err := Centrality(ctx, store)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, centrality[a.ID], 0.0001, "max in-degree normalizes to 1")
	assert.InDelta(t, 0.5, centrality[b.ID], 0.0001)
	assert.Zero(t, centrality[c.ID])
}

func TestCentralityEmptyGraph(t *testing.T) {
	_, store := newTestEngine(t, nil)

	centrality, err := Centrality(context.Background(), store)
	require.NoError(t, err)
	assert.Empty(t, centrality)
}
