package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemon-dev/mnemon/internal/storage"
	"github.com/mnemon-dev/mnemon/pkg/types"
)

func decayMemory(memType types.MemoryType, confidence float64, updatedDaysAgo int) *types.Memory {
	return &types.Memory{
		Type:       memType,
		Confidence: confidence,
		UpdatedAt:  time.Now().UTC().Add(-time.Duration(updatedDaysAgo) * 24 * time.Hour),
	}
}

func TestApplyDecayZeroDaysIsIdentity(t *testing.T) {
	m := decayMemory(types.TypeProgress, 0.9, 0)
	assert.InDelta(t, 0.9, ApplyDecay(m, m.UpdatedAt, 0), 1e-9)
}

func TestApplyDecayProgressTwoHalfLives(t *testing.T) {
	// 14 days at a 7-day half-life: 0.9 * 0.5^2 = 0.225.
	m := decayMemory(types.TypeProgress, 0.9, 14)
	decayed := ApplyDecay(m, time.Now().UTC(), 0)
	assert.InDelta(t, 0.225, decayed, 0.001)
}

func TestApplyDecayNonDecayingTypes(t *testing.T) {
	for _, memType := range []types.MemoryType{
		types.TypeArchitecture, types.TypeDecision, types.TypeCodeDescription, types.TypeCode,
	} {
		m := decayMemory(memType, 0.7, 365)
		assert.InDelta(t, 0.7, ApplyDecay(m, time.Now().UTC(), 0), 1e-9, string(memType))
	}
}

func TestApplyDecayPinnedSkipped(t *testing.T) {
	m := decayMemory(types.TypeProgress, 0.9, 100)
	m.Pinned = true
	assert.InDelta(t, 0.9, ApplyDecay(m, time.Now().UTC(), 0), 1e-9)
}

func TestApplyDecayHalfLifeBoosts(t *testing.T) {
	now := time.Now().UTC()

	// 7 days at half-life 7d halves the confidence.
	plain := decayMemory(types.TypeProgress, 0.8, 7)
	assert.InDelta(t, 0.4, ApplyDecay(plain, now, 0), 0.001)

	// Heavy access doubles the half-life to 14d: only one quarter-life.
	accessed := decayMemory(types.TypeProgress, 0.8, 7)
	accessed.AccessCount = 11
	assert.InDelta(t, 0.8*0.7071, ApplyDecay(accessed, now, 0), 0.01)

	// Access and centrality boosts stack: half-life 28d.
	central := decayMemory(types.TypeProgress, 0.8, 7)
	central.AccessCount = 11
	assert.InDelta(t, 0.8*0.8409, ApplyDecay(central, now, 0.6), 0.01)
}

func TestSweepStatusTransitions(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-15 * 24 * time.Hour)
	recent := now.Add(-2 * 24 * time.Hour)

	active := &types.Memory{Status: types.StatusActive, UpdatedAt: recent}
	assert.Equal(t, SweepStartClock, SweepStatus(active, 0.2, now))
	assert.Equal(t, SweepKeep, SweepStatus(active, 0.5, now))

	// No clock running, but the memory sat untouched past the window.
	untouched := &types.Memory{Status: types.StatusActive, UpdatedAt: past}
	assert.Equal(t, SweepArchive, SweepStatus(untouched, 0.2, now))
	assert.Equal(t, SweepKeep, SweepStatus(untouched, 0.5, now))

	clocked := &types.Memory{Status: types.StatusActive, LowConfidenceSince: &recent}
	assert.Equal(t, SweepKeep, SweepStatus(clocked, 0.2, now))
	assert.Equal(t, SweepClearClock, SweepStatus(clocked, 0.5, now))

	expired := &types.Memory{Status: types.StatusActive, LowConfidenceSince: &past}
	assert.Equal(t, SweepArchive, SweepStatus(expired, 0.2, now))

	pinned := &types.Memory{Status: types.StatusActive, Pinned: true, LowConfidenceSince: &past}
	assert.Equal(t, SweepKeep, SweepStatus(pinned, 0.1, now))

	oldArchive := now.Add(-31 * 24 * time.Hour)
	archived := &types.Memory{Status: types.StatusArchived, ArchivedAt: &oldArchive}
	assert.Equal(t, SweepPrune, SweepStatus(archived, 0.2, now))

	freshArchive := now.Add(-5 * 24 * time.Hour)
	archived = &types.Memory{Status: types.StatusArchived, ArchivedAt: &freshArchive}
	assert.Equal(t, SweepKeep, SweepStatus(archived, 0.2, now))
}

func TestSweepArchivesDecayedProgress(t *testing.T) {
	eng, store := newTestEngine(t, nil)
	ctx := context.Background()

	m := insertMemory(t, store, "finished wiring the retry queue", types.TypeProgress, nil)

	// Confidence already below the threshold with the archive clock
	// started past the 14-day window.
	past := time.Now().UTC().Add(-15 * 24 * time.Hour)
	require.NoError(t, store.Update(ctx, m.ID, storage.MemoryPatch{
		Confidence:         storage.Float64(0.25),
		LowConfidenceSince: &past,
	}))

	require.NoError(t, eng.Sweep(ctx, store, time.Now().UTC()))

	got, err := store.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusArchived, got.Status)
	assert.NotNil(t, got.ArchivedAt)
}

func TestSweepArchivesUntouchedProgress(t *testing.T) {
	eng, store := newTestEngine(t, nil)
	ctx := context.Background()

	// Full-confidence progress memory last touched 14 days ago: two
	// half-lives decay 0.9 to 0.225, and the untouched span already
	// covers the archival window.
	m := &types.Memory{
		Content:    "rewriting the migration runner",
		Type:       types.TypeProgress,
		Confidence: 0.9,
		UpdatedAt:  time.Now().UTC().Add(-14 * 24 * time.Hour),
	}
	_, err := store.Insert(ctx, m)
	require.NoError(t, err)

	require.NoError(t, eng.Sweep(ctx, store, time.Now().UTC()))

	got, err := store.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusArchived, got.Status)
	assert.NotNil(t, got.ArchivedAt)
}

func TestSweepPrunesStaleArchived(t *testing.T) {
	eng, store := newTestEngine(t, nil)
	ctx := context.Background()

	m := insertMemory(t, store, "long forgotten", types.TypeContext, nil)
	require.NoError(t, store.SetStatus(ctx, m.ID, types.StatusArchived))

	old := time.Now().UTC().Add(-31 * 24 * time.Hour)
	require.NoError(t, store.Update(ctx, m.ID, storage.MemoryPatch{ArchivedAt: &old}))

	require.NoError(t, eng.Sweep(ctx, store, time.Now().UTC()))

	_, err := store.Get(ctx, m.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSweepClearsClockOnRecovery(t *testing.T) {
	eng, store := newTestEngine(t, nil)
	ctx := context.Background()

	m := insertMemory(t, store, "healthy decision", types.TypeDecision, nil)
	past := time.Now().UTC().Add(-5 * 24 * time.Hour)
	require.NoError(t, store.Update(ctx, m.ID, storage.MemoryPatch{LowConfidenceSince: &past}))

	require.NoError(t, eng.Sweep(ctx, store, time.Now().UTC()))

	got, err := store.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusActive, got.Status)
	assert.Nil(t, got.LowConfidenceSince)
}
