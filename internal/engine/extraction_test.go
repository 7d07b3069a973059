package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemon-dev/mnemon/internal/llm"
	"github.com/mnemon-dev/mnemon/internal/storage"
	"github.com/mnemon-dev/mnemon/pkg/types"
)

const extractionTwoMemories = `{
  "memories": [
    {
      "type": "decision",
      "content": "Settled on cursor-based pagination for the listing endpoints.",
      "summary": "Cursor pagination for listings",
      "priority": 7,
      "tags": ["api"],
      "confidence": 0.9
    },
    {
      "type": "gotcha",
      "content": "The staging database truncates timestamps to seconds.",
      "summary": "Staging DB truncates timestamps",
      "priority": 6,
      "tags": ["database"],
      "confidence": 0.8
    }
  ]
}`

func writeTranscript(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transcript.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunExtractionStoresMemoriesAndAdvancesCursor(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{extractionTwoMemories}}
	eng, store := newTestEngine(t, gen)
	ctx := context.Background()

	transcript := "discussing pagination and staging quirks"
	intake := TranscriptIntake{
		SessionID:      "sess-1",
		TranscriptPath: writeTranscript(t, transcript),
	}

	report, err := eng.RunExtraction(ctx, intake)
	require.NoError(t, err)

	assert.Equal(t, 2, report.NewMemories)
	assert.Equal(t, len(transcript), report.CursorAdvance)

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	for _, m := range active {
		assert.Equal(t, "extraction", m.SourceType)
		assert.Equal(t, "sess-1", m.SourceSession)
		assert.True(t, m.HasEmbedding(), "extracted memories should be embedded")
	}

	cp, err := store.GetCheckpoint(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, int64(len(transcript)), cp.CursorPosition)

	count, err := store.GetMeta(ctx, metaExtractionsSinceConsolidation)
	require.NoError(t, err)
	assert.Equal(t, "1", count)
}

func TestRunExtractionResumesFromCheckpoint(t *testing.T) {
	// No embedders: unembedded memories skip auto-linking, so every
	// generator call here is an extraction call.
	gen := &scriptedGenerator{responses: []string{extractionTwoMemories, extractionTwoMemories}}
	store := newEngineTestStore(t)
	eng, err := New(store, nil, gen, nil, nil, Config{SnapshotDir: t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()

	path := writeTranscript(t, "first half of the session")
	intake := TranscriptIntake{SessionID: "sess-resume", TranscriptPath: path}

	_, err = eng.RunExtraction(ctx, intake)
	require.NoError(t, err)
	require.Len(t, gen.prompts, 1)

	appended := " and then the second half"
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(appended)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	report, err := eng.RunExtraction(ctx, intake)
	require.NoError(t, err)
	assert.Equal(t, len(appended), report.CursorAdvance)

	// Only the appended content goes into the second extraction prompt.
	require.Len(t, gen.prompts, 2)
	assert.Contains(t, gen.prompts[1], appended)
	assert.NotContains(t, gen.prompts[1], "first half")

	cp, err := store.GetCheckpoint(ctx, "sess-resume")
	require.NoError(t, err)
	assert.Equal(t, int64(len("first half of the session")+len(appended)), cp.CursorPosition)
}

func TestRunExtractionNoNewContent(t *testing.T) {
	gen := &scriptedGenerator{}
	eng, store := newTestEngine(t, gen)
	ctx := context.Background()

	path := writeTranscript(t, "stable transcript")
	require.NoError(t, store.SaveCheckpoint(ctx, &types.ExtractionCheckpoint{
		SessionID:      "sess-idle",
		CursorPosition: int64(len("stable transcript")),
	}))

	report, err := eng.RunExtraction(ctx, TranscriptIntake{
		SessionID:      "sess-idle",
		TranscriptPath: path,
	})
	require.NoError(t, err)

	assert.Equal(t, 0, report.NewMemories)
	assert.Equal(t, 0, report.CursorAdvance)
	assert.Zero(t, gen.calls, "no extraction call without new content")
}

func TestRunExtractionDegradesOnGeneratorFailure(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{errors.New("model overloaded")}}
	eng, store := newTestEngine(t, gen)
	ctx := context.Background()

	transcript := "content that will never be extracted this run"
	report, err := eng.RunExtraction(ctx, TranscriptIntake{
		SessionID:      "sess-degraded",
		TranscriptPath: writeTranscript(t, transcript),
	})
	require.NoError(t, err, "a failed extraction call degrades, it does not abort")

	assert.Equal(t, 0, report.NewMemories)

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	// The cursor still advances: the window was read and handed to the
	// pipeline, and re-extracting the same text on every future session
	// end would multiply duplicates, not recover anything.
	cp, err := store.GetCheckpoint(ctx, "sess-degraded")
	require.NoError(t, err)
	assert.Equal(t, int64(len(transcript)), cp.CursorPosition)
}

func TestRunExtractionRunsSweep(t *testing.T) {
	eng, store := newTestEngine(t, &scriptedGenerator{})
	ctx := context.Background()

	stale := insertMemory(t, store, "old progress note", types.TypeProgress, nil)
	require.NoError(t, store.Update(ctx, stale.ID, storage.MemoryPatch{
		Confidence:         storage.Float64(0.1),
		LowConfidenceSince: storage.Time(time.Now().UTC().Add(-20 * 24 * time.Hour)),
	}))

	_, err := eng.RunExtraction(ctx, TranscriptIntake{SessionID: "sess-sweep"})
	require.NoError(t, err)

	swept, err := store.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusArchived, swept.Status)
}

func TestRunExtractionWritesArtifact(t *testing.T) {
	artifact := filepath.Join(t.TempDir(), "MEMORY.md")
	store := newEngineTestStore(t)
	gen := &scriptedGenerator{responses: []string{extractionTwoMemories}}
	eng, err := New(store, nil, gen, llm.NewMockEmbedder(8), nil, Config{
		SnapshotDir:  t.TempDir(),
		ArtifactPath: artifact,
	})
	require.NoError(t, err)

	_, err = eng.RunExtraction(context.Background(), TranscriptIntake{
		SessionID:      "sess-artifact",
		TranscriptPath: writeTranscript(t, "session about pagination"),
	})
	require.NoError(t, err)

	data, err := os.ReadFile(artifact)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, ArtifactBeginMarker)
	assert.Contains(t, text, "Cursor pagination for listings")
}

func TestRunExtractionRequiresSessionID(t *testing.T) {
	eng, _ := newTestEngine(t, &scriptedGenerator{})
	_, err := eng.RunExtraction(context.Background(), TranscriptIntake{})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestRunExtractionMissingTranscript(t *testing.T) {
	eng, _ := newTestEngine(t, &scriptedGenerator{})
	report, err := eng.RunExtraction(context.Background(), TranscriptIntake{
		SessionID:      "sess-missing",
		TranscriptPath: filepath.Join(t.TempDir(), "does-not-exist.jsonl"),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, report.NewMemories)
	assert.Equal(t, 0, report.CursorAdvance)
}

func TestRunExtractionChunksLargeTranscript(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{extractionTwoMemories}}
	store := newEngineTestStore(t)
	eng, err := New(store, nil, gen, nil, nil, Config{SnapshotDir: t.TempDir()})
	require.NoError(t, err)

	// ~20k chars of sentences is well past one 3000-token chunk.
	transcript := strings.Repeat("We talked about the indexing pipeline at length. ", 400)
	_, err = eng.RunExtraction(context.Background(), TranscriptIntake{
		SessionID:      "sess-chunked",
		TranscriptPath: writeTranscript(t, transcript),
	})
	require.NoError(t, err)

	assert.Greater(t, gen.calls, 1, "large transcripts should be extracted chunk by chunk")
}

func TestReadTranscriptCapsWindow(t *testing.T) {
	store := newEngineTestStore(t)
	eng, err := New(store, nil, nil, nil, nil, Config{MaxTranscriptChars: 10})
	require.NoError(t, err)

	path := writeTranscript(t, strings.Repeat("a", 25))

	content, cursor := eng.readTranscript(path, 0)
	assert.Len(t, content, 10)
	assert.Equal(t, 10, cursor)

	content, cursor = eng.readTranscript(path, cursor)
	assert.Len(t, content, 10)
	assert.Equal(t, 20, cursor)

	content, cursor = eng.readTranscript(path, cursor)
	assert.Len(t, content, 5)
	assert.Equal(t, 25, cursor)
}
