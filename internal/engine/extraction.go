package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/mnemon-dev/mnemon/internal/gitinfo"
	"github.com/mnemon-dev/mnemon/internal/llm"
	"github.com/mnemon-dev/mnemon/internal/storage"
	"github.com/mnemon-dev/mnemon/pkg/types"
)

// TranscriptIntake is the record the host runtime delivers at session end.
type TranscriptIntake struct {
	SessionID      string
	TranscriptPath string
	WorkingDir     string
}

// ExtractionReport summarizes what one session-end run did.
type ExtractionReport struct {
	NewMemories   int
	EdgesCreated  int
	CursorAdvance int
}

// RunExtraction drives the session-end pipeline: read the checkpoint
// cursor, read new transcript content past it, ask the text service for
// proposed memories, embed and insert them, auto-link edges, bump the
// consolidation counter, run the trigger check and lifecycle sweep,
// advance the cursor, and rebuild the push-surface artifact.
//
// Single-service failures degrade and continue: an embedding failure
// stores the memory unembedded for backfill, an extraction failure skips
// straight to the sweep. Only lock and store failures abort the run.
// The caller is expected to hold the store's cross-process lock.
func (e *Engine) RunExtraction(ctx context.Context, intake TranscriptIntake) (*ExtractionReport, error) {
	if intake.SessionID == "" {
		return nil, fmt.Errorf("%w: session ID is required", storage.ErrInvalidInput)
	}

	report := &ExtractionReport{}
	store := e.project

	cursor := 0
	if cp, err := store.GetCheckpoint(ctx, intake.SessionID); err == nil {
		cursor = int(cp.CursorPosition)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("extraction: checkpoint: %w", err)
	}

	newContent, newCursor := e.readTranscript(intake.TranscriptPath, cursor)
	gitCtx := gitinfo.Gather(ctx, intake.WorkingDir)

	if newContent != "" && e.textGen != nil {
		inserted := e.extractAndStore(ctx, store, intake, newContent, gitCtx)
		report.NewMemories = len(inserted)

		if len(inserted) > 0 {
			report.EdgesCreated = e.linkNewMemories(ctx, store, inserted)

			if err := setExtractionCount(ctx, store, extractionCount(ctx, store)+1); err != nil {
				log.Printf("engine: bump extraction counter: %v", err)
			}
			e.MaybeConsolidate(ctx, store)
		}
	}

	if err := e.Sweep(ctx, store, time.Now().UTC()); err != nil {
		log.Printf("engine: lifecycle sweep: %v", err)
	}

	if n := e.BackfillEmbeddings(ctx, store, backfillBatchSize); n > 0 {
		log.Printf("engine: backfilled %d embeddings", n)
	}

	// The cursor is saved last, so a run that dies mid-pipeline re-reads
	// the same transcript window next time. A run that merely degraded
	// (extraction call failed) still advances: re-reading the same window
	// forever would multiply duplicates once the service recovers.
	if newCursor > cursor {
		err := store.SaveCheckpoint(ctx, &types.ExtractionCheckpoint{
			SessionID:      intake.SessionID,
			CursorPosition: int64(newCursor),
		})
		if err != nil {
			return nil, fmt.Errorf("extraction: save checkpoint: %w", err)
		}
		report.CursorAdvance = newCursor - cursor
	}

	if e.config.ArtifactPath != "" {
		surface, err := e.BuildPushSurface(ctx, store, gitCtx.Branch)
		if err != nil {
			log.Printf("engine: push surface: %v", err)
		} else if err := WriteArtifact(e.config.ArtifactPath, surface); err != nil {
			log.Printf("engine: push surface artifact: %v", err)
		}
	}

	return report, nil
}

// readTranscript returns the transcript content past the cursor, capped to
// the configured window, and the cursor position after this run. A
// missing or short transcript yields no content, not an error.
func (e *Engine) readTranscript(path string, cursor int) (string, int) {
	if path == "" {
		return "", cursor
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("engine: read transcript %s: %v", path, err)
		return "", cursor
	}
	if cursor >= len(data) {
		return "", cursor
	}

	chunk := data[cursor:]
	if len(chunk) > e.config.MaxTranscriptChars {
		chunk = chunk[:e.config.MaxTranscriptChars]
	}
	return string(chunk), cursor + len(chunk)
}

// extractAndStore asks the text service for proposed memories and inserts
// the valid ones. Transcripts too large for one call are split into
// sentence-aware overlapping chunks, each extracted separately; a failed
// chunk is skipped, not fatal. Parsing is a closed-set boundary: malformed
// proposals are dropped by the parser.
func (e *Engine) extractAndStore(ctx context.Context, store storage.Store, intake TranscriptIntake, transcript string, gitCtx *gitinfo.Context) []*types.Memory {
	chunker := &llm.Chunker{}

	var proposed []llm.ProposedMemory
	for _, chunk := range chunker.Chunk(transcript) {
		batch, err := e.extractChunk(ctx, chunk, gitCtx)
		if err != nil {
			log.Printf("engine: extraction chunk failed, skipping: %v", err)
			continue
		}
		proposed = append(proposed, batch...)
	}

	var inserted []*types.Memory
	for _, p := range proposed {
		mem := &types.Memory{
			Content:       p.Content,
			Summary:       p.Summary,
			Type:          types.MemoryType(p.Type),
			Scope:         types.ScopeProject,
			Confidence:    p.Confidence,
			Priority:      p.Priority,
			Tags:          p.Tags,
			SourceType:    "extraction",
			SourceSession: intake.SessionID,
		}
		if gitCtx.Branch != "" {
			mem.SourceContext = map[string]interface{}{"branch": gitCtx.Branch}
		}

		mem.Embedding, mem.LocalEmbedding = e.embedText(ctx, mem.Content)

		if _, err := store.Insert(ctx, mem); err != nil {
			log.Printf("engine: insert extracted memory: %v", err)
			continue
		}
		inserted = append(inserted, mem)
	}
	return inserted
}

// extractChunk makes one bounded extraction call over one transcript chunk.
func (e *Engine) extractChunk(ctx context.Context, chunk string, gitCtx *gitinfo.Context) ([]llm.ProposedMemory, error) {
	callCtx, cancel := context.WithTimeout(ctx, extractionTimeout)
	defer cancel()

	response, err := e.textGen.Complete(callCtx, llm.ExtractionPrompt(chunk, gitCtx.Summary()))
	if err != nil {
		return nil, err
	}
	return llm.ParseExtractionResponse(response)
}

// linkNewMemories auto-links each freshly inserted memory against the
// active set. Inserts committed before linking starts, so every new
// memory sees the whole batch as candidates.
func (e *Engine) linkNewMemories(ctx context.Context, store storage.Store, inserted []*types.Memory) int {
	active, err := store.ListActive(ctx)
	if err != nil {
		log.Printf("engine: auto-link candidates: %v", err)
		return 0
	}

	edges := 0
	for _, mem := range inserted {
		result, err := e.AutoLink(ctx, store, mem, active)
		if err != nil {
			log.Printf("engine: auto-link %s: %v", mem.ID, err)
			continue
		}
		edges += len(result.Edges)
	}
	return edges
}
