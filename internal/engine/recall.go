package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/mnemon-dev/mnemon/internal/storage"
	"github.com/mnemon-dev/mnemon/pkg/types"
)

const (
	// recallLimit caps how many results one recall returns across both
	// scopes.
	recallLimit = 10

	// recallCandidates is how many candidates each store contributes
	// before ranking narrows them.
	recallCandidates = 20

	// Recall ordering blends search relevance with the stored ranking
	// signals so a stale-but-matching memory doesn't outrank a central,
	// high-confidence one.
	recallWeightSearch = 0.6
	recallWeightRank   = 0.4
)

// RecallResult is one ranked recall hit.
type RecallResult struct {
	Memory *types.Memory

	// Score is the blended relevance in [0,1].
	Score float64
}

// Recall answers a free-text query with at most 10 ranked results merged
// across the project and global stores. Vector search is used when an
// embedding for the query can be produced; otherwise, or when vector
// search finds nothing, keyword search answers — embedding-service
// unavailability is never an error here. Each returned memory's access
// count is bumped, which also restores archived memories to active.
func (e *Engine) Recall(ctx context.Context, query string) ([]RecallResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: recall query is empty", storage.ErrInvalidInput)
	}

	stores := []storage.Store{e.project}
	if e.global != nil {
		stores = append(stores, e.global)
	}

	var results []RecallResult
	seen := make(map[string]bool)
	for _, store := range stores {
		hits, err := e.recallFromStore(ctx, store, query)
		if err != nil {
			log.Printf("engine: recall from store: %v", err)
			continue
		}
		for _, hit := range hits {
			if seen[hit.Memory.ID] {
				continue
			}
			seen[hit.Memory.ID] = true
			results = append(results, hit)
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Memory.CreatedAt.After(results[j].Memory.CreatedAt)
	})
	if len(results) > recallLimit {
		results = results[:recallLimit]
	}

	// Access side effect: bump the counter and restore archived hits.
	for _, r := range results {
		if err := e.project.Touch(ctx, r.Memory.ID); err != nil {
			if e.global == nil {
				log.Printf("engine: touch %s: %v", r.Memory.ID, err)
				continue
			}
			if gerr := e.global.Touch(ctx, r.Memory.ID); gerr != nil {
				log.Printf("engine: touch %s: %v", r.Memory.ID, gerr)
			}
		}
	}

	return results, nil
}

// recallFromStore gathers scored candidates from one store and applies the
// ranking overlay.
func (e *Engine) recallFromStore(ctx context.Context, store storage.Store, query string) ([]RecallResult, error) {
	scored := e.vectorCandidates(ctx, store, query)
	if len(scored) == 0 {
		keyword, err := store.SearchByKeyword(ctx, query, recallCandidates)
		if err != nil {
			return nil, err
		}
		scored = normalizeKeywordScores(keyword)
	}
	if len(scored) == 0 {
		return nil, nil
	}

	centrality, err := Centrality(ctx, store)
	if err != nil {
		return nil, err
	}

	memories := make([]*types.Memory, len(scored))
	for i, s := range scored {
		memories[i] = s.Memory
	}
	rc := RankContext{Centrality: centrality, MaxAccessCount: MaxAccessCount(memories)}

	results := make([]RecallResult, 0, len(scored))
	for _, s := range scored {
		blended := recallWeightSearch*clamp01(s.Score) + recallWeightRank*Score(s.Memory, rc)
		results = append(results, RecallResult{Memory: s.Memory, Score: blended})
	}
	return results, nil
}

// vectorCandidates embeds the query and searches whichever vector kinds an
// embedder could serve. Failures degrade to an empty slice.
func (e *Engine) vectorCandidates(ctx context.Context, store storage.Store, query string) []storage.ScoredMemory {
	var out []storage.ScoredMemory
	seen := make(map[string]bool)

	search := func(vec []float32, kind storage.EmbeddingKind) {
		hits, err := store.SearchByVector(ctx, vec, kind, recallCandidates)
		if err != nil {
			log.Printf("engine: %s vector search: %v", kind, err)
			return
		}
		for _, h := range hits {
			if !seen[h.Memory.ID] {
				seen[h.Memory.ID] = true
				out = append(out, h)
			}
		}
	}

	if e.remoteEmbedder != nil {
		if vec, err := e.remoteEmbedder.Embed(ctx, query); err == nil && len(vec) > 0 {
			search(vec, storage.EmbeddingRemote)
		} else if err != nil {
			log.Printf("engine: query embedding failed, falling back: %v", err)
		}
	}
	if e.localEmbedder != nil {
		if vec, err := e.localEmbedder.Embed(ctx, query); err == nil && len(vec) > 0 {
			search(vec, storage.EmbeddingLocal)
		}
	}
	return out
}

// normalizeKeywordScores maps the index's native rank values onto [0,1] by
// dividing by the best rank in the batch.
func normalizeKeywordScores(hits []storage.ScoredMemory) []storage.ScoredMemory {
	best := 0.0
	for _, h := range hits {
		if h.Score > best {
			best = h.Score
		}
	}
	if best <= 0 {
		return hits
	}
	out := make([]storage.ScoredMemory, len(hits))
	for i, h := range hits {
		out[i] = storage.ScoredMemory{Memory: h.Memory, Score: h.Score / best}
	}
	return out
}

// BackfillEmbeddings drains the pending-embedding queue for a store under
// the engine's rate limiter. Run opportunistically after recall and during
// session-end; stops at the first embedding failure since the service is
// evidently unavailable.
func (e *Engine) BackfillEmbeddings(ctx context.Context, store storage.Store, limit int) int {
	if e.remoteEmbedder == nil && e.localEmbedder == nil {
		return 0
	}

	pending, err := store.ListPendingEmbedding(ctx, limit)
	if err != nil {
		log.Printf("engine: backfill list: %v", err)
		return 0
	}

	done := 0
	for _, m := range pending {
		if err := e.backfillLimiter.Wait(ctx); err != nil {
			return done
		}

		remote, local := e.embedText(ctx, m.Content)
		if remote == nil && local == nil {
			return done
		}

		patch := storage.MemoryPatch{Embedding: remote, LocalEmbedding: local}
		if err := store.Update(ctx, m.ID, patch); err != nil {
			log.Printf("engine: backfill update %s: %v", m.ID, err)
			continue
		}
		done++
	}
	return done
}
