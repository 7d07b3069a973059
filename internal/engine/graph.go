package engine

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/mnemon-dev/mnemon/internal/llm"
	"github.com/mnemon-dev/mnemon/internal/storage"
	"github.com/mnemon-dev/mnemon/internal/vectormath"
	"github.com/mnemon-dev/mnemon/pkg/types"
)

// Auto-link similarity bands. Below the floor two memories are unrelated;
// above the consolidation threshold they are near-duplicates and belong to
// the consolidation engine, not the edge graph.
const (
	autoLinkFloor          = 0.1
	autoLinkCeiling        = 0.5
	consolidationThreshold = 0.7
)

// LinkResult reports what AutoLink did for one new memory.
type LinkResult struct {
	// Edges are the edges created, both the similarity-banded relates_to
	// edges and any classified refinements.
	Edges []*types.Edge

	// ConsolidationFlagged holds IDs of existing memories whose similarity
	// to the new memory reached the consolidation threshold.
	ConsolidationFlagged []string
}

// memorySimilarity computes cosine similarity between two memories over
// whichever embedding kind both carry, preferring the remote vector.
// Memories with no comparable vectors score 0.
func memorySimilarity(a, b *types.Memory) float64 {
	if len(a.Embedding) > 0 && len(b.Embedding) > 0 {
		if sim, err := vectormath.CosineSimilarity(a.Embedding, b.Embedding); err == nil {
			return sim
		}
	}
	if len(a.LocalEmbedding) > 0 && len(b.LocalEmbedding) > 0 {
		if sim, err := vectormath.CosineSimilarity(a.LocalEmbedding, b.LocalEmbedding); err == nil {
			return sim
		}
	}
	return 0
}

// AutoLink relates a newly inserted memory to existing same-scope
// candidates by embedding similarity:
//
//	(0.1, 0.5)  → bidirectional relates_to edge, strength = similarity
//	[0.5, 0.7)  → ambiguous; batched into one classification call
//	≥ 0.7       → flagged for consolidation, no edge
//
// All ambiguous pairs go out in a single classification request rather
// than one call per pair. Classification results with types outside the
// allowed set or strengths outside [0,1] are discarded by the parser.
// A duplicate edge on re-run is not an error.
func (e *Engine) AutoLink(ctx context.Context, store storage.Store, newMem *types.Memory, candidates []*types.Memory) (*LinkResult, error) {
	result := &LinkResult{}
	if !newMem.HasEmbedding() {
		return result, nil
	}

	var ambiguous []*types.Memory
	for _, candidate := range candidates {
		if candidate.ID == newMem.ID || candidate.Scope != newMem.Scope {
			continue
		}

		sim := memorySimilarity(newMem, candidate)
		switch {
		case sim >= consolidationThreshold:
			result.ConsolidationFlagged = append(result.ConsolidationFlagged, candidate.ID)

		case sim >= autoLinkCeiling:
			ambiguous = append(ambiguous, candidate)

		case sim > autoLinkFloor:
			edge, err := e.insertAutoEdge(ctx, store, &types.Edge{
				SourceID:      newMem.ID,
				TargetID:      candidate.ID,
				Type:          types.RelRelatesTo,
				Strength:      sim,
				Bidirectional: true,
			})
			if err != nil {
				return nil, err
			}
			if edge != nil {
				result.Edges = append(result.Edges, edge)
			}
		}
	}

	if len(ambiguous) > 0 && e.textGen != nil {
		classified := e.classifyAmbiguousPairs(ctx, store, newMem, ambiguous)
		result.Edges = append(result.Edges, classified...)
	}

	return result, nil
}

// classifyAmbiguousPairs sends every ambiguous pair in one classification
// call and inserts the validated results. Classification is best-effort:
// any failure logs and returns the edges created so far.
func (e *Engine) classifyAmbiguousPairs(ctx context.Context, store storage.Store, newMem *types.Memory, candidates []*types.Memory) []*types.Edge {
	pairs := make([][2]string, len(candidates))
	for i, c := range candidates {
		pairs[i] = [2]string{newMem.Content, c.Content}
	}

	prompt := llm.RelationshipClassificationPrompt(pairs)
	response, err := e.textGen.Complete(ctx, prompt)
	if err != nil {
		log.Printf("engine: relationship classification failed: %v", err)
		return nil
	}

	classifications, err := llm.ParseClassificationResponse(response, len(pairs))
	if err != nil {
		log.Printf("engine: relationship classification unparseable: %v", err)
		return nil
	}

	var edges []*types.Edge
	for _, c := range classifications {
		candidate := candidates[c.Pair-1]
		edge, err := e.insertAutoEdge(ctx, store, &types.Edge{
			SourceID: newMem.ID,
			TargetID: candidate.ID,
			Type:     c.Type,
			Strength: c.Strength,
		})
		if err != nil {
			log.Printf("engine: classified edge %s -[%s]-> %s: %v", newMem.ID, c.Type, candidate.ID, err)
			continue
		}
		if edge != nil {
			edges = append(edges, edge)
		}
	}
	return edges
}

// insertAutoEdge inserts an edge, treating an existing duplicate as a
// no-op (nil edge, nil error) so auto-link re-runs are idempotent.
func (e *Engine) insertAutoEdge(ctx context.Context, store storage.Store, edge *types.Edge) (*types.Edge, error) {
	exists, err := store.EdgeExists(ctx, edge.SourceID, edge.TargetID, edge.Type)
	if err != nil {
		return nil, fmt.Errorf("auto-link: %w", err)
	}
	if exists {
		return nil, nil
	}

	if _, err := store.InsertEdge(ctx, edge); err != nil {
		if errors.Is(err, storage.ErrDuplicateEdge) {
			return nil, nil
		}
		return nil, fmt.Errorf("auto-link: %w", err)
	}
	return edge, nil
}

// Centrality returns each memory's normalized in-degree in [0,1]: plain
// incoming edge count divided by the current maximum in-degree across the
// store. Derived data, recomputed on demand and never persisted.
func Centrality(ctx context.Context, store storage.EdgeStore) (map[string]float64, error) {
	degrees, err := store.InDegrees(ctx)
	if err != nil {
		return nil, fmt.Errorf("centrality: %w", err)
	}

	maxDegree := 0
	for _, d := range degrees {
		if d > maxDegree {
			maxDegree = d
		}
	}

	centrality := make(map[string]float64, len(degrees))
	if maxDegree == 0 {
		return centrality, nil
	}
	for id, d := range degrees {
		centrality[id] = float64(d) / float64(maxDegree)
	}
	return centrality, nil
}
