// Package engine implements the memory engine's core behavior: relevance
// ranking, the session-start push surface, auto-linking and centrality over
// the edge graph, confidence decay and status sweeps, consolidation with
// full-store rollback, code indexing, recall, and the session-end
// extraction pipeline. Persistence and external model calls are delegated
// to the storage and llm packages.
package engine

import (
	"math"

	"github.com/mnemon-dev/mnemon/pkg/types"
)

// Ranking weights. Confidence dominates; priority, graph position, and
// usage share the rest.
const (
	weightConfidence = 0.5
	weightPriority   = 0.2
	weightCentrality = 0.15
	weightAccess     = 0.15

	// branchBoost is added when the memory's recorded branch matches the
	// session's current branch.
	branchBoost = 0.1
)

// RankContext carries the per-invocation inputs a score depends on beyond
// the memory itself. Centrality is derived data, recomputed per ranking
// pass and never persisted.
type RankContext struct {
	// Centrality maps memory ID to normalized in-degree in [0,1].
	Centrality map[string]float64

	// MaxAccessCount is the highest access_count across the candidate set,
	// used to normalize the usage term.
	MaxAccessCount int

	// Branch is the session's current git branch ("" when unknown).
	Branch string
}

// Score computes the relevance score for a memory in [0,1].
//
// score = 0.5*confidence + 0.2*(priority/10) + 0.15*centrality
//       + 0.15*log(access+1)/log(maxAccess+1)
//
// Each term is clamped to [0,1] before weighting. A branch-context boost
// of 0.1 applies when the memory came from the session's current branch.
// Pinned memories bypass scoring at selection time; Score still returns a
// value for them so ordering within the pinned set is stable.
func Score(m *types.Memory, rc RankContext) float64 {
	confidence := clamp01(m.Confidence)
	priority := clamp01(float64(m.Priority) / 10.0)
	centrality := clamp01(rc.Centrality[m.ID])

	access := 0.0
	if rc.MaxAccessCount > 0 && m.AccessCount > 0 {
		access = clamp01(math.Log(float64(m.AccessCount)+1) / math.Log(float64(rc.MaxAccessCount)+1))
	}

	score := weightConfidence*confidence +
		weightPriority*priority +
		weightCentrality*centrality +
		weightAccess*access

	if rc.Branch != "" && m.Branch() == rc.Branch {
		score += branchBoost
	}

	return clamp01(score)
}

// MaxAccessCount returns the highest access_count in the set, for
// normalizing the usage term.
func MaxAccessCount(memories []*types.Memory) int {
	maxCount := 0
	for _, m := range memories {
		if m.AccessCount > maxCount {
			maxCount = m.AccessCount
		}
	}
	return maxCount
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
