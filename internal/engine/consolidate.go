package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/mnemon-dev/mnemon/internal/llm"
	"github.com/mnemon-dev/mnemon/internal/storage"
	"github.com/mnemon-dev/mnemon/pkg/types"
)

const (
	// ConsolidationAutoThreshold is the pairwise similarity for automatic
	// clustering.
	ConsolidationAutoThreshold = 0.7

	// ConsolidationManualThreshold is the looser similarity used when a
	// human asked for consolidation and will approve the proposals.
	ConsolidationManualThreshold = 0.5

	// maxClusterSize bounds single-linkage chaining: at the manual
	// threshold a long similarity chain could otherwise sweep half the
	// store into one merge.
	maxClusterSize = 8
)

// FindClusters groups same-type memories whose pairwise similarity exceeds
// threshold, single-linkage style: if A~B and B~C, all three cluster even
// when A~C falls below threshold. Pairs are joined in descending
// similarity order and a join that would grow a cluster past
// maxClusterSize is skipped. Only clusters of two or more survive.
func FindClusters(memories []*types.Memory, threshold float64) [][]*types.Memory {
	byType := make(map[types.MemoryType][]*types.Memory)
	for _, m := range memories {
		byType[m.Type] = append(byType[m.Type], m)
	}

	var clusters [][]*types.Memory
	for _, group := range byType {
		clusters = append(clusters, clusterGroup(group, threshold)...)
	}

	// Deterministic order across runs: oldest cluster head first.
	sort.Slice(clusters, func(i, j int) bool {
		return clusters[i][0].CreatedAt.Before(clusters[j][0].CreatedAt)
	})
	return clusters
}

type simPair struct {
	a, b int
	sim  float64
}

func clusterGroup(group []*types.Memory, threshold float64) [][]*types.Memory {
	var pairs []simPair
	for i := 0; i < len(group); i++ {
		for j := i + 1; j < len(group); j++ {
			if sim := memorySimilarity(group[i], group[j]); sim > threshold {
				pairs = append(pairs, simPair{a: i, b: j, sim: sim})
			}
		}
	}

	// Strongest links join first so the size cap cuts the weakest chains.
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].sim > pairs[j].sim })

	parent := make([]int, len(group))
	size := make([]int, len(group))
	for i := range parent {
		parent[i] = i
		size[i] = 1
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}

	for _, p := range pairs {
		ra, rb := find(p.a), find(p.b)
		if ra == rb {
			continue
		}
		if size[ra]+size[rb] > maxClusterSize {
			continue
		}
		parent[rb] = ra
		size[ra] += size[rb]
	}

	members := make(map[int][]*types.Memory)
	for i := range group {
		root := find(i)
		members[root] = append(members[root], group[i])
	}

	var clusters [][]*types.Memory
	for _, cluster := range members {
		if len(cluster) < 2 {
			continue
		}
		sort.Slice(cluster, func(i, j int) bool {
			return cluster[i].CreatedAt.Before(cluster[j].CreatedAt)
		})
		clusters = append(clusters, cluster)
	}
	return clusters
}

// MergeProposal is one cluster plus the merged body the text service
// proposed for it. Manual consolidation surfaces these for approval
// before anything is written.
type MergeProposal struct {
	Cluster []*types.Memory
	Merged  llm.MergeResult
}

// ProposeConsolidation clusters the store's embedded active memories at
// the given threshold and asks the text service for a merged body per
// cluster, without mutating anything.
func (e *Engine) ProposeConsolidation(ctx context.Context, store storage.Store, threshold float64) ([]MergeProposal, error) {
	if e.textGen == nil {
		return nil, fmt.Errorf("consolidation: no text generation service configured")
	}

	clusters, err := e.embeddedActiveClusters(ctx, store, threshold)
	if err != nil {
		return nil, err
	}

	var proposals []MergeProposal
	for _, cluster := range clusters {
		merged, err := e.requestMerge(ctx, cluster)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, MergeProposal{Cluster: cluster, Merged: *merged})
	}
	return proposals, nil
}

// Consolidate runs automatic consolidation over the store: snapshot,
// cluster at the automatic threshold, merge each cluster, supersede the
// originals. Any failure restores the snapshot — the run is all-or-nothing,
// never a partial mix of merged and un-merged duplicates.
func (e *Engine) Consolidate(ctx context.Context, store storage.Store) error {
	clusters, err := e.embeddedActiveClusters(ctx, store, ConsolidationAutoThreshold)
	if err != nil {
		return err
	}
	return e.consolidateClusters(ctx, store, clusters)
}

// storedProposal is the durable form of a MergeProposal: member IDs plus
// the merged body, enough to resolve and commit in a later invocation.
type storedProposal struct {
	MemberIDs []string        `json:"member_ids"`
	Merged    llm.MergeResult `json:"merged"`
}

type proposalSet struct {
	CreatedAt time.Time        `json:"created_at"`
	Proposals []storedProposal `json:"proposals"`
}

// WriteProposals saves a proposal set so approval and commit can happen
// in a separate invocation.
func WriteProposals(path string, proposals []MergeProposal) error {
	set := proposalSet{CreatedAt: time.Now().UTC()}
	for _, p := range proposals {
		sp := storedProposal{Merged: p.Merged}
		for _, m := range p.Cluster {
			sp.MemberIDs = append(sp.MemberIDs, m.ID)
		}
		set.Proposals = append(set.Proposals, sp)
	}

	data, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return fmt.Errorf("consolidation: encode proposals: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("consolidation: write proposals: %w", err)
	}
	return nil
}

// LoadProposals reads a saved proposal set and resolves its members
// against the store. A proposal whose members were archived, superseded,
// or deleted since the propose run is dropped rather than committed: its
// merged body was written for memories that no longer read the same.
func LoadProposals(ctx context.Context, store storage.Store, path string) ([]MergeProposal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("consolidation: read proposals: %w", err)
	}
	var set proposalSet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("consolidation: decode proposals: %w", err)
	}

	var proposals []MergeProposal
	for _, sp := range set.Proposals {
		cluster := make([]*types.Memory, 0, len(sp.MemberIDs))
		stale := false
		for _, id := range sp.MemberIDs {
			m, err := store.Get(ctx, id)
			if errors.Is(err, storage.ErrNotFound) {
				stale = true
				break
			}
			if err != nil {
				return nil, fmt.Errorf("consolidation: resolve proposal member %s: %w", id, err)
			}
			if m.Status != types.StatusActive {
				stale = true
				break
			}
			cluster = append(cluster, m)
		}
		if stale || len(cluster) < 2 {
			log.Printf("engine: dropping stale consolidation proposal (%d members)", len(sp.MemberIDs))
			continue
		}
		proposals = append(proposals, MergeProposal{Cluster: cluster, Merged: sp.Merged})
	}
	return proposals, nil
}

// CommitProposals applies previously approved merge proposals under the
// same snapshot/rollback discipline as an automatic run.
func (e *Engine) CommitProposals(ctx context.Context, store storage.Store, proposals []MergeProposal) error {
	if len(proposals) == 0 {
		return nil
	}

	snapshotPath, err := e.takeSnapshot(ctx, store)
	if err != nil {
		return err
	}

	for _, p := range proposals {
		if err := e.applyMerge(ctx, store, p.Cluster, &p.Merged); err != nil {
			return e.rollback(ctx, store, snapshotPath, err)
		}
	}

	e.finishConsolidation(ctx, store, snapshotPath)
	return nil
}

// MaybeConsolidate applies the trigger policy: run automatic consolidation
// when ≥10 extractions have happened since the last run or the active
// count exceeds the configured bound. A failed consolidation has already
// rolled back; it is logged, not propagated, so a trigger check never
// aborts a session-end flow.
func (e *Engine) MaybeConsolidate(ctx context.Context, store storage.Store) {
	count := extractionCount(ctx, store)
	active, err := store.CountActive(ctx)
	if err != nil {
		log.Printf("engine: consolidation trigger check: %v", err)
		return
	}

	if count < e.config.ConsolidationExtractionTrigger && active <= e.config.ConsolidationActiveTrigger {
		return
	}

	log.Printf("engine: consolidation triggered (extractions=%d, active=%d)", count, active)
	if err := e.Consolidate(ctx, store); err != nil {
		log.Printf("engine: consolidation failed and rolled back: %v", err)
	}
}

func (e *Engine) embeddedActiveClusters(ctx context.Context, store storage.Store, threshold float64) ([][]*types.Memory, error) {
	var candidates []*types.Memory
	for _, memType := range types.ValidMemoryTypes {
		if memType == types.TypeCode {
			continue
		}
		ofType, err := store.ListActiveOfTypeWithEmbedding(ctx, memType)
		if err != nil {
			return nil, fmt.Errorf("consolidation: %w", err)
		}
		for _, m := range ofType {
			if !m.Pinned {
				candidates = append(candidates, m)
			}
		}
	}
	return FindClusters(candidates, threshold), nil
}

func (e *Engine) consolidateClusters(ctx context.Context, store storage.Store, clusters [][]*types.Memory) error {
	if len(clusters) == 0 {
		if err := setExtractionCount(ctx, store, 0); err != nil {
			log.Printf("engine: reset extraction counter: %v", err)
		}
		return nil
	}
	if e.textGen == nil {
		return fmt.Errorf("consolidation: no text generation service configured")
	}

	snapshotPath, err := e.takeSnapshot(ctx, store)
	if err != nil {
		return err
	}

	for _, cluster := range clusters {
		merged, err := e.requestMerge(ctx, cluster)
		if err != nil {
			return e.rollback(ctx, store, snapshotPath, err)
		}
		if err := e.applyMerge(ctx, store, cluster, merged); err != nil {
			return e.rollback(ctx, store, snapshotPath, err)
		}
	}

	e.finishConsolidation(ctx, store, snapshotPath)
	return nil
}

// requestMerge asks the text service for one merged body for a cluster,
// instructing it to preserve unique details and merge only genuine
// redundancy.
func (e *Engine) requestMerge(ctx context.Context, cluster []*types.Memory) (*llm.MergeResult, error) {
	contents := make([]string, len(cluster))
	for i, m := range cluster {
		contents[i] = m.Content
	}

	callCtx, cancel := context.WithTimeout(ctx, extractionTimeout)
	defer cancel()

	response, err := e.textGen.Complete(callCtx, llm.MergePrompt(cluster[0].Type, contents))
	if err != nil {
		return nil, fmt.Errorf("%w: consolidation merge call: %v", storage.ErrServiceUnavailable, err)
	}
	merged, err := llm.ParseMergeResponse(response)
	if err != nil {
		return nil, fmt.Errorf("consolidation: merge response: %w", err)
	}
	return merged, nil
}

// applyMerge inserts the merged memory as active, supersedes the
// originals, and links merged → each original with a supersedes edge.
func (e *Engine) applyMerge(ctx context.Context, store storage.Store, cluster []*types.Memory, merged *llm.MergeResult) error {
	mem := &types.Memory{
		Content:    merged.Content,
		Summary:    merged.Summary,
		Type:       cluster[0].Type,
		Scope:      cluster[0].Scope,
		Tags:       merged.Tags,
		SourceType: "consolidation",
		Status:     types.StatusActive,
	}
	for _, original := range cluster {
		if original.Confidence > mem.Confidence {
			mem.Confidence = original.Confidence
		}
		if original.Priority > mem.Priority {
			mem.Priority = original.Priority
		}
	}

	mem.Embedding, mem.LocalEmbedding = e.embedText(ctx, mem.Content)

	mergedID, err := store.Insert(ctx, mem)
	if err != nil {
		return fmt.Errorf("consolidation: insert merged: %w", err)
	}

	for _, original := range cluster {
		if err := store.SetStatus(ctx, original.ID, types.StatusSuperseded); err != nil {
			return fmt.Errorf("consolidation: supersede %s: %w", original.ID, err)
		}
		_, err := store.InsertEdge(ctx, &types.Edge{
			SourceID: mergedID,
			TargetID: original.ID,
			Type:     types.RelSupersedes,
			Strength: 1.0,
		})
		if err != nil {
			return fmt.Errorf("consolidation: supersedes edge to %s: %w", original.ID, err)
		}
	}
	return nil
}

func (e *Engine) takeSnapshot(ctx context.Context, store storage.Store) (string, error) {
	dir := e.config.SnapshotDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("consolidation: snapshot dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("consolidation-%d.snapshot", time.Now().UnixNano()))
	if err := store.Snapshot(ctx, path); err != nil {
		return "", fmt.Errorf("consolidation: snapshot: %w", err)
	}
	return path, nil
}

// rollback restores the pre-run snapshot and wraps the causing error. A
// restore failure is appended rather than swallowed: the caller needs to
// know the store may be inconsistent.
func (e *Engine) rollback(ctx context.Context, store storage.Store, snapshotPath string, cause error) error {
	if restoreErr := store.Restore(ctx, snapshotPath); restoreErr != nil {
		return fmt.Errorf("consolidation: %w (rollback also failed: %v)", cause, restoreErr)
	}
	log.Printf("engine: consolidation rolled back: %v", cause)
	return fmt.Errorf("consolidation: %w (store restored)", cause)
}

func (e *Engine) finishConsolidation(ctx context.Context, store storage.Store, snapshotPath string) {
	if err := setExtractionCount(ctx, store, 0); err != nil {
		log.Printf("engine: reset extraction counter: %v", err)
	}
	if err := os.Remove(snapshotPath); err != nil && !os.IsNotExist(err) {
		log.Printf("engine: remove snapshot %s: %v", snapshotPath, err)
	}
}
