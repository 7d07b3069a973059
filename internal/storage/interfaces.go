// Package storage provides composable storage interfaces for the mnemon
// memory engine.
//
// The storage layer is designed with small, focused interfaces that can be
// implemented independently and composed as needed. Two backends exist:
// SQLite (the embedded default, one store file per scope) and PostgreSQL
// with pgvector (the scale-out path). Both satisfy the full Store interface.
package storage

import (
	"context"

	"github.com/mnemon-dev/mnemon/pkg/types"
)

// EmbeddingKind selects which stored vector column a search runs against.
type EmbeddingKind string

const (
	// EmbeddingRemote is the primary, remote-model vector (e.g. 1024-dim).
	EmbeddingRemote EmbeddingKind = "remote"

	// EmbeddingLocal is the fallback local-model vector (e.g. 384-dim).
	EmbeddingLocal EmbeddingKind = "local"
)

// MemoryStore provides CRUD operations for memories.
type MemoryStore interface {
	// Insert stores a new memory and returns its ID. If the memory has no
	// ID, one is generated. Inserting a code-type memory carrying an
	// embedding fails with ErrInvalidInput.
	Insert(ctx context.Context, memory *types.Memory) (string, error)

	// Update applies the non-zero fields of patch to an existing memory.
	// Returns ErrNotFound if the memory doesn't exist.
	Update(ctx context.Context, id string, patch MemoryPatch) error

	// Get retrieves a memory by ID. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*types.Memory, error)

	// ListActive returns all memories with status active.
	ListActive(ctx context.Context) ([]*types.Memory, error)

	// ListByStatus returns all memories with the given status.
	ListByStatus(ctx context.Context, status types.MemoryStatus) ([]*types.Memory, error)

	// ListPendingEmbedding returns active non-code memories that carry no
	// embedding of either kind, oldest first, for backfill.
	ListPendingEmbedding(ctx context.Context, limit int) ([]*types.Memory, error)

	// ListActiveOfTypeWithEmbedding returns active memories of one type
	// that carry a vector, the candidate pool for consolidation clustering.
	ListActiveOfTypeWithEmbedding(ctx context.Context, memType types.MemoryType) ([]*types.Memory, error)

	// ActiveCodeMemoriesForPath returns active code and code_description
	// memories whose source_context file_path matches, for re-indexing.
	ActiveCodeMemoriesForPath(ctx context.Context, filePath string) ([]*types.Memory, error)

	// SetStatus transitions a memory's lifecycle status.
	SetStatus(ctx context.Context, id string, status types.MemoryStatus) error

	// Touch atomically increments access_count and sets last_accessed_at.
	// An archived memory touched this way is restored to active and its
	// low-confidence clock is cleared.
	Touch(ctx context.Context, id string) error

	// Delete hard-deletes a memory (prune). Its edges go with it.
	Delete(ctx context.Context, id string) error

	// CountActive returns the number of active memories.
	CountActive(ctx context.Context) (int, error)
}

// EdgeStore manages typed relationships between memories.
type EdgeStore interface {
	// InsertEdge stores a new edge. The (source, target, type) triple is
	// unique; violating it fails with ErrDuplicateEdge. Both endpoints must
	// reference existing memories.
	InsertEdge(ctx context.Context, edge *types.Edge) (string, error)

	// EdgesFrom returns all active edges whose source is the given memory.
	EdgesFrom(ctx context.Context, memoryID string) ([]*types.Edge, error)

	// EdgesTo returns all active edges whose target is the given memory.
	EdgesTo(ctx context.Context, memoryID string) ([]*types.Edge, error)

	// EdgeExists reports whether the exact (source, target, type) triple is
	// present, in either direction when the stored edge is bidirectional.
	EdgeExists(ctx context.Context, sourceID, targetID string, relType types.RelationType) (bool, error)

	// InDegrees returns a map of memory ID to incoming edge count across
	// all active edges. Bidirectional edges count toward both endpoints.
	InDegrees(ctx context.Context) (map[string]int, error)

	// DeleteEdge removes an edge by ID.
	DeleteEdge(ctx context.Context, id string) error
}

// CheckpointStore persists per-session extraction cursors.
type CheckpointStore interface {
	// GetCheckpoint returns the checkpoint for a session, or ErrNotFound.
	GetCheckpoint(ctx context.Context, sessionID string) (*types.ExtractionCheckpoint, error)

	// SaveCheckpoint upserts the checkpoint for its session.
	SaveCheckpoint(ctx context.Context, cp *types.ExtractionCheckpoint) error
}

// SearchProvider provides keyword and vector search over memories.
type SearchProvider interface {
	// SearchByVector ranks memories holding an embedding of the matching
	// kind by descending cosine similarity to the query vector.
	SearchByVector(ctx context.Context, query []float32, kind EmbeddingKind, limit int) ([]ScoredMemory, error)

	// SearchByKeyword performs full-text search ranked by the index's
	// native relevance score.
	SearchByKeyword(ctx context.Context, query string, limit int) ([]ScoredMemory, error)
}

// Snapshotter provides whole-store checkpoint and restore, used by the
// consolidation engine for all-or-nothing batch semantics.
type Snapshotter interface {
	// Snapshot writes a consistent point-in-time copy of the store to path.
	Snapshot(ctx context.Context, path string) error

	// Restore atomically replaces all rows from a snapshot file previously
	// produced by Snapshot.
	Restore(ctx context.Context, path string) error
}

// MetaStore persists small key/value rows for durable cross-invocation
// state (e.g. the extractions-since-consolidation counter). Each invocation
// is a fresh process, so this state can never live in memory.
type MetaStore interface {
	// GetMeta returns the stored value, or ErrNotFound for an absent key.
	GetMeta(ctx context.Context, key string) (string, error)
	SetMeta(ctx context.Context, key, value string) error
}

// Store is the full contract a backend must satisfy.
type Store interface {
	MemoryStore
	EdgeStore
	CheckpointStore
	SearchProvider
	Snapshotter
	MetaStore

	// Close releases any resources held by the store.
	Close() error
}

// ScoredMemory pairs a memory with its search relevance score.
type ScoredMemory struct {
	Memory *types.Memory

	// Score is cosine similarity for vector search (higher is better) or
	// the normalized full-text rank for keyword search.
	Score float64
}
