package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/mnemon-dev/mnemon/internal/storage"
	"github.com/mnemon-dev/mnemon/pkg/types"
)

// memoryColumns is the canonical SELECT column list for memory rows.
const memoryColumns = `
	id, content, summary, memory_type, scope,
	embedding, local_embedding,
	confidence, priority, pinned,
	source_type, source_session, source_context,
	tags, access_count, last_accessed_at,
	status, created_at, updated_at, low_confidence_since, archived_at
`

// Insert stores a new memory and returns its ID.
func (s *Store) Insert(ctx context.Context, memory *types.Memory) (string, error) {
	if memory == nil {
		return "", storage.ErrInvalidInput
	}
	if memory.Content == "" {
		return "", fmt.Errorf("%w: memory content is required", storage.ErrInvalidInput)
	}
	if !types.IsValidMemoryType(memory.Type) {
		return "", fmt.Errorf("%w: unknown memory type %q", storage.ErrInvalidInput, memory.Type)
	}
	if memory.IsCode() && memory.HasEmbedding() {
		return "", fmt.Errorf("%w: code memories must not carry an embedding", storage.ErrInvalidInput)
	}

	if memory.ID == "" {
		memory.ID = uuid.NewString()
	}
	if memory.Scope == "" {
		memory.Scope = types.ScopeProject
	}
	if memory.Status == "" {
		memory.Status = types.StatusActive
	}
	if memory.Priority == 0 {
		memory.Priority = 5
	}
	if memory.Confidence < 0 || memory.Confidence > 1 {
		return "", fmt.Errorf("%w: confidence %v outside [0, 1]", storage.ErrInvalidInput, memory.Confidence)
	}
	if memory.Priority < 1 || memory.Priority > 10 {
		return "", fmt.Errorf("%w: priority %d outside [1, 10]", storage.ErrInvalidInput, memory.Priority)
	}
	memory.Summary = types.TruncateSummary(memory.Summary)

	now := time.Now().UTC()
	if memory.CreatedAt.IsZero() {
		memory.CreatedAt = now
	}
	if memory.UpdatedAt.IsZero() {
		memory.UpdatedAt = now
	}

	tagsJSON, err := marshalJSON(memory.Tags)
	if err != nil {
		return "", fmt.Errorf("failed to marshal tags: %w", err)
	}
	sourceContextJSON, err := marshalJSON(memory.SourceContext)
	if err != nil {
		return "", fmt.Errorf("failed to marshal source_context: %w", err)
	}

	query := `
		INSERT INTO memories (` + memoryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`

	_, err = s.db.ExecContext(ctx, query,
		memory.ID,
		memory.Content,
		memory.Summary,
		string(memory.Type),
		string(memory.Scope),
		nullableVectorValue(memory.Embedding),
		nullableVectorValue(memory.LocalEmbedding),
		memory.Confidence,
		memory.Priority,
		memory.Pinned,
		memory.SourceType,
		memory.SourceSession,
		nullableBytes(sourceContextJSON),
		nullableBytes(tagsJSON),
		memory.AccessCount,
		nullableTime(memory.LastAccessedAt),
		string(memory.Status),
		memory.CreatedAt,
		memory.UpdatedAt,
		nullableTime(memory.LowConfidenceSince),
		nullableTime(memory.ArchivedAt),
	)
	if err != nil {
		return "", fmt.Errorf("postgres: failed to insert memory: %w", err)
	}

	return memory.ID, nil
}

// Update applies the non-zero fields of patch to an existing memory.
func (s *Store) Update(ctx context.Context, id string, patch storage.MemoryPatch) error {
	if id == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	var sets []string
	var args []interface{}
	next := func() int { return len(args) + 1 }

	if patch.Content != nil {
		sets = append(sets, fmt.Sprintf("content = $%d", next()))
		args = append(args, *patch.Content)
	}
	if patch.Summary != nil {
		sets = append(sets, fmt.Sprintf("summary = $%d", next()))
		args = append(args, types.TruncateSummary(*patch.Summary))
	}
	if patch.Confidence != nil {
		if *patch.Confidence < 0 || *patch.Confidence > 1 {
			return fmt.Errorf("%w: confidence %v outside [0, 1]", storage.ErrInvalidInput, *patch.Confidence)
		}
		sets = append(sets, fmt.Sprintf("confidence = $%d", next()))
		args = append(args, *patch.Confidence)
	}
	if patch.Priority != nil {
		if *patch.Priority < 1 || *patch.Priority > 10 {
			return fmt.Errorf("%w: priority %d outside [1, 10]", storage.ErrInvalidInput, *patch.Priority)
		}
		sets = append(sets, fmt.Sprintf("priority = $%d", next()))
		args = append(args, *patch.Priority)
	}
	if patch.Pinned != nil {
		sets = append(sets, fmt.Sprintf("pinned = $%d", next()))
		args = append(args, *patch.Pinned)
	}
	if patch.Tags != nil {
		tagsJSON, err := marshalJSON(patch.Tags)
		if err != nil {
			return fmt.Errorf("failed to marshal tags: %w", err)
		}
		sets = append(sets, fmt.Sprintf("tags = $%d", next()))
		args = append(args, nullableBytes(tagsJSON))
	}
	if patch.Status != nil {
		if !types.IsValidStatus(*patch.Status) {
			return fmt.Errorf("%w: invalid status %q", storage.ErrInvalidInput, *patch.Status)
		}
		sets = append(sets, fmt.Sprintf("status = $%d", next()))
		args = append(args, string(*patch.Status))
	}
	if patch.Embedding != nil {
		sets = append(sets, fmt.Sprintf("embedding = $%d", next()))
		args = append(args, nullableVectorValue(patch.Embedding))
	}
	if patch.LocalEmbedding != nil {
		sets = append(sets, fmt.Sprintf("local_embedding = $%d", next()))
		args = append(args, nullableVectorValue(patch.LocalEmbedding))
	}
	if patch.SourceContext != nil {
		scJSON, err := marshalJSON(patch.SourceContext)
		if err != nil {
			return fmt.Errorf("failed to marshal source_context: %w", err)
		}
		sets = append(sets, fmt.Sprintf("source_context = $%d", next()))
		args = append(args, nullableBytes(scJSON))
	}
	if patch.ClearLowConfidence {
		sets = append(sets, "low_confidence_since = NULL")
	} else if patch.LowConfidenceSince != nil {
		sets = append(sets, fmt.Sprintf("low_confidence_since = $%d", next()))
		args = append(args, *patch.LowConfidenceSince)
	}
	if patch.ArchivedAt != nil {
		sets = append(sets, fmt.Sprintf("archived_at = $%d", next()))
		args = append(args, *patch.ArchivedAt)
	}

	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, fmt.Sprintf("updated_at = $%d", next()))
	args = append(args, time.Now().UTC())
	args = append(args, id)

	query := fmt.Sprintf("UPDATE memories SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: failed to update memory: %w", err)
	}
	return requireRowAffected(result)
}

// Get retrieves a memory by ID.
func (s *Store) Get(ctx context.Context, id string) (*types.Memory, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, "SELECT "+memoryColumns+" FROM memories WHERE id = $1", id)
	memory, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get memory: %w", err)
	}
	return memory, nil
}

// ListActive returns all active memories, newest first.
func (s *Store) ListActive(ctx context.Context) ([]*types.Memory, error) {
	return s.ListByStatus(ctx, types.StatusActive)
}

// ListByStatus returns all memories with the given status, newest first.
func (s *Store) ListByStatus(ctx context.Context, status types.MemoryStatus) ([]*types.Memory, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+memoryColumns+" FROM memories WHERE status = $1 ORDER BY created_at DESC",
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list memories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanMemories(rows)
}

// ListPendingEmbedding returns active non-code memories without any stored
// vector, oldest first, for embedding backfill.
func (s *Store) ListPendingEmbedding(ctx context.Context, limit int) ([]*types.Memory, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+`
		FROM memories
		WHERE status = 'active'
		  AND memory_type != 'code'
		  AND embedding IS NULL
		  AND local_embedding IS NULL
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list pending embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanMemories(rows)
}

// ListActiveOfTypeWithEmbedding returns active memories of the given type
// that carry a vector, the candidate pool for consolidation clustering.
func (s *Store) ListActiveOfTypeWithEmbedding(ctx context.Context, memType types.MemoryType) ([]*types.Memory, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+memoryColumns+` FROM memories
		 WHERE status = 'active' AND memory_type = $1
		   AND (embedding IS NOT NULL OR local_embedding IS NOT NULL)
		 ORDER BY created_at`, string(memType))
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list %s memories: %w", memType, err)
	}
	defer func() { _ = rows.Close() }()

	return scanMemories(rows)
}

// ActiveCodeMemoriesForPath returns active code/code_description memories
// whose source_context file_path matches, used during re-indexing.
func (s *Store) ActiveCodeMemoriesForPath(ctx context.Context, filePath string) ([]*types.Memory, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+memoryColumns+` FROM memories
		 WHERE status = 'active'
		   AND memory_type IN ('code', 'code_description')
		   AND source_context ->> 'file_path' = $1
		 ORDER BY created_at`, filePath)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list code memories for %s: %w", filePath, err)
	}
	defer func() { _ = rows.Close() }()

	return scanMemories(rows)
}

// SetStatus transitions a memory's lifecycle status.
func (s *Store) SetStatus(ctx context.Context, id string, status types.MemoryStatus) error {
	if !types.IsValidStatus(status) {
		return fmt.Errorf("%w: invalid status %q", storage.ErrInvalidInput, status)
	}

	now := time.Now().UTC()
	var query string
	var args []interface{}

	switch status {
	case types.StatusArchived:
		query = "UPDATE memories SET status = $1, updated_at = $2, archived_at = $3 WHERE id = $4"
		args = []interface{}{string(status), now, now, id}
	case types.StatusActive:
		query = "UPDATE memories SET status = $1, updated_at = $2, archived_at = NULL, low_confidence_since = NULL WHERE id = $3"
		args = []interface{}{string(status), now, id}
	default:
		query = "UPDATE memories SET status = $1, updated_at = $2 WHERE id = $3"
		args = []interface{}{string(status), now, id}
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: failed to set status: %w", err)
	}
	return requireRowAffected(result)
}

// Touch atomically increments access_count and sets last_accessed_at,
// restoring archived memories to active and clearing sweep bookkeeping.
func (s *Store) Touch(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE memories
		SET access_count = access_count + 1,
		    last_accessed_at = $1,
		    status = CASE WHEN status = 'archived' THEN 'active' ELSE status END,
		    low_confidence_since = NULL,
		    archived_at = NULL
		WHERE id = $2`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("postgres: failed to touch memory: %w", err)
	}
	return requireRowAffected(result)
}

// Delete hard-deletes a memory (prune). Edges cascade via foreign keys.
func (s *Store) Delete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("postgres: failed to delete memory: %w", err)
	}
	return requireRowAffected(result)
}

// CountActive returns the number of active memories.
func (s *Store) CountActive(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories WHERE status = 'active'").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to count memories: %w", err)
	}
	return count, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for the shared scan path.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// nullVector scans a pgvector column that may be NULL.
type nullVector struct {
	vec   pgvector.Vector
	valid bool
}

func (n *nullVector) Scan(src interface{}) error {
	if src == nil {
		n.valid = false
		return nil
	}
	if err := n.vec.Scan(src); err != nil {
		return err
	}
	n.valid = true
	return nil
}

// nullableVectorValue converts a float32 slice into a pgvector value or NULL.
func nullableVectorValue(vec []float32) interface{} {
	if len(vec) == 0 {
		return nil
	}
	return pgvector.NewVector(vec)
}

// scanMemory scans a single memory row in memoryColumns order.
func scanMemory(row rowScanner) (*types.Memory, error) {
	var m types.Memory
	var summary string
	var sourceType, sourceSession, sourceContextJSON, tagsJSON sql.NullString
	var embedding, localEmbedding nullVector
	var lastAccessedAt, lowConfidenceSince, archivedAt sql.NullTime
	var memType, scope, status string

	err := row.Scan(
		&m.ID,
		&m.Content,
		&summary,
		&memType,
		&scope,
		&embedding,
		&localEmbedding,
		&m.Confidence,
		&m.Priority,
		&m.Pinned,
		&sourceType,
		&sourceSession,
		&sourceContextJSON,
		&tagsJSON,
		&m.AccessCount,
		&lastAccessedAt,
		&status,
		&m.CreatedAt,
		&m.UpdatedAt,
		&lowConfidenceSince,
		&archivedAt,
	)
	if err != nil {
		return nil, err
	}

	m.Summary = summary
	m.Type = types.MemoryType(memType)
	m.Scope = types.Scope(scope)
	m.Status = types.MemoryStatus(status)

	if sourceType.Valid {
		m.SourceType = sourceType.String
	}
	if sourceSession.Valid {
		m.SourceSession = sourceSession.String
	}
	if sourceContextJSON.Valid && sourceContextJSON.String != "" {
		if err := json.Unmarshal([]byte(sourceContextJSON.String), &m.SourceContext); err != nil {
			return nil, fmt.Errorf("failed to unmarshal source_context: %w", err)
		}
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &m.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	if lastAccessedAt.Valid {
		t := lastAccessedAt.Time
		m.LastAccessedAt = &t
	}
	if lowConfidenceSince.Valid {
		t := lowConfidenceSince.Time
		m.LowConfidenceSince = &t
	}
	if archivedAt.Valid {
		t := archivedAt.Time
		m.ArchivedAt = &t
	}

	if embedding.valid {
		m.Embedding = embedding.vec.Slice()
	}
	if localEmbedding.valid {
		m.LocalEmbedding = localEmbedding.vec.Slice()
	}

	return &m, nil
}

// scanMemories drains rows through scanMemory.
func scanMemories(rows *sql.Rows) ([]*types.Memory, error) {
	var memories []*types.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating memories: %w", err)
	}
	return memories, nil
}

// requireRowAffected converts a zero-row UPDATE/DELETE into ErrNotFound.
func requireRowAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// marshalJSON marshals v to JSON, returning nil bytes for nil/empty input.
func marshalJSON(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case []string:
		if len(val) == 0 {
			return nil, nil
		}
	case map[string]interface{}:
		if len(val) == 0 {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

// nullableTime converts a time pointer to sql.NullTime.
func nullableTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{Valid: false}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullableBytes converts a byte slice to a NULL-able driver value.
func nullableBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
