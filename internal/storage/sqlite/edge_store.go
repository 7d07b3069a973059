package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mnemon-dev/mnemon/internal/storage"
	"github.com/mnemon-dev/mnemon/pkg/types"
)

const edgeColumns = `id, source_id, target_id, relation_type, strength, bidirectional, status, created_at`

// InsertEdge stores a new edge. A (source, target, relation_type) triple
// already present fails with storage.ErrDuplicateEdge; the reverse triple
// is distinct and succeeds.
func (s *Store) InsertEdge(ctx context.Context, edge *types.Edge) (string, error) {
	if edge == nil {
		return "", storage.ErrInvalidInput
	}
	if edge.SourceID == "" || edge.TargetID == "" {
		return "", fmt.Errorf("%w: edge endpoints are required", storage.ErrInvalidInput)
	}
	if edge.SourceID == edge.TargetID {
		return "", fmt.Errorf("%w: edge cannot point at its own source", storage.ErrInvalidInput)
	}
	if !types.IsValidRelationType(edge.Type) {
		return "", fmt.Errorf("%w: unknown relation type %q", storage.ErrInvalidInput, edge.Type)
	}
	if edge.Strength < 0 || edge.Strength > 1 {
		return "", fmt.Errorf("%w: strength %f outside [0,1]", storage.ErrInvalidInput, edge.Strength)
	}

	if edge.ID == "" {
		edge.ID = uuid.NewString()
	}
	if edge.Status == "" {
		edge.Status = types.EdgeStatusActive
	}
	if edge.CreatedAt.IsZero() {
		edge.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO edges (`+edgeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		edge.ID,
		edge.SourceID,
		edge.TargetID,
		string(edge.Type),
		edge.Strength,
		edge.Bidirectional,
		edge.Status,
		edge.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("%w: %s -[%s]-> %s", storage.ErrDuplicateEdge,
				edge.SourceID, edge.Type, edge.TargetID)
		}
		if isForeignKeyViolation(err) {
			return "", fmt.Errorf("%w: edge references a missing memory", storage.ErrInvalidInput)
		}
		return "", fmt.Errorf("sqlite: failed to insert edge: %w", err)
	}

	return edge.ID, nil
}

// EdgesFrom returns all active edges whose source is the given memory.
func (s *Store) EdgesFrom(ctx context.Context, memoryID string) ([]*types.Edge, error) {
	return s.queryEdges(ctx,
		"SELECT "+edgeColumns+" FROM edges WHERE source_id = ? AND status = 'active' ORDER BY created_at", memoryID)
}

// EdgesTo returns all active edges whose target is the given memory.
func (s *Store) EdgesTo(ctx context.Context, memoryID string) ([]*types.Edge, error) {
	return s.queryEdges(ctx,
		"SELECT "+edgeColumns+" FROM edges WHERE target_id = ? AND status = 'active' ORDER BY created_at", memoryID)
}

// EdgeExists reports whether the (source, target, type) triple already
// exists, counting a stored bidirectional edge in the reverse orientation.
func (s *Store) EdgeExists(ctx context.Context, sourceID, targetID string, relType types.RelationType) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM edges
		WHERE relation_type = ? AND status = 'active'
		  AND (
			(source_id = ? AND target_id = ?)
			OR (bidirectional = 1 AND source_id = ? AND target_id = ?)
		  )`,
		string(relType), sourceID, targetID, targetID, sourceID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("sqlite: EdgeExists: %w", err)
	}
	return count > 0, nil
}

// InDegrees returns incoming active-edge counts per memory ID. Edges whose
// endpoints are no longer active memories are excluded so centrality only
// reflects the live graph. Bidirectional edges count toward both endpoints.
func (s *Store) InDegrees(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.source_id, e.target_id, e.bidirectional
		FROM edges e
		JOIN memories ms ON ms.id = e.source_id AND ms.status = 'active'
		JOIN memories mt ON mt.id = e.target_id AND mt.status = 'active'
		WHERE e.status = 'active'`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: InDegrees: %w", err)
	}
	defer func() { _ = rows.Close() }()

	degrees := make(map[string]int)
	for rows.Next() {
		var sourceID, targetID string
		var bidirectional bool
		if err := rows.Scan(&sourceID, &targetID, &bidirectional); err != nil {
			return nil, fmt.Errorf("sqlite: InDegrees scan: %w", err)
		}
		degrees[targetID]++
		if bidirectional {
			degrees[sourceID]++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: InDegrees rows: %w", err)
	}
	return degrees, nil
}

// DeleteEdge removes an edge by ID.
func (s *Store) DeleteEdge(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: edge ID is required", storage.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx, "DELETE FROM edges WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("sqlite: failed to delete edge: %w", err)
	}
	return requireRowAffected(result)
}

// queryEdges runs an edge query and scans the results.
func (s *Store) queryEdges(ctx context.Context, query string, args ...interface{}) ([]*types.Edge, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: edge query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var edges []*types.Edge
	for rows.Next() {
		var e types.Edge
		var relType string
		if err := rows.Scan(&e.ID, &e.SourceID, &e.TargetID, &relType,
			&e.Strength, &e.Bidirectional, &e.Status, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: edge scan: %w", err)
		}
		e.Type = types.RelationType(relType)
		edges = append(edges, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: edge rows: %w", err)
	}
	return edges, nil
}

// isUniqueViolation matches SQLite's UNIQUE constraint error text.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isForeignKeyViolation matches SQLite's FK constraint error text.
func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
