package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mnemon-dev/mnemon/internal/storage"
	"github.com/mnemon-dev/mnemon/pkg/types"
)

// GetCheckpoint returns the extraction checkpoint for a session.
func (s *Store) GetCheckpoint(ctx context.Context, sessionID string) (*types.ExtractionCheckpoint, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session ID is required", storage.ErrInvalidInput)
	}

	var cp types.ExtractionCheckpoint
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, cursor_position, extracted_at
		FROM extraction_checkpoints
		WHERE session_id = $1`, sessionID,
	).Scan(&cp.SessionID, &cp.CursorPosition, &cp.ExtractedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get checkpoint: %w", err)
	}
	return &cp, nil
}

// SaveCheckpoint upserts the checkpoint for its session. At most one
// checkpoint exists per session; re-saving updates the cursor in place.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *types.ExtractionCheckpoint) error {
	if cp == nil || cp.SessionID == "" {
		return fmt.Errorf("%w: checkpoint session ID is required", storage.ErrInvalidInput)
	}
	if cp.CursorPosition < 0 {
		return fmt.Errorf("%w: cursor position must be non-negative", storage.ErrInvalidInput)
	}

	if cp.ExtractedAt.IsZero() {
		cp.ExtractedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO extraction_checkpoints (session_id, cursor_position, extracted_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id) DO UPDATE SET
			cursor_position = EXCLUDED.cursor_position,
			extracted_at = EXCLUDED.extracted_at`,
		cp.SessionID, cp.CursorPosition, cp.ExtractedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to save checkpoint: %w", err)
	}
	return nil
}
