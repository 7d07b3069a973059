package postgres

import (
	"context"
	"fmt"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/mnemon-dev/mnemon/internal/storage"
)

// SearchByVector ranks memories holding an embedding of the given kind by
// descending cosine similarity to the query vector. pgvector's `<=>`
// operator returns cosine distance, so similarity is 1 - distance. Rows
// whose stored vector has a different dimensionality are filtered out: the
// remote and local columns may hold vectors from different models over the
// store's lifetime.
func (s *Store) SearchByVector(ctx context.Context, query []float32, kind storage.EmbeddingKind, limit int) ([]storage.ScoredMemory, error) {
	if len(query) == 0 {
		return []storage.ScoredMemory{}, nil
	}
	if limit <= 0 {
		limit = 10
	}

	column := "embedding"
	if kind == storage.EmbeddingLocal {
		column = "local_embedding"
	}

	queryVec := pgvector.NewVector(query)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, 1 - (%s <=> $1) AS similarity
		FROM memories
		WHERE %s IS NOT NULL
		  AND vector_dims(%s) = $2
		  AND status IN ('active', 'archived')
		ORDER BY %s <=> $1
		LIMIT $3`, column, column, column, column),
		queryVec, len(query), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	type scored struct {
		id    string
		score float64
	}
	var hits []scored
	for rows.Next() {
		var h scored
		if err := rows.Scan(&h.id, &h.score); err != nil {
			return nil, fmt.Errorf("postgres: vector search scan: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: vector search rows: %w", err)
	}

	results := make([]storage.ScoredMemory, 0, len(hits))
	for _, h := range hits {
		m, err := s.Get(ctx, h.id)
		if err != nil {
			continue // deleted between queries
		}
		results = append(results, storage.ScoredMemory{Memory: m, Score: h.score})
	}
	return results, nil
}

// SearchByKeyword performs tsvector full-text search ranked by ts_rank.
// plainto_tsquery handles free-form input safely, so no sanitisation pass
// is needed on this backend.
func (s *Store) SearchByKeyword(ctx context.Context, query string, limit int) ([]storage.ScoredMemory, error) {
	if limit <= 0 {
		limit = 10
	}
	if query == "" {
		return []storage.ScoredMemory{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts_rank(content_tsv, plainto_tsquery('english', $1)) AS rank
		FROM memories
		WHERE content_tsv @@ plainto_tsquery('english', $1)
		  AND status IN ('active', 'archived')
		ORDER BY rank DESC
		LIMIT $2`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: keyword search %q: %w", query, err)
	}
	defer func() { _ = rows.Close() }()

	type scored struct {
		id   string
		rank float64
	}
	var hits []scored
	for rows.Next() {
		var h scored
		if err := rows.Scan(&h.id, &h.rank); err != nil {
			return nil, fmt.Errorf("postgres: keyword scan: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: keyword rows: %w", err)
	}

	results := make([]storage.ScoredMemory, 0, len(hits))
	for _, h := range hits {
		m, err := s.Get(ctx, h.id)
		if err != nil {
			continue
		}
		results = append(results, storage.ScoredMemory{Memory: m, Score: h.rank})
	}
	return results, nil
}
