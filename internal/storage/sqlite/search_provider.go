package sqlite

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mnemon-dev/mnemon/internal/storage"
	"github.com/mnemon-dev/mnemon/internal/vectormath"
	"github.com/mnemon-dev/mnemon/pkg/types"
)

// vectorSearchMaxCandidates caps the number of embeddings loaded into
// memory during a vector search. Candidates are selected newest first so
// the most recently-created memories are always considered. For typical
// per-project datasets (< 10k memories) this limit is never hit; for very
// large stores the PostgreSQL backend provides indexed ANN search instead.
const vectorSearchMaxCandidates = 10_000

// SearchByVector ranks memories holding an embedding of the given kind by
// descending cosine similarity to the query vector. Similarity is computed
// in-process over deserialized BLOB columns.
func (s *Store) SearchByVector(ctx context.Context, query []float32, kind storage.EmbeddingKind, limit int) ([]storage.ScoredMemory, error) {
	if len(query) == 0 {
		return []storage.ScoredMemory{}, nil
	}
	if limit <= 0 {
		limit = 10
	}

	column := "embedding"
	dimColumn := "embedding_dim"
	if kind == storage.EmbeddingLocal {
		column = "local_embedding"
		dimColumn = "local_embedding_dim"
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, %s, %s
		FROM memories
		WHERE %s IS NOT NULL
		  AND %s = ?
		  AND status IN ('active', 'archived')
		ORDER BY created_at DESC
		LIMIT ?`, column, dimColumn, column, dimColumn),
		len(query), vectorSearchMaxCandidates)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to load embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	type scored struct {
		id    string
		score float64
	}
	var candidates []scored

	for rows.Next() {
		var id string
		var blob []byte
		var dim int
		if err := rows.Scan(&id, &blob, &dim); err != nil {
			return nil, fmt.Errorf("sqlite: embedding scan: %w", err)
		}

		vec, err := deserializeVector(blob, dim)
		if err != nil {
			return nil, fmt.Errorf("sqlite: embedding for %s: %w", id, err)
		}

		sim, err := vectormath.CosineSimilarity(query, vec)
		if err != nil {
			// Dimensions are filtered in SQL; a mismatch here means a
			// corrupt row and is worth surfacing.
			return nil, fmt.Errorf("sqlite: similarity for %s: %w", id, err)
		}

		candidates = append(candidates, scored{id: id, score: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: embedding rows: %w", err)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	results := make([]storage.ScoredMemory, 0, len(candidates))
	for _, c := range candidates {
		m, err := s.Get(ctx, c.id)
		if err != nil {
			continue // deleted between queries
		}
		results = append(results, storage.ScoredMemory{Memory: m, Score: c.score})
	}
	return results, nil
}

// SearchByKeyword performs FTS5-backed full-text search ranked by bm25.
//
// FTS5 rank values are negative (more negative == better match), so
// ordering by rank ASC gives the best results first. The raw query is
// sanitised into OR'd prefix terms; FTS5 syntax is fragile and an
// unbalanced quote would otherwise produce "fts5: syntax error".
func (s *Store) SearchByKeyword(ctx context.Context, query string, limit int) ([]storage.ScoredMemory, error) {
	if limit <= 0 {
		limit = 10
	}

	ftsQuery := sanitiseFTSQuery(query)
	if ftsQuery == "" {
		return []storage.ScoredMemory{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, fts.rank
		FROM memories_fts fts
		JOIN memories m ON m.rowid = fts.rowid
		WHERE memories_fts MATCH ?
		  AND m.status IN ('active', 'archived')
		ORDER BY fts.rank
		LIMIT ?`, ftsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: keyword search MATCH %q: %w", query, err)
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
			return nil, fmt.Errorf("sqlite: keyword scan: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: keyword rows: %w", err)
	}

	results := make([]storage.ScoredMemory, 0, len(hits))
	for _, h := range hits {
		m, err := s.Get(ctx, h.id)
		if err != nil {
			continue
		}
		// Normalize bm25 rank to a positive "higher is better" score.
		results = append(results, storage.ScoredMemory{Memory: m, Score: -h.rank})
	}
	return results, nil
}

// ListActiveOfTypeWithEmbedding returns active memories of the given type
// that carry a remote embedding, used by the consolidation clusterer.
func (s *Store) ListActiveOfTypeWithEmbedding(ctx context.Context, memType types.MemoryType) ([]*types.Memory, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+memoryColumns+` FROM memories
		 WHERE status = 'active' AND memory_type = ?
		   AND (embedding IS NOT NULL OR local_embedding IS NOT NULL)
		 ORDER BY created_at`, string(memType))
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list %s memories: %w", memType, err)
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
		   AND json_extract(source_context, '$.file_path') = ?
		 ORDER BY created_at`, filePath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list code memories for %s: %w", filePath, err)
	}
	defer func() { _ = rows.Close() }()

	return scanMemories(rows)
}

// sanitiseFTSQuery converts free-form user input into a simple OR'd prefix
// query that is safe to pass to FTS5's MATCH operator.
func sanitiseFTSQuery(query string) string {
	replacer := strings.NewReplacer(
		`"`, ` `,
		`'`, ` `,
		`(`, ` `,
		`)`, ` `,
		`*`, ` `,
		`-`, ` `,
		`^`, ` `,
		`?`, ` `,
		`:`, ` `,
		`.`, ` `,
		`,`, ` `,
	)
	cleaned := replacer.Replace(query)

	words := strings.Fields(strings.ToLower(cleaned))
	if len(words) == 0 {
		return ""
	}

	terms := make([]string, 0, len(words))
	for _, w := range words {
		terms = append(terms, `"`+w+`"*`)
	}
	return strings.Join(terms, " OR ")
}
