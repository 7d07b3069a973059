// Package postgres provides a PostgreSQL implementation of the storage
// interfaces, using pgvector for cosine similarity and tsvector for
// keyword search. It targets shared deployments where several machines
// point at one memory store; single-machine installs use the sqlite
// backend.
package postgres

// Schema contains the SQL statements to create the database schema.
// All statements are idempotent. The vector extension must be enabled
// before this runs.
const Schema = `
CREATE TABLE IF NOT EXISTS memories (
    id TEXT PRIMARY KEY,
    content TEXT NOT NULL,
    summary TEXT NOT NULL DEFAULT '',
    memory_type TEXT NOT NULL,
    scope TEXT NOT NULL DEFAULT 'project',

    -- Vectors: remote (e.g. 1024-dim) and local fallback (e.g. 384-dim).
    -- Untyped vector columns so either model size fits.
    embedding vector,
    local_embedding vector,

    confidence REAL NOT NULL DEFAULT 1.0,
    priority INTEGER NOT NULL DEFAULT 5,
    pinned BOOLEAN NOT NULL DEFAULT FALSE,

    source_type TEXT NOT NULL DEFAULT '',
    source_session TEXT NOT NULL DEFAULT '',
    source_context JSONB,
    tags JSONB,

    access_count INTEGER NOT NULL DEFAULT 0,
    last_accessed_at TIMESTAMPTZ,

    status TEXT NOT NULL DEFAULT 'active',
    low_confidence_since TIMESTAMPTZ,
    archived_at TIMESTAMPTZ,

    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_memories_status ON memories(status);
CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(memory_type);
CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at);
CREATE INDEX IF NOT EXISTS idx_memories_file_path
    ON memories((source_context ->> 'file_path'));

CREATE TABLE IF NOT EXISTS edges (
    id TEXT PRIMARY KEY,
    source_id TEXT NOT NULL,
    target_id TEXT NOT NULL,
    relation_type TEXT NOT NULL,
    strength REAL NOT NULL DEFAULT 0.5,
    bidirectional BOOLEAN NOT NULL DEFAULT FALSE,
    status TEXT NOT NULL DEFAULT 'active',
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,

    FOREIGN KEY (source_id) REFERENCES memories(id) ON DELETE CASCADE,
    FOREIGN KEY (target_id) REFERENCES memories(id) ON DELETE CASCADE,
    UNIQUE(source_id, target_id, relation_type)
);

CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_id);
CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_id);

CREATE TABLE IF NOT EXISTS extraction_checkpoints (
    session_id TEXT PRIMARY KEY,
    cursor_position BIGINT NOT NULL DEFAULT 0,
    extracted_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// MigrationFTS adds tsvector full-text search over content, summary, and
// tags. Safe to run repeatedly.
const MigrationFTS = `
DO $$
BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns
        WHERE table_name = 'memories' AND column_name = 'content_tsv'
    ) THEN
        ALTER TABLE memories ADD COLUMN content_tsv tsvector;
    END IF;
END
$$;

UPDATE memories
SET content_tsv = to_tsvector('english',
    coalesce(content, '') || ' ' || coalesce(summary, '') || ' ' || coalesce(tags::text, ''))
WHERE content_tsv IS NULL;

CREATE INDEX IF NOT EXISTS idx_memories_content_tsv ON memories USING GIN(content_tsv);

CREATE OR REPLACE FUNCTION memories_tsv_update()
RETURNS TRIGGER AS $$
BEGIN
    NEW.content_tsv := to_tsvector('english',
        coalesce(NEW.content, '') || ' ' || coalesce(NEW.summary, '') || ' ' || coalesce(NEW.tags::text, ''));
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS memories_tsv_trigger ON memories;
CREATE TRIGGER memories_tsv_trigger
    BEFORE INSERT OR UPDATE OF content, summary, tags
    ON memories
    FOR EACH ROW
    EXECUTE FUNCTION memories_tsv_update();
`
