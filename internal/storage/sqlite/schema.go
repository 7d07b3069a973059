package sqlite

// Schema contains the SQL statements creating the mnemon store schema.
// One database file exists per scope (project, global); the schema is
// identical in both. The FTS5 virtual table is kept in sync with the
// memories table via triggers so keyword search never sees stale rows.
const Schema = `
-- Memories table: one row per unit of knowledge
CREATE TABLE IF NOT EXISTS memories (
    id TEXT PRIMARY KEY,
    content TEXT NOT NULL,
    summary TEXT,
    memory_type TEXT NOT NULL,
    scope TEXT NOT NULL DEFAULT 'project',

    -- Embedding vectors, serialized as little-endian float32 BLOBs.
    -- code-type memories must keep both NULL.
    embedding BLOB,
    embedding_dim INTEGER,
    local_embedding BLOB,
    local_embedding_dim INTEGER,

    -- Quality
    confidence REAL NOT NULL DEFAULT 0.5,
    priority INTEGER NOT NULL DEFAULT 5,
    pinned INTEGER NOT NULL DEFAULT 0,

    -- Provenance
    source_type TEXT,
    source_session TEXT,
    source_context TEXT,  -- JSON object

    -- Usage
    tags TEXT,            -- JSON array
    access_count INTEGER NOT NULL DEFAULT 0,
    last_accessed_at TIMESTAMP,

    -- Lifecycle
    status TEXT NOT NULL DEFAULT 'active',
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    low_confidence_since TIMESTAMP,
    archived_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_memories_status ON memories(status);
CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(memory_type);
CREATE INDEX IF NOT EXISTS idx_memories_session ON memories(source_session);

-- Edges table: typed relationships between memories.
-- The (source_id, target_id, relation_type) triple is unique; duplicate
-- inserts fail rather than silently merging.
CREATE TABLE IF NOT EXISTS edges (
    id TEXT PRIMARY KEY,
    source_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
    target_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
    relation_type TEXT NOT NULL,
    strength REAL NOT NULL DEFAULT 0.5,
    bidirectional INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'active',
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,

    UNIQUE(source_id, target_id, relation_type)
);

CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_id);
CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_id);

-- Extraction checkpoints: one cursor per session, upserted in place.
CREATE TABLE IF NOT EXISTS extraction_checkpoints (
    session_id TEXT PRIMARY KEY,
    cursor_position INTEGER NOT NULL DEFAULT 0,
    extracted_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Meta table: durable key/value rows for cross-invocation state
-- (e.g. extraction counts feeding the consolidation trigger).
CREATE TABLE IF NOT EXISTS meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Full-text index over content, summary and tags.
CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
    content,
    summary,
    tags,
    content='memories',
    content_rowid='rowid'
);

-- Triggers keeping the FTS index in sync with the memories table.
CREATE TRIGGER IF NOT EXISTS memories_fts_insert AFTER INSERT ON memories BEGIN
    INSERT INTO memories_fts(rowid, content, summary, tags)
    VALUES (new.rowid, new.content, new.summary, new.tags);
END;

CREATE TRIGGER IF NOT EXISTS memories_fts_delete AFTER DELETE ON memories BEGIN
    INSERT INTO memories_fts(memories_fts, rowid, content, summary, tags)
    VALUES ('delete', old.rowid, old.content, old.summary, old.tags);
END;

CREATE TRIGGER IF NOT EXISTS memories_fts_update AFTER UPDATE ON memories BEGIN
    INSERT INTO memories_fts(memories_fts, rowid, content, summary, tags)
    VALUES ('delete', old.rowid, old.content, old.summary, old.tags);
    INSERT INTO memories_fts(rowid, content, summary, tags)
    VALUES (new.rowid, new.content, new.summary, new.tags);
END;
`
