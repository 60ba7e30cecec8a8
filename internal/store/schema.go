package store

// SchemaVersion is the current database schema version
const SchemaVersion = 3

const schema = `
-- Reference records mirrored from the server, one row per (collection, id).
-- payload carries the business fields as JSON; the store never inspects it.
CREATE TABLE IF NOT EXISTS records (
    collection TEXT NOT NULL,
    id TEXT NOT NULL,
    payload JSON NOT NULL DEFAULT '{}',
    updated_at DATETIME,
    last_synced_at DATETIME,
    local_modified_at DATETIME,
    PRIMARY KEY (collection, id)
);

CREATE INDEX IF NOT EXISTS idx_records_dirty ON records(collection, local_modified_at);

-- Durable write-ahead log of locally-originated mutations.
CREATE TABLE IF NOT EXISTS mutation_queue (
    id TEXT PRIMARY KEY,
    operation TEXT NOT NULL,
    collection TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    payload JSON NOT NULL DEFAULT '{}',
    status TEXT NOT NULL DEFAULT 'pending',
    attempts INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL,
    last_attempt_at DATETIME,
    next_attempt_at DATETIME,
    completed_at DATETIME,
    last_error TEXT DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_queue_status ON mutation_queue(status, next_attempt_at);
CREATE INDEX IF NOT EXISTS idx_queue_entity ON mutation_queue(collection, entity_id, created_at);

-- Singleton sync bookkeeping row (id is always 1).
CREATE TABLE IF NOT EXISTS sync_metadata (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    last_sync DATETIME,
    collection_sync JSON NOT NULL DEFAULT '{}',
    sync_in_progress INTEGER NOT NULL DEFAULT 0
);

-- Schema versioning
CREATE TABLE IF NOT EXISTS schema_info (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
