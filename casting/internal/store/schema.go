package store

import "database/sql"

// Schema is the pipeline schema. Timestamps are unix milliseconds.
const Schema = `
-- Source registry
CREATE TABLE IF NOT EXISTS sources (
    id                TEXT PRIMARY KEY,
    source_type       TEXT NOT NULL CHECK (source_type IN ('web', 'chat')),
    source_identifier TEXT NOT NULL,
    source_key        TEXT NOT NULL,
    display_name      TEXT NOT NULL DEFAULT '',
    is_active         INTEGER NOT NULL DEFAULT 1,
    last_processed_at INTEGER,
    created_at        INTEGER NOT NULL,
    updated_at        INTEGER NOT NULL,
    UNIQUE (source_type, source_key)
);
CREATE INDEX IF NOT EXISTS idx_sources_active ON sources(is_active, source_type);

-- Moderation queue. The fingerprint is unique across every status.
CREATE TABLE IF NOT EXISTS candidates (
    id                   TEXT PRIMARY KEY,
    fingerprint          TEXT NOT NULL UNIQUE,
    status               TEXT NOT NULL DEFAULT 'pending_review'
                         CHECK (status IN ('pending_review', 'live', 'rejected')),
    title                TEXT NOT NULL DEFAULT '',
    description          TEXT NOT NULL DEFAULT '',
    organization         TEXT NOT NULL DEFAULT '',
    location             TEXT NOT NULL DEFAULT '',
    compensation         TEXT NOT NULL DEFAULT '',
    requirements         TEXT NOT NULL DEFAULT '',
    application_deadline TEXT NOT NULL DEFAULT '',
    contact_info         TEXT NOT NULL DEFAULT '',
    source_url           TEXT NOT NULL DEFAULT '',
    source_group         TEXT NOT NULL DEFAULT '',
    source_name          TEXT NOT NULL DEFAULT '',
    ingested_at          INTEGER NOT NULL,
    reviewed_at          INTEGER,
    review_note          TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_candidates_status ON candidates(status, ingested_at DESC);

-- One row per source per run
CREATE TABLE IF NOT EXISTS cycle_log (
    id            TEXT PRIMARY KEY,
    run_id        TEXT NOT NULL,
    source_id     TEXT NOT NULL,
    source_type   TEXT NOT NULL,
    status        TEXT NOT NULL,
    records       INTEGER NOT NULL DEFAULT 0,
    duplicates    INTEGER NOT NULL DEFAULT 0,
    messages      INTEGER NOT NULL DEFAULT 0,
    error_message TEXT NOT NULL DEFAULT '',
    duration_ms   INTEGER NOT NULL DEFAULT 0,
    started_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cycle_log_source ON cycle_log(source_id, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_cycle_log_time ON cycle_log(started_at DESC);
`

// ApplySchema creates the tables if they do not exist.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
