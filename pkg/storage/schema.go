package storage

// Schema defines the SQLite layout of the ingested mail archive. The tables
// are written by the external ingestion tooling; this package (and the
// retrieval engine) only reads them. The DDL lives here so tests can build
// in-memory fixtures identical to a real archive.
const Schema = `
-- Messages table: one row per parsed email
CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,              -- RFC 5322 Message-ID
    thread_id TEXT NOT NULL,
    subject TEXT,
    sender TEXT,                      -- From address
    recipients TEXT,                  -- JSON array of To addresses
    date TEXT,                        -- ISO-8601
    raw_path TEXT,                    -- Source file of the raw message
    created_at INTEGER NOT NULL
);

-- Passages table: chunks of message bodies, the atomic retrievable unit.
-- Metadata is denormalized from the parent message so search paths never
-- need a join back to messages.
CREATE TABLE IF NOT EXISTS passages (
    passage_id TEXT PRIMARY KEY,      -- Stable across index rebuilds
    message_id TEXT NOT NULL,
    thread_id TEXT NOT NULL,
    subject TEXT,
    sender TEXT,
    recipients TEXT,                  -- JSON array
    date TEXT,                        -- ISO-8601
    ordinal INTEGER NOT NULL,         -- Position within the parent message
    text TEXT NOT NULL,
    indexed_at INTEGER,               -- NULL = not vector indexed yet
    FOREIGN KEY (message_id) REFERENCES messages(id)
);

CREATE INDEX IF NOT EXISTS idx_passages_message ON passages(message_id);
CREATE INDEX IF NOT EXISTS idx_passages_thread ON passages(thread_id);

-- Full-text index over passage text, maintained by the ingestion tooling.
-- unicode61 lowercases and splits on non-alphanumerics with no stemming,
-- which query building must match.
CREATE VIRTUAL TABLE IF NOT EXISTS passages_fts USING fts5(
    passage_id UNINDEXED,
    text,
    tokenize = 'unicode61'
);
`
