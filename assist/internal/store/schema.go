package store

// Schema contains the complete DDL for the assist tables.
const Schema = `
-- Websites: persisted builder documents
CREATE TABLE IF NOT EXISTS websites (
    id         TEXT PRIMARY KEY,
    html       TEXT NOT NULL DEFAULT '',
    css        TEXT NOT NULL DEFAULT '',
    ai_pending INTEGER NOT NULL DEFAULT 0,
    updated_at INTEGER NOT NULL
);

-- AI chat/audit history, paginated per website
CREATE TABLE IF NOT EXISTS ai_history (
    id              TEXT PRIMARY KEY,
    website_id      TEXT NOT NULL,
    conversation_id TEXT NOT NULL DEFAULT '',
    role            TEXT NOT NULL,
    text            TEXT NOT NULL,
    token_count     INTEGER NOT NULL DEFAULT 0,
    created_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_website ON ai_history(website_id, created_at DESC);
`
