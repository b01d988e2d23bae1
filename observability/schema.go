package observability

import "database/sql"

// Schema contains the DDL for the monitoring tables. Kept in a database
// separate from the application store to avoid write contention.
const Schema = `
CREATE TABLE IF NOT EXISTS assistant_events (
    event_id TEXT PRIMARY KEY,
    event_type TEXT NOT NULL,
    website_id TEXT NOT NULL,
    explanation TEXT,
    message TEXT,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_assistant_events_type
    ON assistant_events(event_type, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_assistant_events_website
    ON assistant_events(website_id, created_at DESC);

CREATE TABLE IF NOT EXISTS worker_heartbeats (
    heartbeat_id TEXT PRIMARY KEY DEFAULT ('hb_' || hex(randomblob(16))),
    worker_name TEXT NOT NULL,
    hostname TEXT NOT NULL,
    worker_pid INTEGER NOT NULL,
    timestamp INTEGER NOT NULL,
    goroutines_count INTEGER,
    memory_alloc_mb REAL,
    gc_count INTEGER
);
CREATE INDEX IF NOT EXISTS idx_heartbeats_worker_time
    ON worker_heartbeats(worker_name, timestamp DESC);
`

// Init applies the monitoring schema to the given database.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
