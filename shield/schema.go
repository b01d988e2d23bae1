package shield

import "database/sql"

// Schema contains the rate_limits DDL and the seeded rules for the
// builder API. Suggestion endpoints are tight since each request spends
// model tokens; bookkeeping endpoints are loose.
const Schema = `
CREATE TABLE IF NOT EXISTS rate_limits (
    endpoint TEXT PRIMARY KEY,
    max_requests INTEGER NOT NULL DEFAULT 60,
    window_seconds INTEGER NOT NULL DEFAULT 60,
    enabled INTEGER NOT NULL DEFAULT 1
);
INSERT OR IGNORE INTO rate_limits (endpoint, max_requests, window_seconds, enabled) VALUES
    ('POST /api/assist/{websiteID}/instruct', 10, 60, 1),
    ('POST /api/assist/{websiteID}/suggest', 10, 60, 1),
    ('POST /api/assist/{websiteID}/edits', 300, 60, 1),
    ('POST /api/assist/{websiteID}/save', 30, 60, 1),
    ('GET /api/assist/{websiteID}/history', 60, 60, 1);
`

// Init applies the rate limit schema and seed rules.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
