// Package store provides the SQLite persistence layer of the assist core:
// website content (markup + stylesheet), the pending-AI-content marker,
// and the paginated chat/audit history.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Kurisu21/webeenthere-sub000/dbopen"
)

// ErrNotFound is returned when a website has no persisted content.
var ErrNotFound = errors.New("store: website not found")

// Store is the assist database handle.
type Store struct {
	DB  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the assist SQLite database at path and applies
// the schema.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	allOpts := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)

	db, err := dbopen.Open(path, allOpts...)
	if err != nil {
		return nil, err
	}
	return New(db), nil
}

// New wraps an already-open database. The schema must be applied.
func New(db *sql.DB) *Store {
	return &Store{DB: db, now: time.Now}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// Content returns the persisted markup and stylesheet for a website.
func (s *Store) Content(ctx context.Context, websiteID string) (html, css string, err error) {
	err = s.DB.QueryRowContext(ctx,
		`SELECT html, css FROM websites WHERE id = ?`, websiteID).Scan(&html, &css)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", fmt.Errorf("%w: %s", ErrNotFound, websiteID)
	}
	if err != nil {
		return "", "", fmt.Errorf("store: content: %w", err)
	}
	return html, css, nil
}

// SaveContent upserts the website content.
func (s *Store) SaveContent(ctx context.Context, websiteID, html, css string) error {
	_, err := dbopen.Exec(ctx, s.DB, `
		INSERT INTO websites (id, html, css, ai_pending, updated_at)
		VALUES (?, ?, ?, 0, ?)
		ON CONFLICT(id) DO UPDATE SET
			html = excluded.html,
			css = excluded.css,
			ai_pending = 0,
			updated_at = excluded.updated_at`,
		websiteID, html, css, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: save content: %w", err)
	}
	return nil
}

// MarkAIPending flags the website as carrying unsaved AI-authored content.
func (s *Store) MarkAIPending(ctx context.Context, websiteID string) error {
	return s.setPending(ctx, websiteID, 1)
}

// ClearAIPending clears the pending-AI-content marker so subsequent saves
// read from the live document rather than a stashed original.
func (s *Store) ClearAIPending(ctx context.Context, websiteID string) error {
	return s.setPending(ctx, websiteID, 0)
}

// AIPending reports whether the marker is set.
func (s *Store) AIPending(ctx context.Context, websiteID string) (bool, error) {
	var pending int
	err := s.DB.QueryRowContext(ctx,
		`SELECT ai_pending FROM websites WHERE id = ?`, websiteID).Scan(&pending)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: pending: %w", err)
	}
	return pending != 0, nil
}

func (s *Store) setPending(ctx context.Context, websiteID string, v int) error {
	_, err := dbopen.Exec(ctx, s.DB,
		`UPDATE websites SET ai_pending = ? WHERE id = ?`, v, websiteID)
	if err != nil {
		return fmt.Errorf("store: set pending: %w", err)
	}
	return nil
}
