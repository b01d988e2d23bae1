package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Kurisu21/webeenthere-sub000/dbopen"
)

// HistoryEntry is one record of the AI conversation audit trail.
type HistoryEntry struct {
	ID             string `json:"id"`
	WebsiteID      string `json:"website_id"`
	ConversationID string `json:"conversation_id,omitempty"`
	Role           string `json:"role"` // "user" or "assistant"
	Text           string `json:"text"`
	TokenCount     int    `json:"token_count,omitempty"`
	CreatedAt      int64  `json:"created_at"` // epoch milliseconds
}

// AppendHistory stores one history entry.
func (s *Store) AppendHistory(ctx context.Context, e *HistoryEntry) error {
	if e.CreatedAt == 0 {
		e.CreatedAt = s.now().UnixMilli()
	}
	_, err := dbopen.Exec(ctx, s.DB, `
		INSERT INTO ai_history (id, website_id, conversation_id, role, text, token_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.WebsiteID, e.ConversationID, e.Role, e.Text, e.TokenCount, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: append history: %w", err)
	}
	return nil
}

// AppendExchange stores a user message and the assistant's reply as one
// transaction, so a crash cannot leave a reply without its question.
func (s *Store) AppendExchange(ctx context.Context, user, assistant *HistoryEntry) error {
	if user.CreatedAt == 0 {
		user.CreatedAt = s.now().UnixMilli()
	}
	if assistant.CreatedAt == 0 {
		assistant.CreatedAt = user.CreatedAt + 1
	}
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		const q = `
			INSERT INTO ai_history (id, website_id, conversation_id, role, text, token_count, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`
		for _, e := range []*HistoryEntry{user, assistant} {
			if _, err := tx.ExecContext(ctx, q,
				e.ID, e.WebsiteID, e.ConversationID, e.Role, e.Text, e.TokenCount, e.CreatedAt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: append exchange: %w", err)
	}
	return nil
}

// History returns one page of the website's conversation records, newest
// first. Page numbering starts at 1.
func (s *Store) History(ctx context.Context, websiteID string, page, limit int) ([]HistoryEntry, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, website_id, conversation_id, role, text, token_count, created_at
		FROM ai_history
		WHERE website_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`,
		websiteID, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("store: history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ID, &e.WebsiteID, &e.ConversationID, &e.Role,
			&e.Text, &e.TokenCount, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan history: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
