// Package observability provides SQLite-native monitoring for the
// assistant: a persisted event log and worker heartbeats, replacing an
// external metrics stack.
//
// All persistence is async and non-blocking: a full buffer falls back to
// a synchronous insert rather than applying backpressure to the editor.
package observability

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Kurisu21/webeenthere-sub000/assist"
)

// StoredEvent is one persisted assistant lifecycle event.
type StoredEvent struct {
	EventID     string
	Type        string
	WebsiteID   string
	Explanation string
	Message     string
	CreatedAt   int64 // epoch seconds
}

// EventLog persists assistant events asynchronously. It implements
// assist.Sink, so it plugs straight into the service.
type EventLog struct {
	db    *sql.DB
	newID func() string
	ch    chan assist.Event
	stop  chan struct{}
	done  chan struct{}
}

// EventLogOption configures an EventLog.
type EventLogOption func(*EventLog)

// WithIDGenerator sets a custom ID generator for event IDs.
func WithIDGenerator(f func() string) EventLogOption {
	return func(l *EventLog) { l.newID = f }
}

// NewEventLog creates an async event log. Recommended bufferSize: 1000.
func NewEventLog(db *sql.DB, bufferSize int, opts ...EventLogOption) *EventLog {
	l := &EventLog{
		db:    db,
		newID: func() string { return "evt_" + uuid.NewString() },
		ch:    make(chan assist.Event, bufferSize),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	go l.drain()
	return l
}

// Emit queues an event for async persistence. Falls back to a synchronous
// insert when the buffer is full.
func (l *EventLog) Emit(ev assist.Event) {
	select {
	case l.ch <- ev:
	default:
		slog.Warn("event buffer full, sync fallback", "event_type", string(ev.Type))
		l.insert(context.Background(), ev)
	}
}

// Close flushes queued events and stops the worker.
func (l *EventLog) Close() {
	close(l.stop)
	<-l.done
}

func (l *EventLog) drain() {
	defer close(l.done)
	for {
		select {
		case ev := <-l.ch:
			l.insert(context.Background(), ev)
		case <-l.stop:
			for {
				select {
				case ev := <-l.ch:
					l.insert(context.Background(), ev)
				default:
					return
				}
			}
		}
	}
}

// insert never propagates errors: a failing monitoring store must not
// break the assistant.
func (l *EventLog) insert(ctx context.Context, ev assist.Event) {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO assistant_events (event_id, event_type, website_id, explanation, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		l.newID(), string(ev.Type), ev.WebsiteID, ev.Explanation, ev.Message, time.Now().Unix())
	if err != nil {
		slog.Error("event log insert failed", "error", err, "event_type", string(ev.Type))
	}
}

// Filter controls event queries. Zero values mean unbounded.
type Filter struct {
	WebsiteID string
	Type      string
	Since     time.Time
	Limit     int // default 100
}

// Query returns matching events, newest first.
func (l *EventLog) Query(ctx context.Context, f Filter) ([]StoredEvent, error) {
	q := "SELECT event_id, event_type, website_id, explanation, message, created_at FROM assistant_events WHERE 1=1"
	args := make([]any, 0, 4)
	if f.WebsiteID != "" {
		q += " AND website_id = ?"
		args = append(args, f.WebsiteID)
	}
	if f.Type != "" {
		q += " AND event_type = ?"
		args = append(args, f.Type)
	}
	if !f.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, f.Since.Unix())
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " ORDER BY created_at DESC, event_id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []StoredEvent
	for rows.Next() {
		var ev StoredEvent
		if err := rows.Scan(&ev.EventID, &ev.Type, &ev.WebsiteID, &ev.Explanation, &ev.Message, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CountByType aggregates event counts since the given time, a cheap
// stand-in for a metrics dashboard.
func (l *EventLog) CountByType(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT event_type, COUNT(*) FROM assistant_events
		WHERE created_at >= ? GROUP BY event_type`, since.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		counts[typ] = n
	}
	return counts, rows.Err()
}

// Cleanup deletes events older than the retention window. Zero days means
// no cleanup.
func Cleanup(ctx context.Context, db *sql.DB, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().Unix() - int64(retentionDays*86400)
	if _, err := db.ExecContext(ctx, "DELETE FROM assistant_events WHERE created_at < ?", cutoff); err != nil {
		return err
	}
	_, err := db.ExecContext(ctx, "DELETE FROM worker_heartbeats WHERE timestamp < ?", cutoff)
	return err
}
