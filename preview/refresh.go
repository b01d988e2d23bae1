package preview

import (
	"context"
	"log/slog"
	"time"

	"github.com/Kurisu21/webeenthere-sub000/assist"
)

// renderer is the Mirror surface the refresher needs.
type renderer interface {
	Show(ctx context.Context, websiteID, html, css string) error
}

// ContentFunc loads a website's current content.
type ContentFunc func(ctx context.Context, websiteID string) (html, css string, err error)

// Refresher re-renders a website's preview whenever the assistant lands a
// change. It implements assist.Sink and can be fanned out next to other
// sinks.
type Refresher struct {
	mirror  renderer
	content ContentFunc
	logger  *slog.Logger
	timeout time.Duration
}

// NewRefresher builds a Refresher around a mirror and a content loader.
func NewRefresher(mirror renderer, content ContentFunc, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{mirror: mirror, content: content, logger: logger, timeout: 10 * time.Second}
}

// Emit re-renders on applied and suggested events; everything else is
// ignored.
func (r *Refresher) Emit(ev assist.Event) {
	switch ev.Type {
	case assist.EventApplied, assist.EventSuggested:
	default:
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	html, css, err := r.content(ctx, ev.WebsiteID)
	if err != nil {
		r.logger.Warn("preview: load content", "website_id", ev.WebsiteID, "error", err)
		return
	}
	if err := r.mirror.Show(ctx, ev.WebsiteID, html, css); err != nil {
		r.logger.Warn("preview: refresh", "website_id", ev.WebsiteID, "error", err)
	}
}
