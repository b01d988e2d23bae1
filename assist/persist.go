package assist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Kurisu21/webeenthere-sub000/assist/internal/store"
	"github.com/Kurisu21/webeenthere-sub000/canvas"
	"github.com/Kurisu21/webeenthere-sub000/dbopen"
	"github.com/Kurisu21/webeenthere-sub000/guard"
)

// errSaveTransient marks save failures worth retrying. Wrapped by savers,
// never returned to callers directly.
var errSaveTransient = errors.New("assist: transient save failure")

// Saver persists one website's content.
type Saver interface {
	Save(ctx context.Context, websiteID, html, css string) error
}

// StoreSaver persists to the local database.
type StoreSaver struct {
	st *store.Store
}

// NewStoreSaver wraps a store as a Saver.
func NewStoreSaver(st *store.Store) *StoreSaver {
	return &StoreSaver{st: st}
}

// Save writes the content. Lock contention is reported as transient.
func (s *StoreSaver) Save(ctx context.Context, websiteID, html, css string) error {
	err := s.st.SaveContent(ctx, websiteID, html, css)
	if err != nil && dbopen.IsBusy(err) {
		return fmt.Errorf("%w: %v", errSaveTransient, err)
	}
	return err
}

// RemoteSaver persists through the builder backend over HTTP.
type RemoteSaver struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewRemoteSaver validates the endpoint and builds a saver for it.
func NewRemoteSaver(endpoint string, logger *slog.Logger) (*RemoteSaver, error) {
	if err := guard.ValidateEndpoint(endpoint); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteSaver{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
	}, nil
}

// Save POSTs the content. Network failures and 5xx responses are
// transient; 4xx responses are permanent.
func (s *RemoteSaver) Save(ctx context.Context, websiteID, html, css string) error {
	body, err := json.Marshal(map[string]string{
		"websiteId": websiteID,
		"html":      html,
		"css":       css,
	})
	if err != nil {
		return fmt.Errorf("assist: encode save request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("assist: build save request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", errSaveTransient, err)
	}
	defer resp.Body.Close()
	guard.LimitedReadAll(resp.Body, guard.MaxResponseBody)

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: save returned %d", errSaveTransient, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("assist: save rejected with status %d", resp.StatusCode)
	}
	return nil
}

// Coordinator drives the applied-to-persisted handoff: it lets the
// document settle through flush cycles, skips the write when nothing
// changed against the stored copy, and retries transient failures.
type Coordinator struct {
	saver   Saver
	markers *store.Store // nil when saving remotely without a local store
	logger  *slog.Logger

	flushCycles int
	flushPause  time.Duration
	maxRetries  int
	retryDelay  time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

// NewCoordinator builds a Coordinator from config. markers may be nil.
func NewCoordinator(cfg PersistConfig, saver Saver, markers *store.Store, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		saver:       saver,
		markers:     markers,
		logger:      logger,
		flushCycles: cfg.FlushCycles,
		flushPause:  cfg.FlushPause,
		maxRetries:  cfg.MaxRetries,
		retryDelay:  cfg.RetryDelay,
		sleep:       sleepCtx,
	}
}

// Save flushes the document, compares it against the last persisted
// content, and writes it out. prevHTML/prevCSS is the content as of the
// last successful save; when the flushed document matches it the save is
// skipped and reported as success.
func (c *Coordinator) Save(ctx context.Context, websiteID string, doc canvas.Accessor, prevHTML, prevCSS string) error {
	for i := 0; i < c.flushCycles; i++ {
		if err := doc.Flush(ctx); err != nil {
			return fmt.Errorf("assist: flush document: %w", err)
		}
		if i < c.flushCycles-1 {
			if err := c.sleep(ctx, c.flushPause); err != nil {
				return err
			}
		}
	}

	html, css := doc.Markup(), doc.Stylesheet()
	c.logger.Debug("persist diff",
		"website_id", websiteID,
		"html_changed", html != prevHTML,
		"css_changed", css != prevCSS)

	if html == prevHTML && css == prevCSS {
		c.logger.Info("persist skipped, content unchanged", "website_id", websiteID)
		return c.clearPending(ctx, websiteID)
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = c.saver.Save(ctx, websiteID, html, css)
		if err == nil {
			break
		}
		if !errors.Is(err, errSaveTransient) || attempt >= c.maxRetries {
			c.logger.Error("persist failed", "website_id", websiteID, "attempts", attempt+1, "error", err)
			return fmt.Errorf("%w: %v", ErrNotSaved, err)
		}
		c.logger.Warn("persist retry", "website_id", websiteID, "attempt", attempt+1, "error", err)
		if serr := c.sleep(ctx, c.retryDelay); serr != nil {
			return fmt.Errorf("%w: %v", ErrNotSaved, serr)
		}
	}

	c.logger.Info("persisted", "website_id", websiteID,
		"html_bytes", len(html), "css_bytes", len(css))
	return c.clearPending(ctx, websiteID)
}

func (c *Coordinator) clearPending(ctx context.Context, websiteID string) error {
	if c.markers == nil {
		return nil
	}
	if err := c.markers.ClearAIPending(ctx, websiteID); err != nil {
		c.logger.Warn("clear pending marker", "website_id", websiteID, "error", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
