package assist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Kurisu21/webeenthere-sub000/assist/internal/execute"
	"github.com/Kurisu21/webeenthere-sub000/assist/internal/fallback"
	"github.com/Kurisu21/webeenthere-sub000/assist/internal/prompt"
	"github.com/Kurisu21/webeenthere-sub000/assist/internal/store"
	"github.com/Kurisu21/webeenthere-sub000/assist/internal/upstream"
	"github.com/Kurisu21/webeenthere-sub000/canvas"
)

// ErrWebsiteNotFound is returned when no stored content exists for a
// website and the caller did not supply any.
var ErrWebsiteNotFound = errors.New("assist: website not found")

// Service owns the assistant's shared infrastructure and one Session per
// open website document.
type Service struct {
	cfg    *Config
	st     *store.Store
	client SuggestionClient
	coord  *Coordinator
	prompt *prompt.Builder
	exec   *execute.Executor
	fb     *fallback.Mutator
	sink   Sink
	logger *slog.Logger
	newID  func() string
	sleep  func(context.Context, time.Duration) error

	mu       sync.Mutex
	sessions map[string]*Session
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithSink routes lifecycle events to the given sink.
func WithSink(sink Sink) ServiceOption {
	return func(s *Service) { s.sink = sink }
}

// WithClient substitutes the upstream suggestion client.
func WithClient(c SuggestionClient) ServiceOption {
	return func(s *Service) { s.client = c }
}

// WithIDGenerator substitutes the history ID generator.
func WithIDGenerator(f func() string) ServiceOption {
	return func(s *Service) { s.newID = f }
}

// NewService opens the store and upstream client and wires the pipeline.
func NewService(cfg *Config, logger *slog.Logger, opts ...ServiceOption) (*Service, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("assist: open store: %w", err)
	}

	s := &Service{
		cfg:      cfg,
		st:       st,
		prompt:   prompt.New(),
		exec:     execute.New(logger),
		fb:       fallback.New(logger),
		sink:     nopSink{},
		logger:   logger,
		newID:    uuid.NewString,
		sleep:    sleepCtx,
		sessions: make(map[string]*Session),
	}
	for _, o := range opts {
		o(s)
	}

	if s.client == nil {
		c, err := upstream.New(upstream.Config{
			Endpoint: cfg.Upstream.Endpoint,
			Timeout:  cfg.Upstream.Timeout,
			APIKey:   cfg.Upstream.APIKey,
			Logger:   logger,
		})
		if err != nil {
			st.Close()
			return nil, err
		}
		s.client = c
	}

	var saver Saver
	if cfg.Persist.RemoteEndpoint != "" {
		rs, err := NewRemoteSaver(cfg.Persist.RemoteEndpoint, logger)
		if err != nil {
			st.Close()
			return nil, err
		}
		saver = rs
	} else {
		saver = NewStoreSaver(st)
	}
	s.coord = NewCoordinator(cfg.Persist, saver, st, logger)

	return s, nil
}

// Close releases the store.
func (s *Service) Close() error {
	s.mu.Lock()
	for _, sess := range s.sessions {
		sess.Cancel()
	}
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()
	return s.st.Close()
}

// Session returns the session for a website, loading its stored content
// on first use. Unknown websites start from an empty document.
func (s *Service) Session(ctx context.Context, websiteID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[websiteID]; ok {
		return sess, nil
	}

	html, css, err := s.st.Content(ctx, websiteID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	doc, err := canvas.NewDocument(html, css)
	if err != nil {
		return nil, fmt.Errorf("assist: parse stored content: %w", err)
	}

	sess := newSession(websiteID, doc, sessionDeps{
		cfg:    s.cfg,
		client: s.client,
		coord:  s.coord,
		marks:  s.st,
		prompt: s.prompt,
		exec:   s.exec,
		fb:     s.fb,
		sink:   s.sink,
		logger: s.logger.With("website_id", websiteID),
		newID:  s.newID,
		sleep:  s.sleep,
	})
	s.sessions[websiteID] = sess
	return sess, nil
}

// ResetSession drops the in-memory session so the next use reloads from
// the store. Loading a document anew starts a fresh conversation.
func (s *Service) ResetSession(websiteID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[websiteID]; ok {
		sess.Cancel()
		delete(s.sessions, websiteID)
	}
}

// Content returns a website's stored content.
func (s *Service) Content(ctx context.Context, websiteID string) (html, css string, err error) {
	return s.st.Content(ctx, websiteID)
}

// History returns one page of a website's conversation records.
func (s *Service) History(ctx context.Context, websiteID string, page, limit int) ([]HistoryEntry, error) {
	return s.st.History(ctx, websiteID, page, limit)
}

// SaveWebsite persists the current in-memory document explicitly.
func (s *Service) SaveWebsite(ctx context.Context, websiteID string) error {
	s.mu.Lock()
	sess, ok := s.sessions[websiteID]
	s.mu.Unlock()
	if !ok {
		return ErrWebsiteNotFound
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	err := s.coord.Save(ctx, websiteID, sess.doc, sess.savedHTML, sess.savedCSS)
	if err == nil {
		sess.savedHTML, sess.savedCSS = sess.doc.Markup(), sess.doc.Stylesheet()
	}
	return err
}

// SetContent replaces a website's stored and in-memory content, e.g. when
// the editor loads a template.
func (s *Service) SetContent(ctx context.Context, websiteID, html, css string) error {
	if err := s.st.SaveContent(ctx, websiteID, html, css); err != nil {
		return err
	}
	s.ResetSession(websiteID)
	return nil
}
