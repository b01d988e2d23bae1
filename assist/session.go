package assist

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Kurisu21/webeenthere-sub000/assist/internal/execute"
	"github.com/Kurisu21/webeenthere-sub000/assist/internal/fallback"
	"github.com/Kurisu21/webeenthere-sub000/assist/internal/prompt"
	"github.com/Kurisu21/webeenthere-sub000/assist/internal/store"
	"github.com/Kurisu21/webeenthere-sub000/assist/internal/upstream"
	"github.com/Kurisu21/webeenthere-sub000/canvas"
)

// State is the orchestrator's request lifecycle state.
type State int

const (
	StateIdle State = iota
	StateAwaiting
	StateApplying
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaiting:
		return "awaiting"
	case StateApplying:
		return "applying"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// SuggestionClient is the upstream surface the session depends on.
type SuggestionClient interface {
	Suggest(ctx context.Context, req *upstream.Request) (*upstream.Response, error)
}

// selectable is implemented by documents that support editor selection.
type selectable interface {
	Select(criterion string) bool
	ClearSelection()
}

type sessionDeps struct {
	cfg    *Config
	client SuggestionClient
	coord  *Coordinator
	marks  *store.Store // nil when running without a local store
	prompt *prompt.Builder
	exec   *execute.Executor
	fb     *fallback.Mutator
	sink   Sink
	logger *slog.Logger
	newID  func() string
	sleep  func(context.Context, time.Duration) error
}

// Session orchestrates assistant requests for one open website document.
// One request is in flight at a time; a new request supersedes the
// previous one and late responses are discarded.
type Session struct {
	websiteID string
	doc       canvas.Accessor
	d         sessionDeps

	mu       sync.Mutex
	state    State
	conv     ConversationState
	gen      int // bumped per request; responses from stale generations are dropped
	cancel   context.CancelFunc
	debounce *time.Timer

	lastSuggestion string // explanation currently displayed, "" when none
	lastErr        error

	// content as of the last successful save
	savedHTML string
	savedCSS  string
}

func newSession(websiteID string, doc canvas.Accessor, d sessionDeps) *Session {
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.sink == nil {
		d.sink = nopSink{}
	}
	if d.sleep == nil {
		d.sleep = sleepCtx
	}
	return &Session{
		websiteID: websiteID,
		doc:       doc,
		d:         d,
		conv:      ConversationState{AutoSuggestArmed: d.cfg.AutoSuggest.Enabled},
		savedHTML: doc.Markup(),
		savedCSS:  doc.Stylesheet(),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Conversation returns a copy of the conversation state.
func (s *Session) Conversation() ConversationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv
}

// Instruct sends the user's free-text request. Using the assistant
// directly disarms auto-suggest for the rest of the session.
func (s *Session) Instruct(ctx context.Context, req MutationRequest) (*Reply, error) {
	s.disarm()
	return s.run(ctx, req, false)
}

// Suggest asks for one autonomous improvement on the user's behalf.
func (s *Session) Suggest(ctx context.Context, deviceContext string) (*Reply, error) {
	s.disarm()
	return s.run(ctx, MutationRequest{DeviceContext: deviceContext}, false)
}

func (s *Session) disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conv.AutoSuggestArmed = false
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
}

// NoteEdit records one manual edit. Enough edits followed by a quiet
// period trigger an autonomous suggestion, as long as the user has never
// engaged the assistant directly and no suggestion is already showing.
func (s *Session) NoteEdit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conv.PendingEdits++
	if !s.d.cfg.AutoSuggest.Enabled || !s.conv.AutoSuggestArmed {
		return
	}
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = time.AfterFunc(s.d.cfg.AutoSuggest.Debounce, s.autoSuggest)
}

func (s *Session) autoSuggest() {
	s.mu.Lock()
	ready := s.conv.AutoSuggestArmed &&
		s.conv.PendingEdits >= s.d.cfg.AutoSuggest.EditThreshold &&
		s.lastSuggestion == "" &&
		(s.state == StateIdle || s.state == StateFailed)
	s.mu.Unlock()
	if !ready {
		return
	}
	if _, err := s.run(context.Background(), MutationRequest{}, true); err != nil && !errors.Is(err, ErrCancelled) {
		s.d.logger.Warn("auto suggest failed", "website_id", s.websiteID, "error", err)
	}
}

// DismissSuggestion clears the displayed suggestion and restarts the
// edit count, so a later quiet period can suggest again.
func (s *Session) DismissSuggestion() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSuggestion = ""
	s.conv.PendingEdits = 0
}

// Cancel aborts the in-flight request, if any. A response already on the
// wire is discarded when it arrives.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
	if s.state == StateAwaiting || s.state == StateApplying {
		s.state = StateCancelled
	}
}

func (s *Session) run(ctx context.Context, req MutationRequest, auto bool) (*Reply, error) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel() // last request wins
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.gen++
	gen := s.gen
	s.state = StateAwaiting
	s.lastErr = nil

	if req.Selection != "" {
		if sel, ok := s.doc.(selectable); ok && !sel.Select(req.Selection) {
			s.d.logger.Warn("selection criterion matched nothing", "criterion", req.Selection)
		}
	}
	var selLabel string
	if n := s.doc.SelectedNode(); n != nil {
		selLabel = n.Tag()
		if id := n.ID(); id != "" {
			selLabel += "#" + id
		}
	}
	html, css := s.doc.Markup(), s.doc.Stylesheet()
	text := s.d.prompt.Build(prompt.Input{
		Markup:        html,
		Stylesheet:    css,
		DeviceContext: req.DeviceContext,
		Selection:     selLabel,
		Instruction:   req.Instruction,
	})
	wire := &upstream.Request{
		Prompt:         text,
		UserInput:      req.Instruction,
		IsUserPrompt:   req.Instruction != "",
		WebsiteID:      s.websiteID,
		ConversationID: s.conv.ConversationID,
		HTML:           html,
		CSS:            css,
	}
	s.mu.Unlock()

	resp, err := s.exchange(runCtx, wire)
	if err != nil {
		return nil, s.fail(gen, err, auto)
	}
	return s.apply(runCtx, gen, req, resp, auto)
}

// exchange calls upstream with exponential backoff on transient failures.
// Quota and permanent failures return immediately.
func (s *Session) exchange(ctx context.Context, req *upstream.Request) (*upstream.Response, error) {
	delay := s.d.cfg.Retry.BaseDelay
	for attempt := 1; ; attempt++ {
		resp, err := s.d.client.Suggest(ctx, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return nil, ErrCancelled
		}
		if errors.Is(err, upstream.ErrQuota) {
			return nil, err
		}
		if !errors.Is(err, upstream.ErrTransient) || attempt >= s.d.cfg.Retry.MaxAttempts {
			return nil, err
		}
		s.d.logger.Warn("upstream retry", "website_id", s.websiteID, "attempt", attempt, "error", err)
		if serr := s.d.sleep(ctx, delay); serr != nil {
			return nil, ErrCancelled
		}
		delay *= 2
		if delay > s.d.cfg.Retry.MaxDelay {
			delay = s.d.cfg.Retry.MaxDelay
		}
	}
}

func (s *Session) apply(ctx context.Context, gen int, req MutationRequest, resp *upstream.Response, auto bool) (*Reply, error) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return nil, ErrCancelled
	}
	s.state = StateApplying
	if resp.ConversationID != "" {
		s.conv.ConversationID = resp.ConversationID
	}

	res, err := decodeSuggestion(resp.Suggestion)
	if err != nil {
		s.mu.Unlock()
		return nil, s.fail(gen, err, auto)
	}

	outcome, err := s.d.exec.Apply(s.doc, res)
	usedFallback := false
	if err != nil && errors.Is(err, execute.ErrNoEffect) && fallback.ShouldAttempt(res.Explanation) {
		if ferr := s.d.fb.Apply(s.doc, res.Explanation); ferr == nil {
			usedFallback = true
			err = nil
			outcome = &execute.Outcome{Applied: true, MarkupChanged: true}
		} else {
			s.d.logger.Info("fallback exhausted", "website_id", s.websiteID, "error", ferr)
			err = fmt.Errorf("%w: %w", ferr, err)
		}
	}
	if err != nil {
		s.mu.Unlock()
		return nil, s.fail(gen, err, auto)
	}

	if s.d.marks != nil {
		if merr := s.d.marks.MarkAIPending(ctx, s.websiteID); merr != nil {
			s.d.logger.Warn("mark pending", "website_id", s.websiteID, "error", merr)
		}
	}

	// Persistence must outlive a late cancel: the canvas already changed.
	saveCtx := context.WithoutCancel(ctx)
	saveErr := s.d.coord.Save(saveCtx, s.websiteID, s.doc, s.savedHTML, s.savedCSS)
	if saveErr == nil {
		s.savedHTML, s.savedCSS = s.doc.Markup(), s.doc.Stylesheet()
	}

	s.appendHistory(saveCtx, req, res, resp.TokenCount)

	s.conv.PendingEdits = 0
	s.conv.LastFingerprint = fingerprint(s.doc.Markup(), s.doc.Stylesheet())
	if auto {
		s.lastSuggestion = res.Explanation
	}
	s.state = StateIdle
	if gen == s.gen {
		s.cancel = nil
	}

	reply := &Reply{
		Explanation:    res.Explanation,
		Applied:        true,
		UsedFallback:   usedFallback,
		Saved:          saveErr == nil,
		ConversationID: s.conv.ConversationID,
		TokenCount:     resp.TokenCount,
		Warnings:       outcome.Warnings,
	}
	s.mu.Unlock()

	if auto {
		s.emit(Event{Type: EventSuggested, WebsiteID: s.websiteID, Explanation: res.Explanation})
	} else {
		s.emit(Event{Type: EventApplied, WebsiteID: s.websiteID, Explanation: res.Explanation})
	}
	if saveErr != nil {
		s.emit(Event{Type: EventNotSaved, WebsiteID: s.websiteID, Message: UserMessage(ErrNotSaved)})
		return reply, saveErr
	}
	s.emit(Event{Type: EventSaved, WebsiteID: s.websiteID})
	return reply, nil
}

// fail records a terminal error for the current generation. Superseded
// generations and cancellations are silent.
func (s *Session) fail(gen int, err error, auto bool) error {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return ErrCancelled
	}
	if errors.Is(err, ErrCancelled) {
		s.state = StateCancelled
		s.cancel = nil
		s.mu.Unlock()
		return ErrCancelled
	}
	s.state = StateFailed
	s.lastErr = err
	s.cancel = nil
	s.mu.Unlock()

	s.d.logger.Error("request failed", "website_id", s.websiteID, "error", err)
	if errors.Is(err, ErrQuotaExceeded) {
		s.emit(Event{Type: EventQuotaExhausted, WebsiteID: s.websiteID, Message: UserMessage(err)})
	}
	if !auto {
		s.emit(Event{Type: EventFailed, WebsiteID: s.websiteID, Message: UserMessage(err)})
	}
	return err
}

func (s *Session) appendHistory(ctx context.Context, req MutationRequest, res *execute.Result, tokens int) {
	if s.d.marks == nil {
		return
	}
	// The assistant entry gets a later timestamp than the user message so
	// newest-first ordering holds even within one millisecond.
	base := time.Now().UnixMilli()
	assistant := &store.HistoryEntry{
		ID:             s.d.newID(),
		WebsiteID:      s.websiteID,
		ConversationID: s.conv.ConversationID,
		Role:           "assistant",
		Text:           res.Explanation,
		TokenCount:     tokens,
		CreatedAt:      base + 1,
	}
	if req.Instruction == "" {
		if err := s.d.marks.AppendHistory(ctx, assistant); err != nil {
			s.d.logger.Warn("append history", "website_id", s.websiteID, "error", err)
		}
		return
	}
	user := &store.HistoryEntry{
		ID:             s.d.newID(),
		WebsiteID:      s.websiteID,
		ConversationID: s.conv.ConversationID,
		Role:           "user",
		Text:           req.Instruction,
		CreatedAt:      base,
	}
	if err := s.d.marks.AppendExchange(ctx, user, assistant); err != nil {
		s.d.logger.Warn("append history", "website_id", s.websiteID, "error", err)
	}
}

func (s *Session) emit(ev Event) {
	s.d.sink.Emit(ev)
}

func decodeSuggestion(sg *upstream.Suggestion) (*execute.Result, error) {
	if sg == nil {
		return nil, fmt.Errorf("assist: response carried no suggestion")
	}
	ops, legacy, err := execute.DecodeOperations(sg.Operations)
	if err != nil {
		return nil, err
	}
	return &execute.Result{
		Explanation:      sg.Explanation,
		Operations:       ops,
		LegacyOperations: legacy,
		NewMarkup:        sg.NewHTML,
		NewStylesheet:    sg.NewCSS,
	}, nil
}

func fingerprint(html, css string) string {
	h := sha256.Sum256([]byte(html + "\x00" + css))
	return hex.EncodeToString(h[:])
}
