package assist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Kurisu21/webeenthere-sub000/assist/internal/execute"
	"github.com/Kurisu21/webeenthere-sub000/assist/internal/fallback"
	"github.com/Kurisu21/webeenthere-sub000/assist/internal/prompt"
	"github.com/Kurisu21/webeenthere-sub000/assist/internal/upstream"
	"github.com/Kurisu21/webeenthere-sub000/canvas"
)

func instantSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

type scriptClient struct {
	mu    sync.Mutex
	calls int
	steps []any // error or *upstream.Response; the last step repeats
}

func (c *scriptClient) Suggest(_ context.Context, _ *upstream.Request) (*upstream.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.calls
	if i >= len(c.steps) {
		i = len(c.steps) - 1
	}
	c.calls++
	switch v := c.steps[i].(type) {
	case error:
		return nil, v
	case *upstream.Response:
		return v, nil
	default:
		panic("bad script step")
	}
}

func (c *scriptClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) Emit(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) byType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (r *eventRecorder) has(t EventType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Type == t {
			return true
		}
	}
	return false
}

type memSaver struct {
	mu        sync.Mutex
	attempts  int
	failures  int // transient failures to return before succeeding
	permanent bool
	html, css string
}

func (m *memSaver) Save(_ context.Context, _ string, html, css string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if m.permanent {
		return errors.New("save rejected")
	}
	if m.failures != 0 {
		if m.failures > 0 {
			m.failures--
		}
		return fmt.Errorf("%w: connection reset", errSaveTransient)
	}
	m.html, m.css = html, css
	return nil
}

func (m *memSaver) savedHTML() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.html
}

type sessionFixture struct {
	sess   *Session
	doc    *canvas.Document
	saver  *memSaver
	events *eventRecorder
	client *scriptClient
}

func newTestSession(t *testing.T, steps []any, mod func(*Config)) *sessionFixture {
	t.Helper()
	cfg := &Config{}
	cfg.defaults()
	cfg.AutoSuggest.Debounce = time.Hour // tests trigger autoSuggest directly
	if mod != nil {
		mod(cfg)
	}

	doc, err := canvas.NewDocument(
		`<h1 id="slot-title">Welcome to My Website</h1><p id="slot-tagline">Hand crafted sites.</p>`,
		"h1 { color: red }")
	if err != nil {
		t.Fatalf("NewDocument: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	saver := &memSaver{}
	coord := NewCoordinator(cfg.Persist, saver, nil, logger)
	coord.sleep = instantSleep
	client := &scriptClient{steps: steps}
	rec := &eventRecorder{}
	var ids atomic.Int64

	sess := newSession("site-1", doc, sessionDeps{
		cfg:    cfg,
		client: client,
		coord:  coord,
		prompt: prompt.New(),
		exec:   execute.New(logger),
		fb:     fallback.New(logger),
		sink:   rec,
		logger: logger,
		newID:  func() string { return fmt.Sprintf("id-%d", ids.Add(1)) },
		sleep:  instantSleep,
	})
	return &sessionFixture{sess: sess, doc: doc, saver: saver, events: rec, client: client}
}

func opsResponse(explanation, ops string) *upstream.Response {
	return &upstream.Response{
		Success:        true,
		ConversationID: "conv-1",
		TokenCount:     12,
		Suggestion: &upstream.Suggestion{
			Explanation: explanation,
			Operations:  json.RawMessage(ops),
		},
	}
}

func TestInstructAppliesAndSaves(t *testing.T) {
	fx := newTestSession(t, []any{
		opsResponse("I updated the heading.",
			`[{"op":"set-content","target":"#slot-title","value":"Acme Farms"}]`),
	}, nil)

	reply, err := fx.sess.Instruct(context.Background(), MutationRequest{Instruction: "change the heading to Acme Farms"})
	if err != nil {
		t.Fatalf("Instruct: %v", err)
	}
	if !reply.Applied || !reply.Saved {
		t.Fatalf("reply = %+v, want applied and saved", reply)
	}
	if reply.ConversationID != "conv-1" {
		t.Errorf("ConversationID = %q", reply.ConversationID)
	}
	if !strings.Contains(fx.saver.savedHTML(), "Acme Farms") {
		t.Errorf("saved html missing change: %q", fx.saver.savedHTML())
	}
	if got := fx.sess.State(); got != StateIdle {
		t.Errorf("state = %v, want idle", got)
	}
	if !fx.events.has(EventApplied) || !fx.events.has(EventSaved) {
		t.Errorf("missing lifecycle events: %+v", fx.events.events)
	}
}

func TestConversationIDThreaded(t *testing.T) {
	fx := newTestSession(t, []any{
		opsResponse("Done.", `[{"op":"set-content","target":"#slot-title","value":"One"}]`),
		opsResponse("Done again.", `[{"op":"set-content","target":"#slot-title","value":"Two"}]`),
	}, nil)

	if _, err := fx.sess.Instruct(context.Background(), MutationRequest{Instruction: "first"}); err != nil {
		t.Fatalf("first Instruct: %v", err)
	}
	if _, err := fx.sess.Instruct(context.Background(), MutationRequest{Instruction: "second"}); err != nil {
		t.Fatalf("second Instruct: %v", err)
	}
	if got := fx.sess.Conversation().ConversationID; got != "conv-1" {
		t.Errorf("ConversationID = %q", got)
	}
}

func TestTransientRetriedUpToCeiling(t *testing.T) {
	fx := newTestSession(t, []any{
		fmt.Errorf("%w: connection refused", upstream.ErrTransient),
	}, func(cfg *Config) { cfg.Retry.MaxAttempts = 3 })

	_, err := fx.sess.Instruct(context.Background(), MutationRequest{Instruction: "anything"})
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("err = %v, want transient", err)
	}
	if got := fx.client.callCount(); got != 3 {
		t.Errorf("upstream calls = %d, want 3", got)
	}
	if got := fx.sess.State(); got != StateFailed {
		t.Errorf("state = %v, want failed", got)
	}
	if !fx.events.has(EventFailed) {
		t.Error("no failed event emitted")
	}
}

func TestTransientThenSuccess(t *testing.T) {
	fx := newTestSession(t, []any{
		fmt.Errorf("%w: connection refused", upstream.ErrTransient),
		fmt.Errorf("%w: upstream returned 503", upstream.ErrTransient),
		opsResponse("Recovered.", `[{"op":"set-content","target":"#slot-title","value":"Back"}]`),
	}, nil)

	reply, err := fx.sess.Instruct(context.Background(), MutationRequest{Instruction: "anything"})
	if err != nil {
		t.Fatalf("Instruct: %v", err)
	}
	if !reply.Applied {
		t.Error("not applied after recovery")
	}
	if got := fx.client.callCount(); got != 3 {
		t.Errorf("upstream calls = %d, want 3", got)
	}
}

func TestQuotaShortCircuitsRetry(t *testing.T) {
	fx := newTestSession(t, []any{
		fmt.Errorf("%w: plan limit reached", upstream.ErrQuota),
	}, nil)

	_, err := fx.sess.Instruct(context.Background(), MutationRequest{Instruction: "anything"})
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("err = %v, want quota", err)
	}
	if got := fx.client.callCount(); got != 1 {
		t.Errorf("upstream calls = %d, want 1 (no retry on quota)", got)
	}
	if !fx.events.has(EventQuotaExhausted) {
		t.Error("no quota event emitted")
	}
}

func TestPermanentUpstreamErrorNotRetried(t *testing.T) {
	fx := newTestSession(t, []any{
		errors.New("upstream: rejected with status 400"),
	}, nil)

	_, err := fx.sess.Instruct(context.Background(), MutationRequest{Instruction: "anything"})
	if err == nil {
		t.Fatal("want error")
	}
	if got := fx.client.callCount(); got != 1 {
		t.Errorf("upstream calls = %d, want 1", got)
	}
}

type blockingClient struct {
	release chan struct{}
	started chan struct{}
	resp    *upstream.Response
}

func (c *blockingClient) Suggest(_ context.Context, _ *upstream.Request) (*upstream.Response, error) {
	close(c.started)
	<-c.release
	return c.resp, nil
}

func TestCancelDiscardsLateResponse(t *testing.T) {
	fx := newTestSession(t, []any{errors.New("unused")}, nil)
	bc := &blockingClient{
		release: make(chan struct{}),
		started: make(chan struct{}),
		resp:    opsResponse("Too late.", `[{"op":"set-content","target":"#slot-title","value":"Late"}]`),
	}
	fx.sess.d.client = bc

	before := fx.doc.Markup()
	done := make(chan error, 1)
	go func() {
		_, err := fx.sess.Instruct(context.Background(), MutationRequest{Instruction: "anything"})
		done <- err
	}()

	<-bc.started
	fx.sess.Cancel()
	close(bc.release)

	if err := <-done; !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want cancelled", err)
	}
	if fx.doc.Markup() != before {
		t.Error("late response mutated the document")
	}
	if fx.saver.attempts != 0 {
		t.Error("late response reached the saver")
	}
}

func TestNewRequestSupersedesOld(t *testing.T) {
	fx := newTestSession(t, []any{errors.New("unused")}, nil)
	bc := &blockingClient{
		release: make(chan struct{}),
		started: make(chan struct{}),
		resp:    opsResponse("First.", `[{"op":"set-content","target":"#slot-title","value":"First"}]`),
	}
	fx.sess.d.client = bc

	done := make(chan error, 1)
	go func() {
		_, err := fx.sess.Instruct(context.Background(), MutationRequest{Instruction: "first"})
		done <- err
	}()
	<-bc.started

	fx.sess.d.client = &scriptClient{steps: []any{
		opsResponse("Second.", `[{"op":"set-content","target":"#slot-title","value":"Second"}]`),
	}}
	if _, err := fx.sess.Instruct(context.Background(), MutationRequest{Instruction: "second"}); err != nil {
		t.Fatalf("second Instruct: %v", err)
	}

	close(bc.release)
	if err := <-done; !errors.Is(err, ErrCancelled) {
		t.Fatalf("first request err = %v, want cancelled", err)
	}
	if !strings.Contains(fx.doc.Markup(), "Second") {
		t.Errorf("document = %q, want second request's change", fx.doc.Markup())
	}
}

func TestFallbackOnNoEffect(t *testing.T) {
	fx := newTestSession(t, []any{
		opsResponse("I changed the title to 'Acme Farms'",
			`[{"op":"set-content","target":"#does-not-exist","value":"Acme Farms"}]`),
	}, nil)

	reply, err := fx.sess.Instruct(context.Background(), MutationRequest{Instruction: "change the title"})
	if err != nil {
		t.Fatalf("Instruct: %v", err)
	}
	if !reply.UsedFallback {
		t.Error("fallback not used")
	}
	if !strings.Contains(fx.doc.Markup(), "Acme Farms") {
		t.Errorf("document = %q, want fallback substitution", fx.doc.Markup())
	}
}

func TestNoEffectWithoutFallbackSurfaces(t *testing.T) {
	fx := newTestSession(t, []any{
		opsResponse("Everything already looks great.",
			`[{"op":"set-content","target":"#does-not-exist","value":"x"}]`),
	}, nil)

	_, err := fx.sess.Instruct(context.Background(), MutationRequest{Instruction: "improve it"})
	if !errors.Is(err, ErrNoEffect) {
		t.Fatalf("err = %v, want no-effect", err)
	}
	if errors.Is(err, ErrFallbackExhausted) {
		t.Errorf("err = %v, fallback was never attempted", err)
	}
	if fx.saver.attempts != 0 {
		t.Error("failed request reached the saver")
	}
}

func TestFallbackExhaustedSurfaces(t *testing.T) {
	// Change vocabulary without quoted text: the fallback runs but has
	// nothing to extract, and the exhaustion must reach the caller.
	fx := newTestSession(t, []any{
		opsResponse("I will update the layout spacing",
			`[{"op":"set-content","target":"#does-not-exist","value":"x"}]`),
	}, nil)

	_, err := fx.sess.Instruct(context.Background(), MutationRequest{Instruction: "tidy the layout"})
	if !errors.Is(err, ErrFallbackExhausted) {
		t.Fatalf("err = %v, want fallback-exhausted", err)
	}
	if !errors.Is(err, ErrNoEffect) {
		t.Errorf("err = %v, want the no-effect class preserved", err)
	}
	if fx.saver.attempts != 0 {
		t.Error("failed request reached the saver")
	}
}

func TestNoEffectDiagnosticReachesUserMessage(t *testing.T) {
	fx := newTestSession(t, []any{
		opsResponse("Everything already looks great.",
			`[{"op":"set-content","target":"#does-not-exist","value":"x"}]`),
	}, nil)

	_, err := fx.sess.Instruct(context.Background(), MutationRequest{Instruction: "improve it"})
	if !errors.Is(err, ErrNoEffect) {
		t.Fatalf("err = %v, want no-effect", err)
	}
	if got := UserMessage(err); got != "I couldn't find that element." {
		t.Errorf("UserMessage = %q, want the prioritized diagnostic", got)
	}
	failed := fx.events.byType(EventFailed)
	if len(failed) == 0 {
		t.Fatal("no failed event emitted")
	}
	for _, ev := range failed {
		if ev.Message != "I couldn't find that element." {
			t.Errorf("failed event message = %q", ev.Message)
		}
	}
}

func TestUnsafeLegacyOperationsRejected(t *testing.T) {
	fx := newTestSession(t, []any{
		opsResponse("Adding a tracking script.", `"document.querySelector('h1').onclick = eval(payload)"`),
	}, nil)

	_, err := fx.sess.Instruct(context.Background(), MutationRequest{Instruction: "add analytics"})
	if !errors.Is(err, ErrUnsafeInstruction) {
		t.Fatalf("err = %v, want unsafe", err)
	}
	if fx.client.callCount() != 1 {
		t.Errorf("upstream calls = %d, unsafe must not retry", fx.client.callCount())
	}
}

func TestAppliedButNotSaved(t *testing.T) {
	fx := newTestSession(t, []any{
		opsResponse("Done.", `[{"op":"set-content","target":"#slot-title","value":"Unsaved"}]`),
	}, func(cfg *Config) { cfg.Persist.MaxRetries = 1 })
	fx.saver.failures = -1 // transient forever

	reply, err := fx.sess.Instruct(context.Background(), MutationRequest{Instruction: "anything"})
	if !errors.Is(err, ErrNotSaved) {
		t.Fatalf("err = %v, want not-saved", err)
	}
	if reply == nil || !reply.Applied || reply.Saved {
		t.Fatalf("reply = %+v, want applied but not saved", reply)
	}
	if !strings.Contains(fx.doc.Markup(), "Unsaved") {
		t.Error("canvas lost the applied change")
	}
	if !fx.events.has(EventNotSaved) {
		t.Error("no not-saved event emitted")
	}
}

func TestAutoSuggestBelowThresholdNeverFires(t *testing.T) {
	fx := newTestSession(t, []any{
		opsResponse("Suggestion.", `[{"op":"set-content","target":"#slot-title","value":"x"}]`),
	}, func(cfg *Config) { cfg.AutoSuggest.Enabled = true })

	for i := 0; i < 4; i++ {
		fx.sess.NoteEdit()
	}
	fx.sess.autoSuggest()
	if got := fx.client.callCount(); got != 0 {
		t.Errorf("upstream calls = %d, want 0 below threshold", got)
	}
}

func TestAutoSuggestFiresAtThreshold(t *testing.T) {
	fx := newTestSession(t, []any{
		opsResponse("Consider a tagline.", `[{"op":"set-content","target":"#slot-tagline","value":"Fresh daily."}]`),
	}, func(cfg *Config) { cfg.AutoSuggest.Enabled = true })

	for i := 0; i < 5; i++ {
		fx.sess.NoteEdit()
	}
	fx.sess.autoSuggest()
	if got := fx.client.callCount(); got != 1 {
		t.Fatalf("upstream calls = %d, want 1", got)
	}
	if !fx.events.has(EventSuggested) {
		t.Error("no suggested event emitted")
	}

	// A displayed suggestion blocks another one until dismissed.
	for i := 0; i < 5; i++ {
		fx.sess.NoteEdit()
	}
	fx.sess.autoSuggest()
	if got := fx.client.callCount(); got != 1 {
		t.Errorf("upstream calls = %d, suggestion already showing", got)
	}

	fx.sess.DismissSuggestion()
	for i := 0; i < 5; i++ {
		fx.sess.NoteEdit()
	}
	fx.sess.autoSuggest()
	if got := fx.client.callCount(); got != 2 {
		t.Errorf("upstream calls = %d, want 2 after dismiss", got)
	}
}

func TestAutoSuggestDebounceCoalescesEditBurst(t *testing.T) {
	fx := newTestSession(t, []any{
		opsResponse("Consider a tagline.", `[{"op":"set-content","target":"#slot-tagline","value":"Fresh daily."}]`),
	}, func(cfg *Config) {
		cfg.AutoSuggest.Enabled = true
		cfg.AutoSuggest.Debounce = 20 * time.Millisecond
	})

	for i := 0; i < 8; i++ {
		fx.sess.NoteEdit()
	}

	deadline := time.Now().Add(5 * time.Second)
	for fx.client.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := fx.client.callCount(); got != 1 {
		t.Fatalf("upstream calls = %d, want 1 after the quiet period", got)
	}

	// The burst collapses into a single suggestion, not one per edit.
	time.Sleep(100 * time.Millisecond)
	if got := fx.client.callCount(); got != 1 {
		t.Errorf("upstream calls = %d, want the burst coalesced", got)
	}
	if !fx.events.has(EventSuggested) {
		t.Error("no suggested event emitted")
	}
}

func TestAutoSuggestDisarmedByFirstInteraction(t *testing.T) {
	fx := newTestSession(t, []any{
		opsResponse("Done.", `[{"op":"set-content","target":"#slot-title","value":"Mine"}]`),
	}, func(cfg *Config) { cfg.AutoSuggest.Enabled = true })

	if _, err := fx.sess.Instruct(context.Background(), MutationRequest{Instruction: "change the heading"}); err != nil {
		t.Fatalf("Instruct: %v", err)
	}
	calls := fx.client.callCount()

	for i := 0; i < 10; i++ {
		fx.sess.NoteEdit()
	}
	fx.sess.autoSuggest()
	if got := fx.client.callCount(); got != calls {
		t.Errorf("upstream calls = %d, auto-suggest fired after disarm", got)
	}
	if fx.sess.Conversation().AutoSuggestArmed {
		t.Error("still armed after direct use")
	}
}

func TestReplacementAlwaysApplies(t *testing.T) {
	fx := newTestSession(t, []any{errors.New("unused")}, nil)
	fx.sess.d.client = &scriptClient{steps: []any{
		&upstream.Response{
			Success:        true,
			ConversationID: "conv-9",
			Suggestion: &upstream.Suggestion{
				Explanation: "Rebuilt the page.",
				NewHTML:     `<section><h1 id="slot-title">Rebuilt</h1></section>`,
				NewCSS:      "section { padding: 2rem }",
			},
		},
	}}

	reply, err := fx.sess.Instruct(context.Background(), MutationRequest{Instruction: "redesign the page"})
	if err != nil {
		t.Fatalf("Instruct: %v", err)
	}
	if !reply.Applied {
		t.Error("replacement not applied")
	}
	if !strings.Contains(fx.doc.Markup(), "Rebuilt") {
		t.Errorf("document = %q", fx.doc.Markup())
	}
	if fx.doc.Stylesheet() != "section { padding: 2rem }" {
		t.Errorf("stylesheet = %q", fx.doc.Stylesheet())
	}
}

func TestSelectionScopesRequest(t *testing.T) {
	fx := newTestSession(t, []any{
		opsResponse("Updated the selected element.",
			`[{"op":"set-content","target":"selected","value":"Scoped"}]`),
	}, nil)

	reply, err := fx.sess.Instruct(context.Background(), MutationRequest{
		Instruction: "change this",
		Selection:   "#slot-tagline",
	})
	if err != nil {
		t.Fatalf("Instruct: %v", err)
	}
	if !reply.Applied {
		t.Fatal("not applied")
	}
	if !strings.Contains(fx.doc.Markup(), `<p id="slot-tagline">Scoped</p>`) {
		t.Errorf("document = %q, want scoped change", fx.doc.Markup())
	}
	if !strings.Contains(fx.doc.Markup(), "Welcome to My Website") {
		t.Error("unselected element was touched")
	}
}
