package assist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/Kurisu21/webeenthere-sub000/assist/internal/upstream"
)

func testService(t *testing.T, client SuggestionClient) *Service {
	t.Helper()
	cfg := &Config{DBPath: filepath.Join(t.TempDir(), "assist.db")}
	svc, err := NewService(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), WithClient(client))
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func testRouter(svc *Service) http.Handler {
	r := chi.NewRouter()
	r.Route("/api/assist", svc.Routes)
	return r
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestInstructEndpoint(t *testing.T) {
	svc := testService(t, &scriptClient{steps: []any{
		opsResponse("I renamed the heading.",
			`[{"op":"set-content","target":"#slot-title","value":"Acme Farms"}]`),
	}})
	require.NoError(t, svc.SetContent(context.Background(), "site-1",
		`<h1 id="slot-title">Welcome</h1>`, "h1 { color: blue }"))
	h := testRouter(svc)

	w := postJSON(t, h, "/api/assist/site-1/instruct", MutationRequest{
		Instruction: "rename the heading to Acme Farms",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var reply Reply
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply))
	require.True(t, reply.Applied)
	require.True(t, reply.Saved)
	require.Equal(t, "I renamed the heading.", reply.Explanation)

	// The change is durable and the pending marker is cleared.
	html, _, err := svc.st.Content(context.Background(), "site-1")
	require.NoError(t, err)
	require.Contains(t, html, "Acme Farms")
	pending, err := svc.st.AIPending(context.Background(), "site-1")
	require.NoError(t, err)
	require.False(t, pending)
}

func TestInstructRequiresInstruction(t *testing.T) {
	svc := testService(t, &scriptClient{steps: []any{fmt.Errorf("unused")}})
	h := testRouter(svc)

	w := postJSON(t, h, "/api/assist/site-1/instruct", MutationRequest{})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQuotaMapsTo429(t *testing.T) {
	svc := testService(t, &scriptClient{steps: []any{
		fmt.Errorf("%w: plan limit reached", upstream.ErrQuota),
	}})
	h := testRouter(svc)

	w := postJSON(t, h, "/api/assist/site-1/instruct", MutationRequest{Instruction: "anything"})
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Contains(t, body["error"], "quota")
}

func TestHistoryEndpoint(t *testing.T) {
	svc := testService(t, &scriptClient{steps: []any{
		opsResponse("Changed it.",
			`[{"op":"set-content","target":"#slot-title","value":"First"}]`),
	}})
	require.NoError(t, svc.SetContent(context.Background(), "site-1",
		`<h1 id="slot-title">Welcome</h1>`, ""))
	h := testRouter(svc)

	w := postJSON(t, h, "/api/assist/site-1/instruct", MutationRequest{Instruction: "change it"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/api/assist/site-1/history", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var page struct {
		Entries []HistoryEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Entries, 2)
	// Newest first: the assistant's reply precedes the user's message.
	require.Equal(t, "assistant", page.Entries[0].Role)
	require.Equal(t, "user", page.Entries[1].Role)
	require.Equal(t, "change it", page.Entries[1].Text)
}

func TestSaveEndpointUnknownWebsite(t *testing.T) {
	svc := testService(t, &scriptClient{steps: []any{fmt.Errorf("unused")}})
	h := testRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/assist/ghost/save", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestStateEndpoint(t *testing.T) {
	svc := testService(t, &scriptClient{steps: []any{fmt.Errorf("unused")}})
	h := testRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/assist/site-1/state", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		State        string            `json:"state"`
		Conversation ConversationState `json:"conversation"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "idle", body.State)
	require.Zero(t, body.Conversation.PendingEdits)
}
