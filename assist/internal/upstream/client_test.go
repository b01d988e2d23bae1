package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, srv
}

func TestSuggestSuccess(t *testing.T) {
	var gotReq Request
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(Response{
			Success:        true,
			ConversationID: "conv-1",
			TokenCount:     321,
			Suggestion: &Suggestion{
				Explanation: "I brightened the header.",
				NewHTML:     "<header>New</header>",
			},
		})
	})

	resp, err := c.Suggest(context.Background(), &Request{
		Prompt:       "do things",
		IsUserPrompt: true,
		WebsiteID:    "site-1",
	})
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if gotReq.WebsiteID != "site-1" || !gotReq.IsUserPrompt {
		t.Errorf("request not forwarded: %+v", gotReq)
	}
	if resp.ConversationID != "conv-1" || resp.Suggestion.NewHTML == "" {
		t.Errorf("response: %+v", resp)
	}
}

func TestSuggestQuotaErrorCode(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Response{
			Success:   false,
			ErrorCode: QuotaErrorCode,
			Error:     "monthly budget reached",
		})
	})

	_, err := c.Suggest(context.Background(), &Request{WebsiteID: "s"})
	if !errors.Is(err, ErrQuota) {
		t.Fatalf("err = %v, want ErrQuota", err)
	}
}

func TestSuggestHTTP429IsQuota(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := c.Suggest(context.Background(), &Request{WebsiteID: "s"})
	if !errors.Is(err, ErrQuota) {
		t.Fatalf("err = %v, want ErrQuota", err)
	}
}

func TestSuggest5xxIsTransient(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "flaky", http.StatusBadGateway)
	})
	_, err := c.Suggest(context.Background(), &Request{WebsiteID: "s"})
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("err = %v, want ErrTransient", err)
	}
}

func TestSuggestConnectionErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()

	c, err := New(Config{Endpoint: url})
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Suggest(context.Background(), &Request{WebsiteID: "s"})
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("err = %v, want ErrTransient", err)
	}
}

func TestSuggestCancellationIsNotTransient(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Suggest(ctx, &Request{WebsiteID: "s"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestSuggestEmptySuggestionIsError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Response{Success: true})
	})
	if _, err := c.Suggest(context.Background(), &Request{WebsiteID: "s"}); err == nil {
		t.Fatal("expected error for success without suggestion")
	}
}

func TestNewRejectsBadEndpoint(t *testing.T) {
	if _, err := New(Config{Endpoint: "ftp://example.com"}); err == nil {
		t.Fatal("expected scheme rejection")
	}
}
