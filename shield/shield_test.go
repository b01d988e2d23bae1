package shield

import (
	"net/http"
	"net/http/httptest"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/Kurisu21/webeenthere-sub000/dbopen"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(DefaultHeaders())(okHandler())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
	if got := w.Header().Get("Content-Security-Policy"); got == "" {
		t.Error("no CSP header")
	}
}

func TestRequestIDHeader(t *testing.T) {
	h := RequestID(okHandler())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if got := w.Header().Get("X-Request-ID"); len(got) != 8 {
		t.Errorf("X-Request-ID = %q, want 8 hex chars", got)
	}
}

func TestRateLimiterBlocksOverLimit(t *testing.T) {
	db := dbopen.OpenMemory(t)
	if _, err := db.Exec(`
		CREATE TABLE rate_limits (endpoint TEXT PRIMARY KEY, max_requests INTEGER, window_seconds INTEGER, enabled INTEGER);
		INSERT INTO rate_limits VALUES ('POST /api/assist/{websiteID}/instruct', 2, 60, 1)`); err != nil {
		t.Fatal(err)
	}

	rl := NewRateLimiter(db)
	h := rl.Middleware(okHandler())

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/assist/site-1/instruct", nil)
		req.RemoteAddr = "203.0.113.7:4444"
		h.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d blocked early: %d", i+1, w.Code)
		}
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/assist/site-1/instruct", nil)
	req.RemoteAddr = "203.0.113.7:4444"
	h.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("third request = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("no Retry-After header")
	}

	// A different IP has its own bucket.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/assist/site-1/instruct", nil)
	req.RemoteAddr = "198.51.100.9:5555"
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("other IP blocked: %d", w.Code)
	}
}

func TestRateLimiterPatternCoversAllWebsites(t *testing.T) {
	db := dbopen.OpenMemory(t)
	if err := Init(db); err != nil {
		t.Fatal(err)
	}

	rl := NewRateLimiter(db)
	if _, ok := rl.rule(http.MethodPost, "/api/assist/any-site/instruct"); !ok {
		t.Error("pattern rule not resolved for website-scoped path")
	}
	if _, ok := rl.rule(http.MethodGet, "/api/assist/any-site/state"); ok {
		t.Error("unconfigured endpoint unexpectedly limited")
	}
}

func TestUnlimitedEndpointPassesThrough(t *testing.T) {
	db := dbopen.OpenMemory(t)
	if err := Init(db); err != nil {
		t.Fatal(err)
	}
	rl := NewRateLimiter(db)
	h := rl.Middleware(okHandler())

	for i := 0; i < 50; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "203.0.113.7:4444"
		h.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("healthz blocked at request %d", i+1)
		}
	}
}

func TestExtractIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	if got := ExtractIP(req); got != "192.0.2.1" {
		t.Errorf("ExtractIP = %q", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.50, 10.0.0.1")
	if got := ExtractIP(req); got != "203.0.113.50" {
		t.Errorf("ExtractIP with XFF = %q", got)
	}
}
