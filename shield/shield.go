// Package shield provides the HTTP security middleware for the builder
// API: security headers, per-IP rate limiting, body limits and request
// tracing.
//
// Usage:
//
//	r := chi.NewRouter()
//	rl := shield.NewRateLimiter(db)
//	rl.StartReloader(done)
//	for _, mw := range shield.DefaultStack(rl) {
//	    r.Use(mw)
//	}
package shield

import "net/http"

// DefaultStack returns the standard middleware stack for the builder API.
// Ordered: SecurityHeaders, MaxJSONBody, RequestID, RateLimiter.
func DefaultStack(rl *RateLimiter) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		SecurityHeaders(DefaultHeaders()),
		MaxJSONBody(4 << 20),
		RequestID,
		rl.Middleware,
	}
}
