// Package upstream implements the HTTP client for the model suggestion
// service and classifies its failures into the retry taxonomy: quota
// signals are terminal, network and 5xx failures are transient.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Kurisu21/webeenthere-sub000/guard"
)

// QuotaErrorCode is the distinguished errorCode value that signals quota
// exhaustion. It must short-circuit retry.
const QuotaErrorCode = "QUOTA_EXCEEDED"

// ErrQuota is returned when the upstream signals a usage-cap condition.
var ErrQuota = errors.New("upstream: quota exceeded")

// ErrTransient marks failures that are safe to retry with backoff.
var ErrTransient = errors.New("upstream: transient failure")

// Request is the wire request to the suggestion service.
type Request struct {
	Prompt         string `json:"prompt"`
	UserInput      string `json:"userInput,omitempty"`
	IsUserPrompt   bool   `json:"isUserPrompt"`
	WebsiteID      string `json:"websiteId"`
	ConversationID string `json:"conversationId,omitempty"`
	HTML           string `json:"html,omitempty"`
	CSS            string `json:"css,omitempty"`
}

// Suggestion is the model's edit in wire form. Operations is either a JSON
// array of instructions or a string payload from older revisions.
type Suggestion struct {
	Explanation string          `json:"explanation"`
	Operations  json.RawMessage `json:"operations,omitempty"`
	NewHTML     string          `json:"newHtml,omitempty"`
	NewCSS      string          `json:"newCss,omitempty"`
}

// Response is the wire response.
type Response struct {
	Success        bool        `json:"success"`
	Suggestion     *Suggestion `json:"suggestion,omitempty"`
	ConversationID string      `json:"conversationId,omitempty"`
	TokenCount     int         `json:"tokenCount,omitempty"`
	ErrorCode      string      `json:"errorCode,omitempty"`
	Error          string      `json:"error,omitempty"`
}

// Config configures the Client.
type Config struct {
	Endpoint string        // e.g. "http://localhost:8003/ai/suggest"
	Timeout  time.Duration // per-call timeout, default 90s
	APIKey   string        // optional bearer token
	Logger   *slog.Logger
}

// Client talks to the suggestion service.
type Client struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *slog.Logger
}

// New validates the endpoint and creates a Client.
func New(cfg Config) (*Client, error) {
	if err := guard.ValidateEndpoint(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("upstream: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}, nil
}

// Suggest posts the request and decodes the response. Error classification:
//   - quota errorCode or HTTP 429 → ErrQuota
//   - connection errors and HTTP 5xx → ErrTransient
//   - anything else → permanent error for this attempt
func (c *Client) Suggest(ctx context.Context, req *Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("upstream: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("upstream: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	data, err := guard.LimitedReadAll(resp.Body, guard.MaxResponseBody)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrTransient, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: HTTP 429", ErrQuota)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrTransient, resp.StatusCode, clip(data))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("upstream: HTTP %d: %s", resp.StatusCode, clip(data))
	}

	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("upstream: decode response: %w", err)
	}

	if out.ErrorCode == QuotaErrorCode {
		return nil, fmt.Errorf("%w: %s", ErrQuota, out.Error)
	}
	if !out.Success {
		return nil, fmt.Errorf("upstream: service error: %s", firstNonEmpty(out.Error, out.ErrorCode, "unknown"))
	}
	if out.Suggestion == nil {
		return nil, fmt.Errorf("upstream: success without suggestion")
	}

	c.logger.Debug("suggestion received",
		"conversation_id", out.ConversationID,
		"token_count", out.TokenCount,
		"replacement", out.Suggestion.NewHTML != "")
	return &out, nil
}

func clip(b []byte) string {
	const max = 256
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}
