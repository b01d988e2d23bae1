// Package preview mirrors website canvases into headless Chrome so the
// editor can show a live rendered view and capture screenshots. One tab
// per open website; Chrome is launched locally or reached over a remote
// devtools URL.
package preview

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Config configures the Mirror.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// ViewportWidth and ViewportHeight set the emulated viewport.
	// Defaults: 1280x800.
	ViewportWidth  int
	ViewportHeight int

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.ViewportWidth <= 0 {
		c.ViewportWidth = 1280
	}
	if c.ViewportHeight <= 0 {
		c.ViewportHeight = 800
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Mirror renders canvas content in Chrome tabs.
type Mirror struct {
	cfg Config

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	pages   map[string]*rod.Page
	closed  bool
}

// NewMirror creates a Mirror. Call Start to launch or connect Chrome.
func NewMirror(cfg Config) *Mirror {
	cfg.defaults()
	return &Mirror{cfg: cfg, pages: make(map[string]*rod.Page)}
}

// Start launches Chrome or connects to a remote instance.
func (m *Mirror) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("preview: mirror is closed")
	}

	var wsURL string
	if m.cfg.RemoteURL != "" {
		wsURL = m.cfg.RemoteURL
		m.cfg.Logger.Info("preview: connecting to remote chrome", "url", wsURL)
	} else {
		l := launcher.New().Headless(true)
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("preview: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		m.cfg.Logger.Info("preview: launched local chrome", "url", wsURL)
	}

	b := rod.New().Context(ctx).ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("preview: connect: %w", err)
	}
	m.browser = b
	return nil
}

// Show renders the given content in the website's tab, creating the tab
// on first use.
func (m *Mirror) Show(ctx context.Context, websiteID, html, css string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.browser == nil || m.closed {
		return fmt.Errorf("preview: mirror not started")
	}

	page, ok := m.pages[websiteID]
	if !ok {
		var err error
		page, err = m.browser.Page(proto.TargetCreateTarget{URL: ""})
		if err != nil {
			return fmt.Errorf("preview: create tab: %w", err)
		}
		if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             m.cfg.ViewportWidth,
			Height:            m.cfg.ViewportHeight,
			DeviceScaleFactor: 1,
		}); err != nil {
			m.cfg.Logger.Warn("preview: set viewport", "error", err)
		}
		m.pages[websiteID] = page
	}

	if err := page.Context(ctx).SetDocumentContent(ComposeDocument(html, css)); err != nil {
		return fmt.Errorf("preview: render %s: %w", websiteID, err)
	}
	return nil
}

// Screenshot captures the website's tab as PNG.
func (m *Mirror) Screenshot(ctx context.Context, websiteID string) ([]byte, error) {
	m.mu.Lock()
	page, ok := m.pages[websiteID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("preview: no tab for %s", websiteID)
	}

	data, err := page.Context(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("preview: screenshot %s: %w", websiteID, err)
	}
	return data, nil
}

// CloseSite closes the website's tab.
func (m *Mirror) CloseSite(websiteID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if page, ok := m.pages[websiteID]; ok {
		if err := page.Close(); err != nil {
			m.cfg.Logger.Warn("preview: close tab", "website_id", websiteID, "error", err)
		}
		delete(m.pages, websiteID)
	}
}

// Close shuts down every tab and Chrome itself.
func (m *Mirror) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for id, page := range m.pages {
		if err := page.Close(); err != nil {
			m.cfg.Logger.Warn("preview: close tab", "website_id", id, "error", err)
		}
	}
	m.pages = make(map[string]*rod.Page)
	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			return fmt.Errorf("preview: close browser: %w", err)
		}
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
	}
	return nil
}

// ComposeDocument wraps a body fragment and stylesheet into a complete
// HTML document for rendering.
func ComposeDocument(html, css string) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	if css != "" {
		b.WriteString("<style>\n")
		b.WriteString(css)
		b.WriteString("\n</style>\n")
	}
	b.WriteString("</head>\n<body>\n")
	b.WriteString(html)
	b.WriteString("\n</body>\n</html>\n")
	return b.String()
}
