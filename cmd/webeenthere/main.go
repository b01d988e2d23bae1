// Entry point for the webeenthere assistant service: chi router behind
// the shield stack, SQLite-backed stores, optional live preview and MCP
// stdio transport.
package main

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/Kurisu21/webeenthere-sub000/assist"
	"github.com/Kurisu21/webeenthere-sub000/dbopen"
	"github.com/Kurisu21/webeenthere-sub000/observability"
	"github.com/Kurisu21/webeenthere-sub000/preview"
	"github.com/Kurisu21/webeenthere-sub000/shield"
)

func main() {
	port := env("PORT", "8085")
	configPath := env("CONFIG", "")
	obsPath := env("OBS_DB", "db/observability.db")
	mcpTransport := env("MCP_TRANSPORT", "")
	logLevel := env("LOG_LEVEL", "info")

	// Logging.
	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Config.
	var cfg *assist.Config
	if configPath != "" {
		var err error
		cfg, err = assist.LoadConfigFile(configPath)
		if err != nil {
			slog.Error("load config", "path", configPath, "error", err)
			os.Exit(1)
		}
	} else {
		cfg = &assist.Config{}
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("AI_ENDPOINT"); v != "" {
		cfg.Upstream.Endpoint = v
	}
	if v := os.Getenv("AI_API_KEY"); v != "" {
		cfg.Upstream.APIKey = v
	}

	// Monitoring DB, separate from the application store.
	obsDB, err := dbopen.Open(obsPath, dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("observability db", "error", err)
		os.Exit(1)
	}
	defer obsDB.Close()
	if err := observability.Init(obsDB); err != nil {
		slog.Error("observability init", "error", err)
		os.Exit(1)
	}
	if err := shield.Init(obsDB); err != nil {
		slog.Error("shield init", "error", err)
		os.Exit(1)
	}

	eventLog := observability.NewEventLog(obsDB, 1000)
	defer eventLog.Close()

	sinks := &multiSink{}
	sinks.Add(eventLog)

	// Optional live preview mirror.
	var mirror *preview.Mirror
	if env("PREVIEW_ENABLED", "") == "1" {
		mirror = preview.NewMirror(preview.Config{
			RemoteURL:      env("PREVIEW_CHROME_URL", ""),
			ViewportWidth:  envInt("PREVIEW_WIDTH", 1280),
			ViewportHeight: envInt("PREVIEW_HEIGHT", 800),
			Logger:         logger,
		})
		if err := mirror.Start(ctx); err != nil {
			slog.Error("preview start", "error", err)
			os.Exit(1)
		}
		defer mirror.Close()
	}

	// Assistant service.
	var svc *assist.Service
	svc, err = assist.NewService(cfg, logger, assist.WithSink(sinks))
	if err != nil {
		slog.Error("assist service", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	if mirror != nil {
		sinks.Add(preview.NewRefresher(mirror, svc.Content, logger))
	}

	// Background monitoring.
	hb := observability.NewHeartbeat(obsDB, "webeenthere", 30*time.Second, logger)
	go hb.Run(ctx)
	go retentionLoop(ctx, obsDB, envInt("EVENT_RETENTION_DAYS", 30))

	// Optional MCP stdio transport.
	if mcpTransport == "stdio" {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "webeenthere",
			Version: "1.0.0",
		}, nil)
		svc.RegisterMCP(mcpSrv)
		go func() {
			slog.Info("MCP stdio starting")
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				slog.Error("MCP stdio", "error", err)
			}
		}()
	}

	// Router.
	rl := shield.NewRateLimiter(obsDB, "/health")
	rl.StartReloader(ctx.Done())

	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack(rl) {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/assist", svc.Routes)

	if mirror != nil {
		r.Get("/api/preview/{websiteID}/screenshot", func(w http.ResponseWriter, req *http.Request) {
			data, err := mirror.Screenshot(req.Context(), chi.URLParam(req, "websiteID"))
			if err != nil {
				http.Error(w, "no preview available", http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "image/png")
			w.Write(data)
		})
	}

	// Admin surface: event log queries behind basic auth.
	if adminPassword := os.Getenv("ADMIN_PASSWORD"); adminPassword != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.DefaultCost)
		if err != nil {
			slog.Error("admin password hash", "error", err)
			os.Exit(1)
		}
		r.Route("/api/admin", func(r chi.Router) {
			r.Use(basicAuth(hash))
			r.Get("/events", func(w http.ResponseWriter, req *http.Request) {
				events, err := eventLog.Query(req.Context(), observability.Filter{
					WebsiteID: req.URL.Query().Get("website_id"),
					Type:      req.URL.Query().Get("type"),
					Limit:     queryInt(req, "limit", 100),
				})
				if err != nil {
					http.Error(w, "internal error", http.StatusInternalServerError)
					return
				}
				writeJSON(w, events)
			})
			r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
				counts, err := eventLog.CountByType(req.Context(), time.Now().Add(-24*time.Hour))
				if err != nil {
					http.Error(w, "internal error", http.StatusInternalServerError)
					return
				}
				writeJSON(w, counts)
			})
		})
	}

	// HTTP server.
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

// multiSink fans one event out to several sinks. Add may be called
// after the service starts emitting.
type multiSink struct {
	mu    sync.RWMutex
	sinks []assist.Sink
}

func (m *multiSink) Add(s assist.Sink) {
	m.mu.Lock()
	m.sinks = append(m.sinks, s)
	m.mu.Unlock()
}

func (m *multiSink) Emit(ev assist.Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sinks {
		s.Emit(ev)
	}
}

// basicAuth guards a route with HTTP Basic auth against the given bcrypt
// hash. The username is fixed to "admin".
func basicAuth(hash []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok ||
				subtle.ConstantTimeCompare([]byte(user), []byte("admin")) != 1 ||
				bcrypt.CompareHashAndPassword(hash, []byte(pass)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="webeenthere"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// retentionLoop prunes old monitoring rows once a day.
func retentionLoop(ctx context.Context, db *sql.DB, days int) {
	t := time.NewTicker(24 * time.Hour)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := observability.Cleanup(ctx, db, days); err != nil && ctx.Err() == nil {
				slog.Warn("retention cleanup", "error", err)
			}
		}
	}
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write json", "error", err)
	}
}
