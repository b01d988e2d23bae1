package observability

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"runtime"
	"time"
)

// Heartbeat periodically records process liveness and Go runtime health.
type Heartbeat struct {
	db         *sql.DB
	workerName string
	interval   time.Duration
	logger     *slog.Logger
}

// NewHeartbeat creates a heartbeat writer. Recommended interval: 30s.
func NewHeartbeat(db *sql.DB, workerName string, interval time.Duration, logger *slog.Logger) *Heartbeat {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Heartbeat{db: db, workerName: workerName, interval: interval, logger: logger}
}

// Run writes heartbeats until the context is cancelled. Call in a
// goroutine.
func (h *Heartbeat) Run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()
	h.beat(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			h.beat(ctx)
		}
	}
}

func (h *Heartbeat) beat(ctx context.Context) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	hostname, _ := os.Hostname()

	_, err := h.db.ExecContext(ctx, `
		INSERT INTO worker_heartbeats (worker_name, hostname, worker_pid, timestamp, goroutines_count, memory_alloc_mb, gc_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		h.workerName, hostname, os.Getpid(), time.Now().Unix(),
		runtime.NumGoroutine(), float64(ms.Alloc)/(1024*1024), ms.NumGC)
	if err != nil && ctx.Err() == nil {
		h.logger.Warn("heartbeat write failed", "worker", h.workerName, "error", err)
	}
}
