package handlers

import (
	"context"
	"net/http"
	"time"

	"renderdesk/internal/httpkit"
)

const (
	checkOK       = "ok"
	checkError    = "error"
	checkDisabled = "disabled"

	checkTimeout = 5 * time.Second
)

// Health reports liveness. With ?deep=true it also checks the registry's
// dependencies; disabled dependencies do not degrade the result.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	health := map[string]any{
		"status":  "ok",
		"service": "renderdesk-api",
		"version": "0.1.0",
	}

	if r.URL.Query().Get("deep") == "true" {
		checks := h.deepHealthCheck(ctx)
		health["checks"] = checks

		for _, check := range checks {
			if check["status"] == checkError {
				health["status"] = "degraded"
				h.log.FromContext(ctx).Warn("health check degraded", "checks", checks)
				break
			}
		}
	}

	httpkit.WriteJSON(w, http.StatusOK, health)
}

func (h *Handler) deepHealthCheck(ctx context.Context) map[string]map[string]any {
	return map[string]map[string]any{
		"postgres": h.checkPostgres(ctx),
		"redis":    h.checkRedis(ctx),
		"registry": {"status": checkOK, "backend": h.backend},
		"worker":   h.checkWorker(),
	}
}

func (h *Handler) checkPostgres(ctx context.Context) map[string]any {
	if h.pool == nil {
		return map[string]any{"status": checkDisabled}
	}

	start := time.Now()
	result := map[string]any{"status": checkOK}

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	if err := h.pool.Ping(checkCtx); err != nil {
		result["status"] = checkError
		result["error"] = err.Error()
	} else {
		stats := h.pool.Stat()
		result["total_conns"] = stats.TotalConns()
		result["idle_conns"] = stats.IdleConns()
		result["acquired_conns"] = stats.AcquiredConns()
	}

	result["latency_ms"] = time.Since(start).Milliseconds()
	return result
}

func (h *Handler) checkRedis(ctx context.Context) map[string]any {
	if h.rdb == nil {
		return map[string]any{"status": checkDisabled}
	}

	start := time.Now()
	result := map[string]any{"status": checkOK}

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	if err := h.rdb.Ping(checkCtx).Err(); err != nil {
		result["status"] = checkError
		result["error"] = err.Error()
	}

	result["latency_ms"] = time.Since(start).Milliseconds()
	return result
}

// checkWorker only reports configuration; the list endpoint is what talks to the worker.
func (h *Handler) checkWorker() map[string]any {
	c, ok := h.worker.(interface{ Configured() bool })
	if ok && !c.Configured() {
		return map[string]any{"status": checkError, "error": "render worker url or token missing"}
	}
	return map[string]any{"status": checkOK}
}
