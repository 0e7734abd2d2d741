// Package handler provides HTTP handlers for the trigger API. Handlers
// validate and decode requests, then hand off to the engine; notification
// outcomes are never surfaced as trigger errors.
package handler

import (
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulseapp/engage/internal/api/respond"
	"github.com/pulseapp/engage/internal/engine"
	"github.com/pulseapp/engage/internal/scans"
	"github.com/pulseapp/engage/internal/store"
)

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	pool     *pgxpool.Pool
	store    store.Store
	triggers *engine.Triggers
	streaks  *engine.StreakTracker
	limiter  *engine.RateLimiter
	scans    *scans.Runner
}

// New creates a Handler with shared dependencies.
func New(pool *pgxpool.Pool, st store.Store, triggers *engine.Triggers,
	streaks *engine.StreakTracker, limiter *engine.RateLimiter, runner *scans.Runner) *Handler {
	return &Handler{
		pool:     pool,
		store:    st,
		triggers: triggers,
		streaks:  streaks,
		limiter:  limiter,
		scans:    runner,
	}
}

// Root serves API info at /.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"name":    "Pulse Notification Engine",
		"version": "1.0.0",
		"status":  "running",
	})
}

// HealthCheck returns basic health status.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckDB verifies database connectivity.
func (h *Handler) HealthCheckDB(w http.ResponseWriter, r *http.Request) {
	var n int
	err := h.pool.QueryRow(r.Context(), "health_check").Scan(&n)
	if err != nil {
		respond.WriteJSONObject(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    "unhealthy",
			"database":  "disconnected",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"database":  "connected",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckEngine reports in-memory engine state sizes.
func (h *Handler) HealthCheckEngine(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":             "healthy",
		"rate_limiter_users": h.limiter.Size(),
		"timestamp":          time.Now().UTC().Format(time.RFC3339),
	})
}
