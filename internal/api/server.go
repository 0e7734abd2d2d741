// Package api wires the chi router for the trigger surface the rest of the
// app calls into the engine.
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	corslib "github.com/rs/cors"

	"github.com/pulseapp/engage/internal/api/handler"
	"github.com/pulseapp/engage/internal/config"
	"github.com/pulseapp/engage/internal/engine"
	"github.com/pulseapp/engage/internal/scans"
	"github.com/pulseapp/engage/internal/store"
)

// NewRouter creates and configures the chi router with all middleware and
// routes.
func NewRouter(pool *pgxpool.Pool, st store.Store, triggers *engine.Triggers,
	streaks *engine.StreakTracker, limiter *engine.RateLimiter,
	runner *scans.Runner, cfg *config.Config) *chi.Mux {
	r := chi.NewRouter()

	// --- Middleware stack ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(ProcessTime)
	r.Use(middleware.Compress(5)) // gzip

	// CORS
	c := corslib.New(corslib.Options{
		AllowedOrigins:   cfg.CORSAllowOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Encoding", "Content-Type"},
		ExposedHeaders:   []string{"X-Process-Time"},
		AllowCredentials: false,
	})
	r.Use(c.Handler)

	// Rate limiting
	if cfg.RateLimitEnabled {
		r.Use(Throttle(cfg))
	}

	// --- Handler dependencies ---
	h := handler.New(pool, st, triggers, streaks, limiter, runner)

	// --- Routes ---

	// Root
	r.Get("/", h.Root)

	// Health checks
	r.Route("/health", func(r chi.Router) {
		r.Get("/", h.HealthCheck)
		r.Get("/db", h.HealthCheckDB)
		r.Get("/engine", h.HealthCheckEngine)
	})

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Event triggers
		r.Route("/notify", func(r chi.Router) {
			r.Post("/post-liked", h.PostLiked)
			r.Post("/post-commented", h.PostCommented)
			r.Post("/friend-request", h.FriendRequestSent)
			r.Post("/friend-accepted", h.FriendRequestAccepted)
		})

		// Streaks
		r.Get("/streaks/{userID}", h.StreakStatus)
		r.Post("/streaks/{userID}/post", h.RecordPost)

		// Activity (re-engagement clock)
		r.Post("/activity/{userID}", h.UpdateActivity)

		// Device tokens
		r.Post("/devices", h.RegisterDevice)

		// On-demand periodic scans
		r.Post("/scans/run", h.RunScans)
	})

	return r
}
