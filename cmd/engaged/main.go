// Command engaged is the Pulse notification orchestration service.
//
// Usage:
//
//	engaged
//	API_PORT=8080 engaged
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"

	"github.com/pulseapp/engage/internal/api"
	"github.com/pulseapp/engage/internal/cache"
	"github.com/pulseapp/engage/internal/config"
	"github.com/pulseapp/engage/internal/db"
	"github.com/pulseapp/engage/internal/engine"
	"github.com/pulseapp/engage/internal/listener"
	"github.com/pulseapp/engage/internal/push"
	"github.com/pulseapp/engage/internal/realtime"
	"github.com/pulseapp/engage/internal/scans"
	"github.com/pulseapp/engage/internal/store"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// Load .env if present
	_ = godotenv.Load(".env")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// Connect to database
	logger.Info("Connecting to database...")
	pool, err := db.New(ctx, cfg)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("Database connected",
		"min_conns", cfg.DBPoolMinConns,
		"max_conns", cfg.DBPoolMaxConns)

	st := store.NewPostgres(pool.Pool)

	// Delivery channels. Either may be disabled by configuration; the
	// dispatcher treats a nil channel as a permanent no-op.
	var pushSender engine.PushSender
	fcm, err := push.New(ctx, cfg.FirebaseCredentialsFile, logger)
	if err != nil {
		logger.Error("Failed to initialize FCM", "error", err)
		os.Exit(1)
	}
	if fcm != nil {
		pushSender = fcm
		logger.Info("Push delivery enabled (FCM)")
	} else {
		logger.Info("Push delivery disabled (no FIREBASE_CREDENTIALS_FILE)")
	}

	var rtSender engine.RealtimeSender
	if bridge := realtime.New(cfg.RealtimeBaseURL, cfg.RealtimeAuthToken, logger); bridge != nil {
		rtSender = bridge
		logger.Info("Real-time forwarding enabled", "base_url", cfg.RealtimeBaseURL)
	} else {
		logger.Info("Real-time forwarding disabled (no REALTIME_BASE_URL)")
	}

	// Engine
	limiter := engine.NewRateLimiter()
	patterns := cache.New[engine.ActivityPattern](engine.PatternTTL, 30*time.Minute)
	optimizer := engine.NewOptimizer(st, patterns, logger)
	dispatcher := engine.NewDispatcher(st, limiter, optimizer, pushSender, rtSender, logger)
	streaks := engine.NewStreakTracker(st, dispatcher, logger)
	reengager := engine.NewReengager(st, dispatcher, logger)
	triggers := engine.NewTriggers(st, dispatcher, streaks, logger)

	// Periodic scans on the cron scheduler
	runner := scans.New(scans.Config{
		StreakScanSpec:      cfg.StreakScanSpec,
		ReengageScanSpec:    cfg.ReengageScanSpec,
		LimiterSweepSpec:    cfg.LimiterSweepSpec,
		TokenCleanupSpec:    cfg.TokenCleanupSpec,
		StaleTokenRetention: cfg.StaleTokenRetention,
	}, st, limiter, streaks, reengager, logger)
	go func() {
		if err := runner.Start(ctx); err != nil {
			logger.Error("Scan scheduler failed", "error", err)
		}
	}()

	// LISTEN/NOTIFY consumer for app events sharing the database
	go listener.Start(ctx, cfg.DatabaseURL, triggers, logger)

	// Create router
	router := api.NewRouter(pool.Pool, st, triggers, streaks, limiter, runner, cfg)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info("Starting Pulse notification engine",
			"addr", addr,
			"environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt
	<-ctx.Done()
	logger.Info("Shutting down...")

	// Graceful shutdown with timeout; drain in-flight deliveries.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	dispatcher.Wait()
	logger.Info("Server stopped")
}
