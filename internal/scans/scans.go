// Package scans runs the engine's periodic background work on a cron
// scheduler: the at-risk streak scan, the re-engagement scan, the rate
// limiter memory sweep, and stale device token cleanup.
//
// Jobs run to completion; a job still running when its next tick fires is
// skipped rather than overlapped, since the scans are not re-entrant beyond
// the per-user cooldown fields.
package scans

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pulseapp/engage/internal/engine"
	"github.com/pulseapp/engage/internal/store"
)

// Config holds the cron specs for each job. An empty spec disables the job.
type Config struct {
	StreakScanSpec   string
	ReengageScanSpec string
	LimiterSweepSpec string
	TokenCleanupSpec string

	// Device tokens unused for this long are deleted.
	StaleTokenRetention time.Duration
}

// Results summarizes one on-demand RunAll invocation.
type Results struct {
	Streaks       engine.ScanResult
	Reengagement  engine.ScanResult
	LimiterSwept  int
	TokensDeleted int64
}

// Runner owns the cron scheduler and the scan implementations.
type Runner struct {
	cfg       Config
	store     store.Store
	limiter   *engine.RateLimiter
	streaks   *engine.StreakTracker
	reengager *engine.Reengager
	logger    *slog.Logger

	cron *cron.Cron
}

// New creates a scan runner. Call Start to begin scheduling.
func New(cfg Config, s store.Store, limiter *engine.RateLimiter,
	streaks *engine.StreakTracker, reengager *engine.Reengager, logger *slog.Logger) *Runner {
	return &Runner{
		cfg:       cfg,
		store:     s,
		limiter:   limiter,
		streaks:   streaks,
		reengager: reengager,
		logger:    logger,
	}
}

// Start registers the configured jobs and starts the scheduler. Blocks
// until ctx is cancelled. Intended to be called with `go`.
func (r *Runner) Start(ctx context.Context) error {
	r.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DiscardLogger),
		cron.Recover(cron.DiscardLogger),
	))

	jobs := []struct {
		name string
		spec string
		run  func(context.Context)
	}{
		{"streak_at_risk", r.cfg.StreakScanSpec, r.runStreakScan},
		{"reengagement", r.cfg.ReengageScanSpec, r.runReengageScan},
		{"limiter_sweep", r.cfg.LimiterSweepSpec, r.runLimiterSweep},
		{"token_cleanup", r.cfg.TokenCleanupSpec, r.runTokenCleanup},
	}

	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		run := j.run
		if _, err := r.cron.AddFunc(j.spec, func() { run(ctx) }); err != nil {
			return fmt.Errorf("schedule %s (%q): %w", j.name, j.spec, err)
		}
		r.logger.Info("scan scheduled", "job", j.name, "spec", j.spec)
	}

	r.cron.Start()
	<-ctx.Done()

	stopCtx := r.cron.Stop()
	<-stopCtx.Done()
	r.logger.Info("scan scheduler stopped")
	return nil
}

// RunAll runs every scan once, sequentially. Used by the admin CLI and the
// /scans/run trigger.
func (r *Runner) RunAll(ctx context.Context) Results {
	var res Results

	streaks, err := r.streaks.ScanAtRisk(ctx)
	if err != nil {
		r.logger.Error("at-risk streak scan failed", "error", err)
	}
	res.Streaks = streaks

	reengage, err := r.reengager.ScanInactive(ctx)
	if err != nil {
		r.logger.Error("re-engagement scan failed", "error", err)
	}
	res.Reengagement = reengage

	res.LimiterSwept = r.limiter.Sweep()

	deleted, err := r.store.DeleteStaleDeviceTokens(ctx, time.Now().Add(-r.cfg.StaleTokenRetention))
	if err != nil {
		r.logger.Error("stale token cleanup failed", "error", err)
	}
	res.TokensDeleted = deleted

	return res
}

// --------------------------------------------------------------------------
// Scheduled job wrappers
// --------------------------------------------------------------------------

func (r *Runner) runStreakScan(ctx context.Context) {
	if _, err := r.streaks.ScanAtRisk(ctx); err != nil {
		r.logger.Error("at-risk streak scan failed", "error", err)
	}
}

func (r *Runner) runReengageScan(ctx context.Context) {
	if _, err := r.reengager.ScanInactive(ctx); err != nil {
		r.logger.Error("re-engagement scan failed", "error", err)
	}
}

func (r *Runner) runLimiterSweep(ctx context.Context) {
	if evicted := r.limiter.Sweep(); evicted > 0 {
		r.logger.Info("rate limiter sweep", "evicted", evicted)
	}
}

func (r *Runner) runTokenCleanup(ctx context.Context) {
	cutoff := time.Now().Add(-r.cfg.StaleTokenRetention)
	deleted, err := r.store.DeleteStaleDeviceTokens(ctx, cutoff)
	if err != nil {
		r.logger.Error("stale token cleanup failed", "error", err)
		return
	}
	if deleted > 0 {
		r.logger.Info("stale device tokens deleted", "count", deleted, "cutoff", cutoff)
	}
}
