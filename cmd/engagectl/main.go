// Command engagectl is the Pulse notification engine admin CLI.
//
// Usage:
//
//	engagectl scan streaks
//	engagectl scan reengagement
//	engagectl scan all
//	engagectl tokens prune --days 90
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/pulseapp/engage/internal/cache"
	"github.com/pulseapp/engage/internal/config"
	"github.com/pulseapp/engage/internal/db"
	"github.com/pulseapp/engage/internal/engine"
	"github.com/pulseapp/engage/internal/scans"
	"github.com/pulseapp/engage/internal/store"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:   "engagectl",
		Short: "Pulse notification engine admin CLI",
	}

	root.AddCommand(scanCmd())
	root.AddCommand(tokensCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// scan command
// --------------------------------------------------------------------------

func scanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run a periodic scan once",
	}
	cmd.AddCommand(scanStreaksCmd())
	cmd.AddCommand(scanReengagementCmd())
	cmd.AddCommand(scanAllCmd())
	return cmd
}

func scanStreaksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "streaks",
		Short: "Run the at-risk streak scan",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, e *cliEngine) error {
				start := time.Now()
				result, err := e.streaks.ScanAtRisk(ctx)
				if err != nil {
					return err
				}
				e.dispatcher.Wait()
				logger.Info("At-risk streak scan finished",
					"processed", result.Processed, "sent", result.Sent,
					"duration", time.Since(start).Round(time.Millisecond))
				return nil
			})
		},
	}
}

func scanReengagementCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reengagement",
		Short: "Run the re-engagement scan",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, e *cliEngine) error {
				start := time.Now()
				result, err := e.reengager.ScanInactive(ctx)
				if err != nil {
					return err
				}
				e.dispatcher.Wait()
				logger.Info("Re-engagement scan finished",
					"processed", result.Processed, "sent", result.Sent,
					"duration", time.Since(start).Round(time.Millisecond))
				return nil
			})
		},
	}
}

func scanAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Run every periodic scan once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, e *cliEngine) error {
				start := time.Now()
				res := e.runner.RunAll(ctx)
				e.dispatcher.Wait()
				logger.Info("All scans finished",
					"streaks_sent", res.Streaks.Sent,
					"reengagement_sent", res.Reengagement.Sent,
					"limiter_swept", res.LimiterSwept,
					"tokens_deleted", res.TokensDeleted,
					"duration", time.Since(start).Round(time.Millisecond))
				return nil
			})
		},
	}
}

// --------------------------------------------------------------------------
// tokens command
// --------------------------------------------------------------------------

func tokensCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Device token maintenance",
	}
	cmd.AddCommand(tokensPruneCmd())
	return cmd
}

func tokensPruneCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete device tokens unused for N days",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, e *cliEngine) error {
				cutoff := time.Now().AddDate(0, 0, -days)
				deleted, err := e.store.DeleteStaleDeviceTokens(ctx, cutoff)
				if err != nil {
					return err
				}
				logger.Info("Stale device tokens deleted", "count", deleted, "cutoff", cutoff)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 90, "Age threshold in days")
	return cmd
}

// --------------------------------------------------------------------------
// Shared setup
// --------------------------------------------------------------------------

// cliEngine bundles the engine pieces a CLI command may need. The CLI runs
// with delivery channels disabled: scans triggered from an operator shell
// persist notifications but do not push, so a manual run can never
// double-deliver alongside the service.
type cliEngine struct {
	store      store.Store
	dispatcher *engine.Dispatcher
	streaks    *engine.StreakTracker
	reengager  *engine.Reengager
	runner     *scans.Runner
}

func withEngine(fn func(ctx context.Context, e *cliEngine) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	pool, err := db.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	st := store.NewPostgres(pool.Pool)
	limiter := engine.NewRateLimiter()
	patterns := cache.New[engine.ActivityPattern](engine.PatternTTL, 0)
	optimizer := engine.NewOptimizer(st, patterns, logger)
	dispatcher := engine.NewDispatcher(st, limiter, optimizer, nil, nil, logger)
	streaks := engine.NewStreakTracker(st, dispatcher, logger)
	reengager := engine.NewReengager(st, dispatcher, logger)

	runner := scans.New(scans.Config{
		StaleTokenRetention: cfg.StaleTokenRetention,
	}, st, limiter, streaks, reengager, logger)

	return fn(ctx, &cliEngine{
		store:      st,
		dispatcher: dispatcher,
		streaks:    streaks,
		reengager:  reengager,
		runner:     runner,
	})
}
