// Package listener provides a Postgres LISTEN/NOTIFY consumer bridging the
// primary app backend to the engine without an HTTP hop. It holds a
// dedicated pgx connection (not from the pool) listening on the
// `post_created` and `user_active` channels.
//
// When the app backend records a post it fires pg_notify and this consumer
// updates the author's streak; activity pings feed the re-engagement
// inactivity clock. The HTTP trigger surface remains the primary path;
// this is the low-latency one for backends sharing the database.
package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pulseapp/engage/internal/engine"
)

const (
	postChannel     = "post_created"
	activityChannel = "user_active"

	reconnectBackoff = 5 * time.Second
	maxReconnect     = 30 * time.Second
)

// event is the JSON payload from pg_notify on either channel.
type event struct {
	UserID string `json:"user_id"`
	PostID string `json:"post_id,omitempty"`
}

// Start opens a dedicated connection and listens for app events. It
// reconnects automatically on connection loss. Blocks until ctx is
// cancelled. Intended to be called with `go`.
func Start(ctx context.Context, dbURL string, triggers *engine.Triggers, logger *slog.Logger) {
	backoff := reconnectBackoff

	for {
		err := listenLoop(ctx, dbURL, triggers, logger)
		if ctx.Err() != nil {
			logger.Info("app event listener stopped (context cancelled)")
			return
		}

		logger.Error("app event listener disconnected, reconnecting...",
			"error", err, "backoff", backoff)

		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, maxReconnect)
		case <-ctx.Done():
			return
		}
	}
}

// listenLoop runs a single listen session. Returns when the connection
// drops or the context is cancelled.
func listenLoop(ctx context.Context, dbURL string, triggers *engine.Triggers, logger *slog.Logger) error {
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	for _, ch := range []string{postChannel, activityChannel} {
		if _, err := conn.Exec(ctx, "LISTEN "+ch); err != nil {
			return fmt.Errorf("LISTEN %s: %w", ch, err)
		}
	}
	logger.Info("app event listener connected",
		"channels", []string{postChannel, activityChannel})

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}

		var ev event
		if err := json.Unmarshal([]byte(notification.Payload), &ev); err != nil {
			logger.Warn("failed to parse app event",
				"channel", notification.Channel, "payload", notification.Payload, "error", err)
			continue
		}
		if ev.UserID == "" {
			continue
		}

		// Handle asynchronously so a slow store call never blocks the
		// listen loop.
		switch notification.Channel {
		case postChannel:
			go handlePost(ctx, triggers, ev, logger)
		case activityChannel:
			go handleActivity(ctx, triggers, ev, logger)
		}
	}
}

func handlePost(ctx context.Context, triggers *engine.Triggers, ev event, logger *slog.Logger) {
	result, err := triggers.RecordPost(ctx, ev.UserID)
	if err != nil {
		logger.Warn("post event: streak update failed", "user_id", ev.UserID, "error", err)
		return
	}
	if result.MilestoneReached {
		logger.Info("streak milestone reached", "user_id", ev.UserID, "streak", result.NewStreak)
	}
}

func handleActivity(ctx context.Context, triggers *engine.Triggers, ev event, logger *slog.Logger) {
	if err := triggers.UpdateActivity(ctx, ev.UserID); err != nil {
		logger.Warn("activity event: update failed", "user_id", ev.UserID, "error", err)
	}
}
