// Package db provides a pgxpool-based connection pool with prepared statement
// registration and health checking.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulseapp/engage/internal/config"
)

// Pool wraps pgxpool.Pool with application-specific helpers.
type Pool struct {
	*pgxpool.Pool
}

// New creates and validates a new connection pool.
func New(ctx context.Context, cfg *config.Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.DBPoolMinConns)
	poolCfg.MaxConns = int32(cfg.DBPoolMaxConns)
	poolCfg.MaxConnLifetime = cfg.DBPoolMaxLife
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	// Register prepared statements on every new connection.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return registerPreparedStatements(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// HealthCheck runs a trivial query to verify the database is reachable.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var n int
	return p.QueryRow(ctx, "health_check").Scan(&n)
}

// registerPreparedStatements registers all statements the engine and the
// periodic scans use. Prepared statements eliminate parse overhead on every
// trigger call.
func registerPreparedStatements(ctx context.Context, conn *pgx.Conn) error {
	stmts := map[string]string{
		// Health
		"health_check": "SELECT 1",

		// Users
		"find_user": `SELECT id, username, display_name, timezone, high_engagement,
			last_active_at, reengagement_sent_at, current_streak, longest_streak, last_post_date
			FROM users WHERE id = $1`,
		"update_last_active":       "UPDATE users SET last_active_at = $2 WHERE id = $1",
		"update_reengagement_sent": "UPDATE users SET reengagement_sent_at = $2 WHERE id = $1",
		"update_streak_fields": `UPDATE users SET current_streak = $2, longest_streak = $3,
			last_post_date = $4 WHERE id = $1`,

		// Notifications
		"create_notification": `INSERT INTO notifications (user_id, type, title, message, data, read, created_at)
			VALUES ($1, $2, $3, $4, $5, false, NOW())
			RETURNING id, created_at`,
		"count_unread_notifications": "SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read = false",
		"read_notifications_since": `SELECT id, user_id, type, title, message, data, read, created_at
			FROM notifications
			WHERE user_id = $1 AND read = true AND created_at >= $2
			ORDER BY created_at DESC
			LIMIT $3`,

		// Device tokens
		"list_active_device_tokens": `SELECT token, platform, is_active, last_used_at
			FROM user_devices WHERE user_id = $1 AND is_active = true`,
		"upsert_device_token": `INSERT INTO user_devices (user_id, token, platform, is_active, last_used_at)
			VALUES ($1, $2, $3, true, NOW())
			ON CONFLICT (token) DO UPDATE
			SET user_id = EXCLUDED.user_id, platform = EXCLUDED.platform,
			    is_active = true, last_used_at = NOW()`,
		"mark_device_token_inactive": "UPDATE user_devices SET is_active = false WHERE token = $1",
		"delete_stale_device_tokens": "DELETE FROM user_devices WHERE last_used_at < $1",

		// Social graph / posts
		"are_friends": `SELECT 1 FROM friendships
			WHERE status = 'accepted'
			  AND ((user_id = $1 AND friend_id = $2) OR (user_id = $2 AND friend_id = $1))
			LIMIT 1`,
		"post_owner": "SELECT author_id FROM posts WHERE id = $1",
		"count_friend_posts_since": `SELECT COUNT(*) FROM posts p
			JOIN friendships f ON f.status = 'accepted'
			 AND ((f.user_id = $1 AND f.friend_id = p.author_id)
			   OR (f.friend_id = $1 AND f.user_id = p.author_id))
			WHERE p.created_at >= $2`,
		"most_recent_active_friend": `SELECT u.id, u.username, u.last_active_at
			FROM users u
			JOIN friendships f ON f.status = 'accepted'
			 AND ((f.user_id = $1 AND f.friend_id = u.id)
			   OR (f.friend_id = $1 AND f.user_id = u.id))
			ORDER BY u.last_active_at DESC
			LIMIT 1`,

		// Scans
		// Two-day band, not an exact match: CURRENT_DATE runs in the DB
		// session's timezone, and a user several hours west of it reaches
		// their pre-midnight reminder window after the session date has
		// already rolled over. The scan re-checks each row against the
		// user's own timezone.
		"list_streak_at_risk_users": `SELECT id, username, display_name, timezone, high_engagement,
			last_active_at, reengagement_sent_at, current_streak, longest_streak, last_post_date
			FROM users
			WHERE current_streak >= 2
			  AND last_post_date >= CURRENT_DATE - 2
			  AND last_post_date < CURRENT_DATE
			LIMIT $1`,
		"list_inactive_users": `SELECT id, username, display_name, timezone, high_engagement,
			last_active_at, reengagement_sent_at, current_streak, longest_streak, last_post_date
			FROM users
			WHERE last_active_at < $1
			  AND (reengagement_sent_at IS NULL OR reengagement_sent_at < $2)
			ORDER BY last_active_at
			LIMIT $3`,
	}

	for name, sql := range stmts {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}
