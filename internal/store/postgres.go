package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements Store on a pgxpool.Pool. All queries run as prepared
// statements registered in internal/db.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres-backed store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// --------------------------------------------------------------------------
// Users
// --------------------------------------------------------------------------

func (s *Postgres) FindUser(ctx context.Context, id string) (*User, error) {
	row := s.pool.QueryRow(ctx, "find_user", id)
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

func (s *Postgres) UpdateLastActive(ctx context.Context, userID string, ts time.Time) error {
	_, err := s.pool.Exec(ctx, "update_last_active", userID, ts)
	if err != nil {
		return fmt.Errorf("update last active: %w", err)
	}
	return nil
}

func (s *Postgres) UpdateReengagementSentAt(ctx context.Context, userID string, ts time.Time) error {
	_, err := s.pool.Exec(ctx, "update_reengagement_sent", userID, ts)
	if err != nil {
		return fmt.Errorf("update reengagement sent: %w", err)
	}
	return nil
}

func (s *Postgres) UpdateStreakFields(ctx context.Context, userID string, current, longest int, lastPost time.Time) error {
	_, err := s.pool.Exec(ctx, "update_streak_fields", userID, current, longest, lastPost)
	if err != nil {
		return fmt.Errorf("update streak fields: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Notifications
// --------------------------------------------------------------------------

func (s *Postgres) CreateNotification(ctx context.Context, n *Notification) error {
	err := s.pool.QueryRow(ctx, "create_notification",
		n.UserID, n.Type, n.Title, n.Message, n.Data,
	).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

func (s *Postgres) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "count_unread_notifications", userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

func (s *Postgres) ReadNotificationsSince(ctx context.Context, userID string, since time.Time, limit int) ([]Notification, error) {
	rows, err := s.pool.Query(ctx, "read_notifications_since", userID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("read notifications since: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &n.Data, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// --------------------------------------------------------------------------
// Device tokens
// --------------------------------------------------------------------------

func (s *Postgres) ListActiveDeviceTokens(ctx context.Context, userID string) ([]DeviceToken, error) {
	rows, err := s.pool.Query(ctx, "list_active_device_tokens", userID)
	if err != nil {
		return nil, fmt.Errorf("list device tokens: %w", err)
	}
	defer rows.Close()

	var tokens []DeviceToken
	for rows.Next() {
		var t DeviceToken
		if err := rows.Scan(&t.Token, &t.Platform, &t.IsActive, &t.LastUsedAt); err != nil {
			return nil, fmt.Errorf("scan device token: %w", err)
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func (s *Postgres) UpsertDeviceToken(ctx context.Context, userID, token, platform string) error {
	_, err := s.pool.Exec(ctx, "upsert_device_token", userID, token, platform)
	if err != nil {
		return fmt.Errorf("upsert device token: %w", err)
	}
	return nil
}

func (s *Postgres) MarkDeviceTokenInactive(ctx context.Context, token string) error {
	_, err := s.pool.Exec(ctx, "mark_device_token_inactive", token)
	if err != nil {
		return fmt.Errorf("mark device token inactive: %w", err)
	}
	return nil
}

func (s *Postgres) DeleteStaleDeviceTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, "delete_stale_device_tokens", cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete stale device tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --------------------------------------------------------------------------
// Social graph / posts
// --------------------------------------------------------------------------

func (s *Postgres) AreFriends(ctx context.Context, userID, otherID string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx, "are_friends", userID, otherID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("are friends: %w", err)
	}
	return true, nil
}

func (s *Postgres) PostOwner(ctx context.Context, postID string) (string, error) {
	var owner string
	err := s.pool.QueryRow(ctx, "post_owner", postID).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("post owner: %w", err)
	}
	return owner, nil
}

func (s *Postgres) CountFriendPostsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "count_friend_posts_since", userID, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("count friend posts: %w", err)
	}
	return n, nil
}

func (s *Postgres) MostRecentActiveFriend(ctx context.Context, userID string) (*Friend, error) {
	var f Friend
	err := s.pool.QueryRow(ctx, "most_recent_active_friend", userID).Scan(&f.ID, &f.Username, &f.LastActiveAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("most recent active friend: %w", err)
	}
	return &f, nil
}

// --------------------------------------------------------------------------
// Scan queries
// --------------------------------------------------------------------------

func (s *Postgres) ListStreakAtRiskUsers(ctx context.Context, limit int) ([]User, error) {
	rows, err := s.pool.Query(ctx, "list_streak_at_risk_users", limit)
	if err != nil {
		return nil, fmt.Errorf("list streak at-risk users: %w", err)
	}
	defer rows.Close()
	return collectUsers(rows)
}

func (s *Postgres) ListInactiveUsers(ctx context.Context, inactiveBefore, cooldownBefore time.Time, limit int) ([]User, error) {
	rows, err := s.pool.Query(ctx, "list_inactive_users", inactiveBefore, cooldownBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("list inactive users: %w", err)
	}
	defer rows.Close()
	return collectUsers(rows)
}

// --------------------------------------------------------------------------
// Scan helpers
// --------------------------------------------------------------------------

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.Timezone, &u.HighEngagement,
		&u.LastActiveAt, &u.ReengagementSentAt, &u.CurrentStreak, &u.LongestStreak, &u.LastPostDate)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func collectUsers(rows pgx.Rows) ([]User, error) {
	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}
