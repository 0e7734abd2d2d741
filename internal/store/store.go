// Package store defines the persistent-store surface the notification engine
// consumes, plus its Postgres implementation. The engine never talks to the
// database directly; everything goes through the Store interface so tests
// can substitute an in-memory fake.
package store

import (
	"context"
	"time"
)

// --------------------------------------------------------------------------
// Row types
// --------------------------------------------------------------------------

// User is the subset of the users table the engine reads and writes.
type User struct {
	ID             string
	Username       string
	DisplayName    string
	Timezone       string // IANA TZ, e.g. "America/New_York"
	HighEngagement bool

	// Re-engagement bookkeeping
	LastActiveAt       time.Time
	ReengagementSentAt *time.Time

	// Streak bookkeeping. LastPostDate is a calendar day, not an instant.
	CurrentStreak int
	LongestStreak int
	LastPostDate  *time.Time
}

// Notification is a persisted in-app notification row.
type Notification struct {
	ID        int64
	UserID    string
	Type      string
	Title     string
	Message   string
	Data      map[string]string
	Read      bool
	CreatedAt time.Time
}

// DeviceToken is a registered push target for a user.
type DeviceToken struct {
	Token      string
	Platform   string // "ios" | "android"
	IsActive   bool
	LastUsedAt time.Time
}

// Friend is a lightweight friend row used for re-engagement messages.
type Friend struct {
	ID           string
	Username     string
	LastActiveAt time.Time
}

// --------------------------------------------------------------------------
// Store interface
// --------------------------------------------------------------------------

// Store is the persistence surface consumed by the engine and the periodic
// scans. Lookup methods return (nil, nil) when the row does not exist.
type Store interface {
	// Users
	FindUser(ctx context.Context, id string) (*User, error)
	UpdateLastActive(ctx context.Context, userID string, ts time.Time) error
	UpdateReengagementSentAt(ctx context.Context, userID string, ts time.Time) error
	UpdateStreakFields(ctx context.Context, userID string, current, longest int, lastPost time.Time) error

	// Notifications
	CreateNotification(ctx context.Context, n *Notification) error
	CountUnreadNotifications(ctx context.Context, userID string) (int, error)
	ReadNotificationsSince(ctx context.Context, userID string, since time.Time, limit int) ([]Notification, error)

	// Device tokens
	ListActiveDeviceTokens(ctx context.Context, userID string) ([]DeviceToken, error)
	UpsertDeviceToken(ctx context.Context, userID, token, platform string) error
	MarkDeviceTokenInactive(ctx context.Context, token string) error
	DeleteStaleDeviceTokens(ctx context.Context, cutoff time.Time) (int64, error)

	// Social graph / posts
	AreFriends(ctx context.Context, userID, otherID string) (bool, error)
	PostOwner(ctx context.Context, postID string) (string, error)
	CountFriendPostsSince(ctx context.Context, userID string, since time.Time) (int, error)
	MostRecentActiveFriend(ctx context.Context, userID string) (*Friend, error)

	// Scan queries
	ListStreakAtRiskUsers(ctx context.Context, limit int) ([]User, error)
	ListInactiveUsers(ctx context.Context, inactiveBefore, cooldownBefore time.Time, limit int) ([]User, error)
}
