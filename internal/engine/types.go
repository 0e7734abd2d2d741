// Package engine implements the notification orchestration core: the rate
// limiter, timing optimizer, priority classifier, streak tracker,
// re-engagement scheduler, and the dispatcher that ties them to inbound
// trigger events and outbound delivery channels.
//
// Flow: trigger -> Dispatcher -> [classifier, rate limiter] -> persist ->
// {push adapter, real-time bridge}. Delivery is fire-and-forget: failures
// in either channel never surface to the triggering caller.
package engine

import (
	"context"
	"errors"
	"time"
)

// --------------------------------------------------------------------------
// Notification types and categories
// --------------------------------------------------------------------------

// NotificationType is the closed set of event types the engine understands.
type NotificationType string

const (
	TypeFriendRequest   NotificationType = "FRIEND_REQUEST"
	TypeFriendAccepted  NotificationType = "FRIEND_ACCEPTED"
	TypeDirectMessage   NotificationType = "DIRECT_MESSAGE"
	TypePostLike        NotificationType = "POST_LIKE"
	TypePostComment     NotificationType = "POST_COMMENT"
	TypeFollow          NotificationType = "FOLLOW"
	TypeStreakMilestone NotificationType = "STREAK_MILESTONE"
	TypeStreakAtRisk    NotificationType = "STREAK_AT_RISK"
	TypeReengagement    NotificationType = "REENGAGEMENT"
	TypeSystem          NotificationType = "SYSTEM"
)

// Category groups types for the push provider's notification channels.
type Category string

const (
	CategoryFriendRequest   Category = "FRIEND_REQUEST"
	CategoryPostInteraction Category = "POST_INTERACTION"
	CategoryMessage         Category = "MESSAGE"
	CategoryGeneral         Category = "GENERAL"
)

// CategoryFor maps a notification type to its push category.
func CategoryFor(t NotificationType) Category {
	switch t {
	case TypeFriendRequest, TypeFriendAccepted:
		return CategoryFriendRequest
	case TypePostLike, TypePostComment, TypeFollow:
		return CategoryPostInteraction
	case TypeDirectMessage:
		return CategoryMessage
	default:
		return CategoryGeneral
	}
}

// --------------------------------------------------------------------------
// Outbound channel interfaces
// --------------------------------------------------------------------------

// ErrTokenUnregistered is returned by a PushSender when the provider reports
// the device token as no longer registered. The dispatcher deactivates the
// token so it is not retried on every send.
var ErrTokenUnregistered = errors.New("device token unregistered")

// PushPayload is the provider-agnostic push message shape.
type PushPayload struct {
	Title    string
	Body     string
	Badge    *int // current unread count, nil to leave unchanged
	Category Category
	ThreadID string // grouping id, e.g. "post-42"
	Data     map[string]string
}

// PushSender delivers a payload to a single device token.
// Implementations must be safe for a nil receiver (unconfigured provider).
type PushSender interface {
	Send(ctx context.Context, token string, p PushPayload) error
}

// NotificationEvent is the real-time sync payload mirroring a persisted
// notification.
type NotificationEvent struct {
	RecipientID string            `json:"recipient_id"`
	SenderID    string            `json:"sender_id,omitempty"`
	SenderName  string            `json:"sender_name,omitempty"`
	Type        NotificationType  `json:"type"`
	Title       string            `json:"title"`
	Message     string            `json:"message"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ActivityEvent feeds the friend-activity stream. Entries expire after
// ActivityTTL.
type ActivityEvent struct {
	ActorID       string    `json:"actor_id"`
	ActorName     string    `json:"actor_name"`
	ActivityType  string    `json:"activity_type"` // "like" | "comment" | "post"
	TargetID      string    `json:"target_id"`
	TargetType    string    `json:"target_type"` // "post" | "user"
	TargetPreview string    `json:"target_preview,omitempty"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// ActivityTTL is how long activity feed entries stay visible.
const ActivityTTL = 24 * time.Hour

// RealtimeSender forwards events to the real-time sync backend.
// Implementations must be safe for a nil receiver (unconfigured backend).
type RealtimeSender interface {
	SendNotification(ctx context.Context, ev NotificationEvent) error
	SendActivity(ctx context.Context, ev ActivityEvent) error
}

// --------------------------------------------------------------------------
// Scan results
// --------------------------------------------------------------------------

// ScanResult summarizes one periodic scan run.
type ScanResult struct {
	Processed int
	Sent      int
}
