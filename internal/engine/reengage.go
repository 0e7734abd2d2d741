package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pulseapp/engage/internal/store"
)

// --------------------------------------------------------------------------
// Re-engagement
// --------------------------------------------------------------------------

const (
	// Inactivity tier boundaries, in hours since last activity.
	tier1Hours = 24  // friends-posted nudge
	tier2Hours = 72  // unread-notification nudge
	tier3Hours = 168 // personal nudge

	// Minimum interval between re-engagement sends to the same user,
	// independent of which tier applies.
	reengageCooldown = 24 * time.Hour

	reengageScanBatch = 100
)

// Reengager classifies inactivity into tiers and sends personalized nudges,
// subject to the per-user cooldown.
type Reengager struct {
	store      store.Store
	dispatcher *Dispatcher
	logger     *slog.Logger
	now        func() time.Time
}

// NewReengager creates a re-engagement scheduler.
func NewReengager(s store.Store, d *Dispatcher, logger *slog.Logger) *Reengager {
	return &Reengager{
		store:      s,
		dispatcher: d,
		logger:     logger,
		now:        time.Now,
	}
}

// CheckAndNotify sends at most one re-engagement nudge to the user if their
// inactivity tier produces a message and the cooldown has elapsed. Returns
// whether a nudge was sent.
func (r *Reengager) CheckAndNotify(ctx context.Context, user *store.User) (bool, error) {
	now := r.now()

	inactive := now.Sub(user.LastActiveAt)
	if inactive < tier1Hours*time.Hour {
		return false, nil
	}
	if user.ReengagementSentAt != nil && now.Sub(*user.ReengagementSentAt) < reengageCooldown {
		return false, nil
	}

	title, message, err := r.compose(ctx, user, inactive)
	if err != nil {
		return false, err
	}
	if message == "" {
		// Tier produced nothing worth saying; stay silent rather than spam.
		return false, nil
	}

	r.dispatcher.Notify(ctx, NotifyRequest{
		UserID:  user.ID,
		Type:    TypeReengagement,
		Title:   title,
		Message: message,
	})

	if err := r.store.UpdateReengagementSentAt(ctx, user.ID, now); err != nil {
		return true, fmt.Errorf("update reengagement sent: %w", err)
	}
	return true, nil
}

// compose picks the nudge for the user's inactivity tier. An empty message
// means the tier is suppressed.
func (r *Reengager) compose(ctx context.Context, user *store.User, inactive time.Duration) (title, message string, err error) {
	switch {
	case inactive < tier2Hours*time.Hour:
		// [24h, 72h): only worth a nudge if friends actually posted.
		posts, err := r.store.CountFriendPostsSince(ctx, user.ID, user.LastActiveAt)
		if err != nil {
			return "", "", fmt.Errorf("count friend posts: %w", err)
		}
		if posts == 0 {
			return "", "", nil
		}
		return "While you were away", friendPostsMessage(posts), nil

	case inactive < tier3Hours*time.Hour:
		// [72h, 168h): unread notifications first, friend activity second.
		unread, err := r.store.CountUnreadNotifications(ctx, user.ID)
		if err != nil {
			return "", "", fmt.Errorf("count unread: %w", err)
		}
		if unread > 0 {
			return "You have unread notifications",
				fmt.Sprintf("You have %d unread notifications waiting for you", unread), nil
		}
		posts, err := r.store.CountFriendPostsSince(ctx, user.ID, user.LastActiveAt)
		if err != nil {
			return "", "", fmt.Errorf("count friend posts: %w", err)
		}
		if posts == 0 {
			return "", "", nil
		}
		return "While you were away", friendPostsMessage(posts), nil

	default:
		// >= 168h: personal nudge naming the most recently active friend.
		friend, err := r.store.MostRecentActiveFriend(ctx, user.ID)
		if err != nil {
			return "", "", fmt.Errorf("most recent active friend: %w", err)
		}
		if friend == nil {
			return "We miss you!", "Come back and see what's new on Pulse", nil
		}
		return "We miss you!",
			fmt.Sprintf("%s has been active recently — come see what they're up to", friend.Username), nil
	}
}

func friendPostsMessage(n int) string {
	if n == 1 {
		return "Your friends posted 1 new update"
	}
	return fmt.Sprintf("Your friends posted %d new updates", n)
}

// ScanInactive processes up to 100 users who have been inactive beyond 24h
// with an elapsed cooldown, sequentially. Per-user failures are logged and
// skipped so one bad row cannot stall the scan.
func (r *Reengager) ScanInactive(ctx context.Context) (ScanResult, error) {
	now := r.now()
	users, err := r.store.ListInactiveUsers(ctx,
		now.Add(-tier1Hours*time.Hour),
		now.Add(-reengageCooldown),
		reengageScanBatch,
	)
	if err != nil {
		return ScanResult{}, fmt.Errorf("re-engagement scan: %w", err)
	}

	var result ScanResult
	for i := range users {
		result.Processed++
		sent, err := r.CheckAndNotify(ctx, &users[i])
		if sent {
			// The nudge went out even if the cooldown stamp failed below.
			result.Sent++
		}
		switch {
		case err != nil && sent:
			r.logger.Error("re-engagement cooldown stamp failed, next scan may resend",
				"user_id", users[i].ID, "error", err)
		case err != nil:
			r.logger.Warn("re-engagement check failed", "user_id", users[i].ID, "error", err)
		}
	}

	if result.Processed > 0 {
		r.logger.Info("re-engagement scan finished",
			"processed", result.Processed, "sent", result.Sent)
	}
	return result, nil
}
