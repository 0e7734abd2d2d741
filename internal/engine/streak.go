package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pulseapp/engage/internal/store"
)

// --------------------------------------------------------------------------
// Daily posting streaks
// --------------------------------------------------------------------------

const (
	// Users who posted yesterday get one reminder when local midnight is
	// at most this far away.
	atRiskReminderWindow = 4 * time.Hour

	atRiskScanBatch = 100
)

// streakMilestones are the streak lengths that earn a one-time celebratory
// notification.
var streakMilestones = map[int]string{
	3:   "3-day streak! You're building a habit.",
	7:   "One week strong! Seven days of posting in a row.",
	14:  "Two weeks straight — your streak is on fire!",
	30:  "30 days! A full month of daily posts.",
	60:  "60-day streak. Seriously impressive.",
	100: "100 days. Triple digits. Legendary.",
	365: "365 days — a whole year without missing a single day!",
}

// StreakStatus is a user's current streak state.
type StreakStatus struct {
	CurrentStreak int
	LongestStreak int
	LastPostDate  *time.Time
}

// PostResult reports the outcome of recording a post.
type PostResult struct {
	NewStreak        int
	MilestoneReached bool
}

// StreakTracker maintains daily posting streaks, detects milestone
// crossings, and runs the at-risk reminder scan. Streak comparisons are
// calendar-day (midnight-to-midnight), not 24-hour rolling.
type StreakTracker struct {
	store      store.Store
	dispatcher *Dispatcher
	logger     *slog.Logger
	now        func() time.Time
}

// NewStreakTracker creates a streak tracker.
func NewStreakTracker(s store.Store, d *Dispatcher, logger *slog.Logger) *StreakTracker {
	return &StreakTracker{
		store:      s,
		dispatcher: d,
		logger:     logger,
		now:        time.Now,
	}
}

// Status returns the user's streak state, or nil if the user is unknown.
func (t *StreakTracker) Status(ctx context.Context, userID string) (*StreakStatus, error) {
	user, err := t.store.FindUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("streak status: %w", err)
	}
	if user == nil {
		return nil, nil
	}
	return &StreakStatus{
		CurrentStreak: user.CurrentStreak,
		LongestStreak: user.LongestStreak,
		LastPostDate:  user.LastPostDate,
	}, nil
}

// RecordPost updates the user's streak for a post made now. Posting twice
// on the same calendar day is a no-op; posting on consecutive days
// increments; a gap of two or more days resets to 1. Crossing a milestone
// emits exactly one celebratory notification.
func (t *StreakTracker) RecordPost(ctx context.Context, userID string) (PostResult, error) {
	user, err := t.store.FindUser(ctx, userID)
	if err != nil {
		return PostResult{}, fmt.Errorf("record post: %w", err)
	}
	if user == nil {
		return PostResult{}, fmt.Errorf("record post: user %s not found", userID)
	}

	now := t.now()
	loc := userLocation(user)
	today := now.In(loc)

	current := user.CurrentStreak
	switch {
	case user.LastPostDate == nil:
		current = 1
	default:
		switch daysBetween(*user.LastPostDate, today) {
		case 0:
			// Already posted today; streak unchanged, nothing to persist.
			return PostResult{NewStreak: current}, nil
		case 1:
			current++
		default:
			current = 1
		}
	}

	longest := user.LongestStreak
	if current > longest {
		longest = current
	}

	if err := t.store.UpdateStreakFields(ctx, userID, current, longest, dateOnly(today)); err != nil {
		return PostResult{}, fmt.Errorf("record post: %w", err)
	}

	result := PostResult{NewStreak: current}
	if body, ok := streakMilestones[current]; ok {
		result.MilestoneReached = true
		t.dispatcher.Notify(ctx, NotifyRequest{
			UserID:  userID,
			Type:    TypeStreakMilestone,
			Title:   fmt.Sprintf("%d-day streak!", current),
			Message: body,
			Data: map[string]string{
				"streak": fmt.Sprintf("%d", current),
			},
		})
	}
	return result, nil
}

// AtRisk reports whether the user's streak will lapse without a post today:
// they posted exactly yesterday and local midnight is at most the reminder
// window away.
func (t *StreakTracker) AtRisk(user *store.User) bool {
	if user.LastPostDate == nil || user.CurrentStreak < 2 {
		return false
	}

	loc := userLocation(user)
	now := t.now().In(loc)
	if daysBetween(*user.LastPostDate, now) != 1 {
		return false
	}

	midnight := dateOnly(now).AddDate(0, 0, 1)
	return midnight.Sub(now) <= atRiskReminderWindow
}

// ScanAtRisk sends one reminder to each user whose streak is about to
// lapse. Processes at most 100 users per run; reminders only go out to
// users currently inside their reminder window, so the scan is a cheap
// no-op most of the day for most timezones.
func (t *StreakTracker) ScanAtRisk(ctx context.Context) (ScanResult, error) {
	users, err := t.store.ListStreakAtRiskUsers(ctx, atRiskScanBatch)
	if err != nil {
		return ScanResult{}, fmt.Errorf("at-risk scan: %w", err)
	}

	var result ScanResult
	for i := range users {
		user := &users[i]
		result.Processed++
		if !t.AtRisk(user) {
			continue
		}

		t.dispatcher.Notify(ctx, NotifyRequest{
			UserID: user.ID,
			Type:   TypeStreakAtRisk,
			Title:  "Your streak is at risk!",
			Message: fmt.Sprintf("Post before midnight to keep your %d-day streak alive.",
				user.CurrentStreak),
			Data: map[string]string{
				"streak": fmt.Sprintf("%d", user.CurrentStreak),
			},
		})
		result.Sent++
	}

	if result.Processed > 0 {
		t.logger.Info("at-risk streak scan finished",
			"processed", result.Processed, "sent", result.Sent)
	}
	return result, nil
}

// --------------------------------------------------------------------------
// Calendar helpers
// --------------------------------------------------------------------------

// daysBetween returns the number of calendar days from a to b, reading each
// value's Y/M/D in its own location and normalizing to noon UTC so DST
// transitions cannot shift the count. LastPostDate decodes from a DATE
// column as midnight UTC; pass it as-is, never converted to another zone,
// or the date shifts for users west of UTC.
func daysBetween(a, b time.Time) int {
	an := time.Date(a.Year(), a.Month(), a.Day(), 12, 0, 0, 0, time.UTC)
	bn := time.Date(b.Year(), b.Month(), b.Day(), 12, 0, 0, 0, time.UTC)
	return int(bn.Sub(an).Hours() / 24)
}

// dateOnly truncates t to midnight in its location.
func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// userLocation resolves the user's IANA timezone, falling back to UTC.
func userLocation(u *store.User) *time.Location {
	if u.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
