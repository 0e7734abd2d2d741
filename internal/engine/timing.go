package engine

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/pulseapp/engage/internal/cache"
	"github.com/pulseapp/engage/internal/store"
)

// --------------------------------------------------------------------------
// Timing optimization
// --------------------------------------------------------------------------

const (
	historyLookback = 30 * 24 * time.Hour
	historyLimit    = 100
	peakHourCount   = 4

	// A push is "well timed" within this many hours of an optimal hour.
	goodTimeSlack = 2

	// PatternTTL bounds activity-pattern staleness: patterns are recomputed
	// on the first query after expiry rather than cached for the process
	// lifetime.
	PatternTTL = 6 * time.Hour

	fallbackHour = 9
)

// defaultOptimalHours is used when a user has no read-notification history.
var defaultOptimalHours = []int{9, 12, 18, 20}

// ActivityPattern is a user's historical read-notification activity.
type ActivityPattern struct {
	HourlyActivity [24]int
	PeakHours      []int // top hours by count, descending; empty = no signal
}

// Optimizer derives each user's historically good notification hours from
// past read-notification timestamps.
type Optimizer struct {
	store    store.Store
	patterns *cache.TTL[ActivityPattern]
	logger   *slog.Logger
	now      func() time.Time
}

// NewOptimizer creates a timing optimizer backed by the given store.
func NewOptimizer(s store.Store, patterns *cache.TTL[ActivityPattern], logger *slog.Logger) *Optimizer {
	return &Optimizer{
		store:    s,
		patterns: patterns,
		logger:   logger,
		now:      time.Now,
	}
}

// OptimalHours returns up to four hours-of-day (0-23) at which the user has
// historically read notifications, or the default schedule when there is no
// signal.
func (o *Optimizer) OptimalHours(ctx context.Context, userID string) []int {
	p := o.pattern(ctx, userID)
	if len(p.PeakHours) == 0 {
		return defaultOptimalHours
	}
	return p.PeakHours
}

// IsGoodTimeNow reports whether the current hour is within two hours of any
// of the user's optimal hours, wrapping around midnight.
func (o *Optimizer) IsGoodTimeNow(ctx context.Context, userID string) bool {
	hour := o.now().Hour()
	for _, optimal := range o.OptimalHours(ctx, userID) {
		diff := hour - optimal
		if diff < 0 {
			diff = -diff
		}
		// A difference of >= 22 crosses midnight and is equivalent to <= 2.
		if diff <= goodTimeSlack || diff >= 24-goodTimeSlack {
			return true
		}
	}
	return false
}

// NextOptimalTime returns the next moment at one of the user's optimal
// hours: the first optimal hour strictly after the current hour today, or
// the earliest optimal hour (9 when the list is empty) tomorrow.
func (o *Optimizer) NextOptimalTime(ctx context.Context, userID string) time.Time {
	now := o.now()
	hours := o.OptimalHours(ctx, userID)

	sorted := make([]int, len(hours))
	copy(sorted, hours)
	sort.Ints(sorted)

	for _, h := range sorted {
		if h > now.Hour() {
			return time.Date(now.Year(), now.Month(), now.Day(), h, 0, 0, 0, now.Location())
		}
	}

	first := fallbackHour
	if len(sorted) > 0 {
		first = sorted[0]
	}
	tomorrow := now.AddDate(0, 0, 1)
	return time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), first, 0, 0, 0, now.Location())
}

// pattern returns the user's cached activity pattern, recomputing it from
// the store after the cache TTL expires. Store failures degrade to the
// empty pattern (default hours) rather than blocking a send decision.
func (o *Optimizer) pattern(ctx context.Context, userID string) ActivityPattern {
	if p, ok := o.patterns.Get(userID); ok {
		return p
	}

	since := o.now().Add(-historyLookback)
	history, err := o.store.ReadNotificationsSince(ctx, userID, since, historyLimit)
	if err != nil {
		o.logger.Warn("activity pattern load failed", "user_id", userID, "error", err)
		return ActivityPattern{}
	}

	p := buildPattern(history)
	o.patterns.Set(userID, p)
	return p
}

// buildPattern buckets read-notification creation hours into a 24-slot
// histogram and extracts the top hours by count.
func buildPattern(history []store.Notification) ActivityPattern {
	var p ActivityPattern
	for _, n := range history {
		p.HourlyActivity[n.CreatedAt.Hour()]++
	}

	hours := make([]int, 24)
	for i := range hours {
		hours[i] = i
	}
	sort.SliceStable(hours, func(a, b int) bool {
		return p.HourlyActivity[hours[a]] > p.HourlyActivity[hours[b]]
	})

	for _, h := range hours[:peakHourCount] {
		if p.HourlyActivity[h] == 0 {
			break
		}
		p.PeakHours = append(p.PeakHours, h)
	}
	return p
}
