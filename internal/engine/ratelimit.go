package engine

import (
	"sync"
	"time"
)

// --------------------------------------------------------------------------
// Per-user notification rate limiting
// --------------------------------------------------------------------------

const (
	dailyNotificationLimit = 15
	hourlyPushLimit        = 5

	dayWindow  = 24 * time.Hour
	hourWindow = time.Hour

	// Entries whose daily window expired this long ago are evicted by Sweep.
	limiterEvictAfter = 48 * time.Hour
)

type rateState struct {
	dailyCount      int
	hourlyPushCount int
	dailyResetAt    time.Time
	hourlyResetAt   time.Time
}

// RateLimiter bounds per-user notification volume over a day window and
// push volume over an hour window. State is process-local; counters reset
// lazily on the next read after window expiry. Check-then-record for the
// same user is not atomic across calls, so two concurrent triggers can both
// pass a boundary check. Accepted: the ceilings are advisory, not billing.
type RateLimiter struct {
	mu     sync.Mutex
	states map[string]*rateState
	now    func() time.Time
}

// NewRateLimiter creates a rate limiter using the real clock.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		states: make(map[string]*rateState),
		now:    time.Now,
	}
}

// CanSendNotification reports whether the user is under the daily ceiling.
func (l *RateLimiter) CanSendNotification(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.state(userID)
	return s.dailyCount < dailyNotificationLimit
}

// CanSendPush reports whether the user is under the hourly push ceiling.
func (l *RateLimiter) CanSendPush(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.state(userID)
	return s.hourlyPushCount < hourlyPushLimit
}

// RecordSent counts one persisted notification against the daily window.
func (l *RateLimiter) RecordSent(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state(userID).dailyCount++
}

// RecordPushSent counts one push delivery against the hourly window.
func (l *RateLimiter) RecordPushSent(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state(userID).hourlyPushCount++
}

// Sweep evicts entries whose daily window expired more than two days ago,
// bounding memory growth. Returns the number of evicted entries. Run
// periodically; correctness does not depend on it.
func (l *RateLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	evicted := 0
	for userID, s := range l.states {
		if now.Sub(s.dailyResetAt) > limiterEvictAfter {
			delete(l.states, userID)
			evicted++
		}
	}
	return evicted
}

// Size returns the number of tracked users, for health reporting.
func (l *RateLimiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.states)
}

// state returns the user's entry, lazily creating it and applying window
// resets. Caller must hold l.mu. Windows restart from now, not from the
// old reset point, so they slide rather than align to clock boundaries.
func (l *RateLimiter) state(userID string) *rateState {
	now := l.now()
	s, ok := l.states[userID]
	if !ok {
		s = &rateState{
			dailyResetAt:  now.Add(dayWindow),
			hourlyResetAt: now.Add(hourWindow),
		}
		l.states[userID] = s
		return s
	}

	if !now.Before(s.dailyResetAt) {
		s.dailyCount = 0
		s.dailyResetAt = now.Add(dayWindow)
	}
	if !now.Before(s.hourlyResetAt) {
		s.hourlyPushCount = 0
		s.hourlyResetAt = now.Add(hourWindow)
	}
	return s
}
