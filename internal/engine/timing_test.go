package engine

import (
	"context"
	"testing"
	"time"

	"github.com/pulseapp/engage/internal/cache"
	"github.com/pulseapp/engage/internal/store"
)

func newTestOptimizer(fs *fakeStore, now time.Time) *Optimizer {
	patterns := cache.New[ActivityPattern](PatternTTL, 0)
	o := NewOptimizer(fs, patterns, discardLogger())
	o.now = func() time.Time { return now }
	return o
}

func readAt(hours ...int) []store.Notification {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	var out []store.Notification
	for _, h := range hours {
		out = append(out, store.Notification{
			Read:      true,
			CreatedAt: base.Add(time.Duration(h) * time.Hour),
		})
	}
	return out
}

func TestOptimalHoursDefaultOnNoHistory(t *testing.T) {
	fs := newFakeStore()
	o := newTestOptimizer(fs, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	hours := o.OptimalHours(context.Background(), "u1")
	want := []int{9, 12, 18, 20}
	if len(hours) != len(want) {
		t.Fatalf("expected %v, got %v", want, hours)
	}
	for i := range want {
		if hours[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, hours)
		}
	}
}

func TestOptimalHoursFromHistory(t *testing.T) {
	fs := newFakeStore()
	// 21h dominates, then 8h, then 14h; 3h appears once.
	fs.readHistory["u1"] = readAt(21, 21, 21, 8, 8, 14, 14, 3, 21, 8)
	o := newTestOptimizer(fs, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	hours := o.OptimalHours(context.Background(), "u1")
	if len(hours) != 4 {
		t.Fatalf("expected 4 peak hours, got %v", hours)
	}
	if hours[0] != 21 || hours[1] != 8 || hours[2] != 14 || hours[3] != 3 {
		t.Fatalf("unexpected peak order: %v", hours)
	}
}

func TestPeakHoursSkipZeroCounts(t *testing.T) {
	fs := newFakeStore()
	fs.readHistory["u1"] = readAt(10, 10)
	o := newTestOptimizer(fs, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	hours := o.OptimalHours(context.Background(), "u1")
	if len(hours) != 1 || hours[0] != 10 {
		t.Fatalf("expected only hour 10, got %v", hours)
	}
}

func TestIsGoodTimeNow(t *testing.T) {
	cases := []struct {
		name    string
		nowHour int
		history []int // read hours; empty = defaults [9 12 18 20]
		want    bool
	}{
		{"exact default hour", 12, nil, true},
		{"within slack", 10, nil, true},
		{"between default hours", 15, nil, false},
		{"early morning", 4, nil, false},
		{"midnight wrap below", 23, []int{1, 1}, true},
		{"midnight wrap above", 1, []int{23, 23}, true},
		{"wrap just outside", 20, []int{1, 1}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fs := newFakeStore()
			if len(tc.history) > 0 {
				fs.readHistory["u1"] = readAt(tc.history...)
			}
			now := time.Date(2026, 3, 10, tc.nowHour, 30, 0, 0, time.UTC)
			o := newTestOptimizer(fs, now)

			if got := o.IsGoodTimeNow(context.Background(), "u1"); got != tc.want {
				t.Fatalf("at %02d:30 with history %v: got %v, want %v",
					tc.nowHour, tc.history, got, tc.want)
			}
		})
	}
}

func TestNextOptimalTime(t *testing.T) {
	fs := newFakeStore()
	now := time.Date(2026, 3, 10, 13, 15, 0, 0, time.UTC)
	o := newTestOptimizer(fs, now)

	// Defaults are [9 12 18 20]; 18 is the first after 13.
	next := o.NextOptimalTime(context.Background(), "u1")
	want := time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected %v, got %v", want, next)
	}
}

func TestNextOptimalTimeRollsToTomorrow(t *testing.T) {
	fs := newFakeStore()
	now := time.Date(2026, 3, 10, 21, 0, 0, 0, time.UTC)
	o := newTestOptimizer(fs, now)

	// Past every default hour: roll to 9:00 tomorrow.
	next := o.NextOptimalTime(context.Background(), "u1")
	want := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected %v, got %v", want, next)
	}
}

func TestPatternCached(t *testing.T) {
	fs := newFakeStore()
	fs.readHistory["u1"] = readAt(10, 10, 10)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	o := newTestOptimizer(fs, now)

	first := o.OptimalHours(context.Background(), "u1")

	// History changes, but the cached pattern keeps serving until the
	// TTL expires.
	fs.mu.Lock()
	fs.readHistory["u1"] = readAt(5, 5, 5)
	fs.mu.Unlock()

	second := o.OptimalHours(context.Background(), "u1")
	if first[0] != second[0] {
		t.Fatalf("expected cached pattern, got %v then %v", first, second)
	}
}
