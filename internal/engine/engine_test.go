package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/pulseapp/engage/internal/cache"
	"github.com/pulseapp/engage/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeStore is an in-memory store.Store for engine tests.
type fakeStore struct {
	mu sync.Mutex

	users        map[string]*store.User
	created      []store.Notification
	unread       map[string]int
	readHistory  map[string][]store.Notification
	tokens       map[string][]store.DeviceToken
	deactivated  []string
	friends      map[string]bool // "a|b" both orders
	postOwners   map[string]string
	friendPosts  map[string]int
	recentFriend map[string]*store.Friend
	atRisk       []store.User
	inactive     []store.User
	lastActive   map[string]time.Time

	failCreate        bool
	failReengageStamp bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:        make(map[string]*store.User),
		unread:       make(map[string]int),
		readHistory:  make(map[string][]store.Notification),
		tokens:       make(map[string][]store.DeviceToken),
		friends:      make(map[string]bool),
		postOwners:   make(map[string]string),
		friendPosts:  make(map[string]int),
		recentFriend: make(map[string]*store.Friend),
		lastActive:   make(map[string]time.Time),
	}
}

func (f *fakeStore) addUser(u store.User) *store.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := u
	f.users[u.ID] = &cp
	return &cp
}

func (f *fakeStore) befriend(a, b string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.friends[a+"|"+b] = true
	f.friends[b+"|"+a] = true
}

func (f *fakeStore) createdNotifications() []store.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Notification, len(f.created))
	copy(out, f.created)
	return out
}

func (f *fakeStore) FindUser(_ context.Context, id string) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (f *fakeStore) UpdateLastActive(_ context.Context, userID string, ts time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastActive[userID] = ts
	if u, ok := f.users[userID]; ok {
		u.LastActiveAt = ts
	}
	return nil
}

func (f *fakeStore) UpdateReengagementSentAt(_ context.Context, userID string, ts time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReengageStamp {
		return fmt.Errorf("store down")
	}
	if u, ok := f.users[userID]; ok {
		cp := ts
		u.ReengagementSentAt = &cp
	}
	return nil
}

func (f *fakeStore) UpdateStreakFields(_ context.Context, userID string, current, longest int, lastPost time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return fmt.Errorf("unknown user %s", userID)
	}
	u.CurrentStreak = current
	u.LongestStreak = longest
	cp := lastPost
	u.LastPostDate = &cp
	return nil
}

func (f *fakeStore) CreateNotification(_ context.Context, n *store.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate {
		return fmt.Errorf("store down")
	}
	n.ID = int64(len(f.created) + 1)
	n.CreatedAt = time.Now()
	f.created = append(f.created, *n)
	return nil
}

func (f *fakeStore) CountUnreadNotifications(_ context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unread[userID], nil
}

func (f *fakeStore) ReadNotificationsSince(_ context.Context, userID string, _ time.Time, limit int) ([]store.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	history := f.readHistory[userID]
	if len(history) > limit {
		history = history[:limit]
	}
	return history, nil
}

func (f *fakeStore) ListActiveDeviceTokens(_ context.Context, userID string) ([]store.DeviceToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokens[userID], nil
}

func (f *fakeStore) UpsertDeviceToken(_ context.Context, userID, token, platform string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[userID] = append(f.tokens[userID], store.DeviceToken{
		Token: token, Platform: platform, IsActive: true, LastUsedAt: time.Now(),
	})
	return nil
}

func (f *fakeStore) MarkDeviceTokenInactive(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deactivated = append(f.deactivated, token)
	return nil
}

func (f *fakeStore) DeleteStaleDeviceTokens(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeStore) AreFriends(_ context.Context, userID, otherID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.friends[userID+"|"+otherID], nil
}

func (f *fakeStore) PostOwner(_ context.Context, postID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.postOwners[postID], nil
}

func (f *fakeStore) CountFriendPostsSince(_ context.Context, userID string, _ time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.friendPosts[userID], nil
}

func (f *fakeStore) MostRecentActiveFriend(_ context.Context, userID string) (*store.Friend, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recentFriend[userID], nil
}

func (f *fakeStore) ListStreakAtRiskUsers(_ context.Context, limit int) ([]store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	users := f.atRisk
	if len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

func (f *fakeStore) ListInactiveUsers(_ context.Context, _, _ time.Time, limit int) ([]store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	users := f.inactive
	if len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

// --------------------------------------------------------------------------
// Fake delivery channels
// --------------------------------------------------------------------------

type pushCall struct {
	Token   string
	Payload PushPayload
}

type fakePush struct {
	mu    sync.Mutex
	calls []pushCall
	err   error
}

func (p *fakePush) Send(_ context.Context, token string, payload PushPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.calls = append(p.calls, pushCall{token, payload})
	return nil
}

func (p *fakePush) sent() []pushCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]pushCall, len(p.calls))
	copy(out, p.calls)
	return out
}

type fakeRealtime struct {
	mu            sync.Mutex
	notifications []NotificationEvent
	activities    []ActivityEvent
}

func (r *fakeRealtime) SendNotification(_ context.Context, ev NotificationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, ev)
	return nil
}

func (r *fakeRealtime) SendActivity(_ context.Context, ev ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activities = append(r.activities, ev)
	return nil
}

// --------------------------------------------------------------------------
// Wiring helpers
// --------------------------------------------------------------------------

// newTestDispatcher wires a dispatcher with fakes and a fixed clock set to
// noon UTC, which is inside the default optimal hours.
func newTestDispatcher(fs *fakeStore, p PushSender, rt RealtimeSender) *Dispatcher {
	noon := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter()
	limiter.now = func() time.Time { return noon }

	patterns := cache.New[ActivityPattern](PatternTTL, 0)
	optimizer := NewOptimizer(fs, patterns, discardLogger())
	optimizer.now = func() time.Time { return noon }

	d := NewDispatcher(fs, limiter, optimizer, p, rt, discardLogger())
	d.now = func() time.Time { return noon }
	return d
}
