package engine

import (
	"context"
	"testing"
	"time"

	"github.com/pulseapp/engage/internal/store"
)

func (r *fakeRealtime) events() []NotificationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]NotificationEvent, len(r.notifications))
	copy(out, r.notifications)
	return out
}

func (r *fakeRealtime) activityEvents() []ActivityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ActivityEvent, len(r.activities))
	copy(out, r.activities)
	return out
}

func TestNotifySelfActionIsDiscarded(t *testing.T) {
	fs := newFakeStore()
	fs.addUser(userWithToken(fs, "u1"))
	push := &fakePush{}
	rt := &fakeRealtime{}
	d := newTestDispatcher(fs, push, rt)

	d.Notify(context.Background(), NotifyRequest{
		UserID:  "u1",
		Type:    TypePostLike,
		Title:   "New like",
		Message: "u1 liked your post",
		Data:    map[string]string{"senderId": "u1"},
	})
	d.Wait()

	if got := len(fs.createdNotifications()); got != 0 {
		t.Fatalf("expected no persisted notifications, got %d", got)
	}
	if got := len(rt.events()); got != 0 {
		t.Fatalf("expected no realtime events, got %d", got)
	}
	if got := len(push.sent()); got != 0 {
		t.Fatalf("expected no pushes, got %d", got)
	}
}

func TestNotifyUnknownUserIsNoOp(t *testing.T) {
	fs := newFakeStore()
	rt := &fakeRealtime{}
	d := newTestDispatcher(fs, nil, rt)

	d.Notify(context.Background(), NotifyRequest{
		UserID: "ghost",
		Type:   TypeFriendRequest,
		Title:  "New friend request",
	})
	d.Wait()

	if got := len(fs.createdNotifications()); got != 0 {
		t.Fatalf("expected no notifications, got %d", got)
	}
	if got := len(rt.events()); got != 0 {
		t.Fatalf("expected no realtime events, got %d", got)
	}
}

func TestNotifyPersistsAndForwards(t *testing.T) {
	fs := newFakeStore()
	fs.addUser(userWithToken(fs, "u1"))
	fs.unread["u1"] = 2
	push := &fakePush{}
	rt := &fakeRealtime{}
	d := newTestDispatcher(fs, push, rt)

	d.Notify(context.Background(), NotifyRequest{
		UserID:  "u1",
		Type:    TypeFriendRequest,
		Title:   "New friend request",
		Message: "alex wants to be your friend",
		Data:    map[string]string{"senderId": "u2", "senderName": "alex"},
	})
	d.Wait()

	notifications := fs.createdNotifications()
	if len(notifications) != 1 {
		t.Fatalf("expected one persisted notification, got %d", len(notifications))
	}

	events := rt.events()
	if len(events) != 1 {
		t.Fatalf("expected one realtime event, got %d", len(events))
	}
	if events[0].RecipientID != "u1" || events[0].SenderName != "alex" {
		t.Fatalf("unexpected realtime event %+v", events[0])
	}

	pushes := push.sent()
	if len(pushes) != 1 {
		t.Fatalf("expected one push, got %d", len(pushes))
	}
	p := pushes[0].Payload
	if p.Category != CategoryFriendRequest {
		t.Fatalf("unexpected category %s", p.Category)
	}
	if p.Badge == nil || *p.Badge != 2 {
		t.Fatalf("expected badge 2, got %v", p.Badge)
	}
	if p.ThreadID != "" {
		t.Fatalf("expected no thread id, got %q", p.ThreadID)
	}
}

func TestNotifyDailyCeilingSuppressesNonCritical(t *testing.T) {
	fs := newFakeStore()
	fs.addUser(userWithToken(fs, "u1"))
	fs.befriend("u1", "u2")
	d := newTestDispatcher(fs, nil, nil)

	for i := 0; i < dailyNotificationLimit; i++ {
		d.limiter.RecordSent("u1")
	}

	// Medium priority is suppressed once the ceiling is hit.
	d.Notify(context.Background(), NotifyRequest{
		UserID:  "u1",
		Type:    TypePostLike,
		Title:   "New like",
		Data:    map[string]string{"senderId": "u2"},
		Context: ClassifyContext{SenderIsFriend: true},
	})
	d.Wait()
	if got := len(fs.createdNotifications()); got != 0 {
		t.Fatalf("expected suppression at the daily ceiling, got %d notifications", got)
	}

	// High priority still lands in the inbox.
	d.Notify(context.Background(), NotifyRequest{
		UserID: "u1",
		Type:   TypeFriendRequest,
		Title:  "New friend request",
		Data:   map[string]string{"senderId": "u3"},
	})
	d.Wait()
	if got := len(fs.createdNotifications()); got != 1 {
		t.Fatalf("expected the high-priority notification to persist, got %d", got)
	}
}

func TestNotifyHourlyPushCeiling(t *testing.T) {
	fs := newFakeStore()
	fs.addUser(userWithToken(fs, "u1"))
	push := &fakePush{}
	d := newTestDispatcher(fs, push, nil)

	for i := 0; i < hourlyPushLimit; i++ {
		d.limiter.RecordPushSent("u1")
	}

	d.Notify(context.Background(), NotifyRequest{
		UserID: "u1",
		Type:   TypeFriendRequest,
		Title:  "New friend request",
		Data:   map[string]string{"senderId": "u2"},
	})
	d.Wait()

	if got := len(fs.createdNotifications()); got != 1 {
		t.Fatalf("expected the notification to persist, got %d", got)
	}
	if got := len(push.sent()); got != 0 {
		t.Fatalf("expected push suppressed at the hourly ceiling, got %d", got)
	}
}

func TestNotifyTimingGate(t *testing.T) {
	fs := newFakeStore()
	fs.addUser(userWithToken(fs, "u1"))
	fs.befriend("u1", "u2")
	push := &fakePush{}
	d := newTestDispatcher(fs, push, nil)

	// 03:00 is outside the default optimal hours.
	threeAM := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return threeAM }
	d.optimizer.now = func() time.Time { return threeAM }

	// Medium priority defers to the optimizer.
	d.Notify(context.Background(), NotifyRequest{
		UserID:  "u1",
		Type:    TypePostLike,
		Title:   "New like",
		Data:    map[string]string{"senderId": "u2"},
		Context: ClassifyContext{SenderIsFriend: true},
	})
	d.Wait()
	if got := len(push.sent()); got != 0 {
		t.Fatalf("expected push deferred outside optimal hours, got %d", got)
	}
	if got := len(fs.createdNotifications()); got != 1 {
		t.Fatalf("expected the notification to persist anyway, got %d", got)
	}

	// High priority pushes regardless of the hour.
	d.Notify(context.Background(), NotifyRequest{
		UserID: "u1",
		Type:   TypeFriendRequest,
		Title:  "New friend request",
		Data:   map[string]string{"senderId": "u3"},
	})
	d.Wait()
	if got := len(push.sent()); got != 1 {
		t.Fatalf("expected high priority to bypass the timing gate, got %d pushes", got)
	}
}

func TestNotifyTimeCriticalBypassesTimingGate(t *testing.T) {
	fs := newFakeStore()
	fs.addUser(userWithToken(fs, "u1"))
	push := &fakePush{}
	d := newTestDispatcher(fs, push, nil)

	// 03:00 is outside the default optimal hours, but an at-risk
	// reminder is useless after local midnight so it must not wait.
	threeAM := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return threeAM }
	d.optimizer.now = func() time.Time { return threeAM }

	d.Notify(context.Background(), NotifyRequest{
		UserID: "u1",
		Type:   TypeStreakAtRisk,
		Title:  "Your streak is at risk!",
	})
	d.Wait()
	if got := len(push.sent()); got != 1 {
		t.Fatalf("expected at-risk reminder to push outside optimal hours, got %d", got)
	}
}

func TestNotifyStoreFailureStillForwards(t *testing.T) {
	fs := newFakeStore()
	fs.addUser(userWithToken(fs, "u1"))
	fs.failCreate = true
	rt := &fakeRealtime{}
	d := newTestDispatcher(fs, nil, rt)

	d.Notify(context.Background(), NotifyRequest{
		UserID:  "u1",
		Type:    TypeFriendRequest,
		Title:   "New friend request",
		Message: "alex wants to be your friend",
		Data:    map[string]string{"senderId": "u2"},
	})
	d.Wait()

	if got := len(fs.createdNotifications()); got != 0 {
		t.Fatalf("expected no persisted notifications, got %d", got)
	}
	if got := len(rt.events()); got != 1 {
		t.Fatalf("expected realtime forwarding despite the store failure, got %d", got)
	}
}

func TestNotifyDeactivatesUnregisteredTokens(t *testing.T) {
	fs := newFakeStore()
	fs.addUser(userWithToken(fs, "u1"))
	push := &fakePush{err: ErrTokenUnregistered}
	d := newTestDispatcher(fs, push, nil)

	d.Notify(context.Background(), NotifyRequest{
		UserID: "u1",
		Type:   TypeFriendRequest,
		Title:  "New friend request",
		Data:   map[string]string{"senderId": "u2"},
	})
	d.Wait()

	fs.mu.Lock()
	deactivated := append([]string(nil), fs.deactivated...)
	fs.mu.Unlock()
	if len(deactivated) != 1 || deactivated[0] != "tok-u1" {
		t.Fatalf("expected token tok-u1 deactivated, got %v", deactivated)
	}
}

func TestNotifyThreadIDFromPost(t *testing.T) {
	fs := newFakeStore()
	fs.addUser(userWithToken(fs, "u1"))
	push := &fakePush{}
	d := newTestDispatcher(fs, push, nil)

	d.Notify(context.Background(), NotifyRequest{
		UserID: "u1",
		Type:   TypeFriendRequest,
		Title:  "New friend request",
		Data:   map[string]string{"senderId": "u2", "postId": "42"},
	})
	d.Wait()

	pushes := push.sent()
	if len(pushes) != 1 {
		t.Fatalf("expected one push, got %d", len(pushes))
	}
	if pushes[0].Payload.ThreadID != "post-42" {
		t.Fatalf("expected thread id post-42, got %q", pushes[0].Payload.ThreadID)
	}
}

func TestPublishActivityStampsExpiry(t *testing.T) {
	fs := newFakeStore()
	rt := &fakeRealtime{}
	d := newTestDispatcher(fs, nil, rt)

	d.PublishActivity(context.Background(), ActivityEvent{
		ActorID:      "u2",
		ActorName:    "alex",
		ActivityType: "like",
		TargetID:     "42",
		TargetType:   "post",
	})
	d.Wait()

	activities := rt.activityEvents()
	if len(activities) != 1 {
		t.Fatalf("expected one activity event, got %d", len(activities))
	}
	want := d.now().Add(ActivityTTL)
	if !activities[0].ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, activities[0].ExpiresAt)
	}
}

// userWithToken registers u with one active device token "tok-<id>".
func userWithToken(fs *fakeStore, id string) store.User {
	fs.mu.Lock()
	fs.tokens[id] = []store.DeviceToken{{Token: "tok-" + id, Platform: "ios", IsActive: true}}
	fs.mu.Unlock()
	return store.User{ID: id}
}
