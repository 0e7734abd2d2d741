package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pulseapp/engage/internal/store"
)

// --------------------------------------------------------------------------
// Dispatcher
// --------------------------------------------------------------------------

// NotifyRequest describes one notification to orchestrate.
type NotifyRequest struct {
	UserID  string
	Type    NotificationType
	Title   string
	Message string
	Data    map[string]string

	// Relationship context for classification. UserHasHighEngagement is
	// filled in from the resolved user; callers set the sender flags.
	Context ClassifyContext
}

// Dispatcher receives trigger calls, consults the classifier, rate limiter,
// and timing optimizer, persists the notification, and forwards it to the
// delivery channels without blocking the caller.
//
// Every step after the self-notify guard is best-effort relative to the
// triggering business action: store and channel failures are logged, never
// propagated.
type Dispatcher struct {
	store     store.Store
	limiter   *RateLimiter
	optimizer *Optimizer
	push      PushSender
	realtime  RealtimeSender
	logger    *slog.Logger
	now       func() time.Time

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher. push and realtime may be nil when the
// corresponding channel is not configured; an unconfigured channel is a
// permanent no-op, not an error.
func NewDispatcher(s store.Store, limiter *RateLimiter, optimizer *Optimizer,
	push PushSender, realtime RealtimeSender, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:     s,
		limiter:   limiter,
		optimizer: optimizer,
		push:      push,
		realtime:  realtime,
		logger:    logger,
		now:       time.Now,
	}
}

// Notify orchestrates one notification end to end. It never returns an
// error: the caller's primary action (liking, commenting, ...) must not
// fail because a notification could not be created or delivered.
func (d *Dispatcher) Notify(ctx context.Context, req NotifyRequest) {
	// Never notify users about their own actions.
	if sender, ok := req.Data["senderId"]; ok && sender == req.UserID {
		return
	}

	user, err := d.store.FindUser(ctx, req.UserID)
	if err != nil {
		d.logger.Error("notify: user lookup failed", "user_id", req.UserID, "error", err)
		return
	}
	if user == nil {
		d.logger.Warn("notify: user not found, skipping", "user_id", req.UserID)
		return
	}

	req.Context.UserHasHighEngagement = user.HighEngagement
	cls := Classify(req.Type, req.Context)

	// The daily ceiling gates persistence of non-critical notifications.
	// High priority always lands in the inbox.
	if cls.Priority != PriorityHigh && !d.limiter.CanSendNotification(req.UserID) {
		d.logger.Debug("notify: daily rate limit reached, suppressing",
			"user_id", req.UserID, "type", req.Type)
		return
	}

	n := &store.Notification{
		UserID:  req.UserID,
		Type:    string(req.Type),
		Title:   req.Title,
		Message: req.Message,
		Data:    req.Data,
	}
	if err := d.store.CreateNotification(ctx, n); err != nil {
		// Forwarding still proceeds: real-time delivery is independent of
		// inbox persistence.
		d.logger.Error("notify: create notification failed",
			"user_id", req.UserID, "type", req.Type, "error", err)
	} else {
		d.limiter.RecordSent(req.UserID)
	}

	// Fire-and-forget forwarding. The detached context outlives the
	// trigger request; Wait drains in-flight deliveries on shutdown.
	fwdCtx := context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.forwardRealtime(fwdCtx, req)
	}()

	if d.shouldPush(ctx, req, cls) {
		d.limiter.RecordPushSent(req.UserID)
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.forwardPush(fwdCtx, req)
		}()
	}
}

// Wait blocks until all in-flight channel deliveries finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// shouldPush applies the push gates: classification, the hourly push
// ceiling, and, for anything below high priority that is not
// time-critical, the timing optimizer.
func (d *Dispatcher) shouldPush(ctx context.Context, req NotifyRequest, cls Classification) bool {
	if d.push == nil || !cls.ShouldSendPush {
		return false
	}
	if !d.limiter.CanSendPush(req.UserID) {
		d.logger.Debug("notify: hourly push limit reached, skipping push",
			"user_id", req.UserID, "type", req.Type)
		return false
	}
	if cls.Priority == PriorityHigh || cls.TimeCritical {
		return true
	}
	if !d.optimizer.IsGoodTimeNow(ctx, req.UserID) {
		d.logger.Debug("notify: outside optimal hours, skipping push",
			"user_id", req.UserID, "type", req.Type,
			"next_optimal", d.optimizer.NextOptimalTime(ctx, req.UserID))
		return false
	}
	return true
}

// forwardRealtime mirrors the notification to the real-time sync backend.
func (d *Dispatcher) forwardRealtime(ctx context.Context, req NotifyRequest) {
	if d.realtime == nil {
		return
	}
	ev := NotificationEvent{
		RecipientID: req.UserID,
		SenderID:    req.Data["senderId"],
		SenderName:  req.Data["senderName"],
		Type:        req.Type,
		Title:       req.Title,
		Message:     req.Message,
		Metadata:    req.Data,
	}
	if err := d.realtime.SendNotification(ctx, ev); err != nil {
		d.logger.Warn("realtime forward failed",
			"user_id", req.UserID, "type", req.Type, "error", err)
	}
}

// PublishActivity forwards a friend-activity feed event, fire-and-forget.
func (d *Dispatcher) PublishActivity(ctx context.Context, ev ActivityEvent) {
	if d.realtime == nil {
		return
	}
	ev.ExpiresAt = d.now().Add(ActivityTTL)

	fwdCtx := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.realtime.SendActivity(fwdCtx, ev); err != nil {
			d.logger.Warn("activity forward failed",
				"actor_id", ev.ActorID, "type", ev.ActivityType, "error", err)
		}
	}()
}

// forwardPush delivers the notification to each of the user's active
// devices. Unregistered tokens are deactivated so they are not retried.
func (d *Dispatcher) forwardPush(ctx context.Context, req NotifyRequest) {
	tokens, err := d.store.ListActiveDeviceTokens(ctx, req.UserID)
	if err != nil {
		d.logger.Warn("push: token lookup failed", "user_id", req.UserID, "error", err)
		return
	}
	if len(tokens) == 0 {
		return
	}

	payload := PushPayload{
		Title:    req.Title,
		Body:     req.Message,
		Category: CategoryFor(req.Type),
		Data:     req.Data,
	}
	if unread, err := d.store.CountUnreadNotifications(ctx, req.UserID); err == nil {
		payload.Badge = &unread
	}
	if postID, ok := req.Data["postId"]; ok {
		payload.ThreadID = "post-" + postID
	}

	sent := 0
	for _, t := range tokens {
		err := d.push.Send(ctx, t.Token, payload)
		switch {
		case errors.Is(err, ErrTokenUnregistered):
			if derr := d.store.MarkDeviceTokenInactive(ctx, t.Token); derr != nil {
				d.logger.Warn("push: token deactivation failed", "error", derr)
			}
		case err != nil:
			d.logger.Warn("push: send failed",
				"user_id", req.UserID, "platform", t.Platform, "error", err)
		default:
			sent++
		}
	}
	if sent > 0 {
		d.logger.Debug("push delivered", "user_id", req.UserID, "devices", sent)
	}
}
