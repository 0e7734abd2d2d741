package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pulseapp/engage/internal/store"
)

const previewMaxLen = 80

// Triggers is the surface the rest of the app calls when something happens.
// Each method resolves the actors involved, builds the notification, and
// hands it to the dispatcher; none of them return delivery errors because
// notification delivery is best-effort relative to the primary action.
type Triggers struct {
	store      store.Store
	dispatcher *Dispatcher
	streaks    *StreakTracker
	logger     *slog.Logger
	now        func() time.Time
}

// NewTriggers creates the trigger surface.
func NewTriggers(s store.Store, d *Dispatcher, streaks *StreakTracker, logger *slog.Logger) *Triggers {
	return &Triggers{
		store:      s,
		dispatcher: d,
		streaks:    streaks,
		logger:     logger,
		now:        time.Now,
	}
}

// PostLiked notifies a post's owner that someone liked it and publishes a
// like event to the friend-activity feed.
func (t *Triggers) PostLiked(ctx context.Context, postID, likerID string) {
	owner, liker, isFriend := t.resolveInteraction(ctx, postID, likerID)
	if owner == "" || liker == nil {
		return
	}

	t.dispatcher.Notify(ctx, NotifyRequest{
		UserID:  owner,
		Type:    TypePostLike,
		Title:   "New like",
		Message: fmt.Sprintf("%s liked your post", displayName(liker)),
		Data: map[string]string{
			"senderId":   likerID,
			"senderName": liker.Username,
			"postId":     postID,
		},
		Context: ClassifyContext{SenderIsFriend: isFriend},
	})

	t.dispatcher.PublishActivity(ctx, ActivityEvent{
		ActorID:      likerID,
		ActorName:    liker.Username,
		ActivityType: "like",
		TargetID:     postID,
		TargetType:   "post",
	})
}

// PostCommented notifies a post's owner about a new comment, carrying a
// short preview of the comment text.
func (t *Triggers) PostCommented(ctx context.Context, postID, commenterID, text string) {
	owner, commenter, isFriend := t.resolveInteraction(ctx, postID, commenterID)
	if owner == "" || commenter == nil {
		return
	}

	preview := truncate(text, previewMaxLen)
	t.dispatcher.Notify(ctx, NotifyRequest{
		UserID:  owner,
		Type:    TypePostComment,
		Title:   "New comment",
		Message: fmt.Sprintf("%s commented: %s", displayName(commenter), preview),
		Data: map[string]string{
			"senderId":   commenterID,
			"senderName": commenter.Username,
			"postId":     postID,
		},
		Context: ClassifyContext{SenderIsFriend: isFriend},
	})

	t.dispatcher.PublishActivity(ctx, ActivityEvent{
		ActorID:       commenterID,
		ActorName:     commenter.Username,
		ActivityType:  "comment",
		TargetID:      postID,
		TargetType:    "post",
		TargetPreview: preview,
	})
}

// FriendRequestSent notifies the receiver of a new friend request.
func (t *Triggers) FriendRequestSent(ctx context.Context, receiverID, senderID, requestID string) {
	sender, err := t.store.FindUser(ctx, senderID)
	if err != nil || sender == nil {
		t.logger.Warn("friend request trigger: sender lookup failed",
			"sender_id", senderID, "error", err)
		return
	}

	t.dispatcher.Notify(ctx, NotifyRequest{
		UserID:  receiverID,
		Type:    TypeFriendRequest,
		Title:   "New friend request",
		Message: fmt.Sprintf("%s sent you a friend request", displayName(sender)),
		Data: map[string]string{
			"senderId":   senderID,
			"senderName": sender.Username,
			"requestId":  requestID,
		},
	})
}

// FriendRequestAccepted notifies the original sender that their request was
// accepted. The two users are friends by definition at this point.
func (t *Triggers) FriendRequestAccepted(ctx context.Context, senderID, accepterID string) {
	accepter, err := t.store.FindUser(ctx, accepterID)
	if err != nil || accepter == nil {
		t.logger.Warn("friend accepted trigger: accepter lookup failed",
			"accepter_id", accepterID, "error", err)
		return
	}

	t.dispatcher.Notify(ctx, NotifyRequest{
		UserID:  senderID,
		Type:    TypeFriendAccepted,
		Title:   "Friend request accepted",
		Message: fmt.Sprintf("%s accepted your friend request", displayName(accepter)),
		Data: map[string]string{
			"senderId":   accepterID,
			"senderName": accepter.Username,
		},
		Context: ClassifyContext{SenderIsFriend: true},
	})
}

// RecordPost updates the author's posting streak and activity timestamp,
// and publishes a post event to the friend-activity feed.
func (t *Triggers) RecordPost(ctx context.Context, userID string) (PostResult, error) {
	result, err := t.streaks.RecordPost(ctx, userID)
	if err != nil {
		return PostResult{}, err
	}

	if err := t.store.UpdateLastActive(ctx, userID, t.now()); err != nil {
		t.logger.Warn("record post: update last active failed", "user_id", userID, "error", err)
	}

	if user, err := t.store.FindUser(ctx, userID); err == nil && user != nil {
		t.dispatcher.PublishActivity(ctx, ActivityEvent{
			ActorID:      userID,
			ActorName:    user.Username,
			ActivityType: "post",
			TargetID:     userID,
			TargetType:   "user",
		})
	}
	return result, nil
}

// UpdateActivity records that the user was just active, feeding the
// re-engagement inactivity clock.
func (t *Triggers) UpdateActivity(ctx context.Context, userID string) error {
	if err := t.store.UpdateLastActive(ctx, userID, t.now()); err != nil {
		return fmt.Errorf("update activity: %w", err)
	}
	return nil
}

// resolveInteraction looks up a post's owner and the interacting user, and
// whether they are friends. Returns zero values when either is missing.
func (t *Triggers) resolveInteraction(ctx context.Context, postID, actorID string) (owner string, actor *store.User, isFriend bool) {
	owner, err := t.store.PostOwner(ctx, postID)
	if err != nil || owner == "" {
		t.logger.Warn("interaction trigger: post lookup failed", "post_id", postID, "error", err)
		return "", nil, false
	}

	actor, err = t.store.FindUser(ctx, actorID)
	if err != nil || actor == nil {
		t.logger.Warn("interaction trigger: actor lookup failed", "actor_id", actorID, "error", err)
		return "", nil, false
	}

	isFriend, err = t.store.AreFriends(ctx, owner, actorID)
	if err != nil {
		// Friendship only widens push eligibility; treat a failed lookup
		// as non-friend and continue.
		t.logger.Warn("interaction trigger: friendship lookup failed",
			"owner", owner, "actor", actorID, "error", err)
		isFriend = false
	}
	return owner, actor, isFriend
}

func displayName(u *store.User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
