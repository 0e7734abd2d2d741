// Package push delivers notifications to devices via Firebase Cloud
// Messaging. Nil-safe: when no credentials are configured, New returns nil
// and every send is a silent no-op.
package push

import (
	"context"
	"fmt"
	"log/slog"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/pulseapp/engage/internal/engine"
)

// Sender implements engine.PushSender on an FCM messaging client.
type Sender struct {
	client *messaging.Client
	logger *slog.Logger
}

// New creates an FCM sender from a service account credentials file.
// Returns (nil, nil) when credentialsFile is empty: push disabled.
func New(ctx context.Context, credentialsFile string, logger *slog.Logger) (*Sender, error) {
	if credentialsFile == "" {
		return nil, nil
	}

	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("init messaging client: %w", err)
	}

	return &Sender{client: client, logger: logger}, nil
}

// Send delivers one payload to one device token. Returns
// engine.ErrTokenUnregistered when FCM reports the token gone so the caller
// can deactivate it.
func (s *Sender) Send(ctx context.Context, token string, p engine.PushPayload) error {
	if s == nil {
		return nil
	}

	aps := &messaging.Aps{
		Alert: &messaging.ApsAlert{
			Title: p.Title,
			Body:  p.Body,
		},
		Category: string(p.Category),
		ThreadID: p.ThreadID,
		Sound:    "default",
	}
	if p.Badge != nil {
		aps.Badge = p.Badge
	}

	msg := &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: p.Title,
			Body:  p.Body,
		},
		Data: p.Data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ChannelID: channelID(p.Category),
				Tag:       p.ThreadID,
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{Aps: aps},
		},
	}

	if _, err := s.client.Send(ctx, msg); err != nil {
		if messaging.IsUnregistered(err) {
			return engine.ErrTokenUnregistered
		}
		return fmt.Errorf("fcm send: %w", err)
	}
	return nil
}

// channelID maps a category to the Android notification channel the mobile
// client registers.
func channelID(c engine.Category) string {
	switch c {
	case engine.CategoryFriendRequest:
		return "friends"
	case engine.CategoryPostInteraction:
		return "interactions"
	case engine.CategoryMessage:
		return "messages"
	default:
		return "general"
	}
}
