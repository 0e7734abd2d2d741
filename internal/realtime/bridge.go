// Package realtime forwards notification and activity events to the
// real-time sync backend the mobile client subscribes to. The bridge is an
// HTTP JSON producer only; fan-out to connected clients is the backend's
// job. Nil-safe: an unconfigured bridge drops events silently.
package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pulseapp/engage/internal/engine"
)

const requestTimeout = 10 * time.Second

// Bridge implements engine.RealtimeSender against an HTTP backend.
type Bridge struct {
	baseURL   string
	authToken string
	client    *http.Client
	logger    *slog.Logger
}

// New creates a bridge. Returns nil when baseURL is empty: real-time
// forwarding disabled.
func New(baseURL, authToken string, logger *slog.Logger) *Bridge {
	if baseURL == "" {
		return nil
	}
	return &Bridge{
		baseURL:   baseURL,
		authToken: authToken,
		client:    &http.Client{Timeout: requestTimeout},
		logger:    logger,
	}
}

// SendNotification mirrors a persisted notification to the sync backend.
func (b *Bridge) SendNotification(ctx context.Context, ev engine.NotificationEvent) error {
	if b == nil {
		return nil
	}
	return b.post(ctx, "/events/notifications", ev)
}

// SendActivity publishes a friend-activity feed entry.
func (b *Bridge) SendActivity(ctx context.Context, ev engine.ActivityEvent) error {
	if b == nil {
		return nil
	}
	return b.post(ctx, "/events/activity", ev)
}

func (b *Bridge) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+b.authToken)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("post %s: status %d", path, resp.StatusCode)
	}
	return nil
}
