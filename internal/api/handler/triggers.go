package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pulseapp/engage/internal/api/respond"
)

// --------------------------------------------------------------------------
// Trigger endpoints
//
// All trigger endpoints ack with 202: the engine decides asynchronously
// whether anything actually reaches the user.
// --------------------------------------------------------------------------

type postLikedRequest struct {
	PostID  string `json:"post_id"`
	LikerID string `json:"liker_id"`
}

// PostLiked handles POST /api/v1/notify/post-liked.
func (h *Handler) PostLiked(w http.ResponseWriter, r *http.Request) {
	var req postLikedRequest
	if !decode(w, r, &req) {
		return
	}
	if req.PostID == "" || req.LikerID == "" {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_REQUEST", "post_id and liker_id are required")
		return
	}

	h.triggers.PostLiked(r.Context(), req.PostID, req.LikerID)
	accepted(w)
}

type postCommentedRequest struct {
	PostID      string `json:"post_id"`
	CommenterID string `json:"commenter_id"`
	Text        string `json:"text"`
}

// PostCommented handles POST /api/v1/notify/post-commented.
func (h *Handler) PostCommented(w http.ResponseWriter, r *http.Request) {
	var req postCommentedRequest
	if !decode(w, r, &req) {
		return
	}
	if req.PostID == "" || req.CommenterID == "" {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_REQUEST", "post_id and commenter_id are required")
		return
	}

	h.triggers.PostCommented(r.Context(), req.PostID, req.CommenterID, req.Text)
	accepted(w)
}

type friendRequestRequest struct {
	ReceiverID string `json:"receiver_id"`
	SenderID   string `json:"sender_id"`
	RequestID  string `json:"request_id"`
}

// FriendRequestSent handles POST /api/v1/notify/friend-request.
func (h *Handler) FriendRequestSent(w http.ResponseWriter, r *http.Request) {
	var req friendRequestRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ReceiverID == "" || req.SenderID == "" {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_REQUEST", "receiver_id and sender_id are required")
		return
	}

	h.triggers.FriendRequestSent(r.Context(), req.ReceiverID, req.SenderID, req.RequestID)
	accepted(w)
}

type friendAcceptedRequest struct {
	SenderID   string `json:"sender_id"`
	AccepterID string `json:"accepter_id"`
}

// FriendRequestAccepted handles POST /api/v1/notify/friend-accepted.
func (h *Handler) FriendRequestAccepted(w http.ResponseWriter, r *http.Request) {
	var req friendAcceptedRequest
	if !decode(w, r, &req) {
		return
	}
	if req.SenderID == "" || req.AccepterID == "" {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_REQUEST", "sender_id and accepter_id are required")
		return
	}

	h.triggers.FriendRequestAccepted(r.Context(), req.SenderID, req.AccepterID)
	accepted(w)
}

// RecordPost handles POST /api/v1/streaks/{userID}/post.
func (h *Handler) RecordPost(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	result, err := h.triggers.RecordPost(r.Context(), userID)
	if err != nil {
		respond.WriteErrorDetail(w, http.StatusNotFound, "USER_NOT_FOUND", "could not record post", err.Error())
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"new_streak":        result.NewStreak,
		"milestone_reached": result.MilestoneReached,
	})
}

// StreakStatus handles GET /api/v1/streaks/{userID}.
func (h *Handler) StreakStatus(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	status, err := h.streaks.Status(r.Context(), userID)
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "INTERNAL", "streak lookup failed")
		return
	}
	if status == nil {
		respond.WriteError(w, http.StatusNotFound, "USER_NOT_FOUND", "unknown user")
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"current_streak": status.CurrentStreak,
		"longest_streak": status.LongestStreak,
		"last_post_date": status.LastPostDate,
	})
}

// UpdateActivity handles POST /api/v1/activity/{userID}.
func (h *Handler) UpdateActivity(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	if err := h.triggers.UpdateActivity(r.Context(), userID); err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "INTERNAL", "activity update failed")
		return
	}
	accepted(w)
}

type deviceRequest struct {
	UserID   string `json:"user_id"`
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

// RegisterDevice handles POST /api/v1/devices.
func (h *Handler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if !decode(w, r, &req) {
		return
	}
	if req.UserID == "" || req.Token == "" {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_REQUEST", "user_id and token are required")
		return
	}
	if req.Platform != "ios" && req.Platform != "android" {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_REQUEST", "platform must be ios or android")
		return
	}

	if err := h.store.UpsertDeviceToken(r.Context(), req.UserID, req.Token, req.Platform); err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "INTERNAL", "device registration failed")
		return
	}
	accepted(w)
}

// RunScans handles POST /api/v1/scans/run: runs every periodic scan once.
func (h *Handler) RunScans(w http.ResponseWriter, r *http.Request) {
	res := h.scans.RunAll(r.Context())
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"streaks": map[string]int{
			"processed": res.Streaks.Processed,
			"sent":      res.Streaks.Sent,
		},
		"reengagement": map[string]int{
			"processed": res.Reengagement.Processed,
			"sent":      res.Reengagement.Sent,
		},
		"limiter_swept":  res.LimiterSwept,
		"tokens_deleted": res.TokensDeleted,
	})
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_JSON", "request body is not valid JSON")
		return false
	}
	return true
}

func accepted(w http.ResponseWriter) {
	respond.WriteJSONObject(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
