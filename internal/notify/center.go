// Package notify implements the per-account notification inbox and the
// WebSocket hub that pushes new notifications to connected dashboards.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/specter/community-engine/internal/metrics"
	"github.com/specter/community-engine/internal/model"
	"github.com/specter/community-engine/internal/store"
)

const defaultListLimit = 50

// Center is the append-only notification inbox. Engines append as a side
// effect of XP awards, trade closes, and votes; accounts read and mark read.
type Center struct {
	store store.Store
	hub   *Hub // optional, nil disables real-time push
}

// NewCenter creates a notification center. Pass nil for hub if WebSocket
// push is not needed.
func NewCenter(st store.Store, hub *Hub) *Center {
	return &Center{store: st, hub: hub}
}

// Append inserts a notification for the account and pushes it to connected
// clients. Always succeeds given valid inputs and a healthy store.
func (c *Center) Append(ctx context.Context, accountID, typ, title, message string) (*model.Notification, error) {
	return c.AppendTx(ctx, c.store, accountID, typ, title, message)
}

// AppendTx is Append against an explicit store, so callers running inside a
// transaction keep the insert atomic with their primary mutation.
func (c *Center) AppendTx(ctx context.Context, st store.Store, accountID, typ, title, message string) (*model.Notification, error) {
	n := &model.Notification{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Type:      typ,
		Title:     title,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
	if err := st.InsertNotification(ctx, n); err != nil {
		return nil, err
	}

	metrics.NotificationsTotal.WithLabelValues(typ).Inc()

	if c.hub != nil {
		c.hub.Broadcast(Message{
			Type:      n.Type,
			AccountID: n.AccountID,
			Title:     n.Title,
			Message:   n.Message,
		})
	}
	return n, nil
}

// ListFor returns the account's notifications, most recent first.
func (c *Center) ListFor(ctx context.Context, accountID string, limit int) ([]model.Notification, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return c.store.ListNotifications(ctx, accountID, limit)
}

// UnreadCount returns how many notifications the account has not read.
func (c *Center) UnreadCount(ctx context.Context, accountID string) (int, error) {
	return c.store.UnreadNotificationCount(ctx, accountID)
}

// MarkRead flips the read flag. Returns false when the notification does
// not exist or belongs to another account; that is a benign no-op for the
// caller, not an error.
func (c *Center) MarkRead(ctx context.Context, id, accountID string) (bool, error) {
	return c.store.MarkNotificationRead(ctx, id, accountID)
}

// --- HTTP Handlers ---

// HandleList handles GET /api/v1/accounts/{accountID}/notifications?limit=N
func (c *Center) HandleList(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	notifications, err := c.ListFor(r.Context(), accountID, limit)
	if err != nil {
		writeError(w, "failed to list notifications", http.StatusInternalServerError)
		return
	}
	if notifications == nil {
		notifications = []model.Notification{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(notifications)
}

// HandleUnreadCount handles GET /api/v1/accounts/{accountID}/notifications/unread
func (c *Center) HandleUnreadCount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	count, err := c.UnreadCount(r.Context(), accountID)
	if err != nil {
		writeError(w, "failed to count notifications", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"unread": count})
}

// markReadRequest is the JSON body for POST /notifications/{id}/read.
type markReadRequest struct {
	AccountID string `json:"account_id"`
}

// HandleMarkRead handles POST /api/v1/notifications/{notificationID}/read
func (c *Center) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	notificationID := chi.URLParam(r, "notificationID")

	var req markReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AccountID == "" {
		writeError(w, "account_id is required", http.StatusBadRequest)
		return
	}

	ok, err := c.MarkRead(r.Context(), notificationID, req.AccountID)
	if err != nil {
		writeError(w, "failed to mark notification read", http.StatusInternalServerError)
		return
	}

	slog.Info("notification read", "id", notificationID, "account", req.AccountID, "matched", ok)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"marked": ok})
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
