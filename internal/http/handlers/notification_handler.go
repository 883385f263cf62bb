// Notification HTTP handlers.
//
// This file exposes the two notification surfaces:
//   - GET /notifications?user_id=&limit=      (polling fallback)
//   - GET /notifications/stream?user_id=      (SSE push)
//
// The stream registers an in-process listener with the dispatcher for the
// lifetime of the connection. Delivery is at-most-once: when the client
// cannot keep up, the oldest buffered notifications are dropped and the
// running drop count is surfaced on every payload.
package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-feed-backend/internal/domain"
	"github.com/tbourn/go-feed-backend/internal/services"
	"github.com/tbourn/go-feed-backend/internal/utils"
)

// heartbeatInterval paces SSE keepalive comments so idle connections survive
// proxies with read timeouts.
const heartbeatInterval = 25 * time.Second

// NotificationPayload is the JSON body of one SSE notification event.
type NotificationPayload struct {
	EventID     string          `json:"event_id"`
	ActorID     string          `json:"actor_id"`
	ActorName   string          `json:"actor_name"`
	Verb        domain.Verb     `json:"verb"`
	ObjectType  string          `json:"object_type"`
	ObjectID    string          `json:"object_id"`
	ObjectTitle string          `json:"object_title,omitempty"`
	Metadata    domain.Metadata `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	NotifiedAt  time.Time       `json:"notified_at"`
	// Dropped is the cumulative number of notifications this connection
	// has lost to backpressure.
	Dropped int64 `json:"dropped"`
}

// GetNotifications serves the polling fallback: the user's newest feed items
// plus the number of rows that arrived since their previous poll.
func (h *Handlers) GetNotifications(c *gin.Context) {
	ctx := c.Request.Context()

	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "user_id is required")
		return
	}
	limit := utils.AtoiDefault(c.Query("limit"), services.DefaultPageSize)

	page, err := h.notifySvc.Recent(ctx, userID, limit)
	if err != nil {
		if errors.Is(err, services.ErrMissingUser) {
			fail(c, http.StatusBadRequest, ErrCodeValidation, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeFeedFailed, "could not read notifications")
		return
	}

	ok(c, http.StatusOK, page)
}

// StreamNotifications holds an SSE connection open and pushes live
// notifications for user_id until the client disconnects. Each payload is
// emitted as an SSE "notification" event; keepalive "ping" events are sent
// while the stream is idle.
func (h *Handlers) StreamNotifications(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "user_id is required")
		return
	}

	l := h.dispatcher.Subscribe(userID)
	defer l.Close()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	// Disable proxy buffering so events flush immediately.
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	c.Stream(func(_ io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case n, okCh := <-l.Events():
			if !okCh {
				return false
			}
			c.SSEvent("notification", NotificationPayload{
				EventID:     n.Event.ID,
				ActorID:     n.Event.ActorID,
				ActorName:   n.Event.ActorName,
				Verb:        n.Event.Verb,
				ObjectType:  n.Event.ObjectType,
				ObjectID:    n.Event.ObjectID,
				ObjectTitle: n.Event.ObjectTitle,
				Metadata:    n.Event.Metadata,
				CreatedAt:   n.Event.CreatedAt,
				NotifiedAt:  n.NotifiedAt,
				Dropped:     l.Dropped(),
			})
			return true
		case <-heartbeat.C:
			c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
			return true
		}
	})
}
