// Event ingestion HTTP handlers.
//
// This file exposes the single write endpoint of the API:
//   - POST /events  (submit an activity event, idempotent per key)
//
// Handlers are transport-thin: they validate input, call application
// services, and translate results into HTTP responses.
//
// Idempotency:
// Every submission must carry an Idempotency-Key header. A resubmission of a
// known key returns the originally committed event with HTTP 200 and the
// `Idempotency-Replayed: true` response header; a fresh submission returns
// HTTP 201.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-feed-backend/internal/domain"
	"github.com/tbourn/go-feed-backend/internal/http/middleware"
	"github.com/tbourn/go-feed-backend/internal/notify"
	"github.com/tbourn/go-feed-backend/internal/services"
)

//
// Service contracts (context-aware)
//

// IngestService defines the event submission operation consumed by HTTP
// handlers. Implementations must be safe for concurrent use and honor the
// provided context.
type IngestService interface {
	// Submit validates, deduplicates, commits, and publishes an event draft.
	Submit(ctx context.Context, draft services.EventDraft, key string) (*services.SubmitResult, error)
}

// FeedService defines the feed read operation.
type FeedService interface {
	// Read returns one cursor-paginated page of a user's feed.
	Read(ctx context.Context, userID, cursor string, limit int) (*services.FeedPage, error)
}

// NotificationService defines the notification polling fallback.
type NotificationService interface {
	// Recent returns the newest feed items plus an unread counter.
	Recent(ctx context.Context, userID string, limit int) (*services.NotificationPage, error)
}

// AnalyticsService defines the top-K read operation.
type AnalyticsService interface {
	// TopK returns the k most active objects in a decay window.
	TopK(ctx context.Context, window string, k int) (*services.AnalyticsResult, error)
}

// FollowService defines follow graph mutations.
type FollowService interface {
	// Follow records that userID follows actorID. Idempotent.
	Follow(ctx context.Context, userID, actorID string) error
	// Unfollow removes the edge. Idempotent.
	Unfollow(ctx context.Context, userID, actorID string) error
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints of the activity feed API. It depends on
// abstract service interfaces to keep transport concerns separate from
// business logic; the dispatcher is concrete because SSE streaming is a
// transport concern.
type Handlers struct {
	ingestSvc    IngestService
	feedSvc      FeedService
	notifySvc    NotificationService
	analyticsSvc AnalyticsService
	followSvc    FollowService
	dispatcher   *notify.Dispatcher
}

// New constructs a Handlers instance bound to the given services.
func New(ingest IngestService, feedSvc FeedService, notifySvc NotificationService, analytics AnalyticsService, follow FollowService, d *notify.Dispatcher) *Handlers {
	return &Handlers{
		ingestSvc:    ingest,
		feedSvc:      feedSvc,
		notifySvc:    notifySvc,
		analyticsSvc: analytics,
		followSvc:    follow,
		dispatcher:   d,
	}
}

//
// DTOs
//

// PostEventRequest is the JSON payload for submitting an activity event.
type PostEventRequest struct {
	// ActorID identifies who performed the action. Required.
	ActorID string `json:"actor_id" binding:"required"`
	// ActorName is the display name carried into feed payloads.
	ActorName string `json:"actor_name"`
	// Verb is the action type (like, comment, follow, purchase, share, mention).
	Verb string `json:"verb" binding:"required"`
	// ObjectType and ObjectID identify what was acted on. Required.
	ObjectType string `json:"object_type" binding:"required"`
	ObjectID   string `json:"object_id" binding:"required"`
	// ObjectTitle is the display title carried into feed payloads.
	ObjectTitle string `json:"object_title"`
	// TargetUserIDs optionally addresses the event to explicit recipients.
	TargetUserIDs []string `json:"target_user_ids"`
	// Metadata is an opaque bag passed through to readers.
	Metadata map[string]any `json:"metadata"`
}

// PostEventResponse is the JSON envelope for a submission outcome.
type PostEventResponse struct {
	EventID   string        `json:"event_id"`
	Duplicate bool          `json:"duplicate"`
	Event     *domain.Event `json:"event,omitempty"`
}

//
// Handlers
//

// PostEvent accepts an activity event, deduplicates it by Idempotency-Key,
// commits it, and hands it to the delivery channel. Fresh submissions return
// 201; replays return 200 with Idempotency-Replayed: true.
func (h *Handlers) PostEvent(c *gin.Context) {
	ctx := c.Request.Context()

	key, okKey := middleware.GetIdempotencyKey(c)
	if !okKey {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "Idempotency-Key header is required")
		return
	}

	var req PostEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}

	draft := services.EventDraft{
		ActorID:       req.ActorID,
		ActorName:     req.ActorName,
		Verb:          domain.Verb(req.Verb),
		ObjectType:    req.ObjectType,
		ObjectID:      req.ObjectID,
		ObjectTitle:   req.ObjectTitle,
		TargetUserIDs: req.TargetUserIDs,
		Metadata:      req.Metadata,
	}

	res, err := h.ingestSvc.Submit(ctx, draft, key)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrMissingActor),
			errors.Is(err, services.ErrInvalidVerb),
			errors.Is(err, services.ErrMissingObject),
			errors.Is(err, services.ErrMissingIdempotencyKey):
			fail(c, http.StatusBadRequest, ErrCodeValidation, err.Error())
		case errors.Is(err, services.ErrStoreUnavailable):
			c.Header("Retry-After", "1")
			fail(c, http.StatusServiceUnavailable, ErrCodeStoreUnavailable, "event store unavailable, retry later")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeIngestFailed, "could not ingest event")
		}
		return
	}

	body := PostEventResponse{EventID: res.EventID, Duplicate: res.Duplicate, Event: res.Event}
	if res.Duplicate {
		c.Header("Idempotency-Replayed", "true")
		ok(c, http.StatusOK, body)
		return
	}
	ok(c, http.StatusCreated, body)
}
