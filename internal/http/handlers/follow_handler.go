// Follow graph HTTP handlers.
//
// This file exposes follow edge mutations:
//   - POST   /follows   (follow an actor)
//   - DELETE /follows   (unfollow an actor)
//
// Both operations are idempotent: re-following and unfollowing a
// non-followed actor succeed without effect.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-feed-backend/internal/services"
)

// FollowRequest is the JSON payload for follow/unfollow operations.
type FollowRequest struct {
	UserID  string `json:"user_id" binding:"required"`
	ActorID string `json:"actor_id" binding:"required"`
}

// Follow records a follow edge from user_id to actor_id.
func (h *Handlers) Follow(c *gin.Context) {
	h.mutateFollow(c, h.followSvc.Follow, http.StatusCreated)
}

// Unfollow removes the follow edge from user_id to actor_id.
func (h *Handlers) Unfollow(c *gin.Context) {
	h.mutateFollow(c, h.followSvc.Unfollow, http.StatusNoContent)
}

// mutateFollow shares validation and error mapping between the two edge
// mutations.
func (h *Handlers) mutateFollow(c *gin.Context, op func(ctx context.Context, userID, actorID string) error, okStatus int) {
	ctx := c.Request.Context()

	var req FollowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user_id and actor_id are required")
		return
	}

	if err := op(ctx, req.UserID, req.ActorID); err != nil {
		switch {
		case errors.Is(err, services.ErrMissingUser),
			errors.Is(err, services.ErrMissingActor),
			errors.Is(err, services.ErrSelfFollow):
			fail(c, http.StatusBadRequest, ErrCodeValidation, err.Error())
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not update follow graph")
		}
		return
	}

	if okStatus == http.StatusNoContent {
		noContent(c)
		return
	}
	c.Status(okStatus)
}
