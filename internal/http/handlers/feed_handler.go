// Feed HTTP handlers.
//
// This file exposes the feed read endpoint:
//   - GET /feed?user_id=&cursor=&limit=   (cursor-paginated personal feed)
//
// The cursor is an opaque token minted by the previous page; clients must
// not construct or interpret it. A null next_cursor means the page was short
// and no more data was available at read time.
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-feed-backend/internal/feed"
	"github.com/tbourn/go-feed-backend/internal/services"
	"github.com/tbourn/go-feed-backend/internal/utils"
)

// GetFeed serves one page of the requesting user's aggregated feed,
// newest-first, merged with followed celebrities' recent events.
func (h *Handlers) GetFeed(c *gin.Context) {
	ctx := c.Request.Context()

	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "user_id is required")
		return
	}

	limit := utils.AtoiDefault(c.Query("limit"), services.DefaultPageSize)
	cursor := c.Query("cursor")

	page, err := h.feedSvc.Read(ctx, userID, cursor, limit)
	if err != nil {
		if errors.Is(err, feed.ErrBadCursor) {
			fail(c, http.StatusBadRequest, ErrCodeBadCursor, "malformed cursor")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeFeedFailed, "could not read feed")
		return
	}

	ok(c, http.StatusOK, page)
}
