// Analytics HTTP handlers.
//
// This file exposes the trending read endpoint:
//   - GET /analytics/top?window=&k=   (decayed top-K objects per window)
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-feed-backend/internal/ranking"
	"github.com/tbourn/go-feed-backend/internal/utils"
)

// GetTopObjects serves the k most active objects in the requested decay
// window (1m, 5m, or 1h). Counts are decayed to the moment of the read, so
// two reads of the same window may differ even without new events.
func (h *Handlers) GetTopObjects(c *gin.Context) {
	ctx := c.Request.Context()

	window := c.DefaultQuery("window", "5m")
	k := utils.AtoiDefault(c.Query("k"), 10)

	res, err := h.analyticsSvc.TopK(ctx, window, k)
	if err != nil {
		if errors.Is(err, ranking.ErrUnknownWindow) {
			fail(c, http.StatusBadRequest, ErrCodeUnknownWindow, "window must be one of: 1m, 5m, 1h")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not compute ranking")
		return
	}

	ok(c, http.StatusOK, res)
}
