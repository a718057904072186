// Statistics HTTP handlers.
//
// This file exposes the public histogram endpoint:
//   - GET /statistics/{event}/{kind}  (community score distribution)
//
// The endpoint is unauthenticated: the histogram aggregates the whole
// community and reveals no per-user data.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-loopover-backend/internal/services"
)

//
// Service contracts (context-aware)
//

// StatsService defines the aggregation operation consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type StatsService interface {
	// Aggregate computes the normalized score histogram for an event.
	Aggregate(ctx context.Context, event string, kind services.ScoreKind) (*services.Histogram, error)
}

//
// Handlers
//

// Statistics godoc
// @ID          statistics
// @Summary     Community score histogram
// @Description Returns ascending bin labels and bin weights normalized to [0,1]
// @Description for the given event, measured in seconds or move count.
// @Tags        Statistics
// @Produce     json
//
// @Param       event  path  string  true  "Puzzle event, e.g. 3x3"
// @Param       kind   path  string  true  "Score dimension"  Enums(time, moves)
//
// @Success     200  {object}  services.Histogram
// @Failure     400  {object}  handlers.ErrorResponse  "Unknown score kind"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /statistics/{event}/{kind} [get]
func (h *Handlers) Statistics(c *gin.Context) {
	ctx := c.Request.Context()
	event := c.Param("event")
	kind := services.ScoreKind(c.Param("kind"))

	hist, err := h.statsSvc.Aggregate(ctx, event, kind)
	if err != nil {
		switch err {
		case services.ErrUnknownScoreKind:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "kind must be time or moves")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeStatsFailed, err.Error())
		}
		return
	}

	ok(c, http.StatusOK, hist)
}
