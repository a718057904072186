// Package handlers implements the HTTP endpoints of the public API.
//
// This file holds the shared response helpers. Every failure, whether raised
// by a handler or by router fallbacks, goes through fail/Fail so clients see
// one envelope shape:
//
//	{ "request_id": "...", "code": "bad_request", "message": "..." }
//
// Codes are stable machine-readable strings (see errors.go); messages are
// safe to surface in a client UI.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-loopover-backend/internal/http/middleware"
)

// ErrorResponse is the error envelope returned by every endpoint. RequestID
// echoes the X-Request-ID header so a client report can be matched to server
// logs.
type ErrorResponse struct {
	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// fail aborts the request with the standard envelope. Server-side failures
// (5xx) additionally log through the request-scoped logger; client errors are
// already covered by the access log.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// Fail exposes fail for router-level fallbacks (NoRoute, NoMethod) so they
// answer in the same envelope as the handlers.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes body as JSON with the given status.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// noContent answers 204 for operations that acknowledge without a body.
func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
