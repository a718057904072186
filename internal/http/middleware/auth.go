// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements bearer-token session authentication. The middleware
// resolves the presented token to a user via a narrow SessionResolver
// function, stashes the user ID in the Gin context under "userID", and
// notifies an optional SessionToucher so the session's last-used timestamp
// can be refreshed without blocking the request path.
//
// Design goals:
//   - Keep transport concerns (header parsing, 401 shaping) in middleware.
//   - Decouple persistence via narrow function types, mirroring the
//     idempotency middleware.
//   - Never leak whether a token is unknown versus malformed.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// ctxKeyUserID is the Gin context key under which the authenticated user ID
// is stored. Downstream middleware (rate limiting, idempotency) and handlers
// read the same key.
const ctxKeyUserID = "userID"

// SessionResolver maps a bearer token to the owning user ID. Return an error
// for unknown or expired tokens; the middleware answers 401 without
// distinguishing the cause.
type SessionResolver func(ctx context.Context, token string) (userID string, err error)

// SessionToucher refreshes a session's last-used timestamp. Failures are
// ignored: losing a touch never fails an authenticated request.
type SessionToucher func(ctx context.Context, token string, now time.Time) error

// UserID returns the authenticated user ID stored by SessionAuth. The second
// return value indicates presence.
func UserID(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyUserID)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// SessionAuth returns a Gin middleware that authenticates requests via an
// "Authorization: Bearer <token>" header.
//
// Behavior:
//   - Missing or malformed header: 401 with the standard error envelope.
//   - Resolver failure (unknown token, expired session): 401, same body.
//   - Success: userID is stashed in the context, touch (if non-nil) runs
//     best-effort, and the chain continues.
func SessionAuth(resolve SessionResolver, touch SessionToucher) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			unauthorized(c)
			return
		}

		userID, err := resolve(c.Request.Context(), token)
		if err != nil || userID == "" {
			unauthorized(c)
			return
		}

		c.Set(ctxKeyUserID, userID)
		if touch != nil {
			_ = touch(c.Request.Context(), token, time.Now().UTC())
		}
		c.Next()
	}
}

// bearerToken extracts the credential from an Authorization header value.
// The scheme comparison is case-insensitive per RFC 7235; surrounding
// whitespace on the token is trimmed.
func bearerToken(header string) string {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// unauthorized aborts with the standard JSON error envelope, carrying the
// request correlation ID when upstream middleware set one.
func unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"request_id": c.Writer.Header().Get("X-Request-ID"),
		"code":       "unauthorized",
		"message":    "missing or invalid credentials",
	})
}
