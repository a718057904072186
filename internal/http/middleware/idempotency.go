// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file handles the Idempotency-Key header on unsafe requests, primarily
// PUT /sync uploads that timer clients retry after flaky connections. The
// middleware validates the key, stashes it for handlers, and asks a narrow
// lookup whether the same (user, key) pair already completed inside its TTL
// window. A detected replay sets flags that let the handler acknowledge
// without re-applying the upload and lets the rate limiter wave the request
// through.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header carrying the client-chosen
// dedupe key. Clients keep the value stable across retries of one logical
// upload.
const HeaderIdempotencyKey = "Idempotency-Key"

// Context keys for idempotency state; read through the accessor helpers.
const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay" // true when a stored completion exists
	ctxKeyRateBypass = "rate.bypass" // true to skip rate limiting
)

// GetIdempotencyKey returns the validated key stashed by IdempotencyValidator.
// Handlers read the key through this rather than the raw header so they only
// ever see values that passed validation.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether this request duplicates an already-completed
// operation. Handlers short-circuit to an acknowledgment when true.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// IdempotencyOptions tunes header validation. TTL enforcement lives inside
// the lookup, not here.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length; <= 0 means 200.
	MaxLen int
	// Pattern restricts the key alphabet. Nil falls back to an RFC 7230
	// token-style pattern, ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
}

// IdempotencyLookup answers whether a completed, unexpired record exists for
// (userID, key) at now. Errors mean the lookup itself failed and must not
// block the request.
type IdempotencyLookup func(ctx context.Context, userID, key string, now time.Time) (exists bool, err error)

// IdempotencyValidator validates an Idempotency-Key header when present,
// stashes it, and consults lookup for a prior completion.
//
// Absent header: pass-through. Invalid key: 400 with a compact error body.
// Replay found: the replay and rate-bypass flags are set and the chain
// continues, leaving the handler in charge of how to answer. The middleware
// never serves a cached payload itself.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"code":    "bad_idempotency_key",
				"message": "invalid Idempotency-Key",
			})
			return
		}

		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			uid := userIDFromCtx(c)
			if exists, _ := lookup(c.Request.Context(), uid, key, time.Now().UTC()); exists {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}

		c.Next()
	}
}

// userIDFromCtx reads the identity stashed by SessionAuth. Anonymous requests
// yield "" and therefore never match a stored record.
func userIDFromCtx(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyUserID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
