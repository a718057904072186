// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides SecurityHeaders, which hardens every response of the
// JSON API with a conservative header set. HSTS is opt-in and only emitted
// for requests that actually arrived over HTTPS; no CSP is sent since the
// service never serves HTML.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// SecurityOptions configures the emitted security headers.
//
// EnableHSTS turns on Strict-Transport-Security for HTTPS requests (never
// plain HTTP). Enable only when traffic is HTTPS end to end, including the
// proxy-to-app hop. HSTSMaxAge is its lifetime; values <= 0 fall back to
// 180 days.
//
// NoStore adds Cache-Control: no-store (plus the legacy Pragma/Expires pair)
// for responses that must never be cached.
//
// EnablePolicy adds the browser feature-policy headers. They only matter to
// user agents and are inert for API clients.
type SecurityOptions struct {
	EnableHSTS   bool
	HSTSMaxAge   time.Duration
	NoStore      bool
	EnablePolicy bool
}

// SecurityHeaders returns a middleware that stamps each response with:
//
//   - always: X-Content-Type-Options: nosniff, X-Frame-Options: DENY,
//     Referrer-Policy: no-referrer
//   - with EnablePolicy: Permissions-Policy (geolocation, microphone, camera,
//     payment all denied) and X-Permitted-Cross-Domain-Policies: none
//   - with NoStore: Cache-Control: no-store, Pragma: no-cache, Expires: 0
//   - with EnableHSTS on an HTTPS request: Strict-Transport-Security with
//     includeSubDomains and preload
//
// When an X-Request-ID response header exists it is appended to
// Access-Control-Expose-Headers (without clobbering or duplicating existing
// entries) so browser clients can correlate failures with server logs.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := int(opt.HSTSMaxAge.Seconds())
	if maxAge <= 0 {
		maxAge = int((180 * 24 * time.Hour).Seconds())
	}
	return func(c *gin.Context) {
		h := c.Writer.Header()

		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		if opt.EnablePolicy {
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
		}

		if opt.NoStore {
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
			h.Set("Expires", "0")
		}

		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security",
				"max-age="+strconv.Itoa(maxAge)+"; includeSubDomains; preload")
		}

		if rid := h.Get("X-Request-ID"); rid != "" {
			const hdr = "Access-Control-Expose-Headers"
			cur := h.Get(hdr)
			if cur == "" {
				h.Set(hdr, "X-Request-ID")
			} else if !strings.Contains(cur, "X-Request-ID") {
				h.Set(hdr, cur+", X-Request-ID")
			}
		}

		c.Next()
	}
}

// isHTTPS reports whether the request arrived over TLS, either directly or
// terminated at a proxy that set X-Forwarded-Proto: https.
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
