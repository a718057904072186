// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-loopover-backend/internal/config"
	"github.com/tbourn/go-loopover-backend/internal/domain"
	"github.com/tbourn/go-loopover-backend/internal/http/handlers"
	"github.com/tbourn/go-loopover-backend/internal/http/middleware"
	"github.com/tbourn/go-loopover-backend/internal/identity"
	"github.com/tbourn/go-loopover-backend/internal/repo"
	"github.com/tbourn/go-loopover-backend/internal/services"
)

// solveRepoShim adapts the repository free functions to the services.SolveRepo
// interface expected by the SyncService. This keeps services decoupled from
// the concrete repo package while reusing existing functions.
type solveRepoShim struct{}

// ListSolvesByUser proxies repo.ListSolvesByUser.
func (solveRepoShim) ListSolvesByUser(ctx context.Context, db *gorm.DB, userID string) ([]domain.Solve, error) {
	return repo.ListSolvesByUser(ctx, db, userID)
}

// InsertSolves proxies repo.InsertSolves.
func (solveRepoShim) InsertSolves(ctx context.Context, db *gorm.DB, solves []domain.Solve) error {
	return repo.InsertSolves(ctx, db, solves)
}

// DeleteSolvesByUser proxies repo.DeleteSolvesByUser.
func (solveRepoShim) DeleteSolvesByUser(ctx context.Context, db *gorm.DB, userID string, ids []int64) error {
	return repo.DeleteSolvesByUser(ctx, db, userID, ids)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), CORS and security
// headers, health and metrics endpoints, and then mounts the public and
// session-authenticated API groups.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Gzip compression (histograms and solve batches compress well)
//  7. Metrics
//  8. CORS and Security headers
//
// Idempotency validation and rate limiting mount per group rather than
// globally: the replay lookup and the per-user bucket key both need the
// session user, so on authenticated routes they must run after SessionAuth.
// Public routes carry only the limiter, which then keys by client IP.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, providers []identity.Provider, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction (session tokens stay out of logs)
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{
			middleware.HeaderIdempotencyKey,
		},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (solve batches are capped)
	r.Use(limitBody(cfg.BodyLimit))

	// 6) Response compression
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "Api-Version", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "Api-Version", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Dependency injection: services ← repo/db/providers
	authSvc := services.NewAuthService(db, providers...)
	syncSvc := services.NewSyncService(db, solveRepoShim{})
	statsSvc := services.NewStatsService(db)
	h := handlers.New(authSvc, syncSvc, statsSvc, idempotencyStore(db, cfg.IdempotencyTTL))

	// One shared limiter: user-keyed behind auth, IP-keyed on public routes.
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())

	apiBase := cfg.APIBasePath // e.g. "/"
	api := groupWithPrefix(r, apiBase)

	// Public endpoints: sign-in and community statistics.
	public := api.Group("")
	public.Use(rl.Handler())
	{
		public.POST("/authenticate/:provider", h.Authenticate)
		public.GET("/statistics/:event/:kind", h.Statistics)
	}

	// Session-authenticated endpoints. SessionAuth resolves the user first;
	// the idempotency lookup and the limiter key both depend on it, and the
	// validator runs before the limiter so replays skip the bucket.
	authed := api.Group("")
	authed.Use(middleware.SessionAuth(
		func(ctx context.Context, token string) (string, error) {
			sess, err := repo.ResolveSession(ctx, db, token)
			if err != nil {
				return "", err
			}
			return sess.UserID, nil
		},
		func(ctx context.Context, token string, now time.Time) error {
			return repo.TouchSession(ctx, db, token, now)
		},
	))
	authed.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		idempotencyLookup(db),
	))
	authed.Use(rl.Handler())
	{
		authed.GET("/me", h.Me)
		authed.POST("/sync", h.PullSolves)
		authed.PUT("/sync", h.PushSolves)
		authed.DELETE("/sync", h.DeleteSolves)
	}
}

// idempotencyLookup answers whether a completed push exists for (user, key).
// Lookup failures count as a miss so a database hiccup degrades to a normal
// push instead of blocking the request.
func idempotencyLookup(db *gorm.DB) middleware.IdempotencyLookup {
	return func(ctx context.Context, userID, key string, now time.Time) (bool, error) {
		rec, err := repo.GetIdempotency(ctx, db, userID, key, now)
		if err != nil || rec == nil {
			return false, nil
		}
		return true, nil
	}
}

// idempotencyStore records a completed push under (user, key) for ttl. A
// concurrent retry can race the insert; the duplicate means the record is
// already there, which is the outcome we wanted.
func idempotencyStore(db *gorm.DB, ttl time.Duration) handlers.IdempotencyStore {
	return func(ctx context.Context, userID, key string, status int) error {
		_, err := repo.CreateIdempotency(ctx, db, userID, key, status, ttl)
		if errors.Is(err, repo.ErrDuplicate) {
			return nil
		}
		return err
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
