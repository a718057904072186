// Authentication HTTP handlers.
//
// This file exposes REST endpoints for sign-in and profile retrieval:
//   - POST /authenticate/{provider}  (OAuth code exchange → session token)
//   - GET  /me                       (authenticated user's display profile)
//
// Handlers are transport-thin: they validate the grant parameters, call the
// auth service, and translate results into HTTP responses.
package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-loopover-backend/internal/domain"
	"github.com/tbourn/go-loopover-backend/internal/repo"
	"github.com/tbourn/go-loopover-backend/internal/services"
)

//
// Service contracts (context-aware)
//

// AuthService defines sign-in and profile operations consumed by HTTP
// handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type AuthService interface {
	// Login exchanges an OAuth authorization code and issues a session.
	Login(ctx context.Context, provider, code, redirectURI string) (*services.LoginResult, error)
	// Profile returns the display profile for an authenticated user.
	Profile(ctx context.Context, userID string) (*domain.User, error)
}

//
// DTOs
//

// MeResponse is the display profile of the authenticated user.
type MeResponse struct {
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl"`
}

//
// Handlers
//

// Authenticate godoc
// @ID          authenticate
// @Summary     Exchange an OAuth code for a session token
// @Description Trades the authorization code obtained client-side for a session
// @Description token. The provider path segment selects Google or Discord.
// @Tags        Auth
// @Produce     json
//
// @Param       provider      path   string  true  "Identity provider"  Enums(google, discord)
// @Param       code          query  string  true  "OAuth authorization code"
// @Param       redirect_uri  query  string  true  "Redirect URI used to obtain the code"
//
// @Success     200  {object}  services.LoginResult
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown provider"
// @Failure     500  {object}  handlers.ErrorResponse  "Exchange failed"
// @Router      /authenticate/{provider} [post]
func (h *Handlers) Authenticate(c *gin.Context) {
	ctx := c.Request.Context()
	provider := strings.ToLower(c.Param("provider"))

	code := c.Query("code")
	redirectURI := c.Query("redirect_uri")
	if code == "" || redirectURI == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "code and redirect_uri required")
		return
	}

	res, err := h.authSvc.Login(ctx, provider, code, redirectURI)
	if err != nil {
		switch err {
		case services.ErrUnknownProvider:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "unknown provider")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeLoginFailed, err.Error())
		}
		return
	}

	ok(c, http.StatusOK, res)
}

// Me godoc
// @ID          me
// @Summary     Get the authenticated user's profile
// @Tags        Auth
// @Produce     json
//
// @Param       Authorization  header  string  true  "Bearer session token"
//
// @Success     200  {object}  handlers.MeResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /me [get]
func (h *Handlers) Me(c *gin.Context) {
	ctx := c.Request.Context()

	user, err := h.authSvc.Profile(ctx, userID(c))
	if err != nil {
		switch err {
		case repo.ErrNotFound:
			// Session references a user row that no longer exists.
			fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "unknown user")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}

	ok(c, http.StatusOK, MeResponse{Name: user.Name, AvatarURL: user.AvatarURL})
}
