// Package services – AuthService
//
// This file implements sign-in: exchanging an OAuth authorization code with
// a configured identity provider, upserting the user row so profile data
// stays fresh, and issuing an opaque session token the client presents as a
// Bearer credential on subsequent calls.
package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"

	"gorm.io/gorm"

	"github.com/tbourn/go-loopover-backend/internal/domain"
	"github.com/tbourn/go-loopover-backend/internal/identity"
	"github.com/tbourn/go-loopover-backend/internal/repo"
)

// LoginResult is returned to a freshly authenticated client.
type LoginResult struct {
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl"`
	Token     string `json:"token"`
}

// AuthService performs OAuth code exchange and session issuance.
type AuthService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Providers maps provider name to its implementation.
	Providers map[string]identity.Provider
}

// NewAuthService constructs an AuthService over the given providers.
func NewAuthService(db *gorm.DB, providers ...identity.Provider) *AuthService {
	m := make(map[string]identity.Provider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return &AuthService{DB: db, Providers: m}
}

// Login exchanges code with the named provider, upserts the user, and
// creates a session. ErrUnknownProvider is returned for providers this
// deployment is not configured for; provider errors pass through.
func (s *AuthService) Login(ctx context.Context, provider, code, redirectURI string) (*LoginResult, error) {
	p, ok := s.Providers[provider]
	if !ok {
		return nil, ErrUnknownProvider
	}

	prof, err := p.Exchange(ctx, code, redirectURI)
	if err != nil {
		return nil, err
	}

	user, err := repo.UpsertUser(ctx, s.DB, domain.User{
		Provider:     prof.Provider,
		UID:          prof.UID,
		Name:         prof.Name,
		AvatarURL:    prof.AvatarURL,
		AccessToken:  prof.AccessToken,
		RefreshToken: prof.RefreshToken,
	})
	if err != nil {
		return nil, err
	}

	token, err := newSessionToken()
	if err != nil {
		return nil, err
	}
	if _, err := repo.CreateSession(ctx, s.DB, token, user.ID); err != nil {
		return nil, err
	}

	return &LoginResult{Name: user.Name, AvatarURL: user.AvatarURL, Token: token}, nil
}

// Profile returns the display profile for an authenticated user.
func (s *AuthService) Profile(ctx context.Context, userID string) (*domain.User, error) {
	return repo.GetUser(ctx, s.DB, userID)
}

// newSessionToken draws 16 random bytes, base64-encoded, matching the
// token shape clients already store.
func newSessionToken() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b[:]), nil
}
