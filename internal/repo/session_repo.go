// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file is the session store: opaque bearer tokens
// mapped to user identities, resolved on every authenticated request.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-loopover-backend/internal/domain"
)

// CreateSession inserts a session row binding token to userID.
func CreateSession(ctx context.Context, db *gorm.DB, token, userID string) (*domain.Session, error) {
	now := time.Now().UTC()
	s := &domain.Session{
		Token:     token,
		UserID:    userID,
		CreatedAt: now,
		LastUsed:  now,
	}
	return s, db.WithContext(ctx).Create(s).Error
}

// ResolveSession returns the session for token, or ErrNotFound for unknown
// tokens. Callers treat ErrNotFound as an authentication failure.
func ResolveSession(ctx context.Context, db *gorm.DB, token string) (*domain.Session, error) {
	var s domain.Session
	err := db.WithContext(ctx).Where("token = ?", token).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// TouchSession updates LastUsed. Best effort: callers may ignore the error
// since a stale LastUsed never affects correctness.
func TouchSession(ctx context.Context, db *gorm.DB, token string, now time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("token = ?", token).
		Update("last_used", now).Error
}
