// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the User model.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-loopover-backend/internal/domain"
)

// UpsertUser creates or refreshes the user row for (provider, uid). Profile
// fields and the access token are overwritten on every login; the refresh
// token only when the provider sent a new one.
func UpsertUser(ctx context.Context, db *gorm.DB, p domain.User) (*domain.User, error) {
	var existing domain.User
	err := db.WithContext(ctx).
		Where("provider = ? AND uid = ?", p.Provider, p.UID).
		First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		p.ID = uuid.NewString()
		p.CreatedAt = time.Now().UTC()
		if err := db.WithContext(ctx).Create(&p).Error; err != nil {
			return nil, err
		}
		return &p, nil
	case err != nil:
		return nil, err
	}

	updates := map[string]any{
		"name":         p.Name,
		"avatar_url":   p.AvatarURL,
		"access_token": p.AccessToken,
	}
	if p.RefreshToken != "" {
		updates["refresh_token"] = p.RefreshToken
	}
	if err := db.WithContext(ctx).Model(&existing).Updates(updates).Error; err != nil {
		return nil, err
	}
	return &existing, nil
}

// GetUser fetches a user by primary key, returning ErrNotFound when absent.
func GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var u domain.User
	err := db.WithContext(ctx).Where("id = ?", id).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
