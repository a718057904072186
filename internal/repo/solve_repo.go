// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Solve
// model: the per-user queries and bulk writes the sync reconciler depends
// on, and the per-event query feeding statistics.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-loopover-backend/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = gorm.ErrRecordNotFound

// ListSolvesByUser returns every solve owned by userID, ordered by
// StartTime ASC for deterministic sync responses.
func ListSolvesByUser(ctx context.Context, db *gorm.DB, userID string) ([]domain.Solve, error) {
	var out []domain.Solve
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("start_time ASC").
		Find(&out).Error
	return out, err
}

// ListEventSolves returns all non-DNF solves for an event across users,
// ordered (user_id, start_time) so grouping by user downstream is stable.
func ListEventSolves(ctx context.Context, db *gorm.DB, event string) ([]domain.Solve, error) {
	var out []domain.Solve
	err := db.WithContext(ctx).
		Where("event = ? AND dnf = ?", event, false).
		Order("user_id ASC, start_time ASC").
		Find(&out).Error
	return out, err
}

// InsertSolves bulk-creates solve rows. Callers validate records first;
// this is the single write path for client pushes.
func InsertSolves(ctx context.Context, db *gorm.DB, solves []domain.Solve) error {
	if len(solves) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&solves).Error
}

// DeleteSolvesByUser removes the user's solves whose StartTime is in ids.
// Deleting ids that do not exist is a silent no-op, which makes the
// operation idempotent.
func DeleteSolvesByUser(ctx context.Context, db *gorm.DB, userID string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Where("user_id = ? AND start_time IN ?", userID, ids).
		Delete(&domain.Solve{}).Error
}

// CountSolvesByUser returns the total number of solves stored for userID.
func CountSolvesByUser(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Solve{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}
