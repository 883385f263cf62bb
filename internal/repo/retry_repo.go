// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the fanout
// retry queue that re-drives failed per-target feed writes.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-feed-backend/internal/domain"
)

// EnqueueFanoutRetry records a failed (event, user) fanout target. The pair
// is unique, so double-reporting the same failure collapses into one row.
func EnqueueFanoutRetry(ctx context.Context, db *gorm.DB, eventID, userID string, nextAttempt time.Time) error {
	row := &domain.FanoutRetry{
		EventID:       eventID,
		UserID:        userID,
		NextAttemptAt: nextAttempt,
		CreatedAt:     time.Now().UTC(),
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(row).Error
}

// ListDueFanoutRetries returns up to limit rows whose next attempt time has
// passed, oldest first.
func ListDueFanoutRetries(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.FanoutRetry, error) {
	var out []domain.FanoutRetry
	err := db.WithContext(ctx).
		Where("next_attempt_at <= ?", now).
		Order("next_attempt_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ResolveFanoutRetry removes a retry row once the feed entry has landed
// (or the sweep has given up on it).
func ResolveFanoutRetry(ctx context.Context, db *gorm.DB, id uint) error {
	return db.WithContext(ctx).Delete(&domain.FanoutRetry{}, id).Error
}

// RescheduleFanoutRetry bumps the attempt counter and pushes the next
// attempt out by delay.
func RescheduleFanoutRetry(ctx context.Context, db *gorm.DB, id uint, delay time.Duration) error {
	return db.WithContext(ctx).
		Model(&domain.FanoutRetry{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"attempts":        gorm.Expr("attempts + 1"),
			"next_attempt_at": time.Now().UTC().Add(delay),
		}).Error
}

// CountFanoutRetries returns the number of outstanding retry rows, exposed
// for monitoring and tests.
func CountFanoutRetries(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.FanoutRetry{}).Count(&n).Error
	return n, err
}
