// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for precomputed
// per-user feed rows, including keyset pagination for stable cursors.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-feed-backend/internal/domain"
)

// InsertFeedEntry writes one (user, event) feed row. Conflicts on the
// (user_id, event_id) unique index are ignored, which is what makes
// at-least-once fanout safe to retry.
func InsertFeedEntry(ctx context.Context, db *gorm.DB, userID, eventID string, createdAt time.Time) error {
	entry := &domain.FeedEntry{
		UserID:    userID,
		EventID:   eventID,
		CreatedAt: createdAt,
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(entry).Error
}

// ListFeedPage returns up to limit feed rows for userID in feed order
// (created_at DESC, event_id DESC), starting strictly after the position
// (afterCreatedAt, afterEventID) when after is true. Keyset predicates keep
// the cursor stable under concurrent inserts: rows newer than the cursor
// position are simply never revisited.
func ListFeedPage(ctx context.Context, db *gorm.DB, userID string, after bool, afterCreatedAt time.Time, afterEventID string, limit int) ([]domain.FeedEntry, error) {
	q := db.WithContext(ctx).Where("user_id = ?", userID)
	if after {
		q = q.Where(
			"(created_at < ?) OR (created_at = ? AND event_id < ?)",
			afterCreatedAt, afterCreatedAt, afterEventID,
		)
	}
	var out []domain.FeedEntry
	err := q.Order("created_at DESC, event_id DESC").Limit(limit).Find(&out).Error
	return out, err
}

// CountFeedEntries returns the total number of precomputed rows for a user.
// A raw COUNT is used so a missing table surfaces as an error.
func CountFeedEntries(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM feed_entries WHERE user_id = ?", userID).
		Scan(&total).Error
	return total, err
}

// CountFeedEntriesSince returns the number of rows for a user strictly newer
// than since. Backs the unread counter on the notification polling endpoint.
func CountFeedEntriesSince(ctx context.Context, db *gorm.DB, userID string, since time.Time) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.FeedEntry{}).
		Where("user_id = ? AND created_at > ?", userID, since).
		Count(&n).Error
	return n, err
}

// HasFeedEntry reports whether a (user, event) row exists. Used by tests and
// by the retry sweep to skip work that already landed.
func HasFeedEntry(ctx context.Context, db *gorm.DB, userID, eventID string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.FeedEntry{}).
		Where("user_id = ? AND event_id = ?", userID, eventID).
		Count(&n).Error
	return n > 0, err
}
