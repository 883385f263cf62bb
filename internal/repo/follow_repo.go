// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the follow
// graph that drives actor classification and celebrity merges.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-feed-backend/internal/domain"
)

// CreateFollow inserts a follow edge (userID → actorID). Re-following an
// existing edge is a no-op, and re-following a soft-deleted edge resurrects
// it, since the unique index still covers deleted rows.
func CreateFollow(ctx context.Context, db *gorm.DB, userID, actorID string) error {
	edge := &domain.Follow{
		UserID:    userID,
		ActorID:   actorID,
		CreatedAt: time.Now().UTC(),
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "actor_id"}},
			DoUpdates: clause.Assignments(map[string]any{"deleted_at": nil}),
		}).
		Create(edge).Error
}

// DeleteFollow soft-deletes a follow edge.
func DeleteFollow(ctx context.Context, db *gorm.DB, userID, actorID string) error {
	return db.WithContext(ctx).
		Where("user_id = ? AND actor_id = ?", userID, actorID).
		Delete(&domain.Follow{}).Error
}

// CountFollowers returns the number of live followers an actor has. This is
// the cardinality the fanout threshold is compared against.
func CountFollowers(ctx context.Context, db *gorm.DB, actorID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Follow{}).
		Where("actor_id = ?", actorID).
		Count(&n).Error
	return n, err
}

// ListFollowedActors returns the IDs of every actor userID follows, in
// insertion order.
func ListFollowedActors(ctx context.Context, db *gorm.DB, userID string) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).
		Model(&domain.Follow{}).
		Where("user_id = ?", userID).
		Order("id ASC").
		Pluck("actor_id", &ids).Error
	return ids, err
}
