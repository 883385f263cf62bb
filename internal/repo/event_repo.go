// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the append-only
// Event table.
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/go-feed-backend/internal/domain"
)

// ErrNotFound indicates that the requested row does not exist.
var ErrNotFound = errors.New("not found")

// AppendEvent durably inserts an event row. Events are immutable: there is
// intentionally no update path. The caller assigns ID and CreatedAt before
// appending so the (created_at, event_id) total order is fixed at commit.
func AppendEvent(ctx context.Context, db *gorm.DB, ev *domain.Event) error {
	return db.WithContext(ctx).Create(ev).Error
}

// GetEvent fetches a single event by ID, returning ErrNotFound when absent.
func GetEvent(ctx context.Context, db *gorm.DB, id string) (*domain.Event, error) {
	var ev domain.Event
	err := db.WithContext(ctx).First(&ev, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// GetEvents loads the events for the given IDs. Missing IDs are skipped, so
// the result may be shorter than the input; order is unspecified.
func GetEvents(ctx context.Context, db *gorm.DB, ids []string) ([]domain.Event, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []domain.Event
	err := db.WithContext(ctx).Where("id IN ?", ids).Find(&out).Error
	return out, err
}

// CountEvents returns the total number of persisted events.
func CountEvents(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw("SELECT COUNT(*) FROM events").Scan(&total).Error
	return total, err
}

// ListActorEvents returns an actor's most recent events in feed order
// (created_at DESC, id DESC), capped at limit. Used to warm the celebrity
// cache after a restart.
func ListActorEvents(ctx context.Context, db *gorm.DB, actorID string, limit int) ([]domain.Event, error) {
	var out []domain.Event
	q := db.WithContext(ctx).
		Where("actor_id = ?", actorID).
		Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}
