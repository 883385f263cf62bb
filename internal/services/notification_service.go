// Package services implements the business logic of the activity feed
// platform. This file implements the notification polling fallback for
// clients that cannot hold an SSE connection open: it serves the most recent
// feed items together with an unread counter that resets on each poll.
package services

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-feed-backend/internal/domain"
	"github.com/tbourn/go-feed-backend/internal/utils"
)

// NotificationPage is one poll response: the newest feed items plus how many
// rows arrived since the user's previous poll.
type NotificationPage struct {
	Items       []FeedItem `json:"items"`
	UnreadCount int64      `json:"unread_count"`
}

// NotificationRepo defines the repository contract required by
// NotificationService.
type NotificationRepo interface {
	ListFeedPage(ctx context.Context, db *gorm.DB, userID string, after bool, afterCreatedAt time.Time, afterEventID string, limit int) ([]domain.FeedEntry, error)
	CountFeedEntriesSince(ctx context.Context, db *gorm.DB, userID string, since time.Time) (int64, error)
	GetEvents(ctx context.Context, db *gorm.DB, ids []string) ([]domain.Event, error)
}

// NotificationService serves the REST fallback for notifications. The unread
// watermark is process-local: a restart resets every user to "all unread",
// which over-notifies but never silently drops.
type NotificationService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the notification repository.
	Repo NotificationRepo

	mu       sync.Mutex
	lastSeen map[string]time.Time
	nowFn    func() time.Time
}

// NewNotificationService constructs a NotificationService.
func NewNotificationService(db *gorm.DB, r NotificationRepo) *NotificationService {
	return &NotificationService{
		DB:       db,
		Repo:     r,
		lastSeen: make(map[string]time.Time),
		nowFn:    time.Now,
	}
}

// Recent returns up to limit of the user's newest feed items and the number
// of rows written since the previous poll, then advances the watermark.
func (s *NotificationService) Recent(ctx context.Context, userID string, limit int) (*NotificationPage, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	limit = utils.ClampInt(limit, 1, MaxPageSize)

	since := s.markSeen(userID)

	unread, err := s.Repo.CountFeedEntriesSince(ctx, s.DB, userID, since)
	if err != nil {
		return nil, err
	}

	entries, err := s.Repo.ListFeedPage(ctx, s.DB, userID, false, time.Time{}, "", limit)
	if err != nil {
		return nil, err
	}

	items := make([]FeedItem, 0, len(entries))
	if len(entries) > 0 {
		ids := make([]string, len(entries))
		for i := range entries {
			ids[i] = entries[i].EventID
		}
		events, err := s.Repo.GetEvents(ctx, s.DB, ids)
		if err != nil {
			return nil, err
		}
		byID := make(map[string]*domain.Event, len(events))
		for i := range events {
			byID[events[i].ID] = &events[i]
		}
		for _, id := range ids {
			if ev, ok := byID[id]; ok {
				items = append(items, toFeedItem(ev))
			}
		}
	}

	return &NotificationPage{Items: items, UnreadCount: unread}, nil
}

// markSeen swaps the user's watermark for now and returns the previous value.
// A first-time poller gets the zero time, so everything counts as unread.
func (s *NotificationService) markSeen(userID string) time.Time {
	now := s.nowFn()
	s.mu.Lock()
	prev := s.lastSeen[userID]
	s.lastSeen[userID] = now
	s.mu.Unlock()
	return prev
}
