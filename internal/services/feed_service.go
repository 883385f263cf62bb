// Package services implements the business logic of the activity feed
// platform.
//
// This file implements the feed read path. For users who follow no
// high-fanout actors the read is a single keyset-paginated query over their
// precomputed rows. For users who do, the precomputed stream is k-way merged
// with each followed celebrity's cached recent events in the same total
// order, de-duplicated by event ID, before cursor and limit apply.
package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-feed-backend/internal/cache"
	"github.com/tbourn/go-feed-backend/internal/domain"
	"github.com/tbourn/go-feed-backend/internal/feed"
	"github.com/tbourn/go-feed-backend/internal/utils"
)

// Page size bounds for feed reads.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// FeedItem is one feed entry as served to clients.
type FeedItem struct {
	EventID     string          `json:"event_id"`
	ActorID     string          `json:"actor_id"`
	ActorName   string          `json:"actor_name"`
	Verb        domain.Verb     `json:"verb"`
	ObjectType  string          `json:"object_type"`
	ObjectID    string          `json:"object_id"`
	ObjectTitle string          `json:"object_title,omitempty"`
	Metadata    domain.Metadata `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// FeedPage is one page of a user's feed. NextCursor is nil when the page was
// short, i.e. no more data was available at read time.
type FeedPage struct {
	Items      []FeedItem `json:"items"`
	NextCursor *string    `json:"next_cursor"`
	Total      int64      `json:"total"`
}

// FeedRepo defines the repository contract required by FeedService.
type FeedRepo interface {
	// ListFeedPage returns feed rows in (created_at DESC, event_id DESC)
	// order, strictly after the cursor position when after is true.
	ListFeedPage(ctx context.Context, db *gorm.DB, userID string, after bool, afterCreatedAt time.Time, afterEventID string, limit int) ([]domain.FeedEntry, error)

	// CountFeedEntries returns the user's total precomputed row count.
	CountFeedEntries(ctx context.Context, db *gorm.DB, userID string) (int64, error)

	// GetEvents loads events by ID (missing IDs skipped).
	GetEvents(ctx context.Context, db *gorm.DB, ids []string) ([]domain.Event, error)

	// ListFollowedActors returns every actor the user follows.
	ListFollowedActors(ctx context.Context, db *gorm.DB, userID string) ([]string, error)

	// CountFollowers returns an actor's follower cardinality.
	CountFollowers(ctx context.Context, db *gorm.DB, actorID string) (int64, error)

	// ListActorEvents returns an actor's newest events, for cache warming.
	ListActorEvents(ctx context.Context, db *gorm.DB, actorID string, limit int) ([]domain.Event, error)
}

// FeedService serves cursor-paginated per-user feeds.
type FeedService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the feed repository.
	Repo FeedRepo
	// Cache supplies celebrity events for read-fanout merges.
	Cache *cache.Celebrity
	// Policy classifies followed actors, re-read per request.
	Policy *FanoutPolicy
}

// NewFeedService constructs a FeedService.
func NewFeedService(db *gorm.DB, r FeedRepo, c *cache.Celebrity, policy *FanoutPolicy) *FeedService {
	return &FeedService{DB: db, Repo: r, Cache: c, Policy: policy}
}

// Read returns one page of userID's feed starting strictly after the cursor.
// Pagination is stable under concurrent writes: a returned page is never
// re-returned and the cursor only ever advances toward older items, so
// paging terminates even while writes continue.
func (s *FeedService) Read(ctx context.Context, userID, cursorToken string, limit int) (*FeedPage, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	limit = utils.ClampInt(limit, 1, MaxPageSize)

	cur, hasCursor, err := feed.DecodeCursor(cursorToken)
	if err != nil {
		return nil, err
	}
	var curPtr *feed.Cursor
	if hasCursor {
		curPtr = &cur
	}

	// Precomputed stream: already cursor-filtered and limited by the query.
	entries, err := s.Repo.ListFeedPage(ctx, s.DB, userID, hasCursor, cur.CreatedAt, cur.EventID, limit)
	if err != nil {
		return nil, err
	}
	written, err := s.resolveEntries(ctx, entries)
	if err != nil {
		return nil, err
	}

	// Celebrity streams: full cached windows, filtered during the merge.
	streams := [][]domain.Event{written}
	celebs, err := s.followedCelebrities(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, actorID := range celebs {
		events := s.Cache.Recent(actorID, 0)
		if len(events) == 0 {
			// Cold cache (process restart): warm it from the event store so
			// celebrity activity survives into the merge.
			if events, err = s.warmCelebrity(ctx, actorID); err != nil {
				return nil, err
			}
		}
		if len(events) > 0 {
			streams = append(streams, events)
		}
	}

	merged := feed.MergeDesc(streams, curPtr, limit)

	items := make([]FeedItem, len(merged))
	for i := range merged {
		items[i] = toFeedItem(&merged[i])
	}

	total, err := s.Repo.CountFeedEntries(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}

	page := &FeedPage{Items: items, Total: total}
	if len(items) == limit {
		last := merged[len(merged)-1]
		token := feed.Cursor{CreatedAt: last.CreatedAt, EventID: last.ID}.Encode()
		page.NextCursor = &token
	}
	return page, nil
}

// resolveEntries loads the events behind feed rows, preserving row order and
// dropping rows whose event has expired out of retention. Duplicate
// (user, event) rows from at-least-once fanout collapse here as well.
func (s *FeedService) resolveEntries(ctx context.Context, entries []domain.FeedEntry) ([]domain.Event, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for i := range entries {
		if _, dup := seen[entries[i].EventID]; dup {
			continue
		}
		seen[entries[i].EventID] = struct{}{}
		ids = append(ids, entries[i].EventID)
	}

	events, err := s.Repo.GetEvents(ctx, s.DB, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*domain.Event, len(events))
	for i := range events {
		byID[events[i].ID] = &events[i]
	}

	out := make([]domain.Event, 0, len(ids))
	for _, id := range ids {
		if ev, ok := byID[id]; ok {
			out = append(out, *ev)
		}
	}
	return out, nil
}

// celebrityWarmLimit caps how many stored events are loaded to warm a cold
// celebrity cache. One page's worth is enough for any single read.
const celebrityWarmLimit = MaxPageSize

// warmCelebrity refills an actor's cache from the event store and returns
// the cached window.
func (s *FeedService) warmCelebrity(ctx context.Context, actorID string) ([]domain.Event, error) {
	stored, err := s.Repo.ListActorEvents(ctx, s.DB, actorID, celebrityWarmLimit)
	if err != nil {
		return nil, err
	}
	for i := range stored {
		s.Cache.Append(stored[i])
	}
	return s.Cache.Recent(actorID, 0), nil
}

// followedCelebrities returns the followed actors currently classified
// high-fanout. Classification uses the live threshold, so a reclassified
// actor's cached events appear (or stop appearing) on the very next read.
func (s *FeedService) followedCelebrities(ctx context.Context, userID string) ([]string, error) {
	actors, err := s.Repo.ListFollowedActors(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, actorID := range actors {
		followers, err := s.Repo.CountFollowers(ctx, s.DB, actorID)
		if err != nil {
			return nil, err
		}
		if s.Policy.HighFanout(followers) {
			out = append(out, actorID)
		}
	}
	return out, nil
}

// toFeedItem projects a domain event into the client-facing shape.
func toFeedItem(ev *domain.Event) FeedItem {
	return FeedItem{
		EventID:     ev.ID,
		ActorID:     ev.ActorID,
		ActorName:   ev.ActorName,
		Verb:        ev.Verb,
		ObjectType:  ev.ObjectType,
		ObjectID:    ev.ObjectID,
		ObjectTitle: ev.ObjectTitle,
		Metadata:    ev.Metadata,
		CreatedAt:   ev.CreatedAt,
	}
}
