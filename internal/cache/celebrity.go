// Package cache provides the bounded in-memory celebrity event cache used
// for fanout-on-read. Events from high-fanout actors are never written to
// follower feeds; instead the most recent events per actor are kept here and
// merged into feed reads on demand.
//
// The cache is sharded by actor ID so concurrent appends for different
// celebrities never contend on a single lock.
package cache

import (
	"hash/fnv"
	"sort"
	"sync"

	"github.com/tbourn/go-feed-backend/internal/domain"
)

// DefaultCapacity bounds how many recent events are retained per actor.
// The design doc implies "recent events" without fixing a number; 1000
// covers 50 pages at the maximum feed page size while keeping the per-actor
// footprint predictable.
const DefaultCapacity = 1000

// shardCount must be a power of two; 16 keeps lock contention negligible at
// realistic celebrity counts.
const shardCount = 16

type shard struct {
	mu     sync.RWMutex
	actors map[string][]domain.Event // newest first, len <= capacity
}

// Celebrity is a concurrency-safe, per-actor bounded cache of recent events,
// ordered newest first by (created_at DESC, event_id DESC).
type Celebrity struct {
	capacity int
	shards   [shardCount]*shard
}

// NewCelebrity constructs a cache retaining up to capacity events per actor.
// Non-positive capacities fall back to DefaultCapacity.
func NewCelebrity(capacity int) *Celebrity {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &Celebrity{capacity: capacity}
	for i := range c.shards {
		c.shards[i] = &shard{actors: make(map[string][]domain.Event)}
	}
	return c
}

func (c *Celebrity) shardFor(actorID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(actorID))
	return c.shards[h.Sum32()&(shardCount-1)]
}

// Append records an event for its actor, evicting the oldest entry once the
// per-actor bound is exceeded. Appends for the same actor are serialized by
// the shard lock; appends for different actors proceed independently.
func (c *Celebrity) Append(ev domain.Event) {
	s := c.shardFor(ev.ActorID)
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.actors[ev.ActorID]
	// Ignore replays: at-least-once delivery may hand us the same event twice.
	for i := range events {
		if events[i].ID == ev.ID {
			return
		}
	}

	// Common case: the new event is the newest, prepend. Otherwise insert at
	// its ordered position (late arrivals with older timestamps).
	pos := sort.Search(len(events), func(i int) bool {
		other := events[i]
		return other.Before(&ev)
	})
	events = append(events, domain.Event{})
	copy(events[pos+1:], events[pos:])
	events[pos] = ev

	if len(events) > c.capacity {
		events = events[:c.capacity]
	}
	s.actors[ev.ActorID] = events
}

// Recent returns up to limit of the actor's cached events, newest first.
// The returned slice is a copy and safe to retain.
func (c *Celebrity) Recent(actorID string, limit int) []domain.Event {
	s := c.shardFor(actorID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.actors[actorID]
	if limit <= 0 || limit > len(events) {
		limit = len(events)
	}
	out := make([]domain.Event, limit)
	copy(out, events[:limit])
	return out
}

// Len returns the number of cached events for an actor, for monitoring and
// tests.
func (c *Celebrity) Len(actorID string) int {
	s := c.shardFor(actorID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.actors[actorID])
}
