// Package domain defines the core persistence models for the activity feed
// platform. These types are mapped with GORM and are shared across the
// repository, service, and transport layers.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Verb is the action an actor performed on an object.
type Verb string

// Supported verbs. Events carrying any other verb are rejected at ingestion.
const (
	VerbLike     Verb = "like"
	VerbComment  Verb = "comment"
	VerbFollow   Verb = "follow"
	VerbPurchase Verb = "purchase"
	VerbShare    Verb = "share"
	VerbMention  Verb = "mention"
)

// Verbs lists every supported verb in a stable order, used for validation
// and for per-verb analytics breakdowns.
var Verbs = []Verb{VerbLike, VerbComment, VerbFollow, VerbPurchase, VerbShare, VerbMention}

// Valid reports whether v is one of the supported verbs.
func (v Verb) Valid() bool {
	switch v {
	case VerbLike, VerbComment, VerbFollow, VerbPurchase, VerbShare, VerbMention:
		return true
	}
	return false
}

// Event is the immutable, append-only record of a single activity.
// An event is created exactly once at ingestion and never mutated; rows are
// retained per the configured retention policy.
//
// Fields:
//   - ID: UUID assigned at ingestion (char(36)).
//   - ActorID / ActorName: who performed the action.
//   - Verb: one of the supported verbs (enforced by DB constraint).
//   - ObjectType / ObjectID / ObjectTitle: what was acted upon.
//   - TargetUserIDs: ordered recipient list, serialized as JSON.
//   - Metadata: opaque key-value payload, serialized as JSON.
//   - CreatedAt: assignment-ordered timestamp; duplicates are permitted and
//     broken by ID ordering everywhere a total order is required.
type Event struct {
	ID            string     `json:"event_id"    gorm:"type:char(36);primaryKey"`
	ActorID       string     `json:"actor_id"    gorm:"type:varchar(64);not null;index:idx_events_actor,priority:1"`
	ActorName     string     `json:"actor_name"  gorm:"type:varchar(255);not null;default:''"`
	Verb          Verb       `json:"verb"        gorm:"type:varchar(32);not null;check:verb IN ('like','comment','follow','purchase','share','mention')"`
	ObjectType    string     `json:"object_type" gorm:"type:varchar(32);not null"`
	ObjectID      string     `json:"object_id"   gorm:"type:varchar(64);not null;index:idx_events_object,priority:1"`
	ObjectTitle   string     `json:"object_title,omitempty" gorm:"type:varchar(255);not null;default:''"`
	TargetUserIDs StringList `json:"target_user_ids" gorm:"type:text;not null;default:'[]'"`
	Metadata      Metadata   `json:"metadata,omitempty" gorm:"type:text"`
	CreatedAt     time.Time  `json:"created_at"  gorm:"index:idx_events_actor,priority:2;index:idx_events_object,priority:2"`
}

// TableName returns the database table name for Event.
func (Event) TableName() string { return "events" }

// Before returns true when e sorts strictly after other in feed order,
// i.e. e is older. Feed order is (created_at DESC, event_id DESC); ties on
// the timestamp are broken by ID so the total order is deterministic.
func (e *Event) Before(other *Event) bool {
	if !e.CreatedAt.Equal(other.CreatedAt) {
		return e.CreatedAt.Before(other.CreatedAt)
	}
	return e.ID < other.ID
}

// FeedEntry is one precomputed (recipient, event) feed row, created only for
// write-fanout actors. The composite unique index on (user_id, event_id)
// makes fanout idempotent: at-least-once delivery may retry an insert and
// the duplicate is silently absorbed.
//
// Feed reads order rows by (created_at DESC, event_id DESC) so pagination is
// a deterministic total order even when timestamps collide.
type FeedEntry struct {
	ID        uint      `json:"-"          gorm:"primaryKey;autoIncrement"`
	UserID    string    `json:"user_id"    gorm:"type:varchar(64);not null;uniqueIndex:ux_feed_user_event,priority:1;index:idx_feed_cursor,priority:1"`
	EventID   string    `json:"event_id"   gorm:"type:char(36);not null;uniqueIndex:ux_feed_user_event,priority:2"`
	CreatedAt time.Time `json:"created_at" gorm:"not null;index:idx_feed_cursor,priority:2,sort:desc"`
}

// TableName returns the database table name for FeedEntry.
func (FeedEntry) TableName() string { return "feed_entries" }

// Follow is a directed edge in the social graph: UserID follows ActorID.
// Follower counts computed over this table drive actor classification
// (normal vs high-fanout), and the feed reader uses it to discover which
// celebrity caches to merge at read time.
type Follow struct {
	ID        uint           `json:"-"        gorm:"primaryKey;autoIncrement"`
	UserID    string         `json:"user_id"  gorm:"type:varchar(64);not null;uniqueIndex:ux_follow_edge,priority:1"`
	ActorID   string         `json:"actor_id" gorm:"type:varchar(64);not null;uniqueIndex:ux_follow_edge,priority:2;index:idx_follow_actor"`
	CreatedAt time.Time      `json:"created_at"`
	DeletedAt gorm.DeletedAt `json:"-"        gorm:"index"`
}

// TableName returns the database table name for Follow.
func (Follow) TableName() string { return "follows" }

// FanoutRetry records a (event, recipient) pair whose feed entry failed to
// persist during fanout. Rows are re-driven by the background sweep and
// deleted once the entry lands; Attempts backs the sweep's give-up cap.
type FanoutRetry struct {
	ID            uint      `json:"-"               gorm:"primaryKey;autoIncrement"`
	EventID       string    `json:"event_id"        gorm:"type:char(36);not null;uniqueIndex:ux_retry_event_user,priority:1"`
	UserID        string    `json:"user_id"         gorm:"type:varchar(64);not null;uniqueIndex:ux_retry_event_user,priority:2"`
	Attempts      int       `json:"attempts"        gorm:"not null;default:0"`
	NextAttemptAt time.Time `json:"next_attempt_at" gorm:"not null;index"`
	CreatedAt     time.Time `json:"created_at"`
}

// TableName returns the database table name for FanoutRetry.
func (FanoutRetry) TableName() string { return "fanout_retries" }
