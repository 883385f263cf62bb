// Package services implements the business logic of the activity feed
// platform.
//
// This file implements the ingestion path: validation, the idempotency
// filter, the write-ahead event append, and publication to the delivery
// channel. The ordering is deliberate:
//
//  1. The idempotency mapping is created first, reserving the event ID for
//     this key. The unique index guarantees at-most-one winner per key; a
//     racing loser observes the winner's event ID.
//  2. The event is appended to the durable store. If the append fails, the
//     mapping from step 1 is deleted so a retry of the same key can commit.
//  3. Only after the append commits is the event published for fanout,
//     notifications, and analytics (write-ahead: commit before fanout).
//
// Store access is guarded by a circuit breaker (idempotency lookups and
// inserts); when the store is unreachable the caller receives
// ErrStoreUnavailable and must retry with backoff — an unreachable store is
// never treated as "key not seen".
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"
	"gorm.io/gorm"

	"github.com/tbourn/go-feed-backend/internal/domain"
	"github.com/tbourn/go-feed-backend/internal/repo"
	"github.com/tbourn/go-feed-backend/internal/stream"
)

// DefaultIdempotencyTTL is how long a given idempotency key stays live.
const DefaultIdempotencyTTL = 24 * time.Hour

// EventDraft is a client-submitted event before ingestion assigns identity.
type EventDraft struct {
	ActorID       string
	ActorName     string
	Verb          domain.Verb
	ObjectType    string
	ObjectID      string
	ObjectTitle   string
	TargetUserIDs []string
	Metadata      map[string]any
}

// SubmitResult reports the outcome of a submission. Duplicate submissions
// are results, not errors: the original event ID is returned. Event is the
// committed row when it could be loaded (always set for fresh submissions,
// best-effort for duplicates whose append may still be in flight on another
// goroutine).
type SubmitResult struct {
	EventID   string
	Duplicate bool
	Event     *domain.Event
}

// IngestRepo defines the repository contract required by IngestService.
type IngestRepo interface {
	// GetIdempotency returns a live record for key or repo.ErrNotFound.
	GetIdempotency(ctx context.Context, db *gorm.DB, key string, now time.Time) (*domain.Idempotency, error)

	// CreateIdempotency inserts the key→event mapping, repo.ErrDuplicate on race loss.
	CreateIdempotency(ctx context.Context, db *gorm.DB, key, eventID string, ttl time.Duration) (*domain.Idempotency, error)

	// AppendEvent durably inserts the committed event row.
	AppendEvent(ctx context.Context, db *gorm.DB, ev *domain.Event) error

	// DeleteIdempotency releases a reserved key after a failed append.
	DeleteIdempotency(ctx context.Context, db *gorm.DB, key string) error

	// GetEvent loads an event by ID or repo.ErrNotFound.
	GetEvent(ctx context.Context, db *gorm.DB, id string) (*domain.Event, error)
}

// EventPublisher is the slice of the delivery channel ingestion needs.
type EventPublisher interface {
	PublishEvent(topic string, ev *domain.Event) error
}

// IngestService accepts event drafts and turns them into committed,
// published events exactly once per idempotency key.
type IngestService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the ingestion repository.
	Repo IngestRepo
	// Bus receives committed events for downstream consumers.
	Bus EventPublisher
	// TTL is the idempotency window.
	TTL time.Duration
	// OnPublishError observes post-commit publish failures (optional).
	OnPublishError func(eventID string, err error)

	breaker *gobreaker.CircuitBreaker[any]

	// clockMu serializes timestamp assignment so created_at is
	// non-decreasing for this writer; duplicate timestamps are permitted.
	clockMu sync.Mutex
	lastTS  time.Time
	nowFn   func() time.Time
}

// NewIngestService constructs an IngestService with the default TTL and a
// store circuit breaker.
func NewIngestService(db *gorm.DB, r IngestRepo, bus EventPublisher) *IngestService {
	s := &IngestService{
		DB:    db,
		Repo:  r,
		Bus:   bus,
		TTL:   DefaultIdempotencyTTL,
		nowFn: time.Now,
	}
	s.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "event-store",
		Timeout: 5 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// Logical outcomes must not trip the breaker; only store faults.
			return err == nil ||
				errors.Is(err, repo.ErrNotFound) ||
				errors.Is(err, repo.ErrDuplicate)
		},
	})
	return s
}

// Submit validates the draft, deduplicates it by key, commits it, and
// publishes it. Concurrent submissions with the same key resolve to a single
// event ID: exactly one caller observes Duplicate=false.
func (s *IngestService) Submit(ctx context.Context, draft EventDraft, key string) (*SubmitResult, error) {
	if err := validateDraft(&draft); err != nil {
		ingestSubmissions.WithLabelValues("rejected").Inc()
		return nil, err
	}
	if key == "" {
		ingestSubmissions.WithLabelValues("rejected").Inc()
		return nil, ErrMissingIdempotencyKey
	}

	// Fast path: the key already has a live mapping.
	if rec, err := s.getIdempotency(ctx, key); err == nil {
		return s.duplicateResult(ctx, rec.EventID)
	} else if !errors.Is(err, repo.ErrNotFound) {
		ingestSubmissions.WithLabelValues("unavailable").Inc()
		return nil, err
	}

	ev := s.buildEvent(&draft)

	// Reserve the key. Exactly one concurrent caller wins this insert.
	if err := s.createIdempotency(ctx, key, ev.ID); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			rec, lookupErr := s.getIdempotency(ctx, key)
			if lookupErr != nil {
				ingestSubmissions.WithLabelValues("unavailable").Inc()
				return nil, lookupErr
			}
			return s.duplicateResult(ctx, rec.EventID)
		}
		ingestSubmissions.WithLabelValues("unavailable").Inc()
		return nil, err
	}

	// Write-ahead commit. Failure here surfaces synchronously and nothing
	// is published. The key reservation must be released too: leaving it
	// would answer retries of this key with an event that never committed,
	// for the rest of the TTL.
	if err := s.Repo.AppendEvent(ctx, s.DB, ev); err != nil {
		ingestSubmissions.WithLabelValues("unavailable").Inc()
		if delErr := s.Repo.DeleteIdempotency(ctx, s.DB, key); delErr != nil {
			return nil, fmt.Errorf("%w: %v (key not released: %v)", ErrPersist, err, delErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrPersist, err)
	}

	// Post-commit publication. A failure is operational (events stop
	// flowing downstream) but the submission itself has succeeded.
	if err := s.Bus.PublishEvent(stream.TopicEventsCommitted, ev); err != nil {
		if s.OnPublishError != nil {
			s.OnPublishError(ev.ID, err)
		}
	}

	ingestSubmissions.WithLabelValues("created").Inc()
	return &SubmitResult{EventID: ev.ID, Event: ev}, nil
}

// duplicateResult assembles the response for a replayed key, loading the
// winner's event row best-effort.
func (s *IngestService) duplicateResult(ctx context.Context, eventID string) (*SubmitResult, error) {
	ingestSubmissions.WithLabelValues("duplicate").Inc()
	res := &SubmitResult{EventID: eventID, Duplicate: true}
	if ev, err := s.Repo.GetEvent(ctx, s.DB, eventID); err == nil {
		res.Event = ev
	}
	return res, nil
}

// buildEvent assigns identity and a non-decreasing timestamp to the draft.
func (s *IngestService) buildEvent(draft *EventDraft) *domain.Event {
	return &domain.Event{
		ID:            uuid.NewString(),
		ActorID:       draft.ActorID,
		ActorName:     draft.ActorName,
		Verb:          draft.Verb,
		ObjectType:    draft.ObjectType,
		ObjectID:      draft.ObjectID,
		ObjectTitle:   draft.ObjectTitle,
		TargetUserIDs: domain.StringList(draft.TargetUserIDs),
		Metadata:      domain.Metadata(draft.Metadata),
		CreatedAt:     s.nextTimestamp(),
	}
}

// nextTimestamp returns a timestamp that never moves backward relative to
// previous assignments by this writer, even if the wall clock does.
func (s *IngestService) nextTimestamp() time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	t := s.nowFn().UTC()
	if t.Before(s.lastTS) {
		t = s.lastTS
	}
	s.lastTS = t
	return t
}

// getIdempotency looks the key up through the circuit breaker, mapping
// breaker and store faults to ErrStoreUnavailable.
func (s *IngestService) getIdempotency(ctx context.Context, key string) (*domain.Idempotency, error) {
	v, err := s.breaker.Execute(func() (any, error) {
		return s.Repo.GetIdempotency(ctx, s.DB, key, s.nowFn().UTC())
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return v.(*domain.Idempotency), nil
}

// createIdempotency inserts the mapping through the circuit breaker.
func (s *IngestService) createIdempotency(ctx context.Context, key, eventID string) error {
	_, err := s.breaker.Execute(func() (any, error) {
		return s.Repo.CreateIdempotency(ctx, s.DB, key, eventID, s.TTL)
	})
	return mapStoreErr(err)
}

// mapStoreErr normalizes breaker and driver failures into the service error
// taxonomy while letting logical outcomes pass through.
func mapStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repo.ErrNotFound), errors.Is(err, repo.ErrDuplicate):
		return err
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%w: circuit open", ErrStoreUnavailable)
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

// validateDraft enforces the event schema before any store access.
func validateDraft(d *EventDraft) error {
	if d.ActorID == "" {
		return ErrMissingActor
	}
	if !d.Verb.Valid() {
		return ErrInvalidVerb
	}
	if d.ObjectType == "" || d.ObjectID == "" {
		return ErrMissingObject
	}
	return nil
}
