// Package services implements the business logic of the activity feed
// platform.
//
// This file implements the hybrid fanout router. Normal actors are fanned
// out on write: one feed row per recipient, inserted idempotently so
// at-least-once delivery can retry freely. High-fanout (celebrity) actors
// are fanned out on read: their events go to the bounded celebrity cache and
// followers merge them at read time, avoiding write amplification of tens of
// thousands of rows per event.
//
// Per-target failures never abort the rest of the fanout and never fail the
// ingesting client; they are persisted to a retry queue and re-driven by a
// rate-limited background sweep.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/tbourn/go-feed-backend/internal/cache"
	"github.com/tbourn/go-feed-backend/internal/domain"
	"github.com/tbourn/go-feed-backend/internal/repo"
)

// FanoutMode identifies which strategy routed an event.
type FanoutMode string

// Routing modes.
const (
	FanoutWrite FanoutMode = "write"
	FanoutRead  FanoutMode = "read"
)

// Sweep tuning defaults.
const (
	// DefaultRetryDelay spaces a failed target's attempts apart.
	DefaultRetryDelay = 30 * time.Second
	// DefaultMaxAttempts caps retries per target before the sweep gives up.
	DefaultMaxAttempts = 10
	// defaultSweepBatch bounds how many due rows one sweep pass claims.
	defaultSweepBatch = 256
)

// FanoutResult reports per-target outcomes for one routed event. Partial
// failure is non-fatal: failed targets are queued for retry, not surfaced to
// the ingesting client.
type FanoutResult struct {
	Mode    FanoutMode
	Written []string
	Failed  []string
}

// FanoutRepo defines the repository contract required by FanoutService.
type FanoutRepo interface {
	// CountFollowers returns the live follower cardinality for an actor.
	CountFollowers(ctx context.Context, db *gorm.DB, actorID string) (int64, error)

	// InsertFeedEntry idempotently writes one (user, event) feed row.
	InsertFeedEntry(ctx context.Context, db *gorm.DB, userID, eventID string, createdAt time.Time) error

	// EnqueueFanoutRetry records a failed target for the background sweep.
	EnqueueFanoutRetry(ctx context.Context, db *gorm.DB, eventID, userID string, nextAttempt time.Time) error

	// ListDueFanoutRetries returns retry rows whose attempt time has passed.
	ListDueFanoutRetries(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.FanoutRetry, error)

	// ResolveFanoutRetry deletes a retry row.
	ResolveFanoutRetry(ctx context.Context, db *gorm.DB, id uint) error

	// RescheduleFanoutRetry bumps attempts and defers the row.
	RescheduleFanoutRetry(ctx context.Context, db *gorm.DB, id uint, delay time.Duration) error

	// GetEvent loads an event by ID or repo.ErrNotFound.
	GetEvent(ctx context.Context, db *gorm.DB, id string) (*domain.Event, error)
}

// FanoutService routes committed events into per-user feeds or the celebrity
// cache.
type FanoutService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the fanout repository.
	Repo FanoutRepo
	// Policy supplies the classification threshold, re-read per decision.
	Policy *FanoutPolicy
	// Cache receives read-fanout events.
	Cache *cache.Celebrity
	// Logger emits per-target failure diagnostics.
	Logger zerolog.Logger

	// RetryDelay and MaxAttempts tune the background sweep.
	RetryDelay  time.Duration
	MaxAttempts int

	// limiter paces retry writes so the sweep cannot starve live fanout.
	limiter *rate.Limiter
}

// NewFanoutService constructs a FanoutService with sweep defaults.
func NewFanoutService(db *gorm.DB, r FanoutRepo, policy *FanoutPolicy, c *cache.Celebrity, logger zerolog.Logger) *FanoutService {
	return &FanoutService{
		DB:          db,
		Repo:        r,
		Policy:      policy,
		Cache:       c,
		Logger:      logger,
		RetryDelay:  DefaultRetryDelay,
		MaxAttempts: DefaultMaxAttempts,
		limiter:     rate.NewLimiter(rate.Limit(200), 50),
	}
}

// Route dispatches one committed event according to the actor's current
// classification. Classification is evaluated here, at dispatch time, so a
// threshold change applies to the next event without re-routing old ones.
func (s *FanoutService) Route(ctx context.Context, ev *domain.Event) (*FanoutResult, error) {
	high, err := s.classify(ctx, ev)
	if err != nil {
		return nil, err
	}

	if high {
		fanoutRouted.WithLabelValues(string(FanoutRead)).Inc()
		s.Cache.Append(*ev)
		return &FanoutResult{Mode: FanoutRead}, nil
	}

	fanoutRouted.WithLabelValues(string(FanoutWrite)).Inc()
	res := &FanoutResult{Mode: FanoutWrite}
	for _, userID := range ev.TargetUserIDs {
		if err := s.Repo.InsertFeedEntry(ctx, s.DB, userID, ev.ID, ev.CreatedAt); err != nil {
			fanoutEntries.WithLabelValues("failed").Inc()
			res.Failed = append(res.Failed, userID)
			s.Logger.Warn().
				Err(err).
				Str("event_id", ev.ID).
				Str("user_id", userID).
				Msg("fanout target failed, queued for retry")
			if qErr := s.Repo.EnqueueFanoutRetry(ctx, s.DB, ev.ID, userID, time.Now().UTC().Add(s.RetryDelay)); qErr != nil {
				s.Logger.Error().
					Err(qErr).
					Str("event_id", ev.ID).
					Str("user_id", userID).
					Msg("fanout retry enqueue failed")
			}
			continue
		}
		fanoutEntries.WithLabelValues("written").Inc()
		res.Written = append(res.Written, userID)
	}
	return res, nil
}

// classify decides write- vs read-fanout for this event. The audience
// cardinality is the larger of the actor's follower count and the event's
// own target list, compared against the current policy threshold.
func (s *FanoutService) classify(ctx context.Context, ev *domain.Event) (bool, error) {
	cardinality := int64(len(ev.TargetUserIDs))
	followers, err := s.Repo.CountFollowers(ctx, s.DB, ev.ActorID)
	if err != nil {
		return false, err
	}
	if followers > cardinality {
		cardinality = followers
	}
	return s.Policy.HighFanout(cardinality), nil
}

// Sweep retries due failed targets once each. Returns how many rows were
// resolved (entry written or abandoned) and how many were rescheduled.
func (s *FanoutService) Sweep(ctx context.Context) (resolved, rescheduled int, err error) {
	due, err := s.Repo.ListDueFanoutRetries(ctx, s.DB, time.Now().UTC(), defaultSweepBatch)
	if err != nil {
		return 0, 0, err
	}
	for i := range due {
		row := &due[i]
		if err := s.limiter.Wait(ctx); err != nil {
			return resolved, rescheduled, err
		}

		ev, err := s.Repo.GetEvent(ctx, s.DB, row.EventID)
		if errors.Is(err, repo.ErrNotFound) {
			// Event expired out of retention; nothing left to deliver.
			_ = s.Repo.ResolveFanoutRetry(ctx, s.DB, row.ID)
			resolved++
			continue
		}
		if err != nil {
			return resolved, rescheduled, err
		}

		if err := s.Repo.InsertFeedEntry(ctx, s.DB, row.UserID, ev.ID, ev.CreatedAt); err != nil {
			if row.Attempts+1 >= s.MaxAttempts {
				fanoutEntries.WithLabelValues("abandoned").Inc()
				s.Logger.Error().
					Str("event_id", row.EventID).
					Str("user_id", row.UserID).
					Int("attempts", row.Attempts+1).
					Msg("fanout target abandoned after max attempts")
				_ = s.Repo.ResolveFanoutRetry(ctx, s.DB, row.ID)
				resolved++
				continue
			}
			_ = s.Repo.RescheduleFanoutRetry(ctx, s.DB, row.ID, s.RetryDelay)
			rescheduled++
			continue
		}

		fanoutEntries.WithLabelValues("retried").Inc()
		if err := s.Repo.ResolveFanoutRetry(ctx, s.DB, row.ID); err != nil {
			return resolved, rescheduled, err
		}
		resolved++
	}
	return resolved, rescheduled, nil
}

// RunSweeper runs Sweep on a fixed interval until ctx is canceled. Errors
// are logged and the loop keeps going; a broken sweep pass must not take the
// retry path down with it.
func (s *FanoutService) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := s.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.Logger.Error().Err(err).Msg("fanout retry sweep failed")
			}
		}
	}
}
