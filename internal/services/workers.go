// Package services implements the business logic of the activity feed
// platform. This file wires the delivery channel to its three consumers:
// the fanout router, the live notification dispatcher, and the top-K
// aggregator. Each consumer holds its own subscription, so a slow or failing
// consumer never stalls the others.
package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-feed-backend/internal/domain"
	"github.com/tbourn/go-feed-backend/internal/notify"
	"github.com/tbourn/go-feed-backend/internal/ranking"
	"github.com/tbourn/go-feed-backend/internal/stream"
)

// Workers owns the background consumers of committed events.
type Workers struct {
	// Bus is the delivery channel carrying committed events.
	Bus *stream.Bus
	// Fanout routes events into feeds or the celebrity cache.
	Fanout *FanoutService
	// Dispatcher pushes events to live listeners.
	Dispatcher *notify.Dispatcher
	// Ranking folds events into the top-K index.
	Ranking *ranking.Aggregator
	// Logger reports consumer lifecycle and failures.
	Logger zerolog.Logger

	// SweepInterval paces the fanout retry sweep; JanitorInterval paces
	// top-K floor eviction.
	SweepInterval   time.Duration
	JanitorInterval time.Duration
}

// Start subscribes every consumer and launches its loop. Subscriptions are
// created before Start returns so no event published afterwards is missed;
// the loops run until ctx is canceled or the bus closes.
func (w *Workers) Start(ctx context.Context) error {
	fanoutMsgs, err := w.Bus.Subscribe(ctx, stream.TopicEventsCommitted)
	if err != nil {
		return err
	}
	notifyMsgs, err := w.Bus.Subscribe(ctx, stream.TopicEventsCommitted)
	if err != nil {
		return err
	}
	rankingMsgs, err := w.Bus.Subscribe(ctx, stream.TopicEventsCommitted)
	if err != nil {
		return err
	}

	// Fanout is at-least-once: handler errors nack for redelivery, and the
	// idempotent feed insert absorbs the resulting duplicates.
	go stream.Consume(ctx, fanoutMsgs, func(ctx context.Context, ev *domain.Event) error {
		_, err := w.Fanout.Route(ctx, ev)
		if err != nil {
			w.Logger.Error().Err(err).Str("event_id", ev.ID).Msg("fanout route failed")
		}
		return err
	})

	// Notifications are at-most-once by contract: never nack, never retry.
	go stream.Consume(ctx, notifyMsgs, func(_ context.Context, ev *domain.Event) error {
		w.Dispatcher.Publish(*ev)
		return nil
	})

	// Ranking updates are idempotent per delivery only in the at-most-once
	// sense; Record never fails, so no redelivery ever occurs.
	go stream.Consume(ctx, rankingMsgs, func(_ context.Context, ev *domain.Event) error {
		w.Ranking.Record(ev)
		return nil
	})

	go w.Fanout.RunSweeper(ctx, w.SweepInterval)
	go w.runJanitor(ctx)

	return nil
}

// runJanitor periodically evicts decayed-out ranking entries so idle objects
// cannot pin memory between reads.
func (w *Workers) runJanitor(ctx context.Context) {
	interval := w.JanitorInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := w.Ranking.Sweep(); n > 0 {
				w.Logger.Debug().Int("evicted", n).Msg("ranking janitor sweep")
			}
		}
	}
}
