// Package services implements the business logic of the activity feed
// platform. This file provides the analytics facade over the windowed top-K
// aggregator.
package services

import (
	"context"
	"math"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-feed-backend/internal/domain"
	"github.com/tbourn/go-feed-backend/internal/ranking"
	"github.com/tbourn/go-feed-backend/internal/utils"
)

// MaxTopItems caps how many ranked objects one analytics response carries.
const MaxTopItems = 100

// TopItem is one ranked object as served to clients. Counts are decayed
// values rounded to integers for presentation.
type TopItem struct {
	ObjectID   string                `json:"object_id"`
	ObjectType string                `json:"object_type"`
	Count      int64                 `json:"count"`
	Verbs      map[domain.Verb]int64 `json:"verbs"`
}

// AnalyticsResult is one top-K snapshot for a window.
type AnalyticsResult struct {
	Window      string    `json:"window"`
	Items       []TopItem `json:"items"`
	TotalEvents int64     `json:"total_events"`
	Timestamp   time.Time `json:"timestamp"`
}

// AnalyticsRepo defines the repository contract required by AnalyticsService.
type AnalyticsRepo interface {
	CountEvents(ctx context.Context, db *gorm.DB) (int64, error)
}

// AnalyticsService serves windowed top-K rankings.
type AnalyticsService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo supplies the all-time event total.
	Repo AnalyticsRepo
	// Ranking is the live aggregator fed by the analytics consumer.
	Ranking *ranking.Aggregator
}

// NewAnalyticsService constructs an AnalyticsService.
func NewAnalyticsService(db *gorm.DB, r AnalyticsRepo, agg *ranking.Aggregator) *AnalyticsService {
	return &AnalyticsService{DB: db, Repo: r, Ranking: agg}
}

// TopK returns the k most active objects in the window, sorted by decayed
// count descending with object ID as tie-break. k is clamped to
// [1, MaxTopItems].
func (s *AnalyticsService) TopK(ctx context.Context, window string, k int) (*AnalyticsResult, error) {
	if k <= 0 {
		k = 10
	}
	k = utils.ClampInt(k, 1, MaxTopItems)

	entries, err := s.Ranking.TopK(window, k)
	if err != nil {
		return nil, err
	}

	items := make([]TopItem, len(entries))
	for i, e := range entries {
		verbs := make(map[domain.Verb]int64, len(e.Verbs))
		for v, n := range e.Verbs {
			verbs[v] = int64(math.Round(n))
		}
		items[i] = TopItem{
			ObjectID:   e.ObjectID,
			ObjectType: e.ObjectType,
			Count:      int64(math.Round(e.Count)),
			Verbs:      verbs,
		}
	}

	total, err := s.Repo.CountEvents(ctx, s.DB)
	if err != nil {
		return nil, err
	}

	return &AnalyticsResult{
		Window:      window,
		Items:       items,
		TotalEvents: total,
		Timestamp:   time.Now().UTC(),
	}, nil
}
