package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"gorm.io/gorm"

	"github.com/tbourn/go-feed-backend/internal/domain"
	"github.com/tbourn/go-feed-backend/internal/ranking"
)

type fakeAnalyticsRepo struct {
	total int64
	err   error
}

func (f *fakeAnalyticsRepo) CountEvents(_ context.Context, _ *gorm.DB) (int64, error) {
	return f.total, f.err
}

func analyticsEvent(objectID string, verb domain.Verb) *domain.Event {
	return &domain.Event{
		ID:         objectID + "-ev",
		ActorID:    "actor-1",
		Verb:       verb,
		ObjectType: "article",
		ObjectID:   objectID,
	}
}

func TestTopK_RanksAndRounds(t *testing.T) {
	agg := ranking.New()
	for i := 0; i < 3; i++ {
		agg.Record(analyticsEvent("hot", domain.VerbLike))
	}
	agg.Record(analyticsEvent("cold", domain.VerbShare))

	s := NewAnalyticsService(nil, &fakeAnalyticsRepo{total: 4}, agg)
	res, err := s.TopK(context.Background(), "5m", 10)
	if err != nil {
		t.Fatalf("TopK: %v", err)
	}

	if res.Window != "5m" || res.TotalEvents != 4 || res.Timestamp.IsZero() {
		t.Fatalf("envelope wrong: %+v", res)
	}
	if len(res.Items) != 2 || res.Items[0].ObjectID != "hot" || res.Items[1].ObjectID != "cold" {
		t.Fatalf("ranking wrong: %+v", res.Items)
	}
	// Fresh records have not decayed measurably; rounding lands on the raw
	// counts.
	if res.Items[0].Count != 3 || res.Items[0].Verbs[domain.VerbLike] != 3 {
		t.Fatalf("counts wrong: %+v", res.Items[0])
	}
}

func TestTopK_KDefaultsAndCaps(t *testing.T) {
	agg := ranking.New()
	for i := 0; i < 120; i++ {
		agg.Record(analyticsEvent(fmt.Sprintf("obj-%03d", i), domain.VerbShare))
	}
	s := NewAnalyticsService(nil, &fakeAnalyticsRepo{}, agg)
	ctx := context.Background()

	res, err := s.TopK(ctx, "1h", 0)
	if err != nil {
		t.Fatalf("TopK: %v", err)
	}
	if len(res.Items) != 10 {
		t.Fatalf("k<=0 must default to 10, got %d", len(res.Items))
	}

	res, err = s.TopK(ctx, "1h", 5_000)
	if err != nil {
		t.Fatalf("TopK: %v", err)
	}
	if len(res.Items) != MaxTopItems {
		t.Fatalf("oversized k must cap at %d, got %d", MaxTopItems, len(res.Items))
	}
}

func TestTopK_UnknownWindow(t *testing.T) {
	s := NewAnalyticsService(nil, &fakeAnalyticsRepo{}, ranking.New())
	if _, err := s.TopK(context.Background(), "2w", 10); !errors.Is(err, ranking.ErrUnknownWindow) {
		t.Fatalf("err = %v; want ErrUnknownWindow", err)
	}
}

func TestTopK_CountFailurePropagates(t *testing.T) {
	s := NewAnalyticsService(nil, &fakeAnalyticsRepo{err: errors.New("down")}, ranking.New())
	if _, err := s.TopK(context.Background(), "5m", 10); err == nil {
		t.Fatalf("expected store error")
	}
}
