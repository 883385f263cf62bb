package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-feed-backend/internal/domain"
	"github.com/tbourn/go-feed-backend/internal/repo"
)

// fakeIngestRepo is an in-memory IngestRepo with the same winner/loser
// semantics as the real one: one CreateIdempotency per key succeeds.
type fakeIngestRepo struct {
	mu     sync.Mutex
	recs   map[string]*domain.Idempotency
	events map[string]*domain.Event

	getErr    error
	createErr error
	appendErr error
	deleteErr error

	getCalls    int
	appendCalls int

	// missOnce forces the first lookup to miss even when the key exists,
	// simulating a winner that inserted between lookup and create.
	missOnce bool
}

func newFakeIngestRepo() *fakeIngestRepo {
	return &fakeIngestRepo{
		recs:   make(map[string]*domain.Idempotency),
		events: make(map[string]*domain.Event),
	}
}

func (f *fakeIngestRepo) GetIdempotency(_ context.Context, _ *gorm.DB, key string, _ time.Time) (*domain.Idempotency, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.missOnce {
		f.missOnce = false
		return nil, repo.ErrNotFound
	}
	rec, ok := f.recs[key]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return rec, nil
}

func (f *fakeIngestRepo) CreateIdempotency(_ context.Context, _ *gorm.DB, key, eventID string, ttl time.Duration) (*domain.Idempotency, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	if _, ok := f.recs[key]; ok {
		return nil, repo.ErrDuplicate
	}
	rec := &domain.Idempotency{Key: key, EventID: eventID, ExpiresAt: time.Now().UTC().Add(ttl)}
	f.recs[key] = rec
	return rec, nil
}

func (f *fakeIngestRepo) AppendEvent(_ context.Context, _ *gorm.DB, ev *domain.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appendCalls++
	if f.appendErr != nil {
		return f.appendErr
	}
	f.events[ev.ID] = ev
	return nil
}

func (f *fakeIngestRepo) DeleteIdempotency(_ context.Context, _ *gorm.DB, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.recs, key)
	return nil
}

func (f *fakeIngestRepo) GetEvent(_ context.Context, _ *gorm.DB, id string) (*domain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return ev, nil
}

type fakeBus struct {
	mu        sync.Mutex
	published []*domain.Event
	topics    []string
	err       error
}

func (b *fakeBus) PublishEvent(topic string, ev *domain.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.published = append(b.published, ev)
	b.topics = append(b.topics, topic)
	return nil
}

func validDraft() EventDraft {
	return EventDraft{
		ActorID:       "actor-1",
		ActorName:     "Actor One",
		Verb:          domain.VerbShare,
		ObjectType:    "article",
		ObjectID:      "obj-1",
		ObjectTitle:   "Hello",
		TargetUserIDs: []string{"u1", "u2"},
	}
}

func TestSubmit_FreshEvent(t *testing.T) {
	r := newFakeIngestRepo()
	bus := &fakeBus{}
	s := NewIngestService(nil, r, bus)

	res, err := s.Submit(context.Background(), validDraft(), "key-1")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Duplicate {
		t.Fatalf("fresh submission reported as duplicate")
	}
	if res.EventID == "" || res.Event == nil || res.Event.ID != res.EventID {
		t.Fatalf("identity not assigned: %+v", res)
	}

	stored := r.events[res.EventID]
	if stored == nil {
		t.Fatalf("event not appended")
	}
	if stored.ActorID != "actor-1" || stored.Verb != domain.VerbShare || stored.ObjectID != "obj-1" {
		t.Fatalf("stored event wrong: %+v", stored)
	}
	if stored.CreatedAt.IsZero() {
		t.Fatalf("created_at not set")
	}
	if len(bus.published) != 1 || bus.published[0].ID != res.EventID {
		t.Fatalf("expected one published event, got %+v", bus.published)
	}
}

func TestSubmit_Validation(t *testing.T) {
	cases := []struct {
		name  string
		mut   func(*EventDraft)
		key   string
		want  error
	}{
		{"missing actor", func(d *EventDraft) { d.ActorID = "" }, "k", ErrMissingActor},
		{"invalid verb", func(d *EventDraft) { d.Verb = "shouted" }, "k", ErrInvalidVerb},
		{"missing object type", func(d *EventDraft) { d.ObjectType = "" }, "k", ErrMissingObject},
		{"missing object id", func(d *EventDraft) { d.ObjectID = "" }, "k", ErrMissingObject},
		{"missing key", func(d *EventDraft) {}, "", ErrMissingIdempotencyKey},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newFakeIngestRepo()
			s := NewIngestService(nil, r, &fakeBus{})
			d := validDraft()
			tc.mut(&d)

			_, err := s.Submit(context.Background(), d, tc.key)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v; want %v", err, tc.want)
			}
			if r.getCalls != 0 || r.appendCalls != 0 {
				t.Fatalf("rejected draft must not touch the store")
			}
		})
	}
}

func TestSubmit_ReplayedKey(t *testing.T) {
	r := newFakeIngestRepo()
	bus := &fakeBus{}
	s := NewIngestService(nil, r, bus)
	ctx := context.Background()

	first, err := s.Submit(ctx, validDraft(), "key-1")
	if err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	second, err := s.Submit(ctx, validDraft(), "key-1")
	if err != nil {
		t.Fatalf("replay Submit: %v", err)
	}

	if !second.Duplicate {
		t.Fatalf("replay not flagged as duplicate")
	}
	if second.EventID != first.EventID {
		t.Fatalf("replay resolved to %q; want %q", second.EventID, first.EventID)
	}
	if second.Event == nil || second.Event.ID != first.EventID {
		t.Fatalf("replay did not load winner event: %+v", second.Event)
	}
	if r.appendCalls != 1 || len(bus.published) != 1 {
		t.Fatalf("replay must not re-append or re-publish: appends=%d published=%d", r.appendCalls, len(bus.published))
	}
}

func TestSubmit_RaceLoserObservesWinner(t *testing.T) {
	r := newFakeIngestRepo()
	bus := &fakeBus{}
	s := NewIngestService(nil, r, bus)
	ctx := context.Background()

	// Winner committed its mapping and event already.
	winner := &domain.Event{ID: "ev-winner", ActorID: "actor-1", CreatedAt: time.Now().UTC()}
	r.events[winner.ID] = winner
	r.recs["key-1"] = &domain.Idempotency{Key: "key-1", EventID: winner.ID, ExpiresAt: time.Now().Add(time.Hour)}

	// Our fast-path lookup raced ahead of the winner's insert.
	r.missOnce = true

	res, err := s.Submit(ctx, validDraft(), "key-1")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !res.Duplicate || res.EventID != "ev-winner" {
		t.Fatalf("loser must resolve to winner: %+v", res)
	}
	if r.appendCalls != 0 || len(bus.published) != 0 {
		t.Fatalf("loser must not append or publish")
	}
}

func TestSubmit_AppendFailure(t *testing.T) {
	r := newFakeIngestRepo()
	r.appendErr = errors.New("disk full")
	bus := &fakeBus{}
	s := NewIngestService(nil, r, bus)

	_, err := s.Submit(context.Background(), validDraft(), "key-1")
	if !errors.Is(err, ErrPersist) {
		t.Fatalf("err = %v; want ErrPersist", err)
	}
	if len(bus.published) != 0 {
		t.Fatalf("nothing may be published when the append fails")
	}
	if _, ok := r.recs["key-1"]; ok {
		t.Fatalf("failed append must release the idempotency key")
	}
}

func TestSubmit_AppendFailureThenRetrySucceeds(t *testing.T) {
	r := newFakeIngestRepo()
	r.appendErr = errors.New("disk full")
	bus := &fakeBus{}
	s := NewIngestService(nil, r, bus)
	ctx := context.Background()

	if _, err := s.Submit(ctx, validDraft(), "key-1"); !errors.Is(err, ErrPersist) {
		t.Fatalf("err = %v; want ErrPersist", err)
	}

	// The store recovers. Retrying the same key must commit and publish a
	// fresh event, not replay the aborted one.
	r.appendErr = nil
	res, err := s.Submit(ctx, validDraft(), "key-1")
	if err != nil {
		t.Fatalf("retry Submit: %v", err)
	}
	if res.Duplicate {
		t.Fatalf("retry after a failed append reported as duplicate")
	}
	if res.Event == nil || r.events[res.EventID] == nil {
		t.Fatalf("retried event not committed: %+v", res)
	}
	if len(bus.published) != 1 || bus.published[0].ID != res.EventID {
		t.Fatalf("retried event not published: %+v", bus.published)
	}
}

func TestSubmit_AppendAndReleaseBothFail(t *testing.T) {
	r := newFakeIngestRepo()
	r.appendErr = errors.New("disk full")
	r.deleteErr = errors.New("still down")
	s := NewIngestService(nil, r, &fakeBus{})

	_, err := s.Submit(context.Background(), validDraft(), "key-1")
	if !errors.Is(err, ErrPersist) {
		t.Fatalf("err = %v; want ErrPersist", err)
	}
	if !strings.Contains(err.Error(), "key not released") {
		t.Fatalf("err = %v; want the stuck key surfaced", err)
	}
}

func TestSubmit_StoreFaultMapsToUnavailable(t *testing.T) {
	r := newFakeIngestRepo()
	r.getErr = errors.New("connection reset")
	s := NewIngestService(nil, r, &fakeBus{})

	_, err := s.Submit(context.Background(), validDraft(), "key-1")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("err = %v; want ErrStoreUnavailable", err)
	}
}

func TestSubmit_BreakerOpensAfterConsecutiveFaults(t *testing.T) {
	r := newFakeIngestRepo()
	r.getErr = errors.New("connection reset")
	s := NewIngestService(nil, r, &fakeBus{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := s.Submit(ctx, validDraft(), "key-1"); !errors.Is(err, ErrStoreUnavailable) {
			t.Fatalf("fault %d: err = %v; want ErrStoreUnavailable", i, err)
		}
	}
	callsBefore := r.getCalls

	// The breaker is open now: the store must not be touched again.
	_, err := s.Submit(ctx, validDraft(), "key-1")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("err = %v; want ErrStoreUnavailable", err)
	}
	if !strings.Contains(err.Error(), "circuit open") {
		t.Fatalf("err = %v; want circuit-open diagnostic", err)
	}
	if r.getCalls != callsBefore {
		t.Fatalf("open breaker still hit the store")
	}
}

func TestSubmit_PublishFailureDoesNotFailSubmission(t *testing.T) {
	r := newFakeIngestRepo()
	bus := &fakeBus{err: errors.New("bus closed")}
	s := NewIngestService(nil, r, bus)

	var observed string
	s.OnPublishError = func(eventID string, err error) { observed = eventID }

	res, err := s.Submit(context.Background(), validDraft(), "key-1")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Duplicate || res.EventID == "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if observed != res.EventID {
		t.Fatalf("OnPublishError saw %q; want %q", observed, res.EventID)
	}
	if r.events[res.EventID] == nil {
		t.Fatalf("event must still be committed")
	}
}

func TestSubmit_ConcurrentSameKeySingleWinner(t *testing.T) {
	r := newFakeIngestRepo()
	s := NewIngestService(nil, r, &fakeBus{})
	ctx := context.Background()

	const n = 8
	results := make([]*SubmitResult, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.Submit(ctx, validDraft(), "shared-key")
		}(i)
	}
	wg.Wait()

	fresh := 0
	var eventID string
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("submit %d: %v", i, errs[i])
		}
		if eventID == "" {
			eventID = results[i].EventID
		}
		if results[i].EventID != eventID {
			t.Fatalf("divergent event IDs: %q vs %q", results[i].EventID, eventID)
		}
		if !results[i].Duplicate {
			fresh++
		}
	}
	if fresh != 1 {
		t.Fatalf("fresh submissions = %d; want exactly 1", fresh)
	}
	if r.appendCalls != 1 {
		t.Fatalf("append calls = %d; want 1", r.appendCalls)
	}
}

func TestNextTimestamp_NeverMovesBackward(t *testing.T) {
	s := NewIngestService(nil, newFakeIngestRepo(), &fakeBus{})

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := []time.Time{base, base.Add(time.Second), base.Add(-time.Hour), base.Add(2 * time.Second)}
	i := 0
	s.nowFn = func() time.Time { t := clock[i]; i++; return t }

	var prev time.Time
	for range clock {
		ts := s.nextTimestamp()
		if ts.Before(prev) {
			t.Fatalf("timestamp moved backward: %v after %v", ts, prev)
		}
		prev = ts
	}
}
