// Package ranking maintains the windowed top-K activity index: per-object
// counters that decay exponentially over sliding windows (1m, 5m, 1h).
//
// Engineering properties:
//
//   - Concurrency-safe Record from many ingestion paths; counters live in
//     lock-sharded tables keyed by object ID, never behind one global lock.
//   - O(1) per Record: decay is applied lazily on touch using the closed
//     form count·exp(-Δt/τ), so no timer wheel or bucket rotation exists.
//   - Bounded memory: entries whose decayed count falls under a floor are
//     evicted lazily on read and by a periodic sweep.
//   - Deterministic output: TopK sorts by decayed count descending with ties
//     broken by object ID ascending.
//
// Continuous exponential decay was chosen over tumbling/sliding buckets; the
// trade-off is recorded in DESIGN.md.
package ranking

import (
	"errors"
	"hash/fnv"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/tbourn/go-feed-backend/internal/domain"
)

// ErrUnknownWindow indicates a window label outside the configured set.
var ErrUnknownWindow = errors.New("unknown window")

// DefaultFloor is the decayed count under which an entry is evicted.
const DefaultFloor = 0.01

// shardCount must be a power of two.
const shardCount = 16

// Window pairs a client-visible label with its decay time constant τ.
// A count left untouched for t decays by exp(-t/τ).
type Window struct {
	Label string
	Tau   time.Duration
}

// DefaultWindows are the windows the platform serves: 1m, 5m and 1h.
func DefaultWindows() []Window {
	return []Window{
		{Label: "1m", Tau: time.Minute},
		{Label: "5m", Tau: 5 * time.Minute},
		{Label: "1h", Tau: time.Hour},
	}
}

// Entry is one ranked object as returned by TopK.
type Entry struct {
	ObjectID   string
	ObjectType string
	Count      float64
	Verbs      map[domain.Verb]float64
}

// counter is the mutable per-(window, object) state. All fields are guarded
// by the owning shard's mutex.
type counter struct {
	objectType string
	count      float64
	verbs      map[domain.Verb]float64
	touchedAt  time.Time
}

// decayTo folds elapsed time into the counter, bringing it current at now.
func (c *counter) decayTo(now time.Time, tau time.Duration) {
	dt := now.Sub(c.touchedAt)
	if dt <= 0 {
		return
	}
	f := math.Exp(-dt.Seconds() / tau.Seconds())
	c.count *= f
	for v := range c.verbs {
		c.verbs[v] *= f
	}
	c.touchedAt = now
}

type shard struct {
	mu       sync.Mutex
	counters map[string]*counter
}

type windowTable struct {
	tau    time.Duration
	shards [shardCount]*shard
}

func newWindowTable(tau time.Duration) *windowTable {
	t := &windowTable{tau: tau}
	for i := range t.shards {
		t.shards[i] = &shard{counters: make(map[string]*counter)}
	}
	return t
}

func (t *windowTable) shardFor(objectID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(objectID))
	return t.shards[h.Sum32()&(shardCount-1)]
}

// ----------------------------------------------------------------------------
// Options

type Option func(*Aggregator)

// WithFloor overrides the eviction floor. Values <= 0 are ignored.
func WithFloor(floor float64) Option {
	return func(a *Aggregator) {
		if floor > 0 {
			a.floor = floor
		}
	}
}

// WithWindows replaces the window set. Empty sets are ignored.
func WithWindows(ws []Window) Option {
	return func(a *Aggregator) {
		if len(ws) > 0 {
			a.windowSet = ws
		}
	}
}

// WithClock injects a time source (tests).
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// ----------------------------------------------------------------------------
// Aggregator

// Aggregator is the concurrent windowed top-K index.
type Aggregator struct {
	floor     float64
	now       func() time.Time
	windowSet []Window
	windows   map[string]*windowTable
}

// New constructs an Aggregator with the default windows and floor.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		floor:     DefaultFloor,
		now:       time.Now,
		windowSet: DefaultWindows(),
	}
	for _, o := range opts {
		o(a)
	}
	a.windows = make(map[string]*windowTable, len(a.windowSet))
	for _, w := range a.windowSet {
		a.windows[w.Label] = newWindowTable(w.Tau)
	}
	return a
}

// Windows returns the configured window labels in order.
func (a *Aggregator) Windows() []string {
	out := make([]string, len(a.windowSet))
	for i, w := range a.windowSet {
		out[i] = w.Label
	}
	return out
}

// Record folds one event into every window. The per-entry decay-and-add is
// atomic under the shard lock, so concurrent callers never lose updates.
func (a *Aggregator) Record(ev *domain.Event) {
	now := a.now()
	for _, t := range a.windows {
		s := t.shardFor(ev.ObjectID)
		s.mu.Lock()
		c := s.counters[ev.ObjectID]
		if c == nil {
			c = &counter{
				objectType: ev.ObjectType,
				verbs:      make(map[domain.Verb]float64, len(domain.Verbs)),
				touchedAt:  now,
			}
			s.counters[ev.ObjectID] = c
		} else {
			c.decayTo(now, t.tau)
			// Lazy eviction on touch: a fully decayed counter restarts clean.
			if c.count < a.floor {
				c.count = 0
				for v := range c.verbs {
					delete(c.verbs, v)
				}
			}
		}
		c.count++
		c.verbs[ev.Verb]++
		s.mu.Unlock()
	}
}

// TopK returns the k highest-ranked objects for the window, decayed to the
// current instant, sorted by count descending with object ID ascending as
// tie-break. Entries below the floor are dropped from the table as a side
// effect.
func (a *Aggregator) TopK(window string, k int) ([]Entry, error) {
	t, ok := a.windows[window]
	if !ok {
		return nil, ErrUnknownWindow
	}
	if k <= 0 {
		return nil, nil
	}

	now := a.now()
	var out []Entry
	for _, s := range t.shards {
		s.mu.Lock()
		for id, c := range s.counters {
			c.decayTo(now, t.tau)
			if c.count < a.floor {
				delete(s.counters, id)
				continue
			}
			verbs := make(map[domain.Verb]float64, len(c.verbs))
			for v, n := range c.verbs {
				verbs[v] = n
			}
			out = append(out, Entry{
				ObjectID:   id,
				ObjectType: c.objectType,
				Count:      c.count,
				Verbs:      verbs,
			})
		}
		s.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].ObjectID < out[j].ObjectID
	})
	if k < len(out) {
		out = out[:k]
	}
	return out, nil
}

// Sweep evicts every entry below the floor across all windows and returns
// the number removed. Run it periodically so objects that stop receiving
// traffic cannot pin memory between reads.
func (a *Aggregator) Sweep() int {
	now := a.now()
	evicted := 0
	for _, t := range a.windows {
		for _, s := range t.shards {
			s.mu.Lock()
			for id, c := range s.counters {
				c.decayTo(now, t.tau)
				if c.count < a.floor {
					delete(s.counters, id)
					evicted++
				}
			}
			s.mu.Unlock()
		}
	}
	return evicted
}

// Size reports the total number of live counters across all windows.
func (a *Aggregator) Size() int {
	n := 0
	for _, t := range a.windows {
		for _, s := range t.shards {
			s.mu.Lock()
			n += len(s.counters)
			s.mu.Unlock()
		}
	}
	return n
}
