// Package notify implements the live notification dispatcher: an in-process
// hub that pushes freshly committed events to subscribed listeners.
//
// Delivery is at-most-once by design. Nothing is persisted here; a client
// that misses a push recovers by polling the feed, which is the durable
// read path. The hub isolates slow consumers: when a listener's buffer is
// full the oldest buffered notification is dropped for that listener only,
// publication to everyone else is never blocked, and the drop is counted
// where tests and monitoring can see it.
package notify

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tbourn/go-feed-backend/internal/domain"
)

// DefaultBufferSize is the per-listener notification buffer capacity.
const DefaultBufferSize = 16

var (
	// notifyDelivered counts notifications handed to listener buffers.
	notifyDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notify_delivered_total",
		Help: "Total notifications delivered to listener buffers.",
	})

	// notifyDropped counts notifications discarded due to listener backpressure.
	notifyDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notify_dropped_total",
		Help: "Total notifications dropped because a listener buffer was full.",
	})

	// notifyListeners gauges currently subscribed listeners.
	notifyListeners = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notify_listeners",
		Help: "Current number of subscribed notification listeners.",
	})
)

func init() {
	prometheus.MustRegister(notifyDelivered, notifyDropped, notifyListeners)
}

// Notification is one pushed event plus the instant it was dispatched.
type Notification struct {
	Event      domain.Event `json:"event"`
	NotifiedAt time.Time    `json:"notified_at"`
}

// Listener is one live subscription. Consume from Events until it is closed,
// then check Dropped for how many notifications backpressure discarded.
type Listener struct {
	userID string
	ch     chan Notification

	mu      sync.Mutex // guards closed and sends into ch
	closed  bool
	once    sync.Once
	dropped atomic.Int64

	hub *Dispatcher
}

// Events returns the receive side of the listener's buffer. The channel is
// closed by Close.
func (l *Listener) Events() <-chan Notification { return l.ch }

// UserID returns the subscribing user.
func (l *Listener) UserID() string { return l.userID }

// Dropped returns how many notifications were discarded for this listener
// because its buffer was full.
func (l *Listener) Dropped() int64 { return l.dropped.Load() }

// Close cancels the subscription, releases the buffer, and is safe to call
// multiple times and concurrently with in-flight publishes.
func (l *Listener) Close() {
	l.once.Do(func() {
		l.hub.remove(l)
		l.mu.Lock()
		l.closed = true
		close(l.ch)
		l.mu.Unlock()
	})
}

// send enqueues n, dropping the oldest buffered notification when full.
// Sends are serialized per listener so a close can never race a send.
func (l *Listener) send(n Notification) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	for {
		select {
		case l.ch <- n:
			notifyDelivered.Inc()
			return
		default:
		}
		// Buffer full: evict the oldest and retry. The consumer may race the
		// eviction, in which case the retry simply succeeds.
		select {
		case <-l.ch:
			l.dropped.Add(1)
			notifyDropped.Inc()
		default:
		}
	}
}

// Dispatcher fans committed events out to live listeners, keyed by user ID.
type Dispatcher struct {
	bufSize int

	mu   sync.RWMutex
	subs map[string]map[*Listener]struct{}
}

// NewDispatcher constructs a hub whose listeners buffer up to bufSize
// notifications. Non-positive sizes fall back to DefaultBufferSize.
func NewDispatcher(bufSize int) *Dispatcher {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Dispatcher{
		bufSize: bufSize,
		subs:    make(map[string]map[*Listener]struct{}),
	}
}

// Subscribe registers a live listener for userID.
func (d *Dispatcher) Subscribe(userID string) *Listener {
	l := &Listener{
		userID: userID,
		ch:     make(chan Notification, d.bufSize),
		hub:    d,
	}
	d.mu.Lock()
	set := d.subs[userID]
	if set == nil {
		set = make(map[*Listener]struct{})
		d.subs[userID] = set
	}
	set[l] = struct{}{}
	d.mu.Unlock()
	notifyListeners.Inc()
	return l
}

// remove detaches a listener from the registry.
func (d *Dispatcher) remove(l *Listener) {
	d.mu.Lock()
	if set, ok := d.subs[l.userID]; ok {
		delete(set, l)
		if len(set) == 0 {
			delete(d.subs, l.userID)
		}
	}
	d.mu.Unlock()
	notifyListeners.Dec()
}

// Publish pushes ev to every current listener of every target user. Each
// listener is isolated: a full buffer drops that listener's oldest
// notification and never blocks the publish.
func (d *Dispatcher) Publish(ev domain.Event) {
	n := Notification{Event: ev, NotifiedAt: time.Now().UTC()}

	d.mu.RLock()
	var targets []*Listener
	for _, userID := range ev.TargetUserIDs {
		for l := range d.subs[userID] {
			targets = append(targets, l)
		}
	}
	d.mu.RUnlock()

	for _, l := range targets {
		l.send(n)
	}
}

// ListenerCount reports the number of live listeners for a user.
func (d *Dispatcher) ListenerCount(userID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs[userID])
}
