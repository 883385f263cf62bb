// Package feed implements the read-side feed machinery. This file contains
// the k-way merge used for fanout-on-read: each followed celebrity
// contributes a cached stream of recent events, and the user's precomputed
// rows contribute another; all streams are already sorted in feed order.
package feed

import (
	"container/heap"

	"github.com/tbourn/go-feed-backend/internal/domain"
)

// less reports whether a sorts before b in feed order
// (created_at DESC, event_id DESC), i.e. a is strictly newer.
func less(a, b *domain.Event) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// afterCursor reports whether ev lies strictly after the cursor position in
// feed order, i.e. it is older than the last item already delivered.
func afterCursor(ev *domain.Event, c Cursor) bool {
	if !ev.CreatedAt.Equal(c.CreatedAt) {
		return ev.CreatedAt.Before(c.CreatedAt)
	}
	return ev.ID < c.EventID
}

// head tracks the next unconsumed element of one input stream.
type head struct {
	stream int
	idx    int
}

// mergeHeap orders stream heads by their current front element, newest first.
type mergeHeap struct {
	heads   []head
	streams [][]domain.Event
}

func (h *mergeHeap) Len() int { return len(h.heads) }

func (h *mergeHeap) Less(i, j int) bool {
	a := &h.streams[h.heads[i].stream][h.heads[i].idx]
	b := &h.streams[h.heads[j].stream][h.heads[j].idx]
	return less(a, b)
}

func (h *mergeHeap) Swap(i, j int) { h.heads[i], h.heads[j] = h.heads[j], h.heads[i] }

func (h *mergeHeap) Push(x any) { h.heads = append(h.heads, x.(head)) }

func (h *mergeHeap) Pop() any {
	old := h.heads
	n := len(old)
	out := old[n-1]
	h.heads = old[:n-1]
	return out
}

// MergeDesc merges streams (each already sorted created_at DESC, event_id
// DESC) into a single page of at most limit events, de-duplicated by event
// ID. When cursor is non-nil, only events strictly after that position are
// emitted. Inputs are not modified.
func MergeDesc(streams [][]domain.Event, cursor *Cursor, limit int) []domain.Event {
	if limit <= 0 {
		return nil
	}

	h := &mergeHeap{streams: streams}
	for si, s := range streams {
		if len(s) > 0 {
			h.heads = append(h.heads, head{stream: si})
		}
	}
	heap.Init(h)

	seen := make(map[string]struct{})
	out := make([]domain.Event, 0, limit)
	for h.Len() > 0 && len(out) < limit {
		top := h.heads[0]
		ev := h.streams[top.stream][top.idx]

		// Advance the winning stream before emitting.
		if top.idx+1 < len(h.streams[top.stream]) {
			h.heads[0].idx++
			heap.Fix(h, 0)
		} else {
			heap.Pop(h)
		}

		if _, dup := seen[ev.ID]; dup {
			continue
		}
		seen[ev.ID] = struct{}{}

		if cursor != nil && !afterCursor(&ev, *cursor) {
			continue
		}
		out = append(out, ev)
	}
	return out
}
