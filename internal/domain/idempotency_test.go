package domain

import (
	"testing"
	"time"
)

func TestIdempotency_Live(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rec := &Idempotency{ExpiresAt: now.Add(time.Hour)}
	if !rec.Live(now) {
		t.Fatalf("record expiring in the future must be live")
	}

	rec.ExpiresAt = now.Add(-time.Second)
	if rec.Live(now) {
		t.Fatalf("expired record must not be live")
	}

	// Boundary: expiring exactly now is no longer live.
	rec.ExpiresAt = now
	if rec.Live(now) {
		t.Fatalf("record expiring exactly now must not be live")
	}
}
