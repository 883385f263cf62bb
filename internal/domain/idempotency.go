// Package domain defines the core persistence models for the activity feed
// platform. This file holds the Idempotency model used to deduplicate event
// submissions by client-supplied key.
package domain

import "time"

// Idempotency maps a client-supplied idempotency key to the event produced
// by the first submission that carried it. Within the TTL window the same
// key always resolves to the same event; the unique index on Key is what
// guarantees at-most-one insertion when submissions race.
type Idempotency struct {
	ID        string    `gorm:"type:char(36);primaryKey"`
	Key       string    `gorm:"type:varchar(200);not null;uniqueIndex:ux_idempotency_key"`
	EventID   string    `gorm:"type:char(36);not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }

// Live reports whether the record is still within its TTL window at now.
func (i *Idempotency) Live(now time.Time) bool { return i.ExpiresAt.After(now) }
