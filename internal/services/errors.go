// Package services implements the business logic of the activity feed
// platform: idempotent ingestion, hybrid fanout routing, feed reads, and
// windowed analytics. This file centralizes common service-level error
// values so they can be consistently returned by service methods and checked
// by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import "errors"

// Validation errors. These reject the submission outright; the caller must
// not retry an identical request.
var (
	// ErrMissingActor is returned when an event draft has no actor ID.
	ErrMissingActor = errors.New("actor_id is required")

	// ErrInvalidVerb is returned when an event draft carries an unsupported verb.
	ErrInvalidVerb = errors.New("unsupported verb")

	// ErrMissingObject is returned when an event draft has no object type or ID.
	ErrMissingObject = errors.New("object_type and object_id are required")

	// ErrMissingIdempotencyKey is returned when a submission arrives without
	// an idempotency key. Keys are mandatory: without one, retries cannot be
	// deduplicated.
	ErrMissingIdempotencyKey = errors.New("idempotency key is required")

	// ErrMissingUser is returned when an operation requires a user ID and
	// none was supplied.
	ErrMissingUser = errors.New("user_id is required")

	// ErrSelfFollow is returned when a user attempts to follow themselves.
	ErrSelfFollow = errors.New("cannot follow yourself")
)

// Infrastructure errors.
var (
	// ErrStoreUnavailable indicates the backing store could not be reached
	// (or the circuit breaker guarding it is open). Callers should retry
	// with exponential backoff. An unavailable store is never treated as
	// "key not seen before".
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrPersist indicates a storage fault while committing an event.
	// Nothing is fanned out for an event that failed to commit.
	ErrPersist = errors.New("persist failed")
)
