package repository

import "errors"

// Sentinel errors shared by the scheduling repositories.
var (
	// ErrNoRows signals that a targeted write matched nothing.
	ErrNoRows = errors.New("no rows affected")
	// ErrCapacity signals a booking adjustment that would break the
	// 0 <= current_bookings <= max_sessions_per_slot invariant.
	ErrCapacity = errors.New("booking capacity violated")
	// ErrStale signals an optimistic-concurrency write against a row that
	// changed after the caller read its snapshot.
	ErrStale = errors.New("stale snapshot")
)
