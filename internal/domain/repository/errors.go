package repository

import "errors"

// Sentinel errors returned by storage implementations. Callers compare with
// errors.Is; wrapping preserves the underlying driver error for logging.
var (
	// ErrNotFound is returned when a lookup by id finds no row.
	ErrNotFound = errors.New("repository: not found")

	// ErrDuplicateRecord is returned when a unique constraint is violated.
	ErrDuplicateRecord = errors.New("repository: duplicate record")

	// ErrInvalidState is returned when an operation's precondition on the
	// row's current status does not hold (e.g. cancelling a notification
	// that already has a SENT outbox message).
	ErrInvalidState = errors.New("repository: invalid state")
)
