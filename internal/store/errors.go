package store

import "errors"

var (
	// ErrNotFound is returned when a session or account does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict is returned by UpdateSession when the stored version
	// no longer matches the one the caller read. The caller must re-read and
	// re-apply, or drop its result (a cancel/expiry won the race).
	ErrVersionConflict = errors.New("session version conflict")

	// ErrAccountLimit is returned by LinkAccount when the tenant already has
	// the maximum number of active accounts for the channel.
	ErrAccountLimit = errors.New("account limit exceeded")
)
