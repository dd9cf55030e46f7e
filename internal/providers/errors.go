package providers

import (
	"errors"
	"fmt"
)

var (
	// ErrTransient marks network/timeout failures talking to the provider.
	// The next poll tick retries; never surfaced as a session failure.
	ErrTransient = errors.New("provider transient error")

	// ErrRejected marks an active refusal (invalid code, wrong password).
	// Surfaced to the caller; the session stays open for another attempt.
	ErrRejected = errors.New("provider rejected")

	// ErrSessionDead means the provider declared the ceremony itself gone.
	ErrSessionDead = errors.New("provider session dead")

	// ErrMethodNotSupported is returned for methods the provider does not offer.
	ErrMethodNotSupported = errors.New("auth method not supported")
)

// Transient wraps err as a transient provider failure.
func Transient(err error) error {
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

// Rejected wraps a provider refusal with its reason.
func Rejected(reason string) error {
	return fmt.Errorf("%w: %s", ErrRejected, reason)
}
