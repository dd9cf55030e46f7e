package linking

import (
	"errors"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/linkhub/internal/store"
)

var (
	// ErrSessionNotFound: the referenced session never existed or was cancelled
	// and already forgotten.
	ErrSessionNotFound = errors.New("link session not found")

	// ErrSessionExpired: the ceremony's hard deadline passed. Terminal; the
	// caller must start over.
	ErrSessionExpired = errors.New("link session expired")

	// ErrAccountLimit: the tenant is at the active-account cap for the channel.
	// The provider-side authorization is kept; freeing a slot lets the commit
	// retry succeed without repeating the ceremony.
	ErrAccountLimit = store.ErrAccountLimit
)

// ValidationError rejects malformed input before any session or provider is
// touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// CooldownError rejects a resend-code attempt inside the cooldown window.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("resend allowed in %s", e.Remaining.Round(time.Second))
}
