// Package providers defines the capability interface every messaging provider
// adapter implements, plus the shared status vocabulary. The three providers
// speak very different wire protocols (MTProto, WhatsApp multidevice, a
// browser bridge) but expose the same ceremony shape; the orchestrator only
// ever sees this interface plus the session's channel tag.
package providers

import (
	"context"
	"time"

	"github.com/nextlevelbuilder/linkhub/internal/store"
)

// AuthStatus is the unified ceremony status reported by adapters.
type AuthStatus string

const (
	// AuthPending: ceremony open, nothing decided yet. CheckStatus may carry a
	// rotated QR payload alongside this status.
	AuthPending AuthStatus = "pending"
	// AuthNeedsPassword: the account has 2FA enabled and the provider wants
	// the password before finishing.
	AuthNeedsPassword AuthStatus = "needs_2fa"
	// AuthAuthorized: ceremony complete, identity fields are populated.
	AuthAuthorized AuthStatus = "authorized"
	// AuthExpired: the provider abandoned the ceremony on its side.
	AuthExpired AuthStatus = "expired"
)

// StartQrResult is the initial payload of a QR ceremony.
type StartQrResult struct {
	// QrImage is a PNG data URL ready for an <img> tag.
	QrImage   string
	ExpiresAt time.Time
	// Ref is the provider-side ceremony handle passed to later calls.
	Ref string
}

// StartPhoneResult is the initial payload of a phone ceremony.
type StartPhoneResult struct {
	Ref string
	// PairingCode is set by providers that show a code instead of sending an
	// SMS (WhatsApp multidevice); empty otherwise.
	PairingCode string
	ExpiresAt   time.Time
}

// StatusResult is one CheckStatus observation.
type StatusResult struct {
	Status AuthStatus

	// Identity, populated once Status is AuthAuthorized.
	ExternalID  string
	DisplayName string
	PhoneNumber string

	// Refreshed QR payload; empty when the provider did not rotate the code.
	QrImage   string
	ExpiresAt time.Time
}

// VerifyResult is the outcome of a code or password submission.
type VerifyResult struct {
	Status      AuthStatus
	ExternalID  string
	DisplayName string
	PhoneNumber string
}

// Adapter is the narrow capability interface consumed by the orchestrator.
// Every call is a network round-trip to the provider (or its bridge); errors
// are classified with the sentinels in errors.go.
type Adapter interface {
	Channel() store.ChannelType

	// Supports reports whether the provider offers the method at all
	// (max is QR-only).
	Supports(m store.AuthMethod) bool

	StartQr(ctx context.Context, tenantID string) (*StartQrResult, error)
	StartPhone(ctx context.Context, tenantID, phoneNumber string) (*StartPhoneResult, error)
	CheckStatus(ctx context.Context, ref string) (*StatusResult, error)
	VerifyCode(ctx context.Context, ref, code string) (*VerifyResult, error)
	VerifyPassword(ctx context.Context, ref, password string) (*VerifyResult, error)

	// Cancel abandons the ceremony provider-side. Best effort; the caller logs
	// failures and moves on.
	Cancel(ctx context.Context, ref string) error

	// Logout invalidates the provider session of an already-linked account.
	Logout(ctx context.Context, tenantID, externalID string) error
}

// ConnectionSink receives live connection flips for linked accounts
// (reconnects, drops). Adapters call it from their own event loops.
type ConnectionSink interface {
	AccountConnection(ctx context.Context, tenantID string, ch store.ChannelType, externalID string, connected bool)
}
