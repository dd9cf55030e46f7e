package store

import (
	"time"

	"github.com/google/uuid"
)

// ChannelType identifies a messaging provider.
type ChannelType string

const (
	ChannelTelegram ChannelType = "telegram"
	ChannelWhatsApp ChannelType = "whatsapp"
	ChannelMax      ChannelType = "max"
)

// Valid reports whether ct is a known channel type.
func (ct ChannelType) Valid() bool {
	switch ct {
	case ChannelTelegram, ChannelWhatsApp, ChannelMax:
		return true
	}
	return false
}

// AuthMethod is how a pairing ceremony identifies the account.
type AuthMethod string

const (
	MethodQR    AuthMethod = "qr"
	MethodPhone AuthMethod = "phone"
)

// Valid reports whether m is a known auth method.
func (m AuthMethod) Valid() bool {
	return m == MethodQR || m == MethodPhone
}

// SessionStatus is the lifecycle state of a pairing attempt.
type SessionStatus string

const (
	// StatusQrPending: startQr is in flight, no payload yet.
	StatusQrPending SessionStatus = "qr_pending"
	// StatusAwaitingQr: QR payload issued, waiting for the user to scan it.
	StatusAwaitingQr SessionStatus = "awaiting_qr_scan"
	// StatusPhoneInput: startPhone is in flight, code not yet dispatched.
	StatusPhoneInput SessionStatus = "phone_input"
	// StatusAwaitingCode: one-time code dispatched, waiting for the user to submit it.
	StatusAwaitingCode SessionStatus = "awaiting_phone_code"
	// StatusNeedsPassword: provider demands the 2FA password.
	StatusNeedsPassword SessionStatus = "needs_password"
	// StatusSlotWait: provider authorized the account but the tenant is at the
	// account cap; the commit is retried until a slot frees or the session expires.
	StatusSlotWait SessionStatus = "awaiting_slot"

	StatusAuthorized SessionStatus = "authorized"
	StatusExpired    SessionStatus = "expired"
	StatusCancelled  SessionStatus = "cancelled"
	StatusError      SessionStatus = "error"
)

// Terminal reports whether no further transitions are possible from s.
func (s SessionStatus) Terminal() bool {
	switch s {
	case StatusAuthorized, StatusExpired, StatusCancelled, StatusError:
		return true
	}
	return false
}

// AccountStatus is the lifecycle state of a linked account.
type AccountStatus string

const (
	AccountActive  AccountStatus = "active"
	AccountRevoked AccountStatus = "revoked"
)

// LinkSession is one pairing attempt. At most one non-terminal session exists
// per (tenant, channel, method) combination.
type LinkSession struct {
	ID       string        `json:"id"`
	TenantID string        `json:"tenant_id"`
	Channel  ChannelType   `json:"channel"`
	Method   AuthMethod    `json:"method"`
	Status   SessionStatus `json:"status"`

	// Payload is the QR image (data URL) or the pairing code to show the user.
	Payload     string `json:"payload,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`

	// ProviderRef is the provider-side ceremony handle, encrypted at rest.
	ProviderRef string `json:"provider_ref,omitempty"`

	// Pending identity, set once the provider confirms who scanned/verified,
	// before the Account row is committed.
	PendingExternalID  string `json:"pending_external_id,omitempty"`
	PendingDisplayName string `json:"pending_display_name,omitempty"`

	LastError string `json:"last_error,omitempty"`

	// Version guards read-modify-write cycles; see SessionStore.UpdateSession.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session's hard deadline has passed.
func (s *LinkSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Account is a durable, linked personal messaging identity.
// (TenantID, Channel, ExternalID) is unique.
type Account struct {
	ID          uuid.UUID     `json:"id"`
	TenantID    string        `json:"tenant_id"`
	Channel     ChannelType   `json:"channel"`
	ExternalID  string        `json:"external_id"`
	DisplayName string        `json:"display_name,omitempty"`
	PhoneNumber string        `json:"phone_number,omitempty"`
	Method      AuthMethod    `json:"method"`
	IsEnabled   bool          `json:"is_enabled"`
	IsConnected bool          `json:"is_connected"`
	Status      AccountStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// GenNewID generates a new UUID v7 (time-ordered).
func GenNewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// StoreConfig configures the store layer.
type StoreConfig struct {
	// PostgresDSN is the Postgres connection string. If empty, standalone (file) mode is used.
	PostgresDSN string

	// Mode: "standalone" (default) or "managed".
	Mode string

	// LinkStorePath is the file path for session/account persistence (standalone mode).
	LinkStorePath string
}

// IsManaged returns true if the system is in managed (Postgres) mode.
func (c StoreConfig) IsManaged() bool {
	return c.PostgresDSN != "" && c.Mode == "managed"
}

// Stores bundles the store implementations handed to the services.
type Stores struct {
	Sessions SessionStore
	Accounts AccountStore
}
