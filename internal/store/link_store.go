package store

import (
	"context"

	"github.com/google/uuid"
)

// SessionStore is durable keyed storage for in-flight pairing sessions.
// All writes go through an optimistic version check so that a poll tick and a
// concurrent cancel cannot both apply: the loser gets ErrVersionConflict.
type SessionStore interface {
	// CreateSession persists a new session. The caller sets all fields except
	// Version, which starts at 1.
	CreateSession(ctx context.Context, s *LinkSession) error

	// GetSession returns the session by id, or ErrNotFound.
	GetSession(ctx context.Context, id string) (*LinkSession, error)

	// UpdateSession persists s if the stored Version still equals s.Version.
	// On success s.Version is incremented; on a lost race it returns
	// ErrVersionConflict and leaves the stored row untouched.
	UpdateSession(ctx context.Context, s *LinkSession) error

	// DeleteSession removes the session. Deleting a missing session is not an error.
	DeleteSession(ctx context.Context, id string) error

	// FindOpenSession returns the non-terminal session for the combination,
	// or ErrNotFound if none exists.
	FindOpenSession(ctx context.Context, tenantID string, ch ChannelType, m AuthMethod) (*LinkSession, error)

	// ListOpenSessions returns every non-terminal session. Used to resume
	// polling after a restart.
	ListOpenSessions(ctx context.Context) ([]LinkSession, error)
}

// AccountStore is durable keyed storage for linked accounts.
type AccountStore interface {
	// GetAccount returns the account by id, or ErrNotFound.
	GetAccount(ctx context.Context, id uuid.UUID) (*Account, error)

	// GetAccountByExternalID returns the account for the unique
	// (tenant, channel, externalID) key, or ErrNotFound.
	GetAccountByExternalID(ctx context.Context, tenantID string, ch ChannelType, externalID string) (*Account, error)

	// ListActiveAccounts returns accounts with status=active for the tenant and
	// channel, ordered by creation time.
	ListActiveAccounts(ctx context.Context, tenantID string, ch ChannelType) ([]Account, error)

	// ListActiveByChannel returns every tenant's active accounts for one
	// channel. Used at startup to reconnect provider sessions.
	ListActiveByChannel(ctx context.Context, ch ChannelType) ([]Account, error)

	// LinkAccount inserts acct, or — when a row with the same
	// (tenant, channel, externalID) already exists — refreshes it in place
	// (reactivating a revoked row). The active-account cap check and the write
	// are atomic with respect to concurrent LinkAccount calls for the same
	// tenant+channel; ErrAccountLimit is returned when the cap is hit.
	// An already-active existing row does not consume a new slot.
	LinkAccount(ctx context.Context, acct *Account, cap int) (*Account, error)

	// SetEnabled flips the operator toggle and returns the updated account.
	SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) (*Account, error)

	// SetConnected updates the live network status for the unique external key.
	// Unknown accounts are ignored (the provider may report before commit).
	SetConnected(ctx context.Context, tenantID string, ch ChannelType, externalID string, connected bool) error

	// RevokeAccount sets status=revoked (freeing its cap slot) and returns the
	// updated account.
	RevokeAccount(ctx context.Context, id uuid.UUID) (*Account, error)
}
