// Package accounts governs linked accounts after the pairing ceremony:
// the per-tenant cap, the operator enable toggle, revocation, and the live
// connection flag reported by the providers. It is the only writer of an
// account's isEnabled/status fields once linking completes.
package accounts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/linkhub/internal/bus"
	"github.com/nextlevelbuilder/linkhub/internal/providers"
	"github.com/nextlevelbuilder/linkhub/internal/store"
)

// DefaultCap is the maximum number of active accounts per tenant per channel.
const DefaultCap = 5

// logoutTimeout bounds the best-effort provider logout on delete.
const logoutTimeout = 10 * time.Second

// Registry enforces the account cap and owns post-link account lifecycle.
type Registry struct {
	accounts store.AccountStore
	adapters *providers.Registry
	bus      *bus.EventBus
	cap      int
}

// NewRegistry creates a registry. cap <= 0 selects DefaultCap.
func NewRegistry(accounts store.AccountStore, adapters *providers.Registry, evbus *bus.EventBus, cap int) *Registry {
	if cap <= 0 {
		cap = DefaultCap
	}
	return &Registry{
		accounts: accounts,
		adapters: adapters,
		bus:      evbus,
		cap:      cap,
	}
}

// Cap returns the configured per-tenant per-channel account cap.
func (r *Registry) Cap() int { return r.cap }

// List returns the tenant's active accounts for a channel, oldest first.
func (r *Registry) List(ctx context.Context, tenantID string, ch store.ChannelType) ([]store.Account, error) {
	return r.accounts.ListActiveAccounts(ctx, tenantID, ch)
}

// Get returns an account by id.
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (*store.Account, error) {
	return r.accounts.GetAccount(ctx, id)
}

// ToggleEnabled flips the operator switch. The provider connection is left
// alone; the ingestion pipeline reads the flag to decide whether to act.
func (r *Registry) ToggleEnabled(ctx context.Context, id uuid.UUID, enabled bool) (*store.Account, error) {
	acct, err := r.accounts.SetEnabled(ctx, id, enabled)
	if err != nil {
		return nil, err
	}

	slog.Info("account toggled", "account", id, "enabled", enabled)
	r.bus.Publish(bus.Event{
		Type:      bus.EventAccountToggled,
		TenantID:  acct.TenantID,
		Channel:   acct.Channel,
		AccountID: acct.ID.String(),
		IsEnabled: acct.IsEnabled,
	})
	return acct, nil
}

// Delete logs the account out at the provider (best effort) and marks the row
// revoked. A revoked account frees its cap slot immediately.
func (r *Registry) Delete(ctx context.Context, id uuid.UUID) error {
	acct, err := r.accounts.GetAccount(ctx, id)
	if err != nil {
		return err
	}

	if adapter, aerr := r.adapters.Get(acct.Channel); aerr == nil {
		logoutCtx, cancel := context.WithTimeout(ctx, logoutTimeout)
		if lerr := adapter.Logout(logoutCtx, acct.TenantID, acct.ExternalID); lerr != nil {
			slog.Warn("provider logout failed", "account", id, "channel", acct.Channel, "error", lerr)
		}
		cancel()
	}

	revoked, err := r.accounts.RevokeAccount(ctx, id)
	if err != nil {
		return err
	}

	slog.Info("account revoked", "account", id, "tenant", revoked.TenantID, "channel", revoked.Channel)
	r.bus.Publish(bus.Event{
		Type:       bus.EventAccountRevoked,
		TenantID:   revoked.TenantID,
		Channel:    revoked.Channel,
		AccountID:  revoked.ID.String(),
		ExternalID: revoked.ExternalID,
	})
	return nil
}

// CreateFromSession commits an authorized pairing session into an Account row.
// Called only by the link orchestrator. The cap check and the write are atomic
// in the store; store.ErrAccountLimit comes back when the tenant is full.
// Re-authorizing an already-linked identity refreshes the row instead of
// creating a duplicate.
func (r *Registry) CreateFromSession(ctx context.Context, sess *store.LinkSession) (*store.Account, error) {
	if sess.PendingExternalID == "" {
		return nil, fmt.Errorf("session %s has no confirmed identity", sess.ID)
	}

	acct := &store.Account{
		TenantID:    sess.TenantID,
		Channel:     sess.Channel,
		ExternalID:  sess.PendingExternalID,
		DisplayName: sess.PendingDisplayName,
		PhoneNumber: sess.PhoneNumber,
		Method:      sess.Method,
	}

	linked, err := r.accounts.LinkAccount(ctx, acct, r.cap)
	if err != nil {
		return nil, err
	}

	slog.Info("account linked",
		"account", linked.ID,
		"tenant", linked.TenantID,
		"channel", linked.Channel,
		"external_id", linked.ExternalID,
	)
	r.bus.Publish(bus.Event{
		Type:        bus.EventAccountLinked,
		TenantID:    linked.TenantID,
		Channel:     linked.Channel,
		AccountID:   linked.ID.String(),
		ExternalID:  linked.ExternalID,
		IsConnected: linked.IsConnected,
	})
	return linked, nil
}

// AccountConnection implements providers.ConnectionSink: providers report
// reconnects and drops here from their own event loops.
func (r *Registry) AccountConnection(ctx context.Context, tenantID string, ch store.ChannelType, externalID string, connected bool) {
	if err := r.accounts.SetConnected(ctx, tenantID, ch, externalID, connected); err != nil {
		slog.Warn("connection update failed", "tenant", tenantID, "channel", ch, "error", err)
		return
	}
	slog.Debug("account connection", "tenant", tenantID, "channel", ch, "external_id", externalID, "connected", connected)
	r.bus.Publish(bus.Event{
		Type:        bus.EventAccountConnection,
		TenantID:    tenantID,
		Channel:     ch,
		ExternalID:  externalID,
		IsConnected: connected,
	})
}
