package file

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/linkhub/internal/store"
)

func newTestStore(t *testing.T) *LinkStore {
	t.Helper()
	return NewLinkStore(filepath.Join(t.TempDir(), "link.json"))
}

func newSession(id, tenant string) *store.LinkSession {
	return &store.LinkSession{
		ID:       id,
		TenantID: tenant,
		Channel:  store.ChannelTelegram,
		Method:   store.MethodQR,
		Status:   store.StatusQrPending,
	}
}

func TestSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sess := newSession("s1", "acme")
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("create: %v", err)
	}
	if sess.Version != 1 {
		t.Fatalf("version after create = %d, want 1", sess.Version)
	}

	got, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TenantID != "acme" || got.Status != store.StatusQrPending {
		t.Fatalf("got %+v", got)
	}

	if _, err := s.GetSession(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("get missing = %v, want ErrNotFound", err)
	}
}

func TestUpdateSessionVersionConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sess := newSession("s1", "acme")
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatal(err)
	}

	a, _ := s.GetSession(ctx, "s1")
	b, _ := s.GetSession(ctx, "s1")

	a.Status = store.StatusAwaitingQr
	if err := s.UpdateSession(ctx, a); err != nil {
		t.Fatalf("first update: %v", err)
	}

	b.Status = store.StatusCancelled
	if err := s.UpdateSession(ctx, b); !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("stale update = %v, want ErrVersionConflict", err)
	}

	got, _ := s.GetSession(ctx, "s1")
	if got.Status != store.StatusAwaitingQr {
		t.Fatalf("status = %s, the stale write must not land", got.Status)
	}
}

func TestFindOpenSessionSkipsTerminal(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	done := newSession("s1", "acme")
	done.Status = store.StatusCancelled
	if err := s.CreateSession(ctx, done); err != nil {
		t.Fatal(err)
	}

	if _, err := s.FindOpenSession(ctx, "acme", store.ChannelTelegram, store.MethodQR); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("find over terminal session = %v, want ErrNotFound", err)
	}

	open := newSession("s2", "acme")
	if err := s.CreateSession(ctx, open); err != nil {
		t.Fatal(err)
	}
	found, err := s.FindOpenSession(ctx, "acme", store.ChannelTelegram, store.MethodQR)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found.ID != "s2" {
		t.Fatalf("found %s, want s2", found.ID)
	}
}

func TestDeleteSessionIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.CreateSession(ctx, newSession("s1", "acme")); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, err := s.GetSession(ctx, "s1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("get after delete = %v", err)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "link.json")

	s1 := NewLinkStore(path)
	if err := s1.CreateSession(ctx, newSession("s1", "acme")); err != nil {
		t.Fatal(err)
	}
	if _, err := s1.LinkAccount(ctx, &store.Account{
		TenantID:   "acme",
		Channel:    store.ChannelWhatsApp,
		ExternalID: "79990001122",
	}, 5); err != nil {
		t.Fatal(err)
	}

	s2 := NewLinkStore(path)
	if _, err := s2.GetSession(ctx, "s1"); err != nil {
		t.Fatalf("session lost across reopen: %v", err)
	}
	accts, err := s2.ListActiveAccounts(ctx, "acme", store.ChannelWhatsApp)
	if err != nil || len(accts) != 1 {
		t.Fatalf("accounts lost across reopen: %v %d", err, len(accts))
	}
}

func TestLinkAccountEnforcesCap(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.LinkAccount(ctx, &store.Account{
		TenantID: "acme", Channel: store.ChannelTelegram, ExternalID: "u1",
	}, 1); err != nil {
		t.Fatal(err)
	}

	_, err := s.LinkAccount(ctx, &store.Account{
		TenantID: "acme", Channel: store.ChannelTelegram, ExternalID: "u2",
	}, 1)
	if !errors.Is(err, store.ErrAccountLimit) {
		t.Fatalf("over cap = %v, want ErrAccountLimit", err)
	}

	// Other channels and tenants have their own counters.
	if _, err := s.LinkAccount(ctx, &store.Account{
		TenantID: "acme", Channel: store.ChannelWhatsApp, ExternalID: "u2",
	}, 1); err != nil {
		t.Fatalf("other channel: %v", err)
	}
	if _, err := s.LinkAccount(ctx, &store.Account{
		TenantID: "globex", Channel: store.ChannelTelegram, ExternalID: "u2",
	}, 1); err != nil {
		t.Fatalf("other tenant: %v", err)
	}
}

func TestRelinkRefreshesExistingRow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, err := s.LinkAccount(ctx, &store.Account{
		TenantID: "acme", Channel: store.ChannelTelegram, ExternalID: "u1", DisplayName: "Old Name",
	}, 5)
	if err != nil {
		t.Fatal(err)
	}

	again, err := s.LinkAccount(ctx, &store.Account{
		TenantID: "acme", Channel: store.ChannelTelegram, ExternalID: "u1", DisplayName: "New Name",
	}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != first.ID {
		t.Fatalf("re-link created a new row: %s != %s", again.ID, first.ID)
	}
	if again.DisplayName != "New Name" {
		t.Fatalf("display name = %q, want refreshed", again.DisplayName)
	}

	accts, _ := s.ListActiveAccounts(ctx, "acme", store.ChannelTelegram)
	if len(accts) != 1 {
		t.Fatalf("got %d accounts, want 1", len(accts))
	}
}

func TestRevokedReactivationRespectsCap(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, err := s.LinkAccount(ctx, &store.Account{
		TenantID: "acme", Channel: store.ChannelTelegram, ExternalID: "u1",
	}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.RevokeAccount(ctx, first.ID); err != nil {
		t.Fatal(err)
	}

	// The freed slot goes to u2.
	if _, err := s.LinkAccount(ctx, &store.Account{
		TenantID: "acme", Channel: store.ChannelTelegram, ExternalID: "u2",
	}, 1); err != nil {
		t.Fatal(err)
	}

	// Reactivating u1 now exceeds the cap again.
	_, err = s.LinkAccount(ctx, &store.Account{
		TenantID: "acme", Channel: store.ChannelTelegram, ExternalID: "u1",
	}, 1)
	if !errors.Is(err, store.ErrAccountLimit) {
		t.Fatalf("reactivation over cap = %v, want ErrAccountLimit", err)
	}
}

func TestReactivationReenables(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	acct, err := s.LinkAccount(ctx, &store.Account{
		TenantID: "acme", Channel: store.ChannelTelegram, ExternalID: "u1",
	}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.RevokeAccount(ctx, acct.ID); err != nil {
		t.Fatal(err)
	}

	back, err := s.LinkAccount(ctx, &store.Account{
		TenantID: "acme", Channel: store.ChannelTelegram, ExternalID: "u1",
	}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if !back.IsEnabled || back.Status != store.AccountActive {
		t.Fatalf("reactivated account = %+v, want enabled and active", back)
	}
}

func TestSetConnectedIgnoresRevoked(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	acct, err := s.LinkAccount(ctx, &store.Account{
		TenantID: "acme", Channel: store.ChannelTelegram, ExternalID: "u1",
	}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.RevokeAccount(ctx, acct.ID); err != nil {
		t.Fatal(err)
	}

	// A late connection event for a revoked account must not resurrect it.
	if err := s.SetConnected(ctx, "acme", store.ChannelTelegram, "u1", true); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetAccount(ctx, acct.ID)
	if got.IsConnected {
		t.Fatal("revoked account reports connected")
	}
}

func TestListActiveByChannel(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, spec := range []struct {
		tenant string
		ch     store.ChannelType
		ext    string
	}{
		{"acme", store.ChannelWhatsApp, "u1"},
		{"globex", store.ChannelWhatsApp, "u2"},
		{"acme", store.ChannelTelegram, "u3"},
	} {
		if _, err := s.LinkAccount(ctx, &store.Account{
			TenantID: spec.tenant, Channel: spec.ch, ExternalID: spec.ext,
		}, 5); err != nil {
			t.Fatal(err)
		}
	}

	wa, err := s.ListActiveByChannel(ctx, store.ChannelWhatsApp)
	if err != nil {
		t.Fatal(err)
	}
	if len(wa) != 2 {
		t.Fatalf("got %d whatsapp accounts, want 2 across tenants", len(wa))
	}
}
