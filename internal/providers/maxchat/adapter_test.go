package maxchat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nextlevelbuilder/linkhub/internal/providers"
	"github.com/nextlevelbuilder/linkhub/internal/providers/bridge"
	"github.com/nextlevelbuilder/linkhub/internal/store"
)

func newTestAdapter(t *testing.T, handler http.Handler) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(bridge.New(bridge.Config{BaseURL: srv.URL}))
}

func TestQrOnly(t *testing.T) {
	a := New(bridge.New(bridge.Config{}))
	if !a.Supports(store.MethodQR) {
		t.Fatal("max must offer qr")
	}
	if a.Supports(store.MethodPhone) {
		t.Fatal("max must not offer phone")
	}
	if _, err := a.StartPhone(context.Background(), "t1", "+79001234567"); !errors.Is(err, providers.ErrMethodNotSupported) {
		t.Fatalf("want ErrMethodNotSupported, got %v", err)
	}
}

func TestStartQrUsesBridgePayload(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/start-auth" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success":     true,
			"status":      "qr_ready",
			"qr_data_url": "data:image/png;base64,shot",
		})
	}))

	res, err := a.StartQr(context.Background(), "t1")
	if err != nil {
		t.Fatalf("StartQr: %v", err)
	}
	if res.QrImage != "data:image/png;base64,shot" {
		t.Fatalf("qr = %q", res.QrImage)
	}
	// The bridge keys ceremonies per tenant; the ref is the tenant id.
	if res.Ref != "t1" {
		t.Fatalf("ref = %q", res.Ref)
	}
	if res.ExpiresAt.IsZero() {
		t.Fatal("want a rolling expiry")
	}
}

func TestCheckStatusConnected(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "connected",
			"connected": true,
			"user":      map[string]string{"id": "max-7", "name": "Ada", "phone": "+79001234567"},
		})
	}))

	res, err := a.CheckStatus(context.Background(), "t1")
	if err != nil {
		t.Fatalf("CheckStatus: %v", err)
	}
	if res.Status != providers.AuthAuthorized || res.ExternalID != "max-7" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestCheckStatusConnectedWithoutUserStaysPending(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": "connected", "connected": true})
	}))

	res, err := a.CheckStatus(context.Background(), "t1")
	if err != nil {
		t.Fatalf("CheckStatus: %v", err)
	}
	if res.Status != providers.AuthPending {
		t.Fatalf("status = %s, want pending until the profile loads", res.Status)
	}
}

func TestCheckStatusRefreshesQr(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status":      "qr_ready",
			"qr_data_url": "data:image/png;base64,fresh",
		})
	}))

	res, err := a.CheckStatus(context.Background(), "t1")
	if err != nil {
		t.Fatalf("CheckStatus: %v", err)
	}
	if res.Status != providers.AuthPending || res.QrImage != "data:image/png;base64,fresh" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestCheckStatusDisconnectedIsDead(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": "disconnected"})
	}))

	_, err := a.CheckStatus(context.Background(), "t1")
	if !errors.Is(err, providers.ErrSessionDead) {
		t.Fatalf("want ErrSessionDead, got %v", err)
	}
}
