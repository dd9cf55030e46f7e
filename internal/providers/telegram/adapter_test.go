package telegram

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

func TestStartQr(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/qr/start" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["tenant_id"] != "t1" {
			t.Errorf("tenant_id = %q", body["tenant_id"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"ref":         "br-1",
			"qr_data_url": "data:image/png;base64,abc",
		})
	}))

	res, err := a.StartQr(context.Background(), "t1")
	if err != nil {
		t.Fatalf("StartQr: %v", err)
	}
	if res.Ref != "br-1" || res.QrImage == "" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestCheckStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		body map[string]any
		want providers.AuthStatus
	}{
		{"pending", map[string]any{"status": "pending", "qr_data_url": "data:..."}, providers.AuthPending},
		{"needs 2fa", map[string]any{"status": "needs_2fa"}, providers.AuthNeedsPassword},
		{"authorized", map[string]any{
			"status": "authorized",
			"user":   map[string]string{"id": "100", "name": "Ada", "phone": "+79001234567"},
		}, providers.AuthAuthorized},
		{"expired", map[string]any{"status": "expired"}, providers.AuthExpired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				json.NewEncoder(w).Encode(tc.body)
			}))
			res, err := a.CheckStatus(context.Background(), "br-1")
			if err != nil {
				t.Fatalf("CheckStatus: %v", err)
			}
			if res.Status != tc.want {
				t.Fatalf("status = %s, want %s", res.Status, tc.want)
			}
			if tc.want == providers.AuthAuthorized && res.ExternalID != "100" {
				t.Fatalf("external id = %q", res.ExternalID)
			}
		})
	}
}

func TestVerifyCodeRejected(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid code"})
	}))

	_, err := a.VerifyCode(context.Background(), "br-1", "11111")
	if !errors.Is(err, providers.ErrRejected) {
		t.Fatalf("want ErrRejected, got %v", err)
	}
}

func TestUnknownRefIsSessionDead(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "unknown ref"})
	}))

	_, err := a.CheckStatus(context.Background(), "gone")
	if !errors.Is(err, providers.ErrSessionDead) {
		t.Fatalf("want ErrSessionDead, got %v", err)
	}
}

func TestBridgeDownIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // connection refused from here on
	a := New(bridge.New(bridge.Config{BaseURL: srv.URL}))

	_, err := a.CheckStatus(context.Background(), "br-1")
	if !errors.Is(err, providers.ErrTransient) {
		t.Fatalf("want ErrTransient, got %v", err)
	}
}

func TestServerErrorIsTransient(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))

	_, err := a.CheckStatus(context.Background(), "br-1")
	if !errors.Is(err, providers.ErrTransient) {
		t.Fatalf("want ErrTransient, got %v", err)
	}
}

func TestSupportsBothMethods(t *testing.T) {
	a := New(bridge.New(bridge.Config{}))
	if !a.Supports(store.MethodQR) || !a.Supports(store.MethodPhone) {
		t.Fatal("telegram must offer both methods")
	}
}
