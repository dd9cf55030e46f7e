package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Listen != ":8080" {
		t.Errorf("listen = %q", cfg.Server.Listen)
	}
	if cfg.Store.Mode != "standalone" {
		t.Errorf("mode = %q", cfg.Store.Mode)
	}
	if cfg.Store.Path == "" || cfg.Providers.WhatsApp.DBPath == "" {
		t.Error("default paths must be set")
	}
}

func TestLoadParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
server:
  listen: ":9090"
  auth_token: secret
store:
  mode: managed
  postgres_dsn: postgres://localhost/linkhub
linking:
  poll_interval: 3s
  account_cap: 2
providers:
  max:
    bridge_url: http://localhost:8100
`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Listen != ":9090" || cfg.Server.AuthToken != "secret" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Linking.PollInterval != 3*time.Second || cfg.Linking.AccountCap != 2 {
		t.Errorf("linking = %+v", cfg.Linking)
	}
	if !cfg.Providers.Max.Enabled() || cfg.Providers.Telegram.Enabled() {
		t.Errorf("providers = %+v", cfg.Providers)
	}
	if !cfg.StoreConfig().IsManaged() {
		t.Error("managed mode expected")
	}
}

func TestLoadRejectsManagedWithoutDSN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("store:\n  mode: managed\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("want error for managed mode without dsn")
	}
}

func TestNormalizeTenantID(t *testing.T) {
	cases := []struct{ in, want string }{
		{"acme", "acme"},
		{"Acme Corp", "acme-corp"},
		{"  spaced  ", "spaced"},
		{"--weird--", "weird"},
		{"под", ""},
		{"", ""},
		{"a_b-c9", "a_b-c9"},
	}
	for _, tc := range cases {
		if got := NormalizeTenantID(tc.in); got != tc.want {
			t.Errorf("NormalizeTenantID(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
