// Package config loads the YAML configuration file and watches it for
// changes. One file configures everything: the HTTP server, the store mode,
// linking tunables, the provider bridges, and the operator notifier.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nextlevelbuilder/linkhub/internal/notify"
	"github.com/nextlevelbuilder/linkhub/internal/store"
)

// DefaultPath is where the config file lives unless --config says otherwise.
const DefaultPath = "~/.linkhub/config.yaml"

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Linking   LinkingConfig   `yaml:"linking"`
	Redis     RedisConfig     `yaml:"redis"`
	Providers ProvidersConfig `yaml:"providers"`
	Notify    NotifyConfig    `yaml:"notify"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"`
	// AuthToken protects the API. Empty disables auth (local development).
	AuthToken string `yaml:"auth_token"`
	// RateLimitRPS / RateLimitBurst throttle per-tenant link starts.
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

type StoreConfig struct {
	// Mode is "standalone" (JSON file) or "managed" (Postgres).
	Mode        string `yaml:"mode"`
	PostgresDSN string `yaml:"postgres_dsn"`
	Path        string `yaml:"path"`
}

type LinkingConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	SessionTTL     time.Duration `yaml:"session_ttl"`
	ResendCooldown time.Duration `yaml:"resend_cooldown"`
	AccountCap     int           `yaml:"account_cap"`
	// EncryptionKey encrypts provider refs at rest (hex, base64 or raw 32
	// bytes). Empty stores them in plaintext.
	EncryptionKey string `yaml:"encryption_key"`
}

type RedisConfig struct {
	// Addr enables the redis-backed resend cooldown; empty keeps it in memory.
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type ProvidersConfig struct {
	Telegram BridgeConfig   `yaml:"telegram"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
	Max      BridgeConfig   `yaml:"max"`
}

// BridgeConfig points at a provider sidecar.
type BridgeConfig struct {
	BridgeURL   string        `yaml:"bridge_url"`
	BridgeToken string        `yaml:"bridge_token"`
	Timeout     time.Duration `yaml:"timeout"`
}

func (c BridgeConfig) Enabled() bool { return c.BridgeURL != "" }

type WhatsAppConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

type NotifyConfig struct {
	Telegram notify.Config `yaml:"telegram"`
}

// Load reads and validates the config file. A missing file yields the
// defaults, so a bare `linkhub serve` works out of the box in standalone mode.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(ExpandPath(path))
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Server.RateLimitRPS <= 0 {
		c.Server.RateLimitRPS = 1
	}
	if c.Server.RateLimitBurst <= 0 {
		c.Server.RateLimitBurst = 5
	}
	if c.Store.Mode == "" {
		c.Store.Mode = "standalone"
	}
	if c.Store.Path == "" {
		c.Store.Path = "~/.linkhub/data/link.json"
	}
	if c.Providers.WhatsApp.DBPath == "" {
		c.Providers.WhatsApp.DBPath = "~/.linkhub/data/whatsapp.db"
	}
}

func (c *Config) validate() error {
	switch c.Store.Mode {
	case "standalone", "managed":
	default:
		return fmt.Errorf("store.mode must be standalone or managed, got %q", c.Store.Mode)
	}
	if c.Store.Mode == "managed" && c.Store.PostgresDSN == "" {
		return fmt.Errorf("store.postgres_dsn is required in managed mode")
	}
	return nil
}

// StoreConfig converts to the store layer's config, with paths expanded.
func (c *Config) StoreConfig() store.StoreConfig {
	return store.StoreConfig{
		PostgresDSN:   c.Store.PostgresDSN,
		Mode:          c.Store.Mode,
		LinkStorePath: ExpandPath(c.Store.Path),
	}
}

// ExpandPath resolves a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
