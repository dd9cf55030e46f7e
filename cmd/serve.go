package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/linkhub/internal/accounts"
	"github.com/nextlevelbuilder/linkhub/internal/bus"
	"github.com/nextlevelbuilder/linkhub/internal/config"
	"github.com/nextlevelbuilder/linkhub/internal/cooldown"
	"github.com/nextlevelbuilder/linkhub/internal/crypto"
	httpapi "github.com/nextlevelbuilder/linkhub/internal/http"
	"github.com/nextlevelbuilder/linkhub/internal/linking"
	"github.com/nextlevelbuilder/linkhub/internal/notify"
	"github.com/nextlevelbuilder/linkhub/internal/providers"
	"github.com/nextlevelbuilder/linkhub/internal/providers/bridge"
	"github.com/nextlevelbuilder/linkhub/internal/providers/maxchat"
	"github.com/nextlevelbuilder/linkhub/internal/providers/telegram"
	"github.com/nextlevelbuilder/linkhub/internal/providers/whatsapp"
	"github.com/nextlevelbuilder/linkhub/internal/store"
	"github.com/nextlevelbuilder/linkhub/internal/store/file"
	"github.com/nextlevelbuilder/linkhub/internal/store/pg"
)

const shutdownTimeout = 15 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the linkhub server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, cleanup, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	evbus := bus.New()
	adapters := providers.NewRegistry()
	registry := accounts.NewRegistry(stores.Accounts, adapters, evbus, cfg.Linking.AccountCap)

	if cfg.Providers.Telegram.Enabled() {
		adapters.Register(telegram.New(bridge.New(bridge.Config{
			BaseURL: cfg.Providers.Telegram.BridgeURL,
			Token:   cfg.Providers.Telegram.BridgeToken,
			Timeout: cfg.Providers.Telegram.Timeout,
		})))
		slog.Info("telegram provider enabled", "bridge", cfg.Providers.Telegram.BridgeURL)
	}
	if cfg.Providers.Max.Enabled() {
		adapters.Register(maxchat.New(bridge.New(bridge.Config{
			BaseURL: cfg.Providers.Max.BridgeURL,
			Token:   cfg.Providers.Max.BridgeToken,
			Timeout: cfg.Providers.Max.Timeout,
		})))
		slog.Info("max provider enabled", "bridge", cfg.Providers.Max.BridgeURL)
	}

	var wa *whatsapp.Adapter
	if cfg.Providers.WhatsApp.Enabled {
		dbPath := config.ExpandPath(cfg.Providers.WhatsApp.DBPath)
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return fmt.Errorf("create whatsapp data dir: %w", err)
		}
		wa, err = whatsapp.Open(ctx, dbPath, registry)
		if err != nil {
			return err
		}
		defer wa.Close()
		adapters.Register(wa)

		active, err := stores.Accounts.ListActiveByChannel(ctx, store.ChannelWhatsApp)
		if err != nil {
			return fmt.Errorf("list whatsapp accounts: %w", err)
		}
		if err := wa.Resume(ctx, active); err != nil {
			slog.Error("whatsapp resume failed", "error", err)
		}
		slog.Info("whatsapp provider enabled", "db", dbPath, "accounts", len(active))
	}

	keeper, err := crypto.NewKeeper(cfg.Linking.EncryptionKey)
	if err != nil {
		return fmt.Errorf("encryption key: %w", err)
	}

	var cd cooldown.Limiter
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		cd = cooldown.NewRedis(rdb, cfg.Linking.ResendCooldown)
		slog.Info("resend cooldown backed by redis", "addr", cfg.Redis.Addr)
	} else {
		cd = cooldown.NewMemory(cfg.Linking.ResendCooldown)
	}

	orch := linking.New(stores.Sessions, registry, adapters, cd, keeper, evbus, linking.Config{
		PollInterval:   cfg.Linking.PollInterval,
		SessionTTL:     cfg.Linking.SessionTTL,
		ResendCooldown: cfg.Linking.ResendCooldown,
	})
	defer orch.Close()
	if err := orch.Resume(ctx); err != nil {
		return err
	}

	if cfg.Notify.Telegram.Enabled() {
		if _, err := notify.NewTelegram(cfg.Notify.Telegram, evbus); err != nil {
			slog.Error("telegram notifier disabled", "error", err)
		}
	}

	srv := httpapi.New(httpapi.Config{
		Listen:         cfg.Server.Listen,
		AuthToken:      cfg.Server.AuthToken,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
	}, orch, registry, evbus)

	startConfigWatcher(srv)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("linkhub listening", "addr", cfg.Server.Listen, "store", cfg.Store.Mode)
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		return err
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// openStores builds the session and account stores for the configured mode.
// Managed mode runs migrations on every start; they are idempotent.
func openStores(cfg *config.Config) (*store.Stores, func(), error) {
	if cfg.StoreConfig().IsManaged() {
		db, err := pg.OpenDB(cfg.Store.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		stores, err := pg.NewPGStores(db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return stores, func() { db.Close() }, nil
	}

	sc := cfg.StoreConfig()
	if err := os.MkdirAll(filepath.Dir(sc.LinkStorePath), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create data dir: %w", err)
	}
	stores, err := file.NewFileStores(sc)
	if err != nil {
		return nil, nil, err
	}
	return stores, func() {}, nil
}

// startConfigWatcher hot-reloads the settings that can change without a
// restart. A missing config file is fine; there is nothing to watch then.
func startConfigWatcher(srv *httpapi.Server) {
	cw, err := config.NewWatcher(flagConfig)
	if err != nil {
		slog.Warn("config watcher unavailable", "error", err)
		return
	}
	cw.OnChange(func(fresh *config.Config) {
		srv.SetAuthToken(fresh.Server.AuthToken)
	})
	if err := cw.Start(); err != nil {
		slog.Debug("config file not watchable", "error", err)
	}
}
