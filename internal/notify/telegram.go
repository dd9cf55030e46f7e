// Package notify pushes operator notifications for account lifecycle events.
// The only backend is a telegram bot posting into an ops chat; it subscribes
// to the event bus and formats a short line per event.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/linkhub/internal/bus"
)

const sendTimeout = 10 * time.Second

// TelegramNotifier posts account lifecycle events to an operator chat.
type TelegramNotifier struct {
	bot    *telego.Bot
	chatID int64
}

// Config configures the operator notifier.
type Config struct {
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

// Enabled reports whether the notifier is configured at all.
func (c Config) Enabled() bool { return c.BotToken != "" && c.ChatID != 0 }

// NewTelegram creates the notifier and hooks it onto the bus.
func NewTelegram(cfg Config, evbus *bus.EventBus) (*TelegramNotifier, error) {
	bot, err := telego.NewBot(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create notifier bot: %w", err)
	}

	n := &TelegramNotifier{bot: bot, chatID: cfg.ChatID}
	evbus.Subscribe("notify.telegram", n.handle)
	return n, nil
}

func (n *TelegramNotifier) handle(ev bus.Event) {
	text := render(ev)
	if text == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		_, err := n.bot.SendMessage(ctx, &telego.SendMessageParams{
			ChatID:    tu.ID(n.chatID),
			Text:      text,
			ParseMode: telego.ModeHTML,
		})
		if err != nil {
			slog.Warn("operator notification failed", "type", ev.Type, "error", err)
		}
	}()
}

// render formats one event line. Session status churn is deliberately not
// forwarded; only account-level changes reach the operator.
func render(ev bus.Event) string {
	switch ev.Type {
	case bus.EventAccountLinked:
		return fmt.Sprintf("🔗 <b>%s</b> account linked\ntenant: %s\nid: %s",
			ev.Channel, ev.TenantID, ev.ExternalID)
	case bus.EventAccountRevoked:
		return fmt.Sprintf("🗑 <b>%s</b> account revoked\ntenant: %s\nid: %s",
			ev.Channel, ev.TenantID, ev.ExternalID)
	case bus.EventAccountConnection:
		state := "reconnected"
		if !ev.IsConnected {
			state = "dropped"
		}
		return fmt.Sprintf("⚡ <b>%s</b> account %s\ntenant: %s\nid: %s",
			ev.Channel, state, ev.TenantID, ev.ExternalID)
	default:
		return ""
	}
}
