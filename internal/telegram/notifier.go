// Package telegram delivers operator notifications to an admin chat.
package telegram

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/genledger/internal/config"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier posts plain-text messages to the admin chat. Without a bot token or chat id
// it only logs, so alerting never blocks the request path.
type Notifier struct {
	api    sender
	chatID int64
	log    *slog.Logger
}

func NewNotifier(cfg config.Config, log *slog.Logger) (*Notifier, error) {
	n := &Notifier{chatID: cfg.TelegramAdminChatID, log: log}
	if cfg.TelegramBotToken == "" || cfg.TelegramAdminChatID == 0 {
		log.Warn("telegram notifier disabled: bot token or admin chat id not set")
		return n, nil
	}
	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	n.api = api
	return n, nil
}

func (n *Notifier) Enabled() bool {
	return n.api != nil
}

func (n *Notifier) Notify(ctx context.Context, text string) error {
	if n.api == nil {
		n.log.Info("admin notification", "text", text)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := n.api.Send(msg); err != nil {
		return fmt.Errorf("send admin notification: %w", err)
	}
	return nil
}
