// Package alert delivers operator notifications over Telegram. Partial
// reconciliation failures and unknown payment references page a human; the
// engine never blocks on delivery.
package alert

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Telegram sends alerts to a fixed ops chat. A nil *Telegram is a valid
// no-op notifier so callers never need to branch on configuration.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    zerolog.Logger
}

func NewTelegram(token string, chatID int64, logger *zerolog.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	var log zerolog.Logger
	if logger != nil {
		log = logger.With().Str("component", "alerts").Logger()
	}
	log.Info().Str("bot", bot.Self.UserName).Msg("telegram alerts enabled")
	return &Telegram{bot: bot, chatID: chatID, log: log}, nil
}

// Alert sends a subject and detail to the ops chat. Failures are logged and
// swallowed; alerting must never fail a reconciliation.
func (t *Telegram) Alert(ctx context.Context, subject, detail string) {
	if t == nil || t.bot == nil {
		return
	}

	msg := tgbotapi.NewMessage(t.chatID, fmt.Sprintf("⚠️ %s\n\n%s", subject, detail))
	if _, err := t.bot.Send(msg); err != nil {
		t.log.Error().Err(err).Str("subject", subject).Msg("failed to send alert")
	}
}
