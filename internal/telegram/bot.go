// ABOUTME: Telegram long-polling transport implementing chat.Transport
// ABOUTME: Answers callback queries immediately and hands updates to the chat handler

package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/2389/mapfeed/internal/chat"
)

// Config configures the bot.
type Config struct {
	Token string
	// APIEndpoint overrides the Bot API URL format, e.g. for a local Bot API
	// server. It must contain two %s verbs: token and method.
	APIEndpoint string
	PollTimeout time.Duration
}

// Bot is a Telegram transport.
type Bot struct {
	api         *tgbotapi.BotAPI
	pollTimeout time.Duration
	logger      *slog.Logger
}

// New connects to the Bot API and verifies the token.
func New(cfg Config, logger *slog.Logger) (*Bot, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Token == "" {
		return nil, errors.New("telegram token is required")
	}
	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(cfg.Token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("connecting to telegram: %w", err)
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Second
	}
	return &Bot{
		api:         api,
		pollTimeout: cfg.PollTimeout,
		logger:      logger.With("component", "telegram", "bot", api.Self.UserName),
	}, nil
}

// Name implements chat.Transport.
func (b *Bot) Name() string { return Network }

// Run polls for updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context, handler chat.Handler) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = int(b.pollTimeout.Seconds())
	cfg.AllowedUpdates = []string{"message", "callback_query"}
	updates := b.api.GetUpdatesChan(cfg)

	b.logger.Info("telegram bot running")
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("shutting down telegram bot")
			b.api.StopReceivingUpdates()
			return nil
		case raw, ok := <-updates:
			if !ok {
				return errors.New("telegram update channel closed")
			}
			u, ok := toUpdate(raw)
			if !ok {
				continue
			}
			if u.Callback != nil {
				b.answerCallback(u.Callback.ID)
			}
			b.logger.Debug("received update",
				"chat", u.ChatID,
				"sender", u.SenderID,
				"forwarded", u.Message.IsForwarded(),
				"text", truncate(u.Message.Text, 50))
			handler.HandleUpdate(ctx, b, u)
		}
	}
}

// Send implements chat.Sender. The Bot API client has no context support,
// so ctx is only checked before the request goes out.
func (b *Bot) Send(ctx context.Context, r chat.Reply) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(r.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", r.ChatID, err)
	}
	if _, err := b.api.Send(toMessageConfig(chatID, r)); err != nil {
		return fmt.Errorf("sending telegram message: %w", err)
	}
	return nil
}

// answerCallback stops the client's loading spinner on the pressed button.
func (b *Bot) answerCallback(id string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(id, "")); err != nil {
		b.logger.Debug("failed to answer callback", "error", err)
	}
}

// truncate shortens a string to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
