package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"jarvisdaily/internal/domain"
)

type TelegramConfig struct {
	Token  string
	ChatID int64
	// Endpoint overrides tgbotapi.APIEndpoint, for tests.
	Endpoint string
	Logger   *slog.Logger
}

// Telegram posts alerts to an operator chat.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *slog.Logger
}

// NewTelegram authenticates the bot token with getMe.
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	if cfg.ChatID == 0 {
		return nil, fmt.Errorf("telegram chat id is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, endpoint, &http.Client{Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	cfg.Logger.Info("telegram alerts enabled", "bot", bot.Self.UserName, "chat_id", cfg.ChatID)
	return &Telegram{bot: bot, chatID: cfg.ChatID, logger: cfg.Logger}, nil
}

func (t *Telegram) Notify(ctx context.Context, a domain.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, FormatAlert(a))
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

const maxErrorRunes = 500

// truncateRunes cuts s to at most n runes, never inside a UTF-8 sequence.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for range n {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return s[:i] + "..."
}

// FormatAlert renders a as plain text.
func FormatAlert(a domain.Alert) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s\n", strings.ToUpper(a.Severity), a.Reason)
	fmt.Fprintf(&sb, "recipient: %s\n", a.RecipientID)
	fmt.Fprintf(&sb, "event: %s\n", a.EventID)
	fmt.Fprintf(&sb, "message #%d after %d attempt(s)\n", a.SequenceIndex+1, a.Attempts)
	if a.LastError != "" {
		fmt.Fprintf(&sb, "last error: %s", truncateRunes(a.LastError, maxErrorRunes))
	}
	return strings.TrimRight(sb.String(), "\n")
}
