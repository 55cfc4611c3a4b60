// Package alert sends operator notifications over Telegram, grounded in
// sniperterminal's NotificationService: a bot token + chat ID, fire-and-
// forget Notify, and a long-poll event listener for operator commands.
// Unlike the teacher's signal-approval workflow, this bot trades
// autonomously — the listener here only exposes read-only status and a
// manual kill-switch trigger, since there is no human-in-the-loop
// approval step in a box-arbitrage strategy.
package alert

import (
	"fmt"
	"log/slog"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Config holds the Telegram bot credentials.
type Config struct {
	BotToken string
	ChatID   int64 // 0 means "not yet known" — learned from the first /start command
}

// Notifier sends fire-and-forget messages to one Telegram chat.
type Notifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *slog.Logger
}

// NewNotifier authenticates against the Telegram Bot API. Returns a nil
// *Notifier (not an error) when token is empty, since alerting is an
// optional ambient concern — Notify and StartEventListener are both
// nil-receiver safe so callers never need to branch on whether alerting
// is configured.
func NewNotifier(cfg Config, logger *slog.Logger) (*Notifier, error) {
	if cfg.BotToken == "" {
		return nil, nil
	}
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("alert: init telegram bot: %w", err)
	}
	return &Notifier{bot: bot, chatID: cfg.ChatID, logger: logger.With("component", "alert")}, nil
}

// Notify sends msg to the configured chat, asynchronously. A no-op until
// a chat ID is known (either from Config or from a /start command).
func (n *Notifier) Notify(msg string) {
	if n == nil || n.bot == nil || n.chatID == 0 {
		return
	}
	go func() {
		cfg := tgbotapi.NewMessage(n.chatID, msg)
		cfg.ParseMode = "Markdown"
		if _, err := n.bot.Send(cfg); err != nil {
			n.logger.Warn("telegram send failed", "err", err)
		}
	}()
}

// StartEventListener long-polls Telegram updates, auto-capturing the chat
// ID from the first /start command and dispatching /status and /stop to
// the supplied callbacks. Blocks until the updates channel closes; run it
// in its own goroutine.
func (n *Notifier) StartEventListener(statusCallback func() string, killSwitchCallback func()) {
	if n == nil || n.bot == nil {
		return
	}
	n.logger.Info("telegram listener starting")

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := n.bot.GetUpdatesChan(u)

	for update := range updates {
		if update.Message == nil || !update.Message.IsCommand() {
			continue
		}
		if n.chatID == 0 {
			n.chatID = update.Message.Chat.ID
			n.logger.Info("telegram chat id captured", "chat_id", n.chatID)
			n.Notify("connected — now monitoring the box arbitrage engine")
		}

		switch update.Message.Command() {
		case "status":
			if statusCallback != nil {
				n.Notify(statusCallback())
			}
		case "stop":
			n.Notify("*kill switch triggered via telegram*")
			if killSwitchCallback != nil {
				killSwitchCallback()
			}
		}
	}
}

// ParseChatID parses a configured chat ID string, returning 0
// (not yet known) on empty or malformed input rather than erroring — the
// chat ID is always recoverable from a /start command.
func ParseChatID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
