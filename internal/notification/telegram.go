package notification

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramNotifier delivers notifications to a Telegram chat
type TelegramNotifier struct {
	bot     *tgbotapi.BotAPI
	chatID  int64
	enabled bool
}

// NewTelegramNotifier creates a Telegram notifier. An empty token returns a
// disabled notifier rather than an error so the manager wiring stays simple.
func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	if token == "" || chatID == 0 {
		return &TelegramNotifier{}, nil
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("notification: creating telegram bot: %w", err)
	}

	return &TelegramNotifier{bot: bot, chatID: chatID, enabled: true}, nil
}

// Name returns the provider name
func (t *TelegramNotifier) Name() string { return "telegram" }

// IsEnabled reports whether the notifier is configured
func (t *TelegramNotifier) IsEnabled() bool { return t.enabled }

// Send delivers one notification
func (t *TelegramNotifier) Send(n *Notification) error {
	text := fmt.Sprintf("*%s*\n%s", escapeMarkdown(n.Title), escapeMarkdown(n.Message))

	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("notification: sending telegram message: %w", err)
	}
	return nil
}

func escapeMarkdown(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch r {
		case '*', '_', '`', '[':
			out = append(out, '\\', r)
		default:
			out = append(out, r)
		}
	}
	return string(out)
}
