package notify

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// TelegramTransport sends through a bot. The recipient address is the
// numeric chat id as a string.
type TelegramTransport struct {
	bot *telego.Bot
}

func NewTelegramTransport(token string) (*TelegramTransport, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &TelegramTransport{bot: bot}, nil
}

func (t *TelegramTransport) Name() string { return "telegram" }

func (t *TelegramTransport) Deliver(ctx context.Context, recipient, message string) (string, error) {
	chatID, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return "", fmt.Errorf("recipient %q is not a telegram chat id", recipient)
	}
	if _, err := t.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), message)); err != nil {
		return "", fmt.Errorf("telegram send: %w", err)
	}
	return "sent", nil
}
