package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// telegramSender is the slice of the bot API we use.
type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Telegram struct {
	bot    telegramSender
	chatID int64
}

// NewTelegram authorizes the bot. An empty token disables the channel.
func NewTelegram(token, chatID string) (*Telegram, error) {
	if token == "" || chatID == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse telegram chat id: %w", err)
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Telegram{bot: bot, chatID: id}, nil
}

var telegramIcons = map[Severity]string{
	SeverityInfo:     "✅",
	SeverityWarning:  "⚠️",
	SeverityCritical: "🚨",
}

func (t *Telegram) Send(_ context.Context, title, text string, sev Severity) error {
	if t == nil || t.bot == nil {
		return errors.New("telegram disabled")
	}
	msg := tgbotapi.NewMessage(t.chatID,
		telegramIcons[sev]+" <b>"+html.EscapeString(title)+"</b>\n\n"+html.EscapeString(text))
	msg.ParseMode = "HTML"
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}
