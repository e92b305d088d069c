package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ivankudzin/creditpay/internal/infra/httpclient"
)

const sendTimeout = 10 * time.Second

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Alerter posts operator alerts into a single Telegram chat.
type Alerter struct {
	api    sender
	chatID int64
	prefix string
}

func NewAlerter(token string, chatID int64) (*Alerter, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("telegram bot token is empty")
	}
	if chatID == 0 {
		return nil, fmt.Errorf("chat id is required")
	}

	api, err := tgbotapi.NewBotAPIWithClient(strings.TrimSpace(token), tgbotapi.APIEndpoint, httpclient.New(sendTimeout))
	if err != nil {
		return nil, fmt.Errorf("create telegram bot api: %w", err)
	}

	return newAlerter(api, chatID), nil
}

func newAlerter(api sender, chatID int64) *Alerter {
	return &Alerter{api: api, chatID: chatID, prefix: "[creditpay]"}
}

func (a *Alerter) Alert(ctx context.Context, text string) error {
	if a == nil || a.api == nil {
		return fmt.Errorf("telegram alerter is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	msg := tgbotapi.NewMessage(a.chatID, a.prefix+" "+text)
	msg.DisableWebPagePreview = true
	if _, err := a.api.Send(msg); err != nil {
		return fmt.Errorf("send telegram alert: %w", err)
	}
	return nil
}
