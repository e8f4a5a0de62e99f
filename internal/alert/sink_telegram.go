package alert

import (
	"context"
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// TelegramSink delivers notices to a single chat. Send-only: the bot never
// polls for updates, so a dead network degrades to dropped alerts without
// holding any goroutines.
type TelegramSink struct {
	bot    *tele.Bot
	chatID int64
}

type TelegramConfig struct {
	Token  string
	ChatID int64
}

func NewTelegramSink(cfg TelegramConfig) (*TelegramSink, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	// No Poller: send-only.
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	return &TelegramSink{bot: b, chatID: cfg.ChatID}, nil
}

func (s *TelegramSink) Name() string { return "telegram" }

func (s *TelegramSink) Deliver(ctx context.Context, n Notice) error {
	// telebot has no per-call context; honor cancellation before the send.
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	_, err := s.bot.Send(tele.ChatID(s.chatID), n.Message, &tele.SendOptions{
		DisableWebPagePreview: true,
	})
	return err
}
