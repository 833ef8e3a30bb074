package alert

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

// Telegram is a send-only bot posting alerts to one chat. No poller
// is started; the bot only ever calls sendMessage.
type Telegram struct {
	bot  *tele.Bot
	chat *tele.Chat
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("alert: telegram token is empty")
	}
	if chatID == 0 {
		return nil, errors.New("alert: telegram chat_id is empty")
	}
	// Offline skips the getMe call: the daemon must boot while the
	// Telegram API is unreachable, and a send-only sink never needs
	// the bot's own identity.
	b, err := tele.NewBot(tele.Settings{
		Token:   token,
		Offline: true,
		Client:  &http.Client{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: b, chat: &tele.Chat{ID: chatID}}, nil
}

func (t *Telegram) Notify(ctx context.Context, text string) error {
	// telebot has no per-call context; the HTTP client timeout bounds
	// the send. Honor an already-canceled context at least.
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.bot.Send(t.chat, text)
	return err
}
