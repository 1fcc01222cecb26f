package notifier

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

// telegramMaxText is the Bot API message size limit in characters.
const telegramMaxText = 4096

type TelegramConfig struct {
	Token    string
	ChatID   int64
	ThreadID int
	// APIURL overrides https://api.telegram.org (tests, local bot API server).
	APIURL  string
	Timeout time.Duration
}

// TelegramSender posts messages to one chat (optionally one forum topic).
// It never polls for updates.
type TelegramSender struct {
	bot    *tele.Bot
	chat   *tele.Chat
	thread int
}

func NewTelegram(cfg TelegramConfig) (*TelegramSender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     cfg.APIURL,
		Token:   cfg.Token,
		Offline: true,
		Client:  &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &TelegramSender{bot: b, chat: &tele.Chat{ID: cfg.ChatID}, thread: cfg.ThreadID}, nil
}

func (t *TelegramSender) Send(ctx context.Context, text string) error {
	opt := &tele.SendOptions{DisableWebPagePreview: true, ThreadID: t.thread}
	for _, part := range chunk(text, telegramMaxText) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := t.bot.Send(t.chat, part, opt); err != nil {
			return err
		}
	}
	return nil
}

// chunk splits s into pieces of at most n runes, preferring line breaks.
func chunk(s string, n int) []string {
	var out []string
	r := []rune(s)
	for len(r) > n {
		cut := n
		for i := n; i > n/2; i-- {
			if r[i-1] == '\n' {
				cut = i
				break
			}
		}
		out = append(out, string(r[:cut]))
		r = r[cut:]
	}
	if len(r) > 0 {
		out = append(out, string(r))
	}
	return out
}
