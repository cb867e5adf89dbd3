// Package telegram connects the bot to the Telegram Bot API over long polling.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"trendpost/internal/apperr"
	"trendpost/internal/bot"
	"trendpost/internal/logging"
	"trendpost/internal/metrics"
)

const service = "telegram"

// flood waits up to this long are absorbed by one retry instead of failing
const maxFloodWait = 5 * time.Second

// Handler consumes inbound messages one at a time.
type Handler interface {
	Handle(ctx context.Context, in bot.Inbound) error
}

// Client sends messages and polls for updates.
type Client struct {
	api         *tgbotapi.BotAPI
	pollTimeout int
	sleep       func(context.Context, time.Duration) error
}

func init() {
	tgbotapi.SetLogger(logging.Logger())
}

// New connects with token against the public API. The connection is
// verified with getMe, so bad tokens fail here.
func New(token string, pollTimeoutSec int) (*Client, error) {
	hc := &http.Client{Timeout: time.Duration(pollTimeoutSec)*time.Second + 15*time.Second}
	return NewWithEndpoint(token, tgbotapi.APIEndpoint, hc, pollTimeoutSec)
}

// NewWithEndpoint is New with a custom endpoint format ("<base>/bot%s/%s")
// and HTTP client.
func NewWithEndpoint(token, endpoint string, hc tgbotapi.HTTPClient, pollTimeoutSec int) (*Client, error) {
	if token == "" {
		return nil, &apperr.AuthError{Service: service, Detail: "empty bot token"}
	}
	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, hc)
	if err != nil {
		cerr := classify(err)
		// a malformed token answers getMe with 404
		var nf *apperr.NotFoundError
		if errors.As(cerr, &nf) {
			return nil, &apperr.AuthError{Service: service, Detail: "unknown bot token"}
		}
		return nil, cerr
	}
	return &Client{api: api, pollTimeout: pollTimeoutSec, sleep: sleepCtx}, nil
}

// Username is the bot's own @name as reported by getMe.
func (c *Client) Username() string { return c.api.Self.UserName }

// Send delivers an HTML message without link previews.
func (c *Client) Send(ctx context.Context, chatID int64, html string) error {
	msg := tgbotapi.NewMessage(chatID, html)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := c.api.Send(msg)
		if err == nil {
			return nil
		}
		cerr := classify(err)
		var rl *apperr.RateLimitError
		if attempt == 0 && errors.As(cerr, &rl) && rl.RetryAfter <= maxFloodWait {
			metrics.IncAPIRetry("telegram_send")
			if serr := c.sleep(ctx, rl.RetryAfter); serr != nil {
				return serr
			}
			continue
		}
		metrics.IncAPIError(service, apperr.Kind(cerr))
		return cerr
	}
}

// Poll long-polls for updates and hands every text message to h until ctx
// is done. Handler errors are logged; polling goes on.
func (c *Client) Poll(ctx context.Context, h Handler) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = c.pollTimeout
	updates := c.api.GetUpdatesChan(u)
	logging.Info("telegram_polling", map[string]any{"bot": c.api.Self.UserName, "timeout_sec": c.pollTimeout})
	for {
		select {
		case <-ctx.Done():
			c.api.StopReceivingUpdates()
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			in, ok := ToInbound(upd)
			if !ok {
				continue
			}
			if err := h.Handle(ctx, in); err != nil {
				logging.Warn("update_failed", map[string]any{"update_id": upd.UpdateID, "error": err.Error()})
			}
		}
	}
}

// ToInbound extracts a text message from an update. Edits, channel posts
// and non-text messages are skipped.
func ToInbound(upd tgbotapi.Update) (bot.Inbound, bool) {
	m := upd.Message
	if m == nil || m.From == nil || m.Chat == nil || m.Text == "" {
		return bot.Inbound{}, false
	}
	return bot.Inbound{
		UserID:   m.From.ID,
		ChatID:   m.Chat.ID,
		Username: m.From.UserName,
		Text:     m.Text,
	}, true
}

func classify(err error) error {
	var tgErr *tgbotapi.Error
	if !errors.As(err, &tgErr) {
		return &apperr.TransientError{Service: service, Err: err}
	}
	switch {
	case tgErr.Code == http.StatusTooManyRequests:
		return &apperr.RateLimitError{
			Service:    service,
			RetryAfter: time.Duration(tgErr.RetryAfter) * time.Second,
			Remaining:  -1,
			Detail:     tgErr.Message,
		}
	case tgErr.Code == http.StatusUnauthorized:
		return &apperr.AuthError{Service: service, Detail: tgErr.Message}
	case tgErr.Code == http.StatusNotFound:
		return &apperr.NotFoundError{What: "chat"}
	case tgErr.Code >= 500:
		return &apperr.TransientError{Service: service, Err: err}
	default:
		return &apperr.RejectedError{Service: service, Detail: tgErr.Message}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
