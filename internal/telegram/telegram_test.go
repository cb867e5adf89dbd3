package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"

	"trendpost/internal/apperr"
	"trendpost/internal/bot"
)

const token = "123:abc"

const getMeOK = `{"ok":true,"result":{"id":42,"is_bot":true,"first_name":"Trendpost","username":"trendpost_bot"}}`

const sentOK = `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":55,"type":"private"}}}`

// fakeAPI answers getMe and routes every other method to handle.
func fakeAPI(t *testing.T, handle func(method string, form url.Values) string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix := "/bot" + token + "/"
		if !strings.HasPrefix(r.URL.Path, prefix) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found"}`))
			return
		}
		method := strings.TrimPrefix(r.URL.Path, prefix)
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		if method == "getMe" {
			_, _ = w.Write([]byte(getMeOK))
			return
		}
		_, _ = w.Write([]byte(handle(method, r.PostForm)))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewWithEndpoint(token, srv.URL+"/bot%s/%s", srv.Client(), 0)
	require.NoError(t, err)
	return c
}

func TestNewReadsBotName(t *testing.T) {
	srv := fakeAPI(t, func(string, url.Values) string { return `{"ok":true,"result":true}` })
	c := newClient(t, srv)
	require.Equal(t, "trendpost_bot", c.Username())
}

func TestNewRejectsBadToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":401,"description":"Unauthorized"}`))
	}))
	defer srv.Close()

	_, err := NewWithEndpoint(token, srv.URL+"/bot%s/%s", srv.Client(), 0)
	var authErr *apperr.AuthError
	require.True(t, errors.As(err, &authErr), "got %v", err)

	_, err = NewWithEndpoint("", srv.URL+"/bot%s/%s", srv.Client(), 0)
	require.True(t, errors.As(err, &authErr))
}

func TestSendUsesHTMLWithoutPreview(t *testing.T) {
	var got url.Values
	srv := fakeAPI(t, func(method string, form url.Values) string {
		if method == "sendMessage" {
			got = form
		}
		return sentOK
	})
	c := newClient(t, srv)

	require.NoError(t, c.Send(context.Background(), 55, "<b>hi</b> &amp; bye"))
	require.Equal(t, "55", got.Get("chat_id"))
	require.Equal(t, "<b>hi</b> &amp; bye", got.Get("text"))
	require.Equal(t, "HTML", got.Get("parse_mode"))
	require.Equal(t, "true", got.Get("disable_web_page_preview"))
}

func TestSendRetriesShortFloodWaitOnce(t *testing.T) {
	var calls int32
	srv := fakeAPI(t, func(method string, _ url.Values) string {
		if atomic.AddInt32(&calls, 1) == 1 {
			return `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 1","parameters":{"retry_after":1}}`
		}
		return sentOK
	})
	c := newClient(t, srv)
	var slept []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	require.NoError(t, c.Send(context.Background(), 55, "hello"))
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
	require.Equal(t, []time.Duration{time.Second}, slept)
}

func TestSendLongFloodWaitIsRateLimit(t *testing.T) {
	srv := fakeAPI(t, func(string, url.Values) string {
		return `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 30","parameters":{"retry_after":30}}`
	})
	c := newClient(t, srv)
	c.sleep = func(context.Context, time.Duration) error {
		t.Fatal("must not wait")
		return nil
	}

	err := c.Send(context.Background(), 55, "hello")
	var rl *apperr.RateLimitError
	require.True(t, errors.As(err, &rl), "got %v", err)
	require.Equal(t, 30*time.Second, rl.RetryAfter)
}

func TestSendBlockedIsRejected(t *testing.T) {
	srv := fakeAPI(t, func(string, url.Values) string {
		return `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`
	})
	c := newClient(t, srv)

	err := c.Send(context.Background(), 55, "hello")
	var rej *apperr.RejectedError
	require.True(t, errors.As(err, &rej), "got %v", err)
	require.Contains(t, rej.Detail, "blocked")
}

type handlerFunc func(context.Context, bot.Inbound) error

func (f handlerFunc) Handle(ctx context.Context, in bot.Inbound) error { return f(ctx, in) }

func TestPollDeliversTextMessages(t *testing.T) {
	var mu sync.Mutex
	var offsets []string
	srv := fakeAPI(t, func(method string, form url.Values) string {
		if method != "getUpdates" {
			return `{"ok":true,"result":true}`
		}
		mu.Lock()
		offsets = append(offsets, form.Get("offset"))
		first := len(offsets) == 1
		mu.Unlock()
		if !first {
			return `{"ok":true,"result":[]}`
		}
		return `{"ok":true,"result":[
			{"update_id":10,"message":{"message_id":4,"date":0,"chat":{"id":55,"type":"private"},"from":{"id":1001,"is_bot":false,"first_name":"A","username":"amy"},"sticker":{"file_id":"x","file_unique_id":"y","width":1,"height":1,"is_animated":false}}},
			{"update_id":11,"message":{"message_id":5,"date":0,"chat":{"id":55,"type":"private"},"from":{"id":1001,"is_bot":false,"first_name":"A","username":"amy"},"text":"/status"}}
		]}`
	})
	c := newClient(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var got []bot.Inbound
	err := c.Poll(ctx, handlerFunc(func(_ context.Context, in bot.Inbound) error {
		got = append(got, in)
		cancel()
		return nil
	}))
	require.NoError(t, err)
	require.Equal(t, []bot.Inbound{{UserID: 1001, ChatID: 55, Username: "amy", Text: "/status"}}, got)
}

func TestToInboundSkipsNonText(t *testing.T) {
	_, ok := ToInbound(tgbotapi.Update{UpdateID: 1})
	require.False(t, ok)
	_, ok = ToInbound(tgbotapi.Update{Message: &tgbotapi.Message{Text: "hi", Chat: &tgbotapi.Chat{ID: 1}}})
	require.False(t, ok, "no sender")
	in, ok := ToInbound(tgbotapi.Update{Message: &tgbotapi.Message{
		Text: "/help", Chat: &tgbotapi.Chat{ID: 9}, From: &tgbotapi.User{ID: 7, UserName: "u"},
	}})
	require.True(t, ok)
	require.Equal(t, bot.Inbound{UserID: 7, ChatID: 9, Username: "u", Text: "/help"}, in)
}
