package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wallbot/internal/domain"
)

type recordingSender struct {
	name   string
	err    error
	titles []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestNotifyFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{"panic", " CLOSE "}, discard())

	require.NoError(t, n.Notify(context.Background(), "OPEN", "open", ""))
	require.NoError(t, n.Notify(context.Background(), "PANIC", "panic", ""))
	require.NoError(t, n.Notify(context.Background(), "close", "close", ""))
	require.NoError(t, n.NotifyAll(context.Background(), "startup", ""))
	require.Equal(t, []string{"panic", "close", "startup"}, s.titles)
}

func TestNotifyContinuesPastFailures(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("down")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.Notify(context.Background(), "OPEN", "t", "m")
	require.ErrorContains(t, err, "bad: down")
	require.Len(t, good.titles, 1)
	require.True(t, n.Enabled())
	require.False(t, NewNotifier(nil, nil, discard()).Enabled())
}

func TestTelegramSender(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.apiBase = srv.URL
	require.NoError(t, s.Send(context.Background(), "Entry placed", "price 100"))
	require.Equal(t, "42", got["chat_id"])
	require.Contains(t, got["text"], "*Entry placed*")
}

func TestTelegramSenderReportsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"ok":false,"description":"Too Many Requests","parameters":{"retry_after":7}}`))
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.apiBase = srv.URL
	err := s.Send(context.Background(), "t", "m")
	require.ErrorContains(t, err, "Too Many Requests (retry after 7s)")
}

func TestDiscordSenderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.ErrorContains(t, err, "429")
}

func TestDiscordSenderPostsColouredEmbed(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	s.now = func() time.Time { return time.Unix(1700000000, 0) }
	require.NoError(t, s.Send(context.Background(), "PANIC EXIT SOLUSDT Buy", "reason  stop_loss"))

	require.Len(t, got.Embeds, 1)
	require.Equal(t, "PANIC EXIT SOLUSDT Buy", got.Embeds[0].Title)
	require.Equal(t, 0xE74C3C, got.Embeds[0].Color)
	require.Equal(t, "2023-11-14T22:13:20Z", got.Embeds[0].Timestamp)
	require.Contains(t, got.Embeds[0].Description, "stop_loss")
}

func TestDiscordSenderReportsRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"message":"You are being rate limited.","retry_after":1.5}`))
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "Entry placed", "m")
	require.ErrorContains(t, err, "retry after 1.5s")
}

func TestFormatLifecycle(t *testing.T) {
	title, msg := FormatLifecycle(domain.LifecycleEvent{
		Kind: domain.LifecyclePanic, Symbol: "SOLUSDT", Side: domain.SideBuy,
		Price: 99.5, Qty: 0.19, Reason: "stop_loss", Timestamp: time.Unix(1700000000, 0),
	})
	require.Equal(t, "PANIC EXIT SOLUSDT Buy", title)
	require.Contains(t, msg, "price   99.5")
	require.Contains(t, msg, "reason  stop_loss")
	require.Contains(t, msg, "2023-11-14T22:13:20Z")
	require.NotContains(t, msg, "order")
}
