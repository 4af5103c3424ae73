package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachemem "github.com/alanyoungcy/geomarket/internal/cache/memory"
	"github.com/alanyoungcy/geomarket/internal/domain"
)

type recordingSender struct {
	mu     sync.Mutex
	name   string
	titles []string
	err    error
}

func (s *recordingSender) Send(_ context.Context, title, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles = append(s.titles, title)
	return s.err
}

func (s *recordingSender) Name() string { return s.name }

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.titles)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifier_Notify(t *testing.T) {
	ok := &recordingSender{name: "ok"}
	failing := &recordingSender{name: "broken", err: errors.New("down")}
	n := NewNotifier([]Sender{ok, failing}, []string{"trade_executed", " auction_finalized "}, discardLogger())

	require.NoError(t, n.Notify(context.Background(), "bid_placed", "Bid", "ignored"))
	assert.Equal(t, 0, ok.count(), "filtered events are not delivered")

	err := n.Notify(context.Background(), "auction_finalized", "Auction finalized", "body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken: down")
	assert.Equal(t, 1, ok.count(), "one failing sender does not block the others")
}

func TestNotifier_NoFilterAllowsAll(t *testing.T) {
	s := &recordingSender{name: "s"}
	n := NewNotifier([]Sender{s}, nil, discardLogger())
	require.NoError(t, n.Notify(context.Background(), "order_created", "t", "m"))
	assert.Equal(t, 1, s.count())
	assert.True(t, n.Enabled())
	assert.False(t, NewNotifier(nil, nil, discardLogger()).Enabled())
}

func TestFormatEvent(t *testing.T) {
	at := time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)
	title, msg := FormatEvent(domain.MarketEvent{
		Type:   domain.EventTradeExecuted,
		Token:  domain.TokenEnergy,
		ID:     3,
		Caller: "0xabc",
		Amount: big.NewInt(4),
		Value:  big.NewInt(524),
		At:     at,
	})
	assert.Equal(t, "Trade executed", title)
	assert.Equal(t, "order #3: 4 energy bought by 0xabc for 524 wei (2026-03-02 11:00:00Z)", msg)

	title, msg = FormatEvent(domain.MarketEvent{Type: domain.EventModeChanged, Mode: domain.ModePeak})
	assert.Equal(t, "Market mode changed", title)
	assert.Equal(t, "market is now peak", msg)

	title, _ = FormatEvent(domain.MarketEvent{Type: domain.EventBidPlaced, Token: domain.TokenCarbon, ID: 1})
	assert.Equal(t, "bid placed", title)
}

func TestNotifier_RunRelaysBusEvents(t *testing.T) {
	var (
		mu       sync.Mutex
		contents []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		contents = append(contents, body["content"])
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	bus := cachemem.NewSignalBus(10)
	n := NewNotifier([]Sender{NewDiscordSender(srv.URL)}, []string{"auction_finalized"}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = n.Run(ctx, bus) }()

	evt, err := json.Marshal(domain.MarketEvent{Type: domain.EventAuctionFinalized, Token: domain.TokenEnergy, ID: 9})
	require.NoError(t, err)

	// Publish until the subscription is live.
	require.Eventually(t, func() bool {
		_ = bus.Publish(ctx, domain.ChannelMarket, evt)
		mu.Lock()
		defer mu.Unlock()
		return len(contents) > 0
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, contents[0], "**Auction finalized**")
	assert.Contains(t, contents[0], "energy auction #9 settled")
}

func TestTelegramSender_Send(t *testing.T) {
	var gotPath string
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42")
	s.apiBase = srv.URL
	require.NoError(t, s.Send(context.Background(), "Title", "body"))
	assert.Equal(t, "/bottok/sendMessage", gotPath)
	assert.Equal(t, "42", body["chat_id"])
	assert.Equal(t, "*Title*\nbody", body["text"])
}

func TestDiscordSender_SendRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad webhook", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord: unexpected status 400")
}
