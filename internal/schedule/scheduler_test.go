package schedule

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/geomarket/internal/domain"
)

type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	ticks chan time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(time.Duration) <-chan time.Time { return c.ticks }

func (c *fakeClock) set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type recordingBus struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (b *recordingBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.payloads = append(b.payloads, payload)
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (b *recordingBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *recordingBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *recordingBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.payloads)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestModeForHour_Window(t *testing.T) {
	peak := map[int]bool{10: true, 11: true, 12: true}
	for h := 0; h < 24; h++ {
		want := domain.ModeOffPeak
		if peak[h] {
			want = domain.ModePeak
		}
		assert.Equal(t, want, ModeForHour(DefinitionWindow, 10, 13, h), "hour %d", h)
	}
}

func TestModeForHour_Legacy(t *testing.T) {
	for h := 0; h < 24; h++ {
		want := domain.ModeOffPeak
		if h >= 1 && h <= 9 {
			want = domain.ModePeak
		}
		assert.Equal(t, want, ModeForHour(DefinitionLegacy, 10, 13, h), "hour %d", h)
	}
}

func TestParsePeakDefinition(t *testing.T) {
	d, err := ParsePeakDefinition("")
	require.NoError(t, err)
	assert.Equal(t, DefinitionWindow, d)

	d, err = ParsePeakDefinition("legacy")
	require.NoError(t, err)
	assert.Equal(t, DefinitionLegacy, d)

	_, err = ParsePeakDefinition("weekend")
	assert.Error(t, err)
}

func TestScheduler_CurrentUsesLocation(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	clock := &fakeClock{now: time.Date(2026, 3, 1, 5, 0, 0, 0, time.UTC)}
	cfg := DefaultConfig()
	cfg.Location = loc
	s := New(cfg, clock, nil, discard())

	r := s.Current()
	assert.Equal(t, 10, r.Hour)
	assert.Equal(t, domain.ModePeak, r.Mode)
	assert.Equal(t, time.UTC, r.EvaluatedAt.Location())
}

func TestScheduler_RunAnnouncesTransitions(t *testing.T) {
	clock := &fakeClock{
		now:   time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
		ticks: make(chan time.Time),
	}
	bus := &recordingBus{}
	cfg := DefaultConfig()
	cfg.Location = time.UTC
	s := New(cfg, clock, bus, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	clock.ticks <- time.Time{}
	clock.ticks <- time.Time{}
	assert.Equal(t, 0, bus.count())

	clock.set(time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC))
	clock.ticks <- time.Time{}
	require.Eventually(t, func() bool { return bus.count() == 1 }, time.Second, 5*time.Millisecond)

	clock.ticks <- time.Time{}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	require.Equal(t, 1, bus.count())

	var evt domain.MarketEvent
	require.NoError(t, json.Unmarshal(bus.payloads[0], &evt))
	assert.Equal(t, domain.EventModeChanged, evt.Type)
	assert.Equal(t, domain.ModePeak, evt.Mode)
}

func TestScheduler_AnnounceLogsUnencodableEvent(t *testing.T) {
	var logs bytes.Buffer
	bus := &recordingBus{}
	s := New(DefaultConfig(), &fakeClock{}, bus, slog.New(slog.NewJSONHandler(&logs, nil)))

	// Years past 9999 have no RFC 3339 form.
	s.announce(context.Background(), domain.ModeReading{
		Mode:        domain.ModePeak,
		EvaluatedAt: time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC),
	})

	assert.Equal(t, 0, bus.count())
	var entry map[string]any
	require.NoError(t, json.Unmarshal(logs.Bytes(), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "schedule: marshal mode change failed", entry["msg"])
	assert.Equal(t, string(domain.ModePeak), entry["mode"])
	assert.NotEmpty(t, entry["error"])
}
