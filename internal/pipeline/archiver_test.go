package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeArchiver struct {
	tradeCutoff time.Time
	auditCutoff time.Time
	tradeErr    error
	auditCalled bool
}

func (f *fakeArchiver) ArchiveTrades(_ context.Context, before time.Time) (int64, error) {
	f.tradeCutoff = before
	return 3, f.tradeErr
}

func (f *fakeArchiver) ArchiveAudit(_ context.Context, before time.Time) (int64, error) {
	f.auditCalled = true
	f.auditCutoff = before
	return 5, nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestArchiver_Run(t *testing.T) {
	now := time.Date(2026, 3, 31, 3, 0, 0, 0, time.UTC)
	fake := &fakeArchiver{}
	a := NewArchiver(fake, 30, func() time.Time { return now }, discard())

	require.NoError(t, a.Run(context.Background()))
	want := time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)
	assert.Equal(t, want, fake.tradeCutoff)
	assert.Equal(t, want, fake.auditCutoff)
}

func TestArchiver_RunStopsOnTradeFailure(t *testing.T) {
	fake := &fakeArchiver{tradeErr: errors.New("db down")}
	a := NewArchiver(fake, 30, nil, discard())

	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline: archive trades")
	assert.False(t, fake.auditCalled)
}

func TestArchiver_RunCronRejectsBadExpression(t *testing.T) {
	a := NewArchiver(&fakeArchiver{}, 30, nil, discard())
	err := a.RunCron(context.Background(), "0 3 * *")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must have 5 fields")
}

func TestArchiver_RunCronStopsOnCancel(t *testing.T) {
	a := NewArchiver(&fakeArchiver{}, 30, nil, discard())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, a.RunCron(ctx, "0 3 * * *"), context.Canceled)
}

func TestParseCron_Next(t *testing.T) {
	base := time.Date(2026, 3, 2, 11, 17, 30, 0, time.UTC) // Monday
	tests := []struct {
		expr string
		want time.Time
	}{
		{"0 3 * * *", time.Date(2026, 3, 3, 3, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2026, 3, 2, 11, 30, 0, 0, time.UTC)},
		{"0 10-13 * * *", time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)},
		{"30 9 * * 0,6", time.Date(2026, 3, 7, 9, 30, 0, 0, time.UTC)},
		{"0 0 1 4 *", time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			c, err := parseCron(tt.expr)
			require.NoError(t, err)
			got, err := c.next(base)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCron_Invalid(t *testing.T) {
	for _, expr := range []string{"60 * * * *", "* 24 * * *", "*/0 * * * *", "5-1 * * * *", "x * * * *"} {
		t.Run(expr, func(t *testing.T) {
			_, err := parseCron(expr)
			assert.Error(t, err)
		})
	}
}
