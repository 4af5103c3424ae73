package s3blob

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/geomarket/internal/domain"
	storemem "github.com/alanyoungcy/geomarket/internal/store/memory"
)

type memWriter struct {
	objects map[string][]byte
	types   map[string]string
	err     error
}

func newMemWriter() *memWriter {
	return &memWriter{objects: map[string][]byte{}, types: map[string]string{}}
}

func (w *memWriter) Upload(_ context.Context, path string, data []byte, contentType string) error {
	if w.err != nil {
		return w.err
	}
	w.objects[path] = append([]byte(nil), data...)
	w.types[path] = contentType
	return nil
}

func trade(id string, at time.Time) domain.TradeRecord {
	return domain.TradeRecord{
		ID:          id,
		Kind:        domain.RecordOrderFill,
		Token:       domain.TokenEnergy,
		ReferenceID: 1,
		Seller:      "0xseller",
		Buyer:       "0xbuyer",
		Amount:      big.NewInt(4),
		UnitPrice:   big.NewInt(100),
		Fee:         big.NewInt(124),
		Total:       big.NewInt(524),
		ExecutedAt:  at,
	}
}

func TestArchiver_ArchiveTrades(t *testing.T) {
	ctx := context.Background()
	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	trades := storemem.NewTradeStore()
	require.NoError(t, trades.Insert(ctx, trade("a", cutoff.Add(-48*time.Hour))))
	require.NoError(t, trades.Insert(ctx, trade("b", cutoff.Add(-time.Hour))))
	require.NoError(t, trades.Insert(ctx, trade("c", cutoff.Add(time.Hour))))

	audit := storemem.NewAuditStore(func() time.Time { return cutoff.Add(2 * time.Hour) })
	w := newMemWriter()
	a := NewArchiver(w, trades, audit)

	n, err := a.ArchiveTrades(ctx, cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	body, ok := w.objects["archive/trades/2026-03.jsonl"]
	require.True(t, ok)
	assert.Equal(t, jsonlContentType, w.types["archive/trades/2026-03.jsonl"])
	lines := bytes.Split(bytes.TrimSpace(body), []byte("\n"))
	require.Len(t, lines, 2)
	assert.Contains(t, string(lines[0]), `"id":"a"`)
	assert.Contains(t, string(lines[1]), `"id":"b"`)

	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "archive.trades", entries[0].Event)
	assert.EqualValues(t, 2, entries[0].Detail["count"])
}

func TestArchiver_ArchiveAudit(t *testing.T) {
	ctx := context.Background()
	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	now := cutoff.Add(-time.Hour)

	audit := storemem.NewAuditStore(func() time.Time { return now })
	require.NoError(t, audit.Log(ctx, "order.created", map[string]any{"id": 1}))
	require.NoError(t, audit.Log(ctx, "order.cancelled", map[string]any{"id": 1}))
	now = cutoff.Add(time.Hour)
	require.NoError(t, audit.Log(ctx, "auction.created", map[string]any{"id": 2}))

	w := newMemWriter()
	a := NewArchiver(w, storemem.NewTradeStore(), audit)

	n, err := a.ArchiveAudit(ctx, cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	body := string(w.objects["archive/audit/2026-03.jsonl"])
	assert.Contains(t, body, "order.created")
	assert.Contains(t, body, "order.cancelled")
	assert.NotContains(t, body, "auction.created")
}

func TestArchiver_NothingToArchive(t *testing.T) {
	w := newMemWriter()
	a := NewArchiver(w, storemem.NewTradeStore(), storemem.NewAuditStore(nil))

	n, err := a.ArchiveTrades(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.objects)
}

func TestArchiver_UploadFailure(t *testing.T) {
	ctx := context.Background()
	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	trades := storemem.NewTradeStore()
	require.NoError(t, trades.Insert(ctx, trade("a", cutoff.Add(-time.Hour))))

	w := newMemWriter()
	w.err = errors.New("bucket gone")
	audit := storemem.NewAuditStore(nil)

	_, err := NewArchiver(w, trades, audit).ArchiveTrades(ctx, cutoff)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3blob: archive trades upload")

	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, entries, "failed uploads are not recorded")
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("https://s3.example.com", false))
	assert.Equal(t, "http://minio.local", normaliseEndpoint("minio.local", false))
	assert.Equal(t, "https://minio.local", normaliseEndpoint("minio.local", true))
}
