package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/geomarket/internal/domain"
)

func TestUserStore_Uniqueness(t *testing.T) {
	ctx := context.Background()
	s := NewUserStore(nil)

	require.NoError(t, s.Create(ctx, domain.User{Identity: "a", WalletAddress: "0x1"}))
	assert.ErrorIs(t, s.Create(ctx, domain.User{Identity: "a", WalletAddress: "0x2"}), domain.ErrDuplicateIdentity)
	assert.ErrorIs(t, s.Create(ctx, domain.User{Identity: "b", WalletAddress: "0x1"}), domain.ErrDuplicateWallet)
	require.NoError(t, s.Create(ctx, domain.User{WalletAddress: "0x3"}))
	require.NoError(t, s.Create(ctx, domain.User{WalletAddress: "0x4"}))

	u, err := s.GetByIdentity(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "0x1", u.WalletAddress)

	_, err = s.UpdateLocation(ctx, "0x9", 0, 0, "s0")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTradeStore_Filters(t *testing.T) {
	ctx := context.Background()
	s := NewTradeStore()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Insert(ctx, domain.TradeRecord{ID: "1", Seller: "s", Buyer: "b", ExecutedAt: t0}))
	require.NoError(t, s.Insert(ctx, domain.TradeRecord{ID: "2", Seller: "s", Buyer: "c", ExecutedAt: t0.Add(time.Hour)}))
	require.NoError(t, s.Insert(ctx, domain.TradeRecord{ID: "2", Seller: "s", Buyer: "c", ExecutedAt: t0.Add(time.Hour)}))

	got, err := s.ListByWallet(ctx, "s", domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "2", got[0].ID)

	before, err := s.ListBefore(ctx, t0.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, before, 1)
	assert.Equal(t, "1", before[0].ID)
}

func TestAuditStore_UntilIsExclusive(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewAuditStore(func() time.Time { return now })
	require.NoError(t, s.Log(ctx, "x", nil))

	got, err := s.List(ctx, domain.ListOpts{Until: &now})
	require.NoError(t, err)
	assert.Empty(t, got)

	later := now.Add(time.Second)
	got, err = s.List(ctx, domain.ListOpts{Until: &later})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
