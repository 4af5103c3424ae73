package postgres

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alanyoungcy/geomarket/internal/domain"
)

func setupTestDB(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("geomarket"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	c, err := New(ctx, ClientConfig{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	require.NoError(t, c.RunMigrations(ctx))
	require.NoError(t, c.RunMigrations(ctx), "migrations are idempotent")
	return c
}

func TestUserStore_CreateAndLookup(t *testing.T) {
	c := setupTestDB(t)
	ctx := context.Background()
	s := NewUserStore(c.Pool())

	u := domain.User{
		Identity:      "alice",
		Name:          "Alice",
		WalletAddress: "0x00000000000000000000000000000000000000A1",
		Latitude:      28.6139,
		Longitude:     77.2090,
		LocationToken: "ttnfv2u6q",
		PasswordHash:  "hash",
	}
	require.NoError(t, s.Create(ctx, u))

	got, err := s.GetByWallet(ctx, u.WalletAddress)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Identity)
	assert.Equal(t, "hash", got.PasswordHash)
	assert.False(t, got.CreatedAt.IsZero())

	got, err = s.GetByIdentity(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, u.WalletAddress, got.WalletAddress)

	_, err = s.GetByWallet(ctx, "0xnope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUserStore_Duplicates(t *testing.T) {
	c := setupTestDB(t)
	ctx := context.Background()
	s := NewUserStore(c.Pool())

	require.NoError(t, s.Create(ctx, domain.User{Identity: "bob", WalletAddress: "0xB0B", LocationToken: "s0000"}))

	err := s.Create(ctx, domain.User{Identity: "bob", WalletAddress: "0xB0C", LocationToken: "s0000"})
	assert.ErrorIs(t, err, domain.ErrDuplicateIdentity)

	err = s.Create(ctx, domain.User{Identity: "carol", WalletAddress: "0xB0B", LocationToken: "s0000"})
	assert.ErrorIs(t, err, domain.ErrDuplicateWallet)

	// Wallet-only users carry no identity and never collide on it.
	require.NoError(t, s.Create(ctx, domain.User{WalletAddress: "0xW1", LocationToken: "s0000"}))
	require.NoError(t, s.Create(ctx, domain.User{WalletAddress: "0xW2", LocationToken: "s0000"}))
}

func TestUserStore_UpdateLocation(t *testing.T) {
	c := setupTestDB(t)
	ctx := context.Background()
	s := NewUserStore(c.Pool())

	require.NoError(t, s.Create(ctx, domain.User{WalletAddress: "0xD1", Latitude: 1, Longitude: 1, LocationToken: "s00twy01m"}))
	u, err := s.UpdateLocation(ctx, "0xD1", 19.07, 72.87, "te7ud2ev1")
	require.NoError(t, err)
	assert.Equal(t, "te7ud2ev1", u.LocationToken)
	assert.InDelta(t, 19.07, u.Latitude, 1e-9)

	_, err = s.UpdateLocation(ctx, "0xmissing", 0, 0, "s0000")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestTradeStore_InsertAndList(t *testing.T) {
	c := setupTestDB(t)
	ctx := context.Background()
	s := NewTradeStore(c.Pool())

	huge, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	old := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	first := domain.TradeRecord{
		ID: uuid.NewString(), Kind: domain.RecordOrderFill, Token: domain.TokenEnergy, ReferenceID: 4,
		Seller: "0xS", Buyer: "0xB", Amount: big.NewInt(3), UnitPrice: big.NewInt(100),
		Fee: big.NewInt(93), Total: huge, DistanceKm: 1148.2, ExecutedAt: old,
	}
	second := first
	second.ID = uuid.NewString()
	second.Kind = domain.RecordAuctionSettlement
	second.Buyer = "0xOther"
	second.ExecutedAt = recent

	require.NoError(t, s.Insert(ctx, first))
	require.NoError(t, s.Insert(ctx, first), "duplicate id ignored")
	require.NoError(t, s.Insert(ctx, second))

	byBuyer, err := s.ListByWallet(ctx, "0xB", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, byBuyer, 1)
	assert.Equal(t, 0, huge.Cmp(byBuyer[0].Total))
	assert.Equal(t, domain.RecordOrderFill, byBuyer[0].Kind)

	bySeller, err := s.ListByWallet(ctx, "0xS", domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, bySeller, 2)
	assert.Equal(t, second.ID, bySeller[0].ID, "newest first")

	before, err := s.ListBefore(ctx, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, before, 1)
	assert.Equal(t, first.ID, before[0].ID)
}

func TestAuditStore_LogAndList(t *testing.T) {
	c := setupTestDB(t)
	ctx := context.Background()
	s := NewAuditStore(c.Pool())

	require.NoError(t, s.Log(ctx, "order.created", map[string]any{"order_id": 1}))
	require.NoError(t, s.Log(ctx, "order.cancelled", map[string]any{"order_id": 1}))

	entries, err := s.List(ctx, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, float64(1), entries[0].Detail["order_id"])
}
