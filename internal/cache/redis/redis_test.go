package redis

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alanyoungcy/geomarket/internal/domain"
)

func setupRedis(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	addr, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	c, err := New(ctx, ClientConfig{Addr: addr, KeyPrefix: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func order(id uint64, remaining int64) domain.SellOrder {
	return domain.SellOrder{
		ID:            id,
		Seller:        "0x00000000000000000000000000000000000000a1",
		Amount:        big.NewInt(10),
		Remaining:     big.NewInt(remaining),
		UnitPrice:     big.NewInt(100),
		LocationToken: "tsq4wb7s9",
		Active:        remaining > 0,
	}
}

func TestOrderMirror_ReplaceGetInvalidate(t *testing.T) {
	c := setupRedis(t)
	ctx := context.Background()
	m := NewOrderMirror(c, time.Minute)

	_, err := m.List(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, m.ReplaceAll(ctx, []domain.SellOrder{order(2, 5), order(1, 10)}))
	list, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, uint64(1), list[0].ID)
	assert.Equal(t, int64(5), list[1].Remaining.Int64())

	require.NoError(t, m.Invalidate(ctx, 2))
	_, err = m.Get(ctx, 2)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, m.Put(ctx, order(2, 3)))
	got, err := m.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Remaining.Int64())

	require.NoError(t, m.ReplaceAll(ctx, nil))
	list, err = m.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestOrderMirror_Expires(t *testing.T) {
	c := setupRedis(t)
	ctx := context.Background()
	m := NewOrderMirror(c, 200*time.Millisecond)

	require.NoError(t, m.ReplaceAll(ctx, []domain.SellOrder{order(1, 10)}))
	require.Eventually(t, func() bool {
		_, err := m.Get(ctx, 1)
		return err != nil
	}, 3*time.Second, 50*time.Millisecond)
	_, err := m.List(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAuctionMirror_KindsAreSeparate(t *testing.T) {
	c := setupRedis(t)
	ctx := context.Background()
	m := NewAuctionMirror(c, time.Minute)

	a := domain.Auction{ID: 1, Seller: "0xabc", TokenAmount: big.NewInt(5), BasePrice: big.NewInt(50), HighestBid: big.NewInt(0)}
	require.NoError(t, m.ReplaceAll(ctx, domain.TokenEnergy, []domain.Auction{a}))

	_, err := m.Get(ctx, domain.TokenCarbon, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got, err := m.Get(ctx, domain.TokenEnergy, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.TokenEnergy, got.Kind)
	assert.Equal(t, int64(50), got.BasePrice.Int64())
}

func TestOrderMirror_PutDoesNotResurrectExpiredIndex(t *testing.T) {
	c := setupRedis(t)
	ctx := context.Background()
	short := NewOrderMirror(c, 200*time.Millisecond)
	m := NewOrderMirror(c, time.Minute)

	require.NoError(t, short.ReplaceAll(ctx, []domain.SellOrder{order(1, 10), order(2, 5)}))
	require.Eventually(t, func() bool {
		n, err := c.rdb.Exists(ctx, m.indexKey()).Result()
		return err == nil && n == 0
	}, 3*time.Second, 50*time.Millisecond)

	require.NoError(t, m.Put(ctx, order(2, 4)))
	_, err := m.List(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got, err := m.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.Remaining.Int64())

	exists, err := c.rdb.Exists(ctx, m.indexKey()).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}

func TestOrderMirror_PutJoinsLiveIndex(t *testing.T) {
	c := setupRedis(t)
	ctx := context.Background()
	m := NewOrderMirror(c, time.Minute)

	require.NoError(t, m.ReplaceAll(ctx, []domain.SellOrder{order(1, 10)}))
	require.NoError(t, m.Put(ctx, order(3, 7)))

	list, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, uint64(3), list[1].ID)
}

func TestAuctionMirror_PutDoesNotResurrectDroppedIndex(t *testing.T) {
	c := setupRedis(t)
	ctx := context.Background()
	m := NewAuctionMirror(c, time.Minute)

	a := domain.Auction{ID: 1, Kind: domain.TokenCarbon, Seller: "0xabc", TokenAmount: big.NewInt(5), BasePrice: big.NewInt(50), HighestBid: big.NewInt(0)}
	require.NoError(t, m.ReplaceAll(ctx, domain.TokenCarbon, []domain.Auction{a}))
	require.NoError(t, c.rdb.Del(ctx, m.indexKey(domain.TokenCarbon)).Err())

	a.HighestBid = big.NewInt(60)
	require.NoError(t, m.Put(ctx, a))
	_, err := m.List(ctx, domain.TokenCarbon)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got, err := m.Get(ctx, domain.TokenCarbon, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(60), got.HighestBid.Int64())
}

func TestLockManager_Exclusive(t *testing.T) {
	c := setupRedis(t)
	ctx := context.Background()
	lm := NewLockManager(c)

	unlock, err := lm.Acquire(ctx, "session:0xabc", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "session:0xabc", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()

	unlock2, err := lm.Acquire(ctx, "session:0xabc", time.Minute)
	require.NoError(t, err)
	unlock2()
}

func TestRateLimiter_Window(t *testing.T) {
	c := setupRedis(t)
	ctx := context.Background()
	rl := NewRateLimiter(c)

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "ip:1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := rl.Allow(ctx, "ip:1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rl.Allow(ctx, "ip:2", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSignalBus_PublishAndStream(t *testing.T) {
	c := setupRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewSignalBus(c)

	ch, err := bus.Subscribe(ctx, domain.ChannelMarket)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, domain.ChannelMarket, []byte(`{"type":"order_created"}`)))

	select {
	case msg := <-ch:
		assert.JSONEq(t, `{"type":"order_created"}`, string(msg))
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}

	require.NoError(t, bus.StreamAppend(ctx, domain.StreamMarket, []byte("a")))
	require.NoError(t, bus.StreamAppend(ctx, domain.StreamMarket, []byte("b")))
	msgs, err := bus.StreamRead(ctx, domain.StreamMarket, "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "b", string(msgs[1].Payload))
}

func TestTelemetryCache_Miss(t *testing.T) {
	c := setupRedis(t)
	ctx := context.Background()
	tc := NewTelemetryCache(c)

	_, err := tc.Get(ctx, "dev-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, tc.Set(ctx, domain.BatteryStatus{DeviceID: "dev-1", ChargePercent: 80}, time.Minute))
	got, err := tc.Get(ctx, "dev-1")
	require.NoError(t, err)
	assert.InDelta(t, 80, got.ChargePercent, 1e-9)
}
