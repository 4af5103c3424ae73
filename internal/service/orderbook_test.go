package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/geomarket/internal/domain"
)

func eventType(t *testing.T, payload []byte) string {
	t.Helper()
	var evt domain.MarketEvent
	require.NoError(t, json.Unmarshal(payload, &evt))
	return string(evt.Type)
}

func TestOrderBook_CreateSellOrder(t *testing.T) {
	f := newFixture(t)
	o := f.listOrder(t, 10, 100)

	assert.Equal(t, uint64(1), o.ID)
	assert.Equal(t, sellerWallet, o.Seller)
	assert.Equal(t, big.NewInt(10), o.Remaining)
	assert.True(t, o.Active)
	assert.Len(t, o.LocationToken, 9)

	mirrored, err := f.orders.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, o, mirrored)
	assert.Equal(t, []string{"order_created"}, f.events(t))

	bal, err := f.sim.Balance(context.Background(), domain.TokenEnergy, sellerWallet)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(990), bal)
}

func TestOrderBook_CreateSellOrderValidation(t *testing.T) {
	tests := []struct {
		name   string
		mode   domain.MarketMode
		seller string
		amount int64
		price  int64
		want   error
	}{
		{"peak", domain.ModePeak, sellerWallet, 10, 100, domain.ErrModeClosed},
		{"zero amount", domain.ModeOffPeak, sellerWallet, 0, 100, domain.ErrInvalidAmount},
		{"zero price", domain.ModeOffPeak, sellerWallet, 10, 0, domain.ErrInvalidPrice},
		{"no location", domain.ModeOffPeak, nomadWallet, 10, 100, domain.ErrMissingLocation},
		{"escrow beyond balance", domain.ModeOffPeak, sellerWallet, 5000, 100, domain.ErrEscrowFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.book.CreateSellOrder(context.Background(), tt.mode, tt.seller, big.NewInt(tt.amount), big.NewInt(tt.price))
			assert.ErrorIs(t, err, tt.want)

			orders, err := f.sim.SellOrders(context.Background())
			require.NoError(t, err)
			assert.Empty(t, orders)
		})
	}
}

func TestOrderBook_ExecuteTrade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.listOrder(t, 10, 100)

	res, err := f.book.ExecuteTrade(ctx, domain.ModeOffPeak, buyerWallet, o.ID, big.NewInt(4))
	require.NoError(t, err)

	// 100 + floor(100*0.20) + floor(~1150km*0.01) per unit.
	assert.Equal(t, big.NewInt(20), res.Quote.Commission)
	assert.Equal(t, big.NewInt(11), res.Quote.TransferFee)
	assert.Equal(t, big.NewInt(4*131), res.Payable)
	assert.Equal(t, big.NewInt(4*31), res.Fee)
	assert.Equal(t, big.NewInt(6), res.Order.Remaining)
	assert.True(t, res.Order.Active)
	assert.Equal(t, 1, f.oracle.calls)

	assert.Equal(t, big.NewInt(1_000_000+400), f.sim.NativeBalance(sellerWallet))
	assert.Equal(t, big.NewInt(124), f.sim.NativeBalance(ownerWallet))

	recs, err := f.trades.ListByWallet(ctx, buyerWallet, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.RecordOrderFill, recs[0].Kind)
	assert.Equal(t, o.ID, recs[0].ReferenceID)
	assert.Equal(t, big.NewInt(524), recs[0].Total)

	mirrored, err := f.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(6), mirrored.Remaining)
	assert.Equal(t, []string{"order_created", "trade_executed"}, f.events(t))
}

func TestOrderBook_RemainingNeverIncreases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.listOrder(t, 7, 50)

	prev := big.NewInt(7)
	for i, amt := range []int64{2, 2, 3} {
		res, err := f.book.ExecuteTrade(ctx, domain.ModeOffPeak, buyerWallet, o.ID, big.NewInt(amt))
		require.NoError(t, err, "fill %d", i)
		assert.True(t, res.Order.Remaining.Cmp(prev) < 0)
		assert.GreaterOrEqual(t, res.Order.Remaining.Sign(), 0)
		assert.Equal(t, res.Order.Remaining.Sign() > 0, res.Order.Active)
		prev = res.Order.Remaining
	}

	_, err := f.book.ExecuteTrade(ctx, domain.ModeOffPeak, buyerWallet, o.ID, big.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrOrderInactive)

	_, err = f.orders.Get(ctx, o.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOrderBook_OverfillRejectedBeforeLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.listOrder(t, 5, 100)
	before := f.ledger.mutations

	_, err := f.book.ExecuteTrade(ctx, domain.ModeOffPeak, buyerWallet, o.ID, big.NewInt(10))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	assert.Equal(t, before, f.ledger.mutations)
	assert.Zero(t, f.oracle.calls)

	fresh, err := f.sim.SellOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(5), fresh.Remaining)
}

func TestOrderBook_CapacityGate(t *testing.T) {
	tests := []struct {
		name    string
		witness int64
		err     error
		want    []error
	}{
		{"rejected", 1, nil, []error{domain.ErrCapacityExceeded}},
		{"oracle down", 0, fmt.Errorf("%w: timeout", domain.ErrExternalService),
			[]error{domain.ErrCapacityCheckUnavailable, domain.ErrExternalService}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			o := f.listOrder(t, 5, 100)
			f.oracle.witness, f.oracle.err = tt.witness, tt.err
			before := f.ledger.mutations

			_, err := f.book.ExecuteTrade(context.Background(), domain.ModeOffPeak, buyerWallet, o.ID, big.NewInt(2))
			for _, want := range tt.want {
				assert.ErrorIs(t, err, want)
			}
			assert.Equal(t, before, f.ledger.mutations)
		})
	}
}

func TestOrderBook_ExecuteTradeAtPeak(t *testing.T) {
	f := newFixture(t)
	o := f.listOrder(t, 5, 100)
	_, err := f.book.ExecuteTrade(context.Background(), domain.ModePeak, buyerWallet, o.ID, big.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrModeClosed)
}

func TestOrderBook_DegradedQuoteForUnknownBuyer(t *testing.T) {
	f := newFixture(t)
	o := f.listOrder(t, 5, 100)

	res, err := f.book.ExecuteTrade(context.Background(), domain.ModeOffPeak, nomadWallet, o.ID, big.NewInt(2))
	require.NoError(t, err)
	assert.True(t, res.Quote.Degraded)
	assert.Equal(t, big.NewInt(200), res.Payable)
	assert.Zero(t, res.Fee.Sign())
}

func TestOrderBook_LedgerFailureLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.listOrder(t, 5, 100)
	f.ledger.failExecute = fmt.Errorf("%w: %w", domain.ErrExternalService, errLedgerDown)

	_, err := f.book.ExecuteTrade(ctx, domain.ModeOffPeak, buyerWallet, o.ID, big.NewInt(2))
	assert.ErrorIs(t, err, domain.ErrExternalService)

	fresh, err := f.sim.SellOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(5), fresh.Remaining)
	mirrored, err := f.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(5), mirrored.Remaining)

	recs, err := f.trades.ListByWallet(ctx, buyerWallet, domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestOrderBook_RefreshFailureReturnsStaleRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.listOrder(t, 5, 100)
	f.ledger.failReadAfterWrite = fmt.Errorf("%w: %w", domain.ErrExternalService, errLedgerDown)

	res, err := f.book.ExecuteTrade(ctx, domain.ModeOffPeak, buyerWallet, o.ID, big.NewInt(5))
	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.Equal(t, big.NewInt(5), res.Order.Remaining)
	assert.True(t, res.Order.Active)
	assert.Equal(t, big.NewInt(5), res.Amount)

	_, err = f.orders.Get(ctx, o.ID)
	assert.Error(t, err)

	settled, err := f.sim.SellOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Zero(t, settled.Remaining.Sign())
	assert.False(t, settled.Active)
}

func TestOrderBook_CancelSellOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.listOrder(t, 5, 100)

	_, err := f.book.CancelSellOrder(ctx, buyerWallet, o.ID)
	assert.ErrorIs(t, err, domain.ErrNotOwner)
	_, err = f.book.CancelSellOrder(ctx, sellerWallet, 42)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	closed, err := f.book.CancelSellOrder(ctx, sellerWallet, o.ID)
	require.NoError(t, err)
	assert.False(t, closed.Active)

	_, err = f.book.CancelSellOrder(ctx, sellerWallet, o.ID)
	assert.ErrorIs(t, err, domain.ErrOrderInactive)

	bal, err := f.sim.Balance(ctx, domain.TokenEnergy, sellerWallet)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1000), bal)
}

func TestOrderBook_OrdersFallsBackToLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.listOrder(t, 5, 100)
	f.listOrder(t, 3, 120)

	orders, err := f.book.Orders(ctx)
	require.NoError(t, err)
	assert.Len(t, orders, 2)

	q, err := f.book.Quote(ctx, buyerWallet, orders[1].ID)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(120+24+11), q.TotalUnitCost)
}
