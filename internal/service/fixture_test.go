package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	cachemem "github.com/alanyoungcy/geomarket/internal/cache/memory"
	"github.com/alanyoungcy/geomarket/internal/domain"
	"github.com/alanyoungcy/geomarket/internal/geo"
	"github.com/alanyoungcy/geomarket/internal/platform/chain"
	storemem "github.com/alanyoungcy/geomarket/internal/store/memory"
)

var (
	ownerWallet  = common.HexToAddress("0x00000000000000000000000000000000000000aa").Hex()
	sellerWallet = common.HexToAddress("0x00000000000000000000000000000000000000b1").Hex()
	buyerWallet  = common.HexToAddress("0x00000000000000000000000000000000000000b2").Hex()
	bidderWallet = common.HexToAddress("0x00000000000000000000000000000000000000b3").Hex()
	nomadWallet  = common.HexToAddress("0x00000000000000000000000000000000000000c4").Hex()
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// stubOracle returns a fixed witness or error and counts queries.
type stubOracle struct {
	witness int64
	err     error
	calls   int
}

func (o *stubOracle) Witness(context.Context, *big.Int) (int64, error) {
	o.calls++
	return o.witness, o.err
}

// spyLedger counts mutating Ledger calls and can fail ExecuteTrade. With
// failReadAfterWrite set, order and auction reads fail once a mutation
// has gone through.
type spyLedger struct {
	domain.Ledger
	mutations          int
	failExecute        error
	failReadAfterWrite error
	written            bool
}

func (s *spyLedger) Escrow(ctx context.Context, caller string, venue domain.LedgerVenue, amount *big.Int) error {
	s.mutations++
	return s.Ledger.Escrow(ctx, caller, venue, amount)
}

func (s *spyLedger) ExecuteTrade(ctx context.Context, caller string, orderID uint64, amount, fee, payable *big.Int) error {
	s.mutations++
	if s.failExecute != nil {
		return s.failExecute
	}
	err := s.Ledger.ExecuteTrade(ctx, caller, orderID, amount, fee, payable)
	s.written = s.written || err == nil
	return err
}

func (s *spyLedger) PlaceBid(ctx context.Context, caller string, kind domain.TokenKind, auctionID uint64, value *big.Int) error {
	s.mutations++
	err := s.Ledger.PlaceBid(ctx, caller, kind, auctionID, value)
	s.written = s.written || err == nil
	return err
}

func (s *spyLedger) FinalizeAuction(ctx context.Context, caller string, kind domain.TokenKind, auctionID uint64) error {
	s.mutations++
	err := s.Ledger.FinalizeAuction(ctx, caller, kind, auctionID)
	s.written = s.written || err == nil
	return err
}

func (s *spyLedger) SellOrder(ctx context.Context, orderID uint64) (domain.SellOrder, error) {
	if s.written && s.failReadAfterWrite != nil {
		return domain.SellOrder{}, s.failReadAfterWrite
	}
	return s.Ledger.SellOrder(ctx, orderID)
}

func (s *spyLedger) Auction(ctx context.Context, kind domain.TokenKind, auctionID uint64) (domain.Auction, error) {
	if s.written && s.failReadAfterWrite != nil {
		return domain.Auction{}, s.failReadAfterWrite
	}
	return s.Ledger.Auction(ctx, kind, auctionID)
}

type fixture struct {
	clock    *testClock
	sim      *chain.SimLedger
	ledger   *spyLedger
	users    *storemem.UserStore
	trades   *storemem.TradeStore
	audit    *storemem.AuditStore
	bus      *cachemem.SignalBus
	orders   *cachemem.OrderMirror
	auctions *cachemem.AuctionMirror
	oracle   *stubOracle
	dir      *DirectoryService
	book     *OrderBook
	auc      *Auctions
}

// newFixture starts at 11:00 UTC on a day whose energy window runs
// 10:00 to 23:00.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{clock: &testClock{t: time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)}}
	f.sim = chain.NewSimLedger(chain.SimConfig{
		Owner:         ownerWallet,
		TokenPrice:    big.NewInt(100),
		AuctionWindow: 13 * time.Hour,
		DayStart:      time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		FaucetNative:  big.NewInt(1_000_000),
		FaucetEnergy:  big.NewInt(1000),
		FaucetCarbon:  big.NewInt(1000),
		Now:           f.clock.Now,
	})
	f.ledger = &spyLedger{Ledger: f.sim}
	f.users = storemem.NewUserStore(f.clock.Now)
	f.trades = storemem.NewTradeStore()
	f.audit = storemem.NewAuditStore(f.clock.Now)
	f.bus = cachemem.NewSignalBus(100)
	f.orders = cachemem.NewOrderMirror(time.Minute, f.clock.Now)
	f.auctions = cachemem.NewAuctionMirror(time.Minute, f.clock.Now)
	f.oracle = &stubOracle{}

	f.dir = NewDirectoryService(f.users, geo.DefaultPrecision, bcrypt.MinCost, discard())
	pricer := geo.NewPricer(geo.OrderBookRates, geo.DefaultDistanceFeePerKm, discard())
	gate := NewCapacityGate(f.oracle, discard())
	f.book = NewOrderBook(f.ledger, f.users, pricer, gate, f.orders, f.trades, f.bus, f.audit, f.clock.Now, discard())
	f.auc = NewAuctions(f.ledger, f.auctions, f.trades, f.bus, f.audit, 13*time.Hour, f.clock.Now, discard())

	ctx := context.Background()
	// Seller in Delhi, buyer in Mumbai: about 1150 km apart.
	_, err := f.dir.WalletLogin(ctx, sellerWallet, 28.6139, 77.2090)
	require.NoError(t, err)
	_, err = f.dir.WalletLogin(ctx, buyerWallet, 19.0760, 72.8777)
	require.NoError(t, err)
	_, err = f.dir.WalletLogin(ctx, bidderWallet, 19.0760, 72.8777)
	require.NoError(t, err)
	return f
}

func (f *fixture) listOrder(t *testing.T, amount, price int64) domain.SellOrder {
	t.Helper()
	o, err := f.book.CreateSellOrder(context.Background(), domain.ModeOffPeak, sellerWallet, big.NewInt(amount), big.NewInt(price))
	require.NoError(t, err)
	return o
}

func (f *fixture) events(t *testing.T) []string {
	t.Helper()
	msgs, err := f.bus.StreamRead(context.Background(), domain.StreamMarket, "0", 0)
	require.NoError(t, err)
	var out []string
	for _, m := range msgs {
		out = append(out, eventType(t, m.Payload))
	}
	return out
}

var errLedgerDown = errors.New("rpc: connection refused")
