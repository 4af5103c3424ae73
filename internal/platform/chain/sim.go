package chain

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/geomarket/internal/domain"
)

// weiPerCoin converts a native value in wei to whole coins for token
// purchases.
var weiPerCoin = big.NewInt(1_000_000_000_000_000_000)

// SimConfig configures a SimLedger.
type SimConfig struct {
	Owner         string
	TokenPrice    *big.Int
	AuctionWindow time.Duration
	DayStart      time.Time
	FaucetNative  *big.Int
	FaucetEnergy  *big.Int
	FaucetCarbon  *big.Int
	Now           func() time.Time
}

// SimLedger is an in-process Ledger with the same rules as the deployed
// contracts: escrow by allowance, pull on listing, 1% bid overhead, refund
// of the outbid bidder and seller-only finalization. Accounts seen for the
// first time are credited from the faucet.
type SimLedger struct {
	mu sync.Mutex

	owner      string
	tokenPrice *big.Int
	window     time.Duration
	dayStart   time.Time
	now        func() time.Time

	faucetNative *big.Int
	faucetTokens map[domain.TokenKind]*big.Int
	funded       map[string]bool

	native     map[string]*big.Int
	tokens     map[domain.TokenKind]map[string]*big.Int
	allowances map[domain.LedgerVenue]map[string]*big.Int

	orders   []domain.SellOrder
	auctions map[domain.TokenKind][]domain.Auction
}

// NewSimLedger creates a SimLedger.
func NewSimLedger(cfg SimConfig) *SimLedger {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.AuctionWindow <= 0 {
		cfg.AuctionWindow = 13 * time.Hour
	}
	if cfg.TokenPrice == nil {
		cfg.TokenPrice = big.NewInt(100)
	}
	return &SimLedger{
		owner:        cfg.Owner,
		tokenPrice:   new(big.Int).Set(cfg.TokenPrice),
		window:       cfg.AuctionWindow,
		dayStart:     cfg.DayStart,
		now:          cfg.Now,
		faucetNative: orZero(cfg.FaucetNative),
		faucetTokens: map[domain.TokenKind]*big.Int{
			domain.TokenEnergy: orZero(cfg.FaucetEnergy),
			domain.TokenCarbon: orZero(cfg.FaucetCarbon),
		},
		funded: make(map[string]bool),
		native: make(map[string]*big.Int),
		tokens: map[domain.TokenKind]map[string]*big.Int{
			domain.TokenEnergy: {},
			domain.TokenCarbon: {},
		},
		allowances: map[domain.LedgerVenue]map[string]*big.Int{
			domain.VenueOrderBook:     {},
			domain.VenueEnergyAuction: {},
			domain.VenueCarbonAuction: {},
		},
		auctions: map[domain.TokenKind][]domain.Auction{},
	}
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// Mint credits tokens to account. Used to seed local mode and tests.
func (l *SimLedger) Mint(kind domain.TokenKind, account string, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.touch(account)
	add(l.tokens[kind], account, amount)
}

// Deposit credits native currency to account.
func (l *SimLedger) Deposit(account string, wei *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.touch(account)
	add(l.native, account, wei)
}

// NativeBalance returns account's native balance.
func (l *SimLedger) NativeBalance(account string) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(get(l.native, account))
}

func (l *SimLedger) touch(account string) {
	if l.funded[account] {
		return
	}
	l.funded[account] = true
	add(l.native, account, l.faucetNative)
	for kind, amt := range l.faucetTokens {
		add(l.tokens[kind], account, amt)
	}
}

func get(m map[string]*big.Int, k string) *big.Int {
	if v, ok := m[k]; ok {
		return v
	}
	return new(big.Int)
}

func add(m map[string]*big.Int, k string, v *big.Int) {
	m[k] = new(big.Int).Add(get(m, k), v)
}

func sub(m map[string]*big.Int, k string, v *big.Int) bool {
	cur := get(m, k)
	if cur.Cmp(v) < 0 {
		return false
	}
	m[k] = new(big.Int).Sub(cur, v)
	return true
}

func venueToken(v domain.LedgerVenue) domain.TokenKind {
	if v == domain.VenueCarbonAuction {
		return domain.TokenCarbon
	}
	return domain.TokenEnergy
}

func (l *SimLedger) Escrow(_ context.Context, caller string, venue domain.LedgerVenue, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.touch(caller)
	allow, ok := l.allowances[venue]
	if !ok {
		return fmt.Errorf("sim: unknown venue %q: %w", venue, domain.ErrEscrowFailed)
	}
	if get(l.tokens[venueToken(venue)], caller).Cmp(amount) < 0 {
		return fmt.Errorf("sim: escrow %s: balance below %s: %w", caller, amount, domain.ErrEscrowFailed)
	}
	allow[caller] = new(big.Int).Set(amount)
	return nil
}

// pull moves amount from caller into venue custody against its allowance.
func (l *SimLedger) pull(caller string, venue domain.LedgerVenue, amount *big.Int) error {
	if !sub(l.allowances[venue], caller, amount) {
		return fmt.Errorf("sim: allowance below %s: %w", amount, domain.ErrEscrowFailed)
	}
	if !sub(l.tokens[venueToken(venue)], caller, amount) {
		add(l.allowances[venue], caller, amount)
		return fmt.Errorf("sim: balance below %s: %w", amount, domain.ErrEscrowFailed)
	}
	return nil
}

func (l *SimLedger) CreateSellOrder(_ context.Context, caller string, amount, unitPrice *big.Int, locationToken string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if amount.Sign() <= 0 {
		return 0, domain.ErrInvalidAmount
	}
	if unitPrice.Sign() <= 0 {
		return 0, domain.ErrInvalidPrice
	}
	if err := l.pull(caller, domain.VenueOrderBook, amount); err != nil {
		return 0, err
	}
	id := uint64(len(l.orders) + 1)
	l.orders = append(l.orders, domain.SellOrder{
		ID:            id,
		Seller:        caller,
		Amount:        new(big.Int).Set(amount),
		Remaining:     new(big.Int).Set(amount),
		UnitPrice:     new(big.Int).Set(unitPrice),
		LocationToken: locationToken,
		Active:        true,
	})
	return id, nil
}

func (l *SimLedger) order(id uint64) (*domain.SellOrder, error) {
	if id == 0 || id > uint64(len(l.orders)) {
		return nil, domain.ErrOrderNotFound
	}
	return &l.orders[id-1], nil
}

func (l *SimLedger) CancelSellOrder(_ context.Context, caller string, orderID uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, err := l.order(orderID)
	if err != nil {
		return err
	}
	if o.Seller != caller {
		return domain.ErrNotOwner
	}
	if !o.Active {
		return domain.ErrOrderInactive
	}
	add(l.tokens[domain.TokenEnergy], o.Seller, o.Remaining)
	o.Remaining = new(big.Int)
	o.Active = false
	return nil
}

func (l *SimLedger) ExecuteTrade(_ context.Context, caller string, orderID uint64, amount, fee, payable *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.touch(caller)
	o, err := l.order(orderID)
	if err != nil {
		return err
	}
	if !o.Active {
		return domain.ErrOrderInactive
	}
	if amount.Sign() <= 0 || amount.Cmp(o.Remaining) > 0 {
		return domain.ErrInvalidAmount
	}
	proceeds := new(big.Int).Mul(amount, o.UnitPrice)
	if payable.Cmp(new(big.Int).Add(proceeds, fee)) < 0 {
		return fmt.Errorf("sim: payable %s below price plus fee: %w", payable, domain.ErrInsufficientFunds)
	}
	if !sub(l.native, caller, payable) {
		return fmt.Errorf("sim: %s cannot cover %s: %w", caller, payable, domain.ErrInsufficientFunds)
	}
	add(l.native, o.Seller, proceeds)
	add(l.native, l.owner, new(big.Int).Sub(payable, proceeds))
	add(l.tokens[domain.TokenEnergy], caller, amount)

	o.Remaining = new(big.Int).Sub(o.Remaining, amount)
	if o.Remaining.Sign() == 0 {
		o.Active = false
	}
	return nil
}

func (l *SimLedger) SellOrder(_ context.Context, orderID uint64) (domain.SellOrder, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, err := l.order(orderID)
	if err != nil {
		return domain.SellOrder{}, err
	}
	return o.Clone(), nil
}

func (l *SimLedger) SellOrders(_ context.Context) ([]domain.SellOrder, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.SellOrder, 0, len(l.orders))
	for _, o := range l.orders {
		if o.Active {
			out = append(out, o.Clone())
		}
	}
	return out, nil
}

func (l *SimLedger) CreateAuction(_ context.Context, caller string, terms domain.AuctionTerms) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if terms.TokenAmount.Sign() <= 0 {
		return 0, domain.ErrInvalidAmount
	}
	if terms.BasePrice.Sign() <= 0 {
		return 0, domain.ErrInvalidPrice
	}
	now := l.now()
	var end time.Time
	switch terms.Kind {
	case domain.TokenCarbon:
		if terms.DurationDays <= 0 {
			return 0, domain.ErrInvalidDuration
		}
		end = now.Add(time.Duration(terms.DurationDays) * 24 * time.Hour)
	default:
		end = l.dayStart.Add(l.window)
	}
	if !end.After(now) {
		return 0, domain.ErrWindowClosed
	}
	if err := l.pull(caller, domain.AuctionVenue(terms.Kind), terms.TokenAmount); err != nil {
		return 0, err
	}
	list := l.auctions[terms.Kind]
	id := uint64(len(list) + 1)
	l.auctions[terms.Kind] = append(list, domain.Auction{
		ID:          id,
		Kind:        terms.Kind,
		Seller:      caller,
		TokenAmount: new(big.Int).Set(terms.TokenAmount),
		BasePrice:   new(big.Int).Set(terms.BasePrice),
		StartTime:   now,
		EndTime:     end,
		HighestBid:  new(big.Int),
	})
	return id, nil
}

func (l *SimLedger) auction(kind domain.TokenKind, id uint64) (*domain.Auction, error) {
	list := l.auctions[kind]
	if id == 0 || id > uint64(len(list)) {
		return nil, domain.ErrAuctionNotFound
	}
	return &list[id-1], nil
}

func (l *SimLedger) PlaceBid(_ context.Context, caller string, kind domain.TokenKind, auctionID uint64, value *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.touch(caller)
	a, err := l.auction(kind, auctionID)
	if err != nil {
		return err
	}
	if a.Finalized {
		return domain.ErrAuctionFinalized
	}
	if !l.now().Before(a.EndTime) {
		return domain.ErrAuctionEnded
	}
	net := domain.NetBid(value)
	if net.Cmp(a.HighestBid) <= 0 || net.Cmp(a.BasePrice) <= 0 {
		return domain.ErrBidTooLow
	}
	if !sub(l.native, caller, value) {
		return fmt.Errorf("sim: %s cannot cover bid %s: %w", caller, value, domain.ErrInsufficientFunds)
	}
	if a.HighestBidder != "" {
		add(l.native, a.HighestBidder, a.HighestBid)
	}
	add(l.native, l.owner, new(big.Int).Sub(value, net))
	a.HighestBidder = caller
	a.HighestBid = net
	return nil
}

func (l *SimLedger) FinalizeAuction(_ context.Context, caller string, kind domain.TokenKind, auctionID uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, err := l.auction(kind, auctionID)
	if err != nil {
		return err
	}
	if a.Seller != caller {
		return domain.ErrNotSeller
	}
	if a.Finalized {
		return domain.ErrAlreadyFinalized
	}
	if l.now().Before(a.EndTime) {
		return domain.ErrTooEarly
	}
	if a.HighestBidder != "" {
		add(l.tokens[kind], a.HighestBidder, a.TokenAmount)
		add(l.native, a.Seller, a.HighestBid)
	} else {
		add(l.tokens[kind], a.Seller, a.TokenAmount)
	}
	a.Finalized = true
	return nil
}

func (l *SimLedger) Auction(_ context.Context, kind domain.TokenKind, auctionID uint64) (domain.Auction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, err := l.auction(kind, auctionID)
	if err != nil {
		return domain.Auction{}, err
	}
	return a.Clone(), nil
}

// Auctions returns the auctions of kind that are neither finalized nor
// past their end time, like the contracts' getActiveAuctions.
func (l *SimLedger) Auctions(_ context.Context, kind domain.TokenKind) ([]domain.Auction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	var out []domain.Auction
	for _, a := range l.auctions[kind] {
		if a.ActiveAt(now) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (l *SimLedger) DayStart(_ context.Context) (time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dayStart, nil
}

func (l *SimLedger) SetDayStart(_ context.Context, caller string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.owner {
		return domain.ErrNotLedgerOwner
	}
	l.dayStart = at
	return nil
}

func (l *SimLedger) TokenPrice(_ context.Context) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.tokenPrice), nil
}

func (l *SimLedger) BuyTokens(_ context.Context, caller string, value *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.touch(caller)
	amount := new(big.Int).Mul(value, l.tokenPrice)
	amount.Quo(amount, weiPerCoin)
	if amount.Sign() <= 0 {
		return domain.ErrInvalidAmount
	}
	if !sub(l.native, caller, value) {
		return fmt.Errorf("sim: %s cannot cover %s: %w", caller, value, domain.ErrInsufficientFunds)
	}
	add(l.native, l.owner, value)
	add(l.tokens[domain.TokenEnergy], caller, amount)
	return nil
}

func (l *SimLedger) Balance(_ context.Context, kind domain.TokenKind, account string) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.tokens[kind]
	if !ok {
		return nil, fmt.Errorf("sim: balance: %w", domain.ErrValidation)
	}
	return new(big.Int).Set(get(m, account)), nil
}

var _ domain.Ledger = (*SimLedger)(nil)
