package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/geomarket/internal/domain"
	"github.com/alanyoungcy/geomarket/internal/geo"
)

// TradeResult describes a confirmed order fill. When the Ledger could not
// be re-read after the fill, Order is the pre-trade read and Stale is set.
type TradeResult struct {
	Order   domain.SellOrder   `json:"order"`
	Quote   domain.TradeQuote  `json:"quote"`
	Amount  *big.Int           `json:"amount"`
	Payable *big.Int           `json:"payable"`
	Fee     *big.Int           `json:"fee"`
	Record  domain.TradeRecord `json:"record"`
	Stale   bool               `json:"stale,omitempty"`
}

// OrderBook orchestrates partial-fill sell orders against the Ledger.
// Mutations always validate against a fresh Ledger read; the mirror only
// serves listings.
type OrderBook struct {
	ledger domain.Ledger
	users  domain.UserStore
	pricer *geo.Pricer
	gate   *CapacityGate
	mirror domain.OrderMirror
	trades domain.TradeStore
	rec    recorder
	now    func() time.Time
	logger *slog.Logger
}

// NewOrderBook creates an OrderBook.
func NewOrderBook(
	ledger domain.Ledger,
	users domain.UserStore,
	pricer *geo.Pricer,
	gate *CapacityGate,
	mirror domain.OrderMirror,
	trades domain.TradeStore,
	bus domain.SignalBus,
	audit domain.AuditStore,
	now func() time.Time,
	logger *slog.Logger,
) *OrderBook {
	if now == nil {
		now = time.Now
	}
	logger = logger.With(slog.String("component", "order_book"))
	return &OrderBook{
		ledger: ledger,
		users:  users,
		pricer: pricer,
		gate:   gate,
		mirror: mirror,
		trades: trades,
		rec:    recorder{bus: bus, audit: audit, logger: logger},
		now:    now,
		logger: logger,
	}
}

func requireOffPeak(mode domain.MarketMode) error {
	if mode != domain.ModeOffPeak {
		return fmt.Errorf("%w: order book trades off-peak only (mode %s)", domain.ErrModeClosed, mode)
	}
	return nil
}

// locationOf returns the registered location token of wallet, or "" when
// the wallet is unknown to the Directory.
func locationOf(ctx context.Context, users domain.UserStore, wallet string) (string, error) {
	u, err := users.GetByWallet(ctx, wallet)
	if errors.Is(err, domain.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: directory: %w", domain.ErrExternalService, err)
	}
	return u.LocationToken, nil
}

// CreateSellOrder escrows amount tokens from seller and lists them at
// unitPrice. The order is never registered without a successful escrow.
func (b *OrderBook) CreateSellOrder(ctx context.Context, mode domain.MarketMode, seller string, amount, unitPrice *big.Int) (domain.SellOrder, error) {
	if err := requireOffPeak(mode); err != nil {
		return domain.SellOrder{}, fmt.Errorf("order_book: create: %w", err)
	}
	if amount == nil || amount.Sign() <= 0 {
		return domain.SellOrder{}, fmt.Errorf("order_book: create: %w", domain.ErrInvalidAmount)
	}
	if unitPrice == nil || unitPrice.Sign() <= 0 {
		return domain.SellOrder{}, fmt.Errorf("order_book: create: %w", domain.ErrInvalidPrice)
	}
	token, err := locationOf(ctx, b.users, seller)
	if err != nil {
		return domain.SellOrder{}, fmt.Errorf("order_book: create: %w", err)
	}
	if token == "" {
		return domain.SellOrder{}, fmt.Errorf("order_book: create: seller %s: %w", seller, domain.ErrMissingLocation)
	}
	if _, _, err := geo.Decode(token); err != nil {
		return domain.SellOrder{}, fmt.Errorf("order_book: create: %w", err)
	}

	if err := b.ledger.Escrow(ctx, seller, domain.VenueOrderBook, amount); err != nil {
		b.logger.ErrorContext(ctx, "order_book: escrow failed",
			slog.String("seller", seller),
			slog.String("amount", amount.String()),
			slog.String("error", err.Error()),
		)
		if !errors.Is(err, domain.ErrEscrowFailed) && !errors.Is(err, domain.ErrExternalService) {
			err = fmt.Errorf("%w: %w", domain.ErrEscrowFailed, err)
		}
		return domain.SellOrder{}, fmt.Errorf("order_book: create: %w", err)
	}

	id, err := b.ledger.CreateSellOrder(ctx, seller, amount, unitPrice, token)
	if err != nil {
		b.logger.ErrorContext(ctx, "order_book: create sell order failed",
			slog.String("seller", seller),
			slog.String("error", err.Error()),
		)
		return domain.SellOrder{}, fmt.Errorf("order_book: create: %w", err)
	}

	order, err := b.refresh(ctx, id)
	if err != nil {
		return domain.SellOrder{}, fmt.Errorf("order_book: create: refresh %d: %w", id, err)
	}
	b.rec.record(ctx, domain.MarketEvent{
		Type:   domain.EventOrderCreated,
		Token:  domain.TokenEnergy,
		ID:     id,
		Caller: seller,
		Amount: amount,
		Value:  unitPrice,
		At:     b.now().UTC(),
	}, details("amount", amount, "unit_price", unitPrice, "location_token", token))

	b.logger.InfoContext(ctx, "order_book: sell order created",
		slog.Uint64("order_id", id),
		slog.String("seller", seller),
		slog.String("amount", amount.String()),
		slog.String("unit_price", unitPrice.String()),
	)
	return order, nil
}

// CancelSellOrder closes an order owned by seller. The Ledger returns the
// unsold remainder.
func (b *OrderBook) CancelSellOrder(ctx context.Context, seller string, orderID uint64) (domain.SellOrder, error) {
	order, err := b.ledger.SellOrder(ctx, orderID)
	if err != nil {
		return domain.SellOrder{}, fmt.Errorf("order_book: cancel %d: %w", orderID, err)
	}
	if order.Seller != seller {
		return domain.SellOrder{}, fmt.Errorf("order_book: cancel %d: %w", orderID, domain.ErrNotOwner)
	}
	if !order.Active {
		return domain.SellOrder{}, fmt.Errorf("order_book: cancel %d: %w", orderID, domain.ErrOrderInactive)
	}

	if err := b.ledger.CancelSellOrder(ctx, seller, orderID); err != nil {
		b.logger.ErrorContext(ctx, "order_book: cancel failed",
			slog.Uint64("order_id", orderID),
			slog.String("seller", seller),
			slog.String("error", err.Error()),
		)
		return domain.SellOrder{}, fmt.Errorf("order_book: cancel %d: %w", orderID, err)
	}

	order, err = b.refresh(ctx, orderID)
	if err != nil {
		return domain.SellOrder{}, fmt.Errorf("order_book: cancel: refresh %d: %w", orderID, err)
	}
	b.rec.record(ctx, domain.MarketEvent{
		Type:   domain.EventOrderCancelled,
		Token:  domain.TokenEnergy,
		ID:     orderID,
		Caller: seller,
		At:     b.now().UTC(),
	}, nil)
	return order, nil
}

// ExecuteTrade buys amount units of an order for buyer. The order is read
// fresh from the Ledger, the volume must pass the CapacityGate, and the
// buyer pays the quoted total unit cost for every unit.
func (b *OrderBook) ExecuteTrade(ctx context.Context, mode domain.MarketMode, buyer string, orderID uint64, amount *big.Int) (TradeResult, error) {
	if err := requireOffPeak(mode); err != nil {
		return TradeResult{}, fmt.Errorf("order_book: execute: %w", err)
	}
	if amount == nil || amount.Sign() <= 0 {
		return TradeResult{}, fmt.Errorf("order_book: execute %d: %w", orderID, domain.ErrInvalidAmount)
	}

	order, err := b.ledger.SellOrder(ctx, orderID)
	if err != nil {
		return TradeResult{}, fmt.Errorf("order_book: execute %d: %w", orderID, err)
	}
	if !order.Open() {
		return TradeResult{}, fmt.Errorf("order_book: execute %d: %w", orderID, domain.ErrOrderInactive)
	}
	if amount.Cmp(order.Remaining) > 0 {
		return TradeResult{}, fmt.Errorf("order_book: execute %d: %s exceeds remaining %s: %w",
			orderID, amount, order.Remaining, domain.ErrInvalidAmount)
	}

	admission, err := b.gate.Check(ctx, amount)
	if err != nil {
		return TradeResult{}, fmt.Errorf("order_book: execute %d: %w", orderID, err)
	}
	if admission == domain.Reject {
		return TradeResult{}, fmt.Errorf("order_book: execute %d: %w", orderID, domain.ErrCapacityExceeded)
	}

	buyerToken, err := locationOf(ctx, b.users, buyer)
	if err != nil {
		return TradeResult{}, fmt.Errorf("order_book: execute %d: %w", orderID, err)
	}
	quote, err := b.pricer.Quote(ctx, order.UnitPrice, buyerToken, order.LocationToken)
	if err != nil {
		return TradeResult{}, fmt.Errorf("order_book: execute %d: %w", orderID, err)
	}

	// Quote components are whole units, so the ceiling of each product is
	// the product itself.
	payable := new(big.Int).Mul(quote.TotalUnitCost, amount)
	fee := new(big.Int).Mul(quote.FeePerUnit(), amount)

	if err := b.ledger.ExecuteTrade(ctx, buyer, orderID, amount, fee, payable); err != nil {
		b.logger.ErrorContext(ctx, "order_book: execute trade failed",
			slog.Uint64("order_id", orderID),
			slog.String("buyer", buyer),
			slog.String("amount", amount.String()),
			slog.String("payable", payable.String()),
			slog.String("error", err.Error()),
		)
		return TradeResult{}, fmt.Errorf("order_book: execute %d: %w", orderID, err)
	}

	now := b.now().UTC()
	rec := domain.TradeRecord{
		ID:          uuid.New().String(),
		Kind:        domain.RecordOrderFill,
		Token:       domain.TokenEnergy,
		ReferenceID: orderID,
		Seller:      order.Seller,
		Buyer:       buyer,
		Amount:      new(big.Int).Set(amount),
		UnitPrice:   new(big.Int).Set(order.UnitPrice),
		Fee:         fee,
		Total:       payable,
		DistanceKm:  quote.DistanceKm,
		ExecutedAt:  now,
	}
	if err := b.trades.Insert(ctx, rec); err != nil {
		b.logger.ErrorContext(ctx, "order_book: trade record insert failed",
			slog.Uint64("order_id", orderID),
			slog.String("record_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}

	stale := false
	fresh, err := b.refresh(ctx, orderID)
	if err != nil {
		b.logger.WarnContext(ctx, "order_book: refresh after trade failed",
			slog.Uint64("order_id", orderID),
			slog.String("error", err.Error()),
		)
		fresh, stale = order.Clone(), true
	}

	b.rec.record(ctx, domain.MarketEvent{
		Type:   domain.EventTradeExecuted,
		Token:  domain.TokenEnergy,
		ID:     orderID,
		Caller: buyer,
		Amount: amount,
		Value:  payable,
		At:     now,
	}, details("amount", amount, "payable", payable, "fee", fee, "record_id", rec.ID, "degraded_quote", quote.Degraded))

	b.logger.InfoContext(ctx, "order_book: trade executed",
		slog.Uint64("order_id", orderID),
		slog.String("buyer", buyer),
		slog.String("amount", amount.String()),
		slog.String("payable", payable.String()),
		slog.Float64("distance_km", quote.DistanceKm),
	)
	return TradeResult{
		Order:   fresh,
		Quote:   quote,
		Amount:  new(big.Int).Set(amount),
		Payable: payable,
		Fee:     fee,
		Record:  rec,
		Stale:   stale,
	}, nil
}

// Quote prices one unit of an order for buyer without trading.
func (b *OrderBook) Quote(ctx context.Context, buyer string, orderID uint64) (domain.TradeQuote, error) {
	order, err := b.Order(ctx, orderID)
	if err != nil {
		return domain.TradeQuote{}, err
	}
	buyerToken, err := locationOf(ctx, b.users, buyer)
	if err != nil {
		return domain.TradeQuote{}, fmt.Errorf("order_book: quote %d: %w", orderID, err)
	}
	return b.pricer.Quote(ctx, order.UnitPrice, buyerToken, order.LocationToken)
}

// Orders lists active orders from the mirror, falling back to the Ledger
// when the mirror is empty or stale.
func (b *OrderBook) Orders(ctx context.Context) ([]domain.SellOrder, error) {
	orders, err := b.mirror.List(ctx)
	if err == nil {
		return orders, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		b.logger.WarnContext(ctx, "order_book: mirror list failed", slog.String("error", err.Error()))
	}
	orders, err = b.ledger.SellOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("order_book: list: %w", err)
	}
	if err := b.mirror.ReplaceAll(ctx, orders); err != nil {
		b.logger.WarnContext(ctx, "order_book: mirror replace failed", slog.String("error", err.Error()))
	}
	return orders, nil
}

// Order returns one order, mirror first.
func (b *OrderBook) Order(ctx context.Context, orderID uint64) (domain.SellOrder, error) {
	if o, err := b.mirror.Get(ctx, orderID); err == nil {
		return o, nil
	}
	o, err := b.ledger.SellOrder(ctx, orderID)
	if err != nil {
		return domain.SellOrder{}, fmt.Errorf("order_book: get %d: %w", orderID, err)
	}
	if o.Active {
		if err := b.mirror.Put(ctx, o); err != nil {
			b.logger.WarnContext(ctx, "order_book: mirror put failed", slog.Uint64("order_id", orderID), slog.String("error", err.Error()))
		}
	}
	return o, nil
}

// refresh drops the mirrored entry and replaces it with a fresh Ledger
// read. Closed orders stay out of the mirror.
func (b *OrderBook) refresh(ctx context.Context, orderID uint64) (domain.SellOrder, error) {
	if err := b.mirror.Invalidate(ctx, orderID); err != nil {
		b.logger.WarnContext(ctx, "order_book: mirror invalidate failed", slog.Uint64("order_id", orderID), slog.String("error", err.Error()))
	}
	o, err := b.ledger.SellOrder(ctx, orderID)
	if err != nil {
		return domain.SellOrder{}, err
	}
	if o.Active {
		if err := b.mirror.Put(ctx, o); err != nil {
			b.logger.WarnContext(ctx, "order_book: mirror put failed", slog.Uint64("order_id", orderID), slog.String("error", err.Error()))
		}
	}
	return o, nil
}
