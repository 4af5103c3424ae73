package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/geomarket/internal/domain"
)

// BidResult describes an accepted bid. When the Ledger could not be
// re-read after the bid, Auction is the pre-bid read and Stale is set.
type BidResult struct {
	Auction   domain.Auction `json:"auction"`
	Submitted *big.Int       `json:"submittedValue"`
	Net       *big.Int       `json:"netBid"`
	Stale     bool           `json:"stale,omitempty"`
}

// FinalizeResult is the settled auction. When the Ledger could not be
// re-read after settlement, the embedded Auction is the pre-settlement
// read and Stale is set.
type FinalizeResult struct {
	domain.Auction
	Stale bool `json:"stale,omitempty"`
}

// Auctions orchestrates energy and carbon-credit auctions against the
// Ledger. Energy auctions close at the Ledger's day start plus window.
type Auctions struct {
	ledger domain.Ledger
	mirror domain.AuctionMirror
	trades domain.TradeStore
	window time.Duration
	rec    recorder
	now    func() time.Time
	logger *slog.Logger
}

// NewAuctions creates an Auctions orchestrator.
func NewAuctions(
	ledger domain.Ledger,
	mirror domain.AuctionMirror,
	trades domain.TradeStore,
	bus domain.SignalBus,
	audit domain.AuditStore,
	window time.Duration,
	now func() time.Time,
	logger *slog.Logger,
) *Auctions {
	if now == nil {
		now = time.Now
	}
	if window <= 0 {
		window = 13 * time.Hour
	}
	logger = logger.With(slog.String("component", "auction_book"))
	return &Auctions{
		ledger: ledger,
		mirror: mirror,
		trades: trades,
		window: window,
		rec:    recorder{bus: bus, audit: audit, logger: logger},
		now:    now,
		logger: logger,
	}
}

// Energy auctions and their bids are peak-only; carbon auctions run at any
// hour.
func requirePeak(mode domain.MarketMode, kind domain.TokenKind) error {
	if kind == domain.TokenEnergy && mode != domain.ModePeak {
		return fmt.Errorf("%w: energy auctions run at peak only (mode %s)", domain.ErrModeClosed, mode)
	}
	return nil
}

// CreateAuction escrows terms.TokenAmount from seller and opens an
// auction. Nothing is registered without a successful escrow.
func (a *Auctions) CreateAuction(ctx context.Context, mode domain.MarketMode, seller string, terms domain.AuctionTerms) (domain.Auction, error) {
	if err := requirePeak(mode, terms.Kind); err != nil {
		return domain.Auction{}, fmt.Errorf("auction_book: create: %w", err)
	}
	if terms.TokenAmount == nil || terms.TokenAmount.Sign() <= 0 {
		return domain.Auction{}, fmt.Errorf("auction_book: create: %w", domain.ErrInvalidAmount)
	}
	if terms.BasePrice == nil || terms.BasePrice.Sign() <= 0 {
		return domain.Auction{}, fmt.Errorf("auction_book: create: %w", domain.ErrInvalidPrice)
	}
	now := a.now()
	switch terms.Kind {
	case domain.TokenCarbon:
		if terms.DurationDays <= 0 {
			return domain.Auction{}, fmt.Errorf("auction_book: create: %w", domain.ErrInvalidDuration)
		}
	case domain.TokenEnergy:
		dayStart, err := a.ledger.DayStart(ctx)
		if err != nil {
			return domain.Auction{}, fmt.Errorf("auction_book: create: day start: %w", err)
		}
		if end := dayStart.Add(a.window); !end.After(now) {
			return domain.Auction{}, fmt.Errorf("auction_book: create: window ended %s: %w", end.Format(time.RFC3339), domain.ErrWindowClosed)
		}
	default:
		return domain.Auction{}, fmt.Errorf("auction_book: create: kind %q: %w", terms.Kind, domain.ErrValidation)
	}

	if err := a.ledger.Escrow(ctx, seller, domain.AuctionVenue(terms.Kind), terms.TokenAmount); err != nil {
		a.logger.ErrorContext(ctx, "auction_book: escrow failed",
			slog.String("seller", seller),
			slog.String("kind", string(terms.Kind)),
			slog.String("amount", terms.TokenAmount.String()),
			slog.String("error", err.Error()),
		)
		if !errors.Is(err, domain.ErrEscrowFailed) && !errors.Is(err, domain.ErrExternalService) {
			err = fmt.Errorf("%w: %w", domain.ErrEscrowFailed, err)
		}
		return domain.Auction{}, fmt.Errorf("auction_book: create: %w", err)
	}

	id, err := a.ledger.CreateAuction(ctx, seller, terms)
	if err != nil {
		a.logger.ErrorContext(ctx, "auction_book: create auction failed",
			slog.String("seller", seller),
			slog.String("kind", string(terms.Kind)),
			slog.String("error", err.Error()),
		)
		return domain.Auction{}, fmt.Errorf("auction_book: create: %w", err)
	}

	auction, err := a.refresh(ctx, terms.Kind, id)
	if err != nil {
		return domain.Auction{}, fmt.Errorf("auction_book: create: refresh %d: %w", id, err)
	}
	a.rec.record(ctx, domain.MarketEvent{
		Type:   domain.EventAuctionCreated,
		Token:  terms.Kind,
		ID:     id,
		Caller: seller,
		Amount: terms.TokenAmount,
		Value:  terms.BasePrice,
		At:     now.UTC(),
	}, details("token_amount", terms.TokenAmount, "base_price", terms.BasePrice, "end_time", auction.EndTime))

	a.logger.InfoContext(ctx, "auction_book: auction created",
		slog.Uint64("auction_id", id),
		slog.String("kind", string(terms.Kind)),
		slog.String("seller", seller),
		slog.Time("end_time", auction.EndTime),
	)
	return auction, nil
}

// PlaceBid bids desiredNet for bidder. The Ledger receives
// domain.SubmittedBid(desiredNet) and records domain.NetBid of that value,
// which must beat both the current highest bid and the base price.
func (a *Auctions) PlaceBid(ctx context.Context, mode domain.MarketMode, bidder string, kind domain.TokenKind, auctionID uint64, desiredNet *big.Int) (BidResult, error) {
	if err := requirePeak(mode, kind); err != nil {
		return BidResult{}, fmt.Errorf("auction_book: bid: %w", err)
	}
	if desiredNet == nil || desiredNet.Sign() <= 0 {
		return BidResult{}, fmt.Errorf("auction_book: bid %d: %w", auctionID, domain.ErrInvalidAmount)
	}

	auction, err := a.ledger.Auction(ctx, kind, auctionID)
	if err != nil {
		return BidResult{}, fmt.Errorf("auction_book: bid %d: %w", auctionID, err)
	}
	if auction.Finalized {
		return BidResult{}, fmt.Errorf("auction_book: bid %d: %w", auctionID, domain.ErrAuctionFinalized)
	}
	if !a.now().Before(auction.EndTime) {
		return BidResult{}, fmt.Errorf("auction_book: bid %d: %w", auctionID, domain.ErrAuctionEnded)
	}

	submitted := domain.SubmittedBid(desiredNet)
	net := domain.NetBid(submitted)
	if net.Cmp(auction.HighestBid) <= 0 || net.Cmp(auction.BasePrice) <= 0 {
		return BidResult{}, fmt.Errorf("auction_book: bid %d: net %s against highest %s base %s: %w",
			auctionID, net, auction.HighestBid, auction.BasePrice, domain.ErrBidTooLow)
	}

	if err := a.ledger.PlaceBid(ctx, bidder, kind, auctionID, submitted); err != nil {
		a.logger.ErrorContext(ctx, "auction_book: place bid failed",
			slog.Uint64("auction_id", auctionID),
			slog.String("kind", string(kind)),
			slog.String("bidder", bidder),
			slog.String("submitted", submitted.String()),
			slog.String("error", err.Error()),
		)
		return BidResult{}, fmt.Errorf("auction_book: bid %d: %w", auctionID, err)
	}

	stale := false
	fresh, err := a.refresh(ctx, kind, auctionID)
	if err != nil {
		a.logger.WarnContext(ctx, "auction_book: refresh after bid failed",
			slog.Uint64("auction_id", auctionID),
			slog.String("error", err.Error()),
		)
		fresh, stale = auction.Clone(), true
	}

	a.rec.record(ctx, domain.MarketEvent{
		Type:   domain.EventBidPlaced,
		Token:  kind,
		ID:     auctionID,
		Caller: bidder,
		Amount: net,
		Value:  submitted,
		At:     a.now().UTC(),
	}, details("net_bid", net, "submitted", submitted))

	a.logger.InfoContext(ctx, "auction_book: bid placed",
		slog.Uint64("auction_id", auctionID),
		slog.String("kind", string(kind)),
		slog.String("bidder", bidder),
		slog.String("net_bid", net.String()),
	)
	return BidResult{Auction: fresh, Submitted: submitted, Net: net, Stale: stale}, nil
}

// FinalizeAuction settles an ended auction for its seller. A second call
// fails with domain.ErrAlreadyFinalized and changes nothing.
func (a *Auctions) FinalizeAuction(ctx context.Context, seller string, kind domain.TokenKind, auctionID uint64) (FinalizeResult, error) {
	auction, err := a.ledger.Auction(ctx, kind, auctionID)
	if err != nil {
		return FinalizeResult{}, fmt.Errorf("auction_book: finalize %d: %w", auctionID, err)
	}
	if auction.Seller != seller {
		return FinalizeResult{}, fmt.Errorf("auction_book: finalize %d: %w", auctionID, domain.ErrNotSeller)
	}
	if auction.Finalized {
		return FinalizeResult{}, fmt.Errorf("auction_book: finalize %d: %w", auctionID, domain.ErrAlreadyFinalized)
	}
	now := a.now()
	if now.Before(auction.EndTime) {
		return FinalizeResult{}, fmt.Errorf("auction_book: finalize %d: ends %s: %w",
			auctionID, auction.EndTime.Format(time.RFC3339), domain.ErrTooEarly)
	}

	if err := a.ledger.FinalizeAuction(ctx, seller, kind, auctionID); err != nil {
		a.logger.ErrorContext(ctx, "auction_book: finalize failed",
			slog.Uint64("auction_id", auctionID),
			slog.String("kind", string(kind)),
			slog.String("seller", seller),
			slog.String("error", err.Error()),
		)
		return FinalizeResult{}, fmt.Errorf("auction_book: finalize %d: %w", auctionID, err)
	}

	// Winner and bid are fixed once the auction has ended, so the
	// pre-settlement read is enough for the settlement record.
	stale := false
	fresh, err := a.refresh(ctx, kind, auctionID)
	if err != nil {
		a.logger.WarnContext(ctx, "auction_book: refresh after finalize failed",
			slog.Uint64("auction_id", auctionID),
			slog.String("error", err.Error()),
		)
		fresh, stale = auction.Clone(), true
	}

	if fresh.HighestBidder != "" {
		rec := domain.TradeRecord{
			ID:          uuid.New().String(),
			Kind:        domain.RecordAuctionSettlement,
			Token:       kind,
			ReferenceID: auctionID,
			Seller:      fresh.Seller,
			Buyer:       fresh.HighestBidder,
			Amount:      new(big.Int).Set(fresh.TokenAmount),
			UnitPrice:   new(big.Int).Quo(fresh.HighestBid, fresh.TokenAmount),
			Fee:         new(big.Int),
			Total:       new(big.Int).Set(fresh.HighestBid),
			ExecutedAt:  now.UTC(),
		}
		if err := a.trades.Insert(ctx, rec); err != nil {
			a.logger.ErrorContext(ctx, "auction_book: settlement record insert failed",
				slog.Uint64("auction_id", auctionID),
				slog.String("record_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	a.rec.record(ctx, domain.MarketEvent{
		Type:   domain.EventAuctionFinalized,
		Token:  kind,
		ID:     auctionID,
		Caller: seller,
		Amount: fresh.TokenAmount,
		Value:  fresh.HighestBid,
		At:     now.UTC(),
	}, details("winner", fresh.HighestBidder, "highest_bid", fresh.HighestBid))

	a.logger.InfoContext(ctx, "auction_book: auction finalized",
		slog.Uint64("auction_id", auctionID),
		slog.String("kind", string(kind)),
		slog.String("winner", fresh.HighestBidder),
	)
	return FinalizeResult{Auction: fresh, Stale: stale}, nil
}

// Auction returns one auction, mirror first.
func (a *Auctions) Auction(ctx context.Context, kind domain.TokenKind, auctionID uint64) (domain.Auction, error) {
	if au, err := a.mirror.Get(ctx, kind, auctionID); err == nil {
		return au, nil
	}
	au, err := a.ledger.Auction(ctx, kind, auctionID)
	if err != nil {
		return domain.Auction{}, fmt.Errorf("auction_book: get %d: %w", auctionID, err)
	}
	return au, nil
}

// ActiveAuctions yields the auctions of kind that are unfinalized and not
// yet ended. Each range over the sequence re-reads the mirror (or the
// Ledger on a miss) and filters at that moment, so the sequence can be
// ranged over again for a newer view. A read failure is yielded once as
// the error and ends the sequence.
func (a *Auctions) ActiveAuctions(ctx context.Context, kind domain.TokenKind) iter.Seq2[domain.Auction, error] {
	return func(yield func(domain.Auction, error) bool) {
		list, err := a.list(ctx, kind)
		if err != nil {
			yield(domain.Auction{}, err)
			return
		}
		now := a.now()
		for _, au := range list {
			if !au.ActiveAt(now) {
				continue
			}
			if !yield(au, nil) {
				return
			}
		}
	}
}

func (a *Auctions) list(ctx context.Context, kind domain.TokenKind) ([]domain.Auction, error) {
	list, err := a.mirror.List(ctx, kind)
	if err == nil {
		return list, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		a.logger.WarnContext(ctx, "auction_book: mirror list failed", slog.String("error", err.Error()))
	}
	list, err = a.ledger.Auctions(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("auction_book: list %s: %w", kind, err)
	}
	if err := a.mirror.ReplaceAll(ctx, kind, list); err != nil {
		a.logger.WarnContext(ctx, "auction_book: mirror replace failed", slog.String("error", err.Error()))
	}
	return list, nil
}

func (a *Auctions) refresh(ctx context.Context, kind domain.TokenKind, auctionID uint64) (domain.Auction, error) {
	if err := a.mirror.Invalidate(ctx, kind, auctionID); err != nil {
		a.logger.WarnContext(ctx, "auction_book: mirror invalidate failed", slog.Uint64("auction_id", auctionID), slog.String("error", err.Error()))
	}
	au, err := a.ledger.Auction(ctx, kind, auctionID)
	if err != nil {
		return domain.Auction{}, err
	}
	if au.ActiveAt(a.now()) {
		if err := a.mirror.Put(ctx, au); err != nil {
			a.logger.WarnContext(ctx, "auction_book: mirror put failed", slog.Uint64("auction_id", auctionID), slog.String("error", err.Error()))
		}
	}
	return au, nil
}
