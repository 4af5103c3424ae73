package service

import (
	"context"
	"fmt"
	"math/big"

	"github.com/alanyoungcy/geomarket/internal/domain"
)

// Listing is the outcome of Venue.List: a sell order off-peak or an energy
// auction at peak.
type Listing struct {
	Mode    domain.MarketMode `json:"mode"`
	Order   *domain.SellOrder `json:"order,omitempty"`
	Auction *domain.Auction   `json:"auction,omitempty"`
}

// Fill is the outcome of Venue.Take: an order fill off-peak or a bid at
// peak.
type Fill struct {
	Mode  domain.MarketMode `json:"mode"`
	Trade *TradeResult      `json:"trade,omitempty"`
	Bid   *BidResult        `json:"bid,omitempty"`
}

// Venue is the energy market as seen by one request. Amount is the token
// volume; price is the unit price of an order or the base price of an
// auction. For Take, amount is the buy volume of an order or the net bid
// of an auction.
type Venue interface {
	Mode() domain.MarketMode
	List(ctx context.Context, caller string, amount, price *big.Int) (Listing, error)
	Take(ctx context.Context, caller string, id uint64, amount *big.Int) (Fill, error)
}

type orderBookVenue struct{ book *OrderBook }

func (v orderBookVenue) Mode() domain.MarketMode { return domain.ModeOffPeak }

func (v orderBookVenue) List(ctx context.Context, caller string, amount, price *big.Int) (Listing, error) {
	o, err := v.book.CreateSellOrder(ctx, domain.ModeOffPeak, caller, amount, price)
	if err != nil {
		return Listing{}, err
	}
	return Listing{Mode: domain.ModeOffPeak, Order: &o}, nil
}

func (v orderBookVenue) Take(ctx context.Context, caller string, id uint64, amount *big.Int) (Fill, error) {
	res, err := v.book.ExecuteTrade(ctx, domain.ModeOffPeak, caller, id, amount)
	if err != nil {
		return Fill{}, err
	}
	return Fill{Mode: domain.ModeOffPeak, Trade: &res}, nil
}

type auctionVenue struct{ auctions *Auctions }

func (v auctionVenue) Mode() domain.MarketMode { return domain.ModePeak }

func (v auctionVenue) List(ctx context.Context, caller string, amount, price *big.Int) (Listing, error) {
	a, err := v.auctions.CreateAuction(ctx, domain.ModePeak, caller, domain.AuctionTerms{
		Kind:        domain.TokenEnergy,
		TokenAmount: amount,
		BasePrice:   price,
	})
	if err != nil {
		return Listing{}, err
	}
	return Listing{Mode: domain.ModePeak, Auction: &a}, nil
}

func (v auctionVenue) Take(ctx context.Context, caller string, id uint64, amount *big.Int) (Fill, error) {
	res, err := v.auctions.PlaceBid(ctx, domain.ModePeak, caller, domain.TokenEnergy, id, amount)
	if err != nil {
		return Fill{}, err
	}
	return Fill{Mode: domain.ModePeak, Bid: &res}, nil
}

// Router selects the energy venue for a market mode.
type Router struct {
	offPeak Venue
	peak    Venue
}

// NewRouter creates a Router over the two orchestrators.
func NewRouter(book *OrderBook, auctions *Auctions) *Router {
	return &Router{
		offPeak: orderBookVenue{book: book},
		peak:    auctionVenue{auctions: auctions},
	}
}

// For returns the venue that mode admits.
func (r *Router) For(mode domain.MarketMode) (Venue, error) {
	switch mode {
	case domain.ModeOffPeak:
		return r.offPeak, nil
	case domain.ModePeak:
		return r.peak, nil
	default:
		return nil, fmt.Errorf("router: unknown mode %q: %w", mode, domain.ErrValidation)
	}
}
