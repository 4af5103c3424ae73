package domain

import (
	"context"
	"math/big"
	"time"
)

// LedgerVenue names the Ledger contract that receives escrowed tokens.
type LedgerVenue string

const (
	VenueOrderBook     LedgerVenue = "order_book"
	VenueEnergyAuction LedgerVenue = "energy_auction"
	VenueCarbonAuction LedgerVenue = "carbon_auction"
)

// AuctionVenue maps an auction's token kind to the contract that holds it.
func AuctionVenue(kind TokenKind) LedgerVenue {
	if kind == TokenCarbon {
		return VenueCarbonAuction
	}
	return VenueEnergyAuction
}

// Ledger is the external settlement collaborator. It owns balances and the
// authoritative order and auction records; every mutating call is atomic on
// the Ledger side and either fully applies or fails. Callers are identified
// by wallet address.
type Ledger interface {
	// Escrow authorizes venue to take amount tokens from caller.
	Escrow(ctx context.Context, caller string, venue LedgerVenue, amount *big.Int) error

	CreateSellOrder(ctx context.Context, caller string, amount, unitPrice *big.Int, locationToken string) (uint64, error)
	CancelSellOrder(ctx context.Context, caller string, orderID uint64) error
	// ExecuteTrade buys amount units from the order, paying payable of which
	// fee is the non-seller share.
	ExecuteTrade(ctx context.Context, caller string, orderID uint64, amount, fee, payable *big.Int) error
	SellOrder(ctx context.Context, orderID uint64) (SellOrder, error)
	SellOrders(ctx context.Context) ([]SellOrder, error)

	CreateAuction(ctx context.Context, caller string, terms AuctionTerms) (uint64, error)
	// PlaceBid submits value; the Ledger records NetBid(value) and refunds
	// the previous highest bidder.
	PlaceBid(ctx context.Context, caller string, kind TokenKind, auctionID uint64, value *big.Int) error
	FinalizeAuction(ctx context.Context, caller string, kind TokenKind, auctionID uint64) error
	Auction(ctx context.Context, kind TokenKind, auctionID uint64) (Auction, error)
	Auctions(ctx context.Context, kind TokenKind) ([]Auction, error)

	DayStart(ctx context.Context) (time.Time, error)
	SetDayStart(ctx context.Context, caller string, at time.Time) error
	TokenPrice(ctx context.Context) (*big.Int, error)
	// BuyTokens purchases energy tokens with value in the Ledger's native unit.
	BuyTokens(ctx context.Context, caller string, value *big.Int) error
	Balance(ctx context.Context, kind TokenKind, account string) (*big.Int, error)
}
