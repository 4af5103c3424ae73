package domain

import (
	"math/big"
	"time"
)

// Bid overhead charged by the Ledger on top of the net bid, as a ratio
// BidOverheadNum/BidOverheadDen (1%).
const (
	BidOverheadNum = 101
	BidOverheadDen = 100
)

// Auction mirrors a time-boxed auction held by the Ledger.
type Auction struct {
	ID            uint64    `json:"id"`
	Kind          TokenKind `json:"kind"`
	Seller        string    `json:"seller"`
	TokenAmount   *big.Int  `json:"tokenAmount"`
	BasePrice     *big.Int  `json:"basePrice"`
	StartTime     time.Time `json:"startTime"`
	EndTime       time.Time `json:"endTime"`
	HighestBidder string    `json:"highestBidder,omitempty"`
	HighestBid    *big.Int  `json:"highestBid"`
	Finalized     bool      `json:"isFinalized"`
}

// ActiveAt reports whether the auction still accepts bids at now.
func (a Auction) ActiveAt(now time.Time) bool {
	return !a.Finalized && now.Before(a.EndTime)
}

// Clone returns a deep copy of a.
func (a Auction) Clone() Auction {
	a.TokenAmount = cloneInt(a.TokenAmount)
	a.BasePrice = cloneInt(a.BasePrice)
	a.HighestBid = cloneInt(a.HighestBid)
	return a
}

// AuctionTerms are the inputs for creating an auction. DurationDays is only
// used for carbon-credit auctions; energy auctions close at the Ledger's day
// start plus the administrative window.
type AuctionTerms struct {
	Kind         TokenKind
	TokenAmount  *big.Int
	BasePrice    *big.Int
	DurationDays int64
}

// SubmittedBid returns the value a bidder must send so that the Ledger
// records net as the bid: net*101/100, truncated.
func SubmittedBid(net *big.Int) *big.Int {
	v := new(big.Int).Mul(net, big.NewInt(BidOverheadNum))
	return v.Quo(v, big.NewInt(BidOverheadDen))
}

// NetBid is the Ledger's inverse transform: submitted*100/101, truncated.
func NetBid(submitted *big.Int) *big.Int {
	v := new(big.Int).Mul(submitted, big.NewInt(BidOverheadDen))
	return v.Quo(v, big.NewInt(BidOverheadNum))
}
