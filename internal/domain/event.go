package domain

import (
	"math/big"
	"time"
)

// Bus channels and streams carrying market events.
const (
	ChannelMarket = "market"
	StreamMarket  = "stream:market"
)

// MarketEventType names a market event.
type MarketEventType string

const (
	EventOrderCreated     MarketEventType = "order_created"
	EventOrderCancelled   MarketEventType = "order_cancelled"
	EventTradeExecuted    MarketEventType = "trade_executed"
	EventAuctionCreated   MarketEventType = "auction_created"
	EventBidPlaced        MarketEventType = "bid_placed"
	EventAuctionFinalized MarketEventType = "auction_finalized"
	EventModeChanged      MarketEventType = "mode_changed"
)

// MarketEvent is published after a confirmed Ledger mutation.
type MarketEvent struct {
	Type   MarketEventType `json:"type"`
	Token  TokenKind       `json:"token,omitempty"`
	ID     uint64          `json:"id,omitempty"`
	Caller string          `json:"caller,omitempty"`
	Amount *big.Int        `json:"amount,omitempty"`
	Value  *big.Int        `json:"value,omitempty"`
	Mode   MarketMode      `json:"mode,omitempty"`
	At     time.Time       `json:"at"`
}
