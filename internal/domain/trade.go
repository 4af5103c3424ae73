package domain

import (
	"math/big"
	"time"
)

// TradeRecordKind distinguishes order fills from auction settlements.
type TradeRecordKind string

const (
	RecordOrderFill         TradeRecordKind = "order_fill"
	RecordAuctionSettlement TradeRecordKind = "auction_settlement"
)

// TradeRecord is the local history row written after the Ledger confirms a
// trade or an auction finalization.
type TradeRecord struct {
	ID          string          `json:"id"`
	Kind        TradeRecordKind `json:"kind"`
	Token       TokenKind       `json:"token"`
	ReferenceID uint64          `json:"referenceId"`
	Seller      string          `json:"seller"`
	Buyer       string          `json:"buyer,omitempty"`
	Amount      *big.Int        `json:"amount"`
	UnitPrice   *big.Int        `json:"unitPrice"`
	Fee         *big.Int        `json:"fee"`
	Total       *big.Int        `json:"total"`
	DistanceKm  float64         `json:"distanceKm"`
	ExecutedAt  time.Time       `json:"executedAt"`
}
