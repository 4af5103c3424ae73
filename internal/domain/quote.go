package domain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// TradeQuote is the per-unit cost a buyer pays for a sell order.
// TotalUnitCost = UnitPrice + Commission + TransferFee.
type TradeQuote struct {
	BuyerLocationToken  string   `json:"buyerLocationToken"`
	SellerLocationToken string   `json:"sellerLocationToken"`
	DistanceKm          float64  `json:"distanceKm"`
	UnitPrice           *big.Int `json:"unitPrice"`
	Commission          *big.Int `json:"commission"`
	TransferFee         *big.Int `json:"transferFee"`
	TotalUnitCost       *big.Int `json:"totalUnitCost"`
	// Degraded is set when a location was missing or undecodable and the
	// quote fell back to zero fees.
	Degraded bool `json:"degraded,omitempty"`
}

// FeePerUnit is the part of TotalUnitCost that is not the seller's price.
func (q TradeQuote) FeePerUnit() *big.Int {
	return new(big.Int).Add(q.Commission, q.TransferFee)
}

// PriceSummary is the flat distance-fee estimate served by /calculate-price.
type PriceSummary struct {
	BasePrice   decimal.Decimal
	DistanceKm  decimal.Decimal
	DistanceFee decimal.Decimal
	FinalPrice  decimal.Decimal
}
