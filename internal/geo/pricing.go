package geo

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/geomarket/internal/domain"
)

// Rates is a transfer/commission rate pair. TransferRate is charged per km
// of distance; CommissionRate is a fraction of the unit price.
type Rates struct {
	TransferRate   decimal.Decimal
	CommissionRate decimal.Decimal
}

// OrderBookRates are the rates applied to order-book trades by default.
var OrderBookRates = Rates{
	TransferRate:   decimal.RequireFromString("0.01"),
	CommissionRate: decimal.RequireFromString("0.20"),
}

// DefaultDistanceFeePerKm is the flat per-km fee of the price summary.
var DefaultDistanceFeePerKm = decimal.RequireFromString("0.0001")

// Compose returns floor(unitPrice*CommissionRate), floor(distanceKm*TransferRate)
// and their sum with unitPrice.
func (r Rates) Compose(unitPrice *big.Int, distanceKm float64) (commission, transferFee, total *big.Int) {
	price := decimal.NewFromBigInt(unitPrice, 0)
	commission = price.Mul(r.CommissionRate).Floor().BigInt()
	transferFee = decimal.NewFromFloat(distanceKm).Mul(r.TransferRate).Floor().BigInt()
	total = new(big.Int).Add(unitPrice, commission)
	total.Add(total, transferFee)
	return commission, transferFee, total
}

// Pricer computes trade quotes and flat price summaries.
type Pricer struct {
	rates    Rates
	feePerKm decimal.Decimal
	logger   *slog.Logger
}

// NewPricer creates a Pricer. rates apply to Quote; feePerKm applies to
// Summary.
func NewPricer(rates Rates, feePerKm decimal.Decimal, logger *slog.Logger) *Pricer {
	return &Pricer{
		rates:    rates,
		feePerKm: feePerKm,
		logger:   logger.With(slog.String("component", "geo_pricing")),
	}
}

// Quote prices one unit of a sell order for a buyer. A missing or
// undecodable location token yields a degraded quote with zero fees and a
// warning; it is never an error.
func (p *Pricer) Quote(ctx context.Context, unitPrice *big.Int, buyerToken, sellerToken string) (domain.TradeQuote, error) {
	if unitPrice == nil || unitPrice.Sign() < 0 {
		return domain.TradeQuote{}, fmt.Errorf("geo: quote: %w", domain.ErrInvalidPrice)
	}
	q := domain.TradeQuote{
		BuyerLocationToken:  buyerToken,
		SellerLocationToken: sellerToken,
		UnitPrice:           new(big.Int).Set(unitPrice),
	}

	dist, err := p.distance(ctx, buyerToken, sellerToken)
	if err != nil {
		q.Commission = new(big.Int)
		q.TransferFee = new(big.Int)
		q.TotalUnitCost = new(big.Int).Set(unitPrice)
		q.Degraded = true
		return q, nil
	}

	q.DistanceKm = dist
	q.Commission, q.TransferFee, q.TotalUnitCost = p.rates.Compose(unitPrice, dist)
	return q, nil
}

func (p *Pricer) distance(ctx context.Context, buyerToken, sellerToken string) (float64, error) {
	if buyerToken == "" || sellerToken == "" {
		p.logger.WarnContext(ctx, "geo: counterparty location unknown, pricing without fees",
			slog.Bool("buyer_known", buyerToken != ""),
			slog.Bool("seller_known", sellerToken != ""),
		)
		return 0, domain.ErrMissingLocation
	}
	dist, err := DecodeDistance(buyerToken, sellerToken)
	if err != nil {
		p.logger.WarnContext(ctx, "geo: location token undecodable, pricing without fees",
			slog.String("buyer_token", buyerToken),
			slog.String("seller_token", sellerToken),
			slog.String("error", err.Error()),
		)
		return 0, err
	}
	return dist, nil
}

// Summary computes the flat distance-fee estimate for basePrice.
func (p *Pricer) Summary(basePrice decimal.Decimal, distanceKm float64) domain.PriceSummary {
	dist := decimal.NewFromFloat(distanceKm)
	fee := dist.Mul(p.feePerKm)
	return domain.PriceSummary{
		BasePrice:   basePrice,
		DistanceKm:  dist,
		DistanceFee: fee,
		FinalPrice:  basePrice.Add(fee),
	}
}

// SummaryForTokens measures the distance between two tokens and returns the
// flat summary. Undecodable tokens degrade to a zero distance.
func (p *Pricer) SummaryForTokens(ctx context.Context, basePrice decimal.Decimal, buyerToken, sellerToken string) domain.PriceSummary {
	dist, _ := p.distance(ctx, buyerToken, sellerToken)
	return p.Summary(basePrice, dist)
}
