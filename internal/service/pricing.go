package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/geomarket/internal/domain"
	"github.com/alanyoungcy/geomarket/internal/geo"
)

// PricingService serves the flat distance-fee summary between two
// registered wallets.
type PricingService struct {
	directory *DirectoryService
	pricer    *geo.Pricer
}

// NewPricingService creates a PricingService.
func NewPricingService(directory *DirectoryService, pricer *geo.Pricer) *PricingService {
	return &PricingService{directory: directory, pricer: pricer}
}

// Summary prices basePrice between buyer and seller. Both wallets must be
// registered.
func (p *PricingService) Summary(ctx context.Context, buyer, seller, basePrice string) (domain.PriceSummary, error) {
	if strings.TrimSpace(buyer) == "" || strings.TrimSpace(seller) == "" || strings.TrimSpace(basePrice) == "" {
		return domain.PriceSummary{}, fmt.Errorf("pricing: summary: %w: buyerAddress, sellerAddress and basePrice are required", domain.ErrValidation)
	}
	base, err := decimal.NewFromString(strings.TrimSpace(basePrice))
	if err != nil || base.IsNegative() {
		return domain.PriceSummary{}, fmt.Errorf("pricing: summary: %w: basePrice %q", domain.ErrInvalidPrice, basePrice)
	}
	b, err := p.directory.Get(ctx, buyer)
	if err != nil {
		return domain.PriceSummary{}, fmt.Errorf("pricing: buyer: %w", err)
	}
	s, err := p.directory.Get(ctx, seller)
	if err != nil {
		return domain.PriceSummary{}, fmt.Errorf("pricing: seller: %w", err)
	}
	return p.pricer.SummaryForTokens(ctx, base, b.LocationToken, s.LocationToken), nil
}
