package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/geomarket/internal/domain"
)

// MirrorRefresher replaces the order and auction mirrors wholesale from
// Ledger list reads on a fixed interval.
type MirrorRefresher struct {
	ledger   domain.Ledger
	orders   domain.OrderMirror
	auctions domain.AuctionMirror
	interval time.Duration
	logger   *slog.Logger
}

// NewMirrorRefresher creates a MirrorRefresher. interval defaults to 30s.
func NewMirrorRefresher(
	ledger domain.Ledger,
	orders domain.OrderMirror,
	auctions domain.AuctionMirror,
	interval time.Duration,
	logger *slog.Logger,
) *MirrorRefresher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &MirrorRefresher{
		ledger:   ledger,
		orders:   orders,
		auctions: auctions,
		interval: interval,
		logger:   logger.With(slog.String("component", "mirror_refresher")),
	}
}

// Run refreshes immediately and then on every tick until ctx is done.
func (r *MirrorRefresher) Run(ctx context.Context) error {
	r.RefreshOnce(ctx)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.RefreshOnce(ctx)
		}
	}
}

// RefreshOnce reloads every mirror. A failed read leaves that mirror as it
// was; entries age out at their staleness bound.
func (r *MirrorRefresher) RefreshOnce(ctx context.Context) {
	orders, err := r.ledger.SellOrders(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "mirror_refresher: list orders failed", slog.String("error", err.Error()))
	} else if err := r.orders.ReplaceAll(ctx, orders); err != nil {
		r.logger.ErrorContext(ctx, "mirror_refresher: replace orders failed", slog.String("error", err.Error()))
	}

	for _, kind := range []domain.TokenKind{domain.TokenEnergy, domain.TokenCarbon} {
		list, err := r.ledger.Auctions(ctx, kind)
		if err != nil {
			r.logger.ErrorContext(ctx, "mirror_refresher: list auctions failed",
				slog.String("kind", string(kind)),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := r.auctions.ReplaceAll(ctx, kind, list); err != nil {
			r.logger.ErrorContext(ctx, "mirror_refresher: replace auctions failed",
				slog.String("kind", string(kind)),
				slog.String("error", err.Error()),
			)
		}
	}
	r.logger.DebugContext(ctx, "mirror_refresher: mirrors refreshed", slog.Int("orders", len(orders)))
}
