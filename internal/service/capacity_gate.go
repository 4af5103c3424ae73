package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/alanyoungcy/geomarket/internal/domain"
)

// CapacityGate admits or rejects a trade volume using the CapacityOracle.
// Oracle failures are never retried and never admit.
type CapacityGate struct {
	oracle domain.CapacityOracle
	logger *slog.Logger
}

// NewCapacityGate creates a CapacityGate.
func NewCapacityGate(oracle domain.CapacityOracle, logger *slog.Logger) *CapacityGate {
	return &CapacityGate{
		oracle: oracle,
		logger: logger.With(slog.String("component", "capacity_gate")),
	}
}

// Witness returns the raw witness value for amount.
func (g *CapacityGate) Witness(ctx context.Context, amount *big.Int) (int64, error) {
	if amount == nil || amount.Sign() <= 0 {
		return 0, fmt.Errorf("capacity_gate: witness: %w", domain.ErrInvalidAmount)
	}
	w, err := g.oracle.Witness(ctx, amount)
	if err != nil {
		g.logger.ErrorContext(ctx, "capacity_gate: oracle query failed",
			slog.String("amount", amount.String()),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("capacity_gate: witness: %w: %w", domain.ErrCapacityCheckUnavailable, err)
	}
	return w, nil
}

// Check returns domain.Reject when the oracle's witness is
// domain.RejectWitness and domain.Admit for any other value.
func (g *CapacityGate) Check(ctx context.Context, amount *big.Int) (domain.Admission, error) {
	w, err := g.Witness(ctx, amount)
	if err != nil {
		return domain.Reject, err
	}
	if w == domain.RejectWitness {
		g.logger.InfoContext(ctx, "capacity_gate: volume rejected", slog.String("amount", amount.String()))
		return domain.Reject, nil
	}
	return domain.Admit, nil
}
