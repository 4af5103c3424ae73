package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/geomarket/internal/domain"
)

// TelemetryService serves battery status through a short-lived cache.
type TelemetryService struct {
	source domain.DeviceTelemetry
	cache  domain.TelemetryCache
	ttl    time.Duration
	logger *slog.Logger
}

// NewTelemetryService creates a TelemetryService.
func NewTelemetryService(source domain.DeviceTelemetry, cache domain.TelemetryCache, ttl time.Duration, logger *slog.Logger) *TelemetryService {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &TelemetryService{
		source: source,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "telemetry")),
	}
}

func (t *TelemetryService) BatteryStatus(ctx context.Context, deviceID string) (domain.BatteryStatus, error) {
	if strings.TrimSpace(deviceID) == "" {
		return domain.BatteryStatus{}, fmt.Errorf("telemetry: %w: device id required", domain.ErrValidation)
	}
	if st, err := t.cache.Get(ctx, deviceID); err == nil {
		return st, nil
	}
	st, err := t.source.BatteryStatus(ctx, deviceID)
	if err != nil {
		return domain.BatteryStatus{}, fmt.Errorf("telemetry: %w", err)
	}
	if err := t.cache.Set(ctx, st, t.ttl); err != nil {
		t.logger.WarnContext(ctx, "telemetry: cache set failed",
			slog.String("device_id", deviceID),
			slog.String("error", err.Error()),
		)
	}
	return st, nil
}
