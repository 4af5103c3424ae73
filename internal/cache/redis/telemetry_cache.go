package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/geomarket/internal/domain"
)

// TelemetryCache implements domain.TelemetryCache. Each device reading is a
// JSON string at "battery:{deviceID}".
type TelemetryCache struct {
	c *Client
}

// NewTelemetryCache creates a TelemetryCache backed by the given Client.
func NewTelemetryCache(c *Client) *TelemetryCache {
	return &TelemetryCache{c: c}
}

// Set stores the latest reading for a device.
func (tc *TelemetryCache) Set(ctx context.Context, status domain.BatteryStatus, ttl time.Duration) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("redis: marshal battery %s: %w", status.DeviceID, err)
	}
	if err := tc.c.rdb.Set(ctx, tc.c.key("battery", status.DeviceID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set battery %s: %w", status.DeviceID, err)
	}
	return nil
}

// Get returns the cached reading or domain.ErrNotFound.
func (tc *TelemetryCache) Get(ctx context.Context, deviceID string) (domain.BatteryStatus, error) {
	data, err := tc.c.rdb.Get(ctx, tc.c.key("battery", deviceID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.BatteryStatus{}, domain.ErrNotFound
		}
		return domain.BatteryStatus{}, fmt.Errorf("redis: get battery %s: %w", deviceID, err)
	}
	var status domain.BatteryStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return domain.BatteryStatus{}, fmt.Errorf("redis: unmarshal battery %s: %w", deviceID, err)
	}
	return status, nil
}

var _ domain.TelemetryCache = (*TelemetryCache)(nil)
