package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/geomarket/internal/domain"
)

// TelemetryClient reads battery status from a device gateway at
// GET {baseURL}/devices/{id}/battery.
type TelemetryClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewTelemetryClient creates a TelemetryClient.
func NewTelemetryClient(baseURL string, timeout time.Duration, logger *slog.Logger) *TelemetryClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TelemetryClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "device_telemetry")),
	}
}

func (c *TelemetryClient) BatteryStatus(ctx context.Context, deviceID string) (domain.BatteryStatus, error) {
	path := fmt.Sprintf("/devices/%s/battery", url.PathEscape(deviceID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return domain.BatteryStatus{}, fmt.Errorf("oracle: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := doRequest(c.httpClient, req)
	if err != nil {
		c.logger.ErrorContext(ctx, "oracle: battery status failed",
			slog.String("device_id", deviceID),
			slog.String("error", err.Error()),
		)
		return domain.BatteryStatus{}, fmt.Errorf("oracle: battery status %s: %w", deviceID, err)
	}

	var status domain.BatteryStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return domain.BatteryStatus{}, fmt.Errorf("oracle: decode battery status: %w: %w", domain.ErrExternalService, err)
	}
	if status.DeviceID == "" {
		status.DeviceID = deviceID
	}
	if status.ReportedAt.IsZero() {
		status.ReportedAt = time.Now().UTC()
	}
	return status, nil
}

var _ domain.DeviceTelemetry = (*TelemetryClient)(nil)
