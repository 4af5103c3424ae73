// Package oracle contains clients for the off-ledger services the market
// consults: the capacity witness generator and battery device telemetry.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/geomarket/internal/crypto"
	"github.com/alanyoungcy/geomarket/internal/domain"
)

// CapacityClient asks a remote witness generator whether a requested
// volume fits the committed capacity. Requests are HMAC-signed when auth is
// configured.
type CapacityClient struct {
	baseURL    string
	auth       *crypto.HMACAuth
	httpClient *http.Client
	logger     *slog.Logger
}

// NewCapacityClient creates a CapacityClient. auth may be nil.
func NewCapacityClient(baseURL string, auth *crypto.HMACAuth, timeout time.Duration, logger *slog.Logger) *CapacityClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CapacityClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		auth:       auth,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "capacity_oracle")),
	}
}

type witnessRequest struct {
	BuyAmount json.Number `json:"buyAmount"`
}

type witnessResponse struct {
	WitnessValue *int64 `json:"witnessValue"`
}

// Witness posts amount to {baseURL}/generate-witness and returns the
// witness value. Any transport, status or decoding failure unwraps to
// domain.ErrExternalService.
func (c *CapacityClient) Witness(ctx context.Context, amount *big.Int) (int64, error) {
	body, err := json.Marshal(witnessRequest{BuyAmount: json.Number(amount.String())})
	if err != nil {
		return 0, fmt.Errorf("oracle: marshal witness request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate-witness", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("oracle: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.auth != nil {
		c.auth.Sign(req, body)
	}

	respBody, err := c.do(req)
	if err != nil {
		c.logger.ErrorContext(ctx, "oracle: witness request failed",
			slog.String("amount", amount.String()),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("oracle: witness: %w", err)
	}

	var resp witnessResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return 0, fmt.Errorf("oracle: decode witness: %w: %w", domain.ErrExternalService, err)
	}
	if resp.WitnessValue == nil {
		return 0, fmt.Errorf("oracle: witness value missing: %w", domain.ErrExternalService)
	}
	return *resp.WitnessValue, nil
}

func (c *CapacityClient) do(req *http.Request) ([]byte, error) {
	return doRequest(c.httpClient, req)
}

// doRequest executes req and returns the body of a 2xx response.
func doRequest(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: http request: %w", domain.ErrExternalService, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", domain.ErrExternalService, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrExternalService, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}

// LocalCapacity is an in-process witness generator for local mode: it
// returns domain.RejectWitness when the amount exceeds the configured
// capacity and 0 otherwise.
type LocalCapacity struct {
	capacity *big.Int
}

// NewLocalCapacity creates a LocalCapacity bounded by capacity.
func NewLocalCapacity(capacity *big.Int) *LocalCapacity {
	return &LocalCapacity{capacity: new(big.Int).Set(capacity)}
}

func (l *LocalCapacity) Witness(_ context.Context, amount *big.Int) (int64, error) {
	if amount.Cmp(l.capacity) > 0 {
		return domain.RejectWitness, nil
	}
	return 0, nil
}

var (
	_ domain.CapacityOracle = (*CapacityClient)(nil)
	_ domain.CapacityOracle = (*LocalCapacity)(nil)
)
