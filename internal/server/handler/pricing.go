package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/alanyoungcy/geomarket/internal/domain"
)

// PriceSummarizer computes the flat distance-fee summary.
type PriceSummarizer interface {
	Summary(ctx context.Context, buyer, seller, basePrice string) (domain.PriceSummary, error)
}

// WitnessSource produces capacity witnesses.
type WitnessSource interface {
	Witness(ctx context.Context, amount *big.Int) (int64, error)
}

// BatterySource reads device telemetry.
type BatterySource interface {
	BatteryStatus(ctx context.Context, deviceID string) (domain.BatteryStatus, error)
}

// PricingHandler serves the price summary, witness and telemetry
// endpoints.
type PricingHandler struct {
	pricing   PriceSummarizer
	witnesses WitnessSource
	devices   BatterySource
	logger    *slog.Logger
}

// NewPricingHandler creates a PricingHandler.
func NewPricingHandler(pricing PriceSummarizer, witnesses WitnessSource, devices BatterySource, logger *slog.Logger) *PricingHandler {
	return &PricingHandler{
		pricing:   pricing,
		witnesses: witnesses,
		devices:   devices,
		logger:    logHandler(logger, "pricing"),
	}
}

type calculatePriceRequest struct {
	BuyerAddress  string      `json:"buyerAddress"`
	SellerAddress string      `json:"sellerAddress"`
	BasePrice     json.Number `json:"basePrice"`
}

type calculatePriceResponse struct {
	BasePrice   string `json:"basePrice"`
	DistanceKm  string `json:"distanceKm"`
	DistanceFee string `json:"distanceFee"`
	FinalPrice  string `json:"finalPrice"`
}

// CalculatePrice returns the distance-fee summary between two wallets.
// POST /api/calculate-price
func (h *PricingHandler) CalculatePrice(w http.ResponseWriter, r *http.Request) {
	var req calculatePriceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s, err := h.pricing.Summary(r.Context(), req.BuyerAddress, req.SellerAddress, req.BasePrice.String())
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to calculate price", err)
		return
	}
	writeJSON(w, http.StatusOK, calculatePriceResponse{
		BasePrice:   s.BasePrice.String(),
		DistanceKm:  s.DistanceKm.StringFixed(2),
		DistanceFee: s.DistanceFee.StringFixed(4),
		FinalPrice:  s.FinalPrice.StringFixed(6),
	})
}

type witnessRequest struct {
	BuyAmount json.Number `json:"buyAmount"`
}

type witnessResponse struct {
	WitnessValue int64 `json:"witnessValue"`
}

// GenerateWitness asks the capacity oracle for a witness.
// POST /api/generate-witness
func (h *PricingHandler) GenerateWitness(w http.ResponseWriter, r *http.Request) {
	var req witnessRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, err := parseAmount("buyAmount", req.BuyAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	v, err := h.witnesses.Witness(r.Context(), amount)
	if err != nil {
		status := statusFor(err)
		if errors.Is(err, domain.ErrExternalService) {
			status = http.StatusInternalServerError
		}
		writeStatusError(w, r, h.logger, status, "witness generation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, witnessResponse{WitnessValue: v})
}

// BatteryStatus returns device telemetry.
// GET /api/battery-status/{deviceId}
func (h *PricingHandler) BatteryStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.devices.BatteryStatus(r.Context(), pathParam(r, "deviceId"))
	if err != nil {
		status := statusFor(err)
		if errors.Is(err, domain.ErrExternalService) {
			status = http.StatusInternalServerError
		}
		writeStatusError(w, r, h.logger, status, "failed to fetch battery status", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
