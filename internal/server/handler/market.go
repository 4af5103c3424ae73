package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/alanyoungcy/geomarket/internal/domain"
	"github.com/alanyoungcy/geomarket/internal/service"
)

// ModeSource reports the current market mode.
type ModeSource interface {
	Current() domain.ModeReading
}

// VenueRouter selects the energy venue for a mode.
type VenueRouter interface {
	For(mode domain.MarketMode) (service.Venue, error)
}

// SessionRunner serializes mutating requests per caller.
type SessionRunner interface {
	Do(ctx context.Context, caller string, fn func(context.Context) error) error
}

// DayClock reads and sets the Ledger day start.
type DayClock interface {
	DayStart(ctx context.Context) (time.Time, error)
	SetDayStart(ctx context.Context, caller string) (time.Time, error)
}

// MarketHandler serves the mode-routed energy market endpoints.
type MarketHandler struct {
	modes    ModeSource
	venues   VenueRouter
	sessions SessionRunner
	days     DayClock
	logger   *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(modes ModeSource, venues VenueRouter, sessions SessionRunner, days DayClock, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		modes:    modes,
		venues:   venues,
		sessions: sessions,
		days:     days,
		logger:   logHandler(logger, "market"),
	}
}

// Mode reports the active market mode.
// GET /api/market/mode
func (h *MarketHandler) Mode(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.modes.Current())
}

type dayStartResponse struct {
	DayStart time.Time `json:"dayStart"`
}

// DayStart returns the Ledger day start.
// GET /api/market/day-start
func (h *MarketHandler) DayStart(w http.ResponseWriter, r *http.Request) {
	at, err := h.days.DayStart(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to read day start", err)
		return
	}
	writeJSON(w, http.StatusOK, dayStartResponse{DayStart: at})
}

// SetDayStart sets the Ledger day start to today's opening hour. Owner only.
// POST /api/admin/day-start
func (h *MarketHandler) SetDayStart(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var at time.Time
	err := h.sessions.Do(r.Context(), caller, func(ctx context.Context) error {
		var err error
		at, err = h.days.SetDayStart(ctx, caller)
		return err
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to set day start", err)
		return
	}
	writeJSON(w, http.StatusOK, dayStartResponse{DayStart: at})
}

type listingRequest struct {
	Amount json.Number `json:"amount"`
	Price  json.Number `json:"price"`
}

// CreateListing lists energy on the venue the current mode admits: a sell
// order off-peak, an energy auction at peak.
// POST /api/market/listings
func (h *MarketHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req listingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	price, err := parseAmount("price", req.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	venue, err := h.venues.For(h.modes.Current().Mode)
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to select venue", err)
		return
	}
	var listing service.Listing
	err = h.sessions.Do(r.Context(), caller, func(ctx context.Context) error {
		var err error
		listing, err = venue.List(ctx, caller, amount, price)
		return err
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to create listing", err)
		return
	}
	writeJSON(w, http.StatusCreated, listing)
}

type takeRequest struct {
	Amount json.Number `json:"amount"`
}

// TakeListing fills a sell order off-peak or bids on an energy auction at
// peak. Amount is the buy volume or the desired net bid.
// POST /api/market/listings/{id}/take
func (h *MarketHandler) TakeListing(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req takeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	venue, err := h.venues.For(h.modes.Current().Mode)
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to select venue", err)
		return
	}
	var fill service.Fill
	err = h.sessions.Do(r.Context(), caller, func(ctx context.Context) error {
		var err error
		fill, err = venue.Take(ctx, caller, id, amount)
		return err
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to take listing", err)
		return
	}
	writeJSON(w, http.StatusOK, fill)
}

// TokenLedger buys tokens and reads balances.
type TokenLedger interface {
	Buy(ctx context.Context, caller string, value *big.Int) (*big.Int, error)
	Balance(ctx context.Context, kind domain.TokenKind, wallet string) (*big.Int, error)
}

// TokenHandler serves token purchase and balance endpoints.
type TokenHandler struct {
	tokens   TokenLedger
	sessions SessionRunner
	logger   *slog.Logger
}

// NewTokenHandler creates a TokenHandler.
func NewTokenHandler(tokens TokenLedger, sessions SessionRunner, logger *slog.Logger) *TokenHandler {
	return &TokenHandler{tokens: tokens, sessions: sessions, logger: logHandler(logger, "tokens")}
}

type buyRequest struct {
	Value json.Number `json:"value"`
}

type buyResponse struct {
	Value  *big.Int `json:"value"`
	Amount *big.Int `json:"amount"`
}

// Buy purchases energy tokens with native value.
// POST /api/tokens/buy
func (h *TokenHandler) Buy(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req buyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	value, err := parseAmount("value", req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var amount *big.Int
	err = h.sessions.Do(r.Context(), caller, func(ctx context.Context) error {
		var err error
		amount, err = h.tokens.Buy(ctx, caller, value)
		return err
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to buy tokens", err)
		return
	}
	writeJSON(w, http.StatusOK, buyResponse{Value: value, Amount: amount})
}

type balanceResponse struct {
	Kind    domain.TokenKind `json:"kind"`
	Wallet  string           `json:"walletAddress"`
	Balance *big.Int         `json:"balance"`
}

// Balance returns a wallet's balance of one token. Every well-formed
// address has a balance, so a malformed one is a 400 rather than the 404
// that user lookups return.
// GET /api/tokens/{kind}/balances/{walletAddress}
func (h *TokenHandler) Balance(w http.ResponseWriter, r *http.Request) {
	kind, err := domain.ParseTokenKind(pathParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	wallet := pathParam(r, "walletAddress")
	bal, err := h.tokens.Balance(r.Context(), kind, wallet)
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to read balance", err)
		return
	}
	normalized, _ := service.NormalizeWallet(wallet)
	writeJSON(w, http.StatusOK, balanceResponse{Kind: kind, Wallet: normalized, Balance: bal})
}
