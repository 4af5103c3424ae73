package handler

import (
	"context"
	"encoding/json"
	"iter"
	"log/slog"
	"math/big"
	"net/http"
	"sort"

	"github.com/alanyoungcy/geomarket/internal/domain"
	"github.com/alanyoungcy/geomarket/internal/service"
)

// AuctionBook defines what the auction handler needs from the auction
// orchestrator.
type AuctionBook interface {
	CreateAuction(ctx context.Context, mode domain.MarketMode, seller string, terms domain.AuctionTerms) (domain.Auction, error)
	PlaceBid(ctx context.Context, mode domain.MarketMode, bidder string, kind domain.TokenKind, auctionID uint64, desiredNet *big.Int) (service.BidResult, error)
	FinalizeAuction(ctx context.Context, seller string, kind domain.TokenKind, auctionID uint64) (service.FinalizeResult, error)
	Auction(ctx context.Context, kind domain.TokenKind, auctionID uint64) (domain.Auction, error)
	ActiveAuctions(ctx context.Context, kind domain.TokenKind) iter.Seq2[domain.Auction, error]
}

// AuctionHandler serves auction reads and the direct auction endpoints.
type AuctionHandler struct {
	auctions AuctionBook
	modes    ModeSource
	sessions SessionRunner
	logger   *slog.Logger
}

// NewAuctionHandler creates an AuctionHandler.
func NewAuctionHandler(auctions AuctionBook, modes ModeSource, sessions SessionRunner, logger *slog.Logger) *AuctionHandler {
	return &AuctionHandler{
		auctions: auctions,
		modes:    modes,
		sessions: sessions,
		logger:   logHandler(logger, "auctions"),
	}
}

type listAuctionsResponse struct {
	Auctions []domain.Auction `json:"auctions"`
}

// ListAuctions returns active auctions of one kind.
// GET /api/auctions?kind=energy|carbon
func (h *AuctionHandler) ListAuctions(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("kind")
	if raw == "" {
		raw = string(domain.TokenEnergy)
	}
	kind, err := domain.ParseTokenKind(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out := []domain.Auction{}
	for au, err := range h.auctions.ActiveAuctions(r.Context(), kind) {
		if err != nil {
			writeServiceError(w, r, h.logger, "failed to list auctions", err)
			return
		}
		out = append(out, au)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, listAuctionsResponse{Auctions: out})
}

// auctionRef parses the {kind} and {id} path parameters.
func auctionRef(w http.ResponseWriter, r *http.Request) (domain.TokenKind, uint64, bool) {
	kind, err := domain.ParseTokenKind(pathParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", 0, false
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", 0, false
	}
	return kind, id, true
}

// GetAuction returns one auction.
// GET /api/auctions/{kind}/{id}
func (h *AuctionHandler) GetAuction(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := auctionRef(w, r)
	if !ok {
		return
	}
	au, err := h.auctions.Auction(r.Context(), kind, id)
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to get auction", err)
		return
	}
	writeJSON(w, http.StatusOK, au)
}

type carbonAuctionRequest struct {
	TokenAmount  json.Number `json:"tokenAmount"`
	BasePrice    json.Number `json:"basePrice"`
	DurationDays int64       `json:"durationDays"`
}

// CreateCarbonAuction escrows carbon credits into a new auction.
// POST /api/auctions/carbon
func (h *AuctionHandler) CreateCarbonAuction(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req carbonAuctionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, err := parseAmount("tokenAmount", req.TokenAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	base, err := parseAmount("basePrice", req.BasePrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	mode := h.modes.Current().Mode
	var au domain.Auction
	err = h.sessions.Do(r.Context(), caller, func(ctx context.Context) error {
		var err error
		au, err = h.auctions.CreateAuction(ctx, mode, caller, domain.AuctionTerms{
			Kind:         domain.TokenCarbon,
			TokenAmount:  amount,
			BasePrice:    base,
			DurationDays: req.DurationDays,
		})
		return err
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to create auction", err)
		return
	}
	writeJSON(w, http.StatusCreated, au)
}

type bidRequest struct {
	Amount json.Number `json:"amount"`
}

// PlaceBid bids the desired net amount; the response carries the value
// submitted to the Ledger.
// POST /api/auctions/{kind}/{id}/bids
func (h *AuctionHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	kind, id, ok := auctionRef(w, r)
	if !ok {
		return
	}
	var req bidRequest
	if !decodeBody(w, r, &req) {
		return
	}
	net, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	mode := h.modes.Current().Mode
	var res service.BidResult
	err = h.sessions.Do(r.Context(), caller, func(ctx context.Context) error {
		var err error
		res, err = h.auctions.PlaceBid(ctx, mode, caller, kind, id, net)
		return err
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to place bid", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// FinalizeAuction settles an ended auction. Seller only.
// POST /api/auctions/{kind}/{id}/finalize
func (h *AuctionHandler) FinalizeAuction(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	kind, id, ok := auctionRef(w, r)
	if !ok {
		return
	}
	var au service.FinalizeResult
	err := h.sessions.Do(r.Context(), caller, func(ctx context.Context) error {
		var err error
		au, err = h.auctions.FinalizeAuction(ctx, caller, kind, id)
		return err
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to finalize auction", err)
		return
	}
	writeJSON(w, http.StatusOK, au)
}
