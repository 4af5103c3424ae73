package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/geomarket/internal/domain"
	"github.com/alanyoungcy/geomarket/internal/service"
)

// Directory defines what the user handler needs from the directory service.
type Directory interface {
	Register(ctx context.Context, r service.Registration) (domain.User, error)
	Login(ctx context.Context, identity, password string) (domain.User, error)
	WalletLogin(ctx context.Context, walletAddr string, lat, lon float64) (domain.User, error)
	UpdateLocation(ctx context.Context, walletAddr string, lat, lon float64) (domain.User, error)
	Get(ctx context.Context, walletAddr string) (domain.User, error)
}

// TradeHistory lists the local trade records of a wallet.
type TradeHistory interface {
	ListByWallet(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.TradeRecord, error)
}

// UserHandler serves the Directory endpoints.
type UserHandler struct {
	users  Directory
	trades TradeHistory
	logger *slog.Logger
}

// NewUserHandler creates a UserHandler.
func NewUserHandler(users Directory, trades TradeHistory, logger *slog.Logger) *UserHandler {
	return &UserHandler{users: users, trades: trades, logger: logHandler(logger, "users")}
}

type registerRequest struct {
	Name          string   `json:"name"`
	Identity      string   `json:"identity"`
	Password      string   `json:"password"`
	WalletAddress string   `json:"walletAddress"`
	Latitude      *float64 `json:"latitude"`
	Longitude     *float64 `json:"longitude"`
}

// Register creates a located identity.
// POST /api/users/register
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		writeError(w, http.StatusBadRequest, "latitude and longitude are required")
		return
	}
	user, err := h.users.Register(r.Context(), service.Registration{
		Name:          req.Name,
		Identity:      req.Identity,
		Password:      req.Password,
		WalletAddress: req.WalletAddress,
		Latitude:      *req.Latitude,
		Longitude:     *req.Longitude,
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateIdentity) || errors.Is(err, domain.ErrDuplicateWallet) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeServiceError(w, r, h.logger, "failed to register user", err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

type loginRequest struct {
	Identity string `json:"identity"`
	Password string `json:"password"`
}

// Login checks identity credentials.
// POST /api/users/login
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user, err := h.users.Login(r.Context(), req.Identity, req.Password)
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to log in", err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type locationRequest struct {
	WalletAddress string   `json:"walletAddress"`
	Latitude      *float64 `json:"latitude"`
	Longitude     *float64 `json:"longitude"`
}

func (req locationRequest) valid(w http.ResponseWriter) bool {
	if req.WalletAddress == "" || req.Latitude == nil || req.Longitude == nil {
		writeError(w, http.StatusBadRequest, "walletAddress, latitude and longitude are required")
		return false
	}
	return true
}

// WalletLogin finds or creates the user for a wallet.
// POST /api/users/wallet-login
func (h *UserHandler) WalletLogin(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if !decodeBody(w, r, &req) || !req.valid(w) {
		return
	}
	user, err := h.users.WalletLogin(r.Context(), req.WalletAddress, *req.Latitude, *req.Longitude)
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to log in wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// UpdateLocation moves a user and recomputes its location token.
// PUT /api/users/location
func (h *UserHandler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if !decodeBody(w, r, &req) || !req.valid(w) {
		return
	}
	user, err := h.users.UpdateLocation(r.Context(), req.WalletAddress, *req.Latitude, *req.Longitude)
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to update location", err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// GetUser returns a user by wallet.
// GET /api/users/{walletAddress}
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.Get(r.Context(), pathParam(r, "walletAddress"))
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to get user", err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type listTradesResponse struct {
	Trades []domain.TradeRecord `json:"trades"`
}

// ListTrades returns fills and settlements the wallet took part in.
// GET /api/users/{walletAddress}/trades?limit=50&offset=0
func (h *UserHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.Get(r.Context(), pathParam(r, "walletAddress"))
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to get user", err)
		return
	}
	trades, err := h.trades.ListByWallet(r.Context(), user.WalletAddress, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to list trades", err)
		return
	}
	if trades == nil {
		trades = []domain.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, listTradesResponse{Trades: trades})
}
