package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"

	"github.com/alanyoungcy/geomarket/internal/domain"
)

// OrderBook defines what the order handler needs from the order book.
type OrderBook interface {
	CancelSellOrder(ctx context.Context, seller string, orderID uint64) (domain.SellOrder, error)
	Quote(ctx context.Context, buyer string, orderID uint64) (domain.TradeQuote, error)
	Orders(ctx context.Context) ([]domain.SellOrder, error)
	Order(ctx context.Context, orderID uint64) (domain.SellOrder, error)
}

// OrderHandler serves sell order reads, quotes and cancellation.
type OrderHandler struct {
	orders   OrderBook
	sessions SessionRunner
	logger   *slog.Logger
}

// NewOrderHandler creates an OrderHandler with the given service and logger.
func NewOrderHandler(orders OrderBook, sessions SessionRunner, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		orders:   orders,
		sessions: sessions,
		logger:   logHandler(logger, "orders"),
	}
}

// listOrdersResponse wraps the list orders response.
type listOrdersResponse struct {
	Orders []domain.SellOrder `json:"orders"`
}

// ListOrders returns active sell orders, optionally for one seller.
// GET /api/orders?seller=0x...
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.Orders(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to list orders", err)
		return
	}
	out := make([]domain.SellOrder, 0, len(orders))
	seller := r.URL.Query().Get("seller")
	for _, o := range orders {
		if seller != "" && !sameWallet(o.Seller, seller) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, listOrdersResponse{Orders: out})
}

// GetOrder returns one sell order.
// GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	o, err := h.orders.Order(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to get order", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// QuoteOrder prices one unit of the order for the caller.
// GET /api/orders/{id}/quote
func (h *OrderHandler) QuoteOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q, err := h.orders.Quote(r.Context(), caller, id)
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to quote order", err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// CancelOrder cancels the caller's sell order.
// DELETE /api/orders/{id}
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var o domain.SellOrder
	err = h.sessions.Do(r.Context(), caller, func(ctx context.Context) error {
		var err error
		o, err = h.orders.CancelSellOrder(ctx, caller, id)
		return err
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to cancel order", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
