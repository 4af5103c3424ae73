package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/geomarket/internal/domain"
	"github.com/alanyoungcy/geomarket/internal/server/handler"
	"github.com/alanyoungcy/geomarket/internal/server/middleware"
	"github.com/alanyoungcy/geomarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	RateLimit   int    // requests per RateWindow; 0 disables limiting
	RateWindow  time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Users    *handler.UserHandler
	Pricing  *handler.PricingHandler
	Market   *handler.MarketHandler
	Orders   *handler.OrderHandler
	Auctions *handler.AuctionHandler
	Tokens   *handler.TokenHandler
}

// Server is the HTTP + WebSocket API of the energy market.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (CORS, logging, auth, caller, rate limiting) and
// attaches the WebSocket hub. limiter may be nil.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Directory.
	mux.HandleFunc("POST /api/users/register", handlers.Users.Register)
	mux.HandleFunc("POST /api/users/login", handlers.Users.Login)
	mux.HandleFunc("POST /api/users/wallet-login", handlers.Users.WalletLogin)
	mux.HandleFunc("PUT /api/users/location", handlers.Users.UpdateLocation)
	mux.HandleFunc("GET /api/users/{walletAddress}", handlers.Users.GetUser)
	mux.HandleFunc("GET /api/users/{walletAddress}/trades", handlers.Users.ListTrades)

	// Pricing, capacity witness and device telemetry.
	mux.HandleFunc("POST /api/calculate-price", handlers.Pricing.CalculatePrice)
	mux.HandleFunc("POST /api/generate-witness", handlers.Pricing.GenerateWitness)
	mux.HandleFunc("GET /api/battery-status/{deviceId}", handlers.Pricing.BatteryStatus)

	// Mode-routed energy market.
	mux.HandleFunc("GET /api/market/mode", handlers.Market.Mode)
	mux.HandleFunc("GET /api/market/day-start", handlers.Market.DayStart)
	mux.HandleFunc("POST /api/market/listings", handlers.Market.CreateListing)
	mux.HandleFunc("POST /api/market/listings/{id}/take", handlers.Market.TakeListing)
	mux.HandleFunc("POST /api/admin/day-start", handlers.Market.SetDayStart)

	// Sell orders.
	mux.HandleFunc("GET /api/orders", handlers.Orders.ListOrders)
	mux.HandleFunc("GET /api/orders/{id}", handlers.Orders.GetOrder)
	mux.HandleFunc("GET /api/orders/{id}/quote", handlers.Orders.QuoteOrder)
	mux.HandleFunc("DELETE /api/orders/{id}", handlers.Orders.CancelOrder)

	// Auctions.
	mux.HandleFunc("GET /api/auctions", handlers.Auctions.ListAuctions)
	mux.HandleFunc("POST /api/auctions/carbon", handlers.Auctions.CreateCarbonAuction)
	mux.HandleFunc("GET /api/auctions/{kind}/{id}", handlers.Auctions.GetAuction)
	mux.HandleFunc("POST /api/auctions/{kind}/{id}/bids", handlers.Auctions.PlaceBid)
	mux.HandleFunc("POST /api/auctions/{kind}/{id}/finalize", handlers.Auctions.FinalizeAuction)

	// Tokens.
	mux.HandleFunc("POST /api/tokens/buy", handlers.Tokens.Buy)
	mux.HandleFunc("GET /api/tokens/{kind}/balances/{walletAddress}", handlers.Tokens.Balance)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux
	h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	h = middleware.Caller()(h)
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 3 * time.Minute, // ledger writes wait for confirmation
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		handler:    h,
		logger:     logger,
	}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
