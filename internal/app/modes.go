package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/geomarket/internal/geo"
	"github.com/alanyoungcy/geomarket/internal/pipeline"
	"github.com/alanyoungcy/geomarket/internal/schedule"
	"github.com/alanyoungcy/geomarket/internal/server"
	"github.com/alanyoungcy/geomarket/internal/server/handler"
	"github.com/alanyoungcy/geomarket/internal/server/ws"
	"github.com/alanyoungcy/geomarket/internal/service"
)

// shutdownTimeout bounds the graceful HTTP shutdown. In-flight ledger writes
// keep waiting for their receipts beyond it.
const shutdownTimeout = 10 * time.Second

// buildServices assembles the market services over deps.
func (a *App) buildServices(deps *Dependencies) (*services, error) {
	transfer, commission, perKm, err := a.cfg.Pricing.Rates()
	if err != nil {
		return nil, err
	}
	loc, err := a.cfg.Schedule.Location()
	if err != nil {
		return nil, err
	}

	pricer := geo.NewPricer(geo.Rates{TransferRate: transfer, CommissionRate: commission}, perKm, a.logger)
	directory := service.NewDirectoryService(deps.Users, a.cfg.Directory.GeohashPrecision, a.cfg.Directory.BcryptCost, a.logger)
	gate := service.NewCapacityGate(deps.Capacity, a.logger)
	window := a.cfg.Schedule.AuctionWindow.Duration

	return &services{
		directory: directory,
		pricing:   service.NewPricingService(directory, pricer),
		gate:      gate,
		book: service.NewOrderBook(deps.Ledger, deps.Users, pricer, gate, deps.OrderMirror,
			deps.Trades, deps.SignalBus, deps.Audit, nil, a.logger),
		auctions: service.NewAuctions(deps.Ledger, deps.AuctionMirror, deps.Trades,
			deps.SignalBus, deps.Audit, window, nil, a.logger),
		tokens:    service.NewTokenService(deps.Ledger, deps.Owner, loc, deps.Audit, nil, a.logger),
		telemetry: service.NewTelemetryService(deps.Devices, deps.TelemetryCache, a.cfg.Telemetry.CacheTTL.Duration, a.logger),
		sessions:  service.NewSessions(deps.LockManager, a.cfg.Server.SessionTTL.Duration),
		refresher: service.NewMirrorRefresher(deps.Ledger, deps.OrderMirror, deps.AuctionMirror,
			a.cfg.Schedule.RefreshInterval.Duration, a.logger),
	}, nil
}

// newScheduler builds the peak/off-peak scheduler from config.
func (a *App) newScheduler(deps *Dependencies) (*schedule.Scheduler, error) {
	def, err := schedule.ParsePeakDefinition(a.cfg.Schedule.PeakDefinition)
	if err != nil {
		return nil, err
	}
	loc, err := a.cfg.Schedule.Location()
	if err != nil {
		return nil, err
	}
	return schedule.New(schedule.Config{
		Definition: def,
		PeakStart:  a.cfg.Schedule.PeakStartHour,
		PeakEnd:    a.cfg.Schedule.PeakEndHour,
		Location:   loc,
		Tick:       a.cfg.Schedule.ModeTick.Duration,
	}, schedule.RealClock{}, deps.SignalBus, a.logger), nil
}

// MarketMode runs the HTTP API, the WebSocket hub, the mode scheduler, the
// mirror refresher, the alert relay and, with a bucket configured, the
// archive cron. It blocks until ctx is cancelled or a component fails.
func (a *App) MarketMode(ctx context.Context, deps *Dependencies) error {
	svc, err := a.buildServices(deps)
	if err != nil {
		return fmt.Errorf("app: build services: %w", err)
	}
	sched, err := a.newScheduler(deps)
	if err != nil {
		return fmt.Errorf("app: scheduler: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sched.Run(ctx)
	})
	g.Go(func() error {
		return svc.refresher.Run(ctx)
	})

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Modes:     sched,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	if deps.Notifier.Enabled() {
		g.Go(func() error {
			return deps.Notifier.Run(ctx, deps.SignalBus)
		})
	}

	if deps.Archiver != nil {
		archiver := pipeline.NewArchiver(deps.Archiver, a.cfg.S3.RetentionDays, nil, a.logger)
		g.Go(func() error {
			return archiver.RunCron(ctx, a.cfg.S3.ArchiveCron)
		})
	} else {
		a.logger.InfoContext(ctx, "app: s3 bucket not set, archive disabled")
	}

	a.startHTTPServer(ctx, g, deps, svc, sched, hub)

	return g.Wait()
}

// startHTTPServer adds the HTTP server and its graceful shutdown to g.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	svc *services,
	sched *schedule.Scheduler,
	hub *ws.Hub,
) {
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health:   handler.NewHealthHandler(sched, a.logger),
		Users:    handler.NewUserHandler(svc.directory, deps.Trades, a.logger),
		Pricing:  handler.NewPricingHandler(svc.pricing, svc.gate, svc.telemetry, a.logger),
		Market:   handler.NewMarketHandler(sched, service.NewRouter(svc.book, svc.auctions), svc.sessions, svc.tokens, a.logger),
		Orders:   handler.NewOrderHandler(svc.book, svc.sessions, a.logger),
		Auctions: handler.NewAuctionHandler(svc.auctions, sched, svc.sessions, a.logger),
		Tokens:   handler.NewTokenHandler(svc.tokens, svc.sessions, a.logger),
	}, deps.RateLimiter, hub, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "app: http server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d/api", a.cfg.Server.Port)),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
