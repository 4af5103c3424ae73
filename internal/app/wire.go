package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	s3blob "github.com/alanyoungcy/geomarket/internal/blob/s3"
	cachemem "github.com/alanyoungcy/geomarket/internal/cache/memory"
	"github.com/alanyoungcy/geomarket/internal/cache/redis"
	"github.com/alanyoungcy/geomarket/internal/config"
	"github.com/alanyoungcy/geomarket/internal/crypto"
	"github.com/alanyoungcy/geomarket/internal/domain"
	"github.com/alanyoungcy/geomarket/internal/notify"
	"github.com/alanyoungcy/geomarket/internal/platform/chain"
	"github.com/alanyoungcy/geomarket/internal/platform/oracle"
	"github.com/alanyoungcy/geomarket/internal/service"
	"github.com/alanyoungcy/geomarket/internal/store/memory"
	"github.com/alanyoungcy/geomarket/internal/store/postgres"
)

// archivePartSize is the multipart threshold for archive uploads.
const archivePartSize int64 = 16 * 1024 * 1024

// Dependencies bundles every backing implementation the market services
// need. Wire fills it for the configured mode and returns a cleanup function
// that releases connections in reverse order.
type Dependencies struct {
	// Directory and history
	Users  domain.UserStore
	Trades domain.TradeStore
	Audit  domain.AuditStore

	// Ledger
	Ledger domain.Ledger
	Owner  string

	// Mirrors, sessions, bus
	OrderMirror    domain.OrderMirror
	AuctionMirror  domain.AuctionMirror
	TelemetryCache domain.TelemetryCache
	RateLimiter    domain.RateLimiter
	LockManager    domain.LockManager
	SignalBus      domain.SignalBus

	// External sources
	Capacity domain.CapacityOracle
	Devices  domain.DeviceTelemetry

	// Cold storage; nil when no bucket is configured.
	Archiver domain.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}
	var err error
	switch strings.ToLower(cfg.Mode) {
	case "server":
		closers, err = wireServer(ctx, cfg, deps, logger)
	case "local":
		err = wireLocal(cfg, deps)
	default:
		err = fmt.Errorf("unsupported mode %q", cfg.Mode)
	}
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %w", err)
	}

	wireExternal(cfg, deps, logger)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// wireServer connects Postgres, Redis, S3 and the JSON-RPC ledger. The
// returned closers are valid even when err is non-nil.
func wireServer(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) ([]func(), error) {
	var closers []func()

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		return closers, fmt.Errorf("postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			return closers, fmt.Errorf("postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Users = postgres.NewUserStore(pool)
	deps.Trades = postgres.NewTradeStore(pool)
	deps.Audit = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MaxRetries:   cfg.Redis.MaxRetries,
		TLSEnabled:   cfg.Redis.TLSEnabled,
		DialTimeout:  5 * time.Second,
		KeyPrefix:    cfg.Redis.KeyPrefix,
		StreamMaxLen: cfg.Redis.StreamMaxLen,
	})
	if err != nil {
		return closers, fmt.Errorf("redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.OrderMirror = redis.NewOrderMirror(redisClient, cfg.Redis.MirrorTTL.Duration)
	deps.AuctionMirror = redis.NewAuctionMirror(redisClient, cfg.Redis.MirrorTTL.Duration)
	deps.TelemetryCache = redis.NewTelemetryCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- Chain ledger ---
	keyCfgs := make([]crypto.KeyConfig, 0, len(cfg.Chain.Accounts))
	for _, acct := range cfg.Chain.Accounts {
		keyCfgs = append(keyCfgs, crypto.KeyConfig{
			RawPrivateKey:    acct.PrivateKey,
			EncryptedKeyPath: acct.EncryptedKeyPath,
			KeyPassword:      acct.KeyPassword,
		})
	}
	keys, err := crypto.NewKeyring(keyCfgs)
	if err != nil {
		return closers, fmt.Errorf("keyring: %w", err)
	}

	rpc, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return closers, fmt.Errorf("dial %s: %w", cfg.Chain.RPCURL, err)
	}
	closers = append(closers, rpc.Close)

	deps.Ledger = chain.NewEthLedger(rpc, keys, chain.EthConfig{
		ChainID: big.NewInt(cfg.Chain.ChainID),
		Contracts: chain.Contracts{
			EnergyToken:   common.HexToAddress(cfg.Chain.EnergyToken),
			EnergyTrading: common.HexToAddress(cfg.Chain.EnergyTrading),
			P2PAuction:    common.HexToAddress(cfg.Chain.P2PAuction),
			CarbonToken:   common.HexToAddress(cfg.Chain.CarbonToken),
			CarbonMarket:  common.HexToAddress(cfg.Chain.CarbonMarket),
		},
		ConfirmTimeout: cfg.Chain.ConfirmTimeout.Duration,
		PollInterval:   cfg.Chain.PollInterval.Duration,
	}, logger)
	deps.Owner = common.HexToAddress(cfg.Chain.Owner).Hex()
	logger.InfoContext(ctx, "wire: ledger accounts loaded",
		slog.Int("accounts", len(keys.Addresses())),
		slog.String("rpc_url", cfg.Chain.RPCURL),
	)

	// --- S3 archive (optional) ---
	if cfg.S3.Bucket != "" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return closers, fmt.Errorf("s3: %w", err)
		}
		if err := s3Client.Health(ctx); err != nil {
			logger.WarnContext(ctx, "wire: archive bucket unreachable; uploads will be retried on schedule",
				slog.String("error", err.Error()),
			)
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client, archivePartSize), deps.Trades, deps.Audit)
	}

	return closers, nil
}

// wireLocal builds the in-memory stack around a simulated ledger.
func wireLocal(cfg *config.Config, deps *Dependencies) error {
	loc, err := cfg.Schedule.Location()
	if err != nil {
		return err
	}
	tokenPrice, err := cfg.Chain.TokenPrice()
	if err != nil {
		return err
	}
	native, energy, carbon, err := cfg.Local.Faucets()
	if err != nil {
		return err
	}

	deps.Owner = common.HexToAddress(cfg.Local.Owner).Hex()
	deps.Ledger = chain.NewSimLedger(chain.SimConfig{
		Owner:         deps.Owner,
		TokenPrice:    tokenPrice,
		AuctionWindow: cfg.Schedule.AuctionWindow.Duration,
		DayStart:      service.DayStartFor(time.Now(), loc),
		FaucetNative:  native,
		FaucetEnergy:  energy,
		FaucetCarbon:  carbon,
	})

	deps.Users = memory.NewUserStore(nil)
	deps.Trades = memory.NewTradeStore()
	deps.Audit = memory.NewAuditStore(nil)

	mirrorTTL := cfg.Redis.MirrorTTL.Duration
	deps.OrderMirror = cachemem.NewOrderMirror(mirrorTTL, nil)
	deps.AuctionMirror = cachemem.NewAuctionMirror(mirrorTTL, nil)
	deps.TelemetryCache = cachemem.NewTelemetryCache(nil)
	deps.RateLimiter = cachemem.NewRateLimiter(nil)
	deps.LockManager = cachemem.NewLockManager(nil)
	deps.SignalBus = cachemem.NewSignalBus(int(cfg.Redis.StreamMaxLen))
	return nil
}

// wireExternal selects the capacity oracle and the device telemetry source.
func wireExternal(cfg *config.Config, deps *Dependencies, logger *slog.Logger) {
	if cfg.Capacity.OracleURL != "" {
		deps.Capacity = oracle.NewCapacityClient(
			cfg.Capacity.OracleURL,
			&crypto.HMACAuth{Key: cfg.Capacity.HMACKey, Secret: cfg.Capacity.HMACSecret},
			cfg.Capacity.Timeout.Duration,
			logger,
		)
	} else {
		deps.Capacity = oracle.NewLocalCapacity(big.NewInt(cfg.Capacity.LocalCapacity))
	}

	if cfg.Telemetry.DeviceURL != "" {
		deps.Devices = oracle.NewTelemetryClient(cfg.Telemetry.DeviceURL, cfg.Telemetry.Timeout.Duration, logger)
	} else {
		deps.Devices = noDevices{}
	}
}

// noDevices answers every telemetry request with an external-service error
// when no device endpoint is configured.
type noDevices struct{}

func (noDevices) BatteryStatus(_ context.Context, deviceID string) (domain.BatteryStatus, error) {
	return domain.BatteryStatus{}, fmt.Errorf("telemetry: device %s: %w: no device_url configured", deviceID, domain.ErrExternalService)
}

// services groups the market services built on top of Dependencies.
type services struct {
	directory *service.DirectoryService
	pricing   *service.PricingService
	gate      *service.CapacityGate
	book      *service.OrderBook
	auctions  *service.Auctions
	tokens    *service.TokenService
	telemetry *service.TelemetryService
	sessions  *service.Sessions
	refresher *service.MirrorRefresher
}
