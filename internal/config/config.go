// Package config defines the top-level configuration for the energy market
// service and provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by GEOMARKET_* environment variables.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Chain     ChainConfig     `toml:"chain"`
	Local     LocalConfig     `toml:"local"`
	Directory DirectoryConfig `toml:"directory"`
	Pricing   PricingConfig   `toml:"pricing"`
	Schedule  ScheduleConfig  `toml:"schedule"`
	Capacity  CapacityConfig  `toml:"capacity"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
	SessionTTL  duration `toml:"session_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	KeyPrefix    string   `toml:"key_prefix"`
	MirrorTTL    duration `toml:"mirror_ttl"`
	StreamMaxLen int64    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters. An empty Bucket
// disables the archive loop.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	ArchiveCron    string `toml:"archive_cron"`
	RetentionDays  int    `toml:"retention_days"`
}

// AccountConfig is one signing account: either a raw hex key or an encrypted
// key file plus its password.
type AccountConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ChainConfig holds the JSON-RPC endpoint, contract addresses and the
// accounts the ledger signs with.
type ChainConfig struct {
	RPCURL         string          `toml:"rpc_url"`
	ChainID        int64           `toml:"chain_id"`
	EnergyToken    string          `toml:"energy_token"`
	EnergyTrading  string          `toml:"energy_trading"`
	P2PAuction     string          `toml:"p2p_auction"`
	CarbonToken    string          `toml:"carbon_token"`
	CarbonMarket   string          `toml:"carbon_market"`
	Accounts       []AccountConfig `toml:"accounts"`
	Owner          string          `toml:"owner"`
	ConfirmTimeout duration        `toml:"confirm_timeout"`
	PollInterval   duration        `toml:"poll_interval"`
	TokenPriceWei  string          `toml:"token_price_wei"`
}

// LocalConfig seeds the simulated ledger used in local mode. Every account
// that first touches the ledger receives the faucet balances.
type LocalConfig struct {
	Owner           string `toml:"owner"`
	FaucetNativeWei string `toml:"faucet_native_wei"`
	FaucetEnergy    string `toml:"faucet_energy"`
	FaucetCarbon    string `toml:"faucet_carbon"`
}

// DirectoryConfig controls how users are stored.
type DirectoryConfig struct {
	GeohashPrecision int `toml:"geohash_precision"`
	BcryptCost       int `toml:"bcrypt_cost"`
}

// PricingConfig holds the fee rates as decimal strings.
type PricingConfig struct {
	TransferRate     string `toml:"transfer_rate"`
	CommissionRate   string `toml:"commission_rate"`
	DistanceFeePerKm string `toml:"distance_fee_per_km"`
}

// ScheduleConfig controls the peak/off-peak evaluation.
type ScheduleConfig struct {
	PeakDefinition  string   `toml:"peak_definition"`
	PeakStartHour   int      `toml:"peak_start_hour"`
	PeakEndHour     int      `toml:"peak_end_hour"`
	Timezone        string   `toml:"timezone"`
	ModeTick        duration `toml:"mode_tick"`
	AuctionWindow   duration `toml:"auction_window"`
	RefreshInterval duration `toml:"refresh_interval"`
}

// CapacityConfig selects the capacity oracle. With an empty OracleURL the
// local generator compares against LocalCapacity.
type CapacityConfig struct {
	OracleURL     string   `toml:"oracle_url"`
	HMACKey       string   `toml:"hmac_key"`
	HMACSecret    string   `toml:"hmac_secret"`
	Timeout       duration `toml:"timeout"`
	LocalCapacity int64    `toml:"local_capacity"`
}

// TelemetryConfig holds the device telemetry endpoint.
type TelemetryConfig struct {
	DeviceURL string   `toml:"device_url"`
	CacheTTL  duration `toml:"cache_ttl"`
	Timeout   duration `toml:"timeout"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"*"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
			SessionTTL:  duration{3 * time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "geomarket",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			KeyPrefix:    "geomarket:",
			MirrorTTL:    duration{60 * time.Second},
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			ForcePathStyle: true,
			ArchiveCron:    "0 3 * * *",
			RetentionDays:  30,
		},
		Chain: ChainConfig{
			RPCURL:         "http://localhost:8545",
			ChainID:        31337,
			ConfirmTimeout: duration{2 * time.Minute},
			PollInterval:   duration{time.Second},
			TokenPriceWei:  "100",
		},
		Local: LocalConfig{
			Owner:           "0x0000000000000000000000000000000000000001",
			FaucetNativeWei: "1000000000000000000000",
			FaucetEnergy:    "1000",
			FaucetCarbon:    "1000",
		},
		Directory: DirectoryConfig{
			GeohashPrecision: 9,
			BcryptCost:       10,
		},
		Pricing: PricingConfig{
			TransferRate:     "0.11",
			CommissionRate:   "0.2",
			DistanceFeePerKm: "0.0001",
		},
		Schedule: ScheduleConfig{
			PeakDefinition:  "window",
			PeakStartHour:   10,
			PeakEndHour:     13,
			Timezone:        "Local",
			ModeTick:        duration{time.Minute},
			AuctionWindow:   duration{time.Hour},
			RefreshInterval: duration{30 * time.Second},
		},
		Capacity: CapacityConfig{
			Timeout:       duration{10 * time.Second},
			LocalCapacity: 500,
		},
		Telemetry: TelemetryConfig{
			CacheTTL: duration{30 * time.Second},
			Timeout:  duration{10 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"trade_executed", "auction_finalized", "mode_changed"},
		},
		Mode:     "local",
		LogLevel: "info",
	}
}

// Location resolves the configured timezone.
func (s ScheduleConfig) Location() (*time.Location, error) {
	if s.Timezone == "" || strings.EqualFold(s.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: timezone %q: %w", s.Timezone, err)
	}
	return loc, nil
}

// Rates parses the order-book rates and the summary's per-km fee.
func (p PricingConfig) Rates() (transfer, commission, perKm decimal.Decimal, err error) {
	if transfer, err = decimal.NewFromString(p.TransferRate); err != nil {
		return transfer, commission, perKm, fmt.Errorf("config: pricing.transfer_rate: %w", err)
	}
	if commission, err = decimal.NewFromString(p.CommissionRate); err != nil {
		return transfer, commission, perKm, fmt.Errorf("config: pricing.commission_rate: %w", err)
	}
	if perKm, err = decimal.NewFromString(p.DistanceFeePerKm); err != nil {
		return transfer, commission, perKm, fmt.Errorf("config: pricing.distance_fee_per_km: %w", err)
	}
	return transfer, commission, perKm, nil
}

// TokenPrice parses token_price_wei.
func (c ChainConfig) TokenPrice() (*big.Int, error) {
	return parseBigInt("chain.token_price_wei", c.TokenPriceWei)
}

// Faucets parses the local faucet balances: native, energy, carbon.
func (l LocalConfig) Faucets() (native, energy, carbon *big.Int, err error) {
	if native, err = parseBigInt("local.faucet_native_wei", l.FaucetNativeWei); err != nil {
		return nil, nil, nil, err
	}
	if energy, err = parseBigInt("local.faucet_energy", l.FaucetEnergy); err != nil {
		return nil, nil, nil, err
	}
	if carbon, err = parseBigInt("local.faucet_carbon", l.FaucetCarbon); err != nil {
		return nil, nil, nil, err
	}
	return native, energy, carbon, nil
}

func parseBigInt(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("config: %s must be a non-negative integer, got %q", field, s)
	}
	return v, nil
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"local":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validPeakDefinitions = map[string]bool{
	"window": true,
	"legacy": true,
}

// Validate checks the configuration for obvious errors and returns a
// combined error listing every problem found. A nil return means the config
// is usable.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, local)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
		errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
	}
	if c.Server.SessionTTL.Duration <= 0 {
		errs = append(errs, "server: session_ttl must be > 0")
	}

	// Pricing
	if _, _, _, err := c.Pricing.Rates(); err != nil {
		errs = append(errs, strings.TrimPrefix(err.Error(), "config: "))
	}

	// Schedule
	if !validPeakDefinitions[strings.ToLower(c.Schedule.PeakDefinition)] {
		errs = append(errs, fmt.Sprintf("schedule: unknown peak_definition %q (valid: window, legacy)", c.Schedule.PeakDefinition))
	}
	if c.Schedule.PeakStartHour < 0 || c.Schedule.PeakStartHour > 23 {
		errs = append(errs, fmt.Sprintf("schedule: peak_start_hour must be 0-23, got %d", c.Schedule.PeakStartHour))
	}
	if c.Schedule.PeakEndHour < 0 || c.Schedule.PeakEndHour > 24 {
		errs = append(errs, fmt.Sprintf("schedule: peak_end_hour must be 0-24, got %d", c.Schedule.PeakEndHour))
	}
	if c.Schedule.PeakStartHour >= c.Schedule.PeakEndHour {
		errs = append(errs, "schedule: peak_start_hour must be before peak_end_hour")
	}
	if _, err := c.Schedule.Location(); err != nil {
		errs = append(errs, "schedule: "+strings.TrimPrefix(err.Error(), "config: "))
	}
	if c.Schedule.ModeTick.Duration <= 0 {
		errs = append(errs, "schedule: mode_tick must be > 0")
	}
	if c.Schedule.AuctionWindow.Duration <= 0 {
		errs = append(errs, "schedule: auction_window must be > 0")
	}
	if c.Schedule.RefreshInterval.Duration <= 0 {
		errs = append(errs, "schedule: refresh_interval must be > 0")
	}

	// Directory
	if c.Directory.GeohashPrecision < 1 || c.Directory.GeohashPrecision > 12 {
		errs = append(errs, fmt.Sprintf("directory: geohash_precision must be 1-12, got %d", c.Directory.GeohashPrecision))
	}
	if c.Directory.BcryptCost < 4 || c.Directory.BcryptCost > 31 {
		errs = append(errs, fmt.Sprintf("directory: bcrypt_cost must be 4-31, got %d", c.Directory.BcryptCost))
	}

	// Capacity
	if c.Capacity.OracleURL != "" && c.Capacity.HMACSecret == "" {
		errs = append(errs, "capacity: hmac_secret is required when oracle_url is set")
	}
	if c.Capacity.OracleURL == "" && c.Capacity.LocalCapacity < 0 {
		errs = append(errs, "capacity: local_capacity must be >= 0")
	}

	// Telemetry
	if c.Telemetry.DeviceURL != "" && c.Telemetry.CacheTTL.Duration <= 0 {
		errs = append(errs, "telemetry: cache_ttl must be > 0")
	}

	// Both ledgers sell tokens at token_price_wei.
	if _, err := c.Chain.TokenPrice(); err != nil {
		errs = append(errs, strings.TrimPrefix(err.Error(), "config: "))
	}

	switch strings.ToLower(c.Mode) {
	case "server":
		errs = append(errs, c.validateServerMode()...)
	case "local":
		if _, _, _, err := c.Local.Faucets(); err != nil {
			errs = append(errs, strings.TrimPrefix(err.Error(), "config: "))
		}
		if !common.IsHexAddress(c.Local.Owner) {
			errs = append(errs, fmt.Sprintf("local: owner %q is not a hex address", c.Local.Owner))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// validateServerMode checks the backing services the server mode wires.
func (c *Config) validateServerMode() []string {
	var errs []string

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.MirrorTTL.Duration <= 0 {
		errs = append(errs, "redis: mirror_ttl must be > 0")
	}

	// S3 is optional; with a bucket it needs a retention window.
	if c.S3.Bucket != "" {
		if c.S3.RetentionDays < 1 {
			errs = append(errs, "s3: retention_days must be >= 1")
		}
		if len(strings.Fields(c.S3.ArchiveCron)) != 5 {
			errs = append(errs, fmt.Sprintf("s3: archive_cron %q must have 5 fields", c.S3.ArchiveCron))
		}
	}

	// Chain
	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	contracts := []struct{ name, addr string }{
		{"energy_token", c.Chain.EnergyToken},
		{"energy_trading", c.Chain.EnergyTrading},
		{"p2p_auction", c.Chain.P2PAuction},
		{"carbon_token", c.Chain.CarbonToken},
		{"carbon_market", c.Chain.CarbonMarket},
	}
	for _, ct := range contracts {
		if !common.IsHexAddress(ct.addr) {
			errs = append(errs, fmt.Sprintf("chain: %s %q is not a hex address", ct.name, ct.addr))
		}
	}
	if len(c.Chain.Accounts) == 0 {
		errs = append(errs, "chain: at least one account must be configured")
	}
	for i, acct := range c.Chain.Accounts {
		if acct.PrivateKey == "" && acct.EncryptedKeyPath == "" {
			errs = append(errs, fmt.Sprintf("chain: accounts[%d]: either private_key or encrypted_key_path must be set", i))
		}
		if acct.EncryptedKeyPath != "" && acct.KeyPassword == "" {
			errs = append(errs, fmt.Sprintf("chain: accounts[%d]: key_password is required when encrypted_key_path is set", i))
		}
	}
	if !common.IsHexAddress(c.Chain.Owner) {
		errs = append(errs, fmt.Sprintf("chain: owner %q is not a hex address", c.Chain.Owner))
	}
	if c.Chain.ConfirmTimeout.Duration <= 0 {
		errs = append(errs, "chain: confirm_timeout must be > 0")
	}

	return errs
}
