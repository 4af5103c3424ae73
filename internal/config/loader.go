package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies GEOMARKET_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known GEOMARKET_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setInt(&cfg.Server.Port, "GEOMARKET_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "GEOMARKET_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "GEOMARKET_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "GEOMARKET_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "GEOMARKET_SERVER_RATE_WINDOW")
	setDuration(&cfg.Server.SessionTTL, "GEOMARKET_SERVER_SESSION_TTL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "GEOMARKET_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "GEOMARKET_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "GEOMARKET_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "GEOMARKET_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "GEOMARKET_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "GEOMARKET_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "GEOMARKET_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "GEOMARKET_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "GEOMARKET_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "GEOMARKET_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "GEOMARKET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "GEOMARKET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "GEOMARKET_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "GEOMARKET_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "GEOMARKET_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "GEOMARKET_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "GEOMARKET_REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.MirrorTTL, "GEOMARKET_REDIS_MIRROR_TTL")
	setInt64(&cfg.Redis.StreamMaxLen, "GEOMARKET_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "GEOMARKET_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "GEOMARKET_S3_REGION")
	setStr(&cfg.S3.Bucket, "GEOMARKET_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "GEOMARKET_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "GEOMARKET_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "GEOMARKET_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "GEOMARKET_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.ArchiveCron, "GEOMARKET_S3_ARCHIVE_CRON")
	setInt(&cfg.S3.RetentionDays, "GEOMARKET_S3_RETENTION_DAYS")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "GEOMARKET_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "GEOMARKET_CHAIN_CHAIN_ID")
	setStr(&cfg.Chain.EnergyToken, "GEOMARKET_CHAIN_ENERGY_TOKEN")
	setStr(&cfg.Chain.EnergyTrading, "GEOMARKET_CHAIN_ENERGY_TRADING")
	setStr(&cfg.Chain.P2PAuction, "GEOMARKET_CHAIN_P2P_AUCTION")
	setStr(&cfg.Chain.CarbonToken, "GEOMARKET_CHAIN_CARBON_TOKEN")
	setStr(&cfg.Chain.CarbonMarket, "GEOMARKET_CHAIN_CARBON_MARKET")
	setStr(&cfg.Chain.Owner, "GEOMARKET_CHAIN_OWNER")
	setDuration(&cfg.Chain.ConfirmTimeout, "GEOMARKET_CHAIN_CONFIRM_TIMEOUT")
	setDuration(&cfg.Chain.PollInterval, "GEOMARKET_CHAIN_POLL_INTERVAL")
	setStr(&cfg.Chain.TokenPriceWei, "GEOMARKET_CHAIN_TOKEN_PRICE_WEI")
	setAccounts(&cfg.Chain.Accounts, "GEOMARKET_CHAIN_PRIVATE_KEYS")

	// ── Local ──
	setStr(&cfg.Local.Owner, "GEOMARKET_LOCAL_OWNER")
	setStr(&cfg.Local.FaucetNativeWei, "GEOMARKET_LOCAL_FAUCET_NATIVE_WEI")
	setStr(&cfg.Local.FaucetEnergy, "GEOMARKET_LOCAL_FAUCET_ENERGY")
	setStr(&cfg.Local.FaucetCarbon, "GEOMARKET_LOCAL_FAUCET_CARBON")

	// ── Directory ──
	setInt(&cfg.Directory.GeohashPrecision, "GEOMARKET_DIRECTORY_GEOHASH_PRECISION")
	setInt(&cfg.Directory.BcryptCost, "GEOMARKET_DIRECTORY_BCRYPT_COST")

	// ── Pricing ──
	setStr(&cfg.Pricing.TransferRate, "GEOMARKET_PRICING_TRANSFER_RATE")
	setStr(&cfg.Pricing.CommissionRate, "GEOMARKET_PRICING_COMMISSION_RATE")
	setStr(&cfg.Pricing.DistanceFeePerKm, "GEOMARKET_PRICING_DISTANCE_FEE_PER_KM")

	// ── Schedule ──
	setStr(&cfg.Schedule.PeakDefinition, "GEOMARKET_SCHEDULE_PEAK_DEFINITION")
	setInt(&cfg.Schedule.PeakStartHour, "GEOMARKET_SCHEDULE_PEAK_START_HOUR")
	setInt(&cfg.Schedule.PeakEndHour, "GEOMARKET_SCHEDULE_PEAK_END_HOUR")
	setStr(&cfg.Schedule.Timezone, "GEOMARKET_SCHEDULE_TIMEZONE")
	setDuration(&cfg.Schedule.ModeTick, "GEOMARKET_SCHEDULE_MODE_TICK")
	setDuration(&cfg.Schedule.AuctionWindow, "GEOMARKET_SCHEDULE_AUCTION_WINDOW")
	setDuration(&cfg.Schedule.RefreshInterval, "GEOMARKET_SCHEDULE_REFRESH_INTERVAL")

	// ── Capacity ──
	setStr(&cfg.Capacity.OracleURL, "GEOMARKET_CAPACITY_ORACLE_URL")
	setStr(&cfg.Capacity.HMACKey, "GEOMARKET_CAPACITY_HMAC_KEY")
	setStr(&cfg.Capacity.HMACSecret, "GEOMARKET_CAPACITY_HMAC_SECRET")
	setDuration(&cfg.Capacity.Timeout, "GEOMARKET_CAPACITY_TIMEOUT")
	setInt64(&cfg.Capacity.LocalCapacity, "GEOMARKET_CAPACITY_LOCAL_CAPACITY")

	// ── Telemetry ──
	setStr(&cfg.Telemetry.DeviceURL, "GEOMARKET_TELEMETRY_DEVICE_URL")
	setDuration(&cfg.Telemetry.CacheTTL, "GEOMARKET_TELEMETRY_CACHE_TTL")
	setDuration(&cfg.Telemetry.Timeout, "GEOMARKET_TELEMETRY_TIMEOUT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "GEOMARKET_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "GEOMARKET_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "GEOMARKET_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "GEOMARKET_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "GEOMARKET_MODE")
	setStr(&cfg.LogLevel, "GEOMARKET_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

// setAccounts replaces the configured accounts with comma-separated raw keys.
func setAccounts(dst *[]AccountConfig, key string) {
	var keys []string
	setStringSlice(&keys, key)
	if len(keys) == 0 {
		return
	}
	accounts := make([]AccountConfig, 0, len(keys))
	for _, k := range keys {
		accounts = append(accounts, AccountConfig{PrivateKey: k})
	}
	*dst = accounts
}
