package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serverModeConfig() Config {
	cfg := Defaults()
	cfg.Mode = "server"
	cfg.Chain.EnergyToken = "0x1000000000000000000000000000000000000001"
	cfg.Chain.EnergyTrading = "0x1000000000000000000000000000000000000002"
	cfg.Chain.P2PAuction = "0x1000000000000000000000000000000000000003"
	cfg.Chain.CarbonToken = "0x1000000000000000000000000000000000000004"
	cfg.Chain.CarbonMarket = "0x1000000000000000000000000000000000000005"
	cfg.Chain.Owner = "0x2000000000000000000000000000000000000001"
	cfg.Chain.Accounts = []AccountConfig{{PrivateKey: "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"}}
	return cfg
}

func TestDefaults_Validate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "local", cfg.Mode)
	assert.Equal(t, 30*time.Second, cfg.Schedule.RefreshInterval.Duration)

	transfer, commission, perKm, err := cfg.Pricing.Rates()
	require.NoError(t, err)
	assert.Equal(t, "0.11", transfer.String())
	assert.Equal(t, "0.2", commission.String())
	assert.Equal(t, "0.0001", perKm.String())
}

func TestConfig_ValidateServerMode(t *testing.T) {
	cfg := serverModeConfig()
	require.NoError(t, cfg.Validate())

	cfg.Chain.P2PAuction = "not-an-address"
	cfg.Chain.Accounts = nil
	cfg.Redis.Addr = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chain: p2p_auction")
	assert.Contains(t, err.Error(), "chain: at least one account")
	assert.Contains(t, err.Error(), "redis: addr must not be empty")
}

func TestConfig_ValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"mode", func(c *Config) { c.Mode = "full" }, `unknown mode "full"`},
		{"log level", func(c *Config) { c.LogLevel = "trace" }, `unknown log_level "trace"`},
		{"peak definition", func(c *Config) { c.Schedule.PeakDefinition = "solar" }, "schedule: unknown peak_definition"},
		{"peak hours", func(c *Config) { c.Schedule.PeakStartHour = 14 }, "peak_start_hour must be before peak_end_hour"},
		{"timezone", func(c *Config) { c.Schedule.Timezone = "Mars/Olympus" }, "schedule: timezone"},
		{"rate", func(c *Config) { c.Pricing.CommissionRate = "twenty" }, "pricing.commission_rate"},
		{"token price", func(c *Config) { c.Chain.TokenPriceWei = "-1" }, "chain.token_price_wei"},
		{"oracle secret", func(c *Config) { c.Capacity.OracleURL = "http://oracle" }, "capacity: hmac_secret"},
		{"faucet", func(c *Config) { c.Local.FaucetEnergy = "lots" }, "local.faucet_energy"},
		{"port", func(c *Config) { c.Server.Port = 0 }, "server: port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "local"
log_level = "debug"

[server]
port = 9090
rate_window = "30s"

[schedule]
peak_definition = "legacy"
timezone = "UTC"
auction_window = "2h"

[[chain.accounts]]
private_key = "abc"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("GEOMARKET_SERVER_API_KEY", "secret-key")
	t.Setenv("GEOMARKET_CAPACITY_LOCAL_CAPACITY", "750")
	t.Setenv("GEOMARKET_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.RateWindow.Duration)
	assert.Equal(t, "legacy", cfg.Schedule.PeakDefinition)
	assert.Equal(t, 2*time.Hour, cfg.Schedule.AuctionWindow.Duration)
	assert.Equal(t, 13, cfg.Schedule.PeakEndHour, "unset keys keep defaults")
	require.Len(t, cfg.Chain.Accounts, 1)
	assert.Equal(t, "abc", cfg.Chain.Accounts[0].PrivateKey)

	assert.Equal(t, "secret-key", cfg.Server.APIKey)
	assert.EqualValues(t, 750, cfg.Capacity.LocalCapacity)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)

	loc, err := cfg.Schedule.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestLoad_PrivateKeysFromEnv(t *testing.T) {
	t.Setenv("GEOMARKET_CHAIN_PRIVATE_KEYS", "k1,k2")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Len(t, cfg.Chain.Accounts, 2)
	assert.Equal(t, "k2", cfg.Chain.Accounts[1].PrivateKey)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	cfg := serverModeConfig()
	cfg.Server.APIKey = "api"
	cfg.Postgres.Password = "pg"
	cfg.Capacity.HMACSecret = "hmac"
	cfg.Notify.TelegramToken = "tg"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Capacity.HMACSecret)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	assert.Equal(t, "***", out.Chain.Accounts[0].PrivateKey)
	assert.Empty(t, out.Redis.Password, "empty secrets stay empty")

	assert.Equal(t, "api", cfg.Server.APIKey)
	assert.NotEqual(t, "***", cfg.Chain.Accounts[0].PrivateKey, "original accounts untouched")
}
