package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		MarketID:              "0xabc",
		DatabaseDriver:        DriverSQLite,
		DatabasePath:          "output/trades.db",
		DataAPIAuthMode:       AuthModeNone,
		PollInterval:          60 * time.Second,
		TradeBatchSize:        500,
		WalletAnalyzerWorkers: 1,
		WhaleThresholdUSD:     1000,
		AlertMode:             "log",
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MARKET_ID", "0xmarket")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0xmarket", cfg.MarketID)
	assert.Equal(t, DriverSQLite, cfg.DatabaseDriver)
	assert.Equal(t, 60*time.Second, cfg.PollInterval)
	assert.Equal(t, 500, cfg.TradeBatchSize)
	assert.Equal(t, 300*time.Second, cfg.WalletAnalyzerInterval)
	assert.Equal(t, 3600*time.Second, cfg.MarketAnalyzerInterval)
	assert.Equal(t, 3600*time.Second, cfg.MarketRefetchCooldown)
	assert.Equal(t, 24*time.Hour, cfg.ProfileCooldown)
	assert.Equal(t, time.Second, cfg.APIMinInterval)
	assert.Equal(t, 3, cfg.APIMaxRetries)
	assert.Equal(t, 2*time.Second, cfg.APIRetryBackoff)
	assert.Equal(t, 5*time.Second, cfg.WSBackoffBase)
	assert.Equal(t, 120*time.Second, cfg.WSBackoffMax)
	assert.Equal(t, []string{"log"}, cfg.AlertModes())
}

func TestLoadReadsSecretFiles(t *testing.T) {
	dir := t.TempDir()
	tokenFile := filepath.Join(dir, "token")
	require.NoError(t, os.WriteFile(tokenFile, []byte("s3cret\n"), 0o600))

	t.Setenv("MARKET_ID", "0xmarket")
	t.Setenv("DATA_API_AUTH_MODE", "bearer")
	t.Setenv("DATA_API_BEARER_TOKEN_FILE", tokenFile)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.DataAPIBearerToken)
}

func TestLoadRejectsBadExtraHeaders(t *testing.T) {
	t.Setenv("MARKET_ID", "0xmarket")
	t.Setenv("DATA_API_EXTRA_HEADERS", "{not json")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing market", func(c *Config) { c.MarketID = "" }, true},
		{"poll interval too short", func(c *Config) { c.PollInterval = 9 * time.Second }, true},
		{"poll interval at minimum", func(c *Config) { c.PollInterval = 10 * time.Second }, false},
		{"zero whale threshold", func(c *Config) { c.WhaleThresholdUSD = 0 }, true},
		{"unknown driver", func(c *Config) { c.DatabaseDriver = "oracle" }, true},
		{"mysql without dsn", func(c *Config) { c.DatabaseDriver = DriverMySQL }, true},
		{"postgres with dsn", func(c *Config) {
			c.DatabaseDriver = DriverPostgres
			c.DatabaseDSN = "postgres://u:p@localhost/db"
		}, false},
		{"bearer without token", func(c *Config) { c.DataAPIAuthMode = AuthModeBearer }, true},
		{"unknown auth mode", func(c *Config) { c.DataAPIAuthMode = "oauth" }, true},
		{"discord without webhooks", func(c *Config) { c.AlertMode = "log, discord" }, true},
		{"discord with webhooks", func(c *Config) {
			c.AlertMode = "discord"
			c.DiscordWebhookURLs = []string{"https://discord.example/hook"}
		}, false},
		{"smtp without recipients", func(c *Config) {
			c.AlertMode = "smtp"
			c.SMTPHost = "mail.example.com"
		}, true},
		{"unknown alert mode", func(c *Config) { c.AlertMode = "pager" }, true},
		{"zero workers", func(c *Config) { c.WalletAnalyzerWorkers = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
