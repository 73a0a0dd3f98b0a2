package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/liamashdown/polyanalytics/internal/secrets"
)

// AuthMode represents the authentication mode for Data API
type AuthMode string

const (
	AuthModeNone   AuthMode = "none"
	AuthModeBearer AuthMode = "bearer"
	AuthModeAPIKey AuthMode = "api_key"
)

// Storage drivers
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// MinPollInterval is the lowest accepted POLL_INTERVAL_SEC.
const MinPollInterval = 10 * time.Second

// Config holds all application configuration
type Config struct {
	// Environment
	Environment string

	// Market
	MarketID string

	// Database
	DatabaseDriver      string
	DatabaseDSN         string // mysql / postgres
	DatabasePath        string // sqlite file
	DatabaseMaxConns    int
	DatabaseMaxIdleTime time.Duration

	// Data API
	DataAPIBaseURL      string
	DataAPIAuthMode     AuthMode
	DataAPIBearerToken  string
	DataAPIAPIKey       string
	DataAPIExtraHeaders map[string]string

	// Gamma API
	GammaAPIBaseURL string

	// WebSocket market channel
	WSURL         string
	WSBackoffBase time.Duration
	WSBackoffMax  time.Duration

	// Outbound request policy (shared by every upstream call)
	APIMinInterval  time.Duration
	APIMaxRetries   int
	APIRetryBackoff time.Duration
	APITimeout      time.Duration

	// Ingestion
	PollInterval   time.Duration
	TradeBatchSize int

	// Analyzers
	WalletAnalyzerInterval time.Duration
	WalletAnalyzerWorkers  int
	ProfileCooldown        time.Duration
	MarketAnalyzerInterval time.Duration
	MarketRefetchCooldown  time.Duration

	// Display / alert thresholds
	WhaleThresholdUSD float64

	// Alerts
	AlertMode          string // comma separated: log, discord, smtp
	DiscordWebhookURLs []string
	SMTPHost           string
	SMTPPort           int
	SMTPUser           string
	SMTPPassword       string
	SMTPFrom           string
	SMTPTo             []string

	// Logging
	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int

	// HTTP (API + health + metrics)
	HTTPPort int
}

// Load reads configuration from a .env file (if present) and environment variables
func Load() (*Config, error) {
	// A missing .env is normal in containers.
	_ = godotenv.Load()

	cfg := &Config{
		Environment:            getEnv("ENVIRONMENT", "production"),
		MarketID:               getEnv("MARKET_ID", ""),
		DatabaseDriver:         strings.ToLower(getEnv("DATABASE_DRIVER", DriverSQLite)),
		DatabaseDSN:            secrets.GetOptional("DATABASE_DSN", ""),
		DatabasePath:           getEnv("DB_PATH", "output/trades.db"),
		DatabaseMaxConns:       getEnvInt("DATABASE_MAX_CONNS", 10),
		DatabaseMaxIdleTime:    time.Duration(getEnvInt("DATABASE_MAX_IDLE_TIME_MINS", 5)) * time.Minute,
		DataAPIBaseURL:         getEnv("DATA_API_URL", "https://data-api.polymarket.com"),
		DataAPIAuthMode:        AuthMode(getEnv("DATA_API_AUTH_MODE", "none")),
		DataAPIBearerToken:     secrets.GetOptional("DATA_API_BEARER_TOKEN", ""),
		DataAPIAPIKey:          secrets.GetOptional("DATA_API_API_KEY", ""),
		GammaAPIBaseURL:        getEnv("GAMMA_API_URL", "https://gamma-api.polymarket.com"),
		WSURL:                  getEnv("WS_URL", "wss://ws-subscriptions-clob.polymarket.com/ws/market"),
		WSBackoffBase:          getEnvSeconds("WS_BACKOFF_BASE_SEC", 5),
		WSBackoffMax:           getEnvSeconds("WS_BACKOFF_MAX_SEC", 120),
		APIMinInterval:         time.Duration(getEnvInt("API_MIN_INTERVAL_MS", 1000)) * time.Millisecond,
		APIMaxRetries:          getEnvInt("API_MAX_RETRIES", 3),
		APIRetryBackoff:        getEnvSeconds("API_RETRY_BACKOFF_SEC", 2),
		APITimeout:             getEnvSeconds("API_TIMEOUT_SEC", 15),
		PollInterval:           getEnvSeconds("POLL_INTERVAL_SEC", 60),
		TradeBatchSize:         getEnvInt("TRADE_BATCH_SIZE", 500),
		WalletAnalyzerInterval: getEnvSeconds("WALLET_ANALYZER_INTERVAL_SEC", 300),
		WalletAnalyzerWorkers:  getEnvInt("WALLET_ANALYZER_WORKERS", 1),
		ProfileCooldown:        time.Duration(getEnvInt("PROFILE_COOLDOWN_HOURS", 24)) * time.Hour,
		MarketAnalyzerInterval: getEnvSeconds("MARKET_ANALYZER_INTERVAL_SEC", 3600),
		MarketRefetchCooldown:  getEnvSeconds("MARKET_REFETCH_COOLDOWN_SEC", 3600),
		WhaleThresholdUSD:      getEnvFloat("WHALE_THRESHOLD", 1000.0),
		AlertMode:              getEnv("ALERT_MODE", "log"),
		DiscordWebhookURLs:     secrets.GetList("DISCORD_WEBHOOK_URLS"),
		SMTPHost:               getEnv("SMTP_HOST", ""),
		SMTPPort:               getEnvInt("SMTP_PORT", 587),
		SMTPUser:               getEnv("SMTP_USER", ""),
		SMTPPassword:           secrets.GetOptional("SMTP_PASSWORD", ""),
		SMTPFrom:               getEnv("SMTP_FROM", "polyanalytics@example.com"),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		LogFile:                getEnv("LOG_FILE", ""),
		LogMaxSizeMB:           getEnvInt("LOG_MAX_SIZE_MB", 100),
		LogMaxBackups:          getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAgeDays:          getEnvInt("LOG_MAX_AGE_DAYS", 14),
		HTTPPort:               getEnvInt("HTTP_PORT", 5000),
	}

	if smtpTo := getEnv("SMTP_TO", ""); smtpTo != "" {
		cfg.SMTPTo = parseCSV(smtpTo)
	}

	extraHeadersJSON := getEnv("DATA_API_EXTRA_HEADERS", "{}")
	if err := json.Unmarshal([]byte(extraHeadersJSON), &cfg.DataAPIExtraHeaders); err != nil {
		return nil, fmt.Errorf("invalid DATA_API_EXTRA_HEADERS JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.MarketID == "" {
		return fmt.Errorf("MARKET_ID is required")
	}
	if c.PollInterval < MinPollInterval {
		return fmt.Errorf("POLL_INTERVAL_SEC must be >= %d", int(MinPollInterval.Seconds()))
	}
	if c.WhaleThresholdUSD <= 0 {
		return fmt.Errorf("WHALE_THRESHOLD must be > 0")
	}
	if c.TradeBatchSize <= 0 {
		return fmt.Errorf("TRADE_BATCH_SIZE must be > 0")
	}
	if c.WalletAnalyzerWorkers < 1 {
		return fmt.Errorf("WALLET_ANALYZER_WORKERS must be >= 1")
	}
	if c.APIMaxRetries < 0 {
		return fmt.Errorf("API_MAX_RETRIES must be >= 0")
	}

	switch c.DatabaseDriver {
	case DriverSQLite:
		if c.DatabasePath == "" {
			return fmt.Errorf("DB_PATH is required for the sqlite driver")
		}
	case DriverMySQL, DriverPostgres:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("DATABASE_DSN is required for the %s driver", c.DatabaseDriver)
		}
	default:
		return fmt.Errorf("invalid DATABASE_DRIVER: %s (must be sqlite, mysql, or postgres)", c.DatabaseDriver)
	}

	switch c.DataAPIAuthMode {
	case AuthModeNone:
	case AuthModeBearer:
		if c.DataAPIBearerToken == "" {
			return fmt.Errorf("DATA_API_BEARER_TOKEN is required when AUTH_MODE is bearer")
		}
	case AuthModeAPIKey:
		if c.DataAPIAPIKey == "" {
			return fmt.Errorf("DATA_API_API_KEY is required when AUTH_MODE is api_key")
		}
	default:
		return fmt.Errorf("invalid DATA_API_AUTH_MODE: %s (must be none, bearer, or api_key)", c.DataAPIAuthMode)
	}

	for _, mode := range c.AlertModes() {
		switch mode {
		case "log":
		case "discord":
			if len(c.DiscordWebhookURLs) == 0 {
				return fmt.Errorf("DISCORD_WEBHOOK_URLS is required when discord is in ALERT_MODE")
			}
		case "smtp":
			if c.SMTPHost == "" {
				return fmt.Errorf("SMTP_HOST is required when smtp is in ALERT_MODE")
			}
			if len(c.SMTPTo) == 0 {
				return fmt.Errorf("SMTP_TO is required when smtp is in ALERT_MODE")
			}
		default:
			return fmt.Errorf("invalid ALERT_MODE value: %s (valid values: log, discord, smtp)", mode)
		}
	}

	return nil
}

// AlertModes returns the trimmed, non-empty entries of ALERT_MODE.
func (c *Config) AlertModes() []string {
	return parseCSV(c.AlertMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvSeconds(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvInt(key, defaultValue)) * time.Second
}

func parseCSV(s string) []string {
	var result []string
	for _, item := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
