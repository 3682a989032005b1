package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BASISBOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file and runs on
// defaults plus environment. The returned Config has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known BASISBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Venue ──
	setStr(&cfg.Venue.BaseURL, "BASISBOT_VENUE_BASE_URL")
	setStr(&cfg.Venue.WsURL, "BASISBOT_VENUE_WS_URL")
	setStr(&cfg.Venue.AccountAddress, "BASISBOT_VENUE_ACCOUNT_ADDRESS")
	setStr(&cfg.Venue.VaultAddress, "BASISBOT_VENUE_VAULT_ADDRESS")
	setStr(&cfg.Venue.PrivateKey, "BASISBOT_VENUE_PRIVATE_KEY")
	setStr(&cfg.Venue.EncryptedKeyPath, "BASISBOT_VENUE_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Venue.KeyPassword, "BASISBOT_VENUE_KEY_PASSWORD")
	setInt(&cfg.Venue.OrdersPerSecond, "BASISBOT_VENUE_ORDERS_PER_SECOND")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "BASISBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "BASISBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BASISBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BASISBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BASISBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BASISBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BASISBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BASISBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BASISBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BASISBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BASISBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BASISBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BASISBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BASISBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BASISBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BASISBOT_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.StreamMaxLen, "BASISBOT_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "BASISBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BASISBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "BASISBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BASISBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BASISBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BASISBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BASISBOT_S3_FORCE_PATH_STYLE")

	// ── Execution ──
	setFloat64(&cfg.Execution.SlippageTolerance, "BASISBOT_EXECUTION_SLIPPAGE_TOLERANCE")
	setInt(&cfg.Execution.MaxRetries, "BASISBOT_EXECUTION_MAX_RETRIES")
	setDuration(&cfg.Execution.BaseBackoff, "BASISBOT_EXECUTION_BASE_BACKOFF")
	setDuration(&cfg.Execution.MaxBackoff, "BASISBOT_EXECUTION_MAX_BACKOFF")
	setDuration(&cfg.Execution.LeaseTTL, "BASISBOT_EXECUTION_LEASE_TTL")
	setFloat64(&cfg.Execution.SimPriceImpact, "BASISBOT_EXECUTION_SIM_PRICE_IMPACT")
	setFloat64(&cfg.Execution.SimFeeRate, "BASISBOT_EXECUTION_SIM_FEE_RATE")

	// ── Guardian ──
	setDuration(&cfg.Guardian.Interval, "BASISBOT_GUARDIAN_INTERVAL")
	setStr(&cfg.Guardian.ExitPolicy, "BASISBOT_GUARDIAN_EXIT_POLICY")
	setInt(&cfg.Guardian.NegativeCount, "BASISBOT_GUARDIAN_NEGATIVE_COUNT")
	setInt(&cfg.Guardian.MAWindow, "BASISBOT_GUARDIAN_MA_WINDOW")
	setFloat64(&cfg.Guardian.MAThreshold, "BASISBOT_GUARDIAN_MA_THRESHOLD")
	setFloat64(&cfg.Guardian.BackwardationThreshold, "BASISBOT_GUARDIAN_BACKWARDATION_THRESHOLD")
	setFloat64(&cfg.Guardian.MarginUsageThreshold, "BASISBOT_GUARDIAN_MARGIN_USAGE_THRESHOLD")
	setInt(&cfg.Guardian.StuckAlertThreshold, "BASISBOT_GUARDIAN_STUCK_ALERT_THRESHOLD")

	// ── Scanner ──
	setBool(&cfg.Scanner.Enabled, "BASISBOT_SCANNER_ENABLED")
	setDuration(&cfg.Scanner.Interval, "BASISBOT_SCANNER_INTERVAL")
	setStringSlice(&cfg.Scanner.Symbols, "BASISBOT_SCANNER_SYMBOLS")
	setFloat64(&cfg.Scanner.MinFundingRate, "BASISBOT_SCANNER_MIN_FUNDING_RATE")
	setFloat64(&cfg.Scanner.MaxEntrySpread, "BASISBOT_SCANNER_MAX_ENTRY_SPREAD")
	setFloat64(&cfg.Scanner.MinOpenInterest, "BASISBOT_SCANNER_MIN_OPEN_INTEREST")
	setFloat64(&cfg.Scanner.BudgetPerPosition, "BASISBOT_SCANNER_BUDGET_PER_POSITION")
	setInt(&cfg.Scanner.MaxPositions, "BASISBOT_SCANNER_MAX_POSITIONS")
	setDuration(&cfg.Scanner.Cooldown, "BASISBOT_SCANNER_COOLDOWN")

	// ── Ledger ──
	setFloat64(&cfg.Ledger.InitialBalance, "BASISBOT_LEDGER_INITIAL_BALANCE")
	setFloat64(&cfg.Ledger.MaintenanceRatio, "BASISBOT_LEDGER_MAINTENANCE_RATIO")
	setDuration(&cfg.Ledger.SettleInterval, "BASISBOT_LEDGER_SETTLE_INTERVAL")

	// ── Feed ──
	setDuration(&cfg.Feed.FundingInterval, "BASISBOT_FEED_FUNDING_INTERVAL")
	setInt(&cfg.Feed.HistorySize, "BASISBOT_FEED_HISTORY_SIZE")

	// ── Replay ──
	setStr(&cfg.Replay.Path, "BASISBOT_REPLAY_PATH")
	setStr(&cfg.Replay.S3Key, "BASISBOT_REPLAY_S3_KEY")
	setStr(&cfg.Replay.ReportPrefix, "BASISBOT_REPLAY_REPORT_PREFIX")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "BASISBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "BASISBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "BASISBOT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "BASISBOT_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BASISBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BASISBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BASISBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BASISBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "BASISBOT_MODE")
	setStr(&cfg.LogLevel, "BASISBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
