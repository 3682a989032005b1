// Package config defines the top-level configuration for basisbot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BASISBOT_* environment variables.
type Config struct {
	Venue     VenueConfig     `toml:"venue"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Execution ExecutionConfig `toml:"execution"`
	Guardian  GuardianConfig  `toml:"guardian"`
	Scanner   ScannerConfig   `toml:"scanner"`
	Ledger    LedgerConfig    `toml:"ledger"`
	Feed      FeedConfig      `toml:"feed"`
	Replay    ReplayConfig    `toml:"replay"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// VenueConfig holds Hyperliquid endpoints and signing credentials.
type VenueConfig struct {
	BaseURL          string `toml:"base_url"`
	WsURL            string `toml:"ws_url"`
	AccountAddress   string `toml:"account_address"`
	VaultAddress     string `toml:"vault_address"`
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	// OrdersPerSecond throttles order submission through the Redis rate
	// limiter. Zero disables throttling.
	OrdersPerSecond int `toml:"orders_per_second"`
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

// Enabled reports whether a database has been configured.
func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.DSN) != "" || p.Host != ""
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// Enabled reports whether object storage has been configured.
func (s S3Config) Enabled() bool {
	return s.Bucket != ""
}

// ExecutionConfig tunes order pricing, retries and simulated fills.
type ExecutionConfig struct {
	SlippageTolerance float64  `toml:"slippage_tolerance"`
	MaxRetries        int      `toml:"max_retries"`
	BaseBackoff       duration `toml:"base_backoff"`
	MaxBackoff        duration `toml:"max_backoff"`
	LeaseTTL          duration `toml:"lease_ttl"`
	// SimPriceImpact and SimFeeRate apply to synthetic fills only.
	SimPriceImpact float64 `toml:"sim_price_impact"`
	SimFeeRate     float64 `toml:"sim_fee_rate"`
}

// GuardianConfig tunes the position guardian loop.
type GuardianConfig struct {
	Interval               duration `toml:"interval"`
	ExitPolicy             string   `toml:"exit_policy"`
	NegativeCount          int      `toml:"negative_count"`
	MAWindow               int      `toml:"ma_window"`
	MAThreshold            float64  `toml:"ma_threshold"`
	BackwardationThreshold float64  `toml:"backwardation_threshold"`
	MarginUsageThreshold   float64  `toml:"margin_usage_threshold"`
	DeleverageTargetFactor float64  `toml:"deleverage_target_factor"`
	MaxReduceFraction      float64  `toml:"max_reduce_fraction"`
	StuckAlertThreshold    int      `toml:"stuck_alert_threshold"`
}

// ScannerConfig holds entry candidate thresholds and sizing.
type ScannerConfig struct {
	Enabled           bool     `toml:"enabled"`
	Interval          duration `toml:"interval"`
	Symbols           []string `toml:"symbols"`
	MinFundingRate    float64  `toml:"min_funding_rate"`
	MaxEntrySpread    float64  `toml:"max_entry_spread"`
	MinOpenInterest   float64  `toml:"min_open_interest"`
	BudgetPerPosition float64  `toml:"budget_per_position"`
	MaxPositions      int      `toml:"max_positions"`
	Cooldown          duration `toml:"cooldown"`
}

// LedgerConfig configures the virtual ledger used outside live mode.
type LedgerConfig struct {
	InitialBalance   float64  `toml:"initial_balance"`
	MaintenanceRatio float64  `toml:"maintenance_ratio"`
	SettleInterval   duration `toml:"settle_interval"`
}

// FeedConfig configures market data refresh.
type FeedConfig struct {
	FundingInterval duration `toml:"funding_interval"`
	HistorySize     int      `toml:"history_size"`
}

// ReplayConfig points replay mode at historical rows, either a local CSV
// file or an S3 key.
type ReplayConfig struct {
	Path         string `toml:"path"`
	S3Key        string `toml:"s3_key"`
	ReportPrefix string `toml:"report_prefix"`
	// Replay runs offline, so rounding rules come from config rather than
	// venue metadata.
	SizeDecimals  int32 `toml:"size_decimals"`
	PriceDecimals int32 `toml:"price_decimals"`
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	// RateLimit is requests per minute per client IP; 0 disables it.
	RateLimit int `toml:"rate_limit"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Venue: VenueConfig{
			BaseURL:         "https://api.hyperliquid.xyz",
			WsURL:           "wss://api.hyperliquid.xyz/ws",
			OrdersPerSecond: 10,
		},
		Postgres: PostgresConfig{
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			PoolSize:     20,
			MaxRetries:   3,
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Region:         "us-east-1",
			ForcePathStyle: true,
		},
		Execution: ExecutionConfig{
			SlippageTolerance: 0.005,
			MaxRetries:        3,
			BaseBackoff:       duration{2 * time.Second},
			MaxBackoff:        duration{30 * time.Second},
			LeaseTTL:          duration{2 * time.Minute},
			SimPriceImpact:    0.001,
			SimFeeRate:        0.00025,
		},
		Guardian: GuardianConfig{
			Interval:               duration{time.Minute},
			ExitPolicy:             "consecutive_negative",
			NegativeCount:          3,
			MAWindow:               8,
			MAThreshold:            0,
			BackwardationThreshold: 0.005,
			MarginUsageThreshold:   0.8,
			DeleverageTargetFactor: 0.8,
			MaxReduceFraction:      0.5,
			StuckAlertThreshold:    10,
		},
		Scanner: ScannerConfig{
			Enabled:           true,
			Interval:          duration{time.Minute},
			Symbols:           []string{"ETH", "BTC"},
			MinFundingRate:    0.0001,
			MaxEntrySpread:    0.002,
			MinOpenInterest:   1_000_000,
			BudgetPerPosition: 1000,
			MaxPositions:      3,
			Cooldown:          duration{10 * time.Minute},
		},
		Ledger: LedgerConfig{
			InitialBalance:   10_000,
			MaintenanceRatio: 0.05,
			SettleInterval:   duration{time.Minute},
		},
		Feed: FeedConfig{
			FundingInterval: duration{30 * time.Second},
			HistorySize:     24,
		},
		Replay: ReplayConfig{
			ReportPrefix:  "replay",
			SizeDecimals:  4,
			PriceDecimals: 2,
		},
		Server: ServerConfig{
			Enabled:   true,
			Port:      8000,
			RateLimit: 120,
		},
		Notify: NotifyConfig{
			Events: []string{"stuck_position", "leg_risk", "persist_failed"},
		},
		Mode:     "dryrun",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"live":   true,
	"dryrun": true,
	"replay": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validExitPolicies enumerates the accepted funding-reversal policies.
var validExitPolicies = map[string]bool{
	"consecutive_negative": true,
	"moving_average":       true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: live, dryrun, replay)", c.Mode))
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Venue
	if mode != "replay" && c.Venue.BaseURL == "" {
		errs = append(errs, "venue: base_url must not be empty")
	}
	if mode == "live" {
		if c.Venue.PrivateKey == "" && c.Venue.EncryptedKeyPath == "" {
			errs = append(errs, "venue: either private_key or encrypted_key_path must be set for live mode")
		}
		if c.Venue.EncryptedKeyPath != "" && c.Venue.KeyPassword == "" {
			errs = append(errs, "venue: key_password is required when encrypted_key_path is set")
		}
		if !c.Postgres.Enabled() {
			errs = append(errs, "postgres: dsn or host is required for live mode")
		}
	}
	if c.Venue.OrdersPerSecond < 0 {
		errs = append(errs, "venue: orders_per_second must be >= 0")
	}

	// Postgres
	if c.Postgres.Enabled() && strings.TrimSpace(c.Postgres.DSN) == "" {
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
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Execution
	if c.Execution.SlippageTolerance < 0 || c.Execution.SlippageTolerance >= 1 {
		errs = append(errs, "execution: slippage_tolerance must be in [0, 1)")
	}
	if c.Execution.MaxRetries < 1 {
		errs = append(errs, "execution: max_retries must be >= 1")
	}
	if c.Execution.LeaseTTL.Duration <= 0 {
		errs = append(errs, "execution: lease_ttl must be > 0")
	}
	if c.Execution.SimFeeRate < 0 || c.Execution.SimPriceImpact < 0 {
		errs = append(errs, "execution: sim_fee_rate and sim_price_impact must be >= 0")
	}

	// Guardian
	if c.Guardian.Interval.Duration <= 0 {
		errs = append(errs, "guardian: interval must be > 0")
	}
	if !validExitPolicies[c.Guardian.ExitPolicy] {
		errs = append(errs, fmt.Sprintf("guardian: unknown exit_policy %q (valid: consecutive_negative, moving_average)", c.Guardian.ExitPolicy))
	}
	if c.Guardian.ExitPolicy == "consecutive_negative" && c.Guardian.NegativeCount < 1 {
		errs = append(errs, "guardian: negative_count must be >= 1")
	}
	if c.Guardian.ExitPolicy == "moving_average" && c.Guardian.MAWindow < 1 {
		errs = append(errs, "guardian: ma_window must be >= 1")
	}
	// The book keeps feed.history_size funding observations; a longer
	// window would never fill and the funding exit would never fire.
	if c.Guardian.ExitPolicy == "consecutive_negative" && c.Guardian.NegativeCount > c.Feed.HistorySize {
		errs = append(errs, fmt.Sprintf("guardian: negative_count %d exceeds feed.history_size %d", c.Guardian.NegativeCount, c.Feed.HistorySize))
	}
	if c.Guardian.ExitPolicy == "moving_average" && c.Guardian.MAWindow > c.Feed.HistorySize {
		errs = append(errs, fmt.Sprintf("guardian: ma_window %d exceeds feed.history_size %d", c.Guardian.MAWindow, c.Feed.HistorySize))
	}
	if c.Guardian.MarginUsageThreshold <= 0 || c.Guardian.MarginUsageThreshold > 1 {
		errs = append(errs, "guardian: margin_usage_threshold must be in (0, 1]")
	}
	if c.Guardian.DeleverageTargetFactor <= 0 || c.Guardian.DeleverageTargetFactor >= 1 {
		errs = append(errs, "guardian: deleverage_target_factor must be in (0, 1)")
	}
	if c.Guardian.MaxReduceFraction <= 0 || c.Guardian.MaxReduceFraction > 1 {
		errs = append(errs, "guardian: max_reduce_fraction must be in (0, 1]")
	}
	if c.Guardian.StuckAlertThreshold < 1 {
		errs = append(errs, "guardian: stuck_alert_threshold must be >= 1")
	}

	// Scanner
	if c.Scanner.Enabled {
		if len(c.Scanner.Symbols) == 0 {
			errs = append(errs, "scanner: symbols must not be empty when enabled")
		}
		if c.Scanner.BudgetPerPosition <= 0 {
			errs = append(errs, "scanner: budget_per_position must be > 0")
		}
		if c.Scanner.MaxPositions < 1 {
			errs = append(errs, "scanner: max_positions must be >= 1")
		}
	}

	// Ledger
	if mode != "live" {
		if c.Ledger.InitialBalance <= 0 {
			errs = append(errs, "ledger: initial_balance must be > 0")
		}
		if c.Ledger.MaintenanceRatio <= 0 || c.Ledger.MaintenanceRatio >= 1 {
			errs = append(errs, "ledger: maintenance_ratio must be in (0, 1)")
		}
	}

	// Replay
	if mode == "replay" {
		if c.Replay.Path == "" && c.Replay.S3Key == "" {
			errs = append(errs, "replay: path or s3_key is required for replay mode")
		}
		if c.Replay.S3Key != "" && !c.S3.Enabled() {
			errs = append(errs, "replay: s3_key requires s3.bucket")
		}
		if c.Replay.SizeDecimals < 0 || c.Replay.PriceDecimals < 0 {
			errs = append(errs, "replay: size_decimals and price_decimals must be >= 0")
		}
	}

	// Feed
	if c.Feed.HistorySize < 1 {
		errs = append(errs, "feed: history_size must be >= 1")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
