// Package config defines the top-level configuration for wallbot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/wallbot/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by WALLBOT_* environment variables.
type Config struct {
	Bybit    BybitConfig    `toml:"bybit"`
	Gateway  GatewayConfig  `toml:"gateway"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Strategy StrategyConfig `toml:"strategy"`
	Scanner  ScannerConfig  `toml:"scanner"`
	Bridge   BridgeConfig   `toml:"bridge"`
	Recorder RecorderConfig `toml:"recorder"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// BybitConfig holds the exchange credentials and endpoints. Empty URLs are
// filled from Testnet by Endpoints.
type BybitConfig struct {
	APIKey          string   `toml:"api_key"`
	APISecret       string   `toml:"api_secret"`
	SecretFile      string   `toml:"secret_file"` // sealed secret, used when api_secret is empty
	SecretPassword  string   `toml:"secret_password"`
	Testnet         bool     `toml:"testnet"`
	RESTURL         string   `toml:"rest_url"`
	PublicWSURL     string   `toml:"public_ws_url"`
	PrivateWSURL    string   `toml:"private_ws_url"`
	TradeWSURL      string   `toml:"trade_ws_url"`
	RecvWindow      int64    `toml:"recv_window"`
	RateLimit       int      `toml:"rate_limit"` // signed requests per window, 0 disables
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// Endpoints returns the REST, public, private and trade URLs.
func (b BybitConfig) Endpoints() (rest, public, private, trade string) {
	rest, public, private, trade = "https://api.bybit.com",
		"wss://stream.bybit.com/v5/public/linear",
		"wss://stream.bybit.com/v5/private",
		"wss://stream.bybit.com/v5/trade"
	if b.Testnet {
		rest, public, private, trade = "https://api-testnet.bybit.com",
			"wss://stream-testnet.bybit.com/v5/public/linear",
			"wss://stream-testnet.bybit.com/v5/private",
			"wss://stream-testnet.bybit.com/v5/trade"
	}
	pick := func(override, def string) string {
		if override != "" {
			return override
		}
		return def
	}
	return pick(b.RESTURL, rest), pick(b.PublicWSURL, public), pick(b.PrivateWSURL, private), pick(b.TradeWSURL, trade)
}

// GatewayConfig controls the WebSocket order entry path.
type GatewayConfig struct {
	Enabled bool     `toml:"enabled"`
	Timeout duration `toml:"timeout"`
}

// PostgresConfig holds PostgreSQL / TimescaleDB connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
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
	Prefix         string `toml:"prefix"`
}

// StrategyConfig holds the wall strategy tuning shared by every symbol.
// Instrument filters come from the exchange at activation.
type StrategyConfig struct {
	OrderAmountUSDT    float64  `toml:"order_amount_usdt"`
	WallRatioThreshold float64  `toml:"wall_ratio_threshold"`
	MinWallValueUSDT   float64  `toml:"min_wall_value_usdt"`
	MinNotional        float64  `toml:"min_notional"`
	VolEMAAlpha        float64  `toml:"vol_ema_alpha"`
	EntryDeltaTicks    int      `toml:"entry_delta_ticks"`
	RequiredConfirms   int      `toml:"required_confirms"`
	StopLossTicks      int      `toml:"stop_loss_ticks"`
	UseDynamicTP       bool     `toml:"use_dynamic_tp"`
	NATRPeriod         int      `toml:"natr_period"`
	TPNATRMultiplier   float64  `toml:"tp_natr_multiplier"`
	MinTPPercent       float64  `toml:"min_tp_percent"`
	FixedTPTicks       int      `toml:"fixed_tp_ticks"`
	WallIntegrityRatio float64  `toml:"wall_integrity_ratio"`
	IntegrityWindow    int      `toml:"integrity_window"`
	DriftTicks         int      `toml:"drift_ticks"`
	EntryTimeout       duration `toml:"entry_timeout"`
	VolatilityInterval duration `toml:"volatility_interval"`
	CandleInterval     string   `toml:"candle_interval"`

	// Symbols are traded when the scanner is disabled, and are the fallback
	// when its first pass finds nothing.
	Symbols   []string `toml:"symbols"`
	InboxSize int      `toml:"inbox_size"`
	LockTTL   duration `toml:"lock_ttl"`
}

// Parameters converts the tuning section into the parameter template.
func (s StrategyConfig) Parameters() domain.StrategyParameters {
	return domain.StrategyParameters{
		MinNotional:        s.MinNotional,
		OrderAmountUSDT:    s.OrderAmountUSDT,
		WallRatioThreshold: s.WallRatioThreshold,
		MinWallValueUSDT:   s.MinWallValueUSDT,
		VolEMAAlpha:        s.VolEMAAlpha,
		EntryDeltaTicks:    s.EntryDeltaTicks,
		RequiredConfirms:   s.RequiredConfirms,
		StopLossTicks:      s.StopLossTicks,
		UseDynamicTP:       s.UseDynamicTP,
		NATRPeriod:         s.NATRPeriod,
		TPNATRMultiplier:   s.TPNATRMultiplier,
		MinTPPercent:       s.MinTPPercent,
		FixedTPTicks:       s.FixedTPTicks,
		WallIntegrityRatio: s.WallIntegrityRatio,
		IntegrityWindow:    s.IntegrityWindow,
		DriftTicks:         s.DriftTicks,
		EntryTimeout:       s.EntryTimeout.Duration,
		VolatilityInterval: s.VolatilityInterval.Duration,
		CandleInterval:     s.CandleInterval,
	}
}

// ScannerConfig holds the market rotation parameters.
type ScannerConfig struct {
	Enabled            bool     `toml:"enabled"`
	Schedule           string   `toml:"schedule"`
	TopN               int      `toml:"top_n"`
	QuoteCoin          string   `toml:"quote_coin"`
	ExcludeBases       []string `toml:"exclude_bases"`
	MinTurnover        float64  `toml:"min_turnover"`
	Candidates         int      `toml:"candidates"`
	RequireCopyTrading bool     `toml:"require_copy_trading"`
	KlineInterval      string   `toml:"kline_interval"`
	KlineLimit         int      `toml:"kline_limit"`
	MinCandles         int      `toml:"min_candles"`
	Concurrency        int      `toml:"concurrency"`
}

// BridgeConfig holds the market data subscription parameters.
type BridgeConfig struct {
	Depth      int      `toml:"depth"`
	BatchSize  int      `toml:"batch_size"`
	BatchPause duration `toml:"batch_pause"`
	QueueSize  int      `toml:"queue_size"`
}

// RecorderConfig holds the tick recorder thresholds.
type RecorderConfig struct {
	Enabled       bool     `toml:"enabled"`
	TickBatch     int      `toml:"tick_batch"`
	DepthBatch    int      `toml:"depth_batch"`
	FlushInterval duration `toml:"flush_interval"`
}

// ArchiveConfig holds the tick archival schedule.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
	PageSize      int    `toml:"page_size"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
	BookMirror      duration `toml:"book_mirror_interval"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with the production defaults.
func Defaults() Config {
	p := domain.DefaultStrategyParameters()
	return Config{
		Bybit: BybitConfig{
			RecvWindow:      5000,
			RateLimit:       10,
			RateLimitWindow: duration{time.Second},
		},
		Gateway: GatewayConfig{
			Enabled: true,
			Timeout: duration{5 * time.Second},
		},
		Postgres: PostgresConfig{
			Enabled:       true,
			Host:          "localhost",
			Port:          5432,
			Database:      "wallbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "wallbot:",
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "wallbot-ticks",
			ForcePathStyle: true,
		},
		Strategy: StrategyConfig{
			OrderAmountUSDT:    p.OrderAmountUSDT,
			WallRatioThreshold: p.WallRatioThreshold,
			MinWallValueUSDT:   p.MinWallValueUSDT,
			MinNotional:        p.MinNotional,
			VolEMAAlpha:        p.VolEMAAlpha,
			EntryDeltaTicks:    p.EntryDeltaTicks,
			RequiredConfirms:   p.RequiredConfirms,
			StopLossTicks:      p.StopLossTicks,
			UseDynamicTP:       p.UseDynamicTP,
			NATRPeriod:         p.NATRPeriod,
			TPNATRMultiplier:   p.TPNATRMultiplier,
			MinTPPercent:       p.MinTPPercent,
			FixedTPTicks:       p.FixedTPTicks,
			WallIntegrityRatio: p.WallIntegrityRatio,
			IntegrityWindow:    p.IntegrityWindow,
			DriftTicks:         p.DriftTicks,
			EntryTimeout:       duration{p.EntryTimeout},
			VolatilityInterval: duration{p.VolatilityInterval},
			CandleInterval:     p.CandleInterval,
			Symbols:            []string{"SOLUSDT"},
			InboxSize:          1024,
			LockTTL:            duration{30 * time.Second},
		},
		Scanner: ScannerConfig{
			Enabled:       true,
			Schedule:      "@every 5m",
			TopN:          3,
			QuoteCoin:     "USDT",
			ExcludeBases:  []string{"BTC", "ETH"},
			MinTurnover:   1_000_000,
			Candidates:    20,
			KlineInterval: "5",
			KlineLimit:    20,
			MinCandles:    10,
			Concurrency:   10,
		},
		Bridge: BridgeConfig{
			Depth:      50,
			BatchSize:  10,
			BatchPause: duration{20 * time.Millisecond},
			QueueSize:  10_000,
		},
		Recorder: RecorderConfig{
			Enabled:       true,
			TickBatch:     1000,
			DepthBatch:    10,
			FlushInterval: duration{500 * time.Millisecond},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 7,
			Cron:          "0 3 * * *",
			PageSize:      50_000,
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       120,
			RateLimitWindow: duration{time.Minute},
			BookMirror:      duration{time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"OPEN", "CLOSE", "PANIC"},
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Bybit: trading needs both halves of the key pair.
	if mode == "trade" && (c.Bybit.APIKey == "" || c.Bybit.APISecret == "") {
		errs = append(errs, "bybit: api_key and api_secret are required for mode trade")
	}
	if (c.Bybit.APIKey == "") != (c.Bybit.APISecret == "") {
		errs = append(errs, "bybit: api_key and api_secret must be set together")
	}
	if c.Bybit.RecvWindow < 0 {
		errs = append(errs, "bybit: recv_window must be >= 0")
	}
	if c.Bybit.RateLimit > 0 && c.Bybit.RateLimitWindow.Duration <= 0 {
		errs = append(errs, "bybit: rate_limit_window must be > 0 when rate_limit is set")
	}
	if c.Gateway.Enabled && c.Gateway.Timeout.Duration <= 0 {
		errs = append(errs, "gateway: timeout must be > 0")
	}

	// Postgres
	if c.Postgres.Enabled {
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
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}
	if c.Recorder.Enabled && !c.Postgres.Enabled {
		errs = append(errs, "recorder: requires postgres.enabled")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Archive
	if c.Archive.Enabled {
		if !c.Postgres.Enabled {
			errs = append(errs, "archive: requires postgres.enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Cron == "" {
			errs = append(errs, "archive: cron must not be empty")
		}
	}

	// Strategy
	if _, err := c.Strategy.Parameters().WithInstrument(domain.InstrumentSpec{
		Symbol: "PROBE", TickSize: 0.01, LotSize: 0.1, MinQty: 0.1,
	}); err != nil {
		errs = append(errs, "strategy: "+err.Error())
	}
	if !c.Scanner.Enabled && len(c.Strategy.Symbols) == 0 {
		errs = append(errs, "strategy: symbols must not be empty when the scanner is disabled")
	}

	// Scanner
	if c.Scanner.Enabled {
		if c.Scanner.TopN < 1 {
			errs = append(errs, "scanner: top_n must be >= 1")
		}
		if c.Scanner.Candidates < c.Scanner.TopN {
			errs = append(errs, "scanner: candidates must be >= top_n")
		}
		if c.Scanner.Schedule == "" {
			errs = append(errs, "scanner: schedule must not be empty")
		}
	}

	// Bridge
	switch c.Bridge.Depth {
	case 1, 50, 200, 500:
	default:
		errs = append(errs, fmt.Sprintf("bridge: depth must be 1, 50, 200 or 500, got %d", c.Bridge.Depth))
	}
	if c.Bridge.BatchSize < 1 || c.Bridge.BatchSize > 10 {
		errs = append(errs, "bridge: batch_size must be 1-10")
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
