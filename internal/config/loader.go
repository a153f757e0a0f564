package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/alanyoungcy/wallbot/internal/crypto"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies WALLBOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
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

	if err := resolveSecret(&cfg.Bybit); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// resolveSecret opens the sealed API secret when no plain secret is set.
func resolveSecret(b *BybitConfig) error {
	if b.APISecret != "" || b.SecretFile == "" {
		return nil
	}
	secret, err := crypto.LoadSecret(crypto.SecretSource{
		Path:     b.SecretFile,
		Password: b.SecretPassword,
	})
	if err != nil {
		return fmt.Errorf("config: bybit secret: %w", err)
	}
	b.APISecret = secret
	return nil
}

// applyEnvOverrides reads well-known WALLBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. Secrets
// are expected to arrive this way rather than through the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Bybit ──
	setStr(&cfg.Bybit.APIKey, "WALLBOT_BYBIT_API_KEY")
	setStr(&cfg.Bybit.APISecret, "WALLBOT_BYBIT_API_SECRET")
	setStr(&cfg.Bybit.SecretFile, "WALLBOT_BYBIT_SECRET_FILE")
	setStr(&cfg.Bybit.SecretPassword, "WALLBOT_BYBIT_SECRET_PASSWORD")
	setBool(&cfg.Bybit.Testnet, "WALLBOT_BYBIT_TESTNET")
	setStr(&cfg.Bybit.RESTURL, "WALLBOT_BYBIT_REST_URL")
	setStr(&cfg.Bybit.PublicWSURL, "WALLBOT_BYBIT_PUBLIC_WS_URL")
	setStr(&cfg.Bybit.PrivateWSURL, "WALLBOT_BYBIT_PRIVATE_WS_URL")
	setStr(&cfg.Bybit.TradeWSURL, "WALLBOT_BYBIT_TRADE_WS_URL")
	setInt64(&cfg.Bybit.RecvWindow, "WALLBOT_BYBIT_RECV_WINDOW")
	setInt(&cfg.Bybit.RateLimit, "WALLBOT_BYBIT_RATE_LIMIT")
	setDuration(&cfg.Bybit.RateLimitWindow, "WALLBOT_BYBIT_RATE_LIMIT_WINDOW")

	// ── Gateway ──
	setBool(&cfg.Gateway.Enabled, "WALLBOT_GATEWAY_ENABLED")
	setDuration(&cfg.Gateway.Timeout, "WALLBOT_GATEWAY_TIMEOUT")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "WALLBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // platform convention
	setStr(&cfg.Postgres.DSN, "WALLBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "WALLBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "WALLBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "WALLBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "WALLBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "WALLBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "WALLBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "WALLBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "WALLBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "WALLBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "WALLBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "WALLBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "WALLBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "WALLBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "WALLBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "WALLBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "WALLBOT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "WALLBOT_REDIS_KEY_PREFIX")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "WALLBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "WALLBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "WALLBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "WALLBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "WALLBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "WALLBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "WALLBOT_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "WALLBOT_S3_PREFIX")

	// ── Strategy ──
	setFloat64(&cfg.Strategy.OrderAmountUSDT, "WALLBOT_STRATEGY_ORDER_AMOUNT_USDT")
	setFloat64(&cfg.Strategy.WallRatioThreshold, "WALLBOT_STRATEGY_WALL_RATIO_THRESHOLD")
	setFloat64(&cfg.Strategy.MinWallValueUSDT, "WALLBOT_STRATEGY_MIN_WALL_VALUE_USDT")
	setInt(&cfg.Strategy.RequiredConfirms, "WALLBOT_STRATEGY_REQUIRED_CONFIRMS")
	setInt(&cfg.Strategy.StopLossTicks, "WALLBOT_STRATEGY_STOP_LOSS_TICKS")
	setBool(&cfg.Strategy.UseDynamicTP, "WALLBOT_STRATEGY_USE_DYNAMIC_TP")
	setFloat64(&cfg.Strategy.TPNATRMultiplier, "WALLBOT_STRATEGY_TP_NATR_MULTIPLIER")
	setFloat64(&cfg.Strategy.MinTPPercent, "WALLBOT_STRATEGY_MIN_TP_PERCENT")
	setInt(&cfg.Strategy.FixedTPTicks, "WALLBOT_STRATEGY_FIXED_TP_TICKS")
	setDuration(&cfg.Strategy.EntryTimeout, "WALLBOT_STRATEGY_ENTRY_TIMEOUT")
	setStringSlice(&cfg.Strategy.Symbols, "WALLBOT_STRATEGY_SYMBOLS")
	setDuration(&cfg.Strategy.LockTTL, "WALLBOT_STRATEGY_LOCK_TTL")

	// ── Scanner ──
	setBool(&cfg.Scanner.Enabled, "WALLBOT_SCANNER_ENABLED")
	setStr(&cfg.Scanner.Schedule, "WALLBOT_SCANNER_SCHEDULE")
	setInt(&cfg.Scanner.TopN, "WALLBOT_SCANNER_TOP_N")
	setFloat64(&cfg.Scanner.MinTurnover, "WALLBOT_SCANNER_MIN_TURNOVER")
	setBool(&cfg.Scanner.RequireCopyTrading, "WALLBOT_SCANNER_REQUIRE_COPY_TRADING")
	setStringSlice(&cfg.Scanner.ExcludeBases, "WALLBOT_SCANNER_EXCLUDE_BASES")

	// ── Bridge ──
	setInt(&cfg.Bridge.Depth, "WALLBOT_BRIDGE_DEPTH")
	setInt(&cfg.Bridge.QueueSize, "WALLBOT_BRIDGE_QUEUE_SIZE")

	// ── Recorder ──
	setBool(&cfg.Recorder.Enabled, "WALLBOT_RECORDER_ENABLED")
	setInt(&cfg.Recorder.TickBatch, "WALLBOT_RECORDER_TICK_BATCH")
	setInt(&cfg.Recorder.DepthBatch, "WALLBOT_RECORDER_DEPTH_BATCH")
	setDuration(&cfg.Recorder.FlushInterval, "WALLBOT_RECORDER_FLUSH_INTERVAL")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "WALLBOT_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "WALLBOT_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "WALLBOT_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "WALLBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "WALLBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "WALLBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "WALLBOT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "WALLBOT_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "WALLBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "WALLBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "WALLBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "WALLBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "WALLBOT_MODE")
	setStr(&cfg.LogLevel, "WALLBOT_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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
