package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/wallbot/internal/blob/s3"
	"github.com/alanyoungcy/wallbot/internal/cache/redis"
	"github.com/alanyoungcy/wallbot/internal/config"
	"github.com/alanyoungcy/wallbot/internal/crypto"
	"github.com/alanyoungcy/wallbot/internal/domain"
	"github.com/alanyoungcy/wallbot/internal/metrics"
	"github.com/alanyoungcy/wallbot/internal/notify"
	"github.com/alanyoungcy/wallbot/internal/platform/bybit"
	"github.com/alanyoungcy/wallbot/internal/server/handler"
	"github.com/alanyoungcy/wallbot/internal/store/postgres"
)

// Dependencies bundles the infrastructure the modes run on. Optional parts
// are nil when their backend is disabled.
type Dependencies struct {
	Metrics *metrics.Metrics

	// Exchange
	Auth     *crypto.HMACAuth // nil without keys
	REST     *bybit.Client
	Public   *bybit.Session
	Private  *bybit.Session      // nil without keys
	Gateway  *bybit.TradeGateway // nil unless enabled and keyed
	Checkers []handler.Checker

	// Stores
	AuditStore domain.AuditStore
	TickStore  domain.TickStore

	// Caches
	BookCache   domain.BookCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	Archiver domain.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs every enabled backend from cfg and returns them with a
// cleanup function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Metrics: metrics.New()}

	// --- Bybit ---
	restURL, publicURL, privateURL, tradeURL := cfg.Bybit.Endpoints()
	if cfg.Bybit.APIKey != "" {
		deps.Auth = &crypto.HMACAuth{
			Key:        cfg.Bybit.APIKey,
			Secret:     cfg.Bybit.APISecret,
			RecvWindow: cfg.Bybit.RecvWindow,
		}
	}
	deps.REST = bybit.NewClient(restURL, deps.Auth)
	deps.Public = bybit.NewPublicSession(publicURL, logger)
	if deps.Auth != nil {
		deps.Private = bybit.NewPrivateSession(privateURL, deps.Auth, logger)
		if cfg.Gateway.Enabled {
			deps.Gateway = bybit.NewTradeGateway(tradeURL, deps.Auth, cfg.Gateway.Timeout.Duration, logger)
			closers = append(closers, func() { _ = deps.Gateway.Close() })
		}
	}
	logger.InfoContext(ctx, "exchange configured",
		slog.String("rest", restURL),
		slog.Bool("testnet", cfg.Bybit.Testnet),
		slog.Bool("private", deps.Private != nil),
		slog.Bool("gateway", deps.Gateway != nil),
	)

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:             cfg.Postgres.DSN,
			Host:            cfg.Postgres.Host,
			Port:            cfg.Postgres.Port,
			Database:        cfg.Postgres.Database,
			User:            cfg.Postgres.User,
			Password:        cfg.Postgres.Password,
			SSLMode:         cfg.Postgres.SSLMode,
			MaxConns:        cfg.Postgres.PoolMaxConns,
			MinConns:        cfg.Postgres.PoolMinConns,
			ApplicationName: "wallbot-" + cfg.Mode,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.TickStore = postgres.NewTickStore(pool)
		deps.Checkers = append(deps.Checkers, handler.Checker{Name: "postgres", Check: pgClient.Ping})
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			MaxRetries:  cfg.Redis.MaxRetries,
			TLSEnabled:  cfg.Redis.TLSEnabled,
			DialTimeout: 5 * time.Second,
			KeyPrefix:   cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.BookCache = redis.NewBookCache(redisClient, 30*time.Second)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, 10_000)
		deps.Checkers = append(deps.Checkers, handler.Checker{Name: "redis", Check: redisClient.Ping})

		if cfg.Bybit.RateLimit > 0 {
			deps.REST.SetRateLimiter(deps.RateLimiter, "bybit:"+cfg.Bybit.APIKey, cfg.Bybit.RateLimit, cfg.Bybit.RateLimitWindow.Duration)
		}
	}

	// --- S3 tick archive ---
	if cfg.Archive.Enabled && deps.TickStore != nil {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewTickArchiver(
			s3blob.NewWriter(s3Client),
			deps.TickStore,
			deps.AuditStore,
			cfg.Archive.PageSize,
			logger,
		)
		deps.Checkers = append(deps.Checkers, handler.Checker{Name: "s3", Check: s3Client.Health})
	}

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
