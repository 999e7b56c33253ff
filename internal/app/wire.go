package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "dexguard/internal/blob/s3"
	"dexguard/internal/bus"
	"dexguard/internal/cache/redis"
	"dexguard/internal/config"
	"dexguard/internal/domain"
	"dexguard/internal/ledger"
	"dexguard/internal/notify"
	"dexguard/internal/platform/aggregator"
	"dexguard/internal/platform/predictor"
	"dexguard/internal/protection"
	"dexguard/internal/splitter"
	"dexguard/internal/store/postgres"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// External services
	Router    domain.LiquidityRouter
	Predictor domain.SlippagePredictor

	// Live state
	Orders  *ledger.OrderLedger
	Results *ledger.ResultLedger
	Bus     *bus.Bus

	// Persistence (nil in server mode)
	ExecutionStore  domain.ExecutionStore
	SwapResultStore domain.SwapResultStore
	VolumeCache     domain.VolumeProfileCache

	// Engines
	Splitter   *splitter.Splitter
	Protection *protection.Engine

	// Reporting
	Archiver *s3blob.ReportArchiver
	Notifier *notify.Notifier
}

// needsPostgres returns true for modes that persist audit snapshots.
func needsPostgres(mode string) bool {
	return mode == "full"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Router:    aggregator.New(cfg.Aggregator.BaseURL, cfg.Aggregator.ApiKey, cfg.Aggregator.Timeout.Duration),
		Predictor: predictor.New(cfg.Predictor.BaseURL, cfg.Predictor.ApiKey, cfg.Predictor.Timeout.Duration),
		Orders:    ledger.NewOrderLedger(),
		Results:   ledger.NewResultLedger(),
		Bus:       bus.New(),
	}
	closers = append(closers, deps.Bus.Close)

	// --- PostgreSQL (only for modes that persist audit snapshots) ---
	if needsPostgres(cfg.Mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.ExecutionStore = postgres.NewSplitOrderStore(pool)
		deps.SwapResultStore = postgres.NewSwapResultStore(pool)
	}

	// --- Redis volume-profile cache ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.VolumeCache = redis.NewVolumeProfileCache(redisClient, cfg.Splitter.ProfileCacheTTL.Duration)
	}

	// --- S3 report archiving (only with Postgres-backed stores) ---
	if cfg.S3.Enabled && needsPostgres(cfg.Mode) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewReportArchiver(
			s3blob.NewWriter(s3Client),
			deps.ExecutionStore,
			deps.SwapResultStore,
			cfg.S3.Prefix,
			logger,
		)
	}

	// --- Engines ---
	sp := splitter.New(deps.Router, deps.Predictor, deps.Orders, splitter.Options{
		CallTimeout:  cfg.Splitter.CallTimeout.Duration,
		DefaultVenue: cfg.Splitter.DefaultVenue,
	}, logger)
	sp.SetEventBus(deps.Bus)
	if deps.ExecutionStore != nil {
		sp.SetAuditStore(deps.ExecutionStore)
	}
	if deps.VolumeCache != nil {
		sp.SetProfileCache(deps.VolumeCache)
	}
	deps.Splitter = sp

	eng := protection.New(deps.Router, deps.Predictor, deps.Results, protection.Options{
		CallTimeout: cfg.Protection.CallTimeout.Duration,
		Defaults: domain.SlippageProtectionConfig{
			MaxSlippageBps:            cfg.Protection.MaxSlippageBps,
			DynamicAdjustment:         cfg.Protection.DynamicAdjustment,
			RouteOptimization:         cfg.Protection.RouteOptimization,
			PreTradeValidation:        cfg.Protection.PreTradeValidation,
			PostTradeAnalysis:         cfg.Protection.PostTradeAnalysis,
			EmergencyStopThresholdBps: cfg.Protection.EmergencyStopThresholdBps,
		},
	}, logger)
	eng.SetEventBus(deps.Bus)
	if deps.SwapResultStore != nil {
		eng.SetAuditStore(deps.SwapResultStore)
	}
	deps.Protection = eng

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
