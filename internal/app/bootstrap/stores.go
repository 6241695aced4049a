// Package bootstrap assembles the storage stack both binaries run on.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"moneyfusion/internal/cache"
	"moneyfusion/internal/config"
	"moneyfusion/internal/infrastructure/database"
	"moneyfusion/internal/repository/outbox_repo"
	outbox_memory "moneyfusion/internal/repository/outbox_repo/memory"
	outbox_postgres "moneyfusion/internal/repository/outbox_repo/postgres"
	"moneyfusion/internal/repository/payments_repo"
	payments_memory "moneyfusion/internal/repository/payments_repo/memory"
	payments_postgres "moneyfusion/internal/repository/payments_repo/postgres"
	"moneyfusion/internal/repository/webhook_repo"
	webhook_memory "moneyfusion/internal/repository/webhook_repo/memory"
	webhook_postgres "moneyfusion/internal/repository/webhook_repo/postgres"
)

const (
	dbConnectAttempts = 10
	dbConnectDelay    = 5 * time.Second
)

type Stores struct {
	Payments payments_repo.PaymentRepository
	Webhooks webhook_repo.WebhookEventRepository
	Outbox   outbox_repo.OutboxRepository

	db     *sql.DB
	redis  *redis.Client
	logger *zap.Logger
}

// OpenStores builds the repositories selected by cfg.StoreDriver, runs
// migrations for the postgres driver and puts the Redis cache in front of the
// payment store when REDIS_ADDR is set.
func OpenStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Stores, error) {
	s := &Stores{logger: logger}

	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		logger.Warn("Using in-memory payment store; records are lost on restart")
		outbox := outbox_memory.NewOutboxRepository()
		s.Outbox = outbox
		s.Payments = payments_memory.NewPaymentRepository(outbox)
		s.Webhooks = webhook_memory.NewWebhookEventRepository()
	default:
		logger.Info("Waiting for database to be available...")
		db, err := database.ConnectWithRetry(ctx, DBConfig(cfg), dbConnectAttempts, dbConnectDelay, logger)
		if err != nil {
			return nil, err
		}
		s.db = db

		logger.Info("Running database migrations...", zap.String("source", cfg.MigrationsPath))
		applied, err := database.Migrate(cfg.MigrationsPath, cfg.GetDBMigrationConnectionString())
		if err != nil {
			s.Close()
			return nil, err
		}
		logger.Info("Database migrations completed", zap.Bool("applied", applied))

		outbox := outbox_postgres.NewOutboxRepository(db)
		s.Outbox = outbox
		s.Payments = payments_postgres.NewPaymentRepository(db, outbox)
		s.Webhooks = webhook_postgres.NewWebhookEventRepository(db)
	}

	if cfg.RedisAddr != "" {
		client, err := cache.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		s.redis = client
		s.Payments = cache.NewPaymentRepository(s.Payments, client, cfg.RedisTTL, logger.With(zap.String("component", "PaymentCache")))
		logger.Info("Redis payment cache enabled", zap.String("addr", cfg.RedisAddr), zap.Duration("ttl", cfg.RedisTTL))
	}

	return s, nil
}

func (s *Stores) Close() {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("Error closing redis client", zap.Error(err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Error closing database connection", zap.Error(err))
		} else {
			s.logger.Info("Database connection closed.")
		}
	}
}

func DBConfig(cfg *config.Config) database.DBConfig {
	return database.DBConfig{
		Host:     cfg.DBConfig.Host,
		Port:     cfg.DBConfig.Port,
		User:     cfg.DBConfig.User,
		Password: cfg.DBConfig.Password,
		DBName:   cfg.DBConfig.Name,
		SSLMode:  cfg.DBConfig.SSLMode,
	}
}
