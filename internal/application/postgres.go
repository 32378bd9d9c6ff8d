package application

import (
	"context"
	"log/slog"

	"shiptrack/internal/application/factories/infrastructure"
	"shiptrack/internal/config"
	"shiptrack/internal/domain/notification"
	"shiptrack/internal/infrastructure/memory"
	"shiptrack/internal/infrastructure/postgres"
	"shiptrack/internal/infrastructure/provider"
	"shiptrack/internal/infrastructure/redis"

	go_redis "github.com/redis/go-redis/v9"
)

// Infra is what the commands need besides the Deps themselves.
type Infra struct {
	Deps  Deps
	Queue *postgres.EventQueue
	Inbox *postgres.InboxRepository
	Redis *go_redis.Client
}

// PostgresDeps wires the production adapters. Redis is optional: without
// it notification keys fall back to a process-local store and the order
// cache is disabled.
func PostgresDeps(ctx context.Context, f *infrastructure.Factory, cfg *config.Config, logger *slog.Logger) (*Infra, error) {
	pool, err := f.Postgres(ctx)
	if err != nil {
		return nil, err
	}

	queue := postgres.NewEventQueue(pool, cfg.Queue.MaxAttempts, cfg.Queue.RetryBackoff)
	inbox := postgres.NewInboxRepository(pool)
	shipments := postgres.NewShipmentRepository(pool)
	orders := postgres.NewOrderRepository(pool)

	deps := Deps{
		Logger:        logger,
		Queue:         queue,
		Tx:            postgres.NewTxManager(pool),
		Shipments:     shipments,
		Orders:        orders,
		Audit:         postgres.NewAuditRepository(pool),
		Inbox:         inbox,
		Producer:      f.OrderSystemProducer(),
		Tenant:        cfg.Notify.Tenant,
		OpsRecipients: cfg.Notify.OpsRecipients,
	}

	client := provider.NewClient(provider.Config{
		BaseURL: cfg.Notify.BaseURL,
		APIKey:  cfg.Notify.APIKey,
		Timeout: cfg.Notify.Timeout,
	}, logger)

	infra := &Infra{Queue: queue, Inbox: inbox}
	redisClient, err := f.Redis(ctx)
	if err != nil {
		logger.Warn("redis unavailable, using local idempotency keys and no order cache", "error", err)
		deps.Notifier = notification.NewIdempotent(client, memory.NewKeyStore(), logger)
	} else {
		infra.Redis = redisClient
		deps.Notifier = notification.NewIdempotent(client, redis.NewKeyStore(redisClient), logger)
		deps.Cache = redis.NewOrderCache(redisClient, cfg.Redis.OrderTTL)
	}

	infra.Deps = deps
	return infra, nil
}
