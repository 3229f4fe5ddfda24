package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lcerda/pushledger/internal/config"
	"github.com/lcerda/pushledger/internal/docstore"
	"github.com/lcerda/pushledger/internal/fanout"
	"github.com/lcerda/pushledger/internal/gateway"
	"github.com/lcerda/pushledger/internal/httpserv"
	"github.com/lcerda/pushledger/internal/infra/postgresql"
	"github.com/lcerda/pushledger/internal/infra/postgresql/migrations"
	infraredis "github.com/lcerda/pushledger/internal/infra/redis"
	"github.com/lcerda/pushledger/internal/ledger"
	"github.com/lcerda/pushledger/internal/notifications"
	"github.com/lcerda/pushledger/internal/observability"
	"github.com/lcerda/pushledger/internal/queue"
	"github.com/lcerda/pushledger/internal/registry"
	"github.com/lcerda/pushledger/internal/retry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	metrics := observability.NewMetrics()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	store, err := docstore.NewPostgres(db)
	if err != nil {
		logger.Fatal("document store initialization failed", zap.Error(err))
	}

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	policy := retry.Policy{
		Delay:      cfg.RetryDelay(),
		MaxRetries: cfg.MaxRetries,
		OnRetry: func(attempt int, err error) {
			metrics.IncRetryAttempt("action")
		},
	}

	gw, err := gateway.NewHTTPGateway(cfg.PushGatewayURL, cfg.PushGatewayToken)
	if err != nil {
		logger.Fatal("push gateway initialization failed", zap.Error(err))
	}

	tokens, err := registry.New(store, policy, logger)
	if err != nil {
		logger.Fatal("token registry initialization failed", zap.Error(err))
	}

	pusher, err := fanout.NewSender(tokens, gw, limiter, logger)
	if err != nil {
		logger.Fatal("push sender initialization failed", zap.Error(err))
	}
	pusher.SetMetrics(metrics)

	led, err := ledger.New(store, policy, logger)
	if err != nil {
		logger.Fatal("ledger initialization failed", zap.Error(err))
	}

	dispatcher, err := notifications.NewDispatcher(store, led, pusher, cfg.MaxRetries, logger)
	if err != nil {
		logger.Fatal("notifications dispatcher initialization failed", zap.Error(err))
	}
	dispatcher.SetMetrics(metrics)

	rmq, err := queue.NewRabbitMQ(cfg.RabbitMQURL, []string{notifications.Collection})
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer rmq.Close()

	consumer := queue.NewRabbitMQConsumer(rmq, cfg.WorkerConcurrency, logger)

	app := httpserv.New(sqlDB, rdb, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	queueName := queue.QueueName(dispatcher.Collection())
	for i := 0; i < cfg.WorkerConcurrency; i++ {
		g.Go(func() error {
			return consumer.Consume(gctx, queueName, func(ctx context.Context, msg queue.WriteEventMessage) error {
				return dispatcher.Dispatch(ctx, msg.Event())
			})
		})
	}

	g.Go(func() error {
		return app.Listen(fmt.Sprintf(":%d", cfg.HTTPPort))
	})

	g.Go(func() error {
		<-gctx.Done()
		return app.Shutdown()
	})

	logger.Info("pushledger engine started",
		zap.Int("port", cfg.HTTPPort),
		zap.Int("workers", cfg.WorkerConcurrency),
		zap.String("queue", queueName),
	)

	if err := g.Wait(); err != nil {
		logger.Fatal("engine terminated", zap.Error(err))
	}

	logger.Info("pushledger engine stopped")
}
