// Package main provides the outbox relay service entry point.
// Publishes the lab events written to the outbox by the history store.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/drfirst/labinsight/internal/bootstrap"
	"github.com/drfirst/labinsight/internal/config"
	"github.com/drfirst/labinsight/internal/infrastructure/postgres"
	"github.com/drfirst/labinsight/internal/infrastructure/redpanda"
	"github.com/drfirst/labinsight/internal/observability/metrics"
)

const serviceName = "outbox-relay"

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("invalid configuration", zap.Error(err))
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		zap.NewExample().Fatal("failed to build logger", zap.Error(err))
	}
	defer logger.Sync()

	if !cfg.HasDatabase() {
		logger.Fatal("DATABASE_URL is required by the outbox relay")
	}

	ctx := context.Background()

	provider, err := bootstrap.Tracing(ctx, cfg, serviceName)
	if err != nil {
		logger.Fatal("tracing setup failed", zap.Error(err))
	}
	defer provider.Shutdown(context.Background())

	if err := postgres.Migrate(ctx, cfg.DatabaseURL); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	pool, err := bootstrap.OpenPool(ctx, cfg)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()

	logger.Info("connected to database")

	m := metrics.New()

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.KafkaBrokers

	producer, err := redpanda.NewProducer(producerCfg, m, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()

	logger.Info("connected to Redpanda", zap.Strings("brokers", cfg.KafkaBrokers))

	outboxCfg := postgres.DefaultOutboxConfig()
	outboxCfg.DeadLetterTopic = redpanda.TopicDeadLetter
	outbox := postgres.NewOutbox(pool, producer, outboxCfg, m, logger)

	outbox.Start()

	server := &http.Server{Addr: ":" + cfg.Port, Handler: metrics.Handler()}
	go func() {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()
	logger.Info("outbox relay started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	outbox.Stop()
	server.Shutdown(context.Background())
	if stats, err := outbox.GetStats(context.Background()); err == nil {
		logger.Info("outbox relay stopped",
			zap.Int64("pending", stats.Pending),
			zap.Int64("processed", stats.Processed),
		)
	}
}
