// Package main provides the insight worker entry point.
// Consumes lab panels, records them to history and publishes insight reports.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/labinsight/internal/bootstrap"
	"github.com/drfirst/labinsight/internal/config"
	"github.com/drfirst/labinsight/internal/infrastructure/redpanda"
	"github.com/drfirst/labinsight/internal/observability/metrics"
	"github.com/drfirst/labinsight/internal/worker"
	"github.com/drfirst/labinsight/pkg/circuitbreaker"
	"github.com/drfirst/labinsight/pkg/idempotency"
	"github.com/drfirst/labinsight/pkg/workerpool"
)

const serviceName = "analytics-worker"

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

	ctx := context.Background()

	provider, err := bootstrap.Tracing(ctx, cfg, serviceName)
	if err != nil {
		logger.Fatal("tracing setup failed", zap.Error(err))
	}
	defer provider.Shutdown(context.Background())

	engine, err := config.NewEngine(cfg.AnalyticsConfig)
	if err != nil {
		logger.Fatal("analytics config failed", zap.Error(err))
	}

	m := metrics.New()
	breakers := circuitbreaker.NewManager(logger)

	hist, err := bootstrap.OpenHistory(ctx, cfg, breakers, m, logger)
	if err != nil {
		logger.Fatal("history store setup failed", zap.Error(err))
	}
	defer hist.Close()

	// the inbox shares the history database when there is one
	var inboxStore idempotency.Store = idempotency.NewMemoryStore()
	if hist.Pool != nil {
		inboxStore = idempotency.NewPostgresStore(hist.Pool)
	}
	inbox := idempotency.NewInbox(inboxStore, idempotency.DefaultInboxConfig(), logger)
	inbox.StartCleanup()
	defer inbox.Stop()

	admin, err := redpanda.NewAdmin(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.Fatal("redpanda admin failed", zap.Error(err))
	}
	if err := admin.EnsureTopics(ctx); err != nil {
		logger.Warn("could not ensure topics", zap.Error(err))
	}
	admin.Close()

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.KafkaBrokers
	producer, err := redpanda.NewProducer(producerCfg, nil, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()

	publishBreaker, err := breakers.GetOrCreate(bootstrap.BreakerRedpanda, bootstrap.BreakerConfig(bootstrap.BreakerRedpanda, m))
	if err != nil {
		logger.Fatal("circuit breaker creation failed", zap.Error(err))
	}

	processor, err := worker.NewProcessor(worker.DefaultProcessorConfig(), engine, inbox, hist.Store, producer, publishBreaker, m, logger)
	if err != nil {
		logger.Fatal("processor creation failed", zap.Error(err))
	}

	poolCfg := workerpool.DefaultConfig()
	poolCfg.Workers = cfg.WorkerCount
	w, err := worker.NewWorker(processor, poolCfg, logger)
	if err != nil {
		logger.Fatal("worker creation failed", zap.Error(err))
	}
	w.Start()

	consumerCfg := redpanda.DefaultConsumerConfig()
	consumerCfg.Brokers = cfg.KafkaBrokers
	consumer, err := redpanda.NewConsumer(consumerCfg, w.Handle, m, logger)
	if err != nil {
		logger.Fatal("consumer creation failed", zap.Error(err))
	}
	consumer.Start()

	r := chi.NewRouter()
	r.Handle("/metrics", metrics.Handler())
	r.Get("/health", func(rw http.ResponseWriter, req *http.Request) {
		status := http.StatusOK
		if !w.Healthy() || !breakers.Healthy() {
			status = http.StatusServiceUnavailable
		}
		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(status)
		json.NewEncoder(rw).Encode(map[string]interface{}{
			"healthy":          status == http.StatusOK,
			"pool":             w.Stats(),
			"circuit_breakers": breakers.GetHealthStatus(),
		})
	})

	server := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	logger.Info("insight worker started",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.Int("workers", cfg.WorkerCount),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	if err := consumer.Stop(); err != nil {
		logger.Warn("consumer stop error", zap.Error(err))
	}
	if err := w.Stop(); err != nil {
		logger.Warn("worker stop error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := producer.Flush(shutdownCtx); err != nil {
		logger.Warn("producer flush error", zap.Error(err))
	}
	server.Shutdown(shutdownCtx)
	logger.Info("insight worker stopped", zap.Any("stats", w.Stats()))
}
