// Package main provides the analytics API service entry point.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/drfirst/labinsight/internal/api/handlers"
	"github.com/drfirst/labinsight/internal/api/middleware"
	"github.com/drfirst/labinsight/internal/bootstrap"
	"github.com/drfirst/labinsight/internal/config"
	"github.com/drfirst/labinsight/internal/observability/metrics"
	"github.com/drfirst/labinsight/internal/observability/tracing"
	"github.com/drfirst/labinsight/pkg/circuitbreaker"
)

const serviceName = "analytics-api"

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

	analysisHandler := handlers.NewAnalysisHandler(engine, hist.Store, m, logger)
	systemHandler := handlers.NewSystemHandler(tracing.ServiceVersion, breakers, logger,
		handlers.Check{Name: "history", Probe: hist.Ping},
	)

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing(serviceName))

	r.Get("/", systemHandler.Root)
	r.Get("/health", systemHandler.Health)
	r.Get("/ready", systemHandler.Ready)
	r.Handle("/metrics", metrics.Handler())
	r.Mount("/api/v1", analysisHandler.Routes())

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
		if err := provider.Shutdown(ctx); err != nil {
			logger.Error("tracer shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting analytics API",
		zap.String("port", cfg.Port),
		zap.Bool("database", cfg.HasDatabase()),
	)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("server stopped")
}
