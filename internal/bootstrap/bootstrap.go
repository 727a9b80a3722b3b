// Package bootstrap wires the shared process dependencies of the services
// and the CLI from a loaded config.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/drfirst/labinsight/internal/config"
	"github.com/drfirst/labinsight/internal/history"
	"github.com/drfirst/labinsight/internal/infrastructure/postgres"
	"github.com/drfirst/labinsight/internal/infrastructure/redpanda"
	"github.com/drfirst/labinsight/internal/observability/metrics"
	"github.com/drfirst/labinsight/internal/observability/tracing"
	"github.com/drfirst/labinsight/pkg/circuitbreaker"
)

// Breaker names
const (
	BreakerHistory  = "history"
	BreakerRedpanda = "redpanda"
)

// BreakerConfig returns the default config for name with state changes
// reported to m
func BreakerConfig(name string, m *metrics.Metrics) circuitbreaker.Config {
	cfg := circuitbreaker.DefaultConfig(name)
	cfg.OnStateChange = func(name string, to circuitbreaker.State) {
		m.ObserveBreakerState(name, to.Level())
	}
	return cfg
}

// Tracing initializes the trace provider for service
func Tracing(ctx context.Context, cfg *config.Config, service string) (*tracing.Provider, error) {
	tcfg := tracing.DefaultConfig(service)
	tcfg.Enabled = cfg.TracingEnabled
	tcfg.Environment = cfg.Environment
	tcfg.OTLPEndpoint = cfg.OTLPEndpoint
	provider, err := tracing.Init(ctx, tcfg)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	return provider, nil
}

// OpenPool connects to Postgres and verifies the connection
func OpenPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// History is the history store of a process and its database pool. Pool
// is nil for the in-memory store.
type History struct {
	Store history.Store
	Pool  *pgxpool.Pool
}

// Ping checks the database, or succeeds for the in-memory store
func (h *History) Ping(ctx context.Context) error {
	if h.Pool == nil {
		return nil
	}
	return h.Pool.Ping(ctx)
}

// Close releases the database pool
func (h *History) Close() {
	if h.Pool != nil {
		h.Pool.Close()
	}
}

// OpenHistory builds the history store behind the history breaker. With a
// database configured the schema is migrated and panels are stored in
// Postgres with their events in the outbox; otherwise history is kept in
// memory.
func OpenHistory(ctx context.Context, cfg *config.Config, breakers *circuitbreaker.Manager, m *metrics.Metrics, logger *zap.Logger) (*History, error) {
	bcfg := BreakerConfig(BreakerHistory, m)
	bcfg.Ignore = history.IsClientError
	cb, err := breakers.GetOrCreate(BreakerHistory, bcfg)
	if err != nil {
		return nil, err
	}

	if !cfg.HasDatabase() {
		logger.Warn("DATABASE_URL not set, keeping history in memory")
		return &History{Store: history.NewGuardedStore(history.NewMemoryStore(), cb)}, nil
	}

	if err := postgres.Migrate(ctx, cfg.DatabaseURL); err != nil {
		return nil, err
	}
	pool, err := OpenPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store := postgres.NewHistoryStore(pool, postgres.HistoryConfig{EventTopics: redpanda.EventTopics()}, logger)
	logger.Info("history stored in postgres")
	return &History{Store: history.NewGuardedStore(store, cb), Pool: pool}, nil
}
