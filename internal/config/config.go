// Package config loads service settings from the environment and the
// analytics tables from YAML.
package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/drfirst/labinsight/internal/analysis"
)

//go:embed configs/analytics.yaml
var defaultAnalytics []byte

// Config holds process settings shared by the services and the CLI
type Config struct {
	Port            string   `mapstructure:"PORT"`
	DatabaseURL     string   `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32    `mapstructure:"DB_MAX_CONNS"`
	KafkaBrokers    []string `mapstructure:"KAFKA_BROKERS"`
	LogLevel        string   `mapstructure:"LOG_LEVEL"`
	OTLPEndpoint    string   `mapstructure:"OTLP_ENDPOINT"`
	TracingEnabled  bool     `mapstructure:"TRACING_ENABLED"`
	AnalyticsConfig string   `mapstructure:"ANALYTICS_CONFIG"`
	WorkerCount     int      `mapstructure:"WORKER_COUNT"`
	Environment     string   `mapstructure:"ENV"`
}

// Load reads the configuration from the environment. An empty DATABASE_URL
// selects the in-memory history store.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("OTLP_ENDPOINT", "localhost:4317")
	v.SetDefault("TRACING_ENABLED", false)
	v.SetDefault("WORKER_COUNT", 8)
	v.SetDefault("ENV", "development")

	for _, key := range []string{
		"PORT", "DATABASE_URL", "DB_MAX_CONNS", "KAFKA_BROKERS", "LOG_LEVEL",
		"OTLP_ENDPOINT", "TRACING_ENABLED", "ANALYTICS_CONFIG", "WORKER_COUNT", "ENV",
	} {
		_ = v.BindEnv(key)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// a comma separated env value arrives as a single element
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail late
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.WorkerCount <= 0 {
		return fmt.Errorf("WORKER_COUNT must be positive, got %d", c.WorkerCount)
	}
	if c.TracingEnabled && c.OTLPEndpoint == "" {
		return fmt.Errorf("OTLP_ENDPOINT is required when TRACING_ENABLED is true")
	}
	return nil
}

// HasDatabase reports whether a Postgres connection is configured
func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}

// IsDev returns true when running in development mode
func (c *Config) IsDev() bool {
	return c.Environment == "development"
}

// NewLogger builds the process logger for the configured level
func (c *Config) NewLogger() (*zap.Logger, error) {
	if strings.EqualFold(c.LogLevel, "debug") {
		return zap.NewDevelopment()
	}

	zcfg := zap.NewProductionConfig()
	level, err := zap.ParseAtomicLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		return nil, fmt.Errorf("parse LOG_LEVEL: %w", err)
	}
	zcfg.Level = level
	return zcfg.Build()
}

// LoadAnalytics returns the embedded analytics tables, with top-level keys
// replaced by those of the YAML file at path when path is not empty.
func LoadAnalytics(path string) (analysis.Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaultAnalytics)); err != nil {
		return analysis.Config{}, fmt.Errorf("read embedded analytics config: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return analysis.Config{}, fmt.Errorf("merge analytics config %s: %w", path, err)
		}
	}

	var cfg analysis.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return analysis.Config{}, fmt.Errorf("unmarshal analytics config: %w", err)
	}
	return cfg, nil
}

// NewEngine loads the analytics tables and builds the engine
func NewEngine(path string) (*analysis.Engine, error) {
	cfg, err := LoadAnalytics(path)
	if err != nil {
		return nil, err
	}
	engine, err := analysis.NewEngine(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid analytics config: %w", err)
	}
	return engine, nil
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
