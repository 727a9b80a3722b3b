// Package redpanda provides Kafka-compatible streaming with franz-go: the
// report producer, the panel consumer and topic administration.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// HeaderProducer names the client that wrote a record
const HeaderProducer = "producer"

// ProducerConfig holds configuration for the Redpanda producer
type ProducerConfig struct {
	Brokers []string
	// ClientID is sent to the brokers and written to every record as the
	// producer header
	ClientID           string
	BatchMaxBytes      int32
	Linger             time.Duration
	MaxBufferedRecords int
	// Compression is one of none, lz4, snappy, gzip or zstd
	Compression string
	// AllAcks waits for every in-sync replica; otherwise the leader acks
	AllAcks      bool
	MaxRetries   int
	RetryBackoff time.Duration
	// CloseTimeout bounds the final flush in Close
	CloseTimeout time.Duration
}

// DefaultProducerConfig returns defaults for report publishing
func DefaultProducerConfig() ProducerConfig {
	return ProducerConfig{
		Brokers:            []string{"localhost:9092"},
		ClientID:           "labinsight",
		BatchMaxBytes:      1 << 20,
		Linger:             10 * time.Millisecond,
		MaxBufferedRecords: 10_000,
		Compression:        "lz4",
		AllAcks:            true,
		MaxRetries:         3,
		RetryBackoff:       100 * time.Millisecond,
		CloseTimeout:       30 * time.Second,
	}
}

var codecs = map[string]kgo.CompressionCodec{
	"none":   kgo.NoCompression(),
	"lz4":    kgo.Lz4Compression(),
	"snappy": kgo.SnappyCompression(),
	"gzip":   kgo.GzipCompression(),
	"zstd":   kgo.ZstdCompression(),
}

// ProducedCounter is notified once per acknowledged record
type ProducedCounter interface {
	IncProduced()
}

// Producer publishes records to Redpanda
type Producer struct {
	client  *kgo.Client
	config  ProducerConfig
	counter ProducedCounter
	logger  *zap.Logger
	tracer  trace.Tracer

	sent   atomic.Int64
	bytes  atomic.Int64
	failed atomic.Int64
}

// producerOpts translates cfg into kgo client options
func producerOpts(cfg ProducerConfig) ([]kgo.Opt, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	codec, ok := codecs[cfg.Compression]
	if cfg.Compression == "" {
		codec, ok = kgo.NoCompression(), true
	}
	if !ok {
		return nil, fmt.Errorf("unknown compression %q", cfg.Compression)
	}

	backoff := cfg.RetryBackoff
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ProducerBatchMaxBytes(cfg.BatchMaxBytes),
		kgo.ProducerLinger(cfg.Linger),
		kgo.MaxBufferedRecords(cfg.MaxBufferedRecords),
		kgo.RecordRetries(cfg.MaxRetries),
		kgo.RetryBackoffFn(func(attempt int) time.Duration {
			return backoff * time.Duration(attempt+1)
		}),
		kgo.ProducerBatchCompression(codec),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	if cfg.AllAcks {
		opts = append(opts, kgo.RequiredAcks(kgo.AllISRAcks()))
	} else {
		opts = append(opts, kgo.RequiredAcks(kgo.LeaderAck()), kgo.DisableIdempotentWrite())
	}
	return opts, nil
}

// NewProducer creates a new Redpanda producer. counter may be nil.
func NewProducer(cfg ProducerConfig, counter ProducedCounter, logger *zap.Logger) (*Producer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts, err := producerOpts(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid producer config: %w", err)
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	return &Producer{
		client:  client,
		config:  cfg,
		counter: counter,
		logger:  logger,
		tracer:  otel.Tracer("redpanda-producer"),
	}, nil
}

// newRecord builds a record carrying the trace context of ctx and the
// producer header
func (p *Producer) newRecord(ctx context.Context, topic, key string, value []byte) *kgo.Record {
	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	}
	if p.config.ClientID != "" {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: HeaderProducer, Value: []byte(p.config.ClientID)})
	}
	injectTraceHeaders(ctx, record)
	return record
}

// Publish sends one record and waits for its acknowledgment
func (p *Producer) Publish(ctx context.Context, topic, key string, value []byte) error {
	ctx, span := p.tracer.Start(ctx, "produce_message",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.destination", topic),
			attribute.Int("messaging.message.body.size", len(value)),
		))
	defer span.End()

	record := p.newRecord(ctx, topic, key, value)
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		p.failed.Add(1)
		p.logger.Error("failed to produce message",
			zap.String("topic", topic),
			zap.Error(err))
		span.RecordError(err)
		return fmt.Errorf("produce to %s: %w", topic, err)
	}

	p.sent.Add(1)
	p.bytes.Add(int64(len(value)))
	if p.counter != nil {
		p.counter.IncProduced()
	}
	span.SetAttributes(
		attribute.Int64("messaging.kafka.partition", int64(record.Partition)),
		attribute.Int64("messaging.kafka.offset", record.Offset),
	)
	p.logger.Debug("message produced",
		zap.String("topic", record.Topic),
		zap.Int32("partition", record.Partition),
		zap.Int64("offset", record.Offset))
	return nil
}

// PublishJSON marshals v and publishes it
func (p *Producer) PublishJSON(ctx context.Context, topic, key string, v any) error {
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message for %s: %w", topic, err)
	}
	return p.Publish(ctx, topic, key, value)
}

// Ping checks broker connectivity
func (p *Producer) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Flush blocks until all buffered records are sent
func (p *Producer) Flush(ctx context.Context) error {
	if err := p.client.Flush(ctx); err != nil {
		return fmt.Errorf("flush failed: %w", err)
	}
	return nil
}

// Close flushes within CloseTimeout and closes the client
func (p *Producer) Close() error {
	timeout := p.config.CloseTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := p.Flush(ctx)
	if err != nil {
		p.logger.Warn("error flushing on close", zap.Error(err))
	}
	p.client.Close()
	p.logger.Info("producer closed", zap.Any("stats", p.Stats()))
	return err
}

// ProducerStats holds producer statistics
type ProducerStats struct {
	MessagesSent int64 `json:"messages_sent"`
	BytesSent    int64 `json:"bytes_sent"`
	Errors       int64 `json:"errors"`
}

// Stats returns current producer statistics
func (p *Producer) Stats() ProducerStats {
	return ProducerStats{
		MessagesSent: p.sent.Load(),
		BytesSent:    p.bytes.Load(),
		Errors:       p.failed.Load(),
	}
}
