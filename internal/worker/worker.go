package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/drfirst/labinsight/internal/infrastructure/redpanda"
	"github.com/drfirst/labinsight/pkg/idempotency"
	"github.com/drfirst/labinsight/pkg/workerpool"
)

// submitBackoff is the pause before resubmitting to a full queue
const submitBackoff = 50 * time.Millisecond

// Worker runs the processor on a bounded pool and dead-letters messages
// whose processing failed for good.
type Worker struct {
	processor *Processor
	pool      *workerpool.Pool[*redpanda.ConsumedMessage]
	logger    *zap.Logger
}

// NewWorker creates a worker. Terminal errors are not retried by the pool.
func NewWorker(processor *Processor, cfg workerpool.Config, logger *zap.Logger) (*Worker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Retryable = func(err error) bool {
		return !idempotency.IsTerminal(err) && !errors.Is(err, context.Canceled)
	}

	pool, err := workerpool.New(cfg, func(ctx context.Context, task *workerpool.Task[*redpanda.ConsumedMessage]) (any, error) {
		return nil, processor.Process(ctx, task.Payload)
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	return &Worker{processor: processor, pool: pool, logger: logger}, nil
}

// Start starts the pool workers
func (w *Worker) Start() {
	w.pool.Start()
}

// Handle is a redpanda.MessageHandler. It blocks until the message is
// processed or dead-lettered, so an error means the record stays uncommitted.
func (w *Worker) Handle(ctx context.Context, msg *redpanda.ConsumedMessage) error {
	task := &workerpool.Task[*redpanda.ConsumedMessage]{
		ID:      fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset),
		Payload: msg,
		Context: ctx,
	}

	var (
		result *workerpool.Result
		err    error
	)
	for {
		result, err = w.pool.SubmitWait(ctx, task)
		if !errors.Is(err, workerpool.ErrQueueFull) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(submitBackoff):
		}
	}
	if err != nil {
		return fmt.Errorf("submit message: %w", err)
	}
	if result.Success {
		return nil
	}
	if ctx.Err() != nil {
		return result.Error
	}

	if err := w.processor.DeadLetter(ctx, msg, result.Error); err != nil {
		return err
	}
	return nil
}

// Stats returns the pool statistics
func (w *Worker) Stats() workerpool.Stats {
	return w.pool.Stats()
}

// Healthy reports whether the pool is accepting work
func (w *Worker) Healthy() bool {
	return w.pool.IsHealthy()
}

// Stop drains the pool
func (w *Worker) Stop() error {
	return w.pool.Stop()
}
