package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"logpipe/config"
	"logpipe/internal/messaging/consumer"
	"logpipe/internal/metrics"
	"logpipe/internal/models"
	"logpipe/processing/transform"
	"logpipe/storage/store"
)

// ErrInvalidMessage marks messages that can never be processed. They are
// acknowledged and dropped instead of redelivered.
var ErrInvalidMessage = errors.New("invalid message")

// consumeTimeout bounds one Consume call so the loop notices cancellation.
const consumeTimeout = 100 * time.Millisecond

// Worker turns queued log messages into stored ProcessedLog records
type Worker struct {
	workerConfig config.WorkerConfig
	logger       *log.Entry
	store        store.Store
	consumer     consumer.Consumer
	transformer  transform.Transformer
	clock        clock.Clock
}

// Option configures a Worker.
type Option func(*Worker)

// WithClock sets the clock used for timing and retry back-off.
func WithClock(c clock.Clock) Option {
	return func(w *Worker) { w.clock = c }
}

// New creates a new Worker instance. c may be nil for a worker that only
// serves push deliveries through Process.
func New(cfg config.WorkerConfig, logger *log.Entry, s store.Store, c consumer.Consumer, t transform.Transformer, opts ...Option) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.ConsumerRetryDelay <= 0 {
		cfg.ConsumerRetryDelay = 5 * time.Second
	}

	w := &Worker{
		workerConfig: cfg,
		logger:       logger,
		store:        s,
		consumer:     c,
		transformer:  t,
		clock:        clock.RealClock{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run starts the worker pool and blocks until ctx is cancelled or the
// consumer is closed.
func (w *Worker) Run(ctx context.Context) {
	if w.consumer == nil {
		w.logger.Warn("Worker has no consumer, nothing to run")
		return
	}

	w.logger.Infof("Starting worker pool with concurrency: %d", w.workerConfig.Concurrency)
	var wg sync.WaitGroup
	for i := 0; i < w.workerConfig.Concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			entry := w.logger.WithField("worker", workerID)
			entry.Debug("Worker started")
			w.consumeLoop(ctx, entry)
			entry.Debug("Worker stopped")
		}(i + 1)
	}
	wg.Wait()
	w.logger.Info("Worker pool stopped.")
}

// consumeLoop is the main loop for a worker goroutine
func (w *Worker) consumeLoop(ctx context.Context, logger *log.Entry) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		consumeCtx, consumeCancel := context.WithTimeout(ctx, consumeTimeout)
		d, err := w.consumer.Consume(consumeCtx)
		consumeCancel()

		if err != nil {
			switch {
			case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
				continue
			case errors.Is(err, consumer.ErrClosed):
				logger.Info("Consumer closed, stopping")
				return
			case errors.Is(err, consumer.ErrMalformedMessage):
				// Already acknowledged by the consumer.
				logger.WithError(err).Error("Dropped undecodable message")
				metrics.RecordProcessed(metrics.OutcomeDiscarded)
				continue
			}
			logger.WithError(err).Error("Consumer error")
			select {
			case <-ctx.Done():
				return
			case <-w.clock.After(w.workerConfig.ConsumerRetryDelay):
			}
			continue
		}

		w.handleDelivery(ctx, logger, d)
	}
}

// handleDelivery processes one delivery and settles it. The delivery is
// only acknowledged after the record is written.
func (w *Worker) handleDelivery(ctx context.Context, logger *log.Entry, d *consumer.Delivery) {
	entry := logger.WithFields(log.Fields{
		"message_id": d.MessageID,
		"attempt":    d.Attempt,
	})
	if d.Message != nil {
		entry = entry.WithFields(log.Fields{
			"tenant_id": d.Message.TenantID,
			"log_id":    d.Message.LogID,
		})
	}
	metrics.RecordDelivery(d.Attempt)

	rec, err := w.Process(ctx, d.Message)
	switch {
	case err == nil:
		d.Ack()
		metrics.RecordProcessed(metrics.OutcomeWritten)
		entry.WithField("processing_time_seconds", rec.ProcessingTimeSeconds).Info("Processed log")
	case errors.Is(err, ErrInvalidMessage):
		d.Ack()
		metrics.RecordProcessed(metrics.OutcomeDiscarded)
		entry.WithError(err).Error("Discarding invalid message")
	default:
		metrics.RecordProcessed(metrics.OutcomeFailed)
		if w.workerConfig.ShouldNack() {
			d.Nack()
			entry.WithError(err).Error("Processing failed, requested redelivery")
		} else {
			entry.WithError(err).Error("Processing failed, leaving delivery to expire")
		}
	}
}

// Process validates, transforms and stores one message. Errors wrapping
// ErrInvalidMessage are permanent; anything else may succeed on redelivery.
func (w *Worker) Process(ctx context.Context, msg *models.LogMessage) (*models.ProcessedLog, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: empty delivery", ErrInvalidMessage)
	}
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}

	tenant, err := store.ForTenant(w.store, msg.TenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}

	start := w.clock.Now()
	modified, err := w.transformer.Transform(ctx, msg.Text)
	elapsed := w.clock.Since(start)
	if err != nil {
		if errors.Is(err, transform.ErrTextTooLong) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
		}
		return nil, fmt.Errorf("transform failed: %w", err)
	}
	metrics.RecordTransformTime(elapsed)

	rec := &models.ProcessedLog{
		TenantID:              msg.TenantID,
		LogID:                 msg.LogID,
		Source:                msg.SourceOrDefault(),
		OriginalText:          msg.Text,
		ModifiedData:          modified,
		ProcessedAt:           w.clock.Now().UTC(),
		ProcessingTimeSeconds: elapsed.Seconds(),
		TextLength:            utf8.RuneCountInString(msg.Text),
	}
	if err := tenant.Write(ctx, msg.LogID, rec); err != nil {
		return nil, fmt.Errorf("failed to store processed log: %w", err)
	}
	return rec, nil
}
