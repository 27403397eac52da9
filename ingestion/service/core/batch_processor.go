package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"logpipe/internal/messaging/producer"
	"logpipe/internal/models"
)

// publishTimeout bounds one batch publish. Callers stop waiting earlier if
// their own context ends.
const publishTimeout = 30 * time.Second

// BatchProcessor coalesces single submissions into batch publishes. Every
// submitter waits for the result of the batch its message went out in.
type BatchProcessor struct {
	batchSize    int
	batchTimeout time.Duration
	logger       *log.Entry
	producer     producer.Producer

	// Buffers
	buffer      []*batchEntry
	bufferMutex sync.Mutex
	closed      bool

	// Unbuffered: a send only succeeds while batchProcessor is receiving.
	flushChan chan []*batchEntry

	// Context for graceful shutdown
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type batchEntry struct {
	msg    *models.LogMessage
	result chan error
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(batchSize int, batchTimeout time.Duration, producer producer.Producer, logger *log.Entry) *BatchProcessor {
	if batchSize <= 0 {
		batchSize = 100
	}
	if batchTimeout <= 0 {
		batchTimeout = 5 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	bp := &BatchProcessor{
		batchSize:    batchSize,
		batchTimeout: batchTimeout,
		logger:       logger,
		producer:     producer,
		buffer:       make([]*batchEntry, 0, batchSize),
		flushChan:    make(chan []*batchEntry),
		ctx:          ctx,
		cancel:       cancel,
	}

	// Start background goroutines
	bp.wg.Add(2)
	go bp.batchTimer()
	go bp.batchProcessor()

	return bp
}

// Submit queues msg for the next batch and waits for that batch's publish
// result. If ctx ends while msg is still buffered it is withdrawn and
// ctx.Err() is returned. If its batch is already being published the
// result is ErrPublishUnconfirmed.
func (bp *BatchProcessor) Submit(ctx context.Context, msg *models.LogMessage) error {
	entry := &batchEntry{msg: msg, result: make(chan error, 1)}

	bp.bufferMutex.Lock()
	if bp.closed {
		bp.bufferMutex.Unlock()
		return producer.ErrClosed
	}
	bp.buffer = append(bp.buffer, entry)
	var full []*batchEntry
	if len(bp.buffer) >= bp.batchSize {
		full = bp.takeBufferLocked()
	}
	bp.bufferMutex.Unlock()

	if full != nil {
		bp.dispatch(full)
	}

	select {
	case err := <-entry.result:
		return err
	case <-ctx.Done():
	}

	bp.bufferMutex.Lock()
	for i, e := range bp.buffer {
		if e == entry {
			bp.buffer = append(bp.buffer[:i], bp.buffer[i+1:]...)
			bp.bufferMutex.Unlock()
			return ctx.Err()
		}
	}
	bp.bufferMutex.Unlock()

	return fmt.Errorf("%w: %v", ErrPublishUnconfirmed, ctx.Err())
}

// batchTimer handles periodic flushing
func (bp *BatchProcessor) batchTimer() {
	defer bp.wg.Done()

	ticker := time.NewTicker(bp.batchTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			bp.bufferMutex.Lock()
			batch := bp.takeBufferLocked()
			bp.bufferMutex.Unlock()
			if len(batch) > 0 {
				bp.dispatch(batch)
			}
		case <-bp.ctx.Done():
			return
		}
	}
}

// batchProcessor handles actual batch processing
func (bp *BatchProcessor) batchProcessor() {
	defer bp.wg.Done()

	for {
		select {
		case batch := <-bp.flushChan:
			bp.processBatch(batch)
		case <-bp.ctx.Done():
			// Process remaining buffer before shutdown
			bp.bufferMutex.Lock()
			remaining := bp.takeBufferLocked()
			bp.bufferMutex.Unlock()

			if len(remaining) > 0 {
				bp.processBatch(remaining)
			}
			return
		}
	}
}

// dispatch hands a batch to batchProcessor, or publishes it directly when
// the processor is shutting down.
func (bp *BatchProcessor) dispatch(batch []*batchEntry) {
	select {
	case bp.flushChan <- batch:
	case <-bp.ctx.Done():
		bp.processBatch(batch)
	}
}

// takeBufferLocked returns the buffered entries and resets the buffer.
func (bp *BatchProcessor) takeBufferLocked() []*batchEntry {
	if len(bp.buffer) == 0 {
		return nil
	}
	batch := bp.buffer
	bp.buffer = make([]*batchEntry, 0, bp.batchSize)
	return batch
}

// processBatch publishes a batch and reports the result to every submitter.
func (bp *BatchProcessor) processBatch(batch []*batchEntry) {
	if len(batch) == 0 {
		return
	}

	msgs := make([]*models.LogMessage, len(batch))
	for i, e := range batch {
		msgs[i] = e.msg
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	start := time.Now()
	err := bp.producer.PublishBatch(ctx, msgs)
	if err != nil {
		bp.logger.WithError(err).Errorf("Batch publish failed: %d logs", len(batch))
	} else {
		bp.logger.Debugf("Batch published: %d logs in %v", len(batch), time.Since(start))
	}

	for _, e := range batch {
		e.result <- err
	}
}

// Close publishes whatever is buffered and stops the background goroutines.
func (bp *BatchProcessor) Close() {
	bp.bufferMutex.Lock()
	bp.closed = true
	bp.bufferMutex.Unlock()

	bp.cancel()
	bp.wg.Wait()
}
