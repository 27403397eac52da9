package producer

import (
	"context"
	"errors"

	"logpipe/internal/models"
)

// ErrClosed is returned when publishing to a closed producer.
var ErrClosed = errors.New("producer closed")

// Producer defines the interface for message queue producer
type Producer interface {
	// Publish sends a single log message and returns once the queue has
	// accepted it.
	Publish(ctx context.Context, msg *models.LogMessage) error

	// PublishBatch sends log messages in batch. It returns an error if any
	// message was not accepted. Messages accepted before the failure are not
	// withdrawn.
	PublishBatch(ctx context.Context, msgs []*models.LogMessage) error

	// Close closes the producer connection
	Close() error
}
