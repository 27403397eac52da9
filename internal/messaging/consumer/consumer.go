package consumer

import (
	"context"
	"errors"
	"sync"

	"logpipe/internal/models"
)

var (
	// ErrMalformedMessage reports a payload that could not be decoded. The
	// consumer has already acknowledged it so it is not delivered again.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrClosed is returned by Consume after Close.
	ErrClosed = errors.New("consumer closed")
)

// Consumer defines the interface for message queue consumers.
type Consumer interface {
	// Consume blocks until a delivery is available or the context is cancelled.
	// Every returned delivery must be settled with Ack or Nack; a delivery
	// that is never settled is redelivered once the ack deadline passes.
	Consume(ctx context.Context) (*Delivery, error)

	// Close gracefully shuts down the consumer connection.
	Close() error
}

// Delivery is one handout of a queued message.
type Delivery struct {
	Message *models.LogMessage

	// MessageID is the queue's identifier for the message, stable across
	// redeliveries.
	MessageID string

	// Attempt is the 1-based delivery count, or 0 if the backend does not
	// track it.
	Attempt int

	settle func(success bool)
	once   sync.Once
}

// NewDelivery wraps a message and the backend's settle callback:
// settle(true) removes the message, settle(false) makes it available again.
func NewDelivery(msg *models.LogMessage, messageID string, attempt int, settle func(success bool)) *Delivery {
	return &Delivery{
		Message:   msg,
		MessageID: messageID,
		Attempt:   attempt,
		settle:    settle,
	}
}

// Ack confirms the message was fully processed. Only the first of Ack or
// Nack has an effect.
func (d *Delivery) Ack() {
	d.finish(true)
}

// Nack asks for the message to be redelivered without waiting for the
// ack deadline.
func (d *Delivery) Nack() {
	d.finish(false)
}

func (d *Delivery) finish(success bool) {
	d.once.Do(func() {
		if d.settle != nil {
			d.settle(success)
		}
	})
}
