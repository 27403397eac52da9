package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	log "github.com/sirupsen/logrus"

	"logpipe/internal/models"
)

// PubSubSettings tunes the streaming pull behind PubSubConsumer.
type PubSubSettings struct {
	// AckDeadline caps how long the client keeps extending an unsettled
	// message. After that the server redelivers it.
	AckDeadline            time.Duration
	MaxOutstandingMessages int
	NumGoroutines          int
}

// PubSubConsumer adapts Subscription.Receive to the pull-style Consumer
// interface. Messages are handed to Consume callers one at a time; the
// client library keeps their leases alive until they are settled or
// AckDeadline passes.
type PubSubConsumer struct {
	sub    *pubsub.Subscription
	logger *log.Entry

	deliveries chan *Delivery
	cancel     context.CancelFunc
	done       chan struct{}

	mu         sync.Mutex
	receiveErr error
}

// NewPubSubConsumer starts receiving from subscriptionID. The client is
// owned by the caller.
func NewPubSubConsumer(client *pubsub.Client, subscriptionID string, settings PubSubSettings, logger *log.Entry) *PubSubConsumer {
	sub := client.Subscription(subscriptionID)
	sub.ReceiveSettings.MaxExtension = settings.AckDeadline
	if settings.MaxOutstandingMessages > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = settings.MaxOutstandingMessages
	}
	if settings.NumGoroutines > 0 {
		sub.ReceiveSettings.NumGoroutines = settings.NumGoroutines
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &PubSubConsumer{
		sub:        sub,
		logger:     logger,
		deliveries: make(chan *Delivery),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go c.receive(ctx)

	logger.Infof("Pub/Sub consumer started on %s (max extension %s)", sub.String(), settings.AckDeadline)
	return c
}

func (c *PubSubConsumer) receive(ctx context.Context) {
	defer close(c.done)

	err := c.sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		entry := c.logger.WithField("message_id", m.ID)

		var msg models.LogMessage
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			entry.WithError(err).Error("Failed to deserialize message, discarding")
			m.Ack()
			return
		}

		attempt := 0
		if m.DeliveryAttempt != nil {
			attempt = *m.DeliveryAttempt
		}
		d := NewDelivery(&msg, m.ID, attempt, func(success bool) {
			if success {
				m.Ack()
			} else {
				m.Nack()
			}
		})

		// Returning without settling is fine: the message stays
		// outstanding until the Consume caller acks or nacks it.
		select {
		case c.deliveries <- d:
		case <-ctx.Done():
			m.Nack()
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.WithError(err).Error("Pub/Sub receive stopped")
		c.mu.Lock()
		c.receiveErr = err
		c.mu.Unlock()
	}
}

// Consume implements the Consumer interface
func (c *PubSubConsumer) Consume(ctx context.Context) (*Delivery, error) {
	select {
	case d := <-c.deliveries:
		return d, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.receiveErr != nil {
			return nil, c.receiveErr
		}
		return nil, ErrClosed
	}
}

// Close stops receiving and waits for the receive loop to exit.
func (c *PubSubConsumer) Close() error {
	c.logger.Info("Closing Pub/Sub consumer...")
	c.cancel()
	<-c.done
	return nil
}

var _ Consumer = (*PubSubConsumer)(nil)
