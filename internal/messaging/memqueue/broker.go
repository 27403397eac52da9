// Package memqueue is an in-process queue with ack deadlines. It backs the
// single-binary mode and tests; messages do not survive a restart.
package memqueue

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"logpipe/internal/messaging/consumer"
	"logpipe/internal/messaging/producer"
	"logpipe/internal/models"
)

type entry struct {
	id       string
	msg      models.LogMessage
	attempts int
	lease    uint64
	deadline time.Time
}

// Stats is a snapshot of the broker's queues.
type Stats struct {
	Ready      int
	InFlight   int
	DeadLetter int
}

// Broker holds ready, in-flight and dead-lettered messages. A leased
// message that is not settled before its deadline becomes ready again.
type Broker struct {
	mu          sync.Mutex
	clock       clock.Clock
	ackDeadline time.Duration
	maxAttempts int
	logger      *log.Entry

	ready    []*entry
	inflight map[string]*entry
	dead     []*entry
	leases   uint64
	entropy  *ulid.MonotonicEntropy

	signal    chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

// Option configures a Broker.
type Option func(*Broker)

// WithClock replaces the wall clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(b *Broker) { b.clock = c }
}

// WithMaxAttempts dead-letters messages after n deliveries. Zero means unlimited.
func WithMaxAttempts(n int) Option {
	return func(b *Broker) { b.maxAttempts = n }
}

// NewBroker creates an empty broker with the given ack deadline.
func NewBroker(ackDeadline time.Duration, logger *log.Entry, opts ...Option) *Broker {
	b := &Broker{
		clock:       clock.RealClock{},
		ackDeadline: ackDeadline,
		logger:      logger,
		inflight:    make(map[string]*entry),
		entropy:     ulid.Monotonic(rand.Reader, 0),
		signal:      make(chan struct{}, 1),
		closed:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Broker) isClosed() bool {
	select {
	case <-b.closed:
		return true
	default:
		return false
	}
}

func (b *Broker) notify() {
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// Publish enqueues a copy of msg.
func (b *Broker) Publish(ctx context.Context, msg *models.LogMessage) error {
	return b.PublishBatch(ctx, []*models.LogMessage{msg})
}

// PublishBatch enqueues copies of msgs atomically.
func (b *Broker) PublishBatch(ctx context.Context, msgs []*models.LogMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	if b.isClosed() {
		b.mu.Unlock()
		return producer.ErrClosed
	}
	now := b.clock.Now()
	for _, msg := range msgs {
		id := ulid.MustNew(ulid.Timestamp(now), b.entropy).String()
		b.ready = append(b.ready, &entry{id: id, msg: *msg})
	}
	b.mu.Unlock()
	b.notify()
	return nil
}

// Consume leases the oldest ready message, waiting for one if necessary.
func (b *Broker) Consume(ctx context.Context) (*consumer.Delivery, error) {
	for {
		b.mu.Lock()
		if b.isClosed() {
			b.mu.Unlock()
			return nil, consumer.ErrClosed
		}
		now := b.clock.Now()
		b.expireLocked(now)
		if d := b.leaseLocked(now); d != nil {
			more := len(b.ready) > 0
			b.mu.Unlock()
			if more {
				b.notify()
			}
			return d, nil
		}
		wait := b.nextDeadlineLocked(now)
		b.mu.Unlock()

		var timer clock.Timer
		var timeout <-chan time.Time
		if wait > 0 {
			timer = b.clock.NewTimer(wait)
			timeout = timer.C()
		}

		var err error
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-b.closed:
			err = consumer.ErrClosed
		case <-b.signal:
		case <-timeout:
		}
		if timer != nil {
			timer.Stop()
		}
		if err != nil {
			return nil, err
		}
	}
}

// expireLocked returns in-flight messages whose deadline passed to the
// front of the ready queue.
func (b *Broker) expireLocked(now time.Time) {
	var expired []*entry
	for id, e := range b.inflight {
		if !now.Before(e.deadline) {
			delete(b.inflight, id)
			expired = append(expired, e)
		}
	}
	if len(expired) == 0 {
		return
	}
	for _, e := range expired {
		b.logger.WithFields(log.Fields{
			"message_id": e.id,
			"log_id":     e.msg.LogID,
			"attempt":    e.attempts,
		}).Warn("Ack deadline expired, message will be redelivered")
	}
	b.ready = append(expired, b.ready...)
}

func (b *Broker) leaseLocked(now time.Time) *consumer.Delivery {
	for len(b.ready) > 0 {
		e := b.ready[0]
		b.ready = b.ready[1:]

		if b.maxAttempts > 0 && e.attempts >= b.maxAttempts {
			b.logger.WithFields(log.Fields{
				"message_id": e.id,
				"log_id":     e.msg.LogID,
				"attempts":   e.attempts,
			}).Error("Delivery attempts exhausted, moving message to dead letter")
			b.dead = append(b.dead, e)
			continue
		}

		b.leases++
		e.attempts++
		e.lease = b.leases
		e.deadline = now.Add(b.ackDeadline)
		b.inflight[e.id] = e

		msg := e.msg
		lease := e.lease
		id := e.id
		return consumer.NewDelivery(&msg, id, e.attempts, func(success bool) {
			b.settle(id, lease, success)
		})
	}
	return nil
}

func (b *Broker) settle(id string, lease uint64, success bool) {
	b.mu.Lock()
	e, ok := b.inflight[id]
	if !ok || e.lease != lease {
		// The lease expired and the message was handed out again.
		b.mu.Unlock()
		b.logger.WithField("message_id", id).Debug("Ignoring settle for a stale lease")
		return
	}
	delete(b.inflight, id)
	if !success {
		b.ready = append(b.ready, e)
	}
	b.mu.Unlock()
	if !success {
		b.notify()
	}
}

func (b *Broker) nextDeadlineLocked(now time.Time) time.Duration {
	var next time.Duration
	for _, e := range b.inflight {
		d := e.deadline.Sub(now)
		if next == 0 || d < next {
			next = d
		}
	}
	return next
}

// Stats returns the current queue sizes.
func (b *Broker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{Ready: len(b.ready), InFlight: len(b.inflight), DeadLetter: len(b.dead)}
}

// DeadLetters returns copies of the dead-lettered messages.
func (b *Broker) DeadLetters() []models.LogMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.LogMessage, 0, len(b.dead))
	for _, e := range b.dead {
		out = append(out, e.msg)
	}
	return out
}

// Close wakes all waiting consumers. Further calls are no-ops.
func (b *Broker) Close() error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		close(b.closed)
		b.mu.Unlock()
	})
	return nil
}

var (
	_ producer.Producer = (*Broker)(nil)
	_ consumer.Consumer = (*Broker)(nil)
)
