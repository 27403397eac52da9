// Package messaging opens the configured durable queue backend and hands out
// its producer and consumers.
package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/avast/retry-go"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/utils/clock"

	"logpipe/config"
	"logpipe/internal/messaging/consumer"
	"logpipe/internal/messaging/memqueue"
	"logpipe/internal/messaging/producer"
	"logpipe/internal/messaging/redisqueue"
)

// Queue owns the connections of one queue backend.
type Queue struct {
	cfg    config.QueueConfig
	logger *log.Entry

	clock         clock.Clock
	pubsubOptions []option.ClientOption

	// shared is set for backends where one object is both producer and
	// consumer (memory, redis).
	shared interface {
		producer.Producer
		consumer.Consumer
	}
	pubsubClient *pubsub.Client

	mu        sync.Mutex
	producer  producer.Producer
	consumers []consumer.Consumer
	closed    bool
}

// Option configures Open.
type Option func(*Queue)

// WithClock sets the clock used by the memory and redis backends.
func WithClock(c clock.Clock) Option {
	return func(q *Queue) { q.clock = c }
}

// WithPubSubOptions passes extra client options to the Pub/Sub client.
func WithPubSubOptions(opts ...option.ClientOption) Option {
	return func(q *Queue) { q.pubsubOptions = append(q.pubsubOptions, opts...) }
}

// Open connects to the backend named by cfg.Backend.
func Open(ctx context.Context, cfg config.QueueConfig, logger *log.Entry, opts ...Option) (*Queue, error) {
	q := &Queue{
		cfg:    cfg,
		logger: logger.WithField("queue", cfg.Backend),
		clock:  clock.RealClock{},
	}
	for _, opt := range opts {
		opt(q)
	}

	switch cfg.Backend {
	case config.QueueMemory:
		q.shared = memqueue.NewBroker(cfg.AckDeadline, q.logger,
			memqueue.WithClock(q.clock), memqueue.WithMaxAttempts(cfg.MaxDeliveryAttempts))
	case config.QueueRedis:
		rq, err := redisqueue.Dial(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, redisqueue.Options{
			KeyPrefix:    cfg.Redis.KeyPrefix,
			AckDeadline:  cfg.AckDeadline,
			MaxAttempts:  cfg.MaxDeliveryAttempts,
			PollInterval: cfg.Redis.PollInterval,
			Clock:        q.clock,
		}, q.logger)
		if err != nil {
			return nil, err
		}
		q.shared = rq
	case config.QueuePubSub:
		if err := q.openPubSub(ctx); err != nil {
			return nil, err
		}
	case config.QueueKafka:
		// Writers and readers are created on demand.
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
	return q, nil
}

func (q *Queue) openPubSub(ctx context.Context) error {
	ps := q.cfg.PubSub
	opts := append([]option.ClientOption{}, q.pubsubOptions...)
	if ps.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(ps.Endpoint))
	}
	if ps.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(ps.CredentialsFile))
	}

	client, err := pubsub.NewClient(ctx, ps.ProjectID, opts...)
	if err != nil {
		return fmt.Errorf("failed to create Pub/Sub client: %w", err)
	}
	q.pubsubClient = client

	if ps.CreateIfMissing {
		if err := q.ensurePubSub(ctx); err != nil {
			_ = client.Close()
			return err
		}
	}
	return nil
}

// ensurePubSub creates the topic and, when configured, the subscription
// with an ack deadline of D.
func (q *Queue) ensurePubSub(ctx context.Context) error {
	ps := q.cfg.PubSub
	client := q.pubsubClient

	return retry.Do(
		func() error {
			topic := client.Topic(ps.TopicID)
			ok, err := topic.Exists(ctx)
			if err != nil {
				return err
			}
			if !ok {
				topic, err = client.CreateTopic(ctx, ps.TopicID)
				if err != nil && status.Code(err) != codes.AlreadyExists {
					return err
				}
				if topic == nil {
					topic = client.Topic(ps.TopicID)
				}
				q.logger.Infof("Created Pub/Sub topic %s", ps.TopicID)
			}

			if ps.SubscriptionID == "" {
				return nil
			}
			sub := client.Subscription(ps.SubscriptionID)
			ok, err = sub.Exists(ctx)
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
			_, err = client.CreateSubscription(ctx, ps.SubscriptionID, pubsub.SubscriptionConfig{
				Topic:       topic,
				AckDeadline: q.cfg.AckDeadline,
			})
			if err != nil && status.Code(err) != codes.AlreadyExists {
				return err
			}
			q.logger.Infof("Created Pub/Sub subscription %s (ack deadline %s)", ps.SubscriptionID, q.cfg.AckDeadline)
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			q.logger.WithError(err).Warnf("Pub/Sub provisioning attempt %d failed", n+1)
		}),
	)
}

// Backend returns the configured backend name.
func (q *Queue) Backend() string {
	return q.cfg.Backend
}

// ConsumerCount is the number of consumers the engine should open. Only
// Kafka benefits from more than one reader per process.
func (q *Queue) ConsumerCount() int {
	if q.cfg.Backend == config.QueueKafka && q.cfg.Kafka.Consumer.Count > 1 {
		return q.cfg.Kafka.Consumer.Count
	}
	return 1
}

// Producer returns the queue's producer, creating it on first use. The
// producer is closed by Close.
func (q *Queue) Producer() (producer.Producer, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, producer.ErrClosed
	}
	if q.producer != nil {
		return q.producer, nil
	}

	switch {
	case q.shared != nil:
		q.producer = sharedProducer{q.shared}
	case q.pubsubClient != nil:
		q.producer = producer.NewPubSubProducer(q.pubsubClient, q.cfg.PubSub.TopicID, q.logger)
	case q.cfg.Backend == config.QueueKafka:
		p, err := producer.NewKafkaProducer(q.cfg.Kafka, q.logger)
		if err != nil {
			return nil, err
		}
		q.producer = p
	default:
		return nil, fmt.Errorf("queue backend %q has no producer", q.cfg.Backend)
	}
	return q.producer, nil
}

// NewConsumer opens a consumer. It is closed by Close.
func (q *Queue) NewConsumer() (consumer.Consumer, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, consumer.ErrClosed
	}

	var c consumer.Consumer
	switch {
	case q.shared != nil:
		c = sharedConsumer{q.shared}
	case q.pubsubClient != nil:
		if q.cfg.PubSub.SubscriptionID == "" {
			return nil, fmt.Errorf("queue pubsub subscription_id is required to consume")
		}
		c = consumer.NewPubSubConsumer(q.pubsubClient, q.cfg.PubSub.SubscriptionID, consumer.PubSubSettings{
			AckDeadline:            q.cfg.AckDeadline,
			MaxOutstandingMessages: q.cfg.PubSub.MaxOutstandingMessages,
			NumGoroutines:          q.cfg.PubSub.NumGoroutines,
		}, q.logger)
	case q.cfg.Backend == config.QueueKafka:
		kc, err := consumer.NewKafkaConsumer(q.cfg.Kafka, q.cfg.AckDeadline, q.logger, consumer.WithKafkaClock(q.clock))
		if err != nil {
			return nil, err
		}
		c = kc
	default:
		return nil, fmt.Errorf("queue backend %q has no consumer", q.cfg.Backend)
	}
	q.consumers = append(q.consumers, c)
	return c, nil
}

// Close closes consumers first, then the producer and the connections.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true

	var result *multierror.Error
	for _, c := range q.consumers {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if q.producer != nil {
		if err := q.producer.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if q.shared != nil {
		if err := q.shared.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if q.pubsubClient != nil {
		if err := q.pubsubClient.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// sharedProducer and sharedConsumer keep callers from closing the single
// broker behind both sides; Queue.Close does that.
type sharedProducer struct{ producer.Producer }

func (sharedProducer) Close() error { return nil }

type sharedConsumer struct{ consumer.Consumer }

func (sharedConsumer) Close() error { return nil }
