package messaging

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/pubsub/pstest"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"logpipe/config"
	"logpipe/internal/logging"
	"logpipe/internal/messaging/consumer"
	"logpipe/internal/models"
)

func roundTrip(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p, err := q.Producer()
	require.NoError(t, err)
	c, err := q.NewConsumer()
	require.NoError(t, err)

	msg := &models.LogMessage{TenantID: "acme", LogID: "log-001", Text: "call 555-1234"}
	require.NoError(t, p.Publish(ctx, msg))

	d, err := c.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, *msg, *d.Message)
	d.Ack()
}

func TestOpenMemory(t *testing.T) {
	q, err := Open(context.Background(), config.QueueConfig{
		Backend:     config.QueueMemory,
		AckDeadline: time.Minute,
	}, logging.Discard())
	require.NoError(t, err)
	defer q.Close()

	assert.Equal(t, config.QueueMemory, q.Backend())
	assert.Equal(t, 1, q.ConsumerCount())
	roundTrip(t, q)

	// Closing a handed-out consumer leaves the shared broker usable.
	c, err := q.NewConsumer()
	require.NoError(t, err)
	require.NoError(t, c.Close())
	roundTrip(t, q)
}

func TestOpenRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	q, err := Open(context.Background(), config.QueueConfig{
		Backend:     config.QueueRedis,
		AckDeadline: time.Minute,
		Redis:       config.RedisConfig{Addr: mr.Addr(), KeyPrefix: "factory", PollInterval: 10 * time.Millisecond},
	}, logging.Discard())
	require.NoError(t, err)
	defer q.Close()

	roundTrip(t, q)
}

func TestOpenRedisUnreachable(t *testing.T) {
	_, err := Open(context.Background(), config.QueueConfig{
		Backend:     config.QueueRedis,
		AckDeadline: time.Minute,
		Redis:       config.RedisConfig{Addr: "127.0.0.1:1"},
	}, logging.Discard())
	assert.Error(t, err)
}

func TestOpenPubSubCreatesTopicAndSubscription(t *testing.T) {
	srv := pstest.NewServer()
	defer srv.Close()
	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	cfg := config.QueueConfig{
		Backend:     config.QueuePubSub,
		AckDeadline: 30 * time.Second,
		PubSub: config.PubSubConfig{
			ProjectID:       "logpipe-test",
			TopicID:         "log-ingestion",
			SubscriptionID:  "log-processing",
			CreateIfMissing: true,
		},
	}
	q, err := Open(context.Background(), cfg, logging.Discard(), WithPubSubOptions(option.WithGRPCConn(conn)))
	require.NoError(t, err)
	defer q.Close()

	sub := q.pubsubClient.Subscription("log-processing")
	subCfg, err := sub.Config(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, subCfg.AckDeadline)

	roundTrip(t, q)
}

func TestOpenPubSubWithoutSubscription(t *testing.T) {
	srv := pstest.NewServer()
	defer srv.Close()
	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	q, err := Open(context.Background(), config.QueueConfig{
		Backend:     config.QueuePubSub,
		AckDeadline: 30 * time.Second,
		PubSub:      config.PubSubConfig{ProjectID: "logpipe-test", TopicID: "log-ingestion", CreateIfMissing: true},
	}, logging.Discard(), WithPubSubOptions(option.WithGRPCConn(conn)))
	require.NoError(t, err)
	defer q.Close()

	_, err = q.Producer()
	require.NoError(t, err)
	_, err = q.NewConsumer()
	assert.Error(t, err)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), config.QueueConfig{Backend: "carrier-pigeon"}, logging.Discard())
	assert.Error(t, err)
}

func TestQueueClosed(t *testing.T) {
	q, err := Open(context.Background(), config.QueueConfig{
		Backend:     config.QueueMemory,
		AckDeadline: time.Minute,
	}, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	_, err = q.NewConsumer()
	assert.ErrorIs(t, err, consumer.ErrClosed)
	_, err = q.Producer()
	assert.Error(t, err)
}

func TestConsumerCount(t *testing.T) {
	q := &Queue{cfg: config.QueueConfig{
		Backend: config.QueueKafka,
		Kafka:   config.KafkaConfig{Consumer: config.KafkaConsumerConfig{Count: 3}},
	}}
	assert.Equal(t, 3, q.ConsumerCount())
}
