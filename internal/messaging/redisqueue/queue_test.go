package redisqueue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"logpipe/internal/logging"
	"logpipe/internal/messaging/consumer"
	"logpipe/internal/messaging/producer"
	"logpipe/internal/models"
)

const ackDeadline = 600 * time.Second

type fixture struct {
	db    *miniredis.Miniredis
	clock *clocktesting.FakeClock
	queue *Queue
}

func newFixture(t *testing.T, maxAttempts int) *fixture {
	t.Helper()
	db, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(db.Close)

	fakeClock := clocktesting.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	client := redis.NewClient(&redis.Options{Addr: db.Addr()})
	q := New(client, Options{
		KeyPrefix:   "test",
		AckDeadline: ackDeadline,
		MaxAttempts: maxAttempts,
		Clock:       fakeClock,
	}, logging.Discard())
	t.Cleanup(func() { _ = q.Close() })

	return &fixture{db: db, clock: fakeClock, queue: q}
}

func (f *fixture) consume(t *testing.T) *consumer.Delivery {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d, err := f.queue.Consume(ctx)
	require.NoError(t, err)
	return d
}

func (f *fixture) assertEmpty(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.queue.Consume(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func message(logID string) *models.LogMessage {
	return &models.LogMessage{TenantID: "acme", LogID: logID, Text: "call 555-1234", Source: "json"}
}

func TestPublishConsumeAck(t *testing.T) {
	f := newFixture(t, 0)
	require.NoError(t, f.queue.Publish(context.Background(), message("log-001")))

	d := f.consume(t)
	assert.Equal(t, *message("log-001"), *d.Message)
	assert.Equal(t, 1, d.Attempt)
	f.assertEmpty(t)

	d.Ack()
	queued, dead, err := f.queue.Stats()
	require.NoError(t, err)
	assert.Zero(t, queued)
	assert.Zero(t, dead)
}

func TestUnackedMessageRedeliveredAfterDeadline(t *testing.T) {
	f := newFixture(t, 0)
	require.NoError(t, f.queue.Publish(context.Background(), message("log-001")))

	first := f.consume(t)
	f.clock.Step(ackDeadline - time.Second)
	f.assertEmpty(t)

	f.clock.Step(time.Second)
	second := f.consume(t)
	assert.Equal(t, first.MessageID, second.MessageID)
	assert.Equal(t, 2, second.Attempt)

	// The expired lease can no longer remove the message.
	first.Ack()
	queued, _, err := f.queue.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), queued)

	second.Ack()
	queued, _, err = f.queue.Stats()
	require.NoError(t, err)
	assert.Zero(t, queued)
}

func TestNackMakesMessageVisible(t *testing.T) {
	f := newFixture(t, 0)
	require.NoError(t, f.queue.Publish(context.Background(), message("log-001")))

	f.consume(t).Nack()
	d := f.consume(t)
	assert.Equal(t, 2, d.Attempt)
	d.Ack()
	f.assertEmpty(t)
}

func TestMessagesSurviveReconnect(t *testing.T) {
	f := newFixture(t, 0)
	require.NoError(t, f.queue.PublishBatch(context.Background(), []*models.LogMessage{message("a"), message("b")}))

	// A second queue on the same keys sees the same messages.
	other := New(redis.NewClient(&redis.Options{Addr: f.db.Addr()}), Options{
		KeyPrefix:   "test",
		AckDeadline: ackDeadline,
		Clock:       f.clock,
	}, logging.Discard())
	defer other.Close()

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		d, err := other.Consume(ctx)
		cancel()
		require.NoError(t, err)
		seen[d.Message.LogID] = true
		d.Ack()
	}
	assert.Equal(t, map[string]bool{"a": true, "b": true}, seen)
}

func TestMaxAttemptsDeadLetters(t *testing.T) {
	f := newFixture(t, 2)
	require.NoError(t, f.queue.Publish(context.Background(), message("poison")))

	f.consume(t).Nack()
	f.consume(t).Nack()
	f.assertEmpty(t)

	queued, dead, err := f.queue.Stats()
	require.NoError(t, err)
	assert.Zero(t, queued)
	assert.Equal(t, int64(1), dead)
}

func TestMalformedPayloadIsDiscarded(t *testing.T) {
	f := newFixture(t, 0)
	f.db.HSet("test:messages", "bad", "{not json")
	_, err := f.db.ZAdd("test:ready", 0, "bad")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = f.queue.Consume(ctx)
	assert.ErrorIs(t, err, consumer.ErrMalformedMessage)

	queued, _, err := f.queue.Stats()
	require.NoError(t, err)
	assert.Zero(t, queued)
}

func TestClose(t *testing.T) {
	f := newFixture(t, 0)
	require.NoError(t, f.queue.Close())
	require.NoError(t, f.queue.Close())

	_, err := f.queue.Consume(context.Background())
	assert.ErrorIs(t, err, consumer.ErrClosed)
	assert.ErrorIs(t, f.queue.Publish(context.Background(), message("x")), producer.ErrClosed)
}
