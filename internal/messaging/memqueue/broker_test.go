package memqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"logpipe/internal/logging"
	"logpipe/internal/messaging/consumer"
	"logpipe/internal/messaging/producer"
	"logpipe/internal/models"
)

const ackDeadline = 600 * time.Second

func newTestBroker(opts ...Option) (*Broker, *clocktesting.FakeClock) {
	fakeClock := clocktesting.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	opts = append([]Option{WithClock(fakeClock)}, opts...)
	return NewBroker(ackDeadline, logging.Discard(), opts...), fakeClock
}

func message(logID string) *models.LogMessage {
	return &models.LogMessage{TenantID: "acme", LogID: logID, Text: "call 555-1234"}
}

func consumeNow(t *testing.T, b *Broker) *consumer.Delivery {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d, err := b.Consume(ctx)
	require.NoError(t, err)
	return d
}

func assertEmpty(t *testing.T, b *Broker) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := b.Consume(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPublishConsumeAck(t *testing.T) {
	b, _ := newTestBroker()
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, message("log-001")))
	d := consumeNow(t, b)
	assert.Equal(t, "log-001", d.Message.LogID)
	assert.Equal(t, 1, d.Attempt)
	assert.NotEmpty(t, d.MessageID)
	assert.Equal(t, Stats{InFlight: 1}, b.Stats())

	d.Ack()
	assert.Equal(t, Stats{}, b.Stats())
	assertEmpty(t, b)
}

func TestUnackedMessageRedeliveredAfterDeadline(t *testing.T) {
	b, fakeClock := newTestBroker()
	require.NoError(t, b.Publish(context.Background(), message("log-001")))

	// First delivery is lost: the consumer never settles it.
	first := consumeNow(t, b)
	assertEmpty(t, b)

	fakeClock.Step(ackDeadline - time.Second)
	assertEmpty(t, b)

	fakeClock.Step(time.Second)
	second := consumeNow(t, b)
	assert.Equal(t, first.MessageID, second.MessageID)
	assert.Equal(t, 2, second.Attempt)

	// A late ack for the expired lease does not remove the new lease.
	first.Ack()
	assert.Equal(t, 1, b.Stats().InFlight)

	second.Ack()
	assert.Equal(t, Stats{}, b.Stats())
}

func TestConsumeWakesAtDeadline(t *testing.T) {
	b, fakeClock := newTestBroker()
	require.NoError(t, b.Publish(context.Background(), message("log-001")))
	consumeNow(t, b)

	got := make(chan *consumer.Delivery, 1)
	go func() {
		d, err := b.Consume(context.Background())
		if err == nil {
			got <- d
		}
	}()

	require.Eventually(t, fakeClock.HasWaiters, time.Second, time.Millisecond)
	fakeClock.Step(ackDeadline)

	select {
	case d := <-got:
		assert.Equal(t, 2, d.Attempt)
	case <-time.After(time.Second):
		t.Fatal("consumer was not woken by the expired lease")
	}
}

func TestNackRedeliversImmediately(t *testing.T) {
	b, _ := newTestBroker()
	require.NoError(t, b.Publish(context.Background(), message("log-001")))

	consumeNow(t, b).Nack()
	d := consumeNow(t, b)
	assert.Equal(t, 2, d.Attempt)
	d.Ack()
	assert.Equal(t, Stats{}, b.Stats())
}

func TestFIFOOrderAndBatch(t *testing.T) {
	b, _ := newTestBroker()
	require.NoError(t, b.PublishBatch(context.Background(), []*models.LogMessage{
		message("a"), message("b"), message("c"),
	}))
	for _, want := range []string{"a", "b", "c"} {
		d := consumeNow(t, b)
		assert.Equal(t, want, d.Message.LogID)
		d.Ack()
	}
}

func TestMaxAttemptsDeadLetters(t *testing.T) {
	b, _ := newTestBroker(WithMaxAttempts(2))
	require.NoError(t, b.Publish(context.Background(), message("poison")))

	consumeNow(t, b).Nack()
	consumeNow(t, b).Nack()
	assertEmpty(t, b)

	assert.Equal(t, Stats{DeadLetter: 1}, b.Stats())
	dead := b.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, "poison", dead[0].LogID)
}

func TestPublishedMessageIsCopied(t *testing.T) {
	b, _ := newTestBroker()
	msg := message("log-001")
	require.NoError(t, b.Publish(context.Background(), msg))
	msg.Text = "changed"

	assert.Equal(t, "call 555-1234", consumeNow(t, b).Message.Text)
}

func TestClose(t *testing.T) {
	b, _ := newTestBroker()

	errs := make(chan error, 1)
	go func() {
		_, err := b.Consume(context.Background())
		errs <- err
	}()

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, consumer.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Consume did not return after Close")
	}
	assert.ErrorIs(t, b.Publish(context.Background(), message("x")), producer.ErrClosed)
}
