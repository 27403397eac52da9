// Package redisqueue is a durable lease queue on Redis.
//
// Keys, under a configurable prefix:
//
//	<prefix>:ready     sorted set of message ids scored by the time (ms) they become visible
//	<prefix>:messages  hash id -> JSON payload
//	<prefix>:attempts  hash id -> delivery count, doubling as the lease token
//	<prefix>:dead      list of payloads that exhausted their attempts
//
// Leasing pushes a message's score to now+ackDeadline, so an unsettled
// lease becomes visible again without any sweeper.
package redisqueue

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis"
	"github.com/oklog/ulid/v2"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"logpipe/internal/messaging/consumer"
	"logpipe/internal/messaging/producer"
	"logpipe/internal/models"
)

// KEYS: ready, messages, attempts, dead
// ARGV: now, lease deadline, max attempts (0 = unlimited)
// Returns {id, attempt, payload} or nil when nothing is visible.
const leaseScript = `
local max = tonumber(ARGV[3])
while true do
	local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
	if #ids == 0 then
		return false
	end
	local id = ids[1]
	local attempts = tonumber(redis.call('HGET', KEYS[3], id) or '0')
	if max > 0 and attempts >= max then
		redis.call('ZREM', KEYS[1], id)
		redis.call('LPUSH', KEYS[4], redis.call('HGET', KEYS[2], id) or '')
		redis.call('HDEL', KEYS[2], id)
		redis.call('HDEL', KEYS[3], id)
	else
		redis.call('ZADD', KEYS[1], ARGV[2], id)
		attempts = redis.call('HINCRBY', KEYS[3], id, 1)
		return {id, attempts, redis.call('HGET', KEYS[2], id)}
	end
end
`

// KEYS: ready, messages, attempts
// ARGV: id, attempt
const ackScript = `
if redis.call('HGET', KEYS[3], ARGV[1]) ~= ARGV[2] then
	return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[3], ARGV[1])
return 1
`

// KEYS: ready, attempts
// ARGV: id, attempt, now
const nackScript = `
if redis.call('HGET', KEYS[2], ARGV[1]) ~= ARGV[2] then
	return 0
end
return redis.call('ZADD', KEYS[1], 'XX', ARGV[3], ARGV[1])
`

// Queue implements both producer.Producer and consumer.Consumer on Redis.
type Queue struct {
	db           redis.Cmdable
	closer       func() error
	clock        clock.Clock
	ackDeadline  time.Duration
	maxAttempts  int
	pollInterval time.Duration
	logger       *log.Entry

	readyKey, messagesKey, attemptsKey, deadKey string

	mu        sync.Mutex
	entropy   *ulid.MonotonicEntropy
	closed    chan struct{}
	closeOnce sync.Once
}

// Options configures a Queue.
type Options struct {
	KeyPrefix    string
	AckDeadline  time.Duration
	MaxAttempts  int
	PollInterval time.Duration
	Clock        clock.Clock
}

// New wraps an existing Redis client. Close closes the client.
func New(client *redis.Client, opts Options, logger *log.Entry) *Queue {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 200 * time.Millisecond
	}
	prefix := opts.KeyPrefix
	return &Queue{
		db:           client,
		closer:       client.Close,
		clock:        opts.Clock,
		ackDeadline:  opts.AckDeadline,
		maxAttempts:  opts.MaxAttempts,
		pollInterval: opts.PollInterval,
		logger:       logger,
		readyKey:     prefix + ":ready",
		messagesKey:  prefix + ":messages",
		attemptsKey:  prefix + ":attempts",
		deadKey:      prefix + ":dead",
		entropy:      ulid.Monotonic(rand.Reader, 0),
		closed:       make(chan struct{}),
	}
}

// Dial connects to Redis and verifies the connection.
func Dial(addr, password string, db int, opts Options, logger *log.Entry) (*Queue, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping().Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", addr, err)
	}
	logger.Infof("Redis queue connected to %s (prefix %s)", addr, opts.KeyPrefix)
	return New(client, opts, logger), nil
}

func score(t time.Time) float64 {
	return float64(t.UnixNano() / int64(time.Millisecond))
}

func (q *Queue) newID(now time.Time) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), q.entropy).String()
}

func (q *Queue) isClosed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}

// Publish stores the payload and makes it visible immediately.
func (q *Queue) Publish(ctx context.Context, msg *models.LogMessage) error {
	return q.PublishBatch(ctx, []*models.LogMessage{msg})
}

// PublishBatch stores all payloads in one MULTI/EXEC transaction.
func (q *Queue) PublishBatch(ctx context.Context, msgs []*models.LogMessage) error {
	if q.isClosed() {
		return producer.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	now := q.clock.Now()
	pipe := q.db.TxPipeline()
	for _, msg := range msgs {
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to serialize log message (log_id: %s): %w", msg.LogID, err)
		}
		id := q.newID(now)
		pipe.HSet(q.messagesKey, id, data)
		pipe.ZAdd(q.readyKey, redis.Z{Member: id, Score: score(now)})
	}
	if _, err := pipe.Exec(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}

// Consume polls for a visible message until one is leased or ctx ends.
func (q *Queue) Consume(ctx context.Context) (*consumer.Delivery, error) {
	for {
		if q.isClosed() {
			return nil, consumer.ErrClosed
		}

		d, err := q.tryLease()
		if err != nil {
			return nil, err
		}
		if d != nil {
			return d, nil
		}

		timer := q.clock.NewTimer(q.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.closed:
			timer.Stop()
			return nil, consumer.ErrClosed
		case <-timer.C():
		}
	}
}

func (q *Queue) tryLease() (*consumer.Delivery, error) {
	now := q.clock.Now()
	res, err := q.db.Eval(leaseScript,
		[]string{q.readyKey, q.messagesKey, q.attemptsKey, q.deadKey},
		score(now), score(now.Add(q.ackDeadline)), q.maxAttempts,
	).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lease from redis: %w", err)
	}

	fields, ok := res.([]interface{})
	if !ok || len(fields) < 2 {
		return nil, fmt.Errorf("unexpected lease reply %v", res)
	}
	id, _ := fields[0].(string)
	attempt, _ := fields[1].(int64)
	token := strconv.FormatInt(attempt, 10)
	entry := q.logger.WithFields(log.Fields{"message_id": id, "attempt": attempt})

	var payload string
	if len(fields) > 2 {
		payload, _ = fields[2].(string)
	}
	var msg models.LogMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		entry.WithError(err).Error("Failed to deserialize message, discarding")
		q.settle(id, token, true)
		return nil, fmt.Errorf("%w: %v", consumer.ErrMalformedMessage, err)
	}

	return consumer.NewDelivery(&msg, id, int(attempt), func(success bool) {
		q.settle(id, token, success)
	}), nil
}

func (q *Queue) settle(id, token string, success bool) {
	var (
		n   int64
		err error
	)
	if success {
		n, err = q.db.Eval(ackScript, []string{q.readyKey, q.messagesKey, q.attemptsKey}, id, token).Int64()
	} else {
		now := score(q.clock.Now())
		n, err = q.db.Eval(nackScript, []string{q.readyKey, q.attemptsKey}, id, token, now).Int64()
	}
	entry := q.logger.WithFields(log.Fields{"message_id": id, "attempt": token, "ack": success})
	if err != nil {
		// The lease still expires at its deadline.
		entry.WithError(err).Error("Failed to settle message")
		return
	}
	if n == 0 {
		entry.Debug("Ignoring settle for a stale lease")
	}
}

// Stats reports the number of queued (ready or leased) and dead-lettered messages.
func (q *Queue) Stats() (queued, dead int64, err error) {
	pipe := q.db.Pipeline()
	queuedCmd := pipe.ZCard(q.readyKey)
	deadCmd := pipe.LLen(q.deadKey)
	if _, err := pipe.Exec(); err != nil {
		return 0, 0, err
	}
	return queuedCmd.Val(), deadCmd.Val(), nil
}

// Close stops consumers and closes the client. Further calls are no-ops.
func (q *Queue) Close() error {
	var err error
	q.closeOnce.Do(func() {
		close(q.closed)
		if q.closer != nil {
			err = q.closer()
		}
	})
	return err
}

var (
	_ producer.Producer = (*Queue)(nil)
	_ consumer.Consumer = (*Queue)(nil)
)
