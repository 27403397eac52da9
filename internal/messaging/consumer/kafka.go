package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"logpipe/config"
	"logpipe/internal/models"
)

// kafkaReader is the part of *kafka.Reader the consumer uses.
type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer implements the Consumer interface to consume log messages from Kafka.
//
// Kafka only stores one committed offset per partition, so acks are tracked
// here: the committed offset never moves past a message that has not been
// acknowledged. Nacked messages and messages left unsettled past the ack
// deadline are handed out again by this consumer; after a restart or
// rebalance they are re-read from the committed offset.
type KafkaConsumer struct {
	reader      kafkaReader
	logger      *log.Entry
	clock       clock.Clock
	ackDeadline time.Duration

	mu         sync.Mutex
	partitions map[int]*partitionOffsets

	commitMu  sync.Mutex
	committed map[int]int64 // next offset to read, per partition
}

// partitionOffsets holds the fetched but uncommitted offsets of one
// partition, in offset order.
type partitionOffsets struct {
	pending []*kafkaOffset
}

type kafkaOffset struct {
	msg      kafka.Message
	logMsg   *models.LogMessage
	attempts int
	lease    uint64
	deadline time.Time
	acked    bool
	nacked   bool
}

// KafkaOption configures a KafkaConsumer.
type KafkaOption func(*KafkaConsumer)

// WithKafkaClock sets the clock used for ack deadlines.
func WithKafkaClock(c clock.Clock) KafkaOption {
	return func(k *KafkaConsumer) { k.clock = c }
}

// NewKafkaConsumer creates a new KafkaConsumer instance. A delivery left
// unsettled for ackDeadline is handed out again; zero disables that.
func NewKafkaConsumer(cfg config.KafkaConfig, ackDeadline time.Duration, logger *log.Entry, opts ...KafkaOption) (*KafkaConsumer, error) {
	cc := cfg.Consumer
	if len(cfg.Brokers) == 0 || cfg.Topic == "" || cc.GroupID == "" {
		return nil, errors.New("incomplete kafka configuration: brokers, topic, group_id are all required")
	}

	readerConfig := kafka.ReaderConfig{
		Brokers:           cfg.Brokers,
		GroupID:           cc.GroupID,
		Topic:             cfg.Topic,
		MinBytes:          1,
		MaxBytes:          10e6,            // 10MB
		MaxWait:           1 * time.Second, // Max wait time for message fetch
		CommitInterval:    0,               // commit synchronously on ack
		SessionTimeout:    cc.SessionTimeout,
		HeartbeatInterval: cc.HeartbeatInterval,
		StartOffset:       kafka.FirstOffset,
	}

	switch cc.AutoOffsetReset {
	case "latest":
		readerConfig.StartOffset = kafka.LastOffset
	case "earliest", "":
		readerConfig.StartOffset = kafka.FirstOffset
	default:
		logger.Warnf("Unknown auto_offset_reset '%s', using earliest", cc.AutoOffsetReset)
	}

	r := kafka.NewReader(readerConfig)

	logger.Infof("Kafka consumer created, connected to Brokers: %v, Topic: %s, GroupID: %s", cfg.Brokers, cfg.Topic, cc.GroupID)

	return newKafkaConsumer(r, ackDeadline, logger, opts...), nil
}

func newKafkaConsumer(r kafkaReader, ackDeadline time.Duration, logger *log.Entry, opts ...KafkaOption) *KafkaConsumer {
	k := &KafkaConsumer{
		reader:      r,
		logger:      logger,
		clock:       clock.RealClock{},
		ackDeadline: ackDeadline,
		partitions:  make(map[int]*partitionOffsets),
		committed:   make(map[int]int64),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Consume implements the Consumer interface. Nacked and expired deliveries
// are returned before new messages are fetched.
func (k *KafkaConsumer) Consume(ctx context.Context) (*Delivery, error) {
	if d := k.redeliver(); d != nil {
		return d, nil
	}

	kafkaMsg, err := k.reader.FetchMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, io.EOF) {
			return nil, ErrClosed
		}
		return nil, err
	}

	var logMsg models.LogMessage
	if err := json.Unmarshal(kafkaMsg.Value, &logMsg); err != nil {
		k.logger.WithFields(log.Fields{"partition": kafkaMsg.Partition, "offset": kafkaMsg.Offset}).
			WithError(err).Error("Failed to deserialize message, discarding")
		k.mu.Lock()
		o := k.trackLocked(kafkaMsg, nil)
		o.lease++
		lease := o.lease
		k.mu.Unlock()
		k.settle(o, lease, true)
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	return k.deliverLocked(k.trackLocked(kafkaMsg, &logMsg)), nil
}

// redeliver hands out a nacked or expired offset, if there is one.
func (k *KafkaConsumer) redeliver() *Delivery {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.clock.Now()
	for _, p := range k.partitions {
		for _, o := range p.pending {
			if o.acked || o.logMsg == nil {
				continue
			}
			expired := k.ackDeadline > 0 && !o.deadline.IsZero() && !now.Before(o.deadline)
			if !o.nacked && !expired {
				continue
			}
			if expired && !o.nacked {
				k.logger.WithFields(log.Fields{"partition": o.msg.Partition, "offset": o.msg.Offset}).
					Warn("Ack deadline passed, redelivering")
			}
			return k.deliverLocked(o)
		}
	}
	return nil
}

// trackLocked records a fetched message. A message re-read after a
// rebalance reuses its existing entry.
func (k *KafkaConsumer) trackLocked(msg kafka.Message, logMsg *models.LogMessage) *kafkaOffset {
	p, ok := k.partitions[msg.Partition]
	if !ok {
		p = &partitionOffsets{}
		k.partitions[msg.Partition] = p
	}
	i := sort.Search(len(p.pending), func(i int) bool { return p.pending[i].msg.Offset >= msg.Offset })
	if i < len(p.pending) && p.pending[i].msg.Offset == msg.Offset {
		o := p.pending[i]
		o.msg = msg
		return o
	}
	o := &kafkaOffset{msg: msg, logMsg: logMsg}
	p.pending = append(p.pending, nil)
	copy(p.pending[i+1:], p.pending[i:])
	p.pending[i] = o
	return o
}

func (k *KafkaConsumer) deliverLocked(o *kafkaOffset) *Delivery {
	o.attempts++
	o.lease++
	o.nacked = false
	o.deadline = k.clock.Now().Add(k.ackDeadline)
	lease := o.lease

	id := fmt.Sprintf("%d/%d", o.msg.Partition, o.msg.Offset)
	return NewDelivery(o.logMsg, id, o.attempts, func(success bool) {
		k.settle(o, lease, success)
	})
}

// settle applies an ack or nack. Settling a lease that was already
// redelivered has no effect.
func (k *KafkaConsumer) settle(o *kafkaOffset, lease uint64, success bool) {
	k.mu.Lock()
	if o.acked || o.lease != lease {
		k.mu.Unlock()
		return
	}
	entry := k.logger.WithFields(log.Fields{"partition": o.msg.Partition, "offset": o.msg.Offset})
	if !success {
		o.nacked = true
		k.mu.Unlock()
		entry.Warn("NACK received, message will be redelivered")
		return
	}

	o.acked = true
	p := k.partitions[o.msg.Partition]
	var last *kafka.Message
	for len(p.pending) > 0 && p.pending[0].acked {
		m := p.pending[0].msg
		last = &m
		p.pending = p.pending[1:]
	}
	k.mu.Unlock()

	if last != nil {
		k.commit(*last, entry)
	}
}

// commit stores last.Offset+1 as the partition's committed offset unless a
// later offset was already committed.
func (k *KafkaConsumer) commit(last kafka.Message, entry *log.Entry) {
	k.commitMu.Lock()
	defer k.commitMu.Unlock()
	if next, ok := k.committed[last.Partition]; ok && last.Offset+1 <= next {
		return
	}
	if err := k.reader.CommitMessages(context.Background(), last); err != nil {
		entry.WithError(err).Error("Failed to commit offset")
		return
	}
	k.committed[last.Partition] = last.Offset + 1
}

// Close implements the Consumer interface by closing the Kafka reader
func (k *KafkaConsumer) Close() error {
	k.logger.Info("Closing Kafka consumer...")
	return k.reader.Close()
}

// Ensure KafkaConsumer implements the Consumer interface
var _ Consumer = (*KafkaConsumer)(nil)
