package producer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"logpipe/config"
	"logpipe/internal/models"
)

// KafkaProducer implements the Producer interface
type KafkaProducer struct {
	writer *kafka.Writer
	logger *log.Entry
	topic  string
}

func requiredAcks(setting string) kafka.RequiredAcks {
	switch setting {
	case "none":
		return kafka.RequireNone
	case "one":
		return kafka.RequireOne
	default:
		return kafka.RequireAll
	}
}

// NewKafkaProducer creates a new KafkaProducer. Writes are synchronous so
// Publish only returns after the brokers acknowledged the message.
func NewKafkaProducer(cfg config.KafkaConfig, logger *log.Entry) (*KafkaProducer, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New("kafka producer configuration incomplete: both brokers and topic are required")
	}
	pc := cfg.Producer

	// Configure Kafka Writer
	w := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Topic:    cfg.Topic,
		Balancer: &kafka.Hash{}, // keyed by tenant

		BatchSize:    pc.BatchSize,
		BatchTimeout: pc.BatchTimeout,
		BatchBytes:   int64(pc.BatchBytes),

		RequiredAcks: requiredAcks(pc.RequiredAcks),
		Async:        false,

		WriteTimeout: pc.WriteTimeout,
		ReadTimeout:  pc.ReadTimeout,

		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Errorf("Kafka Writer Error: "+msg, args...)
		}),
	}

	logger.Infof("Kafka producer created, connected to Brokers: %v, Topic: %s", cfg.Brokers, cfg.Topic)

	return &KafkaProducer{
		writer: w,
		logger: logger,
		topic:  cfg.Topic,
	}, nil
}

func toKafkaMessage(msg *models.LogMessage) (kafka.Message, error) {
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to serialize log message (log_id: %s): %w", msg.LogID, err)
	}
	return kafka.Message{
		Key:   []byte(msg.TenantID),
		Value: msgBytes,
	}, nil
}

// Publish sends a message
func (p *KafkaProducer) Publish(ctx context.Context, msg *models.LogMessage) error {
	kafkaMsg, err := toKafkaMessage(msg)
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, kafkaMsg); err != nil {
		p.logger.WithError(err).WithField("log_id", msg.LogID).Error("Failed to write Kafka message")
		return fmt.Errorf("failed to write to Kafka: %w", err)
	}
	return nil
}

// PublishBatch sends log messages in batch to the configured topic
func (p *KafkaProducer) PublishBatch(ctx context.Context, msgs []*models.LogMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	kafkaMsgs := make([]kafka.Message, len(msgs))
	for i, msg := range msgs {
		km, err := toKafkaMessage(msg)
		if err != nil {
			return err
		}
		kafkaMsgs[i] = km
	}

	if err := p.writer.WriteMessages(ctx, kafkaMsgs...); err != nil {
		p.logger.WithError(err).Errorf("Failed to write Kafka batch (count: %d)", len(msgs))
		return fmt.Errorf("failed to batch write to Kafka: %w", err)
	}

	p.logger.Debugf("Wrote %d Kafka messages (Topic: %s)", len(msgs), p.topic)
	return nil
}

// Close closes the producer
func (p *KafkaProducer) Close() error {
	p.logger.Info("Closing Kafka producer...")
	return p.writer.Close()
}

var _ Producer = (*KafkaProducer)(nil) // Compile-time interface check
