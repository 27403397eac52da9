package config

import (
	"fmt"
	"strings"
	"time"
)

// Queue backends.
const (
	QueuePubSub = "pubsub"
	QueueKafka  = "kafka"
	QueueRedis  = "redis"
	QueueMemory = "memory"
)

const (
	DefaultAckDeadline = 600 * time.Second

	// Bounds Pub/Sub accepts for a subscription ack deadline.
	pubSubMinAckDeadline = 10 * time.Second
	pubSubMaxAckDeadline = 600 * time.Second
)

// PubSubConfig defines configuration for Google Cloud Pub/Sub
type PubSubConfig struct {
	ProjectID       string `yaml:"project_id"`
	TopicID         string `yaml:"topic_id"`
	SubscriptionID  string `yaml:"subscription_id"`
	CredentialsFile string `yaml:"credentials_file"`
	Endpoint        string `yaml:"endpoint"` // Emulator or private endpoint

	CreateIfMissing        bool `yaml:"create_if_missing"`
	MaxOutstandingMessages int  `yaml:"max_outstanding_messages"`
	NumGoroutines          int  `yaml:"num_goroutines"`
}

// KafkaProducerConfig defines configuration for Kafka producer
type KafkaProducerConfig struct {
	// Batch processing settings
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	BatchBytes   int           `yaml:"batch_bytes"`

	// Reliability settings
	RequiredAcks string `yaml:"required_acks"`

	// Performance settings
	WriteTimeout time.Duration `yaml:"write_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
}

// KafkaConsumerConfig defines configuration for Kafka consumer
type KafkaConsumerConfig struct {
	GroupID           string        `yaml:"group_id"`           // Consumer group ID
	Count             int           `yaml:"count"`              // Number of consumers to create
	SessionTimeout    time.Duration `yaml:"session_timeout"`    // Kafka session timeout
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"` // Kafka heartbeat interval
	AutoOffsetReset   string        `yaml:"auto_offset_reset"`  // earliest/latest
}

// KafkaConfig groups the broker list shared by both sides of a topic.
type KafkaConfig struct {
	Brokers  []string            `yaml:"brokers"` // e.g., ["kafka1:9092", "kafka2:9092"]
	Topic    string              `yaml:"topic"`
	Producer KafkaProducerConfig `yaml:"producer"`
	Consumer KafkaConsumerConfig `yaml:"consumer"`
}

// RedisConfig defines configuration for the Redis lease queue
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	KeyPrefix    string        `yaml:"key_prefix"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// QueueConfig selects the durable queue and its acknowledgement deadline.
type QueueConfig struct {
	Backend string `yaml:"backend"`

	// AckDeadline is how long a delivery may stay unacknowledged before the
	// queue hands it to another consumer.
	AckDeadline time.Duration `yaml:"ack_deadline"`

	// MaxDeliveryAttempts moves a message to the dead-letter list after this
	// many deliveries. Zero means unlimited.
	MaxDeliveryAttempts int `yaml:"max_delivery_attempts"`

	PubSub PubSubConfig `yaml:"pubsub"`
	Kafka  KafkaConfig  `yaml:"kafka"`
	Redis  RedisConfig  `yaml:"redis"`
}

// SetDefaults sets reasonable default values for the queue configuration
func (c *QueueConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = QueuePubSub
		fmt.Printf("Warning: queue.backend not set, defaulting to %s\n", c.Backend)
	}
	if c.AckDeadline == 0 {
		c.AckDeadline = DefaultAckDeadline
		fmt.Printf("Warning: queue.ack_deadline not set, defaulting to %s\n", c.AckDeadline)
	}

	switch c.Backend {
	case QueuePubSub:
		if c.PubSub.MaxOutstandingMessages <= 0 {
			c.PubSub.MaxOutstandingMessages = 100
			fmt.Printf("Warning: queue.pubsub.max_outstanding_messages not set, defaulting to %d\n", c.PubSub.MaxOutstandingMessages)
		}
		if c.PubSub.NumGoroutines <= 0 {
			c.PubSub.NumGoroutines = 1
		}
	case QueueKafka:
		c.Kafka.setDefaults()
	case QueueRedis:
		if c.Redis.KeyPrefix == "" {
			c.Redis.KeyPrefix = "logpipe"
			fmt.Printf("Warning: queue.redis.key_prefix not set, defaulting to %s\n", c.Redis.KeyPrefix)
		}
		if c.Redis.PollInterval == 0 {
			c.Redis.PollInterval = 200 * time.Millisecond
			fmt.Printf("Warning: queue.redis.poll_interval not set, defaulting to %s\n", c.Redis.PollInterval)
		}
	}
}

func (c *KafkaConfig) setDefaults() {
	if c.Producer.BatchSize == 0 {
		c.Producer.BatchSize = 100
	}
	if c.Producer.BatchTimeout == 0 {
		c.Producer.BatchTimeout = 10 * time.Millisecond
	}
	if c.Producer.BatchBytes == 0 {
		c.Producer.BatchBytes = 5 * 1024 * 1024
	}
	if c.Producer.RequiredAcks == "" {
		c.Producer.RequiredAcks = "all"
		fmt.Printf("Warning: queue.kafka.producer.required_acks not set, defaulting to %s\n", c.Producer.RequiredAcks)
	}
	if c.Producer.WriteTimeout == 0 {
		c.Producer.WriteTimeout = 5 * time.Second
	}
	if c.Producer.ReadTimeout == 0 {
		c.Producer.ReadTimeout = 5 * time.Second
	}
	if c.Consumer.Count <= 0 {
		c.Consumer.Count = 1
		fmt.Printf("Warning: queue.kafka.consumer.count not set or invalid, defaulting to %d\n", c.Consumer.Count)
	}
	if c.Consumer.SessionTimeout == 0 {
		c.Consumer.SessionTimeout = 30 * time.Second
		fmt.Printf("Warning: queue.kafka.consumer.session_timeout not set, defaulting to %s\n", c.Consumer.SessionTimeout)
	}
	if c.Consumer.HeartbeatInterval == 0 {
		c.Consumer.HeartbeatInterval = 3 * time.Second
		fmt.Printf("Warning: queue.kafka.consumer.heartbeat_interval not set, defaulting to %s\n", c.Consumer.HeartbeatInterval)
	}
	if c.Consumer.AutoOffsetReset == "" {
		c.Consumer.AutoOffsetReset = "earliest"
		fmt.Printf("Warning: queue.kafka.consumer.auto_offset_reset not set, defaulting to %s\n", c.Consumer.AutoOffsetReset)
	}
}

// Validate validates the queue configuration
func (c *QueueConfig) Validate(environment string) error {
	if c.AckDeadline <= 0 {
		return fmt.Errorf("queue ack_deadline must be positive")
	}
	if c.MaxDeliveryAttempts < 0 {
		return fmt.Errorf("queue max_delivery_attempts cannot be negative")
	}

	switch c.Backend {
	case QueuePubSub:
		if c.PubSub.ProjectID == "" || c.PubSub.TopicID == "" {
			return fmt.Errorf("queue pubsub project_id and topic_id are required")
		}
		if c.AckDeadline < pubSubMinAckDeadline || c.AckDeadline > pubSubMaxAckDeadline {
			return fmt.Errorf("queue ack_deadline %s is outside the Pub/Sub range [%s, %s]",
				c.AckDeadline, pubSubMinAckDeadline, pubSubMaxAckDeadline)
		}
	case QueueKafka:
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
			return fmt.Errorf("queue kafka brokers and topic are required")
		}
		switch c.Kafka.Producer.RequiredAcks {
		case "none", "one", "all":
		default:
			return fmt.Errorf("queue kafka producer required_acks must be one of none, one, all")
		}
	case QueueRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("queue redis addr is required")
		}
	case QueueMemory:
		if isProduction(environment) {
			return fmt.Errorf("queue backend memory is not durable and not allowed in production")
		}
	default:
		return fmt.Errorf("unknown queue backend %q", c.Backend)
	}
	return nil
}

func isProduction(environment string) bool {
	return strings.EqualFold(strings.TrimSpace(environment), "production")
}
