package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// WorkerConfig defines configuration for worker processing
type WorkerConfig struct {
	Concurrency        int           `yaml:"concurrency"`          // Number of concurrent workers per consumer
	ConsumerRetryDelay time.Duration `yaml:"consumer_retry_delay"` // Delay when consumer encounters errors

	// NackOnFailure requests immediate redelivery when processing fails.
	// When false a failed delivery is left to expire at the ack deadline.
	NackOnFailure *bool `yaml:"nack_on_failure"`
}

// SetDefaults sets reasonable default values for worker configuration
func (c *WorkerConfig) SetDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
		fmt.Printf("Warning: worker.concurrency not set or invalid, defaulting to %d\n", c.Concurrency)
	}
	if c.ConsumerRetryDelay == 0 {
		c.ConsumerRetryDelay = 5 * time.Second
		fmt.Printf("Warning: worker.consumer_retry_delay not set, defaulting to %s\n", c.ConsumerRetryDelay)
	}
	if c.NackOnFailure == nil {
		nack := true
		c.NackOnFailure = &nack
	}
}

// ShouldNack reports whether failed deliveries are nacked.
func (c *WorkerConfig) ShouldNack() bool {
	return c.NackOnFailure == nil || *c.NackOnFailure
}

// TransformConfig configures the redacting transformation
type TransformConfig struct {
	// CostPerChar is the simulated processing cost per input character.
	CostPerChar time.Duration `yaml:"cost_per_char"`

	// Redactions maps literal substrings to their replacement.
	Redactions map[string]string `yaml:"redactions"`

	// MaxTextLength is the longest text the engine expects to see. Together
	// with CostPerChar it bounds the processing time of one message.
	MaxTextLength int `yaml:"max_text_length"`
}

// SetDefaults sets default values for the transformation
func (c *TransformConfig) SetDefaults() {
	if c.CostPerChar == 0 {
		c.CostPerChar = 50 * time.Millisecond
		fmt.Printf("Warning: transform.cost_per_char not set, defaulting to %s\n", c.CostPerChar)
	}
	if len(c.Redactions) == 0 {
		c.Redactions = map[string]string{"555-": "[REDACTED]-"}
	}
	if c.MaxTextLength == 0 {
		c.MaxTextLength = 10000
		fmt.Printf("Warning: transform.max_text_length not set, defaulting to %d\n", c.MaxTextLength)
	}
}

// WorstCase is the simulated cost of transforming MaxTextLength characters.
func (c *TransformConfig) WorstCase() time.Duration {
	return c.CostPerChar * time.Duration(c.MaxTextLength)
}

// EngineConfig defines all configuration for the processing engine
type EngineConfig struct {
	// HttpListenAddr serves the push endpoint, health and metrics.
	HttpListenAddr string `yaml:"http_listen_addr"`
	Environment    string `yaml:"environment"`

	// PullEnabled runs consumers against the queue. Disable it when the
	// queue pushes deliveries to /process instead.
	PullEnabled *bool `yaml:"pull_enabled"`

	Queue      QueueConfig      `yaml:"queue"`
	Store      StoreConfig      `yaml:"store"`
	Worker     WorkerConfig     `yaml:"worker"`
	Transform  TransformConfig  `yaml:"transform"`
	HttpServer HttpServerConfig `yaml:"http_server"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// Pull reports whether pull consumers should be started.
func (c *EngineConfig) Pull() bool {
	return c.PullEnabled == nil || *c.PullEnabled
}

// SetDefaults sets default values for every section
func (c *EngineConfig) SetDefaults() {
	if c.Environment == "" {
		c.Environment = "development"
		fmt.Printf("Warning: environment not set, defaulting to %s\n", c.Environment)
	}
	c.Queue.SetDefaults()
	c.Store.SetDefaults()
	c.Worker.SetDefaults()
	c.Transform.SetDefaults()
	c.HttpServer.SetDefaults()
	c.Monitoring.SetDefaults()
}

// Validate checks the engine configuration
func (c *EngineConfig) Validate() error {
	if err := c.Queue.Validate(c.Environment); err != nil {
		return fmt.Errorf("queue configuration error: %w", err)
	}
	if c.Pull() {
		switch c.Queue.Backend {
		case QueuePubSub:
			if c.Queue.PubSub.SubscriptionID == "" {
				return fmt.Errorf("queue configuration error: pubsub subscription_id is required")
			}
		case QueueKafka:
			if c.Queue.Kafka.Consumer.GroupID == "" {
				return fmt.Errorf("queue configuration error: kafka consumer group_id is required")
			}
		}
	} else if c.HttpListenAddr == "" {
		return fmt.Errorf("configuration error: http_listen_addr is required when pull_enabled is false")
	}
	if err := c.Store.Validate(c.Environment); err != nil {
		return fmt.Errorf("store configuration error: %w", err)
	}
	if c.Transform.CostPerChar < 0 {
		return fmt.Errorf("transform cost_per_char cannot be negative")
	}
	if worst := c.Transform.WorstCase(); worst >= c.Queue.AckDeadline {
		return fmt.Errorf("transform of %d characters may take %s, which exceeds queue ack_deadline %s",
			c.Transform.MaxTextLength, worst, c.Queue.AckDeadline)
	}
	return nil
}

// LoadEngineConfig loads configuration from the specified YAML file path
func LoadEngineConfig(path string) (*EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	var cfg EngineConfig
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse YAML config file: %w", err)
	}

	// Set default values for all configurations
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
