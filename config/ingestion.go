package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// BatchProcessorConfig defines configuration for coalescing single
// submissions into batch publishes.
type BatchProcessorConfig struct {
	Enabled      bool          `yaml:"enabled"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

// SetDefaults sets reasonable default values for batch processor configuration
func (c *BatchProcessorConfig) SetDefaults() {
	if !c.Enabled {
		return
	}
	if c.BatchSize == 0 {
		c.BatchSize = 100
		fmt.Printf("Warning: batch_processor.batch_size not set, defaulting to %d\n", c.BatchSize)
	}
	if c.BatchTimeout == 0 {
		c.BatchTimeout = 5 * time.Millisecond
		fmt.Printf("Warning: batch_processor.batch_timeout not set, defaulting to %v\n", c.BatchTimeout)
	}
}

// HttpServerConfig defines HTTP server configuration
type HttpServerConfig struct {
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
}

// SetDefaults fills in server timeouts and limits
func (c *HttpServerConfig) SetDefaults() {
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 5 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.MaxHeaderBytes == 0 {
		c.MaxHeaderBytes = 1 << 20 // 1 MB
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = 10 << 20 // 10 MB
	}
}

// ApiGatewayConfig defines all configurations required for the API gateway
type ApiGatewayConfig struct {
	HttpListenAddr string `yaml:"http_listen_addr"`
	GrpcListenAddr string `yaml:"grpc_listen_addr"`
	Environment    string `yaml:"environment"`

	// MaxTextLength rejects records the worker could not transform inside
	// the queue's ack deadline. Zero disables the check.
	MaxTextLength int `yaml:"max_text_length"`

	Queue          QueueConfig          `yaml:"queue"`
	BatchProcessor BatchProcessorConfig `yaml:"batch_processor"`
	HttpServer     HttpServerConfig     `yaml:"http_server"`
	Monitoring     MonitoringConfig     `yaml:"monitoring"`
}

// SetDefaults sets default values for every section
func (c *ApiGatewayConfig) SetDefaults() {
	if c.Environment == "" {
		c.Environment = "development"
		fmt.Printf("Warning: environment not set, defaulting to %s\n", c.Environment)
	}
	c.Queue.SetDefaults()
	c.BatchProcessor.SetDefaults()
	c.HttpServer.SetDefaults()
	c.Monitoring.SetDefaults()
}

// Validate checks the gateway configuration
func (c *ApiGatewayConfig) Validate() error {
	if c.HttpListenAddr == "" && c.GrpcListenAddr == "" {
		return fmt.Errorf("configuration error: at least one of http_listen_addr or grpc_listen_addr must be configured")
	}
	if c.MaxTextLength < 0 {
		return fmt.Errorf("max_text_length cannot be negative")
	}
	if err := c.Queue.Validate(c.Environment); err != nil {
		return fmt.Errorf("queue configuration error: %w", err)
	}
	if c.BatchProcessor.Enabled && c.BatchProcessor.BatchSize <= 0 {
		return fmt.Errorf("batch_processor.batch_size must be positive")
	}
	return nil
}

// LoadApiGatewayConfig loads API gateway configuration from the specified YAML file path
func LoadApiGatewayConfig(path string) (*ApiGatewayConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read API Gateway config file '%s': %w", path, err)
	}

	var cfg ApiGatewayConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse API Gateway YAML config file: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
