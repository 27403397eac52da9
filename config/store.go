package config

import (
	"fmt"
	"time"
)

// Store backends.
const (
	StorePostgres  = "postgres"
	StoreSQLite    = "sqlite"
	StoreMemory    = "memory"
	StoreDatastore = "datastore"
)

// StoreConfig selects and configures the tenant store.
type StoreConfig struct {
	Type string `yaml:"type" json:"type"`

	// postgres
	DSN            string        `yaml:"dsn" json:"dsn"`                         // PostgreSQL connection string
	MaxConnections int           `yaml:"max_connections" json:"max_connections"` // Maximum number of connections
	MinConnections int           `yaml:"min_connections" json:"min_connections"` // Minimum number of connections
	MaxIdleTime    time.Duration `yaml:"max_idle_time" json:"max_idle_time"`
	MaxLifetime    time.Duration `yaml:"max_lifetime" json:"max_lifetime"`
	AutoMigrate    bool          `yaml:"auto_migrate" json:"auto_migrate"`
	ConnectRetries int           `yaml:"connect_retries" json:"connect_retries"`

	// sqlite
	Path string `yaml:"path" json:"path"`

	// datastore
	ProjectID       string `yaml:"project_id" json:"project_id"`
	CredentialsFile string `yaml:"credentials_file" json:"credentials_file"`
}

// SetDefaults sets sensible default values for the store configuration
func (c *StoreConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = StorePostgres
		fmt.Printf("Warning: store.type not set, defaulting to %s\n", c.Type)
	}
	if c.Type != StorePostgres {
		return
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = 50
		fmt.Printf("Warning: store.max_connections not set or invalid, defaulting to %d\n", c.MaxConnections)
	}
	if c.MinConnections <= 0 {
		c.MinConnections = 10
		fmt.Printf("Warning: store.min_connections not set or invalid, defaulting to %d\n", c.MinConnections)
	}
	if c.MaxIdleTime == 0 {
		c.MaxIdleTime = time.Hour
		fmt.Printf("Warning: store.max_idle_time not set, defaulting to %s\n", c.MaxIdleTime)
	}
	if c.MaxLifetime == 0 {
		c.MaxLifetime = 24 * time.Hour
		fmt.Printf("Warning: store.max_lifetime not set, defaulting to %s\n", c.MaxLifetime)
	}
	if c.ConnectRetries <= 0 {
		c.ConnectRetries = 5
		fmt.Printf("Warning: store.connect_retries not set, defaulting to %d\n", c.ConnectRetries)
	}
}

// Validate validates the store configuration
func (c *StoreConfig) Validate(environment string) error {
	switch c.Type {
	case StorePostgres:
		if c.DSN == "" {
			return fmt.Errorf("store dsn is required for postgres")
		}
		if c.MaxConnections <= 0 {
			return fmt.Errorf("store max_connections must be positive")
		}
		if c.MinConnections < 0 {
			return fmt.Errorf("store min_connections cannot be negative")
		}
		if c.MinConnections > c.MaxConnections {
			return fmt.Errorf("store min_connections (%d) cannot be greater than max_connections (%d)",
				c.MinConnections, c.MaxConnections)
		}
	case StoreSQLite:
		if c.Path == "" {
			return fmt.Errorf("store path is required for sqlite")
		}
	case StoreDatastore:
		if c.ProjectID == "" {
			return fmt.Errorf("store project_id is required for datastore")
		}
	case StoreMemory:
		if isProduction(environment) {
			return fmt.Errorf("store type memory is not allowed in production")
		}
	default:
		return fmt.Errorf("unknown store type %q", c.Type)
	}
	return nil
}

// LogConfiguration logs the store configuration (excluding sensitive DSN)
func (c *StoreConfig) LogConfiguration() {
	fmt.Printf("Store Configuration:\n")
	fmt.Printf("  Type: %s\n", c.Type)
	switch c.Type {
	case StorePostgres:
		fmt.Printf("  Max Connections: %d\n", c.MaxConnections)
		fmt.Printf("  Min Connections: %d\n", c.MinConnections)
		fmt.Printf("  Max Idle Time: %s\n", c.MaxIdleTime)
		fmt.Printf("  Max Lifetime: %s\n", c.MaxLifetime)
		fmt.Printf("  DSN: [configured]\n") // Don't log the actual DSN for security
	case StoreSQLite:
		fmt.Printf("  Path: %s\n", c.Path)
	case StoreDatastore:
		fmt.Printf("  Project: %s\n", c.ProjectID)
	}
}
