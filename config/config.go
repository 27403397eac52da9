package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	EngineConfigFile     = "engine.defaults.yml"
	ApiGatewayConfigFile = "ingestion.defaults.yml"
)

// Config represents the complete application configuration
type Config struct {
	Engine     *EngineConfig
	ApiGateway *ApiGatewayConfig
}

// LoadConfig loads all configuration files from a directory
func LoadConfig(configDir string) (*Config, error) {
	absDir, err := filepath.Abs(configDir)
	if err != nil {
		return nil, fmt.Errorf("unable to get absolute path of config directory: %w", err)
	}

	config := &Config{}

	// Load engine config
	enginePath := filepath.Join(absDir, EngineConfigFile)
	if _, err := os.Stat(enginePath); err == nil {
		engineCfg, err := LoadEngineConfig(enginePath)
		if err != nil {
			return nil, fmt.Errorf("failed to load engine config: %w", err)
		}
		config.Engine = engineCfg
	}

	// Load API gateway config
	apiGatewayPath := filepath.Join(absDir, ApiGatewayConfigFile)
	if _, err := os.Stat(apiGatewayPath); err == nil {
		apiGatewayCfg, err := LoadApiGatewayConfig(apiGatewayPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load API gateway config: %w", err)
		}
		config.ApiGateway = apiGatewayCfg
	}

	if config.Engine == nil && config.ApiGateway == nil {
		return nil, fmt.Errorf("no configuration files found in %s", absDir)
	}

	return config, nil
}

// OverrideEnvironment replaces the environment flag of every loaded config
// and re-validates. Used when the flag comes from the command line.
func (c *Config) OverrideEnvironment(env string) error {
	if env == "" {
		return nil
	}
	if c.Engine != nil {
		c.Engine.Environment = env
		if err := c.Engine.Validate(); err != nil {
			return fmt.Errorf("engine configuration error: %w", err)
		}
	}
	if c.ApiGateway != nil {
		c.ApiGateway.Environment = env
		if err := c.ApiGateway.Validate(); err != nil {
			return fmt.Errorf("API gateway configuration error: %w", err)
		}
	}
	return nil
}
