package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logpipe/config"
)

const standaloneConfigDir = "../../config/standalone"

func TestLoadConfigStandalone(t *testing.T) {
	cfg, err := LoadConfig(standaloneConfigDir, "")
	require.NoError(t, err)
	require.NotNil(t, cfg.Engine)
	require.NotNil(t, cfg.ApiGateway)
	assert.Equal(t, config.QueueMemory, cfg.Engine.Queue.Backend)
	assert.Equal(t, config.StoreSQLite, cfg.Engine.Store.Type)
}

func TestLoadConfigProductionRejectsMemoryQueue(t *testing.T) {
	_, err := LoadConfig(standaloneConfigDir, "production")
	assert.Error(t, err)
}

func TestCommandPassesConfig(t *testing.T) {
	var got *config.Config
	cmd := NewCommand("test", "", func(ctx context.Context, cfg *config.Config) error {
		got = cfg
		return nil
	})
	cmd.SetArgs([]string{"--config-dir", standaloneConfigDir, "--environment", "staging"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	require.NotNil(t, got)
	assert.Equal(t, "staging", got.Engine.Environment)
	assert.Equal(t, "staging", got.ApiGateway.Environment)
}

func TestCommandConfigDirFromEnvironment(t *testing.T) {
	dir, err := filepath.Abs(standaloneConfigDir)
	require.NoError(t, err)
	t.Setenv("LOGPIPE_CONFIG_DIR", dir)

	called := false
	cmd := NewCommand("test", "", func(context.Context, *config.Config) error {
		called = true
		return nil
	})
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.True(t, called)
}

func TestCommandMissingConfig(t *testing.T) {
	cmd := NewCommand("test", "", func(context.Context, *config.Config) error { return nil })
	cmd.SetArgs([]string{"--config-dir", t.TempDir()})
	assert.Error(t, cmd.ExecuteContext(context.Background()))
}
