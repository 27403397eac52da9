package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"logpipe/config"
)

const (
	flagConfigDir   = "config-dir"
	flagEnvironment = "environment"

	// envPrefix makes every flag settable as LOGPIPE_<FLAG>, e.g.
	// LOGPIPE_CONFIG_DIR.
	envPrefix = "logpipe"
)

// RunFunc is the body of a command once configuration is loaded. ctx is
// cancelled on SIGINT or SIGTERM.
type RunFunc func(ctx context.Context, cfg *config.Config) error

// NewCommand builds a root command that loads the configuration directory,
// applies the environment override and calls run.
func NewCommand(use, short string, run RunFunc) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:          use,
		Short:        short,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadConfig(v.GetString(flagConfigDir), v.GetString(flagEnvironment))
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().String(flagConfigDir, "./config", "directory holding engine.defaults.yml and ingestion.defaults.yml")
	cmd.Flags().String(flagEnvironment, "", "overrides the environment of every loaded configuration")
	_ = v.BindPFlag(flagConfigDir, cmd.Flags().Lookup(flagConfigDir))
	_ = v.BindPFlag(flagEnvironment, cmd.Flags().Lookup(flagEnvironment))
	return cmd
}

// LoadConfig loads dir and applies env when it is set.
func LoadConfig(dir, env string) (*config.Config, error) {
	cfg, err := config.LoadConfig(dir)
	if err != nil {
		return nil, err
	}
	if err := cfg.OverrideEnvironment(env); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Execute runs cmd and exits non-zero on error.
func Execute(cmd *cobra.Command) {
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
