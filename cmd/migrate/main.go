package main

import (
	"context"
	"errors"

	"logpipe/config"
	"logpipe/internal/app"
	"logpipe/internal/logging"
	"logpipe/storage/store/migrations"
)

func main() {
	app.Execute(app.NewCommand("migrate", "Applies the Postgres schema of the tenant store",
		func(_ context.Context, cfg *config.Config) error {
			if cfg.Engine == nil {
				return errors.New("no engine configuration found")
			}
			if cfg.Engine.Store.Type != config.StorePostgres {
				return errors.New("migrations only apply to the postgres store")
			}
			logger := logging.New(cfg.Engine.Environment, cfg.Engine.Monitoring.LogLevel, "migrate")
			return migrations.RunMigrationsUp(cfg.Engine.Store.DSN, logger)
		}))
}
