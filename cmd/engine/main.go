package main

import (
	"context"
	"errors"

	"logpipe/config"
	"logpipe/internal/app"
)

func main() {
	app.Execute(app.NewCommand("engine", "Runs the processing engine consuming the log queue",
		func(ctx context.Context, cfg *config.Config) error {
			if cfg.Engine == nil {
				return errors.New("no engine configuration found")
			}
			return app.RunEngine(ctx, cfg.Engine)
		}))
}
