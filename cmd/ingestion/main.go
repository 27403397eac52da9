package main

import (
	"context"
	"errors"

	"logpipe/config"
	"logpipe/internal/app"
)

func main() {
	app.Execute(app.NewCommand("ingestion", "Runs the log ingestion gateway (HTTP and gRPC)",
		func(ctx context.Context, cfg *config.Config) error {
			if cfg.ApiGateway == nil {
				return errors.New("no ingestion configuration found")
			}
			return app.RunGateway(ctx, cfg.ApiGateway)
		}))
}
