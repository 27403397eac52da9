package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	"logpipe/config"
	"logpipe/internal/logging"
	"logpipe/internal/messaging"
	"logpipe/storage/store"
)

// RunGateway runs the ingestion gateway until ctx is cancelled.
func RunGateway(ctx context.Context, cfg *config.ApiGatewayConfig) (err error) {
	logger := logging.New(cfg.Environment, cfg.Monitoring.LogLevel, "ingestion")
	logger.Info("Starting API Gateway (Ingestion Service)...")

	queue, err := messaging.Open(ctx, cfg.Queue, logger)
	if err != nil {
		return fmt.Errorf("failed to open queue: %w", err)
	}
	defer closeInto(&err, queue.Close)

	p, err := queue.Producer()
	if err != nil {
		return fmt.Errorf("failed to initialize producer: %w", err)
	}
	return NewGateway(cfg, p, logger).Run(ctx)
}

// RunEngine runs the processing engine until ctx is cancelled.
func RunEngine(ctx context.Context, cfg *config.EngineConfig) (err error) {
	logger := logging.New(cfg.Environment, cfg.Monitoring.LogLevel, "engine")
	logger.Info("Starting processing engine...")

	cfg.Store.LogConfiguration()
	s, err := store.NewStore(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer closeInto(&err, s.Close)

	queue, err := messaging.Open(ctx, cfg.Queue, logger)
	if err != nil {
		return fmt.Errorf("failed to open queue: %w", err)
	}
	defer closeInto(&err, queue.Close)

	engine, err := NewEngine(cfg, queue, s, logger)
	if err != nil {
		return err
	}
	return engine.Run(ctx)
}

// RunStandalone runs the gateway and the engine in one process over the
// engine's queue configuration. With the memory backend the two share the
// in-process broker and nothing else.
func RunStandalone(ctx context.Context, cfg *config.Config) (err error) {
	if cfg.Engine == nil || cfg.ApiGateway == nil {
		return errors.New("standalone mode needs both engine and ingestion configuration")
	}
	logger := logging.New(cfg.Engine.Environment, cfg.Engine.Monitoring.LogLevel, "standalone")
	logger.Infof("Starting standalone pipeline on the %s queue...", cfg.Engine.Queue.Backend)

	s, err := store.NewStore(ctx, cfg.Engine.Store, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer closeInto(&err, s.Close)

	queue, err := messaging.Open(ctx, cfg.Engine.Queue, logger)
	if err != nil {
		return fmt.Errorf("failed to open queue: %w", err)
	}
	defer closeInto(&err, queue.Close)

	p, err := queue.Producer()
	if err != nil {
		return fmt.Errorf("failed to initialize producer: %w", err)
	}
	gateway := NewGateway(cfg.ApiGateway, p, logger.WithField("service", "ingestion"))
	engine, err := NewEngine(cfg.Engine, queue, s, logger.WithField("service", "engine"))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		runErrs *multierror.Error
	)
	for _, run := range []func(context.Context) error{gateway.Run, engine.Run} {
		wg.Add(1)
		go func(run func(context.Context) error) {
			defer wg.Done()
			if err := run(ctx); err != nil {
				mu.Lock()
				runErrs = multierror.Append(runErrs, err)
				mu.Unlock()
			}
			// Either side stopping stops the other.
			cancel()
		}(run)
	}
	wg.Wait()
	return runErrs.ErrorOrNil()
}

// closeInto runs closeFn and merges its error into *err.
func closeInto(err *error, closeFn func() error) {
	if cerr := closeFn(); cerr != nil {
		*err = multierror.Append(*err, cerr).ErrorOrNil()
	}
}
