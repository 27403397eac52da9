package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"logpipe/config"
	"logpipe/internal/messaging/consumer"
	worker "logpipe/processing"
	"logpipe/processing/transform"
	"logpipe/storage/store"
)

// ConsumerSource opens consumers for the engine's workers.
type ConsumerSource interface {
	NewConsumer() (consumer.Consumer, error)
	ConsumerCount() int
}

// Engine is the processing service: pull workers and the push endpoint
// writing to the tenant store.
type Engine struct {
	cfg    *config.EngineConfig
	logger *log.Entry

	workers []*worker.Worker
	router  *gin.Engine
}

// EngineOption configures NewEngine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	clock       clock.Clock
	transformer transform.Transformer
}

// WithEngineClock sets the clock used by the transformer and the workers.
func WithEngineClock(c clock.Clock) EngineOption {
	return func(o *engineOptions) { o.clock = c }
}

// WithTransformer replaces the configured redactor.
func WithTransformer(t transform.Transformer) EngineOption {
	return func(o *engineOptions) { o.transformer = t }
}

// NewEngine builds the engine. When pulling is enabled it opens
// source.ConsumerCount() consumers, each with its own worker pool. The
// store and the consumers are owned by the caller.
func NewEngine(cfg *config.EngineConfig, source ConsumerSource, s store.Store, logger *log.Entry, opts ...EngineOption) (*Engine, error) {
	o := engineOptions{clock: clock.RealClock{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.transformer == nil {
		o.transformer = transform.NewRedactor(cfg.Transform, transform.WithClock(o.clock))
	}

	e := &Engine{cfg: cfg, logger: logger}

	if cfg.Pull() {
		n := source.ConsumerCount()
		logger.Infof("Initializing %d message queue consumers...", n)
		for i := 0; i < n; i++ {
			c, err := source.NewConsumer()
			if err != nil {
				return nil, fmt.Errorf("failed to initialize consumer %d: %w", i+1, err)
			}
			e.workers = append(e.workers, worker.New(cfg.Worker, logger.WithField("consumer", i+1), s, c, o.transformer, worker.WithClock(o.clock)))
		}
	} else {
		logger.Info("pull_enabled is false, serving push deliveries only")
	}

	push := worker.New(cfg.Worker, logger.WithField("component", "push"), s, nil, o.transformer, worker.WithClock(o.clock))
	e.router = NewRouter(logger, cfg.Monitoring)
	worker.NewPushHandler(push, logger.WithField("component", "push")).Register(e.router)
	health := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().Format(time.RFC3339Nano),
			"service":   "engine",
		})
	}
	e.router.GET("/", health)
	if path := cfg.Monitoring.HealthCheckPath; path != "" && path != "/" {
		e.router.GET(path, health)
	}

	return e, nil
}

// Handler returns the HTTP handler serving /process, health and metrics.
func (e *Engine) Handler() http.Handler {
	return e.router
}

// Run starts the workers and the HTTP server and blocks until ctx is
// cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for i, w := range e.workers {
		wg.Add(1)
		go func(id int, w *worker.Worker) {
			defer wg.Done()
			e.logger.Infof("Starting worker %d with its dedicated consumer...", id)
			w.Run(ctx)
			e.logger.Infof("Worker %d stopped.", id)
		}(i+1, w)
	}

	var serveErr error
	var httpServer *http.Server
	if e.cfg.HttpListenAddr != "" {
		// A push request may legitimately run until the ack deadline.
		serverCfg := e.cfg.HttpServer
		if serverCfg.WriteTimeout < e.cfg.Queue.AckDeadline {
			serverCfg.WriteTimeout = e.cfg.Queue.AckDeadline
		}
		httpServer = NewHTTPServer(e.cfg.HttpListenAddr, e.router, serverCfg)
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.logger.Infof("HTTP server listening on %s", e.cfg.HttpListenAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr = fmt.Errorf("HTTP server failed: %w", err)
				cancel()
			}
		}()
	}

	e.logger.Infof("Processing engine started with %d workers.", len(e.workers))
	<-ctx.Done()
	e.logger.Info("Shutting down processing engine...")

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			e.logger.WithError(err).Error("HTTP server shutdown failed")
		}
	}

	wg.Wait()
	e.logger.Info("Processing engine shut down gracefully.")
	return serveErr
}
