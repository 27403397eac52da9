// Package app assembles the gateway and engine from configuration and runs
// their servers until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"logpipe/config"
	core "logpipe/ingestion/service/core"
	grpchandler "logpipe/ingestion/service/grpc"
	httphandler "logpipe/ingestion/service/http"
	"logpipe/internal/messaging/producer"
)

const shutdownTimeout = 15 * time.Second

// Gateway is the ingestion service: HTTP and gRPC front ends over one core
// service publishing to the queue.
type Gateway struct {
	cfg    *config.ApiGatewayConfig
	logger *log.Entry

	svc    *core.Service
	router *gin.Engine
	grpc   *grpc.Server
}

// NewGateway builds the gateway around p. The producer is owned by the
// caller.
func NewGateway(cfg *config.ApiGatewayConfig, p producer.Producer, logger *log.Entry) *Gateway {
	svc := core.NewService(p, logger.WithField("component", "service"), core.Options{
		MaxTextLength:  cfg.MaxTextLength,
		BatchProcessor: cfg.BatchProcessor,
	})

	router := NewRouter(logger, cfg.Monitoring)
	h := httphandler.NewLogHandler(svc, logger.WithField("component", "http"), cfg.HttpServer.MaxBodyBytes)
	h.Register(router)
	if path := cfg.Monitoring.HealthCheckPath; path != "" && path != "/" && path != "/health" {
		router.GET(path, h.HealthCheck)
	}

	grpcServer := NewGRPCServer(logger.WithField("component", "grpc"))
	grpchandler.RegisterLogIngestionServer(grpcServer, grpchandler.NewServer(svc, logger.WithField("component", "grpc")))
	grpc_prometheus.Register(grpcServer)

	return &Gateway{cfg: cfg, logger: logger, svc: svc, router: router, grpc: grpcServer}
}

// Handler returns the HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.router
}

// GRPCServer returns the gRPC server with the ingestion service registered.
func (g *Gateway) GRPCServer() *grpc.Server {
	return g.grpc
}

// Run serves the configured listeners until ctx is cancelled, then shuts
// them down gracefully and flushes pending batches.
func (g *Gateway) Run(ctx context.Context) error {
	defer g.svc.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg      sync.WaitGroup
		errMu   sync.Mutex
		runErrs *multierror.Error
	)
	fail := func(err error) {
		errMu.Lock()
		runErrs = multierror.Append(runErrs, err)
		errMu.Unlock()
		cancel()
	}

	var httpServer *http.Server
	if g.cfg.HttpListenAddr != "" {
		httpServer = NewHTTPServer(g.cfg.HttpListenAddr, g.router, g.cfg.HttpServer)
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.logger.Infof("HTTP server listening on %s", g.cfg.HttpListenAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fail(fmt.Errorf("HTTP server failed: %w", err))
			}
		}()
	} else {
		g.logger.Info("http_listen_addr not configured, skipping HTTP server startup.")
	}

	if g.cfg.GrpcListenAddr != "" {
		lis, err := net.Listen("tcp", g.cfg.GrpcListenAddr)
		if err != nil {
			fail(fmt.Errorf("unable to listen on gRPC address %s: %w", g.cfg.GrpcListenAddr, err))
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				g.logger.Infof("gRPC server listening on %s", g.cfg.GrpcListenAddr)
				if err := g.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
					fail(fmt.Errorf("gRPC server failed: %w", err))
				}
			}()
		}
	} else {
		g.logger.Info("grpc_listen_addr not configured, skipping gRPC server startup.")
	}

	<-ctx.Done()
	g.logger.Info("Shutting down API Gateway...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			fail(fmt.Errorf("HTTP server shutdown failed: %w", err))
		}
	}
	g.grpc.GracefulStop()

	wg.Wait()
	g.logger.Info("API Gateway stopped.")

	errMu.Lock()
	defer errMu.Unlock()
	return runErrs.ErrorOrNil()
}
