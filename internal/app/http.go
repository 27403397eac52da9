package app

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"logpipe/config"
)

// NewRouter creates a gin engine with recovery, request logging and, when
// enabled, the Prometheus endpoint.
func NewRouter(logger *log.Entry, monitoring config.MonitoringConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))
	if monitoring.EnableMetrics {
		r.GET(monitoring.MetricsPath, gin.WrapH(promhttp.Handler()))
	}
	return r
}

// requestLogger logs one line per request at debug level, or warn for
// server errors.
func requestLogger(logger *log.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logger.WithFields(log.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("HTTP request failed")
		} else {
			entry.Debug("HTTP request")
		}
	}
}

// NewHTTPServer wraps handler in an http.Server with the configured limits.
func NewHTTPServer(addr string, handler http.Handler, cfg config.HttpServerConfig) *http.Server {
	return &http.Server{
		Addr:           addr,
		Handler:        handler,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
	}
}
