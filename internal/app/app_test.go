package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"logpipe/config"
	"logpipe/internal/logging"
	"logpipe/internal/messaging"
	"logpipe/storage/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testMonitoring = config.MonitoringConfig{
	EnableMetrics:   true,
	MetricsPath:     "/metrics",
	HealthCheckPath: "/healthz",
}

func memoryQueueConfig() config.QueueConfig {
	return config.QueueConfig{Backend: config.QueueMemory, AckDeadline: 600 * time.Second}
}

func gatewayConfig() *config.ApiGatewayConfig {
	return &config.ApiGatewayConfig{
		Environment:   "test",
		MaxTextLength: 10000,
		Queue:         memoryQueueConfig(),
		HttpServer:    config.HttpServerConfig{MaxBodyBytes: 1 << 20},
		Monitoring:    testMonitoring,
	}
}

func engineConfig(pull bool, costPerChar time.Duration) *config.EngineConfig {
	nack := true
	return &config.EngineConfig{
		Environment: "test",
		PullEnabled: &pull,
		Queue:       memoryQueueConfig(),
		Store:       config.StoreConfig{Type: config.StoreMemory},
		Worker:      config.WorkerConfig{Concurrency: 1, ConsumerRetryDelay: 10 * time.Millisecond, NackOnFailure: &nack},
		Transform: config.TransformConfig{
			CostPerChar:   costPerChar,
			MaxTextLength: 10000,
			Redactions:    map[string]string{"555-": "[REDACTED]-"},
		},
		Monitoring: testMonitoring,
	}
}

func openQueue(t *testing.T) *messaging.Queue {
	t.Helper()
	q, err := messaging.Open(context.Background(), memoryQueueConfig(), logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func newMemoryStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	s, err := store.NewMemoryStore()
	require.NoError(t, err)
	return s
}

func serve(h http.Handler, method, path, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// runInBackground runs fn until the test ends and returns its error channel.
func runInBackground(t *testing.T, fn func(context.Context) error) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
	})
	return cancel, done
}
