package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "logpipe/ingestion/service/core"
	"logpipe/internal/logging"
	"logpipe/internal/messaging/memqueue"
	"logpipe/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type failingProducer struct{}

func (failingProducer) Publish(context.Context, *models.LogMessage) error {
	return errors.New("broker down")
}

func (failingProducer) PublishBatch(context.Context, []*models.LogMessage) error {
	return errors.New("broker down")
}

func (failingProducer) Close() error { return nil }

type fixture struct {
	broker *memqueue.Broker
	router *gin.Engine
}

func newFixture(t *testing.T, maxBody int64) *fixture {
	t.Helper()
	broker := memqueue.NewBroker(time.Minute, logging.Discard())
	t.Cleanup(func() { _ = broker.Close() })

	svc := core.NewService(broker, logging.Discard(), core.Options{MaxTextLength: 1000})
	r := gin.New()
	NewLogHandler(svc, logging.Discard(), maxBody).Register(r)
	return &fixture{broker: broker, router: r}
}

func (f *fixture) do(method, path, contentType, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) next(t *testing.T) *models.LogMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d, err := f.broker.Consume(ctx)
	require.NoError(t, err)
	d.Ack()
	return d.Message
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestSubmitJSON(t *testing.T) {
	f := newFixture(t, 1<<20)

	for _, path := range []string{"/ingest", "/v1/logs"} {
		rec := f.do(http.MethodPost, path, "application/json",
			`{"tenant_id":"acme","log_id":"log-001","text":"call 555-1234"}`, nil)
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
		assert.Equal(t, map[string]interface{}{"status": "accepted", "log_id": "log-001"}, decode(t, rec))

		msg := f.next(t)
		assert.Equal(t, models.LogMessage{TenantID: "acme", LogID: "log-001", Text: "call 555-1234", Source: "json"}, *msg)
	}
}

func TestSubmitJSONWithCharset(t *testing.T) {
	f := newFixture(t, 1<<20)
	rec := f.do(http.MethodPost, "/ingest", "application/json; charset=utf-8",
		`{"tenant_id":"acme","text":"hi","source":"mobile"}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	body := decode(t, rec)
	assert.NotEmpty(t, body["log_id"])
	msg := f.next(t)
	assert.Equal(t, "mobile", msg.Source)
	assert.Equal(t, body["log_id"], msg.LogID)
}

func TestSubmitPlainText(t *testing.T) {
	f := newFixture(t, 1<<20)
	rec := f.do(http.MethodPost, "/ingest", "text/plain", "call 555-1234", map[string]string{TenantHeader: "acme"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	msg := f.next(t)
	assert.Equal(t, "acme", msg.TenantID)
	assert.Equal(t, "call 555-1234", msg.Text)
	assert.Equal(t, core.SourceTextUpload, msg.Source)
	assert.NotEmpty(t, msg.LogID)
}

func TestSubmitRejections(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		headers     map[string]string
		code        int
		category    string
	}{
		{"missing tenant", "application/json", `{"text":"hi"}`, nil, http.StatusBadRequest, core.CategoryInvalidField},
		{"empty text", "application/json", `{"tenant_id":"acme","text":""}`, nil, http.StatusBadRequest, core.CategoryInvalidField},
		{"malformed json", "application/json", `{"tenant_id":`, nil, http.StatusBadRequest, core.CategoryInvalidField},
		{"tenant mismatch", "application/json", `{"tenant_id":"acme","text":"hi"}`, map[string]string{TenantHeader: "globex"}, http.StatusBadRequest, core.CategoryInvalidField},
		{"plain text without tenant", "text/plain", "hi", nil, http.StatusBadRequest, core.CategoryInvalidField},
		{"nul in tenant", "application/json", `{"tenant_id":"a\u0000b","log_id":"c","text":"hi"}`, nil, http.StatusBadRequest, core.CategoryInvalidField},
		{"nul in log id", "application/json", `{"tenant_id":"a","log_id":"b\u0000c","text":"hi"}`, nil, http.StatusBadRequest, core.CategoryInvalidField},
		{"xml", "application/xml", "<log/>", nil, http.StatusUnsupportedMediaType, core.CategoryUnsupportedFormat},
		{"no content type", "", `{"tenant_id":"acme","text":"hi"}`, nil, http.StatusUnsupportedMediaType, core.CategoryUnsupportedFormat},
		{"too long", "application/json", `{"tenant_id":"acme","text":"` + strings.Repeat("x", 1001) + `"}`, nil, http.StatusRequestEntityTooLarge, core.CategoryPayloadTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 1<<20)
			rec := f.do(http.MethodPost, "/ingest", tt.contentType, tt.body, tt.headers)
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.category, decode(t, rec)["category"])
			assert.Equal(t, memqueue.Stats{}, f.broker.Stats())
		})
	}
}

func TestSubmitBodyTooLarge(t *testing.T) {
	f := newFixture(t, 64)
	rec := f.do(http.MethodPost, "/ingest", "text/plain", strings.Repeat("x", 65), map[string]string{TenantHeader: "acme"})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, memqueue.Stats{}, f.broker.Stats())
}

func TestSubmitBodyTooLargeWithoutContentLength(t *testing.T) {
	f := newFixture(t, 64)
	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(strings.Repeat("x", 65)))
	req.ContentLength = -1
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set(TenantHeader, "acme")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestSubmitPublishFailure(t *testing.T) {
	svc := core.NewService(failingProducer{}, logging.Discard(), core.Options{})
	r := gin.New()
	NewLogHandler(svc, logging.Discard(), 0).Register(r)

	req := httptest.NewRequest(http.MethodPost, "/v1/logs", strings.NewReader(`{"tenant_id":"acme","text":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, core.CategoryPublishFailed, decode(t, rec)["category"])
}

func TestSubmitBatch(t *testing.T) {
	f := newFixture(t, 1<<20)
	rec := f.do(http.MethodPost, "/v1/logs/batch", "application/json",
		`[{"tenant_id":"acme","log_id":"1","text":"a"},{"text":"b"}]`, map[string]string{TenantHeader: "acme"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	body := decode(t, rec)
	ids, ok := body["log_ids"].([]interface{})
	require.True(t, ok)
	require.Len(t, ids, 2)
	assert.Equal(t, "1", ids[0])
	assert.Equal(t, memqueue.Stats{Ready: 2}, f.broker.Stats())
}

func TestSubmitBatchInvalidItem(t *testing.T) {
	f := newFixture(t, 1<<20)
	rec := f.do(http.MethodPost, "/v1/logs/batch", "application/json",
		`[{"tenant_id":"acme","text":"a"},{"tenant_id":"acme","text":"  "}]`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "item 1")
	assert.Equal(t, memqueue.Stats{}, f.broker.Stats())

	rec = f.do(http.MethodPost, "/v1/logs/batch", "text/plain", "a", nil)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(t, 0)
	for _, path := range []string{"/", "/health"} {
		rec := f.do(http.MethodGet, path, "", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "healthy", decode(t, rec)["status"])
	}
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(core.ErrMissingTenant))
	assert.Equal(t, http.StatusUnsupportedMediaType, HTTPStatus(core.ErrUnsupportedFormat))
	assert.Equal(t, http.StatusRequestEntityTooLarge, HTTPStatus(core.ErrPayloadTooLarge))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(core.ErrPublishFailed))
	assert.Equal(t, http.StatusGatewayTimeout, HTTPStatus(core.ErrPublishUnconfirmed))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("boom")))
}
