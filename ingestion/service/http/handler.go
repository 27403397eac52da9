package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	core "logpipe/ingestion/service/core"
	"logpipe/internal/metrics"
)

const (
	mimeJSON      = "application/json"
	mimeTextPlain = "text/plain"

	// TenantHeader carries the tenant id for plain-text uploads.
	TenantHeader = "X-Tenant-ID"
)

// logPayload is the JSON form of one submitted record.
type logPayload struct {
	TenantID string `json:"tenant_id"`
	LogID    string `json:"log_id"`
	Text     string `json:"text"`
	Source   string `json:"source"`
}

// LogHandler encapsulates the logic for handling HTTP log requests
type LogHandler struct {
	svc          *core.Service
	logger       *log.Entry
	maxBodyBytes int64
}

// NewLogHandler creates a new LogHandler. maxBodyBytes <= 0 disables the
// body size limit.
func NewLogHandler(s *core.Service, l *log.Entry, maxBodyBytes int64) *LogHandler {
	return &LogHandler{svc: s, logger: l, maxBodyBytes: maxBodyBytes}
}

// Register mounts the ingestion and liveness routes on r.
func (h *LogHandler) Register(r gin.IRoutes) {
	r.POST("/ingest", h.SubmitLog)
	r.POST("/v1/logs", h.SubmitLog)
	r.POST("/v1/logs/batch", h.SubmitBatch)
	r.GET("/", h.HealthCheck)
	r.GET("/health", h.HealthCheck)
}

// HTTPStatus maps a gateway error to its response code.
func HTTPStatus(err error) int {
	switch core.Category(err) {
	case core.CategoryInvalidField:
		return http.StatusBadRequest
	case core.CategoryUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case core.CategoryPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case core.CategoryPublishFailed:
		return http.StatusServiceUnavailable
	case core.CategoryPublishUnconfirmed:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// readBody reads the request body within the size limit.
func (h *LogHandler) readBody(c *gin.Context) ([]byte, error) {
	if h.maxBodyBytes > 0 {
		if c.Request.ContentLength > h.maxBodyBytes {
			return nil, fmt.Errorf("%w: limit is %d bytes", core.ErrPayloadTooLarge, h.maxBodyBytes)
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)
	}
	defer c.Request.Body.Close()

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("%w: limit is %d bytes", core.ErrPayloadTooLarge, tooLarge.Limit)
		}
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidBody, err)
	}
	return body, nil
}

// parseInput turns the request into a service input according to its
// content type.
func (h *LogHandler) parseInput(c *gin.Context) (*core.LogInput, error) {
	contentType := c.ContentType()
	if contentType != mimeJSON && contentType != mimeTextPlain {
		return nil, fmt.Errorf("%w: %q, expected %s or %s", core.ErrUnsupportedFormat, contentType, mimeJSON, mimeTextPlain)
	}

	body, err := h.readBody(c)
	if err != nil {
		return nil, err
	}
	header := c.GetHeader(TenantHeader)

	if contentType == mimeTextPlain {
		return &core.LogInput{
			HeaderTenantID: header,
			Text:           string(body),
			Source:         core.SourceTextUpload,
		}, nil
	}

	var payload logPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidBody, err)
	}
	return payload.input(header), nil
}

func (p *logPayload) input(headerTenantID string) *core.LogInput {
	source := p.Source
	if source == "" {
		source = core.SourceJSON
	}
	return &core.LogInput{
		TenantID:       p.TenantID,
		HeaderTenantID: headerTenantID,
		LogID:          p.LogID,
		Text:           p.Text,
		Source:         source,
	}
}

// SubmitLog handles POST /ingest and POST /v1/logs requests
func (h *LogHandler) SubmitLog(c *gin.Context) {
	input, err := h.parseInput(c)
	if err != nil {
		metrics.RecordRejected(core.Category(err))
		h.respondError(c, err)
		return
	}

	result, err := h.svc.SubmitLog(c.Request.Context(), input)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status": "accepted",
		"log_id": result.LogID,
	})
}

// SubmitBatch handles POST /v1/logs/batch requests. The body is a JSON
// array of records. An invalid record rejects the batch before anything is
// enqueued. A publish failure may leave part of the batch queued, so a
// client retry can deliver those records twice.
func (h *LogHandler) SubmitBatch(c *gin.Context) {
	if ct := c.ContentType(); ct != mimeJSON {
		err := fmt.Errorf("%w: %q, expected %s", core.ErrUnsupportedFormat, ct, mimeJSON)
		metrics.RecordRejected(core.Category(err))
		h.respondError(c, err)
		return
	}
	body, err := h.readBody(c)
	if err != nil {
		metrics.RecordRejected(core.Category(err))
		h.respondError(c, err)
		return
	}

	var payloads []logPayload
	if err := json.Unmarshal(body, &payloads); err != nil {
		err = fmt.Errorf("%w: %v", core.ErrInvalidBody, err)
		metrics.RecordRejected(core.Category(err))
		h.respondError(c, err)
		return
	}

	header := c.GetHeader(TenantHeader)
	inputs := make([]*core.LogInput, len(payloads))
	for i := range payloads {
		inputs[i] = payloads[i].input(header)
	}

	results, err := h.svc.SubmitBatch(c.Request.Context(), inputs)
	if err != nil {
		h.respondError(c, err)
		return
	}

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.LogID
	}
	c.JSON(http.StatusAccepted, gin.H{
		"status":  "accepted",
		"log_ids": ids,
	})
}

// HealthCheck handles GET / and GET /health requests. It reports that the
// process is serving, not that the queue is reachable.
func (h *LogHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339Nano),
		"service":   "ingestion",
	})
}

// respondError sends error response
func (h *LogHandler) respondError(c *gin.Context, err error) {
	statusCode := HTTPStatus(err)
	entry := h.logger.WithError(err).WithField("path", c.FullPath())
	if statusCode >= http.StatusInternalServerError {
		entry.Error("HTTP Handler: request failed")
	} else {
		entry.Debug("HTTP Handler: request rejected")
	}

	c.JSON(statusCode, gin.H{
		"error":    err.Error(),
		"category": core.Category(err),
		"status":   statusCode,
		"message":  http.StatusText(statusCode),
	})
}
