package worker

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"logpipe/internal/metrics"
	"logpipe/internal/models"
)

// PushEnvelope is the body Pub/Sub POSTs to a push endpoint.
type PushEnvelope struct {
	Message struct {
		Data       []byte            `json:"data"` // base64 in JSON
		MessageID  string            `json:"messageId"`
		Attributes map[string]string `json:"attributes"`
	} `json:"message"`
	Subscription    string `json:"subscription"`
	DeliveryAttempt int    `json:"deliveryAttempt"`
}

// PushHandler serves push deliveries. The response status is the ack: 2xx
// acknowledges the message, anything else makes Pub/Sub redeliver it.
type PushHandler struct {
	worker *Worker
	logger *log.Entry
}

// NewPushHandler creates a handler that processes deliveries with w.
func NewPushHandler(w *Worker, logger *log.Entry) *PushHandler {
	return &PushHandler{worker: w, logger: logger}
}

// Register mounts the push endpoint on r.
func (h *PushHandler) Register(r gin.IRoutes) {
	r.POST("/process", h.Process)
}

// Process handles POST /process requests
func (h *PushHandler) Process(c *gin.Context) {
	var env PushEnvelope
	if err := c.ShouldBindJSON(&env); err != nil || (env.Message.MessageID == "" && len(env.Message.Data) == 0) {
		h.logger.WithError(err).Warn("Push handler: unrecognized envelope")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid push envelope"})
		return
	}

	entry := h.logger.WithFields(log.Fields{
		"message_id":   env.Message.MessageID,
		"attempt":      env.DeliveryAttempt,
		"subscription": env.Subscription,
	})
	metrics.RecordDelivery(env.DeliveryAttempt)

	var msg models.LogMessage
	if err := json.Unmarshal(env.Message.Data, &msg); err != nil {
		entry.WithError(err).Error("Push handler: undecodable payload, discarding")
		metrics.RecordProcessed(metrics.OutcomeDiscarded)
		c.JSON(http.StatusOK, gin.H{"status": "discarded", "reason": "malformed payload"})
		return
	}
	entry = entry.WithFields(log.Fields{"tenant_id": msg.TenantID, "log_id": msg.LogID})

	rec, err := h.worker.Process(c.Request.Context(), &msg)
	switch {
	case err == nil:
		metrics.RecordProcessed(metrics.OutcomeWritten)
		entry.WithField("processing_time_seconds", rec.ProcessingTimeSeconds).Info("Processed pushed log")
		c.JSON(http.StatusOK, gin.H{"status": "processed", "log_id": rec.LogID})
	case errors.Is(err, ErrInvalidMessage):
		metrics.RecordProcessed(metrics.OutcomeDiscarded)
		entry.WithError(err).Error("Push handler: discarding invalid message")
		c.JSON(http.StatusOK, gin.H{"status": "discarded", "reason": err.Error()})
	default:
		metrics.RecordProcessed(metrics.OutcomeFailed)
		entry.WithError(err).Error("Push handler: processing failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
	}
}
