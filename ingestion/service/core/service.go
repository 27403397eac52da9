package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"logpipe/config"
	"logpipe/internal/messaging/producer"
	"logpipe/internal/metrics"
	"logpipe/internal/models"
)

// Sources recorded for the accepted input formats.
const (
	SourceJSON       = "json"
	SourceTextUpload = "text_upload"
	SourceGRPC       = "grpc"

	// sourceOther labels metrics for client-chosen sources, which would
	// otherwise create one series per distinct value.
	sourceOther = "other"
)

// sourceLabel maps a record's source to a bounded metric label.
func sourceLabel(source string) string {
	switch source {
	case SourceJSON, SourceTextUpload, SourceGRPC, models.DefaultSource:
		return source
	default:
		return sourceOther
	}
}

// Client-visible error categories.
const (
	CategoryInvalidField      = "invalid_field"
	CategoryUnsupportedFormat = "unsupported_format"
	CategoryPayloadTooLarge   = "payload_too_large"
	CategoryPublishFailed     = "publish_failed"
	CategoryInternal          = "internal"

	// CategoryPublishUnconfirmed means the caller gave up while the publish
	// was in flight. The record may or may not be queued.
	CategoryPublishUnconfirmed = "publish_unconfirmed"
)

var (
	ErrMissingTenant      = errors.New("tenant_id is required")
	ErrEmptyText          = errors.New("text must not be empty")
	ErrTenantMismatch     = errors.New("tenant_id in body does not match X-Tenant-ID header")
	ErrInvalidID          = errors.New("tenant_id and log_id must not contain control characters")
	ErrInvalidBody        = errors.New("request body is not valid")
	ErrUnsupportedFormat  = errors.New("unsupported content type")
	ErrPayloadTooLarge    = errors.New("payload too large")
	ErrTextTooLong        = errors.New("text exceeds maximum length")
	ErrPublishFailed      = errors.New("failed to enqueue log")
	ErrPublishUnconfirmed = errors.New("enqueue outcome unknown, the log may have been queued")
)

// Category maps an error returned by the gateway to its client-visible
// category.
func Category(err error) string {
	switch {
	case errors.Is(err, ErrMissingTenant), errors.Is(err, ErrEmptyText),
		errors.Is(err, ErrTenantMismatch), errors.Is(err, ErrInvalidBody),
		errors.Is(err, ErrInvalidID):
		return CategoryInvalidField
	case errors.Is(err, ErrUnsupportedFormat):
		return CategoryUnsupportedFormat
	case errors.Is(err, ErrPayloadTooLarge), errors.Is(err, ErrTextTooLong):
		return CategoryPayloadTooLarge
	case errors.Is(err, ErrPublishUnconfirmed):
		return CategoryPublishUnconfirmed
	case errors.Is(err, ErrPublishFailed):
		return CategoryPublishFailed
	default:
		return CategoryInternal
	}
}

// LogInput defines the core information required for log submission
type LogInput struct {
	TenantID string
	// HeaderTenantID is the X-Tenant-ID header, used when TenantID is empty.
	HeaderTenantID string
	LogID          string // Optional, generated when empty
	Text           string
	Source         string
}

// LogResult defines the return information after successful submission
type LogResult struct {
	TenantID   string
	LogID      string
	ReceivedAt time.Time
}

// Options tunes a Service.
type Options struct {
	// MaxTextLength rejects longer texts. Zero disables the check.
	MaxTextLength  int
	BatchProcessor config.BatchProcessorConfig
	// NewLogID generates ids for records submitted without one.
	NewLogID func() string
}

// Service encapsulates the core business logic of the API gateway
type Service struct {
	producer       producer.Producer
	logger         *log.Entry
	maxTextLength  int
	newLogID       func() string
	batchProcessor *BatchProcessor
}

// NewService creates a new Service instance with configuration
func NewService(p producer.Producer, l *log.Entry, opts Options) *Service {
	s := &Service{
		producer:      p,
		logger:        l,
		maxTextLength: opts.MaxTextLength,
		newLogID:      opts.NewLogID,
	}
	if s.newLogID == nil {
		s.newLogID = uuid.NewString
	}
	if opts.BatchProcessor.Enabled {
		s.batchProcessor = NewBatchProcessor(opts.BatchProcessor.BatchSize, opts.BatchProcessor.BatchTimeout, p, l)
	}
	return s
}

// normalize validates input and builds the queued message.
func (s *Service) normalize(input *LogInput) (*models.LogMessage, error) {
	tenantID := strings.TrimSpace(input.TenantID)
	headerTenantID := strings.TrimSpace(input.HeaderTenantID)
	switch {
	case tenantID == "":
		tenantID = headerTenantID
	case headerTenantID != "" && headerTenantID != tenantID:
		return nil, ErrTenantMismatch
	}
	if tenantID == "" {
		return nil, ErrMissingTenant
	}
	if err := models.CheckID(tenantID); err != nil {
		return nil, fmt.Errorf("%w: tenant_id: %v", ErrInvalidID, err)
	}

	if strings.TrimSpace(input.Text) == "" {
		return nil, ErrEmptyText
	}
	if n := utf8.RuneCountInString(input.Text); s.maxTextLength > 0 && n > s.maxTextLength {
		return nil, fmt.Errorf("%w: %d characters, limit %d", ErrTextTooLong, n, s.maxTextLength)
	}

	logID := strings.TrimSpace(input.LogID)
	if logID == "" {
		logID = s.newLogID()
	} else if err := models.CheckID(logID); err != nil {
		return nil, fmt.Errorf("%w: log_id: %v", ErrInvalidID, err)
	}

	return &models.LogMessage{
		TenantID: tenantID,
		LogID:    logID,
		Text:     input.Text,
		Source:   strings.TrimSpace(input.Source),
	}, nil
}

// SubmitLog validates one record and returns once the queue has accepted
// it. Nothing is enqueued when an error is returned.
func (s *Service) SubmitLog(ctx context.Context, input *LogInput) (*LogResult, error) {
	msg, err := s.normalize(input)
	if err != nil {
		metrics.RecordRejected(Category(err))
		return nil, err
	}

	if s.batchProcessor != nil {
		err = s.batchProcessor.Submit(ctx, msg)
	} else {
		err = s.producer.Publish(ctx, msg)
	}
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"tenant_id": msg.TenantID,
			"log_id":    msg.LogID,
		}).Error("Service: failed to publish log")
		return nil, publishError(ctx, err)
	}

	metrics.RecordAccepted(sourceLabel(msg.SourceOrDefault()))
	s.logger.WithFields(log.Fields{
		"tenant_id": msg.TenantID,
		"log_id":    msg.LogID,
		"source":    msg.Source,
	}).Debug("Service: log accepted")

	return &LogResult{TenantID: msg.TenantID, LogID: msg.LogID, ReceivedAt: time.Now().UTC()}, nil
}

// publishError classifies a failed publish. Once the caller's ctx has ended
// the queue may still accept the record, so that case is reported as
// unconfirmed rather than failed.
func publishError(ctx context.Context, err error) error {
	if errors.Is(err, ErrPublishUnconfirmed) {
		metrics.RecordRejected(CategoryPublishUnconfirmed)
		return err
	}
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		metrics.RecordRejected(CategoryPublishUnconfirmed)
		return fmt.Errorf("%w: %v", ErrPublishUnconfirmed, err)
	}
	metrics.RecordRejected(CategoryPublishFailed)
	return fmt.Errorf("%w: %v", ErrPublishFailed, err)
}

// SubmitBatch validates every record before publishing any of them. An
// invalid record rejects the whole batch and the error names its index.
// A publish error does not mean nothing was queued: the producer may have
// accepted part of the batch.
func (s *Service) SubmitBatch(ctx context.Context, inputs []*LogInput) ([]*LogResult, error) {
	if len(inputs) == 0 {
		err := fmt.Errorf("%w: batch is empty", ErrInvalidBody)
		metrics.RecordRejected(Category(err))
		return nil, err
	}

	msgs := make([]*models.LogMessage, len(inputs))
	for i, input := range inputs {
		msg, err := s.normalize(input)
		if err != nil {
			metrics.RecordRejected(Category(err))
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		msgs[i] = msg
	}

	if err := s.producer.PublishBatch(ctx, msgs); err != nil {
		s.logger.WithError(err).Errorf("Service: failed to publish batch of %d logs", len(msgs))
		return nil, publishError(ctx, err)
	}

	now := time.Now().UTC()
	results := make([]*LogResult, len(msgs))
	for i, msg := range msgs {
		metrics.RecordAccepted(sourceLabel(msg.SourceOrDefault()))
		results[i] = &LogResult{TenantID: msg.TenantID, LogID: msg.LogID, ReceivedAt: now}
	}
	s.logger.Debugf("Service: batch of %d logs accepted", len(msgs))
	return results, nil
}

// Close gracefully shuts down the service
func (s *Service) Close() {
	if s.batchProcessor != nil {
		s.batchProcessor.Close()
	}
}
