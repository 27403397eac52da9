package producer

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"logpipe/internal/models"
)

// PubSubProducer publishes log messages to a Pub/Sub topic. The client is
// owned by the caller.
type PubSubProducer struct {
	topic  *pubsub.Topic
	logger *log.Entry
}

// NewPubSubProducer publishes to topicID through client.
func NewPubSubProducer(client *pubsub.Client, topicID string, logger *log.Entry) *PubSubProducer {
	topic := client.Topic(topicID)
	logger.Infof("Pub/Sub producer created for topic %s", topic.String())
	return &PubSubProducer{topic: topic, logger: logger}
}

func toPubSubMessage(msg *models.LogMessage) (*pubsub.Message, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize log message (log_id: %s): %w", msg.LogID, err)
	}
	return &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"tenant_id": msg.TenantID,
			"log_id":    msg.LogID,
		},
	}, nil
}

// Publish waits for the server to assign a message id.
func (p *PubSubProducer) Publish(ctx context.Context, msg *models.LogMessage) error {
	psMsg, err := toPubSubMessage(msg)
	if err != nil {
		return err
	}
	id, err := p.topic.Publish(ctx, psMsg).Get(ctx)
	if err != nil {
		p.logger.WithError(err).WithField("log_id", msg.LogID).Error("Failed to publish to Pub/Sub")
		return fmt.Errorf("failed to publish to Pub/Sub: %w", err)
	}
	p.logger.WithFields(log.Fields{"log_id": msg.LogID, "message_id": id}).Debug("Published message")
	return nil
}

// PublishBatch publishes every message and waits for all results. The
// client library batches the underlying requests. On error the messages
// whose publish succeeded stay on the topic; the error names the log ids
// that failed.
func (p *PubSubProducer) PublishBatch(ctx context.Context, msgs []*models.LogMessage) error {
	psMsgs := make([]*pubsub.Message, len(msgs))
	for i, msg := range msgs {
		psMsg, err := toPubSubMessage(msg)
		if err != nil {
			return err
		}
		psMsgs[i] = psMsg
	}

	results := make([]*pubsub.PublishResult, len(psMsgs))
	for i, psMsg := range psMsgs {
		results[i] = p.topic.Publish(ctx, psMsg)
	}

	var result *multierror.Error
	for i, res := range results {
		if _, err := res.Get(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("log_id %s: %w", msgs[i].LogID, err))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"count":     len(msgs),
			"published": len(msgs) - len(result.Errors),
		}).Error("Failed to publish Pub/Sub batch")
		return fmt.Errorf("failed to publish batch to Pub/Sub: %w", err)
	}
	return nil
}

// Close flushes pending publishes.
func (p *PubSubProducer) Close() error {
	p.topic.Stop()
	return nil
}

var _ Producer = (*PubSubProducer)(nil)
