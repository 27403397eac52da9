package producer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logpipe/internal/logging"
	"logpipe/internal/messaging/pubsubtest"
	"logpipe/internal/models"
)

func TestPubSubProducerPublish(t *testing.T) {
	srv := pubsubtest.New(t, time.Minute)
	p := NewPubSubProducer(srv.Client, pubsubtest.TopicID, logging.Discard())
	defer p.Close()

	msg := &models.LogMessage{TenantID: "acme", LogID: "log-001", Text: "call 555-1234", Source: "json"}
	require.NoError(t, p.Publish(context.Background(), msg))

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "acme", msgs[0].Attributes["tenant_id"])
	assert.Equal(t, "log-001", msgs[0].Attributes["log_id"])

	var got models.LogMessage
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, *msg, got)
}

func TestPubSubProducerPublishBatch(t *testing.T) {
	srv := pubsubtest.New(t, time.Minute)
	p := NewPubSubProducer(srv.Client, pubsubtest.TopicID, logging.Discard())
	defer p.Close()

	batch := []*models.LogMessage{
		{TenantID: "acme", LogID: "1", Text: "a"},
		{TenantID: "acme", LogID: "2", Text: "b"},
		{TenantID: "globex", LogID: "1", Text: "c"},
	}
	require.NoError(t, p.PublishBatch(context.Background(), batch))
	assert.Len(t, srv.Messages(), 3)
}

func TestPubSubProducerMissingTopic(t *testing.T) {
	srv := pubsubtest.New(t, time.Minute)
	p := NewPubSubProducer(srv.Client, "no-such-topic", logging.Discard())
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := p.Publish(ctx, &models.LogMessage{TenantID: "acme", LogID: "1", Text: "a"})
	assert.Error(t, err)
}

func TestPubSubProducerPublishBatchNamesFailedIDs(t *testing.T) {
	srv := pubsubtest.New(t, time.Minute)
	p := NewPubSubProducer(srv.Client, "no-such-topic", logging.Discard())
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := p.PublishBatch(ctx, []*models.LogMessage{
		{TenantID: "acme", LogID: "log-001", Text: "a"},
		{TenantID: "acme", LogID: "log-002", Text: "b"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_id log-001")
	assert.Contains(t, err.Error(), "log_id log-002")
}
