package messaging

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/smallbiznis/classpay/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBuildPublishing(t *testing.T) {
	ctx := correlation.ContextWithCorrelationID(context.Background(), "cid-42")
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	msg, err := buildPublishing(ctx, "payment.succeeded", map[string]string{"payment_id": "1"}, now)
	require.NoError(t, err)

	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "cid-42", msg.CorrelationId)
	assert.Equal(t, "payment.succeeded", msg.Type)
	assert.NotEmpty(t, msg.MessageId)
	assert.Equal(t, "cid-42", msg.Headers["correlation_id"])

	var env Envelope
	require.NoError(t, json.Unmarshal(msg.Body, &env))
	assert.Equal(t, msg.MessageId, env.ID)
	assert.Equal(t, "payment.succeeded", env.Type)
	assert.JSONEq(t, `{"payment_id":"1"}`, string(env.Data))
}

func TestBuildPublishingRejectsUnencodable(t *testing.T) {
	_, err := buildPublishing(context.Background(), "payment.failed", make(chan int), time.Now())
	assert.Error(t, err)
}

func TestNopPublisher(t *testing.T) {
	pub := NewNopPublisher(zap.NewNop())
	assert.NoError(t, pub.Publish(context.Background(), "invoice.issued", struct{}{}))
}
