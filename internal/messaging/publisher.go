package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/smallbiznis/classpay/internal/observability/logger"
	"github.com/smallbiznis/classpay/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

var ErrPublisherClosed = errors.New("publisher_closed")

// Publisher announces domain outcomes to other services.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload any) error
}

// Envelope is the JSON body of every published message.
type Envelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

type AMQPPublisher struct {
	exchange string
	log      *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool
}

// NewAMQPPublisher dials the broker and declares the durable direct exchange.
func NewAMQPPublisher(url, exchange string, log *zap.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchange,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &AMQPPublisher{
		exchange: exchange,
		log:      log.Named("messaging.amqp"),
		now:      time.Now,
		conn:     conn,
		channel:  channel,
	}, nil
}

// Publish sends payload routed by eventType. The channel is not safe for
// concurrent use, so publishes are serialized.
func (p *AMQPPublisher) Publish(ctx context.Context, eventType string, payload any) error {
	msg, err := buildPublishing(ctx, eventType, payload, p.now().UTC())
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPublisherClosed
	}

	err = p.channel.PublishWithContext(ctx,
		p.exchange,
		eventType,
		false, // mandatory
		false, // immediate
		msg,
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	logger.WithContext(ctx, p.log).Debug("message published",
		zap.String("event_type", eventType),
		zap.String("message_id", msg.MessageId),
	)
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func buildPublishing(ctx context.Context, eventType string, payload any, now time.Time) (amqp.Publishing, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal message: %w", err)
	}

	id := uuid.NewString()
	body, err := json.Marshal(Envelope{
		ID:         id,
		Type:       eventType,
		OccurredAt: now,
		Data:       data,
	})
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal envelope: %w", err)
	}

	headers := amqp.Table{}
	for k, v := range correlation.Headers(ctx, now) {
		headers[k] = v
	}

	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     id,
		CorrelationId: correlation.ExtractCorrelationID(ctx),
		Type:          eventType,
		Timestamp:     now,
		Headers:       headers,
		Body:          body,
	}, nil
}

// NopPublisher logs events instead of sending them.
type NopPublisher struct {
	log *zap.Logger
}

func NewNopPublisher(log *zap.Logger) *NopPublisher {
	return &NopPublisher{log: log.Named("messaging.nop")}
}

func (p *NopPublisher) Publish(ctx context.Context, eventType string, payload any) error {
	logger.WithContext(ctx, p.log).Debug("message dropped, no broker configured", zap.String("event_type", eventType))
	return nil
}
