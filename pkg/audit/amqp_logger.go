package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var errAMQPLoggerClosed = errors.New("audit amqp logger is closed")

// AMQPLoggerConfig configures the RabbitMQ audit publisher
type AMQPLoggerConfig struct {
	URI            string
	Exchange       string
	PublishTimeout time.Duration
}

// DefaultAMQPLoggerConfig returns default configuration
func DefaultAMQPLoggerConfig() AMQPLoggerConfig {
	return AMQPLoggerConfig{
		Exchange:       "scribe.audit",
		PublishTimeout: 5 * time.Second,
	}
}

// AMQPLogger publishes audit events to a topic exchange. The routing key is
// the event type, so consumers can bind to e.g. "share.*".
type AMQPLogger struct {
	config AMQPLoggerConfig

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool
}

// NewAMQPLogger dials the broker and declares the exchange
func NewAMQPLogger(config AMQPLoggerConfig) (*AMQPLogger, error) {
	if config.URI == "" {
		return nil, fmt.Errorf("amqp URI is required")
	}
	if config.Exchange == "" {
		config.Exchange = DefaultAMQPLoggerConfig().Exchange
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = DefaultAMQPLoggerConfig().PublishTimeout
	}

	l := &AMQPLogger{config: config}
	if err := l.connect(); err != nil {
		return nil, err
	}
	return l, nil
}

// connect must be called with mu held or before the logger is shared
func (l *AMQPLogger) connect() error {
	conn, err := amqp.Dial(l.config.URI)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open a channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		l.config.Exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange %s: %w", l.config.Exchange, err)
	}

	l.conn = conn
	l.channel = ch
	return nil
}

// publishing builds the message for event. The routing key is the event
// type.
func publishing(event *AuditEvent) (string, amqp.Publishing, error) {
	body, err := event.ToJSON()
	if err != nil {
		return "", amqp.Publishing{}, fmt.Errorf("failed to marshal audit event: %w", err)
	}
	return string(event.EventType), amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.Timestamp,
		Type:         string(event.EventType),
		Body:         body,
	}, nil
}

// Log publishes event as a persistent JSON message
func (l *AMQPLogger) Log(ctx context.Context, event *AuditEvent) error {
	prepare(ctx, event)

	key, msg, err := publishing(event)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return errAMQPLoggerClosed
	}
	if l.conn == nil || l.conn.IsClosed() || l.channel == nil || l.channel.IsClosed() {
		if err := l.connect(); err != nil {
			return err
		}
	}

	pubCtx, cancel := context.WithTimeout(ctx, l.config.PublishTimeout)
	defer cancel()

	err = l.channel.PublishWithContext(pubCtx, l.config.Exchange, key,
		false, // mandatory
		false, // immediate
		msg,
	)
	if err != nil {
		return fmt.Errorf("failed to publish audit event %s: %w", event.ID, err)
	}
	return nil
}

// Close closes the channel and connection
func (l *AMQPLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
	if l.channel != nil {
		l.channel.Close()
	}
	if l.conn != nil {
		return l.conn.Close()
	}
	return nil
}
