// Package amqp publishes alert notifications to a RabbitMQ exchange.
package amqp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/spice-sentinel/internal/alert"
	"github.com/Veraticus/spice-sentinel/internal/model"
	"github.com/rabbitmq/amqp091-go"
)

// DefaultRoutingKey is the routing key alert messages are published with.
const DefaultRoutingKey = "alerts.created"

const publishTimeout = 5 * time.Second

// publisher is the part of an AMQP channel the notifier needs.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// Notifier publishes alerts to a direct exchange. It implements
// alert.Notifier.
type Notifier struct {
	conn         *amqp091.Connection
	channel      publisher
	logger       *slog.Logger
	exchangeName string
	routingKey   string
}

var _ alert.Notifier = (*Notifier)(nil)

// NewNotifier dials url and declares the exchange.
func NewNotifier(url, exchangeName, routingKey string, logger *slog.Logger) (*Notifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if routingKey == "" {
		routingKey = DefaultRoutingKey
	}

	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchangeName, // name
		"direct",     // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &Notifier{
		conn:         conn,
		channel:      channel,
		logger:       logger,
		exchangeName: exchangeName,
		routingKey:   routingKey,
	}, nil
}

// Notify publishes one alert event.
func (n *Notifier) Notify(ctx context.Context, event alert.Event, a model.Alert) error {
	body, err := NewAlertMessage(string(event), a).ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = n.channel.PublishWithContext(
		ctx,
		n.exchangeName, // exchange
		n.routingKey,   // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			MessageId:    a.ID,
			Type:         string(a.Type),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	n.logger.DebugContext(ctx, "published alert notification",
		"alert_id", a.ID,
		"event", event,
		"exchange", n.exchangeName)
	return nil
}

// Close closes the channel and connection.
func (n *Notifier) Close() error {
	if n.channel != nil {
		_ = n.channel.Close()
	}
	if n.conn != nil {
		return n.conn.Close()
	}
	return nil
}
