// Package events publishes identity lifecycle announcements so downstream
// services can react to signups and promotions without polling the store.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Routing keys for identity events.
const (
	UserSignedUp = "auth.user.signed_up"
	UserPromoted = "auth.user.promoted"
)

// Announcer publishes an identity event. Implementations must be safe for
// concurrent use.
type Announcer interface {
	Announce(ctx context.Context, routingKey string, payload any) error
}

// Noop discards every announcement. Used when no broker is configured.
type Noop struct{}

func (Noop) Announce(context.Context, string, any) error { return nil }

// RabbitMQ publishes durable JSON messages through a topic exchange.
type RabbitMQ struct {
	conn     *amqp.Connection
	exchange string
	mu       sync.Mutex
}

func NewRabbitMQ(conn *amqp.Connection, exchange string) *RabbitMQ {
	if exchange == "" {
		exchange = "auth.events"
	}
	return &RabbitMQ{conn: conn, exchange: exchange}
}

// IsConnected checks if the connection is valid
func (a *RabbitMQ) IsConnected() bool {
	return a.conn != nil && !a.conn.IsClosed()
}

func (a *RabbitMQ) Announce(ctx context.Context, routingKey string, payload any) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.IsConnected() {
		return fmt.Errorf("rabbitmq connection is not available")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	ch, err := a.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := a.ensureExchangeAndQueue(ch, routingKey); err != nil {
		return err
	}

	return ch.PublishWithContext(ctx,
		a.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
}

// ensureExchangeAndQueue ensures exchange and queue exist and are bound
func (a *RabbitMQ) ensureExchangeAndQueue(ch *amqp.Channel, queueName string) error {
	err := ch.ExchangeDeclare(
		a.exchange, // exchange name
		"topic",    // exchange type
		true,       // durable
		false,      // auto-delete
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(
		queueName, // queue name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	err = ch.QueueBind(
		q.Name,     // queue name
		queueName,  // routing key
		a.exchange, // exchange
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	return nil
}
