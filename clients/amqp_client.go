// Package clients holds the message bus clients order events go out on and
// payment confirmations come in on.
package clients

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the subset of *amqp.Channel the client uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

type Connection interface {
	Channel() (Channel, error)
	Close() error
}

type amqpConnection struct {
	*amqp.Connection
}

func (c amqpConnection) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// AmqpClient publishes to a topic exchange and consumes work queues.
type AmqpClient struct {
	conn     Connection
	exchange string
	logger   *slog.Logger
}

func DialAmqp(url, exchange string, logger *slog.Logger) (*AmqpClient, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	return NewAmqpClient(amqpConnection{conn}, exchange, logger), nil
}

func NewAmqpClient(conn Connection, exchange string, logger *slog.Logger) *AmqpClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &AmqpClient{conn: conn, exchange: exchange, logger: logger}
}

// DeclareExchange makes sure the durable topic exchange events go to exists.
func (c *AmqpClient) DeclareExchange() error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(c.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", c.exchange, err)
	}
	return nil
}

// Publish sends body to the client's exchange under the routing key.
func (c *AmqpClient) Publish(ctx context.Context, key string, body []byte) error {
	return c.publish(ctx, c.exchange, key, body)
}

// PublishToQueue sends body straight to a named queue through the default
// exchange.
func (c *AmqpClient) PublishToQueue(ctx context.Context, queue string, body []byte) error {
	return c.publish(ctx, "", queue, body)
}

func (c *AmqpClient) publish(ctx context.Context, exchange, key string, body []byte) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	err = ch.PublishWithContext(ctx,
		exchange,
		key,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}

// SetupConsumer declares the durable queue and hands every delivery to
// handler, which must ack or nack it. Consumption stops when ctx is done.
func (c *AmqpClient) SetupConsumer(ctx context.Context, queue string, handler func(amqp.Delivery)) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}

	msgs, err := ch.Consume(
		queue,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		return fmt.Errorf("consume %s: %w", queue, err)
	}

	go func() {
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					c.logger.Warn("Consumer channel closed", slog.String("queue", queue))
					return
				}
				handler(d)
			}
		}
	}()

	return nil
}

func (c *AmqpClient) Close() error {
	return c.conn.Close()
}
