package clients

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Conn is the subset of *nats.Conn the client uses.
type Conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NatsClient publishes order events as core NATS messages under
// "<prefix>.<key>".
type NatsClient struct {
	nc     Conn
	prefix string
}

func ConnectNats(url, prefix string, logger *slog.Logger) (*NatsClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("pledge-storefront"),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", slog.String("error", err.Error()))
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return NewNatsClient(nc, prefix), nil
}

func NewNatsClient(nc Conn, prefix string) *NatsClient {
	return &NatsClient{nc: nc, prefix: prefix}
}

func (c *NatsClient) Subject(key string) string {
	if c.prefix == "" {
		return key
	}
	return c.prefix + "." + key
}

func (c *NatsClient) Publish(ctx context.Context, key string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}
	if err := c.nc.Publish(c.Subject(key), body); err != nil {
		return fmt.Errorf("publish %s: %w", c.Subject(key), err)
	}
	return nil
}

func (c *NatsClient) Close() error {
	return c.nc.Drain()
}
