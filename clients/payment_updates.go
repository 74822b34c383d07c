package clients

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/jeffsasaki/pledge-storefront/model"
	"github.com/jeffsasaki/pledge-storefront/store"
	amqp "github.com/rabbitmq/amqp091-go"
)

type StatusChanger interface {
	ChangeStatus(ctx context.Context, orderID string, status model.OrderStatus) error
}

// PaymentUpdateHandler applies payment confirmations to orders. Malformed
// messages and updates for unknown orders or statuses are dropped; anything
// else that fails is requeued.
func PaymentUpdateHandler(ctx context.Context, changer StatusChanger, logger *slog.Logger) func(amqp.Delivery) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(d amqp.Delivery) {
		var update model.PaymentUpdate
		if err := json.Unmarshal(d.Body, &update); err != nil || update.OrderID == "" {
			logger.Warn("Dropping malformed payment update", slog.String("body", string(d.Body)))
			_ = d.Nack(false, false)
			return
		}

		status, err := model.ParseOrderStatus(update.PaymentStatus)
		if err != nil {
			logger.Warn("Dropping payment update with unknown status",
				slog.String("order_id", update.OrderID),
				slog.String("payment_status", update.PaymentStatus))
			_ = d.Nack(false, false)
			return
		}

		if err := changer.ChangeStatus(ctx, update.OrderID, status); err != nil {
			requeue := !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrUnknownStatus)
			logger.Error("Failed to apply payment update",
				slog.String("order_id", update.OrderID),
				slog.Bool("requeue", requeue),
				slog.String("error", err.Error()))
			_ = d.Nack(false, requeue)
			return
		}

		logger.Info("Applied payment update",
			slog.String("order_id", update.OrderID),
			slog.String("status", string(status)))
		_ = d.Ack(false)
	}
}
