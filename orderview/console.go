package orderview

import (
	"context"
	"log/slog"

	"github.com/jeffsasaki/pledge-storefront/model"
	"github.com/jeffsasaki/pledge-storefront/store"
)

type StatusChanger interface {
	ChangeStatus(ctx context.Context, orderID string, status model.OrderStatus) error
}

// Subscriber is satisfied by *store.Adapter.
type Subscriber interface {
	Subscribe(f store.Filter, onChange func([]model.Order)) store.Unsubscribe
}

// Console is the administrator's order board: a view of every order kept
// current by a store subscription, with optimistic status changes.
type Console struct {
	view    *View
	changer StatusChanger
	logger  *slog.Logger
	stop    store.Unsubscribe
}

func NewConsole(changer StatusChanger, logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{view: New(), changer: changer, logger: logger}
}

// Watch feeds the view from sub until Close.
func (c *Console) Watch(sub Subscriber) {
	c.stop = sub.Subscribe(store.AllOrders(), c.view.Replace)
}

func (c *Console) Close() {
	if c.stop != nil {
		c.stop()
	}
}

func (c *Console) View() *View {
	return c.view
}

// ChangeStatus shows the new status immediately and rolls it back if the
// store rejects it. The returned order is the view's row after the attempt.
func (c *Console) ChangeStatus(ctx context.Context, orderID string, status model.OrderStatus) (model.Order, error) {
	token, applied := c.view.ApplyOptimistic(orderID, status)

	if err := c.changer.ChangeStatus(ctx, orderID, status); err != nil {
		if applied && c.view.Revert(token) {
			c.logger.Debug("Reverted optimistic status change", slog.String("order_id", orderID))
		}
		order, _ := c.view.Find(orderID)
		return order, err
	}

	if applied {
		c.view.Commit(token)
	}
	order, _ := c.view.Find(orderID)
	return order, nil
}
