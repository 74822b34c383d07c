package model

import "time"

// Routing keys for order events on the message bus.
const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
)

type OrderCreated struct {
	Order Order `json:"order"`
}

type OrderStatusChanged struct {
	OrderID   string      `json:"order_id"`
	Status    OrderStatus `json:"status"`
	ChangedAt time.Time   `json:"changed_at"`
}

// PaymentUpdate is published when an administrator confirms a bank transfer.
type PaymentUpdate struct {
	OrderID       string `json:"order_id"`
	PaymentStatus string `json:"payment_status"`
}
