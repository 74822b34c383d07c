package model

import "fmt"

type OrderStatus string

const (
	StatusPendingPayment OrderStatus = "pending_payment"
	StatusPaid           OrderStatus = "paid"
	StatusShipping       OrderStatus = "shipping"
	StatusDelivered      OrderStatus = "delivered"
)

// Statuses lists every status in display order.
var Statuses = []OrderStatus{
	StatusPendingPayment,
	StatusPaid,
	StatusShipping,
	StatusDelivered,
}

var statusLabels = map[OrderStatus]string{
	StatusPendingPayment: "입금 확인 중",
	StatusPaid:           "결제 완료",
	StatusShipping:       "배송 준비 중",
	StatusDelivered:      "발송 완료",
}

func (s OrderStatus) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

// Label returns the fixed display label, or the raw value for unknown statuses.
func (s OrderStatus) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

func ParseOrderStatus(s string) (OrderStatus, error) {
	st := OrderStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown order status %q", s)
	}
	return st, nil
}
