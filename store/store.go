// Package store persists pledge orders. An Adapter fronts a live Postgres
// backend and an in-process ephemeral backend, and permanently falls back to
// the ephemeral one the first time the live backend fails.
package store

import (
	"context"
	"errors"
	"sort"

	"github.com/jeffsasaki/pledge-storefront/model"
)

var (
	// ErrNotFound is returned when no order has the requested id.
	ErrNotFound = errors.New("order not found")
	// ErrUnknownStatus is returned when a status outside model.Statuses is written.
	ErrUnknownStatus = errors.New("unknown order status")
)

// Filter selects either every order or the orders of a single email.
type Filter struct {
	All   bool
	Email string
}

// AllOrders is the administrator's view.
func AllOrders() Filter {
	return Filter{All: true}
}

// ByEmail is a supporter's own view.
func ByEmail(email string) Filter {
	return Filter{Email: email}
}

func (f Filter) Match(o model.Order) bool {
	return f.All || o.UserEmail == f.Email
}

// Unsubscribe releases a subscription. It is safe to call more than once.
type Unsubscribe func()

// Backend is one concrete persistence target.
type Backend interface {
	Create(ctx context.Context, order model.Order) (model.Order, error)
	Query(ctx context.Context, f Filter) ([]model.Order, error)
	UpdateStatus(ctx context.Context, id string, status model.OrderStatus) error
	// Subscribe pushes the full matching set once immediately and again after
	// every change. onError is called at most once if the push loop dies.
	Subscribe(f Filter, onChange func([]model.Order), onError func(error)) (Unsubscribe, error)
}

// SortNewestFirst orders by CreatedAt descending, breaking ties by id descending.
func SortNewestFirst(orders []model.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID > orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
}
