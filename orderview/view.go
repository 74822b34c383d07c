// Package orderview keeps a local, possibly optimistic, copy of an order list
// and knows how to undo an optimistic status change.
package orderview

import (
	"sync"

	"github.com/jeffsasaki/pledge-storefront/model"
)

// Token identifies one optimistic change until it is committed or reverted.
type Token struct {
	id uint64
}

type change struct {
	orderID  string
	previous model.OrderStatus
	applied  model.OrderStatus
}

type View struct {
	mu      sync.Mutex
	orders  []model.Order
	pending map[uint64]change
	next    uint64
}

func New() *View {
	return &View{pending: make(map[uint64]change)}
}

// Replace installs an authoritative snapshot. Outstanding tokens are dropped
// since the snapshot already reflects whatever the store accepted.
func (v *View) Replace(orders []model.Order) {
	cp := make([]model.Order, len(orders))
	for i, o := range orders {
		cp[i] = o.Clone()
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.orders = cp
	clear(v.pending)
}

func (v *View) Orders() []model.Order {
	v.mu.Lock()
	defer v.mu.Unlock()
	cp := make([]model.Order, len(v.orders))
	for i, o := range v.orders {
		cp[i] = o.Clone()
	}
	return cp
}

func (v *View) Find(orderID string) (model.Order, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if i := v.index(orderID); i >= 0 {
		return v.orders[i].Clone(), true
	}
	return model.Order{}, false
}

// ApplyOptimistic sets the status locally before the store confirms it.
// ok is false when the order is not in the view.
func (v *View) ApplyOptimistic(orderID string, status model.OrderStatus) (Token, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	i := v.index(orderID)
	if i < 0 {
		return Token{}, false
	}
	v.next++
	v.pending[v.next] = change{orderID: orderID, previous: v.orders[i].Status, applied: status}
	v.orders[i].Status = status
	return Token{id: v.next}, true
}

// Revert undoes the change behind t. A later change to the same order that
// is still visible wins and is left alone.
func (v *View) Revert(t Token) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	c, ok := v.pending[t.id]
	if !ok {
		return false
	}
	delete(v.pending, t.id)

	i := v.index(c.orderID)
	if i < 0 || v.orders[i].Status != c.applied {
		return false
	}
	v.orders[i].Status = c.previous
	return true
}

// Commit forgets t once the store has confirmed the change.
func (v *View) Commit(t Token) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.pending, t.id)
}

func (v *View) index(orderID string) int {
	for i := range v.orders {
		if v.orders[i].ID == orderID {
			return i
		}
	}
	return -1
}
