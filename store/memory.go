package store

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jeffsasaki/pledge-storefront/model"
)

// MemoryBackend holds orders in process memory. Nothing survives a restart.
type MemoryBackend struct {
	mu      sync.RWMutex
	orders  map[string]model.Order
	subs    map[uint64]*memorySub
	nextSub uint64
}

type memorySub struct {
	filter Filter
	out    *pusher
	closed atomic.Bool
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		orders: make(map[string]model.Order),
		subs:   make(map[uint64]*memorySub),
	}
}

func (b *MemoryBackend) Create(ctx context.Context, order model.Order) (model.Order, error) {
	if err := ctx.Err(); err != nil {
		return model.Order{}, err
	}

	order = order.Clone()
	order.ID = "order_" + uuid.New().String()

	b.mu.Lock()
	b.orders[order.ID] = order
	b.mu.Unlock()

	b.notify()
	return order.Clone(), nil
}

func (b *MemoryBackend) Query(ctx context.Context, f Filter) ([]model.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.snapshot(f), nil
}

func (b *MemoryBackend) UpdateStatus(ctx context.Context, id string, status model.OrderStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !status.Valid() {
		return ErrUnknownStatus
	}

	b.mu.Lock()
	order, ok := b.orders[id]
	if !ok {
		b.mu.Unlock()
		return ErrNotFound
	}
	order.Status = status
	b.orders[id] = order
	b.mu.Unlock()

	b.notify()
	return nil
}

func (b *MemoryBackend) Subscribe(f Filter, onChange func([]model.Order), _ func(error)) (Unsubscribe, error) {
	sub := &memorySub{filter: f, out: newPusher(onChange)}

	b.mu.Lock()
	key := b.nextSub
	b.nextSub++
	b.subs[key] = sub
	b.mu.Unlock()

	b.deliver(sub)

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.closed.Store(true)
			b.mu.Lock()
			delete(b.subs, key)
			b.mu.Unlock()
		})
	}, nil
}

// Reset drops every order. Subscribers receive an empty snapshot.
func (b *MemoryBackend) Reset() {
	b.mu.Lock()
	b.orders = make(map[string]model.Order)
	b.mu.Unlock()
	b.notify()
}

func (b *MemoryBackend) snapshot(f Filter) []model.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()

	orders := make([]model.Order, 0, len(b.orders))
	for _, o := range b.orders {
		if f.Match(o) {
			orders = append(orders, o.Clone())
		}
	}
	SortNewestFirst(orders)
	return orders
}

func (b *MemoryBackend) notify() {
	b.mu.RLock()
	subs := make([]*memorySub, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(s)
	}
}

// deliver never holds a lock while the callback runs, so a subscriber may
// write back through the backend from inside onChange.
func (b *MemoryBackend) deliver(s *memorySub) {
	s.out.push(func() ([]model.Order, bool) {
		if s.closed.Load() {
			return nil, false
		}
		return b.snapshot(s.filter), true
	})
}
