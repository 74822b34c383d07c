package store

import (
	"sync"

	"github.com/jeffsasaki/pledge-storefront/model"
)

// pusher serializes snapshot pushes to one callback without holding a lock
// while the callback runs. A push that arrives while another is running,
// including one made from inside the callback, replaces anything queued and
// runs as soon as the current callback returns. Each queued push builds its
// snapshot right before delivery, so a subscriber never receives an older
// snapshot after a newer one.
type pusher struct {
	onChange func([]model.Order)

	mu      sync.Mutex
	next    func() ([]model.Order, bool)
	running bool
}

func newPusher(onChange func([]model.Order)) *pusher {
	return &pusher{onChange: onChange}
}

// push queues next and, unless a delivery is already in progress, delivers
// until the queue is empty. next reports false to drop the push.
func (p *pusher) push(next func() ([]model.Order, bool)) {
	p.mu.Lock()
	p.next = next
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true

	for p.next != nil {
		build := p.next
		p.next = nil
		p.mu.Unlock()
		if orders, ok := build(); ok {
			p.onChange(orders)
		}
		p.mu.Lock()
	}
	p.running = false
	p.mu.Unlock()
}
