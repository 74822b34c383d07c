package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jeffsasaki/pledge-storefront/model"
)

type BackendMode int

const (
	ModeEphemeral BackendMode = iota
	ModeLive
)

func (m BackendMode) String() string {
	if m == ModeLive {
		return "live"
	}
	return "ephemeral"
}

// Adapter is the single entry point to order persistence. Results are always
// delivered newest first. The first live failure switches the adapter to
// ephemeral mode for the rest of its lifetime and the failing operation is
// completed there instead.
type Adapter struct {
	mu        sync.Mutex
	mode      BackendMode
	live      Backend
	ephemeral *MemoryBackend
	subs      map[*subscription]struct{}

	logger     *slog.Logger
	onFallback func(op string, err error)
}

type Option func(*Adapter)

func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) { a.logger = logger }
}

// WithFallbackHook is called once, when the adapter leaves live mode.
func WithFallbackHook(f func(op string, err error)) Option {
	return func(a *Adapter) { a.onFallback = f }
}

// WithEphemeral supplies the fallback backend, mostly for tests.
func WithEphemeral(b *MemoryBackend) Option {
	return func(a *Adapter) { a.ephemeral = b }
}

// NewAdapter starts in live mode when live is non-nil, ephemeral otherwise.
func NewAdapter(live Backend, opts ...Option) *Adapter {
	a := &Adapter{
		mode:   ModeEphemeral,
		live:   live,
		subs:   make(map[*subscription]struct{}),
		logger: slog.Default(),
	}
	if live != nil {
		a.mode = ModeLive
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.ephemeral == nil {
		a.ephemeral = NewMemoryBackend()
	}
	return a
}

func (a *Adapter) Mode() BackendMode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

func (a *Adapter) current() (Backend, BackendMode) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mode == ModeLive {
		return a.live, ModeLive
	}
	return a.ephemeral, ModeEphemeral
}

// liveFailed reports whether err from the live backend should trigger the
// fallback. Caller cancellation and missing orders are not backend failures.
func liveFailed(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrUnknownStatus)
}

func (a *Adapter) Create(ctx context.Context, order model.Order) (model.Order, error) {
	b, mode := a.current()
	created, err := b.Create(ctx, order)
	if mode == ModeLive && liveFailed(ctx, err) {
		a.downgrade("create", err)
		return a.ephemeral.Create(ctx, order)
	}
	return created, err
}

func (a *Adapter) QueryOnce(ctx context.Context, f Filter) ([]model.Order, error) {
	b, mode := a.current()
	orders, err := b.Query(ctx, f)
	if mode == ModeLive && liveFailed(ctx, err) {
		a.downgrade("query", err)
		orders, err = a.ephemeral.Query(ctx, f)
	}
	if err != nil {
		return nil, err
	}
	SortNewestFirst(orders)
	return orders, nil
}

func (a *Adapter) UpdateStatus(ctx context.Context, id string, status model.OrderStatus) error {
	b, mode := a.current()
	err := b.UpdateStatus(ctx, id, status)
	if mode == ModeLive && liveFailed(ctx, err) {
		a.downgrade("update_status", err)
		return a.ephemeral.UpdateStatus(ctx, id, status)
	}
	return err
}

type subscription struct {
	filter Filter
	out    *pusher

	mu     sync.Mutex
	cancel Unsubscribe
	// attached is the BackendMode currently feeding this subscription.
	// Pushes from any other backend are dropped.
	attached atomic.Int32
	closed   atomic.Bool
}

func (s *subscription) source() BackendMode {
	return BackendMode(s.attached.Load())
}

// from returns the callback handed to the backend in mode. A push still in
// flight from the live backend after the fallback is discarded, and pushes
// from both backends never overlap.
func (s *subscription) from(mode BackendMode) func([]model.Order) {
	return func(orders []model.Order) {
		s.out.push(func() ([]model.Order, bool) {
			if s.closed.Load() || s.source() != mode {
				return nil, false
			}
			SortNewestFirst(orders)
			return orders, true
		})
	}
}

// Subscribe pushes the full matching set, newest first, on every change. Each
// push replaces the previous one. A subscription survives the fallback: it is
// moved to the ephemeral backend and receives a fresh snapshot from there.
// onChange must not call the returned Unsubscribe synchronously.
func (a *Adapter) Subscribe(f Filter, onChange func([]model.Order)) Unsubscribe {
	s := &subscription{filter: f, out: newPusher(onChange)}

	a.mu.Lock()
	a.subs[s] = struct{}{}
	a.mu.Unlock()

	a.attach(s)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.closed.Store(true)
			a.mu.Lock()
			delete(a.subs, s)
			a.mu.Unlock()

			s.mu.Lock()
			if s.cancel != nil {
				s.cancel()
				s.cancel = nil
			}
			s.mu.Unlock()
		})
	}
}

func (a *Adapter) attach(s *subscription) {
	s.mu.Lock()
	mode := a.Mode()
	if s.closed.Load() || (s.cancel != nil && s.source() == mode) {
		s.mu.Unlock()
		return
	}
	s.attached.Store(int32(mode))
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}

	if mode == ModeLive {
		cancel, err := a.live.Subscribe(s.filter, s.from(ModeLive), func(err error) {
			a.downgrade("subscribe", err)
		})
		if err == nil {
			s.cancel = cancel
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		// downgrade re-attaches every subscription, this one included.
		a.downgrade("subscribe", err)
		return
	}

	cancel, _ := a.ephemeral.Subscribe(s.filter, s.from(ModeEphemeral), nil)
	s.cancel = cancel
	s.mu.Unlock()
}

func (a *Adapter) downgrade(op string, cause error) {
	a.mu.Lock()
	if a.mode == ModeEphemeral {
		a.mu.Unlock()
		return
	}
	a.mode = ModeEphemeral
	subs := make([]*subscription, 0, len(a.subs))
	for s := range a.subs {
		subs = append(subs, s)
	}
	a.mu.Unlock()

	a.logger.Warn("Live order store failed, switching to ephemeral store",
		slog.String("operation", op),
		slog.String("error", cause.Error()))
	if a.onFallback != nil {
		a.onFallback(op, cause)
	}

	for _, s := range subs {
		a.attach(s)
	}
}
