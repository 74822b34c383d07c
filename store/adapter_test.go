package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jeffsasaki/pledge-storefront/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errPermissionDenied = errors.New("permission denied")

// flakyBackend wraps a memory backend and fails selected operations.
type flakyBackend struct {
	*MemoryBackend

	mu            sync.Mutex
	failCreate    bool
	failQuery     bool
	failUpdate    bool
	failSubscribe bool
	unordered     bool
	onError       func(error)
	onChange      func([]model.Order)
	calls         int
}

func newFlakyBackend() *flakyBackend {
	return &flakyBackend{MemoryBackend: NewMemoryBackend()}
}

func (f *flakyBackend) Create(ctx context.Context, o model.Order) (model.Order, error) {
	f.mu.Lock()
	f.calls++
	fail := f.failCreate
	f.mu.Unlock()
	if fail {
		return model.Order{}, errPermissionDenied
	}
	return f.MemoryBackend.Create(ctx, o)
}

func (f *flakyBackend) Query(ctx context.Context, flt Filter) ([]model.Order, error) {
	f.mu.Lock()
	f.calls++
	fail, unordered := f.failQuery, f.unordered
	f.mu.Unlock()
	if fail {
		return nil, errPermissionDenied
	}
	orders, err := f.MemoryBackend.Query(ctx, flt)
	if unordered {
		// Oldest first, as a backend without a composite index might return.
		for i, j := 0, len(orders)-1; i < j; i, j = i+1, j-1 {
			orders[i], orders[j] = orders[j], orders[i]
		}
	}
	return orders, err
}

func (f *flakyBackend) UpdateStatus(ctx context.Context, id string, s model.OrderStatus) error {
	f.mu.Lock()
	f.calls++
	fail := f.failUpdate
	f.mu.Unlock()
	if fail {
		return errPermissionDenied
	}
	return f.MemoryBackend.UpdateStatus(ctx, id, s)
}

func (f *flakyBackend) Subscribe(flt Filter, onChange func([]model.Order), onError func(error)) (Unsubscribe, error) {
	f.mu.Lock()
	f.calls++
	fail := f.failSubscribe
	f.onError = onError
	f.onChange = onChange
	f.mu.Unlock()
	if fail {
		return nil, errPermissionDenied
	}
	return f.MemoryBackend.Subscribe(flt, onChange, onError)
}

func (f *flakyBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestAdapterStartsEphemeralWithoutLiveBackend(t *testing.T) {
	a := NewAdapter(nil)
	assert.Equal(t, ModeEphemeral, a.Mode())

	created, err := a.Create(context.Background(), newOrder("a@x.com", 60000, 0))
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
}

func TestAdapterLiveMode(t *testing.T) {
	ctx := context.Background()
	live := newFlakyBackend()
	a := NewAdapter(live)
	require.Equal(t, ModeLive, a.Mode())

	created, err := a.Create(ctx, newOrder("a@x.com", 60000, 0))
	require.NoError(t, err)

	orders, err := a.QueryOnce(ctx, AllOrders())
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, created.ID, orders[0].ID)
	assert.Equal(t, ModeLive, a.Mode())

	assert.ErrorIs(t, a.UpdateStatus(ctx, "missing", model.StatusPaid), ErrNotFound)
	assert.Equal(t, ModeLive, a.Mode(), "a missing order is not a backend failure")
}

func TestAdapterSortsUnorderedBackendResults(t *testing.T) {
	ctx := context.Background()
	live := newFlakyBackend()
	live.unordered = true
	a := NewAdapter(live)

	for i := 0; i < 5; i++ {
		_, err := a.Create(ctx, newOrder("a@x.com", 10000, time.Duration(i)*time.Hour))
		require.NoError(t, err)
	}

	for _, f := range []Filter{AllOrders(), ByEmail("a@x.com")} {
		orders, err := a.QueryOnce(ctx, f)
		require.NoError(t, err)
		require.Len(t, orders, 5)
		assertNewestFirst(t, orders)
	}
}

func TestAdapterCreateFailureFallsBack(t *testing.T) {
	ctx := context.Background()
	live := newFlakyBackend()
	live.failCreate = true

	var fallbacks []string
	a := NewAdapter(live, WithFallbackHook(func(op string, err error) {
		fallbacks = append(fallbacks, op)
		assert.ErrorIs(t, err, errPermissionDenied)
	}))

	created, err := a.Create(ctx, newOrder("a@x.com", 50000, 0))
	require.NoError(t, err, "the failing write is completed against the ephemeral store")
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, ModeEphemeral, a.Mode())
	assert.Equal(t, []string{"create"}, fallbacks)

	orders, err := a.QueryOnce(ctx, AllOrders())
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, created.ID, orders[0].ID)
	assert.Equal(t, int64(50000), orders[0].TotalAmount)
}

func TestAdapterDowngradeIsPermanent(t *testing.T) {
	ctx := context.Background()
	live := newFlakyBackend()
	live.failQuery = true
	a := NewAdapter(live)

	orders, err := a.QueryOnce(ctx, AllOrders())
	require.NoError(t, err)
	assert.Empty(t, orders)
	require.Equal(t, ModeEphemeral, a.Mode())

	live.mu.Lock()
	live.failQuery = false
	live.mu.Unlock()
	callsBefore := live.callCount()

	_, err = a.Create(ctx, newOrder("a@x.com", 60000, 0))
	require.NoError(t, err)
	_, err = a.QueryOnce(ctx, AllOrders())
	require.NoError(t, err)

	assert.Equal(t, ModeEphemeral, a.Mode())
	assert.Equal(t, callsBefore, live.callCount(), "the live backend is never used again")
}

func TestAdapterUpdateFailureFallsBack(t *testing.T) {
	ctx := context.Background()
	live := newFlakyBackend()
	a := NewAdapter(live)

	created, err := a.Create(ctx, newOrder("a@x.com", 60000, 0))
	require.NoError(t, err)

	live.mu.Lock()
	live.failUpdate = true
	live.mu.Unlock()

	err = a.UpdateStatus(ctx, created.ID, model.StatusPaid)
	assert.ErrorIs(t, err, ErrNotFound, "the ephemeral store never saw the live order")
	assert.Equal(t, ModeEphemeral, a.Mode())
}

func TestAdapterStatusChangesInEphemeralMode(t *testing.T) {
	ctx := context.Background()
	a := NewAdapter(nil)

	created, err := a.Create(ctx, newOrder("a@x.com", 60000, 0))
	require.NoError(t, err)

	require.NoError(t, a.UpdateStatus(ctx, created.ID, model.StatusDelivered))
	require.NoError(t, a.UpdateStatus(ctx, created.ID, model.StatusPendingPayment))

	orders, err := a.QueryOnce(ctx, AllOrders())
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingPayment, orders[0].Status)
}

func TestAdapterCancelledContextDoesNotDowngrade(t *testing.T) {
	live := newFlakyBackend()
	a := NewAdapter(live)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Create(ctx, newOrder("a@x.com", 60000, 0))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, ModeLive, a.Mode())
}

type recorder struct {
	mu        sync.Mutex
	snapshots [][]model.Order
}

func (r *recorder) record(orders []model.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, orders)
}

func (r *recorder) last() []model.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snapshots) == 0 {
		return nil
	}
	return r.snapshots[len(r.snapshots)-1]
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snapshots)
}

func TestAdapterSubscribeSortsSnapshots(t *testing.T) {
	ctx := context.Background()
	live := newFlakyBackend()
	live.unordered = true
	a := NewAdapter(live)

	rec := &recorder{}
	unsubscribe := a.Subscribe(AllOrders(), rec.record)
	defer unsubscribe()

	for i := 0; i < 3; i++ {
		_, err := a.Create(ctx, newOrder("a@x.com", 10000, time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}

	require.Equal(t, 4, rec.count())
	assert.Len(t, rec.last(), 3)
	assertNewestFirst(t, rec.last())
}

func TestAdapterSubscribeSetupFailureFallsBack(t *testing.T) {
	ctx := context.Background()
	live := newFlakyBackend()
	live.failSubscribe = true
	a := NewAdapter(live)

	rec := &recorder{}
	unsubscribe := a.Subscribe(ByEmail("a@x.com"), rec.record)
	defer unsubscribe()

	assert.Equal(t, ModeEphemeral, a.Mode())
	require.Equal(t, 1, rec.count())

	_, err := a.Create(ctx, newOrder("a@x.com", 60000, 0))
	require.NoError(t, err)
	assert.Len(t, rec.last(), 1)
}

func TestAdapterSubscriptionsMoveOnDowngrade(t *testing.T) {
	ctx := context.Background()
	live := newFlakyBackend()
	a := NewAdapter(live)

	rec := &recorder{}
	unsubscribe := a.Subscribe(AllOrders(), rec.record)
	defer unsubscribe()

	_, err := a.Create(ctx, newOrder("a@x.com", 60000, 0))
	require.NoError(t, err)
	require.Len(t, rec.last(), 1)

	live.mu.Lock()
	live.failCreate = true
	live.mu.Unlock()

	created, err := a.Create(ctx, newOrder("b@x.com", 110000, time.Hour))
	require.NoError(t, err)
	require.Equal(t, ModeEphemeral, a.Mode())

	last := rec.last()
	require.Len(t, last, 1, "the snapshot now comes from the ephemeral store")
	assert.Equal(t, created.ID, last[0].ID)
}

func TestAdapterSubscriptionErrorFallsBack(t *testing.T) {
	live := newFlakyBackend()
	a := NewAdapter(live)

	rec := &recorder{}
	unsubscribe := a.Subscribe(AllOrders(), rec.record)
	defer unsubscribe()

	live.mu.Lock()
	onError := live.onError
	live.mu.Unlock()
	require.NotNil(t, onError)

	onError(errPermissionDenied)
	assert.Equal(t, ModeEphemeral, a.Mode())
	assert.Equal(t, 2, rec.count())
}

func TestAdapterUnsubscribe(t *testing.T) {
	ctx := context.Background()
	a := NewAdapter(nil)

	rec := &recorder{}
	unsubscribe := a.Subscribe(AllOrders(), rec.record)
	unsubscribe()
	unsubscribe()

	_, err := a.Create(ctx, newOrder("a@x.com", 60000, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, rec.count())
}

func TestAdapterSubscriberCanWriteBack(t *testing.T) {
	ctx := context.Background()
	a := NewAdapter(nil)

	created, err := a.Create(ctx, newOrder("a@x.com", 60000, 0))
	require.NoError(t, err)

	rec := &recorder{}
	var once sync.Once
	done := make(chan struct{})
	go func() {
		defer close(done)
		unsubscribe := a.Subscribe(AllOrders(), func(orders []model.Order) {
			rec.record(orders)
			once.Do(func() {
				assert.NoError(t, a.UpdateStatus(ctx, created.ID, model.StatusPaid))
			})
		})
		unsubscribe()
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber writing through the adapter never returned")
	}

	require.Equal(t, 2, rec.count())
	require.Len(t, rec.last(), 1)
	assert.Equal(t, model.StatusPaid, rec.last()[0].Status, "the write-back is delivered after the callback returns")
}

func TestAdapterDropsLivePushAfterDowngrade(t *testing.T) {
	ctx := context.Background()
	live := newFlakyBackend()
	a := NewAdapter(live)

	_, err := a.Create(ctx, newOrder("a@x.com", 60000, 0))
	require.NoError(t, err)

	rec := &recorder{}
	unsubscribe := a.Subscribe(AllOrders(), rec.record)
	defer unsubscribe()

	live.mu.Lock()
	livePush := live.onChange
	live.mu.Unlock()
	require.NotNil(t, livePush)
	stale, err := live.MemoryBackend.Query(ctx, AllOrders())
	require.NoError(t, err)

	live.mu.Lock()
	live.failQuery = true
	live.mu.Unlock()
	_, err = a.QueryOnce(ctx, AllOrders())
	require.NoError(t, err)
	require.Equal(t, ModeEphemeral, a.Mode())
	countAfter := rec.count()
	require.Empty(t, rec.last(), "the ephemeral store starts empty")

	livePush(stale)
	assert.Equal(t, countAfter, rec.count(), "a push still in flight from the live store is dropped")
	assert.Empty(t, rec.last())
}
