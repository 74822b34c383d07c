package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jeffsasaki/pledge-storefront/model"
	"github.com/lib/pq"
)

const notifyChannel = "orders_changed"

//go:embed schema.sql
var schema string

const orderColumns = `id, user_id, user_email, user_name, user_phone, contact_name, contact_phone,
	depositor_name, address, memo, product_name, reward_id, reward_title, reward_items,
	total_amount, quantity, status, created_at`

// Listener is the subset of *pq.Listener used for live subscriptions.
type Listener interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Close() error
}

// PostgresBackend is the live backend.
type PostgresBackend struct {
	db          *sql.DB
	newListener func() (Listener, error)
	logger      *slog.Logger
}

type PostgresOption func(*PostgresBackend)

// WithListenerFactory replaces the pq.Listener used by Subscribe.
func WithListenerFactory(f func() (Listener, error)) PostgresOption {
	return func(b *PostgresBackend) { b.newListener = f }
}

func WithPostgresLogger(logger *slog.Logger) PostgresOption {
	return func(b *PostgresBackend) { b.logger = logger }
}

// NewPostgresBackend wraps an open database. dsn is only used to open
// LISTEN connections for subscriptions.
func NewPostgresBackend(db *sql.DB, dsn string, opts ...PostgresOption) *PostgresBackend {
	b := &PostgresBackend{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	if b.newListener == nil {
		b.newListener = func() (Listener, error) {
			if dsn == "" {
				return nil, errors.New("no dsn configured for listener")
			}
			return pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
				if err != nil {
					b.logger.Warn("Order listener event", slog.Int("event", int(ev)), slog.String("error", err.Error()))
				}
			}), nil
		}
	}
	return b
}

// OpenPostgres opens and pings the database.
func OpenPostgres(ctx context.Context, dsn string, timeout time.Duration) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate creates the orders table, its indexes and the change trigger.
func (b *PostgresBackend) Migrate(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate orders schema: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Create(ctx context.Context, order model.Order) (model.Order, error) {
	items := order.RewardItems
	if items == nil {
		items = []string{}
	}

	var id int64
	err := b.db.QueryRowContext(ctx, `
		INSERT INTO orders (user_id, user_email, user_name, user_phone, contact_name, contact_phone,
			depositor_name, address, memo, product_name, reward_id, reward_title, reward_items,
			total_amount, quantity, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id`,
		order.UserID, order.UserEmail, order.UserName, order.UserPhone, order.ContactName, order.ContactPhone,
		order.DepositorName, order.Address, order.Memo, order.ProductName, order.RewardID, order.RewardTitle,
		pq.Array(items), order.TotalAmount, order.Quantity, string(order.Status), order.CreatedAt,
	).Scan(&id)
	if err != nil {
		return model.Order{}, fmt.Errorf("insert order: %w", err)
	}

	order = order.Clone()
	order.ID = strconv.FormatInt(id, 10)
	return order, nil
}

func (b *PostgresBackend) Query(ctx context.Context, f Filter) ([]model.Order, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if f.All {
		rows, err = b.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC`)
	} else {
		rows, err = b.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_email = $1 ORDER BY created_at DESC`, f.Email)
	}
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	orders := []model.Order{}
	for rows.Next() {
		var (
			o      model.Order
			id     int64
			items  []string
			status string
		)
		if err := rows.Scan(&id, &o.UserID, &o.UserEmail, &o.UserName, &o.UserPhone, &o.ContactName, &o.ContactPhone,
			&o.DepositorName, &o.Address, &o.Memo, &o.ProductName, &o.RewardID, &o.RewardTitle, pq.Array(&items),
			&o.TotalAmount, &o.Quantity, &status, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.ID = strconv.FormatInt(id, 10)
		o.RewardItems = items
		o.Status = model.OrderStatus(status)
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return orders, nil
}

func (b *PostgresBackend) UpdateStatus(ctx context.Context, id string, status model.OrderStatus) error {
	if !status.Valid() {
		return ErrUnknownStatus
	}
	// Ids handed out by another backend can never exist here.
	numericID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return ErrNotFound
	}

	res, err := b.db.ExecContext(ctx, `UPDATE orders SET status = $1 WHERE id = $2`, string(status), numericID)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (b *PostgresBackend) Subscribe(f Filter, onChange func([]model.Order), onError func(error)) (Unsubscribe, error) {
	l, err := b.newListener()
	if err != nil {
		return nil, fmt.Errorf("open order listener: %w", err)
	}
	if err := l.Listen(notifyChannel); err != nil {
		l.Close()
		return nil, fmt.Errorf("listen %s: %w", notifyChannel, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	push := func() bool {
		orders, err := b.Query(ctx, f)
		if err != nil {
			if ctx.Err() == nil && onError != nil {
				onError(err)
			}
			return false
		}
		if ctx.Err() != nil {
			return false
		}
		onChange(orders)
		return true
	}

	go func() {
		defer l.Close()
		if !push() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			// A nil notification means the connection was re-established
			// and changes may have been missed, so re-query either way.
			case _, ok := <-l.NotificationChannel():
				if !ok {
					return
				}
				if !push() {
					return
				}
			}
		}
	}()

	return Unsubscribe(cancel), nil
}
