// Package pledge turns pledge submissions into pending orders and applies
// administrator status changes.
package pledge

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/jeffsasaki/pledge-storefront/metrics"
	"github.com/jeffsasaki/pledge-storefront/model"
	"github.com/jeffsasaki/pledge-storefront/store"
)

// OrderStore is the part of store.Adapter the engine writes through.
type OrderStore interface {
	Create(ctx context.Context, order model.Order) (model.Order, error)
	UpdateStatus(ctx context.Context, id string, status model.OrderStatus) error
}

// Publisher sends order events to the message bus.
type Publisher interface {
	Publish(ctx context.Context, key string, body []byte) error
}

// Policy is the campaign's mandatory-field policy beyond the always-required
// recipient and depositor fields.
type Policy struct {
	RequireConsent bool
}

type Engine struct {
	store     OrderStore
	policy    Policy
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Engine)

func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(s OrderStore, policy Policy, opts ...Option) *Engine {
	e := &Engine{
		store:  s,
		policy: policy,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SubmitPledge validates the submission and records a pending_payment order
// for the campaign's current copy of the chosen reward. It never touches the
// reward's remaining count.
func (e *Engine) SubmitPledge(ctx context.Context, user *model.UserProfile, campaign *model.Campaign,
	reward model.Reward, contact model.ContactInfo, consent model.Consent) (model.Order, error) {
	contact = contact.Normalize()

	current, err := e.validate(user, campaign, reward, contact, consent)
	if err != nil {
		e.metrics.PledgeRejected(err.Field)
		e.logger.Debug("Pledge rejected", slog.String("field", err.Field), slog.String("reason", err.Reason))
		return model.Order{}, err
	}

	order := model.NewOrder(*user, campaign, current, contact, e.now())
	created, cerr := e.store.Create(ctx, order)
	if cerr != nil {
		e.logger.Error("Failed to create order", slog.String("user_email", order.UserEmail), slog.String("error", cerr.Error()))
		return model.Order{}, &PersistenceError{Err: cerr}
	}

	e.metrics.OrderCreated(current.ID)
	e.logger.Info("Order created",
		slog.String("order_id", created.ID),
		slog.String("user_email", created.UserEmail),
		slog.String("reward_id", current.ID),
		slog.Int64("total_amount", created.TotalAmount))
	e.publish(ctx, model.EventOrderCreated, model.OrderCreated{Order: created})
	return created, nil
}

func (e *Engine) validate(user *model.UserProfile, campaign *model.Campaign, reward model.Reward,
	contact model.ContactInfo, consent model.Consent) (model.Reward, *ValidationError) {
	if user == nil || user.ID == "" {
		return model.Reward{}, &ValidationError{Field: "user", Reason: "must be signed in"}
	}
	if campaign == nil {
		return model.Reward{}, &ValidationError{Field: "campaign", Reason: "is required"}
	}
	current, ok := campaign.FindReward(reward.ID)
	if !ok {
		return model.Reward{}, &ValidationError{Field: "reward", Reason: "is not offered by this campaign"}
	}
	if current.Price <= 0 {
		return model.Reward{}, &ValidationError{Field: "reward", Reason: "has no positive price"}
	}
	if e.policy.RequireConsent {
		if !consent.DataSharing {
			return model.Reward{}, &ValidationError{Field: "consent.data_sharing", Reason: "must be accepted"}
		}
		if !consent.Terms {
			return model.Reward{}, &ValidationError{Field: "consent.terms", Reason: "must be accepted"}
		}
	}

	supporter := contact.UserName
	if supporter == "" {
		supporter = strings.TrimSpace(user.DisplayName)
	}

	required := []struct {
		field string
		value string
	}{
		{"user_name", supporter},
		{"contact_name", contact.ContactName},
		{"contact_phone", contact.ContactPhone},
		{"depositor_name", contact.DepositorName},
	}
	for _, r := range required {
		if r.value == "" {
			return model.Reward{}, &ValidationError{Field: r.field, Reason: "is required"}
		}
	}
	return current, nil
}

// ChangeStatus applies any known status to the order. There is no transition
// table: moving backwards, e.g. delivered to pending_payment, is accepted.
// Callers are trusted to have checked that the actor is an administrator.
func (e *Engine) ChangeStatus(ctx context.Context, orderID string, status model.OrderStatus) error {
	if !status.Valid() {
		e.metrics.StatusChanged(string(status), store.ErrUnknownStatus)
		return &UpdateError{OrderID: orderID, Err: store.ErrUnknownStatus}
	}

	if err := e.store.UpdateStatus(ctx, orderID, status); err != nil {
		e.metrics.StatusChanged(string(status), err)
		e.logger.Error("Failed to update order status",
			slog.String("order_id", orderID),
			slog.String("status", string(status)),
			slog.String("error", err.Error()))
		return &UpdateError{OrderID: orderID, Err: err}
	}

	e.metrics.StatusChanged(string(status), nil)
	e.logger.Info("Order status changed", slog.String("order_id", orderID), slog.String("status", string(status)))
	e.publish(ctx, model.EventOrderStatusChanged, model.OrderStatusChanged{
		OrderID:   orderID,
		Status:    status,
		ChangedAt: e.now(),
	})
	return nil
}

// publish is best effort: a bus outage never fails a pledge or status change.
func (e *Engine) publish(ctx context.Context, key string, event any) {
	if e.publisher == nil {
		return
	}
	body, err := json.Marshal(event)
	if err != nil {
		e.logger.Warn("Failed to encode event", slog.String("key", key), slog.String("error", err.Error()))
		return
	}
	if err := e.publisher.Publish(ctx, key, body); err != nil {
		e.logger.Warn("Failed to publish event", slog.String("key", key), slog.String("error", err.Error()))
	}
}
