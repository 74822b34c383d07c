// Package stats derives the campaign totals shown on the storefront.
package stats

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/jeffsasaki/pledge-storefront/metrics"
	"github.com/jeffsasaki/pledge-storefront/model"
	"github.com/jeffsasaki/pledge-storefront/store"
)

type Stats struct {
	CurrentAmount  int64 `json:"current_amount"`
	SupporterCount int   `json:"supporter_count"`
}

// Compute sums every order with a positive amount, whatever its status.
// Each counted order is one supporter.
func Compute(orders []model.Order) Stats {
	var s Stats
	for _, o := range orders {
		if o.TotalAmount <= 0 {
			continue
		}
		s.CurrentAmount += o.TotalAmount
		s.SupporterCount++
	}
	return s
}

type Source interface {
	QueryOnce(ctx context.Context, f store.Filter) ([]model.Order, error)
}

type Aggregator struct {
	source  Source
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewAggregator(source Source, logger *slog.Logger, m *metrics.Metrics) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{source: source, logger: logger, metrics: m}
}

// Load reads every order and computes the totals. A failed read yields the
// zero Stats so the page always renders.
func (a *Aggregator) Load(ctx context.Context) Stats {
	orders, err := a.source.QueryOnce(ctx, store.AllOrders())
	if err != nil {
		a.logger.Warn("Failed to read orders for stats", slog.String("error", err.Error()))
		return Stats{}
	}
	s := Compute(orders)
	a.metrics.SetStats(s.CurrentAmount, s.SupporterCount)
	return s
}

const dateLayout = "2006-01-02"

type Progress struct {
	Percent  float64 `json:"percent"`
	DaysLeft int     `json:"days_left"`
	Ended    bool    `json:"ended"`
}

// ComputeProgress reports the share of the goal reached, capped at 100, and
// the whole days left until the campaign's end date.
func ComputeProgress(c *model.Campaign, s Stats, now time.Time) Progress {
	var p Progress
	if c.GoalAmount > 0 {
		p.Percent = math.Min(float64(s.CurrentAmount)/float64(c.GoalAmount)*100, 100)
	}

	end, err := time.Parse(dateLayout, c.EndDate)
	if err != nil {
		return p
	}
	remaining := end.Sub(now)
	if remaining <= 0 {
		p.Ended = true
		return p
	}
	p.DaysLeft = int(math.Ceil(remaining.Hours() / 24))
	return p
}
