// Package metrics exposes Prometheus collectors for the storefront. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "storefront"

type Metrics struct {
	ordersCreated  *prometheus.CounterVec
	pledgeRejected *prometheus.CounterVec
	statusChanges  *prometheus.CounterVec
	storeFallbacks *prometheus.CounterVec
	backendLive    prometheus.Gauge
	amountPledged  prometheus.Gauge
	supporters     prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ordersCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Pledge orders created, by reward.",
		}, []string{"reward"}),
		pledgeRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pledges_rejected_total",
			Help:      "Pledge submissions rejected by validation, by field.",
		}, []string{"field"}),
		statusChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_status_changes_total",
			Help:      "Order status changes, by target status and result.",
		}, []string{"status", "result"}),
		storeFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_fallbacks_total",
			Help:      "Switches from the live order store to the ephemeral store, by operation.",
		}, []string{"operation"}),
		backendLive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_live",
			Help:      "1 while the live order store is in use, 0 in ephemeral mode.",
		}),
		amountPledged: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "amount_pledged",
			Help:      "Sum of positive order amounts at the last stats read.",
		}),
		supporters: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "supporters",
			Help:      "Number of counted orders at the last stats read.",
		}),
	}
}

func (m *Metrics) OrderCreated(rewardID string) {
	if m == nil {
		return
	}
	m.ordersCreated.WithLabelValues(rewardID).Inc()
}

func (m *Metrics) PledgeRejected(field string) {
	if m == nil {
		return
	}
	m.pledgeRejected.WithLabelValues(field).Inc()
}

func (m *Metrics) StatusChanged(status string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.statusChanges.WithLabelValues(status, result).Inc()
}

func (m *Metrics) StoreFallback(op string) {
	if m == nil {
		return
	}
	m.storeFallbacks.WithLabelValues(op).Inc()
	m.backendLive.Set(0)
}

func (m *Metrics) SetBackendLive(live bool) {
	if m == nil {
		return
	}
	if live {
		m.backendLive.Set(1)
	} else {
		m.backendLive.Set(0)
	}
}

func (m *Metrics) SetStats(amount int64, supporters int) {
	if m == nil {
		return
	}
	m.amountPledged.Set(float64(amount))
	m.supporters.Set(float64(supporters))
}
