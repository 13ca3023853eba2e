package infra

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the wallet's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	webhookEvents   *prometheus.CounterVec
	ledgerMovements *prometheus.CounterVec
	payouts         *prometheus.CounterVec
	providerCalls   *prometheus.HistogramVec
	outboxPublished *prometheus.CounterVec
	sweepItems      *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		webhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "carpool",
				Subsystem: "wallet",
				Name:      "webhook_events_total",
				Help:      "Provider webhook events partitioned by type and outcome.",
			},
			[]string{"type", "outcome"},
		),
		ledgerMovements: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "carpool",
				Subsystem: "wallet",
				Name:      "ledger_movements_total",
				Help:      "Committed ledger movements partitioned by transaction type.",
			},
			[]string{"type"},
		),
		payouts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "carpool",
				Subsystem: "wallet",
				Name:      "payouts_total",
				Help:      "Payout requests and reconciliations partitioned by outcome.",
			},
			[]string{"outcome"},
		),
		providerCalls: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "carpool",
				Subsystem: "wallet",
				Name:      "provider_call_duration_seconds",
				Help:      "Latency of payment provider calls partitioned by operation and result.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation", "result"},
		),
		outboxPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "carpool",
				Subsystem: "wallet",
				Name:      "outbox_published_total",
				Help:      "Outbox events relayed to Kafka partitioned by result.",
			},
			[]string{"result"},
		),
		sweepItems: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "carpool",
				Subsystem: "wallet",
				Name:      "sweep_items_total",
				Help:      "Items handled by the reconciliation sweep partitioned by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
	}
}

func (m *Metrics) WebhookEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) LedgerMovement(txType string) {
	if m == nil {
		return
	}
	m.ledgerMovements.WithLabelValues(txType).Inc()
}

func (m *Metrics) Payout(outcome string) {
	if m == nil {
		return
	}
	m.payouts.WithLabelValues(outcome).Inc()
}

// ProviderCall observes the latency of one provider round trip.
func (m *Metrics) ProviderCall(operation string, started time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.providerCalls.WithLabelValues(operation, result).Observe(time.Since(started).Seconds())
}

func (m *Metrics) OutboxPublished(result string, n int) {
	if m == nil {
		return
	}
	m.outboxPublished.WithLabelValues(result).Add(float64(n))
}

func (m *Metrics) SweepItem(kind, outcome string) {
	if m == nil {
		return
	}
	m.sweepItems.WithLabelValues(kind, outcome).Inc()
}
