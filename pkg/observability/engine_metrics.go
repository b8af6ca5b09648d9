package observability

import "github.com/prometheus/client_golang/prometheus"

// EngineMetrics holds the Prometheus collectors shared across the engine's
// worker binaries: outbox dispatch outcomes, reconciliation match-score
// distribution, and consumer delivery-limit exhaustion. These are
// operator-facing counters, not a business API — they back the private
// /metrics listener that cmd/outboxd serves, the same shape as the
// teacher's InitMetrics/promhttp wiring.
type EngineMetrics struct {
	OutboxPublished  prometheus.Counter
	OutboxParked     prometheus.Counter
	OutboxRetried    prometheus.Counter
	DLQRouted        *prometheus.CounterVec
	MatchScore       prometheus.Histogram
	AutoMatched      prometheus.Counter
	ExceptionsOpened prometheus.Counter
}

// NewEngineMetrics registers the engine's collectors against reg and
// returns the handle used by callers to record observations.
func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		OutboxPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loanserve_outbox_published_total",
			Help: "Outbox rows successfully published to the broker.",
		}),
		OutboxParked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loanserve_outbox_parked_total",
			Help: "Outbox rows parked after exhausting retry attempts.",
		}),
		OutboxRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loanserve_outbox_retried_total",
			Help: "Outbox publish attempts that failed and were scheduled for retry.",
		}),
		DLQRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loanserve_dlq_routed_total",
			Help: "Messages routed to a dead-letter topic after exceeding the delivery limit.",
		}, []string{"topic"}),
		MatchScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "loanserve_reconcile_match_score",
			Help:    "Distribution of top candidate scores computed during cash reconciliation.",
			Buckets: []float64{0, 25, 50, 75, 85, 100, 150, 200},
		}),
		AutoMatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loanserve_reconcile_automatched_total",
			Help: "Bank transactions auto-matched above the configured threshold.",
		}),
		ExceptionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loanserve_reconcile_exceptions_opened_total",
			Help: "Reconciliation exceptions opened for unmatched or low-score bank transactions.",
		}),
	}

	reg.MustRegister(m.OutboxPublished, m.OutboxParked, m.OutboxRetried, m.DLQRouted,
		m.MatchScore, m.AutoMatched, m.ExceptionsOpened)
	return m
}
