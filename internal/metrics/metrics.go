package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the reconciliation engine collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	RailQueryLatency *prometheus.HistogramVec

	// corroborated / syncing / failed
	Corroboration *prometheus.CounterVec

	AggregationPartial *prometheus.CounterVec

	// hit / stale / miss
	BalanceCache *prometheus.CounterVec

	IndexedPayments prometheus.Counter
}

// New registers every collector with the default registry. Call it once
// per process.
func New() *Metrics {
	return &Metrics{
		RailQueryLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wedogs_rail_query_duration_seconds",
			Help:    "Duration of rail queries by rail, operation and outcome",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"rail", "op", "outcome"}),

		Corroboration: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wedogs_donation_corroboration_total",
			Help: "Donation corroboration outcomes",
		}, []string{"outcome"}),

		AggregationPartial: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wedogs_aggregation_partial_total",
			Help: "Aggregations served without one rail, by failed rail",
		}, []string{"rail"}),

		BalanceCache: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wedogs_balance_cache_total",
			Help: "Balance cache lookups by result",
		}, []string{"result"}),

		IndexedPayments: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wedogs_indexer_payments_total",
			Help: "Incoming instant-rail payments ingested by the indexer",
		}),
	}
}

func (m *Metrics) ObserveRailQuery(rail, op string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.RailQueryLatency.WithLabelValues(rail, op, outcome).Observe(d.Seconds())
}

func (m *Metrics) IncCorroboration(outcome string) {
	if m != nil {
		m.Corroboration.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncAggregationPartial(rail string) {
	if m != nil {
		m.AggregationPartial.WithLabelValues(rail).Inc()
	}
}

func (m *Metrics) IncBalanceCache(result string) {
	if m != nil {
		m.BalanceCache.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) IncIndexedPayments(n int) {
	if m != nil {
		m.IndexedPayments.Add(float64(n))
	}
}
