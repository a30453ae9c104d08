package core

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records store activity as Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	commits    *prometheus.CounterVec
	duration   prometheus.Histogram
	entities   *prometheus.CounterVec
	violations *prometheus.CounterVec
}

// NewMetrics registers the store collectors on reg under namespace. A nil
// registerer uses the default registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		commits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Transactions by outcome",
		}, []string{"result"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transaction_duration_seconds",
			Help:      "Transaction duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		entities: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entity_changes_total",
			Help:      "Committed entity changes by type and action",
		}, []string{"entity", "action"}),
		violations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_violations_total",
			Help:      "Rule violations by rule and severity",
		}, []string{"rule", "severity"}),
	}
}

func (m *Metrics) observeTransaction(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(result).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) observeChange(entity, action string) {
	if m == nil {
		return
	}
	m.entities.WithLabelValues(entity, action).Inc()
}

func (m *Metrics) observeViolation(rule, severity string) {
	if m == nil {
		return
	}
	m.violations.WithLabelValues(rule, severity).Inc()
}
