package search

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operation and outcome label values.
const (
	opResync = "embed_all"
	opSingle = "embed_single"
	opRemove = "remove"

	outcomeOK      = "ok"
	outcomeError   = "error"
	outcomeInvalid = "invalid"
	outcomeEmpty   = "empty"
)

// Metrics holds the Prometheus instruments owned by the orchestrator.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// embedOpsTotal counts indexing operations by op and outcome.
	embedOpsTotal *prometheus.CounterVec

	// searchRequestsTotal counts Search calls by outcome.
	searchRequestsTotal *prometheus.CounterVec

	// searchDurationSeconds records end-to-end Search latency.
	searchDurationSeconds prometheus.Histogram
}

// NewMetrics registers the orchestrator metrics against reg. Pass a fresh
// prometheus.Registry in tests to keep them hermetic.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		embedOpsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "connectq",
			Subsystem: "embed",
			Name:      "operations_total",
			Help:      "Total number of embedding/index operations, partitioned by op and outcome.",
		}, []string{"op", "outcome"}),

		searchRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "connectq",
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Total number of company searches, partitioned by outcome.",
		}, []string{"outcome"}),

		searchDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "connectq",
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Latency of company searches including embedding, index query and hydration.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
}

func (m *Metrics) observeOp(op, outcome string) {
	if m == nil {
		return
	}
	m.embedOpsTotal.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) observeSearch(res SearchResult, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := outcomeOK
	switch {
	case errors.Is(res.Err, ErrValidation):
		outcome = outcomeInvalid
	case !res.Success:
		outcome = outcomeError
	case res.Count == 0:
		outcome = outcomeEmpty
	}
	m.searchRequestsTotal.WithLabelValues(outcome).Inc()
	m.searchDurationSeconds.Observe(elapsed.Seconds())
}
