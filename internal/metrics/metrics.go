// Package metrics registers the Prometheus collectors shared by the
// pipeline, the cluster builder, the search engine and the HTTP server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "recall"

// Outcome label values.
const (
	OutcomeOK      = "ok"
	OutcomeSkipped = "skipped"
	OutcomeError   = "error"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing,
// so services can be built without a registry in tests.
type Metrics struct {
	pipelineRuns   *prometheus.CounterVec
	searchRequests *prometheus.CounterVec
	searchDuration *prometheus.HistogramVec
	clusterRuns    *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

// New registers all collectors against reg. Use prometheus.NewRegistry() in
// tests to keep them hermetic.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		pipelineRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Pipeline stage runs partitioned by stage and outcome.",
		}, []string{"stage", "outcome"}),

		searchRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Search requests partitioned by capability tier.",
		}, []string{"tier"}),

		searchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Search latency partitioned by capability tier.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"tier"}),

		clusterRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cluster",
			Name:      "runs_total",
			Help:      "Cluster builder attempts partitioned by outcome.",
		}, []string{"outcome"}),

		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests partitioned by method, route and status code.",
		}, []string{"method", "route", "code"}),

		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) PipelineRun(stage, outcome string) {
	if m == nil {
		return
	}
	m.pipelineRuns.WithLabelValues(stage, outcome).Inc()
}

func (m *Metrics) SearchRequest(tier string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.searchRequests.WithLabelValues(tier).Inc()
	m.searchDuration.WithLabelValues(tier).Observe(elapsed.Seconds())
}

func (m *Metrics) ClusterRun(outcome string) {
	if m == nil {
		return
	}
	m.clusterRuns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) HTTPRequest(method, route, code string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, code).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
