package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors shared by the API and the worker.
type Metrics struct {
	ReportsSubmitted *prometheus.CounterVec // labels: severity
	SubmitFailures   *prometheus.CounterVec // labels: reason={location_unavailable,invalid,store}
	AuthAttempts     *prometheus.CounterVec // labels: action={login,register}, outcome={success,failure}

	SnapshotsBroadcast prometheus.Counter
	ActiveSubscribers  prometheus.Gauge

	HTTPRequestDuration *prometheus.HistogramVec // labels: method, route, status

	TasksProcessed *prometheus.CounterVec // labels: type, outcome
}

// NewMetrics creates and registers all collectors with the default registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting returns unregistered collectors so tests can build
// as many instances as they like.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		ReportsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "floodbuddy",
			Name:      "reports_submitted_total",
			Help:      "Reports persisted, by severity label.",
		}, []string{"severity"}),
		SubmitFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "floodbuddy",
			Name:      "report_submit_failures_total",
			Help:      "Refused or failed report submissions, by reason.",
		}, []string{"reason"}),
		AuthAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "floodbuddy",
			Name:      "auth_attempts_total",
			Help:      "Sign-in and registration attempts by outcome.",
		}, []string{"action", "outcome"}),
		SnapshotsBroadcast: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "floodbuddy",
			Name:      "snapshots_broadcast_total",
			Help:      "Full report snapshots fanned out to subscribers.",
		}),
		ActiveSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "floodbuddy",
			Name:      "snapshot_subscribers",
			Help:      "Currently open snapshot subscriptions.",
		}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "floodbuddy",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "route", "status"}),
		TasksProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "floodbuddy",
			Name:      "worker_tasks_total",
			Help:      "Worker tasks handled, by type and outcome.",
		}, []string{"type", "outcome"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ReportsSubmitted,
		m.SubmitFailures,
		m.AuthAttempts,
		m.SnapshotsBroadcast,
		m.ActiveSubscribers,
		m.HTTPRequestDuration,
		m.TasksProcessed,
	}
}
