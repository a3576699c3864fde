package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Topology metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lattice_nodes_total",
			Help: "Total number of nodes by role and status",
		},
		[]string{"role", "status"},
	)

	// Operation / distribution metrics
	DistributionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lattice_distributions_total",
			Help: "Total number of distributions by status",
		},
		[]string{"status"},
	)

	DistributionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lattice_distribution_duration_seconds",
			Help:    "Time from distribution init to COMPLETED in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ActiveWorkersGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lattice_active_workers",
			Help: "Number of workers currently active (SEND/STARTED) across all live distributions",
		},
	)

	CommandsDispatchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lattice_commands_dispatched_total",
			Help: "Total number of commands dispatched to workers",
		},
	)

	StatusUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lattice_status_updates_total",
			Help: "Total number of status updates received by terminal status",
		},
		[]string{"status"},
	)

	// Transport metrics
	TransportRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lattice_transport_requests_total",
			Help: "Total number of transport requests by endpoint and status",
		},
		[]string{"endpoint", "status"},
	)

	TransportRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lattice_transport_request_duration_seconds",
			Help:    "Transport request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// Auth metrics
	TokensIssuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lattice_tokens_issued_total",
			Help: "Total number of bearer tokens issued",
		},
	)

	AuthFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lattice_auth_failures_total",
			Help: "Total number of authentication failures by reason",
		},
		[]string{"reason"},
	)

	// BlobStore metrics
	BlobsStoredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lattice_blobs_stored_total",
			Help: "Total number of blobs uploaded",
		},
	)

	BlobsLeakedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lattice_blobs_leaked_total",
			Help: "Total number of blobs never fetched during their distribution's lifetime",
		},
	)

	// Topology liveness metrics
	LivenessSweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lattice_liveness_sweep_duration_seconds",
			Help:    "Time taken for one liveness-observer sweep in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	LivenessEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lattice_liveness_evictions_total",
			Help: "Total number of workers marked offline by the liveness observer",
		},
	)

	// Metric notifications forwarded through the watcher pool (see
	// pkg/watcher/standard.MetricCollector), an ambient observability
	// extension of the teacher's periodic-collector idea, not a distilled
	// spec requirement.
	ForwardedMetrics = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lattice_forwarded_metric_value",
			Help:    "Values of MetricNotifications forwarded from the watcher pool, by metric type",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"metric_type", "is_aggregate"},
	)
)

func init() {
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(DistributionsTotal)
	prometheus.MustRegister(DistributionDuration)
	prometheus.MustRegister(ActiveWorkersGauge)
	prometheus.MustRegister(CommandsDispatchedTotal)
	prometheus.MustRegister(StatusUpdatesTotal)
	prometheus.MustRegister(TransportRequestsTotal)
	prometheus.MustRegister(TransportRequestDuration)
	prometheus.MustRegister(TokensIssuedTotal)
	prometheus.MustRegister(AuthFailuresTotal)
	prometheus.MustRegister(BlobsStoredTotal)
	prometheus.MustRegister(BlobsLeakedTotal)
	prometheus.MustRegister(LivenessSweepDuration)
	prometheus.MustRegister(LivenessEvictionsTotal)
	prometheus.MustRegister(ForwardedMetrics)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
