package standard

import (
	"strconv"

	"github.com/lattice-fl/lattice/pkg/metrics"
	"github.com/lattice-fl/lattice/pkg/watcher"
)

// MetricCollector forwards every MetricNotification into the metrics
// package's ForwardedMetrics histogram, labeled by metric type and
// whether the value is a per-worker reading or an aggregator's mean.
// An ambient observability extension of the teacher's periodic
// pkg/metrics/collector.go collector idea, not a distilled spec
// requirement — named in SPEC_FULL.md's standard-watchers list.
type MetricCollector struct{}

// NewMetricCollector returns a collector ready to register on a pool.
func NewMetricCollector() *MetricCollector {
	return &MetricCollector{}
}

func (c *MetricCollector) Name() string { return "metric-collector" }

func (c *MetricCollector) NotificationsOfInterest() map[watcher.NotificationType]watcher.Handler {
	return map[watcher.NotificationType]watcher.Handler{
		watcher.MetricNotification: c.onMetric,
	}
}

func (c *MetricCollector) Fallback() watcher.Handler { return nil }

func (c *MetricCollector) onMetric(n watcher.Notification) {
	p, ok := n.Payload.(MetricPayload)
	if !ok {
		return
	}
	metrics.ForwardedMetrics.WithLabelValues(p.MetricType, strconv.FormatBool(p.IsAggregate)).Observe(p.Value)
}
