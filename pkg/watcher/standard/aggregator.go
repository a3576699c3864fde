package standard

import (
	"fmt"
	"sync"

	"github.com/lattice-fl/lattice/pkg/watcher"
)

// aggKey groups metrics the way spec §4.6 describes: per (command_uuid,
// comm_round, epoch, metric_type).
type aggKey struct {
	CommandUUID string
	Round       int
	Epoch       int
	MetricType  string
}

// MetricAggregator buffers per-worker metrics and, on
// CommandFinishedNotification, emits a mean MetricNotification flagged
// IsAggregate.
type MetricAggregator struct {
	pool *watcher.Pool

	mu      sync.Mutex
	buffers map[aggKey][]float64
	meta    map[aggKey]MetricPayload // last payload seen for this key, for round/epoch/type echo
}

// NewMetricAggregator returns an aggregator that publishes its aggregate
// notifications back through pool.
func NewMetricAggregator(pool *watcher.Pool) *MetricAggregator {
	return &MetricAggregator{
		pool:    pool,
		buffers: make(map[aggKey][]float64),
		meta:    make(map[aggKey]MetricPayload),
	}
}

func (a *MetricAggregator) Name() string { return "metric-aggregator" }

func (a *MetricAggregator) NotificationsOfInterest() map[watcher.NotificationType]watcher.Handler {
	return map[watcher.NotificationType]watcher.Handler{
		watcher.MetricNotification:          a.onMetric,
		watcher.CommandFinishedNotification: a.onCommandFinished,
	}
}

func (a *MetricAggregator) Fallback() watcher.Handler { return nil }

func (a *MetricAggregator) onMetric(n watcher.Notification) {
	p, ok := n.Payload.(MetricPayload)
	if !ok || p.IsAggregate {
		return
	}
	key := aggKey{CommandUUID: p.CommandUUID, Round: p.Round, Epoch: p.Epoch, MetricType: p.MetricType}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buffers[key] = append(a.buffers[key], p.Value)
	a.meta[key] = p
}

func (a *MetricAggregator) onCommandFinished(n watcher.Notification) {
	fp, ok := n.Payload.(CommandFinishedPayload)
	if !ok {
		return
	}
	a.mu.Lock()
	var toEmit []struct {
		key    aggKey
		values []float64
		meta   MetricPayload
	}
	for key, values := range a.buffers {
		if key.CommandUUID != fp.CommandUUID {
			continue
		}
		cp := make([]float64, len(values))
		copy(cp, values)
		toEmit = append(toEmit, struct {
			key    aggKey
			values []float64
			meta   MetricPayload
		}{key, cp, a.meta[key]})
		delete(a.buffers, key)
		delete(a.meta, key)
	}
	a.mu.Unlock()

	for _, e := range toEmit {
		mean := sum(e.values) / float64(len(e.values))
		a.pool.NotifyAll(watcher.Notification{
			Type:   watcher.MetricNotification,
			Origin: fmt.Sprintf("aggregator:%s", e.key.MetricType),
			Payload: MetricPayload{
				CommandUUID: e.key.CommandUUID,
				Round:       e.key.Round,
				Epoch:       e.key.Epoch,
				MetricType:  e.key.MetricType,
				Value:       mean,
				IsAggregate: true,
			},
		})
	}
}

func sum(vs []float64) float64 {
	var s float64
	for _, v := range vs {
		s += v
	}
	return s
}
