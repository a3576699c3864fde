package standard

import (
	"sync"

	"github.com/lattice-fl/lattice/pkg/watcher"
)

// Direction says whether higher or lower values are better for a
// criterion, per spec §4.6's "direction is a criterion attribute".
type Direction int

const (
	HigherBetter Direction = iota
	LowerBetter
)

// NewBestDetector watches aggregate metrics for a chosen criterion key
// and publishes NewBestModelNotification when a better value arrives.
type NewBestDetector struct {
	pool      *watcher.Pool
	criterion string
	direction Direction
	split     string

	mu   sync.Mutex
	best *float64
}

// NewNewBestDetector builds a detector for criterion (e.g. "acc"),
// publishing through pool whenever a strictly better aggregate value for
// that metric type arrives.
func NewNewBestDetector(pool *watcher.Pool, criterion string, direction Direction, split string) *NewBestDetector {
	return &NewBestDetector{pool: pool, criterion: criterion, direction: direction, split: split}
}

func (d *NewBestDetector) Name() string { return "new-best-detector:" + d.criterion }

func (d *NewBestDetector) NotificationsOfInterest() map[watcher.NotificationType]watcher.Handler {
	return map[watcher.NotificationType]watcher.Handler{
		watcher.MetricNotification: d.onMetric,
	}
}

func (d *NewBestDetector) Fallback() watcher.Handler { return nil }

func (d *NewBestDetector) onMetric(n watcher.Notification) {
	p, ok := n.Payload.(MetricPayload)
	if !ok || !p.IsAggregate || p.MetricType != d.criterion {
		return
	}

	d.mu.Lock()
	better := d.best == nil
	if d.best != nil {
		if d.direction == HigherBetter {
			better = p.Value > *d.best
		} else {
			better = p.Value < *d.best
		}
	}
	if better {
		v := p.Value
		d.best = &v
	}
	d.mu.Unlock()

	if better {
		d.pool.NotifyAll(watcher.Notification{
			Type:   watcher.NewBestModelNotification,
			Origin: d.Name(),
			Payload: NewBestPayload{
				Key:   d.criterion,
				Value: p.Value,
				Split: d.split,
			},
		})
	}
}
