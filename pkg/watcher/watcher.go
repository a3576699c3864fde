// Package watcher implements the WatcherPool publish/subscribe bus from
// spec §4.6. It is grounded on the teacher's pkg/events.Broker (same
// subscriber-set-under-a-mutex shape, same best-effort delivery
// philosophy) but adapted from the teacher's async buffered-channel
// broadcast to the spec's synchronous, best-effort dispatch: a watcher
// panicking during NotifyAll/NotifyOfType is recovered, logged, and does
// not block delivery to the remaining watchers.
package watcher

import (
	"github.com/lattice-fl/lattice/pkg/log"
	"sync"
)

// NotificationType names one of the contract taxonomy entries from
// spec §4.6.
type NotificationType string

const (
	InitializationNotification    NotificationType = "InitializationNotification"
	StatusUpdateNotification      NotificationType = "StatusUpdateNotification"
	MetricNotification            NotificationType = "MetricNotification"
	CommandFinishedNotification   NotificationType = "CommandFinishedNotification"
	NewBestModelNotification      NotificationType = "NewBestModelNotification"
	AggregationCompletedNotification NotificationType = "AggregationCompletedNotification"
	ParameterNotification         NotificationType = "ParameterNotification"
	TopologyChangeNotification    NotificationType = "TopologyChangeNotification"
)

// Notification is the value delivered to watchers. Payload carries
// notification-specific data (e.g. a MetricNotification payload has
// CommandUUID/Round/Epoch/MetricType/Value fields — see the standard
// subpackage for concrete payload types).
type Notification struct {
	Type   NotificationType
	Origin string
	Payload any
}

// Handler processes one notification. Handlers must not block; the pool
// calls them synchronously on the publishing goroutine.
type Handler func(n Notification)

// Watcher is a subscriber to the pool. NotificationsOfInterest maps the
// notification types a watcher cares about to their handlers; Fallback,
// if non-nil, receives any notification type not present in that map.
// This mirrors original_source's Watcher.notification_of_interest dict
// plus fallback_handler.
type Watcher interface {
	Name() string
	NotificationsOfInterest() map[NotificationType]Handler
	Fallback() Handler
}

// Pool is the WatcherPool: a set of watchers plus synchronous, best-effort
// delivery. The zero value is not usable; construct with NewPool.
type Pool struct {
	mu       sync.RWMutex
	watchers []Watcher
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{}
}

// Add registers a watcher.
func (p *Pool) Add(w Watcher) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.watchers = append(p.watchers, w)
}

// Remove unregisters a watcher by identity: the same Watcher value that
// was passed to Add. Names are not compared.
func (p *Pool) Remove(w Watcher) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, existing := range p.watchers {
		if existing == w {
			p.watchers = append(p.watchers[:i], p.watchers[i+1:]...)
			return
		}
	}
}

// NotifyAll delivers n to every watcher: watchers with a matching handler
// in NotificationsOfInterest get that handler; the rest get Fallback (if
// set); watchers with neither are skipped.
func (p *Pool) NotifyAll(n Notification) {
	p.mu.RLock()
	watchers := make([]Watcher, len(p.watchers))
	copy(watchers, p.watchers)
	p.mu.RUnlock()

	for _, w := range watchers {
		handler := w.NotificationsOfInterest()[n.Type]
		if handler == nil {
			handler = w.Fallback()
		}
		if handler == nil {
			continue
		}
		deliver(w, n, handler)
	}
}

// NotifyOfType delivers n only to watchers that declared explicit
// interest in n.Type (fallback handlers are not consulted).
func (p *Pool) NotifyOfType(n Notification) {
	p.mu.RLock()
	watchers := make([]Watcher, len(p.watchers))
	copy(watchers, p.watchers)
	p.mu.RUnlock()

	for _, w := range watchers {
		if handler, ok := w.NotificationsOfInterest()[n.Type]; ok {
			deliver(w, n, handler)
		}
	}
}

func deliver(w Watcher, n Notification, handler Handler) {
	defer func() {
		if r := recover(); r != nil {
			log.Logger.Error().
				Str("watcher", w.Name()).
				Str("notification_type", string(n.Type)).
				Interface("panic", r).
				Msg("watcher handler panicked")
		}
	}()
	handler(n)
}
