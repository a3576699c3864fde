// Package topology implements spec §4.8: the inventory of worker nodes
// with liveness, flags, and change notifications. The liveness-observer
// ticker is grounded directly in the teacher's pkg/reconciler.reconcileNodes
// (periodic scan of now-LastActive > T marking nodes offline) and
// pkg/scheduler's ticker-goroutine shape; online/offline bookkeeping
// generalizes the teacher's Node/NodeStatus model from container-host
// liveness to FL worker liveness.
package topology

import (
	"fmt"
	"sync"
	"time"

	"github.com/lattice-fl/lattice/pkg/errs"
	"github.com/lattice-fl/lattice/pkg/log"
	"github.com/lattice-fl/lattice/pkg/metrics"
	"github.com/lattice-fl/lattice/pkg/types"
	"github.com/lattice-fl/lattice/pkg/watcher"
)

// LifecycleCallback is implemented by live Distributions so the topology
// can poke them on node online/offline edges (spec §4.2's
// handle_topology_change). Distributions register themselves via
// AddLifecycle at init and are removed on completion.
type LifecycleCallback interface {
	HandleTopologyChange(nodeName string, online bool)
}

// Topology owns the node table. The zero value is not usable; construct
// with New.
type Topology struct {
	mu    sync.RWMutex
	nodes map[string]*types.Node

	pool          *watcher.Pool
	lifecycles    []LifecycleCallback
	timeout       time.Duration // T: idle duration before a client is marked offline
	sweepInterval time.Duration // S: how often the liveness observer scans

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New constructs a Topology. pool may be nil if change notifications are
// not needed (e.g. in unit tests).
func New(pool *watcher.Pool, timeout, sweepInterval time.Duration) *Topology {
	return &Topology{
		nodes:         make(map[string]*types.Node),
		pool:          pool,
		timeout:       timeout,
		sweepInterval: sweepInterval,
		stopCh:        make(chan struct{}),
	}
}

// AddNode registers a node (offline, never active) at startup, from the
// topology config file. It enforces exactly-one-server and unique-name
// invariants.
func (t *Topology) AddNode(name string, role types.NodeRole) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.nodes[name]; exists {
		return fmt.Errorf("topology: duplicate node name %q: %w", name, errs.ErrTopology)
	}
	if role == types.NodeRoleServer {
		for _, n := range t.nodes {
			if n.Role == types.NodeRoleServer {
				return fmt.Errorf("topology: a server node already exists: %w", errs.ErrTopology)
			}
		}
	}
	t.nodes[name] = &types.Node{
		Name:   name,
		Role:   role,
		Status: types.NodeStatusOffline,
		Flags:  make(map[string]struct{}),
	}
	t.refreshNodeMetricsLocked()
	return nil
}

// refreshNodeMetricsLocked recomputes the lattice_nodes_total gauge from
// the current node table. Called with t.mu held.
func (t *Topology) refreshNodeMetricsLocked() {
	counts := make(map[[2]string]int)
	for _, n := range t.nodes {
		counts[[2]string{string(n.Role), string(n.Status)}]++
	}
	for _, role := range []types.NodeRole{types.NodeRoleServer, types.NodeRoleClient} {
		for _, status := range []types.NodeStatus{types.NodeStatusOnline, types.NodeStatusOffline} {
			metrics.NodesTotal.WithLabelValues(string(role), string(status)).Set(float64(counts[[2]string{string(role), string(status)}]))
		}
	}
}

// Validate checks the startup invariant that exactly one server node
// exists, per spec §4.8 / §7 ("Topology: invariant violation → startup
// abort").
func (t *Topology) Validate() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	servers := 0
	for _, n := range t.nodes {
		if n.Role == types.NodeRoleServer {
			servers++
		}
	}
	if servers != 1 {
		return fmt.Errorf("topology: expected exactly one server node, found %d: %w", servers, errs.ErrTopology)
	}
	return nil
}

// SetOnline marks name online, updates last-active, notifies watchers,
// and pokes every registered lifecycle.
func (t *Topology) SetOnline(name string) error {
	t.mu.Lock()
	node, ok := t.nodes[name]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("topology: unknown node %q: %w", name, errs.ErrNotFound)
	}
	node.Status = types.NodeStatusOnline
	node.LastActive = time.Now()
	lifecycles := make([]LifecycleCallback, len(t.lifecycles))
	copy(lifecycles, t.lifecycles)
	t.refreshNodeMetricsLocked()
	t.mu.Unlock()

	t.notifyTopologyChange(name, true)
	for _, cb := range lifecycles {
		cb.HandleTopologyChange(name, true)
	}
	return nil
}

// SetOffline marks name offline and notifies watchers/lifecycles.
func (t *Topology) SetOffline(name string) {
	t.mu.Lock()
	node, ok := t.nodes[name]
	if !ok {
		t.mu.Unlock()
		return
	}
	node.Status = types.NodeStatusOffline
	lifecycles := make([]LifecycleCallback, len(t.lifecycles))
	copy(lifecycles, t.lifecycles)
	t.refreshNodeMetricsLocked()
	t.mu.Unlock()

	t.notifyTopologyChange(name, false)
	for _, cb := range lifecycles {
		cb.HandleTopologyChange(name, false)
	}
}

// Touch refreshes a node's last-active timestamp (called on every
// authenticated request, not just connect), preventing the liveness
// observer from evicting an actively-polling worker.
func (t *Topology) Touch(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if node, ok := t.nodes[name]; ok {
		node.LastActive = time.Now()
	}
}

func (t *Topology) notifyTopologyChange(name string, online bool) {
	if t.pool == nil {
		return
	}
	t.pool.NotifyAll(watcher.Notification{
		Type:   watcher.TopologyChangeNotification,
		Origin: name,
		Payload: ChangePayload{NodeName: name, Online: online},
	})
}

// ChangePayload is the watcher.Notification payload for
// TopologyChangeNotification.
type ChangePayload struct {
	NodeName string
	Online   bool
}

// SetFlag idempotently sets a flag on name and notifies watchers, but
// (per spec §4.8) does NOT poke the lifecycle pool.
func (t *Topology) SetFlag(name, flag string) {
	t.mu.Lock()
	node, ok := t.nodes[name]
	if ok {
		node.Flags[flag] = struct{}{}
	}
	t.mu.Unlock()
	if !ok || t.pool == nil {
		return
	}
	t.pool.NotifyAll(watcher.Notification{Type: watcher.TopologyChangeNotification, Origin: name, Payload: FlagPayload{NodeName: name, Flag: flag, Set: true}})
}

// RemoveFlag idempotently clears a flag on name.
func (t *Topology) RemoveFlag(name, flag string) {
	t.mu.Lock()
	node, ok := t.nodes[name]
	if ok {
		delete(node.Flags, flag)
	}
	t.mu.Unlock()
	if !ok || t.pool == nil {
		return
	}
	t.pool.NotifyAll(watcher.Notification{Type: watcher.TopologyChangeNotification, Origin: name, Payload: FlagPayload{NodeName: name, Flag: flag, Set: false}})
}

// FlagPayload is the watcher.Notification payload for a flag change.
type FlagPayload struct {
	NodeName string
	Flag     string
	Set      bool
}

// Node returns a copy of node name's current state.
func (t *Topology) Node(name string) (types.Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[name]
	if !ok {
		return types.Node{}, false
	}
	return *n, true
}

// Snapshot returns a copy of every node's current state, for persistence
// by pkg/storage. Flag state is deliberately excluded (types.Node.Flags
// carries json:"-") since flags are re-established over the course of a
// run rather than restored at startup.
func (t *Topology) Snapshot() []types.Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]types.Node, 0, len(t.nodes))
	for _, n := range t.nodes {
		out = append(out, *n)
	}
	return out
}

// Restore repopulates the node table from a prior Snapshot, used at
// startup to recover the node inventory across a process restart before
// the liveness observer's own sweeps take over. Nodes are restored
// offline regardless of their persisted status: a worker must
// re-register its liveness after every restart rather than be trusted
// from a stale snapshot.
func (t *Topology) Restore(nodes []types.Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, n := range nodes {
		t.nodes[n.Name] = &types.Node{
			Name:   n.Name,
			Role:   n.Role,
			Status: types.NodeStatusOffline,
			Data:   n.Data,
			Flags:  make(map[string]struct{}),
		}
	}
	t.refreshNodeMetricsLocked()
}

// OnlineClients returns the names of every online client node
// (server excluded), in no particular order.
func (t *Topology) OnlineClients() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.nodes))
	for name, n := range t.nodes {
		if n.Role == types.NodeRoleClient && n.Status == types.NodeStatusOnline {
			out = append(out, name)
		}
	}
	return out
}

// NumClients returns the total number of client nodes (online or not).
func (t *Topology) NumClients() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, node := range t.nodes {
		if node.Role == types.NodeRoleClient {
			n++
		}
	}
	return n
}

// FractionConnected is num_online / num_clients (0 if there are no
// clients at all).
func (t *Topology) FractionConnected() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	total, online := 0, 0
	for _, n := range t.nodes {
		if n.Role != types.NodeRoleClient {
			continue
		}
		total++
		if n.Status == types.NodeStatusOnline {
			online++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(online) / float64(total)
}

// AddLifecycle registers a Distribution (or any lifecycle-interested
// component) to receive topology-change callbacks.
func (t *Topology) AddLifecycle(cb LifecycleCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lifecycles = append(t.lifecycles, cb)
}

// RemoveLifecycle unregisters cb, called once a Distribution completes.
func (t *Topology) RemoveLifecycle(cb LifecycleCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, existing := range t.lifecycles {
		if existing == cb {
			t.lifecycles = append(t.lifecycles[:i], t.lifecycles[i+1:]...)
			return
		}
	}
}

// StartLivenessObserver launches the background sweep goroutine. Call
// once; Stop ends it.
func (t *Topology) StartLivenessObserver() {
	go func() {
		ticker := time.NewTicker(t.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.sweep()
			case <-t.stopCh:
				return
			}
		}
	}()
}

func (t *Topology) sweep() {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.LivenessSweepDuration)

	t.mu.RLock()
	now := time.Now()
	var stale []string
	for name, n := range t.nodes {
		if n.Role == types.NodeRoleClient && n.Status == types.NodeStatusOnline && now.Sub(n.LastActive) > t.timeout {
			stale = append(stale, name)
		}
	}
	t.mu.RUnlock()

	for _, name := range stale {
		log.WithComponent("topology").Warn().Str("node", name).Msg("liveness observer marking node offline")
		metrics.LivenessEvictionsTotal.Inc()
		t.SetOffline(name)
	}
}

// Stop ends the liveness observer goroutine, if started.
func (t *Topology) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
}
