package operation

import (
	"fmt"
	"sync"

	"time"

	"github.com/google/uuid"
	"github.com/lattice-fl/lattice/pkg/command"
	"github.com/lattice-fl/lattice/pkg/errs"
	"github.com/lattice-fl/lattice/pkg/metrics"
	"github.com/lattice-fl/lattice/pkg/registry"
	"github.com/lattice-fl/lattice/pkg/selector"
	"github.com/lattice-fl/lattice/pkg/topology"
	"github.com/lattice-fl/lattice/pkg/types"
	"github.com/lattice-fl/lattice/pkg/watcher"
	"github.com/lattice-fl/lattice/pkg/watcher/standard"
)

// ProgramItem is one element of the OperationManager's ordered operation
// list: a Condition, an Action, or a Distribution. Go has no sum types,
// so the manager type-switches on these three interfaces rather than on
// a shared tag field.
type ProgramItem any

// Condition gates the operation list: the manager will not advance past
// a Condition until it resolves true. Grounded on
// original_source/theoden/operations/condition/condition.py, generalized
// with topology access (original_source's permanent conditions also
// consult topology, e.g. a quorum condition on fraction_connected).
type Condition interface {
	Resolved(topo *topology.Topology, resources *registry.Registry) bool
}

// Action is a server-local unit of work run off the dispatcher on a
// background goroutine while it is alive (spec §4.1 step 2: the manager
// blocks new dispatch while an Action is running). Grounded on
// original_source/theoden/operations/instructions/action.py.
type Action interface {
	Status() types.DistributionStatus
	SetStatus(types.DistributionStatus)
	// Perform runs synchronously on whatever goroutine the manager spawns
	// for it, and returns any successor program items to splice in once
	// it finishes.
	Perform(topo *topology.Topology, resources *registry.Registry) ([]ProgramItem, error)
}

// BaseAction is embedded by concrete Actions for the Status/SetStatus
// bookkeeping every Action needs, instead of each implementation
// re-deriving its own mutex-guarded status field.
type BaseAction struct {
	mu     sync.Mutex
	status types.DistributionStatus
}

// NewBaseAction returns a BaseAction in the CREATED state.
func NewBaseAction() BaseAction {
	return BaseAction{status: types.DistributionCreated}
}

// Status implements Action.
func (b *BaseAction) Status() types.DistributionStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// SetStatus implements Action.
func (b *BaseAction) SetStatus(s types.DistributionStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = s
}

// Distribution is a multi-worker operation: it owns a status table and
// drives dispatch/absorption for every worker it selected. Grounded on
// original_source/theoden/operations/instructions/distribution.py.
type Distribution interface {
	topology.LifecycleCallback
	UUID() string
	Status() types.DistributionStatus
	// Init runs on_init: assigns UUIDs, selects workers, populates the
	// table, registers with topology, runs server-init hooks. May
	// transition straight to COMPLETED if selection is empty.
	Init(topo *topology.Topology, resources *registry.Registry) error
	// NextCommand implements infer_command for one worker.
	NextCommand(workerName string) (command.Command, bool)
	// HandleStatusUpdate implements handle_status_update.
	HandleStatusUpdate(update types.StatusUpdate, topo *topology.Topology, resources *registry.Registry) error
	// Successors returns the program items to splice in once Status() is
	// COMPLETED. Valid only after completion.
	Successors() []ProgramItem
	// OwnsWorker reports whether name has a row (selected or excluded) in
	// this distribution's table, used by the OperationManager to route a
	// status update to the distribution that owns it.
	OwnsWorker(name string) bool
	// ActiveWorkerCount reports how many selected workers currently have
	// the main command UUID in SEND or STARTED, for the manager's
	// process-wide active-workers gauge.
	ActiveWorkerCount() int
}

// OnFinishHook runs when a distribution's status table goes fully
// terminal, returning any successor program items (spec §4.2 "Finish").
type OnFinishHook func(topo *topology.Topology, resources *registry.Registry) []ProgramItem

// distributionCore is the bookkeeping every Distribution variant shares:
// identity, status, table, the single command tree being distributed,
// and the finish/notification plumbing. ClosedDistribution and
// OpenDistribution embed it and add only their selection/topology-change
// policy, per spec §4.2's two-variant split.
type distributionCore struct {
	mu          sync.Mutex
	distUUID    string
	status      types.DistributionStatus
	table       *DistributionStatusTable
	tree        command.Command
	mainUUID    string
	setFlags    []string
	removeFlags []string
	maxActive   int
	pool        *watcher.Pool
	onFinish    OnFinishHook
	successors  []ProgramItem
	owner       topology.LifecycleCallback
	createdAt   time.Time
}

func newDistributionCore(tree command.Command, pool *watcher.Pool, maxActive int, setFlags, removeFlags []string, onFinish OnFinishHook) distributionCore {
	metrics.DistributionsTotal.WithLabelValues(string(types.DistributionCreated)).Inc()
	return distributionCore{
		status:      types.DistributionCreated,
		table:       NewDistributionStatusTable(),
		tree:        tree,
		setFlags:    setFlags,
		removeFlags: removeFlags,
		maxActive:   maxActive,
		pool:        pool,
		onFinish:    onFinish,
		createdAt:   time.Now(),
	}
}

func (c *distributionCore) UUID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.distUUID
}

func (c *distributionCore) Status() types.DistributionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *distributionCore) Successors() []ProgramItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.successors
}

// OwnsWorker implements Distribution.
func (c *distributionCore) OwnsWorker(name string) bool {
	return c.table.Contains(name)
}

// ActiveWorkerCount implements Distribution.
func (c *distributionCore) ActiveWorkerCount() int {
	c.mu.Lock()
	mainUUID := c.mainUUID
	c.mu.Unlock()
	if mainUUID == "" {
		return 0
	}
	return len(c.table.ActiveWorkers(mainUUID))
}

func (c *distributionCore) setExecution() {
	c.mu.Lock()
	c.status = types.DistributionExecution
	c.mu.Unlock()
}

func uuidsOf(tree command.Command) []string {
	flat := command.Flatten(tree)
	out := make([]string, len(flat))
	for i, c := range flat {
		out[i] = c.UUID()
	}
	return out
}

// runServerInit invokes the tree's ServerInitHook, if any.
func (c *distributionCore) runServerInit(topo *topology.Topology, resources *registry.Registry) error {
	if h, ok := c.tree.(command.ServerInitHook); ok {
		if err := h.OnInitServerSide(topo, resources, c.table.SelectedWorkers()); err != nil {
			return fmt.Errorf("operation: on-init hook for distribution %s: %w", c.distUUID, err)
		}
	}
	return nil
}

// inferCommand implements infer_command shared by both variants.
func (c *distributionCore) inferCommand(workerName string) (command.Command, bool) {
	if c.Status() != types.DistributionExecution {
		return nil, false
	}
	if c.maxActive > 0 && len(c.table.ActiveWorkers(c.mainUUID)) >= c.maxActive {
		return nil, false
	}
	status, ok := c.table.Status(workerName, c.mainUUID)
	if !ok || status != types.StatusUnrequested {
		return nil, false
	}
	if err := c.table.MarkSubtreeSend(workerName); err != nil {
		return nil, false
	}
	cmd := c.tree
	if m, ok := cmd.(command.NodeModifier); ok {
		cmd = m.NodeSpecificModification(c.table, workerName)
	}
	return cmd, true
}

// absorb implements the shared half of handle_status_update: routing the
// update into the table, running client-finish/all-finished hooks, and
// applying flags — everything except the ClosedDistribution-only
// whole-table finish check.
func (c *distributionCore) absorb(update types.StatusUpdate, topo *topology.Topology, resources *registry.Registry) error {
	if !c.table.HasWorker(update.NodeName) {
		return fmt.Errorf("operation: status update from unselected worker %q: %w", update.NodeName, errs.ErrRequestDenied)
	}
	if err := c.table.SetStatus(update.NodeName, update.CommandUUID, update.Status); err != nil {
		return err
	}

	if update.Status == types.StatusFinished {
		if cmd, ok := command.Find(c.tree, update.CommandUUID); ok {
			if h, ok := cmd.(command.ClientFinishHook); ok {
				if err := h.OnClientFinishServerSide(topo, resources, update.NodeName, update.Response, c.distUUID); err != nil {
					return fmt.Errorf("operation: client-finish hook: %w", err)
				}
			}
		}
	}

	if c.table.WorkerSubtreeTerminal(update.NodeName) {
		for _, flag := range c.setFlags {
			topo.SetFlag(update.NodeName, flag)
		}
		for _, flag := range c.removeFlags {
			topo.RemoveFlag(update.NodeName, flag)
		}
	}

	if c.table.CommandTerminalForAllSelected(update.CommandUUID) {
		if cmd, ok := command.Find(c.tree, update.CommandUUID); ok {
			if h, ok := cmd.(command.AllFinishedHook); ok {
				if err := h.AllClientsFinishedServerSide(topo, resources, c.distUUID); err != nil {
					return fmt.Errorf("operation: all-clients-finished hook: %w", err)
				}
			}
		}
		if c.pool != nil {
			c.pool.NotifyAll(watcher.Notification{
				Type:   watcher.CommandFinishedNotification,
				Origin: c.distUUID,
				Payload: standard.CommandFinishedPayload{
					DistributionUUID: c.distUUID,
					CommandUUID:      update.CommandUUID,
				},
			})
		}
	}
	return nil
}

// finish runs the EXECUTION_FINISHED -> COMPLETED transition, the
// on_finish hook, and topology lifecycle deregistration (spec §4.2
// "Finish").
func (c *distributionCore) finish(topo *topology.Topology, resources *registry.Registry) {
	c.mu.Lock()
	c.status = types.DistributionExecutionFinished
	c.mu.Unlock()

	var successors []ProgramItem
	if c.onFinish != nil {
		successors = c.onFinish(topo, resources)
	}
	if topo != nil && c.owner != nil {
		topo.RemoveLifecycle(c.owner)
	}
	if resources != nil {
		_ = resources.Remove(c.distUUID)
	}

	c.mu.Lock()
	c.successors = successors
	c.status = types.DistributionCompleted
	created := c.createdAt
	c.mu.Unlock()

	metrics.DistributionsTotal.WithLabelValues(string(types.DistributionCompleted)).Inc()
	if !created.IsZero() {
		metrics.DistributionDuration.Observe(time.Since(created).Seconds())
	}
}

// ClosedDistribution selects a fixed membership at init via a Selector;
// workers not selected are recorded EXCLUDED and never reconsidered. It
// finishes automatically once every selected worker's subtree is
// terminal. Grounded on original_source's ClosedDistribution-equivalent
// path through distribution.py (the default, non-"open" behavior).
type ClosedDistribution struct {
	distributionCore
	Selector selector.Selector
}

// NewClosedDistribution builds a ClosedDistribution over tree, selecting
// workers via sel. pool may be nil to disable CommandFinishedNotification.
func NewClosedDistribution(tree command.Command, sel selector.Selector, pool *watcher.Pool, maxActive int, setFlags, removeFlags []string, onFinish OnFinishHook) *ClosedDistribution {
	d := &ClosedDistribution{
		distributionCore: newDistributionCore(tree, pool, maxActive, setFlags, removeFlags, onFinish),
		Selector:         sel,
	}
	d.owner = d
	return d
}

// Init implements Distribution.
func (d *ClosedDistribution) Init(topo *topology.Topology, resources *registry.Registry) error {
	d.mu.Lock()
	d.distUUID = uuid.NewString()
	d.mainUUID = command.InitTree(d.tree)
	mainUUID := d.mainUUID
	d.mu.Unlock()

	selected := selector.Selection(d.Selector, topo, mainUUID)
	allUUIDs := uuidsOf(d.tree)

	anySelected := false
	for name, cmdUUID := range selected {
		if cmdUUID != nil {
			d.table.AddWorker(name, allUUIDs)
			anySelected = true
		} else {
			d.table.Exclude(name)
		}
	}

	if !anySelected {
		d.finish(topo, resources)
		return nil
	}
	topo.AddLifecycle(d)
	if err := d.runServerInit(topo, resources); err != nil {
		return err
	}
	d.setExecution()
	return nil
}

// NextCommand implements Distribution.
func (d *ClosedDistribution) NextCommand(workerName string) (command.Command, bool) {
	return d.inferCommand(workerName)
}

// HandleStatusUpdate implements Distribution.
func (d *ClosedDistribution) HandleStatusUpdate(update types.StatusUpdate, topo *topology.Topology, resources *registry.Registry) error {
	if err := d.absorb(update, topo, resources); err != nil {
		return err
	}
	if d.table.AllTerminal() {
		d.finish(topo, resources)
	}
	return nil
}

// HandleTopologyChange implements topology.LifecycleCallback: an offline
// edge nulls out that worker's row; online edges are ignored (fixed
// membership). The finish condition is not re-checked here: it is
// evaluated only in Init and HandleStatusUpdate, so a distribution whose
// last outstanding worker goes offline does not finish on this edge.
func (d *ClosedDistribution) HandleTopologyChange(nodeName string, online bool) {
	if online {
		return
	}
	if !d.table.HasWorker(nodeName) {
		return
	}
	d.table.Exclude(nodeName)
}

// OpenDistribution accepts any currently-online worker at init and adds
// newly-connecting workers on the fly; it has no terminal condition and
// runs until explicitly stopped via Stop. Grounded on
// original_source's OpenDistribution path through distribution.py.
type OpenDistribution struct {
	distributionCore
}

// NewOpenDistribution builds an OpenDistribution over tree.
func NewOpenDistribution(tree command.Command, pool *watcher.Pool, maxActive int, setFlags, removeFlags []string, onFinish OnFinishHook) *OpenDistribution {
	d := &OpenDistribution{distributionCore: newDistributionCore(tree, pool, maxActive, setFlags, removeFlags, onFinish)}
	d.owner = d
	return d
}

// Init implements Distribution: every currently-online client is
// selected; there is no exclusion list for an open distribution.
func (d *OpenDistribution) Init(topo *topology.Topology, resources *registry.Registry) error {
	d.mu.Lock()
	d.distUUID = uuid.NewString()
	d.mainUUID = command.InitTree(d.tree)
	allUUIDs := uuidsOf(d.tree)
	for _, name := range topo.OnlineClients() {
		d.table.AddWorker(name, allUUIDs)
	}
	d.mu.Unlock()

	topo.AddLifecycle(d)
	if err := d.runServerInit(topo, resources); err != nil {
		return err
	}
	d.setExecution()
	return nil
}

// NextCommand implements Distribution.
func (d *OpenDistribution) NextCommand(workerName string) (command.Command, bool) {
	return d.inferCommand(workerName)
}

// HandleStatusUpdate implements Distribution. An open distribution never
// auto-finishes.
func (d *OpenDistribution) HandleStatusUpdate(update types.StatusUpdate, topo *topology.Topology, resources *registry.Registry) error {
	return d.absorb(update, topo, resources)
}

// HandleTopologyChange implements topology.LifecycleCallback: a newly
// online worker is added with a fresh UNREQUESTED row; an offline worker
// is dropped entirely (its in-flight work is lost).
func (d *OpenDistribution) HandleTopologyChange(nodeName string, online bool) {
	if online {
		d.table.AddWorker(nodeName, uuidsOf(d.tree))
		return
	}
	d.table.Remove(nodeName)
}

// Stop ends an OpenDistribution explicitly, the only way it reaches
// COMPLETED.
func (d *OpenDistribution) Stop(topo *topology.Topology, resources *registry.Registry) {
	d.finish(topo, resources)
}
