package operation

import (
	"fmt"
	"sync"

	"github.com/lattice-fl/lattice/pkg/command"
	"github.com/lattice-fl/lattice/pkg/errs"
	"github.com/lattice-fl/lattice/pkg/log"
	"github.com/lattice-fl/lattice/pkg/metrics"
	"github.com/lattice-fl/lattice/pkg/registry"
	"github.com/lattice-fl/lattice/pkg/serialize"
	"github.com/lattice-fl/lattice/pkg/topology"
	"github.com/lattice-fl/lattice/pkg/types"
)

// RequestPullCommand is the only server-request datatype spec §4.1/§6
// names explicitly: a worker polling for its next command. Transport
// carriers decode the incoming {datatype, data} envelope and route
// PullCommand requests here; any other datatype is rejected as
// unrecognized, since the core defines no other request kinds (a
// richer deployment could register more without changing this dispatch
// shape).
const RequestPullCommand = "PullCommand"

// Manager is the OperationManager from spec §4.1: the server-side
// interpreter that advances an ordered program of Conditions, Actions,
// and Distributions, dispatching at most one command per worker per
// poll and routing status updates back into the distribution that owns
// them. Grounded on
// original_source/theoden/operations/instructions/instruction_set.py
// (the ordered-list-with-splice-on-completion shape) and
// distribution.py's get_next_command/handle_status_update entry points.
type Manager struct {
	mu sync.Mutex

	permanent []Condition
	program   []ProgramItem
	open      Distribution

	runningAction    Action
	actionSuccessors []ProgramItem

	topo      *topology.Topology
	resources *registry.Registry
}

// NewManager builds a Manager. open may be nil if no open distribution is
// configured; it is not initialized here — call InitOpen once topology
// is ready, typically right after construction.
func NewManager(topo *topology.Topology, resources *registry.Registry, permanent []Condition, program []ProgramItem, open Distribution) *Manager {
	return &Manager{
		permanent: permanent,
		program:   program,
		open:      open,
		topo:      topo,
		resources: resources,
	}
}

// InitOpen runs the open distribution's on_init, if one is configured.
func (m *Manager) InitOpen() error {
	m.mu.Lock()
	open := m.open
	m.mu.Unlock()
	if open == nil {
		return nil
	}
	return open.Init(m.topo, m.resources)
}

// GetNextCommand implements spec §4.1's dispatch algorithm, invoked once
// per worker poll.
func (m *Manager) GetNextCommand(workerName string) (command.Command, bool) {
	cmd, ok := m.getNextCommand(workerName)
	if ok {
		metrics.CommandsDispatchedTotal.Inc()
	}
	m.refreshActiveWorkersGauge()
	return cmd, ok
}

func (m *Manager) getNextCommand(workerName string) (command.Command, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, cond := range m.permanent {
		if !cond.Resolved(m.topo, m.resources) {
			return nil, false
		}
	}

	if m.runningAction != nil {
		return nil, false
	}

	if m.open != nil {
		if cmd, ok := m.open.NextCommand(workerName); ok {
			return cmd, true
		}
	}

	for {
		if len(m.program) == 0 {
			return nil, false
		}
		head := m.program[0]

		switch h := head.(type) {
		case Distribution:
			switch h.Status() {
			case types.DistributionCreated:
				if err := h.Init(m.topo, m.resources); err != nil {
					log.WithComponent("operation").Error().Err(err).Msg("distribution init failed, skipping")
					m.program = m.program[1:]
					continue
				}
				if h.Status() == types.DistributionCompleted {
					m.program = append(h.Successors(), m.program[1:]...)
					continue
				}
				return nil, false
			case types.DistributionCompleted:
				m.program = append(h.Successors(), m.program[1:]...)
				continue
			default:
				cmd, ok := h.NextCommand(workerName)
				return cmd, ok
			}

		case Action:
			switch h.Status() {
			case types.DistributionCreated:
				m.runningAction = h
				go m.runAction(h)
				return nil, false
			case types.DistributionCompleted:
				m.program = m.program[1:]
				if len(m.actionSuccessors) > 0 {
					m.program = append(m.actionSuccessors, m.program...)
					m.actionSuccessors = nil
				}
				continue
			default:
				return nil, false
			}

		case Condition:
			if h.Resolved(m.topo, m.resources) {
				m.program = m.program[1:]
				continue
			}
			return nil, false

		default:
			log.WithComponent("operation").Error().Msg("unrecognized program item type, dropping")
			m.program = m.program[1:]
			continue
		}
	}
}

func (m *Manager) runAction(a Action) {
	a.SetStatus(types.DistributionExecution)
	successors, err := a.Perform(m.topo, m.resources)
	if err != nil {
		log.WithComponent("operation").Error().Err(err).Msg("action failed")
	}
	a.SetStatus(types.DistributionCompleted)

	m.mu.Lock()
	m.runningAction = nil
	m.actionSuccessors = successors
	m.mu.Unlock()
}

// HandleStatusUpdate routes update to whichever live distribution owns
// it: the open distribution, or the head of the program if it is a
// Distribution.
func (m *Manager) HandleStatusUpdate(update types.StatusUpdate) error {
	m.mu.Lock()
	target := m.routeTarget(update.NodeName)
	m.mu.Unlock()

	if target == nil {
		log.WithComponent("operation").Warn().
			Str("node", update.NodeName).
			Str("command", update.CommandUUID).
			Msg("status update for unknown distribution, ignoring")
		return fmt.Errorf("operation: status update for unowned worker %q: %w", update.NodeName, errs.ErrRequestDenied)
	}
	if err := target.HandleStatusUpdate(update, m.topo, m.resources); err != nil {
		return err
	}
	metrics.StatusUpdatesTotal.WithLabelValues(update.Status.String()).Inc()
	m.refreshActiveWorkersGauge()
	return nil
}

// refreshActiveWorkersGauge recomputes the process-wide active-workers
// gauge from the open distribution plus the program head, the only
// distributions that can be dispatching at any given moment.
func (m *Manager) refreshActiveWorkersGauge() {
	m.mu.Lock()
	total := 0
	if m.open != nil {
		total += m.open.ActiveWorkerCount()
	}
	if len(m.program) > 0 {
		if d, ok := m.program[0].(Distribution); ok {
			total += d.ActiveWorkerCount()
		}
	}
	m.mu.Unlock()
	metrics.ActiveWorkersGauge.Set(float64(total))
}

func (m *Manager) routeTarget(nodeName string) Distribution {
	if m.open != nil && m.open.OwnsWorker(nodeName) {
		return m.open
	}
	if len(m.program) > 0 {
		if d, ok := m.program[0].(Distribution); ok && d.OwnsWorker(nodeName) {
			return d
		}
	}
	return nil
}

// HandleServerRequest is the third OperationManager entry point from spec
// §4.1: handle_server_request(req, worker_name) -> Response. The only
// request kind the core itself defines is PullCommand, which is just
// GetNextCommand wrapped in the transport's envelope shape — the dispatch
// logic lives entirely in GetNextCommand; this method only adapts it to
// the wire request/response contract carriers speak.
func (m *Manager) HandleServerRequest(req serialize.Envelope, workerName string) (*types.ExecutionResponse, error) {
	switch req.Datatype {
	case RequestPullCommand:
		cmd, ok := m.GetNextCommand(workerName)
		if !ok {
			return &types.ExecutionResponse{}, nil
		}
		env, err := command.Encode(cmd)
		if err != nil {
			return nil, fmt.Errorf("operation: encode command for dispatch: %w", err)
		}
		return &types.ExecutionResponse{
			ResponseType: "command_dispatch",
			Data:         map[string]any{"command": env},
		}, nil
	default:
		return nil, fmt.Errorf("operation: unrecognized server request datatype %q: %w", req.Datatype, errs.ErrInvalidRequest)
	}
}
