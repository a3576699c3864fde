// Package worker implements the WorkerLoop from spec §4.3: a pull task
// that polls the server for the next command and an execute task that
// drains a FIFO queue of dispatched commands one at a time, wrapping
// every invocation so exactly one terminal status update reaches the
// server regardless of outcome.
//
// Grounded on the teacher's worker.go: Start launches two goroutines off
// a shared stopCh exactly as heartbeatLoop/containerExecutorLoop do, and
// Stop closes that channel once via sync.Once, mirroring the teacher's
// close(w.stopCh) shutdown. The teacher's gRPC heartbeat/sync calls are
// replaced by calls against the carrier-agnostic Carrier interface
// (concrete implementations in carrier.go, wsclient.go), since this
// system's transport is HTTP+TLS or a websocket broker, not gRPC (see
// DESIGN.md).
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lattice-fl/lattice/pkg/command"
	"github.com/lattice-fl/lattice/pkg/errs"
	"github.com/lattice-fl/lattice/pkg/log"
	"github.com/lattice-fl/lattice/pkg/registry"
	"github.com/lattice-fl/lattice/pkg/serialize"
	"github.com/lattice-fl/lattice/pkg/types"
)

// Carrier is the client-side view of the transport contract a Loop pulls
// commands and reports status through. PullCommand returns ok=false
// when the server had no command to dispatch this tick (not an error).
type Carrier interface {
	PullCommand(ctx context.Context, workerName string) (serialize.Envelope, bool, error)
	SendStatusUpdate(ctx context.Context, update types.StatusUpdate) error
}

// Config configures a Loop.
type Config struct {
	// Name identifies this worker to the server and is attached to every
	// status update whose NodeName is left empty.
	Name string
	// PingInterval is how often the pull task polls for a command.
	PingInterval time.Duration
	// Allow, if non-empty, restricts execution to these command
	// datatypes; anything else is refused with a FAILED status update.
	Allow []string
	// Deny always refuses these datatypes, checked before Allow.
	Deny []string
}

// Loop is the WorkerLoop: one pull task, one execute task, a shared FIFO
// queue between them, and a liveness signal served on pkg/health's /readyz.
// The zero value is not usable; construct with NewLoop.
type Loop struct {
	cfg       Config
	carrier   Carrier
	commands  *command.Registry
	resources *registry.Registry
	liveness  *Liveness

	mu    sync.Mutex
	queue []command.Command

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewLoop builds a Loop. commands must have every dispatchable datatype
// registered before Start is called.
func NewLoop(cfg Config, carrier Carrier, commands *command.Registry, resources *registry.Registry) *Loop {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 5 * time.Second
	}
	return &Loop{
		cfg:       cfg,
		carrier:   carrier,
		commands:  commands,
		resources: resources,
		liveness:  newLiveness(),
		stopCh:    make(chan struct{}),
	}
}

// Liveness exposes the pull-loop progress signal for health endpoints.
func (l *Loop) Liveness() *Liveness { return l.liveness }

// Start launches the pull and execute tasks and returns immediately.
func (l *Loop) Start() {
	l.wg.Add(2)
	go l.pullLoop()
	go l.executeLoop()
}

// Stop signals both tasks to exit and blocks until they do. Safe to call
// more than once.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	l.wg.Wait()
}

func (l *Loop) pullLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.pullOnce()
		case <-l.stopCh:
			return
		}
	}
}

// pullOnce runs a single PullCommand round trip. Transport errors are
// swallowed and retried next tick; auth failures terminate the loop,
// matching spec §4.3's pull-task contract.
func (l *Loop) pullOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.PingInterval)
	defer cancel()

	env, ok, err := l.carrier.PullCommand(ctx, l.cfg.Name)
	if err != nil {
		if errors.Is(err, errs.ErrUnauthorized) {
			log.WithComponent("worker").Error().Err(err).Msg("auth failure pulling command, stopping loop")
			go l.Stop()
			return
		}
		log.WithComponent("worker").Warn().Err(err).Msg("pull command failed, retrying next tick")
		return
	}
	l.liveness.recordPull()
	if !ok {
		return
	}

	cmd, err := l.commands.Decode(env)
	if err != nil {
		log.WithComponent("worker").Error().Err(err).Str("datatype", env.Datatype).Msg("decode dispatched command failed, dropping")
		return
	}
	l.mu.Lock()
	l.queue = append(l.queue, cmd)
	l.mu.Unlock()
}

// executeLoop drains the queue one command at a time, sleeping briefly
// when it is empty rather than busy-spinning, per spec §4.3's
// single-threaded execute task.
func (l *Loop) executeLoop() {
	defer l.wg.Done()
	for {
		select {
		case <-l.stopCh:
			return
		default:
		}

		cmd, ok := l.dequeue()
		if !ok {
			select {
			case <-time.After(50 * time.Millisecond):
			case <-l.stopCh:
				return
			}
			continue
		}
		l.executeOne(cmd)
	}
}

func (l *Loop) dequeue() (command.Command, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	cmd := l.queue[0]
	l.queue = l.queue[1:]
	return cmd, true
}

// executeOne validates cmd against the allow/deny list and, if
// permitted, runs it via command.Run (which already wraps the call with
// the Started/Finished/Failed status-update sequence). A denied command
// never executes: exactly one FAILED update is sent in its place,
// preserving "exactly one terminal status update per invocation" on both
// paths.
func (l *Loop) executeOne(cmd command.Command) {
	if !l.allowed(cmd.Datatype()) {
		l.sendStatus(types.StatusUpdate{
			CommandUUID: cmd.UUID(),
			Status:      types.StatusFailed,
			Datatype:    cmd.Datatype(),
			Error:       fmt.Sprintf("worker: datatype %q denied by allow/deny list", cmd.Datatype()),
		})
		return
	}

	handle := &nodeHandle{name: l.cfg.Name, resources: l.resources, loop: l}
	if _, err := command.Run(context.Background(), handle, cmd); err != nil {
		log.WithComponent("worker").Error().Err(err).Str("command", cmd.UUID()).Msg("command execution failed")
	}
}

func (l *Loop) allowed(datatype string) bool {
	for _, d := range l.cfg.Deny {
		if d == datatype {
			return false
		}
	}
	if len(l.cfg.Allow) == 0 {
		return true
	}
	for _, a := range l.cfg.Allow {
		if a == datatype {
			return true
		}
	}
	return false
}

func (l *Loop) sendStatus(update types.StatusUpdate) {
	if update.NodeName == "" {
		update.NodeName = l.cfg.Name
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := l.carrier.SendStatusUpdate(ctx, update); err != nil {
		log.WithComponent("worker").Error().Err(err).Str("command", update.CommandUUID).Msg("send status update failed")
	}
}

// nodeHandle implements command.NodeHandle, routing status updates
// raised mid-execution back through the owning Loop's carrier. Passed
// explicitly to Execute per spec §9 rather than stashed on the command
// itself.
type nodeHandle struct {
	name      string
	resources *registry.Registry
	loop      *Loop
}

func (h *nodeHandle) Name() string                          { return h.name }
func (h *nodeHandle) Resources() *registry.Registry         { return h.resources }
func (h *nodeHandle) SendStatusUpdate(u types.StatusUpdate) { h.loop.sendStatus(u) }
