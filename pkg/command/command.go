// Package command implements the Command tree from spec §4.2/§4.9:
// UUID-addressed units of client-side work, built as a registry of typed
// constructors and composed via small wrapper types rather than the
// mixin-style multiple inheritance original_source uses. It is grounded
// on original_source/theoden/operations/commands/command.py (the
// Command base class: init_uuid, get_command_tree,
// on_init_server_side/node_specific_modification/
// on_client_finish_server_side/all_clients_finished_server_side, and the
// __call__ status-update wrapper) and on pkg/serialize for the wire
// registry mechanism.
//
// Where original_source uses a cyclic self.node back-reference set after
// construction, Command.Execute here takes the node handle as an
// explicit parameter, per spec §9's guidance on replacing implicit
// back-references with explicit parameter passing. Where
// original_source's optional server-side hooks are inherited no-op
// methods every subclass silently gets, they are modeled here as
// optional interfaces (ServerInitHook, NodeModifier, ClientFinishHook,
// AllFinishedHook) that a command implements only if it needs the hook —
// the same "ask, don't assume" shape as io.Reader/io.Writer's optional
// siblings (io.ReaderAt, io.Closer, etc).
package command

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lattice-fl/lattice/pkg/registry"
	"github.com/lattice-fl/lattice/pkg/serialize"
	"github.com/lattice-fl/lattice/pkg/topology"
	"github.com/lattice-fl/lattice/pkg/types"
)

// Command is the minimal contract every unit of client-side work must
// satisfy. Composite commands (Sequence, Conditional, RepeatN) implement
// it by delegating to their children rather than by inheriting from a
// shared base class.
type Command interface {
	// UUID returns this command's identity, assigned by InitTree.
	UUID() string
	// SetUUID assigns this command's identity directly (used when
	// rehydrating a command whose UUID was already assigned server-side).
	SetUUID(id string)
	// Datatype names the registered constructor for this command, used
	// both for wire encoding and status-update bookkeeping.
	Datatype() string
	// Subcommands lists the immediate children of a composite command,
	// for UUID-tree initialization and tree traversal. Leaf commands
	// return nil.
	Subcommands() []Command
	// Execute performs the command's action against the given node
	// handle and returns its response.
	Execute(ctx context.Context, node NodeHandle) (*types.ExecutionResponse, error)
}

// NodeHandle is the explicit, parameter-passed view of the executing
// client a Command needs: its resource namespace and a way to report its
// own status upward. Passed explicitly instead of stashed on the command
// at construction time, so a single Command value is safe to run
// concurrently against different handles (e.g. under RepeatN's per-copy
// children) without aliasing.
type NodeHandle interface {
	Name() string
	Resources() *registry.Registry
	SendStatusUpdate(update types.StatusUpdate)
}

// StatusTable is the read-only view of a Distribution's status table a
// NodeModifier needs. Declared here (rather than importing pkg/operation,
// which depends on pkg/command to build its programs) to avoid a import
// cycle — the concrete DistributionStatusTable in pkg/operation satisfies
// this interface structurally.
type StatusTable interface {
	Status(nodeName, commandUUID string) (types.CommandDistributionStatus, bool)
}

// ServerInitHook is implemented by commands that need to run server-side
// logic once, when a Distribution is first created (original_source's
// on_init_server_side).
type ServerInitHook interface {
	OnInitServerSide(topo *topology.Topology, resources *registry.Registry, selectedNodes []string) error
}

// NodeModifier is implemented by commands whose construction must be
// specialized per destination node before being sent out
// (original_source's node_specific_modification). It returns the
// (possibly replaced) command to send.
type NodeModifier interface {
	NodeSpecificModification(table StatusTable, nodeName string) Command
}

// ClientFinishHook is implemented by commands that react, server-side, to
// one client finishing execution (original_source's
// on_client_finish_server_side).
type ClientFinishHook interface {
	OnClientFinishServerSide(topo *topology.Topology, resources *registry.Registry, nodeName string, resp *types.ExecutionResponse, instructionUUID string) error
}

// AllFinishedHook is implemented by commands that react, server-side, to
// every selected client finishing (original_source's
// all_clients_finished_server_side).
type AllFinishedHook interface {
	AllClientsFinishedServerSide(topo *topology.Topology, resources *registry.Registry, instructionUUID string) error
}

// InitTree assigns a fresh UUID to root and, recursively, to every
// descendant returned by Subcommands, mirroring
// original_source's init_uuid depth-first walk. It returns root's UUID.
func InitTree(root Command) string {
	root.SetUUID(uuid.NewString())
	for _, sub := range root.Subcommands() {
		InitTree(sub)
	}
	return root.UUID()
}

// Flatten returns root and every descendant command in a single slice,
// mirroring original_source's get_command_tree(flatten=True).
func Flatten(root Command) []Command {
	out := []Command{root}
	for _, sub := range root.Subcommands() {
		out = append(out, Flatten(sub)...)
	}
	return out
}

// Find locates the command with the given UUID anywhere in root's tree.
func Find(root Command, cmdUUID string) (Command, bool) {
	for _, c := range Flatten(root) {
		if c.UUID() == cmdUUID {
			return c, true
		}
	}
	return nil, false
}

// Run executes cmd against handle, sending Started/Finished/Failed
// status updates around the call, mirroring original_source's
// Command.__call__. Composite commands call Run on each child themselves
// rather than relying on an inherited __call__, so every leaf's status
// transitions are reported individually.
func Run(ctx context.Context, handle NodeHandle, cmd Command) (*types.ExecutionResponse, error) {
	handle.SendStatusUpdate(types.StatusUpdate{
		CommandUUID: cmd.UUID(),
		Status:      types.StatusStarted,
		Datatype:    cmd.Datatype(),
	})

	resp, err := cmd.Execute(ctx, handle)
	if err != nil {
		handle.SendStatusUpdate(types.StatusUpdate{
			CommandUUID: cmd.UUID(),
			Status:      types.StatusFailed,
			Datatype:    cmd.Datatype(),
			Error:       err.Error(),
		})
		return nil, err
	}

	handle.SendStatusUpdate(types.StatusUpdate{
		CommandUUID: cmd.UUID(),
		Status:      types.StatusFinished,
		Datatype:    cmd.Datatype(),
		Response:    resp,
	})
	return resp, nil
}

// Registry is the process-wide constructor table for commands, built on
// pkg/serialize.Registry. Construct with NewRegistry and register every
// command datatype at startup before decoding any wire envelope.
type Registry struct {
	*serialize.Registry
}

// NewRegistry returns an empty command registry.
func NewRegistry() *Registry {
	return &Registry{Registry: serialize.NewRegistry()}
}

// RegisterCommand registers datatype with a zero-value constructor: new()
// must return a fresh pointer to the command's concrete type, which is
// then JSON-unmarshaled from the envelope's data. This mirrors how
// original_source's Transferable.__init_subclass__ wires a class's
// __init__ kwargs into the registry, translated into an explicit Go
// factory function instead of a metaclass hook.
func (r *Registry) RegisterCommand(datatype string, new func() Command) {
	r.Register(datatype, func(data json.RawMessage) (any, error) {
		cmd := new()
		if len(data) > 0 {
			if err := json.Unmarshal(data, cmd); err != nil {
				return nil, fmt.Errorf("command: decode %q: %w", datatype, err)
			}
		}
		return cmd, nil
	})
}

// OverrideCommand replaces datatype's constructor, the spec §9
// abstract-command-overwrite mechanism applied to commands specifically.
func (r *Registry) OverrideCommand(datatype string, new func() Command) {
	r.Override(datatype, func(data json.RawMessage) (any, error) {
		cmd := new()
		if len(data) > 0 {
			if err := json.Unmarshal(data, cmd); err != nil {
				return nil, fmt.Errorf("command: decode %q (override): %w", datatype, err)
			}
		}
		return cmd, nil
	})
}

// Decode rehydrates a command from its wire envelope.
func (r *Registry) Decode(env serialize.Envelope) (Command, error) {
	v, err := r.Registry.Decode(env)
	if err != nil {
		return nil, err
	}
	cmd, ok := v.(Command)
	if !ok {
		return nil, fmt.Errorf("command: datatype %q did not decode to a Command", env.Datatype)
	}
	return cmd, nil
}

// Encode wraps cmd into a wire envelope tagged with its datatype.
func Encode(cmd Command) (serialize.Envelope, error) {
	return serialize.Encode(cmd.Datatype(), cmd)
}
