package command

import (
	"context"
	"fmt"

	"github.com/lattice-fl/lattice/pkg/registry"
	"github.com/lattice-fl/lattice/pkg/topology"
	"github.com/lattice-fl/lattice/pkg/types"
)

// Condition is resolved client-side to decide whether a ConditionalCommand
// runs its wrapped command. Grounded on
// original_source/theoden/operations/condition/condition.py.
type Condition interface {
	Resolved(resources *registry.Registry) bool
}

// HasResourceCondition is satisfied when name is present in the node's
// resource namespace. Grounded on
// original_source/theoden/operations/condition/resource_condition.py.
type HasResourceCondition struct {
	Name string `json:"resource_name"`
}

// Resolved implements Condition.
func (c HasResourceCondition) Resolved(resources *registry.Registry) bool {
	return resources.Contains(c.Name)
}

// Sequence runs a list of commands one after another on the same node,
// mirroring original_source's SequentialCommand. It is the composition
// primitive every other multi-command composite is built from — there is
// no separate inheritance hierarchy for "things that run many commands".
type Sequence struct {
	uuid     string
	Commands []Command
}

// NewSequence builds a Sequence over commands.
func NewSequence(commands ...Command) *Sequence {
	return &Sequence{Commands: commands}
}

func (s *Sequence) UUID() string        { return s.uuid }
func (s *Sequence) SetUUID(id string)    { s.uuid = id }
func (s *Sequence) Datatype() string     { return "Sequence" }
func (s *Sequence) Subcommands() []Command { return s.Commands }

// Execute runs every child through Run (not a bare Execute call), so each
// child's own Started/Finished/Failed status updates are reported, just
// as original_source's SequentialCommand.execute calls each subcommand
// via __call__.
func (s *Sequence) Execute(ctx context.Context, node NodeHandle) (*types.ExecutionResponse, error) {
	for _, c := range s.Commands {
		if _, err := Run(ctx, node, c); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// Append adds other to the end of the sequence, mirroring
// original_source's SequentialCommand.__add__.
func (s *Sequence) Append(other Command) *Sequence {
	s.Commands = append(s.Commands, other)
	return s
}

// OnInitServerSide delegates to every child that implements ServerInitHook.
func (s *Sequence) OnInitServerSide(topo *topology.Topology, resources *registry.Registry, selectedNodes []string) error {
	for _, c := range s.Commands {
		if h, ok := c.(ServerInitHook); ok {
			if err := h.OnInitServerSide(topo, resources, selectedNodes); err != nil {
				return err
			}
		}
	}
	return nil
}

// NodeSpecificModification applies node-specific modification to every
// child in place.
func (s *Sequence) NodeSpecificModification(table StatusTable, nodeName string) Command {
	for i, c := range s.Commands {
		if m, ok := c.(NodeModifier); ok {
			s.Commands[i] = m.NodeSpecificModification(table, nodeName)
		}
	}
	return s
}

// Conditional runs Then only if Condition resolves true against the
// node's resources; otherwise it reports Then as Excluded, mirroring
// original_source's ConditionalCommand.
type Conditional struct {
	uuid      string
	Then      Command
	Condition Condition
}

// NewConditional builds a Conditional.
func NewConditional(then Command, cond Condition) *Conditional {
	return &Conditional{Then: then, Condition: cond}
}

func (c *Conditional) UUID() string        { return c.uuid }
func (c *Conditional) SetUUID(id string)    { c.uuid = id }
func (c *Conditional) Datatype() string     { return "Conditional" }
func (c *Conditional) Subcommands() []Command { return []Command{c.Then} }

// Execute implements Command.
func (c *Conditional) Execute(ctx context.Context, node NodeHandle) (*types.ExecutionResponse, error) {
	if c.Condition.Resolved(node.Resources()) {
		return Run(ctx, node, c.Then)
	}
	node.SendStatusUpdate(types.StatusUpdate{
		CommandUUID: c.Then.UUID(),
		Status:      types.StatusExcluded,
		Datatype:    c.Then.Datatype(),
	})
	return nil, nil
}

// NodeSpecificModification delegates to Then.
func (c *Conditional) NodeSpecificModification(table StatusTable, nodeName string) Command {
	if m, ok := c.Then.(NodeModifier); ok {
		c.Then = m.NodeSpecificModification(table, nodeName)
	}
	return c
}

// OnInitServerSide delegates to Then if it implements ServerInitHook.
func (c *Conditional) OnInitServerSide(topo *topology.Topology, resources *registry.Registry, selectedNodes []string) error {
	if h, ok := c.Then.(ServerInitHook); ok {
		return h.OnInitServerSide(topo, resources, selectedNodes)
	}
	return nil
}

// RepeatN is a Sequence of n independent copies of a base command,
// mirroring original_source's RepeatNTimesCommand (a SequentialCommand
// over n deep copies). copyFn supplies each copy, since Go has no
// built-in deep-copy for an arbitrary Command.
func RepeatN(n int, copyFn func() Command) (*Sequence, error) {
	if n <= 0 {
		return nil, fmt.Errorf("command: RepeatN requires a positive n, got %d", n)
	}
	commands := make([]Command, n)
	for i := range commands {
		commands[i] = copyFn()
	}
	return NewSequence(commands...), nil
}
