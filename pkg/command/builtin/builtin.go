// Package builtin ships the small library of example/test commands spec
// §4.9/A8 calls for: Print, Sleep, SetResource, CollectMetric. They stand
// in for the opaque ML-specific command implementations (training steps,
// validation epochs, client scoring) original_source ships under
// operations/commands/action and operations/commands/resource — this
// package keeps the same resource/action split but with trivial bodies,
// since the ML algorithms themselves are out of scope for this repo.
package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/lattice-fl/lattice/pkg/command"
	"github.com/lattice-fl/lattice/pkg/log"
	"github.com/lattice-fl/lattice/pkg/types"
)

// Register wires every builtin command's constructor into reg under its
// datatype name. Call once at process startup, before decoding any
// operation program.
func Register(reg *command.Registry) {
	reg.RegisterCommand("Print", func() command.Command { return &Print{} })
	reg.RegisterCommand("Sleep", func() command.Command { return &Sleep{} })
	reg.RegisterCommand("SetResource", func() command.Command { return &SetResource{} })
	reg.RegisterCommand("CollectMetric", func() command.Command { return &CollectMetric{} })
}

// Print logs the node's current resource keys, grounded on
// original_source/theoden/operations/commands/resource/print_resources.py
// (which prints the resource register) — translated to the node's
// structured logger rather than stdout.
type Print struct {
	uuid string
}

func (p *Print) UUID() string          { return p.uuid }
func (p *Print) SetUUID(id string)     { p.uuid = id }
func (p *Print) Datatype() string      { return "Print" }
func (p *Print) Subcommands() []command.Command { return nil }

// Execute implements command.Command.
func (p *Print) Execute(ctx context.Context, node command.NodeHandle) (*types.ExecutionResponse, error) {
	log.WithComponent("command.print").Info().
		Str("node", node.Name()).
		Strs("resources", node.Resources().Keys()).
		Msg("node resources")
	return &types.ExecutionResponse{ResponseType: "print", Data: map[string]any{
		"keys": node.Resources().Keys(),
	}}, nil
}

// Sleep blocks for Duration, standing in for a long-running ML step. It
// respects ctx cancellation, unlike a bare time.Sleep.
type Sleep struct {
	uuid     string
	Duration time.Duration `json:"duration"`
}

func (s *Sleep) UUID() string          { return s.uuid }
func (s *Sleep) SetUUID(id string)     { s.uuid = id }
func (s *Sleep) Datatype() string      { return "Sleep" }
func (s *Sleep) Subcommands() []command.Command { return nil }

// Execute implements command.Command.
func (s *Sleep) Execute(ctx context.Context, node command.NodeHandle) (*types.ExecutionResponse, error) {
	timer := time.NewTimer(s.Duration)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("command: sleep cancelled: %w", ctx.Err())
	}
}

// SetResource writes Resource into the node's resource namespace under
// Key, grounded on
// original_source/theoden/operations/commands/resource/set_resource.py.
// of_type/assert_type checking from the original is dropped: the
// registry's Set already enforces overwrite semantics, and without a
// shared type-registry there's nothing meaningful to assert against here.
type SetResource struct {
	uuid      string
	Key       string `json:"key"`
	Resource  any    `json:"resource"`
	Overwrite bool   `json:"overwrite"`
}

func (s *SetResource) UUID() string          { return s.uuid }
func (s *SetResource) SetUUID(id string)     { s.uuid = id }
func (s *SetResource) Datatype() string      { return "SetResource" }
func (s *SetResource) Subcommands() []command.Command { return nil }

// Execute implements command.Command.
func (s *SetResource) Execute(ctx context.Context, node command.NodeHandle) (*types.ExecutionResponse, error) {
	if err := node.Resources().Set(s.Key, s.Resource, s.Overwrite); err != nil {
		return nil, fmt.Errorf("command: set resource %q: %w", s.Key, err)
	}
	return nil, nil
}

// CollectMetric reads a numeric value out of the node's resource
// namespace and reports it in the command's response, where the server's
// status-update handler turns it into a watcher.MetricNotification. This
// stands in for original_source's metric-producing action commands
// (val_epoch.py, client_score.py), which compute the value by running
// ML code instead of reading a resource.
type CollectMetric struct {
	uuid         string
	ResourceKey  string `json:"resource_key"`
	MetricType   string `json:"metric_type"`
	Round        int    `json:"round"`
	Epoch        int    `json:"epoch"`
}

func (c *CollectMetric) UUID() string          { return c.uuid }
func (c *CollectMetric) SetUUID(id string)     { c.uuid = id }
func (c *CollectMetric) Datatype() string      { return "CollectMetric" }
func (c *CollectMetric) Subcommands() []command.Command { return nil }

// Execute implements command.Command.
func (c *CollectMetric) Execute(ctx context.Context, node command.NodeHandle) (*types.ExecutionResponse, error) {
	raw, err := node.Resources().Get(c.ResourceKey, nil, false)
	if err != nil {
		return nil, fmt.Errorf("command: collect metric %q: %w", c.ResourceKey, err)
	}
	value, ok := raw.(float64)
	if !ok {
		return nil, fmt.Errorf("command: resource %q is not a numeric metric value", c.ResourceKey)
	}
	return &types.ExecutionResponse{
		ResponseType: "metric",
		Data: map[string]any{
			"metric_type": c.MetricType,
			"round":       c.Round,
			"epoch":       c.Epoch,
			"value":       value,
		},
	}, nil
}
