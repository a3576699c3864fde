// Package types defines the core data structures shared across lattice:
// nodes, commands, distribution status tables, execution responses, and
// status updates. These types are the vocabulary every other package
// (topology, operation, transport, worker) is built on.
package types

import (
	"encoding/json"
	"sort"
	"time"
)

// NodeRole identifies whether a node is the single coordinating server or
// one of the worker clients it drives.
type NodeRole string

const (
	NodeRoleServer NodeRole = "server"
	NodeRoleClient NodeRole = "client"
)

// NodeStatus is the liveness state of a node in the Topology.
type NodeStatus string

const (
	NodeStatusOnline  NodeStatus = "online"
	NodeStatusOffline NodeStatus = "offline"
)

// Node is a named participant in the topology: the server, or one client.
// Only the server may mutate a Node once registered.
type Node struct {
	Name       string              `json:"name"`
	Role       NodeRole            `json:"role"`
	Status     NodeStatus          `json:"status"`
	Flags      map[string]struct{} `json:"-"`
	Data       map[string]any      `json:"data,omitempty"`
	LastActive time.Time           `json:"last_active"`
}

// HasFlag reports whether the node carries the named flag.
func (n *Node) HasFlag(flag string) bool {
	if n.Flags == nil {
		return false
	}
	_, ok := n.Flags[flag]
	return ok
}

// FlagsJSON renders the flag set as a sorted slice for wire/debug output.
func (n *Node) FlagsJSON() []string {
	out := make([]string, 0, len(n.Flags))
	for f := range n.Flags {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// CommandDistributionStatus is the lifecycle state of a single command UUID
// within a DistributionStatusTable row. UNREQUESTED is the initial state
// assigned at table population.
type CommandDistributionStatus int

const (
	StatusUnrequested CommandDistributionStatus = iota
	StatusSend
	StatusStarted
	StatusWaitForResponse
	StatusFinished
	StatusFailed
	StatusExcluded
)

var statusNames = map[CommandDistributionStatus]string{
	StatusUnrequested:     "UNREQUESTED",
	StatusSend:            "SEND",
	StatusStarted:         "STARTED",
	StatusWaitForResponse: "WAIT_FOR_RESPONSE",
	StatusFinished:        "FINISHED",
	StatusFailed:          "FAILED",
	StatusExcluded:        "EXCLUDED",
}

func (s CommandDistributionStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// MarshalJSON renders the status as its name rather than its ordinal, since
// the wire contract names the seven states as strings.
func (s CommandDistributionStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts the status by name.
func (s *CommandDistributionStatus) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	for st, n := range statusNames {
		if n == name {
			*s = st
			return nil
		}
	}
	return &json.UnsupportedValueError{Str: name}
}

// Terminal reports whether the status counts as a finished leaf for
// finish-condition purposes (FINISHED, FAILED, and EXCLUDED all count).
func (s CommandDistributionStatus) Terminal() bool {
	switch s {
	case StatusFinished, StatusFailed, StatusExcluded:
		return true
	default:
		return false
	}
}

// Active reports whether the status counts the worker toward the active
// set used for simultaneous-execution backpressure.
func (s CommandDistributionStatus) Active() bool {
	return s == StatusSend || s == StatusStarted
}

// LocalFiles is the pre-upload, in-process representation of an
// ExecutionResponse's files: raw bytes keyed by logical file name.
type LocalFiles map[string][]byte

// RemoteFiles is the post-upload, on-wire representation: blob IDs keyed
// by the same logical file name.
type RemoteFiles map[string]string

// Well-known ExecutionResponse.ResponseType values.
const (
	ResponseTypeMetric      = "metric"
	ResponseTypeResource    = "resource"
	ResponseTypeClientScore = "client_score"
)

// ExecutionResponse is what a command's execute() hands back to the worker
// loop, and what a StatusUpdate carries to the server.
type ExecutionResponse struct {
	ResponseType string         `json:"response_type,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
	Files        LocalFiles     `json:"-"`
	RemoteFiles  RemoteFiles    `json:"files,omitempty"`
}

// StatusUpdate is the message a worker sends back to the server reporting
// progress on one command UUID.
type StatusUpdate struct {
	CommandUUID string                    `json:"command_uuid"`
	Status      CommandDistributionStatus `json:"status_code"`
	Datatype    string                    `json:"datatype"`
	NodeName    string                    `json:"node_name,omitempty"`
	Response    *ExecutionResponse        `json:"response,omitempty"`
	Error       string                    `json:"error,omitempty"`
}

// DistributionStatus is the lifecycle state of an entire Distribution.
type DistributionStatus string

const (
	DistributionCreated           DistributionStatus = "CREATED"
	DistributionBooting           DistributionStatus = "BOOTING"
	DistributionExecution         DistributionStatus = "EXECUTION"
	DistributionExecutionFinished DistributionStatus = "EXECUTION_FINISHED"
	DistributionCompleted         DistributionStatus = "COMPLETED"
)
