// Package operation implements spec §4.1/§4.2: the OperationManager
// interpreter and the Distribution lifecycle (ClosedDistribution /
// OpenDistribution) it drives. It is grounded on
// original_source/theoden/operations/instructions/distribution.py for
// the status-table state machine and dispatch/absorption algorithm, and
// on original_source/theoden/operations/instructions/instruction.py /
// action.py for the shared CREATED→BOOTING→EXECUTION→EXECUTION_FINISHED→
// COMPLETED lifecycle every program item goes through. Go idiom replaces
// the source's Instruction base-class inheritance with small, focused
// interfaces (Condition, Action, Distribution) plus a distributionCore
// struct the two Distribution variants embed for shared bookkeeping —
// composition instead of a shared abstract base.
package operation

import (
	"fmt"
	"sync"

	"github.com/lattice-fl/lattice/pkg/errs"
	"github.com/lattice-fl/lattice/pkg/types"
)

// DistributionStatusTable is the per-Distribution table from spec §3:
// worker name -> (nil if excluded | map of command UUID -> status). It
// satisfies pkg/command.StatusTable so commands' NodeSpecificModification
// hooks can read per-worker status without pkg/command importing this
// package.
type DistributionStatusTable struct {
	mu   sync.RWMutex
	rows map[string]map[string]types.CommandDistributionStatus
}

// NewDistributionStatusTable returns an empty table.
func NewDistributionStatusTable() *DistributionStatusTable {
	return &DistributionStatusTable{rows: make(map[string]map[string]types.CommandDistributionStatus)}
}

// AddWorker adds name to the table with every uuid in UNREQUESTED state.
func (t *DistributionStatusTable) AddWorker(name string, uuids []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	row := make(map[string]types.CommandDistributionStatus, len(uuids))
	for _, u := range uuids {
		row[u] = types.StatusUnrequested
	}
	t.rows[name] = row
}

// Exclude marks name as not part of this distribution (the table's "null"
// row).
func (t *DistributionStatusTable) Exclude(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows[name] = nil
}

// Remove drops name's row entirely (used by OpenDistribution when a
// worker goes offline: the in-flight work is simply lost, not marked
// excluded).
func (t *DistributionStatusTable) Remove(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rows, name)
}

// HasWorker reports whether name has a selected (non-excluded) row.
func (t *DistributionStatusTable) HasWorker(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	row, ok := t.rows[name]
	return ok && row != nil
}

// Contains reports whether name has any row at all, selected or
// excluded.
func (t *DistributionStatusTable) Contains(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.rows[name]
	return ok
}

// SetStatus updates one command UUID's status for name.
func (t *DistributionStatusTable) SetStatus(name, cmdUUID string, status types.CommandDistributionStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	row, ok := t.rows[name]
	if !ok || row == nil {
		return fmt.Errorf("operation: worker %q not selected for this distribution: %w", name, errs.ErrRequestDenied)
	}
	if _, ok := row[cmdUUID]; !ok {
		return fmt.Errorf("operation: unknown command %q for worker %q: %w", cmdUUID, name, errs.ErrRequestDenied)
	}
	row[cmdUUID] = status
	return nil
}

// MarkSubtreeSend sets every command UUID in name's row to SEND, used
// when a distribution dispatches a worker's whole command subtree at
// once.
func (t *DistributionStatusTable) MarkSubtreeSend(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	row, ok := t.rows[name]
	if !ok || row == nil {
		return fmt.Errorf("operation: worker %q not selected for this distribution: %w", name, errs.ErrRequestDenied)
	}
	for uuid := range row {
		row[uuid] = types.StatusSend
	}
	return nil
}

// Status implements pkg/command.StatusTable.
func (t *DistributionStatusTable) Status(name, cmdUUID string) (types.CommandDistributionStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	row, ok := t.rows[name]
	if !ok || row == nil {
		return 0, false
	}
	status, ok := row[cmdUUID]
	return status, ok
}

// ActiveWorkers returns every selected worker whose mainUUID is
// currently SEND or STARTED.
func (t *DistributionStatusTable) ActiveWorkers(mainUUID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []string
	for name, row := range t.rows {
		if row == nil {
			continue
		}
		if status, ok := row[mainUUID]; ok && status.Active() {
			out = append(out, name)
		}
	}
	return out
}

// WorkerSubtreeTerminal reports whether every command UUID in name's row
// is in a terminal state.
func (t *DistributionStatusTable) WorkerSubtreeTerminal(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	row, ok := t.rows[name]
	if !ok || row == nil {
		return false
	}
	for _, status := range row {
		if !status.Terminal() {
			return false
		}
	}
	return true
}

// CommandTerminalForAllSelected reports whether, for every selected
// worker whose row contains cmdUUID, that UUID's status is terminal.
func (t *DistributionStatusTable) CommandTerminalForAllSelected(cmdUUID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	seen := false
	for _, row := range t.rows {
		if row == nil {
			continue
		}
		status, ok := row[cmdUUID]
		if !ok {
			continue
		}
		seen = true
		if !status.Terminal() {
			return false
		}
	}
	return seen
}

// AllTerminal reports whether every selected worker's subtree is
// terminal, the ClosedDistribution finish condition.
func (t *DistributionStatusTable) AllTerminal() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, row := range t.rows {
		if row == nil {
			continue
		}
		for _, status := range row {
			if !status.Terminal() {
				return false
			}
		}
	}
	return true
}

// SelectedWorkers returns the names of every non-excluded worker.
func (t *DistributionStatusTable) SelectedWorkers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []string
	for name, row := range t.rows {
		if row != nil {
			out = append(out, name)
		}
	}
	return out
}

// Workers returns every worker name present in the table, selected or
// excluded.
func (t *DistributionStatusTable) Workers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.rows))
	for name := range t.rows {
		out = append(out, name)
	}
	return out
}
