// Package liveness watches running nodes for hangs. A node past its
// per-attempt deadline whose output fingerprint stays unchanged across two
// consecutive polls is classified hung, unless its completion contract is
// already on disk: a slow reporting channel is not mistaken for a hung
// worker.
package liveness

import (
	"context"
	"time"

	"github.com/vk/taskforge/internal/ctxlog"
)

// Watcher is the monitor's view of in-flight attempts, implemented by the
// executor adapter.
type Watcher interface {
	// Fingerprint hashes the node's latest observable output. ok is false
	// when the node has no running attempt to observe.
	Fingerprint(nodeID string) (fp string, ok bool)
	// ContractExists reports whether the node's completion contract is
	// already on disk.
	ContractExists(nodeID string) bool
	// Kill forcibly terminates the node's execution.
	Kill(nodeID string) error
}

// entry tracks one running node between polls.
type entry struct {
	deadline time.Time
	// overdueFP is the fingerprint observed at the previous over-deadline
	// poll; empty until the first one.
	overdueFP string
	seen      bool
}

// Monitor holds per-node poll state. It is driven entirely from the
// scheduler loop, so it needs no internal locking.
type Monitor struct {
	watcher Watcher
	entries map[string]*entry
}

// New creates a monitor over the given watcher.
func New(w Watcher) *Monitor {
	return &Monitor{
		watcher: w,
		entries: make(map[string]*entry),
	}
}

// Track registers a dispatched attempt with its absolute deadline.
func (m *Monitor) Track(nodeID string, deadline time.Time) {
	m.entries[nodeID] = &entry{deadline: deadline}
}

// Forget drops a node once its attempt finished by any other means.
func (m *Monitor) Forget(nodeID string) {
	delete(m.entries, nodeID)
}

// Tracked reports whether the node is currently watched.
func (m *Monitor) Tracked(nodeID string) bool {
	_, ok := m.entries[nodeID]
	return ok
}

// Poll inspects every tracked node at the given instant and returns the ids
// of nodes confirmed hung, after killing their executions. Confirmed nodes
// are forgotten; the scheduler converts them into failure results.
func (m *Monitor) Poll(ctx context.Context, now time.Time) []string {
	logger := ctxlog.FromContext(ctx)
	var hung []string

	for nodeID, e := range m.entries {
		if now.Before(e.deadline) {
			continue
		}

		// Ground truth beats the hang heuristic: a written contract means
		// the worker finished even if its channel looks unresponsive.
		if m.watcher.ContractExists(nodeID) {
			logger.Debug("Node past deadline but contract exists; deferring to ground truth.", "node_id", nodeID)
			e.seen = false
			e.overdueFP = ""
			continue
		}

		fp, ok := m.watcher.Fingerprint(nodeID)
		if !ok {
			// The attempt is finishing; its result will arrive on its own.
			continue
		}

		if e.seen && e.overdueFP == fp {
			logger.Warn("Node output stalled past deadline; classifying as hung.", "node_id", nodeID)
			if err := m.watcher.Kill(nodeID); err != nil {
				logger.Error("Failed to kill hung node.", "node_id", nodeID, "error", err)
			}
			delete(m.entries, nodeID)
			hung = append(hung, nodeID)
			continue
		}

		if e.seen && e.overdueFP != fp {
			logger.Debug("Node past deadline but output still progressing.", "node_id", nodeID)
		}
		e.overdueFP = fp
		e.seen = true
	}
	return hung
}
