// Package node defines the data model for a single unit of work in the
// execution graph: its specification, its verification layer, and its
// runtime status. The package carries no behavior beyond small helpers;
// all status mutation is owned by the scheduler loop.
package node

import "time"

// DefaultMaxAttempts is the attempt budget applied when neither the plan's
// defaults block nor the node itself overrides it.
const DefaultMaxAttempts = 2

// DefaultTimeout is the per-attempt wall-clock budget applied when neither
// the plan's defaults block nor the node itself overrides it.
const DefaultTimeout = 10 * time.Minute

// Layer classifies the verification depth a node requires. Cheap structural
// nodes get cheap checks; nodes that cut through the whole system are fully
// verified.
type Layer string

const (
	// LayerFoundation covers types, interfaces and scaffolding. Only the
	// completion contract itself is checked.
	LayerFoundation Layer = "foundation"
	// LayerLogic covers behavior-bearing code. Checked down to a clean build.
	LayerLogic Layer = "logic"
	// LayerVerticalSlice covers end-to-end slices. Checked down to tests.
	LayerVerticalSlice Layer = "vertical-slice"
	// LayerIntegration covers cross-component wiring. Checked down to tests.
	LayerIntegration Layer = "integration"
)

// Valid reports whether l is one of the known layers.
func (l Layer) Valid() bool {
	switch l {
	case LayerFoundation, LayerLogic, LayerVerticalSlice, LayerIntegration:
		return true
	}
	return false
}

// Status is the scheduling state of a node.
type Status string

const (
	// StatusPending indicates the node is waiting for its dependencies.
	StatusPending Status = "pending"
	// StatusReady indicates every dependency is completed and the node is
	// eligible for dispatch.
	StatusReady Status = "ready"
	// StatusRunning indicates an attempt is in flight.
	StatusRunning Status = "running"
	// StatusCompleted indicates the node passed its validation gate. Terminal.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the last attempt failed a validation check.
	StatusFailed Status = "failed"
	// StatusHung indicates the last attempt was killed by the liveness monitor.
	StatusHung Status = "hung"
	// StatusBlocked indicates the attempt budget is exhausted and a human
	// must intervene. Terminal.
	StatusBlocked Status = "blocked"
)

// Terminal reports whether s is a final state the scheduler will never leave.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusBlocked
}

// Spec is the declarative description of one node as loaded from a plan
// file, before graph construction.
type Spec struct {
	ID          string
	Layer       Layer
	DependsOn   []string
	Timeout     time.Duration
	MaxAttempts int
	Artifacts   []string
}

// Node is one schedulable unit of work. Topology fields are immutable after
// graph validation; runtime fields are written exclusively by the scheduler
// loop, so they need no synchronization.
type Node struct {
	ID          string
	Layer       Layer
	DependsOn   []string
	Timeout     time.Duration
	MaxAttempts int
	// Artifacts lists artifact ids the plan expects this node to produce.
	// Merged with the completion contract's claims at validation time.
	Artifacts []string

	// --- Runtime state, owned by the scheduler ---

	Status Status
	// Attempt counts dispatches so far: it is N while attempt N is running.
	Attempt int
	// Directive is handed to the executor on the next dispatch. It carries a
	// retry directive after a failure or a resume hint after reconciliation,
	// and is cleared once dispatched.
	Directive string
	// LastCode is the validation gate's exit code from the most recent
	// finished attempt. -1 marks a hang.
	LastCode int
	// Diagnostic is the most recent failure's diagnostic text.
	Diagnostic string
	// DispatchedAt is when the in-flight attempt started.
	DispatchedAt time.Time
}

// FromSpec creates a pending node from its specification.
func FromSpec(s *Spec) *Node {
	return &Node{
		ID:          s.ID,
		Layer:       s.Layer,
		DependsOn:   append([]string(nil), s.DependsOn...),
		Timeout:     s.Timeout,
		MaxAttempts: s.MaxAttempts,
		Artifacts:   append([]string(nil), s.Artifacts...),
		Status:      StatusPending,
	}
}
