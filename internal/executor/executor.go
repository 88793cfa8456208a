// Package executor defines the boundary to whatever external process
// performs one node's work. The orchestrator does not know or care what
// happens inside an attempt; it only requires that the adapter eventually
// returns a completion contract or is observably unresponsive.
package executor

import (
	"context"
	"time"

	"github.com/vk/taskforge/internal/contract"
	"github.com/vk/taskforge/internal/node"
)

// Task is the immutable snapshot of a node handed to an adapter for one
// attempt. Adapters must never reach back into scheduler-owned node state.
type Task struct {
	NodeID  string
	Layer   node.Layer
	Attempt int
	Timeout time.Duration
	// Directive carries the retry directive or resume hint for this attempt.
	// Empty on a fresh first attempt.
	Directive string
}

// Adapter executes one attempt of one node. A nil contract with a non-nil
// error means the attempt finished without producing a verifiable claim;
// the validation gate maps that to a schema failure.
type Adapter interface {
	Execute(ctx context.Context, t Task) (*contract.Contract, error)
}
