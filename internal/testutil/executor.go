// Package testutil provides scripted in-process fakes for exercising the
// control loop without real subprocesses.
package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/vk/taskforge/internal/contract"
	"github.com/vk/taskforge/internal/executor"
)

// ErrKilled is returned by a hanging scripted attempt once it is killed.
var ErrKilled = errors.New("execution killed")

// Attempt scripts one attempt's behaviour for one node.
type Attempt struct {
	Claim *contract.Contract
	Err   error
	// Hang blocks the attempt until Kill releases it.
	Hang bool
	// Release, when set, blocks the attempt until the channel is closed.
	// Used to pin ordering in concurrency tests.
	Release chan struct{}
}

// CompleteClaim is a minimal passing contract for scripted attempts.
func CompleteClaim(artifacts ...string) *contract.Contract {
	return &contract.Contract{Status: contract.StatusComplete, Artifacts: artifacts}
}

// ScriptedExecutor replays per-node attempt scripts and records what the
// loop asked of it. It doubles as a liveness watcher so hang scripts can be
// confirmed and killed through the same polling path production uses.
type ScriptedExecutor struct {
	mu          sync.Mutex
	scripts     map[string][]Attempt
	calls       map[string]int
	directives  map[string][]string
	completions []string
	hangs       map[string]chan struct{}
	killed      []string
	current     int
	maxParallel int
}

// NewScriptedExecutor builds an executor over per-node attempt scripts. A
// node past the end of its script, or absent entirely, succeeds with an
// empty complete claim.
func NewScriptedExecutor(scripts map[string][]Attempt) *ScriptedExecutor {
	return &ScriptedExecutor{
		scripts:    scripts,
		calls:      map[string]int{},
		directives: map[string][]string{},
		hangs:      map[string]chan struct{}{},
	}
}

var _ executor.Adapter = (*ScriptedExecutor)(nil)

func (e *ScriptedExecutor) Execute(ctx context.Context, t executor.Task) (*contract.Contract, error) {
	e.mu.Lock()
	idx := e.calls[t.NodeID]
	e.calls[t.NodeID]++
	e.directives[t.NodeID] = append(e.directives[t.NodeID], t.Directive)
	e.current++
	if e.current > e.maxParallel {
		e.maxParallel = e.current
	}
	a := e.attemptLocked(t.NodeID, idx)
	var hangCh chan struct{}
	if a.Hang {
		hangCh = make(chan struct{})
		e.hangs[t.NodeID] = hangCh
	}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.current--
		e.mu.Unlock()
	}()

	if hangCh != nil {
		select {
		case <-hangCh:
			return nil, ErrKilled
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if a.Release != nil {
		select {
		case <-a.Release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	e.mu.Lock()
	e.completions = append(e.completions, t.NodeID)
	e.mu.Unlock()
	return a.Claim, a.Err
}

func (e *ScriptedExecutor) attemptLocked(nodeID string, idx int) Attempt {
	script := e.scripts[nodeID]
	if idx < len(script) {
		return script[idx]
	}
	return Attempt{Claim: CompleteClaim()}
}

// Fingerprint reports a constant fingerprint while a hang script is live,
// so two consecutive polls confirm the hang.
func (e *ScriptedExecutor) Fingerprint(nodeID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.hangs[nodeID]; ok {
		return "stalled", true
	}
	return "", false
}

// ContractExists always reports false; hang scripts model work that never
// produced a contract.
func (e *ScriptedExecutor) ContractExists(nodeID string) bool {
	return false
}

// Kill releases a hanging attempt, which then returns ErrKilled.
func (e *ScriptedExecutor) Kill(nodeID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.killed = append(e.killed, nodeID)
	if ch, ok := e.hangs[nodeID]; ok {
		close(ch)
		delete(e.hangs, nodeID)
	}
	return nil
}

// Calls reports how many attempts were dispatched for the node.
func (e *ScriptedExecutor) Calls(nodeID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[nodeID]
}

// Directives reports the directive passed to each attempt, in order.
func (e *ScriptedExecutor) Directives(nodeID string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.directives[nodeID]))
	copy(out, e.directives[nodeID])
	return out
}

// Completions reports node IDs in the order their attempts finished.
func (e *ScriptedExecutor) Completions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.completions))
	copy(out, e.completions)
	return out
}

// Killed reports the nodes Kill was invoked for.
func (e *ScriptedExecutor) Killed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.killed))
	copy(out, e.killed)
	return out
}

// MaxParallel reports the high-water mark of concurrent attempts.
func (e *ScriptedExecutor) MaxParallel() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxParallel
}
