// Package scheduler drives the DAG to completion or to a terminal blocked
// state. One goroutine owns every node status mutation: dispatches fan out
// as goroutines around the executor adapter, and their results come back
// over a channel, so no lock ever guards graph state. Between events the
// loop blocks only on the next result or the next liveness tick.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/vk/taskforge/internal/contract"
	"github.com/vk/taskforge/internal/ctxlog"
	"github.com/vk/taskforge/internal/dag"
	"github.com/vk/taskforge/internal/executor"
	"github.com/vk/taskforge/internal/gate"
	"github.com/vk/taskforge/internal/journal"
	"github.com/vk/taskforge/internal/liveness"
	"github.com/vk/taskforge/internal/node"
	"github.com/vk/taskforge/internal/progress"
	"github.com/vk/taskforge/internal/retry"
)

// DefaultPollInterval is the liveness poll cadence when none is configured.
const DefaultPollInterval = 10 * time.Second

// Killer hard-terminates a node's in-flight execution. Used only on forced
// cancellation; normal hangs are killed through the liveness monitor.
type Killer interface {
	Kill(nodeID string) error
}

// Config bounds and tunes one run.
type Config struct {
	// Concurrency is the maximum number of nodes in flight. Minimum 1.
	Concurrency int
	// PollInterval is the liveness poll cadence.
	PollInterval time.Duration
	// ForceKillOnCancel kills in-flight executions when the run context is
	// cancelled instead of letting them drain to a gate decision.
	ForceKillOnCancel bool
}

// Deps are the collaborators the loop ties together.
type Deps struct {
	Graph    *dag.Graph
	Executor executor.Adapter
	Gate     *gate.Gate
	Monitor  *liveness.Monitor
	Store    *progress.Store
	Journal  *journal.Journal
	// Killer is optional; without it forced cancellation degrades to a
	// graceful drain.
	Killer Killer
}

// Outcome is the run-level result.
type Outcome string

const (
	// OutcomeCompleted means every node reached completed.
	OutcomeCompleted Outcome = "completed"
	// OutcomeBlocked means at least one node exhausted its attempt budget.
	OutcomeBlocked Outcome = "blocked"
	// OutcomeCancelled means cancellation preempted remaining work.
	OutcomeCancelled Outcome = "cancelled"
)

// NodeReport is one node's final line in the run summary.
type NodeReport struct {
	ID         string
	Status     node.Status
	Attempts   int
	LastCode   int
	Diagnostic string
}

// Summary is the run-level result handed back to the caller.
type Summary struct {
	Outcome Outcome
	Nodes   []NodeReport
	// Blocked lists nodes that terminated at blocked.
	Blocked []string
	// Stranded lists nodes that never became dispatchable because an
	// ancestor blocked or cancellation intervened. They stay pending.
	Stranded []string
}

// result is one finished attempt delivered back to the loop.
type result struct {
	nodeID  string
	attempt int
	claim   *contract.Contract
	execErr error
	hung    bool
}

// Scheduler runs one DAG to termination. Not reusable across runs.
type Scheduler struct {
	deps      Deps
	cfg       Config
	results   chan result
	inflight  int
	cancelled bool
}

// New creates a scheduler over validated collaborators.
func New(deps Deps, cfg Config) *Scheduler {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Scheduler{deps: deps, cfg: cfg}
}

// Run executes the control loop until every node is terminal or unreachable.
// It returns an error only for loop-level failures; per-node failures are
// reported through the summary.
func (s *Scheduler) Run(ctx context.Context) (*Summary, error) {
	logger := ctxlog.FromContext(ctx)

	// Every dispatch sends exactly one result and total dispatches are
	// bounded by the attempt budgets; sizing the buffer to that bound means
	// a stale result dropped after a hang never strands its sender.
	capacity := 1
	for _, n := range s.deps.Graph.All() {
		capacity += max(1, n.MaxAttempts)
	}
	s.results = make(chan result, capacity)

	// Executions outlive a graceful cancellation on purpose: in-flight
	// attempts drain to a natural gate decision.
	execCtx := context.WithoutCancel(ctx)

	s.appendJournal(ctx, journal.Entry{Event: journal.EventRunStart, Detail: fmt.Sprintf("%d nodes", s.deps.Graph.Len())})
	logger.Info("🚀 Starting run.", "node_count", s.deps.Graph.Len(), "concurrency", s.cfg.Concurrency)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	done := ctx.Done()

	for {
		if !s.cancelled {
			s.dispatchReady(ctx, execCtx)
		}
		if s.inflight == 0 && !s.hasDispatchable() {
			break
		}

		select {
		case res := <-s.results:
			s.handleResult(ctx, res)
		case <-ticker.C:
			s.pollLiveness(ctx)
		case <-done:
			done = nil
			s.cancelled = true
			logger.Warn("Cancellation requested; no new nodes will be dispatched.", "inflight", s.inflight)
			if s.cfg.ForceKillOnCancel && s.deps.Killer != nil {
				s.killInflight(ctx)
			}
		}
	}

	summary := s.summarize()
	s.appendJournal(ctx, journal.Entry{Event: journal.EventRunEnd, Detail: string(summary.Outcome)})
	logger.Info("🏁 Run finished.", "outcome", string(summary.Outcome), "blocked", len(summary.Blocked))
	return summary, nil
}

// dispatchReady promotes newly unblocked nodes and dispatches as many ready
// nodes as the concurrency bound allows. Called after every applied
// transition, which is what makes dispatch reactive: a completion unblocks
// dependents immediately, regardless of unrelated in-flight work.
func (s *Scheduler) dispatchReady(ctx context.Context, execCtx context.Context) {
	for _, n := range s.deps.Graph.Ready() {
		n.Status = node.StatusReady
	}
	for _, n := range s.deps.Graph.All() {
		if s.inflight >= s.cfg.Concurrency {
			return
		}
		if n.Status != node.StatusReady {
			continue
		}
		s.dispatch(ctx, execCtx, n)
	}
}

// hasDispatchable reports whether any node could still be dispatched.
func (s *Scheduler) hasDispatchable() bool {
	if s.cancelled {
		return false
	}
	for _, n := range s.deps.Graph.All() {
		if n.Status == node.StatusReady {
			return true
		}
	}
	return len(s.deps.Graph.Ready()) > 0
}

// dispatch starts one attempt. The attempt is charged here: Attempt is N
// while attempt N runs.
func (s *Scheduler) dispatch(ctx context.Context, execCtx context.Context, n *node.Node) {
	logger := ctxlog.FromContext(ctx)

	n.Attempt++
	n.Status = node.StatusRunning
	n.DispatchedAt = time.Now()
	directive := n.Directive
	n.Directive = ""

	s.writeProgress(ctx, n, fmt.Sprintf("attempt %d/%d dispatched", n.Attempt, n.MaxAttempts))
	s.appendJournal(ctx, journal.Entry{Event: journal.EventDispatch, NodeID: n.ID, Status: n.Status, Attempt: n.Attempt})
	s.deps.Monitor.Track(n.ID, n.DispatchedAt.Add(n.Timeout))
	s.inflight++
	logger.Info("▶️ Dispatching node.", "node_id", n.ID, "attempt", n.Attempt, "layer", string(n.Layer))

	task := executor.Task{
		NodeID:    n.ID,
		Layer:     n.Layer,
		Attempt:   n.Attempt,
		Timeout:   n.Timeout,
		Directive: directive,
	}
	go func() {
		claim, err := s.deps.Executor.Execute(execCtx, task)
		s.results <- result{nodeID: task.NodeID, attempt: task.Attempt, claim: claim, execErr: err}
	}()
}

// pollLiveness converts confirmed hangs into failure results, handled
// inline since we are already on the loop goroutine.
func (s *Scheduler) pollLiveness(ctx context.Context) {
	for _, nodeID := range s.deps.Monitor.Poll(ctx, time.Now()) {
		if n, ok := s.deps.Graph.Node(nodeID); ok {
			s.handleResult(ctx, result{nodeID: nodeID, attempt: n.Attempt, hung: true})
		}
	}
}

// handleResult is the single place a finished attempt becomes a status
// transition.
func (s *Scheduler) handleResult(ctx context.Context, res result) {
	logger := ctxlog.FromContext(ctx)

	n, ok := s.deps.Graph.Node(res.nodeID)
	if !ok {
		return
	}
	// A killed process still reports through the result channel after its
	// hang was already classified; drop such stale deliveries.
	if n.Status != node.StatusRunning || n.Attempt != res.attempt {
		logger.Debug("Ignoring stale attempt result.", "node_id", res.nodeID, "attempt", res.attempt)
		return
	}

	s.inflight--
	s.deps.Monitor.Forget(n.ID)

	var code gate.Code
	var diag string
	if res.hung {
		n.Status = node.StatusHung
		code = gate.CodeHung
		diag = fmt.Sprintf("no output progress across two liveness polls past the %s deadline; execution was terminated", n.Timeout)
	} else {
		code, diag = s.deps.Gate.Validate(ctx, n, res.claim)
		if code != gate.CodePass {
			n.Status = node.StatusFailed
			if res.execErr != nil {
				diag = fmt.Sprintf("%s (executor: %v)", diag, res.execErr)
			}
		}
	}
	n.LastCode = int(code)

	decision := retry.Decide(n, code, diag)
	switch decision.Outcome {
	case retry.Advance:
		n.Status = node.StatusCompleted
		n.Diagnostic = ""
		s.writeProgress(ctx, n, fmt.Sprintf("completed on attempt %d", n.Attempt))
		logger.Info("✅ Node completed.", "node_id", n.ID, "attempt", n.Attempt)

	case retry.Retry:
		n.Status = node.StatusReady
		n.Directive = decision.Directive
		n.Diagnostic = diag
		s.writeProgress(ctx, n, diag)
		logger.Warn("Node failed; retrying.", "node_id", n.ID, "attempt", n.Attempt, "check", code.String(), "diagnostic", diag)

	case retry.Block:
		n.Status = node.StatusBlocked
		n.Diagnostic = decision.Reason
		s.writeProgress(ctx, n, decision.Reason)
		logger.Error("⛔ Node blocked; human intervention required.", "node_id", n.ID, "attempts", n.Attempt, "check", code.String(), "diagnostic", diag)
	}
	s.appendJournal(ctx, journal.Entry{Event: journal.EventTransition, NodeID: n.ID, Status: n.Status, Attempt: n.Attempt, Detail: diag})
}

// killInflight hard-terminates every running node on forced cancellation.
func (s *Scheduler) killInflight(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	for _, n := range s.deps.Graph.All() {
		if n.Status != node.StatusRunning {
			continue
		}
		if err := s.deps.Killer.Kill(n.ID); err != nil {
			logger.Error("Failed to kill in-flight node.", "node_id", n.ID, "error", err)
		}
	}
}

// summarize collapses final node states into the run-level result.
func (s *Scheduler) summarize() *Summary {
	sum := &Summary{}
	for _, n := range s.deps.Graph.All() {
		sum.Nodes = append(sum.Nodes, NodeReport{
			ID:         n.ID,
			Status:     n.Status,
			Attempts:   n.Attempt,
			LastCode:   n.LastCode,
			Diagnostic: n.Diagnostic,
		})
		switch n.Status {
		case node.StatusCompleted:
		case node.StatusBlocked:
			sum.Blocked = append(sum.Blocked, n.ID)
		default:
			sum.Stranded = append(sum.Stranded, n.ID)
		}
	}

	switch {
	case len(sum.Blocked) > 0:
		sum.Outcome = OutcomeBlocked
	case s.cancelled && len(sum.Stranded) > 0:
		sum.Outcome = OutcomeCancelled
	default:
		sum.Outcome = OutcomeCompleted
	}
	return sum
}

// writeProgress durably records the node's current state. A write failure
// is logged, not fatal: a lost record only costs redone work on resume.
func (s *Scheduler) writeProgress(ctx context.Context, n *node.Node, summary string) {
	if s.deps.Store == nil {
		return
	}
	rec := progress.Record{
		NodeID:  n.ID,
		Status:  n.Status,
		Attempt: n.Attempt,
		Summary: summary,
	}
	if s.deps.Journal != nil {
		rec.RunID = s.deps.Journal.RunID()
	}
	if err := s.deps.Store.Write(rec); err != nil {
		ctxlog.FromContext(ctx).Error("Failed to write progress record.", "node_id", n.ID, "error", err)
	}
}

// appendJournal records an audit entry, tolerating journal absence in tests.
func (s *Scheduler) appendJournal(ctx context.Context, e journal.Entry) {
	if s.deps.Journal == nil {
		return
	}
	if err := s.deps.Journal.Append(e); err != nil {
		ctxlog.FromContext(ctx).Error("Failed to append journal entry.", "event", e.Event, "error", err)
	}
}
