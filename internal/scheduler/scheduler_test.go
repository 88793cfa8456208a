package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/taskforge/internal/contract"
	"github.com/vk/taskforge/internal/dag"
	"github.com/vk/taskforge/internal/gate"
	"github.com/vk/taskforge/internal/journal"
	"github.com/vk/taskforge/internal/liveness"
	"github.com/vk/taskforge/internal/node"
	"github.com/vk/taskforge/internal/progress"
	"github.com/vk/taskforge/internal/testutil"
)

func spec(id string, layer node.Layer, deps ...string) *node.Spec {
	return &node.Spec{
		ID:          id,
		Layer:       layer,
		DependsOn:   deps,
		Timeout:     time.Minute,
		MaxAttempts: 2,
	}
}

func buildGraph(t *testing.T, specs ...*node.Spec) *dag.Graph {
	t.Helper()
	g, err := dag.Build(context.Background(), specs)
	require.NoError(t, err)
	return g
}

func newScheduler(g *dag.Graph, exec *testutil.ScriptedExecutor, cfg Config) *Scheduler {
	return New(Deps{
		Graph:    g,
		Executor: exec,
		Gate:     &gate.Gate{Probe: &testutil.StaticProbe{}},
		Monitor:  liveness.New(exec),
		Killer:   exec,
	}, cfg)
}

func partialClaim(context string) *contract.Contract {
	return &contract.Contract{Status: contract.StatusPartial, Context: context}
}

func nodeStatus(t *testing.T, g *dag.Graph, id string) *node.Node {
	t.Helper()
	n, ok := g.Node(id)
	require.True(t, ok)
	return n
}

func TestRunLinearChainWithRetryAndBlock(t *testing.T) {
	g := buildGraph(t,
		spec("types", node.LayerFoundation),
		spec("engine", node.LayerLogic, "types"),
		spec("api-flow", node.LayerVerticalSlice, "engine"),
		spec("wiring", node.LayerIntegration, "api-flow"),
	)
	exec := testutil.NewScriptedExecutor(map[string][]testutil.Attempt{
		"engine": {
			{Claim: partialClaim("ran out of time")},
			{Claim: testutil.CompleteClaim()},
		},
		"api-flow": {
			{Claim: partialClaim("half done")},
			{Claim: partialClaim("still half done")},
		},
	})

	dir := t.TempDir()
	store, err := progress.NewStore(filepath.Join(dir, "progress"))
	require.NoError(t, err)
	jrnl, err := journal.Open(filepath.Join(dir, "journal.jsonl"), "run-1")
	require.NoError(t, err)
	defer jrnl.Close()

	s := newScheduler(g, exec, Config{Concurrency: 2})
	s.deps.Store = store
	s.deps.Journal = jrnl

	sum, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeBlocked, sum.Outcome)
	assert.Equal(t, []string{"api-flow"}, sum.Blocked)
	assert.Equal(t, []string{"wiring"}, sum.Stranded)

	assert.Equal(t, node.StatusCompleted, nodeStatus(t, g, "types").Status)
	assert.Equal(t, node.StatusCompleted, nodeStatus(t, g, "engine").Status)
	assert.Equal(t, node.StatusBlocked, nodeStatus(t, g, "api-flow").Status)
	assert.Equal(t, node.StatusPending, nodeStatus(t, g, "wiring").Status)

	assert.Equal(t, 2, exec.Calls("engine"))
	assert.Equal(t, 2, exec.Calls("api-flow"))
	assert.Equal(t, 0, exec.Calls("wiring"))

	// Blocked diagnostic keeps the last failure visible for the operator.
	assert.Contains(t, nodeStatus(t, g, "api-flow").Diagnostic, "still half done")

	// Terminal states survived to the durable store.
	rec, ok, err := store.Read("api-flow")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, node.StatusBlocked, rec.Status)
	assert.Equal(t, 2, rec.Attempt)
	assert.Equal(t, "run-1", rec.RunID)
}

func TestRunRetryDirectiveCarriesDiagnostic(t *testing.T) {
	g := buildGraph(t, spec("engine", node.LayerFoundation))
	exec := testutil.NewScriptedExecutor(map[string][]testutil.Attempt{
		"engine": {
			{Claim: partialClaim("parser stub unimplemented")},
			{Claim: testutil.CompleteClaim()},
		},
	})

	sum, err := newScheduler(g, exec, Config{Concurrency: 1}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, sum.Outcome)

	directives := exec.Directives("engine")
	require.Len(t, directives, 2)
	assert.Empty(t, directives[0])
	assert.Contains(t, directives[1], "Attempt 2/2")
	assert.Contains(t, directives[1], "exit 1, schema check")
	assert.Contains(t, directives[1], "parser stub unimplemented")
	assert.Contains(t, directives[1], "continue from the specific point of failure")
}

func TestRunReactiveDispatch(t *testing.T) {
	// slow's retry must not delay quick's dependents: downstream completes
	// while slow is still held in flight.
	g := buildGraph(t,
		spec("root", node.LayerFoundation),
		spec("slow", node.LayerFoundation, "root"),
		spec("quick", node.LayerFoundation, "root"),
		spec("downstream", node.LayerFoundation, "quick"),
	)
	release := make(chan struct{})
	exec := testutil.NewScriptedExecutor(map[string][]testutil.Attempt{
		"slow": {{Claim: testutil.CompleteClaim(), Release: release}},
	})

	done := make(chan *Summary, 1)
	go func() {
		sum, err := newScheduler(g, exec, Config{Concurrency: 4}).Run(context.Background())
		assert.NoError(t, err)
		done <- sum
	}()

	// Hold slow until everything on the quick side has finished.
	require.Eventually(t, func() bool {
		for _, id := range exec.Completions() {
			if id == "downstream" {
				return true
			}
		}
		return false
	}, 2*time.Second, time.Millisecond)
	close(release)

	var sum *Summary
	select {
	case sum = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish")
	}

	assert.Equal(t, OutcomeCompleted, sum.Outcome)
	order := exec.Completions()
	require.Equal(t, []string{"root", "quick", "downstream", "slow"}, order)
}

func TestRunConcurrencyLimit(t *testing.T) {
	specs := []*node.Spec{
		spec("n1", node.LayerFoundation),
		spec("n2", node.LayerFoundation),
		spec("n3", node.LayerFoundation),
		spec("n4", node.LayerFoundation),
	}
	release := make(chan struct{})
	scripts := map[string][]testutil.Attempt{}
	for _, sp := range specs {
		scripts[sp.ID] = []testutil.Attempt{{Claim: testutil.CompleteClaim(), Release: release}}
	}
	g := buildGraph(t, specs...)
	exec := testutil.NewScriptedExecutor(scripts)

	done := make(chan *Summary, 1)
	go func() {
		sum, err := newScheduler(g, exec, Config{Concurrency: 2}).Run(context.Background())
		assert.NoError(t, err)
		done <- sum
	}()

	require.Eventually(t, func() bool { return exec.MaxParallel() == 2 }, 2*time.Second, time.Millisecond)
	close(release)

	select {
	case sum := <-done:
		assert.Equal(t, OutcomeCompleted, sum.Outcome)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish")
	}
	assert.Equal(t, 2, exec.MaxParallel())
}

func TestRunAttemptBudgetNeverExceeded(t *testing.T) {
	g := buildGraph(t, spec("stuck", node.LayerFoundation))
	exec := testutil.NewScriptedExecutor(map[string][]testutil.Attempt{
		"stuck": {
			{Claim: partialClaim("first failure")},
			{Claim: partialClaim("second failure")},
			{Claim: testutil.CompleteClaim()}, // must never be reached
		},
	})

	sum, err := newScheduler(g, exec, Config{Concurrency: 1}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeBlocked, sum.Outcome)
	assert.Equal(t, 2, exec.Calls("stuck"))
	n := nodeStatus(t, g, "stuck")
	assert.Equal(t, node.StatusBlocked, n.Status)
	assert.Equal(t, 2, n.Attempt)
}

func TestRunHungNodeKilledAndRetried(t *testing.T) {
	sp := spec("staller", node.LayerFoundation)
	sp.Timeout = time.Millisecond
	g := buildGraph(t, sp)
	exec := testutil.NewScriptedExecutor(map[string][]testutil.Attempt{
		"staller": {
			{Hang: true},
			{Claim: testutil.CompleteClaim()},
		},
	})

	s := newScheduler(g, exec, Config{Concurrency: 1, PollInterval: 5 * time.Millisecond})
	sum, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, sum.Outcome)
	assert.Equal(t, 2, exec.Calls("staller"))
	assert.Equal(t, []string{"staller"}, exec.Killed())

	directives := exec.Directives("staller")
	require.Len(t, directives, 2)
	assert.Contains(t, directives[1], "hung")
}

func TestRunHungTwiceBlocks(t *testing.T) {
	sp := spec("staller", node.LayerFoundation)
	sp.Timeout = time.Millisecond
	g := buildGraph(t, sp)
	exec := testutil.NewScriptedExecutor(map[string][]testutil.Attempt{
		"staller": {{Hang: true}, {Hang: true}},
	})

	sum, err := newScheduler(g, exec, Config{Concurrency: 1, PollInterval: 5 * time.Millisecond}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeBlocked, sum.Outcome)
	n := nodeStatus(t, g, "staller")
	assert.Equal(t, node.StatusBlocked, n.Status)
	assert.Equal(t, int(gate.CodeHung), n.LastCode)
	assert.Equal(t, 2, exec.Calls("staller"))
}

// seqRunner fails its first n calls, then passes.
type seqRunner struct {
	mu       sync.Mutex
	failures int
	calls    int
	output   string
}

func (r *seqRunner) Run(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.calls <= r.failures {
		return r.output, errors.New("exit status 1")
	}
	return "", nil
}

func TestRunBuildFailureRetriesWithBuildDiagnostic(t *testing.T) {
	g := buildGraph(t, spec("engine", node.LayerLogic))
	exec := testutil.NewScriptedExecutor(nil)

	s := newScheduler(g, exec, Config{Concurrency: 1})
	s.deps.Gate.Build = &seqRunner{failures: 1, output: "undefined: Frobnicate"}

	sum, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, sum.Outcome)
	assert.Equal(t, 2, exec.Calls("engine"))
	directives := exec.Directives("engine")
	require.Len(t, directives, 2)
	assert.Contains(t, directives[1], "exit 3, build check")
	assert.Contains(t, directives[1], "undefined: Frobnicate")
}

func TestRunTestFailureExhaustsBudget(t *testing.T) {
	g := buildGraph(t, spec("api-flow", node.LayerVerticalSlice))
	exec := testutil.NewScriptedExecutor(nil)

	s := newScheduler(g, exec, Config{Concurrency: 1})
	s.deps.Gate.Test = &seqRunner{failures: 10, output: "--- FAIL: TestFlow"}

	sum, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeBlocked, sum.Outcome)
	n := nodeStatus(t, g, "api-flow")
	assert.Equal(t, int(gate.CodeTest), n.LastCode)
	assert.Contains(t, n.Diagnostic, "TestFlow")
	assert.Equal(t, 2, exec.Calls("api-flow"))
}

func TestRunCancellationDrainsInFlight(t *testing.T) {
	g := buildGraph(t,
		spec("first", node.LayerFoundation),
		spec("second", node.LayerFoundation, "first"),
	)
	release := make(chan struct{})
	exec := testutil.NewScriptedExecutor(map[string][]testutil.Attempt{
		"first": {{Claim: testutil.CompleteClaim(), Release: release}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *Summary, 1)
	go func() {
		sum, err := newScheduler(g, exec, Config{Concurrency: 1}).Run(ctx)
		assert.NoError(t, err)
		done <- sum
	}()

	require.Eventually(t, func() bool { return exec.Calls("first") == 1 }, 2*time.Second, time.Millisecond)
	cancel()
	// Give the loop a moment to observe cancellation before the in-flight
	// attempt is allowed to finish.
	time.Sleep(20 * time.Millisecond)
	close(release)

	var sum *Summary
	select {
	case sum = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish")
	}

	assert.Equal(t, OutcomeCancelled, sum.Outcome)
	// The in-flight node drained to a real gate decision.
	assert.Equal(t, node.StatusCompleted, nodeStatus(t, g, "first").Status)
	// Nothing new was dispatched after cancellation.
	assert.Equal(t, 0, exec.Calls("second"))
	assert.Equal(t, []string{"second"}, sum.Stranded)
}

func TestRunEmptyGraph(t *testing.T) {
	g := buildGraph(t)
	sum, err := newScheduler(g, testutil.NewScriptedExecutor(nil), Config{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, sum.Outcome)
	assert.Empty(t, sum.Nodes)
}
