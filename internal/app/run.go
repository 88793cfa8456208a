package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/vk/taskforge/internal/ctxlog"
	"github.com/vk/taskforge/internal/dag"
	"github.com/vk/taskforge/internal/executor"
	"github.com/vk/taskforge/internal/gate"
	"github.com/vk/taskforge/internal/journal"
	"github.com/vk/taskforge/internal/liveness"
	"github.com/vk/taskforge/internal/node"
	"github.com/vk/taskforge/internal/probe"
	"github.com/vk/taskforge/internal/progress"
	"github.com/vk/taskforge/internal/reconcile"
	"github.com/vk/taskforge/internal/scheduler"
)

// BlockedError reports a run that terminated with blocked nodes needing
// human intervention.
type BlockedError struct {
	Nodes []string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("run blocked on %d node(s): %s", len(e.Nodes), strings.Join(e.Nodes, ", "))
}

// Run executes the main application logic based on the App's configuration.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	graph, err := dag.Build(ctx, a.specs)
	if err != nil {
		return fmt.Errorf("failed to build execution graph: %w", err)
	}
	a.logger.Debug("Execution graph built.", "node_count", graph.Len())

	if graph.Len() == 0 {
		a.logger.Warn("No nodes found in plan, execution not required.")
		return nil
	}

	if err := os.MkdirAll(a.cfg.WorkspaceDir, 0o755); err != nil {
		return fmt.Errorf("creating workspace %s: %w", a.cfg.WorkspaceDir, err)
	}
	store, err := progress.NewStore(filepath.Join(a.cfg.WorkspaceDir, "progress"))
	if err != nil {
		return fmt.Errorf("opening progress store: %w", err)
	}

	runID := uuid.NewString()
	jrnl, err := journal.Open(filepath.Join(a.cfg.WorkspaceDir, "journal.jsonl"), runID)
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	defer jrnl.Close()
	a.logger.Info("Run identity assigned.", "run_id", runID)

	prb := probe.NewFilesystem(a.cfg.ProjectDir)

	if a.cfg.Resume {
		records, err := store.All()
		if err != nil {
			return fmt.Errorf("reading progress records: %w", err)
		}
		resumePlan := reconcile.Resume(ctx, records, graph, prb)
		resumePlan.Apply(graph)
		a.logger.Info("♻️ Resumed from durable progress.", "record_count", len(records))
	}

	cmd := executor.NewCommand(a.cfg.WorkspaceDir, a.cfg.ProjectDir, a.cfg.ExecArgv)
	cmd.Journal = jrnl

	g := &gate.Gate{Probe: prb}
	if r := gate.NewCommandRunner(a.cfg.BuildArgv, a.cfg.ProjectDir); r != nil {
		g.Build = r
	}
	if r := gate.NewCommandRunner(a.cfg.TestArgv, a.cfg.ProjectDir); r != nil {
		g.Test = r
	}

	sched := scheduler.New(scheduler.Deps{
		Graph:    graph,
		Executor: cmd,
		Gate:     g,
		Monitor:  liveness.New(cmd),
		Store:    store,
		Journal:  jrnl,
		Killer:   cmd,
	}, scheduler.Config{
		Concurrency:       a.cfg.Concurrency,
		PollInterval:      a.cfg.PollInterval,
		ForceKillOnCancel: a.cfg.ForceKill,
	})

	a.logger.Info("🚀 Starting concurrent execution...")
	summary, err := sched.Run(ctx)
	if err != nil {
		return fmt.Errorf("execution failed: %w", err)
	}
	a.printSummary(summary)

	if summary.Outcome == scheduler.OutcomeBlocked {
		return &BlockedError{Nodes: summary.Blocked}
	}
	return nil
}

// printSummary writes the per-node report to the application's output.
func (a *App) printSummary(sum *scheduler.Summary) {
	fmt.Fprintf(a.outW, "\nRun %s.\n", sum.Outcome)
	for _, rep := range sum.Nodes {
		line := fmt.Sprintf("  %-12s %s (attempts: %d)", rep.Status, rep.ID, rep.Attempts)
		if rep.Status != node.StatusCompleted && rep.Diagnostic != "" {
			line += " - " + rep.Diagnostic
		}
		fmt.Fprintln(a.outW, line)
	}
	if len(sum.Stranded) > 0 {
		fmt.Fprintf(a.outW, "Never dispatched: %s\n", strings.Join(sum.Stranded, ", "))
	}
}
