// Package reconcile computes the resume plan for a restarted run: it diffs
// the progress store's last-known state against observable ground truth and
// decides, per node, whether completed work can be kept and where
// interrupted work should pick up. It never mutates ground truth.
package reconcile

import (
	"context"
	"fmt"

	"github.com/vk/taskforge/internal/ctxlog"
	"github.com/vk/taskforge/internal/dag"
	"github.com/vk/taskforge/internal/node"
	"github.com/vk/taskforge/internal/probe"
	"github.com/vk/taskforge/internal/progress"
)

// Seed is the initial scheduler state for one node of a resumed run.
type Seed struct {
	Status  node.Status
	Attempt int
	// Hint summarizes what already exists so the next attempt builds on it
	// instead of discarding it. Folded into the first dispatch directive.
	Hint string
}

// Plan maps node ids to their resume seeds. Nodes absent from the plan
// start fresh as pending.
type Plan struct {
	Seeds map[string]Seed
}

// Resume computes the resume plan from stale progress records and the
// ground-truth probe. It is pure: identical inputs yield an identical plan.
func Resume(ctx context.Context, records []progress.Record, g *dag.Graph, p probe.Probe) *Plan {
	logger := ctxlog.FromContext(ctx)
	plan := &Plan{Seeds: make(map[string]Seed, len(records))}

	for _, rec := range records {
		n, ok := g.Node(rec.NodeID)
		if !ok {
			// The plan changed between runs; a stale record for a node that
			// no longer exists is not an error.
			logger.Warn("Progress record for unknown node ignored.", "node_id", rec.NodeID)
			continue
		}

		switch rec.Status {
		case node.StatusCompleted:
			if ok, detail := artifactsIntact(ctx, n, p); ok {
				plan.Seeds[rec.NodeID] = Seed{Status: node.StatusCompleted, Attempt: rec.Attempt}
			} else {
				// Completed on record but contradicted by ground truth:
				// re-run rather than trust the stale claim.
				plan.Seeds[rec.NodeID] = Seed{
					Status:  node.StatusReady,
					Attempt: rec.Attempt,
					Hint:    fmt.Sprintf("Previously recorded completed, but %s. Re-verify and redo what is missing.", detail),
				}
			}

		case node.StatusRunning:
			plan.Seeds[rec.NodeID] = reclassifyInterrupted(ctx, n, rec, p)

		case node.StatusReady, node.StatusFailed, node.StatusHung:
			plan.Seeds[rec.NodeID] = Seed{
				Status:  node.StatusReady,
				Attempt: rec.Attempt,
				Hint:    rec.Summary,
			}

		case node.StatusBlocked:
			plan.Seeds[rec.NodeID] = Seed{Status: node.StatusBlocked, Attempt: rec.Attempt}

		default:
			// StatusPending or unknown: start fresh.
		}
	}

	logger.Debug("Resume plan computed.", "seed_count", len(plan.Seeds))
	return plan
}

// reclassifyInterrupted decides what to do with a node the previous process
// died while executing. An attempt cut short never reached a gate decision,
// so re-running it does not spend budget: ready seeds roll the counter back
// to before the interrupted dispatch.
func reclassifyInterrupted(ctx context.Context, n *node.Node, rec progress.Record, p probe.Probe) Seed {
	uncharged := rec.Attempt - 1
	if uncharged < 0 {
		uncharged = 0
	}

	if len(n.Artifacts) == 0 {
		return Seed{
			Status:  node.StatusReady,
			Attempt: uncharged,
			Hint:    "A previous run was interrupted while this node was executing; no declared artifacts to recover. Start fresh.",
		}
	}

	var present, missing []string
	valid := true
	for _, a := range n.Artifacts {
		if p.Exists(ctx, a) {
			present = append(present, a)
			if err := p.Validate(ctx, a); err != nil {
				valid = false
			}
		} else {
			missing = append(missing, a)
		}
	}

	switch {
	case len(missing) == 0 && valid:
		// Everything the plan expects is present and sound: the work
		// finished even though the status record never caught up.
		return Seed{Status: node.StatusCompleted, Attempt: rec.Attempt}
	case len(present) > 0:
		return Seed{
			Status:  node.StatusReady,
			Attempt: uncharged,
			Hint: fmt.Sprintf("A previous run was interrupted mid-execution. Already present: %v. Still missing or invalid: %v. Build on the existing work.",
				present, missing),
		}
	default:
		return Seed{
			Status:  node.StatusReady,
			Attempt: uncharged,
			Hint:    "A previous run was interrupted before this node produced anything. Start fresh.",
		}
	}
}

// artifactsIntact verifies a completed node's declared artifacts still hold
// up. Nodes without declared artifacts are taken at their record's word.
func artifactsIntact(ctx context.Context, n *node.Node, p probe.Probe) (bool, string) {
	for _, a := range n.Artifacts {
		if !p.Exists(ctx, a) {
			return false, fmt.Sprintf("artifact %q no longer exists", a)
		}
		if err := p.Validate(ctx, a); err != nil {
			return false, err.Error()
		}
	}
	return true, ""
}

// Apply seeds the graph's nodes with the plan's statuses, attempts and
// hints. Called once before scheduling starts.
func (p *Plan) Apply(g *dag.Graph) {
	for id, seed := range p.Seeds {
		n, ok := g.Node(id)
		if !ok {
			continue
		}
		n.Status = seed.Status
		n.Attempt = seed.Attempt
		n.Directive = seed.Hint
	}
	// Resumed ready nodes whose dependencies are not completed yet must
	// wait for them again.
	for _, n := range g.All() {
		if n.Status != node.StatusReady {
			continue
		}
		for _, dep := range n.DependsOn {
			if d, ok := g.Node(dep); ok && d.Status != node.StatusCompleted {
				n.Status = node.StatusPending
				break
			}
		}
	}
}
