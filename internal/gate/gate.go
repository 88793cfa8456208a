// Package gate reduces a node's completion claim to a single exit code by
// running a fixed, ordered sequence of checks and stopping at the first
// failure. The gate is read-only: it inspects claimed artifacts and runs
// verification commands, but never mutates node state. It only returns a
// code for the retry controller to act on.
package gate

import (
	"context"
	"fmt"
	"strings"

	"github.com/vk/taskforge/internal/contract"
	"github.com/vk/taskforge/internal/ctxlog"
	"github.com/vk/taskforge/internal/node"
	"github.com/vk/taskforge/internal/probe"
)

// Code is the gate's deterministic exit code.
type Code int

const (
	// CodePass means every required check passed; the DAG advances.
	CodePass Code = 0
	// CodeSchema means the completion contract is malformed, missing, or
	// claims anything other than complete.
	CodeSchema Code = 1
	// CodeReality means a claimed artifact does not exist or contradicts
	// the claim.
	CodeReality Code = 2
	// CodeBuild means the produced output fails to build.
	CodeBuild Code = 3
	// CodeTest means the produced output fails its test suite.
	CodeTest Code = 4
	// CodeHung is not produced by the gate itself: the liveness monitor
	// tags confirmed hangs with it so retry accounting treats them like
	// any other failure while diagnostics stay distinguishable.
	CodeHung Code = -1
)

// String names the check a code corresponds to.
func (c Code) String() string {
	switch c {
	case CodePass:
		return "pass"
	case CodeSchema:
		return "schema"
	case CodeReality:
		return "reality"
	case CodeBuild:
		return "build"
	case CodeTest:
		return "test"
	case CodeHung:
		return "hung"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

// requiredDepth returns the deepest check a layer must pass. Cheap nodes
// stay cheap; expensive nodes are fully verified.
func requiredDepth(l node.Layer) Code {
	switch l {
	case node.LayerFoundation:
		return CodeSchema
	case node.LayerLogic:
		return CodeBuild
	case node.LayerVerticalSlice, node.LayerIntegration:
		return CodeTest
	default:
		return CodeTest
	}
}

// Runner executes an opaque external verification command, returning its
// combined output and an error on non-zero exit.
type Runner interface {
	Run(ctx context.Context) (string, error)
}

// Gate holds the collaborators the checks consult.
type Gate struct {
	// Probe answers the reality check.
	Probe probe.Probe
	// Build runs the build check. Nil skips the check.
	Build Runner
	// Test runs the test check. Nil skips the check.
	Test Runner
}

// Validate runs the checks required by the node's layer against the claim
// and returns the first failing code with its diagnostic, or CodePass.
func (g *Gate) Validate(ctx context.Context, n *node.Node, claim *contract.Contract) (Code, string) {
	logger := ctxlog.FromContext(ctx).With("node_id", n.ID, "layer", string(n.Layer))
	depth := requiredDepth(n.Layer)

	// Check 1: schema.
	if claim == nil {
		return CodeSchema, "no completion contract produced"
	}
	if err := claim.CheckSchema(); err != nil {
		return CodeSchema, err.Error()
	}
	if claim.Status != contract.StatusComplete {
		diag := fmt.Sprintf("executor reported %s, not complete", claim.Status)
		if claim.Context != "" {
			diag = fmt.Sprintf("%s: %s", diag, claim.Context)
		}
		return CodeSchema, diag
	}
	if depth < CodeReality {
		logger.Debug("Validation stopped at schema depth.", "result", CodePass.String())
		return CodePass, ""
	}

	// Check 2: reality.
	for _, artifact := range claimedArtifacts(n, claim) {
		if !g.Probe.Exists(ctx, artifact) {
			return CodeReality, fmt.Sprintf("claimed artifact %q does not exist", artifact)
		}
		if err := g.Probe.Validate(ctx, artifact); err != nil {
			return CodeReality, err.Error()
		}
	}
	if depth < CodeBuild {
		return CodePass, ""
	}

	// Check 3: build.
	if g.Build != nil {
		if out, err := g.Build.Run(ctx); err != nil {
			return CodeBuild, commandDiag(out, err)
		}
	}
	if depth < CodeTest {
		return CodePass, ""
	}

	// Check 4: test.
	if g.Test != nil {
		if out, err := g.Test.Run(ctx); err != nil {
			return CodeTest, commandDiag(out, err)
		}
	}

	logger.Debug("All validation checks passed.")
	return CodePass, ""
}

// claimedArtifacts merges the contract's claims with the plan's declared
// artifacts, deduplicated in claim order.
func claimedArtifacts(n *node.Node, claim *contract.Contract) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, a := range claim.Artifacts {
		if _, ok := seen[a]; !ok {
			seen[a] = struct{}{}
			out = append(out, a)
		}
	}
	for _, a := range n.Artifacts {
		if _, ok := seen[a]; !ok {
			seen[a] = struct{}{}
			out = append(out, a)
		}
	}
	return out
}

// commandDiag folds a verification command's output and error into one
// diagnostic string, preferring the output since that is where compilers and
// test runners explain themselves.
func commandDiag(out string, err error) string {
	out = strings.TrimSpace(out)
	if out == "" {
		return err.Error()
	}
	return fmt.Sprintf("%v: %s", err, out)
}
