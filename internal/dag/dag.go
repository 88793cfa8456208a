// Package dag constructs and validates the dependency graph of task nodes.
// Build is pure: it either returns a fully validated graph or an error, never
// a partial graph. Topology is immutable after Build; only node statuses
// mutate afterwards, and only from the scheduler loop.
package dag

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/vk/taskforge/internal/ctxlog"
	"github.com/vk/taskforge/internal/node"
)

// Graph is the validated node set plus the edges implied by each node's
// dependency list.
type Graph struct {
	// nodes stores all nodes, keyed by their unique ID.
	nodes map[string]*node.Node
	// order holds node ids sorted lexically, so every traversal of the
	// graph is deterministic.
	order []string
	// dependents maps a node id to the ids of nodes depending on it.
	dependents map[string][]string
}

// Build constructs a complete, validated dependency graph from node specs.
func Build(ctx context.Context, specs []*node.Spec) (*Graph, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Build: starting graph construction.", "spec_count", len(specs))

	g := &Graph{
		nodes:      make(map[string]*node.Node, len(specs)),
		dependents: make(map[string][]string),
	}

	for _, s := range specs {
		if _, exists := g.nodes[s.ID]; exists {
			return nil, &DuplicateIDError{ID: s.ID}
		}
		g.nodes[s.ID] = node.FromSpec(s)
		g.order = append(g.order, s.ID)
	}
	sort.Strings(g.order)

	for _, id := range g.order {
		n := g.nodes[id]
		seen := make(map[string]struct{}, len(n.DependsOn))
		for _, dep := range n.DependsOn {
			if _, ok := g.nodes[dep]; !ok {
				return nil, &DanglingDependencyError{NodeID: id, Missing: dep}
			}
			if _, dup := seen[dep]; dup {
				return nil, fmt.Errorf("node %q lists dependency %q more than once", id, dep)
			}
			seen[dep] = struct{}{}
			g.dependents[dep] = append(g.dependents[dep], id)
		}
	}
	logger.Debug("Build: node linking complete.")

	if err := g.detectCycles(); err != nil {
		return nil, fmt.Errorf("error validating dependency graph: %w", err)
	}
	logger.Debug("Build: cycle detection passed.")

	// Unreachable in an acyclic non-empty graph, kept as a hard invariant.
	if len(g.order) > 0 && len(g.Roots()) == 0 {
		return nil, errors.New("plan has no node without dependencies; nothing can ever start")
	}

	logger.Debug("Build: graph construction successful.", "node_count", len(g.nodes))
	return g, nil
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*node.Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// All returns every node in deterministic (lexical id) order.
func (g *Graph) All() []*node.Node {
	out := make([]*node.Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int {
	return len(g.order)
}

// Dependents returns the ids of nodes that directly depend on id.
func (g *Graph) Dependents(id string) []string {
	return g.dependents[id]
}

// Roots returns every node with an empty dependency set, in deterministic order.
func (g *Graph) Roots() []*node.Node {
	var roots []*node.Node
	for _, id := range g.order {
		if len(g.nodes[id].DependsOn) == 0 {
			roots = append(roots, g.nodes[id])
		}
	}
	return roots
}

// Ready returns every pending node whose dependencies are all completed, in
// deterministic order. It does not mutate any status.
func (g *Graph) Ready() []*node.Node {
	var ready []*node.Node
	for _, id := range g.order {
		n := g.nodes[id]
		if n.Status != node.StatusPending {
			continue
		}
		ok := true
		for _, dep := range n.DependsOn {
			if g.nodes[dep].Status != node.StatusCompleted {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, n)
		}
	}
	return ready
}

// detectCycles checks for circular dependencies in the graph using DFS.
func (g *Graph) detectCycles() error {
	visiting := make(map[string]bool)
	visited := make(map[string]bool)
	var stack []string

	var visit func(id string) error
	visit = func(id string) error {
		visiting[id] = true
		stack = append(stack, id)
		for _, dep := range g.nodes[id].DependsOn {
			if visiting[dep] {
				return &CycleError{Path: cyclePath(stack, dep)}
			}
			if !visited[dep] {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		delete(visiting, id)
		visited[id] = true
		return nil
	}

	for _, id := range g.order {
		if !visited[id] {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// cyclePath trims the DFS stack down to the segment forming the cycle and
// closes it by repeating the entry node.
func cyclePath(stack []string, entry string) []string {
	for i, id := range stack {
		if id == entry {
			path := append([]string(nil), stack[i:]...)
			return append(path, entry)
		}
	}
	// Entry not on the stack would mean the DFS bookkeeping is broken.
	return append([]string(nil), entry, entry)
}
