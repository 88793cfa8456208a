// Package plan loads the declarative execution plan: HCL files containing
// node blocks plus an optional defaults block. Loading is the only place HCL
// appears; everything downstream works on node.Spec values.
package plan

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/taskforge/internal/ctxlog"
	"github.com/vk/taskforge/internal/fsutil"
	"github.com/vk/taskforge/internal/node"
)

// planRoot decodes all top-level blocks from any plan file.
type planRoot struct {
	Defaults *defaultsHCL `hcl:"defaults,block"`
	Nodes    []*nodeHCL   `hcl:"node,block"`
}

// defaultsHCL is the plan-wide defaults block. Its values are static; node
// attributes may reference them as defaults.* expressions.
type defaultsHCL struct {
	MaxAttempts *int    `hcl:"max_attempts,optional"`
	Timeout     *string `hcl:"timeout,optional"`
}

// nodeHCL captures a node block's label; attributes are decoded in a second
// pass once the defaults eval context is known.
type nodeHCL struct {
	ID     string   `hcl:"id,label"`
	Remain hcl.Body `hcl:",remain"`
}

// nodeAttrs are the attributes of a node block.
type nodeAttrs struct {
	Layer       *string  `hcl:"layer,optional"`
	DependsOn   []string `hcl:"depends_on,optional"`
	Timeout     *string  `hcl:"timeout,optional"`
	MaxAttempts *int     `hcl:"max_attempts,optional"`
	Artifacts   []string `hcl:"artifacts,optional"`
}

// nodeIDRegex constrains ids to names that are safe as directory and
// progress-record file names.
var nodeIDRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// Loader parses HCL plan files into node specifications.
type Loader struct{}

// NewLoader creates a new plan loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses every .hcl file under the given path (a file or a directory)
// and returns the merged node specifications. It fails on the first parse or
// validation problem; no partial plan is returned.
func (l *Loader) Load(ctx context.Context, path string) ([]*node.Spec, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Plan loader started.", "path", path)

	files, err := findPlanFiles(path)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .hcl plan files found at %s", path)
	}
	logger.Debug("Discovered plan files.", "count", len(files))

	parser := hclparse.NewParser()
	var roots []*planRoot
	var defaults *defaultsHCL

	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse plan file %s: %w", file, diags)
		}

		var root planRoot
		if diags := gohcl.DecodeBody(hclFile.Body, nil, &root); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode plan file %s: %w", file, diags)
		}
		if root.Defaults != nil {
			if defaults != nil {
				return nil, fmt.Errorf("plan file %s declares a second defaults block", file)
			}
			defaults = root.Defaults
		}
		roots = append(roots, &root)
	}

	defMaxAttempts, defTimeout, err := resolveDefaults(defaults)
	if err != nil {
		return nil, err
	}
	evalCtx := defaultsEvalContext(defMaxAttempts, defTimeout)

	var specs []*node.Spec
	for _, root := range roots {
		for _, block := range root.Nodes {
			spec, err := decodeNode(block, evalCtx, defMaxAttempts, defTimeout)
			if err != nil {
				return nil, err
			}
			specs = append(specs, spec)
		}
	}
	logger.Debug("Plan loading complete.", "node_count", len(specs))
	return specs, nil
}

// findPlanFiles resolves a plan path to the list of .hcl files it names.
func findPlanFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("error accessing plan path %s: %w", path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	return fsutil.FindFilesByExtension(path, ".hcl")
}

// resolveDefaults folds the optional defaults block over the built-in values.
func resolveDefaults(d *defaultsHCL) (int, time.Duration, error) {
	maxAttempts := node.DefaultMaxAttempts
	timeout := node.DefaultTimeout
	if d == nil {
		return maxAttempts, timeout, nil
	}
	if d.MaxAttempts != nil {
		if *d.MaxAttempts < 1 {
			return 0, 0, fmt.Errorf("defaults.max_attempts must be at least 1, got %d", *d.MaxAttempts)
		}
		maxAttempts = *d.MaxAttempts
	}
	if d.Timeout != nil {
		parsed, err := time.ParseDuration(*d.Timeout)
		if err != nil {
			return 0, 0, fmt.Errorf("defaults.timeout: %w", err)
		}
		if parsed <= 0 {
			return 0, 0, fmt.Errorf("defaults.timeout must be positive, got %s", parsed)
		}
		timeout = parsed
	}
	return maxAttempts, timeout, nil
}

// defaultsEvalContext exposes the resolved defaults to node-block expressions
// as a defaults object.
func defaultsEvalContext(maxAttempts int, timeout time.Duration) *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"defaults": cty.ObjectVal(map[string]cty.Value{
				"max_attempts": cty.NumberIntVal(int64(maxAttempts)),
				"timeout":      cty.StringVal(timeout.String()),
			}),
		},
	}
}

// decodeNode decodes one node block into a validated spec.
func decodeNode(block *nodeHCL, evalCtx *hcl.EvalContext, defMaxAttempts int, defTimeout time.Duration) (*node.Spec, error) {
	if !nodeIDRegex.MatchString(block.ID) {
		return nil, fmt.Errorf("invalid node id %q: ids must match %s", block.ID, nodeIDRegex.String())
	}

	var attrs nodeAttrs
	if diags := gohcl.DecodeBody(block.Remain, evalCtx, &attrs); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode node %q: %w", block.ID, diags)
	}

	layer := node.LayerLogic
	if attrs.Layer != nil {
		layer = node.Layer(*attrs.Layer)
		if !layer.Valid() {
			return nil, fmt.Errorf("node %q has unknown layer %q", block.ID, *attrs.Layer)
		}
	}

	timeout := defTimeout
	if attrs.Timeout != nil {
		parsed, err := time.ParseDuration(*attrs.Timeout)
		if err != nil {
			return nil, fmt.Errorf("node %q timeout: %w", block.ID, err)
		}
		if parsed <= 0 {
			return nil, fmt.Errorf("node %q timeout must be positive, got %s", block.ID, parsed)
		}
		timeout = parsed
	}

	maxAttempts := defMaxAttempts
	if attrs.MaxAttempts != nil {
		if *attrs.MaxAttempts < 1 {
			return nil, fmt.Errorf("node %q max_attempts must be at least 1, got %d", block.ID, *attrs.MaxAttempts)
		}
		maxAttempts = *attrs.MaxAttempts
	}

	return &node.Spec{
		ID:          block.ID,
		Layer:       layer,
		DependsOn:   attrs.DependsOn,
		Timeout:     timeout,
		MaxAttempts: maxAttempts,
		Artifacts:   attrs.Artifacts,
	}, nil
}
