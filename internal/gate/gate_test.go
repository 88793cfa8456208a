package gate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vk/taskforge/internal/contract"
	"github.com/vk/taskforge/internal/node"
)

// fakeProbe reports fixed existence/validity per artifact id.
type fakeProbe struct {
	missing map[string]bool
	invalid map[string]string
}

func (f *fakeProbe) Exists(ctx context.Context, id string) bool {
	return !f.missing[id]
}

func (f *fakeProbe) Validate(ctx context.Context, id string) error {
	if msg, ok := f.invalid[id]; ok {
		return errors.New(msg)
	}
	return nil
}

// fakeRunner returns a fixed outcome.
type fakeRunner struct {
	out  string
	fail bool
}

func (f *fakeRunner) Run(ctx context.Context) (string, error) {
	if f.fail {
		return f.out, errors.New("exit status 1")
	}
	return f.out, nil
}

func newNode(layer node.Layer, artifacts ...string) *node.Node {
	return &node.Node{ID: "n", Layer: layer, Artifacts: artifacts}
}

func complete(artifacts ...string) *contract.Contract {
	return &contract.Contract{Status: contract.StatusComplete, Artifacts: artifacts}
}

func TestValidateSchemaCheck(t *testing.T) {
	g := &Gate{Probe: &fakeProbe{}}
	ctx := context.Background()

	t.Run("nil contract", func(t *testing.T) {
		code, diag := g.Validate(ctx, newNode(node.LayerFoundation), nil)
		assert.Equal(t, CodeSchema, code)
		assert.Contains(t, diag, "no completion contract")
	})

	t.Run("missing status", func(t *testing.T) {
		code, diag := g.Validate(ctx, newNode(node.LayerFoundation), &contract.Contract{})
		assert.Equal(t, CodeSchema, code)
		assert.Contains(t, diag, "missing the status field")
	})

	t.Run("partial claim fails schema with its context", func(t *testing.T) {
		claim := &contract.Contract{Status: contract.StatusPartial, Context: "ran out of budget"}
		code, diag := g.Validate(ctx, newNode(node.LayerFoundation), claim)
		assert.Equal(t, CodeSchema, code)
		assert.Contains(t, diag, "ran out of budget")
	})

	t.Run("complete passes", func(t *testing.T) {
		code, diag := g.Validate(ctx, newNode(node.LayerFoundation), complete())
		assert.Equal(t, CodePass, code)
		assert.Empty(t, diag)
	})
}

func TestValidateLayerTiering(t *testing.T) {
	ctx := context.Background()
	failingBuild := &fakeRunner{fail: true, out: "syntax error"}

	t.Run("foundation stops before reality", func(t *testing.T) {
		// Artifact is missing, but foundation only requires the schema check.
		g := &Gate{Probe: &fakeProbe{missing: map[string]bool{"a.go": true}}, Build: failingBuild}
		code, _ := g.Validate(ctx, newNode(node.LayerFoundation), complete("a.go"))
		assert.Equal(t, CodePass, code)
	})

	t.Run("logic stops before test", func(t *testing.T) {
		g := &Gate{Probe: &fakeProbe{}, Test: &fakeRunner{fail: true, out: "FAIL"}}
		code, _ := g.Validate(ctx, newNode(node.LayerLogic), complete("a.go"))
		assert.Equal(t, CodePass, code)
	})

	t.Run("vertical-slice runs the test check", func(t *testing.T) {
		g := &Gate{Probe: &fakeProbe{}, Test: &fakeRunner{fail: true, out: "FAIL: TestX"}}
		code, diag := g.Validate(ctx, newNode(node.LayerVerticalSlice), complete("a.go"))
		assert.Equal(t, CodeTest, code)
		assert.Contains(t, diag, "FAIL: TestX")
	})

	t.Run("integration runs the test check", func(t *testing.T) {
		g := &Gate{Probe: &fakeProbe{}, Test: &fakeRunner{fail: true, out: "FAIL"}}
		code, _ := g.Validate(ctx, newNode(node.LayerIntegration), complete("a.go"))
		assert.Equal(t, CodeTest, code)
	})
}

func TestValidateRealityCheck(t *testing.T) {
	ctx := context.Background()

	t.Run("missing artifact", func(t *testing.T) {
		g := &Gate{Probe: &fakeProbe{missing: map[string]bool{"gone.go": true}}}
		code, diag := g.Validate(ctx, newNode(node.LayerLogic), complete("gone.go"))
		assert.Equal(t, CodeReality, code)
		assert.Contains(t, diag, `"gone.go" does not exist`)
	})

	t.Run("invalid artifact", func(t *testing.T) {
		g := &Gate{Probe: &fakeProbe{invalid: map[string]string{"bad.go": "artifact is empty"}}}
		code, diag := g.Validate(ctx, newNode(node.LayerLogic), complete("bad.go"))
		assert.Equal(t, CodeReality, code)
		assert.Contains(t, diag, "artifact is empty")
	})

	t.Run("plan artifacts are checked even when unclaimed", func(t *testing.T) {
		g := &Gate{Probe: &fakeProbe{missing: map[string]bool{"declared.go": true}}}
		n := newNode(node.LayerLogic, "declared.go")
		code, _ := g.Validate(ctx, n, complete())
		assert.Equal(t, CodeReality, code)
	})
}

func TestValidateBuildAndTestOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("build failure wins over test failure", func(t *testing.T) {
		g := &Gate{
			Probe: &fakeProbe{},
			Build: &fakeRunner{fail: true, out: "undefined: Foo"},
			Test:  &fakeRunner{fail: true, out: "FAIL"},
		}
		code, diag := g.Validate(ctx, newNode(node.LayerIntegration), complete("a.go"))
		assert.Equal(t, CodeBuild, code)
		assert.Contains(t, diag, "undefined: Foo")
	})

	t.Run("nil runners skip their checks", func(t *testing.T) {
		g := &Gate{Probe: &fakeProbe{}}
		code, _ := g.Validate(ctx, newNode(node.LayerIntegration), complete("a.go"))
		assert.Equal(t, CodePass, code)
	})
}

func TestCodeString(t *testing.T) {
	assert.Equal(t, "pass", CodePass.String())
	assert.Equal(t, "schema", CodeSchema.String())
	assert.Equal(t, "reality", CodeReality.String())
	assert.Equal(t, "build", CodeBuild.String())
	assert.Equal(t, "test", CodeTest.String())
	assert.Equal(t, "hung", CodeHung.String())
	assert.Equal(t, "unknown(9)", Code(9).String())
}
