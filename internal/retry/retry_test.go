package retry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vk/taskforge/internal/gate"
	"github.com/vk/taskforge/internal/node"
)

func newNode(attempt, maxAttempts int) *node.Node {
	return &node.Node{ID: "n", Attempt: attempt, MaxAttempts: maxAttempts}
}

func TestDecideAdvanceOnPass(t *testing.T) {
	// Exit code 0 always and only advances.
	d := Decide(newNode(1, 2), gate.CodePass, "")
	assert.Equal(t, Advance, d.Outcome)
	assert.Empty(t, d.Directive)
	assert.Empty(t, d.Reason)

	// Even on the final attempt.
	d = Decide(newNode(2, 2), gate.CodePass, "")
	assert.Equal(t, Advance, d.Outcome)
}

func TestDecideRetryUnderBudget(t *testing.T) {
	d := Decide(newNode(1, 2), gate.CodeBuild, "undefined: Foo")
	assert.Equal(t, Retry, d.Outcome)
	assert.Contains(t, d.Directive, "Attempt 2/2.")
	assert.Contains(t, d.Directive, "exit 3, build check")
	assert.Contains(t, d.Directive, "undefined: Foo")
	assert.Contains(t, d.Directive, "Do not redo already-correct work")
}

func TestDecideBlockAtBudget(t *testing.T) {
	d := Decide(newNode(2, 2), gate.CodeTest, "FAIL: TestStore")
	assert.Equal(t, Block, d.Outcome)
	assert.Contains(t, d.Reason, "2/2 attempts")
	assert.Contains(t, d.Reason, "exit 4, test check")
	assert.Contains(t, d.Reason, "FAIL: TestStore")
}

func TestDecideBudgetBoundary(t *testing.T) {
	// A node with max_attempts = 2 that always fails blocks after exactly
	// two attempts, never three.
	n := newNode(0, 2)

	n.Attempt = 1 // first attempt dispatched
	d := Decide(n, gate.CodeSchema, "missing status")
	assert.Equal(t, Retry, d.Outcome)

	n.Attempt = 2 // second attempt dispatched
	d = Decide(n, gate.CodeSchema, "missing status")
	assert.Equal(t, Block, d.Outcome)
}

func TestDecideSingleAttemptBudget(t *testing.T) {
	d := Decide(newNode(1, 1), gate.CodeReality, "artifact missing")
	assert.Equal(t, Block, d.Outcome)
}

func TestDecideHungTaggedDistinctly(t *testing.T) {
	d := Decide(newNode(1, 3), gate.CodeHung, "no output progress past deadline")
	assert.Equal(t, Retry, d.Outcome)
	assert.Contains(t, d.Directive, "(hung)")
	assert.NotContains(t, d.Directive, "exit -1")
}

func TestDirectiveEmbedsExactDiagnostic(t *testing.T) {
	diag := `store_test.go:42: expected 3 rows, got 0`
	got := Directive(2, 3, gate.CodeTest, diag)
	assert.Contains(t, got, diag)
	assert.Contains(t, got, "Attempt 2/3.")
}
