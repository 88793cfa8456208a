// Package retry interprets validation gate exit codes against a node's
// attempt budget. Every non-zero code costs one attempt; a node that runs
// out of budget terminates at blocked and requires human intervention.
package retry

import (
	"fmt"

	"github.com/vk/taskforge/internal/gate"
	"github.com/vk/taskforge/internal/node"
)

// Outcome is the controller's verdict for one finished attempt.
type Outcome int

const (
	// Advance marks the node completed.
	Advance Outcome = iota
	// Retry re-enters the node into the scheduling loop with a directive.
	Retry
	// Block terminates the node; the run surfaces it to the operator.
	Block
)

func (o Outcome) String() string {
	switch o {
	case Advance:
		return "advance"
	case Retry:
		return "retry"
	case Block:
		return "block"
	default:
		return fmt.Sprintf("unknown(%d)", int(o))
	}
}

// Decision carries the verdict plus the text that travels with it: a
// targeted directive for the next attempt, or the reason a node is blocked.
type Decision struct {
	Outcome Outcome
	// Directive is set on Retry. It embeds the exact diagnostic of the
	// failing check so the next attempt targets the real problem instead of
	// restarting blindly. Ephemeral: never persisted beyond the attempt it
	// accompanies.
	Directive string
	// Reason is set on Block.
	Reason string
}

// Decide maps a finished attempt's exit code to a decision. The node's
// Attempt field counts dispatches, so attempt N is charged at dispatch time;
// Decide only compares the spent budget against the limit.
func Decide(n *node.Node, code gate.Code, diagnostic string) Decision {
	if code == gate.CodePass {
		return Decision{Outcome: Advance}
	}

	if n.Attempt >= n.MaxAttempts {
		return Decision{
			Outcome: Block,
			Reason: fmt.Sprintf("attempt budget exhausted after %d/%d attempts; last failure (%s): %s",
				n.Attempt, n.MaxAttempts, describeCode(code), diagnostic),
		}
	}

	return Decision{
		Outcome:   Retry,
		Directive: Directive(n.Attempt+1, n.MaxAttempts, code, diagnostic),
	}
}

// Directive renders the templated instruction handed to a re-dispatched
// executor.
func Directive(nextAttempt, maxAttempts int, code gate.Code, diagnostic string) string {
	return fmt.Sprintf(
		"Attempt %d/%d. Previous failure (%s): %s. Do not redo already-correct work; continue from the specific point of failure.",
		nextAttempt, maxAttempts, describeCode(code), diagnostic)
}

// describeCode names a failure for directive text: gate failures keep their
// numeric exit code, hangs are tagged distinctly.
func describeCode(code gate.Code) string {
	if code == gate.CodeHung {
		return "hung"
	}
	return fmt.Sprintf("exit %d, %s check", int(code), code)
}
