package gate

import (
	"context"
	"os/exec"
)

// CommandRunner runs a fixed argv in a fixed directory, satisfying Runner
// for the build and test checks. The command is opaque: only its exit status
// and combined output matter.
type CommandRunner struct {
	Argv []string
	Dir  string
}

// NewCommandRunner returns nil when argv is empty, which disables the
// corresponding check.
func NewCommandRunner(argv []string, dir string) *CommandRunner {
	if len(argv) == 0 {
		return nil
	}
	return &CommandRunner{Argv: argv, Dir: dir}
}

// Run executes the command, honoring context cancellation.
func (r *CommandRunner) Run(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, r.Argv[0], r.Argv[1:]...)
	cmd.Dir = r.Dir
	out, err := cmd.CombinedOutput()
	return string(out), err
}
