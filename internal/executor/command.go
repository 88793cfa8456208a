package executor

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/vk/taskforge/internal/contract"
	"github.com/vk/taskforge/internal/ctxlog"
	"github.com/vk/taskforge/internal/journal"
)

// Environment variables the external executor receives per attempt.
const (
	EnvNodeID       = "TASKFORGE_NODE_ID"
	EnvNodeLayer    = "TASKFORGE_NODE_LAYER"
	EnvAttempt      = "TASKFORGE_ATTEMPT"
	EnvDirective    = "TASKFORGE_DIRECTIVE"
	EnvContractPath = "TASKFORGE_CONTRACT_PATH"
)

// Command runs a configured argv as the external executor, once per attempt.
// The process works in the project directory; its combined output streams to
// an attempt log under the workspace, which is also the liveness monitor's
// fingerprint source.
type Command struct {
	// Workspace holds one directory per node for attempt logs and the
	// completion contract.
	Workspace string
	// ProjectDir is the working directory of the spawned process.
	ProjectDir string
	// Argv is the executor command line.
	Argv []string
	// Journal, when set, records artifact commits under the run's single
	// commit-ordering lock after a successful attempt.
	Journal *journal.Journal

	mu      sync.Mutex
	running map[string]*attemptHandle
}

// attemptHandle tracks one in-flight process for liveness and kill.
type attemptHandle struct {
	process *os.Process
	logPath string
}

// NewCommand creates a subprocess-backed executor adapter.
func NewCommand(workspace, projectDir string, argv []string) *Command {
	return &Command{
		Workspace:  workspace,
		ProjectDir: projectDir,
		Argv:       argv,
		running:    make(map[string]*attemptHandle),
	}
}

// NodeDir returns the workspace directory of one node.
func (c *Command) NodeDir(nodeID string) string {
	return filepath.Join(c.Workspace, nodeID)
}

// Execute runs one attempt and returns the contract the process wrote, the
// contract read error otherwise. The passed context is intentionally not
// wired to the process: graceful run cancellation lets in-flight attempts
// drain, and hard kills go through Kill.
func (c *Command) Execute(ctx context.Context, t Task) (*contract.Contract, error) {
	logger := ctxlog.FromContext(ctx).With("node_id", t.NodeID, "attempt", t.Attempt)

	if len(c.Argv) == 0 {
		return nil, errors.New("executor command is not configured")
	}

	nodeDir := c.NodeDir(t.NodeID)
	if err := os.MkdirAll(nodeDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating node workspace %s: %w", nodeDir, err)
	}
	contractPath := contract.Path(nodeDir)
	if err := contract.Remove(contractPath); err != nil {
		return nil, err
	}

	logPath := filepath.Join(nodeDir, fmt.Sprintf("attempt-%d.log", t.Attempt))
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("creating attempt log %s: %w", logPath, err)
	}
	defer logFile.Close()

	cmd := exec.Command(c.Argv[0], c.Argv[1:]...)
	cmd.Dir = c.ProjectDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = append(os.Environ(),
		EnvNodeID+"="+t.NodeID,
		EnvNodeLayer+"="+string(t.Layer),
		EnvAttempt+"="+strconv.Itoa(t.Attempt),
		EnvDirective+"="+t.Directive,
		EnvContractPath+"="+contractPath,
	)

	logger.Debug("Starting executor process.", "argv", strings.Join(c.Argv, " "))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting executor for node %s: %w", t.NodeID, err)
	}

	handle := &attemptHandle{process: cmd.Process, logPath: logPath}
	c.mu.Lock()
	c.running[t.NodeID] = handle
	c.mu.Unlock()

	waitErr := cmd.Wait()

	// A killed attempt's teardown can race the reactive dispatch of the
	// node's next attempt; only remove the handle this attempt registered,
	// never a successor's.
	c.mu.Lock()
	if c.running[t.NodeID] == handle {
		delete(c.running, t.NodeID)
	}
	c.mu.Unlock()

	if !contract.Exists(contractPath) {
		if waitErr != nil {
			return nil, fmt.Errorf("executor exited without a completion contract: %w", waitErr)
		}
		return nil, errors.New("executor exited without writing a completion contract")
	}

	claim, err := contract.Read(contractPath)
	if err != nil {
		return nil, err
	}
	logger.Debug("Executor produced a completion contract.", "status", claim.Status, "artifact_count", len(claim.Artifacts))

	if c.Journal != nil && claim.Status == contract.StatusComplete {
		err := c.Journal.Commit(journal.Entry{
			Event:   journal.EventArtifactCommit,
			NodeID:  t.NodeID,
			Attempt: t.Attempt,
			Detail:  strings.Join(claim.Artifacts, ","),
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("recording artifact commit for node %s: %w", t.NodeID, err)
		}
	}
	return claim, nil
}

// Fingerprint hashes the in-flight attempt's output log (length plus FNV-64a
// digest). The second return is false when the node has no running attempt.
func (c *Command) Fingerprint(nodeID string) (string, bool) {
	c.mu.Lock()
	handle, ok := c.running[nodeID]
	c.mu.Unlock()
	if !ok {
		return "", false
	}

	raw, err := os.ReadFile(handle.logPath)
	if err != nil {
		return "", false
	}
	h := fnv.New64a()
	h.Write(raw)
	return fmt.Sprintf("%d:%x", len(raw), h.Sum64()), true
}

// ContractExists reports whether the node's completion contract is already
// on disk. The liveness monitor prefers this ground truth over a hang
// classification.
func (c *Command) ContractExists(nodeID string) bool {
	return contract.Exists(contract.Path(c.NodeDir(nodeID)))
}

// Kill forcibly terminates the node's in-flight process, if any.
func (c *Command) Kill(nodeID string) error {
	c.mu.Lock()
	handle, ok := c.running[nodeID]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	if err := handle.process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("killing executor for node %s: %w", nodeID, err)
	}
	return nil
}

// KillAll terminates every in-flight process. Used on forced cancellation.
func (c *Command) KillAll() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.running))
	for id := range c.running {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	for _, id := range ids {
		_ = c.Kill(id)
	}
}
