// Package journal provides the run's append-only audit log. It is the one
// deliberately shared linear resource in the orchestrator: every entry is
// appended under a single mutual-exclusion lock, held only for the duration
// of one append. Executors route their artifact-commit records through the
// same lock, which serializes the externally visible history while leaving
// the work itself fully parallel.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/vk/taskforge/internal/node"
)

// Event names for journal entries.
const (
	EventRunStart       = "run_start"
	EventDispatch       = "dispatch"
	EventTransition     = "transition"
	EventArtifactCommit = "artifact_commit"
	EventRunEnd         = "run_end"
)

// Entry is one JSON line of the run log.
type Entry struct {
	RunID   string      `json:"run_id"`
	Time    time.Time   `json:"time"`
	Event   string      `json:"event"`
	NodeID  string      `json:"node_id,omitempty"`
	Status  node.Status `json:"status,omitempty"`
	Attempt int         `json:"attempt,omitempty"`
	Detail  string      `json:"detail,omitempty"`
}

// Journal appends entries to a single log file, serialized by an internal
// lock. Safe for concurrent use.
type Journal struct {
	mu    sync.Mutex
	f     *os.File
	runID string
}

// Open opens (or creates) the journal file in append mode and stamps every
// subsequent entry with the given run id.
func Open(path, runID string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening journal %s: %w", path, err)
	}
	return &Journal{f: f, runID: runID}, nil
}

// RunID returns the run identity stamped on entries.
func (j *Journal) RunID() string {
	return j.runID
}

// Append writes one entry under the commit lock.
func (j *Journal) Append(e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.append(e)
}

// Commit runs fn while holding the commit lock, then appends the entry. This
// is the serialization point for any externally visible persistence: callers
// do their work in parallel and acquire the lock only here.
func (j *Journal) Commit(e Entry, fn func() error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if fn != nil {
		if err := fn(); err != nil {
			return err
		}
	}
	return j.append(e)
}

// Close flushes and closes the underlying file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

// append assumes the lock is held.
func (j *Journal) append(e Entry) error {
	e.RunID = j.runID
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding journal entry: %w", err)
	}
	line = append(line, '\n')
	if _, err := j.f.Write(line); err != nil {
		return fmt.Errorf("appending journal entry: %w", err)
	}
	return nil
}
