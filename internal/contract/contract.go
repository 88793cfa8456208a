// Package contract defines the completion contract: the structured record an
// executor writes when it claims an attempt is done. The orchestrator never
// writes contracts; it removes stale ones before dispatch and reads fresh ones
// after, so each file is write-once per attempt.
package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileName is the well-known name of the contract file inside a node's
// workspace directory.
const FileName = "contract.json"

// Status is the executor's own claim about the attempt.
type Status string

const (
	// StatusComplete claims the node's work is fully done.
	StatusComplete Status = "complete"
	// StatusPartial claims some work landed but the node is not done.
	StatusPartial Status = "partial"
	// StatusBlocked claims the executor cannot proceed without intervention.
	StatusBlocked Status = "blocked"
)

// Contract is the record consumed by the validation gate. It is never
// mutated after being read.
type Contract struct {
	// Status is the executor's claim. Required.
	Status Status `json:"status"`
	// Artifacts lists identifiers (file paths) the attempt produced.
	Artifacts []string `json:"artifacts,omitempty"`
	// Context carries free-form diagnostic text from the executor.
	Context string `json:"context,omitempty"`
}

// Path returns the contract file location for a node's workspace directory.
func Path(nodeDir string) string {
	return filepath.Join(nodeDir, FileName)
}

// Exists reports whether a contract file is present at path.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Read loads and parses a contract file. A missing or malformed file is an
// error; the caller maps it to a schema failure.
func Read(path string) (*Contract, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading completion contract: %w", err)
	}
	var c Contract
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parsing completion contract %s: %w", path, err)
	}
	return &c, nil
}

// Remove deletes a stale contract file if present, enforcing write-once
// semantics per attempt.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing stale contract %s: %w", path, err)
	}
	return nil
}

// CheckSchema verifies the contract carries its required fields.
func (c *Contract) CheckSchema() error {
	switch c.Status {
	case StatusComplete, StatusPartial, StatusBlocked:
		return nil
	case "":
		return errors.New("completion contract is missing the status field")
	default:
		return fmt.Errorf("completion contract has unknown status %q", c.Status)
	}
}
